package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"phasereg/pkg/alignment"
	"phasereg/pkg/config"
	"phasereg/pkg/volume"
)

// options holds the parsed command line. Zero values, and -1 for reference,
// mean the flag was not given and the config value stands.
type options struct {
	inputDir    string
	outputDir   string
	configPath  string
	writeConfig string
	upsample    int
	axis        string
	reference   int
	workers     int
	format      string
	noSave      bool
	quiet       bool
}

func parseFlags(fs *flag.FlagSet, args []string) (*options, error) {
	opts := &options{}
	fs.StringVar(&opts.inputDir, "input", "", "Directory containing the numbered 2D slices")
	fs.StringVar(&opts.outputDir, "output", "aligned_output", "Directory for aligned slices and the shift report")
	fs.StringVar(&opts.configPath, "config", "", "YAML configuration file (defaults are used if missing)")
	fs.StringVar(&opts.writeConfig, "write-config", "", "Write the default configuration to this path and exit")
	fs.IntVar(&opts.upsample, "upsample", 0, "Sub-pixel precision 1/N (overrides config)")
	fs.StringVar(&opts.axis, "axis", "", "Stack axis to align along: x, y or z (overrides config)")
	fs.IntVar(&opts.reference, "reference", -1, "Zero-based reference slice index (overrides config)")
	fs.IntVar(&opts.workers, "workers", 0, "Number of slices aligned concurrently (overrides config)")
	fs.StringVar(&opts.format, "format", "", "Output image format: png, jpeg or tiff (overrides config)")
	fs.BoolVar(&opts.noSave, "no-save", false, "Do not write aligned slices")
	fs.BoolVar(&opts.quiet, "quiet", false, "Suppress step messages")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return opts, nil
}

// loadConfig reads the config file, if any, and applies the flag overrides.
// Command line flags take precedence over the config file.
func loadConfig(opts *options) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if opts.configPath != "" {
		loaded, err := config.LoadConfig(opts.configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		cfg = loaded
	}

	if opts.upsample > 0 {
		cfg.Registration.UpsampleFactor = opts.upsample
	}
	if opts.axis != "" {
		cfg.Registration.Axis = opts.axis
	}
	if opts.reference >= 0 {
		cfg.Registration.ReferenceIndex = opts.reference
	}
	if opts.workers > 0 {
		cfg.Registration.Workers = opts.workers
	}
	if opts.format != "" {
		cfg.Output.Format = opts.format
	}
	if opts.noSave {
		cfg.Output.SaveAligned = false
	}
	if opts.quiet {
		cfg.Output.Verbose = false
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func main() {
	opts, err := parseFlags(flag.CommandLine, os.Args[1:])
	if err != nil {
		os.Exit(2)
	}

	if opts.writeConfig != "" {
		if err := config.CreateDefaultConfigFile(opts.writeConfig); err != nil {
			log.Fatalf("Failed to write config: %v", err)
		}
		fmt.Printf("Default configuration written to %s\n", opts.writeConfig)
		return
	}

	if opts.inputDir == "" {
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		log.Fatal(err)
	}

	axis, _ := volume.ParseAxis(cfg.Registration.Axis)
	outFormat, _ := volume.ParseFormat(cfg.Output.Format)

	var logOut io.Writer = io.Discard
	if cfg.Output.Verbose {
		logOut = os.Stdout
	}
	logger := log.New(logOut, "", log.Ltime)

	params := &alignment.Params{
		InputDir:       opts.inputDir,
		Extensions:     cfg.Input.Extensions,
		OutputDir:      opts.outputDir,
		Axis:           axis,
		ReferenceIndex: cfg.Registration.ReferenceIndex,
		UpsampleFactor: cfg.Registration.UpsampleFactor,
		Workers:        cfg.Registration.Workers,
		SaveAligned:    cfg.Output.SaveAligned,
		Format:         outFormat,
		ReportFile:     cfg.Output.ReportFile,
		Logger:         logger,
	}

	aligner := alignment.NewAligner(params)
	if cfg.Output.Verbose {
		aligner.SetProgressCallback(func(completed, total int) {
			fmt.Printf("\rAligned %d/%d slices", completed, total)
			if completed == total {
				fmt.Println()
			}
		})
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	startTime := time.Now()
	if err := aligner.Process(ctx); err != nil {
		log.Fatalf("Alignment failed: %v", err)
	}
	processingTime := time.Since(startTime)

	report := aligner.GetReport()
	fmt.Printf("\nAlignment completed in %.2f seconds\n", processingTime.Seconds())
	fmt.Printf("Reference: slice %d %s along %s, precision 1/%d pixel\n\n",
		report.Reference, report.ReferenceFile, report.Axis, report.UpsampleFactor)

	fmt.Printf("%5s  %-24s %9s %9s %8s %10s %10s\n", "index", "file", "dy", "dx", "error", "rmse-pre", "rmse-post")
	fmt.Println(strings.Repeat("-", 82))
	for _, s := range report.Slices {
		fmt.Printf("%5d  %-24s %9.3f %9.3f %8.4f %10.6f %10.6f\n",
			s.Index, s.Filename, s.Dy, s.Dx, s.Error, s.Before.RMSE, s.After.RMSE)
	}

	fmt.Printf("\nMean RMSE:        %.6f -> %.6f\n", report.MeanBefore.RMSE, report.MeanAfter.RMSE)
	fmt.Printf("Mean SSIM:        %.4f -> %.4f\n", report.MeanBefore.SSIM, report.MeanAfter.SSIM)
	fmt.Printf("Mean correlation: %.4f -> %.4f\n", report.MeanBefore.Correlation, report.MeanAfter.Correlation)
	if cfg.Output.ReportFile != "" {
		fmt.Printf("Shift report saved to: %s\n", filepath.Join(params.OutputDir, cfg.Output.ReportFile))
	}
}
