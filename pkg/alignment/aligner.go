// Package alignment runs the batch pipeline around stack coregistration:
// load a directory of numbered slices, align them to a reference slice,
// measure the improvement and write the aligned slices and a shift report.
package alignment

import (
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	_ "golang.org/x/image/tiff"
	"gonum.org/v1/gonum/mat"
	"gopkg.in/yaml.v3"

	"phasereg/internal/models"
	"phasereg/pkg/quality"
	"phasereg/pkg/registration"
	"phasereg/pkg/volume"
)

// Params holds the alignment parameters.
type Params struct {
	// InputDir is the directory containing the slice images. Slices are
	// ordered by the number embedded in their filenames.
	InputDir string

	// Extensions lists the accepted file extensions, lower case with dot.
	Extensions []string

	// OutputDir receives the report and, if SaveAligned is set, the aligned
	// slices under OutputDir/aligned.
	OutputDir string

	Axis           volume.Axis
	ReferenceIndex int
	UpsampleFactor int
	Workers        int

	SaveAligned bool
	Format      volume.Format

	// ReportFile is the report name relative to OutputDir. Empty skips it.
	ReportFile string

	// Logger receives step messages. Nil discards them.
	Logger *log.Logger
}

// Aligner handles one alignment run.
//
// The process consists of several steps:
// 1. Loading the input slices into a stack
// 2. Coregistering every slice to the reference slice
// 3. Comparing each slice with the reference before and after alignment
// 4. Saving the aligned slices
// 5. Writing the shift report
type Aligner struct {
	params *Params
	logger *log.Logger

	slices  []models.Slice
	stack   *volume.Stack
	aligned *volume.Stack
	report  models.Report

	progressCallback func(completed, total int)
}

// NewAligner creates a new aligner instance with the provided parameters.
func NewAligner(params *Params) *Aligner {
	logger := params.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Aligner{
		params: params,
		logger: logger,
	}
}

// SetProgressCallback sets a function called after each slice is aligned.
func (a *Aligner) SetProgressCallback(callback func(completed, total int)) {
	a.progressCallback = callback
}

// Process runs the complete alignment pipeline.
func (a *Aligner) Process(ctx context.Context) error {
	start := time.Now()

	a.logger.Println("Step 1: Loading input slices...")
	if err := a.loadSlices(); err != nil {
		return fmt.Errorf("failed to load slices: %w", err)
	}

	a.logger.Printf("Step 2: Coregistering along %v against slice %d (1/%d pixel)...",
		a.params.Axis, a.params.ReferenceIndex, a.upsampleFactor())
	results, err := a.coregister(ctx)
	if err != nil {
		return fmt.Errorf("failed to coregister slices: %w", err)
	}

	a.logger.Println("Step 3: Calculating quality metrics...")
	if err := a.buildReport(results); err != nil {
		return fmt.Errorf("failed to calculate metrics: %w", err)
	}

	if a.params.SaveAligned {
		dir := filepath.Join(a.params.OutputDir, "aligned")
		a.logger.Printf("Step 4: Saving aligned slices to %s...", dir)
		if err := a.aligned.SaveSliceSequence(a.params.Axis, dir, a.format()); err != nil {
			return fmt.Errorf("failed to save aligned slices: %w", err)
		}
	}

	a.report.ElapsedSeconds = time.Since(start).Seconds()

	if a.params.ReportFile != "" {
		path := filepath.Join(a.params.OutputDir, a.params.ReportFile)
		a.logger.Printf("Step 5: Writing shift report to %s...", path)
		if err := WriteReport(&a.report, path); err != nil {
			return err
		}
	}

	return nil
}

func (a *Aligner) upsampleFactor() int {
	if a.params.UpsampleFactor == 0 {
		return 1
	}
	return a.params.UpsampleFactor
}

func (a *Aligner) format() volume.Format {
	if a.params.Format == "" {
		return volume.FormatPNG
	}
	return a.params.Format
}

// loadSlices reads, orders and stacks the input slices along z.
func (a *Aligner) loadSlices() error {
	entries, err := os.ReadDir(a.params.InputDir)
	if err != nil {
		return err
	}

	accept := make(map[string]bool, len(a.params.Extensions))
	for _, ext := range a.params.Extensions {
		accept[strings.ToLower(ext)] = true
	}

	var imageFiles []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if accept[strings.ToLower(filepath.Ext(entry.Name()))] {
			imageFiles = append(imageFiles, entry.Name())
		}
	}
	if len(imageFiles) == 0 {
		return fmt.Errorf("no images with extensions %v found in %s", a.params.Extensions, a.params.InputDir)
	}

	sort.SliceStable(imageFiles, func(i, j int) bool {
		numI, numJ := extractNumber(imageFiles[i]), extractNumber(imageFiles[j])
		if numI != numJ {
			return numI < numJ
		}
		return imageFiles[i] < imageFiles[j]
	})

	a.slices = a.slices[:0]
	for i, filename := range imageFiles {
		img, err := loadImage(filepath.Join(a.params.InputDir, filename))
		if err != nil {
			return fmt.Errorf("failed to load image %s: %w", filename, err)
		}
		a.slices = append(a.slices, models.Slice{
			Frame:    volume.ImageToFrame(img),
			Index:    i,
			Filename: filename,
		})
	}

	frames := make([]*mat.Dense, len(a.slices))
	for i, s := range a.slices {
		frames[i] = s.Frame
	}
	stack, err := volume.FromFrames(frames)
	if err != nil {
		return err
	}
	a.stack = stack

	width, height, depth := stack.Dims()
	a.logger.Printf("Loaded %d slices with dimensions %dx%d", depth, width, height)
	return nil
}

// extractNumber extracts the numeric part from a filename
func extractNumber(filename string) int {
	base := filepath.Base(filename)
	var digits strings.Builder
	for _, c := range base {
		if c >= '0' && c <= '9' {
			digits.WriteRune(c)
		}
	}
	if digits.Len() > 0 {
		if num, err := strconv.Atoi(digits.String()); err == nil {
			return num
		}
	}
	return 0
}

// loadImage decodes a PNG, JPEG or TIFF file.
func loadImage(path string) (image.Image, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	img, _, err := image.Decode(file)
	if err != nil {
		return nil, err
	}
	return img, nil
}

func (a *Aligner) coregister(ctx context.Context) ([]registration.SliceResult, error) {
	opts := registration.CoregisterOptions{
		Axis:           a.params.Axis,
		Reference:      a.params.ReferenceIndex,
		UpsampleFactor: a.params.UpsampleFactor,
		Workers:        a.params.Workers,
		Progress:       a.progressCallback,
	}
	aligned, results, err := registration.Coregister(ctx, a.stack, opts)
	if err != nil {
		return nil, err
	}
	a.aligned = aligned
	return results, nil
}

// buildReport compares every non-reference slice with the reference before
// and after alignment and fills in the report.
func (a *Aligner) buildReport(results []registration.SliceResult) error {
	axis := a.params.Axis
	ref, err := a.stack.Frame(axis, a.params.ReferenceIndex)
	if err != nil {
		return err
	}

	width, height, depth := a.stack.Dims()
	a.report = models.Report{
		InputDir:       a.params.InputDir,
		Axis:           axis.String(),
		Reference:      a.params.ReferenceIndex,
		ReferenceFile:  a.filename(a.params.ReferenceIndex),
		UpsampleFactor: a.upsampleFactor(),
		Width:          width,
		Height:         height,
		Depth:          depth,
		Slices:         make([]models.ShiftRecord, 0, len(results)),
	}

	before := make([]quality.Metrics, 0, len(results))
	after := make([]quality.Metrics, 0, len(results))
	for _, res := range results {
		original, err := a.stack.Frame(axis, res.Index)
		if err != nil {
			return err
		}
		aligned, err := a.aligned.Frame(axis, res.Index)
		if err != nil {
			return err
		}
		mBefore, err := quality.Compare(ref, original)
		if err != nil {
			return err
		}
		mAfter, err := quality.Compare(ref, aligned)
		if err != nil {
			return err
		}
		before = append(before, mBefore)
		after = append(after, mAfter)

		a.report.Slices = append(a.report.Slices, models.ShiftRecord{
			Index:     res.Index,
			Filename:  a.filename(res.Index),
			Dy:        res.Shift[0],
			Dx:        res.Shift[1],
			Error:     res.Error,
			PhaseDiff: res.PhaseDiff,
			Before:    mBefore,
			After:     mAfter,
		})
	}
	a.report.MeanBefore = quality.Average(before)
	a.report.MeanAfter = quality.Average(after)

	a.logger.Printf("Mean RMSE against reference: %.6f before, %.6f after",
		a.report.MeanBefore.RMSE, a.report.MeanAfter.RMSE)
	return nil
}

// filename returns the source file of the frame at index along the
// configured axis. Only z frames map to input files.
func (a *Aligner) filename(index int) string {
	if a.params.Axis != volume.AxisZ || index < 0 || index >= len(a.slices) {
		return ""
	}
	return a.slices[index].Filename
}

// GetReport returns the report of the last run.
func (a *Aligner) GetReport() models.Report {
	return a.report
}

// GetAligned returns the aligned stack of the last run, or nil.
func (a *Aligner) GetAligned() *volume.Stack {
	return a.aligned
}

// WriteReport saves report as YAML, creating the parent directory.
func WriteReport(report *models.Report, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create report directory: %w", err)
	}
	data, err := yaml.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}

// LoadReport reads a report written by WriteReport.
func LoadReport(path string) (*models.Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read report: %w", err)
	}
	report := &models.Report{}
	if err := yaml.Unmarshal(data, report); err != nil {
		return nil, fmt.Errorf("failed to parse report: %w", err)
	}
	return report, nil
}
