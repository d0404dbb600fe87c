package models

import (
	"gonum.org/v1/gonum/mat"

	"phasereg/pkg/quality"
)

// Slice represents a single input image with metadata
type Slice struct {
	// Frame holds the luminance samples in [0, 1]
	Frame *mat.Dense

	// Index is the position of this slice in the sequence
	Index int

	// Filename is the original filename of the slice
	Filename string
}

// ShiftRecord is the registration outcome for one slice
type ShiftRecord struct {
	Index    int    `yaml:"index"`
	Filename string `yaml:"filename,omitempty"`

	// Dy and Dx are the row and column shift applied to the slice
	Dy float64 `yaml:"dy"`
	Dx float64 `yaml:"dx"`

	Error     float64 `yaml:"error"`
	PhaseDiff float64 `yaml:"phaseDiff"`

	// Before and After compare the slice with the reference
	Before quality.Metrics `yaml:"before"`
	After  quality.Metrics `yaml:"after"`
}

// Report summarizes one alignment run
type Report struct {
	InputDir       string `yaml:"inputDir"`
	Axis           string `yaml:"axis"`
	Reference      int    `yaml:"reference"`
	ReferenceFile  string `yaml:"referenceFile,omitempty"`
	UpsampleFactor int    `yaml:"upsampleFactor"`
	Width          int    `yaml:"width"`
	Height         int    `yaml:"height"`
	Depth          int    `yaml:"depth"`

	Slices []ShiftRecord `yaml:"slices"`

	// MeanBefore and MeanAfter average the per-slice metrics
	MeanBefore quality.Metrics `yaml:"meanBefore"`
	MeanAfter  quality.Metrics `yaml:"meanAfter"`

	ElapsedSeconds float64 `yaml:"elapsedSeconds"`
}
