package volume

import (
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/image/tiff"
	"gonum.org/v1/gonum/mat"
)

// Format is an on-disk image encoding for exported frames.
type Format string

const (
	FormatPNG  Format = "png"
	FormatJPEG Format = "jpeg"
	FormatTIFF Format = "tiff"
)

// ParseFormat accepts png, jpg/jpeg and tif/tiff.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimPrefix(s, ".")) {
	case "png":
		return FormatPNG, nil
	case "jpg", "jpeg":
		return FormatJPEG, nil
	case "tif", "tiff":
		return FormatTIFF, nil
	}
	return "", fmt.Errorf("volume: unsupported image format %q", s)
}

// Ext returns the file extension used for f, including the dot.
func (f Format) Ext() string {
	switch f {
	case FormatJPEG:
		return ".jpg"
	case FormatTIFF:
		return ".tif"
	}
	return ".png"
}

// FrameToImage converts a frame with samples in [0, 1] to a 16-bit grayscale
// image. Values outside the range are clamped.
func FrameToImage(frame mat.Matrix) *image.Gray16 {
	rows, cols := frame.Dims()
	img := image.NewGray16(image.Rect(0, 0, cols, rows))
	for y := 0; y < rows; y++ {
		for x := 0; x < cols; x++ {
			value := uint16(math.Max(0, math.Min(65535, frame.At(y, x)*65535)))
			img.SetGray16(x, y, color.Gray16{Y: value})
		}
	}
	return img
}

// ImageToFrame converts an image to a frame of luminance samples in [0, 1].
func ImageToFrame(img image.Image) *mat.Dense {
	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()
	frame := mat.NewDense(height, width, nil)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			g := color.Gray16Model.Convert(img.At(bounds.Min.X+x, bounds.Min.Y+y)).(color.Gray16)
			frame.Set(y, x, float64(g.Y)/65535.0)
		}
	}
	return frame
}

// SaveImage encodes img to filename in the given format.
func SaveImage(img image.Image, filename string, format Format) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}

	switch format {
	case FormatJPEG:
		err = jpeg.Encode(file, img, &jpeg.Options{Quality: 90})
	case FormatTIFF:
		err = tiff.Encode(file, img, &tiff.Options{Compression: tiff.Deflate})
	default:
		err = png.Encode(file, img)
	}
	if err != nil {
		file.Close()
		return fmt.Errorf("failed to encode %s: %w", filename, err)
	}
	return file.Close()
}

// SaveSliceSequence writes every frame along axis to outputDir as
// slice_<axis>_<pos> files.
func (s *Stack) SaveSliceSequence(axis Axis, outputDir string, format Format) error {
	n, err := s.Len(axis)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return err
	}

	for pos := 0; pos < n; pos++ {
		frame, err := s.Frame(axis, pos)
		if err != nil {
			return err
		}
		filename := filepath.Join(outputDir, fmt.Sprintf("slice_%s_%03d%s", axis, pos, format.Ext()))
		if err := SaveImage(FrameToImage(frame), filename, format); err != nil {
			return err
		}
	}
	return nil
}
