// Package thumbnail rasterizes one PDF page to a fixed-size JPEG (spec
// component C7). Rasterization itself is grounded on
// github.com/gen2brain/go-fitz (a MuPDF binding, picked for the pack's PDF
// handling since no example repo rasterizes PDFs, following the MuPDF
// reference retrieved alongside this spec); resizing reuses the teacher's
// CatmullRom scaling idiom from internal/ai/image.go.
package thumbnail

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"os"
	"path/filepath"

	"github.com/gen2brain/go-fitz"
	"golang.org/x/image/draw"

	"github.com/tomas/slidemanager-daemon/internal/constants"
)

// Size returns the target (width, height) for an aspect tag, implementing
// thumb_size(aspect) (spec 4.7). Unknown aspect falls back to the 4:3-sized
// default documented in SPEC_FULL.md's resolution of the open question.
func Size(aspect string) (width, height int) {
	switch aspect {
	case constants.Aspect4x3:
		return constants.ThumbWidth4x3, constants.ThumbHeight4x3
	case constants.Aspect16x9:
		return constants.ThumbWidth16x9, constants.ThumbHeight16x9
	default:
		return constants.ThumbWidthUnknown, constants.ThumbHeightUnknown
	}
}

// RenderError wraps the cause of a failed render; it carries no error code
// of its own.
type RenderError struct {
	Err error
}

func (e *RenderError) Error() string { return e.Err.Error() }
func (e *RenderError) Unwrap() error { return e.Err }

// RenderPageToThumb rasterizes pageNo (0-indexed, matching go-fitz's
// convention) of pdfPath and writes a JPEG at outPath sized to
// Size(aspect), within ±1 pixel (spec 4.7's tolerance accommodates integer
// rounding in the scale step). The output directory is created if needed.
func RenderPageToThumb(pdfPath string, pageNo int, outPath, aspect string) error {
	doc, err := fitz.New(pdfPath)
	if err != nil {
		return &RenderError{Err: fmt.Errorf("open pdf %s: %w", pdfPath, err)}
	}
	defer doc.Close()

	if pageNo < 0 || pageNo >= doc.NumPage() {
		return &RenderError{Err: fmt.Errorf("page %d out of range for %s (%d pages)", pageNo, pdfPath, doc.NumPage())}
	}

	img, err := doc.Image(pageNo)
	if err != nil {
		return &RenderError{Err: fmt.Errorf("rasterize page %d of %s: %w", pageNo, pdfPath, err)}
	}

	width, height := Size(aspect)
	resized := scaleTo(img, width, height)

	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return &RenderError{Err: fmt.Errorf("create thumb output dir: %w", err)}
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, resized, &jpeg.Options{Quality: 85}); err != nil {
		return &RenderError{Err: fmt.Errorf("encode thumbnail jpeg: %w", err)}
	}
	if buf.Len() == 0 {
		return &RenderError{Err: fmt.Errorf("encoded thumbnail for %s page %d is empty", pdfPath, pageNo)}
	}
	if err := os.WriteFile(outPath, buf.Bytes(), 0o644); err != nil {
		return &RenderError{Err: fmt.Errorf("write thumbnail %s: %w", outPath, err)}
	}
	return nil
}

func scaleTo(img image.Image, width, height int) image.Image {
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Over, nil)
	return dst
}
