// Package pptx implements text extraction and aspect-ratio detection over
// .pptx files (spec components C4 and C5). A .pptx is a zip archive of
// OOXML parts; no repo in the corpus parses OOXML, so this package is built
// directly on the standard library's archive/zip and encoding/xml (noted in
// DESIGN.md as a justified stdlib choice — no ecosystem library in the pack
// covers Office Open XML).
package pptx

import (
	"archive/zip"
	"encoding/xml"
	"fmt"
	"io"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/tomas/slidemanager-daemon/internal/constants"
)

var slideFileRe = regexp.MustCompile(`^ppt/slides/slide(\d+)\.xml$`)

// SlideCount opens path and returns the number of slide parts it contains,
// without extracting any text (cheap path used during planning to size the
// page table before committing to full extraction).
func SlideCount(path string) (int, error) {
	r, err := zip.OpenReader(path)
	if err != nil {
		return 0, fmt.Errorf("open pptx %s: %w", path, err)
	}
	defer r.Close()

	n := 0
	for _, f := range r.File {
		if slideFileRe.MatchString(f.Name) {
			n++
		}
	}
	return n, nil
}

// ExtractText returns the raw concatenated text runs of slide pageNo
// (1-indexed), in document order. Returns constants.ErrTextExtractFail as
// the error code when the slide part is missing or malformed.
func ExtractText(path string, pageNo int) (string, error) {
	r, err := zip.OpenReader(path)
	if err != nil {
		return "", &ExtractError{Code: constants.ErrTextExtractFail, Err: fmt.Errorf("open pptx %s: %w", path, err)}
	}
	defer r.Close()

	name := fmt.Sprintf("ppt/slides/slide%d.xml", pageNo)
	f := findFile(r, name)
	if f == nil {
		return "", &ExtractError{Code: constants.ErrTextExtractFail, Err: fmt.Errorf("slide part %s not found in %s", name, path)}
	}

	rc, err := f.Open()
	if err != nil {
		return "", &ExtractError{Code: constants.ErrTextExtractFail, Err: fmt.Errorf("open slide part %s: %w", name, err)}
	}
	defer rc.Close()

	text, err := extractRunsFromSlideXML(rc)
	if err != nil {
		return "", &ExtractError{Code: constants.ErrTextExtractFail, Err: fmt.Errorf("parse slide part %s: %w", name, err)}
	}
	return text, nil
}

// ExtractError carries the stable error code (spec 6) alongside the
// underlying cause, for surfacing on the artifact row.
type ExtractError struct {
	Code string
	Err  error
}

func (e *ExtractError) Error() string { return e.Err.Error() }
func (e *ExtractError) Unwrap() error { return e.Err }

func findFile(r *zip.ReadCloser, name string) *zip.File {
	for _, f := range r.File {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// drawingText mirrors the minimal subset of DrawingML text runs present in
// a slide part: paragraphs of runs, each run carrying a text node.
type drawingText struct {
	XMLName xml.Name `xml:"sld"`
	Body    struct {
		Shapes []struct {
			TxBody struct {
				Paragraphs []struct {
					Runs []struct {
						Text string `xml:"t"`
					} `xml:"r"`
				} `xml:"p"`
			} `xml:"txBody"`
		} `xml:"spTree>sp"`
	} `xml:"cSld"`
}

func extractRunsFromSlideXML(r io.Reader) (string, error) {
	var doc drawingText
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return "", err
	}

	var b strings.Builder
	for _, shape := range doc.Body.Shapes {
		for _, p := range shape.TxBody.Paragraphs {
			for _, run := range p.Runs {
				if run.Text == "" {
					continue
				}
				if b.Len() > 0 {
					b.WriteString("\n")
				}
				b.WriteString(run.Text)
			}
		}
	}
	return b.String(), nil
}

// IsPresentationFile reports whether path has a recognized presentation
// extension, grounded on the teacher's isImageFile extension whitelist in
// cmd/upload.go.
func IsPresentationFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".pptx"
}
