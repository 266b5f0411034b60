package pptx

import (
	"archive/zip"
	"encoding/xml"
	"fmt"
	"math"

	"github.com/tomas/slidemanager-daemon/internal/constants"
)

// aspectTolerance is how far a computed width/height ratio may drift from
// the canonical 4:3 or 16:9 ratio and still be classified as that aspect
// (spec 4.5: "epsilon-tolerance" classification, exact value left to the
// implementer since slide dimensions are stored in EMUs and rarely land on
// an exact ratio).
const aspectTolerance = 0.02

type presentationXML struct {
	XMLName xml.Name `xml:"presentation"`
	SldSz   struct {
		Cx int64 `xml:"cx,attr"`
		Cy int64 `xml:"cy,attr"`
	} `xml:"sldSz"`
}

// DetectAspect reads ppt/presentation.xml's slide size and classifies it as
// 4:3, 16:9, or unknown (spec 4.5). A malformed or missing presentation
// part is not an extraction failure in itself; it yields "unknown" so
// planning can still proceed with the configured default thumbnail size.
func DetectAspect(path string) (string, error) {
	r, err := zip.OpenReader(path)
	if err != nil {
		return constants.AspectUnknown, fmt.Errorf("open pptx %s: %w", path, err)
	}
	defer r.Close()

	f := findFile(r, "ppt/presentation.xml")
	if f == nil {
		return constants.AspectUnknown, nil
	}

	rc, err := f.Open()
	if err != nil {
		return constants.AspectUnknown, nil
	}
	defer rc.Close()

	var doc presentationXML
	if err := xml.NewDecoder(rc).Decode(&doc); err != nil {
		return constants.AspectUnknown, nil
	}
	if doc.SldSz.Cx <= 0 || doc.SldSz.Cy <= 0 {
		return constants.AspectUnknown, nil
	}

	return ClassifyRatio(float64(doc.SldSz.Cx), float64(doc.SldSz.Cy)), nil
}

// ClassifyRatio maps a width/height pair to one of the known aspect tags
// within aspectTolerance, or AspectUnknown otherwise.
func ClassifyRatio(width, height float64) string {
	if width <= 0 || height <= 0 {
		return constants.AspectUnknown
	}
	ratio := width / height
	if math.Abs(ratio-4.0/3.0) <= aspectTolerance {
		return constants.Aspect4x3
	}
	if math.Abs(ratio-16.0/9.0) <= aspectTolerance {
		return constants.Aspect16x9
	}
	return constants.AspectUnknown
}
