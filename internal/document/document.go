// Package document classifies input files and prepares them for conversion.
package document

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/gabriel-vasile/mimetype"
	"github.com/ledongthuc/pdf"
)

// Kind is the detected type of an input file.
type Kind string

const (
	KindPDF     Kind = "pdf"
	KindImage   Kind = "image"
	KindArchive Kind = "archive"
	KindUnknown Kind = "unknown"
)

var documentExts = map[string]Kind{
	".pdf":  KindPDF,
	".png":  KindImage,
	".jpg":  KindImage,
	".jpeg": KindImage,
}

// IsDocumentExt reports whether name carries a supported document extension.
func IsDocumentExt(name string) bool {
	_, ok := documentExts[strings.ToLower(filepath.Ext(name))]
	return ok
}

// Detect classifies data by its signature.
func Detect(data []byte) (Kind, string) {
	m := mimetype.Detect(data)
	return kindOf(m), m.String()
}

// DetectFile classifies the file at path by its signature.
func DetectFile(path string) (Kind, string, error) {
	m, err := mimetype.DetectFile(path)
	if err != nil {
		return KindUnknown, "", fmt.Errorf("detect %s: %w", filepath.Base(path), err)
	}
	return kindOf(m), m.String(), nil
}

func kindOf(m *mimetype.MIME) Kind {
	switch {
	case m.Is("application/pdf"):
		return KindPDF
	case m.Is("image/png"), m.Is("image/jpeg"):
		return KindImage
	case m.Is("application/zip"):
		return KindArchive
	default:
		return KindUnknown
	}
}

// MatchesExt reports whether the signature kind agrees with the extension of name.
func MatchesExt(name string, kind Kind) bool {
	k, ok := documentExts[strings.ToLower(filepath.Ext(name))]
	return ok && k == kind
}

// ProbePDF returns the page count of a PDF held in memory.
func ProbePDF(data []byte) (pages int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("probe pdf: %v", r)
		}
	}()
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return 0, fmt.Errorf("probe pdf: %w", err)
	}
	return r.NumPage(), nil
}

// NormalizeImage decodes an image, applies its EXIF orientation and
// re-encodes it as PNG.
func NormalizeImage(data []byte) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return nil, fmt.Errorf("encode image: %w", err)
	}
	return buf.Bytes(), nil
}

// Stem returns the file name without directory and extension.
func Stem(name string) string {
	base := filepath.Base(filepath.FromSlash(name))
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	if stem == "" || stem == "." || stem == string(filepath.Separator) {
		return "document"
	}
	return stem
}
