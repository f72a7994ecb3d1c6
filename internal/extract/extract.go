// Package extract turns uploaded documents into plain text, falling back to
// per-image OCR when a PDF carries no text layer.
package extract

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/dvloznov/docledger/internal/domain"
	"github.com/dvloznov/docledger/internal/logger"
)

// ErrEmptyInput is returned for zero-length documents before any engine runs.
var ErrEmptyInput = errors.New("empty input document")

// ErrUnsupportedKind is returned by DetectKind for file types the pipeline
// does not accept.
var ErrUnsupportedKind = errors.New("unsupported file type")

// Extraction stages reported in ExtractionError.
const (
	StageConvert = "convert"
	StageImages  = "images"
	StageOCR     = "ocr"
)

// ExtractionError wraps any engine failure. No partial text is returned
// alongside it.
type ExtractionError struct {
	Stage string
	Err   error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extraction failed at %s: %v", e.Stage, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// MarkdownConverter renders the text layer of a PDF.
type MarkdownConverter interface {
	Convert(ctx context.Context, pdf []byte) (string, error)
}

// PageImage is one raster image embedded in a document. Page and Index are
// 1-based; Index counts images within the page.
type PageImage struct {
	Page     int
	Index    int
	Data     []byte
	MIMEType string
}

// ImageSource lists every raster image of a PDF in page order.
type ImageSource interface {
	Images(ctx context.Context, pdf []byte) ([]PageImage, error)
}

// OCREngine reads the text in one image.
type OCREngine interface {
	Recognize(ctx context.Context, image []byte, mimeType string) (string, error)
}

// Extractor wires the three engines together.
type Extractor struct {
	Converter MarkdownConverter
	Images    ImageSource
	OCR       OCREngine
}

// NewExtractor creates an Extractor.
func NewExtractor(converter MarkdownConverter, images ImageSource, ocr OCREngine) *Extractor {
	return &Extractor{Converter: converter, Images: images, OCR: ocr}
}

// Extract returns the text of pdf. The direct conversion wins whenever it has
// any non-whitespace content; otherwise every embedded image is OCR'd and the
// non-empty results are labeled "Page N, Image M". A document with neither
// text nor images yields an empty document and no error.
func (e *Extractor) Extract(ctx context.Context, pdf []byte) (domain.ExtractedDocument, error) {
	if len(pdf) == 0 {
		return domain.ExtractedDocument{}, ErrEmptyInput
	}
	log := logger.FromContext(ctx)

	direct, err := e.convert(ctx, pdf)
	if err != nil {
		return domain.ExtractedDocument{}, err
	}
	if strings.TrimSpace(direct) != "" {
		log.Debug().Int("chars", len(direct)).Msg("text layer extracted")
		return domain.ExtractedDocument{Text: strings.TrimSpace(direct)}, nil
	}

	images, err := e.images(ctx, pdf)
	if err != nil {
		return domain.ExtractedDocument{}, err
	}

	var sections []string
	for _, img := range images {
		text, err := e.recognize(ctx, img.Data, img.MIMEType)
		if err != nil {
			return domain.ExtractedDocument{}, err
		}
		if strings.TrimSpace(text) == "" {
			continue
		}
		sections = append(sections, fmt.Sprintf("Page %d, Image %d\n%s", img.Page, img.Index, text))
	}

	log.Debug().Int("images", len(images)).Int("sections", len(sections)).Msg("ocr fallback complete")

	if len(sections) == 0 {
		return domain.ExtractedDocument{Text: strings.TrimSpace(direct)}, nil
	}
	return domain.ExtractedDocument{Text: strings.TrimSpace(strings.Join(sections, "\n\n"))}, nil
}

// ExtractImage OCRs a directly uploaded image as a single page.
func (e *Extractor) ExtractImage(ctx context.Context, image []byte, mimeType string) (domain.ExtractedDocument, error) {
	if len(image) == 0 {
		return domain.ExtractedDocument{}, ErrEmptyInput
	}

	text, err := e.recognize(ctx, image, mimeType)
	if err != nil {
		return domain.ExtractedDocument{}, err
	}
	if strings.TrimSpace(text) == "" {
		return domain.ExtractedDocument{}, nil
	}
	return domain.ExtractedDocument{Text: strings.TrimSpace("Page 1, Image 1\n" + text)}, nil
}

// ExtractFile dispatches on the file kind of filename.
func (e *Extractor) ExtractFile(ctx context.Context, filename string, data []byte) (domain.ExtractedDocument, error) {
	kind, err := DetectKind(filename)
	if err != nil {
		return domain.ExtractedDocument{}, err
	}
	if kind == KindPDF {
		return e.Extract(ctx, data)
	}
	return e.ExtractImage(ctx, data, kind.MIMEType())
}

func (e *Extractor) convert(ctx context.Context, pdf []byte) (out string, err error) {
	defer recoverInto(StageConvert, &err)
	out, err = e.Converter.Convert(ctx, pdf)
	if err != nil {
		return "", wrapStage(StageConvert, err)
	}
	return out, nil
}

func (e *Extractor) images(ctx context.Context, pdf []byte) (out []PageImage, err error) {
	defer recoverInto(StageImages, &err)
	out, err = e.Images.Images(ctx, pdf)
	if err != nil {
		return nil, wrapStage(StageImages, err)
	}
	return out, nil
}

func (e *Extractor) recognize(ctx context.Context, image []byte, mimeType string) (out string, err error) {
	defer recoverInto(StageOCR, &err)
	out, err = e.OCR.Recognize(ctx, image, mimeType)
	if err != nil {
		return "", wrapStage(StageOCR, err)
	}
	return out, nil
}

func wrapStage(stage string, err error) error {
	var ee *ExtractionError
	if errors.As(err, &ee) {
		return err
	}
	return &ExtractionError{Stage: stage, Err: err}
}

// recoverInto converts a panic from a parser into an ExtractionError.
func recoverInto(stage string, err *error) {
	if r := recover(); r != nil {
		*err = &ExtractionError{Stage: stage, Err: fmt.Errorf("panic: %v", r)}
	}
}

// Kind is an accepted upload type.
type Kind string

const (
	KindPDF  Kind = "pdf"
	KindPNG  Kind = "png"
	KindJPEG Kind = "jpeg"
)

// MIMEType returns the content type for k.
func (k Kind) MIMEType() string {
	switch k {
	case KindPDF:
		return "application/pdf"
	case KindPNG:
		return "image/png"
	case KindJPEG:
		return "image/jpeg"
	}
	return "application/octet-stream"
}

// DetectKind classifies filename by extension. Only .pdf, .png, .jpg and
// .jpeg are accepted.
func DetectKind(filename string) (Kind, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		return KindPDF, nil
	case ".png":
		return KindPNG, nil
	case ".jpg", ".jpeg":
		return KindJPEG, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedKind, filename)
}
