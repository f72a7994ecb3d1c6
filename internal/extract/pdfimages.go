package extract

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// PDFImageSource pulls embedded raster images out of a PDF with pdfcpu.
type PDFImageSource struct {
	// Conf overrides the pdfcpu configuration. Nil uses the defaults.
	Conf *model.Configuration
}

// Images implements ImageSource. Images are ordered by page, then by object
// number within the page.
func (s PDFImageSource) Images(ctx context.Context, data []byte) ([]PageImage, error) {
	conf := s.Conf
	if conf == nil {
		conf = model.NewDefaultConfiguration()
	}

	pages, err := api.ExtractImagesRaw(bytes.NewReader(data), nil, conf)
	if err != nil {
		return nil, fmt.Errorf("PDFImageSource.Images: extract images: %w", err)
	}

	var raw []model.Image
	for _, byObj := range pages {
		for _, img := range byObj {
			raw = append(raw, img)
		}
	}
	sort.Slice(raw, func(i, j int) bool {
		if raw[i].PageNr != raw[j].PageNr {
			return raw[i].PageNr < raw[j].PageNr
		}
		return raw[i].ObjNr < raw[j].ObjNr
	})

	out := make([]PageImage, 0, len(raw))
	index := map[int]int{}
	for _, img := range raw {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		body, err := io.ReadAll(img)
		if err != nil {
			return nil, fmt.Errorf("PDFImageSource.Images: read image %s on page %d: %w", img.Name, img.PageNr, err)
		}
		if len(body) == 0 {
			continue
		}
		index[img.PageNr]++
		out = append(out, PageImage{
			Page:     img.PageNr,
			Index:    index[img.PageNr],
			Data:     body,
			MIMEType: imageMIMEType(img.FileType),
		})
	}
	return out, nil
}

func imageMIMEType(fileType string) string {
	switch strings.ToLower(fileType) {
	case "jpg", "jpeg":
		return "image/jpeg"
	case "png":
		return "image/png"
	case "tif", "tiff":
		return "image/tiff"
	case "jpx", "jp2":
		return "image/jp2"
	}
	return "application/octet-stream"
}
