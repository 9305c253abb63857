package loader

import (
	"bytes"
	"fmt"
	"io"

	"github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

func init() {
	// pdfcpu would otherwise create a config directory in the user's home.
	api.DisableConfigDir()
}

// PageImage is an embedded image of a PDF page.
type PageImage struct {
	Data []byte
	Ext  string
}

// PDFReader extracts page text and embedded images from a PDF.
type PDFReader interface {
	PageText(raw []byte) ([]string, error)
	PageImages(raw []byte) (map[int][]PageImage, error)
}

// PDFContentReader reads text with ledongthuc/pdf and images with pdfcpu.
type PDFContentReader struct{}

// PageText returns the plain text of every page, in page order.
func (PDFContentReader) PageText(raw []byte) (pages []string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("malformed pdf: %v", r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return nil, err
	}

	n := r.NumPage()
	pages = make([]string, 0, n)
	for i := 1; i <= n; i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			pages = append(pages, "")
			continue
		}
		text, err := p.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", i, err)
		}
		pages = append(pages, text)
	}
	return pages, nil
}

// PageImages returns the embedded images keyed by 1-based page number.
func (PDFContentReader) PageImages(raw []byte) (map[int][]PageImage, error) {
	images := make(map[int][]PageImage)
	err := api.ExtractImages(bytes.NewReader(raw), nil, func(img model.Image, _ bool, _ int) error {
		data, err := io.ReadAll(img)
		if err != nil {
			return fmt.Errorf("read image %s: %w", img.Name, err)
		}
		images[img.PageNr] = append(images[img.PageNr], PageImage{Data: data, Ext: img.FileType})
		return nil
	}, api.LoadConfiguration())
	if err != nil {
		return nil, err
	}
	return images, nil
}
