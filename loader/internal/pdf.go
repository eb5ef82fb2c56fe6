package internal

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	pdftypes "github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
)

var errNotPDF = errors.New("content is not a PDF")

// PDFLoader extracts plain text from PDF files. When CropTop or CropBottom are
// set (in points, 1 pt = 1/72 inch) running headers and footers are cut away
// first.
type PDFLoader struct {
	CropTop    float64
	CropBottom float64
}

func (l PDFLoader) Load(ctx context.Context, path string) (string, error) {
	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return "", err
	}
	if !mt.Is("application/pdf") {
		return "", fmt.Errorf("%s: %w (detected %s)", path, errNotPDF, mt.String())
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	src := path
	if l.CropTop > 0 || l.CropBottom > 0 {
		tmp, err := os.CreateTemp("", "rag-crop-*.pdf")
		if err != nil {
			return "", err
		}
		tmp.Close()
		defer os.Remove(tmp.Name())

		if err := removeHeaderFooter(path, tmp.Name(), l.CropTop, l.CropBottom); err != nil {
			return "", err
		}
		src = tmp.Name()
	}

	return extractText(src)
}

// removeHeaderFooter crops every page of the input by top and bottom points.
func removeHeaderFooter(inputPath, outputPath string, top, bottom float64) error {
	conf := api.LoadConfiguration()

	box, err := model.ParseBox(fmt.Sprintf("%.2f 0 %.2f 0", top, bottom), pdftypes.POINTS)
	if err != nil {
		return fmt.Errorf("failed to parse crop box: %w", err)
	}

	if err := api.CropFile(inputPath, outputPath, []string{"1-"}, box, conf); err != nil {
		return fmt.Errorf("failed to crop PDF: %w", err)
	}
	return nil
}

func extractText(path string) (string, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open PDF: %w", err)
	}
	defer f.Close()

	var sb strings.Builder
	for i := 1; i <= r.NumPage(); i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("page %d: %w", i, err)
		}
		if text = strings.TrimSpace(text); text != "" {
			if sb.Len() > 0 {
				sb.WriteString("\n\n")
			}
			sb.WriteString(text)
		}
	}
	return sb.String(), nil
}
