package pipeline

import (
	"bytes"
	"fmt"

	"github.com/ledongthuc/pdf"
)

// pdfPlainText extracts the full plain text of a PDF file.
func pdfPlainText(path string) (string, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening pdf: %w", err)
	}
	defer f.Close()

	reader, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extracting text: %w", err)
	}

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(reader); err != nil {
		return "", fmt.Errorf("reading text: %w", err)
	}
	return buf.String(), nil
}
