package extract

import (
	"bytes"
	"fmt"

	"github.com/ledongthuc/pdf"
)

type pdfSource struct {
	reader *pdf.Reader
}

// OpenPDF parses raw PDF bytes. Documents with no pages are rejected.
func OpenPDF(data []byte) (source PageSource, err error) {
	defer func() {
		if r := recover(); r != nil {
			source, err = nil, fmt.Errorf("%w: %v", ErrInvalidDocument, r)
		}
	}()
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	if reader.NumPage() == 0 {
		return nil, fmt.Errorf("%w: no pages", ErrInvalidDocument)
	}
	return &pdfSource{reader: reader}, nil
}

func (s *pdfSource) NumPages() int {
	return s.reader.NumPage()
}

func (s *pdfSource) PageText(n int) (string, error) {
	page := s.reader.Page(n)
	if page.V.IsNull() {
		return "", fmt.Errorf("page %d is empty", n)
	}
	return page.GetPlainText(nil)
}
