package office

import (
	"archive/zip"
	"bytes"
	"encoding/csv"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"agent-bridge/internal/ports/output"

	"github.com/sirupsen/logrus"
	"github.com/xuri/excelize/v2"
)

var _ output.DocumentConverter = (*Converter)(nil)

const (
	wordprocessingNamespace = "http://schemas.openxmlformats.org/wordprocessingml/2006/main"
	documentPart            = "word/document.xml"
	maxDocumentPartBytes    = 64 << 20
)

// SheetHeader is written above every sheet's rows
const SheetHeader = "=== Sheet: %s ==="

// Converter struct - Output adapter rendering office documents as plain text
type Converter struct{}

// NewConverter func - Creates new office document converter
func NewConverter() *Converter {
	return &Converter{}
}

// SpreadsheetToText renders every sheet, in workbook order, as comma-separated rows under a header line
func (c *Converter) SpreadsheetToText(data []byte) (string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("open workbook: %w", err)
	}
	defer func() {
		if err := f.Close(); err != nil {
			logrus.Warnf("Failed to close workbook: %v", err)
		}
	}()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return "", errors.New("workbook has no sheets")
	}

	var out strings.Builder
	for i, sheet := range sheets {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return "", fmt.Errorf("read sheet %q: %w", sheet, err)
		}

		if i > 0 {
			out.WriteString("\n")
		}
		out.WriteString(fmt.Sprintf(SheetHeader, sheet))
		out.WriteString("\n")

		w := csv.NewWriter(&out)
		for _, row := range rows {
			if err := w.Write(row); err != nil {
				return "", fmt.Errorf("render sheet %q: %w", sheet, err)
			}
		}
		w.Flush()
		if err := w.Error(); err != nil {
			return "", fmt.Errorf("render sheet %q: %w", sheet, err)
		}
	}

	return out.String(), nil
}

// WordDocumentToText extracts the running text of a .docx body, one line per paragraph
func (c *Converter) WordDocumentToText(data []byte) (string, error) {
	archive, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open document archive: %w", err)
	}

	var part *zip.File
	for _, file := range archive.File {
		if file.Name == documentPart {
			part = file
			break
		}
	}
	if part == nil {
		return "", fmt.Errorf("document archive has no %s", documentPart)
	}

	rc, err := part.Open()
	if err != nil {
		return "", fmt.Errorf("open %s: %w", documentPart, err)
	}
	defer rc.Close()

	return extractText(io.LimitReader(rc, maxDocumentPartBytes))
}

// extractText walks the WordprocessingML token stream keeping only text runs,
// tabs and breaks. Everything else is markup and is dropped.
func extractText(r io.Reader) (string, error) {
	decoder := xml.NewDecoder(r)

	var (
		paragraph strings.Builder
		inText    bool
		lines     []string
	)

	for {
		token, err := decoder.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("parse %s: %w", documentPart, err)
		}

		switch t := token.(type) {
		case xml.StartElement:
			if t.Name.Space != wordprocessingNamespace {
				continue
			}
			switch t.Name.Local {
			case "t":
				inText = true
			case "tab":
				paragraph.WriteString("\t")
			case "br", "cr":
				paragraph.WriteString("\n")
			}

		case xml.EndElement:
			if t.Name.Space != wordprocessingNamespace {
				continue
			}
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				lines = append(lines, strings.TrimRight(paragraph.String(), " \t"))
				paragraph.Reset()
			}

		case xml.CharData:
			if inText {
				paragraph.Write(t)
			}
		}
	}
	if paragraph.Len() > 0 {
		lines = append(lines, paragraph.String())
	}

	return strings.TrimSpace(strings.Join(lines, "\n")), nil
}
