// Copyright 2025 Peerex, Ltd.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package knowledge

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"
	"github.com/xuri/excelize/v2"
)

// FileParser extracts plain text from one binary document format.
type FileParser interface {
	Extensions() []string
	Parse(ctx context.Context, path string) (string, error)
}

// ParserRegistry routes corpus files to the parser for their extension.
// Markdown and plain text never go through here; they are read directly.
type ParserRegistry struct {
	parsers map[string]FileParser
}

// NewParserRegistry returns a registry with the built-in PDF, Word, and
// Excel parsers.
func NewParserRegistry() *ParserRegistry {
	r := &ParserRegistry{parsers: make(map[string]FileParser)}
	for _, p := range []FileParser{&pdfParser{}, &docxParser{}, &xlsxParser{}} {
		for _, ext := range p.Extensions() {
			r.parsers[ext] = p
		}
	}
	return r
}

// Supports reports whether a parser is registered for the file's extension.
func (r *ParserRegistry) Supports(path string) bool {
	_, ok := r.parsers[strings.ToLower(filepath.Ext(path))]
	return ok
}

// Parse extracts text from the file.
func (r *ParserRegistry) Parse(ctx context.Context, path string) (string, error) {
	ext := strings.ToLower(filepath.Ext(path))
	parser, ok := r.parsers[ext]
	if !ok {
		return "", fmt.Errorf("no parser for extension %s", ext)
	}
	return parser.Parse(ctx, path)
}

type pdfParser struct{}

func (p *pdfParser) Extensions() []string { return []string{".pdf"} }

func (p *pdfParser) Parse(ctx context.Context, path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("failed to stat PDF file: %w", err)
	}

	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open PDF file: %w", err)
	}
	defer file.Close()

	reader, err := pdf.NewReader(file, info.Size())
	if err != nil {
		return "", fmt.Errorf("failed to parse PDF: %w", err)
	}

	var parts []string
	totalPages := reader.NumPage()

	for pageNum := 1; pageNum <= totalPages; pageNum++ {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		default:
		}

		page := reader.Page(pageNum)
		if page.V.IsNull() {
			continue
		}

		text, err := page.GetPlainText(nil)
		if err != nil {
			parts = append(parts, fmt.Sprintf("--- Page %d (extraction failed: %v) ---", pageNum, err))
			continue
		}
		if strings.TrimSpace(text) != "" {
			parts = append(parts, fmt.Sprintf("--- Page %d ---\n%s", pageNum, text))
		}
	}

	return strings.Join(parts, "\n\n"), nil
}

type docxParser struct{}

func (p *docxParser) Extensions() []string { return []string{".docx"} }

func (p *docxParser) Parse(_ context.Context, path string) (string, error) {
	doc, err := docx.ReadDocxFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to parse Word document: %w", err)
	}
	defer doc.Close()

	return doc.Editable().GetContent(), nil
}

type xlsxParser struct{}

func (p *xlsxParser) Extensions() []string { return []string{".xlsx"} }

func (p *xlsxParser) Parse(ctx context.Context, path string) (string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to parse Excel document: %w", err)
	}
	defer f.Close()

	var parts []string
	for _, sheetName := range f.GetSheetList() {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		default:
		}

		var sheetText strings.Builder
		sheetText.WriteString(fmt.Sprintf("--- Sheet: %s ---\n", sheetName))

		rows, err := f.GetRows(sheetName)
		if err != nil {
			sheetText.WriteString(fmt.Sprintf("Error reading sheet: %v\n", err))
			parts = append(parts, sheetText.String())
			continue
		}

		// Cap cells per sheet to keep pathological spreadsheets out of
		// the index.
		cellCount := 0
		const maxCells = 1000

	rowLoop:
		for rowIndex, row := range rows {
			for colIndex, cell := range row {
				if cellCount >= maxCells {
					sheetText.WriteString("... (truncated)\n")
					break rowLoop
				}
				if text := strings.TrimSpace(cell); text != "" {
					sheetText.WriteString(fmt.Sprintf("%s%d: %s\n", columnLetter(colIndex), rowIndex+1, text))
					cellCount++
				}
			}
		}

		if text := strings.TrimSpace(sheetText.String()); text != "" {
			parts = append(parts, text)
		}
	}

	return strings.Join(parts, "\n\n"), nil
}

// columnLetter converts a 0-based column index to the Excel column letter
// (A, B, ..., Z, AA, AB, ...).
func columnLetter(index int) string {
	result := ""
	for {
		result = string(rune('A'+index%26)) + result
		index = index/26 - 1
		if index < 0 {
			break
		}
	}
	return result
}
