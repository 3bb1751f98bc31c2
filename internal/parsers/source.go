package parsers

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
)

// EncodingXLSX is reported for spreadsheet statements
const EncodingXLSX = "xlsx"

var zipMagic = []byte{'P', 'K', 0x03, 0x04}

// recordSource yields statement rows with their 1-based line numbers.
// A row error is returned with the line it happened on and does not end
// the iteration; io.EOF does.
type recordSource interface {
	Next() (record []string, line int, err error)
}

type csvSource struct {
	reader *csv.Reader
}

func newCSVSource(content string, delimiter rune) *csvSource {
	return &csvSource{reader: newReader(content, delimiter)}
}

func (s *csvSource) Next() ([]string, int, error) {
	record, err := s.reader.Read()
	if err != nil {
		line := 0
		var csvErr *csv.ParseError
		if errors.As(err, &csvErr) {
			line = csvErr.StartLine
		}
		return nil, line, err
	}
	line, _ := s.reader.FieldPos(0)
	return record, line, nil
}

// sheetSource reads the first worksheet of an XLSX workbook. Cells are
// returned as displayed, so the template's date format and decimal
// separator apply as they do to delimited text.
type sheetSource struct {
	rows [][]string
	next int
}

func isSpreadsheet(raw []byte) bool {
	return bytes.HasPrefix(raw, zipMagic)
}

func newSheetSource(raw []byte) (*sheetSource, error) {
	book, err := excelize.OpenReader(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	defer book.Close()

	sheet := book.GetSheetName(0)
	if sheet == "" {
		return nil, fmt.Errorf("workbook has no sheets")
	}
	rows, err := book.GetRows(sheet)
	if err != nil {
		return nil, err
	}
	return &sheetSource{rows: rows}, nil
}

func (s *sheetSource) Next() ([]string, int, error) {
	if s.next >= len(s.rows) {
		return nil, 0, io.EOF
	}
	s.next++
	return s.rows[s.next-1], s.next, nil
}
