// Package parsers turns acquirer settlement exports into normalized items.
//
// Parsing is driven entirely by a models.Template: the delimiter, the
// decimal separator, the date format, the number of header rows and the
// position of every field. Adding an acquirer is a data change, not a code
// change.
//
// The parser is pure. Given the same bytes and template it always returns
// the same items, total and errors, so an import can be retried at will.
// Malformed rows never abort a parse; they are reported as line-numbered
// errors next to the rows that did parse. Only a malformed template makes
// Parse fail.
//
// Example usage:
//
//	parser := NewStatementParser(DefaultParseConfig())
//	result, err := parser.ParseBytes(fileBytes, tpl)
//	for _, msg := range result.Errors {
//		fmt.Println(msg)
//	}
package parsers

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/text/encoding/charmap"
	"gorm.io/datatypes"

	"settlement-reconciliation-service/internal/models"
)

const (
	// EncodingUTF8 is reported when the input was valid UTF-8
	EncodingUTF8 = "utf-8"
	// EncodingWindows1252 is reported when the input had to be transcoded
	EncodingWindows1252 = "windows-1252"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// ParsedItem is one normalized settlement line
type ParsedItem struct {
	LineNumber   int
	Date         time.Time
	Amount       decimal.Decimal
	NSU          string
	AuthCode     string
	Brand        string
	LastDigits   string
	Installments *int
	NetAmount    decimal.NullDecimal
	FeeAmount    decimal.NullDecimal
	Raw          []string
}

// ToItem converts the parsed line into a pending reconciliation item
func (p ParsedItem) ToItem(tenantID string, batchID uuid.UUID) *models.Item {
	raw, _ := json.Marshal(p.Raw)
	return &models.Item{
		TenantID:       tenantID,
		BatchID:        batchID,
		LineNumber:     p.LineNumber,
		ExternalDate:   p.Date,
		ExternalAmount: p.Amount,
		ExternalID:     p.NSU,
		ExternalRef:    p.AuthCode,
		CardBrand:      p.Brand,
		CardLastDigits: p.LastDigits,
		Installments:   p.Installments,
		NetAmount:      p.NetAmount,
		FeeAmount:      p.FeeAmount,
		RawData:        datatypes.JSON(raw),
		Status:         models.ItemStatusPending,
	}
}

// ParseResult holds everything a parse produced
type ParseResult struct {
	Items       []ParsedItem
	TotalAmount decimal.Decimal
	Errors      []string
	ErrorCount  int
	RowsRead    int
	Encoding    string
}

// Period returns the earliest and latest item dates
func (r *ParseResult) Period() (start, end time.Time, ok bool) {
	if len(r.Items) == 0 {
		return time.Time{}, time.Time{}, false
	}
	start, end = r.Items[0].Date, r.Items[0].Date
	for _, item := range r.Items[1:] {
		if item.Date.Before(start) {
			start = item.Date
		}
		if item.Date.After(end) {
			end = item.Date
		}
	}
	return start, end, true
}

// decodeContent returns the input as UTF-8 text. Input that is not valid
// UTF-8 is treated as Windows-1252, the usual encoding of acquirer exports.
func decodeContent(raw []byte) (string, string, error) {
	raw = bytes.TrimPrefix(raw, utf8BOM)
	if utf8.Valid(raw) {
		return string(raw), EncodingUTF8, nil
	}

	decoded, err := charmap.Windows1252.NewDecoder().Bytes(raw)
	if err != nil {
		return "", "", err
	}
	return string(decoded), EncodingWindows1252, nil
}

// newReader configures a csv.Reader for positional, loosely quoted rows
func newReader(content string, delimiter rune) *csv.Reader {
	reader := csv.NewReader(strings.NewReader(content))
	reader.Comma = delimiter
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = delimiter != '\t' && delimiter != ' '
	reader.ReuseRecord = false
	return reader
}

func isBlankRecord(record []string) bool {
	for _, field := range record {
		if strings.TrimSpace(field) != "" {
			return false
		}
	}
	return true
}
