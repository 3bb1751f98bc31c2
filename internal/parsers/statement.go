package parsers

import (
	"io"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"settlement-reconciliation-service/internal/models"
	apperrors "settlement-reconciliation-service/pkg/errors"
	"settlement-reconciliation-service/pkg/logger"
)

// StatementParser parses settlement exports according to a template
type StatementParser struct {
	config *ParseConfig
	logger logger.Logger
}

// NewStatementParser creates a parser. A nil config uses the defaults.
func NewStatementParser(config *ParseConfig) *StatementParser {
	if config == nil {
		config = DefaultParseConfig()
	}
	return &StatementParser{
		config: config,
		logger: logger.GetGlobalLogger().WithComponent("statement_parser"),
	}
}

// WithLogger replaces the parser's logger
func (sp *StatementParser) WithLogger(log logger.Logger) *StatementParser {
	sp.logger = log.WithComponent("statement_parser")
	return sp
}

// ParseBytes decodes raw file bytes and parses them. XLSX workbooks are
// read from their first sheet; anything else is delimited text.
func (sp *StatementParser) ParseBytes(raw []byte, tpl *models.Template) (*ParseResult, error) {
	if len(raw) == 0 {
		return nil, apperrors.FileError(apperrors.CodeFileEmpty, "statement", nil)
	}

	if isSpreadsheet(raw) {
		if err := checkTemplate(tpl); err != nil {
			return nil, err
		}
		source, err := newSheetSource(raw)
		if err != nil {
			return nil, apperrors.ParseError(apperrors.CodeInvalidFormat, "cannot read workbook", err)
		}
		result := sp.parse(source, tpl)
		result.Encoding = EncodingXLSX
		return result, nil
	}

	content, encoding, err := decodeContent(raw)
	if err != nil {
		return nil, apperrors.ParseError(apperrors.CodeEncodingError, "cannot decode statement", err)
	}

	result, err := sp.Parse(content, tpl)
	if err != nil {
		return nil, err
	}
	result.Encoding = encoding
	return result, nil
}

// Parse parses statement text. It fails only when the template itself is
// unusable; bad rows are reported in the result and skipped.
func (sp *StatementParser) Parse(content string, tpl *models.Template) (*ParseResult, error) {
	if err := checkTemplate(tpl); err != nil {
		return nil, err
	}
	delimiter, _ := tpl.DelimiterRune()
	return sp.parse(newCSVSource(content, delimiter), tpl), nil
}

func checkTemplate(tpl *models.Template) error {
	if tpl == nil {
		return apperrors.ValidationError(apperrors.CodeMissingField, "template", nil, nil)
	}
	if err := tpl.ValidateLayout(); err != nil {
		return apperrors.ValidationError(apperrors.CodeInvalidTemplate, tpl.Name, err.Error(), err)
	}
	return nil
}

func (sp *StatementParser) parse(source recordSource, tpl *models.Template) *ParseResult {
	mapping := tpl.Mapping()
	collector := apperrors.NewRowErrorCollector(sp.config.MaxErrors)

	result := &ParseResult{
		Items:       make([]ParsedItem, 0),
		TotalAmount: decimal.Zero,
		Encoding:    EncodingUTF8,
	}

	records := 0
	for {
		record, line, err := source.Next()
		if err == io.EOF {
			break
		}
		records++
		if err != nil {
			if records > tpl.SkipRows {
				collector.Add(apperrors.MalformedLineError(line, err))
			}
			continue
		}
		if records <= tpl.SkipRows {
			continue
		}
		if sp.config.SkipBlankRows && isBlankRecord(record) {
			continue
		}
		result.RowsRead++

		item, rowErr := parseRecord(record, line, mapping, tpl)
		if rowErr != nil {
			collector.Add(rowErr)
			continue
		}

		result.Items = append(result.Items, *item)
		result.TotalAmount = result.TotalAmount.Add(item.Amount)
	}

	result.Errors = collector.Messages()
	result.ErrorCount = collector.Count()

	sp.logger.WithFields(logger.Fields{
		"template": tpl.Name,
		"rows":     result.RowsRead,
		"items":    len(result.Items),
		"errors":   result.ErrorCount,
		"total":    result.TotalAmount.StringFixed(2),
	}).Debug("Parsed statement")

	return result
}

// Parse parses statement text with the default configuration
func Parse(content string, tpl *models.Template) (*ParseResult, error) {
	return NewStatementParser(nil).WithLogger(logger.NewNopLogger()).Parse(content, tpl)
}

func parseRecord(record []string, line int, mapping models.ColumnMapping, tpl *models.Template) (*ParsedItem, *apperrors.RowError) {
	dateRaw, ok := field(record, mapping.Date)
	if !ok {
		return nil, apperrors.MissingColumnError(line, "date", mapping.Date)
	}
	date, err := ParseDate(dateRaw, tpl.DateFormat)
	if err != nil {
		return nil, apperrors.InvalidDateError(line, mapping.Date, dateRaw)
	}

	amountRaw, ok := field(record, mapping.GrossAmount)
	if !ok {
		return nil, apperrors.MissingColumnError(line, "grossAmount", mapping.GrossAmount)
	}
	amount, err := ParseAmount(amountRaw, tpl.DecimalSeparator)
	if err != nil {
		return nil, apperrors.InvalidAmountError(line, mapping.GrossAmount, amountRaw)
	}

	raw := make([]string, len(record))
	copy(raw, record)

	item := &ParsedItem{
		LineNumber: line,
		Date:       date,
		Amount:     amount,
		NSU:        optionalText(record, mapping.NSU),
		AuthCode:   optionalText(record, mapping.AuthCode),
		Brand:      strings.ToUpper(optionalText(record, mapping.Brand)),
		LastDigits: optionalText(record, mapping.LastDigits),
		Raw:        raw,
	}

	if s := optionalText(record, mapping.Installments); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			item.Installments = &n
		}
	}
	item.NetAmount = optionalDecimal(record, mapping.NetAmount, tpl.DecimalSeparator)
	item.FeeAmount = optionalDecimal(record, mapping.FeeAmount, tpl.DecimalSeparator)

	return item, nil
}

func field(record []string, idx int) (string, bool) {
	if idx < 0 || idx >= len(record) {
		return "", false
	}
	return strings.TrimSpace(record[idx]), true
}

func optionalText(record []string, idx *int) string {
	if idx == nil {
		return ""
	}
	value, _ := field(record, *idx)
	return value
}

func optionalDecimal(record []string, idx *int, decimalSeparator string) decimal.NullDecimal {
	s := optionalText(record, idx)
	if s == "" {
		return decimal.NullDecimal{}
	}
	d, err := ParseDecimal(s, decimalSeparator)
	if err != nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(d)
}
