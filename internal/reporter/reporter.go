// Package reporter renders reconciliation batches for people and programs.
//
// Supported output formats:
//   - Console: human-readable sections and an item table for terminal display
//   - JSON: the batch summary and items for programmatic consumption
//   - CSV: one row per item for spreadsheet applications
//
// Example usage:
//
//	generator, err := reporter.NewReportGenerator(&reporter.ReportConfig{Format: reporter.FormatCSV})
//	err = generator.GenerateReport(report, os.Stdout)
package reporter

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"settlement-reconciliation-service/internal/models"
	"settlement-reconciliation-service/internal/reconciler"
	apperrors "settlement-reconciliation-service/pkg/errors"
)

// OutputFormat represents the supported report output formats
type OutputFormat string

const (
	FormatConsole OutputFormat = "console"
	FormatJSON    OutputFormat = "json"
	FormatCSV     OutputFormat = "csv"
)

// IsValid checks if the output format is supported
func (f OutputFormat) IsValid() bool {
	switch f {
	case FormatConsole, FormatJSON, FormatCSV:
		return true
	default:
		return false
	}
}

// ParseOutputFormat parses a case-insensitive format name
func ParseOutputFormat(value string) (OutputFormat, error) {
	format := OutputFormat(strings.ToLower(strings.TrimSpace(value)))
	if !format.IsValid() {
		return "", fmt.Errorf("invalid output format: %s", value)
	}
	return format, nil
}

// ReportConfig holds configuration options for report generation
type ReportConfig struct {
	Format OutputFormat `json:"format"`

	// IncludeItems lists the batch items after the summary
	IncludeItems bool `json:"include_items"`
	// OnlyUnresolved restricts the item list to items that block closing
	OnlyUnresolved bool `json:"only_unresolved"`
	SortByAmount   bool `json:"sort_by_amount"`
	// MaxConsoleItems caps the console item table; 0 prints every item
	MaxConsoleItems int `json:"max_console_items"`

	CSVDelimiter rune `json:"csv_delimiter"`
	CSVHeaders   bool `json:"csv_headers"`
}

// DefaultReportConfig returns a default report configuration
func DefaultReportConfig() *ReportConfig {
	return &ReportConfig{
		Format:          FormatConsole,
		IncludeItems:    true,
		MaxConsoleItems: 50,
		CSVDelimiter:    ',',
		CSVHeaders:      true,
	}
}

// Validate validates the report configuration
func (c *ReportConfig) Validate() error {
	if !c.Format.IsValid() {
		return fmt.Errorf("invalid output format: %s", c.Format)
	}
	if c.MaxConsoleItems < 0 {
		return fmt.Errorf("max console items cannot be negative, got %d", c.MaxConsoleItems)
	}
	if c.Format == FormatCSV && (c.CSVDelimiter == 0 || c.CSVDelimiter == '"' || c.CSVDelimiter == '\n') {
		return fmt.Errorf("invalid CSV delimiter %q", c.CSVDelimiter)
	}
	return nil
}

// BatchReport is everything a report shows about one batch
type BatchReport struct {
	Summary     *reconciler.BatchSummary `json:"summary"`
	Items       []*models.Item           `json:"items,omitempty"`
	GeneratedAt time.Time                `json:"generatedAt"`
}

// ReportGenerator generates batch reports in various formats
type ReportGenerator struct {
	config *ReportConfig
}

// NewReportGenerator creates a new report generator with the specified configuration
func NewReportGenerator(config *ReportConfig) (*ReportGenerator, error) {
	if config == nil {
		config = DefaultReportConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, apperrors.ConfigurationError(apperrors.CodeInvalidConfig, "report", config.Format, err).
			WithSuggestion("use one of: console, json, csv")
	}
	return &ReportGenerator{config: config}, nil
}

// GenerateReport writes the report to writer
func (rg *ReportGenerator) GenerateReport(report *BatchReport, writer io.Writer) error {
	if report == nil || report.Summary == nil || report.Summary.Batch == nil {
		return apperrors.ValidationError(apperrors.CodeMissingField, "report", nil, nil)
	}
	if report.GeneratedAt.IsZero() {
		report.GeneratedAt = time.Now()
	}
	items := rg.selectItems(report.Items)

	switch rg.config.Format {
	case FormatConsole:
		return rg.generateConsoleReport(report, items, writer)
	case FormatJSON:
		return rg.generateJSONReport(report, items, writer)
	case FormatCSV:
		return rg.generateCSVReport(items, writer)
	default:
		return fmt.Errorf("unsupported output format: %s", rg.config.Format)
	}
}

// WriteToFile writes the report to path, creating or truncating it
func (rg *ReportGenerator) WriteToFile(report *BatchReport, path string) error {
	file, err := os.Create(path)
	if err != nil {
		return apperrors.FileError(apperrors.CodeFilePermission, path, err)
	}
	if err := rg.GenerateReport(report, file); err != nil {
		_ = file.Close()
		return err
	}
	if err := file.Close(); err != nil {
		return apperrors.FileError(apperrors.CodeFilePermission, path, err)
	}
	return nil
}

func (rg *ReportGenerator) selectItems(items []*models.Item) []*models.Item {
	if !rg.config.IncludeItems {
		return nil
	}
	selected := make([]*models.Item, 0, len(items))
	for _, item := range items {
		if rg.config.OnlyUnresolved && item.Status.IsTerminal() {
			continue
		}
		selected = append(selected, item)
	}
	if rg.config.SortByAmount {
		sort.SliceStable(selected, func(i, j int) bool {
			return selected[i].ExternalAmount.GreaterThan(selected[j].ExternalAmount)
		})
	}
	return selected
}

func (rg *ReportGenerator) generateConsoleReport(report *BatchReport, items []*models.Item, writer io.Writer) error {
	summary := report.Summary
	batch := summary.Batch

	fmt.Fprintf(writer, "RECONCILIATION BATCH %s\n", batch.ID)
	fmt.Fprintf(writer, "Generated: %s\n\n", report.GeneratedAt.Format(time.RFC3339))

	fmt.Fprintf(writer, "=== BATCH ===\n")
	fmt.Fprintf(writer, "Status:    %s\n", batch.Status)
	fmt.Fprintf(writer, "File:      %s\n", batch.FileName)
	if batch.HasPeriod() {
		fmt.Fprintf(writer, "Period:    %s to %s\n", batch.PeriodStart.Format("2006-01-02"), batch.PeriodEnd.Format("2006-01-02"))
	}
	if batch.ClosedAt != nil {
		fmt.Fprintf(writer, "Closed:    %s by %s\n", batch.ClosedAt.Format(time.RFC3339), batch.ClosedByUserID)
	}
	fmt.Fprintf(writer, "\n")

	fmt.Fprintf(writer, "=== SUMMARY ===\n")
	fmt.Fprintf(writer, "Items:      %d\n", batch.TotalItems)
	fmt.Fprintf(writer, "Matched:    %d (%.1f%%)\n", batch.MatchedCount, percentage(batch.MatchedCount, batch.TotalItems))
	fmt.Fprintf(writer, "Unmatched:  %d (%.1f%%)\n", batch.UnmatchedCount, percentage(batch.UnmatchedCount, batch.TotalItems))
	fmt.Fprintf(writer, "Divergent:  %d\n", batch.DivergentCount)
	fmt.Fprintf(writer, "Ignored:    %d\n", batch.IgnoredCount)
	fmt.Fprintf(writer, "Unresolved: %d\n\n", summary.Unresolved)

	fmt.Fprintf(writer, "=== FINANCIAL SUMMARY ===\n")
	fmt.Fprintf(writer, "Statement Total: %s\n", summary.TotalAmount.StringFixed(2))
	fmt.Fprintf(writer, "Matched Total:   %s\n", summary.MatchedAmount.StringFixed(2))
	if !summary.TotalAmount.IsZero() {
		pct := summary.MatchedAmount.Div(summary.TotalAmount).Mul(decimal.NewFromInt(100))
		fmt.Fprintf(writer, "Matched Share:   %s%%\n", pct.StringFixed(2))
	}
	fmt.Fprintf(writer, "\n")

	if len(summary.ByStatus) > 0 {
		fmt.Fprintf(writer, "=== BY STATUS ===\n")
		tw := tabwriter.NewWriter(writer, 0, 0, 2, ' ', 0)
		for _, stat := range summary.ByStatus {
			fmt.Fprintf(tw, "%s\t%d\t%s\n", stat.Status, stat.Count, stat.Sum.StringFixed(2))
		}
		if err := tw.Flush(); err != nil {
			return err
		}
		fmt.Fprintf(writer, "\n")
	}

	if len(items) > 0 {
		fmt.Fprintf(writer, "=== ITEMS ===\n")
		if err := rg.printItemTable(items, writer); err != nil {
			return err
		}
	}
	return nil
}

func (rg *ReportGenerator) printItemTable(items []*models.Item, writer io.Writer) error {
	tw := tabwriter.NewWriter(writer, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "LINE\tDATE\tAMOUNT\tNSU\tBRAND\tSTATUS\tCONF\tDIFF")
	for i, item := range items {
		if rg.config.MaxConsoleItems > 0 && i >= rg.config.MaxConsoleItems {
			if err := tw.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(writer, "  ... and %d more\n", len(items)-i)
			return nil
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
			item.LineNumber,
			item.ExternalDate.Format("2006-01-02"),
			item.ExternalAmount.StringFixed(2),
			dash(item.ExternalID),
			dash(item.CardBrand),
			item.Status,
			item.MatchConfidence,
			nullAmount(item.DifferenceAmount))
	}
	return tw.Flush()
}

func (rg *ReportGenerator) generateJSONReport(report *BatchReport, items []*models.Item, writer io.Writer) error {
	output := BatchReport{
		Summary:     report.Summary,
		Items:       items,
		GeneratedAt: report.GeneratedAt,
	}
	encoder := json.NewEncoder(writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(output)
}

// CSVHeaders are the columns of the CSV report
var CSVHeaders = []string{
	"Line",
	"Date",
	"Amount",
	"NSU",
	"Auth_Code",
	"Brand",
	"Status",
	"Confidence",
	"Payment_ID",
	"Internal_Amount",
	"Difference",
	"Resolution",
	"Notes",
}

func (rg *ReportGenerator) generateCSVReport(items []*models.Item, writer io.Writer) error {
	csvWriter := csv.NewWriter(writer)
	csvWriter.Comma = rg.config.CSVDelimiter

	if rg.config.CSVHeaders {
		if err := csvWriter.Write(CSVHeaders); err != nil {
			return fmt.Errorf("failed to write CSV headers: %w", err)
		}
	}

	for _, item := range items {
		paymentID := ""
		if item.MatchedPaymentID != nil {
			paymentID = item.MatchedPaymentID.String()
		}
		record := []string{
			strconv.Itoa(item.LineNumber),
			item.ExternalDate.Format("2006-01-02"),
			item.ExternalAmount.StringFixed(2),
			item.ExternalID,
			item.ExternalRef,
			item.CardBrand,
			string(item.Status),
			strconv.Itoa(item.MatchConfidence),
			paymentID,
			optionalAmount(item.InternalAmount),
			optionalAmount(item.DifferenceAmount),
			string(item.ResolutionType),
			item.ResolutionNotes,
		}
		if err := csvWriter.Write(record); err != nil {
			return fmt.Errorf("failed to write item %d: %w", item.LineNumber, err)
		}
	}

	csvWriter.Flush()
	return csvWriter.Error()
}

func percentage(part, total int) float64 {
	if total == 0 {
		return 0.0
	}
	return float64(part) / float64(total) * 100.0
}

func optionalAmount(d decimal.NullDecimal) string {
	if !d.Valid {
		return ""
	}
	return d.Decimal.StringFixed(2)
}

func nullAmount(d decimal.NullDecimal) string {
	return dash(optionalAmount(d))
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
