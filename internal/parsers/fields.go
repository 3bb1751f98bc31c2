package parsers

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	dayFirstPattern = regexp.MustCompile(`^(\d{1,2})[/.\-](\d{1,2})[/.\-](\d{4}|\d{2})(?:$|[\sT])`)
	isoDatePattern  = regexp.MustCompile(`^(\d{4})-(\d{1,2})-(\d{1,2})(?:$|[\sT])`)

	// fallbackDateFormats are tried, in order, when the template format does not apply
	fallbackDateFormats = []string{
		time.RFC3339,
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
		"2006-01-02",
		"2006/01/02",
		"02/01/2006 15:04:05",
		"02/01/2006 15:04",
		"02/01/2006",
		"20060102",
		"02-Jan-2006",
		"Jan 2, 2006",
		"January 2, 2006",
	}
)

// DateLayout is the family of a template's date format
type DateLayout int

const (
	// LayoutGeneric uses only the fallback formats
	LayoutGeneric DateLayout = iota
	// LayoutDayFirst covers dd/MM/yyyy and its -/. and two-digit-year variants
	LayoutDayFirst
	// LayoutISO covers yyyy-MM-dd
	LayoutISO
)

// DetectDateLayout maps a template date format to a layout family
func DetectDateLayout(format string) DateLayout {
	f := strings.ToLower(strings.TrimSpace(format))
	switch {
	case strings.HasPrefix(f, "dd") && strings.Contains(f, "mm") && strings.Contains(f, "yy"):
		return LayoutDayFirst
	case strings.HasPrefix(f, "yyyy-mm-dd"):
		return LayoutISO
	default:
		return LayoutGeneric
	}
}

// ParseDate parses a statement date using the template's date format.
// The result is midnight UTC of the calendar day written in the file.
func ParseDate(value, format string) (time.Time, error) {
	s := strings.TrimSpace(value)
	if s == "" {
		return time.Time{}, fmt.Errorf("date is empty")
	}

	switch DetectDateLayout(format) {
	case LayoutDayFirst:
		if m := dayFirstPattern.FindStringSubmatch(s); m != nil {
			return buildDate(m[3], m[2], m[1])
		}
	case LayoutISO:
		if m := isoDatePattern.FindStringSubmatch(s); m != nil {
			return buildDate(m[1], m[2], m[3])
		}
	}

	for _, layout := range fallbackDateFormats {
		if t, err := time.Parse(layout, s); err == nil {
			return truncateToDate(t), nil
		}
	}

	return time.Time{}, fmt.Errorf("unable to parse date %q with format %q", s, format)
}

func buildDate(yearStr, monthStr, dayStr string) (time.Time, error) {
	year, _ := strconv.Atoi(yearStr)
	month, _ := strconv.Atoi(monthStr)
	day, _ := strconv.Atoi(dayStr)
	if len(yearStr) == 2 {
		year += 2000
	}

	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	if t.Year() != year || int(t.Month()) != month || t.Day() != day {
		return time.Time{}, fmt.Errorf("date %04d-%02d-%02d does not exist", year, month, day)
	}
	return t, nil
}

func truncateToDate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// cleanAmount strips currency symbols, spaces and sign decorations.
// It reports whether the value was written as a negative.
func cleanAmount(value string) (string, bool) {
	s := strings.TrimSpace(value)
	s = strings.ReplaceAll(s, "R$", "")
	s = strings.ReplaceAll(s, "$", "")
	s = strings.ReplaceAll(s, " ", "")
	s = strings.ReplaceAll(s, "\u00a0", "")

	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		s = strings.TrimSuffix(strings.TrimPrefix(s, "("), ")")
		negative = true
	}
	if strings.HasSuffix(s, "-") {
		s = strings.TrimSuffix(s, "-")
		negative = true
	}
	if strings.HasPrefix(s, "-") {
		negative = true
	}
	return s, negative
}

// ParseDecimal parses a monetary value honouring the template decimal separator.
// With ',' the dots are thousands separators; with '.' the commas are.
func ParseDecimal(value, decimalSeparator string) (decimal.Decimal, error) {
	s, negative := cleanAmount(value)
	if s == "" {
		return decimal.Zero, fmt.Errorf("amount is empty")
	}

	if decimalSeparator == "," {
		s = strings.ReplaceAll(s, ".", "")
		s = strings.ReplaceAll(s, ",", ".")
	} else {
		s = strings.ReplaceAll(s, ",", "")
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount %q: %w", value, err)
	}
	if negative && d.IsPositive() {
		d = d.Neg()
	}
	return d.Round(2), nil
}

// ParseAmount parses a gross settlement amount. The result is always
// positive; zero is rejected.
func ParseAmount(value, decimalSeparator string) (decimal.Decimal, error) {
	d, err := ParseDecimal(value, decimalSeparator)
	if err != nil {
		return decimal.Zero, err
	}
	d = d.Abs()
	if d.IsZero() {
		return decimal.Zero, fmt.Errorf("amount %q is zero", value)
	}
	return d, nil
}
