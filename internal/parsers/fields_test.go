package parsers

import (
	"testing"
	"time"
)

func TestParseDate(t *testing.T) {
	day := func(y, m, d int) time.Time { return time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC) }

	tests := []struct {
		name     string
		value    string
		format   string
		expected time.Time
		wantErr  bool
	}{
		{"day first slash", "10/03/2026", "dd/MM/yyyy", day(2026, 3, 10), false},
		{"day first dash", "10-03-2026", "dd/MM/yyyy", day(2026, 3, 10), false},
		{"day first dot", "10.03.2026", "dd/MM/yyyy", day(2026, 3, 10), false},
		{"two digit year", "05/01/26", "dd/MM/yy", day(2026, 1, 5), false},
		{"single digits", "5/1/2026", "dd/MM/yyyy", day(2026, 1, 5), false},
		{"with time", "10/03/2026 14:35:00", "dd/MM/yyyy", day(2026, 3, 10), false},
		{"iso", "2026-03-10", "yyyy-MM-dd", day(2026, 3, 10), false},
		{"iso with time", "2026-03-10T23:59:59", "yyyy-MM-dd", day(2026, 3, 10), false},
		{"fallback rfc3339", "2026-03-10T10:00:00-03:00", "MM/dd/yyyy", day(2026, 3, 10), false},
		{"fallback compact", "20260310", "yyyyMMdd", day(2026, 3, 10), false},
		{"iso value on day first template", "2026-03-10", "dd/MM/yyyy", day(2026, 3, 10), false},
		{"impossible day", "31/02/2026", "dd/MM/yyyy", time.Time{}, true},
		{"impossible month", "10/13/2026", "dd/MM/yyyy", time.Time{}, true},
		{"garbage", "tomorrow", "dd/MM/yyyy", time.Time{}, true},
		{"empty", "  ", "dd/MM/yyyy", time.Time{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseDate(tt.value, tt.format)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseDate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && !got.Equal(tt.expected) {
				t.Errorf("ParseDate() = %s, want %s", got, tt.expected)
			}
		})
	}
}

func TestDetectDateLayout(t *testing.T) {
	tests := []struct {
		format   string
		expected DateLayout
	}{
		{"dd/MM/yyyy", LayoutDayFirst},
		{"DD-MM-YY", LayoutDayFirst},
		{"yyyy-MM-dd", LayoutISO},
		{"MM/dd/yyyy", LayoutGeneric},
		{"", LayoutGeneric},
	}

	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			if got := DetectDateLayout(tt.format); got != tt.expected {
				t.Errorf("DetectDateLayout(%q) = %v, want %v", tt.format, got, tt.expected)
			}
		})
	}
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		name      string
		value     string
		separator string
		expected  string
		wantErr   bool
	}{
		{"comma decimal", "150,00", ",", "150.00", false},
		{"comma with thousands", "1.234,56", ",", "1234.56", false},
		{"currency prefix", "R$ 1.234,56", ",", "1234.56", false},
		{"negative becomes positive", "-99,90", ",", "99.90", false},
		{"parentheses", "(10,00)", ",", "10.00", false},
		{"trailing minus", "10,00-", ",", "10.00", false},
		{"dot decimal", "1234.56", ".", "1234.56", false},
		{"dot with thousands", "1,234.56", ".", "1234.56", false},
		{"rounds to cents", "10,005", ",", "10.01", false},
		{"zero rejected", "0,00", ",", "", true},
		{"empty rejected", "", ",", "", true},
		{"garbage rejected", "abc", ",", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseAmount(tt.value, tt.separator)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseAmount() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got.StringFixed(2) != tt.expected {
				t.Errorf("ParseAmount() = %s, want %s", got.StringFixed(2), tt.expected)
			}
		})
	}
}

func TestParseDecimalKeepsSign(t *testing.T) {
	got, err := ParseDecimal("-2,50", ",")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.StringFixed(2) != "-2.50" {
		t.Errorf("expected -2.50, got %s", got.StringFixed(2))
	}

	zero, err := ParseDecimal("0,00", ",")
	if err != nil || !zero.IsZero() {
		t.Errorf("ParseDecimal must accept zero, got %s (%v)", zero, err)
	}
}
