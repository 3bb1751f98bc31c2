// Package matcher implements the auto-match cascade that pairs settlement
// items with internally recorded payments.
//
// Every item is compared with every unconsumed candidate payment. For each
// candidate the first strategy that holds gives its confidence:
//  1. NSU equality (95); the first NSU hit ends the search for that item
//  2. authorization code and amount within tolerance (85)
//  3. card brand, amount within tolerance and a close date (70)
//  4. amount within tolerance and a close date (50)
//
// The best candidate across the batch is taken greedily: once a payment is
// matched it is consumed and no later item can use it.
//
// Example usage:
//
//	config := matcher.DefaultMatchingConfig()
//	config.AmountTolerancePercent = 0.5
//
//	engine := matcher.NewEngine(config, nil)
//	result, err := engine.Run(ctx, items, payments)
package matcher

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// TimezoneMode defines how timestamps are normalized before date windows are applied.
type TimezoneMode int

const (
	// TimezoneUTC compares calendar days of the UTC times.
	TimezoneUTC TimezoneMode = iota

	// TimezoneLocal compares calendar days in the system timezone.
	TimezoneLocal

	// TimezoneIgnore compares the calendar days as written. Settlement
	// files carry dates without times, so this is the default.
	TimezoneIgnore

	// TimezoneBusiness converts to BusinessTimezone and then compares calendar days.
	TimezoneBusiness
)

// String returns the string representation of TimezoneMode
func (tm TimezoneMode) String() string {
	switch tm {
	case TimezoneUTC:
		return "UTC"
	case TimezoneLocal:
		return "Local"
	case TimezoneIgnore:
		return "Ignore"
	case TimezoneBusiness:
		return "Business"
	default:
		return "Unknown"
	}
}

// ParseTimezoneMode parses the configuration name of a timezone mode
func ParseTimezoneMode(s string) (TimezoneMode, error) {
	switch s {
	case "utc", "UTC":
		return TimezoneUTC, nil
	case "local", "Local":
		return TimezoneLocal, nil
	case "", "ignore", "Ignore":
		return TimezoneIgnore, nil
	case "business", "Business":
		return TimezoneBusiness, nil
	default:
		return TimezoneIgnore, fmt.Errorf("unknown timezone mode %q", s)
	}
}

// MatchingConfig holds the tolerances and windows used by the cascade.
//
// Use DefaultMatchingConfig for the standard 1% / 2 day / 3 day rules.
type MatchingConfig struct {
	// AmountTolerancePercent is the allowed difference relative to the payment amount (0.0 to 100.0)
	AmountTolerancePercent float64 `json:"amount_tolerance_percent" mapstructure:"amount_tolerance_percent"`

	// BrandDateWindowDays bounds the date gap for the brand strategy
	BrandDateWindowDays int `json:"brand_date_window_days" mapstructure:"brand_date_window_days"`

	// AmountDateWindowDays bounds the date gap for the amount-only strategy
	AmountDateWindowDays int `json:"amount_date_window_days" mapstructure:"amount_date_window_days"`

	// CandidatePaddingDays widens the batch period when fetching candidate payments
	CandidatePaddingDays int `json:"candidate_padding_days" mapstructure:"candidate_padding_days"`

	// FallbackWindowDays is the trailing window used when a batch has no period
	FallbackWindowDays int `json:"fallback_window_days" mapstructure:"fallback_window_days"`

	// AutoAcceptThreshold is the minimum confidence for AUTO_MATCHED; lower matches are suggestions
	AutoAcceptThreshold int `json:"auto_accept_threshold" mapstructure:"auto_accept_threshold"`

	// TimezoneHandling defines how to handle timezone differences
	TimezoneHandling TimezoneMode `json:"timezone_handling" mapstructure:"-"`

	// BusinessTimezone is used with TimezoneBusiness
	BusinessTimezone string `json:"business_timezone" mapstructure:"business_timezone"`

	// ProgressLogInterval controls how often long runs log progress
	ProgressLogInterval time.Duration `json:"progress_log_interval" mapstructure:"progress_log_interval"`
}

// DefaultMatchingConfig returns the standard cascade configuration
func DefaultMatchingConfig() *MatchingConfig {
	return &MatchingConfig{
		AmountTolerancePercent: 1.0,
		BrandDateWindowDays:    2,
		AmountDateWindowDays:   3,
		CandidatePaddingDays:   7,
		FallbackWindowDays:     90,
		AutoAcceptThreshold:    ConfidenceBrand,
		TimezoneHandling:       TimezoneIgnore,
		BusinessTimezone:       "UTC",
		ProgressLogInterval:    5 * time.Second,
	}
}

// Validate checks if the matching configuration is valid
func (mc *MatchingConfig) Validate() error {
	if mc.AmountTolerancePercent < 0.0 || mc.AmountTolerancePercent > 100.0 {
		return fmt.Errorf("amount tolerance percent must be between 0.0 and 100.0: %f", mc.AmountTolerancePercent)
	}

	if mc.BrandDateWindowDays < 0 {
		return fmt.Errorf("brand date window cannot be negative: %d", mc.BrandDateWindowDays)
	}

	if mc.AmountDateWindowDays < 0 {
		return fmt.Errorf("amount date window cannot be negative: %d", mc.AmountDateWindowDays)
	}

	if mc.CandidatePaddingDays < 0 {
		return fmt.Errorf("candidate padding days cannot be negative: %d", mc.CandidatePaddingDays)
	}

	if mc.FallbackWindowDays <= 0 {
		return fmt.Errorf("fallback window days must be positive: %d", mc.FallbackWindowDays)
	}

	if mc.AutoAcceptThreshold < 0 || mc.AutoAcceptThreshold > 100 {
		return fmt.Errorf("auto accept threshold must be between 0 and 100: %d", mc.AutoAcceptThreshold)
	}

	if mc.TimezoneHandling == TimezoneBusiness {
		if _, err := time.LoadLocation(mc.BusinessTimezone); err != nil {
			return fmt.Errorf("invalid business timezone '%s': %w", mc.BusinessTimezone, err)
		}
	}

	return nil
}

// Clone creates a copy of the matching configuration
func (mc *MatchingConfig) Clone() *MatchingConfig {
	if mc == nil {
		return nil
	}
	clone := *mc
	return &clone
}

// GetAmountTolerance returns the allowed absolute difference for a payment amount.
// The tolerance is not rounded, so exactly 1% of the payment is accepted.
func (mc *MatchingConfig) GetAmountTolerance(amount decimal.Decimal) decimal.Decimal {
	if mc.AmountTolerancePercent == 0.0 {
		return decimal.Zero
	}
	percentage := decimal.NewFromFloat(mc.AmountTolerancePercent).Div(decimal.NewFromInt(100))
	return amount.Abs().Mul(percentage)
}

// IsWithinAmountTolerance reports whether external is within tolerance of the payment amount
func (mc *MatchingConfig) IsWithinAmountTolerance(external, payment decimal.Decimal) bool {
	diff := external.Sub(payment).Abs()
	return diff.LessThanOrEqual(mc.GetAmountTolerance(payment))
}

// DaysBetween returns the absolute gap in calendar days between two times,
// taken after normalization so each side keeps its local date
func (mc *MatchingConfig) DaysBetween(date1, date2 time.Time) int {
	a := calendarDay(mc.NormalizeTime(date1))
	b := calendarDay(mc.NormalizeTime(date2))

	diff := a.Sub(b)
	if diff < 0 {
		diff = -diff
	}
	return int(diff / (24 * time.Hour))
}

// IsWithinDays checks if two dates are at most days apart
func (mc *MatchingConfig) IsWithinDays(date1, date2 time.Time, days int) bool {
	return mc.DaysBetween(date1, date2) <= days
}

// NormalizeTime normalizes time according to the timezone handling configuration
func (mc *MatchingConfig) NormalizeTime(t time.Time) time.Time {
	switch mc.TimezoneHandling {
	case TimezoneUTC:
		return t.UTC()
	case TimezoneLocal:
		return t.Local()
	case TimezoneIgnore:
		return calendarDay(t)
	case TimezoneBusiness:
		if loc, err := time.LoadLocation(mc.BusinessTimezone); err == nil {
			return t.In(loc)
		}
		return t.UTC()
	default:
		return t
	}
}

// CandidateWindow returns the payment date window searched for a batch.
// A batch without a period uses the trailing FallbackWindowDays from now.
func (mc *MatchingConfig) CandidateWindow(start, end *time.Time, now time.Time) (time.Time, time.Time) {
	if start == nil || end == nil {
		return now.AddDate(0, 0, -mc.FallbackWindowDays), now
	}
	from := calendarDay(*start).AddDate(0, 0, -mc.CandidatePaddingDays)
	to := calendarDay(*end).AddDate(0, 0, mc.CandidatePaddingDays+1).Add(-time.Nanosecond)
	return from, to
}

// String returns a human-readable description of the configuration
func (mc *MatchingConfig) String() string {
	return fmt.Sprintf("MatchingConfig{AmountTolerance: %.2f%%, BrandWindow: %d days, AmountWindow: %d days, Padding: %d days, AutoAccept: %d, Timezone: %s}",
		mc.AmountTolerancePercent, mc.BrandDateWindowDays, mc.AmountDateWindowDays, mc.CandidatePaddingDays, mc.AutoAcceptThreshold, mc.TimezoneHandling.String())
}

func calendarDay(t time.Time) time.Time {
	year, month, day := t.Date()
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}
