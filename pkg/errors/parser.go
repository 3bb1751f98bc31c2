package errors

import (
	"fmt"
	"strings"
)

// RowError describes a statement line that was skipped during parsing.
// Row errors are collected and returned to the caller; they never abort an import.
type RowError struct {
	Line   int    `json:"line"`
	Field  string `json:"field"`
	Column int    `json:"column"`
	Value  string `json:"value,omitempty"`
	Reason string `json:"reason"`
}

// Error implements the error interface
func (e *RowError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Line %d: %s", e.Line, e.Reason)
	if e.Field != "" {
		fmt.Fprintf(&b, " in %s (column %d)", e.Field, e.Column)
	}
	if e.Value != "" {
		fmt.Fprintf(&b, ": %q", e.Value)
	}
	return b.String()
}

// InvalidDateError creates a row error for an unparsable date
func InvalidDateError(line, column int, value string) *RowError {
	return &RowError{Line: line, Field: "date", Column: column, Value: value, Reason: "invalid date"}
}

// InvalidAmountError creates a row error for an unparsable or zero amount
func InvalidAmountError(line, column int, value string) *RowError {
	return &RowError{Line: line, Field: "grossAmount", Column: column, Value: value, Reason: "invalid amount"}
}

// MissingColumnError creates a row error for a line shorter than the template expects
func MissingColumnError(line int, field string, column int) *RowError {
	return &RowError{Line: line, Field: field, Column: column, Reason: "missing column"}
}

// MalformedLineError creates a row error for a line the tokenizer rejected
func MalformedLineError(line int, cause error) *RowError {
	return &RowError{Line: line, Reason: fmt.Sprintf("malformed line (%v)", cause)}
}

// RowErrorCollector collects row errors up to a limit
type RowErrorCollector struct {
	errors    []*RowError
	maxErrors int
	dropped   int
}

// NewRowErrorCollector creates a collector. maxErrors <= 0 means unlimited.
func NewRowErrorCollector(maxErrors int) *RowErrorCollector {
	return &RowErrorCollector{maxErrors: maxErrors}
}

// Add records an error, counting it as dropped once the limit is reached
func (c *RowErrorCollector) Add(err *RowError) {
	if err == nil {
		return
	}
	if c.maxErrors > 0 && len(c.errors) >= c.maxErrors {
		c.dropped++
		return
	}
	c.errors = append(c.errors, err)
}

// HasErrors returns true if any errors have been collected
func (c *RowErrorCollector) HasErrors() bool {
	return len(c.errors) > 0 || c.dropped > 0
}

// Count returns the number of errors seen, including dropped ones
func (c *RowErrorCollector) Count() int {
	return len(c.errors) + c.dropped
}

// Errors returns the retained errors
func (c *RowErrorCollector) Errors() []*RowError {
	return c.errors
}

// Messages renders the retained errors as strings, with a trailing
// note when some were dropped.
func (c *RowErrorCollector) Messages() []string {
	messages := make([]string, 0, len(c.errors)+1)
	for _, err := range c.errors {
		messages = append(messages, err.Error())
	}
	if c.dropped > 0 {
		messages = append(messages, fmt.Sprintf("... and %d more errors", c.dropped))
	}
	return messages
}

// FormatRowErrorsForUser formats row errors for terminal output
func FormatRowErrorsForUser(messages []string, limit int) string {
	if len(messages) == 0 {
		return "No parse errors"
	}

	var lines []string
	lines = append(lines, fmt.Sprintf("Found %d parse errors:", len(messages)))
	for i, msg := range messages {
		if limit > 0 && i == limit {
			lines = append(lines, fmt.Sprintf("  ... and %d more", len(messages)-limit))
			break
		}
		lines = append(lines, "  • "+msg)
	}
	return strings.Join(lines, "\n")
}
