package parsers

import (
	"fmt"
)

// ParseConfig holds options that apply to every template
type ParseConfig struct {
	// MaxErrors caps the row errors kept in a result; 0 keeps all of them
	MaxErrors int `json:"max_errors" mapstructure:"max_errors"`
	// SkipBlankRows drops rows whose fields are all empty, such as trailers
	SkipBlankRows bool `json:"skip_blank_rows" mapstructure:"skip_blank_rows"`
}

// DefaultParseConfig returns a configuration with sensible defaults
func DefaultParseConfig() *ParseConfig {
	return &ParseConfig{
		MaxErrors:     500,
		SkipBlankRows: true,
	}
}

// Validate checks if the parse configuration is valid
func (c *ParseConfig) Validate() error {
	if c.MaxErrors < 0 {
		return fmt.Errorf("max errors cannot be negative, got %d", c.MaxErrors)
	}
	return nil
}
