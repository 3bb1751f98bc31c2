package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ColumnMapping maps semantic fields to zero-based column positions.
// Date and GrossAmount are required; a nil optional field means the
// acquirer does not export that column.
type ColumnMapping struct {
	Date         int  `json:"date" yaml:"date"`
	GrossAmount  int  `json:"grossAmount" yaml:"grossAmount"`
	NSU          *int `json:"nsu,omitempty" yaml:"nsu,omitempty"`
	AuthCode     *int `json:"authCode,omitempty" yaml:"authCode,omitempty"`
	Brand        *int `json:"brand,omitempty" yaml:"brand,omitempty"`
	LastDigits   *int `json:"lastDigits,omitempty" yaml:"lastDigits,omitempty"`
	Installments *int `json:"installments,omitempty" yaml:"installments,omitempty"`
	NetAmount    *int `json:"netAmount,omitempty" yaml:"netAmount,omitempty"`
	FeeAmount    *int `json:"feeAmount,omitempty" yaml:"feeAmount,omitempty"`
}

// Col returns a pointer to a column index, for building optional mappings
func Col(index int) *int {
	return &index
}

// Columns returns every mapped column keyed by field name
func (m ColumnMapping) Columns() map[string]int {
	columns := map[string]int{
		"date":        m.Date,
		"grossAmount": m.GrossAmount,
	}
	optional := map[string]*int{
		"nsu":          m.NSU,
		"authCode":     m.AuthCode,
		"brand":        m.Brand,
		"lastDigits":   m.LastDigits,
		"installments": m.Installments,
		"netAmount":    m.NetAmount,
		"feeAmount":    m.FeeAmount,
	}
	for name, idx := range optional {
		if idx != nil {
			columns[name] = *idx
		}
	}
	return columns
}

// Validate checks that every mapped column index is usable
func (m ColumnMapping) Validate() error {
	for name, idx := range m.Columns() {
		if idx < 0 {
			return fmt.Errorf("column %s has negative index %d", name, idx)
		}
	}
	if m.Date == m.GrossAmount {
		return fmt.Errorf("date and grossAmount cannot share column %d", m.Date)
	}
	return nil
}

// Template describes how to read one acquirer's settlement export
type Template struct {
	ID               uuid.UUID                         `gorm:"type:uuid;primaryKey" json:"id"`
	TenantID         string                            `gorm:"not null;uniqueIndex:idx_template_tenant_name" json:"tenantId"`
	Name             string                            `gorm:"not null;uniqueIndex:idx_template_tenant_name" json:"name"`
	AcquirerName     string                            `json:"acquirerName"`
	ColumnMapping    datatypes.JSONType[ColumnMapping] `json:"columnMapping"`
	Delimiter        string                            `gorm:"size:4" json:"delimiter"`
	DateFormat       string                            `json:"dateFormat"`
	DecimalSeparator string                            `gorm:"size:1" json:"decimalSeparator"`
	SkipRows         int                               `json:"skipRows"`
	CreatedAt        time.Time                         `json:"createdAt"`
	UpdatedAt        time.Time                         `json:"updatedAt"`
}

// TableName overrides the default table name
func (Template) TableName() string {
	return "reconciliation_templates"
}

// BeforeCreate assigns an ID when none was set
func (t *Template) BeforeCreate(tx *gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}

// Mapping returns the decoded column mapping
func (t *Template) Mapping() ColumnMapping {
	return t.ColumnMapping.Data()
}

// SetMapping replaces the column mapping
func (t *Template) SetMapping(m ColumnMapping) {
	t.ColumnMapping = datatypes.NewJSONType(m)
}

// DelimiterRune returns the delimiter as a rune. "\t" and "tab" both mean a tab.
func (t *Template) DelimiterRune() (rune, error) {
	d := t.Delimiter
	if d == `\t` || strings.EqualFold(d, "tab") {
		return '\t', nil
	}
	runes := []rune(d)
	if len(runes) != 1 {
		return 0, fmt.Errorf("delimiter must be a single character, got %q", d)
	}
	switch runes[0] {
	case '\r', '\n', '"':
		return 0, fmt.Errorf("delimiter %q is not allowed", d)
	}
	return runes[0], nil
}

// Validate performs structural validation on the template
func (t *Template) Validate() error {
	if strings.TrimSpace(t.TenantID) == "" {
		return fmt.Errorf("template tenant cannot be empty")
	}
	if strings.TrimSpace(t.Name) == "" {
		return fmt.Errorf("template name cannot be empty")
	}
	return t.ValidateLayout()
}

// ValidateLayout checks the parts of the template the statement parser relies on
func (t *Template) ValidateLayout() error {
	if _, err := t.DelimiterRune(); err != nil {
		return err
	}
	if t.DecimalSeparator != "," && t.DecimalSeparator != "." {
		return fmt.Errorf("decimal separator must be ',' or '.', got %q", t.DecimalSeparator)
	}
	if t.SkipRows < 0 {
		return fmt.Errorf("skip rows cannot be negative")
	}
	if err := t.Mapping().Validate(); err != nil {
		return err
	}
	return nil
}
