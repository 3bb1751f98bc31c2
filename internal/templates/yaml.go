package templates

import (
	"context"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"settlement-reconciliation-service/internal/models"
	apperrors "settlement-reconciliation-service/pkg/errors"
	"settlement-reconciliation-service/pkg/logger"
)

// File is the YAML document used to move templates between environments
type File struct {
	Templates []Definition `yaml:"templates"`
}

// Definition is one template in a File
type Definition struct {
	Name             string               `yaml:"name"`
	Acquirer         string               `yaml:"acquirer,omitempty"`
	Delimiter        string               `yaml:"delimiter"`
	DateFormat       string               `yaml:"dateFormat"`
	DecimalSeparator string               `yaml:"decimalSeparator"`
	SkipRows         int                  `yaml:"skipRows,omitempty"`
	Columns          models.ColumnMapping `yaml:"columns"`
}

// ImportResult lists the templates written by Import
type ImportResult struct {
	Created []string `json:"created"`
	Updated []string `json:"updated"`
}

// Export writes the tenant's templates as YAML
func (r *Registry) Export(ctx context.Context, tenantID string, w io.Writer) error {
	list, err := r.List(ctx, tenantID)
	if err != nil {
		return err
	}

	doc := File{Templates: make([]Definition, 0, len(list))}
	for _, tpl := range list {
		doc.Templates = append(doc.Templates, toDefinition(tpl))
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return apperrors.FileError(apperrors.CodeFilePermission, "templates export", err)
	}
	return enc.Close()
}

// Import reads a YAML document and creates or updates each template by name.
// Every definition is validated before anything is written.
func (r *Registry) Import(ctx context.Context, tenantID string, src io.Reader) (*ImportResult, error) {
	var doc File
	dec := yaml.NewDecoder(src)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, apperrors.ParseError(apperrors.CodeInvalidFormat, "templates file is not valid YAML", err)
	}
	if len(doc.Templates) == 0 {
		return nil, apperrors.ValidationError(apperrors.CodeMissingField, "templates", nil,
			fmt.Errorf("the file defines no templates"))
	}

	candidates := make([]*models.Template, 0, len(doc.Templates))
	seen := make(map[string]bool, len(doc.Templates))
	for _, def := range doc.Templates {
		tpl := def.toTemplate(tenantID)
		normalize(tpl)
		if err := validate(tpl); err != nil {
			return nil, err
		}
		if seen[tpl.Name] {
			return nil, apperrors.ValidationError(apperrors.CodeInvalidTemplate, "name", tpl.Name,
				fmt.Errorf("template %q is defined twice", tpl.Name))
		}
		seen[tpl.Name] = true
		candidates = append(candidates, tpl)
	}

	result := &ImportResult{}
	for _, tpl := range candidates {
		existing, err := r.store.GetTemplateByName(ctx, tenantID, tpl.Name)
		switch {
		case err == nil:
			tpl.ID = existing.ID
			if err := r.store.UpdateTemplate(ctx, tpl); err != nil {
				return result, err
			}
			result.Updated = append(result.Updated, tpl.Name)
		case apperrors.IsNotFound(err):
			if err := r.store.CreateTemplate(ctx, tpl); err != nil {
				return result, err
			}
			result.Created = append(result.Created, tpl.Name)
		default:
			return result, err
		}
	}

	r.logger.WithFields(logger.Fields{
		"tenant":  tenantID,
		"created": len(result.Created),
		"updated": len(result.Updated),
	}).Info("Templates imported")
	return result, nil
}

func toDefinition(tpl *models.Template) Definition {
	return Definition{
		Name:             tpl.Name,
		Acquirer:         tpl.AcquirerName,
		Delimiter:        tpl.Delimiter,
		DateFormat:       tpl.DateFormat,
		DecimalSeparator: tpl.DecimalSeparator,
		SkipRows:         tpl.SkipRows,
		Columns:          tpl.Mapping(),
	}
}

func (d Definition) toTemplate(tenantID string) *models.Template {
	tpl := &models.Template{
		TenantID:         tenantID,
		Name:             d.Name,
		AcquirerName:     d.Acquirer,
		Delimiter:        d.Delimiter,
		DateFormat:       d.DateFormat,
		DecimalSeparator: d.DecimalSeparator,
		SkipRows:         d.SkipRows,
	}
	tpl.SetMapping(d.Columns)
	return tpl
}
