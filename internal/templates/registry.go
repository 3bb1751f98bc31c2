// Package templates manages per-acquirer statement layouts.
package templates

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/texttheater/golang-levenshtein/levenshtein"

	"settlement-reconciliation-service/internal/models"
	apperrors "settlement-reconciliation-service/pkg/errors"
	"settlement-reconciliation-service/pkg/logger"
)

// TemplateStore is the persistence the registry needs
type TemplateStore interface {
	CreateTemplate(ctx context.Context, tpl *models.Template) error
	CreateTemplateIfAbsent(ctx context.Context, tpl *models.Template) (bool, error)
	UpdateTemplate(ctx context.Context, tpl *models.Template) error
	GetTemplate(ctx context.Context, tenantID string, id uuid.UUID) (*models.Template, error)
	GetTemplateByName(ctx context.Context, tenantID, name string) (*models.Template, error)
	ListTemplates(ctx context.Context, tenantID string) ([]*models.Template, error)
}

// Registry validates and stores templates
type Registry struct {
	store  TemplateStore
	logger logger.Logger
}

// NewRegistry creates a registry over store
func NewRegistry(store TemplateStore) *Registry {
	return &Registry{
		store:  store,
		logger: logger.GetGlobalLogger().WithComponent("templates"),
	}
}

// WithLogger replaces the registry's logger
func (r *Registry) WithLogger(log logger.Logger) *Registry {
	r.logger = log.WithComponent("templates")
	return r
}

// Create validates and stores a new template
func (r *Registry) Create(ctx context.Context, tpl *models.Template) error {
	normalize(tpl)
	if err := validate(tpl); err != nil {
		return err
	}
	if err := r.store.CreateTemplate(ctx, tpl); err != nil {
		return err
	}

	r.logger.WithFields(logger.Fields{
		"tenant":   tpl.TenantID,
		"template": tpl.Name,
		"id":       tpl.ID.String(),
	}).Info("Template created")
	return nil
}

// Update replaces the layout of an existing template
func (r *Registry) Update(ctx context.Context, tpl *models.Template) error {
	if _, err := r.store.GetTemplate(ctx, tpl.TenantID, tpl.ID); err != nil {
		return err
	}
	normalize(tpl)
	if err := validate(tpl); err != nil {
		return err
	}
	if err := r.store.UpdateTemplate(ctx, tpl); err != nil {
		return err
	}

	r.logger.WithFields(logger.Fields{
		"tenant":   tpl.TenantID,
		"template": tpl.Name,
	}).Info("Template updated")
	return nil
}

// Get returns a tenant-owned template
func (r *Registry) Get(ctx context.Context, tenantID string, id uuid.UUID) (*models.Template, error) {
	return r.store.GetTemplate(ctx, tenantID, id)
}

// GetByName returns a tenant-owned template by name
func (r *Registry) GetByName(ctx context.Context, tenantID, name string) (*models.Template, error) {
	return r.store.GetTemplateByName(ctx, tenantID, name)
}

// Resolve accepts either a template ID or a template name. An unknown name
// gets the closest existing name as suggestion.
func (r *Registry) Resolve(ctx context.Context, tenantID, ref string) (*models.Template, error) {
	if id, err := uuid.Parse(ref); err == nil {
		return r.Get(ctx, tenantID, id)
	}
	tpl, err := r.GetByName(ctx, tenantID, ref)
	if err == nil || !apperrors.IsNotFound(err) {
		return tpl, err
	}

	rerr, _ := apperrors.AsReconcilerError(err)
	if list, listErr := r.List(ctx, tenantID); listErr == nil {
		if name, ok := closestName(ref, list); ok {
			rerr.WithSuggestion(fmt.Sprintf("did you mean %q?", name))
		}
	}
	return nil, rerr
}

// List returns the tenant's templates ordered by name
func (r *Registry) List(ctx context.Context, tenantID string) ([]*models.Template, error) {
	return r.store.ListTemplates(ctx, tenantID)
}

// SeedDefaultTemplates installs the built-in acquirer templates for a tenant.
// Templates whose name already exists are left untouched. It returns the
// names that were created.
func (r *Registry) SeedDefaultTemplates(ctx context.Context, tenantID string) ([]string, error) {
	if strings.TrimSpace(tenantID) == "" {
		return nil, apperrors.ValidationError(apperrors.CodeMissingField, "tenant", tenantID, nil)
	}

	var created []string
	for _, tpl := range DefaultTemplates(tenantID) {
		ok, err := r.store.CreateTemplateIfAbsent(ctx, tpl)
		if err != nil {
			return created, err
		}
		if ok {
			created = append(created, tpl.Name)
		}
	}

	r.logger.WithFields(logger.Fields{
		"tenant":  tenantID,
		"created": len(created),
	}).Info("Default templates seeded")
	return created, nil
}

// closestName returns the template name nearest to ref, ignoring case, when
// it is within a third of ref's length
func closestName(ref string, list []*models.Template) (string, bool) {
	target := []rune(strings.ToLower(strings.TrimSpace(ref)))
	limit := len(target)/3 + 1

	best, bestDist := "", limit+1
	for _, tpl := range list {
		dist := levenshtein.DistanceForStrings(target, []rune(strings.ToLower(tpl.Name)), levenshtein.DefaultOptions)
		if dist < bestDist {
			best, bestDist = tpl.Name, dist
		}
	}
	return best, best != ""
}

func normalize(tpl *models.Template) {
	tpl.Name = strings.TrimSpace(tpl.Name)
	tpl.AcquirerName = strings.TrimSpace(tpl.AcquirerName)
	tpl.DateFormat = strings.TrimSpace(tpl.DateFormat)
	if tpl.DecimalSeparator == "" {
		tpl.DecimalSeparator = ","
	}
}

func validate(tpl *models.Template) error {
	if err := tpl.Validate(); err != nil {
		return apperrors.ValidationError(apperrors.CodeInvalidTemplate, "template", tpl.Name, err)
	}
	return nil
}
