package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"settlement-reconciliation-service/internal/models"
	"settlement-reconciliation-service/internal/reconciler"
	"settlement-reconciliation-service/internal/reporter"
	"settlement-reconciliation-service/internal/templates"
	apperrors "settlement-reconciliation-service/pkg/errors"
	"settlement-reconciliation-service/pkg/logger"
)

// Handler serves the reconciliation routes
type Handler struct {
	service  *reconciler.ReconciliationService
	registry *templates.Registry
	logger   logger.Logger
}

// NewHandler creates a handler over the service and the template registry
func NewHandler(service *reconciler.ReconciliationService, registry *templates.Registry) *Handler {
	return &Handler{
		service:  service,
		registry: registry,
		logger:   logger.GetGlobalLogger().WithComponent("api"),
	}
}

// WithLogger replaces the handler logger
func (h *Handler) WithLogger(log logger.Logger) *Handler {
	h.logger = log.WithComponent("api")
	return h
}

type templateRequest struct {
	Name             string               `json:"name" binding:"required"`
	AcquirerName     string               `json:"acquirerName"`
	Delimiter        string               `json:"delimiter" binding:"required"`
	DateFormat       string               `json:"dateFormat" binding:"required"`
	DecimalSeparator string               `json:"decimalSeparator"`
	SkipRows         int                  `json:"skipRows" binding:"min=0"`
	ColumnMapping    models.ColumnMapping `json:"columnMapping"`
}

func (r templateRequest) toTemplate(tenantID string) *models.Template {
	tpl := &models.Template{
		TenantID:         tenantID,
		Name:             r.Name,
		AcquirerName:     r.AcquirerName,
		Delimiter:        r.Delimiter,
		DateFormat:       r.DateFormat,
		DecimalSeparator: r.DecimalSeparator,
		SkipRows:         r.SkipRows,
	}
	tpl.SetMapping(r.ColumnMapping)
	return tpl
}

// ListTemplates returns the tenant's templates
func (h *Handler) ListTemplates(c *gin.Context) {
	list, err := h.registry.List(c.Request.Context(), tenant(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"templates": list})
}

// CreateTemplate stores a new template
func (h *Handler) CreateTemplate(c *gin.Context) {
	var req templateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondError(c, apperrors.ValidationError(apperrors.CodeInvalidTemplate, "body", nil, err))
		return
	}
	tpl := req.toTemplate(tenant(c))
	if err := h.registry.Create(c.Request.Context(), tpl); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, tpl)
}

// GetTemplate returns one template
func (h *Handler) GetTemplate(c *gin.Context) {
	id, ok := pathID(c, "templateId")
	if !ok {
		return
	}
	tpl, err := h.registry.Get(c.Request.Context(), tenant(c), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, tpl)
}

// UpdateTemplate replaces a template's layout
func (h *Handler) UpdateTemplate(c *gin.Context) {
	id, ok := pathID(c, "templateId")
	if !ok {
		return
	}
	var req templateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondError(c, apperrors.ValidationError(apperrors.CodeInvalidTemplate, "body", nil, err))
		return
	}
	tpl := req.toTemplate(tenant(c))
	tpl.ID = id
	if err := h.registry.Update(c.Request.Context(), tpl); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, tpl)
}

// SeedTemplates installs the built-in acquirer templates
func (h *Handler) SeedTemplates(c *gin.Context) {
	created, err := h.registry.SeedDefaultTemplates(c.Request.Context(), tenant(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"created": created})
}

// CreateBatch opens a DRAFT batch
func (h *Handler) CreateBatch(c *gin.Context) {
	var req struct {
		FileName   string     `json:"fileName"`
		TemplateID *uuid.UUID `json:"templateId"`
	}
	if err := c.ShouldBindJSON(&req); err != nil && err != io.EOF {
		h.respondError(c, apperrors.ValidationError(apperrors.CodeInvalidValue, "body", nil, err))
		return
	}
	batch, err := h.service.CreateBatch(c.Request.Context(), tenant(c), req.FileName, req.TemplateID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, batch)
}

// ListBatches returns the tenant's batches, filtered by ?status=
func (h *Handler) ListBatches(c *gin.Context) {
	var statuses []models.BatchStatus
	for _, s := range c.QueryArray("status") {
		statuses = append(statuses, models.BatchStatus(s))
	}
	list, err := h.service.ListBatches(c.Request.Context(), tenant(c), statuses...)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"batches": list})
}

// GetBatch returns a batch with its per-status summary
func (h *Handler) GetBatch(c *gin.Context) {
	id, ok := pathID(c, "batchId")
	if !ok {
		return
	}
	summary, err := h.service.Summary(c.Request.Context(), tenant(c), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

// ListItems returns the batch items, filtered by ?status=
func (h *Handler) ListItems(c *gin.Context) {
	id, ok := pathID(c, "batchId")
	if !ok {
		return
	}
	statuses, err := itemStatuses(c.QueryArray("status"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	items, err := h.service.ListItems(c.Request.Context(), tenant(c), id, statuses...)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

// Report renders the batch as console text, JSON or CSV according to ?format=
func (h *Handler) Report(c *gin.Context) {
	id, ok := pathID(c, "batchId")
	if !ok {
		return
	}
	format, err := reporter.ParseOutputFormat(c.DefaultQuery("format", string(reporter.FormatCSV)))
	if err != nil {
		h.respondError(c, apperrors.ValidationError(apperrors.CodeInvalidValue, "format", c.Query("format"), err))
		return
	}

	ctx := c.Request.Context()
	summary, err := h.service.Summary(ctx, tenant(c), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	items, err := h.service.ListItems(ctx, tenant(c), id)
	if err != nil {
		h.respondError(c, err)
		return
	}

	config := reporter.DefaultReportConfig()
	config.Format = format
	config.MaxConsoleItems = 0
	config.OnlyUnresolved = c.Query("unresolved") == "true"
	generator, err := reporter.NewReportGenerator(config)
	if err != nil {
		h.respondError(c, err)
		return
	}

	switch format {
	case reporter.FormatCSV:
		c.Header("Content-Type", "text/csv; charset=utf-8")
		c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=batch-%s.csv", id))
	case reporter.FormatJSON:
		c.Header("Content-Type", "application/json; charset=utf-8")
	default:
		c.Header("Content-Type", "text/plain; charset=utf-8")
	}
	c.Status(http.StatusOK)
	if err := generator.GenerateReport(&reporter.BatchReport{Summary: summary, Items: items}, c.Writer); err != nil {
		h.logger.WithError(err).Error("Report rendering failed")
	}
}

// ImportBatch reads a multipart "file" and imports it into the batch
func (h *Handler) ImportBatch(c *gin.Context) {
	id, ok := pathID(c, "batchId")
	if !ok {
		return
	}
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.respondError(c, uploadTooLarge(tooLarge.Limit, err))
			return
		}
		h.respondError(c, apperrors.ValidationError(apperrors.CodeMissingField, "file", nil, err))
		return
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		h.respondError(c, apperrors.FileError(apperrors.CodeFilePermission, header.Filename, err))
		return
	}

	req := reconciler.ImportRequest{
		TenantID: tenant(c),
		BatchID:  id,
		FileName: header.Filename,
		Content:  content,
	}
	if ref := c.PostForm("templateId"); ref != "" {
		tpl, err := h.registry.Resolve(c.Request.Context(), req.TenantID, ref)
		if err != nil {
			h.respondError(c, err)
			return
		}
		req.TemplateID = &tpl.ID
	}

	result, err := h.service.ImportBatch(c.Request.Context(), req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// AutoMatch runs the matching cascade on an IMPORTED batch
func (h *Handler) AutoMatch(c *gin.Context) {
	id, ok := pathID(c, "batchId")
	if !ok {
		return
	}
	result, err := h.service.AutoMatch(c.Request.Context(), tenant(c), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// ConfirmSuggested accepts every suggested match of the batch
func (h *Handler) ConfirmSuggested(c *gin.Context) {
	id, ok := pathID(c, "batchId")
	if !ok {
		return
	}
	result, err := h.service.ConfirmSuggested(c.Request.Context(), tenant(c), id, user(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// CloseBatch finalizes the batch. A refused close answers 409 with the result body.
func (h *Handler) CloseBatch(c *gin.Context) {
	id, ok := pathID(c, "batchId")
	if !ok {
		return
	}
	result, err := h.service.CloseBatch(c.Request.Context(), tenant(c), id, user(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	if !result.Success {
		c.JSON(http.StatusConflict, result)
		return
	}
	c.JSON(http.StatusOK, result)
}

// GetItem returns one item
func (h *Handler) GetItem(c *gin.Context) {
	id, ok := pathID(c, "itemId")
	if !ok {
		return
	}
	item, err := h.service.GetItem(c.Request.Context(), tenant(c), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

// ItemHistory returns the audit trail of an item
func (h *Handler) ItemHistory(c *gin.Context) {
	id, ok := pathID(c, "itemId")
	if !ok {
		return
	}
	entries, err := h.service.ItemHistory(c.Request.Context(), tenant(c), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"history": entries})
}

// ResolveItem marks an item RESOLVED
func (h *Handler) ResolveItem(c *gin.Context) {
	id, ok := pathID(c, "itemId")
	if !ok {
		return
	}
	var req struct {
		ResolutionType        string     `json:"resolutionType"`
		Notes                 string     `json:"notes"`
		MatchedPaymentID      *uuid.UUID `json:"matchedPaymentId"`
		AllowDuplicatePayment bool       `json:"allowDuplicatePayment"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondError(c, apperrors.ValidationError(apperrors.CodeInvalidValue, "body", nil, err))
		return
	}

	resolution := reconciler.Resolution{
		Notes:                 req.Notes,
		MatchedPaymentID:      req.MatchedPaymentID,
		AllowDuplicatePayment: req.AllowDuplicatePayment,
	}
	if req.ResolutionType != "" {
		rt, err := models.ParseResolutionType(req.ResolutionType)
		if err != nil {
			h.respondError(c, apperrors.ValidationError(apperrors.CodeInvalidValue, "resolutionType", req.ResolutionType, err))
			return
		}
		resolution.ResolutionType = rt
	}

	item, err := h.service.ResolveItem(c.Request.Context(), tenant(c), id, resolution, user(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

// IgnoreItem marks an item IGNORED
func (h *Handler) IgnoreItem(c *gin.Context) {
	id, ok := pathID(c, "itemId")
	if !ok {
		return
	}
	var req struct {
		Reason string `json:"reason"`
	}
	if err := c.ShouldBindJSON(&req); err != nil && err != io.EOF {
		h.respondError(c, apperrors.ValidationError(apperrors.CodeInvalidValue, "body", nil, err))
		return
	}
	item, err := h.service.IgnoreItem(c.Request.Context(), tenant(c), id, req.Reason, user(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

// FlagItem marks an item DIVERGENT or DISPUTED
func (h *Handler) FlagItem(c *gin.Context) {
	id, ok := pathID(c, "itemId")
	if !ok {
		return
	}
	var req struct {
		Status string `json:"status" binding:"required,oneof=DIVERGENT DISPUTED"`
		Reason string `json:"reason"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondError(c, apperrors.ValidationError(apperrors.CodeInvalidValue, "status", req.Status, err).
			WithSuggestion("use DIVERGENT or DISPUTED"))
		return
	}
	item, err := h.service.FlagItem(c.Request.Context(), tenant(c), id, models.ItemStatus(req.Status), req.Reason, user(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

func tenant(c *gin.Context) string {
	return c.GetString(tenantKey)
}

func user(c *gin.Context) string {
	return c.GetString(userKey)
}

func pathID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid %s", name)})
		return uuid.Nil, false
	}
	return id, true
}

func itemStatuses(values []string) ([]models.ItemStatus, error) {
	statuses := make([]models.ItemStatus, 0, len(values))
	for _, v := range values {
		status, err := models.ParseItemStatus(v)
		if err != nil {
			return nil, apperrors.ValidationError(apperrors.CodeInvalidValue, "status", v, err)
		}
		statuses = append(statuses, status)
	}
	return statuses, nil
}
