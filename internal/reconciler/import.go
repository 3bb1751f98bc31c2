package reconciler

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"settlement-reconciliation-service/internal/models"
	"settlement-reconciliation-service/internal/store"
	apperrors "settlement-reconciliation-service/pkg/errors"
	"settlement-reconciliation-service/pkg/logger"
)

// ImportRequest carries one uploaded statement
type ImportRequest struct {
	TenantID string
	BatchID  uuid.UUID
	// TemplateID falls back to the template chosen when the batch was created
	TemplateID *uuid.UUID
	FileName   string
	Content    []byte
}

// ImportResult reports what an import stored
type ImportResult struct {
	Imported    int             `json:"imported"`
	TotalAmount decimal.Decimal `json:"totalAmount"`
	Errors      []string        `json:"errors"`
	ErrorCount  int             `json:"errorCount"`
	Encoding    string          `json:"encoding"`
	PeriodStart time.Time       `json:"periodStart"`
	PeriodEnd   time.Time       `json:"periodEnd"`
}

// ImportBatch parses a statement into the batch's items. Reimporting an
// IMPORTED batch replaces every item and every counter.
func (s *ReconciliationService) ImportBatch(ctx context.Context, req ImportRequest) (*ImportResult, error) {
	opLogger := logger.NewOperationLogger("import_batch", s.logger).WithFields(logger.Fields{
		"tenant":   req.TenantID,
		"batch_id": req.BatchID.String(),
		"file":     req.FileName,
	})

	batch, err := s.store.GetBatch(ctx, req.TenantID, req.BatchID)
	if err != nil {
		return nil, err
	}
	if !batch.Status.AcceptsImport() {
		return nil, apperrors.BusinessRuleError(apperrors.CodeInvalidState,
			"statements can only be imported into DRAFT or IMPORTED batches").
			WithContext("status", string(batch.Status))
	}

	templateID := req.TemplateID
	if templateID == nil {
		templateID = batch.TemplateID
	}
	if templateID == nil {
		return nil, apperrors.ValidationError(apperrors.CodeMissingField, "template", nil, nil).
			WithSuggestion("choose a template for the batch or the import")
	}
	tpl, err := s.store.GetTemplate(ctx, req.TenantID, *templateID)
	if err != nil {
		return nil, err
	}

	opLogger.Step("parsing statement")
	parsed, err := s.parser.ParseBytes(req.Content, tpl)
	if err != nil {
		opLogger.Error(err, "Statement could not be parsed")
		return nil, err
	}
	if len(parsed.Items) == 0 {
		fileName := req.FileName
		if strings.TrimSpace(fileName) == "" {
			fileName = "statement"
		}
		return nil, apperrors.ValidationError(apperrors.CodeNoValidRows, fileName, nil, nil).
			WithContext("errors", parsed.Errors).
			WithContext("error_count", parsed.ErrorCount)
	}

	items := make([]*models.Item, 0, len(parsed.Items))
	for _, p := range parsed.Items {
		items = append(items, p.ToItem(req.TenantID, batch.ID))
	}
	start, end, _ := parsed.Period()
	total := parsed.TotalAmount.Round(2)
	fileName := req.FileName
	if fileName == "" {
		fileName = batch.FileName
	}

	opLogger.Step("storing items")
	err = s.store.InTx(ctx, func(tx store.Store) error {
		if err := tx.ReplaceItems(ctx, batch.ID, items); err != nil {
			return err
		}
		importedAt := s.now()
		return tx.TransitionBatch(ctx, req.TenantID, batch.ID,
			[]models.BatchStatus{models.BatchStatusDraft, models.BatchStatusImported},
			map[string]interface{}{
				"status":          models.BatchStatusImported,
				"template_id":     tpl.ID,
				"file_name":       fileName,
				"period_start":    start,
				"period_end":      end,
				"total_items":     len(items),
				"total_amount":    total,
				"matched_count":   0,
				"unmatched_count": len(items),
				"divergent_count": 0,
				"ignored_count":   0,
				"imported_at":     importedAt,
			})
	})
	if err != nil {
		opLogger.Error(err, "Import failed")
		return nil, err
	}

	opLogger.WithFields(logger.Fields{
		"items":  len(items),
		"errors": parsed.ErrorCount,
		"total":  total.StringFixed(2),
	}).Success("Statement imported")

	return &ImportResult{
		Imported:    len(items),
		TotalAmount: total,
		Errors:      parsed.Errors,
		ErrorCount:  parsed.ErrorCount,
		Encoding:    parsed.Encoding,
		PeriodStart: start,
		PeriodEnd:   end,
	}, nil
}
