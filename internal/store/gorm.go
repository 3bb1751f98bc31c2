package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"settlement-reconciliation-service/internal/models"
	"settlement-reconciliation-service/internal/payments"
	apperrors "settlement-reconciliation-service/pkg/errors"
	"settlement-reconciliation-service/pkg/logger"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"

	insertBatchSize = 200
)

// Options configures Open
type Options struct {
	Driver string
	DSN    string
	// MaxOpenConns caps the pool; in-memory SQLite always uses one connection
	MaxOpenConns int
	// MigratePayments also creates the payments table, for local databases and tests
	MigratePayments bool
	// LogSQL logs every statement at debug level
	LogSQL bool
	Logger logger.Logger
}

// GormStore implements Store on gorm
type GormStore struct {
	db     *gorm.DB
	logger logger.Logger
}

// Open connects to the database and migrates the reconciliation tables
func Open(opts Options) (*GormStore, error) {
	if opts.Logger == nil {
		opts.Logger = logger.GetGlobalLogger()
	}
	log := opts.Logger.WithComponent("store")

	var dialector gorm.Dialector
	switch strings.ToLower(opts.Driver) {
	case DriverPostgres, "postgresql":
		dialector = postgres.Open(opts.DSN)
	case DriverSQLite, "sqlite3":
		dialector = sqlite.Open(opts.DSN)
	default:
		return nil, apperrors.ConfigurationError(apperrors.CodeInvalidConfig, "database.driver", opts.Driver,
			fmt.Errorf("unsupported driver %q", opts.Driver))
	}

	level := gormlogger.Silent
	if opts.LogSQL {
		level = gormlogger.Info
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		TranslateError: true,
		Logger: gormlogger.New(sqlWriter{log: log}, gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  level,
			IgnoreRecordNotFoundError: true,
		}),
	})
	if err != nil {
		return nil, apperrors.StorageError(apperrors.CodeQueryFailed, "connect", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, apperrors.StorageError(apperrors.CodeQueryFailed, "connect", err)
	}
	if isMemorySQLite(opts) {
		sqlDB.SetMaxOpenConns(1)
	} else if opts.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(opts.MaxOpenConns)
	}

	toMigrate := models.AllModels()
	if opts.MigratePayments {
		toMigrate = append(toMigrate, &models.Payment{})
	}
	if err := db.AutoMigrate(toMigrate...); err != nil {
		return nil, apperrors.StorageError(apperrors.CodeWriteFailed, "migrate", err)
	}

	log.WithFields(logger.Fields{"driver": opts.Driver}).Debug("Database ready")
	return &GormStore{db: db, logger: log}, nil
}

// NewGormStore wraps an already configured connection
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db, logger: logger.GetGlobalLogger().WithComponent("store")}
}

// DB exposes the underlying connection
func (s *GormStore) DB() *gorm.DB {
	return s.db
}

// Close releases the connection pool
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// InTx implements Store
func (s *GormStore) InTx(ctx context.Context, fn func(tx Store) error) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&GormStore{db: tx, logger: s.logger})
	})
	return apperrors.WrapIfNeeded(err, apperrors.CategoryStorage, apperrors.CodeWriteFailed, "transaction failed")
}

// CreateTemplate implements Store
func (s *GormStore) CreateTemplate(ctx context.Context, tpl *models.Template) error {
	if _, err := s.GetTemplateByName(ctx, tpl.TenantID, tpl.Name); err == nil {
		return duplicateTemplate(tpl.Name)
	} else if !apperrors.IsNotFound(err) {
		return err
	}

	if err := s.db.WithContext(ctx).Create(tpl).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return duplicateTemplate(tpl.Name)
		}
		return apperrors.StorageError(apperrors.CodeWriteFailed, "create template", err)
	}
	return nil
}

// CreateTemplateIfAbsent implements Store
func (s *GormStore) CreateTemplateIfAbsent(ctx context.Context, tpl *models.Template) (bool, error) {
	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "tenant_id"}, {Name: "name"}}, DoNothing: true}).
		Create(tpl)
	if res.Error != nil {
		return false, apperrors.StorageError(apperrors.CodeWriteFailed, "create template", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// UpdateTemplate implements Store
func (s *GormStore) UpdateTemplate(ctx context.Context, tpl *models.Template) error {
	existing, err := s.GetTemplateByName(ctx, tpl.TenantID, tpl.Name)
	if err == nil && existing.ID != tpl.ID {
		return duplicateTemplate(tpl.Name)
	}
	if err != nil && !apperrors.IsNotFound(err) {
		return err
	}

	res := s.db.WithContext(ctx).Model(&models.Template{}).
		Where("id = ? AND tenant_id = ?", tpl.ID, tpl.TenantID).
		Updates(map[string]interface{}{
			"name":              tpl.Name,
			"acquirer_name":     tpl.AcquirerName,
			"column_mapping":    tpl.ColumnMapping,
			"delimiter":         tpl.Delimiter,
			"date_format":       tpl.DateFormat,
			"decimal_separator": tpl.DecimalSeparator,
			"skip_rows":         tpl.SkipRows,
			"updated_at":        time.Now(),
		})
	if res.Error != nil {
		if errors.Is(res.Error, gorm.ErrDuplicatedKey) {
			return duplicateTemplate(tpl.Name)
		}
		return apperrors.StorageError(apperrors.CodeWriteFailed, "update template", res.Error)
	}
	if res.RowsAffected == 0 {
		return apperrors.NotFoundError(apperrors.CodeTemplateNotFound, tpl.ID, nil)
	}
	return nil
}

// GetTemplate implements Store
func (s *GormStore) GetTemplate(ctx context.Context, tenantID string, id uuid.UUID) (*models.Template, error) {
	var tpl models.Template
	err := s.db.WithContext(ctx).First(&tpl, "id = ? AND tenant_id = ?", id, tenantID).Error
	if err != nil {
		return nil, notFoundOr(err, apperrors.CodeTemplateNotFound, id, "get template")
	}
	return &tpl, nil
}

// GetTemplateByName implements Store
func (s *GormStore) GetTemplateByName(ctx context.Context, tenantID, name string) (*models.Template, error) {
	var tpl models.Template
	err := s.db.WithContext(ctx).First(&tpl, "tenant_id = ? AND name = ?", tenantID, name).Error
	if err != nil {
		return nil, notFoundOr(err, apperrors.CodeTemplateNotFound, name, "get template")
	}
	return &tpl, nil
}

// ListTemplates implements Store
func (s *GormStore) ListTemplates(ctx context.Context, tenantID string) ([]*models.Template, error) {
	var templates []*models.Template
	err := s.db.WithContext(ctx).Where("tenant_id = ?", tenantID).Order("name ASC").Find(&templates).Error
	if err != nil {
		return nil, apperrors.StorageError(apperrors.CodeQueryFailed, "list templates", err)
	}
	return templates, nil
}

// CreateBatch implements Store
func (s *GormStore) CreateBatch(ctx context.Context, batch *models.Batch) error {
	if err := s.db.WithContext(ctx).Create(batch).Error; err != nil {
		return apperrors.StorageError(apperrors.CodeWriteFailed, "create batch", err)
	}
	return nil
}

// GetBatch implements Store
func (s *GormStore) GetBatch(ctx context.Context, tenantID string, id uuid.UUID) (*models.Batch, error) {
	var batch models.Batch
	err := s.db.WithContext(ctx).First(&batch, "id = ? AND tenant_id = ?", id, tenantID).Error
	if err != nil {
		return nil, notFoundOr(err, apperrors.CodeBatchNotFound, id, "get batch")
	}
	return &batch, nil
}

// ListBatches implements Store
func (s *GormStore) ListBatches(ctx context.Context, tenantID string, statuses ...models.BatchStatus) ([]*models.Batch, error) {
	var batches []*models.Batch
	query := s.db.WithContext(ctx).Where("tenant_id = ?", tenantID)
	if len(statuses) > 0 {
		query = query.Where("status IN ?", statuses)
	}
	if err := query.Order("created_at DESC").Find(&batches).Error; err != nil {
		return nil, apperrors.StorageError(apperrors.CodeQueryFailed, "list batches", err)
	}
	return batches, nil
}

// TransitionBatch implements Store
func (s *GormStore) TransitionBatch(ctx context.Context, tenantID string, id uuid.UUID, from []models.BatchStatus, updates map[string]interface{}) error {
	values := make(map[string]interface{}, len(updates)+1)
	for k, v := range updates {
		values[k] = v
	}
	values["updated_at"] = time.Now()

	res := s.db.WithContext(ctx).Model(&models.Batch{}).
		Where("id = ? AND tenant_id = ? AND status IN ?", id, tenantID, from).
		Updates(values)
	if res.Error != nil {
		return apperrors.StorageError(apperrors.CodeWriteFailed, "update batch", res.Error)
	}
	if res.RowsAffected > 0 {
		return nil
	}

	current, err := s.GetBatch(ctx, tenantID, id)
	if err != nil {
		return err
	}
	return apperrors.BusinessRuleError(apperrors.CodeConcurrentUpdate,
		fmt.Sprintf("batch %s is %s, expected %s", id, current.Status, joinStatuses(from))).
		WithContext("batch_id", id.String()).
		WithContext("status", string(current.Status))
}

// ReplaceItems implements Store
func (s *GormStore) ReplaceItems(ctx context.Context, batchID uuid.UUID, items []*models.Item) error {
	db := s.db.WithContext(ctx)
	if err := db.Where("batch_id = ?", batchID).Delete(&models.Item{}).Error; err != nil {
		return apperrors.StorageError(apperrors.CodeWriteFailed, "delete items", err)
	}
	if len(items) == 0 {
		return nil
	}
	if err := db.CreateInBatches(items, insertBatchSize).Error; err != nil {
		return apperrors.StorageError(apperrors.CodeWriteFailed, "create items", err)
	}
	return nil
}

// ListItems implements Store
func (s *GormStore) ListItems(ctx context.Context, filter ItemFilter) ([]*models.Item, error) {
	var items []*models.Item
	query := s.db.WithContext(ctx).Where("batch_id = ?", filter.BatchID)
	if filter.TenantID != "" {
		query = query.Where("tenant_id = ?", filter.TenantID)
	}
	if len(filter.Statuses) > 0 {
		query = query.Where("status IN ?", filter.Statuses)
	}
	if err := query.Order("line_number ASC").Find(&items).Error; err != nil {
		return nil, apperrors.StorageError(apperrors.CodeQueryFailed, "list items", err)
	}
	return items, nil
}

// GetItem implements Store
func (s *GormStore) GetItem(ctx context.Context, tenantID string, id uuid.UUID) (*models.Item, error) {
	var item models.Item
	err := s.db.WithContext(ctx).First(&item, "id = ? AND tenant_id = ?", id, tenantID).Error
	if err != nil {
		return nil, notFoundOr(err, apperrors.CodeItemNotFound, id, "get item")
	}
	return &item, nil
}

// SaveItems implements Store
func (s *GormStore) SaveItems(ctx context.Context, items ...*models.Item) error {
	db := s.db.WithContext(ctx)
	for _, item := range items {
		if err := db.Save(item).Error; err != nil {
			return apperrors.StorageError(apperrors.CodeWriteFailed, "save item", err).
				WithContext("item_id", item.ID.String())
		}
	}
	return nil
}

// ItemStats implements Store
func (s *GormStore) ItemStats(ctx context.Context, batchID uuid.UUID) ([]StatusStat, error) {
	var rows []StatusStat
	err := s.db.WithContext(ctx).Model(&models.Item{}).
		Where("batch_id = ?", batchID).
		Select("status, COUNT(*) AS count, COALESCE(SUM(external_amount), 0) AS sum").
		Group("status").
		Order("status").
		Scan(&rows).Error
	if err != nil {
		return nil, apperrors.StorageError(apperrors.CodeQueryFailed, "item stats", err)
	}
	for i := range rows {
		rows[i].Sum = rows[i].Sum.Round(2)
	}
	return rows, nil
}

// FindBookedItems implements Store
func (s *GormStore) FindBookedItems(ctx context.Context, batchID, paymentID uuid.UUID) ([]*models.Item, error) {
	var items []*models.Item
	err := s.db.WithContext(ctx).
		Where("batch_id = ? AND matched_payment_id = ? AND status IN ?", batchID, paymentID, models.BookingItemStatuses).
		Order("line_number ASC").
		Find(&items).Error
	if err != nil {
		return nil, apperrors.StorageError(apperrors.CodeQueryFailed, "find booked items", err)
	}
	return items, nil
}

// BookedPaymentIDs implements Store
func (s *GormStore) BookedPaymentIDs(ctx context.Context, tenantID string, excludeBatchID uuid.UUID) (map[uuid.UUID]bool, error) {
	var ids []uuid.UUID
	err := s.db.WithContext(ctx).Model(&models.Item{}).
		Where("tenant_id = ? AND batch_id <> ? AND matched_payment_id IS NOT NULL AND status IN ?",
			tenantID, excludeBatchID, models.BookingItemStatuses).
		Pluck("matched_payment_id", &ids).Error
	if err != nil {
		return nil, apperrors.StorageError(apperrors.CodeQueryFailed, "booked payments", err)
	}

	booked := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		booked[id] = true
	}
	return booked, nil
}

// CreateAuditLog implements Store
func (s *GormStore) CreateAuditLog(ctx context.Context, entry *models.ItemAuditLog) error {
	if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
		return apperrors.StorageError(apperrors.CodeWriteFailed, "create audit log", err)
	}
	return nil
}

// ListAuditLogs implements Store
func (s *GormStore) ListAuditLogs(ctx context.Context, tenantID string, itemID uuid.UUID) ([]*models.ItemAuditLog, error) {
	var entries []*models.ItemAuditLog
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND item_id = ?", tenantID, itemID).
		Order("created_at ASC").
		Find(&entries).Error
	if err != nil {
		return nil, apperrors.StorageError(apperrors.CodeQueryFailed, "list audit logs", err)
	}
	return entries, nil
}

// FindPayments implements payments.Finder over the payments table of the same database
func (s *GormStore) FindPayments(ctx context.Context, q payments.Query) ([]*models.Payment, error) {
	if err := q.Validate(); err != nil {
		return nil, apperrors.ValidationError(apperrors.CodeInvalidValue, "payment query", q.TenantID, err)
	}

	query := s.db.WithContext(ctx).
		Where("tenant_id = ? AND method IN ?", q.TenantID, q.Methods)
	if q.Status != "" {
		query = query.Where("status = ?", q.Status)
	}

	var found []*models.Payment
	err := query.
		Where("COALESCE(received_at, created_at) BETWEEN ? AND ?", q.From, q.To).
		Order("COALESCE(received_at, created_at), created_at, id").
		Find(&found).Error
	if err != nil {
		return nil, apperrors.StorageError(apperrors.CodeQueryFailed, "find payments", err)
	}
	return q.Filter(found), nil
}

// GetPayment implements payments.Finder
func (s *GormStore) GetPayment(ctx context.Context, tenantID string, id uuid.UUID) (*models.Payment, error) {
	var p models.Payment
	err := s.db.WithContext(ctx).First(&p, "id = ? AND tenant_id = ?", id, tenantID).Error
	if err != nil {
		return nil, notFoundOr(err, apperrors.CodePaymentNotFound, id, "get payment")
	}
	return &p, nil
}

// InsertPayments writes payments directly. The service never calls it;
// it exists for fixtures and local databases.
func (s *GormStore) InsertPayments(ctx context.Context, list ...*models.Payment) error {
	if len(list) == 0 {
		return nil
	}
	if err := s.db.WithContext(ctx).Create(list).Error; err != nil {
		return apperrors.StorageError(apperrors.CodeWriteFailed, "insert payments", err)
	}
	return nil
}

func notFoundOr(err error, code apperrors.ErrorCode, id interface{}, operation string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperrors.NotFoundError(code, id, err)
	}
	return apperrors.StorageError(apperrors.CodeQueryFailed, operation, err)
}

func duplicateTemplate(name string) error {
	return apperrors.BusinessRuleError(apperrors.CodeDuplicateName,
		fmt.Sprintf("template %q already exists", name)).
		WithSuggestion("choose another name or update the existing template")
}

func joinStatuses(statuses []models.BatchStatus) string {
	names := make([]string, len(statuses))
	for i, s := range statuses {
		names[i] = string(s)
	}
	return strings.Join(names, " or ")
}

func isMemorySQLite(opts Options) bool {
	driver := strings.ToLower(opts.Driver)
	return (driver == DriverSQLite || driver == "sqlite3") && strings.Contains(opts.DSN, ":memory:")
}

// sqlWriter routes gorm's logger through the application logger
type sqlWriter struct {
	log logger.Logger
}

func (w sqlWriter) Printf(format string, args ...interface{}) {
	w.log.Debugf(format, args...)
}
