package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"settlement-reconciliation-service/internal/models"
	apperrors "settlement-reconciliation-service/pkg/errors"
	"settlement-reconciliation-service/pkg/logger"
)

const paymentColumns = `id::text, tenant_id, method, status, amount::text,
	COALESCE(nsu, ''), COALESCE(authorization_code, ''), COALESCE(card_brand, ''),
	received_at, created_at`

// PgxFinder reads payments straight from the sales database through a pgx pool
type PgxFinder struct {
	pool   *pgxpool.Pool
	logger logger.Logger
}

// Connect opens a pool to the payments database and checks it
func Connect(ctx context.Context, connString string) (*PgxFinder, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping payments database: %w", err)
	}

	return NewPgxFinder(pool), nil
}

// NewPgxFinder wraps an existing pool
func NewPgxFinder(pool *pgxpool.Pool) *PgxFinder {
	return &PgxFinder{
		pool:   pool,
		logger: logger.GetGlobalLogger().WithComponent("payments"),
	}
}

// Close closes the connection pool
func (f *PgxFinder) Close() {
	if f.pool != nil {
		f.pool.Close()
	}
}

// FindPayments implements Finder
func (f *PgxFinder) FindPayments(ctx context.Context, q Query) ([]*models.Payment, error) {
	if err := q.Validate(); err != nil {
		return nil, apperrors.ValidationError(apperrors.CodeInvalidValue, "payment query", q.TenantID, err)
	}

	sql, args := buildQuery(q)
	rows, err := f.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, apperrors.StorageError(apperrors.CodeQueryFailed, "find payments", err)
	}
	defer rows.Close()

	var found []*models.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, apperrors.StorageError(apperrors.CodeQueryFailed, "scan payment", err)
		}
		found = append(found, p)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.StorageError(apperrors.CodeQueryFailed, "find payments", err)
	}

	found = q.Filter(found)
	f.logger.WithFields(logger.Fields{
		"tenant":     q.TenantID,
		"from":       q.From.Format("2006-01-02"),
		"to":         q.To.Format("2006-01-02"),
		"candidates": len(found),
	}).Debug("Loaded candidate payments")

	return found, nil
}

// GetPayment implements Finder
func (f *PgxFinder) GetPayment(ctx context.Context, tenantID string, id uuid.UUID) (*models.Payment, error) {
	row := f.pool.QueryRow(ctx,
		"SELECT "+paymentColumns+" FROM payments WHERE id = $1 AND tenant_id = $2", id.String(), tenantID)

	p, err := scanPayment(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NotFoundError(apperrors.CodePaymentNotFound, id, err)
	}
	if err != nil {
		return nil, apperrors.StorageError(apperrors.CodeQueryFailed, "get payment", err)
	}
	return p, nil
}

// buildQuery renders the candidate query and its positional arguments
func buildQuery(q Query) (string, []any) {
	methods := make([]string, len(q.Methods))
	for i, m := range q.Methods {
		methods[i] = string(m)
	}

	var sb strings.Builder
	sb.WriteString("SELECT ")
	sb.WriteString(paymentColumns)
	sb.WriteString(" FROM payments WHERE tenant_id = $1 AND method = ANY($2)")
	args := []any{q.TenantID, methods}

	if q.Status != "" {
		args = append(args, string(q.Status))
		fmt.Fprintf(&sb, " AND status = $%d", len(args))
	}

	args = append(args, q.From, q.To)
	fmt.Fprintf(&sb, " AND COALESCE(received_at, created_at) BETWEEN $%d AND $%d", len(args)-1, len(args))
	sb.WriteString(" ORDER BY COALESCE(received_at, created_at), created_at, id")

	return sb.String(), args
}

func scanPayment(row pgx.Row) (*models.Payment, error) {
	var (
		id, amount, method, status string
		p                          models.Payment
		receivedAt                 *time.Time
	)
	if err := row.Scan(&id, &p.TenantID, &method, &status, &amount,
		&p.NSU, &p.AuthorizationCode, &p.CardBrand, &receivedAt, &p.CreatedAt); err != nil {
		return nil, err
	}

	parsedID, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("invalid payment id %q: %w", id, err)
	}
	value, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q for payment %s: %w", amount, id, err)
	}

	p.ID = parsedID
	p.Amount = value
	p.Method = models.PaymentMethod(method)
	p.Status = models.PaymentStatus(status)
	p.ReceivedAt = receivedAt
	return &p, nil
}
