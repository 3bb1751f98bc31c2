package payments

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"settlement-reconciliation-service/internal/models"
)

func TestBuildQuery(t *testing.T) {
	from := time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 3, 27, 23, 59, 59, 0, time.UTC)

	sql, args := buildQuery(CardQuery("tenant-1", from, to))

	assert.True(t, strings.HasPrefix(sql, "SELECT id::text"))
	assert.Contains(t, sql, "tenant_id = $1 AND method = ANY($2)")
	assert.Contains(t, sql, "status = $3")
	assert.Contains(t, sql, "BETWEEN $4 AND $5")
	assert.Contains(t, sql, "ORDER BY COALESCE(received_at, created_at)")

	require.Len(t, args, 5)
	assert.Equal(t, "tenant-1", args[0])
	assert.Equal(t, []string{"CREDIT_CARD", "DEBIT_CARD"}, args[1])
	assert.Equal(t, "RECEIVED", args[2])
	assert.Equal(t, from, args[3])
	assert.Equal(t, to, args[4])
}

func TestBuildQuery_AnyStatus(t *testing.T) {
	q := CardQuery("tenant-1", time.Now().Add(-time.Hour), time.Now())
	q.Status = ""

	sql, args := buildQuery(q)
	assert.NotContains(t, sql, "status =")
	assert.Contains(t, sql, "BETWEEN $3 AND $4")
	assert.Len(t, args, 4)
}

func TestQuery_Validate(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name    string
		query   Query
		wantErr bool
	}{
		{"valid", CardQuery("t", now.Add(-time.Hour), now), false},
		{"missing tenant", CardQuery("", now.Add(-time.Hour), now), true},
		{"no methods", Query{TenantID: "t", From: now, To: now}, true},
		{"inverted window", CardQuery("t", now, now.Add(-time.Hour)), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.query.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestQuery_Filter(t *testing.T) {
	a := &models.Payment{ID: uuid.New()}
	b := &models.Payment{ID: uuid.New()}
	c := &models.Payment{ID: uuid.New()}

	q := Query{Exclude: map[uuid.UUID]bool{b.ID: true}}
	kept := q.Filter([]*models.Payment{a, b, c})

	require.Len(t, kept, 2)
	assert.Equal(t, a.ID, kept[0].ID)
	assert.Equal(t, c.ID, kept[1].ID)

	all := Query{}.Filter([]*models.Payment{a, b})
	assert.Len(t, all, 2)
}
