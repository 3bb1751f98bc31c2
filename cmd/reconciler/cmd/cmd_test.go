package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"settlement-reconciliation-service/internal/models"
	"settlement-reconciliation-service/internal/store"
	apperrors "settlement-reconciliation-service/pkg/errors"
	"settlement-reconciliation-service/pkg/logger"
)

const cliTenant = "acme"

// resetFlags clears command flag variables, which cobra keeps between executions
func resetFlags() {
	batchTemplate, batchFile, batchStatuses = "", "", nil
	reportFormat, reportOutput = "console", ""
	onlyUnresolved, sortByAmount, maxConsoleItems = false, false, 50
	itemPayment, itemResolutionType, itemNotes, itemAllowDuplicate = "", "", "", false
	itemFlag, itemStatuses = string(models.ItemStatusDivergent), nil
	templateExportFile = ""
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags()
	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func setupCLI(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	dsn := filepath.Join(dir, "reconciler.db")

	t.Setenv("RECONCILER_DATABASE_DRIVER", "sqlite")
	t.Setenv("RECONCILER_DATABASE_DSN", dsn)
	t.Setenv("RECONCILER_DATABASE_MIGRATE_PAYMENTS", "true")
	t.Setenv("RECONCILER_LOGGING_LEVEL", "error")
	t.Setenv("RECONCILER_TENANT", cliTenant)
	t.Setenv("RECONCILER_USER", "ana")

	st, err := store.Open(store.Options{
		Driver:          store.DriverSQLite,
		DSN:             dsn,
		MigratePayments: true,
		Logger:          logger.NewNopLogger(),
	})
	require.NoError(t, err)
	received := time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)
	require.NoError(t, st.InsertPayments(context.Background(), &models.Payment{
		ID:         uuid.New(),
		TenantID:   cliTenant,
		Method:     models.PaymentMethodCreditCard,
		Status:     models.PaymentStatusReceived,
		Amount:     decimal.RequireFromString("150.00"),
		NSU:        "NSU001",
		CardBrand:  "VISA",
		ReceivedAt: &received,
		CreatedAt:  received,
	}))
	require.NoError(t, st.Close())

	statement := filepath.Join(dir, "cielo-march.csv")
	content := "10/03/2026;NSU001;AUTH1;VISA;1234;1;150,00\n" +
		"12/03/2026;;;MASTERCARD;;;200,00\n" +
		"14/03/2026;;;VISA;;;80,00\n"
	require.NoError(t, os.WriteFile(statement, []byte(content), 0o600))
	return statement
}

func TestCLI_Workflow(t *testing.T) {
	statement := setupCLI(t)

	out, err := run(t, "template", "seed")
	require.NoError(t, err)
	assert.Contains(t, out, `Created template "Generic"`)

	out, err = run(t, "batch", "create", "--file", "cielo-march.csv", "--template", "Generic")
	require.NoError(t, err)
	match := regexp.MustCompile(`Created batch ([0-9a-f-]{36}) \(DRAFT\)`).FindStringSubmatch(out)
	require.Len(t, match, 2, out)
	batchID := match[1]

	out, err = run(t, "batch", "import", batchID, "--file", statement)
	require.NoError(t, err)
	assert.Contains(t, out, "Imported 3 items totalling 430.00")
	assert.Contains(t, out, "Period: 2026-03-10 to 2026-03-14")

	out, err = run(t, "batch", "automatch", batchID)
	require.NoError(t, err)
	assert.Contains(t, out, "Matched 1, suggested 0, unmatched 2")

	_, err = run(t, "batch", "close", batchID)
	require.Error(t, err)
	assert.True(t, apperrors.IsBusinessRule(err))

	out, err = run(t, "item", "list", batchID, "--status", "UNMATCHED")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3, out)
	for _, line := range lines[1:] {
		itemID := strings.Fields(line)[0]
		out, err = run(t, "item", "ignore", itemID, "--notes", "not ours")
		require.NoError(t, err)
		assert.Contains(t, out, "is now IGNORED")
	}

	out, err = run(t, "batch", "close", batchID)
	require.NoError(t, err)
	assert.Contains(t, out, "batch closed: 1 matched, 0 divergent, 2 ignored")

	out, err = run(t, "batch", "show", batchID, "--format", "json")
	require.NoError(t, err)
	var report struct {
		Summary struct {
			Batch struct {
				Status string `json:"status"`
			} `json:"batch"`
		} `json:"summary"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &report), out)
	assert.Equal(t, "CLOSED", report.Summary.Batch.Status)
}

func TestCLI_ArgumentErrors(t *testing.T) {
	setupCLI(t)

	tests := []struct {
		name     string
		args     []string
		category apperrors.ErrorCategory
	}{
		{"bad batch id", []string{"batch", "automatch", "not-a-uuid"}, apperrors.CategoryValidation},
		{"unknown batch", []string{"batch", "automatch", uuid.NewString()}, apperrors.CategoryNotFound},
		{"missing statement file", []string{"batch", "import", uuid.NewString(), "--file", "missing.csv"}, apperrors.CategoryFile},
		{"unknown report format", []string{"batch", "show", uuid.NewString(), "--format", "xml"}, apperrors.CategoryValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := run(t, tt.args...)
			require.Error(t, err)
			assert.True(t, apperrors.HasCategory(err, tt.category), "got %v", err)
		})
	}
}

func TestCLIErrorHandler(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		exitCode int
		contains []string
	}{
		{
			name:     "nil",
			err:      nil,
			exitCode: 0,
		},
		{
			name: "business rule",
			err: apperrors.BusinessRuleError(apperrors.CodeUnresolvedItems, "2 items are still unresolved").
				WithContext("unresolved", 2).
				WithSuggestion("resolve the remaining items"),
			exitCode: 6,
			contains: []string{"Error: 2 items are still unresolved", "unresolved: 2", "Suggestion: resolve the remaining items", "Workflow help"},
		},
		{
			name:     "not found",
			err:      apperrors.NotFoundError(apperrors.CodeBatchNotFound, "b-1", nil),
			exitCode: 5,
			contains: []string{"Not found help"},
		},
		{
			name:     "storage",
			err:      apperrors.StorageError(apperrors.CodeQueryFailed, "connect", fmt.Errorf("refused")),
			exitCode: 7,
			contains: []string{"Database error help", "Underlying error: refused"},
		},
		{
			name:     "missing file",
			err:      os.ErrNotExist,
			exitCode: 2,
			contains: []string{"File not found"},
		},
		{
			name:     "plain",
			err:      fmt.Errorf("boom"),
			exitCode: 1,
			contains: []string{"Error: boom"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			h := &CLIErrorHandler{logger: logger.NewNopLogger(), verbose: true, out: &buf}

			assert.Equal(t, tt.exitCode, h.HandleError(tt.err))
			for _, want := range tt.contains {
				assert.Contains(t, buf.String(), want)
			}
		})
	}
}
