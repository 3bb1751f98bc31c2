package cmd

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"settlement-reconciliation-service/internal/models"
	"settlement-reconciliation-service/internal/reconciler"
	"settlement-reconciliation-service/internal/reporter"
	apperrors "settlement-reconciliation-service/pkg/errors"
)

// Flags for the batch commands
var (
	batchTemplate   string
	batchFile       string
	batchStatuses   []string
	reportFormat    string
	reportOutput    string
	onlyUnresolved  bool
	sortByAmount    bool
	maxConsoleItems int
)

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Create, import, match and close reconciliation batches",
	Long: `A batch holds one settlement statement. It moves through
DRAFT -> IMPORTED -> MATCHED -> CLOSED.

Examples:
  reconciler batch create --tenant acme --file cielo-march.csv --template Cielo
  reconciler batch import <batch-id> --tenant acme --file cielo-march.csv
  reconciler batch automatch <batch-id> --tenant acme
  reconciler batch confirm <batch-id> --tenant acme --user ana
  reconciler batch show <batch-id> --tenant acme --format csv --output march.csv
  reconciler batch close <batch-id> --tenant acme --user ana`,
}

var batchCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a DRAFT batch",
	Args:  cobra.NoArgs,
	RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app, _ []string) error {
		tenant, err := a.tenant()
		if err != nil {
			return err
		}
		templateID, err := resolveTemplate(ctx, a, tenant)
		if err != nil {
			return err
		}

		batch, err := a.service.CreateBatch(ctx, tenant, filepath.Base(batchFile), templateID)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Created batch %s (%s)\n", batch.ID, batch.Status)
		return nil
	}),
}

var batchImportCmd = &cobra.Command{
	Use:   "import <batch-id>",
	Short: "Parse a statement file into the batch",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
		tenant, err := a.tenant()
		if err != nil {
			return err
		}
		batchID, err := parseID("batch", args[0])
		if err != nil {
			return err
		}
		f, err := openInput(batchFile)
		if err != nil {
			return err
		}
		defer f.Close()
		content, err := io.ReadAll(f)
		if err != nil {
			return apperrors.FileError("", batchFile, err)
		}

		templateID, err := resolveTemplate(ctx, a, tenant)
		if err != nil {
			return err
		}

		result, err := a.service.ImportBatch(ctx, reconciler.ImportRequest{
			TenantID:   tenant,
			BatchID:    batchID,
			TemplateID: templateID,
			FileName:   filepath.Base(batchFile),
			Content:    content,
		})
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Imported %d items totalling %s (%s)\n", result.Imported, result.TotalAmount.StringFixed(2), result.Encoding)
		fmt.Fprintf(out, "Period: %s to %s\n", result.PeriodStart.Format(time.DateOnly), result.PeriodEnd.Format(time.DateOnly))
		if result.ErrorCount > 0 {
			fmt.Fprintln(cmd.ErrOrStderr(), apperrors.FormatRowErrorsForUser(result.Errors, 10))
		}
		return nil
	}),
}

var batchAutoMatchCmd = &cobra.Command{
	Use:   "automatch <batch-id>",
	Short: "Match pending items against received card payments",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
		tenant, batchID, err := tenantAndID(a, "batch", args[0])
		if err != nil {
			return err
		}
		a.logger.WithField("matching", a.service.GetMatchingConfig().String()).Debug("Running auto-match")
		result, err := a.service.AutoMatch(ctx, tenant, batchID)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Matched %d, suggested %d, unmatched %d (%d candidate payments)\n",
			result.Matched, result.Suggested, result.Unmatched, result.Candidates)
		return nil
	}),
}

var batchConfirmCmd = &cobra.Command{
	Use:   "confirm <batch-id>",
	Short: "Accept every suggested match of the batch",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
		tenant, batchID, err := tenantAndID(a, "batch", args[0])
		if err != nil {
			return err
		}
		user, err := a.user()
		if err != nil {
			return err
		}
		result, err := a.service.ConfirmSuggested(ctx, tenant, batchID, user)
		if err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Confirmed %d suggested matches\n", result.Confirmed)
		for _, skipped := range result.Skipped {
			fmt.Fprintf(cmd.ErrOrStderr(), "  skipped line %d (%s): %s\n", skipped.LineNumber, skipped.ItemID, skipped.Reason)
		}
		return nil
	}),
}

var batchCloseCmd = &cobra.Command{
	Use:   "close <batch-id>",
	Short: "Close a batch whose items are all resolved",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
		tenant, batchID, err := tenantAndID(a, "batch", args[0])
		if err != nil {
			return err
		}
		user, err := a.user()
		if err != nil {
			return err
		}
		result, err := a.service.CloseBatch(ctx, tenant, batchID, user)
		if err != nil {
			return err
		}
		if !result.Success {
			return apperrors.BusinessRuleError(apperrors.CodeUnresolvedItems, result.Message).
				WithContext("unresolved", result.Unresolved).
				WithSuggestion("resolve, ignore or confirm the remaining items first")
		}
		fmt.Fprintln(cmd.OutOrStdout(), result.Message)
		return nil
	}),
}

var batchListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the tenant's batches",
	Args:  cobra.NoArgs,
	RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app, _ []string) error {
		tenant, err := a.tenant()
		if err != nil {
			return err
		}
		statuses := make([]models.BatchStatus, 0, len(batchStatuses))
		for _, s := range batchStatuses {
			statuses = append(statuses, models.BatchStatus(strings.ToUpper(strings.TrimSpace(s))))
		}
		list, err := a.service.ListBatches(ctx, tenant, statuses...)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSTATUS\tFILE\tITEMS\tTOTAL\tMATCHED\tUNMATCHED\tCREATED")
		for _, b := range list {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%d\t%d\t%s\n",
				b.ID, b.Status, b.FileName, b.TotalItems, b.TotalAmount.StringFixed(2),
				b.MatchedCount, b.UnmatchedCount, b.CreatedAt.Format(time.DateTime))
		}
		return w.Flush()
	}),
}

var batchShowCmd = &cobra.Command{
	Use:   "show <batch-id>",
	Short: "Print the batch report",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
		tenant, batchID, err := tenantAndID(a, "batch", args[0])
		if err != nil {
			return err
		}
		format, err := reporter.ParseOutputFormat(reportFormat)
		if err != nil {
			return apperrors.ValidationError(apperrors.CodeInvalidValue, "format", reportFormat, err)
		}

		config := reporter.DefaultReportConfig()
		config.Format = format
		config.OnlyUnresolved = onlyUnresolved
		config.SortByAmount = sortByAmount
		config.MaxConsoleItems = maxConsoleItems
		generator, err := reporter.NewReportGenerator(config)
		if err != nil {
			return err
		}

		summary, err := a.service.Summary(ctx, tenant, batchID)
		if err != nil {
			return err
		}
		items, err := a.service.ListItems(ctx, tenant, batchID)
		if err != nil {
			return err
		}
		report := &reporter.BatchReport{Summary: summary, Items: items, GeneratedAt: time.Now()}

		if reportOutput != "" {
			if err := generator.WriteToFile(report, reportOutput); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Report written to %s\n", reportOutput)
			return nil
		}
		return generator.GenerateReport(report, cmd.OutOrStdout())
	}),
}

func init() {
	rootCmd.AddCommand(batchCmd)
	batchCmd.AddCommand(batchCreateCmd, batchImportCmd, batchAutoMatchCmd, batchConfirmCmd,
		batchCloseCmd, batchListCmd, batchShowCmd)

	batchCreateCmd.Flags().StringVarP(&batchFile, "file", "f", "", "statement file name recorded on the batch")
	batchCreateCmd.Flags().StringVarP(&batchTemplate, "template", "t", "", "template id or name")

	batchImportCmd.Flags().StringVarP(&batchFile, "file", "f", "", "path to the statement file (required)")
	batchImportCmd.Flags().StringVarP(&batchTemplate, "template", "t", "", "template id or name (default: the batch's template)")
	batchImportCmd.MarkFlagRequired("file")

	batchListCmd.Flags().StringSliceVar(&batchStatuses, "status", nil, "only batches in these statuses")

	batchShowCmd.Flags().StringVarP(&reportFormat, "format", "f", "console", "output format: console, json, csv")
	batchShowCmd.Flags().StringVarP(&reportOutput, "output", "o", "", "output file path (default: stdout)")
	batchShowCmd.Flags().BoolVar(&onlyUnresolved, "unresolved", false, "only list items that still need a decision")
	batchShowCmd.Flags().BoolVar(&sortByAmount, "sort-by-amount", false, "list the largest items first")
	batchShowCmd.Flags().IntVar(&maxConsoleItems, "max-items", 50, "items listed in console output, 0 for all")
}

// resolveTemplate looks up the --template flag by id or name
func resolveTemplate(ctx context.Context, a *app, tenant string) (*uuid.UUID, error) {
	if strings.TrimSpace(batchTemplate) == "" {
		return nil, nil
	}
	tpl, err := a.registry.Resolve(ctx, tenant, batchTemplate)
	if err != nil {
		return nil, err
	}
	return &tpl.ID, nil
}

func tenantAndID(a *app, field, value string) (string, uuid.UUID, error) {
	tenant, err := a.tenant()
	if err != nil {
		return "", uuid.Nil, err
	}
	id, err := parseID(field, value)
	if err != nil {
		return "", uuid.Nil, err
	}
	return tenant, id, nil
}
