package cmd

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"settlement-reconciliation-service/internal/models"
	"settlement-reconciliation-service/internal/reconciler"
)

// Flags for the item commands
var (
	itemPayment        string
	itemResolutionType string
	itemNotes          string
	itemAllowDuplicate bool
	itemFlag           string
	itemStatuses       []string
)

var itemCmd = &cobra.Command{
	Use:   "item",
	Short: "Inspect and resolve statement items",
	Long: `Items are the lines of an imported statement. Every item must reach a
terminal status (matched, resolved or ignored) before its batch can close.

Examples:
  reconciler item list <batch-id> --tenant acme --status UNMATCHED,DIVERGENT
  reconciler item resolve <item-id> --tenant acme --user ana --payment <payment-id> --notes "fee"
  reconciler item ignore <item-id> --tenant acme --user ana --notes "test transaction"
  reconciler item flag <item-id> --tenant acme --user ana --status DISPUTED
  reconciler item history <item-id> --tenant acme`,
}

var itemListCmd = &cobra.Command{
	Use:   "list <batch-id>",
	Short: "List the items of a batch",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
		tenant, batchID, err := tenantAndID(a, "batch", args[0])
		if err != nil {
			return err
		}
		statuses := make([]models.ItemStatus, 0, len(itemStatuses))
		for _, s := range itemStatuses {
			status, err := models.ParseItemStatus(s)
			if err != nil {
				return err
			}
			statuses = append(statuses, status)
		}
		items, err := a.service.ListItems(ctx, tenant, batchID, statuses...)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tLINE\tDATE\tAMOUNT\tNSU\tBRAND\tSTATUS\tCONF\tPAYMENT\tDIFF")
		for _, item := range items {
			payment, diff := "-", "-"
			if item.MatchedPaymentID != nil {
				payment = item.MatchedPaymentID.String()
			}
			if item.DifferenceAmount.Valid {
				diff = item.DifferenceAmount.Decimal.StringFixed(2)
			}
			fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
				item.ID, item.LineNumber, item.ExternalDate.Format(time.DateOnly), item.ExternalAmount.StringFixed(2),
				item.ExternalID, item.CardBrand, item.Status, item.MatchConfidence, payment, diff)
		}
		return w.Flush()
	}),
}

var itemResolveCmd = &cobra.Command{
	Use:   "resolve <item-id>",
	Short: "Mark an item RESOLVED, optionally against another payment",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
		tenant, itemID, err := tenantAndID(a, "item", args[0])
		if err != nil {
			return err
		}
		user, err := a.user()
		if err != nil {
			return err
		}

		resolution := reconciler.Resolution{
			Notes:                 itemNotes,
			AllowDuplicatePayment: itemAllowDuplicate,
		}
		if itemResolutionType != "" {
			resolution.ResolutionType, err = models.ParseResolutionType(itemResolutionType)
			if err != nil {
				return err
			}
		}
		if itemPayment != "" {
			paymentID, err := parseID("payment", itemPayment)
			if err != nil {
				return err
			}
			resolution.MatchedPaymentID = &paymentID
		}

		item, err := a.service.ResolveItem(ctx, tenant, itemID, resolution, user)
		if err != nil {
			return err
		}
		printItem(cmd, item)
		return nil
	}),
}

var itemIgnoreCmd = &cobra.Command{
	Use:   "ignore <item-id>",
	Short: "Exclude an item from reconciliation",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
		tenant, itemID, err := tenantAndID(a, "item", args[0])
		if err != nil {
			return err
		}
		user, err := a.user()
		if err != nil {
			return err
		}
		item, err := a.service.IgnoreItem(ctx, tenant, itemID, itemNotes, user)
		if err != nil {
			return err
		}
		printItem(cmd, item)
		return nil
	}),
}

var itemFlagCmd = &cobra.Command{
	Use:   "flag <item-id>",
	Short: "Flag an item DIVERGENT or DISPUTED",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
		tenant, itemID, err := tenantAndID(a, "item", args[0])
		if err != nil {
			return err
		}
		user, err := a.user()
		if err != nil {
			return err
		}
		flag, err := models.ParseItemStatus(itemFlag)
		if err != nil {
			return err
		}
		item, err := a.service.FlagItem(ctx, tenant, itemID, flag, itemNotes, user)
		if err != nil {
			return err
		}
		printItem(cmd, item)
		return nil
	}),
}

var itemHistoryCmd = &cobra.Command{
	Use:   "history <item-id>",
	Short: "Show the decisions recorded on an item",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
		tenant, itemID, err := tenantAndID(a, "item", args[0])
		if err != nil {
			return err
		}
		entries, err := a.service.ItemHistory(ctx, tenant, itemID)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "WHEN\tACTION\tFROM\tTO\tPAYMENT\tBY\tREASON")
		for _, e := range entries {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
				e.CreatedAt.Format(time.DateTime), e.Action, e.PreviousStatus, e.NewStatus,
				optionalID(e.NewPayment), e.PerformedBy, e.Reason)
		}
		return w.Flush()
	}),
}

func init() {
	rootCmd.AddCommand(itemCmd)
	itemCmd.AddCommand(itemListCmd, itemResolveCmd, itemIgnoreCmd, itemFlagCmd, itemHistoryCmd)

	itemListCmd.Flags().StringSliceVar(&itemStatuses, "status", nil, "only items in these statuses")

	itemResolveCmd.Flags().StringVar(&itemPayment, "payment", "", "payment id to match the item with")
	itemResolveCmd.Flags().StringVar(&itemResolutionType, "type", "",
		"resolution type (default: MANUAL_MATCH with --payment, OTHER without)")
	itemResolveCmd.Flags().BoolVar(&itemAllowDuplicate, "allow-duplicate", false,
		"allow a payment already booked by another item of the batch")

	for _, c := range []*cobra.Command{itemResolveCmd, itemIgnoreCmd, itemFlagCmd} {
		c.Flags().StringVar(&itemNotes, "notes", "", "reason recorded with the decision")
	}

	itemFlagCmd.Flags().StringVar(&itemFlag, "status", string(models.ItemStatusDivergent), "DIVERGENT or DISPUTED")
}

func printItem(cmd *cobra.Command, item *models.Item) {
	fmt.Fprintf(cmd.OutOrStdout(), "Item %s (line %d) is now %s", item.ID, item.LineNumber, item.Status)
	if item.MatchedPaymentID != nil {
		fmt.Fprintf(cmd.OutOrStdout(), ", payment %s", item.MatchedPaymentID)
	}
	if item.DifferenceAmount.Valid && !item.DifferenceAmount.Decimal.IsZero() {
		fmt.Fprintf(cmd.OutOrStdout(), ", difference %s", item.DifferenceAmount.Decimal.StringFixed(2))
	}
	fmt.Fprintln(cmd.OutOrStdout())
}

func optionalID(id *uuid.UUID) string {
	if id == nil {
		return "-"
	}
	return id.String()
}
