package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	apperrors "settlement-reconciliation-service/pkg/errors"
)

var templateExportFile string

var templateCmd = &cobra.Command{
	Use:   "template",
	Short: "Manage statement templates",
	Long: `Templates describe how an acquirer statement is laid out: delimiter,
date format, decimal separator, rows to skip and which column holds each field.

Examples:
  reconciler template seed --tenant acme
  reconciler template list --tenant acme
  reconciler template export --tenant acme --output templates.yaml
  reconciler template import templates.yaml --tenant acme`,
}

var templateSeedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Create the built-in acquirer templates that are missing",
	Args:  cobra.NoArgs,
	RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app, _ []string) error {
		tenant, err := a.tenant()
		if err != nil {
			return err
		}
		created, err := a.registry.SeedDefaultTemplates(ctx, tenant)
		if err != nil {
			return err
		}
		if len(created) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "All default templates already exist")
			return nil
		}
		for _, name := range created {
			fmt.Fprintf(cmd.OutOrStdout(), "Created template %q\n", name)
		}
		return nil
	}),
}

var templateListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the tenant's templates",
	Args:  cobra.NoArgs,
	RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app, _ []string) error {
		tenant, err := a.tenant()
		if err != nil {
			return err
		}
		list, err := a.registry.List(ctx, tenant)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tACQUIRER\tDELIMITER\tDATE FORMAT\tDECIMAL\tSKIP")
		for _, tpl := range list {
			fmt.Fprintf(w, "%s\t%s\t%s\t%q\t%s\t%q\t%d\n",
				tpl.ID, tpl.Name, tpl.AcquirerName, tpl.Delimiter, tpl.DateFormat, tpl.DecimalSeparator, tpl.SkipRows)
		}
		return w.Flush()
	}),
}

var templateExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write the tenant's templates as YAML",
	Args:  cobra.NoArgs,
	RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app, _ []string) error {
		tenant, err := a.tenant()
		if err != nil {
			return err
		}
		if templateExportFile == "" {
			return a.registry.Export(ctx, tenant, cmd.OutOrStdout())
		}

		f, err := os.Create(templateExportFile)
		if err != nil {
			return apperrors.FileError(apperrors.CodeFilePermission, templateExportFile, err)
		}
		defer f.Close()
		if err := a.registry.Export(ctx, tenant, f); err != nil {
			return err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "Templates written to %s\n", templateExportFile)
		return nil
	}),
}

var templateImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Create or update templates from a YAML file",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
		tenant, err := a.tenant()
		if err != nil {
			return err
		}
		f, err := openInput(args[0])
		if err != nil {
			return err
		}
		defer f.Close()

		result, err := a.registry.Import(ctx, tenant, f)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Created %d, updated %d templates\n", len(result.Created), len(result.Updated))
		return nil
	}),
}

func init() {
	rootCmd.AddCommand(templateCmd)
	templateCmd.AddCommand(templateSeedCmd, templateListCmd, templateExportCmd, templateImportCmd)

	templateExportCmd.Flags().StringVarP(&templateExportFile, "output", "o", "", "output file path (default: stdout)")
}
