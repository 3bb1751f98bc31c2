package cmd

import (
	"context"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"settlement-reconciliation-service/cmd/reconciler/config"
	"settlement-reconciliation-service/internal/payments"
	"settlement-reconciliation-service/internal/reconciler"
	"settlement-reconciliation-service/internal/store"
	"settlement-reconciliation-service/internal/templates"
	apperrors "settlement-reconciliation-service/pkg/errors"
	"settlement-reconciliation-service/pkg/logger"
)

// app holds the wired dependencies of one command run
type app struct {
	config   *config.AppConfig
	logger   logger.Logger
	store    *store.GormStore
	finder   *payments.PgxFinder
	service  *reconciler.ReconciliationService
	registry *templates.Registry
}

// newApp loads the configuration and opens every connection a command needs
func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, apperrors.ConfigurationError(apperrors.CodeInvalidConfig, "config", cfgFile, err)
	}

	log, err := logger.NewLogger(&cfg.Logging)
	if err != nil {
		return nil, apperrors.ConfigurationError(apperrors.CodeInvalidConfig, "logging", cfg.Logging.Level, err)
	}
	logger.SetGlobalLogger(log)

	st, err := store.Open(cfg.StoreOptions(log))
	if err != nil {
		return nil, err
	}

	a := &app{config: cfg, logger: log, store: st}

	// a nil finder makes the service read payments from the store
	var finder payments.Finder
	if cfg.Payments.DSN != "" {
		a.finder, err = payments.Connect(ctx, cfg.Payments.DSN)
		if err != nil {
			a.close()
			return nil, apperrors.StorageError(apperrors.CodeQueryFailed, "connect payments", err)
		}
		finder = a.finder
	}

	a.service, err = reconciler.NewReconciliationService(st, finder, cfg.ReconcilerConfig())
	if err != nil {
		a.close()
		return nil, err
	}
	a.service.WithLogger(log.WithComponent("reconciler"))
	a.registry = templates.NewRegistry(st).WithLogger(log.WithComponent("templates"))

	log.WithFields(logger.Fields{
		"driver":            cfg.Database.Driver,
		"external_payments": cfg.Payments.DSN != "",
	}).Debug("Application wired")
	return a, nil
}

func (a *app) close() {
	if a.finder != nil {
		a.finder.Close()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.WithError(err).Warn("Failed to close database")
		}
	}
}

// tenant returns the configured tenant or a validation error
func (a *app) tenant() (string, error) {
	tenant := strings.TrimSpace(a.config.Tenant)
	if tenant == "" {
		return "", apperrors.ValidationError(apperrors.CodeMissingField, "tenant", nil, nil).
			WithSuggestion("pass --tenant or set RECONCILER_TENANT")
	}
	return tenant, nil
}

// user returns the configured operator or a validation error
func (a *app) user() (string, error) {
	user := strings.TrimSpace(a.config.User)
	if user == "" {
		return "", apperrors.ValidationError(apperrors.CodeMissingField, "user", nil, nil).
			WithSuggestion("pass --user or set RECONCILER_USER")
	}
	return user, nil
}

type appRunner func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error

// withApp wires the application around a command body and closes it afterwards
func withApp(run appRunner) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.close()
		return run(ctx, cmd, a, args)
	}
}

// parseID reads a UUID argument
func parseID(field, value string) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(value))
	if err != nil {
		return uuid.Nil, apperrors.ValidationError(apperrors.CodeInvalidValue, field, value, err)
	}
	return id, nil
}

// openInput opens a file given on the command line
func openInput(path string) (*os.File, error) {
	f, err := os.Open(path)
	switch {
	case err == nil:
		return f, nil
	case os.IsNotExist(err):
		return nil, apperrors.FileError(apperrors.CodeFileNotFound, path, err)
	case os.IsPermission(err):
		return nil, apperrors.FileError(apperrors.CodeFilePermission, path, err)
	default:
		return nil, apperrors.FileError("", path, err)
	}
}
