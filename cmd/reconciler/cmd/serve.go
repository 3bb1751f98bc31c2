package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"settlement-reconciliation-service/internal/api"
	apperrors "settlement-reconciliation-service/pkg/errors"
	"settlement-reconciliation-service/pkg/logger"
)

const shutdownTimeout = 15 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the reconciliation API over HTTP",
	Long: `Serve exposes templates, batches and items under /api/v1. Every request
names its tenant with the X-Tenant-ID header and its operator with X-User-ID.

Examples:
  reconciler serve --addr :8080
  RECONCILER_DATABASE_DRIVER=postgres RECONCILER_DATABASE_DSN=postgres://... reconciler serve`,
	Args: cobra.NoArgs,
	RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app, _ []string) error {
		if !a.config.Verbose {
			gin.SetMode(gin.ReleaseMode)
		}

		handler := api.NewHandler(a.service, a.registry).WithLogger(a.logger.WithComponent("api"))
		router := api.NewRouter(handler, api.Config{
			AllowOrigins:  a.config.HTTP.AllowOrigins,
			DefaultTenant: a.config.HTTP.DefaultTenant,
			MaxUploadMB:   a.config.HTTP.MaxUploadMB,
		})

		server := &http.Server{
			Addr:              a.config.HTTP.Addr,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		}

		ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
		defer stop()

		errCh := make(chan error, 1)
		go func() {
			a.logger.WithFields(logger.Fields{"addr": server.Addr}).Info("HTTP server listening")
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
			close(errCh)
		}()

		select {
		case err := <-errCh:
			if err != nil {
				return apperrors.ConfigurationError(apperrors.CodeInvalidConfig, "http.addr", server.Addr, err)
			}
			return nil
		case <-ctx.Done():
		}

		a.logger.Info("Shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		return nil
	}),
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("addr", "", "listen address (default :8080)")
	viper.BindPFlag("http.addr", serveCmd.Flags().Lookup("addr"))
}
