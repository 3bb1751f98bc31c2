// Package api exposes the reconciliation workflow over HTTP with gin.
//
// Every route under /api/v1 is scoped to the tenant named by the X-Tenant-ID
// header. Mutations record the operator from X-User-ID.
package api

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"settlement-reconciliation-service/pkg/logger"
)

const (
	HeaderTenant = "X-Tenant-ID"
	HeaderUser   = "X-User-ID"

	tenantKey = "tenant"
	userKey   = "user"
)

// Config holds the HTTP layer options
type Config struct {
	AllowOrigins []string
	// DefaultTenant is used when a request carries no tenant header; empty rejects such requests
	DefaultTenant string
	MaxUploadMB   int64
}

// DefaultMaxUploadMB bounds statement uploads when Config.MaxUploadMB is unset
const DefaultMaxUploadMB = 32

// NewRouter builds the gin engine with every route registered
func NewRouter(h *Handler, config Config) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(h.logger))

	origins := config.AllowOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:3000"}
	}
	r.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "PUT"},
		AllowHeaders:     []string{"Origin", "Content-Type", HeaderTenant, HeaderUser},
		ExposeHeaders:    []string{"Content-Length", "Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))
	maxUpload := config.MaxUploadMB << 20
	if maxUpload <= 0 {
		maxUpload = DefaultMaxUploadMB << 20
	}
	r.MaxMultipartMemory = maxUpload

	r.GET("/api/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api/v1", tenantScope(config.DefaultTenant))

	tpl := api.Group("/templates")
	tpl.GET("", h.ListTemplates)
	tpl.POST("", h.CreateTemplate)
	tpl.POST("/seed", h.SeedTemplates)
	tpl.GET("/:templateId", h.GetTemplate)
	tpl.PUT("/:templateId", h.UpdateTemplate)

	batches := api.Group("/batches")
	batches.POST("", h.CreateBatch)
	batches.GET("", h.ListBatches)
	batches.GET("/:batchId", h.GetBatch)
	batches.GET("/:batchId/items", h.ListItems)
	batches.GET("/:batchId/report", h.Report)
	batches.POST("/:batchId/import", h.limitBody(maxUpload), h.ImportBatch)
	batches.POST("/:batchId/auto-match", h.AutoMatch)
	batches.POST("/:batchId/confirm-suggested", h.ConfirmSuggested)
	batches.POST("/:batchId/close", h.CloseBatch)

	items := api.Group("/items")
	items.GET("/:itemId", h.GetItem)
	items.GET("/:itemId/history", h.ItemHistory)
	items.POST("/:itemId/resolve", h.ResolveItem)
	items.POST("/:itemId/ignore", h.IgnoreItem)
	items.POST("/:itemId/flag", h.FlagItem)

	return r
}

// limitBody rejects request bodies larger than limit bytes. Bodies of
// unknown length are cut off by MaxBytesReader while the handler reads them.
func (h *Handler) limitBody(limit int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.ContentLength > limit {
			h.respondError(c, uploadTooLarge(limit, nil))
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
		c.Next()
	}
}

func tenantScope(defaultTenant string) gin.HandlerFunc {
	return func(c *gin.Context) {
		tenant := c.GetHeader(HeaderTenant)
		if tenant == "" {
			tenant = defaultTenant
		}
		if tenant == "" {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": HeaderTenant + " header is required"})
			return
		}
		c.Set(tenantKey, tenant)
		c.Set(userKey, c.GetHeader(HeaderUser))
		c.Next()
	}
}

func requestLogger(log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		entry := log.WithFields(logger.Fields{
			"method":   c.Request.Method,
			"path":     c.FullPath(),
			"status":   c.Writer.Status(),
			"duration": time.Since(start).String(),
			"tenant":   c.GetString(tenantKey),
		})
		if c.Writer.Status() >= http.StatusInternalServerError {
			entry.Warn("Request failed")
			return
		}
		entry.Debug("Request served")
	}
}
