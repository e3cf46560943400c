package api

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/cors"
	"github.com/septivank/linky-feed-ingester/internal/db"
	"github.com/septivank/linky-feed-ingester/internal/feed"
	"github.com/septivank/linky-feed-ingester/internal/repository"
	"github.com/septivank/linky-feed-ingester/internal/service"
	"github.com/septivank/linky-feed-ingester/internal/transform"
	"github.com/septivank/linky-feed-ingester/tools/timeparser"
	"go.uber.org/zap"
)

const (
	defaultPage  = 1
	defaultLimit = 20
	maxLimit     = 1000
)

// Repository is the storage used by the HTTP API
type Repository interface {
	Upsert(ctx context.Context, sample db.ConsumptionSample) error
	ReadRange(ctx context.Context, startDay, endDay string) ([]db.ConsumptionSample, error)
	ReadByDay(ctx context.Context, day string) ([]db.ConsumptionSample, error)
	ReadAll(ctx context.Context) ([]db.ConsumptionSample, error)
	ReadPage(ctx context.Context, offset, limit int) (repository.Page, error)
	Count(ctx context.Context) (int64, error)
	ReadSetting(ctx context.Context, key string) (json.RawMessage, bool, error)
	WriteSetting(ctx context.Context, key string, value any) error
	Reset(ctx context.Context) error
}

// Runner starts ingestion runs and reports their state
type Runner interface {
	Run(ctx context.Context, mode feed.Mode, trigger service.Trigger) (service.Result, error)
	Status() service.Status
}

// Handler serves the dashboard API
type Handler struct {
	repo   Repository
	runner Runner
	logger *zap.Logger
}

// NewHandler creates a new API handler
func NewHandler(repo Repository, runner Runner, logger *zap.Logger) *Handler {
	return &Handler{repo: repo, runner: runner, logger: logger}
}

// Router builds the gin engine with every route registered
func (h *Handler) Router() *gin.Engine {
	router := gin.New()
	router.Use(Recovery(h.logger))
	router.Use(RequestLogger(h.logger))

	router.GET("/api/status", h.Status)

	api := router.Group("/api")
	{
		api.GET("/consumption", h.ListConsumption)
		api.POST("/consumption", h.SaveConsumption)
		api.GET("/consumption/day/:date", h.ConsumptionByDay)
		api.GET("/consumption/count", h.CountConsumption)
		api.GET("/consumption/paginated", h.PaginatedConsumption)

		api.GET("/settings/:key", h.GetSetting)
		api.POST("/settings/:key", h.SaveSetting)

		api.POST("/reset-database", h.ResetDatabase)

		api.POST("/ingest", h.Ingest)
		api.GET("/ingest/status", h.IngestStatus)
	}

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
	})

	return router
}

// HTTPHandler wraps the router with CORS for the given origins
func (h *Handler) HTTPHandler(allowedOrigins []string) http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", requestIDHeader},
		ExposedHeaders: []string{requestIDHeader},
	})
	return c.Handler(h.Router())
}

func (h *Handler) fail(c *gin.Context, status int, err error) {
	_ = c.Error(err)
	c.JSON(status, gin.H{"error": err.Error()})
}

// Status handles GET /api/status
func (h *Handler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "database": "postgres"})
}

// ListConsumption handles GET /api/consumption, optionally bounded by startDate and endDate
func (h *Handler) ListConsumption(c *gin.Context) {
	startDate := c.Query("startDate")
	endDate := c.Query("endDate")

	var (
		samples []db.ConsumptionSample
		err     error
	)
	if startDate != "" && endDate != "" {
		samples, err = h.repo.ReadRange(c.Request.Context(), startDate, endDate)
	} else {
		samples, err = h.repo.ReadAll(c.Request.Context())
	}
	if err != nil {
		h.fail(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, samples)
}

// ConsumptionByDay handles GET /api/consumption/day/:date
func (h *Handler) ConsumptionByDay(c *gin.Context) {
	samples, err := h.repo.ReadByDay(c.Request.Context(), c.Param("date"))
	if err != nil {
		h.fail(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, samples)
}

// SaveConsumption handles POST /api/consumption with a single sample. The stored day is
// derived from the timestamp and a negative papp is clamped to 0, as for ingested samples.
func (h *Handler) SaveConsumption(c *gin.Context) {
	var sample db.ConsumptionSample
	if err := c.ShouldBindJSON(&sample); err != nil {
		h.fail(c, http.StatusBadRequest, err)
		return
	}
	if strings.TrimSpace(sample.Timestamp) == "" {
		h.fail(c, http.StatusBadRequest, errors.New("timestamp is required"))
		return
	}
	// day always follows the timestamp key
	sample.Day = timeparser.DayOf(sample.Timestamp)
	if sample.Papp < 0 {
		sample.Papp = 0
	}
	if sample.Ptec == "" {
		sample.Ptec = transform.DefaultTariffPeriod
	}

	if err := h.repo.Upsert(c.Request.Context(), sample); err != nil {
		h.fail(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// CountConsumption handles GET /api/consumption/count
func (h *Handler) CountConsumption(c *gin.Context) {
	count, err := h.repo.Count(c.Request.Context())
	if err != nil {
		h.fail(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": count})
}

// PaginatedConsumption handles GET /api/consumption/paginated?page=&limit=
func (h *Handler) PaginatedConsumption(c *gin.Context) {
	page := queryInt(c, "page", defaultPage)
	limit := queryInt(c, "limit", defaultLimit)
	if limit > maxLimit {
		limit = maxLimit
	}

	result, err := h.repo.ReadPage(c.Request.Context(), (page-1)*limit, limit)
	if err != nil {
		h.fail(c, http.StatusInternalServerError, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": result.Samples,
		"pagination": gin.H{
			"page":       page,
			"limit":      limit,
			"total":      result.TotalCount,
			"totalPages": int64(math.Ceil(float64(result.TotalCount) / float64(limit))),
		},
	})
}

// queryInt reads a positive integer query parameter
func queryInt(c *gin.Context, name string, fallback int) int {
	value, err := strconv.Atoi(c.Query(name))
	if err != nil || value < 1 {
		return fallback
	}
	return value
}

// GetSetting handles GET /api/settings/:key; an absent key yields null
func (h *Handler) GetSetting(c *gin.Context) {
	value, ok, err := h.repo.ReadSetting(c.Request.Context(), c.Param("key"))
	if err != nil {
		h.fail(c, http.StatusInternalServerError, err)
		return
	}
	if !ok {
		c.Data(http.StatusOK, "application/json; charset=utf-8", []byte("null"))
		return
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", value)
}

type settingRequest struct {
	Value json.RawMessage `json:"value"`
}

// SaveSetting handles POST /api/settings/:key with body {"value": ...}
func (h *Handler) SaveSetting(c *gin.Context) {
	var req settingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, http.StatusBadRequest, err)
		return
	}
	if len(req.Value) == 0 {
		req.Value = json.RawMessage("null")
	}

	if err := h.repo.WriteSetting(c.Request.Context(), c.Param("key"), req.Value); err != nil {
		h.fail(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// ResetDatabase handles POST /api/reset-database
func (h *Handler) ResetDatabase(c *gin.Context) {
	if err := h.repo.Reset(c.Request.Context()); err != nil {
		h.fail(c, http.StatusInternalServerError, err)
		return
	}
	h.logger.Warn("database reset through the API")
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "database reset"})
}

// Ingest handles POST /api/ingest?mode=recent|full-history. The run is interactive.
func (h *Handler) Ingest(c *gin.Context) {
	mode, err := feed.ParseMode(c.DefaultQuery("mode", string(feed.ModeRecent)))
	if err != nil {
		h.fail(c, http.StatusBadRequest, err)
		return
	}

	result, err := h.runner.Run(c.Request.Context(), mode, service.TriggerInteractive)
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, result)
		return
	}
	if result.State == service.StateSkipped {
		c.JSON(http.StatusConflict, result)
		return
	}
	c.JSON(http.StatusOK, result)
}

// IngestStatus handles GET /api/ingest/status
func (h *Handler) IngestStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.runner.Status())
}
