package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/smith3v/pdf-word-trainer/pkg/config"
	"github.com/smith3v/pdf-word-trainer/pkg/db"
	"github.com/smith3v/pdf-word-trainer/pkg/jobs"
	"github.com/smith3v/pdf-word-trainer/pkg/logger"
	"github.com/smith3v/pdf-word-trainer/pkg/metrics"
	"github.com/smith3v/pdf-word-trainer/pkg/progress"
	"github.com/smith3v/pdf-word-trainer/pkg/training"
	"github.com/spf13/cast"
	"github.com/ulule/limiter/v3"
	mgin "github.com/ulule/limiter/v3/drivers/middleware/gin"
	"github.com/ulule/limiter/v3/drivers/store/memory"
)

const (
	userHeader = "X-User-ID"
	userKey    = "user_id"
)

// CacheClearer empties the translation cache.
type CacheClearer interface {
	ClearCache(ctx context.Context) error
}

type Options struct {
	UploadRate     string
	MaxUploadBytes int64
	StreamPoll     time.Duration
	Heartbeat      time.Duration
	Language       string
}

func OptionsFromConfig(h config.HTTPConfig, r config.ReviewConfig) Options {
	return Options{
		UploadRate:     h.UploadRate,
		MaxUploadBytes: int64(h.MaxUploadMB) << 20,
		StreamPoll:     h.StreamPoll.Duration,
		Heartbeat:      h.HeartbeatInterval.Duration,
		Language:       r.Language,
	}
}

type Server struct {
	docs   *jobs.Service
	cards  *training.Service
	hub    *progress.Hub
	cache  CacheClearer
	opts   Options
	upload *limiter.Limiter
}

func New(docs *jobs.Service, cards *training.Service, hub *progress.Hub, cache CacheClearer, opts Options) (*Server, error) {
	if opts.UploadRate == "" {
		opts.UploadRate = "10-M"
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 50 << 20
	}
	if opts.Language == "" {
		opts.Language = "en"
	}
	rate, err := limiter.NewRateFromFormatted(opts.UploadRate)
	if err != nil {
		return nil, err
	}
	return &Server{
		docs:   docs,
		cards:  cards,
		hub:    hub,
		cache:  cache,
		opts:   opts,
		upload: limiter.New(memory.NewStore(), rate),
	}, nil
}

func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())

	r.GET("/healthz", s.health)
	r.GET("/metrics", metrics.Handler())

	api := r.Group("/api", requireUser())
	api.POST("/documents", mgin.NewMiddleware(s.upload, mgin.WithKeyGetter(func(c *gin.Context) string {
		return c.GetHeader(userHeader)
	})), s.uploadDocument)
	api.GET("/documents", s.listDocuments)
	api.GET("/documents/:id", s.getDocument)
	api.PATCH("/documents/:id", s.renameDocument)
	api.DELETE("/documents/:id", s.deleteDocument)
	api.GET("/documents/:id/progress", s.documentProgress)
	api.GET("/documents/:id/stream", s.streamProgress)
	api.GET("/documents/:id/words", s.listWords)
	api.POST("/documents/:id/flashcards", s.promoteDocument)

	api.POST("/words/:id/flashcard", s.promoteWord)

	api.GET("/flashcards", s.listCards)
	api.GET("/flashcards/due", s.dueCards)
	api.GET("/flashcards/stats", s.cardStats)
	api.POST("/flashcards/:id/review", s.reviewCard)
	api.POST("/flashcards/:id/reset", s.resetCard)
	api.DELETE("/flashcards/:id", s.deleteCard)

	api.DELETE("/admin/translation-cache", s.clearCache)
	return r
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("http request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}

// requireUser takes the caller's identity from the X-User-ID header set by
// the authenticating proxy.
func requireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := cast.ToInt64E(strings.TrimSpace(c.GetHeader(userHeader)))
		if err != nil || id <= 0 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing or invalid " + userHeader})
			return
		}
		c.Set(userKey, id)
		c.Next()
	}
}

func userID(c *gin.Context) int64 {
	return c.GetInt64(userKey)
}

func pathID(c *gin.Context) (uint, bool) {
	id, err := cast.ToUintE(c.Param("id"))
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, false
	}
	return id, true
}

func (s *Server) health(c *gin.Context) {
	sqlDB, err := db.DB.DB()
	if err == nil {
		err = sqlDB.PingContext(c.Request.Context())
	}
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": "database ping failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

func (s *Server) clearCache(c *gin.Context) {
	if s.cache == nil {
		c.Status(http.StatusNoContent)
		return
	}
	if err := s.cache.ClearCache(c.Request.Context()); err != nil {
		internalError(c, "failed to clear translation cache", err)
		return
	}
	logger.Info("translation cache cleared", "user_id", userID(c))
	c.Status(http.StatusNoContent)
}

func internalError(c *gin.Context, msg string, err error) {
	logger.Error(msg, "path", c.FullPath(), "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}

func notFound(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
}

func isClientGone(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
