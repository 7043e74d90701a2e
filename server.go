package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/mmdatafocus/consolidation_backend/config"
	"github.com/mmdatafocus/consolidation_backend/middlewares"
	"github.com/mmdatafocus/consolidation_backend/models"
	"github.com/mmdatafocus/consolidation_backend/utils"
	"github.com/mmdatafocus/consolidation_backend/workflow"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const defaultPort = "8080"

// Define a struct to represent the rate limiter.
type RateLimiter struct {
	client *redis.Client
	limit  int64
	window time.Duration
}

type appServices struct {
	store          models.Store
	reconciliation *models.ReconciliationService
	reference      *models.ReferenceService
	batch          *workflow.BatchProcessor
}

// App holds the services behind the REST API. Services are swapped in once the
// store is ready; until then every route except /healthz answers 503.
type App struct {
	logger   *logrus.Logger
	services atomic.Pointer[appServices]
}

func NewApp(logger *logrus.Logger) *App {
	if logger == nil {
		logger = config.GetLogger()
	}
	return &App{logger: logger}
}

// SetStore builds the services over store and marks the app ready.
func (a *App) SetStore(store models.Store) {
	a.services.Store(&appServices{
		store:          store,
		reconciliation: models.NewReconciliationService(store, a.logger),
		reference:      models.NewReferenceService(store, a.logger),
		batch:          workflow.NewBatchProcessor(store, a.logger),
	})
}

func (a *App) svc() *appServices {
	return a.services.Load()
}

func (a *App) currentStore() models.Store {
	if s := a.svc(); s != nil {
		return s.store
	}
	return nil
}

func getRedisClient(redisAddress string) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr: redisAddress,
	})
	return client
}

func customNotFoundHandler(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"status": false, "message": "route not found"})
}

// Router builds the gin engine. Rate limiting is attached only when limiter is non-nil.
func (a *App) Router(limiter *RateLimiter) *gin.Engine {
	r := gin.New()
	r.Use(func(c *gin.Context) {
		cid := c.GetHeader("x-correlation-id")
		if cid == "" {
			cid = uuid.NewString()
		}
		c.Header("x-correlation-id", cid)
		c.Request = c.Request.WithContext(utils.SetCorrelationIdInContext(c.Request.Context(), cid))
		c.Next()
	})
	r.Use(func(c *gin.Context) {
		if c.Request.URL.Path == "/healthz" {
			c.Status(http.StatusNoContent)
			c.Abort()
			return
		}
		if a.svc() == nil {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"status": false, "message": "service not ready"})
			return
		}
		c.Next()
	})

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	corsConfig := cors.DefaultConfig()
	allowedOrigins := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production") {
		if allowedOrigins == "" {
			// no browser origins allowed; cors rejects an empty origin list
			corsConfig.AllowOriginFunc = func(string) bool { return false }
		} else {
			corsConfig.AllowOrigins = splitAndTrim(allowedOrigins)
		}
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AddAllowMethods("GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS")
	corsConfig.AddAllowHeaders("token", "Origin", "Content-Type", "Authorization", middlewares.OpsKeyHeader, "x-correlation-id")
	corsConfig.AddExposeHeaders("Content-Length", "Content-Disposition", "x-correlation-id")
	corsConfig.AllowCredentials = !corsConfig.AllowAllOrigins

	r.Use(cors.New(corsConfig))

	if limiter != nil {
		r.Use(limiter.RateLimitMiddleware)
	}

	r.Use(middlewares.SessionMiddleware())
	r.Use(middlewares.AuthMiddleware())
	r.Use(middlewares.LoaderMiddleware(a.currentStore))
	r.Use(customErrorLogger(a.logger))
	r.Use(gin.Recovery())

	a.registerRoutes(r.Group("/api/v1"))
	r.NoRoute(customNotFoundHandler)
	return r
}

// rateLimiterFromEnv returns nil unless RATE_LIMIT_ENABLED=true.
func rateLimiterFromEnv() *RateLimiter {
	if !strings.EqualFold(strings.TrimSpace(os.Getenv("RATE_LIMIT_ENABLED")), "true") {
		return nil
	}
	client := getRedisClient(os.Getenv("REDIS_ADDRESS"))
	limit := int64(600)
	if v := strings.TrimSpace(os.Getenv("RATE_LIMIT_MAX_REQUESTS")); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			limit = n
		}
	}
	windowSec := int64(60)
	if v := strings.TrimSpace(os.Getenv("RATE_LIMIT_WINDOW_SECONDS")); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			windowSec = n
		}
	}
	return NewRateLimiter(client, limit, time.Duration(windowSec)*time.Second)
}

// openStore connects the configured backend and prepares its schema.
func openStore(ctx context.Context, logger *logrus.Logger) (models.Store, func(), error) {
	if config.UseMemoryStore() {
		store := models.NewMemoryStore()
		if err := models.SeedReconciliationStates(ctx, store); err != nil {
			return nil, nil, err
		}
		logger.WithFields(logrus.Fields{"field": "store"}).Warn("STORE_BACKEND=memory; data is not persisted")
		return store, func() {}, nil
	}

	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	store := models.NewGormStore(db)
	closeFn := func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
	if !strings.EqualFold(strings.TrimSpace(os.Getenv("SKIP_MIGRATIONS")), "true") {
		if err := models.MigrateAndSeed(ctx, db, store); err != nil {
			closeFn()
			return nil, nil, err
		}
	} else {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
		if err := models.SeedReconciliationStates(ctx, store); err != nil {
			logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("seeding reconciliation states failed: " + err.Error())
		}
	}
	return store, closeFn, nil
}

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = defaultPort
	}

	logger := config.GetLogger()

	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	app := NewApp(logger)
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: app.Router(rateLimiterFromEnv()),
	}
	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- srv.ListenAndServe()
	}()

	// The listener is up first; the readiness gate answers 503 until the store is set.
	if strings.TrimSpace(os.Getenv("REDIS_ADDRESS")) != "" {
		config.ConnectRedisWithRetry()
	}
	store, closeStore, err := openStore(sigCtx, logger)
	if err != nil {
		config.LogError(logger, "server.go", "main", "openStore", nil, err)
		log.Fatal(err)
	}
	defer closeStore()
	app.SetStore(store)

	logger.WithFields(logrus.Fields{
		"field": "main",
		"info":  "Connection Established",
	}).Info(fmt.Sprintf("reconciliation API listening on :%s", port))

	select {
	case <-sigCtx.Done():
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithFields(logrus.Fields{"field": "http"}).Error("server stopped unexpectedly: " + err.Error())
		}
	}

	shutdownTimeout := 30 * time.Second
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithFields(logrus.Fields{"field": "http"}).Error("graceful shutdown failed: " + err.Error())
	}

	_ = config.ClosePubSubClient()
	if rdb := config.GetRedisDB(); rdb != nil {
		_ = rdb.Close()
	}
}

// customErrorLogger is a custom Gin middleware that logs only errors
func customErrorLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) > 0 {
			logger.Error(c.Errors.String())
		}
	}
}

// Initialize a new RateLimiter instance.
func NewRateLimiter(client *redis.Client, limit int64, window time.Duration) *RateLimiter {
	return &RateLimiter{
		client: client,
		limit:  limit,
		window: window,
	}
}

// Middleware function to check rate limits.
func (rl *RateLimiter) RateLimitMiddleware(c *gin.Context) {
	key := "RateLimit:" + c.ClientIP()

	count, err := rl.client.Incr(c.Request.Context(), key).Result()
	if err != nil {
		// Redis outage must not take the API down.
		c.Next()
		return
	}
	if count == 1 {
		rl.client.Expire(c.Request.Context(), key, rl.window)
	}

	if count > rl.limit {
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"status":  false,
			"message": fmt.Sprintf("Rate limit exceeded. Try again in %d seconds", int(rl.window.Seconds())),
		})
		return
	}

	c.Next()
}

func splitAndTrim(csv string) []string {
	if strings.TrimSpace(csv) == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
