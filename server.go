package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"bitbucket.org/mmdatafocus/cfo_backend/booksync"
	"bitbucket.org/mmdatafocus/cfo_backend/config"
	"bitbucket.org/mmdatafocus/cfo_backend/models"
	"bitbucket.org/mmdatafocus/cfo_backend/utils"
	"bitbucket.org/mmdatafocus/cfo_backend/workflow"
)

const defaultPort = "8080"

type PubSubMessage struct {
	Message struct {
		Data []byte `json:"data,omitempty"`
		ID   string `json:"id"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

func syncPubSubHandler(recomputer *workflow.Recomputer) gin.HandlerFunc {
	return func(c *gin.Context) {
		logger := config.GetLogger()

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			config.LogError(logger, "server.go", "syncPubSubHandler", "io.ReadAll", nil, err)
			// Malformed request body: ack/drop to avoid infinite retries.
			c.Status(http.StatusNoContent)
			return
		}

		// byte slice unmarshalling handles base64 decoding.
		var envelope PubSubMessage
		if err := json.Unmarshal(body, &envelope); err != nil {
			config.LogError(logger, "server.go", "syncPubSubHandler", "Unmarshal body", body, err)
			c.Status(http.StatusNoContent)
			return
		}

		var msg booksync.SyncMessage
		if err := json.Unmarshal(envelope.Message.Data, &msg); err != nil {
			config.LogError(logger, "server.go", "syncPubSubHandler", "Unmarshal sync message", envelope.Message.Data, err)
			c.Status(http.StatusNoContent)
			return
		}
		if err := msg.Validate(); err != nil {
			// Poison message: ack/drop so Pub/Sub stops redelivering.
			config.LogError(logger, "server.go", "syncPubSubHandler", "Invalid sync message", msg, err)
			c.Status(http.StatusNoContent)
			return
		}

		// Correlation ID propagation: prefer payload correlation_id; fall
		// back to the Pub/Sub message ID.
		if msg.CorrelationId == "" {
			msg.CorrelationId = envelope.Message.ID
		}

		result, err := booksync.ProcessSyncMessage(c.Request.Context(), logger, recomputer, msg)
		if err != nil {
			logger.WithFields(logrus.Fields{
				"field":          "syncPubSubHandler",
				"company_id":     msg.CompanyId,
				"message_id":     envelope.Message.ID,
				"correlation_id": msg.CorrelationId,
			}).Error("sync processing failed: " + err.Error())
			// Non-2xx tells Pub/Sub to retry (and potentially route to DLQ).
			c.Status(http.StatusInternalServerError)
			return
		}
		if result.Skipped {
			logger.WithFields(logrus.Fields{
				"field":      "syncPubSubHandler",
				"company_id": msg.CompanyId,
				"reason":     result.SkipReason,
			}).Info("recompute skipped")
		}
		c.Status(http.StatusNoContent)
	}
}

type recomputeRequest struct {
	CompanyId    string `json:"company_id"`
	AmendedMonth string `json:"amended_month"`
}

func recomputeTriggerHandler(recomputer *workflow.Recomputer) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req recomputeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		if req.CompanyId == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "company_id is required"})
			return
		}

		ctx := utils.SetCompanyIdInContext(c.Request.Context(), req.CompanyId)
		result, err := recomputer.Recompute(ctx, workflow.RecomputeOptions{
			CompanyId:    req.CompanyId,
			SyncedAt:     time.Now().UTC(),
			AmendedMonth: req.AmendedMonth,
		})
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		resp := gin.H{
			"job_id":  result.JobId,
			"skipped": result.Skipped,
		}
		if result.Skipped {
			resp["skip_reason"] = result.SkipReason
		} else {
			resp["months_processed"] = len(result.Months)
			resp["alerts_changed"] = result.AlertsChanged
			if result.Metrics != nil {
				resp["metrics_written"] = result.Metrics.Written
				resp["metrics_skipped"] = result.Metrics.Skipped
			}
		}
		c.JSON(http.StatusOK, resp)
	}
}

type outboxReplayRequest struct {
	CompanyId string `json:"company_id"`
	RecordId  int    `json:"record_id"`
}

// outboxReplayHandler re-queues a DEAD/FAILED outbox row for publishing.
func outboxReplayHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req outboxReplayRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		if req.CompanyId == "" || req.RecordId <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "company_id and record_id are required"})
			return
		}

		db := config.GetDB()
		if db == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "db is nil"})
			return
		}
		now := time.Now().UTC()
		if err := db.WithContext(c.Request.Context()).
			Model(&models.RecomputeEventRecord{}).
			Where("id = ? AND company_id = ?", req.RecordId, req.CompanyId).
			Updates(map[string]interface{}{
				"publish_status":     models.OutboxPublishStatusFailed,
				"next_attempt_at":    &now,
				"locked_at":          nil,
				"locked_by":          nil,
				"last_publish_error": nil,
			}).Error; err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"company_id":      req.CompanyId,
			"record_id":       req.RecordId,
			"publish_status":  models.OutboxPublishStatusFailed,
			"next_attempt_at": now.Format(time.RFC3339Nano),
		})
	}
}

func companyScoped(c *gin.Context) (*gin.Context, string) {
	companyId := c.Param("companyId")
	ctx := utils.SetCompanyIdInContext(c.Request.Context(), companyId)
	c.Request = c.Request.WithContext(ctx)
	return c, companyId
}

func latestSummaryHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c, companyId := companyScoped(c)
		var summary models.MonthlySummary
		err := config.GetDB().WithContext(c.Request.Context()).
			Where("company_id = ?", companyId).
			Order("month DESC").First(&summary).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "no summaries"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, summary)
	}
}

func monthSummaryHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c, companyId := companyScoped(c)
		month, err := utils.NormalizeMonthKey(c.Param("month"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid month"})
			return
		}
		var summary models.MonthlySummary
		err = config.GetDB().WithContext(c.Request.Context()).
			Where("company_id = ? AND month = ?", companyId, month).
			First(&summary).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "month not found"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, summary)
	}
}

func metricsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c, companyId := companyScoped(c)
		q := config.GetDB().WithContext(c.Request.Context()).
			Where("company_id = ?", companyId)
		if key := c.Query("key"); key != "" {
			q = q.Where("metric_key = ?", key)
		}
		if scope := c.Query("scope"); scope != "" {
			q = q.Where("scope = ?", scope)
		}
		if month := c.Query("month"); month != "" {
			q = q.Where("month = ?", month)
		}
		var metrics []models.Metric
		if err := q.Order("metric_key, scope, month").Find(&metrics).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"metrics": metrics})
	}
}

func currentBalancesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c, companyId := companyScoped(c)
		var rows []models.CurrentBalance
		err := config.GetDB().WithContext(c.Request.Context()).
			Where("company_id = ?", companyId).
			Order("kind, balance DESC").Find(&rows).Error
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"balances": rows})
	}
}

func liquidityHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c, companyId := companyScoped(c)
		var liq models.CurrentLiquidity
		err := config.GetDB().WithContext(c.Request.Context()).
			Where("company_id = ?", companyId).First(&liq).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not computed yet"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, liq)
	}
}

func counterpartiesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c, companyId := companyScoped(c)
		kind := c.DefaultQuery("kind", string(models.BreakdownKindDebtor))
		month := c.Query("month")
		q := config.GetDB().WithContext(c.Request.Context()).
			Where("company_id = ? AND kind = ?", companyId, kind)
		if month != "" {
			q = q.Where("month = ?", month)
		} else {
			sub := config.GetDB().Model(&models.CounterpartyBreakdown{}).
				Select("MAX(month)").
				Where("company_id = ? AND kind = ?", companyId, kind)
			q = q.Where("month = (?)", sub)
		}
		var rows []models.CounterpartyBreakdown
		if err := q.Order("closing_balance DESC").Find(&rows).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"counterparties": rows})
	}
}

func alertsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c, companyId := companyScoped(c)
		var alerts []models.Alert
		err := config.GetDB().WithContext(c.Request.Context()).
			Where("company_id = ?", companyId).
			Order("severity, rule_key").Find(&alerts).Error
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"alerts": alerts})
	}
}

const metricRunCacheTTL = 5 * time.Minute

func latestMetricRunHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c, companyId := companyScoped(c)
		cacheKey := config.MetricRunCacheKey(companyId)

		var run models.MetricRun
		if hit, err := config.GetRedisObject(cacheKey, &run); err == nil && hit {
			c.JSON(http.StatusOK, run)
			return
		}

		err := config.GetDB().WithContext(c.Request.Context()).
			Where("company_id = ?", companyId).
			Order("created_at DESC").First(&run).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "no runs"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		// Cache failures only cost the next request a DB read.
		if err := config.SetRedisObject(cacheKey, run, metricRunCacheTTL); err != nil {
			config.LogError(config.GetLogger(), "server.go", "latestMetricRunHandler", "CacheSet", cacheKey, err)
		}
		c.JSON(http.StatusOK, run)
	}
}

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if v := strings.TrimSpace(p); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func main() {
	port := os.Getenv("API_PORT")
	if port == "" {
		// Cloud Run standard env var.
		port = os.Getenv("PORT")
	}
	if port == "" {
		port = defaultPort
	}

	logger := config.GetLogger()

	// Cloud Run sends SIGTERM on revision shutdown; handle it for graceful drain.
	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	// Start the HTTP server ASAP so Cloud Run considers the revision
	// healthy. Until the DB is ready, app endpoints return 503.
	r := gin.New()
	// Correlation IDs: generate once per request and attach to context.
	r.Use(func(c *gin.Context) {
		cid := c.GetHeader("x-correlation-id")
		if cid == "" {
			cid = uuid.NewString()
		}
		c.Request = c.Request.WithContext(utils.SetCorrelationIdInContext(c.Request.Context(), cid))
		c.Next()
	})
	r.Use(func(c *gin.Context) {
		// Always allow Cloud Run startup probe.
		if c.Request.URL.Path == "/healthz" {
			c.Status(http.StatusNoContent)
			c.Abort()
			return
		}
		// Gate critical endpoints on dependency readiness.
		if config.GetDB() == nil {
			c.AbortWithStatus(http.StatusServiceUnavailable)
			return
		}
		c.Next()
	})

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	corsConfig := cors.DefaultConfig()
	// Production requires an explicit allowlist; dev allows all.
	allowedOrigins := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production") {
		if allowedOrigins == "" {
			corsConfig.AllowOrigins = []string{}
		} else {
			corsConfig.AllowOrigins = splitAndTrim(allowedOrigins)
		}
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AddAllowMethods("GET", "POST", "PUT", "DELETE", "OPTIONS")
	corsConfig.AddAllowHeaders("token", "Origin", "Content-Type", "Authorization")
	corsConfig.AddExposeHeaders("Content-Length")
	corsConfig.AllowCredentials = true
	r.Use(cors.New(corsConfig))
	r.Use(gin.Recovery())

	// The recomputer binds the DB lazily so routes can be registered
	// before the connection is established; the readiness gate 503s until
	// then.
	recomputer := workflow.NewRecomputer(nil, logger)

	r.POST("/pubsub", syncPubSubHandler(recomputer))
	r.POST("/internal/recompute", recomputeTriggerHandler(recomputer))
	// Ops tooling: replay outbox messages that were marked DEAD/FAILED.
	r.POST("/internal/ops/outbox/replay", outboxReplayHandler())

	r.GET("/api/companies/:companyId/summary/latest", latestSummaryHandler())
	r.GET("/api/companies/:companyId/summary/:month", monthSummaryHandler())
	r.GET("/api/companies/:companyId/metrics", metricsHandler())
	r.GET("/api/companies/:companyId/current-balances", currentBalancesHandler())
	r.GET("/api/companies/:companyId/liquidity", liquidityHandler())
	r.GET("/api/companies/:companyId/counterparties", counterpartiesHandler())
	r.GET("/api/companies/:companyId/alerts", alertsHandler())
	r.GET("/api/companies/:companyId/metric-runs/latest", latestMetricRunHandler())

	// Start listening immediately (Cloud Run startup probe is TCP based).
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}
	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- srv.ListenAndServe()
	}()

	// Connect dependencies after the port is open.
	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()

	db := config.GetDB()
	sqlDB, _ := db.DB()
	defer func() {
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	}()
	// AutoMigrate can run DDL that blocks tables; allow running migrations
	// as a separate job instead.
	if !strings.EqualFold(strings.TrimSpace(os.Getenv("SKIP_MIGRATIONS")), "true") {
		models.MigrateTable()
	} else {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	}

	// Start outbox dispatcher (publishes AFTER commit).
	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	defer cancelWorkers()
	go workflow.NewOutboxDispatcher(db, logger).Run(workerCtx)

	// Optional pull subscriber for environments without push endpoints.
	if strings.EqualFold(strings.TrimSpace(os.Getenv("BOOKSYNC_PULL_ENABLED")), "true") {
		go func() {
			if err := booksync.StartSyncSubscriber(workerCtx, logger, recomputer); err != nil {
				config.LogError(logger, "server.go", "main", "SyncSubscriber", nil, err)
			}
		}()
	}

	// Set the session isolation level to READ COMMITTED
	for attempt := 1; ; attempt++ {
		err := db.Exec("SET SESSION TRANSACTION ISOLATION LEVEL READ COMMITTED").Error
		if err == nil {
			break
		}
		sleep := time.Second * time.Duration(1<<min(attempt, 5))
		if sleep > 30*time.Second {
			sleep = 30 * time.Second
		}
		logger.WithFields(logrus.Fields{
			"field":   "database",
			"attempt": attempt,
		}).Warn("failed to set isolation level; retrying in " + sleep.String() + ": " + err.Error())
		time.Sleep(sleep)
	}

	log.Println("Server started successfully")

	// Block until shutdown or server error.
	select {
	case <-sigCtx.Done():
		// graceful shutdown below
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithFields(logrus.Fields{"field": "http"}).Error("server stopped unexpectedly: " + err.Error())
		}
	}

	// Stop background workers first so they don't start new work while draining.
	cancelWorkers()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithFields(logrus.Fields{"field": "http"}).Error("graceful shutdown failed: " + err.Error())
	}
}
