package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/mmdatafocus/payments_backend/config"
	"github.com/mmdatafocus/payments_backend/middlewares"
	"github.com/mmdatafocus/payments_backend/models"
	"github.com/mmdatafocus/payments_backend/providers"
	"github.com/mmdatafocus/payments_backend/utils"
	"github.com/mmdatafocus/payments_backend/workflow"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const defaultPort = "8080"

// outboxNotifier bridges the orchestrator to the notification outbox.
type outboxNotifier struct{}

func (outboxNotifier) Enqueue(ctx context.Context, ev *models.NormalizedEvent, body json.RawMessage) error {
	db := config.GetDB()
	if db == nil {
		return errors.New("service not ready (database not initialized)")
	}
	return models.EnqueueNotification(ctx, db, ev, body)
}

// fxAPISource fetches base->quote rates from the rates API configured via
// FX_RATES_URL (GET {url}/{base}/{quote} -> {"rate":"1.08"}). Always consumed
// through CachedRateSource, never directly.
type fxAPISource struct {
	client *http.Client
}

func (s fxAPISource) Rate(ctx context.Context, base, quote string) (decimal.Decimal, error) {
	baseURL := os.Getenv("FX_RATES_URL")
	if baseURL == "" {
		return decimal.Zero, errors.New("FX_RATES_URL not set")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/%s/%s", baseURL, base, quote), nil)
	if err != nil {
		return decimal.Zero, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return decimal.Zero, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, fmt.Errorf("rates api returned %d", resp.StatusCode)
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return decimal.Zero, err
	}
	var body struct {
		Rate json.Number `json:"rate"`
	}
	if err := utils.UnmarshalFromJSON(raw, &body); err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromString(body.Rate.String())
}

func newOrchestrator(db *gorm.DB) *workflow.Orchestrator {
	o := workflow.NewOrchestrator(
		models.NewWebhookEventLedger(db),
		&workflow.RedisOrderLocker{Client: config.GetRedisLock()},
	)
	o.Notify = outboxNotifier{}
	return o
}

func webhookHandler(reg *workflow.TransitionRegistry, rates workflow.RateSource) gin.HandlerFunc {
	return func(c *gin.Context) {
		logger := config.GetLogger()

		adapter, ok := providers.ForName(c.Param("provider"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "unknown provider"})
			return
		}

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			config.LogError(logger, "server.go", "webhookHandler", "io.ReadAll", nil, err)
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "unreadable body"})
			return
		}

		ev, err := adapter.Normalize(body)
		if err != nil {
			config.LogError(logger, "server.go", "webhookHandler", "normalize payload", string(adapter.Provider()), err)
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
			return
		}

		db := config.GetDB()
		if db == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"success": false, "error": "service not ready"})
			return
		}

		// Display-currency enrichment for bank transfers. Rate problems never
		// block settlement; the amount stays in the original currency.
		if ev.Provider == models.ProviderBankwire && rates != nil && ev.Currency != "" && ev.Currency != "USD" {
			if rate, rerr := rates.Rate(c.Request.Context(), ev.Currency, "USD"); rerr == nil {
				if ev.Metadata == nil {
					ev.Metadata = map[string]interface{}{}
				}
				ev.Metadata["usd_amount"] = ev.Amount.Mul(rate).String()
			}
		}

		fn, ok := reg.For(ev.EventType)
		if !ok {
			// Ack unhandled event types so the provider stops retrying them.
			logger.WithFields(logrus.Fields{
				"provider":   ev.Provider,
				"event_type": ev.EventType,
			}).Warn("ignoring unhandled event type")
			c.JSON(http.StatusOK, gin.H{"success": true, "ignored": true})
			return
		}

		ctx := utils.SetCorrelationIdInContext(c.Request.Context(), uuid.NewString())
		res := newOrchestrator(db).Process(ctx, ev, fn)

		status := http.StatusOK
		switch res.Outcome {
		case workflow.OutcomeRejected:
			status = http.StatusBadRequest
		case workflow.OutcomeLockDenied:
			// "Ask me again later."
			status = http.StatusServiceUnavailable
		case workflow.OutcomeDuplicateInFlight:
			status = http.StatusConflict
		case workflow.OutcomeFailed:
			status = http.StatusInternalServerError
		case workflow.OutcomeDuplicateTerminal:
			if !res.Success {
				status = http.StatusInternalServerError
			}
		}
		c.JSON(status, res)
	}
}

func historyHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		db := config.GetDB()
		if db == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "service not ready"})
			return
		}

		f := models.HistoryFilter{
			Provider:    models.PaymentProvider(c.Query("provider")),
			Status:      models.WebhookEventStatus(c.Query("status")),
			Txid:        c.Query("txid"),
			ReferenceId: c.Query("reference_id"),
		}
		if v := c.Query("user_id"); v != "" {
			f.UserId, _ = strconv.Atoi(v)
		}
		if v := c.Query("limit"); v != "" {
			f.Limit, _ = strconv.Atoi(v)
		}
		if v := c.Query("since"); v != "" {
			if t, err := time.Parse(time.RFC3339, v); err == nil {
				f.Since = &t
			}
		}

		rows, err := models.NewWebhookEventLedger(db).History(c.Request.Context(), f)
		if err != nil {
			config.LogError(config.GetLogger(), "server.go", "historyHandler", "ledger history", f, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
			return
		}
		if operator, ok := utils.GetUserIdFromContext(c.Request.Context()); ok {
			config.GetLogger().WithFields(logrus.Fields{
				"operator_id": operator,
				"rows":        len(rows),
			}).Info("ledger history queried")
		}
		c.JSON(http.StatusOK, gin.H{"events": rows})
	}
}

func eventDetailHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		db := config.GetDB()
		if db == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "service not ready"})
			return
		}

		id, err := strconv.Atoi(c.Param("id"))
		if err != nil || id <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid event id"})
			return
		}

		row, err := models.NewWebhookEventLedger(db).Get(c.Request.Context(), id)
		if errors.Is(err, utils.ErrorRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "event not found"})
			return
		}
		if err != nil {
			config.LogError(config.GetLogger(), "server.go", "eventDetailHandler", "ledger get", id, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
			return
		}
		if claim := middlewares.CtxValue(c.Request.Context()); claim != nil {
			config.GetLogger().WithFields(logrus.Fields{
				"operator_id":   claim.ID,
				"operator_role": claim.Role,
				"ledger_id":     id,
			}).Info("ledger row inspected")
		}
		c.JSON(http.StatusOK, row)
	}
}

func stuckEventsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !utils.IsAdminFromContext(c.Request.Context()) {
			c.JSON(http.StatusForbidden, gin.H{"error": "admin role required"})
			return
		}

		db := config.GetDB()
		if db == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "service not ready"})
			return
		}

		olderThan := 30 * time.Minute
		if v := c.Query("older_than_minutes"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				olderThan = time.Duration(n) * time.Minute
			}
		}

		rows, err := models.NewWebhookEventLedger(db).StuckProcessing(c.Request.Context(), olderThan)
		if err != nil {
			config.LogError(config.GetLogger(), "server.go", "stuckEventsHandler", "stuck query", nil, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"events": rows, "count": len(rows)})
	}
}

func fxCacheInvalidateHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !utils.IsAdminFromContext(c.Request.Context()) {
			c.JSON(http.StatusForbidden, gin.H{"error": "admin role required"})
			return
		}

		fresh, stale := workflow.RateCacheKeys(c.Param("base"), c.Param("quote"))
		if err := config.RemoveRedisKey(fresh, stale); err != nil {
			config.LogError(config.GetLogger(), "server.go", "fxCacheInvalidateHandler", "remove cached rate", fresh, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "invalidation failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"invalidated": []string{fresh, stale}})
	}
}

func customErrorLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		for _, ginErr := range c.Errors {
			logger.WithFields(logrus.Fields{
				"path":   c.Request.URL.Path,
				"status": c.Writer.Status(),
			}).Error(ginErr.Error())
		}
	}
}

func retentionLoop(ctx context.Context, logger *logrus.Logger) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		db := config.GetDB()
		if db == nil {
			continue
		}
		horizon := time.Duration(config.WebhookRetentionDays()) * 24 * time.Hour
		purged, err := models.PurgeTerminalEvents(ctx, db, horizon)
		if err != nil {
			config.LogError(logger, "server.go", "retentionLoop", "purge terminal events", nil, err)
			continue
		}
		logger.WithFields(logrus.Fields{"purged": purged}).Info("ledger retention pass complete")
	}
}

func main() {
	logger := config.GetLogger()

	port := os.Getenv("PORT")
	if port == "" {
		port = defaultPort
	}

	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}

	reg := workflow.NewTransitionRegistry()
	// Deposit-confirming event types per provider. Everything else is acked
	// and ignored.
	settle := workflow.SettleDepositTransition()
	reg.Register("deposit.completed", settle)  // coinpaid
	reg.Register("payment.updated", settle)    // chainpay (unconfirmed + confirmed)
	reg.Register("transfer.received", settle)  // bankwire

	rates := workflow.NewCachedRateSource(
		fxAPISource{client: &http.Client{Timeout: 10 * time.Second}},
		workflow.RedisRateStore{},
	)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(customErrorLogger(logger))
	r.Use(cors.New(cors.Config{
		AllowOrigins:  []string{"*"},
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "db": config.GetDB() != nil, "redis": config.GetRedisDB() != nil})
	})
	r.POST("/webhooks/:provider", webhookHandler(reg, rates))

	api := r.Group("/api", middlewares.AuthMiddleware())
	api.GET("/webhook-events", historyHandler())
	api.GET("/webhook-events/stuck", stuckEventsHandler())
	api.GET("/webhook-events/:id", eventDetailHandler())
	api.DELETE("/fx-cache/:base/:quote", fxCacheInvalidateHandler())

	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}

	workerCtx, stopWorkers := context.WithCancel(context.Background())

	// Cloud Run: listen first, then bring up dependencies with retry.
	go func() {
		config.ConnectDatabaseWithRetry()
		config.ConnectRedisWithRetry()
		models.MigrateTable()

		go workflow.NewNotificationDispatcher(config.GetDB(), logger, workflow.PubSubNotificationPublisher{}).Run(workerCtx)
		go retentionLoop(workerCtx, logger)
	}()

	go func() {
		log.Printf("listening on :%s", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("shutting down")

	stopWorkers()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("forced shutdown: %v", err)
	}
}
