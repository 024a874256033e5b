package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	pubnub "github.com/pubnub/go"

	"ticket-pipeline/config"
	"ticket-pipeline/handlers"
	"ticket-pipeline/ledger"
	"ticket-pipeline/models"
	"ticket-pipeline/monitoring"
	"ticket-pipeline/queue"
	"ticket-pipeline/security"
	"ticket-pipeline/services"
	"ticket-pipeline/store"
	"ticket-pipeline/token"
	"ticket-pipeline/utils"
)

func main() {
	// Load configuration
	cfg := config.LoadConfig()

	// Initialize Redis
	redisClient := utils.NewRedisClient(cfg.RedisURL, cfg.RedisPassword, cfg.RedisDB)
	defer redisClient.Close()

	// Initialize PubNub for ticket delivery
	pnConfig := pubnub.NewConfig()
	pnConfig.PublishKey = cfg.PubNubPublishKey
	pnConfig.SubscribeKey = cfg.PubNubSubscribeKey
	pnConfig.SecretKey = cfg.PubNubSecretKey

	pn := pubnub.NewPubNub(pnConfig)

	// Initialize core components
	codec := token.NewCodec(cfg.TokenSecret)
	st := store.New(redisClient)
	q := queue.NewClient(redisClient, cfg.VisibilityTimeout, cfg.MaxDeliveryAttempts, cfg.IdempotencyRetention)
	ld := ledger.New(redisClient, cfg.IdempotencyLease, cfg.IdempotencyRetention)

	// Initialize services
	checkinService := services.NewCheckinService(redisClient, codec, cfg.ScanEchoWindow)
	issuanceService := services.NewIssuanceService(st, ld, q)
	reconciliationService := services.NewReconciliationService(st, ld, q)
	notificationService := services.NewNotificationService(st, ld, codec,
		services.NewPubNubProvider(pn), cfg.TokenTTL)

	// Initialize handlers
	checkinHandler := handlers.NewCheckinHandler(checkinService)
	webhookHandler := handlers.NewWebhookHandler(q, cfg.WebhookSecret)
	orderHandler := handlers.NewOrderHandler(st)
	rateLimiter := security.NewRateLimiter(redisClient, cfg.ScanBurstPerMin)

	// Create context for background tasks
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Start the worker pool
	worker := services.NewWorker(q, cfg)
	worker.Register(models.JobIssueTicket, issuanceService.Handle)
	worker.Register(models.JobReconcilePayment, reconciliationService.Handle)
	worker.Register(models.JobSendNotification, notificationService.Handle)
	worker.Start(ctx)

	// Start queue depth sampling
	monitor := monitoring.NewMonitor(redisClient)
	monitor.Start()

	// Register routes
	e := echo.New()
	e.POST("/api/checkin/validate", checkinHandler.Validate, rateLimiter.ScanBurstLimit())
	e.POST("/api/webhooks/payment", webhookHandler.HandlePaymentEvent)
	e.POST("/api/orders", orderHandler.CreateOrder)
	e.GET("/api/orders/:id", orderHandler.GetOrder)
	e.GET("/health", func(c echo.Context) error {
		if err := utils.RedisHealthCheck(redisClient); err != nil {
			return c.JSON(503, map[string]string{
				"status": "unhealthy",
				"error":  err.Error(),
			})
		}
		return c.JSON(200, map[string]string{"status": "healthy"})
	})

	// Metrics on a separate port so it stays off the public surface
	if cfg.EnableMetrics {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			log.Printf("Metrics listening on :%s", cfg.MetricsPort)
			if err := http.ListenAndServe(":"+cfg.MetricsPort, mux); err != nil && err != http.ErrServerClosed {
				log.Printf("Metrics server error: %v", err)
			}
		}()
	}

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: e,
	}

	// Setup graceful shutdown
	go handleShutdown(cancel, srv, worker, monitor)

	log.Printf("Ticket pipeline listening on :%s (%s)", cfg.Port, cfg.Environment)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Server error: %v", err)
	}

	log.Println("Server stopped")
}

// handleShutdown handles graceful shutdown
func handleShutdown(cancel context.CancelFunc, srv *http.Server, worker *services.Worker, monitor *monitoring.Monitor) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	<-sigChan
	log.Println("Shutdown signal received, cleaning up...")

	cancel()
	worker.Shutdown()
	monitor.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}
}
