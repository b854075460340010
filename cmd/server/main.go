package main

import (
	"context"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/cx-tal-miterani/parking-session-system/internal/activities"
	"github.com/cx-tal-miterani/parking-session-system/internal/assignment"
	"github.com/cx-tal-miterani/parking-session-system/internal/config"
	"github.com/cx-tal-miterani/parking-session-system/internal/database"
	"github.com/cx-tal-miterani/parking-session-system/internal/feed"
	"github.com/cx-tal-miterani/parking-session-system/internal/handlers"
	"github.com/cx-tal-miterani/parking-session-system/internal/heartbeat"
	"github.com/cx-tal-miterani/parking-session-system/internal/middleware"
	"github.com/cx-tal-miterani/parking-session-system/internal/occupancy"
	"github.com/cx-tal-miterani/parking-session-system/internal/pricing"
	"github.com/cx-tal-miterani/parking-session-system/internal/reconcile"
	"github.com/cx-tal-miterani/parking-session-system/internal/router"
	"github.com/cx-tal-miterani/parking-session-system/internal/service"
	"github.com/cx-tal-miterani/parking-session-system/internal/session"
	"github.com/cx-tal-miterani/parking-session-system/internal/sessionworker"
	"github.com/cx-tal-miterani/parking-session-system/internal/websocket"
	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"
	"go.temporal.io/sdk/client"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := config.Load()

	pool, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}

	// Change feed: every committed claim/release goes to the local broker, through Redis when
	// several API nodes share the structure
	broker := feed.NewBroker(0)
	var sink occupancy.DiffSink = broker
	var limit mux.MiddlewareFunc
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()

		relay := feed.NewRedisRelay(rdb, cfg.RedisChannel, broker)
		sink = relay
		go func() {
			if err := relay.Run(ctx); err != nil && ctx.Err() == nil {
				log.Printf("Redis relay stopped: %v", err)
			}
		}()
		log.Printf("Relaying occupancy diffs through Redis at %s", cfg.RedisAddr)

		limit = middleware.RateLimit(cfg.RateLimit, rdb)
	}
	spots := occupancy.WithFeed(occupancy.NewPostgresStore(pool), sink)
	sessions := session.NewPostgresStore(pool)

	hub := websocket.NewHub(broker, spots)
	go hub.Run(ctx)

	// Create Temporal client
	temporalClient, err := client.Dial(client.Options{
		HostPort:  cfg.TemporalHost,
		Namespace: cfg.TemporalNamespace,
	})
	if err != nil {
		log.Fatalf("Failed to create Temporal client: %v", err)
	}
	defer temporalClient.Close()

	txLedger, ledgerCloser, err := sessionworker.OpenLedger(cfg, pool)
	if err != nil {
		log.Fatalf("Failed to open ledger: %v", err)
	}
	defer ledgerCloser.Close()

	// Refunds go through the processor from whichever process serves the request
	gateway, err := sessionworker.Gateway(cfg, pool)
	if err != nil {
		log.Fatalf("Failed to configure payments: %v", err)
	}
	txLedger.WithRefunds(gateway)

	// A bolt ledger is a single file owned by one process, so the session worker runs here
	if cfg.LedgerBackend == "bolt" {
		publisher := sessionworker.Publisher(cfg)
		if closer, ok := publisher.(io.Closer); ok {
			defer closer.Close()
		}

		w := sessionworker.New(temporalClient, cfg.TaskQueue, &activities.Activities{
			Spots:    spots,
			Sessions: sessions,
			Payments: gateway,
			Ledger:   txLedger,
			Events:   publisher,
		})
		if err := w.Start(); err != nil {
			log.Fatalf("Failed to start embedded worker: %v", err)
		}
		defer w.Stop()
		log.Printf("Embedded session worker started on task queue %s", cfg.TaskQueue)

		go reconcile.NewSweeper(spots, sessions, cfg.Policy.ReservationHold, cfg.SweepInterval).Run(ctx)
		go reconcile.NewPaymentSweeper(gateway, cfg.PaymentResolveAfter, cfg.SweepInterval).Run(ctx)
	}

	// Initialize services
	parkingService := service.NewParkingService(service.Deps{
		Temporal:  temporalClient,
		TaskQueue: cfg.TaskQueue,
		Policy:    cfg.Policy,
		Assigner:  assignment.NewAssigner(spots, assignment.DefaultCandidateLimit),
		Spots:     spots,
		Pricing: pricing.NewPostgresSource(pool, pricing.Quote{
			Rate:          cfg.DefaultRate,
			Currency:      cfg.Currency,
			PayoutAccount: cfg.PayoutAccount,
		}),
		Sessions: sessions,
		Ledger:   txLedger,
	})

	if cfg.SQSHeartbeatQueueURL != "" {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
		if err != nil {
			log.Fatalf("Failed to load AWS config: %v", err)
		}
		consumer := heartbeat.NewConsumer(sqs.NewFromConfig(awsCfg), cfg.SQSHeartbeatQueueURL, parkingService)
		go consumer.Start(ctx)
	}

	h := handlers.NewHandler(parkingService)
	r := router.SetupRouter(h, hub, cfg.JWTSecret, limit)

	// Create HTTP server
	srv := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("API Server starting on port %s", cfg.ServerPort)
		log.Printf("Connected to Temporal server at %s", cfg.TemporalHost)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}
