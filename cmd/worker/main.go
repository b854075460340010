package main

import (
	"context"
	"io"
	"log"

	"github.com/cx-tal-miterani/parking-session-system/internal/activities"
	"github.com/cx-tal-miterani/parking-session-system/internal/config"
	"github.com/cx-tal-miterani/parking-session-system/internal/database"
	"github.com/cx-tal-miterani/parking-session-system/internal/feed"
	"github.com/cx-tal-miterani/parking-session-system/internal/occupancy"
	"github.com/cx-tal-miterani/parking-session-system/internal/reconcile"
	"github.com/cx-tal-miterani/parking-session-system/internal/session"
	"github.com/cx-tal-miterani/parking-session-system/internal/sessionworker"
	"github.com/redis/go-redis/v9"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := config.Load()

	// Connect to database
	log.Println("Connecting to database...")
	pool, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}
	log.Println("Connected to database")

	// Releases made by the worker reach API nodes through the relay
	var spots occupancy.Store = occupancy.NewPostgresStore(pool)
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
		spots = occupancy.WithFeed(spots, feed.NewRedisRelay(rdb, cfg.RedisChannel, feed.NewBroker(0)))
	} else {
		log.Println("REDIS_ADDR not set, API nodes see worker releases on their next snapshot")
	}
	sessions := session.NewPostgresStore(pool)

	gateway, err := sessionworker.Gateway(cfg, pool)
	if err != nil {
		log.Fatalf("Failed to configure payments: %v", err)
	}

	txLedger, ledgerCloser, err := sessionworker.OpenLedger(cfg, pool)
	if err != nil {
		log.Fatalf("Failed to open ledger: %v", err)
	}
	defer ledgerCloser.Close()
	txLedger.WithRefunds(gateway)

	publisher := sessionworker.Publisher(cfg)
	if closer, ok := publisher.(io.Closer); ok {
		defer closer.Close()
	}

	// Connect to Temporal
	log.Printf("Connecting to Temporal at %s...", cfg.TemporalHost)
	c, err := client.Dial(client.Options{
		HostPort:  cfg.TemporalHost,
		Namespace: cfg.TemporalNamespace,
	})
	if err != nil {
		log.Fatalf("Failed to connect to Temporal: %v", err)
	}
	defer c.Close()
	log.Println("Connected to Temporal")

	w := sessionworker.New(c, cfg.TaskQueue, &activities.Activities{
		Spots:    spots,
		Sessions: sessions,
		Payments: gateway,
		Ledger:   txLedger,
		Events:   publisher,
	})

	sweeper := reconcile.NewSweeper(spots, sessions, cfg.Policy.ReservationHold, cfg.SweepInterval)
	go sweeper.Run(ctx)
	go reconcile.NewPaymentSweeper(gateway, cfg.PaymentResolveAfter, cfg.SweepInterval).Run(ctx)

	// Start worker
	log.Printf("Starting Temporal worker on task queue %s...", cfg.TaskQueue)
	if err := w.Run(worker.InterruptCh()); err != nil {
		log.Fatalf("Worker failed: %v", err)
	}
}
