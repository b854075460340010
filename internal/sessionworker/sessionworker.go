// Package sessionworker assembles the Temporal worker that runs session workflows,
// and the backends both binaries choose from configuration.
package sessionworker

import (
	"fmt"
	"hash/fnv"
	"io"
	"log"
	"os"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/cx-tal-miterani/parking-session-system/internal/activities"
	"github.com/cx-tal-miterani/parking-session-system/internal/config"
	"github.com/cx-tal-miterani/parking-session-system/internal/events"
	"github.com/cx-tal-miterani/parking-session-system/internal/ledger"
	"github.com/cx-tal-miterani/parking-session-system/internal/payment"
	"github.com/cx-tal-miterani/parking-session-system/internal/workflows"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
)

// New creates a worker on taskQueue with the session workflow and its activities registered
func New(c client.Client, taskQueue string, acts *activities.Activities) worker.Worker {
	w := worker.New(c, taskQueue, worker.Options{})

	w.RegisterWorkflow(workflows.SessionWorkflow)
	w.RegisterActivity(acts)

	return w
}

// Processor picks the payment processor named by PAYMENT_PROVIDER
func Processor(cfg *config.Config) (payment.Processor, error) {
	switch cfg.PaymentProvider {
	case "stripe":
		if cfg.StripeSecretKey == "" {
			return nil, fmt.Errorf("STRIPE_SECRET_KEY is required for the stripe provider")
		}
		return payment.NewStripeProcessor(cfg.StripeSecretKey), nil
	case "simulated", "":
		log.Printf("Using simulated payment processor (decline rate %.2f, timeout rate %.2f)", cfg.SimDeclineRate, cfg.SimTimeoutRate)
		return payment.NewSimulatedProcessor(cfg.SimDeclineRate, cfg.SimTimeoutRate, time.Now().UnixNano()), nil
	default:
		return nil, fmt.Errorf("unknown payment provider %q", cfg.PaymentProvider)
	}
}

// OpenLedger picks the ledger backend named by LEDGER_BACKEND. The returned closer is
// nil-safe to call and releases the bolt file when one was opened.
func OpenLedger(cfg *config.Config, pool *pgxpool.Pool) (*ledger.Ledger, io.Closer, error) {
	id := NodeID(cfg)
	node, err := snowflake.NewNode(id)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid NODE_ID %d: %w", id, err)
	}
	log.Printf("Ledger ids issued by snowflake node %d", id)

	switch cfg.LedgerBackend {
	case "bolt":
		store, err := ledger.OpenBolt(cfg.LedgerBoltPath)
		if err != nil {
			return nil, nil, err
		}
		return ledger.New(store, node), store, nil
	case "postgres", "":
		if pool == nil {
			return nil, nil, fmt.Errorf("the postgres ledger needs a database pool")
		}
		return ledger.New(ledger.NewPostgresStore(pool), node), closerFunc(func() error { return nil }), nil
	default:
		return nil, nil, fmt.Errorf("unknown ledger backend %q", cfg.LedgerBackend)
	}
}

// Gateway puts the configured processor behind the idempotent payment gateway
func Gateway(cfg *config.Config, pool *pgxpool.Pool) (*payment.Gateway, error) {
	processor, err := Processor(cfg)
	if err != nil {
		return nil, err
	}
	gatewayCfg := payment.DefaultConfig()
	gatewayCfg.PlatformFeePercent = cfg.PlatformFeePercent
	if cfg.PaymentResolveAfter > 0 {
		gatewayCfg.ResolveAfter = cfg.PaymentResolveAfter
	}
	return payment.NewGateway(payment.NewPostgresStore(pool), processor, gatewayCfg), nil
}

// NodeID is the configured snowflake node, or one derived from the host name and pid so the
// server and every worker writing the same ledger table issue distinct ids
func NodeID(cfg *config.Config) int64 {
	if cfg.NodeID >= 0 {
		return cfg.NodeID
	}
	host, _ := os.Hostname()
	return deriveNodeID(host, os.Getpid())
}

func deriveNodeID(host string, pid int) int64 {
	h := fnv.New32a()
	fmt.Fprintf(h, "%s/%d", host, pid)
	return int64(h.Sum32() % (1 << snowflake.NodeBits))
}

// Publisher returns the AMQP publisher when AMQP_URL is set and a log-only one otherwise
func Publisher(cfg *config.Config) events.Publisher {
	if cfg.AMQPURL == "" {
		log.Println("AMQP_URL not set, session events are logged only")
		return events.LogPublisher{}
	}
	return events.NewAMQPPublisher(cfg.AMQPURL)
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }
