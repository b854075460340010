package reconcile

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/cx-tal-miterani/parking-session-system/internal/metrics"
	"github.com/cx-tal-miterani/parking-session-system/internal/models"
)

// PaymentResolver settles pending payments by looking them up at the processor
type PaymentResolver interface {
	Pending(ctx context.Context, cutoff time.Time, limit int) ([]models.Payment, error)
	Resolve(ctx context.Context, key string) (*models.CaptureResult, error)
}

const paymentBatch = 100

// PaymentSweeper resolves payments left pending after their session closed, e.g. when the
// processor never answered a capture and the confirm window ran out.
type PaymentSweeper struct {
	payments PaymentResolver
	age      time.Duration
	interval time.Duration
	now      func() time.Time
}

// NewPaymentSweeper resolves payments pending for longer than age
func NewPaymentSweeper(payments PaymentResolver, age, interval time.Duration) *PaymentSweeper {
	return &PaymentSweeper{
		payments: payments,
		age:      age,
		interval: interval,
		now:      time.Now,
	}
}

func (s *PaymentSweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	log.Printf("Payment sweeper running every %s", s.interval)
	for {
		select {
		case <-ctx.Done():
			log.Println("Payment sweeper stopped")
			return
		case <-ticker.C:
			settled, err := s.SweepOnce(ctx)
			if err != nil {
				log.Printf("Payment sweep failed: %v", err)
				continue
			}
			if settled > 0 {
				log.Printf("Payment sweep settled %d payment(s)", settled)
			}
		}
	}
}

// SweepOnce returns how many payments it settled
func (s *PaymentSweeper) SweepOnce(ctx context.Context) (int, error) {
	pending, err := s.payments.Pending(ctx, s.now().Add(-s.age), paymentBatch)
	if err != nil {
		return 0, fmt.Errorf("failed to list pending payments: %w", err)
	}

	settled := 0
	for _, p := range pending {
		res, err := s.payments.Resolve(ctx, p.IdempotencyKey)
		if err != nil {
			log.Printf("Payment sweep: skipping %s: %v", p.IdempotencyKey, err)
			continue
		}
		metrics.PaymentsResolved.WithLabelValues(string(res.Outcome)).Inc()
		if res.Outcome == models.CaptureRetryable {
			continue
		}
		settled++
		log.Printf("Payment sweep: %s for session %s settled as %s", p.IdempotencyKey, p.SessionID, res.Outcome)
	}
	return settled, nil
}
