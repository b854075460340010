// Package payment captures session charges exactly once through an external processor.
package payment

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cx-tal-miterani/parking-session-system/internal/billing"
	"github.com/cx-tal-miterani/parking-session-system/internal/metrics"
	"github.com/cx-tal-miterani/parking-session-system/internal/models"
	"github.com/shopspring/decimal"
)

// Config bounds the gateway's retry loop
type Config struct {
	MaxAttempts        int
	InitialBackoff     time.Duration
	MaxBackoff         time.Duration
	BackoffCoefficient float64
	PlatformFeePercent decimal.Decimal
	// ResolveAfter is how long a pending payment the processor has no record of is given
	// before it is settled as failed
	ResolveAfter time.Duration
}

// DefaultConfig mirrors the activity retry policy of the session workflow
func DefaultConfig() Config {
	return Config{
		MaxAttempts:        4,
		InitialBackoff:     500 * time.Millisecond,
		MaxBackoff:         10 * time.Second,
		BackoffCoefficient: 2.0,
		PlatformFeePercent: decimal.NewFromInt(7),
		ResolveAfter:       15 * time.Minute,
	}
}

// Gateway deduplicates captures by idempotency key against Store and drives the processor
type Gateway struct {
	store     Store
	processor Processor
	cfg       Config
	locks     keyLocks
	sleep     func(ctx context.Context, d time.Duration) error
	now       func() time.Time
}

// NewGateway creates a gateway
func NewGateway(store Store, processor Processor, cfg Config) *Gateway {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.BackoffCoefficient < 1 {
		cfg.BackoffCoefficient = 1
	}
	return &Gateway{
		store:     store,
		processor: processor,
		cfg:       cfg,
		locks:     keyLocks{held: make(map[string]*keyLock)},
		sleep:     sleepCtx,
		now:       time.Now,
	}
}

// Capture charges req.Amount once per req.IdempotencyKey.
// A replay returns the stored outcome unchanged. A key whose earlier call ended without a
// definitive answer is resolved through Processor.GetCharge before anything is resubmitted.
// The returned error is reserved for invalid input and store failures.
func (g *Gateway) Capture(ctx context.Context, req models.CaptureRequest) (*models.CaptureResult, error) {
	if req.IdempotencyKey == "" || req.SessionID == "" {
		return nil, fmt.Errorf("%w: session and idempotency key are required", models.ErrInvalidRequest)
	}
	if !req.Amount.IsPositive() {
		return nil, fmt.Errorf("%w: amount must be positive", models.ErrInvalidRequest)
	}

	unlock := g.locks.lock(req.IdempotencyKey)
	defer unlock()

	p, created, err := g.store.Begin(ctx, models.Payment{
		IdempotencyKey: req.IdempotencyKey,
		SessionID:      req.SessionID,
		Amount:         req.Amount,
		Currency:       req.Currency,
	})
	if err != nil {
		return nil, err
	}

	if !created {
		if p.SessionID != req.SessionID || !p.Amount.Equal(req.Amount) {
			return nil, fmt.Errorf("%w: idempotency key %s already used for a different charge", models.ErrInvalidRequest, req.IdempotencyKey)
		}
		if p.Status != models.PaymentStatusPending {
			return g.done(resultOf(p)), nil
		}
	}

	res, err := g.drive(ctx, p, req, !created)
	if err != nil {
		return nil, err
	}
	return g.done(res), nil
}

// drive runs the bounded submit/lookup loop for a pending payment
func (g *Gateway) drive(ctx context.Context, p *models.Payment, req models.CaptureRequest, unresolved bool) (*models.CaptureResult, error) {
	var (
		delay    = g.cfg.InitialBackoff
		attempts = p.Attempts
		reason   string
	)

	for i := 1; i <= g.cfg.MaxAttempts; i++ {
		if unresolved {
			charge, err := g.processor.GetCharge(ctx, req.IdempotencyKey)
			switch {
			case err == nil:
				metrics.ProcessorCalls.WithLabelValues("get", "found").Inc()
				if res, ok, err := g.settle(ctx, req.IdempotencyKey, charge, attempts); err != nil || ok {
					return res, err
				}
				reason = "charge is still processing"
			case errors.Is(err, ErrChargeNotFound):
				metrics.ProcessorCalls.WithLabelValues("get", "not_found").Inc()
				unresolved = false
			default:
				metrics.ProcessorCalls.WithLabelValues("get", string(Classify(err))).Inc()
				reason = Reason(err)
			}
		}

		if !unresolved {
			attempts++
			charge, err := g.processor.CreateCharge(ctx, g.chargeRequest(req))
			if err == nil {
				metrics.ProcessorCalls.WithLabelValues("create", "ok").Inc()
				if res, ok, err := g.settle(ctx, req.IdempotencyKey, charge, attempts); err != nil || ok {
					return res, err
				}
				unresolved = true
				reason = "charge is still processing"
			} else {
				class := Classify(err)
				metrics.ProcessorCalls.WithLabelValues("create", string(class)).Inc()
				reason = Reason(err)

				switch class {
				case ClassDeclined:
					settled, err := g.store.Settle(ctx, req.IdempotencyKey, models.PaymentStatusFailed, "", reason, attempts)
					if err != nil {
						return nil, err
					}
					return resultOf(settled), nil
				case ClassUnknown:
					unresolved = true
				}
			}
		}

		if i == g.cfg.MaxAttempts {
			break
		}
		if err := g.sleep(ctx, delay); err != nil {
			return nil, err
		}
		delay = g.next(delay)
	}

	// the payment stays pending: the next call for this key starts with a lookup
	return &models.CaptureResult{
		Outcome: models.CaptureRetryable,
		Reason:  reason,
		Payment: p,
	}, nil
}

// settle records a definitive charge state; ok is false while the processor is still working
func (g *Gateway) settle(ctx context.Context, key string, charge *Charge, attempts int) (*models.CaptureResult, bool, error) {
	var status models.PaymentStatus
	switch charge.Status {
	case ChargeSucceeded:
		status = models.PaymentStatusSucceeded
	case ChargeFailed:
		status = models.PaymentStatusFailed
	default:
		return nil, false, nil
	}

	p, err := g.store.Settle(ctx, key, status, charge.ID, charge.FailureReason, attempts)
	if err != nil {
		return nil, false, err
	}
	return resultOf(p), true, nil
}

func (g *Gateway) chargeRequest(req models.CaptureRequest) ChargeRequest {
	cr := ChargeRequest{
		SessionID:      req.SessionID,
		Amount:         req.Amount,
		Currency:       req.Currency,
		CustomerRef:    req.CustomerRef,
		IdempotencyKey: req.IdempotencyKey,
		Description:    "Parking session " + req.SessionID,
	}
	if req.PayoutAccount != "" {
		cr.Destination = req.PayoutAccount
		cr.ApplicationFee = billing.PlatformFee(req.Amount, g.cfg.PlatformFeePercent)
	}
	return cr
}

func (g *Gateway) next(d time.Duration) time.Duration {
	n := time.Duration(float64(d) * g.cfg.BackoffCoefficient)
	if g.cfg.MaxBackoff > 0 && n > g.cfg.MaxBackoff {
		return g.cfg.MaxBackoff
	}
	return n
}

func (g *Gateway) done(res *models.CaptureResult) *models.CaptureResult {
	metrics.Captures.WithLabelValues(string(res.Outcome)).Inc()
	return res
}

func resultOf(p *models.Payment) *models.CaptureResult {
	switch p.Status {
	case models.PaymentStatusSucceeded:
		return &models.CaptureResult{Outcome: models.CaptureSucceeded, ChargeID: p.ProcessorChargeID.String, Payment: p}
	case models.PaymentStatusFailed:
		return &models.CaptureResult{Outcome: models.CaptureDeclined, ChargeID: p.ProcessorChargeID.String, Reason: p.FailureReason, Payment: p}
	}
	return &models.CaptureResult{Outcome: models.CaptureRetryable, Reason: "payment pending", Payment: p}
}

// Resolve settles a pending payment from the processor's record without ever submitting a charge.
// A key the processor has no record of is settled as failed once the payment is older than
// ResolveAfter; until then, and while the processor is unreachable, the outcome stays retryable.
func (g *Gateway) Resolve(ctx context.Context, key string) (*models.CaptureResult, error) {
	unlock := g.locks.lock(key)
	defer unlock()

	p, err := g.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if p.Status != models.PaymentStatusPending {
		return resultOf(p), nil
	}

	charge, err := g.processor.GetCharge(ctx, key)
	switch {
	case err == nil:
		metrics.ProcessorCalls.WithLabelValues("get", "found").Inc()
		if res, ok, err := g.settle(ctx, key, charge, p.Attempts); err != nil || ok {
			return res, err
		}
		return &models.CaptureResult{Outcome: models.CaptureRetryable, Reason: "charge is still processing", Payment: p}, nil
	case errors.Is(err, ErrChargeNotFound):
		metrics.ProcessorCalls.WithLabelValues("get", "not_found").Inc()
		if g.now().Sub(p.CreatedAt) < g.cfg.ResolveAfter {
			return &models.CaptureResult{Outcome: models.CaptureRetryable, Reason: "charge not visible at the processor yet", Payment: p}, nil
		}
		settled, err := g.store.Settle(ctx, key, models.PaymentStatusFailed, "", "no charge was created", p.Attempts)
		if err != nil {
			return nil, err
		}
		return resultOf(settled), nil
	default:
		metrics.ProcessorCalls.WithLabelValues("get", string(Classify(err))).Inc()
		return &models.CaptureResult{Outcome: models.CaptureRetryable, Reason: Reason(err), Payment: p}, nil
	}
}

// Pending lists payments still pending that were created before cutoff, oldest first
func (g *Gateway) Pending(ctx context.Context, cutoff time.Time, limit int) ([]models.Payment, error) {
	return g.store.ListPending(ctx, cutoff, limit)
}

// Refund returns part of a succeeded charge. The processor deduplicates on req.IdempotencyKey,
// so a retry after an unknown outcome cannot refund twice.
func (g *Gateway) Refund(ctx context.Context, req models.RefundPaymentRequest) (*models.RefundResult, error) {
	if req.ChargeID == "" || req.IdempotencyKey == "" {
		return nil, fmt.Errorf("%w: charge and idempotency key are required", models.ErrInvalidRequest)
	}
	if !req.Amount.IsPositive() {
		return nil, fmt.Errorf("%w: amount must be positive", models.ErrInvalidRequest)
	}

	unlock := g.locks.lock(req.IdempotencyKey)
	defer unlock()

	var (
		delay   = g.cfg.InitialBackoff
		lastErr error
	)
	for i := 1; i <= g.cfg.MaxAttempts; i++ {
		re, err := g.processor.CreateRefund(ctx, RefundRequest{
			ChargeID:       req.ChargeID,
			Amount:         req.Amount,
			IdempotencyKey: req.IdempotencyKey,
			Reason:         req.Reason,
		})
		if err == nil {
			metrics.ProcessorCalls.WithLabelValues("refund", "ok").Inc()
			switch re.Status {
			case RefundSucceeded:
				return &models.RefundResult{RefundID: re.ID, Status: models.RefundSucceeded}, nil
			case RefundFailed:
				return nil, fmt.Errorf("%w: %s", models.ErrPaymentDeclined, re.FailureReason)
			}
			return &models.RefundResult{RefundID: re.ID, Status: models.RefundPending}, nil
		}

		class := Classify(err)
		metrics.ProcessorCalls.WithLabelValues("refund", string(class)).Inc()
		if class == ClassDeclined {
			return nil, fmt.Errorf("%w: %s", models.ErrPaymentDeclined, Reason(err))
		}
		lastErr = err

		if i == g.cfg.MaxAttempts {
			break
		}
		if err := g.sleep(ctx, delay); err != nil {
			return nil, err
		}
		delay = g.next(delay)
	}

	if Classify(lastErr) == ClassUnknown {
		return nil, fmt.Errorf("%w: %s", models.ErrPaymentUnknown, Reason(lastErr))
	}
	return nil, fmt.Errorf("%w: %s", models.ErrPaymentRetryable, Reason(lastErr))
}

// Lookup returns the stored payment for key
func (g *Gateway) Lookup(ctx context.Context, key string) (*models.Payment, error) {
	return g.store.Get(ctx, key)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// keyLocks serialises calls for the same idempotency key within this process
type keyLocks struct {
	mu   sync.Mutex
	held map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

func (k *keyLocks) lock(key string) func() {
	k.mu.Lock()
	l, ok := k.held[key]
	if !ok {
		l = &keyLock{}
		k.held[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.held, key)
		}
		k.mu.Unlock()
	}
}
