package payment

import (
	"context"
	"fmt"
	"math/rand"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Fault is a scripted processor failure. AfterCreate creates the charge and then
// loses the response, the way a client-side timeout does.
type Fault struct {
	Class       Class
	AfterCreate bool
	Message     string
}

// SimulatedProcessor stands in for the processor in local runs. Like a real processor it
// deduplicates by idempotency key. Scripted faults are consumed first, then random ones.
type SimulatedProcessor struct {
	mu          sync.Mutex
	charges     map[string]*Charge
	refunds     map[string]*Refund
	refunded    map[string]decimal.Decimal
	created     int
	script      []Fault
	DeclineRate float64
	TimeoutRate float64
	rng         *rand.Rand
}

func NewSimulatedProcessor(declineRate, timeoutRate float64, seed int64) *SimulatedProcessor {
	return &SimulatedProcessor{
		charges:     make(map[string]*Charge),
		refunds:     make(map[string]*Refund),
		refunded:    make(map[string]decimal.Decimal),
		DeclineRate: declineRate,
		TimeoutRate: timeoutRate,
		rng:         rand.New(rand.NewSource(seed)),
	}
}

// Script queues faults for the next CreateCharge calls
func (s *SimulatedProcessor) Script(faults ...Fault) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.script = append(s.script, faults...)
}

// Created is the number of distinct charges ever created
func (s *SimulatedProcessor) Created() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.created
}

func (s *SimulatedProcessor) CreateCharge(ctx context.Context, req ChargeRequest) (*Charge, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	fault, scripted := s.nextFault()

	if !scripted || fault.AfterCreate {
		if c, ok := s.charges[req.IdempotencyKey]; ok {
			cp := *c
			return &cp, nil
		}
	}
	if scripted && !fault.AfterCreate {
		return nil, &ProcessorError{Class: fault.Class, Message: fault.Message}
	}

	c := &Charge{ID: "ch_" + uuid.NewString()[:8], Status: ChargeSucceeded}
	if !scripted && s.rng.Float64() < s.DeclineRate {
		c.Status = ChargeFailed
		c.FailureReason = "card declined"
	}
	s.charges[req.IdempotencyKey] = c
	s.created++

	if scripted && fault.AfterCreate {
		return nil, &ProcessorError{Class: ClassUnknown, Message: "timeout awaiting processor response"}
	}
	if !scripted && s.rng.Float64() < s.TimeoutRate {
		return nil, &ProcessorError{Class: ClassUnknown, Message: "timeout awaiting processor response"}
	}
	cp := *c
	return &cp, nil
}

func (s *SimulatedProcessor) GetCharge(ctx context.Context, idempotencyKey string) (*Charge, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.charges[idempotencyKey]
	if !ok {
		return nil, ErrChargeNotFound
	}
	cp := *c
	return &cp, nil
}

// CreateRefund refunds a charge this processor created. Scripted faults apply to refunds too.
func (s *SimulatedProcessor) CreateRefund(ctx context.Context, req RefundRequest) (*Refund, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if r, ok := s.refunds[req.IdempotencyKey]; ok {
		cp := *r
		return &cp, nil
	}
	if fault, scripted := s.nextFault(); scripted {
		return nil, &ProcessorError{Class: fault.Class, Message: fault.Message}
	}
	if !s.charged(req.ChargeID) {
		return nil, &ProcessorError{Class: ClassDeclined, Code: "resource_missing", Message: "no such charge: " + req.ChargeID}
	}

	r := &Refund{ID: "re_" + uuid.NewString()[:8], Status: RefundSucceeded}
	s.refunds[req.IdempotencyKey] = r
	s.refunded[req.ChargeID] = s.refunded[req.ChargeID].Add(req.Amount)
	cp := *r
	return &cp, nil
}

// Refunded is the total refunded against chargeID
func (s *SimulatedProcessor) Refunded(chargeID string) decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refunded[chargeID]
}

func (s *SimulatedProcessor) charged(chargeID string) bool {
	for _, c := range s.charges {
		if c.ID == chargeID && c.Status == ChargeSucceeded {
			return true
		}
	}
	return false
}

func (s *SimulatedProcessor) nextFault() (Fault, bool) {
	if len(s.script) == 0 {
		return Fault{}, false
	}
	f := s.script[0]
	s.script = s.script[1:]
	if f.Message == "" {
		f.Message = fmt.Sprintf("simulated %s failure", f.Class)
	}
	return f, true
}
