package payment

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/cx-tal-miterani/parking-session-system/internal/billing"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
)

const metadataIdempotencyKey = "idempotency_key"

// StripeProcessor charges through Stripe PaymentIntents. Stripe deduplicates requests carrying
// the same Idempotency-Key, and each intent is tagged with the key so it can be searched for.
type StripeProcessor struct {
	api *client.API
}

// NewStripeProcessor creates a processor authenticated with secretKey
func NewStripeProcessor(secretKey string) *StripeProcessor {
	return &StripeProcessor{api: client.New(secretKey, nil)}
}

func (s *StripeProcessor) CreateCharge(ctx context.Context, req ChargeRequest) (*Charge, error) {
	params := &stripe.PaymentIntentParams{
		Amount:      stripe.Int64(billing.ToMinorUnits(req.Amount)),
		Currency:    stripe.String(req.Currency),
		Customer:    stripe.String(req.CustomerRef),
		Confirm:     stripe.Bool(true),
		OffSession:  stripe.Bool(true),
		Description: stripe.String(req.Description),
	}
	if req.Destination != "" {
		params.ApplicationFeeAmount = stripe.Int64(billing.ToMinorUnits(req.ApplicationFee))
		params.TransferData = &stripe.PaymentIntentTransferDataParams{
			Destination: stripe.String(req.Destination),
		}
	}
	params.Context = ctx
	params.SetIdempotencyKey(req.IdempotencyKey)
	params.AddMetadata(metadataIdempotencyKey, req.IdempotencyKey)
	params.AddMetadata("session_id", req.SessionID)

	pi, err := s.api.PaymentIntents.New(params)
	if err != nil {
		return nil, classifyStripe(err)
	}
	return chargeOf(pi), nil
}

// GetCharge searches intents by the idempotency key metadata. Search is eventually consistent;
// a false not-found only leads to a resubmission that Stripe answers from its idempotency cache.
func (s *StripeProcessor) GetCharge(ctx context.Context, idempotencyKey string) (*Charge, error) {
	params := &stripe.PaymentIntentSearchParams{}
	params.Query = fmt.Sprintf("metadata['%s']:'%s'", metadataIdempotencyKey, idempotencyKey)
	params.Context = ctx

	iter := s.api.PaymentIntents.Search(params)
	if iter.Next() {
		return chargeOf(iter.PaymentIntent()), nil
	}
	if err := iter.Err(); err != nil {
		return nil, classifyStripe(err)
	}
	return nil, ErrChargeNotFound
}

// CreateRefund refunds part of a PaymentIntent; Stripe deduplicates on the Idempotency-Key
func (s *StripeProcessor) CreateRefund(ctx context.Context, req RefundRequest) (*Refund, error) {
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(req.ChargeID),
		Amount:        stripe.Int64(billing.ToMinorUnits(req.Amount)),
	}
	if req.Reason != "" {
		params.AddMetadata("reason", req.Reason)
	}
	params.Context = ctx
	params.SetIdempotencyKey(req.IdempotencyKey)
	params.AddMetadata(metadataIdempotencyKey, req.IdempotencyKey)

	re, err := s.api.Refunds.New(params)
	if err != nil {
		return nil, classifyStripe(err)
	}
	return refundOf(re), nil
}

func refundOf(re *stripe.Refund) *Refund {
	r := &Refund{ID: re.ID}
	switch re.Status {
	case stripe.RefundStatusSucceeded:
		r.Status = RefundSucceeded
	case stripe.RefundStatusFailed, stripe.RefundStatusCanceled:
		r.Status = RefundFailed
		r.FailureReason = string(re.FailureReason)
		if r.FailureReason == "" {
			r.FailureReason = string(re.Status)
		}
	default:
		r.Status = RefundProcessing
	}
	return r
}

func chargeOf(pi *stripe.PaymentIntent) *Charge {
	c := &Charge{ID: pi.ID}
	switch pi.Status {
	case stripe.PaymentIntentStatusSucceeded:
		c.Status = ChargeSucceeded
	case stripe.PaymentIntentStatusCanceled, stripe.PaymentIntentStatusRequiresPaymentMethod:
		c.Status = ChargeFailed
		c.FailureReason = string(pi.Status)
		if pi.LastPaymentError != nil && pi.LastPaymentError.Msg != "" {
			c.FailureReason = pi.LastPaymentError.Msg
		}
	default:
		c.Status = ChargeProcessing
	}
	return c
}

func classifyStripe(err error) error {
	var se *stripe.Error
	if !errors.As(err, &se) {
		return err
	}

	pe := &ProcessorError{Code: string(se.Code), Message: se.Msg, Err: err}
	switch {
	case se.HTTPStatusCode == http.StatusTooManyRequests:
		pe.Class = ClassRetryable
	case se.HTTPStatusCode == http.StatusUnauthorized || se.HTTPStatusCode == http.StatusForbidden:
		pe.Class = ClassDeclined
	case se.Type == stripe.ErrorTypeCard, se.Type == stripe.ErrorTypeInvalidRequest, se.Type == stripe.ErrorTypeIdempotency:
		pe.Class = ClassDeclined
	case se.Type == stripe.ErrorTypeAPI || se.HTTPStatusCode >= http.StatusInternalServerError:
		pe.Class = ClassRetryable
	default:
		pe.Class = ClassUnknown
	}
	return pe
}
