package payment

import (
	"context"
	"errors"
	"math/rand"
	"time"

	pkguuid "ordersaga/pkg/uuid"
)

// ErrDeclined marks a charge the gateway rejected. It is a domain
// outcome, not an infrastructure failure: callers record it and emit
// payment.failed instead of retrying.
var ErrDeclined = errors.New("payment declined by gateway")

// Gateway is the external payment processor. Charge must be idempotent on
// the key: replays with the same key settle at most one charge.
type Gateway interface {
	Charge(ctx context.Context, amount float64, currency, idempotencyKey string) (map[string]any, error)
	Refund(ctx context.Context, gatewayTransactionID string, amount float64) (map[string]any, error)
}

// SimulatedGateway stands in for a real processor: a fixed processing
// delay and a configurable decline rate.
type SimulatedGateway struct {
	delay       time.Duration
	declineRate float64
	rng         *rand.Rand
}

func NewSimulatedGateway() *SimulatedGateway {
	return &SimulatedGateway{
		delay:       500 * time.Millisecond,
		declineRate: 0.2,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (g *SimulatedGateway) Charge(ctx context.Context, amount float64, currency, idempotencyKey string) (map[string]any, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(g.delay):
	}

	if g.rng.Float64() < g.declineRate {
		return map[string]any{
			"status":          "declined",
			"idempotency_key": idempotencyKey,
		}, ErrDeclined
	}

	return map[string]any{
		"status":                 "approved",
		"gateway_transaction_id": pkguuid.New(),
		"idempotency_key":        idempotencyKey,
	}, nil
}

func (g *SimulatedGateway) Refund(ctx context.Context, gatewayTransactionID string, amount float64) (map[string]any, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(g.delay):
	}

	return map[string]any{
		"status":           "refunded",
		"gateway_refund_id": pkguuid.New(),
	}, nil
}
