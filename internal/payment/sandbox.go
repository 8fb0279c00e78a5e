package payment

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SandboxGateway settles charges in memory without a processor. Charges whose amount
// equals DeclineAmount are refused. Used for local runs and load simulation.
type SandboxGateway struct {
	DeclineAmount decimal.Decimal

	mu      sync.Mutex
	charges map[string]*Charge
	byKey   map[string]string
}

var _ Gateway = (*SandboxGateway)(nil)

func NewSandboxGateway() *SandboxGateway {
	return &SandboxGateway{
		DeclineAmount: decimal.RequireFromString("0.13"),
		charges:       map[string]*Charge{},
		byKey:         map[string]string{},
	}
}

func (g *SandboxGateway) CreateCharge(_ context.Context, req ChargeRequest) (*Charge, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if id, ok := g.byKey[req.IdempotencyKey]; ok && req.IdempotencyKey != "" {
		c := *g.charges[id]
		return &c, nil
	}

	id := "sbx_" + uuid.NewString()
	c := &Charge{
		TransactionID: id,
		BookingID:     req.BookingID,
		Status:        ChargeSucceeded,
		ClientSecret:  id + "_secret",
	}
	g.charges[id] = c
	if req.IdempotencyKey != "" {
		g.byKey[req.IdempotencyKey] = id
	}

	if req.Amount.Equal(g.DeclineAmount) {
		c.Status = ChargeFailed
		c.FailureReason = "card declined"
		return nil, &DeclineError{TransactionID: id, Reason: c.FailureReason}
	}

	out := *c
	return &out, nil
}

func (g *SandboxGateway) GetCharge(_ context.Context, transactionID string) (*Charge, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	c, ok := g.charges[transactionID]
	if !ok {
		return nil, fmt.Errorf("sandbox charge %s not found", transactionID)
	}
	out := *c
	return &out, nil
}
