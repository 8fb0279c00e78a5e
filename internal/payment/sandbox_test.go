package payment

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSandboxGatewaySettlesImmediately(t *testing.T) {
	gw := NewSandboxGateway()
	ctx := context.Background()

	c, err := gw.CreateCharge(ctx, ChargeRequest{BookingID: uuid.New(), Amount: decimal.NewFromInt(84), IdempotencyKey: "k1"})
	require.NoError(t, err)
	assert.Equal(t, ChargeSucceeded, c.Status)

	again, err := gw.CreateCharge(ctx, ChargeRequest{Amount: decimal.NewFromInt(84), IdempotencyKey: "k1"})
	require.NoError(t, err)
	assert.Equal(t, c.TransactionID, again.TransactionID)

	got, err := gw.GetCharge(ctx, c.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, ChargeSucceeded, got.Status)
}

func TestSandboxGatewayDeclines(t *testing.T) {
	gw := NewSandboxGateway()

	_, err := gw.CreateCharge(context.Background(), ChargeRequest{Amount: gw.DeclineAmount})
	var d *DeclineError
	require.True(t, errors.As(err, &d))

	got, err := gw.GetCharge(context.Background(), d.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, ChargeFailed, got.Status)
}
