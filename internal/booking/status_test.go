package booking

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTransitions(t *testing.T) {
	allowed := map[[2]Status]bool{
		{StatusPending, StatusAccepted}: true,
		{StatusPending, StatusRejected}: true,
		{StatusAccepted, StatusPaid}:    true,
		{StatusPaid, StatusDone}:        true,
		{StatusDone, StatusCompleted}:   true,
	}

	for _, from := range AllStatuses {
		for _, to := range AllStatuses {
			assert.Equal(t, allowed[[2]Status{from, to}], from.CanTransitionTo(to), "%s -> %s", from, to)
		}
	}
}

func TestTerminal(t *testing.T) {
	assert.True(t, StatusRejected.IsTerminal())
	assert.True(t, StatusCompleted.IsTerminal())
	assert.False(t, StatusPending.IsTerminal())
	assert.False(t, StatusDone.IsTerminal())
	assert.False(t, Status("archived").IsTerminal())
}

func TestParseStatus(t *testing.T) {
	s, err := ParseStatus("paid")
	assert.NoError(t, err)
	assert.Equal(t, StatusPaid, s)

	_, err = ParseStatus("cancelled")
	assert.Error(t, err)
}

func TestHistogramComplete(t *testing.T) {
	h := StatusHistogram{StatusPaid: 2}.Complete()
	assert.Len(t, h, len(AllStatuses))
	assert.Equal(t, int64(2), h[StatusPaid])
	assert.Equal(t, int64(0), h[StatusRejected])
}
