package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAck struct {
	acked    int
	nacked   int
	requeued bool
}

func (f *fakeAck) Ack(uint64, bool) error { f.acked++; return nil }

func (f *fakeAck) Nack(_ uint64, _ bool, requeue bool) error {
	f.nacked++
	f.requeued = requeue
	return nil
}

func (f *fakeAck) Reject(_ uint64, requeue bool) error {
	f.nacked++
	f.requeued = requeue
	return nil
}

func delivery(t *testing.T, ack *fakeAck, key string, ev any, redelivered bool) amqp.Delivery {
	t.Helper()
	body, err := json.Marshal(ev)
	require.NoError(t, err)
	return amqp.Delivery{Acknowledger: ack, DeliveryTag: 1, RoutingKey: key, Body: body, Redelivered: redelivered}
}

func TestRecipients(t *testing.T) {
	ev := BookingEvent{ClientID: "c1", ProviderID: "p1"}

	ev.ActorID = "c1"
	assert.Equal(t, []string{"p1"}, ev.Recipients())

	ev.ActorID = "p1"
	assert.Equal(t, []string{"c1"}, ev.Recipients())

	ev.ActorID = ""
	assert.ElementsMatch(t, []string{"c1", "p1"}, ev.Recipients())
}

func TestDispatchAcksOnSuccess(t *testing.T) {
	ack := &fakeAck{}
	var got BookingEvent
	h := func(_ context.Context, key string, ev BookingEvent) error {
		assert.Equal(t, BookingAccepted, key)
		got = ev
		return nil
	}

	Dispatch(context.Background(), delivery(t, ack, BookingAccepted, BookingEvent{BookingID: "b1", Status: "accepted"}, false), h, nil)

	assert.Equal(t, 1, ack.acked)
	assert.Equal(t, 0, ack.nacked)
	assert.Equal(t, "b1", got.BookingID)
}

func TestDispatchRequeuesFirstFailureOnly(t *testing.T) {
	failing := func(context.Context, string, BookingEvent) error { return errors.New("boom") }
	var reported []error
	onErr := func(_ string, err error) { reported = append(reported, err) }

	first := &fakeAck{}
	Dispatch(context.Background(), delivery(t, first, BookingPaid, BookingEvent{}, false), failing, onErr)
	assert.Equal(t, 1, first.nacked)
	assert.True(t, first.requeued)

	second := &fakeAck{}
	Dispatch(context.Background(), delivery(t, second, BookingPaid, BookingEvent{}, true), failing, onErr)
	assert.Equal(t, 1, second.nacked)
	assert.False(t, second.requeued)

	assert.Len(t, reported, 2)
}

func TestDispatchDropsMalformedBody(t *testing.T) {
	ack := &fakeAck{}
	called := false
	h := func(context.Context, string, BookingEvent) error { called = true; return nil }

	d := amqp.Delivery{Acknowledger: ack, DeliveryTag: 1, RoutingKey: BookingDone, Body: []byte("{not json")}
	Dispatch(context.Background(), d, h, nil)

	assert.False(t, called)
	assert.Equal(t, 1, ack.nacked)
	assert.False(t, ack.requeued)
}

func TestNopPublisher(t *testing.T) {
	var p Publisher = NopPublisher{}
	assert.NoError(t, p.PublishJSON(context.Background(), BookingCreated, BookingEvent{}))
}

func TestReconnectDelayBacksOff(t *testing.T) {
	assert.Equal(t, time.Second, reconnectDelay(0))
	assert.Equal(t, time.Second, reconnectDelay(1))
	assert.Equal(t, 2*time.Second, reconnectDelay(2))
	assert.Equal(t, 16*time.Second, reconnectDelay(5))
	assert.Equal(t, maxReconnectDelay, reconnectDelay(6))
	assert.Equal(t, maxReconnectDelay, reconnectDelay(40))
}
