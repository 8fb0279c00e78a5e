package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v76/webhook"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"

	"github.com/hackgods/handyman-booking/internal/access"
	"github.com/hackgods/handyman-booking/internal/booking"
	"github.com/hackgods/handyman-booking/internal/fees"
	"github.com/hackgods/handyman-booking/internal/identity"
	"github.com/hackgods/handyman-booking/internal/payment"
)

const (
	jwtSecret     = "api-test-secret"
	webhookSecret = "whsec_api_test"
)

// fakeService implements only what a test needs; the embedded nil interface panics otherwise.
type fakeService struct {
	BookingService

	err       error
	booking   *booking.Booking
	intent    *booking.PaymentIntent
	lastActor access.Actor
	lastFee   decimal.Decimal
	lastIn    booking.CreateBookingInput
	settled   []payment.Settlement
	lastSort  booking.ProviderQuery
}

func (f *fakeService) CreateBooking(_ context.Context, a access.Actor, in booking.CreateBookingInput) (*booking.Booking, error) {
	f.lastActor, f.lastIn = a, in
	return f.booking, f.err
}

func (f *fakeService) GetBooking(_ context.Context, a access.Actor, _ uuid.UUID) (*booking.Booking, error) {
	f.lastActor = a
	return f.booking, f.err
}

func (f *fakeService) AcceptBooking(_ context.Context, a access.Actor, _ uuid.UUID, fee decimal.Decimal) (*booking.Booking, error) {
	f.lastActor, f.lastFee = a, fee
	return f.booking, f.err
}

func (f *fakeService) MarkDone(_ context.Context, a access.Actor, _ uuid.UUID) (*booking.Booking, error) {
	f.lastActor = a
	return f.booking, f.err
}

func (f *fakeService) InitiatePayment(_ context.Context, a access.Actor, _ uuid.UUID) (*booking.PaymentIntent, error) {
	f.lastActor = a
	return f.intent, f.err
}

func (f *fakeService) SettleCharge(_ context.Context, st payment.Settlement) (*booking.Booking, error) {
	f.settled = append(f.settled, st)
	return f.booking, f.err
}

func (f *fakeService) ListProvidersForService(_ context.Context, _ access.Actor, _ uuid.UUID, q booking.ProviderQuery) ([]booking.ProviderListing, error) {
	f.lastSort = q
	return nil, f.err
}

type fakeNotifications struct {
	unread map[string]int64
	emails map[string]string
}

func (n *fakeNotifications) UnreadCount(_ context.Context, userID string) (int64, error) {
	return n.unread[userID], nil
}

func (n *fakeNotifications) MarkAllRead(_ context.Context, userID string) error {
	delete(n.unread, userID)
	return nil
}

func (n *fakeNotifications) SetEmail(_ context.Context, userID, email string) error {
	n.emails[userID] = email
	return nil
}

type testServer struct {
	svc    *fakeService
	notes  *fakeNotifications
	router http.Handler
	signer *identity.Signer
}

func newTestServer(t *testing.T, mutate ...func(*RouterConfig)) *testServer {
	t.Helper()
	ts := &testServer{
		svc:    &fakeService{},
		notes:  &fakeNotifications{unread: map[string]int64{}, emails: map[string]string{}},
		signer: identity.NewSigner([]byte(jwtSecret), "", time.Hour),
	}
	cfg := RouterConfig{
		Service:       ts.svc,
		Notifications: ts.notes,
		Verifier:      identity.NewHMACVerifier([]byte(jwtSecret), ""),
		WebhookSecret: webhookSecret,
		UnreadPoll:    30 * time.Second,
		Env:           "test",
		Version:       "v0",
	}
	for _, m := range mutate {
		m(&cfg)
	}
	ts.router = NewRouter(cfg)
	return ts
}

func (ts *testServer) do(t *testing.T, method, path string, actor *access.Actor, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if actor != nil {
		tok, err := ts.signer.Sign(*actor)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

var (
	client   = access.Actor{ID: "user_client"}
	provider = access.Actor{ID: "user_provider", IsProvider: true}
)

func sampleBooking(status booking.Status) *booking.Booking {
	b := &booking.Booking{
		ID:            uuid.New(),
		ClientID:      client.ID,
		ProviderID:    provider.ID,
		ServiceID:     uuid.New(),
		Status:        status,
		Location:      booking.Location{Address: "Rue Neuve 1", City: "Brussels"},
		ScheduledTime: time.Date(2026, 11, 2, 9, 0, 0, 0, time.UTC),
		Version:       1,
	}
	if status != booking.StatusPending && status != booking.StatusRejected {
		b.Fee = decimal.NewNullDecimal(decimal.RequireFromString("70"))
	}
	return b
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, func(c *RouterConfig) {
		c.HealthChecks = []DependencyCheck{
			{Name: "postgres", Critical: true, Ping: func(context.Context) error { return nil }},
			{Name: "rabbitmq", Ping: func(context.Context) error { return errors.New("down") }},
		}
	})

	rec := ts.do(t, http.MethodGet, "/health/live", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodGet, "/health/ready", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "degraded", body["status"])

	ts = newTestServer(t, func(c *RouterConfig) {
		c.HealthChecks = []DependencyCheck{
			{Name: "postgres", Critical: true, Ping: func(context.Context) error { return errors.New("down") }},
		}
	})
	rec = ts.do(t, http.MethodGet, "/health/ready", nil, "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/bookings/my", nil, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "missing_token", decode(t, rec)["error"])

	req := httptest.NewRequest(http.MethodGet, "/bookings/my", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	rec = httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "invalid_token", decode(t, rec)["error"])
}

func TestCreateBooking(t *testing.T) {
	ts := newTestServer(t)
	ts.svc.booking = sampleBooking(booking.StatusPending)

	body := fmt.Sprintf(`{"providerId":"user_provider","serviceId":%q,"scheduledTime":"2026-11-02T09:00:00Z",
		"location":{"address":"Rue Neuve 1","city":"Brussels"},"description":"leaking tap"}`, ts.svc.booking.ServiceID)
	rec := ts.do(t, http.MethodPost, "/bookings", &client, body)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	out := decode(t, rec)
	assert.Equal(t, true, out["success"])
	data := out["data"].(map[string]any)
	assert.Equal(t, "pending", data["status"])
	assert.Nil(t, data["fee"])

	assert.Equal(t, client, ts.svc.lastActor)
	assert.Equal(t, "leaking tap", ts.svc.lastIn.Description)
	assert.Equal(t, "Brussels", ts.svc.lastIn.Location.City)
}

func TestSpoofedIdentityHeadersAreIgnored(t *testing.T) {
	ts := newTestServer(t)
	ts.svc.booking = sampleBooking(booking.StatusPaid)

	tok, err := ts.signer.Sign(client)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPatch, "/bookings/"+ts.svc.booking.ID.String()+"/done", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	req.Header.Set("X-User-ID", provider.ID)
	req.Header.Set("X-User-Type", "handyman")
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)

	assert.Equal(t, client, ts.svc.lastActor)
}

func TestAcceptBooking(t *testing.T) {
	ts := newTestServer(t)
	ts.svc.booking = sampleBooking(booking.StatusAccepted)
	path := "/bookings/" + ts.svc.booking.ID.String() + "/accept"

	rec := ts.do(t, http.MethodPatch, path, &provider, `{}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	fields := decode(t, rec)["fields"].(map[string]any)
	assert.Equal(t, "is required", fields["fee"])

	rec = ts.do(t, http.MethodPatch, path, &provider, `{"fee":"70.00"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, ts.svc.lastFee.Equal(decimal.RequireFromString("70")))
	data := decode(t, rec)["data"].(map[string]any)
	assert.Equal(t, "70.00", data["fee"])

	rec = ts.do(t, http.MethodPatch, "/bookings/not-a-uuid/accept", &provider, `{"fee":1}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestErrorMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{&booking.ValidationError{Fields: map[string]string{"fee": "must not be negative"}}, http.StatusBadRequest, "validation_failed"},
		{fmt.Errorf("%w: nope", booking.ErrAccessDenied), http.StatusForbidden, "access_denied"},
		{booking.ErrBookingNotFound, http.StatusNotFound, "booking_not_found"},
		{fmt.Errorf("%w: paid -> done", booking.ErrInvalidStateTransition), http.StatusConflict, "invalid_state_transition"},
		{booking.ErrConcurrentModification, http.StatusConflict, "concurrent_modification"},
		{booking.ErrPaymentInProgress, http.StatusConflict, "payment_in_progress"},
		{&booking.PaymentError{Reason: "card declined"}, http.StatusPaymentRequired, "payment_failed"},
		{fmt.Errorf("%w: timeout", booking.ErrUpstreamUnavailable), http.StatusServiceUnavailable, "upstream_unavailable"},
		{errors.New("db exploded"), http.StatusInternalServerError, "internal_error"},
	}

	for _, tc := range cases {
		ts := newTestServer(t)
		ts.svc.err = tc.err
		rec := ts.do(t, http.MethodPatch, "/bookings/"+uuid.NewString()+"/done", &provider, "")

		assert.Equal(t, tc.status, rec.Code, tc.code)
		out := decode(t, rec)
		assert.Equal(t, tc.code, out["error"])
		assert.Equal(t, false, out["success"])
	}
}

func TestAccessDeniedDoesNotLeakDetail(t *testing.T) {
	ts := newTestServer(t)
	ts.svc.err = fmt.Errorf("%w: not a party to booking 123", booking.ErrAccessDenied)

	rec := ts.do(t, http.MethodGet, "/bookings/"+uuid.NewString(), &client, "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.NotContains(t, rec.Body.String(), "123")
}

func TestPayBooking(t *testing.T) {
	ts := newTestServer(t)
	b := sampleBooking(booking.StatusAccepted)
	quote, err := fees.Quote(decimal.RequireFromString("70"))
	require.NoError(t, err)
	ts.svc.intent = &booking.PaymentIntent{
		Booking:      b,
		Payment:      &booking.Payment{TransactionID: "pi_1", Status: booking.PaymentPending, Currency: "usd"},
		Quote:        quote,
		ClientSecret: "pi_1_secret",
	}

	rec := ts.do(t, http.MethodPost, "/bookings/"+b.ID.String()+"/pay", &client, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	data := decode(t, rec)["data"].(map[string]any)
	assert.Equal(t, "pi_1_secret", data["clientSecret"])
	assert.Equal(t, "14.00", data["platformFee"])
	assert.Equal(t, "84.00", data["totalCharge"])
	assert.Equal(t, "pending", data["paymentStatus"])
}

func signedWebhook(body string) (string, string) {
	sp := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   []byte(body),
		Secret:    webhookSecret,
		Timestamp: time.Now(),
	})
	return string(sp.Payload), sp.Header
}

func postWebhook(ts *testServer, body, sig string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/payments/webhook", bytes.NewBufferString(body))
	req.Header.Set("Stripe-Signature", sig)
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

func TestPaymentWebhook(t *testing.T) {
	ts := newTestServer(t)
	b := sampleBooking(booking.StatusPaid)
	ts.svc.booking = b

	payload, sig := signedWebhook(fmt.Sprintf(`{"id":"evt_1","object":"event","type":"payment_intent.succeeded",
		"data":{"object":{"id":"pi_9","object":"payment_intent","status":"succeeded","metadata":{"booking_id":%q}}}}`, b.ID))

	rec := postWebhook(ts, payload, sig)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Len(t, ts.svc.settled, 1)
	assert.Equal(t, "pi_9", ts.svc.settled[0].TransactionID)
	assert.Equal(t, b.ID, ts.svc.settled[0].BookingID)
	assert.Equal(t, payment.ChargeSucceeded, ts.svc.settled[0].Status)

	// a replay is answered the same way
	rec = postWebhook(ts, payload, sig)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = postWebhook(ts, payload, "t=1,v1=deadbeef")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	ignored, sig := signedWebhook(`{"id":"evt_2","object":"event","type":"customer.created","data":{"object":{}}}`)
	rec = postWebhook(ts, ignored, sig)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, ts.svc.settled, 2)
}

func TestPaymentWebhookUnknownTransactionIsRetried(t *testing.T) {
	ts := newTestServer(t)
	ts.svc.err = fmt.Errorf("load payment pi_x: %w", booking.ErrPaymentNotFound)

	payload, sig := signedWebhook(`{"id":"evt_3","object":"event","type":"payment_intent.succeeded",
		"data":{"object":{"id":"pi_x","object":"payment_intent","status":"succeeded"}}}`)
	rec := postWebhook(ts, payload, sig)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	ts.svc.err = fmt.Errorf("%w: rejected -> paid", booking.ErrInvalidStateTransition)
	rec = postWebhook(ts, payload, sig)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestListProvidersQuery(t *testing.T) {
	ts := newTestServer(t)
	path := "/services/" + uuid.NewString() + "/providers"

	rec := ts.do(t, http.MethodGet, path+"?sort=distance&lat=50.85&lng=4.35&q=plumb", &client, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, booking.SortByDistance, ts.svc.lastSort.Sort)
	require.NotNil(t, ts.svc.lastSort.Lat)
	assert.InDelta(t, 50.85, *ts.svc.lastSort.Lat, 1e-9)
	assert.Equal(t, "plumb", ts.svc.lastSort.Search)

	rec = ts.do(t, http.MethodGet, path+"?lat=north", &client, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestNotifications(t *testing.T) {
	ts := newTestServer(t)
	ts.notes.unread[client.ID] = 4

	rec := ts.do(t, http.MethodGet, "/notifications/unread-count", &client, "")
	require.Equal(t, http.StatusOK, rec.Code)
	data := decode(t, rec)["data"].(map[string]any)
	assert.EqualValues(t, 4, data["unreadCount"])
	assert.EqualValues(t, 30, data["pollAfterSeconds"])

	rec = ts.do(t, http.MethodPost, "/notifications/read", &client, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Zero(t, ts.notes.unread[client.ID])

	rec = ts.do(t, http.MethodPut, "/notifications/email", &client, `{"email":"me@example.com"}`)
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "me@example.com", ts.notes.emails[client.ID])

	rec = ts.do(t, http.MethodPut, "/notifications/email", &client, `{"email":"nope"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRateLimitPerActor(t *testing.T) {
	lim := limiter.New(memory.NewStore(), limiter.Rate{Period: time.Minute, Limit: 2})
	ts := newTestServer(t, func(c *RouterConfig) { c.Limiter = lim })

	for i := 0; i < 2; i++ {
		rec := ts.do(t, http.MethodGet, "/notifications/unread-count", &client, "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, fmt.Sprint(1-i), rec.Header().Get("X-RateLimit-Remaining"))
	}
	rec := ts.do(t, http.MethodGet, "/notifications/unread-count", &client, "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	// another actor has its own budget
	rec = ts.do(t, http.MethodGet, "/notifications/unread-count", &provider, "")
	assert.Equal(t, http.StatusOK, rec.Code)
}
