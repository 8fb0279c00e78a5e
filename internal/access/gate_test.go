package access

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

var parties = &Parties{ClientID: "client-1", ProviderID: "provider-1"}

func TestClientActions(t *testing.T) {
	client := Actor{ID: "client-1"}

	for _, a := range []Action{ActionCreateBooking, ActionPay, ActionConfirmCompletion, ActionViewBooking} {
		assert.True(t, Authorize(client, a, parties).Allowed, a)
	}
	for _, a := range []Action{ActionAccept, ActionReject, ActionMarkDone} {
		d := Authorize(client, a, parties)
		assert.False(t, d.Allowed, a)
		assert.ErrorIs(t, d.Err(), ErrAccessDenied)
	}
}

func TestProviderActions(t *testing.T) {
	provider := Actor{ID: "provider-1", IsProvider: true}

	for _, a := range []Action{ActionAccept, ActionReject, ActionMarkDone, ActionViewBooking} {
		assert.True(t, Authorize(provider, a, parties).Allowed, a)
	}
	for _, a := range []Action{ActionPay, ActionConfirmCompletion, ActionCreateBooking} {
		assert.False(t, Authorize(provider, a, parties).Allowed, a)
	}
}

func TestProviderActionNeedsProviderClaim(t *testing.T) {
	notFlagged := Actor{ID: "provider-1"}
	assert.False(t, Authorize(notFlagged, ActionAccept, parties).Allowed)
}

func TestAdminIsReadOnlyOnForeignBookings(t *testing.T) {
	admin := Actor{ID: "admin-1", IsAdmin: true}

	assert.True(t, Authorize(admin, ActionViewBooking, parties).Allowed)
	assert.True(t, Authorize(admin, ActionAdminStats, nil).Allowed)
	assert.True(t, Authorize(admin, ActionCreateService, nil).Allowed)

	for _, a := range BookingActions() {
		if a.IsMutating() {
			assert.False(t, Authorize(admin, a, parties).Allowed, a)
		}
	}
}

func TestAdminActionsNeedAdminClaim(t *testing.T) {
	for _, a := range []Action{ActionAdminStats, ActionAdminLocations, ActionCreateService, ActionUpdateService} {
		assert.False(t, Authorize(Actor{ID: "client-1"}, a, nil).Allowed, a)
		assert.False(t, Authorize(Actor{ID: "provider-1", IsProvider: true}, a, nil).Allowed, a)
	}
}

func TestStrangerDeniedEverywhere(t *testing.T) {
	roles := []Actor{
		{ID: "stranger"},
		{ID: "stranger", IsProvider: true},
	}
	for _, actor := range roles {
		for _, a := range BookingActions() {
			t.Run(fmt.Sprintf("%s/%v", a, actor.IsProvider), func(t *testing.T) {
				assert.False(t, Authorize(actor, a, parties).Allowed)
			})
		}
	}
}

func TestAnonymousDenied(t *testing.T) {
	assert.False(t, Authorize(Actor{IsAdmin: true}, ActionAdminStats, nil).Allowed)
}

func TestBookingActionWithoutBooking(t *testing.T) {
	assert.False(t, Authorize(Actor{ID: "client-1"}, ActionPay, nil).Allowed)
}

func TestProviderProfile(t *testing.T) {
	assert.True(t, Authorize(Actor{ID: "p", IsProvider: true}, ActionManageProviderProfile, nil).Allowed)
	assert.False(t, Authorize(Actor{ID: "c"}, ActionManageProviderProfile, nil).Allowed)
}

func TestRole(t *testing.T) {
	assert.Equal(t, "admin", Actor{ID: "a", IsAdmin: true, IsProvider: true}.Role())
	assert.Equal(t, "provider", Actor{ID: "p", IsProvider: true}.Role())
	assert.Equal(t, "client", Actor{ID: "c"}.Role())
}
