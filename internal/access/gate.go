// Package access decides whether an actor may perform an action, using only the role
// claims supplied by the identity provider and the parties of the target booking.
package access

import (
	"errors"
	"fmt"
)

var ErrAccessDenied = errors.New("access denied")

// Actor is the verified identity of the caller. It is passed explicitly into every
// core operation.
type Actor struct {
	ID         string
	IsAdmin    bool
	IsProvider bool
}

func (a Actor) Role() string {
	switch {
	case a.IsAdmin:
		return "admin"
	case a.IsProvider:
		return "provider"
	default:
		return "client"
	}
}

type Action string

const (
	ActionCreateBooking     Action = "booking.create"
	ActionViewBooking       Action = "booking.view"
	ActionAccept            Action = "booking.accept"
	ActionReject            Action = "booking.reject"
	ActionMarkDone          Action = "booking.done"
	ActionPay               Action = "booking.pay"
	ActionConfirmCompletion Action = "booking.complete"

	ActionAdminStats     Action = "admin.stats"
	ActionAdminLocations Action = "admin.locations"
	ActionCreateService  Action = "service.create"
	ActionUpdateService  Action = "service.update"

	ActionManageProviderProfile Action = "provider.profile"
)

type scope int

const (
	scopeAdmin scope = iota
	scopeClient
	scopeProvider
	scopeParty
	scopeSelfProvider
)

var actionScopes = map[Action]scope{
	ActionCreateBooking:     scopeClient,
	ActionPay:               scopeClient,
	ActionConfirmCompletion: scopeClient,
	ActionAccept:            scopeProvider,
	ActionReject:            scopeProvider,
	ActionMarkDone:          scopeProvider,
	ActionViewBooking:       scopeParty,

	ActionAdminStats:     scopeAdmin,
	ActionAdminLocations: scopeAdmin,
	ActionCreateService:  scopeAdmin,
	ActionUpdateService:  scopeAdmin,

	ActionManageProviderProfile: scopeSelfProvider,
}

// Parties are the two actors a booking belongs to. Nil for admin and profile actions.
type Parties struct {
	ClientID   string
	ProviderID string
}

type Decision struct {
	Allowed bool
	Reason  string
}

// Err returns nil for an allowed decision and an error wrapping ErrAccessDenied otherwise.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrAccessDenied, d.Reason)
}

func allow() Decision { return Decision{Allowed: true} }

func deny(reason string) Decision { return Decision{Reason: reason} }

// Authorize is the single place role and ownership rules are evaluated.
func Authorize(actor Actor, action Action, parties *Parties) Decision {
	if actor.ID == "" {
		return deny("anonymous actor")
	}

	sc, ok := actionScopes[action]
	if !ok {
		return deny(fmt.Sprintf("unknown action %q", action))
	}

	switch sc {
	case scopeAdmin:
		if !actor.IsAdmin {
			return deny("admin role required")
		}
		return allow()

	case scopeSelfProvider:
		if !actor.IsProvider {
			return deny("provider role required")
		}
		return allow()
	}

	if parties == nil {
		return deny("action requires a booking")
	}

	switch sc {
	case scopeClient:
		if actor.ID != parties.ClientID {
			return deny("only the booking's client may do this")
		}
		return allow()

	case scopeProvider:
		if !actor.IsProvider || actor.ID != parties.ProviderID {
			return deny("only the booking's provider may do this")
		}
		return allow()

	case scopeParty:
		if actor.IsAdmin || actor.ID == parties.ClientID || actor.ID == parties.ProviderID {
			return allow()
		}
		return deny("not a party to this booking")
	}

	return deny("unhandled scope")
}

// IsMutating reports whether the action changes booking state.
func (a Action) IsMutating() bool {
	switch a {
	case ActionCreateBooking, ActionAccept, ActionReject, ActionMarkDone, ActionPay, ActionConfirmCompletion:
		return true
	}
	return false
}

// BookingActions lists every action evaluated against a booking.
func BookingActions() []Action {
	return []Action{
		ActionCreateBooking,
		ActionViewBooking,
		ActionAccept,
		ActionReject,
		ActionMarkDone,
		ActionPay,
		ActionConfirmCompletion,
	}
}
