package booking

import (
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	maxDescriptionLen = 2000
	maxAddressLen     = 500
	maxNameLen        = 120
	maxExperience     = 80
)

// numeric(12,2)
var maxMoney = decimal.RequireFromString("9999999999.99")

type CreateBookingInput struct {
	// ClientID is optional; when present it must name the caller.
	ClientID      string
	ProviderID    string
	ServiceID     uuid.UUID
	ScheduledTime time.Time
	Location      Location
	Description   string
}

func (in *CreateBookingInput) normalize() {
	in.ProviderID = strings.TrimSpace(in.ProviderID)
	in.Description = strings.TrimSpace(in.Description)
	in.Location.Address = strings.TrimSpace(in.Location.Address)
	in.Location.City = strings.TrimSpace(in.Location.City)
}

func (in CreateBookingInput) validate(clientID string, now time.Time) error {
	v := &ValidationError{}

	switch {
	case in.ProviderID == "":
		v.add("providerId", "is required")
	case in.ProviderID == clientID:
		v.add("providerId", "cannot book yourself")
	}
	if in.ServiceID == uuid.Nil {
		v.add("serviceId", "is required")
	}
	switch {
	case in.ScheduledTime.IsZero():
		v.add("scheduledTime", "is required")
	case !in.ScheduledTime.After(now):
		v.add("scheduledTime", "must be in the future")
	}
	switch {
	case in.Location.Address == "":
		v.add("location.address", "is required")
	case utf8.RuneCountInString(in.Location.Address) > maxAddressLen:
		v.add("location.address", "is too long")
	}
	validateCoordinates(v, "location", in.Location.Lat, in.Location.Lng)
	if utf8.RuneCountInString(in.Description) > maxDescriptionLen {
		v.add("description", "is too long")
	}

	return v.orNil()
}

type ServiceInput struct {
	Name        string
	Description string
	BaseFee     decimal.Decimal
	ImageURL    *string
}

func (in *ServiceInput) normalize() {
	in.Name = strings.TrimSpace(in.Name)
	in.Description = strings.TrimSpace(in.Description)
	if in.ImageURL != nil {
		trimmed := strings.TrimSpace(*in.ImageURL)
		if trimmed == "" {
			in.ImageURL = nil
		} else {
			in.ImageURL = &trimmed
		}
	}
}

func (in ServiceInput) validate() error {
	v := &ValidationError{}

	switch {
	case in.Name == "":
		v.add("name", "is required")
	case utf8.RuneCountInString(in.Name) > maxNameLen:
		v.add("name", "is too long")
	}
	if utf8.RuneCountInString(in.Description) > maxDescriptionLen {
		v.add("description", "is too long")
	}
	validateMoney(v, "baseFee", in.BaseFee)
	if in.ImageURL != nil {
		u, err := url.Parse(*in.ImageURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			v.add("imageUrl", "must be an http(s) URL")
		}
	}

	return v.orNil()
}

type ProviderProfileInput struct {
	DisplayName     string
	Bio             string
	ExperienceYears int
	Lat             *float64
	Lng             *float64
	ServiceIDs      []uuid.UUID
	StripeAccountID *string
}

func (in *ProviderProfileInput) normalize() {
	in.DisplayName = strings.TrimSpace(in.DisplayName)
	in.Bio = strings.TrimSpace(in.Bio)

	seen := make(map[uuid.UUID]bool, len(in.ServiceIDs))
	ids := in.ServiceIDs[:0]
	for _, id := range in.ServiceIDs {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	in.ServiceIDs = ids
}

func (in ProviderProfileInput) validate() error {
	v := &ValidationError{}

	switch {
	case in.DisplayName == "":
		v.add("displayName", "is required")
	case utf8.RuneCountInString(in.DisplayName) > maxNameLen:
		v.add("displayName", "is too long")
	}
	if utf8.RuneCountInString(in.Bio) > maxDescriptionLen {
		v.add("bio", "is too long")
	}
	if in.ExperienceYears < 0 || in.ExperienceYears > maxExperience {
		v.add("experienceYears", "must be between 0 and 80")
	}
	validateCoordinates(v, "", in.Lat, in.Lng)
	for _, id := range in.ServiceIDs {
		if id == uuid.Nil {
			v.add("serviceIds", "contains an empty id")
			break
		}
	}
	if in.StripeAccountID != nil && !strings.HasPrefix(*in.StripeAccountID, "acct_") {
		v.add("stripeAccountId", "must be a connected account id")
	}

	return v.orNil()
}

func validateMoney(v *ValidationError, field string, amount decimal.Decimal) {
	switch {
	case amount.IsNegative():
		v.add(field, "must not be negative")
	case !amount.Equal(amount.Round(2)):
		v.add(field, "must have at most 2 decimal places")
	case amount.GreaterThan(maxMoney):
		v.add(field, "is too large")
	}
}

func validateCoordinates(v *ValidationError, prefix string, lat, lng *float64) {
	field := func(name string) string {
		if prefix == "" {
			return name
		}
		return prefix + "." + name
	}

	if (lat == nil) != (lng == nil) {
		v.add(field("lat"), "lat and lng must be given together")
		return
	}
	if lat != nil && (*lat < -90 || *lat > 90) {
		v.add(field("lat"), "must be between -90 and 90")
	}
	if lng != nil && (*lng < -180 || *lng > 180) {
		v.add(field("lng"), "must be between -180 and 180")
	}
}
