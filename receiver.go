package contactor

import (
	"strings"
	"time"
)

type Receiver struct {
	Id        string   `json:"id"`
	FullName  string   `json:"fullName"`
	FirstName string   `json:"firstName,omitempty"`
	Emails    []string `json:"emails"`
	IsValid   bool     `json:"isValid"`
	Timezone  string   `json:"timezone"`

	// Location is the free-form place the timezone was derived from, if any.
	Location string `json:"location,omitempty"`
}

// GivenName is the name used for the [first_name] placeholder.
func (r Receiver) GivenName() string {
	if r.FirstName != "" {
		return r.FirstName
	}

	if fields := strings.Fields(r.FullName); len(fields) > 0 {
		return fields[0]
	}

	return ""
}

type ReceiverList struct {
	Id string `sql:",pk" json:"id"`

	Name      string     `sql:",notnull" json:"name"`
	Receivers []Receiver `json:"receivers"`

	CreatedAt time.Time `json:"createdAt"`
}

// ValidReceivers returns the receivers that passed validation, in list order.
func ValidReceivers(receivers []Receiver) []Receiver {
	valid := make([]Receiver, 0, len(receivers))
	for _, r := range receivers {
		if r.IsValid {
			valid = append(valid, r)
		}
	}

	return valid
}

// CountEmails is the number of addresses a send over receivers attempts.
// An address listed twice under the same receiver id counts once.
func CountEmails(receivers []Receiver) int {
	return len(plan(receivers, nil))
}

type TimezoneSource string

const (
	TimezoneExplicit TimezoneSource = "explicit"
	TimezoneResolved TimezoneSource = "resolved"
	TimezoneDefault  TimezoneSource = "default"
)

// TimezoneResolver maps a free-form location to an IANA timezone name.
type TimezoneResolver func(location string) (timezone string, source TimezoneSource)

// LocationResolver accepts locations that already are IANA names and
// falls back to UTC for everything else.
func LocationResolver(location string) (string, TimezoneSource) {
	location = strings.TrimSpace(location)
	if location != "" {
		if _, err := loadZone(location); err == nil {
			return location, TimezoneResolved
		}
	}

	return "UTC", TimezoneDefault
}

// NormalizeReceivers fills in missing timezones using resolve.
func NormalizeReceivers(receivers []Receiver, resolve TimezoneResolver) []Receiver {
	if resolve == nil {
		resolve = LocationResolver
	}

	out := make([]Receiver, len(receivers))
	for i, r := range receivers {
		if r.Timezone == "" {
			r.Timezone, _ = resolve(r.Location)
		}
		out[i] = r
	}

	return out
}
