// Package notify turns rental domain events into per-user notifications,
// keeps them in an in-memory inbox and routes them to delivery channels
// according to each user's preferences.
package notify

import (
	"time"

	"github.com/R3E-Network/rentstream/internal/domain/rental"
)

// Severity tells the display surface how to render a toast.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeveritySuccess Severity = "success"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Notification is the record stored under a recipient's key. It is never
// mutated after it is stored.
type Notification struct {
	ID        string         `json:"id"`
	Type      rental.Kind    `json:"type"`
	Title     string         `json:"title"`
	Message   string         `json:"message"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Severity returns the display severity for the notification type.
func (n Notification) Severity() Severity {
	switch ClassOf(n.Type) {
	case ClassSuccess:
		if n.Type == rental.KindReputationUpdated {
			return SeverityInfo
		}
		return SeveritySuccess
	case ClassFailure:
		if n.Type == rental.KindDisputeRaised {
			return SeverityError
		}
		return SeverityWarning
	}
	return SeverityInfo
}

// Preferences are the per-user channel and category switches.
type Preferences struct {
	Email         bool `json:"email" yaml:"email"`
	Push          bool `json:"push" yaml:"push"`
	SMS           bool `json:"sms" yaml:"sms"`
	RentalUpdates bool `json:"rentalUpdates" yaml:"rental_updates"`
	Offers        bool `json:"offers" yaml:"offers"`
}

// DefaultPreferences returns the preferences applied to users who never
// saved any.
func DefaultPreferences() Preferences {
	return Preferences{
		Email:         true,
		Push:          true,
		SMS:           false,
		RentalUpdates: true,
		Offers:        true,
	}
}
