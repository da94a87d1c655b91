package notify

import "github.com/R3E-Network/rentstream/internal/domain/rental"

// Channel is an out-of-band delivery channel.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelPush  Channel = "push"
	ChannelSMS   Channel = "sms"
)

// Channels lists every delivery channel.
func Channels() []Channel {
	return []Channel{ChannelEmail, ChannelPush, ChannelSMS}
}

// Class groups event types for channel routing.
type Class int

const (
	ClassNone Class = iota
	ClassSuccess
	ClassFailure
)

// ClassOf returns the routing class of a notification type.
func ClassOf(kind rental.Kind) Class {
	switch kind {
	case rental.KindRentalCreated,
		rental.KindRentalCompleted,
		rental.KindFundsReleased,
		rental.KindReputationUpdated,
		rental.KindOfferReceived:
		return ClassSuccess
	case rental.KindRentalCancelled, rental.KindDisputeRaised:
		return ClassFailure
	}
	return ClassNone
}

// Allowed reports whether kind is on ch's fixed allow-list: SMS carries
// failure-class events only, push every success-class event, email every
// success-class event except reputation changes.
func Allowed(ch Channel, kind rental.Kind) bool {
	class := ClassOf(kind)
	switch ch {
	case ChannelSMS:
		return class == ClassFailure
	case ChannelPush:
		return class == ClassSuccess
	case ChannelEmail:
		return class == ClassSuccess && kind != rental.KindReputationUpdated
	}
	return false
}

// categoryEnabled applies the rentalUpdates and offers switches.
func categoryEnabled(kind rental.Kind, prefs Preferences) bool {
	switch kind {
	case rental.KindRentalCreated,
		rental.KindRentalCompleted,
		rental.KindRentalCancelled,
		rental.KindFundsReleased:
		return prefs.RentalUpdates
	case rental.KindOfferReceived:
		return prefs.Offers
	}
	return true
}

func (p Preferences) channelEnabled(ch Channel) bool {
	switch ch {
	case ChannelEmail:
		return p.Email
	case ChannelPush:
		return p.Push
	case ChannelSMS:
		return p.SMS
	}
	return false
}

// EligibleChannels returns the channels that fire for a notification of
// kind sent to a user with prefs.
func EligibleChannels(kind rental.Kind, prefs Preferences) []Channel {
	if !categoryEnabled(kind, prefs) {
		return nil
	}
	var out []Channel
	for _, ch := range Channels() {
		if Allowed(ch, kind) && prefs.channelEnabled(ch) {
			out = append(out, ch)
		}
	}
	return out
}
