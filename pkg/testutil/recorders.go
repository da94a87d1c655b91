package testutil

import (
	"context"
	"errors"
	"sync"

	"github.com/R3E-Network/rentstream/internal/notify"
)

// SentMessage is one channel delivery captured by RecordingSender.
type SentMessage struct {
	Recipient    string
	Notification notify.Notification
}

// RecordingSender is a notify.Sender that records every delivery.
type RecordingSender struct {
	mu    sync.Mutex
	sent  []SentMessage
	err   error
	panic bool
}

// NewRecordingSender creates a new recording sender.
func NewRecordingSender() *RecordingSender {
	return &RecordingSender{}
}

// FailWith makes Send return err.
func (s *RecordingSender) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// PanicOnSend makes Send panic after recording.
func (s *RecordingSender) PanicOnSend() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.panic = true
}

// Send implements notify.Sender.
func (s *RecordingSender) Send(_ context.Context, recipient string, n notify.Notification) error {
	s.mu.Lock()
	s.sent = append(s.sent, SentMessage{Recipient: recipient, Notification: n})
	err, shouldPanic := s.err, s.panic
	s.mu.Unlock()
	if shouldPanic {
		panic(errors.New("sender exploded"))
	}
	return err
}

// Sent returns a copy of the recorded deliveries.
func (s *RecordingSender) Sent() []SentMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]SentMessage(nil), s.sent...)
}

// SentTo returns the deliveries addressed to recipient.
func (s *RecordingSender) SentTo(recipient string) []SentMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []SentMessage
	for _, m := range s.sent {
		if m.Recipient == recipient {
			out = append(out, m)
		}
	}
	return out
}

// Toast is one display call captured by RecordingDisplay.
type Toast struct {
	Recipient string
	Title     string
	Body      string
	Severity  notify.Severity
}

// RecordingDisplay is a notify.Display that records every toast.
type RecordingDisplay struct {
	mu     sync.Mutex
	toasts []Toast
}

// Show implements notify.Display.
func (d *RecordingDisplay) Show(recipient, title, body string, severity notify.Severity) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.toasts = append(d.toasts, Toast{Recipient: recipient, Title: title, Body: body, Severity: severity})
}

// Toasts returns a copy of the recorded toasts.
func (d *RecordingDisplay) Toasts() []Toast {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Toast(nil), d.toasts...)
}

// StaticSession is a notify.Session returning a fixed active user.
type StaticSession string

// ActiveUser implements notify.Session.
func (s StaticSession) ActiveUser() string { return string(s) }
