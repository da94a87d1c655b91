package notify_test

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/rentstream/internal/domain/rental"
	"github.com/R3E-Network/rentstream/internal/notify"
	"github.com/R3E-Network/rentstream/pkg/testutil"
)

type dispatcherFixture struct {
	store   *notify.Store
	display *testutil.RecordingDisplay
	email   *testutil.RecordingSender
	push    *testutil.RecordingSender
	sms     *testutil.RecordingSender
	hook    *test.Hook
	d       *notify.Dispatcher
}

func newDispatcherFixture(t *testing.T, active string) *dispatcherFixture {
	t.Helper()
	logger, hook := test.NewNullLogger()
	f := &dispatcherFixture{
		store:   notify.NewStore(),
		display: &testutil.RecordingDisplay{},
		email:   testutil.NewRecordingSender(),
		push:    testutil.NewRecordingSender(),
		sms:     testutil.NewRecordingSender(),
		hook:    hook,
	}
	f.d = notify.NewDispatcher(f.store, notify.DispatcherConfig{SendTimeout: time.Second},
		notify.WithSession(testutil.StaticSession(active)),
		notify.WithDisplay(f.display),
		notify.WithSender(notify.ChannelEmail, f.email),
		notify.WithSender(notify.ChannelPush, f.push),
		notify.WithSender(notify.ChannelSMS, f.sms),
		notify.WithDispatcherLogger(logrus.NewEntry(logger)),
	)
	t.Cleanup(f.d.Close)
	return f
}

func rentalCreated(tenant, lender string) *rental.RentalCreated {
	start := time.UnixMilli(1_700_000_000_000).UTC()
	return &rental.RentalCreated{
		Meta:      rental.Meta{Contract: testutil.ContractHash, TxHash: testutil.TxHash(1), BlockNumber: 10},
		RentalID:  1,
		TokenID:   "0102",
		Tenant:    tenant,
		Lender:    lender,
		Price:     big.NewInt(150_000_000),
		StartsAt:  start,
		ExpiresAt: start.Add(24 * time.Hour),
	}
}

func TestDispatcher_RentalCreatedEndToEnd(t *testing.T) {
	tenant, lender := testutil.Address(1), testutil.Address(2)
	f := newDispatcherFixture(t, tenant)

	n := f.d.HandleEvent(rentalCreated(tenant, lender))
	f.d.Wait()
	assert.Equal(t, 2, n)

	tenantInbox := f.store.Notifications(tenant)
	lenderInbox := f.store.Notifications(lender)
	require.Len(t, tenantInbox, 1)
	require.Len(t, lenderInbox, 1)
	assert.False(t, tenantInbox[0].Timestamp.IsZero())
	assert.False(t, lenderInbox[0].Timestamp.IsZero())
	assert.NotEqual(t, tenantInbox[0].ID, lenderInbox[0].ID)
	assert.Equal(t, "Rental started", tenantInbox[0].Title)
	assert.Equal(t, "Your NFT was rented", lenderInbox[0].Title)
	assert.Contains(t, tenantInbox[0].Message, "1.5 GAS")
	assert.Equal(t, testutil.TxHash(1), tenantInbox[0].Data["txHash"])

	toasts := f.display.Toasts()
	require.Len(t, toasts, 1)
	assert.Equal(t, tenant, toasts[0].Recipient)
	assert.Equal(t, tenantInbox[0].Title, toasts[0].Title)
	assert.Equal(t, tenantInbox[0].Message, toasts[0].Body)
	assert.Equal(t, notify.SeveritySuccess, toasts[0].Severity)

	// Default preferences: email and push for both, never SMS.
	assert.Len(t, f.email.Sent(), 2)
	assert.Len(t, f.push.Sent(), 2)
	assert.Empty(t, f.sms.Sent())
}

func TestDispatcher_NoToastForInactiveRecipients(t *testing.T) {
	f := newDispatcherFixture(t, "")
	f.d.HandleEvent(rentalCreated(testutil.Address(1), testutil.Address(2)))
	f.d.Wait()

	assert.Empty(t, f.display.Toasts())
	assert.Len(t, f.store.Notifications(testutil.Address(1)), 1)
}

func TestDispatcher_SMSPreferenceGating(t *testing.T) {
	optedOut, optedIn := testutil.Address(1), testutil.Address(2)
	f := newDispatcherFixture(t, "")

	prefs := notify.DefaultPreferences()
	prefs.SMS = true
	f.store.SetPreferences(optedIn, prefs)

	f.d.HandleEvent(&rental.RentalCancelled{
		Meta:     rental.Meta{TxHash: testutil.TxHash(2)},
		RentalID: 3,
		Tenant:   optedOut,
		Lender:   optedIn,
		Reason:   "late",
	})
	f.d.Wait()

	assert.Empty(t, f.sms.SentTo(optedOut))
	assert.Len(t, f.sms.SentTo(optedIn), 1)
	assert.Empty(t, f.email.Sent(), "cancellations are not email-eligible")
	assert.Empty(t, f.push.Sent())
}

func TestDispatcher_NotifyStampsMissingFields(t *testing.T) {
	f := newDispatcherFixture(t, "")

	fixed := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	stored := f.d.Notify("NA", notify.Notification{Type: rental.KindReputationUpdated, Title: "t", Timestamp: fixed, ID: "keep"})
	assert.Equal(t, fixed, stored.Timestamp)
	assert.Equal(t, "keep", stored.ID)

	stored = f.d.Notify("NA", notify.Notification{Type: rental.KindReputationUpdated, Title: "t"})
	assert.False(t, stored.Timestamp.IsZero())
	assert.NotEmpty(t, stored.ID)
	f.d.Wait()
}

func TestDispatcher_SenderFaultsAreIsolated(t *testing.T) {
	f := newDispatcherFixture(t, "")
	f.email.FailWith(errors.New("smtp down"))
	f.push.PanicOnSend()

	assert.NotPanics(t, func() {
		f.d.HandleEvent(rentalCreated(testutil.Address(1), testutil.Address(2)))
		f.d.Wait()
	})

	assert.Len(t, f.store.Notifications(testutil.Address(1)), 1)
	assert.Len(t, f.email.Sent(), 2)
	assert.Len(t, f.push.Sent(), 2)

	var errorsLogged int
	for _, e := range f.hook.AllEntries() {
		if e.Level == logrus.ErrorLevel {
			errorsLogged++
		}
	}
	assert.Equal(t, 4, errorsLogged)
}

type panickingDisplay struct{}

func (panickingDisplay) Show(string, string, string, notify.Severity) { panic("render failed") }

func TestDispatcher_DisplayFaultIsIsolated(t *testing.T) {
	store := notify.NewStore()
	logger, _ := test.NewNullLogger()
	d := notify.NewDispatcher(store, notify.DefaultDispatcherConfig(),
		notify.WithSession(testutil.StaticSession("NA")),
		notify.WithDisplay(panickingDisplay{}),
		notify.WithDispatcherLogger(logrus.NewEntry(logger)),
	)

	assert.NotPanics(t, func() {
		d.Notify("NA", notify.Notification{Type: rental.KindFundsReleased, Title: "x"})
	})
	assert.Len(t, store.Notifications("NA"), 1)
	d.Close()
}

func TestDispatcher_CloseStopsChannelDelivery(t *testing.T) {
	f := newDispatcherFixture(t, "")
	f.d.Close()

	f.d.HandleEvent(rentalCreated(testutil.Address(1), testutil.Address(2)))
	f.d.Wait()

	assert.Len(t, f.store.Notifications(testutil.Address(1)), 1)
	assert.Empty(t, f.email.Sent())
}

func TestWebhookSender(t *testing.T) {
	var mu sync.Mutex
	var got map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	s := notify.NewWebhookSender(notify.ChannelPush, server.URL, time.Second)
	err := s.Send(context.Background(), "NA", notify.Notification{ID: "n1", Type: rental.KindOfferReceived, Title: "New offer"})
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "push", got["channel"])
	assert.Equal(t, "NA", got["recipient"])
	assert.Equal(t, "New offer", got["notification"].(map[string]any)["title"])
}

func TestWebhookSender_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	s := notify.NewWebhookSender(notify.ChannelSMS, server.URL, time.Second)
	assert.Error(t, s.Send(context.Background(), "NA", notify.Notification{}))
}

func TestLogSender(t *testing.T) {
	logger, hook := test.NewNullLogger()
	s := notify.NewLogSender(notify.ChannelEmail, logrus.NewEntry(logger))

	require.NoError(t, s.Send(context.Background(), "NA", notify.Notification{ID: "n1", Title: "hello"}))
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, "hello", hook.LastEntry().Message)
	assert.Equal(t, notify.ChannelEmail, hook.LastEntry().Data["channel"])
}
