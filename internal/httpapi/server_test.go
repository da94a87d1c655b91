package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/rentstream/internal/domain/rental"
	"github.com/R3E-Network/rentstream/internal/metrics"
	"github.com/R3E-Network/rentstream/internal/notify"
	"github.com/R3E-Network/rentstream/internal/reconnect"
	"github.com/R3E-Network/rentstream/internal/session"
	"github.com/R3E-Network/rentstream/internal/subscription"
	"github.com/R3E-Network/rentstream/pkg/testutil"
)

type staticStatus struct {
	info subscription.Info
}

func (s staticStatus) Info() subscription.Info { return s.info }

type fixture struct {
	store   *notify.Store
	session *session.Tracker
	hub     *Hub
	metrics *metrics.Collector
	handler http.Handler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger, _ := test.NewNullLogger()
	log := logrus.NewEntry(logger)

	f := &fixture{
		store:   notify.NewStore(),
		session: session.NewTracker(""),
		hub:     NewHub(HubConfig{}, log),
		metrics: metrics.NewCollector("test"),
	}
	status := staticStatus{info: subscription.Info{
		Info: reconnect.Info{
			State:       reconnect.StateError,
			Degraded:    true,
			Attempts:    10,
			MaxAttempts: 10,
		},
		Mode:      subscription.ModePolling,
		LastBlock: 77,
		Contract:  testutil.ContractHash,
	}}
	srv, err := NewServer(Config{RateLimit: 1000, RateBurst: 1000}, Deps{
		Status:  status,
		Store:   f.store,
		Session: f.session,
		Hub:     f.hub,
		Metrics: f.metrics,
	}, log)
	require.NoError(t, err)
	t.Cleanup(f.hub.Close)
	f.handler = srv.Handler()
	return f
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func notification(id string, kind rental.Kind) notify.Notification {
	return notify.Notification{ID: id, Type: kind, Title: id, Timestamp: time.Unix(1700000000, 0).UTC()}
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestStatus(t *testing.T) {
	f := newFixture(t)
	f.store.Append(testutil.Address(1), notification("a", rental.KindRentalCreated))

	rec := f.do(t, http.MethodGet, "/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "error", body["state"])
	assert.Equal(t, true, body["degraded"])
	assert.Equal(t, "polling", body["mode"])
	assert.Equal(t, float64(77), body["last_block"])
	assert.Equal(t, map[string]any{"users": float64(1), "notifications": float64(1)}, body["notifications"])
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t)
	f.do(t, http.MethodGet, "/health", nil)

	rec := f.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `test_http_requests_total{method="GET",route="/health",status="200"} 1`)
}

func TestNotifications(t *testing.T) {
	f := newFixture(t)
	user := testutil.Address(1)
	base := "/users/" + user + "/notifications"

	rec := f.do(t, http.MethodGet, base, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	f.store.Append(user, notification("first", rental.KindRentalCreated))
	f.store.Append(user, notification("second", rental.KindFundsReleased))

	rec = f.do(t, http.MethodPost, base+"/0/read", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var read notify.Notification
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &read))
	assert.Equal(t, "first", read.ID)

	var inbox []notify.Notification
	rec = f.do(t, http.MethodGet, base, nil)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &inbox))
	require.Len(t, inbox, 1)
	assert.Equal(t, "second", inbox[0].ID, "indices shift after a read")

	var history []notify.Notification
	rec = f.do(t, http.MethodGet, base+"/history", nil)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &history))
	require.Len(t, history, 1)
	assert.Equal(t, "first", history[0].ID)

	rec = f.do(t, http.MethodPost, base+"/5/read", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodDelete, base, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, f.store.Notifications(user))
	assert.Len(t, f.store.History(user), 1, "clear keeps history")
}

func TestNotifications_InvalidAddress(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/users/not-an-address/notifications", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/users/"+testutil.Address(1)+"/notifications/-1/read", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code, "negative index does not match the route")
}

func TestPreferences(t *testing.T) {
	f := newFixture(t)
	user := testutil.Address(3)
	path := "/users/" + user + "/preferences"

	rec := f.do(t, http.MethodGet, path, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var prefs notify.Preferences
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &prefs))
	assert.Equal(t, notify.DefaultPreferences(), prefs)

	rec = f.do(t, http.MethodPut, path, map[string]bool{"sms": true, "offers": false})
	require.Equal(t, http.StatusOK, rec.Code)

	got := f.store.Preferences(user)
	assert.True(t, got.SMS)
	assert.False(t, got.Offers)
	assert.True(t, got.Email, "omitted fields keep their value")

	rec = f.do(t, http.MethodPut, path, map[string]bool{"fax": true})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSession(t *testing.T) {
	f := newFixture(t)
	user := testutil.Address(4)

	rec := f.do(t, http.MethodPut, "/session", map[string]string{"address": user})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, user, f.session.ActiveUser())

	rec = f.do(t, http.MethodGet, "/session", nil)
	assert.JSONEq(t, `{"address":"`+user+`"}`, rec.Body.String())

	rec = f.do(t, http.MethodPut, "/session", map[string]string{"address": "bogus"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, user, f.session.ActiveUser())

	rec = f.do(t, http.MethodPut, "/session", map[string]string{"address": ""})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, f.session.ActiveUser())
}

func TestRateLimited(t *testing.T) {
	logger, _ := test.NewNullLogger()
	hub := NewHub(HubConfig{}, nil)
	defer hub.Close()
	srv, err := NewServer(Config{RateLimit: 1, RateBurst: 1}, Deps{
		Status:  staticStatus{},
		Store:   notify.NewStore(),
		Session: session.NewTracker(""),
		Hub:     hub,
	}, logrus.NewEntry(logger))
	require.NoError(t, err)

	codes := make([]int, 0, 2)
	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusTooManyRequests}, codes)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code, "health is not rate limited")
}

func TestNewServer_RequiresDeps(t *testing.T) {
	_, err := NewServer(Config{}, Deps{}, nil)
	assert.Error(t, err)
}

type startRecorder struct {
	started chan context.Context
}

func (s *startRecorder) Start(ctx context.Context) { s.started <- ctx }

func newReconnectServer(t *testing.T, state reconnect.State) (http.Handler, *startRecorder) {
	t.Helper()
	logger, _ := test.NewNullLogger()
	hub := NewHub(HubConfig{}, nil)
	t.Cleanup(hub.Close)
	stream := &startRecorder{started: make(chan context.Context, 1)}
	srv, err := NewServer(Config{RateLimit: 1000, RateBurst: 1000}, Deps{
		Status:  staticStatus{info: subscription.Info{Info: reconnect.Info{State: state}}},
		Store:   notify.NewStore(),
		Session: session.NewTracker(""),
		Hub:     hub,
		Stream:  stream,
	}, logrus.NewEntry(logger))
	require.NoError(t, err)
	return srv.Handler(), stream
}

func TestReconnect(t *testing.T) {
	handler, stream := newReconnectServer(t, reconnect.StateError)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/reconnect", nil))
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.JSONEq(t, `{"status":"reconnecting"}`, rec.Body.String())

	select {
	case ctx := <-stream.started:
		assert.NoError(t, ctx.Err(), "restart must not inherit the request context")
	case <-time.After(2 * time.Second):
		t.Fatal("stream was not restarted")
	}
}

func TestReconnect_RejectedWhileActive(t *testing.T) {
	for _, state := range []reconnect.State{reconnect.StateConnecting, reconnect.StateConnected} {
		handler, stream := newReconnectServer(t, state)

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/reconnect", nil))
		assert.Equal(t, http.StatusConflict, rec.Code, state.String())
		assert.Empty(t, stream.started)
	}
}

func TestReconnect_RouteRequiresStream(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/reconnect", nil)
	assert.NotEqual(t, http.StatusAccepted, rec.Code)
}
