package httputil

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

// =============================================================================
// Client Tests
// =============================================================================

func TestNewClient(t *testing.T) {
	client := NewClient(ClientConfig{
		BaseURL:    "http://localhost:8080/",
		Timeout:    3 * time.Second,
		MaxRetries: 3,
	})

	if client.baseURL != "http://localhost:8080" {
		t.Errorf("baseURL = %s, want http://localhost:8080", client.baseURL)
	}
	if client.maxRetries != 3 {
		t.Errorf("maxRetries = %d, want 3", client.maxRetries)
	}
	if client.httpClient.Timeout != 3*time.Second {
		t.Errorf("timeout = %v, want 3s", client.httpClient.Timeout)
	}
}

func TestNewClient_Defaults(t *testing.T) {
	client := NewClient(ClientConfig{BaseURL: "http://localhost:8080"})

	if client.maxRetries != 0 {
		t.Errorf("default maxRetries = %d, want 0", client.maxRetries)
	}
	if client.httpClient.Timeout != 10*time.Second {
		t.Errorf("default timeout = %v, want 10s", client.httpClient.Timeout)
	}
}

func TestClient_PostJSON(t *testing.T) {
	var gotPath, gotType string
	var gotBody map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotType = r.Header.Get("Content-Type")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	client := NewClient(ClientConfig{BaseURL: server.URL})
	if err := client.PostJSON(context.Background(), "/events/x", map[string]string{"k": "v"}); err != nil {
		t.Fatalf("PostJSON() error = %v", err)
	}
	if gotPath != "/events/x" {
		t.Errorf("path = %s, want /events/x", gotPath)
	}
	if gotType != "application/json" {
		t.Errorf("Content-Type = %s, want application/json", gotType)
	}
	if gotBody["k"] != "v" {
		t.Errorf("body = %v, want k=v", gotBody)
	}
}

func TestClient_RetriesGatewayErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewClient(ClientConfig{BaseURL: server.URL, MaxRetries: 2})
	if err := client.PostJSON(context.Background(), "", struct{}{}); err != nil {
		t.Fatalf("PostJSON() error = %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
}

func TestClient_NoRetryOnClientError(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad payload", http.StatusBadRequest)
	}))
	defer server.Close()

	client := NewClient(ClientConfig{BaseURL: server.URL, MaxRetries: 2})
	err := client.PostJSON(context.Background(), "", struct{}{})

	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("error = %v, want *StatusError", err)
	}
	if statusErr.Code != http.StatusBadRequest {
		t.Errorf("Code = %d, want 400", statusErr.Code)
	}
	if !strings.Contains(statusErr.Error(), "bad payload") {
		t.Errorf("Error() = %q, want body included", statusErr.Error())
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}

func TestDecodeResponse_Success(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteJSON(rec, http.StatusOK, map[string]int{"n": 7})

	var out map[string]int
	if err := DecodeResponse(rec.Result(), &out); err != nil {
		t.Fatalf("DecodeResponse() error = %v", err)
	}
	if out["n"] != 7 {
		t.Errorf("n = %d, want 7", out["n"])
	}
}

// =============================================================================
// Response helper Tests
// =============================================================================

func TestWriteError(t *testing.T) {
	rec := httptest.NewRecorder()
	NotFound(rec, "no such user")

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
	var body ErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Error != "no such user" {
		t.Errorf("error = %q, want %q", body.Error, "no such user")
	}
}

func TestDecodeJSON(t *testing.T) {
	type input struct {
		Address string `json:"address"`
	}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPut, "/", strings.NewReader(`{"address":"NA"}`))
	var in input
	if !DecodeJSON(rec, req, &in) {
		t.Fatalf("DecodeJSON() = false, body %s", rec.Body.String())
	}
	if in.Address != "NA" {
		t.Errorf("Address = %q, want NA", in.Address)
	}

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPut, "/", strings.NewReader(`{"addr":"NA"}`))
	if DecodeJSON(rec, req, &in) {
		t.Error("DecodeJSON() accepted an unknown field")
	}
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}
