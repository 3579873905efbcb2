package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-claimbot/core"
)

func TestRESTAdapter_ResponseLimitReturnsRichError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("12345"))
	}))
	defer server.Close()

	adapter := NewRESTAdapter(server.Client(), server.URL)
	adapter.MaxResponseBodyBytes = 4

	_, err := adapter.Do(context.Background(), Request{Method: http.MethodGet, URL: "/"})
	if err == nil {
		t.Fatalf("expected response body limit error")
	}

	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		t.Fatalf("expected go-errors envelope, got %T", err)
	}
	if rich.Category != goerrors.CategoryExternal {
		t.Fatalf("expected external category, got %q", rich.Category)
	}
	if rich.TextCode != core.ErrorDependencyFailed {
		t.Fatalf("expected %q text code, got %q", core.ErrorDependencyFailed, rich.TextCode)
	}
	if rich.Code != http.StatusBadGateway {
		t.Fatalf("expected %d code, got %d", http.StatusBadGateway, rich.Code)
	}
}

func TestRESTAdapter_ForwardsCorrelationIDAndQuery(t *testing.T) {
	var gotCorrelation, gotFrom string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotCorrelation = r.Header.Get(core.HeaderCorrelationID)
		gotFrom = r.URL.Query().Get("from")
		_ = json.NewEncoder(w).Encode(map[string]string{"ok": "yes"})
	}))
	defer server.Close()

	adapter := NewRESTAdapter(server.Client(), server.URL+"/")
	ctx := core.ContextWithCorrelationID(context.Background(), "corr-42")
	var out map[string]string
	if err := adapter.GetJSON(ctx, "routes", map[string]string{"from": "Leeds"}, &out); err != nil {
		t.Fatalf("get: %v", err)
	}
	if gotCorrelation != "corr-42" || gotFrom != "Leeds" || out["ok"] != "yes" {
		t.Fatalf("unexpected request: correlation=%q from=%q out=%v", gotCorrelation, gotFrom, out)
	}
}

func TestRESTAdapter_PostJSONSetsContentType(t *testing.T) {
	var contentType string
	var payload map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		contentType = r.Header.Get("Content-Type")
		_ = json.NewDecoder(r.Body).Decode(&payload)
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	adapter := NewRESTAdapter(server.Client(), server.URL)
	if err := adapter.PostJSON(context.Background(), "/verifications", map[string]string{"to": "+44"}, nil); err != nil {
		t.Fatalf("post: %v", err)
	}
	if contentType != "application/json" || payload["to"] != "+44" {
		t.Fatalf("unexpected request %q %v", contentType, payload)
	}
}

func TestRESTAdapter_NonSuccessStatusIsDependencyFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "secret internal detail", http.StatusInternalServerError)
	}))
	defer server.Close()

	err := NewRESTAdapter(server.Client(), server.URL).GetJSON(context.Background(), "/routes", nil, nil)
	if !core.HasTextCode(err, core.ErrorDependencyFailed) {
		t.Fatalf("expected dependency failure, got %v", err)
	}
}

func TestRESTAdapter_TimeoutIsReportedAsTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer server.Close()

	_, err := NewRESTAdapter(server.Client(), server.URL).Do(context.Background(), Request{URL: "/slow", Timeout: 20 * time.Millisecond})
	if !core.IsTimeout(err) {
		t.Fatalf("expected timeout, got %v", err)
	}
}

func TestRESTAdapter_NilReturnsRichError(t *testing.T) {
	var adapter *RESTAdapter
	_, err := adapter.Do(context.Background(), Request{})
	if !core.HasTextCode(err, core.ErrorUnhandled) {
		t.Fatalf("expected internal error, got %v", err)
	}
}
