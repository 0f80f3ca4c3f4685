package relay_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"mediarelay/internal/relay"
	"mediarelay/internal/services"
)

type fakeRelayService struct {
	sessions  atomic.Int32
	rejectNth int32
	handler   func(w http.ResponseWriter, r *http.Request)
	lastToken atomic.Value
}

func (f *fakeRelayService) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/session":
		if r.Header.Get("Authorization") != "Bearer secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		n := f.sessions.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"session":"s-` + string(rune('0'+n)) + `"}`))
	case r.Method == http.MethodGet && r.URL.Path == "/healthz":
		w.WriteHeader(http.StatusOK)
	default:
		f.lastToken.Store(r.Header.Get("X-Relay-Session"))
		f.handler(w, r)
	}
}

func newProcessor(t *testing.T, svc *fakeRelayService) *relay.HTTPProcessor {
	t.Helper()

	server := httptest.NewServer(svc)
	t.Cleanup(server.Close)
	p, err := relay.NewHTTPProcessor(server.URL+"/", "secret", 5*time.Second)
	if err != nil {
		t.Fatalf("NewHTTPProcessor: %v", err)
	}
	return p
}

func respond(status int, body string) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}
}

func TestHTTPProcessorMapsResponses(t *testing.T) {
	cases := []struct {
		name    string
		status  int
		body    string
		outcome relay.Outcome
		dest    int64
		errKind string
	}{
		{name: "processed", status: 200, body: `{"status":"processed","destination_id":900}`, outcome: relay.OutcomeProcessed, dest: 900},
		{name: "deleted status", status: 200, body: `{"status":"deleted"}`, outcome: relay.OutcomeDeletedFromSource},
		{name: "unsupported status", status: 200, body: `{"status":"unsupported","message":"photo"}`, outcome: relay.OutcomeOtherError},
		{name: "not found", status: 404, body: ``, outcome: relay.OutcomeDeletedFromSource},
		{name: "gone", status: 410, body: `{"message":"removed by owner"}`, outcome: relay.OutcomeDeletedFromSource},
		{name: "unprocessable", status: 422, body: `{}`, outcome: relay.OutcomeOtherError},
		{name: "server error", status: 503, body: `busy`, errKind: "transient"},
		{name: "throttled", status: 429, body: ``, errKind: "transient"},
		{name: "gateway timeout", status: 504, body: ``, errKind: "timeout"},
		{name: "bad request", status: 400, body: `nope`, errKind: "external"},
		{name: "processed without destination", status: 200, body: `{"status":"processed"}`, errKind: "external"},
		{name: "unknown status", status: 200, body: `{"status":"maybe"}`, errKind: "external"},
		{name: "garbage", status: 200, body: `<html>`, errKind: "external"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := &fakeRelayService{handler: respond(tc.status, tc.body)}
			p := newProcessor(t, svc)

			result, err := p.Process(context.Background(), 42)
			if tc.errKind != "" {
				if err == nil {
					t.Fatalf("expected error, got %+v", result)
				}
				if kind := services.Kind(err); kind != tc.errKind {
					t.Fatalf("expected %s error, got %s (%v)", tc.errKind, kind, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Process: %v", err)
			}
			if result.Outcome != tc.outcome {
				t.Fatalf("outcome = %s, want %s", result.Outcome, tc.outcome)
			}
			if tc.dest != 0 {
				if result.DestinationID == nil || *result.DestinationID != tc.dest {
					t.Fatalf("destination = %v, want %d", result.DestinationID, tc.dest)
				}
			} else if result.DestinationID != nil {
				t.Fatalf("unexpected destination %d", *result.DestinationID)
			}
		})
	}
}

func TestHTTPProcessorPostsToItemPath(t *testing.T) {
	var gotPath, gotMethod string
	svc := &fakeRelayService{handler: func(w http.ResponseWriter, r *http.Request) {
		gotPath, gotMethod = r.URL.Path, r.Method
		respond(200, `{"status":"processed","destination_id":1}`)(w, r)
	}}
	p := newProcessor(t, svc)

	if _, err := p.Process(context.Background(), 1234); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if gotMethod != http.MethodPost || gotPath != "/items/1234/relay" {
		t.Fatalf("unexpected request %s %s", gotMethod, gotPath)
	}
	if token, _ := svc.lastToken.Load().(string); token != "s-1" {
		t.Fatalf("expected session header, got %q", token)
	}
}

func TestHTTPProcessorOpensSessionLazilyOnce(t *testing.T) {
	svc := &fakeRelayService{handler: respond(200, `{"status":"processed","destination_id":5}`)}
	p := newProcessor(t, svc)

	if p.Session().Ready() || svc.sessions.Load() != 0 {
		t.Fatal("session must not open before first use")
	}
	for i := 0; i < 3; i++ {
		if _, err := p.Process(context.Background(), int64(i+1)); err != nil {
			t.Fatalf("Process: %v", err)
		}
	}
	if got := svc.sessions.Load(); got != 1 {
		t.Fatalf("expected one handshake, got %d", got)
	}
}

func TestHTTPProcessorReopensSessionAfterUnauthorized(t *testing.T) {
	var calls atomic.Int32
	svc := &fakeRelayService{handler: func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		respond(200, `{"status":"processed","destination_id":8}`)(w, r)
	}}
	p := newProcessor(t, svc)

	if _, err := p.Process(context.Background(), 9); !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient error on expired session, got %v", err)
	}
	if p.Session().Ready() {
		t.Fatal("expected session invalidated")
	}
	if _, err := p.Process(context.Background(), 9); err != nil {
		t.Fatalf("Process after reopen: %v", err)
	}
	if got := svc.sessions.Load(); got != 2 {
		t.Fatalf("expected two handshakes, got %d", got)
	}
	if token, _ := svc.lastToken.Load().(string); token != "s-2" {
		t.Fatalf("expected fresh session token, got %q", token)
	}
}

func TestHTTPProcessorRejectedTokenIsConfigurationError(t *testing.T) {
	server := httptest.NewServer(&fakeRelayService{handler: respond(200, `{}`)})
	defer server.Close()

	p, err := relay.NewHTTPProcessor(server.URL, "wrong", time.Second)
	if err != nil {
		t.Fatalf("NewHTTPProcessor: %v", err)
	}
	_, err = p.Process(context.Background(), 1)
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if p.Session().Ready() {
		t.Fatal("failed handshake must leave the session closed")
	}
}

func TestHTTPProcessorNetworkErrorIsTransient(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	p, err := relay.NewHTTPProcessor(url, "secret", time.Second)
	if err != nil {
		t.Fatalf("NewHTTPProcessor: %v", err)
	}
	_, err = p.Process(context.Background(), 1)
	if err == nil {
		t.Fatal("expected error for unreachable service")
	}
	if kind := services.Kind(err); kind != "transient" && kind != "timeout" {
		t.Fatalf("expected transient classification, got %s (%v)", kind, err)
	}
}

func TestHTTPProcessorPing(t *testing.T) {
	p := newProcessor(t, &fakeRelayService{handler: respond(200, `{}`)})
	if err := p.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}

func TestNewHTTPProcessorRequiresBaseURL(t *testing.T) {
	if _, err := relay.NewHTTPProcessor("  ", "", 0); !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}
