package telephony

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func pbxServer(t *testing.T, handler http.HandlerFunc) (*FreePBXProvider, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewFreePBXProvider(srv.URL, "token-123", time.Second), srv
}

func TestTerminateCall(t *testing.T) {
	var gotPath, gotAuth, gotQuery string
	p, _ := pbxServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"accepted":true}`))
	})

	ok, err := p.TerminateCall(context.Background(), "call-1")
	if err != nil {
		t.Fatalf("terminate: %v", err)
	}
	if !ok {
		t.Fatalf("expected accepted")
	}
	if gotPath != "/api/calls/call-1/hangup" {
		t.Fatalf("path: %q", gotPath)
	}
	if gotQuery != "" {
		t.Fatalf("graceful hangup must not force: %q", gotQuery)
	}
	if gotAuth != "Bearer token-123" {
		t.Fatalf("auth: %q", gotAuth)
	}
}

func TestForceTerminateCall(t *testing.T) {
	var gotQuery string
	p, _ := pbxServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"accepted":true}`))
	})

	ok, err := p.ForceTerminateCall(context.Background(), "call-1")
	if err != nil || !ok {
		t.Fatalf("force terminate: ok=%v err=%v", ok, err)
	}
	if gotQuery != "force=1" {
		t.Fatalf("query: %q", gotQuery)
	}
}

func TestHangupCallAlreadyGone(t *testing.T) {
	p, _ := pbxServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	// The call vanishing at the PBX means the hangup goal is met.
	ok, err := p.TerminateCall(context.Background(), "call-1")
	if err != nil {
		t.Fatalf("terminate: %v", err)
	}
	if !ok {
		t.Fatalf("404 must count as success")
	}
}

func TestHangupGatewayRefuses(t *testing.T) {
	p, _ := pbxServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"accepted":false,"detail":"channel busy"}`))
	})

	ok, err := p.TerminateCall(context.Background(), "call-1")
	if err != nil {
		t.Fatalf("terminate: %v", err)
	}
	if ok {
		t.Fatalf("expected not accepted")
	}
}

func TestHangupServerError(t *testing.T) {
	p, _ := pbxServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	if _, err := p.TerminateCall(context.Background(), "call-1"); err == nil {
		t.Fatalf("expected error for 502")
	}
}

func TestHealthCheck(t *testing.T) {
	p, _ := pbxServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/health" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	if err := p.HealthCheck(context.Background()); err != nil {
		t.Fatalf("health: %v", err)
	}
}
