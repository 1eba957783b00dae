package bus

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

type noopSigner struct{}

func (noopSigner) Sign(*http.Request) error { return nil }

func alwaysReachable() *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
}

// TestBootstrap200 covers spec.md §6's success path: a 200 with all three
// fields present yields Credentials and no error.
func TestBootstrap200(t *testing.T) {
	probe := alwaysReachable()
	defer probe.Close()

	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(Credentials{AMQPPassword: "pw", UserID: "u1", HostID: "h1"})
	}))
	defer srv.Close()

	cfg := BootstrapConfig{
		RemoteHost:      serverHost(srv.URL),
		Hostname:        "agent-01",
		Transport:       TransportConfig{DisableTLSCheck: true},
		MaxBackoffTries: 1,
		ProbeURL:        probe.URL,
		ProbeTimeout:    time.Second,
		ProbeInterval:   10 * time.Millisecond,
	}

	creds, err := Bootstrap(context.Background(), cfg, noopSigner{}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if creds.UserID != "u1" || creds.HostID != "h1" || creds.AMQPPassword != "pw" {
		t.Fatalf("unexpected credentials: %+v", creds)
	}
}

// TestBootstrap409 covers spec.md §8 scenario S5: a 409 response is fatal
// with that exact exit code, and no retry is attempted.
func TestBootstrap409(t *testing.T) {
	attempts := 0
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusConflict)
	}))
	defer srv.Close()

	cfg := BootstrapConfig{
		RemoteHost:      serverHost(srv.URL),
		Hostname:        "agent-01",
		Transport:       TransportConfig{DisableTLSCheck: true},
		MaxBackoffTries: 1,
	}

	_, err := Bootstrap(context.Background(), cfg, noopSigner{}, nil)
	if err == nil {
		t.Fatal("expected error")
	}
	fe, ok := err.(*FatalError)
	if !ok {
		t.Fatalf("expected *FatalError, got %T: %v", err, err)
	}
	if fe.Code != 409 {
		t.Fatalf("expected exit code 409, got %d", fe.Code)
	}
	if attempts != 1 {
		t.Fatalf("expected exactly one attempt, got %d", attempts)
	}
}

// TestBootstrapMissingField covers the "200 but missing a required field"
// branch, which spec.md §6 says is fatal exit 1 even though the HTTP
// status itself was a success.
func TestBootstrapMissingField(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(Credentials{AMQPPassword: "pw", UserID: "u1"})
	}))
	defer srv.Close()

	cfg := BootstrapConfig{
		RemoteHost:      serverHost(srv.URL),
		Hostname:        "agent-01",
		Transport:       TransportConfig{DisableTLSCheck: true},
		MaxBackoffTries: 1,
	}

	_, err := Bootstrap(context.Background(), cfg, noopSigner{}, nil)
	fe, ok := err.(*FatalError)
	if !ok {
		t.Fatalf("expected *FatalError, got %T: %v", err, err)
	}
	if fe.Code != 1 {
		t.Fatalf("expected exit code 1, got %d", fe.Code)
	}
}

func serverHost(rawURL string) string {
	const prefix = "https://"
	if len(rawURL) > len(prefix) && rawURL[:len(prefix)] == prefix {
		return rawURL[len(prefix):]
	}
	return rawURL
}
