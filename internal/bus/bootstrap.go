package bus

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Credentials is the AMQP identity the control plane hands back from the
// bootstrap endpoint (spec.md §4.6, §6).
type Credentials struct {
	AMQPPassword string `json:"amqp_password"`
	UserID       string `json:"user_id"`
	HostID       string `json:"host_id"`
}

// FatalError carries the process exit code a bootstrap failure demands
// (spec.md §6: 0 clean shutdown, 1 missing credentials/generic fatal, 409
// license exhausted, otherwise the bootstrap's own HTTP status).
type FatalError struct {
	Code    int
	Message string
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("fatal (exit %d): %s", e.Code, e.Message)
}

// TransportConfig builds the TLS transport used for both the bootstrap
// HTTPS client and (separately) the AMQP connection's TLS config.
// Verification is on by default against the bundled CA file; disabling it
// requires an explicit operator opt-out (spec.md §6 Environment).
type TransportConfig struct {
	CABundlePath    string
	DisableTLSCheck bool
}

// TLSConfig builds a *tls.Config from the CA bundle path, or the system
// pool if no bundle is configured. DisableTLSCheck skips verification
// entirely and should only ever be set by an explicit operator opt-out.
func (t TransportConfig) TLSConfig() (*tls.Config, error) {
	if t.DisableTLSCheck {
		return &tls.Config{InsecureSkipVerify: true}, nil
	}

	pool, err := x509.SystemCertPool()
	if err != nil || pool == nil {
		pool = x509.NewCertPool()
	}
	if t.CABundlePath != "" {
		pem, err := os.ReadFile(t.CABundlePath)
		if err != nil {
			return nil, fmt.Errorf("read CA bundle: %w", err)
		}
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates found in CA bundle %s", t.CABundlePath)
		}
	}
	return &tls.Config{RootCAs: pool}, nil
}

// BootstrapConfig bundles everything Bootstrap needs beyond the signer.
type BootstrapConfig struct {
	RemoteHost      string
	Hostname        string
	Transport       TransportConfig
	MaxBackoffTries int
	ProbeURL        string
	ProbeTimeout    time.Duration
	ProbeInterval   time.Duration
}

// Bootstrap issues the signed HTTPS GET for AMQP credentials (spec.md §4.6,
// §6) and applies the status-code policy: 200 parses the body, 409 is a
// fatal license-exhausted exit, anything else is fatal with that status,
// and a 200 missing any of the three required fields is fatal exit 1.
// Attempts are wrapped in the spec-exact jittered backoff, and every retry
// first confirms public-internet reachability; a canceled ctx (the agent marked
// stopping) aborts immediately with no fatal exit.
func Bootstrap(ctx context.Context, cfg BootstrapConfig, signer RequestSigner, logger *slog.Logger) (*Credentials, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "bus.bootstrap")

	tlsConfig, err := cfg.Transport.TLSConfig()
	if err != nil {
		return nil, &FatalError{Code: 1, Message: err.Error()}
	}
	client := &http.Client{Transport: &http.Transport{TLSClientConfig: tlsConfig}}

	url := fmt.Sprintf("https://%s/amqp/account?hostname=%s", cfg.RemoteHost, cfg.Hostname)

	var creds *Credentials
	var fatal *FatalError

	operation := func() error {
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		if err := signer.Sign(req); err != nil {
			return backoff.Permanent(fmt.Errorf("sign bootstrap request: %w", err))
		}

		resp, err := client.Do(req)
		if err != nil {
			logger.Error("bootstrap request failed", "error", err)
			return err // transient, retry
		}
		defer resp.Body.Close()

		body, _ := io.ReadAll(resp.Body)

		switch resp.StatusCode {
		case http.StatusOK:
			var parsed Credentials
			if err := json.Unmarshal(body, &parsed); err != nil {
				fatal = &FatalError{Code: 1, Message: "malformed bootstrap response: " + err.Error()}
				return backoff.Permanent(fatal)
			}
			if parsed.AMQPPassword == "" || parsed.UserID == "" || parsed.HostID == "" {
				fatal = &FatalError{Code: 1, Message: "missing required parameters to establish an AMQP connection"}
				return backoff.Permanent(fatal)
			}
			creds = &parsed
			logger.Info("retrieved AMQP credentials")
			return nil

		case http.StatusConflict:
			fatal = &FatalError{Code: 409, Message: "license exhausted"}
			return backoff.Permanent(fatal)

		default:
			fatal = &FatalError{Code: resp.StatusCode, Message: fmt.Sprintf("failed to retrieve AMQP credentials: status %d", resp.StatusCode)}
			return backoff.Permanent(fatal)
		}
	}

	notify := func(err error, next time.Duration) {
		logger.Error("bootstrap attempt failed, will retry", "error", err, "delay", next)
		_ = EnsureReachable(ctx, client, cfg.ProbeURL, cfg.ProbeTimeout, cfg.ProbeInterval)
	}

	b := backoff.WithContext(newJitterBackoff(cfg.MaxBackoffTries), ctx)
	if err := backoff.RetryNotify(operation, b, notify); err != nil {
		if fatal != nil {
			return nil, fatal
		}
		var fe *FatalError
		if errors.As(err, &fe) {
			return nil, fe
		}
		return nil, fmt.Errorf("bootstrap: %w", err)
	}

	return creds, nil
}
