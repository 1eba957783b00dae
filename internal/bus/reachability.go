package bus

import (
	"context"
	"net/http"
	"time"
)

// EnsureReachable blocks until a GET against probeURL succeeds or ctx is
// canceled, retrying every interval. Mirrors ensure_internet_connection:
// a fixed public IP is the intended probeURL so a slow DNS lookup never
// adds to the wait, and any error (timeout, refused, TLS) just means try
// again later.
func EnsureReachable(ctx context.Context, client *http.Client, probeURL string, timeout, interval time.Duration) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		probeCtx, cancel := context.WithTimeout(ctx, timeout)
		req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, probeURL, nil)
		if err == nil {
			resp, doErr := client.Do(req)
			if doErr == nil {
				resp.Body.Close()
				cancel()
				return nil
			}
		}
		cancel()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}
