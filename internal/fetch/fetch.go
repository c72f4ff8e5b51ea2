// Package fetch issues the blocking polls against source endpoints.
package fetch

import (
	"context"
	"io"
	"net/http"
	"time"

	"listwatch/internal/retry"
	"listwatch/pkg/logx"
)

// Fetcher performs HTTP GETs with a bounded per-attempt timeout and retries
// transient failures forever with the policy's tiered delays. A call either
// returns a payload or the caller's context error; transport failures are
// logged, never surfaced.
type Fetcher struct {
	client *http.Client
	policy retry.Policy
	log    logx.Logger
}

func New(timeout time.Duration, policy retry.Policy, log logx.Logger) *Fetcher {
	if timeout <= 0 {
		timeout = 1500 * time.Millisecond
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Fetcher{
		client: &http.Client{Timeout: timeout},
		policy: policy,
		log:    log,
	}
}

// Fetch returns the response body and the observation time in epoch
// milliseconds. Success is status 200 with a readable body; any other status
// is a retryable failure.
func (f *Fetcher) Fetch(ctx context.Context, name, url string) ([]byte, int64, error) {
	log := f.log.With(logx.String("source", name))

	var body []byte
	err := f.policy.Do(ctx, log, "fetch", func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := f.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			_, _ = io.Copy(io.Discard, resp.Body)
			return &retry.StatusError{Status: resp.StatusCode, URL: url}
		}
		b, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		body = b
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	return body, time.Now().UnixMilli(), nil
}
