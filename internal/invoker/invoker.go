package invoker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"quorum/internal/provider"
)

var (
	// ErrRateLimited marks a 429 from the backend.
	ErrRateLimited = errors.New("rate limited")
	// ErrExhausted wraps the last observed error once the retry budget is spent.
	ErrExhausted = errors.New("retry budget exhausted")
)

const (
	// GenerateTimeout bounds one generation call.
	GenerateTimeout = 120 * time.Second
	// DiscoveryTimeout bounds one model-discovery call.
	DiscoveryTimeout = 30 * time.Second

	// BackoffBase is the unit for exponential 429 backoff: 2^attempt * base.
	BackoffBase = 2 * time.Second
	// flatRetryDelay is the fixed delay before retrying a non-429 failure.
	flatRetryDelay = 2 * time.Second
)

// Doer issues one HTTP request. *http.Client satisfies it; tests substitute
// a fake so no sockets are opened.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Sleeper waits for d, honoring context cancellation. Tests substitute a
// recording fake to assert backoff timing without wall-clock sleeps.
type Sleeper func(ctx context.Context, d time.Duration) error

// SleepContext is the production Sleeper.
func SleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// retryState drives one logical call. Keeping the states explicit means the
// same loop works unchanged whether the sleeper blocks a goroutine or a
// test advances a fake clock.
type retryState int

const (
	stateAttempting retryState = iota
	stateBackoff
	stateExhausted
)

// Invoker performs one logical backend call with timeout, rate-limit
// detection and retry. It knows nothing about consensus semantics.
type Invoker struct {
	client Doer
	sleep  Sleeper
}

func New() *Invoker {
	return &Invoker{
		client: &http.Client{Timeout: GenerateTimeout},
		sleep:  SleepContext,
	}
}

// Invoke calls the backend described by d with the given prompt, retrying
// up to budget attempts. A 429 backs off 2^attempt * BackoffBase; any other
// HTTP or network failure waits a flat delay. A response that parses oddly
// is returned as-is (degraded, never retried). A missing Bedrock credential
// fails immediately without spending the budget.
func (iv *Invoker) Invoke(ctx context.Context, d provider.Descriptor, prompt string, budget int) (string, error) {
	if budget < 1 {
		budget = 1
	}

	req, err := provider.BuildRequest(d, prompt)
	if err != nil {
		return "", err
	}

	var (
		state   = stateAttempting
		attempt = 0
		delay   time.Duration
		lastErr error
	)

	for {
		switch state {
		case stateAttempting:
			text, err := iv.attempt(ctx, d, req)
			if err == nil {
				return text, nil
			}
			lastErr = err

			if attempt >= budget-1 {
				state = stateExhausted
				break
			}
			if errors.Is(err, ErrRateLimited) {
				delay = BackoffBase * (1 << attempt)
				slog.Warn("backend throttled, backing off",
					"family", d.Family.String(), "model", d.Model,
					"attempt", attempt+1, "budget", budget, "delay", delay)
			} else {
				delay = flatRetryDelay
				slog.Warn("backend call failed, retrying",
					"family", d.Family.String(), "model", d.Model,
					"attempt", attempt+1, "budget", budget, "error", err)
			}
			state = stateBackoff

		case stateBackoff:
			if err := iv.sleep(ctx, delay); err != nil {
				return "", fmt.Errorf("%w: %w", ErrExhausted, err)
			}
			attempt++
			state = stateAttempting

		case stateExhausted:
			return "", fmt.Errorf("%w after %d attempts: %w", ErrExhausted, budget, lastErr)
		}
	}
}

func (iv *Invoker) attempt(ctx context.Context, d provider.Descriptor, req provider.Request) (string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, req.URL, bytes.NewReader(req.Body))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := iv.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("call %s backend: %w", d.Family, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return "", fmt.Errorf("%w: %s", ErrRateLimited, preview(body))
	case resp.StatusCode >= 400:
		return "", fmt.Errorf("backend returned status %d: %s", resp.StatusCode, preview(body))
	}

	return provider.ParseResponse(d, body), nil
}

func preview(body []byte) string {
	const limit = 500
	if len(body) <= limit {
		return string(body)
	}
	return string(body[:limit]) + "..."
}
