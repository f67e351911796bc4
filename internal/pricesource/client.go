package pricesource

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/david/fare-finder/internal/config"
	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/time/rate"
)

var (
	ErrRateLimited = errors.New("provider rate limit exceeded")
	ErrStatus      = errors.New("unexpected provider status")
)

// Client is the shared HTTP layer for fare providers: one rate limiter per
// provider, retries with exponential backoff and jitter, and sanitizing of
// free text coming back from the provider.
type Client struct {
	name       string
	baseURL    string
	http       *http.Client
	limiter    *rate.Limiter
	maxRetries int
	backoff    time.Duration
	maxBackoff time.Duration
	recorder   CallRecorder
	admit      Admission
	policy     *bluemonday.Policy
	now        func() time.Time
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.http = c }
}

// WithRecorder registers a hook that sees every HTTP attempt.
func WithRecorder(r CallRecorder) Option {
	return func(cl *Client) { cl.recorder = r }
}

// WithAdmission registers a check that must pass before every HTTP
// attempt, retries included.
func WithAdmission(a Admission) Option {
	return func(cl *Client) { cl.admit = a }
}

// WithBackoff sets the first retry delay. Later retries double it.
func WithBackoff(d time.Duration) Option {
	return func(cl *Client) { cl.backoff = d }
}

func NewClient(cfg config.ProviderConfig, opts ...Option) *Client {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	rps := cfg.RateLimitRPS
	if rps <= 0 {
		rps = 1
	}
	retries := cfg.MaxRetries
	if retries < 0 {
		retries = 0
	}

	c := &Client{
		name:       cfg.Name,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		http:       &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Limit(rps), 1),
		maxRetries: retries,
		backoff:    500 * time.Millisecond,
		maxBackoff: time.Minute,
		policy:     bluemonday.StrictPolicy(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Name() string { return c.name }

// Sanitize strips markup from provider text such as carrier names.
func (c *Client) Sanitize(s string) string {
	return strings.TrimSpace(c.policy.Sanitize(s))
}

// shouldRetry reports whether an attempt is worth repeating.
func shouldRetry(err error, statusCode int) bool {
	if err != nil {
		var netErr interface{ Timeout() bool }
		return errors.As(err, &netErr) && netErr.Timeout()
	}
	switch statusCode {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// retryAfter reads a Retry-After header in seconds.
func retryAfter(resp *http.Response) time.Duration {
	if resp == nil {
		return 0
	}
	secs, err := strconv.Atoi(strings.TrimSpace(resp.Header.Get("Retry-After")))
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

// getJSON issues GET baseURL+path?params and decodes a 200 body into out.
func (c *Client) getJSON(ctx context.Context, path string, params url.Values, out any) error {
	endpoint := c.baseURL + path
	full := endpoint
	if len(params) > 0 {
		full += "?" + params.Encode()
	}

	var lastErr error
	var wait time.Duration

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			// Exponential backoff: 0.5s, 1s, 2s + jitter
			backoff := c.backoff * time.Duration(1<<uint(attempt-1))
			if wait > backoff {
				backoff = wait
			}
			if backoff > c.maxBackoff {
				backoff = c.maxBackoff
			}
			jitter := time.Duration(rand.Int63n(int64(c.backoff/5) + 1))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff + jitter):
			}
		}
		wait = 0

		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		if c.admit != nil {
			if err := c.admit(ctx); err != nil {
				if lastErr != nil {
					return fmt.Errorf("%s stopped after %d attempts (%v): %w", c.name, attempt, lastErr, err)
				}
				return fmt.Errorf("%s not sent: %w", c.name, err)
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, full, nil)
		if err != nil {
			return fmt.Errorf("creating request: %w", err)
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", "fare-finder/1.0")

		start := c.now()
		resp, err := c.http.Do(req)
		call := Call{Provider: c.name, Endpoint: path, Err: err, At: start, Duration: c.now().Sub(start)}
		if err != nil {
			c.record(call)
			lastErr = err
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if shouldRetry(err, 0) {
				continue
			}
			return fmt.Errorf("%s request failed: %w", c.name, err)
		}
		call.StatusCode = resp.StatusCode

		if resp.StatusCode == http.StatusOK {
			err = json.NewDecoder(resp.Body).Decode(out)
			resp.Body.Close()
			if err != nil {
				call.Err = err
				c.record(call)
				return fmt.Errorf("decoding %s response: %w", c.name, err)
			}
			c.record(call)
			return nil
		}

		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests {
			wait = retryAfter(resp)
			lastErr = ErrRateLimited
			log.Printf("[PriceSource] %s rate limited, backing off", c.name)
		} else {
			lastErr = fmt.Errorf("%w %d: %s", ErrStatus, resp.StatusCode, strings.TrimSpace(string(body)))
		}
		call.Err = lastErr
		c.record(call)

		if !shouldRetry(nil, resp.StatusCode) {
			return lastErr
		}
	}

	return fmt.Errorf("%s max retries exceeded: %w", c.name, lastErr)
}

func (c *Client) record(call Call) {
	if c.recorder != nil {
		c.recorder(call)
	}
}
