// Package httpclient is the HTTP access shared by all forecast providers:
// request timeouts, retries with exponential backoff and a circuit breaker
// per provider.
package httpclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
)

var (
	ErrRateLimited = errors.New("rate limited")
	ErrServerError = errors.New("server error")
	ErrCircuitOpen = errors.New("circuit breaker open")
)

// StatusError is returned for responses outside 2xx that are not retried.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status code %d: %s", e.Code, e.Body)
}

type Config struct {
	Timeout         time.Duration
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	// Upper bound of a response body
	MaxBodySize int64
}

func DefaultConfig() Config {
	return Config{
		Timeout:         30 * time.Second,
		MaxRetries:      2,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     5 * time.Second,
		MaxBodySize:     64 << 20,
	}
}

type Client struct {
	logger  *slog.Logger
	name    string
	http    *http.Client
	cfg     Config
	circuit *gobreaker.CircuitBreaker
}

func New(name string, cfg Config) *Client {
	def := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = def.InitialInterval
	}
	if cfg.MaxBodySize <= 0 {
		cfg.MaxBodySize = def.MaxBodySize
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}

	return &Client{
		logger: slog.Default().With(slog.String("module", "http"), slog.String("provider", name)),
		name:   name,
		http:   &http.Client{Timeout: cfg.Timeout},
		cfg:    cfg,
		circuit: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        name,
			MaxRequests: 1,
			Interval:    10 * time.Minute,
			Timeout:     5 * time.Minute,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
		}),
	}
}

// Get fetches url and returns the response body.
func (c *Client) Get(ctx context.Context, url string, header http.Header) ([]byte, error) {
	return c.Do(ctx, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		for k, vs := range header {
			for _, v := range vs {
				req.Header.Add(k, v)
			}
		}
		return req, nil
	})
}

// Do executes the request built by build with retries, exponential backoff
// and the circuit breaker. Client errors other than 429 are not retried.
func (c *Client) Do(ctx context.Context, build func(ctx context.Context) (*http.Request, error)) ([]byte, error) {
	var attempt int
	for {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		req, err := build(ctx)
		if err != nil {
			return nil, fmt.Errorf("building request: %w", err)
		}

		result, err := c.circuit.Execute(func() (any, error) {
			return c.roundTrip(req)
		})
		if err == nil {
			return result.([]byte), nil
		}

		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: %v", ErrCircuitOpen, err)
		}
		var se *StatusError
		if errors.As(err, &se) || attempt >= c.cfg.MaxRetries {
			return nil, err
		}

		delay := c.cfg.InitialInterval * time.Duration(math.Pow(2, float64(attempt)))
		if delay > c.cfg.MaxInterval && c.cfg.MaxInterval > 0 {
			delay = c.cfg.MaxInterval
		}
		c.logger.Debug("request failed, retrying",
			slog.Int("attempt", attempt+1),
			slog.Duration("delay", delay),
			slog.Any("error", err))

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}

		attempt++
	}
}

func (c *Client) roundTrip(req *http.Request) ([]byte, error) {
	res, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, c.cfg.MaxBodySize))
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}

	switch {
	case res.StatusCode == http.StatusTooManyRequests:
		return nil, ErrRateLimited
	case res.StatusCode >= 500:
		return nil, fmt.Errorf("%w: %d", ErrServerError, res.StatusCode)
	case res.StatusCode < 200 || res.StatusCode >= 300:
		return nil, &StatusError{Code: res.StatusCode, Body: truncate(string(body), 200)}
	}
	return body, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
