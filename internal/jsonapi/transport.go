package jsonapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// MediaType is the JSON:API content type
const MediaType = "application/vnd.api+json"

// Credentials are attached to every request made on behalf of a fetch
type Credentials struct {
	Username string
	Password string
	Token    string // bearer token, used when no username is set
	Headers  map[string]string
}

// IsZero reports whether no authentication or headers are set
func (c Credentials) IsZero() bool {
	return c.Username == "" && c.Password == "" && c.Token == "" && len(c.Headers) == 0
}

func (c Credentials) apply(req *http.Request) {
	for k, v := range c.Headers {
		req.Header.Set(k, v)
	}
	switch {
	case c.Username != "":
		req.SetBasicAuth(c.Username, c.Password)
	case c.Token != "":
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
}

// Transport fetches one page of a collection and returns its body
type Transport interface {
	FetchPage(ctx context.Context, url string, creds Credentials) ([]byte, error)
}

// StatusError is returned for HTTP responses with status >= 400
type StatusError struct {
	URL    string
	Status int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: %d %s", e.URL, e.Status, http.StatusText(e.Status))
}

// BreakerConfig holds the circuit breaker settings for the transport
type BreakerConfig struct {
	Name             string
	MaxRequests      uint32
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold float64
	MinRequests      uint32
}

// DefaultBreakerConfig returns a default configuration for the remote
func DefaultBreakerConfig(name string) BreakerConfig {
	return BreakerConfig{
		Name:             name,
		MaxRequests:      5,
		Interval:         30 * time.Second,
		Timeout:          60 * time.Second,
		FailureThreshold: 0.8,
		MinRequests:      5,
	}
}

// HTTPTransport is the default Transport. Requests go through a circuit
// breaker that trips on network errors and 5xx responses only.
type HTTPTransport struct {
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
}

// NewHTTPTransport creates a transport; a nil client means a client with a
// 60 second timeout
func NewHTTPTransport(client *http.Client, cfg BreakerConfig, logger *zap.Logger) *HTTPTransport {
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	logger = logger.Named("transport")

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
		IsSuccessful: func(err error) bool {
			var se *StatusError
			if errors.As(err, &se) {
				return se.Status < 500
			}
			return err == nil || errors.Is(err, context.Canceled)
		},
	})

	return &HTTPTransport{client: client, breaker: breaker, logger: logger}
}

// FetchPage performs a GET with the JSON:API accept header
func (t *HTTPTransport) FetchPage(ctx context.Context, url string, creds Credentials) ([]byte, error) {
	body, err := t.execute(func() (any, error) {
		resp, err := t.do(ctx, url, MediaType, creds)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		return io.ReadAll(resp.Body)
	})
	if err != nil {
		return nil, err
	}
	return body.([]byte), nil
}

// Open performs a GET and returns the response body for streaming. Used for
// file downloads, which share the breaker with page fetches.
func (t *HTTPTransport) Open(ctx context.Context, url string, creds Credentials) (io.ReadCloser, int64, error) {
	var size int64
	body, err := t.execute(func() (any, error) {
		resp, err := t.do(ctx, url, "*/*", creds)
		if err != nil {
			return nil, err
		}
		size = resp.ContentLength
		return resp.Body, nil
	})
	if err != nil {
		return nil, 0, err
	}
	return body.(io.ReadCloser), size, nil
}

func (t *HTTPTransport) execute(fn func() (any, error)) (any, error) {
	out, err := t.breaker.Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("remote unavailable: %w", err)
	}
	return out, err
}

func (t *HTTPTransport) do(ctx context.Context, url, accept string, creds Credentials) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", accept)
	creds.apply(req)

	start := time.Now()
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	t.logger.Debug("GET",
		zap.String("url", url),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)),
	)
	if resp.StatusCode >= 400 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, &StatusError{URL: url, Status: resp.StatusCode}
	}
	return resp, nil
}
