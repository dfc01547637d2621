package cryptocompare

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"cryptocompare_scraper/metrics"
	"cryptocompare_scraper/middleware"
	"cryptocompare_scraper/models"
	"cryptocompare_scraper/parser"
	"cryptocompare_scraper/utils"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

const maxErrorBody = 256

// StatusError is a non-2xx answer from the API.
type StatusError struct {
	Code   int
	Status string
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected status %s", e.Status)
	}
	return fmt.Sprintf("unexpected status %s: %s", e.Status, e.Body)
}

// Retryable reports whether the status is worth another attempt.
func (e *StatusError) Retryable() bool {
	return e.Code >= 500 || e.Code == http.StatusTooManyRequests
}

// FetchError is the single failure condition of a fetch. It wraps the
// transport, status or payload error behind it.
type FetchError struct {
	Pair     string
	Exchange string
	Attempts int
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch failed [%s@%s] after %d attempt(s): %v", e.Pair, e.Exchange, e.Attempts, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// RetryPolicy controls re-attempts of a failed fetch. The zero value makes a
// single attempt.
type RetryPolicy struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// Options configures a Client. Zero fields fall back to defaults.
type Options struct {
	BaseURL    string
	HTTPClient *http.Client
	Retry      RetryPolicy

	// APIKey is sent as "Apikey <key>" when set. Anonymous access works
	// with lower rate limits.
	APIKey string

	// Limiter paces attempts; nil means unpaced.
	Limiter *rate.Limiter

	// Breaker guards the endpoint; nil disables it.
	Breaker *gobreaker.CircuitBreaker
}

// Batch is the labelled result of one fetch.
type Batch struct {
	Params    models.FetchParams
	Pair      string
	Exchange  string
	Candles   []models.Candle
	ExtraKeys []string
	TimeFrom  time.Time
	TimeTo    time.Time
	Attempts  int
}

// Client fetches histohour candles.
type Client struct {
	builder Builder
	http    *http.Client
	retry   RetryPolicy
	apiKey  string
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
}

func NewClient(opts Options) *Client {
	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = models.DefaultBaseURL
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	retry := opts.Retry
	if retry.InitialInterval <= 0 {
		retry.InitialInterval = 500 * time.Millisecond
	}
	if retry.MaxInterval <= 0 {
		retry.MaxInterval = 10 * time.Second
	}
	return &Client{
		builder: Builder{BaseURL: baseURL},
		http:    hc,
		retry:   retry,
		apiKey:  opts.APIKey,
		limiter: opts.Limiter,
		breaker: opts.Breaker,
	}
}

// Fetch requests the candles described by p and labels them with the pair
// and exchange. Any failure is returned as a *FetchError.
func (c *Client) Fetch(ctx context.Context, p models.FetchParams) (*Batch, error) {
	u, pair, exchange := c.builder.BuildURL(p)

	var (
		result   *parser.HistoHour
		attempts int
	)
	operation := func() error {
		attempts++
		result = nil
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return backoff.Permanent(err)
			}
		}

		start := time.Now()
		body, err := c.get(ctx, u)
		if err == nil {
			result, err = parser.ParseHistoHour(body)
		}
		rows := 0
		if result != nil {
			rows = len(result.Records)
		}
		metrics.RecordFetch(exchange, pair, time.Since(start), rows, err)

		if err != nil && !retryable(ctx, err) {
			return backoff.Permanent(err)
		}
		return err
	}

	policy := backoff.WithContext(
		utils.NewExponentialBackoff(c.retry.InitialInterval, c.retry.MaxInterval, c.retry.MaxRetries), ctx)
	err := backoff.RetryNotify(operation, policy, func(err error, wait time.Duration) {
		utils.Logger.Warnw("Fetch failed, retrying",
			"pair", pair,
			"exchange", exchange,
			"attempt", attempts,
			"retry_in", wait,
			"error", err,
		)
	})
	if err != nil {
		return nil, &FetchError{Pair: pair, Exchange: exchange, Attempts: attempts, Err: err}
	}

	utils.Logger.Debugw("Fetched histohour",
		"pair", pair,
		"exchange", exchange,
		"rows", len(result.Records),
		"attempts", attempts,
	)

	return &Batch{
		Params:    p,
		Pair:      pair,
		Exchange:  exchange,
		Candles:   result.Candles(pair, exchange),
		ExtraKeys: result.ExtraKeys(),
		TimeFrom:  time.Unix(result.TimeFrom, 0).UTC(),
		TimeTo:    time.Unix(result.TimeTo, 0).UTC(),
		Attempts:  attempts,
	}, nil
}

// get performs one GET. Only transport errors and retryable statuses count
// against the breaker; a 4xx says nothing about the endpoint's health.
func (c *Client) get(ctx context.Context, u string) ([]byte, error) {
	var (
		body      []byte
		clientErr error
	)
	err := middleware.WithCircuitBreaker(c.breaker, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			clientErr = fmt.Errorf("build request: %w", err)
			return nil
		}
		req.Header.Set("Accept", "application/json")
		if c.apiKey != "" {
			req.Header.Set("Authorization", "Apikey "+c.apiKey)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return fmt.Errorf("http get: %w", err)
		}
		defer resp.Body.Close()

		b, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read body: %w", err)
		}

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			if len(b) > maxErrorBody {
				b = b[:maxErrorBody]
			}
			se := &StatusError{Code: resp.StatusCode, Status: resp.Status, Body: string(b)}
			if se.Retryable() {
				return se
			}
			clientErr = se
			return nil
		}
		body = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	if clientErr != nil {
		return nil, clientErr
	}
	return body, nil
}

// retryable decides whether err may succeed on another attempt.
func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Retryable()
	}
	if errors.Is(err, parser.ErrMalformed) || errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return false
	}
	var apiErr *parser.APIError
	return !errors.As(err, &apiErr)
}
