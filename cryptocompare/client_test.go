package cryptocompare

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"cryptocompare_scraper/middleware"
	"cryptocompare_scraper/models"
	"cryptocompare_scraper/parser"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const okBody = `{"Response":"Success","TimeFrom":1514764800,"TimeTo":1514768400,"Data":[
 {"time":1514764800,"high":110,"low":90,"open":100,"volumefrom":2,"volumeto":202,"close":105,"conversionType":"direct","conversionSymbol":""},
 {"time":1514768400,"high":120,"low":100,"open":105,"volumefrom":3,"volumeto":333,"close":110,"conversionType":"direct","conversionSymbol":""}
]}`

var btcCoinbase = models.FetchParams{
	Pair:      models.SymbolPair{From: "BTC", To: "USD"},
	Aggregate: "1",
	Limit:     "2000",
	Exchange:  "COINBASE",
}

func newTestClient(srv *httptest.Server, retry RetryPolicy) *Client {
	return NewClient(Options{
		BaseURL:    srv.URL + "/data/histohour",
		HTTPClient: srv.Client(),
		Retry:      retry,
	})
}

func TestFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/data/histohour", r.URL.Path)
		assert.Equal(t, "fsym=BTC&tsym=USD&limit=2000&aggregate=1&e=COINBASE", r.URL.RawQuery)
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		assert.Empty(t, r.Header.Get("Authorization"))
		w.Write([]byte(okBody))
	}))
	defer srv.Close()

	batch, err := newTestClient(srv, RetryPolicy{}).Fetch(context.Background(), btcCoinbase)
	require.NoError(t, err)

	assert.Equal(t, "BTC_USD", batch.Pair)
	assert.Equal(t, "COINBASE", batch.Exchange)
	assert.Equal(t, 1, batch.Attempts)
	assert.Equal(t, []string{"conversionType", "conversionSymbol"}, batch.ExtraKeys)
	assert.Equal(t, time.Unix(1514764800, 0).UTC(), batch.TimeFrom)
	require.Len(t, batch.Candles, 2)
	assert.Equal(t, 105.0, batch.Candles[0].Close)
	assert.Equal(t, "BTC_USD", batch.Candles[1].Pair)
	assert.Equal(t, "COINBASE", batch.Candles[1].Exchange)
}

func TestFetchServerErrorFailsWithoutRetryByDefault(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		http.Error(w, "upstream down", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := newTestClient(srv, RetryPolicy{}).Fetch(context.Background(), btcCoinbase)

	var fe *FetchError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, "BTC_USD", fe.Pair)
	assert.Equal(t, "COINBASE", fe.Exchange)
	assert.Equal(t, 1, fe.Attempts)

	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusInternalServerError, se.Code)
	assert.Contains(t, se.Body, "upstream down")
	assert.EqualValues(t, 1, atomic.LoadInt32(&hits))
}

func TestFetchRetriesTransientStatus(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(okBody))
	}))
	defer srv.Close()

	batch, err := newTestClient(srv, RetryPolicy{
		MaxRetries:      3,
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
	}).Fetch(context.Background(), btcCoinbase)
	require.NoError(t, err)
	assert.Equal(t, 3, batch.Attempts)
	assert.Len(t, batch.Candles, 2)
}

func TestFetchDoesNotRetryClientErrors(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := newTestClient(srv, RetryPolicy{MaxRetries: 5, InitialInterval: time.Millisecond}).
		Fetch(context.Background(), btcCoinbase)

	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusNotFound, se.Code)
	assert.EqualValues(t, 1, atomic.LoadInt32(&hits))
}

func TestFetchPayloadErrors(t *testing.T) {
	cases := map[string]struct {
		body  string
		check func(t *testing.T, err error)
	}{
		"malformed": {
			body: `not json`,
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, parser.ErrMalformed)
			},
		},
		"api error": {
			body: `{"Response":"Error","Message":"market does not exist","Data":[]}`,
			check: func(t *testing.T, err error) {
				var apiErr *parser.APIError
				assert.True(t, errors.As(err, &apiErr))
			},
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			var hits int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				atomic.AddInt32(&hits, 1)
				w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			_, err := newTestClient(srv, RetryPolicy{MaxRetries: 3, InitialInterval: time.Millisecond}).
				Fetch(context.Background(), btcCoinbase)
			require.Error(t, err)
			var fe *FetchError
			assert.True(t, errors.As(err, &fe))
			tc.check(t, err)
			assert.EqualValues(t, 1, atomic.LoadInt32(&hits))
		})
	}
}

func TestFetchTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	c := newTestClient(srv, RetryPolicy{})
	srv.Close()

	_, err := c.Fetch(context.Background(), btcCoinbase)
	var fe *FetchError
	assert.True(t, errors.As(err, &fe))
}

func TestFetchBreakerIgnoresClientErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("e") == "GONE" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Write([]byte(okBody))
	}))
	defer srv.Close()

	c := NewClient(Options{
		BaseURL:    srv.URL,
		HTTPClient: srv.Client(),
		Breaker:    middleware.NewCircuitBreaker("histohour-test"),
	})
	gone := btcCoinbase
	gone.Exchange = "GONE"
	for i := 0; i < 5; i++ {
		_, err := c.Fetch(context.Background(), gone)
		require.Error(t, err)
	}

	_, err := c.Fetch(context.Background(), btcCoinbase)
	assert.NoError(t, err)
}

func TestFetchSendsAPIKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Apikey secret", r.Header.Get("Authorization"))
		w.Write([]byte(okBody))
	}))
	defer srv.Close()

	c := NewClient(Options{BaseURL: srv.URL, HTTPClient: srv.Client(), APIKey: "secret"})
	_, err := c.Fetch(context.Background(), btcCoinbase)
	assert.NoError(t, err)
}
