package cryptocompare

import (
	"net/url"
	"testing"

	"cryptocompare_scraper/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildURL(t *testing.T) {
	u, pair, exchange := BuildURL(models.FetchParams{
		Pair:      models.SymbolPair{From: "BTC", To: "USD"},
		Aggregate: "1",
		Limit:     "2000",
		Exchange:  "COINBASE",
	})

	assert.Equal(t, "https://min-api.cryptocompare.com/data/histohour?fsym=BTC&tsym=USD&limit=2000&aggregate=1&e=COINBASE", u)
	assert.Equal(t, "BTC_USD", pair)
	assert.Equal(t, "COINBASE", exchange)
}

func TestBuildURLDeterministic(t *testing.T) {
	p := models.FetchParams{
		Pair:      models.SymbolPair{From: "XMR", To: "USD"},
		Aggregate: "3",
		Limit:     "10",
		Exchange:  "BITFINEX",
	}
	u1, s1, e1 := BuildURL(p)
	u2, s2, e2 := BuildURL(p)
	assert.Equal(t, u1, u2)
	assert.Equal(t, s1, s2)
	assert.Equal(t, e1, e2)
}

func TestBuildURLPassesValuesThrough(t *testing.T) {
	b := Builder{BaseURL: "http://127.0.0.1:9999/data/histohour"}
	u, pair, exchange := b.BuildURL(models.FetchParams{
		Pair:      models.SymbolPair{From: "NOPE", To: "EUR"},
		Aggregate: "24",
		Limit:     "5",
		Exchange:  "NotAnExchange",
	})

	parsed, err := url.Parse(u)
	require.NoError(t, err)
	assert.Equal(t, "/data/histohour", parsed.Path)
	q := parsed.Query()
	assert.Equal(t, "NOPE", q.Get("fsym"))
	assert.Equal(t, "EUR", q.Get("tsym"))
	assert.Equal(t, "5", q.Get("limit"))
	assert.Equal(t, "24", q.Get("aggregate"))
	assert.Equal(t, "NotAnExchange", q.Get("e"))
	assert.Equal(t, "NOPE_EUR", pair)
	assert.Equal(t, "NotAnExchange", exchange)
}
