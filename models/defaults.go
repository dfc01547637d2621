package models

// DefaultBaseURL is the hourly candle endpoint.
const DefaultBaseURL = "https://min-api.cryptocompare.com/data/histohour"

const (
	DefaultAggregate = "1"    // hours per candle
	DefaultLimit     = "2000" // points per request, the API maximum
)

var DefaultExchanges = []string{
	"COINBASE",
	"POLONIEX",
	"KRAKEN",
	"BITSTAMP",
	"BITFINEX",
}

var DefaultSymbolPairs = []SymbolPair{
	{From: "BTC", To: "USD"},
	{From: "ETH", To: "USD"},
	{From: "LTC", To: "USD"},
	{From: "DASH", To: "USD"},
	{From: "XMR", To: "USD"},
}
