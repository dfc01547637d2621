package models

import (
	"fmt"
	"strings"
	"time"
)

// SymbolPair is a base/quote currency identifier such as BTC/USD.
type SymbolPair struct {
	From string `json:"fsym"`
	To   string `json:"tsym"`
}

// Label is the pair identifier written to the fsym_tsym column.
func (p SymbolPair) Label() string {
	return p.From + "_" + p.To
}

func (p SymbolPair) String() string {
	return p.From + "/" + p.To
}

// ParseSymbolPair parses "FROM/TO".
func ParseSymbolPair(s string) (SymbolPair, error) {
	from, to, ok := strings.Cut(strings.TrimSpace(s), "/")
	if !ok || from == "" || to == "" || strings.Contains(to, "/") {
		return SymbolPair{}, fmt.Errorf("invalid symbol pair %q, want FROM/TO", s)
	}
	return SymbolPair{From: from, To: to}, nil
}

// FetchParams describes a single histohour request.
type FetchParams struct {
	Pair      SymbolPair
	Aggregate string
	Limit     string
	Exchange  string
}

// Candle is one exchange's hourly OHLCV record for one pair.
// Prices and volumes may be NaN once sentinel zeros are substituted.
type Candle struct {
	Time       time.Time         `ch:"time"`
	Open       float64           `ch:"open"`
	High       float64           `ch:"high"`
	Low        float64           `ch:"low"`
	Close      float64           `ch:"close"`
	VolumeFrom float64           `ch:"volumefrom"`
	VolumeTo   float64           `ch:"volumeto"`
	Extra      map[string]string `ch:"extra"`
	Pair       string            `ch:"fsym_tsym"`
	Exchange   string            `ch:"exchange"`
}
