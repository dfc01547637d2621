// Package aggregate averages raw per-exchange candles into one wide series per
// symbol pair.
//
// The pipeline is: sentinel substitution, per-record derived metrics, a
// NaN-ignoring mean per (timestamp, pair), and a reshape into one row per
// timestamp with a column group per pair.
package aggregate

import (
	"math"
	"sort"
	"time"

	"cryptocompare_scraper/models"
	"cryptocompare_scraper/utils"
)

// SentinelPolicy decides how literal zeros in price and volume fields are read.
type SentinelPolicy int

const (
	// ZeroAsMissing treats 0 as the API's "no trade" marker.
	ZeroAsMissing SentinelPolicy = iota
	// KeepZeros uses zeros as real values.
	KeepZeros
)

func (p SentinelPolicy) String() string {
	if p == KeepZeros {
		return "keep-zeros"
	}
	return "zero-as-missing"
}

// Metric is one averaged column group.
type Metric int

const (
	Close Metric = iota
	Volume
	Fluctuation
	RelativeHLClose
)

// Metrics lists the column groups in output order.
var Metrics = []Metric{Close, Volume, Fluctuation, RelativeHLClose}

func (m Metric) String() string {
	switch m {
	case Close:
		return "close"
	case Volume:
		return "volume"
	case Fluctuation:
		return "fluctuation"
	case RelativeHLClose:
		return "relative_hl_close"
	}
	return "unknown"
}

// Derived holds per-record metrics. Missing values are NaN.
type Derived [4]float64

func (d Derived) Get(m Metric) float64 { return d[m] }

// SubstituteSentinels returns c with zero prices and volumes replaced by NaN
// under ZeroAsMissing.
func SubstituteSentinels(c models.Candle, p SentinelPolicy) models.Candle {
	if p != ZeroAsMissing {
		return c
	}
	for _, f := range []*float64{&c.Open, &c.High, &c.Low, &c.Close, &c.VolumeFrom, &c.VolumeTo} {
		if *f == 0 {
			*f = math.NaN()
		}
	}
	return c
}

// Derive computes close, volume, fluctuation and relative close position.
// A zero or missing denominator yields NaN.
func Derive(c models.Candle) Derived {
	var d Derived
	d[Close] = c.Close
	d[Volume] = c.VolumeTo - c.VolumeFrom
	d[Fluctuation] = ratio(c.High-c.Low, c.Open)
	d[RelativeHLClose] = ratio(c.Close-c.Low, c.High-c.Low)
	return d
}

func ratio(num, den float64) float64 {
	if den == 0 || math.IsNaN(den) {
		return math.NaN()
	}
	return num / den
}

type groupKey struct {
	unix int64
	pair string
}

// Aggregate groups candles by (timestamp, pair) and averages each metric
// across the exchanges present. Input order does not affect the result.
func Aggregate(candles []models.Candle, p SentinelPolicy) *WideTable {
	groups := make(map[groupKey]*[4][]float64)
	times := make(map[int64]time.Time)
	pairs := make(map[string]struct{})

	for _, c := range candles {
		d := Derive(SubstituteSentinels(c, p))
		k := groupKey{unix: c.Time.Unix(), pair: c.Pair}
		g, ok := groups[k]
		if !ok {
			g = new([4][]float64)
			groups[k] = g
		}
		for _, m := range Metrics {
			g[m] = append(g[m], d[m])
		}
		times[k.unix] = c.Time.UTC()
		pairs[c.Pair] = struct{}{}
	}

	w := &WideTable{cells: make(map[groupKey]Derived, len(groups))}
	for _, t := range times {
		w.Times = append(w.Times, t)
	}
	sort.Slice(w.Times, func(i, j int) bool { return w.Times[i].Before(w.Times[j]) })
	for pair := range pairs {
		w.Pairs = append(w.Pairs, pair)
	}
	sort.Strings(w.Pairs)

	for k, g := range groups {
		var avg Derived
		for _, m := range Metrics {
			avg[m] = NanMean(g[m])
		}
		w.cells[k] = avg
	}

	utils.Logger.Infow("Aggregated candles",
		"records", len(candles),
		"timestamps", len(w.Times),
		"pairs", len(w.Pairs),
		"sentinel_policy", p.String(),
	)
	return w
}

// NanMean averages the non-NaN values. It returns NaN when none are present.
// Values are summed in sorted order so the result does not depend on input order.
func NanMean(vals []float64) float64 {
	present := make([]float64, 0, len(vals))
	for _, v := range vals {
		if !math.IsNaN(v) {
			present = append(present, v)
		}
	}
	if len(present) == 0 {
		return math.NaN()
	}
	sort.Float64s(present)
	if present[0] == present[len(present)-1] {
		return present[0]
	}
	var sum float64
	for _, v := range present {
		sum += v
	}
	return sum / float64(len(present))
}
