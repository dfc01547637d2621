package aggregate

import (
	"encoding/csv"
	"io"
	"math"
	"strconv"
	"time"

	"cryptocompare_scraper/table"
)

// WideTable has one row per timestamp and one column group per metric, each
// holding one column per pair.
type WideTable struct {
	Times []time.Time
	Pairs []string

	cells map[groupKey]Derived
}

// Len is the number of timestamps.
func (w *WideTable) Len() int { return len(w.Times) }

// Value returns the averaged metric, or NaN if the pair has no data at t.
func (w *WideTable) Value(t time.Time, pair string, m Metric) float64 {
	d, ok := w.cells[groupKey{unix: t.Unix(), pair: pair}]
	if !ok {
		return math.NaN()
	}
	return d[m]
}

// Columns returns the flattened header, e.g. close_BTC_USD.
func (w *WideTable) Columns() []string {
	cols := make([]string, 0, 1+len(Metrics)*len(w.Pairs))
	cols = append(cols, table.ColTime)
	for _, m := range Metrics {
		for _, p := range w.Pairs {
			cols = append(cols, m.String()+"_"+p)
		}
	}
	return cols
}

// Row returns the values of row i in Columns order, time excluded.
func (w *WideTable) Row(i int) []float64 {
	t := w.Times[i]
	out := make([]float64, 0, len(Metrics)*len(w.Pairs))
	for _, m := range Metrics {
		for _, p := range w.Pairs {
			out = append(out, w.Value(t, p, m))
		}
	}
	return out
}

// WriteCSV writes the table with missing values as empty cells.
func (w *WideTable) WriteCSV(out io.Writer) error {
	cw := csv.NewWriter(out)
	if err := cw.Write(w.Columns()); err != nil {
		return err
	}
	rec := make([]string, 0, 1+len(Metrics)*len(w.Pairs))
	for i, t := range w.Times {
		rec = rec[:0]
		rec = append(rec, strconv.FormatInt(t.Unix(), 10))
		for _, v := range w.Row(i) {
			rec = append(rec, table.FormatFloat(v))
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteFile persists the table atomically.
func (w *WideTable) WriteFile(path string) error {
	return table.WriteFileAtomic(path, w.WriteCSV)
}
