// Package table holds the Raw Table: every fetched candle in iteration order,
// persisted as a header-first comma-delimited file without an index column.
package table

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"cryptocompare_scraper/models"
)

// Column names of the persisted table.
const (
	ColTime       = "time"
	ColOpen       = "open"
	ColHigh       = "high"
	ColLow        = "low"
	ColClose      = "close"
	ColVolumeFrom = "volumefrom"
	ColVolumeTo   = "volumeto"
	ColPair       = "fsym_tsym"
	ColExchange   = "exchange"
)

var leadingColumns = []string{ColTime, ColOpen, ColHigh, ColLow, ColClose, ColVolumeFrom, ColVolumeTo}

var trailingColumns = []string{ColPair, ColExchange}

// ErrMissingColumn is returned when a loaded file lacks a required column.
var ErrMissingColumn = errors.New("raw table: missing required column")

// RawTable is the row-union of all fetched candles.
type RawTable struct {
	Candles []models.Candle
	// Extra lists passthrough columns in first-seen order.
	Extra []string

	extraSeen map[string]struct{}
}

func New() *RawTable {
	return &RawTable{extraSeen: make(map[string]struct{})}
}

// Append adds candles in order. extraKeys gives the preferred order of any new
// passthrough columns; keys found only on candles are added sorted.
func (t *RawTable) Append(candles []models.Candle, extraKeys ...string) {
	if t.extraSeen == nil {
		t.extraSeen = make(map[string]struct{})
		for _, k := range t.Extra {
			t.extraSeen[k] = struct{}{}
		}
	}
	for _, k := range extraKeys {
		t.addExtra(k)
	}
	var unseen []string
	for _, c := range candles {
		for k := range c.Extra {
			if _, ok := t.extraSeen[k]; !ok {
				unseen = append(unseen, k)
				t.extraSeen[k] = struct{}{}
			}
		}
	}
	sort.Strings(unseen)
	t.Extra = append(t.Extra, unseen...)
	t.Candles = append(t.Candles, candles...)
}

func (t *RawTable) addExtra(k string) {
	if _, ok := t.extraSeen[k]; ok {
		return
	}
	t.extraSeen[k] = struct{}{}
	t.Extra = append(t.Extra, k)
}

func (t *RawTable) Len() int { return len(t.Candles) }

// Header returns the column names in write order.
func (t *RawTable) Header() []string {
	h := make([]string, 0, len(leadingColumns)+len(t.Extra)+len(trailingColumns))
	h = append(h, leadingColumns...)
	h = append(h, t.Extra...)
	return append(h, trailingColumns...)
}

// WriteCSV writes the header and one row per candle.
func (t *RawTable) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.Header()); err != nil {
		return err
	}
	row := make([]string, 0, len(leadingColumns)+len(t.Extra)+len(trailingColumns))
	for _, c := range t.Candles {
		row = row[:0]
		row = append(row,
			strconv.FormatInt(c.Time.Unix(), 10),
			FormatFloat(c.Open),
			FormatFloat(c.High),
			FormatFloat(c.Low),
			FormatFloat(c.Close),
			FormatFloat(c.VolumeFrom),
			FormatFloat(c.VolumeTo),
		)
		for _, k := range t.Extra {
			row = append(row, c.Extra[k])
		}
		row = append(row, c.Pair, c.Exchange)
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteFile persists the table atomically: the previous file at path stays
// untouched unless the new one is completely written.
func (t *RawTable) WriteFile(path string) error {
	return WriteFileAtomic(path, t.WriteCSV)
}

// ReadCSV loads a table written by WriteCSV. Columns may appear in any order;
// unknown columns become passthrough fields.
func ReadCSV(r io.Reader) (*RawTable, error) {
	cr := csv.NewReader(r)
	cr.ReuseRecord = false

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("raw table: read header: %w", err)
	}

	idx := make(map[string]int, len(header))
	for i, name := range header {
		idx[name] = i
	}
	for _, name := range append(append([]string(nil), leadingColumns...), trailingColumns...) {
		if _, ok := idx[name]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingColumn, name)
		}
	}

	known := make(map[string]struct{}, len(leadingColumns)+len(trailingColumns))
	for _, name := range leadingColumns {
		known[name] = struct{}{}
	}
	for _, name := range trailingColumns {
		known[name] = struct{}{}
	}
	var extraCols []string
	for _, name := range header {
		if _, ok := known[name]; !ok {
			extraCols = append(extraCols, name)
		}
	}

	t := New()
	for _, k := range extraCols {
		t.addExtra(k)
	}

	line := 1
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("raw table: line %d: %w", line, err)
		}

		c, err := parseRow(rec, idx, extraCols)
		if err != nil {
			return nil, fmt.Errorf("raw table: line %d: %w", line, err)
		}
		t.Candles = append(t.Candles, c)
	}
	return t, nil
}

// ReadFile loads a persisted Raw Table.
func ReadFile(path string) (*RawTable, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadCSV(f)
}

func parseRow(rec []string, idx map[string]int, extraCols []string) (models.Candle, error) {
	var c models.Candle

	secs, err := strconv.ParseInt(rec[idx[ColTime]], 10, 64)
	if err != nil {
		return c, fmt.Errorf("time: %w", err)
	}
	c.Time = EpochToTime(secs)

	fields := []struct {
		col string
		dst *float64
	}{
		{ColOpen, &c.Open},
		{ColHigh, &c.High},
		{ColLow, &c.Low},
		{ColClose, &c.Close},
		{ColVolumeFrom, &c.VolumeFrom},
		{ColVolumeTo, &c.VolumeTo},
	}
	for _, f := range fields {
		v, err := ParseFloat(rec[idx[f.col]])
		if err != nil {
			return c, fmt.Errorf("%s: %w", f.col, err)
		}
		*f.dst = v
	}

	if len(extraCols) > 0 {
		c.Extra = make(map[string]string, len(extraCols))
		for _, k := range extraCols {
			c.Extra[k] = rec[idx[k]]
		}
	}
	c.Pair = rec[idx[ColPair]]
	c.Exchange = rec[idx[ColExchange]]
	return c, nil
}

// EpochToTime converts API epoch seconds to a UTC timestamp.
func EpochToTime(secs int64) time.Time {
	return time.Unix(secs, 0).UTC()
}

// FormatFloat renders v in shortest round-trip form; NaN becomes an empty cell.
func FormatFloat(v float64) string {
	if math.IsNaN(v) {
		return ""
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// ParseFloat is the inverse of FormatFloat.
func ParseFloat(s string) (float64, error) {
	if s == "" || s == "NaN" || s == "nan" {
		return math.NaN(), nil
	}
	return strconv.ParseFloat(s, 64)
}

// WriteFileAtomic writes through a temp file in the target directory and
// renames it into place once write succeeds.
func WriteFileAtomic(path string, write func(io.Writer) error) (err error) {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	if err = write(tmp); err != nil {
		return err
	}
	if err = tmp.Chmod(0o644); err != nil {
		return err
	}
	if err = tmp.Sync(); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}
