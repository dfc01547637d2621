package parser

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"cryptocompare_scraper/models"
)

// ErrMalformed marks a body that is not the expected histohour JSON shape.
var ErrMalformed = errors.New("malformed histohour payload")

// APIError is returned when the API answers with "Response":"Error".
type APIError struct {
	Message string
}

func (e *APIError) Error() string {
	return "cryptocompare api error: " + e.Message
}

// Known numeric fields of a histohour record. Anything else is passthrough.
var knownFields = map[string]struct{}{
	"time": {}, "open": {}, "high": {}, "low": {}, "close": {}, "volumefrom": {}, "volumeto": {},
}

// HistoHour is a decoded histohour response.
type HistoHour struct {
	Response string
	TimeFrom int64
	TimeTo   int64
	Records  []Record
}

// Record is one row of the Data array.
type Record struct {
	Time       int64
	Open       float64
	High       float64
	Low        float64
	Close      float64
	VolumeFrom float64
	VolumeTo   float64
	// Extra holds passthrough fields in payload order.
	Extra []Field
}

// Field is a passthrough key/value.
type Field struct {
	Key   string
	Value string
}

type envelope struct {
	Response string          `json:"Response"`
	Message  string          `json:"Message"`
	TimeFrom int64           `json:"TimeFrom"`
	TimeTo   int64           `json:"TimeTo"`
	Data     json.RawMessage `json:"Data"`
}

// ParseHistoHour decodes a histohour response body.
func ParseHistoHour(body []byte) (*HistoHour, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.Response == "Error" {
		return nil, &APIError{Message: env.Message}
	}

	data := bytes.TrimSpace(env.Data)
	if len(data) == 0 || data[0] != '[' {
		return nil, fmt.Errorf("%w: Data is not an array", ErrMalformed)
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	out := &HistoHour{
		Response: env.Response,
		TimeFrom: env.TimeFrom,
		TimeTo:   env.TimeTo,
		Records:  make([]Record, 0, len(raw)),
	}
	for i, r := range raw {
		rec, err := parseRecord(r)
		if err != nil {
			return nil, fmt.Errorf("%w: Data[%d]: %v", ErrMalformed, i, err)
		}
		out.Records = append(out.Records, rec)
	}
	return out, nil
}

// parseRecord walks the object token by token so passthrough fields keep payload order.
func parseRecord(raw json.RawMessage) (Record, error) {
	var rec Record
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return rec, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return rec, errors.New("record is not an object")
	}

	seenTime := false
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return rec, err
		}
		key := keyTok.(string)

		var val json.RawMessage
		if err := dec.Decode(&val); err != nil {
			return rec, fmt.Errorf("field %q: %w", key, err)
		}

		if _, ok := knownFields[key]; !ok {
			rec.Extra = append(rec.Extra, Field{Key: key, Value: scalarString(val)})
			continue
		}
		if key == "time" {
			if err := json.Unmarshal(val, &rec.Time); err != nil {
				return rec, fmt.Errorf("field time: %w", err)
			}
			seenTime = true
			continue
		}
		var f float64
		if err := json.Unmarshal(val, &f); err != nil {
			return rec, fmt.Errorf("field %q: %w", key, err)
		}
		switch key {
		case "open":
			rec.Open = f
		case "high":
			rec.High = f
		case "low":
			rec.Low = f
		case "close":
			rec.Close = f
		case "volumefrom":
			rec.VolumeFrom = f
		case "volumeto":
			rec.VolumeTo = f
		}
	}
	if !seenTime {
		return rec, errors.New("missing time")
	}
	return rec, nil
}

// scalarString renders a JSON value as plain text; strings lose their quotes.
func scalarString(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	if bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return ""
	}
	return string(bytes.TrimSpace(raw))
}

// Candles converts records into labelled candles.
func (h *HistoHour) Candles(pairLabel, exchange string) []models.Candle {
	out := make([]models.Candle, 0, len(h.Records))
	for _, r := range h.Records {
		c := models.Candle{
			Time:       time.Unix(r.Time, 0).UTC(),
			Open:       r.Open,
			High:       r.High,
			Low:        r.Low,
			Close:      r.Close,
			VolumeFrom: r.VolumeFrom,
			VolumeTo:   r.VolumeTo,
			Pair:       pairLabel,
			Exchange:   exchange,
		}
		if len(r.Extra) > 0 {
			c.Extra = make(map[string]string, len(r.Extra))
			for _, f := range r.Extra {
				c.Extra[f.Key] = f.Value
			}
		}
		out = append(out, c)
	}
	return out
}

// ExtraKeys returns passthrough keys in first-seen order.
func (h *HistoHour) ExtraKeys() []string {
	seen := make(map[string]struct{})
	var keys []string
	for _, r := range h.Records {
		for _, f := range r.Extra {
			if _, ok := seen[f.Key]; !ok {
				seen[f.Key] = struct{}{}
				keys = append(keys, f.Key)
			}
		}
	}
	return keys
}
