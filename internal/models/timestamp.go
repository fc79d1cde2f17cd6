package models

import (
	"bytes"
	"fmt"
	"strconv"
	"time"
)

// Timestamp is a wall-clock instant that travels on the wire as epoch
// milliseconds. RFC 3339 strings are accepted on input as well.
type Timestamp struct {
	time.Time
}

// Millis builds a Timestamp from epoch milliseconds.
func Millis(ms int64) Timestamp {
	return Timestamp{Time: time.UnixMilli(ms)}
}

// At wraps t as a *Timestamp, convenient for optional fields.
func At(t time.Time) *Timestamp {
	return &Timestamp{Time: t}
}

// MarshalJSON encodes the instant as epoch milliseconds, or null when zero.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return []byte(strconv.FormatInt(t.UnixMilli(), 10)), nil
}

// UnmarshalJSON accepts epoch milliseconds (integer or float), an RFC 3339
// string, or null.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		t.Time = time.Time{}
		return nil
	}
	if data[0] == '"' {
		s, err := strconv.Unquote(string(data))
		if err != nil {
			return fmt.Errorf("parse timestamp: %w", err)
		}
		if s == "" {
			t.Time = time.Time{}
			return nil
		}
		parsed, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return fmt.Errorf("parse timestamp %q: %w", s, err)
		}
		t.Time = parsed
		return nil
	}
	ms, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return fmt.Errorf("parse timestamp %s: %w", data, err)
	}
	t.Time = time.UnixMilli(int64(ms))
	return nil
}
