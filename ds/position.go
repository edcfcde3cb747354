package ds

import (
	"encoding/json"
	"fmt"
	"time"
)

// Position is the latest known state of one tracked entity. The sync
// layer only ever interprets the timestamp; everything else stays in
// Raw and is forwarded verbatim to consumers.
type Position struct {
	Timestamp time.Time
	Raw       json.RawMessage
}

type positionEnvelope struct {
	Timestamp time.Time `json:"timestamp"`
}

// DecodePosition parses a position payload from either channel. The
// payload must be a JSON object carrying at least a timestamp field.
func DecodePosition(b []byte) (*Position, error) {
	var env positionEnvelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, fmt.Errorf("decode position: %w", err)
	}
	if env.Timestamp.IsZero() {
		return nil, fmt.Errorf("decode position: missing timestamp")
	}
	raw := make(json.RawMessage, len(b))
	copy(raw, b)
	return &Position{Timestamp: env.Timestamp, Raw: raw}, nil
}

// DecodePositionList parses an array-of-Position payload, as returned by
// the track-over-window endpoint.
func DecodePositionList(b []byte) ([]*Position, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(b, &items); err != nil {
		return nil, fmt.Errorf("decode position list: %w", err)
	}
	out := make([]*Position, 0, len(items))
	for _, item := range items {
		pos, err := DecodePosition(item)
		if err != nil {
			return nil, err
		}
		out = append(out, pos)
	}
	return out, nil
}

// MarshalJSON re-emits the original payload untouched.
func (p *Position) MarshalJSON() ([]byte, error) {
	return p.Raw, nil
}

// Observer holds optional ground-station coordinates forwarded to the
// current-position endpoint.
type Observer struct {
	Latitude  float64
	Longitude float64
	Altitude  float64
}
