package market

import (
	"encoding/json"
	"fmt"
	"time"
)

// Currency identifies one of the synthetic assets, e.g. "buxcoin".
type Currency string

const (
	Buxcoin Currency = "buxcoin"
	Bitcoin Currency = "bitcoin"
)

// Timestamp is an ISO-8601 instant held in UTC. It is written as RFC 3339
// and also accepts the zone-less local form found in older documents.
type Timestamp struct {
	time.Time
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

// NewTimestamp drops the monotonic reading and stores UTC, which is what
// decoding yields, so values survive a round trip unchanged.
func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{Time: t.Round(0).UTC()}
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.Format(time.RFC3339Nano))
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("timestamp: %w", err)
	}
	for _, layout := range timestampLayouts {
		parsed, err := time.ParseInLocation(layout, s, time.Local)
		if err == nil {
			t.Time = parsed.UTC()
			return nil
		}
	}
	return fmt.Errorf("timestamp: unsupported format %q", s)
}

// HistoryEntry is one immutable record of a price at a point in time.
type HistoryEntry struct {
	Price     float64   `json:"price"`
	Timestamp Timestamp `json:"timestamp"`
	Change    float64   `json:"change"`
	Manual    bool      `json:"manual,omitempty"`
	Reset     bool      `json:"reset,omitempty"`
}

// PriceState is the persisted prices document.
type PriceState struct {
	CurrentPrices map[Currency]float64        `json:"current_prices"`
	PriceHistory  map[Currency][]HistoryEntry `json:"price_history"`
	LastUpdate    *Timestamp                  `json:"last_update"`
}

// Clone returns a deep copy.
func (s PriceState) Clone() PriceState {
	out := PriceState{}

	if s.CurrentPrices != nil {
		out.CurrentPrices = make(map[Currency]float64, len(s.CurrentPrices))
		for c, p := range s.CurrentPrices {
			out.CurrentPrices[c] = p
		}
	}

	if s.PriceHistory != nil {
		out.PriceHistory = make(map[Currency][]HistoryEntry, len(s.PriceHistory))
		for c, h := range s.PriceHistory {
			if h == nil {
				out.PriceHistory[c] = nil
				continue
			}
			out.PriceHistory[c] = append(make([]HistoryEntry, 0, len(h)), h...)
		}
	}

	if s.LastUpdate != nil {
		ts := *s.LastUpdate
		out.LastUpdate = &ts
	}

	return out
}

// appendCapped returns a new slice holding the newest limit entries of
// history followed by entry. The input slice is never modified.
func appendCapped(history []HistoryEntry, entry HistoryEntry, limit int) []HistoryEntry {
	start := len(history) + 1 - limit
	if start < 0 {
		start = 0
	}
	out := make([]HistoryEntry, 0, len(history)-start+1)
	out = append(out, history[start:]...)
	return append(out, entry)
}
