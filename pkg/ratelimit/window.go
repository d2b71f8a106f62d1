package ratelimit

import (
	"encoding/json"
	"time"
)

// RateWindow is the stored state of one fixed window.
//
// Times are unix seconds. The window has expired once now > WindowEnd.
type RateWindow struct {
	Count       int   `json:"count"`
	WindowStart int64 `json:"window_start"`
	WindowEnd   int64 `json:"window_end"`
}

// NewRateWindow opens a window at now holding its first admitted call.
func NewRateWindow(now time.Time, window time.Duration) RateWindow {
	start := now.Unix()
	return RateWindow{
		Count:       1,
		WindowStart: start,
		WindowEnd:   start + windowSeconds(window),
	}
}

// Expired reports whether now is past the end of the window.
func (w RateWindow) Expired(now time.Time) bool {
	return now.Unix() > w.WindowEnd
}

// SecondsLeft returns WindowEnd - now, or 0 once expired.
func (w RateWindow) SecondsLeft(now time.Time) int {
	if w.Expired(now) {
		return 0
	}
	return int(w.WindowEnd - now.Unix())
}

// ResetAt returns the end of the window as a time.
func (w RateWindow) ResetAt() time.Time {
	return time.Unix(w.WindowEnd, 0)
}

// storageTTL is how long the tier should keep the window: until its end,
// and at least one second.
func (w RateWindow) storageTTL(now time.Time) time.Duration {
	left := time.Duration(w.WindowEnd-now.Unix()) * time.Second
	if left < time.Second {
		return time.Second
	}
	return left
}

func (w RateWindow) encode() []byte {
	raw, _ := json.Marshal(w) // plain struct of ints
	return raw
}

// decodeWindow parses a stored window. ok is false for absent or malformed data.
func decodeWindow(raw []byte) (w RateWindow, ok bool) {
	if len(raw) == 0 {
		return RateWindow{}, false
	}
	if err := json.Unmarshal(raw, &w); err != nil {
		return RateWindow{}, false
	}
	if w.Count < 0 || w.WindowEnd < w.WindowStart {
		return RateWindow{}, false
	}
	return w, true
}

// windowSeconds rounds a window up to whole seconds, minimum one.
func windowSeconds(window time.Duration) int64 {
	secs := int64(window / time.Second)
	if window%time.Second != 0 {
		secs++
	}
	if secs < 1 {
		secs = 1
	}
	return secs
}
