// Package budget enforces token and step spending caps at two levels:
// a per-run Monitor that gates each external call inside a workflow,
// and a pre-flight Guard that checks estimated cost against shared
// per-user counters before a run is admitted at all.
package budget

import (
	"fmt"
	"time"
)

// Limits holds the shared per-user spending caps enforced by the
// Guard. A zero value disables that cap.
type Limits struct {
	// DailyTokens caps total token spend per user per UTC day.
	DailyTokens int64 `json:"daily_tokens"`
	// WindowTokens caps token spend inside a sliding window.
	WindowTokens int64 `json:"window_tokens"`
	// Window is the length of the sliding window.
	Window time.Duration `json:"window"`
}

// Validate checks the limits for internal consistency.
func (l Limits) Validate() error {
	if l.DailyTokens < 0 {
		return fmt.Errorf("daily_tokens cannot be negative")
	}
	if l.WindowTokens < 0 {
		return fmt.Errorf("window_tokens cannot be negative")
	}
	if l.Window < 0 {
		return fmt.Errorf("window cannot be negative")
	}
	if l.WindowTokens > 0 && l.Window == 0 {
		return fmt.Errorf("window_tokens requires a window duration")
	}
	return nil
}
