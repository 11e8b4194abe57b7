package budget

import (
	"errors"
	"fmt"
)

// Scopes reported by ErrExceeded.
const (
	ScopeRunTokens    = "run_tokens"
	ScopeRunSteps     = "run_steps"
	ScopeDailyTokens  = "daily_tokens"
	ScopeWindowTokens = "window_tokens"
)

// ErrExceeded is returned when spend surpasses a configured limit.
// It is a distinct condition from provider failure: the caller should
// stop or wait, not retry.
type ErrExceeded struct {
	Scope string
	Used  int64
	Limit int64
}

func (e ErrExceeded) Error() string {
	return fmt.Sprintf("budget %s exceeded: used=%d limit=%d", e.Scope, e.Used, e.Limit)
}

// IsExceeded reports whether err is a budget breach of any scope.
func IsExceeded(err error) bool {
	var e ErrExceeded
	return errors.As(err, &e)
}
