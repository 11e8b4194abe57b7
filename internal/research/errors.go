package research

import "errors"

// ErrValidation rejects a malformed request before any usage is spent.
// The reason is safe to echo back to the caller.
type ErrValidation struct {
	Reason string
}

func (e ErrValidation) Error() string { return "invalid request: " + e.Reason }

// IsValidation reports whether err is a request validation failure.
func IsValidation(err error) bool {
	var ev ErrValidation
	return errors.As(err, &ev)
}
