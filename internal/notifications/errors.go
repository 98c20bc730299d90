package notifications

import "errors"

// Dispatch errors.
var (
	ErrNoThread = errors.New("notification thread not started")
)
