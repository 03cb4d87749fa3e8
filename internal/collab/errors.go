package collab

import "errors"

// User-input validation faults. Each is returned synchronously, after a
// status notification, and causes no network traffic.
var (
	ErrDetached            = errors.New("session detached")
	ErrNotConnected        = errors.New("not connected")
	ErrNothingToPush       = errors.New("no changes to apply")
	ErrBusy                = errors.New("execution in progress")
	ErrNotWaitingForInput  = errors.New("execution is not waiting for input")
	ErrEmptyMessage        = errors.New("message is empty")
	ErrEmptyCode           = errors.New("code is empty")
	ErrUnsupportedLanguage = errors.New("unsupported language")
	ErrRateLimited         = errors.New("chat rate limit exceeded")
	ErrNoStore             = errors.New("no recent-code store configured")
	ErrNoAnalyzer          = errors.New("no analysis endpoint configured")
)
