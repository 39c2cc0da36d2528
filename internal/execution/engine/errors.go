package engine

import "errors"

var (
	ErrEmptySelection    = errors.New("no test cases selected")
	ErrCaseNotSelectable = errors.New("test case is not selectable")
	ErrInvalidState      = errors.New("transition not allowed in current state")
	ErrInvalidOutcome    = errors.New("invalid outcome")
	ErrInvalidDefect     = errors.New("invalid defect details")
	ErrBusy              = errors.New("another transition is in progress")
	ErrAbandoned         = errors.New("session abandoned")
	// ErrPersistence wraps transient store failures. The session did not
	// advance and the same transition may be retried.
	ErrPersistence = errors.New("persistence failed")
)
