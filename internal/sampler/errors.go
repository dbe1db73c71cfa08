package sampler

import "errors"

var (
	// ErrPositionUnavailable is surfaced after the retry budget is exhausted.
	ErrPositionUnavailable = errors.New("cannot acquire a position fix, check GPS signal")
	// ErrPermissionDenied is surfaced immediately and never retried.
	ErrPermissionDenied = errors.New("location permission denied, check device settings")
	// ErrAlreadyStarted is returned when Start is called on a running sampler.
	ErrAlreadyStarted = errors.New("sampler already started")
)
