package sampler

import (
	"time"

	"trail-link/internal/domain/geo"
)

// ErrorKind classifies failures reported by a position provider.
type ErrorKind int

const (
	// ErrorUnavailable means the provider could not determine a position.
	// Transient; the sampler retries a bounded number of times.
	ErrorUnavailable ErrorKind = iota + 1
	// ErrorPermissionDenied means the user has not granted location access.
	// Fatal; the caller must regain permission and restart the stream.
	ErrorPermissionDenied
	// ErrorTimeout means a single fix request ran out of time. The provider
	// keeps the watch alive and retries on its own; advisory only.
	ErrorTimeout
	// ErrorOther covers everything else. Fatal, surfaced verbatim.
	ErrorOther
)

// ProviderError is a classified failure from the provider.
type ProviderError struct {
	Kind    ErrorKind
	Message string
}

// Fix is one successful position sample.
type Fix struct {
	Coordinate     geo.Coordinate
	AccuracyMeters float64
	Timestamp      time.Time
}

// WatchOptions configures a continuous watch on the provider.
type WatchOptions struct {
	HighAccuracy bool
	Timeout      time.Duration // per-sample deadline
	MaxCacheAge  time.Duration // 0 means always request a fresh fix
}

// Subscription is a handle to an active watch.
type Subscription interface {
	Cancel()
}

// Provider is a continuous source of position fixes. Watch registers the
// callbacks and returns a handle; callbacks may fire from any goroutine until
// the subscription is cancelled.
type Provider interface {
	Watch(opts WatchOptions, onFix func(Fix), onErr func(ProviderError)) (Subscription, error)
}
