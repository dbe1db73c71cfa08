package sampler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"trail-link/internal/common/logger"
	"trail-link/internal/domain/geo"
)

const (
	defaultTimeout    = 10 * time.Second
	defaultRetryDelay = 5 * time.Second
	defaultMaxRetries = 3
)

// Options tunes the sampler. Zero values fall back to the defaults above.
type Options struct {
	Timeout    time.Duration // per-sample deadline passed to the provider
	RetryDelay time.Duration // pause between retries on ErrorUnavailable
	MaxRetries int           // retry budget for ErrorUnavailable
}

// Status is an advisory or terminal condition surfaced to the caller.
// Terminal statuses mean the stream has given up and needs a restart (or, for
// permission errors, user action) to resume.
type Status struct {
	Message  string
	Err      error
	Attempt  int // 1..MaxRetries while retrying, 0 otherwise
	Terminal bool
}

// Sampler turns an unreliable position provider into a live stream of
// coordinates. It owns the retry counter and pending retry timer, so
// independent sampler instances never interfere with each other.
type Sampler struct {
	provider Provider
	log      *slog.Logger
	opts     Options

	mu         sync.Mutex
	sub        Subscription
	retryTimer *time.Timer
	retryCount int
	lastFix    *geo.Coordinate
	lastErr    *ProviderError
	running    bool
	gen        uint64 // invalidates callbacks from cancelled watches

	fixes  chan geo.Coordinate
	status chan Status
}

// New builds a sampler over the given provider.
func New(provider Provider, log *slog.Logger, opts Options) *Sampler {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = defaultRetryDelay
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = defaultMaxRetries
	}
	return &Sampler{
		provider: provider,
		log:      log,
		opts:     opts,
		fixes:    make(chan geo.Coordinate, 1),
		status:   make(chan Status, 8),
	}
}

// Fixes is the live coordinate stream. Only the most recent unread fix is
// retained; slow consumers see the latest position, not a backlog.
func (s *Sampler) Fixes() <-chan geo.Coordinate {
	return s.fixes
}

// Status carries advisory and terminal conditions (retry progress, permission
// failures, timeouts).
func (s *Sampler) Status() <-chan Status {
	return s.status
}

// LastKnown returns the most recent successful fix, if any.
func (s *Sampler) LastKnown() (geo.Coordinate, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastFix == nil {
		return geo.Coordinate{}, false
	}
	return *s.lastFix, true
}

// Start opens the watch on the provider. It is an error to start a running
// sampler; after Stop or a terminal failure, Start opens a fresh stream with
// the retry budget reset.
func (s *Sampler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return ErrAlreadyStarted
	}
	s.running = true
	s.retryCount = 0
	s.lastErr = nil

	if err := s.watchLocked(ctx); err != nil {
		s.running = false
		return err
	}

	logger.Info(ctx, s.log, "sampler_started", "Position sampling started")
	return nil
}

// Stop cancels the watch and any pending retry timer. Safe to call multiple
// times; no callback fires after Stop returns.
func (s *Sampler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.teardownLocked()
	s.running = false
}

// watchLocked opens a provider watch for the current generation. Caller holds
// the lock.
func (s *Sampler) watchLocked(ctx context.Context) error {
	s.gen++
	gen := s.gen

	sub, err := s.provider.Watch(
		WatchOptions{HighAccuracy: true, Timeout: s.opts.Timeout, MaxCacheAge: 0},
		func(fix Fix) { s.onFix(gen, fix) },
		func(perr ProviderError) { s.onError(ctx, gen, perr) },
	)
	if err != nil {
		return fmt.Errorf("provider watch: %w", err)
	}
	s.sub = sub
	return nil
}

func (s *Sampler) onFix(gen uint64, fix Fix) {
	s.mu.Lock()
	if !s.running || gen != s.gen {
		s.mu.Unlock()
		return
	}

	// success resets the retry budget and cancels any pending retry
	s.retryCount = 0
	s.lastErr = nil
	if s.retryTimer != nil {
		s.retryTimer.Stop()
		s.retryTimer = nil
	}
	c := fix.Coordinate
	s.lastFix = &c
	s.mu.Unlock()

	// latest-wins delivery: displace an unread fix rather than block
	select {
	case s.fixes <- c:
	default:
		select {
		case <-s.fixes:
		default:
		}
		select {
		case s.fixes <- c:
		default:
		}
	}
}

func (s *Sampler) onError(ctx context.Context, gen uint64, perr ProviderError) {
	s.mu.Lock()
	if !s.running || gen != s.gen {
		s.mu.Unlock()
		return
	}
	s.lastErr = &perr

	switch perr.Kind {
	case ErrorUnavailable:
		if s.retryCount < s.opts.MaxRetries {
			s.retryCount++
			attempt := s.retryCount
			s.retryTimer = time.AfterFunc(s.opts.RetryDelay, func() {
				s.rewatch(ctx, gen)
			})
			s.mu.Unlock()

			logger.Info(ctx, s.log, "sampler_retry_scheduled", "Position unavailable, retrying",
				"attempt", attempt, "max", s.opts.MaxRetries)
			s.emit(Status{
				Message: fmt.Sprintf("acquiring position... (attempt %d/%d)", attempt, s.opts.MaxRetries),
				Attempt: attempt,
			})
			return
		}
		s.terminateLocked()
		s.mu.Unlock()

		logger.Error(ctx, s.log, "sampler_retries_exhausted", "Position unavailable after retries", ErrPositionUnavailable)
		s.emit(Status{Message: ErrPositionUnavailable.Error(), Err: ErrPositionUnavailable, Terminal: true})

	case ErrorPermissionDenied:
		s.terminateLocked()
		s.mu.Unlock()

		logger.Error(ctx, s.log, "sampler_permission_denied", "Location permission denied", ErrPermissionDenied)
		s.emit(Status{Message: ErrPermissionDenied.Error(), Err: ErrPermissionDenied, Terminal: true})

	case ErrorTimeout:
		// the provider resubmits on its own; advisory only, no retry budget
		s.mu.Unlock()

		logger.Debug(ctx, s.log, "sampler_fix_timeout", "Position request timed out, provider is retrying")
		s.emit(Status{Message: "position request timed out, retrying..."})

	default:
		s.terminateLocked()
		s.mu.Unlock()

		err := fmt.Errorf("position provider: %s", perr.Message)
		logger.Error(ctx, s.log, "sampler_provider_error", "Unclassified provider error", err)
		s.emit(Status{Message: perr.Message, Err: err, Terminal: true})
	}
}

// rewatch cancels the stale watch and opens a fresh one. Runs from the retry
// timer goroutine.
func (s *Sampler) rewatch(ctx context.Context, gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running || gen != s.gen {
		return
	}
	s.retryTimer = nil
	if s.sub != nil {
		s.sub.Cancel()
		s.sub = nil
	}
	if err := s.watchLocked(ctx); err != nil {
		s.terminateLocked()
		logger.Error(ctx, s.log, "sampler_rewatch_failed", "Failed to reopen position watch", err)
		s.emit(Status{Message: err.Error(), Err: err, Terminal: true})
	}
}

// terminateLocked ends a stream that hit a terminal failure: the provider
// watch is cancelled and the sampler accepts Start again. Caller holds the
// lock.
func (s *Sampler) terminateLocked() {
	s.teardownLocked()
	s.running = false
}

// teardownLocked cancels the subscription and retry timer. Caller holds the
// lock.
func (s *Sampler) teardownLocked() {
	s.gen++ // orphan any in-flight callbacks
	if s.retryTimer != nil {
		s.retryTimer.Stop()
		s.retryTimer = nil
	}
	if s.sub != nil {
		s.sub.Cancel()
		s.sub = nil
	}
}

// emit delivers a status without ever blocking a provider callback.
// Advisories are droppable when the consumer lags, a terminal status is not:
// it displaces queued advisories until it fits.
func (s *Sampler) emit(st Status) {
	select {
	case s.status <- st:
		return
	default:
	}
	if !st.Terminal {
		return
	}
	for {
		select {
		case s.status <- st:
			return
		case <-s.status:
		}
	}
}
