package sampler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"trail-link/internal/common/logger"
	"trail-link/internal/domain/geo"
)

// fakeProvider hands the sampler's callbacks to the test, which then scripts
// fixes and failures by hand.
type fakeProvider struct {
	mu    sync.Mutex
	subs  []*fakeSub
	onFix func(Fix)
	onErr func(ProviderError)
}

type fakeSub struct {
	cancelled bool
	mu        sync.Mutex
}

func (s *fakeSub) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelled = true
}

func (s *fakeSub) isCancelled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelled
}

func (p *fakeProvider) Watch(_ WatchOptions, onFix func(Fix), onErr func(ProviderError)) (Subscription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	sub := &fakeSub{}
	p.subs = append(p.subs, sub)
	p.onFix = onFix
	p.onErr = onErr
	return sub, nil
}

func (p *fakeProvider) watchCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.subs)
}

func (p *fakeProvider) sub(i int) *fakeSub {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.subs[i]
}

func (p *fakeProvider) fix(lat, lon float64) {
	p.mu.Lock()
	cb := p.onFix
	p.mu.Unlock()
	cb(Fix{Coordinate: geo.Coordinate{Lat: lat, Lon: lon}, Timestamp: time.Now()})
}

func (p *fakeProvider) fail(kind ErrorKind) {
	p.mu.Lock()
	cb := p.onErr
	p.mu.Unlock()
	cb(ProviderError{Kind: kind, Message: "scripted failure"})
}

func newTestSampler(t *testing.T, p Provider) *Sampler {
	t.Helper()
	return New(p, logger.New("sampler-test"), Options{
		Timeout:    time.Second,
		RetryDelay: 5 * time.Millisecond,
		MaxRetries: 3,
	})
}

func waitStatus(t *testing.T, s *Sampler) Status {
	t.Helper()
	select {
	case st := <-s.Status():
		return st
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a status")
		return Status{}
	}
}

func waitFix(t *testing.T, s *Sampler) geo.Coordinate {
	t.Helper()
	select {
	case c := <-s.Fixes():
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a fix")
		return geo.Coordinate{}
	}
}

func TestSamplerDeliversFixes(t *testing.T) {
	p := &fakeProvider{}
	s := newTestSampler(t, p)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	p.fix(37.5, 127.0)
	got := waitFix(t, s)
	if got.Lat != 37.5 || got.Lon != 127.0 {
		t.Errorf("fix = %+v, want lat=37.5 lon=127.0", got)
	}

	if last, ok := s.LastKnown(); !ok || last != got {
		t.Errorf("LastKnown() = %+v, %v; want %+v, true", last, ok, got)
	}
}

func TestSamplerLatestFixWins(t *testing.T) {
	p := &fakeProvider{}
	s := newTestSampler(t, p)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	// nobody reads between these; the stale fix must be displaced
	p.fix(1, 1)
	p.fix(2, 2)
	p.fix(3, 3)

	got := waitFix(t, s)
	if got.Lat != 3 || got.Lon != 3 {
		t.Errorf("fix = %+v, want the most recent (3, 3)", got)
	}
}

func TestSamplerStartTwice(t *testing.T) {
	p := &fakeProvider{}
	s := newTestSampler(t, p)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	if err := s.Start(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("second Start error = %v, want ErrAlreadyStarted", err)
	}
}

func TestSamplerRetriesUnavailableThenGivesUp(t *testing.T) {
	p := &fakeProvider{}
	s := newTestSampler(t, p)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	for attempt := 1; attempt <= 3; attempt++ {
		p.fail(ErrorUnavailable)
		st := waitStatus(t, s)
		if st.Terminal {
			t.Fatalf("attempt %d: unexpected terminal status %+v", attempt, st)
		}
		if st.Attempt != attempt {
			t.Errorf("attempt %d: status attempt = %d", attempt, st.Attempt)
		}

		// wait for the rewatch the retry timer opens
		deadline := time.Now().Add(time.Second)
		for p.watchCount() < attempt+1 {
			if time.Now().After(deadline) {
				t.Fatalf("attempt %d: rewatch never happened", attempt)
			}
			time.Sleep(time.Millisecond)
		}
	}

	// budget exhausted: the fourth failure is terminal
	p.fail(ErrorUnavailable)
	st := waitStatus(t, s)
	if !st.Terminal {
		t.Fatalf("expected terminal status after exhausted retries, got %+v", st)
	}
	if !errors.Is(st.Err, ErrPositionUnavailable) {
		t.Errorf("terminal err = %v, want ErrPositionUnavailable", st.Err)
	}
}

func TestSamplerFixResetsRetryBudget(t *testing.T) {
	p := &fakeProvider{}
	s := newTestSampler(t, p)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	p.fail(ErrorUnavailable)
	if st := waitStatus(t, s); st.Attempt != 1 {
		t.Fatalf("first failure attempt = %d, want 1", st.Attempt)
	}

	deadline := time.Now().Add(time.Second)
	for p.watchCount() < 2 {
		if time.Now().After(deadline) {
			t.Fatal("rewatch never happened")
		}
		time.Sleep(time.Millisecond)
	}

	p.fix(10, 20)
	waitFix(t, s)

	// budget is back to full: the next failure counts as attempt 1 again
	p.fail(ErrorUnavailable)
	if st := waitStatus(t, s); st.Attempt != 1 {
		t.Errorf("post-fix failure attempt = %d, want 1", st.Attempt)
	}
}

func TestSamplerPermissionDeniedIsTerminal(t *testing.T) {
	p := &fakeProvider{}
	s := newTestSampler(t, p)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	p.fail(ErrorPermissionDenied)
	st := waitStatus(t, s)
	if !st.Terminal {
		t.Fatalf("expected terminal status, got %+v", st)
	}
	if !errors.Is(st.Err, ErrPermissionDenied) {
		t.Errorf("err = %v, want ErrPermissionDenied", st.Err)
	}
	if got := p.watchCount(); got != 1 {
		t.Errorf("watch count = %d, permission denial must not retry", got)
	}
}

func TestSamplerTimeoutIsAdvisory(t *testing.T) {
	p := &fakeProvider{}
	s := newTestSampler(t, p)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	p.fail(ErrorTimeout)
	st := waitStatus(t, s)
	if st.Terminal || st.Err != nil || st.Attempt != 0 {
		t.Errorf("timeout status = %+v, want a plain advisory", st)
	}

	// the stream keeps working afterwards
	p.fix(5, 5)
	if got := waitFix(t, s); got.Lat != 5 {
		t.Errorf("fix after timeout = %+v", got)
	}
}

func TestSamplerStopOrphansCallbacks(t *testing.T) {
	p := &fakeProvider{}
	s := newTestSampler(t, p)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	s.Stop()

	// late callbacks from the cancelled watch must be dropped
	p.fix(9, 9)
	p.fail(ErrorUnavailable)

	select {
	case c := <-s.Fixes():
		t.Errorf("fix %+v delivered after Stop", c)
	case st := <-s.Status():
		t.Errorf("status %+v delivered after Stop", st)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSamplerRestartAfterTerminalFailure(t *testing.T) {
	tests := []struct {
		name     string
		terminal func(t *testing.T, p *fakeProvider, s *Sampler)
	}{
		{
			name: "permission denied",
			terminal: func(t *testing.T, p *fakeProvider, s *Sampler) {
				p.fail(ErrorPermissionDenied)
			},
		},
		{
			name: "unclassified provider error",
			terminal: func(t *testing.T, p *fakeProvider, s *Sampler) {
				p.fail(ErrorOther)
			},
		},
		{
			name: "retry budget exhausted",
			terminal: func(t *testing.T, p *fakeProvider, s *Sampler) {
				for attempt := 1; attempt <= 3; attempt++ {
					p.fail(ErrorUnavailable)
					waitStatus(t, s)
					deadline := time.Now().Add(time.Second)
					for p.watchCount() < attempt+1 {
						if time.Now().After(deadline) {
							t.Fatalf("attempt %d: rewatch never happened", attempt)
						}
						time.Sleep(time.Millisecond)
					}
				}
				p.fail(ErrorUnavailable)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &fakeProvider{}
			s := newTestSampler(t, p)
			if err := s.Start(context.Background()); err != nil {
				t.Fatalf("Start: %v", err)
			}

			tt.terminal(t, p, s)
			if st := waitStatus(t, s); !st.Terminal {
				t.Fatalf("expected a terminal status, got %+v", st)
			}

			// a dead stream cancels its watch and accepts Start again
			watches := p.watchCount()
			if !p.sub(watches - 1).isCancelled() {
				t.Error("provider watch stayed open after the terminal failure")
			}
			if err := s.Start(context.Background()); err != nil {
				t.Fatalf("Start after terminal failure: %v", err)
			}
			defer s.Stop()

			if p.watchCount() != watches+1 {
				t.Errorf("watch count = %d, want %d after restart", p.watchCount(), watches+1)
			}
			p.fix(11, 12)
			if got := waitFix(t, s); got.Lat != 11 || got.Lon != 12 {
				t.Errorf("fix after restart = %+v, want (11, 12)", got)
			}

			// the retry budget is fresh on the new stream
			p.fail(ErrorUnavailable)
			if st := waitStatus(t, s); st.Terminal || st.Attempt != 1 {
				t.Errorf("first failure after restart = %+v, want attempt 1", st)
			}
		})
	}
}

func TestSamplerTerminalStatusSurvivesFullBuffer(t *testing.T) {
	p := &fakeProvider{}
	s := newTestSampler(t, p)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	// nobody reads; advisories fill the status buffer completely
	for i := 0; i < 16; i++ {
		p.fail(ErrorTimeout)
	}
	p.fail(ErrorPermissionDenied)

	// the terminal status must still come out, even if advisories were shed
	deadline := time.After(2 * time.Second)
	for {
		select {
		case st := <-s.Status():
			if st.Terminal {
				if !errors.Is(st.Err, ErrPermissionDenied) {
					t.Errorf("terminal err = %v, want ErrPermissionDenied", st.Err)
				}
				return
			}
		case <-deadline:
			t.Fatal("terminal status was dropped")
		}
	}
}

func TestSamplerRestartAfterStop(t *testing.T) {
	p := &fakeProvider{}
	s := newTestSampler(t, p)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	s.Stop()

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("restart: %v", err)
	}
	defer s.Stop()

	p.fix(7, 8)
	if got := waitFix(t, s); got.Lat != 7 || got.Lon != 8 {
		t.Errorf("fix after restart = %+v, want (7, 8)", got)
	}
}
