package sampler

import (
	"sync"
	"testing"
	"time"

	"trail-link/internal/domain/geo"
)

func TestRandomWalkProviderEmitsFixes(t *testing.T) {
	p := &RandomWalkProvider{
		Start:      geo.Coordinate{Lat: 37.5665, Lon: 126.978},
		Interval:   time.Millisecond,
		StepMeters: 5,
	}

	var (
		mu    sync.Mutex
		fixes []Fix
	)
	done := make(chan struct{})
	sub, err := p.Watch(WatchOptions{}, func(f Fix) {
		mu.Lock()
		fixes = append(fixes, f)
		if len(fixes) == 10 {
			close(done)
		}
		mu.Unlock()
	}, func(ProviderError) {})
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	defer sub.Cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for fixes")
	}

	mu.Lock()
	defer mu.Unlock()
	for i, f := range fixes[:10] {
		if err := f.Coordinate.Validate(); err != nil {
			t.Fatalf("fix %d has invalid coordinate %+v: %v", i, f.Coordinate, err)
		}
		// each step moves at most StepMeters (plus float slack)
		prev := p.Start
		if i > 0 {
			prev = fixes[i-1].Coordinate
		}
		if d := geo.DistanceMeters(prev, f.Coordinate); d > 6 {
			t.Errorf("fix %d stepped %.1fm, want at most 5m", i, d)
		}
	}
}

func TestRandomWalkProviderFailureInjection(t *testing.T) {
	p := &RandomWalkProvider{
		Start:       geo.Coordinate{Lat: 0, Lon: 0},
		Interval:    time.Millisecond,
		FailureRate: 1, // every tick fails
	}

	errs := make(chan ProviderError, 1)
	sub, err := p.Watch(WatchOptions{}, func(f Fix) {
		t.Errorf("unexpected fix %+v with a certain failure rate", f)
	}, func(pe ProviderError) {
		select {
		case errs <- pe:
		default:
		}
	})
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	defer sub.Cancel()

	select {
	case pe := <-errs:
		if pe.Kind != ErrorUnavailable {
			t.Errorf("error kind = %v, want ErrorUnavailable", pe.Kind)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a simulated failure")
	}
}

func TestRandomWalkProviderCancelStopsCallbacks(t *testing.T) {
	p := &RandomWalkProvider{
		Start:    geo.Coordinate{Lat: 1, Lon: 1},
		Interval: time.Millisecond,
	}

	got := make(chan struct{}, 1)
	sub, err := p.Watch(WatchOptions{}, func(Fix) {
		select {
		case got <- struct{}{}:
		default:
		}
	}, func(ProviderError) {})
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}

	select {
	case <-got:
	case <-time.After(2 * time.Second):
		t.Fatal("no fix before cancel")
	}

	sub.Cancel()
	sub.Cancel() // idempotent
}
