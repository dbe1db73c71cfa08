package sampler

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"trail-link/internal/domain/geo"
)

// RandomWalkProvider emits fixes along a small random walk around a start
// coordinate. It stands in for a hardware GPS so an agent can run end to end;
// the Provider interface is the seam for a real receiver.
type RandomWalkProvider struct {
	Start       geo.Coordinate
	Interval    time.Duration // cadence between fixes; default 1s
	StepMeters  float64       // max displacement per step; default 3m
	FailureRate float64       // probability in [0,1) of an ErrorUnavailable per tick

	mu   sync.Mutex
	rng  *rand.Rand
	subs int
}

type simSubscription struct {
	stop chan struct{}
	once sync.Once
}

func (s *simSubscription) Cancel() {
	s.once.Do(func() { close(s.stop) })
}

// Watch starts a goroutine that walks from the start coordinate and invokes
// onFix each interval until the subscription is cancelled.
func (p *RandomWalkProvider) Watch(opts WatchOptions, onFix func(Fix), onErr func(ProviderError)) (Subscription, error) {
	interval := p.Interval
	if interval <= 0 {
		interval = time.Second
	}
	step := p.StepMeters
	if step <= 0 {
		step = 3
	}

	p.mu.Lock()
	if p.rng == nil {
		p.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	rng := rand.New(rand.NewSource(p.rng.Int63()))
	p.subs++
	p.mu.Unlock()

	sub := &simSubscription{stop: make(chan struct{})}

	go func() {
		pos := p.Start
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-sub.stop:
				return
			case <-ticker.C:
				if p.FailureRate > 0 && rng.Float64() < p.FailureRate {
					onErr(ProviderError{Kind: ErrorUnavailable, Message: "simulated position loss"})
					continue
				}
				pos = stepFrom(pos, rng, step)
				onFix(Fix{
					Coordinate:     pos,
					AccuracyMeters: 5 + rng.Float64()*10,
					Timestamp:      time.Now().UTC(),
				})
			}
		}
	}()

	return sub, nil
}

// stepFrom displaces pos by up to stepMeters in a random direction, converted
// to degrees with a flat-Earth approximation good enough for meter-scale
// steps.
func stepFrom(pos geo.Coordinate, rng *rand.Rand, stepMeters float64) geo.Coordinate {
	const metersPerDegreeLat = 111320.0

	angle := rng.Float64() * 2 * math.Pi
	dist := rng.Float64() * stepMeters

	dLat := dist * math.Cos(angle) / metersPerDegreeLat
	lonScale := metersPerDegreeLat * math.Cos(pos.Lat*math.Pi/180)
	dLon := 0.0
	if lonScale > 0 {
		dLon = dist * math.Sin(angle) / lonScale
	}

	next := geo.Coordinate{Lat: pos.Lat + dLat, Lon: pos.Lon + dLon}
	if next.Validate() != nil {
		return pos
	}
	return next
}
