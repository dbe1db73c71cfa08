package geo

import (
	"math"
	"testing"
)

func TestDistanceMeters(t *testing.T) {
	tests := []struct {
		name      string
		a, b      Coordinate
		want      float64
		tolerance float64
	}{
		{
			name: "same point is zero",
			a:    Coordinate{Lat: 37.5665, Lon: 126.978},
			b:    Coordinate{Lat: 37.5665, Lon: 126.978},
			want: 0, tolerance: 1e-9,
		},
		{
			name: "one degree of latitude on the equator",
			a:    Coordinate{Lat: 0, Lon: 0},
			b:    Coordinate{Lat: 1, Lon: 0},
			want: 111195, tolerance: 50,
		},
		{
			name: "seoul city hall to gangnam station",
			a:    Coordinate{Lat: 37.5665, Lon: 126.978},
			b:    Coordinate{Lat: 37.4979, Lon: 127.0276},
			want: 8800, tolerance: 200,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DistanceMeters(tt.a, tt.b)
			if math.Abs(got-tt.want) > tt.tolerance {
				t.Errorf("DistanceMeters() = %v, want %v ± %v", got, tt.want, tt.tolerance)
			}
		})
	}
}

func TestDistanceMetersSymmetry(t *testing.T) {
	a := Coordinate{Lat: 37.5665, Lon: 126.978}
	b := Coordinate{Lat: 35.1796, Lon: 129.0756}
	if d1, d2 := DistanceMeters(a, b), DistanceMeters(b, a); math.Abs(d1-d2) > 1e-9 {
		t.Errorf("distance is not symmetric: %v vs %v", d1, d2)
	}
}

func TestPointToSegmentDistanceMeters(t *testing.T) {
	segStart := Coordinate{Lat: 0, Lon: 0}
	segEnd := Coordinate{Lat: 0, Lon: 1}

	tests := []struct {
		name      string
		p         Coordinate
		want      float64
		tolerance float64
	}{
		{
			name: "point on the segment midpoint",
			p:    Coordinate{Lat: 0, Lon: 0.5},
			want: 0, tolerance: 1e-6,
		},
		{
			name: "point projects inside the segment",
			p:    Coordinate{Lat: 0.001, Lon: 0.5},
			want: 111.195, tolerance: 0.5,
		},
		{
			name: "point before the start clamps to the start",
			p:    Coordinate{Lat: 0, Lon: -0.5},
			want: DistanceMeters(Coordinate{Lat: 0, Lon: -0.5}, segStart),
			tolerance: 1e-9,
		},
		{
			name: "point past the end clamps to the end",
			p:    Coordinate{Lat: 0, Lon: 1.5},
			want: DistanceMeters(Coordinate{Lat: 0, Lon: 1.5}, segEnd),
			tolerance: 1e-9,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := PointToSegmentDistanceMeters(tt.p, segStart, segEnd)
			if math.Abs(got-tt.want) > tt.tolerance {
				t.Errorf("PointToSegmentDistanceMeters() = %v, want %v ± %v", got, tt.want, tt.tolerance)
			}
		})
	}
}

func TestPointToSegmentDistanceZeroLengthSegment(t *testing.T) {
	pt := Coordinate{Lat: 37.0, Lon: 127.0}
	seg := Coordinate{Lat: 37.001, Lon: 127.0}

	got := PointToSegmentDistanceMeters(pt, seg, seg)
	want := DistanceMeters(pt, seg)
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("degenerate segment distance = %v, want point distance %v", got, want)
	}
}

func TestDistanceToPolylineMeters(t *testing.T) {
	route := Polyline{
		{Lat: 37.0, Lon: 127.0},
		{Lat: 37.0, Lon: 127.01},
		{Lat: 37.01, Lon: 127.01},
	}

	t.Run("nearest segment wins", func(t *testing.T) {
		// right next to the second segment, far from the first
		p := Coordinate{Lat: 37.005, Lon: 127.0101}
		d, ok := DistanceToPolylineMeters(p, route)
		if !ok {
			t.Fatal("expected a usable route")
		}
		if d > 20 {
			t.Errorf("distance = %vm, expected within 20m of the second segment", d)
		}
	})

	t.Run("point on a vertex is zero", func(t *testing.T) {
		d, ok := DistanceToPolylineMeters(route[1], route)
		if !ok {
			t.Fatal("expected a usable route")
		}
		if d > 1e-6 {
			t.Errorf("distance at vertex = %v, want 0", d)
		}
	})

	t.Run("empty route has no distance", func(t *testing.T) {
		if _, ok := DistanceToPolylineMeters(Coordinate{}, nil); ok {
			t.Error("expected ok=false for nil route")
		}
	})

	t.Run("single point route has no distance", func(t *testing.T) {
		if _, ok := DistanceToPolylineMeters(Coordinate{}, Polyline{{Lat: 1, Lon: 1}}); ok {
			t.Error("expected ok=false for single-point route")
		}
	})
}

func TestIsOffRoute(t *testing.T) {
	route := Polyline{
		{Lat: 37.0, Lon: 127.0},
		{Lat: 37.0, Lon: 127.01},
	}

	tests := []struct {
		name      string
		p         Coordinate
		route     Polyline
		threshold float64
		want      bool
	}{
		{
			name:      "on the route",
			p:         Coordinate{Lat: 37.0, Lon: 127.005},
			route:     route,
			threshold: 50,
			want:      false,
		},
		{
			name:      "far from the route",
			p:         Coordinate{Lat: 37.0, Lon: 127.05},
			route:     route,
			threshold: 50,
			want:      true,
		},
		{
			name:      "just inside the threshold",
			p:         Coordinate{Lat: 37.0004, Lon: 127.005}, // ~44m north
			route:     route,
			threshold: 50,
			want:      false,
		},
		{
			name:      "just outside the threshold",
			p:         Coordinate{Lat: 37.0006, Lon: 127.005}, // ~67m north
			route:     route,
			threshold: 50,
			want:      true,
		},
		{
			name:      "no route means never off-route",
			p:         Coordinate{Lat: 0, Lon: 0},
			route:     nil,
			threshold: 50,
			want:      false,
		},
		{
			name:      "single point route means never off-route",
			p:         Coordinate{Lat: 0, Lon: 0},
			route:     Polyline{{Lat: 37.0, Lon: 127.0}},
			threshold: 50,
			want:      false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsOffRoute(tt.p, tt.route, tt.threshold); got != tt.want {
				t.Errorf("IsOffRoute() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsOffRouteExactThresholdIsOnRoute(t *testing.T) {
	route := Polyline{
		{Lat: 37.0, Lon: 127.0},
		{Lat: 37.0, Lon: 127.01},
	}
	p := Coordinate{Lat: 37.0003, Lon: 127.005}
	d, ok := DistanceToPolylineMeters(p, route)
	if !ok {
		t.Fatal("expected a usable route")
	}
	if IsOffRoute(p, route, d) {
		t.Errorf("a position exactly at the threshold (%vm) must count as on-route", d)
	}
}
