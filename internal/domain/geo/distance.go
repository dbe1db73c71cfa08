package geo

import "math"

// earthRadiusMeters is the mean Earth radius used by the Haversine formula.
const earthRadiusMeters = 6371000

// DefaultOffRouteThresholdMeters is the distance beyond which a position is
// considered off the planned route unless the caller overrides it.
const DefaultOffRouteThresholdMeters = 50

// DistanceMeters returns the great-circle distance between two coordinates
// using the Haversine formula.
func DistanceMeters(a, b Coordinate) float64 {
	dLat := toRad(b.Lat - a.Lat)
	dLon := toRad(b.Lon - a.Lon)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(a.Lat))*math.Cos(toRad(b.Lat))*
			math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))

	return earthRadiusMeters * c
}

// PointToSegmentDistanceMeters returns the shortest distance from p to the
// segment between segStart and segEnd. The projection onto the segment is done
// in flat (lon,lat) space and clamped to the segment endpoints; the final
// distance to the clamped point is measured with the spherical formula. The
// flat projection is adequate at the tens-of-meters scale this is used for.
func PointToSegmentDistanceMeters(p, segStart, segEnd Coordinate) float64 {
	ax := p.Lon - segStart.Lon
	ay := p.Lat - segStart.Lat
	cx := segEnd.Lon - segStart.Lon
	cy := segEnd.Lat - segStart.Lat

	dot := ax*cx + ay*cy
	lenSq := cx*cx + cy*cy

	// zero-length segment: distance degenerates to point distance
	param := -1.0
	if lenSq != 0 {
		param = dot / lenSq
	}

	var nearest Coordinate
	switch {
	case param < 0:
		nearest = segStart
	case param > 1:
		nearest = segEnd
	default:
		nearest = Coordinate{
			Lat: segStart.Lat + param*cy,
			Lon: segStart.Lon + param*cx,
		}
	}

	return DistanceMeters(p, nearest)
}

// DistanceToPolylineMeters returns the minimum distance from p to any segment
// of route. The second return value is false when the polyline has fewer than
// two points and no meaningful distance exists.
func DistanceToPolylineMeters(p Coordinate, route Polyline) (float64, bool) {
	if !route.HasRoute() {
		return 0, false
	}

	min := math.Inf(1)
	for i := 0; i < len(route)-1; i++ {
		d := PointToSegmentDistanceMeters(p, route[i], route[i+1])
		if d < min {
			min = d
		}
	}
	return min, true
}

// IsOffRoute reports whether p is farther than thresholdMeters from every
// segment of route. A position exactly at the threshold counts as on-route.
// Without a usable route nobody is off it.
func IsOffRoute(p Coordinate, route Polyline, thresholdMeters float64) bool {
	d, ok := DistanceToPolylineMeters(p, route)
	if !ok {
		return false
	}
	return d > thresholdMeters
}

func toRad(degrees float64) float64 {
	return degrees * (math.Pi / 180)
}
