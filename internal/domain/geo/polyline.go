package geo

// Polyline is an ordered sequence of coordinates describing a planned route.
// Consecutive points form the segments of the route; a polyline with fewer
// than two points carries no route at all.
type Polyline []Coordinate

// HasRoute reports whether the polyline defines at least one segment.
func (p Polyline) HasRoute() bool {
	return len(p) >= 2
}
