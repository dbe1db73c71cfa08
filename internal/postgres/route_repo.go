package postgres

import (
	"context"
	"errors"
	"fmt"

	json "github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"trail-link/internal/domain/geo"
)

// RouteRepo loads the planned route for a session. Routes are stored as
// GeoJSON FeatureCollections produced upstream from GPX uploads; this
// subsystem only consumes the polyline.
type RouteRepo struct {
	db *pgxpool.Pool
}

func NewRouteRepo(db *pgxpool.Pool) *RouteRepo {
	return &RouteRepo{db: db}
}

type geoJSONGeometry struct {
	Type        string      `json:"type"`
	Coordinates [][]float64 `json:"coordinates"`
}

type geoJSONFeature struct {
	Type     string          `json:"type"`
	Geometry geoJSONGeometry `json:"geometry"`
}

type geoJSONCollection struct {
	Type     string           `json:"type"`
	Features []geoJSONFeature `json:"features"`
}

// Route returns the session's polyline, or an empty polyline when the session
// has no stored route.
func (r *RouteRepo) Route(ctx context.Context, sessionID string) (geo.Polyline, error) {
	var raw []byte
	err := r.db.QueryRow(ctx, `
		SELECT geojson FROM routes WHERE session_id = $1
	`, sessionID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetch route: %w", err)
	}

	return polylineFromGeoJSON(raw)
}

// polylineFromGeoJSON extracts the first LineString feature. GeoJSON
// positions are [lon, lat, (ele)].
func polylineFromGeoJSON(raw []byte) (geo.Polyline, error) {
	var fc geoJSONCollection
	if err := json.Unmarshal(raw, &fc); err != nil {
		return nil, fmt.Errorf("decode route geojson: %w", err)
	}

	for _, f := range fc.Features {
		if f.Geometry.Type != "LineString" {
			continue
		}
		line := make(geo.Polyline, 0, len(f.Geometry.Coordinates))
		for _, pos := range f.Geometry.Coordinates {
			if len(pos) < 2 {
				continue
			}
			line = append(line, geo.Coordinate{Lon: pos[0], Lat: pos[1]})
		}
		return line, nil
	}
	return nil, nil
}
