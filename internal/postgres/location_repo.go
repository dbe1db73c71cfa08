package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"trail-link/internal/domain/geo"
	"trail-link/internal/domain/track"
)

// LocationRepo persists live participant positions using pgx and plain SQL.
// The table is keyed by (session_id, user_id); every write is an upsert on
// that composite key, so last write wins per participant.
type LocationRepo struct {
	db *pgxpool.Pool
}

func NewLocationRepo(db *pgxpool.Pool) *LocationRepo {
	return &LocationRepo{db: db}
}

// Upsert writes the row and reports whether it was inserted (first report for
// this participant) or updated, plus the stored timestamp.
func (r *LocationRepo) Upsert(ctx context.Context, sessionID, userID string, c geo.Coordinate, offRoute bool) (inserted bool, updatedAt time.Time, err error) {
	if err := c.Validate(); err != nil {
		return false, time.Time{}, err
	}

	// xmax = 0 only on freshly inserted rows
	err = r.db.QueryRow(ctx, `
		INSERT INTO locations (session_id, user_id, lat, lon, off_route, updated_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (session_id, user_id) DO UPDATE
		SET lat = EXCLUDED.lat,
		    lon = EXCLUDED.lon,
		    off_route = EXCLUDED.off_route,
		    updated_at = now()
		RETURNING updated_at, (xmax = 0) AS inserted
	`, sessionID, userID, c.Lat, c.Lon, offRoute).Scan(&updatedAt, &inserted)
	if err != nil {
		return false, time.Time{}, fmt.Errorf("upsert location: %w", err)
	}
	return inserted, updatedAt, nil
}

// Delete removes a participant's row, reporting whether one existed.
func (r *LocationRepo) Delete(ctx context.Context, sessionID, userID string) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		DELETE FROM locations
		WHERE session_id = $1 AND user_id = $2
	`, sessionID, userID)
	if err != nil {
		return false, fmt.Errorf("delete location: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ListBySession returns the full snapshot of current rows for a session,
// joined with nicknames. A missing users row degrades to an empty nickname.
func (r *LocationRepo) ListBySession(ctx context.Context, sessionID string) ([]track.ParticipantLocation, error) {
	rows, err := r.db.Query(ctx, `
		SELECT l.user_id, COALESCE(u.nickname, ''), l.lat, l.lon, l.off_route, l.updated_at
		FROM locations l
		LEFT JOIN users u ON u.id = l.user_id
		WHERE l.session_id = $1
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list locations: %w", err)
	}
	defer rows.Close()

	var out []track.ParticipantLocation
	for rows.Next() {
		var p track.ParticipantLocation
		if err := rows.Scan(&p.UserID, &p.Nickname, &p.Coordinate.Lat, &p.Coordinate.Lon, &p.OffRoute, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan location row: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate location rows: %w", err)
	}
	return out, nil
}
