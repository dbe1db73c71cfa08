package contracts

import "time"

// Envelope adds cross-cutting headers all messages may carry.
type Envelope struct {
	CorrelationID string    `json:"correlation_id,omitempty"` // correlation for tracing across services
	Producer      string    `json:"producer,omitempty"`       // producer service name, e.g. "location-service"
	SentAt        time.Time `json:"sent_at,omitempty"`        // ISO-8601 send time (UTC)
}

// LocationRow is the full stored row for one participant's position. Feed
// events carry the complete row; consumers replace, never merge.
type LocationRow struct {
	SessionID string    `json:"session_id"`
	UserID    string    `json:"user_id"`
	Nickname  string    `json:"nickname,omitempty"`
	Lat       float64   `json:"lat"`
	Lon       float64   `json:"lon"`
	OffRoute  bool      `json:"off_route"`
	UpdatedAt time.Time `json:"updated_at"`
}
