package contracts

import (
	"time"

	json "github.com/goccy/go-json"

	"trail-link/internal/domain/track"
)

// Websocket message types exchanged between agents and the location service.
const (
	WSTypeLocationUpdate   = "location_update"   // client -> server
	WSTypeLeave            = "leave"             // client -> server
	WSTypeSessionLocations = "session_locations" // server -> client
	WSTypeError            = "error"             // server -> client
)

// WSInbound is the envelope for client-to-server messages. Data is decoded
// per Type.
type WSInbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// LocationUpdatePayload is the body of a location_update message.
type LocationUpdatePayload struct {
	Lat      float64 `json:"lat"`
	Lon      float64 `json:"lon"`
	OffRoute bool    `json:"off_route"`
}

// SessionLocationsMessage pushes the converged participant view for one
// session to every connected member.
type SessionLocationsMessage struct {
	Type         string                      `json:"type"`
	SessionID    string                      `json:"session_id"`
	Participants []track.ParticipantLocation `json:"participants"`
	SentAt       time.Time                   `json:"sent_at"`
}

// WSError is sent to a client when a request could not be served.
type WSError struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}
