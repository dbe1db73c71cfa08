package track

import (
	"errors"
	"strings"
	"time"

	"trail-link/internal/domain/geo"
)

var (
	ErrEmptyUserID    = errors.New("user_id cannot be empty")
	ErrEmptySessionID = errors.New("session_id cannot be empty")
)

// NicknamePlaceholder is shown when a nickname lookup fails. Position data is
// never dropped because of a failed display-name join.
const NicknamePlaceholder = "unknown"

// ParticipantLocation is the live position of one session member. There is
// exactly one per (session, user) pair; every report overwrites it in place.
type ParticipantLocation struct {
	UserID     string         `json:"user_id"`
	Nickname   string         `json:"nickname"`
	Coordinate geo.Coordinate `json:"coordinate"`
	UpdatedAt  time.Time      `json:"updated_at"`
	OffRoute   bool           `json:"off_route"`
}

// Validate checks invariants of the ParticipantLocation entity.
func (p *ParticipantLocation) Validate() error {
	if strings.TrimSpace(p.UserID) == "" {
		return ErrEmptyUserID
	}
	return p.Coordinate.Validate()
}

// DisplayName returns the nickname, or the placeholder when it is missing.
func (p *ParticipantLocation) DisplayName() string {
	if strings.TrimSpace(p.Nickname) == "" {
		return NicknamePlaceholder
	}
	return p.Nickname
}
