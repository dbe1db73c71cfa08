package contracts

// Feed event types, mirrored from the change-feed semantics of the backing
// store: insert and update carry the full row, delete carries only the key.
const (
	EventInsert = "insert"
	EventUpdate = "update"
	EventDelete = "delete"
)

// FeedEvent is broadcast on ExchangeLocationFeed whenever a locations row
// changes. Routing key: location.{event_type}.{session_id}.
type FeedEvent struct {
	EventType string       `json:"event_type"`
	SessionID string       `json:"session_id"`
	UserID    string       `json:"user_id"`
	Row       *LocationRow `json:"row,omitempty"` // nil for delete
	Envelope
}
