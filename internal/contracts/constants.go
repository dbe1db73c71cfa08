package contracts

// Exchanges
const (
	ExchangeLocationFeed = "location_feed" // topic
)

// Routing patterns. Event feeds are scoped per session; an aggregator binds
// its queue with RouteLocationAll(sessionID) so it sees every event for its
// session and nothing else.
const (
	RouteLocationPrefix = "location." // {event}.{session_id}
)

// RouteLocation builds the routing key for one feed event.
func RouteLocation(event, sessionID string) string {
	return RouteLocationPrefix + event + "." + sessionID
}

// RouteLocationAll builds the binding pattern matching every event type for a
// session.
func RouteLocationAll(sessionID string) string {
	return RouteLocationPrefix + "*." + sessionID
}
