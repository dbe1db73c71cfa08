package ws

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"trail-link/internal/common/contextx"
	"trail-link/internal/common/logger"
	"trail-link/internal/contracts"
	"trail-link/internal/domain/geo"
	"trail-link/internal/domain/track"
	"trail-link/internal/jwt"
	"trail-link/internal/location"
)

const maxMessageBytes = 64 * 1024

// Gateway is the participant-facing surface: websocket connections for the
// live loop and a small HTTP API for the per-session route polyline.
type Gateway struct {
	svc *location.Service
	mgr *location.Manager
	hub *Hub
	jwt *jwt.Manager
	log *slog.Logger

	upgrader websocket.Upgrader
}

func NewGateway(svc *location.Service, mgr *location.Manager, hub *Hub, jwtMgr *jwt.Manager, log *slog.Logger) *Gateway {
	g := &Gateway{
		svc: svc,
		mgr: mgr,
		hub: hub,
		jwt: jwtMgr,
		log: log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// agents are not browsers; origin checks do not apply
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}

	// every aggregator change fans out to the session's connected members
	mgr.Broadcast = func(sessionID string, participants []track.ParticipantLocation) {
		g.hub.SendToSession(sessionID, contracts.SessionLocationsMessage{
			Type:         contracts.WSTypeSessionLocations,
			SessionID:    sessionID,
			Participants: participants,
			SentAt:       time.Now().UTC(),
		})
	}

	return g
}

// RegisterRoutes attaches the gateway's endpoints to mux.
func (g *Gateway) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /ws/sessions/{id}", g.handleSession)
	mux.HandleFunc("GET /sessions/{id}/route", g.handleRoute)
	mux.HandleFunc("GET /healthz", g.handleHealth)
}

func (g *Gateway) handleSession(w http.ResponseWriter, r *http.Request) {
	ctx := contextx.WithRequestID(r.Context(), uuid.NewString())
	sessionID := r.PathValue("id")
	ctx = contextx.WithSessionID(ctx, sessionID)

	claims, err := g.jwt.Authenticate(r)
	if err != nil {
		logger.Error(ctx, g.log, "ws_auth_failed", "Rejected unauthenticated websocket", err)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	userID := claims.Subject

	wsConn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error(ctx, g.log, "ws_upgrade_failed", "Websocket upgrade failed", err)
		return
	}
	wsConn.SetReadLimit(maxMessageBytes)

	// all writes from here on share this wrapper's lock, so read-loop
	// replies never race a hub broadcast on the same connection
	conn := NewConn(wsConn)

	sub, err := g.mgr.Subscribe(ctx, sessionID, userID)
	if err != nil {
		logger.Error(ctx, g.log, "session_subscribe_failed", "Failed to subscribe to session feed", err,
			"user_id", userID)
		_ = conn.WriteJSON(contracts.WSError{Type: contracts.WSTypeError, Error: "session unavailable"})
		_ = conn.Close()
		return
	}

	g.hub.Add(sessionID, userID, conn)
	defer func() {
		g.hub.Remove(sessionID, userID, conn)
		sub.Close()
	}()

	// the current converged view goes out immediately so a joiner does not
	// wait for the next change
	_ = g.hub.SendToMember(sessionID, userID, contracts.SessionLocationsMessage{
		Type:         contracts.WSTypeSessionLocations,
		SessionID:    sessionID,
		Participants: sub.Locations(),
		SentAt:       time.Now().UTC(),
	})

	logger.Info(ctx, g.log, "participant_connected", "Participant joined live session",
		"user_id", userID)

	g.readLoop(ctx, conn, sub)
}

// readLoop consumes client messages until the connection drops or the client
// leaves explicitly.
func (g *Gateway) readLoop(ctx context.Context, conn *Conn, sub *location.Subscription) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			logger.Debug(ctx, g.log, "ws_closed", "Websocket read ended",
				"user_id", sub.UserID, "error", err.Error())
			return
		}

		var msg contracts.WSInbound
		if err := json.Unmarshal(raw, &msg); err != nil {
			_ = conn.WriteJSON(contracts.WSError{Type: contracts.WSTypeError, Error: "malformed message"})
			continue
		}

		switch msg.Type {
		case contracts.WSTypeLocationUpdate:
			g.handleLocationUpdate(ctx, conn, sub, msg.Data)

		case contracts.WSTypeLeave:
			if err := g.svc.RemoveParticipant(ctx, sub.SessionID, sub.UserID); err != nil {
				logger.Error(ctx, g.log, "participant_leave_failed", "Failed to remove leaving participant", err,
					"user_id", sub.UserID)
			}
			return

		default:
			_ = conn.WriteJSON(contracts.WSError{Type: contracts.WSTypeError, Error: "unknown message type"})
		}
	}
}

func (g *Gateway) handleLocationUpdate(ctx context.Context, conn *Conn, sub *location.Subscription, data json.RawMessage) {
	var payload contracts.LocationUpdatePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		_ = conn.WriteJSON(contracts.WSError{Type: contracts.WSTypeError, Error: "invalid location data"})
		return
	}

	coord, err := geo.NewCoordinate(payload.Lat, payload.Lon)
	if err != nil {
		logger.Error(ctx, g.log, "location_update_invalid", "Rejected out-of-range coordinates", err,
			"user_id", sub.UserID, "lat", payload.Lat, "lon", payload.Lon)
		_ = conn.WriteJSON(contracts.WSError{Type: contracts.WSTypeError, Error: "invalid coordinates"})
		return
	}

	if err := sub.Publish(ctx, coord, payload.OffRoute); err != nil {
		logger.Error(ctx, g.log, "location_update_failed", "Failed to store location update", err,
			"user_id", sub.UserID)
		_ = conn.WriteJSON(contracts.WSError{Type: contracts.WSTypeError, Error: "failed to store location"})
	}
}

func (g *Gateway) handleRoute(w http.ResponseWriter, r *http.Request) {
	ctx := contextx.WithRequestID(r.Context(), uuid.NewString())
	sessionID := r.PathValue("id")
	ctx = contextx.WithSessionID(ctx, sessionID)

	if _, err := g.jwt.Authenticate(r); err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	route, err := g.svc.Route(ctx, sessionID)
	if err != nil {
		logger.Error(ctx, g.log, "route_fetch_failed", "Failed to load session route", err)
		http.Error(w, "failed to load route", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": sessionID,
		"polyline":   route,
	})
}

func (g *Gateway) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
