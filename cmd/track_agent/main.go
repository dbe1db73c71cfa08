package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"trail-link/internal/common/config"
	"trail-link/internal/common/contextx"
	"trail-link/internal/common/logger"
	"trail-link/internal/contracts"
	"trail-link/internal/domain/geo"
	"trail-link/internal/jwt"
	"trail-link/internal/sampler"
	"trail-link/internal/tracker"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to the config file")
	flag.Parse()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log := logger.New("track-agent")
	logger.Info(ctx, log, "init_start", "Track agent initializing...")

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error(ctx, log, "config_load_failed", "Failed to load config file", err)
		os.Exit(1)
	}
	if err := cfg.ValidateAgent(); err != nil {
		logger.Error(ctx, log, "config_invalid", "Config failed validation", err)
		os.Exit(1)
	}

	ctx = contextx.WithSessionID(ctx, cfg.Agent.SessionID)

	userID, err := jwt.SubjectUnverified(cfg.Agent.Token)
	if err != nil {
		logger.Error(ctx, log, "token_invalid", "Cannot read user ID from token", err)
		os.Exit(1)
	}

	route := fetchRoute(ctx, cfg.Agent, log)

	conn, err := dialSession(ctx, cfg.Agent)
	if err != nil {
		logger.Error(ctx, log, "ws_dial_failed", "Cannot connect to location service", err)
		os.Exit(1)
	}
	client := &wsClient{conn: conn}
	defer client.close()
	logger.Info(ctx, log, "session_connected", "Connected to live session", "user_id", userID)

	// the tracker decides WHEN to publish; the websocket client is HOW
	tr := tracker.New(client.publishLocation, log, tracker.Options{
		SessionID:       cfg.Agent.SessionID,
		UserID:          userID,
		VisibleInterval: time.Duration(cfg.Agent.VisibleIntervalMS) * time.Millisecond,
		HiddenInterval:  time.Duration(cfg.Agent.HiddenIntervalMS) * time.Millisecond,
	})
	go tr.Run(ctx)

	start, err := geo.NewCoordinate(cfg.Agent.StartLat, cfg.Agent.StartLon)
	if err != nil {
		logger.Error(ctx, log, "config_invalid", "Start coordinates out of range", err)
		os.Exit(1)
	}
	provider := &sampler.RandomWalkProvider{
		Start:      start,
		Interval:   2 * time.Second,
		StepMeters: 8,
	}
	smp := sampler.New(provider, log, sampler.Options{
		Timeout: time.Duration(cfg.Agent.SampleTimeoutMS) * time.Millisecond,
	})
	if err := smp.Start(ctx); err != nil {
		logger.Error(ctx, log, "sampler_start_failed", "Cannot start position sampling", err)
		os.Exit(1)
	}
	defer smp.Stop()

	go watchVisibility(ctx, tr, log)
	go readServer(ctx, client, log, cancel)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case fix := <-smp.Fixes():
			off := geo.IsOffRoute(fix, route, cfg.Agent.OffRouteThresholdM)
			tr.UpdatePosition(fix)
			tr.SetOffRoute(off)

		case st := <-smp.Status():
			if st.Terminal {
				logger.Error(ctx, log, "sampler_terminal", "Position sampling stopped", st.Err)
				return
			}
			logger.Info(ctx, log, "sampler_status", st.Message, "attempt", st.Attempt)

		case <-stop:
			logger.Info(ctx, log, "shutdown_signal", "Shutdown signal received")
			client.leave()
			return

		case <-ctx.Done():
			logger.Info(ctx, log, "shutdown_ctx", "Connection lost or context canceled")
			return
		}
	}
}

// fetchRoute loads the session's planned route. A session without a route is
// fine, the agent then never reports off-route.
func fetchRoute(ctx context.Context, cfg config.Agent, log *slog.Logger) geo.Polyline {
	base := strings.TrimRight(cfg.ServerURL, "/")
	base = strings.Replace(base, "ws://", "http://", 1)
	base = strings.Replace(base, "wss://", "https://", 1)

	reqCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet,
		fmt.Sprintf("%s/sessions/%s/route", base, cfg.SessionID), nil)
	if err != nil {
		logger.Error(ctx, log, "route_fetch_failed", "Cannot build route request", err)
		return nil
	}
	req.Header.Set("Authorization", "Bearer "+cfg.Token)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		logger.Error(ctx, log, "route_fetch_failed", "Cannot load session route, deviation disabled", err)
		return nil
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		logger.Error(ctx, log, "route_fetch_failed", "Route request rejected, deviation disabled",
			fmt.Errorf("unexpected status %d", resp.StatusCode))
		return nil
	}

	var body struct {
		Polyline geo.Polyline `json:"polyline"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		logger.Error(ctx, log, "route_fetch_failed", "Cannot decode route response", err)
		return nil
	}
	if !body.Polyline.HasRoute() {
		logger.Info(ctx, log, "route_missing", "Session has no usable route, deviation disabled")
		return nil
	}
	logger.Info(ctx, log, "route_loaded", "Session route loaded", "points", len(body.Polyline))
	return body.Polyline
}

// watchVisibility toggles the tracker's cadence on SIGUSR1, standing in for a
// foreground/background switch on devices that have one.
func watchVisibility(ctx context.Context, tr *tracker.Tracker, log *slog.Logger) {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGUSR1)
	visible := true
	for {
		select {
		case <-sig:
			visible = !visible
			tr.SetVisible(visible)
			logger.Info(ctx, log, "visibility_changed", "Publish cadence changed", "visible", visible)
		case <-ctx.Done():
			return
		}
	}
}

// readServer consumes the converged session views the service broadcasts.
func readServer(ctx context.Context, client *wsClient, log *slog.Logger, cancel context.CancelFunc) {
	defer cancel()
	for {
		_, raw, err := client.conn.ReadMessage()
		if err != nil {
			logger.Debug(ctx, log, "ws_closed", "Server connection closed", "error", err.Error())
			return
		}
		var msg contracts.SessionLocationsMessage
		if err := json.Unmarshal(raw, &msg); err != nil || msg.Type != contracts.WSTypeSessionLocations {
			continue
		}
		logger.Debug(ctx, log, "session_view", "Received session snapshot",
			"participants", len(msg.Participants))
	}
}

// dialSession opens the live websocket to the location service.
func dialSession(ctx context.Context, cfg config.Agent) (*websocket.Conn, error) {
	u := fmt.Sprintf("%s/ws/sessions/%s?token=%s",
		strings.TrimRight(cfg.ServerURL, "/"), cfg.SessionID, cfg.Token)
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u, nil)
	return conn, err
}

// wsClient serializes writes on the shared websocket connection.
type wsClient struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *wsClient) publishLocation(ctx context.Context, coord geo.Coordinate, offRoute bool) error {
	payload, err := json.Marshal(contracts.LocationUpdatePayload{
		Lat:      coord.Lat,
		Lon:      coord.Lon,
		OffRoute: offRoute,
	})
	if err != nil {
		return err
	}
	return c.writeJSON(contracts.WSInbound{Type: contracts.WSTypeLocationUpdate, Data: payload})
}

func (c *wsClient) leave() {
	_ = c.writeJSON(contracts.WSInbound{Type: contracts.WSTypeLeave})
}

func (c *wsClient) writeJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(v)
}

func (c *wsClient) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.Close()
}
