// Package wslisten implements the WebSocket listener of spec.md §4.4:
// one long-lived task per enabled ws_json connection, reconnecting
// with exponential backoff and feeding every decoded frame through
// the deduplicating writer as a synthetic fetch result.
package wslisten

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nowplaying-fm/ingest-engine/internal/config"
	"github.com/nowplaying-fm/ingest-engine/internal/mapping"
	"github.com/nowplaying-fm/ingest-engine/internal/model"
	"github.com/nowplaying-fm/ingest-engine/internal/store"
	"github.com/nowplaying-fm/ingest-engine/internal/writer"
)

// defaultHealthCheckInterval, defaultInitialBackoff and
// defaultMaxBackoff are the fallbacks New applies when a zero-value
// config.WSListenerConfig is given (e.g. in tests); cmd/ingestd always
// supplies cfg.WSListener from a validated config.Config, whose fields
// are already defaulted.
const defaultHealthCheckInterval = 30 * time.Second

const (
	defaultInitialBackoff = 1 * time.Second
	defaultMaxBackoff     = 60 * time.Second
)

// Listener runs the reconnect loop for one WS connection until its
// context is canceled or the connection is disabled.
type Listener struct {
	connID uuid.UUID
	store  store.Store
	writer *writer.Writer
	dialer *websocket.Dialer
	logger *slog.Logger

	healthCheckInterval time.Duration
	initialBackoff      time.Duration
	maxBackoff          time.Duration
}

// New creates a Listener for the connection identified by connID,
// tuned by cfg (spec.md §6.3's ws_listener.* knobs). The connection's
// current fields (URL, headers_json) are re-read from the store on
// every (re)connect attempt, so edits made by the administrative
// surface take effect without restarting the listener.
func New(st store.Store, w *writer.Writer, connID uuid.UUID, logger *slog.Logger, cfg config.WSListenerConfig) *Listener {
	if logger == nil {
		logger = slog.Default()
	}
	health := cfg.HealthCheckInterval
	if health <= 0 {
		health = defaultHealthCheckInterval
	}
	initial := cfg.InitialBackoff
	if initial <= 0 {
		initial = defaultInitialBackoff
	}
	maxB := cfg.MaxBackoff
	if maxB <= 0 {
		maxB = defaultMaxBackoff
	}
	return &Listener{
		connID:              connID,
		store:               st,
		writer:              w,
		dialer:              &websocket.Dialer{HandshakeTimeout: 15 * time.Second},
		logger:              logger,
		healthCheckInterval: health,
		initialBackoff:      initial,
		maxBackoff:          maxB,
	}
}

// Run drives the reconnect loop (spec.md §4.4) until ctx is canceled.
func (l *Listener) Run(ctx context.Context) {
	backoff := l.initialBackoff

	for {
		if ctx.Err() != nil {
			return
		}

		conn, err := l.store.GetConnection(ctx, l.connID)
		if err != nil {
			l.logger.Error("wslisten: load connection failed", "connection_id", l.connID, "error", err)
			return
		}
		if !conn.Enabled {
			l.setStatus(ctx, model.StatusDisabled, "")
			return
		}

		ws, _, err := l.dialer.DialContext(ctx, conn.URL, nil)
		if err != nil {
			l.setStatus(ctx, model.StatusWSConnectError, err.Error())
			if !sleepOrDone(ctx, backoff) {
				return
			}
			backoff = l.nextBackoff(backoff)
			continue
		}

		l.setStatus(ctx, model.StatusWSConnected, "")
		backoff = l.initialBackoff

		subMsg, err := BuildSubscribeMessage(conn.HeadersJSON)
		if err != nil {
			l.logger.Error("wslisten: subscribe message construction failed", "connection_id", l.connID, "error", err)
			l.setStatus(ctx, model.StatusWSError, err.Error())
			ws.Close()
			return // config error: do not retry until re-enabled
		}
		if err := ws.WriteMessage(websocket.TextMessage, subMsg); err != nil {
			l.setStatus(ctx, model.StatusWSError, err.Error())
			ws.Close()
			if !sleepOrDone(ctx, backoff) {
				return
			}
			backoff = l.nextBackoff(backoff)
			continue
		}

		var m *model.MappingSpec
		if conn.PayloadMappingID != nil {
			pm, err := l.store.GetMapping(ctx, *conn.PayloadMappingID)
			if err != nil {
				l.logger.Warn("wslisten: mapping lookup failed, falling back to best-effort extraction", "connection_id", l.connID, "error", err)
			} else {
				m = &pm.Mapping
			}
		}

		terminal := l.serve(ctx, ws, conn, m)
		ws.Close()
		if terminal {
			return
		}

		if !sleepOrDone(ctx, backoff) {
			return
		}
		backoff = l.nextBackoff(backoff)
	}
}

// frame is a parsed WebSocket message handed from the reader goroutine
// to the select loop.
type frame struct {
	payload []byte
	err     error
	closed  bool
}

// serve runs the select loop of spec.md §4.4 step 4 over one live
// connection. It returns true if the listener should terminate outright
// (disabled), false if it should reconnect.
func (l *Listener) serve(ctx context.Context, ws *websocket.Conn, conn *model.Connection, m *model.MappingSpec) bool {
	ws.SetPingHandler(func(data string) error {
		return ws.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(5*time.Second))
	})

	frames := make(chan frame, 1)
	go func() {
		for {
			msgType, data, err := ws.ReadMessage()
			if err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					frames <- frame{closed: true}
				} else {
					frames <- frame{err: err}
				}
				return
			}
			if msgType == websocket.TextMessage || msgType == websocket.BinaryMessage {
				frames <- frame{payload: data}
			}
		}
	}()

	ticker := time.NewTicker(l.healthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return true

		case f := <-frames:
			switch {
			case f.closed:
				l.setStatus(ctx, model.StatusWSClosed, "")
				return false
			case f.err != nil:
				l.setStatus(ctx, model.StatusWSError, f.err.Error())
				return false
			default:
				l.handleFrame(ctx, conn, m, f.payload)
			}

		case <-ticker.C:
			fresh, err := l.store.GetConnection(ctx, conn.ID)
			if err != nil {
				l.logger.Error("wslisten: health check load failed", "connection_id", conn.ID, "error", err)
				continue
			}
			if !fresh.Enabled {
				l.setStatus(ctx, model.StatusDisabled, "")
				return true
			}
		}
	}
}

func (l *Listener) handleFrame(ctx context.Context, conn *model.Connection, m *model.MappingSpec, payload []byte) {
	var v any
	if err := json.Unmarshal(payload, &v); err != nil {
		l.logger.Warn("wslisten: frame was not valid JSON, dropping", "connection_id", conn.ID, "error", err)
		return
	}

	fields := mapping.Extract(v, m, false)
	in := writer.Input{
		StatusCode:  200,
		ContentType: "application/json",
		RawPayload:  string(payload),
		Fields:      fields,
	}
	if err := l.writer.Write(ctx, conn, in, time.Now().UTC()); err != nil {
		l.logger.Error("wslisten: writer failed", "connection_id", conn.ID, "error", err)
	}
}

func (l *Listener) setStatus(ctx context.Context, status, errMsg string) {
	update := store.PollingStateUpdate{LastStatus: &status}
	if errMsg != "" {
		update.LastError = &errMsg
	} else {
		empty := ""
		update.LastError = &empty
	}
	if err := l.store.UpdateConnectionPollingState(ctx, l.connID, update); err != nil {
		l.logger.Error("wslisten: status update failed", "connection_id", l.connID, "status", status, "error", err)
	}
}

// BuildSubscribeMessage implements spec.md §4.4.1.
func BuildSubscribeMessage(hints map[string]string) ([]byte, error) {
	if v, ok := firstOf(hints, "subscribe_payload", "subscribe_message"); ok {
		return []byte(v), nil
	}
	if v, ok := firstOf(hints, "serviceId", "service_id"); ok {
		return json.Marshal(map[string]string{
			"action":    "subscribe",
			"serviceId": v,
		})
	}
	return nil, fmt.Errorf("wslisten: headers_json carries no subscribe_payload/subscribe_message/serviceId hint")
}

func firstOf(m map[string]string, keys ...string) (string, bool) {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			return v, true
		}
	}
	return "", false
}

func (l *Listener) nextBackoff(cur time.Duration) time.Duration {
	next := cur * 2
	if next > l.maxBackoff {
		return l.maxBackoff
	}
	return next
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
