package bridge

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/antoniostano/switchboard/internal/cdr"
	"github.com/antoniostano/switchboard/internal/config"
	"github.com/antoniostano/switchboard/internal/observability"
	"github.com/antoniostano/switchboard/internal/protocol"
)

const writeTimeout = 10 * time.Second

// wsConn wraps a websocket with a write mutex. gorilla/websocket allows one
// concurrent writer only; the bridge writes from several goroutines.
type wsConn struct {
	mu sync.Mutex
	ws *websocket.Conn
}

func newWSConn(ws *websocket.Conn) *wsConn {
	return &wsConn{ws: ws}
}

func (c *wsConn) WriteJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.ws.WriteJSON(v)
}

func (c *wsConn) Close() error {
	return c.ws.Close()
}

// CallLog reads back recorded calls for the operations surface.
type CallLog interface {
	Recent(ctx context.Context, limit int) ([]cdr.CallRecord, error)
}

// FrontDoor exposes the bridge over HTTP: websocket attach points for the
// telephony media stream and the operator monitor, plus health and metrics.
type FrontDoor struct {
	cfg      config.Config
	bridge   *Bridge
	registry *Registry
	upgrader websocket.Upgrader
	router   chi.Router
	callLog  CallLog
}

func NewFrontDoor(cfg config.Config, b *Bridge, registry *Registry) *FrontDoor {
	fd := &FrontDoor{
		cfg:      cfg,
		bridge:   b,
		registry: registry,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", fd.handleHealthz)
	r.Get("/readyz", fd.handleReadyz)
	r.Method(http.MethodGet, "/metrics", observability.MetricsHandler())
	r.Get("/call", fd.handleCall)
	r.Get("/logs", fd.handleLogs)
	r.Get("/calls", fd.handleCalls)
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	fd.router = r
	return fd
}

func (fd *FrontDoor) Handler() http.Handler { return fd.router }

// SetCallLog enables the /calls read-out. Without a log the endpoint reports
// not found.
func (fd *FrontDoor) SetCallLog(cl CallLog) { fd.callLog = cl }

func (fd *FrontDoor) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (fd *FrontDoor) handleReadyz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":   "ok",
		"sessions": fd.registry.Len(),
	})
}

// handleCalls lists the most recent completed calls from the call record
// store.
func (fd *FrontDoor) handleCalls(w http.ResponseWriter, r *http.Request) {
	if fd.callLog == nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	records, err := fd.callLog.Recent(r.Context(), limit)
	if err != nil {
		log.Printf("recent calls query failed: %v", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"calls": records})
}

// handleCall attaches a telephony media stream. Optional query parameters:
// sessionId ties the stream to an existing session, direction and to record
// call metadata, config carries a base64 JSON session configuration blob.
func (fd *FrontDoor) handleCall(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("sessionId")
	direction := r.URL.Query().Get("direction")
	counterpart := r.URL.Query().Get("to")
	settings, ok := decodeConfigBlob(r.URL.Query().Get("config"))

	ws, err := fd.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("call upgrade failed: %v", err)
		return
	}
	conn := newWSConn(ws)

	s := fd.registry.GetOrCreate(sessionID)
	s.setCallInfo(direction, counterpart)
	if ok {
		s.applySettings(settings)
	}
	if prev := s.attach(RoleTelephony, conn); prev != nil {
		_ = prev.Close()
		if prev == conn {
			// Session was already destroyed; nothing to serve.
			return
		}
		log.Printf("session %s: telephony connection superseded", s.ID)
	}
	log.Printf("session %s: telephony attached", s.ID)

	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			break
		}
		fd.bridge.metrics.RelayFrames.WithLabelValues(string(RoleTelephony), "in").Inc()
		fd.bridge.HandleTelephonyMessage(s, raw)
	}
	fd.bridge.TelephonyClosed(s, conn)
}

// handleLogs attaches an operator monitor. When a monitor auth token is
// configured the endpoint runs hardened: connections without the token are
// rejected before the upgrade.
func (fd *FrontDoor) handleLogs(w http.ResponseWriter, r *http.Request) {
	if fd.cfg.MonitorAuthToken != "" && r.URL.Query().Get("token") != fd.cfg.MonitorAuthToken {
		w.WriteHeader(http.StatusForbidden)
		return
	}
	sessionID := r.URL.Query().Get("sessionId")

	ws, err := fd.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("logs upgrade failed: %v", err)
		return
	}
	conn := newWSConn(ws)

	// Monitors may connect before the call arrives; pre-warm the session so
	// early operator settings survive until the telephony leg attaches.
	s := fd.registry.GetOrCreate(sessionID)
	if prev := s.attach(RoleMonitor, conn); prev != nil {
		_ = prev.Close()
		if prev == conn {
			return
		}
	}
	log.Printf("session %s: monitor attached", s.ID)

	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			break
		}
		fd.bridge.metrics.RelayFrames.WithLabelValues(string(RoleMonitor), "in").Inc()
		fd.bridge.HandleMonitorMessage(s, raw)
	}
	fd.bridge.MonitorClosed(s, conn)
}

// decodeConfigBlob parses the base64 JSON settings blob from /call. A
// malformed blob is logged and ignored; it never rejects the call.
func decodeConfigBlob(blob string) (protocol.SessionConfig, bool) {
	if blob == "" {
		return protocol.SessionConfig{}, false
	}
	data, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		data, err = base64.URLEncoding.DecodeString(blob)
	}
	if err != nil {
		log.Printf("config blob: bad base64, ignoring: %v", err)
		return protocol.SessionConfig{}, false
	}
	var cfg protocol.SessionConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		log.Printf("config blob: bad json, ignoring: %v", err)
		return protocol.SessionConfig{}, false
	}
	return cfg, true
}
