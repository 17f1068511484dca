package bridge

import (
	"log"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"

	"github.com/antoniostano/switchboard/internal/reliability"
)

const (
	modelHandshakeTimeout = 10 * time.Second
	modelDialAttempts     = 3
	modelDialBackoffBase  = 500 * time.Millisecond
	modelDialBackoffCap   = 5 * time.Second
)

// connectModel dials the realtime model endpoint and runs the read loop for
// the session's model leg. Runs on its own goroutine. Transient handshake
// failures are retried with capped backoff; a non-retryable status or
// exhausted attempts leave the session streaming without a model peer.
func (b *Bridge) connectModel(s *Session) {
	endpoint, err := url.Parse(b.cfg.RealtimeBaseURL)
	if err != nil {
		log.Printf("session %s: bad realtime base url: %v", s.ID, err)
		b.modelDialFailed(s)
		return
	}
	q := endpoint.Query()
	q.Set("model", b.cfg.RealtimeModel)
	endpoint.RawQuery = q.Encode()

	dialer := websocket.Dialer{HandshakeTimeout: modelHandshakeTimeout}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+b.cfg.OpenAIAPIKey)
	header.Set("OpenAI-Beta", "realtime=v1")

	var ws *websocket.Conn
	for attempt := 0; attempt < modelDialAttempts; attempt++ {
		var resp *http.Response
		ws, resp, err = dialer.Dial(endpoint.String(), header)
		if err == nil {
			break
		}
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		log.Printf("session %s: model dial attempt %d failed (status %d): %v", s.ID, attempt+1, status, err)
		if !reliability.IsRetryableHTTPStatus(status) {
			break
		}
		time.Sleep(reliability.ExponentialBackoff(attempt, modelDialBackoffBase, modelDialBackoffCap))
	}
	if err != nil {
		b.modelDialFailed(s)
		return
	}

	conn := newWSConn(ws)
	b.attachModel(s, conn)

	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			break
		}
		b.metrics.RelayFrames.WithLabelValues(string(RoleModel), "in").Inc()
		b.HandleModelEvent(s, raw)
	}
	b.ModelClosed(s, conn)
}

func (b *Bridge) modelDialFailed(s *Session) {
	s.mu.Lock()
	if s.state == StateModelConnecting {
		s.state = StateStreaming
	}
	s.mu.Unlock()
	b.metrics.SessionEvents.WithLabelValues("model_dial_failed").Inc()
	b.notifyMonitor(s, "model.dial_failed", "could not reach the model endpoint")
}
