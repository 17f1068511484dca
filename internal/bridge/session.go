// Package bridge holds the call session bridge: the registry of live call
// sessions, the per-call state machine relaying audio between the telephony
// and model peers, and the front door that attaches inbound connections.
package bridge

import (
	"sync"
	"time"

	"github.com/antoniostano/switchboard/internal/protocol"
)

// State of one call session.
type State string

const (
	StateEmpty             State = "EMPTY"
	StateTelephonyAttached State = "TELEPHONY_ATTACHED"
	StateStreaming         State = "STREAMING"
	StateModelConnecting   State = "MODEL_CONNECTING"
	StateModelActive       State = "MODEL_ACTIVE"
	StateTerminated        State = "TERMINATED"
)

// Role tags one of the three peer connections a session can hold.
type Role string

const (
	RoleTelephony Role = "telephony"
	RoleModel     Role = "model"
	RoleMonitor   Role = "monitor"
)

// Directions of a call.
const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

// Conn is an attached duplex peer channel. Implementations must be safe for
// concurrent writers.
type Conn interface {
	WriteJSON(v any) error
	Close() error
}

// TranscriptEntry is an immutable, append-only transcript record.
type TranscriptEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Role      string    `json:"role"`
	Text      string    `json:"text"`
}

// Session is the full bridge state for one phone call. It is owned by the
// Registry; peer handlers hold references only. All mutation goes through
// the session mutex via the accessors below, which serializes state changes
// per session while leaving independent sessions concurrent.
type Session struct {
	ID string

	mu            sync.Mutex
	state         State
	createdAt     time.Time
	direction     string
	counterpart   string
	settings      protocol.SessionConfig
	streamSid     string
	lastItemID    string
	responseStart int64 // telephony media clock at first delta; -1 when unset
	latestMediaMS int64
	transcript    []TranscriptEntry
	interruptions int

	telephony Conn
	model     Conn
	monitor   Conn

	expire    *time.Timer
	destroyed bool
}

func newSession(id string) *Session {
	return &Session{
		ID:            id,
		state:         StateEmpty,
		createdAt:     time.Now().UTC(),
		direction:     DirectionInbound,
		responseStart: -1,
	}
}

// attach installs conn in the slot for role and returns the superseded
// connection, if any. The caller closes the superseded connection outside
// the session lock.
func (s *Session) attach(role Role, conn Conn) (prev Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		return conn // session already gone; hand it back for closing
	}
	switch role {
	case RoleTelephony:
		prev, s.telephony = s.telephony, conn
		if s.state == StateEmpty {
			s.state = StateTelephonyAttached
		}
	case RoleModel:
		prev, s.model = s.model, conn
	case RoleMonitor:
		prev, s.monitor = s.monitor, conn
	}
	return prev
}

// detachIf clears the slot for role only when conn is still the attached
// connection, so a superseded connection's read loop cannot detach its
// replacement. Reports whether the slot was cleared.
func (s *Session) detachIf(role Role, conn Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch role {
	case RoleTelephony:
		if s.telephony == conn {
			s.telephony = nil
			return true
		}
	case RoleModel:
		if s.model == conn {
			s.model = nil
			return true
		}
	case RoleMonitor:
		if s.monitor == conn {
			s.monitor = nil
			return true
		}
	}
	return false
}

func (s *Session) holds(role Role, conn Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch role {
	case RoleTelephony:
		return s.telephony == conn
	case RoleModel:
		return s.model == conn
	case RoleMonitor:
		return s.monitor == conn
	}
	return false
}

func (s *Session) peerless() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.telephony == nil && s.model == nil && s.monitor == nil
}

// State returns the session's current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Transcript returns a copy of the accumulated transcript.
func (s *Session) Transcript() []TranscriptEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]TranscriptEntry, len(s.transcript))
	copy(out, s.transcript)
	return out
}

func (s *Session) appendTranscript(role, text string) {
	if text == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transcript = append(s.transcript, TranscriptEntry{
		Timestamp: time.Now().UTC(),
		Role:      role,
		Text:      text,
	})
}

func (s *Session) applySettings(cfg protocol.SessionConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings = cfg
}

func (s *Session) setCallInfo(direction, counterpart string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if direction == DirectionOutbound {
		s.direction = DirectionOutbound
	} else {
		s.direction = DirectionInbound
	}
	if counterpart != "" {
		s.counterpart = counterpart
	}
}

// teardown marks the session destroyed and returns every connection that
// still needs closing. Idempotent: the second caller gets nothing to close.
func (s *Session) teardown() (conns []Conn, summary CallSummary, first bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		return nil, CallSummary{}, false
	}
	s.destroyed = true
	s.state = StateTerminated
	if s.expire != nil {
		s.expire.Stop()
	}
	for _, c := range []Conn{s.telephony, s.model, s.monitor} {
		if c != nil {
			conns = append(conns, c)
		}
	}
	s.telephony, s.model, s.monitor = nil, nil, nil
	summary = CallSummary{
		SessionID:         s.ID,
		Direction:         s.direction,
		Counterpart:       s.counterpart,
		StartedAt:         s.createdAt,
		EndedAt:           time.Now().UTC(),
		TranscriptEntries: len(s.transcript),
		Interruptions:     s.interruptions,
	}
	return conns, summary, true
}
