package bridge

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/antoniostano/switchboard/internal/audio"
	"github.com/antoniostano/switchboard/internal/config"
	"github.com/antoniostano/switchboard/internal/observability"
	"github.com/antoniostano/switchboard/internal/policy"
	"github.com/antoniostano/switchboard/internal/protocol"
	"github.com/antoniostano/switchboard/internal/reliability"
	"github.com/antoniostano/switchboard/internal/tools"
)

const assistantMarkName = "assistant-chunk"

// Bridge is the per-call state machine. One instance serves every session;
// per-session serialization comes from the session mutex, not from dedicated
// goroutines.
type Bridge struct {
	cfg      config.Config
	registry *Registry
	tools    *tools.Registry
	metrics  *observability.Metrics

	// dialModel starts the model leg for a session. Overridable in tests.
	dialModel func(s *Session)
}

func New(cfg config.Config, registry *Registry, toolReg *tools.Registry, metrics *observability.Metrics) *Bridge {
	b := &Bridge{
		cfg:      cfg,
		registry: registry,
		tools:    toolReg,
		metrics:  metrics,
	}
	b.dialModel = b.connectModel
	registry.SetExpireHook(func(s *Session) {
		b.notifyMonitor(s, "call.expired", "absolute session lifetime reached")
	})
	return b
}

// --- telephony leg ---

// HandleTelephonyMessage processes one frame from the telephony media
// stream. Malformed frames are dropped; they never change session state.
func (b *Bridge) HandleTelephonyMessage(s *Session, raw []byte) {
	frame, err := protocol.ParseTelephonyFrame(raw)
	if err != nil {
		b.metrics.DroppedFrames.WithLabelValues(string(RoleTelephony)).Inc()
		return
	}

	switch frame.Event {
	case protocol.TelephonyEventStart:
		b.handleTelephonyStart(s, frame)
	case protocol.TelephonyEventMedia:
		b.handleTelephonyMedia(s, frame)
	case protocol.TelephonyEventClose, protocol.TelephonyEventStop:
		log.Printf("session %s: telephony close event", s.ID)
		b.notifyMonitor(s, "call.ended", "telephony peer closed the stream")
		b.registry.Destroy(s.ID)
	case protocol.TelephonyEventConnected, protocol.TelephonyEventMark:
		// Handshake chatter and playback acknowledgements need no action.
	default:
		b.metrics.DroppedFrames.WithLabelValues(string(RoleTelephony)).Inc()
	}
}

func (b *Bridge) handleTelephonyStart(s *Session, frame protocol.TelephonyFrame) {
	sid := frame.StreamSid
	if frame.Start != nil && frame.Start.StreamSid != "" {
		sid = frame.Start.StreamSid
	}

	s.mu.Lock()
	s.streamSid = sid
	s.lastItemID = ""
	s.responseStart = -1
	s.latestMediaMS = 0
	if s.state == StateTelephonyAttached || s.state == StateEmpty {
		s.state = StateStreaming
	}
	needModel := s.model == nil && s.state != StateModelConnecting
	if needModel {
		s.state = StateModelConnecting
	}
	s.mu.Unlock()

	b.metrics.SessionEvents.WithLabelValues("stream_started").Inc()
	b.notifyMonitor(s, "call.streaming", "media stream started, sid "+sid)
	if needModel {
		go b.dialModel(s)
	}
}

func (b *Bridge) handleTelephonyMedia(s *Session, frame protocol.TelephonyFrame) {
	if frame.Media == nil {
		b.metrics.DroppedFrames.WithLabelValues(string(RoleTelephony)).Inc()
		return
	}

	s.mu.Lock()
	s.latestMediaMS = frame.Media.TimestampMS()
	model := s.model
	s.mu.Unlock()
	if model == nil {
		return
	}

	payload := frame.Media.Payload
	if b.cfg.ModelAudioFormat == config.ModelAudioPCM16 {
		converted, ok := b.transcodeInbound(payload)
		if !ok {
			b.metrics.DroppedFrames.WithLabelValues(string(RoleTelephony)).Inc()
			return
		}
		payload = converted
	}
	if err := model.WriteJSON(protocol.NewAudioAppend(payload)); err == nil {
		b.metrics.RelayFrames.WithLabelValues(string(RoleModel), "out").Inc()
	}
}

// TelephonyClosed tears the whole session down, unless conn was already
// superseded by a newer telephony connection.
func (b *Bridge) TelephonyClosed(s *Session, conn Conn) {
	if !s.holds(RoleTelephony, conn) {
		_ = conn.Close()
		return
	}
	log.Printf("session %s: telephony socket closed", s.ID)
	b.notifyMonitor(s, "call.ended", "telephony socket closed")
	b.registry.Destroy(s.ID)
}

// --- model leg ---

// HandleModelEvent processes one event from the model peer. Every parseable
// event is mirrored to the monitor before type-specific handling.
func (b *Bridge) HandleModelEvent(s *Session, raw []byte) {
	ev, err := protocol.ParseRealtimeEvent(raw)
	if err != nil {
		b.metrics.DroppedFrames.WithLabelValues(string(RoleModel)).Inc()
		return
	}
	b.metrics.ModelEvents.WithLabelValues(ev.Type).Inc()
	b.mirrorToMonitor(s, raw, ev)

	switch ev.Type {
	case protocol.RealtimeSpeechStarted:
		b.handleBargeIn(s)
	case protocol.RealtimeResponseAudioDelta:
		b.handleAudioDelta(s, ev)
	case protocol.RealtimeTranscriptionCompleted:
		s.appendTranscript("caller", strings.TrimSpace(ev.Transcript))
	case protocol.RealtimeResponseOutputItemDone:
		b.handleOutputItemDone(s, ev)
	case protocol.RealtimeError:
		// Vendor errors are surfaced to the monitor only; the model leg may
		// recover or close on its own.
		if ev.Error != nil {
			if reliability.IsRetryableModelErrorCode(ev.Error.Code) {
				log.Printf("session %s: transient model error %s: %s", s.ID, ev.Error.Code, ev.Error.Message)
			} else {
				log.Printf("session %s: model error %s: %s", s.ID, ev.Error.Code, ev.Error.Message)
			}
		}
	}
}

// handleBargeIn truncates the in-flight assistant response when the caller
// starts talking over it. No-op when nothing is playing.
func (b *Bridge) handleBargeIn(s *Session) {
	s.mu.Lock()
	if s.lastItemID == "" {
		s.mu.Unlock()
		return
	}
	itemID := s.lastItemID
	elapsed := s.latestMediaMS - s.responseStart
	streamSid := s.streamSid
	model := s.model
	telephony := s.telephony
	s.lastItemID = ""
	s.responseStart = -1
	s.interruptions++
	s.mu.Unlock()

	if elapsed > 0 && model != nil {
		_ = model.WriteJSON(protocol.NewItemTruncate(itemID, elapsed))
	}
	if telephony != nil {
		_ = telephony.WriteJSON(protocol.ClearFrame(streamSid))
	}
	b.metrics.BargeIns.Inc()
}

func (b *Bridge) handleAudioDelta(s *Session, ev protocol.RealtimeEvent) {
	s.mu.Lock()
	if ev.ItemID != "" {
		if s.responseStart < 0 {
			s.responseStart = s.latestMediaMS
		}
		s.lastItemID = ev.ItemID
	}
	streamSid := s.streamSid
	telephony := s.telephony
	s.mu.Unlock()
	if telephony == nil || streamSid == "" {
		return
	}

	payload := ev.Delta
	if b.cfg.ModelAudioFormat == config.ModelAudioPCM16 {
		converted, ok := b.transcodeOutbound(payload)
		if !ok {
			b.metrics.DroppedFrames.WithLabelValues(string(RoleModel)).Inc()
			return
		}
		payload = converted
	}

	// The mark must follow its media frame back-to-back so the telephony
	// peer can report playback completion for truncation math.
	if err := telephony.WriteJSON(protocol.MediaFrame(streamSid, payload)); err != nil {
		return
	}
	_ = telephony.WriteJSON(protocol.MarkFrame(streamSid, assistantMarkName))
	b.metrics.RelayFrames.WithLabelValues(string(RoleTelephony), "out").Inc()
}

func (b *Bridge) handleOutputItemDone(s *Session, ev protocol.RealtimeEvent) {
	if ev.Item == nil {
		return
	}
	switch {
	case ev.Item.Type == "function_call":
		go b.dispatchFunctionCall(s, ev.Item.Name, ev.Item.CallID, ev.Item.Arguments)
	case ev.Item.Role == "assistant":
		for _, c := range ev.Item.Content {
			if text := strings.TrimSpace(c.Transcript); text != "" {
				s.appendTranscript("assistant", text)
			}
		}
	}
}

// dispatchFunctionCall runs on its own goroutine so a slow handler never
// stalls audio relay. The result is injected back into the model stream.
func (b *Bridge) dispatchFunctionCall(s *Session, name, callID, argumentsJSON string) {
	result := b.tools.Dispatch(context.Background(), name, argumentsJSON)

	outcome := "ok"
	if strings.Contains(result, `"error"`) {
		outcome = "error"
	}
	b.metrics.ToolDispatches.WithLabelValues(outcome).Inc()

	s.mu.Lock()
	model := s.model
	s.mu.Unlock()
	if model == nil {
		return
	}
	if err := model.WriteJSON(protocol.NewFunctionCallOutput(callID, result)); err != nil {
		return
	}
	_ = model.WriteJSON(protocol.NewResponseCreate())
}

// ModelClosed detaches the model leg only. The session survives while the
// telephony or monitor peer remains.
func (b *Bridge) ModelClosed(s *Session, conn Conn) {
	if !s.detachIf(RoleModel, conn) {
		_ = conn.Close()
		return
	}
	_ = conn.Close()
	s.mu.Lock()
	if s.state == StateModelActive || s.state == StateModelConnecting {
		s.state = StateStreaming
	}
	s.mu.Unlock()
	log.Printf("session %s: model socket closed", s.ID)
	b.notifyMonitor(s, "model.disconnected", "model socket closed")
	b.registry.destroyIfAbandoned(s)
}

// attachModel installs the model connection and pushes the initial
// configuration: audio formats for both directions, turn detection, the
// enforced instruction text, and the tool catalogue.
func (b *Bridge) attachModel(s *Session, conn Conn) {
	if prev := s.attach(RoleModel, conn); prev != nil {
		_ = prev.Close()
	}

	s.mu.Lock()
	settings := s.settings
	direction := s.direction
	s.state = StateModelActive
	s.mu.Unlock()

	update := protocol.NewSessionUpdate(b.buildSessionConfig(settings))
	if err := conn.WriteJSON(update); err != nil {
		log.Printf("session %s: initial session.update failed: %v", s.ID, err)
		return
	}

	// Inbound calls may open with an immediate assistant turn; outbound
	// calls never do, the model acts strictly on its instructions.
	if direction == DirectionInbound && b.cfg.InboundAutoGreet {
		_ = conn.WriteJSON(protocol.NewResponseCreate())
	}

	b.metrics.SessionEvents.WithLabelValues("model_connected").Inc()
	b.notifyMonitor(s, "model.connected", "model session configured")
}

// buildSessionConfig merges operator-saved settings over bridge defaults.
// Instructions always pass through enforcement; raw operator text never
// reaches the model.
func (b *Bridge) buildSessionConfig(settings protocol.SessionConfig) protocol.SessionConfig {
	out := protocol.SessionConfig{
		Modalities:              []string{"text", "audio"},
		Voice:                   b.cfg.DefaultVoice,
		InputAudioFormat:        b.cfg.ModelAudioFormat,
		OutputAudioFormat:       b.cfg.ModelAudioFormat,
		InputAudioTranscription: &protocol.AudioTranscription{Model: "whisper-1"},
		TurnDetection: &protocol.TurnDetection{
			Type:              "server_vad",
			Threshold:         b.cfg.TurnDetectionThreshold,
			PrefixPaddingMS:   b.cfg.TurnDetectionPrefixMS,
			SilenceDurationMS: b.cfg.TurnDetectionSilenceMS,
		},
		ToolChoice:  "auto",
		Temperature: b.cfg.Temperature,
	}
	if b.cfg.MaxResponseTokens > 0 {
		out.MaxResponseOutputTokens = b.cfg.MaxResponseTokens
	}
	if settings.Voice != "" {
		out.Voice = settings.Voice
	}
	if settings.Temperature != 0 {
		out.Temperature = settings.Temperature
	}
	if settings.MaxResponseOutputTokens != nil {
		out.MaxResponseOutputTokens = settings.MaxResponseOutputTokens
	}
	if settings.TurnDetection != nil {
		out.TurnDetection = settings.TurnDetection
	}

	instructions := settings.Instructions
	if instructions == "" {
		instructions = b.cfg.DefaultInstructions
	}
	out.Instructions = policy.EnforceInstructions(instructions)

	out.Tools = b.tools.Catalogue()
	out.Tools = append(out.Tools, settings.Tools...)
	return out
}

// --- monitor leg ---

// Monitor message types the bridge forwards to the model unmodified.
var monitorPassthrough = map[string]bool{
	protocol.RealtimeResponseCreate:   true,
	protocol.RealtimeItemCreate:       true,
	protocol.RealtimeInputAudioClear:  true,
	protocol.RealtimeInputAudioCommit: true,
}

// HandleMonitorMessage processes one operator control message.
func (b *Bridge) HandleMonitorMessage(s *Session, raw []byte) {
	var envelope struct {
		Type    string                  `json:"type"`
		Session *protocol.SessionConfig `json:"session"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil || envelope.Type == "" {
		b.metrics.DroppedFrames.WithLabelValues(string(RoleMonitor)).Inc()
		return
	}

	switch {
	case envelope.Type == protocol.RealtimeSessionUpdate:
		if envelope.Session == nil {
			b.metrics.DroppedFrames.WithLabelValues(string(RoleMonitor)).Inc()
			return
		}
		b.applyMonitorSessionUpdate(s, raw, *envelope.Session)
	case monitorPassthrough[envelope.Type]:
		s.mu.Lock()
		model := s.model
		s.mu.Unlock()
		if model == nil {
			return
		}
		if err := model.WriteJSON(json.RawMessage(raw)); err == nil {
			b.metrics.RelayFrames.WithLabelValues(string(RoleModel), "out").Inc()
		}
	default:
		b.metrics.DroppedFrames.WithLabelValues(string(RoleMonitor)).Inc()
	}
}

// applyMonitorSessionUpdate replaces the saved configuration. When the
// instructions changed, enforcement is re-applied in full before the update
// reaches the model; otherwise the operator's message is forwarded verbatim.
func (b *Bridge) applyMonitorSessionUpdate(s *Session, raw []byte, incoming protocol.SessionConfig) {
	s.mu.Lock()
	previous := s.settings.Instructions
	s.settings = incoming
	model := s.model
	s.mu.Unlock()

	b.metrics.SessionEvents.WithLabelValues("settings_updated").Inc()
	if model == nil {
		return
	}

	if incoming.Instructions != "" && incoming.Instructions != previous {
		enforced := incoming
		enforced.Instructions = policy.EnforceInstructions(incoming.Instructions)
		_ = model.WriteJSON(protocol.NewSessionUpdate(enforced))
		return
	}
	_ = model.WriteJSON(json.RawMessage(raw))
}

// MonitorClosed detaches the monitor leg; the session is destroyed only if
// no other peer remains.
func (b *Bridge) MonitorClosed(s *Session, conn Conn) {
	if !s.detachIf(RoleMonitor, conn) {
		_ = conn.Close()
		return
	}
	_ = conn.Close()
	b.registry.destroyIfAbandoned(s)
}

// mirrorToMonitor tees a model event to the monitor, enriched with receipt
// metadata and a compact summary so observers can follow session activity
// without replaying audio payloads.
func (b *Bridge) mirrorToMonitor(s *Session, raw []byte, ev protocol.RealtimeEvent) {
	s.mu.Lock()
	monitor := s.monitor
	s.mu.Unlock()
	if monitor == nil {
		return
	}

	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return
	}
	payload["_metadata"] = map[string]any{
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		"sessionId": s.ID,
		"eventType": ev.Type,
		"summary":   summarizeEvent(ev),
	}
	if err := monitor.WriteJSON(payload); err == nil {
		b.metrics.RelayFrames.WithLabelValues(string(RoleMonitor), "out").Inc()
	}
}

// notifyMonitor emits a bridge lifecycle event on the monitor channel.
func (b *Bridge) notifyMonitor(s *Session, code, detail string) {
	s.mu.Lock()
	monitor := s.monitor
	s.mu.Unlock()
	if monitor == nil {
		return
	}
	_ = monitor.WriteJSON(map[string]any{
		"type":   "bridge.lifecycle",
		"code":   code,
		"detail": detail,
		"_metadata": map[string]any{
			"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
			"sessionId": s.ID,
			"eventType": "bridge.lifecycle",
			"summary":   code,
		},
	})
}

func summarizeEvent(ev protocol.RealtimeEvent) string {
	parts := []string{ev.Type}
	if ev.Item != nil && ev.Item.Type != "" {
		parts = append(parts, "item="+ev.Item.Type)
	}
	if ev.Delta != "" {
		parts = append(parts, "delta_len="+strconv.Itoa(len(ev.Delta)))
	}
	if ev.Error != nil {
		parts = append(parts, "error="+ev.Error.Code+":"+ev.Error.Message)
	}
	return strings.Join(parts, " ")
}

// --- audio transcode helpers ---

// transcodeInbound turns an 8 kHz μ-law telephony frame into the 24 kHz
// PCM16 the model's pcm16 format expects.
func (b *Bridge) transcodeInbound(payloadB64 string) (string, bool) {
	mulaw, err := base64.StdEncoding.DecodeString(payloadB64)
	if err != nil {
		return "", false
	}
	pcm := audio.ResamplePCM16(audio.MuLawToPCM16(mulaw), audio.TelephonyRate, audio.ModelPCMRate)
	return base64.StdEncoding.EncodeToString(pcm), true
}

// transcodeOutbound turns a 24 kHz PCM16 model frame into the 8 kHz μ-law
// the telephony leg plays.
func (b *Bridge) transcodeOutbound(payloadB64 string) (string, bool) {
	pcm, err := base64.StdEncoding.DecodeString(payloadB64)
	if err != nil {
		return "", false
	}
	pcm = audio.ResamplePCM16(pcm, audio.ModelPCMRate, audio.TelephonyRate)
	return base64.StdEncoding.EncodeToString(audio.PCM16ToMuLaw(pcm)), true
}
