package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Telephony media stream event names. The platform emits start/media/close on
// the inbound side; the bridge sends media/mark/clear back.
const (
	TelephonyEventConnected = "connected"
	TelephonyEventStart     = "start"
	TelephonyEventMedia     = "media"
	TelephonyEventMark      = "mark"
	TelephonyEventClear     = "clear"
	TelephonyEventClose     = "close"
	TelephonyEventStop      = "stop"
)

// TelephonyFrame is one JSON frame on the telephony media stream, in either
// direction.
type TelephonyFrame struct {
	Event     string          `json:"event"`
	StreamSid string          `json:"streamSid,omitempty"`
	Start     *TelephonyStart `json:"start,omitempty"`
	Media     *TelephonyMedia `json:"media,omitempty"`
	Mark      *TelephonyMark  `json:"mark,omitempty"`
}

// TelephonyStart carries the stream correlation token tying media frames to
// one call leg.
type TelephonyStart struct {
	StreamSid string `json:"streamSid"`
	CallSid   string `json:"callSid,omitempty"`
}

type TelephonyMedia struct {
	Payload   string     `json:"payload"`
	Timestamp mediaClock `json:"timestamp,omitempty"`
}

type TelephonyMark struct {
	Name string `json:"name"`
}

// mediaClock is the telephony platform's media clock in milliseconds. The
// platform serializes it as a JSON string; test fixtures use bare numbers.
// Both are accepted.
type mediaClock int64

func (c *mediaClock) UnmarshalJSON(data []byte) error {
	data = bytes.Trim(data, `"`)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*c = 0
		return nil
	}
	v, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return fmt.Errorf("media timestamp: %w", err)
	}
	*c = mediaClock(v)
	return nil
}

func (c mediaClock) MarshalJSON() ([]byte, error) {
	return []byte(strconv.FormatInt(int64(c), 10)), nil
}

// TimestampMS returns the frame's media clock value in milliseconds.
func (m *TelephonyMedia) TimestampMS() int64 {
	if m == nil {
		return 0
	}
	return int64(m.Timestamp)
}

// ParseTelephonyFrame decodes one inbound telephony frame.
func ParseTelephonyFrame(raw []byte) (TelephonyFrame, error) {
	var f TelephonyFrame
	if err := json.Unmarshal(raw, &f); err != nil {
		return TelephonyFrame{}, fmt.Errorf("invalid telephony frame: %w", err)
	}
	if f.Event == "" {
		return TelephonyFrame{}, fmt.Errorf("telephony frame missing event")
	}
	return f, nil
}

// MediaFrame builds an outbound audio frame for the telephony peer.
func MediaFrame(streamSid, payload string) TelephonyFrame {
	return TelephonyFrame{
		Event:     TelephonyEventMedia,
		StreamSid: streamSid,
		Media:     &TelephonyMedia{Payload: payload},
	}
}

// MarkFrame builds a playback mark; the telephony peer echoes it back when
// the preceding media frame has finished playing.
func MarkFrame(streamSid, name string) TelephonyFrame {
	return TelephonyFrame{
		Event:     TelephonyEventMark,
		StreamSid: streamSid,
		Mark:      &TelephonyMark{Name: name},
	}
}

// ClearFrame tells the telephony peer to flush queued, unplayed audio.
func ClearFrame(streamSid string) TelephonyFrame {
	return TelephonyFrame{
		Event:     TelephonyEventClear,
		StreamSid: streamSid,
	}
}
