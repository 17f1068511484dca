package protocol

import (
	"encoding/json"
	"testing"
)

func TestParseRealtimeAudioDelta(t *testing.T) {
	raw := []byte(`{"type":"response.audio.delta","item_id":"IT1","delta":"QUJD"}`)
	ev, err := ParseRealtimeEvent(raw)
	if err != nil {
		t.Fatalf("ParseRealtimeEvent() error = %v", err)
	}
	if ev.Type != RealtimeResponseAudioDelta || ev.ItemID != "IT1" || ev.Delta != "QUJD" {
		t.Fatalf("unexpected event: %+v", ev)
	}
}

func TestParseRealtimeFunctionCallItem(t *testing.T) {
	raw := []byte(`{"type":"response.output_item.done","item":{"type":"function_call","name":"lookup","call_id":"call_1","arguments":"{\"q\":\"x\"}"}}`)
	ev, err := ParseRealtimeEvent(raw)
	if err != nil {
		t.Fatalf("ParseRealtimeEvent() error = %v", err)
	}
	if ev.Item == nil || ev.Item.Type != "function_call" {
		t.Fatalf("Item = %+v, want function_call", ev.Item)
	}
	if ev.Item.Name != "lookup" || ev.Item.CallID != "call_1" {
		t.Fatalf("unexpected function call fields: %+v", ev.Item)
	}
}

func TestParseRealtimeRejectsGarbage(t *testing.T) {
	if _, err := ParseRealtimeEvent([]byte(`not json`)); err == nil {
		t.Fatalf("garbage should not parse")
	}
	if _, err := ParseRealtimeEvent([]byte(`{"delta":"x"}`)); err == nil {
		t.Fatalf("event without type should not parse")
	}
}

func TestTruncateInstructionShape(t *testing.T) {
	raw, _ := json.Marshal(NewItemTruncate("IT1", 250))
	want := `{"type":"conversation.item.truncate","item_id":"IT1","content_index":0,"audio_end_ms":250}`
	if string(raw) != want {
		t.Fatalf("truncate = %s, want %s", raw, want)
	}
}

func TestFunctionCallOutputShape(t *testing.T) {
	raw, _ := json.Marshal(NewFunctionCallOutput("call_1", `{"ok":true}`))
	var decoded ItemCreateMsg
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("round trip failed: %v", err)
	}
	if decoded.Type != RealtimeItemCreate {
		t.Fatalf("Type = %q, want %q", decoded.Type, RealtimeItemCreate)
	}
	if decoded.Item.Type != "function_call_output" || decoded.Item.CallID != "call_1" {
		t.Fatalf("unexpected item: %+v", decoded.Item)
	}
	if decoded.Item.Output != `{"ok":true}` {
		t.Fatalf("Output = %q", decoded.Item.Output)
	}
}

func TestSessionConfigBlobDecode(t *testing.T) {
	blob := []byte(`{"voice":"verse","temperature":0.7,"instructions":"Book tables.","turn_detection":{"type":"server_vad","silence_duration_ms":700}}`)
	var cfg SessionConfig
	if err := json.Unmarshal(blob, &cfg); err != nil {
		t.Fatalf("decode blob: %v", err)
	}
	if cfg.Voice != "verse" || cfg.Temperature != 0.7 {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.TurnDetection == nil || cfg.TurnDetection.SilenceDurationMS != 700 {
		t.Fatalf("turn detection not decoded: %+v", cfg.TurnDetection)
	}
}
