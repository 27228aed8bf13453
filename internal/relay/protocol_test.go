package relay

import (
	"encoding/json"
	"testing"
)

func TestDecodeFrameAuth(t *testing.T) {
	raw := `{"type":"auth","secret":"s3cret","username":"alice","status":"busy","claude_whitelist":["bob"]}`
	frame, frameType, err := DecodeFrame([]byte(raw))
	if err != nil {
		t.Fatalf("DecodeFrame: %v", err)
	}
	if frameType != TypeAuth {
		t.Errorf("type = %q, want auth", frameType)
	}
	f, ok := frame.(*AuthFrame)
	if !ok {
		t.Fatalf("frame is %T, want *AuthFrame", frame)
	}
	if f.Secret != "s3cret" || f.Username != "alice" || f.Status != "busy" {
		t.Errorf("unexpected fields: %+v", f)
	}
	if len(f.ClaudeWhitelist) != 1 || f.ClaudeWhitelist[0] != "bob" {
		t.Errorf("whitelist = %v", f.ClaudeWhitelist)
	}
}

func TestDecodeFrameSend(t *testing.T) {
	raw := `{"type":"send","to":"bob","text":"hi","priority":"high","msg_id":"msg-20260825-101500-alice","thread":"thread-x","reply_to":"msg-0"}`
	frame, _, err := DecodeFrame([]byte(raw))
	if err != nil {
		t.Fatalf("DecodeFrame: %v", err)
	}
	f, ok := frame.(*SendFrame)
	if !ok {
		t.Fatalf("frame is %T, want *SendFrame", frame)
	}
	if f.To != "bob" || f.Text != "hi" || f.Priority != "high" {
		t.Errorf("unexpected fields: %+v", f)
	}
	if f.Thread != "thread-x" || f.ReplyTo != "msg-0" {
		t.Errorf("thread/reply_to = %q/%q", f.Thread, f.ReplyTo)
	}
}

func TestDecodeFrameBareTypes(t *testing.T) {
	for _, typ := range []string{TypePing, TypePresenceReq} {
		frame, frameType, err := DecodeFrame([]byte(`{"type":"` + typ + `"}`))
		if err != nil {
			t.Fatalf("DecodeFrame(%s): %v", typ, err)
		}
		if frameType != typ || frame == nil {
			t.Errorf("DecodeFrame(%s) = (%v, %q)", typ, frame, frameType)
		}
	}
}

func TestDecodeFrameUnknownType(t *testing.T) {
	frame, frameType, err := DecodeFrame([]byte(`{"type":"teleport","to":"mars"}`))
	if err != nil {
		t.Fatalf("unknown type must not error: %v", err)
	}
	if frame != nil {
		t.Errorf("frame = %v, want nil for unknown type", frame)
	}
	if frameType != "teleport" {
		t.Errorf("type = %q, want teleport", frameType)
	}
}

func TestDecodeFrameBadJSON(t *testing.T) {
	if _, _, err := DecodeFrame([]byte(`{nope`)); err == nil {
		t.Error("expected error for malformed JSON")
	}
}

func TestServerFrameRoundTrip(t *testing.T) {
	out := MessageFrame{
		Type:      TypeMessage,
		From:      "alice",
		Text:      "hello",
		Priority:  "high",
		MsgID:     "msg-20260825-101500-alice",
		Timestamp: "2026-08-25 10:15",
		Thread:    "thread-a",
		ReplyTo:   "msg-0",
		AutoReply: true,
	}
	data, err := json.Marshal(out)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var in ServerFrame
	if err := json.Unmarshal(data, &in); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if in.Type != TypeMessage || in.From != "alice" || in.Text != "hello" {
		t.Errorf("round trip lost fields: %+v", in)
	}
	if in.MsgID != out.MsgID || in.Thread != out.Thread || in.ReplyTo != out.ReplyTo || !in.AutoReply {
		t.Errorf("round trip lost optional fields: %+v", in)
	}
}
