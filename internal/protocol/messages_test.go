package protocol

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestEnvelopeUnmarshal(t *testing.T) {
	raw := []byte(`{"type":"queue:join","age":25,"gender":"male","pref":"female"}`)

	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if env.Type != TypeQueueJoin {
		t.Errorf("type = %q, want %q", env.Type, TypeQueueJoin)
	}
	if string(env.Raw) != string(raw) {
		t.Error("envelope should retain the full raw payload")
	}
}

func TestEnvelopeMissingType(t *testing.T) {
	var env Envelope
	if err := json.Unmarshal([]byte(`{"age":25}`), &env); err == nil {
		t.Error("expected error for missing type field")
	}
}

func TestParseClientMessage_QueueJoin(t *testing.T) {
	raw := []byte(`{"type":"queue:join","age":30,"gender":"female","pref":"both"}`)

	msgType, msg, err := ParseClientMessage(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if msgType != TypeQueueJoin {
		t.Errorf("type = %q, want %q", msgType, TypeQueueJoin)
	}

	join, ok := msg.(QueueJoinMsg)
	if !ok {
		t.Fatalf("expected QueueJoinMsg, got %T", msg)
	}
	if join.Age != 30 || join.Gender != "female" || join.Pref != "both" {
		t.Errorf("unexpected fields: %+v", join)
	}
}

func TestParseClientMessage_ChatSend(t *testing.T) {
	raw := []byte(`{"type":"chat:send","roomId":"r1","text":"hello","replyTo":"m9"}`)

	_, msg, err := ParseClientMessage(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	chat := msg.(ChatSendMsg)
	if chat.RoomID != "r1" || chat.Text != "hello" || chat.ReplyTo != "m9" {
		t.Errorf("unexpected fields: %+v", chat)
	}
}

func TestParseClientMessage_SignalingPayloadOpaque(t *testing.T) {
	raw := []byte(`{"type":"user:call","to":"c2","offer":{"sdp":"v=0","type":"offer"}}`)

	_, msg, err := ParseClientMessage(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	call := msg.(UserCallMsg)
	if call.To != "c2" {
		t.Errorf("to = %q, want c2", call.To)
	}
	// The offer must survive as raw bytes for verbatim relay.
	if !strings.Contains(string(call.Offer), `"sdp":"v=0"`) {
		t.Errorf("offer not preserved: %s", call.Offer)
	}
}

func TestParseClientMessage_UnknownType(t *testing.T) {
	if _, _, err := ParseClientMessage([]byte(`{"type":"bogus"}`)); err == nil {
		t.Error("expected error for unknown type")
	}
}

func TestParseClientMessage_ServerOnlyType(t *testing.T) {
	// Clients may not inject server-side types like match:paired.
	if _, _, err := ParseClientMessage([]byte(`{"type":"match:paired"}`)); err == nil {
		t.Error("expected error for server-only type")
	}
}

func TestParseClientMessage_InvalidJSON(t *testing.T) {
	if _, _, err := ParseClientMessage([]byte(`{not json`)); err == nil {
		t.Error("expected error for invalid JSON")
	}
}

func TestNewServerMessage(t *testing.T) {
	data, err := NewServerMessage(TypeUserCount, UserCountMsg{Count: 7})
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("round-trip: %v", err)
	}
	if decoded["type"] != TypeUserCount {
		t.Errorf("type = %v, want %q", decoded["type"], TypeUserCount)
	}
	if decoded["count"] != float64(7) {
		t.Errorf("count = %v, want 7", decoded["count"])
	}
}

func TestChatMessageReplyToNull(t *testing.T) {
	data, err := NewServerMessage(TypeChatMessage, ChatMessageMsg{
		ID:         "m1",
		Text:       "hi",
		SenderID:   "c1",
		SenderName: "Ana",
		Ts:         1700000000000,
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	// A non-reply carries an explicit null, matching what clients expect.
	if !strings.Contains(string(data), `"replyTo":null`) {
		t.Errorf("expected replyTo null, got %s", data)
	}
}
