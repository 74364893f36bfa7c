// Package protocol defines the WebSocket message types and structures used for
// communication between the client and server. All messages are serialized as
// JSON and follow a consistent envelope format with a type discriminator.
package protocol

import (
	"encoding/json"
	"fmt"
)

// ---------------------------------------------------------------------------
// Message type constants
// ---------------------------------------------------------------------------

// Client -> Server message types.
const (
	TypeQueueJoin     = "queue:join"
	TypeQueueLeave    = "queue:leave"
	TypeChatSend      = "chat:send"
	TypeFileSend      = "file:send"
	TypeCallEnd       = "call:end"
	TypeMessageReport = "message:report"
	TypeUserCall      = "user:call"
	TypePing          = "ping"
)

// Server -> Client message types.
const (
	TypeUserCount       = "stats:usercount"
	TypeMatchPaired     = "match:paired"
	TypeChatMessage     = "chat:message"
	TypeFileReceive     = "file:receive"
	TypeAlreadyReported = "abuse:alreadyReported"
	TypeAbuseDetected   = "abuse:detected"
	TypeAbuseCleared    = "abuse:cleared"
	TypeAbuseError      = "abuse:error"
	TypeIncomingCall    = "incomming:call"
	TypeCallEnded       = "call:ended"
	TypeError           = "error"
	TypePong            = "pong"
)

// Bidirectional signaling types. The client sends them with a "to" target;
// the server relays them with a "from" origin attached.
const (
	TypeCallAccepted = "call:accepted"
	TypeICECandidate = "ice:candidate"
)

// ---------------------------------------------------------------------------
// Envelope — used for initial JSON parsing to extract the type discriminator.
// ---------------------------------------------------------------------------

// Envelope holds the message type and the raw JSON payload for deferred
// parsing into a concrete struct.
type Envelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// UnmarshalJSON implements the json.Unmarshaler interface. It captures the
// full raw bytes and extracts only the "type" field so that the rest of the
// payload can be decoded later into the appropriate concrete struct.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	// Capture the full raw message for deferred parsing.
	e.Raw = make(json.RawMessage, len(data))
	copy(e.Raw, data)

	// Extract only the type field.
	var partial struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("protocol: failed to unmarshal envelope: %w", err)
	}
	if partial.Type == "" {
		return fmt.Errorf("protocol: missing or empty \"type\" field")
	}
	e.Type = partial.Type
	return nil
}

// ---------------------------------------------------------------------------
// Client -> Server message structs
// ---------------------------------------------------------------------------

// QueueJoinMsg is sent by the client to enter the waiting pool. Pref is the
// partner-gender preference: "male", "female" or "both" (anything else is
// treated as "both").
type QueueJoinMsg struct {
	Type   string `json:"type"`
	Age    int    `json:"age"`
	Gender string `json:"gender"`
	Pref   string `json:"pref"`
}

// QueueLeaveMsg is sent by the client to leave the waiting pool or abort an
// active call.
type QueueLeaveMsg struct {
	Type string `json:"type"`
}

// ChatSendMsg is a text message sent by the client within a room. ReplyTo
// optionally references the id of the message being replied to.
type ChatSendMsg struct {
	Type    string `json:"type"`
	RoomID  string `json:"roomId"`
	Text    string `json:"text"`
	ReplyTo string `json:"replyTo,omitempty"`
}

// FileSendMsg carries an inline file payload to be forwarded to the peer.
// Size and Mime are declared by the sender and validated before relay.
type FileSendMsg struct {
	Type   string `json:"type"`
	RoomID string `json:"roomId"`
	Size   int64  `json:"size"`
	Mime   string `json:"mime"`
	Name   string `json:"name,omitempty"`
	Data   string `json:"data,omitempty"` // base64-encoded content
}

// CallEndMsg is sent by the client to end the current call.
type CallEndMsg struct {
	Type   string `json:"type"`
	RoomID string `json:"roomId"`
	To     string `json:"to"`
}

// MessageReportMsg is sent by the client to report a chat message as abusive.
type MessageReportMsg struct {
	Type      string `json:"type"`
	RoomID    string `json:"roomId"`
	MessageID string `json:"messageId"`
	Text      string `json:"text"`
	SenderID  string `json:"senderId"`
}

// UserCallMsg carries a WebRTC offer to a specific peer connection. The offer
// is opaque to the server and relayed verbatim.
type UserCallMsg struct {
	Type  string          `json:"type"`
	To    string          `json:"to"`
	Offer json.RawMessage `json:"offer"`
}

// CallAcceptedMsg carries a WebRTC answer back to the caller.
type CallAcceptedMsg struct {
	Type string          `json:"type"`
	To   string          `json:"to"`
	Ans  json.RawMessage `json:"ans"`
}

// ICECandidateMsg carries an ICE candidate to a specific peer connection.
type ICECandidateMsg struct {
	Type      string          `json:"type"`
	To        string          `json:"to"`
	Candidate json.RawMessage `json:"candidate"`
}

// PingMsg is a client-initiated keepalive ping.
type PingMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Server -> Client message structs
// ---------------------------------------------------------------------------

// UserCountMsg announces the current number of live connections. It is sent
// to every connection whenever one connects or disconnects.
type UserCountMsg struct {
	Type  string `json:"type"`
	Count int    `json:"count"`
}

// MatchPairedMsg is sent to both members of a freshly created room. Each side
// receives the peer's public profile; the earlier-queued member gets
// Initiator=true and starts the WebRTC handshake.
type MatchPairedMsg struct {
	Type       string `json:"type"`
	RoomID     string `json:"roomId"`
	PeerID     string `json:"peerId"`
	PeerEmail  string `json:"peerEmail"`
	PeerName   string `json:"peerName"`
	PeerAge    int    `json:"peerAge"`
	PeerGender string `json:"peerGender"`
	Initiator  bool   `json:"initiator"`
}

// ChatMessageMsg is a stamped chat message broadcast to all room members,
// including the sender. ReplyTo is null when the message is not a reply.
type ChatMessageMsg struct {
	Type       string  `json:"type"`
	ID         string  `json:"id"`
	Text       string  `json:"text"`
	SenderID   string  `json:"senderId"`
	SenderName string  `json:"senderName"`
	Ts         int64   `json:"ts"`
	ReplyTo    *string `json:"replyTo"`
}

// FileReceiveMsg forwards a validated file payload to the peer.
type FileReceiveMsg struct {
	Type string `json:"type"`
	Size int64  `json:"size"`
	Mime string `json:"mime"`
	Name string `json:"name,omitempty"`
	Data string `json:"data,omitempty"`
}

// AlreadyReportedMsg acknowledges a duplicate report of the same message.
type AlreadyReportedMsg struct {
	Type      string `json:"type"`
	MessageID string `json:"messageId"`
}

// AbuseDetectedMsg is broadcast to the whole room when a reported message is
// classified abusive. Honor is the offender's updated reputation, or null if
// the offender's identity could not be resolved.
type AbuseDetectedMsg struct {
	Type         string `json:"type"`
	OffenderID   string `json:"offenderId"`
	OffenderName string `json:"offenderName"`
	Honor        *int   `json:"honor"`
	MessageID    string `json:"messageId"`
}

// AbuseClearedMsg tells the reporter that a reported message was found clean.
type AbuseClearedMsg struct {
	Type         string `json:"type"`
	OffenderID   string `json:"offenderId"`
	OffenderName string `json:"offenderName"`
	MessageID    string `json:"messageId"`
}

// AbuseErrorMsg tells the reporter that the moderation service failed.
type AbuseErrorMsg struct {
	Type      string `json:"type"`
	MessageID string `json:"messageId"`
	Msg       string `json:"msg"`
}

// IncomingCallMsg relays a WebRTC offer to the callee.
type IncomingCallMsg struct {
	Type  string          `json:"type"`
	From  string          `json:"from"`
	Offer json.RawMessage `json:"offer"`
}

// CallAnsweredMsg relays a WebRTC answer to the caller.
type CallAnsweredMsg struct {
	Type string          `json:"type"`
	From string          `json:"from"`
	Ans  json.RawMessage `json:"ans"`
}

// ICERelayMsg relays an ICE candidate to the peer.
type ICERelayMsg struct {
	Type      string          `json:"type"`
	From      string          `json:"from"`
	Candidate json.RawMessage `json:"candidate"`
}

// CallEndedMsg notifies a room member that the call was terminated by the
// other side (or by their disconnect).
type CallEndedMsg struct {
	Type string `json:"type"`
}

// ErrorMsg is sent by the server to communicate an error condition.
type ErrorMsg struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// PongMsg is the server's response to a client ping.
type PongMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Helper functions
// ---------------------------------------------------------------------------

// ParseClientMessage parses raw WebSocket bytes into a typed client message.
// It returns the message type string, the decoded struct, and any error
// encountered during parsing. An error is returned for unknown or
// server-only message types.
func ParseClientMessage(data []byte) (string, interface{}, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("protocol: failed to parse message: %w", err)
	}

	var (
		msg interface{}
		err error
	)

	switch env.Type {
	case TypeQueueJoin:
		var m QueueJoinMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeQueueLeave:
		var m QueueLeaveMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeChatSend:
		var m ChatSendMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeFileSend:
		var m FileSendMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeCallEnd:
		var m CallEndMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeMessageReport:
		var m MessageReportMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeUserCall:
		var m UserCallMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeCallAccepted:
		var m CallAcceptedMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeICECandidate:
		var m ICECandidateMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypePing:
		var m PingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	default:
		return env.Type, nil, fmt.Errorf("protocol: unknown client message type: %q", env.Type)
	}

	if err != nil {
		return env.Type, nil, fmt.Errorf("protocol: failed to decode %q payload: %w", env.Type, err)
	}
	return env.Type, msg, nil
}

// NewServerMessage creates a JSON-encoded byte slice for a server message.
// The msgType is injected into the payload under the "type" key. The payload
// should be one of the server message structs; this function marshals it to
// JSON, injects the type field, and returns the final bytes.
func NewServerMessage(msgType string, payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal payload: %w", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("protocol: failed to unmarshal payload into map: %w", err)
	}

	m["type"] = msgType

	out, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal server message: %w", err)
	}
	return out, nil
}
