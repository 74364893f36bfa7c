// Package chat stamps outbound chat messages and validates relay payloads.
// Validation failures are silent drops: the sender receives no error, so the
// relay leaks nothing about its rules to abusive clients.
package chat

import (
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/strangercall/backend/internal/protocol"
)

// MaxFileBytes is the largest declared file payload the relay will forward.
const MaxFileBytes = 300_000

// allowedMime matches the image types permitted for file relay.
var allowedMime = regexp.MustCompile(`(?i)^image/(png|jpe?g|gif)$`)

// Stamp builds the broadcast form of a chat message: trimmed text, a fresh
// message id, the sender's identity, a unix-millisecond timestamp, and a
// reply reference that is explicit null when absent. It returns false when
// the text is empty or whitespace-only, in which case the message is dropped.
func Stamp(senderID, senderName, text, replyTo string) (protocol.ChatMessageMsg, bool) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return protocol.ChatMessageMsg{}, false
	}

	var reply *string
	if replyTo != "" {
		reply = &replyTo
	}

	return protocol.ChatMessageMsg{
		ID:         uuid.New().String(),
		Text:       trimmed,
		SenderID:   senderID,
		SenderName: senderName,
		Ts:         time.Now().UnixMilli(),
		ReplyTo:    reply,
	}, true
}

// ValidFile reports whether a declared file payload may be relayed: at most
// MaxFileBytes and one of the allowed image MIME types (case-insensitive).
func ValidFile(size int64, mime string) bool {
	return size <= MaxFileBytes && allowedMime.MatchString(mime)
}
