package moderation

import (
	"context"
	"errors"
	"log"
	"sync"

	"github.com/strangercall/backend/internal/metrics"
	"github.com/strangercall/backend/internal/protocol"
	"github.com/strangercall/backend/internal/users"
)

// unknownName is reported when the offender's identity cannot be resolved
// (they may have disconnected between the message and the report).
const unknownName = "Unknown"

// RoomResolver answers membership questions about active rooms.
type RoomResolver interface {
	// IsMember reports whether connID currently belongs to roomID.
	IsMember(roomID, connID string) bool
	// Members returns the connection ids of the room's current members, or
	// nil if the room no longer exists.
	Members(roomID string) []string
}

// IdentityResolver maps a live connection id to its authenticated identity.
type IdentityResolver interface {
	// Resolve returns the user id and display name for connID. ok is false
	// when the connection is no longer live.
	Resolve(connID string) (userID, name string, ok bool)
}

// Notifier delivers a server message to one connection. Delivery to a dead
// connection is a silent no-op.
type Notifier interface {
	Notify(connID, msgType string, payload interface{})
}

// HonorStore is the slice of the external user store the gateway needs.
type HonorStore interface {
	DecrementHonor(ctx context.Context, userID string) (int, error)
}

// Gateway runs the per-message abuse-report pipeline. The reported set is
// process-global and lives for the life of the process, so a message id is
// classified and penalized at most once no matter who reports it, from which
// room, or when. The set doubles as the verdict memo: once a report is in
// flight every later report of the same id short-circuits to the
// already-reported acknowledgment, so no second classification can occur.
type Gateway struct {
	classifier Classifier
	honor      HonorStore
	rooms      RoomResolver
	identities IdentityResolver
	notifier   Notifier

	mu       sync.Mutex
	reported map[string]bool // message ids with a report in flight or done
}

// NewGateway wires the moderation pipeline.
func NewGateway(classifier Classifier, honor HonorStore, rooms RoomResolver,
	identities IdentityResolver, notifier Notifier) *Gateway {
	return &Gateway{
		classifier: classifier,
		honor:      honor,
		rooms:      rooms,
		identities: identities,
		notifier:   notifier,
		reported:   make(map[string]bool),
	}
}

// Report handles one message:report event. The dedup flag is taken
// synchronously, so concurrent duplicate reports cannot race into a second
// classification; everything slow (classifier, honor store) runs in its own
// goroutine. A reporter who is not a member of the named room is silently
// ignored.
func (g *Gateway) Report(roomID, messageID, text, offenderConnID, reporterConnID string) {
	if !g.rooms.IsMember(roomID, reporterConnID) {
		return
	}

	g.mu.Lock()
	if g.reported[messageID] {
		g.mu.Unlock()
		metrics.ReportsTotal.WithLabelValues("duplicate").Inc()
		g.notifier.Notify(reporterConnID, protocol.TypeAlreadyReported, protocol.AlreadyReportedMsg{
			MessageID: messageID,
		})
		return
	}
	// Mark before classification completes so a racing duplicate sees the
	// flag. The flag is never cleared, even on classifier failure.
	g.reported[messageID] = true
	g.mu.Unlock()

	go g.process(roomID, messageID, text, offenderConnID, reporterConnID)
}

// process runs the slow half of a report: classification, then the penalty
// or clearance path.
func (g *Gateway) process(roomID, messageID, text, offenderConnID, reporterConnID string) {
	ctx, cancel := context.WithTimeout(context.Background(), DefaultClassifyTimeout)
	defer cancel()

	abusive, err := g.classifier.Classify(ctx, text)
	if err != nil {
		log.Printf("moderation: classify message=%s failed: %v", messageID, err)
		metrics.ReportsTotal.WithLabelValues("error").Inc()
		g.notifier.Notify(reporterConnID, protocol.TypeAbuseError, protocol.AbuseErrorMsg{
			MessageID: messageID,
			Msg:       "Moderation service unavailable",
		})
		return
	}

	if abusive {
		g.penalize(roomID, messageID, offenderConnID)
	} else {
		g.clear(messageID, offenderConnID, reporterConnID)
	}
}

// penalize applies the honor penalty and broadcasts abuse:detected to the
// whole room. An offender who disconnected is reported as Unknown with a
// null honor; the notification still goes out.
func (g *Gateway) penalize(roomID, messageID, offenderConnID string) {
	offenderName := unknownName
	var honor *int

	if userID, name, ok := g.identities.Resolve(offenderConnID); ok {
		if name != "" {
			offenderName = name
		}
		ctx, cancel := context.WithTimeout(context.Background(), DefaultClassifyTimeout)
		updated, err := g.honor.DecrementHonor(ctx, userID)
		cancel()
		switch {
		case errors.Is(err, users.ErrNotFound):
			log.Printf("moderation: offender user=%s not in user store", userID)
		case err != nil:
			log.Printf("moderation: honor decrement for user=%s failed: %v", userID, err)
		default:
			honor = &updated
		}
	} else {
		log.Printf("moderation: offender conn=%s no longer live", offenderConnID)
	}

	metrics.ReportsTotal.WithLabelValues("detected").Inc()

	msg := protocol.AbuseDetectedMsg{
		OffenderID:   offenderConnID,
		OffenderName: offenderName,
		Honor:        honor,
		MessageID:    messageID,
	}
	for _, member := range g.rooms.Members(roomID) {
		g.notifier.Notify(member, protocol.TypeAbuseDetected, msg)
	}
}

// clear acknowledges a clean verdict to the reporter only.
func (g *Gateway) clear(messageID, offenderConnID, reporterConnID string) {
	offenderName := unknownName
	if _, name, ok := g.identities.Resolve(offenderConnID); ok && name != "" {
		offenderName = name
	}

	metrics.ReportsTotal.WithLabelValues("cleared").Inc()

	g.notifier.Notify(reporterConnID, protocol.TypeAbuseCleared, protocol.AbuseClearedMsg{
		OffenderID:   offenderConnID,
		OffenderName: offenderName,
		MessageID:    messageID,
	})
}
