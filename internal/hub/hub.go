// Package hub is the application layer of the signaling server. It owns the
// live-connection table, the waiting pool, and the room registry, and routes
// every client event: matchmaking, chat and file relay, WebRTC signaling, and
// abuse reports.
package hub

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/strangercall/backend/internal/chat"
	"github.com/strangercall/backend/internal/matching"
	"github.com/strangercall/backend/internal/metrics"
	"github.com/strangercall/backend/internal/protocol"
	"github.com/strangercall/backend/internal/ratelimit"
	"github.com/strangercall/backend/internal/room"
	"github.com/strangercall/backend/internal/users"
	"github.com/strangercall/backend/internal/ws"
)

// Messenger delivers an encoded frame to one live connection.
type Messenger interface {
	SendMessage(connID string, data []byte) error
}

// Reporter runs the abuse-report pipeline for one reported message.
type Reporter interface {
	Report(roomID, messageID, text, offenderConnID, reporterConnID string)
}

// UserUpserter records user profiles in the external store on connect.
type UserUpserter interface {
	Upsert(ctx context.Context, u users.User) error
}

// Limiter gates per-identifier action rates. A nil Limiter admits everything.
type Limiter interface {
	Allow(ctx context.Context, identifier string, rule ratelimit.Rule) (bool, error)
}

// Hub routes client events between the transport layer and the matchmaking,
// relay, and moderation subsystems. Its mutex serializes pool access, so the
// enqueue-then-scan step of a join is atomic: two concurrent compatible joins
// produce exactly one room.
type Hub struct {
	sender   Messenger
	reporter Reporter
	users    UserUpserter
	limiter  Limiter

	pool  *matching.Pool
	rooms *room.Registry

	mu    sync.Mutex
	conns map[string]connInfo // connID -> authenticated identity
}

type connInfo struct {
	userID string
	name   string
}

// NewHub creates a Hub that sends through the given Messenger.
func NewHub(sender Messenger) *Hub {
	return &Hub{
		sender: sender,
		pool:   matching.NewPool(),
		rooms:  room.NewRegistry(),
		conns:  make(map[string]connInfo),
	}
}

// SetReporter wires the moderation pipeline. Without one, message:report
// events are dropped.
func (h *Hub) SetReporter(r Reporter) { h.reporter = r }

// SetUserStore wires the external user store for profile upserts on connect.
func (h *Hub) SetUserStore(u UserUpserter) { h.users = u }

// SetLimiter wires per-connection rate limiting for chat sends and reports.
func (h *Hub) SetLimiter(l Limiter) { h.limiter = l }

// RegisterHandlers binds every client message type to its hub handler.
func (h *Hub) RegisterHandlers(d *ws.MessageDispatcher) {
	d.Register(protocol.TypeQueueJoin, func(conn *ws.Connection, msg interface{}) {
		h.handleQueueJoin(conn, msg.(protocol.QueueJoinMsg))
	})
	d.Register(protocol.TypeQueueLeave, func(conn *ws.Connection, msg interface{}) {
		h.handleQueueLeave(conn)
	})
	d.Register(protocol.TypeChatSend, func(conn *ws.Connection, msg interface{}) {
		h.handleChatSend(conn, msg.(protocol.ChatSendMsg))
	})
	d.Register(protocol.TypeFileSend, func(conn *ws.Connection, msg interface{}) {
		h.handleFileSend(conn, msg.(protocol.FileSendMsg))
	})
	d.Register(protocol.TypeCallEnd, func(conn *ws.Connection, msg interface{}) {
		h.handleCallEnd(conn, msg.(protocol.CallEndMsg))
	})
	d.Register(protocol.TypeMessageReport, func(conn *ws.Connection, msg interface{}) {
		h.handleMessageReport(conn, msg.(protocol.MessageReportMsg))
	})
	d.Register(protocol.TypeUserCall, func(conn *ws.Connection, msg interface{}) {
		h.handleUserCall(conn, msg.(protocol.UserCallMsg))
	})
	d.Register(protocol.TypeCallAccepted, func(conn *ws.Connection, msg interface{}) {
		h.handleCallAccepted(conn, msg.(protocol.CallAcceptedMsg))
	})
	d.Register(protocol.TypeICECandidate, func(conn *ws.Connection, msg interface{}) {
		h.handleICECandidate(conn, msg.(protocol.ICECandidateMsg))
	})
}

// ---------------------------------------------------------------------------
// Connection lifecycle
// ---------------------------------------------------------------------------

// OnConnect registers the authenticated connection, records its profile in
// the user store, and announces the new live-user count to everyone.
func (h *Hub) OnConnect(c *ws.Connection) {
	h.mu.Lock()
	h.conns[c.ID] = connInfo{
		userID: c.Identity.UserID,
		name:   c.Identity.Name,
	}
	h.mu.Unlock()

	if h.users != nil {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			err := h.users.Upsert(ctx, users.User{
				UserID: c.Identity.UserID,
				Email:  c.Identity.Email,
				Name:   c.Identity.Name,
			})
			if err != nil {
				log.Printf("hub: user upsert failed user=%s: %v", c.Identity.UserID, err)
			}
		}()
	}

	h.broadcastUserCount()
}

// OnDisconnect removes the connection from the pool and its room (notifying
// the abandoned peer), then announces the updated live-user count.
func (h *Hub) OnDisconnect(c *ws.Connection) {
	h.mu.Lock()
	delete(h.conns, c.ID)
	h.pool.Dequeue(c.ID)
	metrics.WaitingPoolSize.Set(float64(h.pool.Len()))
	h.mu.Unlock()

	h.teardownRoomFor(c.ID)
	h.broadcastUserCount()
}

// LiveCount returns the number of live connections.
func (h *Hub) LiveCount() int {
	h.mu.Lock()
	n := len(h.conns)
	h.mu.Unlock()
	return n
}

// ---------------------------------------------------------------------------
// Matchmaking
// ---------------------------------------------------------------------------

func (h *Hub) handleQueueJoin(conn *ws.Connection, m protocol.QueueJoinMsg) {
	entry := matching.Entry{
		ConnID: conn.ID,
		Email:  conn.Identity.Email,
		Name:   conn.Identity.Name,
		Age:    m.Age,
		Gender: m.Gender,
		Pref:   m.Pref,
	}

	type pairing struct {
		roomID string
		pair   matching.Pair
	}

	// Rooms are registered under the same lock as the scan. A concurrent
	// disconnect of a matched member therefore sees either the pooled entry
	// (and dequeues it before the scan runs) or the registered room (and
	// tears it down); there is no window where the member is in neither
	// structure and a room with a dead connection could survive.
	h.mu.Lock()
	h.pool.Enqueue(entry)
	pairs := h.pool.Scan()
	metrics.WaitingPoolSize.Set(float64(h.pool.Len()))
	pairings := make([]pairing, 0, len(pairs))
	for _, p := range pairs {
		r := h.rooms.Create(p.A.ConnID, p.B.ConnID)
		pairings = append(pairings, pairing{roomID: r.ID, pair: p})
	}
	h.mu.Unlock()

	for _, pg := range pairings {
		metrics.PairsTotal.Inc()
		metrics.ActiveRooms.Set(float64(h.rooms.Count()))

		h.send(pg.pair.A.ConnID, protocol.TypeMatchPaired, pairedMsg(pg.roomID, pg.pair.B, true))
		h.send(pg.pair.B.ConnID, protocol.TypeMatchPaired, pairedMsg(pg.roomID, pg.pair.A, false))

		log.Printf("hub: paired room=%s a=%s b=%s", pg.roomID, pg.pair.A.ConnID, pg.pair.B.ConnID)
	}
}

// pairedMsg builds one side's view of a fresh pairing: the peer's public
// profile plus the initiator flag.
func pairedMsg(roomID string, peer matching.Entry, initiator bool) protocol.MatchPairedMsg {
	return protocol.MatchPairedMsg{
		RoomID:     roomID,
		PeerID:     peer.ConnID,
		PeerEmail:  peer.Email,
		PeerName:   peer.Name,
		PeerAge:    peer.Age,
		PeerGender: peer.Gender,
		Initiator:  initiator,
	}
}

func (h *Hub) handleQueueLeave(conn *ws.Connection) {
	h.mu.Lock()
	h.pool.Dequeue(conn.ID)
	metrics.WaitingPoolSize.Set(float64(h.pool.Len()))
	h.mu.Unlock()

	// A leave while paired aborts the call as well.
	h.teardownRoomFor(conn.ID)
}

// teardownRoomFor ends the room containing connID, if any, and notifies the
// abandoned peer. Safe to call for connections that are in no room.
func (h *Hub) teardownRoomFor(connID string) {
	r := h.rooms.FindByMember(connID)
	if r == nil {
		return
	}
	if _, ok := h.rooms.End(r.ID); !ok {
		return
	}
	metrics.ActiveRooms.Set(float64(h.rooms.Count()))

	if peer := r.Peer(connID); peer != "" {
		h.send(peer, protocol.TypeCallEnded, protocol.CallEndedMsg{})
	}
	log.Printf("hub: room ended room=%s by=%s", r.ID, connID)
}

// ---------------------------------------------------------------------------
// Relay
// ---------------------------------------------------------------------------

func (h *Hub) handleChatSend(conn *ws.Connection, m protocol.ChatSendMsg) {
	if !h.allowed(conn.ID, ratelimit.RuleChat) {
		metrics.RelayedTotal.WithLabelValues("dropped").Inc()
		return
	}

	r := h.rooms.Get(m.RoomID)
	if r == nil || !r.IsMember(conn.ID) {
		metrics.RelayedTotal.WithLabelValues("dropped").Inc()
		return
	}

	stamped, ok := chat.Stamp(conn.ID, conn.Identity.Name, m.Text, m.ReplyTo)
	if !ok {
		metrics.RelayedTotal.WithLabelValues("dropped").Inc()
		return
	}

	// Both members receive the stamped message, sender included, so every
	// client renders the same id and timestamp.
	h.send(r.A, protocol.TypeChatMessage, stamped)
	h.send(r.B, protocol.TypeChatMessage, stamped)
	metrics.RelayedTotal.WithLabelValues("chat").Inc()
}

func (h *Hub) handleFileSend(conn *ws.Connection, m protocol.FileSendMsg) {
	if !h.allowed(conn.ID, ratelimit.RuleChat) {
		metrics.RelayedTotal.WithLabelValues("dropped").Inc()
		return
	}

	r := h.rooms.Get(m.RoomID)
	if r == nil || !r.IsMember(conn.ID) {
		metrics.RelayedTotal.WithLabelValues("dropped").Inc()
		return
	}

	if !chat.ValidFile(m.Size, m.Mime) {
		metrics.RelayedTotal.WithLabelValues("dropped").Inc()
		return
	}

	h.send(r.Peer(conn.ID), protocol.TypeFileReceive, protocol.FileReceiveMsg{
		Size: m.Size,
		Mime: m.Mime,
		Name: m.Name,
		Data: m.Data,
	})
	metrics.RelayedTotal.WithLabelValues("file").Inc()
}

func (h *Hub) handleCallEnd(conn *ws.Connection, m protocol.CallEndMsg) {
	r := h.rooms.Get(m.RoomID)
	if r == nil || !r.IsMember(conn.ID) {
		return
	}
	h.teardownRoomFor(conn.ID)
}

// ---------------------------------------------------------------------------
// WebRTC signaling
// ---------------------------------------------------------------------------

func (h *Hub) handleUserCall(conn *ws.Connection, m protocol.UserCallMsg) {
	if !h.isLive(m.To) {
		metrics.RelayedTotal.WithLabelValues("dropped").Inc()
		return
	}
	h.send(m.To, protocol.TypeIncomingCall, protocol.IncomingCallMsg{
		From:  conn.ID,
		Offer: m.Offer,
	})
	metrics.RelayedTotal.WithLabelValues("signal").Inc()
}

func (h *Hub) handleCallAccepted(conn *ws.Connection, m protocol.CallAcceptedMsg) {
	if !h.isLive(m.To) {
		metrics.RelayedTotal.WithLabelValues("dropped").Inc()
		return
	}
	h.send(m.To, protocol.TypeCallAccepted, protocol.CallAnsweredMsg{
		From: conn.ID,
		Ans:  m.Ans,
	})
	metrics.RelayedTotal.WithLabelValues("signal").Inc()
}

func (h *Hub) handleICECandidate(conn *ws.Connection, m protocol.ICECandidateMsg) {
	if !h.isLive(m.To) {
		metrics.RelayedTotal.WithLabelValues("dropped").Inc()
		return
	}
	h.send(m.To, protocol.TypeICECandidate, protocol.ICERelayMsg{
		From:      conn.ID,
		Candidate: m.Candidate,
	})
	metrics.RelayedTotal.WithLabelValues("signal").Inc()
}

// ---------------------------------------------------------------------------
// Moderation
// ---------------------------------------------------------------------------

func (h *Hub) handleMessageReport(conn *ws.Connection, m protocol.MessageReportMsg) {
	if h.reporter == nil {
		return
	}
	if !h.allowed(conn.ID, ratelimit.RuleReport) {
		return
	}
	h.reporter.Report(m.RoomID, m.MessageID, m.Text, m.SenderID, conn.ID)
}

// IsMember implements moderation.RoomResolver.
func (h *Hub) IsMember(roomID, connID string) bool {
	r := h.rooms.Get(roomID)
	return r != nil && r.IsMember(connID)
}

// Members implements moderation.RoomResolver.
func (h *Hub) Members(roomID string) []string {
	r := h.rooms.Get(roomID)
	if r == nil {
		return nil
	}
	return []string{r.A, r.B}
}

// Resolve implements moderation.IdentityResolver.
func (h *Hub) Resolve(connID string) (string, string, bool) {
	h.mu.Lock()
	info, ok := h.conns[connID]
	h.mu.Unlock()
	if !ok {
		return "", "", false
	}
	return info.userID, info.name, true
}

// Notify implements moderation.Notifier.
func (h *Hub) Notify(connID, msgType string, payload interface{}) {
	h.send(connID, msgType, payload)
}

// ---------------------------------------------------------------------------
// Internals
// ---------------------------------------------------------------------------

func (h *Hub) send(connID, msgType string, payload interface{}) {
	data, err := protocol.NewServerMessage(msgType, payload)
	if err != nil {
		log.Printf("hub: failed to build %s message: %v", msgType, err)
		return
	}
	if err := h.sender.SendMessage(connID, data); err != nil {
		// Dead connections are cleaned up by the transport layer.
		log.Printf("hub: send %s to conn=%s failed: %v", msgType, connID, err)
	}
}

func (h *Hub) broadcastUserCount() {
	h.mu.Lock()
	ids := make([]string, 0, len(h.conns))
	for id := range h.conns {
		ids = append(ids, id)
	}
	h.mu.Unlock()

	data, err := protocol.NewServerMessage(protocol.TypeUserCount, protocol.UserCountMsg{
		Count: len(ids),
	})
	if err != nil {
		log.Printf("hub: failed to build usercount message: %v", err)
		return
	}
	for _, id := range ids {
		_ = h.sender.SendMessage(id, data)
	}
}

func (h *Hub) isLive(connID string) bool {
	h.mu.Lock()
	_, ok := h.conns[connID]
	h.mu.Unlock()
	return ok
}

func (h *Hub) allowed(connID string, rule ratelimit.Rule) bool {
	if h.limiter == nil {
		return true
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	ok, _ := h.limiter.Allow(ctx, connID, rule)
	return ok
}
