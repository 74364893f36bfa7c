package hub

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/strangercall/backend/internal/auth"
	"github.com/strangercall/backend/internal/protocol"
	"github.com/strangercall/backend/internal/ws"
)

type sentFrame struct {
	connID string
	msg    map[string]interface{}
}

type fakeSender struct {
	mu     sync.Mutex
	frames []sentFrame
}

func (f *fakeSender) SendMessage(connID string, data []byte) error {
	var msg map[string]interface{}
	if err := json.Unmarshal(data, &msg); err != nil {
		return err
	}
	f.mu.Lock()
	f.frames = append(f.frames, sentFrame{connID: connID, msg: msg})
	f.mu.Unlock()
	return nil
}

func (f *fakeSender) byType(msgType string) []sentFrame {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []sentFrame
	for _, fr := range f.frames {
		if fr.msg["type"] == msgType {
			out = append(out, fr)
		}
	}
	return out
}

func (f *fakeSender) reset() {
	f.mu.Lock()
	f.frames = nil
	f.mu.Unlock()
}

type fakeReporter struct {
	mu      sync.Mutex
	reports [][5]string
}

func (f *fakeReporter) Report(roomID, messageID, text, offenderConnID, reporterConnID string) {
	f.mu.Lock()
	f.reports = append(f.reports, [5]string{roomID, messageID, text, offenderConnID, reporterConnID})
	f.mu.Unlock()
}

func testConn(id, name string) *ws.Connection {
	return &ws.Connection{
		ID:       id,
		Identity: auth.Identity{UserID: "uid-" + id, Email: id + "@example.com", Name: name},
	}
}

// connectPair joins two compatible users and returns their connections plus
// the room id both were paired into.
func connectPair(t *testing.T, h *Hub, sender *fakeSender) (*ws.Connection, *ws.Connection, string) {
	t.Helper()

	a := testConn("a", "Ana")
	b := testConn("b", "Ben")
	h.OnConnect(a)
	h.OnConnect(b)

	h.handleQueueJoin(a, protocol.QueueJoinMsg{Age: 25, Gender: "female", Pref: "both"})
	h.handleQueueJoin(b, protocol.QueueJoinMsg{Age: 30, Gender: "male", Pref: "both"})

	paired := sender.byType(protocol.TypeMatchPaired)
	if len(paired) != 2 {
		t.Fatalf("expected 2 match:paired frames, got %d", len(paired))
	}
	roomID := paired[0].msg["roomId"].(string)
	sender.reset()
	return a, b, roomID
}

func TestConnectBroadcastsUserCount(t *testing.T) {
	sender := &fakeSender{}
	h := NewHub(sender)

	h.OnConnect(testConn("a", "Ana"))
	h.OnConnect(testConn("b", "Ben"))

	counts := sender.byType(protocol.TypeUserCount)
	// First connect: 1 frame (to a). Second connect: 2 frames (to a and b).
	if len(counts) != 3 {
		t.Fatalf("expected 3 usercount frames, got %d", len(counts))
	}
	last := counts[len(counts)-1]
	if last.msg["count"] != float64(2) {
		t.Errorf("final count = %v, want 2", last.msg["count"])
	}
}

func TestQueueJoinPairsCompatibleUsers(t *testing.T) {
	sender := &fakeSender{}
	h := NewHub(sender)

	a := testConn("a", "Ana")
	b := testConn("b", "Ben")
	h.OnConnect(a)
	h.OnConnect(b)
	sender.reset()

	h.handleQueueJoin(a, protocol.QueueJoinMsg{Age: 25, Gender: "female", Pref: "male"})
	h.handleQueueJoin(b, protocol.QueueJoinMsg{Age: 30, Gender: "male", Pref: "female"})

	paired := sender.byType(protocol.TypeMatchPaired)
	if len(paired) != 2 {
		t.Fatalf("expected both sides paired, got %d frames", len(paired))
	}

	byConn := map[string]map[string]interface{}{}
	for _, fr := range paired {
		byConn[fr.connID] = fr.msg
	}

	// a queued first, so a initiates.
	if byConn["a"]["initiator"] != true {
		t.Error("earlier-queued member should be the initiator")
	}
	if byConn["b"]["initiator"] != false {
		t.Error("later-queued member should not be the initiator")
	}
	if byConn["a"]["peerName"] != "Ben" || byConn["b"]["peerName"] != "Ana" {
		t.Error("each side should receive the peer's profile")
	}
	if byConn["a"]["roomId"] != byConn["b"]["roomId"] {
		t.Error("both sides should share one room id")
	}
	if byConn["a"]["peerAge"] != float64(30) || byConn["a"]["peerGender"] != "male" {
		t.Errorf("peer profile mismatch: %v", byConn["a"])
	}
}

func TestQueueJoinIncompatiblePrefsDoNotPair(t *testing.T) {
	sender := &fakeSender{}
	h := NewHub(sender)

	a := testConn("a", "Ana")
	b := testConn("b", "Ben")
	h.OnConnect(a)
	h.OnConnect(b)
	sender.reset()

	// Both want a female partner; b is male.
	h.handleQueueJoin(a, protocol.QueueJoinMsg{Gender: "female", Pref: "female"})
	h.handleQueueJoin(b, protocol.QueueJoinMsg{Gender: "male", Pref: "female"})

	if got := sender.byType(protocol.TypeMatchPaired); len(got) != 0 {
		t.Errorf("incompatible users must not pair, got %d frames", len(got))
	}
}

func TestQueueLeaveRemovesFromPool(t *testing.T) {
	sender := &fakeSender{}
	h := NewHub(sender)

	a := testConn("a", "Ana")
	b := testConn("b", "Ben")
	h.OnConnect(a)
	h.OnConnect(b)
	sender.reset()

	h.handleQueueJoin(a, protocol.QueueJoinMsg{Gender: "female", Pref: "both"})
	h.handleQueueLeave(a)
	h.handleQueueJoin(b, protocol.QueueJoinMsg{Gender: "male", Pref: "both"})

	if got := sender.byType(protocol.TypeMatchPaired); len(got) != 0 {
		t.Errorf("a left the queue before b joined; nothing should pair, got %d", len(got))
	}
}

func TestChatSendBroadcastsToBothMembers(t *testing.T) {
	sender := &fakeSender{}
	h := NewHub(sender)
	a, _, roomID := connectPair(t, h, sender)

	h.handleChatSend(a, protocol.ChatSendMsg{RoomID: roomID, Text: "  hello  "})

	msgs := sender.byType(protocol.TypeChatMessage)
	if len(msgs) != 2 {
		t.Fatalf("expected chat:message to both members, got %d", len(msgs))
	}
	for _, fr := range msgs {
		if fr.msg["text"] != "hello" {
			t.Errorf("text should be trimmed, got %q", fr.msg["text"])
		}
		if fr.msg["senderId"] != "a" || fr.msg["senderName"] != "Ana" {
			t.Errorf("sender fields wrong: %v", fr.msg)
		}
		if fr.msg["id"] == "" || fr.msg["ts"] == nil {
			t.Error("message should carry a server id and timestamp")
		}
		if reply, present := fr.msg["replyTo"]; !present || reply != nil {
			t.Errorf("non-reply should carry explicit null replyTo, got %v", reply)
		}
	}
	// Same stamped id on both copies.
	if msgs[0].msg["id"] != msgs[1].msg["id"] {
		t.Error("both members should see the same message id")
	}
}

func TestChatSendWhitespaceDropped(t *testing.T) {
	sender := &fakeSender{}
	h := NewHub(sender)
	a, _, roomID := connectPair(t, h, sender)

	h.handleChatSend(a, protocol.ChatSendMsg{RoomID: roomID, Text: "   "})

	if got := sender.byType(protocol.TypeChatMessage); len(got) != 0 {
		t.Errorf("whitespace-only text should be dropped, got %d frames", len(got))
	}
}

func TestChatSendNonMemberDropped(t *testing.T) {
	sender := &fakeSender{}
	h := NewHub(sender)
	_, _, roomID := connectPair(t, h, sender)

	outsider := testConn("x", "Xena")
	h.OnConnect(outsider)
	sender.reset()

	h.handleChatSend(outsider, protocol.ChatSendMsg{RoomID: roomID, Text: "hi"})

	if got := sender.byType(protocol.TypeChatMessage); len(got) != 0 {
		t.Errorf("non-member send should be dropped, got %d frames", len(got))
	}
}

func TestFileSendRelaysToPeerOnly(t *testing.T) {
	sender := &fakeSender{}
	h := NewHub(sender)
	a, b, roomID := connectPair(t, h, sender)

	h.handleFileSend(a, protocol.FileSendMsg{
		RoomID: roomID, Size: 1000, Mime: "image/png", Name: "cat.png", Data: "aGk=",
	})

	files := sender.byType(protocol.TypeFileReceive)
	if len(files) != 1 {
		t.Fatalf("expected one file:receive frame, got %d", len(files))
	}
	if files[0].connID != b.ID {
		t.Errorf("file should go to the peer, went to %s", files[0].connID)
	}
	if files[0].msg["mime"] != "image/png" || files[0].msg["name"] != "cat.png" {
		t.Errorf("file metadata lost: %v", files[0].msg)
	}
}

func TestFileSendInvalidDropped(t *testing.T) {
	sender := &fakeSender{}
	h := NewHub(sender)
	a, _, roomID := connectPair(t, h, sender)

	h.handleFileSend(a, protocol.FileSendMsg{RoomID: roomID, Size: 400_000, Mime: "image/png"})
	h.handleFileSend(a, protocol.FileSendMsg{RoomID: roomID, Size: 1000, Mime: "application/pdf"})

	if got := sender.byType(protocol.TypeFileReceive); len(got) != 0 {
		t.Errorf("oversized or non-image files must not relay, got %d frames", len(got))
	}
}

func TestCallEndNotifiesPeer(t *testing.T) {
	sender := &fakeSender{}
	h := NewHub(sender)
	a, b, roomID := connectPair(t, h, sender)

	h.handleCallEnd(a, protocol.CallEndMsg{RoomID: roomID, To: b.ID})

	ended := sender.byType(protocol.TypeCallEnded)
	if len(ended) != 1 || ended[0].connID != b.ID {
		t.Fatalf("expected call:ended to peer %s, got %v", b.ID, ended)
	}

	// A second end of the same room is a no-op.
	sender.reset()
	h.handleCallEnd(a, protocol.CallEndMsg{RoomID: roomID, To: b.ID})
	if got := sender.byType(protocol.TypeCallEnded); len(got) != 0 {
		t.Errorf("repeated end should be a no-op, got %d frames", len(got))
	}
}

func TestDisconnectTearsDownRoom(t *testing.T) {
	sender := &fakeSender{}
	h := NewHub(sender)
	a, b, _ := connectPair(t, h, sender)

	h.OnDisconnect(a)

	ended := sender.byType(protocol.TypeCallEnded)
	if len(ended) != 1 || ended[0].connID != b.ID {
		t.Fatalf("peer should be told the call ended, got %v", ended)
	}

	counts := sender.byType(protocol.TypeUserCount)
	if len(counts) == 0 {
		t.Fatal("disconnect should broadcast the updated user count")
	}
	if counts[len(counts)-1].msg["count"] != float64(1) {
		t.Errorf("count after disconnect = %v, want 1", counts[len(counts)-1].msg["count"])
	}
}

func TestConcurrentJoinAndDisconnectLeavesNoRooms(t *testing.T) {
	// A member disconnecting while the matcher is pairing them must always
	// end up outside both the pool and the room table: either the dequeue
	// wins and no room is created, or the room is created first and the
	// disconnect tears it down.
	for i := 0; i < 100; i++ {
		sender := &fakeSender{}
		h := NewHub(sender)

		a := testConn("a", "Ana")
		b := testConn("b", "Ben")
		h.OnConnect(a)
		h.OnConnect(b)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			h.handleQueueJoin(a, protocol.QueueJoinMsg{Gender: "female", Pref: "both"})
		}()
		go func() {
			defer wg.Done()
			h.handleQueueJoin(b, protocol.QueueJoinMsg{Gender: "male", Pref: "both"})
			h.OnDisconnect(b)
		}()
		wg.Wait()

		if n := h.rooms.Count(); n != 0 {
			t.Fatalf("iteration %d: %d room(s) survived a member's disconnect", i, n)
		}
		if r := h.rooms.FindByMember(a.ID); r != nil {
			t.Fatalf("iteration %d: survivor still in room %s with dead peer", i, r.ID)
		}
		// If the pairing happened, the survivor must have been told.
		if len(sender.byType(protocol.TypeMatchPaired)) > 0 {
			ended := sender.byType(protocol.TypeCallEnded)
			if len(ended) == 0 || ended[0].connID != a.ID {
				t.Fatalf("iteration %d: paired survivor never received call:ended", i)
			}
		}
	}
}

func TestSignalingRelay(t *testing.T) {
	sender := &fakeSender{}
	h := NewHub(sender)
	a, b, _ := connectPair(t, h, sender)

	h.handleUserCall(a, protocol.UserCallMsg{To: b.ID, Offer: json.RawMessage(`{"sdp":"v=0"}`)})

	incoming := sender.byType(protocol.TypeIncomingCall)
	if len(incoming) != 1 || incoming[0].connID != b.ID {
		t.Fatalf("expected incomming:call to callee, got %v", incoming)
	}
	if incoming[0].msg["from"] != a.ID {
		t.Errorf("relay should attach the caller id, got %v", incoming[0].msg["from"])
	}

	h.handleCallAccepted(b, protocol.CallAcceptedMsg{To: a.ID, Ans: json.RawMessage(`{"sdp":"v=0"}`)})
	answered := sender.byType(protocol.TypeCallAccepted)
	if len(answered) != 1 || answered[0].connID != a.ID {
		t.Fatalf("expected call:accepted back to caller, got %v", answered)
	}

	h.handleICECandidate(a, protocol.ICECandidateMsg{To: b.ID, Candidate: json.RawMessage(`{}`)})
	ice := sender.byType(protocol.TypeICECandidate)
	if len(ice) != 1 || ice[0].connID != b.ID {
		t.Fatalf("expected ice:candidate to peer, got %v", ice)
	}
}

func TestSignalingToDeadTargetDropped(t *testing.T) {
	sender := &fakeSender{}
	h := NewHub(sender)
	a, _, _ := connectPair(t, h, sender)

	h.handleUserCall(a, protocol.UserCallMsg{To: "gone", Offer: json.RawMessage(`{}`)})

	if got := sender.byType(protocol.TypeIncomingCall); len(got) != 0 {
		t.Errorf("signal to a dead target must be dropped, got %d frames", len(got))
	}
}

func TestMessageReportDelegates(t *testing.T) {
	sender := &fakeSender{}
	h := NewHub(sender)
	reporter := &fakeReporter{}
	h.SetReporter(reporter)
	a, b, roomID := connectPair(t, h, sender)

	h.handleMessageReport(a, protocol.MessageReportMsg{
		RoomID: roomID, MessageID: "m1", Text: "bad", SenderID: b.ID,
	})

	reporter.mu.Lock()
	defer reporter.mu.Unlock()
	if len(reporter.reports) != 1 {
		t.Fatalf("expected one delegated report, got %d", len(reporter.reports))
	}
	want := [5]string{roomID, "m1", "bad", b.ID, a.ID}
	if reporter.reports[0] != want {
		t.Errorf("report args = %v, want %v", reporter.reports[0], want)
	}
}

func TestRoomResolverViews(t *testing.T) {
	sender := &fakeSender{}
	h := NewHub(sender)
	a, b, roomID := connectPair(t, h, sender)

	if !h.IsMember(roomID, a.ID) || !h.IsMember(roomID, b.ID) {
		t.Error("both members should be resolvable")
	}
	if h.IsMember(roomID, "x") {
		t.Error("outsider should not be a member")
	}

	members := h.Members(roomID)
	if len(members) != 2 {
		t.Fatalf("expected 2 members, got %v", members)
	}

	uid, name, ok := h.Resolve(a.ID)
	if !ok || uid != "uid-a" || name != "Ana" {
		t.Errorf("Resolve(a) = %q, %q, %v", uid, name, ok)
	}
	if _, _, ok := h.Resolve("gone"); ok {
		t.Error("unknown connection should not resolve")
	}
}
