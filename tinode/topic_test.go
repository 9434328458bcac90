package tinode

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/tinode/gosdk/tinode/types"
)

func TestTopicHasMoreMessages(t *testing.T) {
	topic := testTopic("grpTest", 1, 2, 3, 50, 51)
	topic.seq = 100

	got := topic.MsgHasMoreMessages(1, 100, true)
	want := []types.Range{{Low: 4, Hi: 50}, {Low: 52, Hi: 101}}
	if !cmp.Equal(got, want) {
		t.Errorf("gaps mismatch: %s", cmp.Diff(want, got))
	}

	// Older-first ordering reverses the ranges.
	got = topic.MsgHasMoreMessages(1, 100, false)
	want = []types.Range{{Low: 52, Hi: 101}, {Low: 4, Hi: 50}}
	if !cmp.Equal(got, want) {
		t.Errorf("reversed gaps mismatch: %s", cmp.Diff(want, got))
	}
}

func TestTopicHasMoreMessagesDeletedRanges(t *testing.T) {
	topic := testTopic("grpTest", 1, 2, 3, 50, 51)
	topic.seq = 100
	// Deleted messages are not gaps: the server has nothing to return there.
	topic.delRanges = []types.Range{{Low: 4, Hi: 50}}

	got := topic.MsgHasMoreMessages(1, 100, true)
	want := []types.Range{{Low: 52, Hi: 101}}
	if !cmp.Equal(got, want) {
		t.Errorf("gaps mismatch: %s", cmp.Diff(want, got))
	}
}

func TestTopicHasMoreMessagesWatermarkCap(t *testing.T) {
	topic := testTopic("grpTest", 1, 2)
	topic.seq = 5

	// The window reaches past the last known server message; ids beyond the
	// watermark do not exist and must not be requested.
	got := topic.MsgHasMoreMessages(1, 100, true)
	want := []types.Range{{Low: 3, Hi: 6}}
	if !cmp.Equal(got, want) {
		t.Errorf("gaps mismatch: %s", cmp.Diff(want, got))
	}

	// Fully cached window: nothing to fetch.
	topic2 := testTopic("grpTest", 1, 2, 3)
	topic2.seq = 3
	if got := topic2.MsgHasMoreMessages(1, 3, true); got != nil {
		t.Errorf("gaps = %v on a fully cached window, want none", got)
	}
}

func TestTopicHasMoreMessagesIgnoresPending(t *testing.T) {
	topic := testTopic("grpTest", 1)
	topic.seq = 5
	topic.cache.insert(&Message{SeqId: topic.cache.nextLocalSeq(), Status: StatusQueued})

	got := topic.MsgHasMoreMessages(1, 5, true)
	want := []types.Range{{Low: 2, Hi: 6}}
	if !cmp.Equal(got, want) {
		t.Errorf("gaps mismatch: %s", cmp.Diff(want, got))
	}
}

func TestTopicRouteDataWatermarks(t *testing.T) {
	topic := testTopic("grpTest")
	var delivered []int
	topic.SetListener(&TopicListener{
		OnData: func(msg *Message) { delivered = append(delivered, msg.SeqId) },
	})

	now := types.TimeNow()
	topic.routeData(&MsgServerData{Topic: "grpTest", SeqId: 5, Timestamp: now, Content: "hello"})
	topic.routeData(&MsgServerData{Topic: "grpTest", SeqId: 3, Timestamp: now.Add(-time.Minute), Content: "older"})

	if topic.SeqId() != 5 {
		t.Errorf("seq = %d, want 5", topic.SeqId())
	}
	if topic.Unread() != 5 {
		t.Errorf("unread = %d, want 5", topic.Unread())
	}
	if topic.MessageCount() != 2 {
		t.Errorf("count = %d, want 2", topic.MessageCount())
	}
	if len(delivered) != 2 {
		t.Errorf("OnData fired %d times, want 2", len(delivered))
	}

	// Replay of a cached message must not create a duplicate.
	topic.routeData(&MsgServerData{Topic: "grpTest", SeqId: 5, Timestamp: now, Content: "hello again"})
	if topic.MessageCount() != 2 {
		t.Errorf("count = %d after replay, want 2", topic.MessageCount())
	}
	if topic.FindMessage(5).Content != "hello again" {
		t.Error("replay did not refresh content")
	}
}

func TestTopicReceiptCounts(t *testing.T) {
	topic := testTopic("grpTest")
	topic.sess.authUID = "usrMe"
	gone := types.TimeNow()
	topic.subs = map[string]*Subscription{
		"usrMe":    {User: "usrMe", ReadSeqId: 10, RecvSeqId: 10},
		"usrAlice": {User: "usrAlice", ReadSeqId: 7, RecvSeqId: 9},
		"usrBob":   {User: "usrBob", ReadSeqId: 3, RecvSeqId: 8},
		"usrEve":   {User: "usrEve", ReadSeqId: 10, RecvSeqId: 10, Deleted: &gone},
	}

	// Own receipts and tombstoned subscribers do not count.
	if got := topic.MsgReadCount(5); got != 1 {
		t.Errorf("MsgReadCount(5) = %d, want 1", got)
	}
	if got := topic.MsgRecvCount(8); got != 2 {
		t.Errorf("MsgRecvCount(8) = %d, want 2", got)
	}
	if got := topic.MsgReadCount(0); got != 0 {
		t.Errorf("MsgReadCount(0) = %d, want 0", got)
	}
}

func TestTopicRouteInfoMonotonic(t *testing.T) {
	topic := testTopic("grpTest")
	topic.subs["usrAlice"] = &Subscription{User: "usrAlice", ReadSeqId: 5, RecvSeqId: 5}

	// Stale receipt arrives out of order: watermarks must not regress.
	topic.routeInfo(&MsgServerInfo{Topic: "grpTest", From: "usrAlice", What: "read", SeqId: 3})
	if sub := topic.Subscriber("usrAlice"); sub.ReadSeqId != 5 {
		t.Errorf("ReadSeqId = %d after stale receipt, want 5", sub.ReadSeqId)
	}

	topic.routeInfo(&MsgServerInfo{Topic: "grpTest", From: "usrAlice", What: "read", SeqId: 9})
	sub := topic.Subscriber("usrAlice")
	if sub.ReadSeqId != 9 {
		t.Errorf("ReadSeqId = %d, want 9", sub.ReadSeqId)
	}
	// Read implies received.
	if sub.RecvSeqId != 9 {
		t.Errorf("RecvSeqId = %d, want 9", sub.RecvSeqId)
	}
}

func TestTopicRouteInfoUpgradesStatus(t *testing.T) {
	topic := testTopic("grpTest")
	topic.cache.insert(&Message{SeqId: 4, Status: StatusSent})
	topic.cache.insert(&Message{SeqId: 6, Status: StatusSent})

	topic.routeInfo(&MsgServerInfo{Topic: "grpTest", From: "usrAlice", What: "read", SeqId: 4})
	if got := topic.FindMessage(4).Status; got != StatusRead {
		t.Errorf("status of covered message = %v, want read", got)
	}
	if got := topic.FindMessage(6).Status; got != StatusSent {
		t.Errorf("status of uncovered message = %v, want sent", got)
	}

	// A later recv must not downgrade an already read message.
	topic.routeInfo(&MsgServerInfo{Topic: "grpTest", From: "usrBob", What: "recv", SeqId: 6})
	if got := topic.FindMessage(4).Status; got != StatusRead {
		t.Errorf("status = %v after recv, want read preserved", got)
	}
	if got := topic.FindMessage(6).Status; got != StatusReceived {
		t.Errorf("status = %v, want received", got)
	}
}

func TestTopicDisconnectRevertsSending(t *testing.T) {
	topic := testTopic("grpTest")
	local := topic.cache.nextLocalSeq()
	topic.cache.insert(&Message{SeqId: local, Status: StatusSending})
	topic.cache.insert(&Message{SeqId: 3, Status: StatusSent})
	topic.attached = true

	topic.disconnected()

	if got := topic.FindMessage(local).Status; got != StatusQueued {
		t.Errorf("status = %v after disconnect, want queued", got)
	}
	if got := topic.FindMessage(3).Status; got != StatusSent {
		t.Errorf("acknowledged message status = %v, want sent untouched", got)
	}
	if topic.IsSubscribed() {
		t.Error("topic still attached after disconnect")
	}
}

func TestTopicCancelSend(t *testing.T) {
	topic := testTopic("grpTest")
	msg := topic.CreateMessage("draft", false)

	if !topic.CancelSend(msg.SeqId) {
		t.Fatal("CancelSend failed on a queued message")
	}
	if topic.FindMessage(msg.SeqId) != nil {
		t.Error("cancelled message still cached")
	}

	// Once the server acknowledged a message it cannot be recalled.
	topic.cache.insert(&Message{SeqId: 7, Status: StatusSent})
	if topic.CancelSend(7) {
		t.Error("CancelSend succeeded on an acknowledged message")
	}
}

func TestTopicCreateMessageHeads(t *testing.T) {
	topic := testTopic("grpTest")

	if msg := topic.CreateMessage("plain text", false); msg.Head != nil {
		t.Errorf("head = %v for plain text, want none", msg.Head)
	}

	rich := map[string]any{
		"txt": "file",
		"fmt": []any{map[string]any{"at": float64(0), "len": float64(4), "key": float64(0)}},
		"ent": []any{map[string]any{"tp": "EX", "data": map[string]any{"ref": "/v0/file/s/abc.txt"}}},
	}
	msg := topic.CreateMessage(rich, false)
	if msg.Head["mime"] != "text/x-drafty" {
		t.Errorf("mime head = %v, want drafty", msg.Head["mime"])
	}
	urls, _ := msg.Head["attachments"].([]string)
	if len(urls) != 1 || urls[0] != "/v0/file/s/abc.txt" {
		t.Errorf("attachments = %v", urls)
	}
}

func TestTopicProcessMetaDesc(t *testing.T) {
	topic := testTopic("grpTest")
	created := types.TimeNow().Add(-time.Hour)
	updated := types.TimeNow()

	topic.processMetaDesc(&MsgTopicDesc{
		CreatedAt: &created,
		UpdatedAt: &updated,
		Acs:       &MsgAccessMode{Mode: "JRWP", Given: "JRWPS", Want: "JRWP"},
		SeqId:     20,
		ReadSeqId: 15,
		Public:    map[string]any{"fn": "Test Group"},
	})

	if !topic.Updated().Equal(updated) {
		t.Errorf("updated = %v, want %v", topic.Updated(), updated)
	}
	if topic.SeqId() != 20 || topic.Unread() != 5 {
		t.Errorf("seq/unread = %d/%d, want 20/5", topic.SeqId(), topic.Unread())
	}
	acs := topic.GetAccessMode()
	if !acs.IsWriter(types.SideMode) || !acs.IsSharer(types.SideGiven) {
		t.Errorf("access mode not applied from desc: %s", acs)
	}

	// Stale desc must not roll the watermarks back.
	older := updated.Add(-time.Minute)
	topic.processMetaDesc(&MsgTopicDesc{UpdatedAt: &older, SeqId: 18})
	if topic.SeqId() != 20 {
		t.Errorf("seq = %d after stale desc, want 20", topic.SeqId())
	}
	if !topic.Updated().Equal(updated) {
		t.Errorf("updated regressed to %v", topic.Updated())
	}
}

func TestTopicProcessMetaSubs(t *testing.T) {
	topic := testTopic("grpTest")
	now := types.TimeNow()
	topic.processMetaSubs([]MsgTopicSub{{
		User:      "usrAlice",
		UpdatedAt: &now,
		Online:    true,
		Acs:       MsgAccessMode{Mode: "JRWP"},
		ReadSeqId: 4,
		RecvSeqId: 6,
	}})

	sub := topic.Subscriber("usrAlice")
	if sub == nil || !sub.Online || sub.ReadSeqId != 4 || sub.RecvSeqId != 6 {
		t.Fatalf("subscription not merged: %+v", sub)
	}
	if got := topic.subsUpdatedPtr(); got == nil || !got.Equal(now) {
		t.Errorf("subsUpdated = %v, want %v", got, now)
	}

	// Stale update: receipt watermarks must not regress.
	topic.processMetaSubs([]MsgTopicSub{{User: "usrAlice", ReadSeqId: 2}})
	if sub := topic.Subscriber("usrAlice"); sub.ReadSeqId != 4 {
		t.Errorf("ReadSeqId = %d after stale sub, want 4", sub.ReadSeqId)
	}

	// Removal keeps a tombstone.
	gone := types.TimeNow()
	topic.processMetaSubs([]MsgTopicSub{{User: "usrAlice", DeletedAt: &gone}})
	sub = topic.Subscriber("usrAlice")
	if sub == nil || sub.Deleted == nil {
		t.Fatalf("tombstone missing: %+v", sub)
	}
	if sub.Online {
		t.Error("tombstoned subscriber still online")
	}
}

func TestTopicProcessMetaDel(t *testing.T) {
	topic := testTopic("grpTest", 1, 2, 3, 4, 5)
	topic.seq = 5

	topic.processMetaDel(&MsgDelValues{DelId: 3, DelSeq: []types.Range{{Low: 2, Hi: 4}}})

	if topic.MessageCount() != 3 {
		t.Errorf("count = %d after delete, want 3", topic.MessageCount())
	}
	if topic.MaxDelId() != 3 {
		t.Errorf("maxDel = %d, want 3", topic.MaxDelId())
	}
	// The deleted hole is not reported as a fetchable gap.
	if gaps := topic.MsgHasMoreMessages(1, 5, true); gaps != nil {
		t.Errorf("gaps = %v after delete, want none", gaps)
	}
}

func TestTopicRoutePresAcsDelta(t *testing.T) {
	topic := testTopic("grpTest")
	topic.acs.AssignAll("JRWP", "JRWP", "JRWP")

	topic.routePres(&MsgServerPres{Topic: "grpTest", What: "acs", Acs: &MsgAccessMode{Given: "+S", Mode: "+S"}})

	acs := topic.GetAccessMode()
	if !acs.IsSharer(types.SideGiven) || !acs.IsSharer(types.SideMode) {
		t.Errorf("acs delta not applied: %s", acs)
	}

	// Absolute assignment replaces the side.
	topic.routePres(&MsgServerPres{Topic: "grpTest", What: "acs", Acs: &MsgAccessMode{Mode: "JR"}})
	if got := topic.GetAccessMode().Mode.String(); got != "JR" {
		t.Errorf("mode = %q after absolute acs, want JR", got)
	}
}

func TestMeTopicContactUpdates(t *testing.T) {
	sess := NewSession(Config{Addr: "ws://localhost:6060/v0/channels"}, nil)
	me := sess.MeTopic()
	contact := sess.Topic("grpNews")

	var events []string
	me.SetListener(&TopicListener{
		OnContactUpdate: func(what, src string) { events = append(events, what+":"+src) },
	})

	now := types.TimeNow()
	// Contact list arrives as 'me' subscriptions keyed by topic name.
	me.processMetaSubs([]MsgTopicSub{{
		Topic:     "grpNews",
		UpdatedAt: &now,
		SeqId:     10,
		ReadSeqId: 8,
		Acs:       MsgAccessMode{Mode: "JRWP"},
	}})

	if contact.SeqId() != 10 {
		t.Errorf("contact seq = %d, want 10 pushed from me listing", contact.SeqId())
	}
	if contact.Unread() != 2 {
		t.Errorf("contact unread = %d, want 2", contact.Unread())
	}

	// Presence on 'me' updates both the roster entry and the contact cache.
	me.routePres(&MsgServerPres{Topic: "me", Src: "grpNews", What: "msg", SeqId: 12})
	if sub := me.Subscriber("grpNews"); sub.SeqId != 12 {
		t.Errorf("roster seq = %d, want 12", sub.SeqId)
	}
	if contact.SeqId() != 12 {
		t.Errorf("contact seq = %d, want 12", contact.SeqId())
	}
	if len(events) != 1 || events[0] != "msg:grpNews" {
		t.Errorf("contact events = %v", events)
	}
}
