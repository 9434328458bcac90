package tinode

import (
	"testing"
	"time"

	"github.com/tinode/gosdk/tinode/types"
)

func cacheWithSeqs(seqs ...int) *msgCache {
	c := &msgCache{}
	for _, seq := range seqs {
		c.insert(&Message{SeqId: seq, Timestamp: types.TimeNow()})
	}
	return c
}

func cachedSeqs(c *msgCache) []int {
	var out []int
	for _, msg := range c.list {
		out = append(out, msg.SeqId)
	}
	return out
}

func TestMsgCacheOrderedInsert(t *testing.T) {
	c := cacheWithSeqs(5, 1, 3, 2, 4)
	want := []int{1, 2, 3, 4, 5}
	got := cachedSeqs(c)
	if len(got) != len(want) {
		t.Fatalf("count = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
}

func TestMsgCacheDedup(t *testing.T) {
	c := cacheWithSeqs(1, 2, 3)
	// Same seq arrives again, e.g. a server replay after reconnect. The cache
	// must keep a single entry with the latest content.
	cached, merged := c.insert(&Message{SeqId: 2, Content: "updated"})
	if !merged {
		t.Error("duplicate insert was not merged")
	}
	if c.count() != 3 {
		t.Errorf("count = %d after duplicate insert, want 3", c.count())
	}
	if cached.Content != "updated" {
		t.Errorf("content = %v, want updated", cached.Content)
	}
	if c.find(2) != cached {
		t.Error("find returned a different entry than insert")
	}
}

func TestMsgCacheMergeKeepsStatus(t *testing.T) {
	c := &msgCache{}
	c.insert(&Message{SeqId: 7, Status: StatusSent})
	// Echo of an own message carries no status; the lifecycle state survives.
	cached, _ := c.insert(&Message{SeqId: 7, Content: "echo"})
	if cached.Status != StatusSent {
		t.Errorf("status = %v after echo merge, want sent", cached.Status)
	}
}

func TestMsgCacheSwapId(t *testing.T) {
	c := cacheWithSeqs(1, 2)
	local := c.nextLocalSeq()
	c.insert(&Message{SeqId: local, Status: StatusSending})

	msg := c.swapId(local, 3)
	if msg == nil {
		t.Fatal("swapId did not find the pending message")
	}
	if msg.SeqId != 3 {
		t.Errorf("SeqId = %d after swap, want 3", msg.SeqId)
	}
	if c.find(local) != nil {
		t.Error("provisional id still present after swap")
	}
	if c.find(3) != msg {
		t.Error("message not reachable under the server id")
	}
	if c.maxSeq() != 3 {
		t.Errorf("maxSeq = %d, want 3", c.maxSeq())
	}
}

func TestMsgCacheSeqWatermarksIgnorePending(t *testing.T) {
	c := cacheWithSeqs(4, 9)
	c.insert(&Message{SeqId: c.nextLocalSeq(), Status: StatusQueued})

	if got := c.maxSeq(); got != 9 {
		t.Errorf("maxSeq = %d, want 9", got)
	}
	if got := c.minSeq(); got != 4 {
		t.Errorf("minSeq = %d, want 4", got)
	}
}

func TestMsgCacheRemove(t *testing.T) {
	c := cacheWithSeqs(1, 2, 3, 4, 5)
	evicted := c.remove(2, 4)
	if len(evicted) != 2 || evicted[0].SeqId != 2 || evicted[1].SeqId != 3 {
		t.Fatalf("evicted %v, want seqs 2 and 3", cachedSeqs(&msgCache{list: evicted}))
	}
	if c.count() != 3 || c.find(2) != nil || c.find(3) != nil {
		t.Errorf("cache after remove: %v", cachedSeqs(c))
	}
}

func TestMsgCacheVersions(t *testing.T) {
	c := cacheWithSeqs(1)
	c.insert(&Message{SeqId: 5, Head: map[string]any{"replace": ":1"}, Content: "v2"})
	c.insert(&Message{SeqId: 9, Head: map[string]any{"replace": ":1"}, Content: "v3"})

	latest := c.latestVersion(1)
	if latest == nil || latest.SeqId != 9 {
		t.Fatalf("latestVersion = %v, want seq 9", latest)
	}
	// An unedited message is its own latest version.
	c.insert(&Message{SeqId: 2})
	if v := c.latestVersion(2); v == nil || v.SeqId != 2 {
		t.Errorf("latestVersion of unedited = %v, want seq 2", v)
	}
	if c.latestVersion(100) != nil {
		t.Error("latestVersion of unknown message is not nil")
	}
}

func TestMessageReplacesSeq(t *testing.T) {
	cases := []struct {
		head map[string]any
		want int
	}{
		{nil, 0},
		{map[string]any{"replace": ":17"}, 17},
		{map[string]any{"replace": "17"}, 0},
		{map[string]any{"replace": ":abc"}, 0},
		{map[string]any{"mime": "text/x-drafty"}, 0},
	}
	for _, tc := range cases {
		msg := &Message{Head: tc.head}
		if got := msg.ReplacesSeq(); got != tc.want {
			t.Errorf("ReplacesSeq(%v) = %d, want %d", tc.head, got, tc.want)
		}
	}
}

func TestMsgCacheForEachBounds(t *testing.T) {
	c := cacheWithSeqs(1, 2, 3, 4, 5)
	var got []int
	c.forEach(2, 5, func(msg *Message) bool {
		got = append(got, msg.SeqId)
		return true
	})
	if len(got) != 3 || got[0] != 2 || got[2] != 4 {
		t.Errorf("forEach[2,5) = %v, want [2 3 4]", got)
	}
}

func TestIsServerAssignedSeq(t *testing.T) {
	if IsServerAssignedSeq(0) || IsServerAssignedSeq(localSeqStart) {
		t.Error("provisional ids reported as server-assigned")
	}
	if !IsServerAssignedSeq(1) || !IsServerAssignedSeq(localSeqStart-1) {
		t.Error("server ids reported as provisional")
	}
}

func TestMessagePending(t *testing.T) {
	if (&Message{SeqId: 5}).Pending() {
		t.Error("acknowledged message reported pending")
	}
	if !(&Message{SeqId: localSeqStart, Timestamp: time.Now()}).Pending() {
		t.Error("provisional message not reported pending")
	}
}
