package tinode

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/tinode/gosdk/tinode/types"
)

func testTopic(name string, seqs ...int) *Topic {
	sess := NewSession(Config{Addr: "ws://localhost:6060/v0/channels"}, nil)
	topic := sess.Topic(name)
	for _, seq := range seqs {
		topic.cache.insert(&Message{SeqId: seq})
	}
	return topic
}

func TestMetaBuilderEmptyBuild(t *testing.T) {
	if q := testTopic("grpTest").StartMetaQuery().Build(); q != nil {
		t.Errorf("Build() on empty builder = %+v, want nil", q)
	}
}

func TestMetaBuilderLaterDataEmptyCache(t *testing.T) {
	// With nothing cached a "later" request degrades to an unbounded fetch;
	// it must not produce a query which returns nothing.
	q := testTopic("grpTest").StartMetaQuery().WithLaterData(24).Build()
	if q == nil {
		t.Fatal("Build() = nil")
	}
	want := &MsgGetOpts{Limit: 24}
	if !cmp.Equal(q.Data, want) {
		t.Errorf("data opts mismatch: %s", cmp.Diff(want, q.Data))
	}
}

func TestMetaBuilderLaterData(t *testing.T) {
	q := testTopic("grpTest", 3, 7, 12).StartMetaQuery().WithLaterData(24).Build()
	if q.Data.SinceId != 13 {
		t.Errorf("SinceId = %d, want 13", q.Data.SinceId)
	}
	if q.Data.BeforeId != 0 {
		t.Errorf("BeforeId = %d, want 0", q.Data.BeforeId)
	}
}

func TestMetaBuilderLaterDataIgnoresPending(t *testing.T) {
	topic := testTopic("grpTest", 3)
	topic.cache.insert(&Message{SeqId: topic.cache.nextLocalSeq(), Status: StatusQueued})

	q := topic.StartMetaQuery().WithLaterData(0).Build()
	if q.Data.SinceId != 4 {
		t.Errorf("SinceId = %d, want 4; provisional ids must not drive the watermark", q.Data.SinceId)
	}
}

func TestMetaBuilderEarlierData(t *testing.T) {
	q := testTopic("grpTest", 5, 9).StartMetaQuery().WithEarlierData(10).Build()
	if q.Data.BeforeId != 5 || q.Data.SinceId != 0 {
		t.Errorf("opts = %+v, want before 5", q.Data)
	}

	// Oldest cached is 1: nothing earlier exists, the bound is dropped.
	q = testTopic("grpTest", 1, 2).StartMetaQuery().WithEarlierData(10).Build()
	if q.Data.BeforeId != 0 {
		t.Errorf("BeforeId = %d, want 0 when seq 1 is cached", q.Data.BeforeId)
	}
}

func TestMetaBuilderExplicitOverridesLater(t *testing.T) {
	// Last write wins within one sub-query.
	q := testTopic("grpTest", 3).StartMetaQuery().WithLaterData(24).WithData(10, 20, 5).Build()
	want := &MsgGetOpts{SinceId: 10, BeforeId: 20, Limit: 5}
	if !cmp.Equal(q.Data, want) {
		t.Errorf("data opts mismatch: %s", cmp.Diff(want, q.Data))
	}
}

func TestMetaBuilderDataList(t *testing.T) {
	q := testTopic("grpTest").StartMetaQuery().WithDataList([]int{1, 2, 3, 50, 51}).Build()
	want := []types.Range{{Low: 1, Hi: 4}, {Low: 50, Hi: 52}}
	if !cmp.Equal(q.Data.Ranges, want) {
		t.Errorf("ranges mismatch: %s", cmp.Diff(want, q.Data.Ranges))
	}
}

func TestMetaBuilderLaterDesc(t *testing.T) {
	topic := testTopic("grpTest")
	q := topic.StartMetaQuery().WithLaterDesc().Build()
	if q.Desc == nil || q.Desc.IfModifiedSince != nil {
		t.Errorf("desc opts = %+v, want unconditional fetch on empty cache", q.Desc)
	}

	upd := types.TimeNow().Add(-time.Hour)
	topic.updated = upd
	q = topic.StartMetaQuery().WithLaterDesc().Build()
	if q.Desc.IfModifiedSince == nil || !q.Desc.IfModifiedSince.Equal(upd) {
		t.Errorf("ims = %v, want %v", q.Desc.IfModifiedSince, upd)
	}
}

func TestMetaBuilderLaterDel(t *testing.T) {
	topic := testTopic("grpTest")
	q := topic.StartMetaQuery().WithLaterDel(12).Build()
	if q.Del.SinceId != 0 {
		t.Errorf("SinceId = %d, want 0 with no recorded deletes", q.Del.SinceId)
	}

	topic.maxDel = 5
	q = topic.StartMetaQuery().WithLaterDel(12).Build()
	if q.Del.SinceId != 6 {
		t.Errorf("SinceId = %d, want 6", q.Del.SinceId)
	}
}

func TestMetaBuilderSubSelector(t *testing.T) {
	// On 'me' the selector picks a topic, elsewhere a user.
	q := testTopic("me").StartMetaQuery().WithOneSub(nil, "grpTest").Build()
	if q.Sub.Topic != "grpTest" || q.Sub.User != "" {
		t.Errorf("me sub opts = %+v, want topic selector", q.Sub)
	}

	q = testTopic("grpTest").StartMetaQuery().WithOneSub(nil, "usrAlice").Build()
	if q.Sub.User != "usrAlice" || q.Sub.Topic != "" {
		t.Errorf("grp sub opts = %+v, want user selector", q.Sub)
	}
}

func TestMetaBuilderWhatOrder(t *testing.T) {
	// Composition order must not leak into the wire format.
	q := testTopic("grpTest").StartMetaQuery().WithAux().WithLaterData(1).WithTags().WithLaterDesc().Build()
	if q.What != "desc data tags aux" {
		t.Errorf("What = %q, want canonical order", q.What)
	}
}

func TestMetaBuilderExtract(t *testing.T) {
	b := testTopic("grpTest").StartMetaQuery().WithLaterData(24).WithTags()

	if opts := b.Extract("data"); opts == nil || opts.Limit != 24 {
		t.Errorf("Extract(data) = %+v", opts)
	}
	if opts := b.Extract("data"); opts != nil {
		t.Error("second Extract(data) returned a value; must be cleared")
	}
	// Flag-only sub-queries extract as empty options, not nil.
	if opts := b.Extract("tags"); opts == nil {
		t.Error("Extract(tags) = nil for a requested flag")
	}

	if q := b.Build(); q != nil {
		t.Errorf("Build() after extracting everything = %+v, want nil", q)
	}
}
