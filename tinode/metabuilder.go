/******************************************************************************
 *
 *  Description :
 *
 *    Helper for composing {get} queries against topic metadata. Uses the
 *    owning topic's cached state to request only deltas where possible.
 *
 *****************************************************************************/

package tinode

import (
	"strings"
	"time"

	"github.com/tinode/gosdk/tinode/types"
)

// Keywords of {get} sub-queries in canonical order.
var metaWhatOrder = []string{"desc", "sub", "data", "del", "tags", "cred", "aux"}

// MetaGetBuilder incrementally composes a single metadata query. Repeated
// calls for the same sub-query replace the earlier value: an explicit
// WithData overrides a previously composed WithLaterData and vice versa.
type MetaGetBuilder struct {
	topic *Topic
	what  map[string]*MsgGetOpts
}

func newMetaGetBuilder(t *Topic) *MetaGetBuilder {
	return &MetaGetBuilder{
		topic: t,
		what:  make(map[string]*MsgGetOpts),
	}
}

// WithData requests messages within explicit bounds. Zero values are omitted
// from the query.
func (b *MetaGetBuilder) WithData(since, before, limit int) *MetaGetBuilder {
	b.what["data"] = &MsgGetOpts{SinceId: since, BeforeId: before, Limit: limit}
	return b
}

// WithLaterData requests messages newer than the newest cached one. With an
// empty cache it degrades to an unbounded initial fetch: a "later" request
// against empty state must not return empty.
func (b *MetaGetBuilder) WithLaterData(limit int) *MetaGetBuilder {
	since := 0
	if max := b.topic.MaxMsgSeq(); max > 0 {
		since = max + 1
	}
	return b.WithData(since, 0, limit)
}

// WithEarlierData requests messages older than the oldest cached one.
func (b *MetaGetBuilder) WithEarlierData(limit int) *MetaGetBuilder {
	before := 0
	if min := b.topic.MinMsgSeq(); min > 1 {
		before = min
	}
	return b.WithData(0, before, limit)
}

// WithDataRanges requests messages in the given id ranges. Ranges are passed
// through as supplied; the server merges overlaps.
func (b *MetaGetBuilder) WithDataRanges(ranges []types.Range, limit int) *MetaGetBuilder {
	b.what["data"] = &MsgGetOpts{Ranges: ranges, Limit: limit}
	return b
}

// WithDataList requests messages by a flat list of ids, converted to minimal
// closed-open ranges to reduce payload size.
func (b *MetaGetBuilder) WithDataList(list []int) *MetaGetBuilder {
	return b.WithDataRanges(types.ListToRanges(list), 0)
}

// WithDesc requests the topic description if modified since ims. Nil ims
// requests it unconditionally.
func (b *MetaGetBuilder) WithDesc(ims *time.Time) *MetaGetBuilder {
	b.what["desc"] = &MsgGetOpts{IfModifiedSince: ims}
	return b
}

// WithLaterDesc requests the description only if newer than the cached copy.
// With no cached description this is an unconditional initial fetch.
func (b *MetaGetBuilder) WithLaterDesc() *MetaGetBuilder {
	var ims *time.Time
	if upd := b.topic.Updated(); !upd.IsZero() {
		ims = &upd
	}
	return b.WithDesc(ims)
}

// WithSub requests subscriptions modified since ims. For the 'me' topic
// userOrTopic selects one topic, otherwise one user.
func (b *MetaGetBuilder) WithSub(ims *time.Time, limit int, userOrTopic string) *MetaGetBuilder {
	opts := &MsgGetOpts{IfModifiedSince: ims, Limit: limit}
	if b.topic.Type() == types.TopicCatMe {
		opts.Topic = userOrTopic
	} else {
		opts.User = userOrTopic
	}
	b.what["sub"] = opts
	return b
}

// WithOneSub requests a single subscription.
func (b *MetaGetBuilder) WithOneSub(ims *time.Time, userOrTopic string) *MetaGetBuilder {
	return b.WithSub(ims, 0, userOrTopic)
}

// WithLaterOneSub requests a single subscription if updated since the last
// cached subscription update.
func (b *MetaGetBuilder) WithLaterOneSub(userOrTopic string) *MetaGetBuilder {
	return b.WithOneSub(b.topic.subsUpdatedPtr(), userOrTopic)
}

// WithLaterSub requests subscriptions updated since the last cached
// subscription update; unconditional with an empty cache.
func (b *MetaGetBuilder) WithLaterSub(limit int) *MetaGetBuilder {
	return b.WithSub(b.topic.subsUpdatedPtr(), limit, "")
}

// WithTags requests topic tags.
func (b *MetaGetBuilder) WithTags() *MetaGetBuilder {
	b.what["tags"] = nil
	return b
}

// WithCred requests account credentials; 'me' topic only.
func (b *MetaGetBuilder) WithCred() *MetaGetBuilder {
	b.what["cred"] = nil
	return b
}

// WithAux requests auxiliary topic data.
func (b *MetaGetBuilder) WithAux() *MetaGetBuilder {
	b.what["aux"] = nil
	return b
}

// WithDel requests the log of message deletions starting with the given del
// id. Zero since requests the full log.
func (b *MetaGetBuilder) WithDel(since, limit int) *MetaGetBuilder {
	b.what["del"] = &MsgGetOpts{SinceId: since, Limit: limit}
	return b
}

// WithLaterDel requests deletions which happened after the latest recorded
// delete operation.
func (b *MetaGetBuilder) WithLaterDel(limit int) *MetaGetBuilder {
	since := 0
	if del := b.topic.MaxDelId(); del > 0 {
		since = del + 1
	}
	return b.WithDel(since, limit)
}

// Extract returns one sub-query and removes it from the builder, so the
// caller can send sub-requests separately.
func (b *MetaGetBuilder) Extract(what string) *MsgGetOpts {
	opts, ok := b.what[what]
	if !ok {
		return nil
	}
	delete(b.what, what)
	if opts == nil {
		// Flag-only sub-query (tags, cred, aux).
		opts = &MsgGetOpts{}
	}
	return opts
}

// Build assembles the composed query. Returns nil when no sub-query was ever
// populated: nothing to fetch, the caller should skip the request.
func (b *MetaGetBuilder) Build() *MsgGetQuery {
	if len(b.what) == 0 {
		return nil
	}

	var keys []string
	query := &MsgGetQuery{}
	for _, w := range metaWhatOrder {
		opts, ok := b.what[w]
		if !ok {
			continue
		}
		keys = append(keys, w)
		switch w {
		case "desc":
			query.Desc = opts
		case "sub":
			query.Sub = opts
		case "data":
			query.Data = opts
		case "del":
			query.Del = opts
		}
	}
	query.What = strings.Join(keys, " ")
	return query
}
