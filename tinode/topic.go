/******************************************************************************
 *
 *  Description :
 *
 *    Topic: the locally cached view of one conversation. Holds the
 *    description, the access mode, the subscriber roster and the message
 *    cache. Mutated by the session's frame dispatch and by completions of
 *    user calls; both are serialized on the topic lock.
 *
 *****************************************************************************/

package tinode

import (
	"context"
	"sync"
	"time"

	"github.com/tinode/gosdk/tinode/drafty"
	"github.com/tinode/gosdk/tinode/logs"
	"github.com/tinode/gosdk/tinode/store"
	"github.com/tinode/gosdk/tinode/types"
)

// Subscription is a cached subscriber record: another user's relationship
// with this topic, or, in 'me' topic listings, this user's relationship with
// another topic.
type Subscription struct {
	// Subscriber's user id; empty in 'me' listings.
	User string
	// Subscribed topic name; set in 'me' listings only.
	Topic string

	Updated time.Time
	// Tombstone: subscription was terminated at this time. Kept so removal
	// can be told apart from "never subscribed".
	Deleted *time.Time

	Online bool
	Acs    types.AccessMode

	// Watermarks reported by this subscriber. Never move backwards.
	ReadSeqId int
	RecvSeqId int

	// 'me' listings: topic's last message id and delete id.
	SeqId int
	DelId int

	Public  any
	Trusted any
	Private any

	TouchedAt *time.Time
	LastSeen  *MsgLastSeenInfo
}

// TopicListener receives notifications of topic state changes. All callbacks
// are invoked on the frame dispatch path with the topic lock released; a nil
// listener or nil callback is skipped.
type TopicListener struct {
	OnData        func(*Message)
	OnMeta        func(*MsgServerMeta)
	OnPres        func(*MsgServerPres)
	OnInfo        func(*MsgServerInfo)
	OnMetaDesc    func(*Topic)
	OnMetaSub     func(*Subscription)
	OnSubsUpdated func([]string)
	OnTagsUpdated func([]string)
	OnAuxUpdated  func(map[string]any)
	OnDeleteTopic func()
	// Contact state change in the 'me' topic: what is one of the {pres}
	// "what" values, src names the affected contact.
	OnContactUpdate func(what, src string)
}

// Topic is the client-side cache of one conversation.
type Topic struct {
	name string
	sess *Session

	// Guards all mutable state below. User calls that await a server reply
	// release the lock for the duration of the wait.
	lock sync.Mutex

	created time.Time
	updated time.Time
	touched time.Time

	acs    types.AccessMode
	defacs *MsgDefaultAcsMode

	public  any
	trusted any
	private any
	tags    []string
	aux     map[string]any
	cred    []*MsgCredServer

	// Server-side high-water marks.
	seq    int
	read   int
	recv   int
	maxDel int

	unread int
	online bool
	isChan bool

	// True while this session is attached to the topic.
	attached bool

	subs map[string]*Subscription
	// Watermark of the newest subscription update, drives delta queries.
	subsUpdated time.Time

	cache msgCache
	// Ranges known to be deleted on the server. Holes they create in the
	// cache are not gaps to be fetched.
	delRanges []types.Range

	listener *TopicListener
}

func newTopic(sess *Session, name string) *Topic {
	return &Topic{
		name: name,
		sess: sess,
		subs: make(map[string]*Subscription),
	}
}

// SetListener attaches the notification callbacks.
func (t *Topic) SetListener(l *TopicListener) {
	t.lock.Lock()
	t.listener = l
	t.lock.Unlock()
}

func (t *Topic) Name() string {
	return t.name
}

// Type derives the topic category from the name.
func (t *Topic) Type() types.TopicCat {
	return types.GetTopicCat(t.name)
}

func (t *Topic) IsMeType() bool    { return t.Type() == types.TopicCatMe }
func (t *Topic) IsSelfType() bool  { return t.name == "slf" }
func (t *Topic) IsGroupType() bool { return t.Type() == types.TopicCatGrp }
func (t *Topic) IsP2PType() bool   { return t.Type() == types.TopicCatP2P }
func (t *Topic) IsCommType() bool  { return types.IsCommName(t.name) }

func (t *Topic) IsChannelType() bool {
	t.lock.Lock()
	defer t.lock.Unlock()
	return t.isChan || types.IsChannelName(t.name)
}

// IsSubscribed reports whether the session is currently attached.
func (t *Topic) IsSubscribed() bool {
	t.lock.Lock()
	defer t.lock.Unlock()
	return t.attached
}

func (t *Topic) Created() time.Time {
	t.lock.Lock()
	defer t.lock.Unlock()
	return t.created
}

func (t *Topic) Updated() time.Time {
	t.lock.Lock()
	defer t.lock.Unlock()
	return t.updated
}

func (t *Topic) Touched() time.Time {
	t.lock.Lock()
	defer t.lock.Unlock()
	return t.touched
}

func (t *Topic) Online() bool {
	t.lock.Lock()
	defer t.lock.Unlock()
	return t.online
}

func (t *Topic) SeqId() int {
	t.lock.Lock()
	defer t.lock.Unlock()
	return t.seq
}

func (t *Topic) Unread() int {
	t.lock.Lock()
	defer t.lock.Unlock()
	return t.unread
}

func (t *Topic) Public() any {
	t.lock.Lock()
	defer t.lock.Unlock()
	return t.public
}

func (t *Topic) Trusted() any {
	t.lock.Lock()
	defer t.lock.Unlock()
	return t.trusted
}

func (t *Topic) Private() any {
	t.lock.Lock()
	defer t.lock.Unlock()
	return t.private
}

// IsArchived is derived from the private payload.
func (t *Topic) IsArchived() bool {
	t.lock.Lock()
	defer t.lock.Unlock()
	return isArchivedPayload(t.private)
}

func isArchivedPayload(private any) bool {
	p, ok := private.(map[string]any)
	if !ok {
		return false
	}
	arch, _ := p["arch"].(bool)
	return arch
}

// Tags returns a copy of the cached tags.
func (t *Topic) Tags() []string {
	t.lock.Lock()
	defer t.lock.Unlock()
	if t.tags == nil {
		return nil
	}
	tags := make([]string, len(t.tags))
	copy(tags, t.tags)
	return tags
}

// Aux returns one auxiliary record by key.
func (t *Topic) Aux(key string) any {
	t.lock.Lock()
	defer t.lock.Unlock()
	return t.aux[key]
}

// GetAccessMode returns a copy of the current user's access mode; derived
// flags must be recomputed from it, never cached separately.
func (t *Topic) GetAccessMode() *types.AccessMode {
	t.lock.Lock()
	defer t.lock.Unlock()
	dst := t.acs
	return &dst
}

// SetAccessMode overwrites the cached access mode from its wire form.
func (t *Topic) SetAccessMode(acs *MsgAccessMode) *types.AccessMode {
	t.lock.Lock()
	defer t.lock.Unlock()
	if acs != nil {
		t.acs.AssignAll(acs.Mode, acs.Given, acs.Want)
	}
	dst := t.acs
	return &dst
}

// GetDefaultAccess returns the topic's default access template.
func (t *Topic) GetDefaultAccess() *MsgDefaultAcsMode {
	t.lock.Lock()
	defer t.lock.Unlock()
	return t.defacs
}

// Subscriber returns the cached subscription of the given user, tombstones
// included.
func (t *Topic) Subscriber(uid string) *Subscription {
	t.lock.Lock()
	defer t.lock.Unlock()
	return t.subs[uid]
}

// Subscribers iterates the subscriber map. Iteration order is unspecified.
func (t *Topic) Subscribers(f func(*Subscription) bool) {
	t.lock.Lock()
	defer t.lock.Unlock()
	for _, sub := range t.subs {
		if !f(sub) {
			break
		}
	}
}

// StartMetaQuery initializes a query builder bound to this topic's cached
// watermarks.
func (t *Topic) StartMetaQuery() *MetaGetBuilder {
	return newMetaGetBuilder(t)
}

func (t *Topic) subsUpdatedPtr() *time.Time {
	t.lock.Lock()
	defer t.lock.Unlock()
	if t.subsUpdated.IsZero() {
		return nil
	}
	upd := t.subsUpdated
	return &upd
}

// Message cache accessors.

// FindMessage returns the cached message with the given seq id.
func (t *Topic) FindMessage(seq int) *Message {
	t.lock.Lock()
	defer t.lock.Unlock()
	return t.cache.find(seq)
}

// LatestMessage returns the most recent cached message.
func (t *Topic) LatestMessage() *Message {
	t.lock.Lock()
	defer t.lock.Unlock()
	if n := len(t.cache.list); n > 0 {
		return t.cache.list[n-1]
	}
	return nil
}

// LatestMsgVersion returns the newest edit of the message with the given
// original seq id, following the edit chain.
func (t *Topic) LatestMsgVersion(seq int) *Message {
	t.lock.Lock()
	defer t.lock.Unlock()
	return t.cache.latestVersion(seq)
}

// MessageVersions iterates the edit chain of the given original message.
func (t *Topic) MessageVersions(seq int, f func(*Message) bool) {
	t.lock.Lock()
	defer t.lock.Unlock()
	for _, v := range t.cache.versions[seq] {
		if !f(v) {
			break
		}
	}
}

// MaxMsgSeq is the greatest server-assigned seq id in the cache.
func (t *Topic) MaxMsgSeq() int {
	t.lock.Lock()
	defer t.lock.Unlock()
	return t.cache.maxSeq()
}

// MinMsgSeq is the lowest server-assigned seq id in the cache.
func (t *Topic) MinMsgSeq() int {
	t.lock.Lock()
	defer t.lock.Unlock()
	return t.cache.minSeq()
}

// MaxDelId is the id of the latest known delete operation.
func (t *Topic) MaxDelId() int {
	t.lock.Lock()
	defer t.lock.Unlock()
	return t.maxDel
}

func (t *Topic) MessageCount() int {
	t.lock.Lock()
	defer t.lock.Unlock()
	return t.cache.count()
}

// Messages iterates cached messages with seq ids in [since, before); zero
// bounds are unbounded.
func (t *Topic) Messages(since, before int, f func(*Message) bool) {
	t.lock.Lock()
	defer t.lock.Unlock()
	t.cache.forEach(since, before, f)
}

// QueuedMessages iterates locally originated messages which have not been
// acknowledged.
func (t *Topic) QueuedMessages(f func(*Message) bool) {
	t.lock.Lock()
	defer t.lock.Unlock()
	t.cache.forEach(0, 0, func(msg *Message) bool {
		if !msg.Pending() {
			return true
		}
		return f(msg)
	})
}

// IsNewMessage reports whether the seq id is greater than anything cached.
func (t *Topic) IsNewMessage(seq int) bool {
	t.lock.Lock()
	defer t.lock.Unlock()
	return seq >= t.cache.maxSeq()
}

// FlushMessage evicts one message from the in-memory cache. Purely local,
// not a server delete. Returns the evicted message, if any.
func (t *Topic) FlushMessage(seq int) *Message {
	t.lock.Lock()
	defer t.lock.Unlock()
	if evicted := t.cache.remove(seq, seq+1); len(evicted) > 0 {
		return evicted[0]
	}
	return nil
}

// FlushMessageRange evicts messages with seq ids in [since, before) from the
// in-memory cache. Watermarks are recomputed from the remaining entries.
func (t *Topic) FlushMessageRange(since, before int) []*Message {
	t.lock.Lock()
	defer t.lock.Unlock()
	return t.cache.remove(since, before)
}

// MsgReceiptCount counts subscribers whose recorded read or recv watermark
// covers the given seq id. The current user is excluded.
func (t *Topic) MsgReceiptCount(what string, seq int) int {
	t.lock.Lock()
	defer t.lock.Unlock()

	if seq <= 0 {
		return 0
	}
	me := t.sess.currentUser()
	count := 0
	for uid, sub := range t.subs {
		if uid == me || sub.Deleted != nil {
			continue
		}
		switch what {
		case "read":
			if sub.ReadSeqId >= seq {
				count++
			}
		case "recv":
			if sub.RecvSeqId >= seq {
				count++
			}
		}
	}
	return count
}

func (t *Topic) MsgReadCount(seq int) int {
	return t.MsgReceiptCount("read", seq)
}

func (t *Topic) MsgRecvCount(seq int) int {
	return t.MsgReceiptCount("recv", seq)
}

// MsgHasMoreMessages computes the sub-ranges of [min, max] which exist on
// the server but are neither cached nor known to be deleted. With newer set
// the ranges are ordered ascending, otherwise descending so the caller
// fetches the closest page first.
func (t *Topic) MsgHasMoreMessages(min, max int, newer bool) []types.Range {
	t.lock.Lock()
	defer t.lock.Unlock()

	if min <= 0 {
		min = 1
	}
	// Ids past the server watermark do not exist yet.
	hi := max + 1
	if t.seq > 0 && hi > t.seq+1 {
		hi = t.seq + 1
	}
	if hi <= min {
		return nil
	}

	// Everything cached or deleted is covered; the complement is the gaps.
	var covered []types.Range
	for _, msg := range t.cache.list {
		if IsServerAssignedSeq(msg.SeqId) {
			covered = append(covered, types.Range{Low: msg.SeqId})
		}
	}
	covered = append(covered, t.delRanges...)
	covered = types.NormalizeRanges(covered)

	var gaps []types.Range
	low := min
	for _, r := range covered {
		if r.Hi <= low {
			continue
		}
		if r.Low >= hi {
			break
		}
		if r.Low > low {
			gaps = append(gaps, types.Range{Low: low, Hi: minInt(r.Low, hi)})
		}
		if r.Hi > low {
			low = r.Hi
		}
	}
	if low < hi {
		gaps = append(gaps, types.Range{Low: low, Hi: hi})
	}

	if !newer {
		for i, j := 0, len(gaps)-1; i < j; i, j = i+1, j-1 {
			gaps[i], gaps[j] = gaps[j], gaps[i]
		}
	}
	return gaps
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// Network operations.

// Subscribe attaches the session to the topic, optionally fetching metadata
// and applying initialization parameters. Queued messages are retransmitted
// after a successful attach.
func (t *Topic) Subscribe(ctx context.Context, get *MsgGetQuery, set *MsgSetQuery) (*MsgServerCtrl, error) {
	ctrl, err := t.sess.subscribe(ctx, t.name, get, set)
	if err != nil {
		return nil, err
	}

	t.lock.Lock()
	t.attached = true
	if ctrl.Topic != "" && ctrl.Topic != t.name {
		// Server assigned the permanent name to a new topic.
		t.sess.registry.rename(t.name, ctrl.Topic)
		t.name = ctrl.Topic
	}
	if params, ok := ctrl.Params.(map[string]any); ok {
		if acs, ok := params["acs"].(map[string]any); ok {
			mode, _ := acs["mode"].(string)
			given, _ := acs["given"].(string)
			want, _ := acs["want"].(string)
			t.acs.AssignAll(mode, given, want)
		}
	}
	t.lock.Unlock()

	t.resendQueued(ctx)
	return ctrl, nil
}

// Leave detaches from the topic; with unsub set the subscription itself is
// terminated.
func (t *Topic) Leave(ctx context.Context, unsub bool) (*MsgServerCtrl, error) {
	ctrl, err := t.sess.leave(ctx, t.name, unsub)
	if err != nil {
		return nil, err
	}

	t.lock.Lock()
	t.attached = false
	t.lock.Unlock()
	if unsub {
		t.sess.registry.remove(t.name)
	}
	return ctrl, nil
}

// CreateMessage makes a draft message in QUEUED state without sending it.
// Content may be a plain string or a drafty document.
func (t *Topic) CreateMessage(content any, noEcho bool) *Message {
	t.lock.Lock()
	defer t.lock.Unlock()

	head := make(map[string]any)
	if !drafty.IsPlainText(content) {
		head["mime"] = drafty.ContentType
	}
	if urls := drafty.EntityURLs(content); len(urls) > 0 {
		// Out-of-band attachment metadata must accompany the publish.
		head["attachments"] = urls
	}
	if len(head) == 0 {
		head = nil
	}

	msg := &Message{
		SeqId:     t.cache.nextLocalSeq(),
		From:      t.sess.currentUser(),
		Timestamp: types.TimeNow(),
		Head:      head,
		Content:   content,
		Status:    StatusQueued,
		noEcho:    noEcho,
	}
	t.cache.insert(msg)
	return msg
}

// Publish creates a message and sends it.
func (t *Topic) Publish(ctx context.Context, content any, noEcho bool) (*MsgServerCtrl, error) {
	return t.PublishMessage(ctx, t.CreateMessage(content, noEcho))
}

// PublishMessage sends a previously created draft. Only one send attempt per
// message may be in flight; a concurrent attempt is rejected.
func (t *Topic) PublishMessage(ctx context.Context, msg *Message) (*MsgServerCtrl, error) {
	t.lock.Lock()
	if msg.Status == StatusSending {
		t.lock.Unlock()
		return nil, ErrCacheInconsistency
	}
	if msg.Status == StatusCancelled || msg.Status == StatusFatal {
		t.lock.Unlock()
		return nil, ErrCancelled
	}
	msg.Status = StatusSending
	localSeq := msg.SeqId
	t.lock.Unlock()

	ctrl, err := t.sess.publish(ctx, t.name, msg)

	t.lock.Lock()
	defer t.lock.Unlock()

	if err != nil {
		switch {
		case err == ErrDisconnected || err == ErrNotConnected:
			// Eligible for automatic retry on reconnect, unless cancelled
			// while in flight.
			if msg.Status == StatusSending {
				msg.Status = StatusQueued
			}
		case isServerError(err, 400, 500):
			// Payload rejected; retrying the same message cannot succeed.
			msg.Status = StatusFatal
		default:
			msg.Status = StatusFailed
		}
		return nil, err
	}

	if msg.Status == StatusSending {
		msg.Status = StatusSent
	}
	msg.clientId = ""
	if seq := ctrlParamInt(ctrl, "seq"); seq > 0 {
		t.swapMessageIdLocked(localSeq, seq)
	}
	return ctrl, nil
}

func isServerError(err error, lo, hi int) bool {
	se, ok := err.(*ServerError)
	return ok && se.Code >= lo && se.Code < hi
}

// swapMessageIdLocked re-keys an acknowledged message to its server-assigned
// seq id and updates the topic watermark.
func (t *Topic) swapMessageIdLocked(localSeq, seq int) {
	if msg := t.cache.swapId(localSeq, seq); msg == nil {
		logs.Warn.Println("topic: ack for unknown message", t.name, localSeq)
	}
	if seq > t.seq {
		t.seq = seq
	}
}

// resendQueued retransmits messages stuck in QUEUED state, oldest first.
func (t *Topic) resendQueued(ctx context.Context) {
	var queued []*Message
	t.lock.Lock()
	t.cache.forEach(0, 0, func(msg *Message) bool {
		if msg.Pending() && msg.Status == StatusQueued {
			queued = append(queued, msg)
		}
		return true
	})
	t.lock.Unlock()

	for _, msg := range queued {
		if _, err := t.PublishMessage(ctx, msg); err != nil {
			logs.Warn.Println("topic: resend failed", t.name, err)
			return
		}
	}
}

// CancelSend aborts a queued or failed outbound message. Returns false once
// the message has been acknowledged: a sent message cannot be recalled.
func (t *Topic) CancelSend(seq int) bool {
	t.lock.Lock()
	defer t.lock.Unlock()

	msg := t.cache.find(seq)
	if msg == nil || !msg.Pending() {
		return false
	}
	switch msg.Status {
	case StatusSent, StatusReceived, StatusRead:
		return false
	}
	msg.Status = StatusCancelled
	t.cache.remove(seq, seq+1)
	return true
}

// GetMeta queries topic metadata. The response arrives as {meta} frames
// routed into the cache; the returned ctrl only closes the exchange.
func (t *Topic) GetMeta(ctx context.Context, query *MsgGetQuery) (*MsgServerCtrl, error) {
	return t.sess.getMeta(ctx, t.name, query)
}

// GetMessagesPage requests one page of messages toward the given window:
// cached gaps are fetched by ranges, the rest by the before/since bounds.
func (t *Topic) GetMessagesPage(ctx context.Context, limit int, min, max int, newer bool) (*MsgServerCtrl, error) {
	gaps := t.MsgHasMoreMessages(min, max, newer)
	if len(gaps) == 0 {
		return nil, nil
	}
	query := t.StartMetaQuery().WithDataRanges(gaps, limit).Build()
	return t.sess.getMeta(ctx, t.name, query)
}

// SetMeta updates topic metadata on the server and applies the accepted
// changes to the local cache.
func (t *Topic) SetMeta(ctx context.Context, params *MsgSetQuery) (*MsgServerCtrl, error) {
	ctrl, err := t.sess.setMeta(ctx, t.name, params)
	if err != nil {
		return nil, err
	}

	t.lock.Lock()
	if params.Desc != nil {
		if params.Desc.Public != nil {
			t.public = params.Desc.Public
		}
		if params.Desc.Private != nil {
			t.private = params.Desc.Private
		}
		if params.Desc.DefaultAcs != nil {
			t.defacs = params.Desc.DefaultAcs
		}
	}
	if params.Tags != nil {
		t.tags = params.Tags
	}
	if params.Aux != nil {
		if t.aux == nil {
			t.aux = make(map[string]any)
		}
		for k, v := range params.Aux {
			t.aux[k] = v
		}
	}
	t.lock.Unlock()
	return ctrl, nil
}

// UpdateMode requests a change of the access mode: own 'want' when uid is
// empty, the user's 'given' otherwise.
func (t *Topic) UpdateMode(ctx context.Context, uid, update string) (*MsgServerCtrl, error) {
	t.lock.Lock()
	var mode types.AccessBits
	if uid == "" {
		mode = t.acs.Want.Update(update)
	} else if sub := t.subs[uid]; sub != nil {
		mode = sub.Acs.Given.Update(update)
	} else {
		mode = types.ParseAccessBits(update)
	}
	t.lock.Unlock()

	if mode.IsInvalid() {
		return nil, &ServerError{Code: 400, Text: "invalid access mode update"}
	}
	return t.SetMeta(ctx, &MsgSetQuery{Sub: &MsgSetSub{User: uid, Mode: mode.String()}})
}

// Invite adds a user to the topic with the given access mode.
func (t *Topic) Invite(ctx context.Context, uid, mode string) (*MsgServerCtrl, error) {
	return t.SetMeta(ctx, &MsgSetQuery{Sub: &MsgSetSub{User: uid, Mode: mode}})
}

// Archive sets or clears the archived flag in the private payload.
func (t *Topic) Archive(ctx context.Context, arch bool) (*MsgServerCtrl, error) {
	if t.IsArchived() == arch {
		return nil, nil
	}
	return t.SetMeta(ctx, &MsgSetQuery{Desc: &MsgSetDesc{Private: map[string]any{"arch": arch}}})
}

// DelMessages requests deletion of messages in the given ranges.
func (t *Topic) DelMessages(ctx context.Context, ranges []types.Range, hard bool) (*MsgServerCtrl, error) {
	ctrl, err := t.sess.delMessages(ctx, t.name, ranges, hard)
	if err != nil {
		return nil, err
	}

	t.lock.Lock()
	for _, r := range ranges {
		hi := r.Hi
		if hi <= r.Low {
			hi = r.Low + 1
		}
		t.cache.remove(r.Low, hi)
		t.delRanges = append(t.delRanges, types.Range{Low: r.Low, Hi: hi})
	}
	t.delRanges = types.NormalizeRanges(t.delRanges)
	if del := ctrlParamInt(ctrl, "del"); del > t.maxDel {
		t.maxDel = del
	}
	t.lock.Unlock()
	t.persistDelete(ranges)
	t.persist()
	return ctrl, nil
}

// DelMessagesAll requests deletion of all messages in the topic.
func (t *Topic) DelMessagesAll(ctx context.Context, hard bool) (*MsgServerCtrl, error) {
	t.lock.Lock()
	seq := t.seq
	t.lock.Unlock()
	if seq == 0 {
		return nil, nil
	}
	return t.DelMessages(ctx, []types.Range{{Low: 1, Hi: seq + 1}}, hard)
}

// DelMessagesList requests deletion of messages by a flat list of ids.
func (t *Topic) DelMessagesList(ctx context.Context, list []int, hard bool) (*MsgServerCtrl, error) {
	return t.DelMessages(ctx, types.ListToRanges(list), hard)
}

// DelMessagesEdits deletes the original message together with all its edited
// versions.
func (t *Topic) DelMessagesEdits(ctx context.Context, seq int, hard bool) (*MsgServerCtrl, error) {
	list := []int{seq}
	t.MessageVersions(seq, func(v *Message) bool {
		list = append(list, v.SeqId)
		return true
	})
	return t.DelMessagesList(ctx, list, hard)
}

// DelTopic deletes the topic from the server and removes it from the local
// registry.
func (t *Topic) DelTopic(ctx context.Context, hard bool) (*MsgServerCtrl, error) {
	ctrl, err := t.sess.delTopic(ctx, t.name, hard)
	if err != nil {
		return nil, err
	}
	t.gone()
	return ctrl, nil
}

// DelSubscription evicts a user from the topic. The subscription record is
// kept as a tombstone.
func (t *Topic) DelSubscription(ctx context.Context, uid string) (*MsgServerCtrl, error) {
	ctrl, err := t.sess.delSubscription(ctx, t.name, uid)
	if err != nil {
		return nil, err
	}

	t.lock.Lock()
	if sub := t.subs[uid]; sub != nil {
		now := types.TimeNow()
		sub.Deleted = &now
	}
	t.lock.Unlock()
	return ctrl, nil
}

// Note sends a read/recv receipt. Fire and forget, no acknowledgment.
func (t *Topic) Note(what string, seq int) {
	t.lock.Lock()
	update := false
	switch what {
	case "read":
		if seq > t.read {
			t.read = seq
			t.unread = t.countUnreadLocked()
			update = true
		}
	case "recv":
		if seq > t.recv {
			t.recv = seq
			update = true
		}
	}
	unread := t.unread
	t.lock.Unlock()

	if update {
		t.sess.note(t.name, what, seq, unread)
	}
}

// NoteRecv reports the message as received by this client.
func (t *Topic) NoteRecv(seq int) {
	t.Note("recv", seq)
}

// NoteRead reports the message as read. Zero seq reports the latest one.
func (t *Topic) NoteRead(seq int) {
	if seq <= 0 {
		seq = t.SeqId()
	}
	t.Note("read", seq)
}

// NoteKeyPress sends a typing notification.
func (t *Topic) NoteKeyPress() {
	t.sess.note(t.name, "kp", 0, 0)
}

func (t *Topic) countUnreadLocked() int {
	if t.seq > t.read {
		return t.seq - t.read
	}
	return 0
}

// Frame processing. All route* methods run on the session's dispatch path.

func (t *Topic) routeData(data *MsgServerData) {
	t.lock.Lock()

	msg := &Message{
		SeqId:     data.SeqId,
		From:      data.From,
		Timestamp: data.Timestamp,
		Head:      data.Head,
		Content:   data.Content,
	}
	cached, merged := t.cache.insert(msg)
	if !merged && t.cache.find(data.SeqId) != cached {
		// Dedup failed to keep a single entry; a defect, not a condition to
		// silently self-heal.
		logs.Err.Println("topic: duplicate seq survived dedup", t.name, data.SeqId)
	}
	if data.SeqId > t.seq {
		t.seq = data.SeqId
		t.unread = t.countUnreadLocked()
	}
	if !data.Timestamp.IsZero() && data.Timestamp.After(t.touched) {
		t.touched = data.Timestamp
	}
	listener := t.listener
	t.lock.Unlock()

	t.persistMessage(data)
	if listener != nil && listener.OnData != nil {
		listener.OnData(cached)
	}
}

func (t *Topic) routeMeta(meta *MsgServerMeta) {
	if meta.Desc != nil {
		t.processMetaDesc(meta.Desc)
	}
	if len(meta.Sub) > 0 {
		t.processMetaSubs(meta.Sub)
	}
	if meta.Del != nil {
		t.processMetaDel(meta.Del)
	}
	if meta.Tags != nil {
		t.processMetaTags(meta.Tags)
	}
	if meta.Cred != nil {
		t.processMetaCreds(meta.Cred)
	}
	if meta.Aux != nil {
		t.processMetaAux(meta.Aux)
	}

	t.lock.Lock()
	listener := t.listener
	t.lock.Unlock()
	if listener != nil && listener.OnMeta != nil {
		listener.OnMeta(meta)
	}
}

func (t *Topic) processMetaDesc(desc *MsgTopicDesc) {
	t.lock.Lock()

	if desc.CreatedAt != nil {
		t.created = *desc.CreatedAt
	}
	if desc.UpdatedAt != nil && desc.UpdatedAt.After(t.updated) {
		t.updated = *desc.UpdatedAt
	}
	if desc.TouchedAt != nil && desc.TouchedAt.After(t.touched) {
		t.touched = *desc.TouchedAt
	}
	if desc.Acs != nil {
		t.acs.AssignAll(desc.Acs.Mode, desc.Acs.Given, desc.Acs.Want)
	}
	if desc.DefaultAcs != nil {
		t.defacs = desc.DefaultAcs
	}
	if desc.Public != nil {
		t.public = desc.Public
	}
	if desc.Trusted != nil {
		t.trusted = desc.Trusted
	}
	if desc.Private != nil {
		t.private = desc.Private
	}
	if desc.SeqId > t.seq {
		t.seq = desc.SeqId
	}
	if desc.ReadSeqId > t.read {
		t.read = desc.ReadSeqId
	}
	if desc.RecvSeqId > t.recv {
		t.recv = desc.RecvSeqId
	}
	if desc.DelId > t.maxDel {
		t.maxDel = desc.DelId
	}
	t.unread = t.countUnreadLocked()
	t.online = desc.Online
	t.isChan = t.isChan || desc.IsChan
	listener := t.listener
	t.lock.Unlock()

	t.persist()
	if listener != nil && listener.OnMetaDesc != nil {
		listener.OnMetaDesc(t)
	}
}

// processMetaSubs merges subscription updates into the roster. Subscriptions
// reported deleted become tombstones; subscriber watermarks never regress.
func (t *Topic) processMetaSubs(subs []MsgTopicSub) {
	t.lock.Lock()

	var updated []string
	listener := t.listener
	var notify []*Subscription
	for i := range subs {
		upd := &subs[i]
		key := upd.User
		if t.isMeLocked() && upd.Topic != "" {
			key = upd.Topic
		}
		if key == "" {
			logs.Warn.Println("topic: sub update without user or topic", t.name)
			continue
		}

		sub := t.subs[key]
		if sub == nil {
			sub = &Subscription{User: upd.User, Topic: upd.Topic}
			t.subs[key] = sub
		}
		mergeSubscription(sub, upd)
		if upd.UpdatedAt != nil && upd.UpdatedAt.After(t.subsUpdated) {
			t.subsUpdated = *upd.UpdatedAt
		}
		updated = append(updated, key)
		notify = append(notify, sub)
	}
	t.lock.Unlock()

	if listener != nil {
		if listener.OnMetaSub != nil {
			for _, sub := range notify {
				listener.OnMetaSub(sub)
			}
		}
		if listener.OnSubsUpdated != nil && len(updated) > 0 {
			listener.OnSubsUpdated(updated)
		}
	}

	// 'me' subscriptions describe other topics; push the new watermarks into
	// their caches.
	if t.IsMeType() {
		for i := range subs {
			t.sess.updateContact(&subs[i])
		}
	}
}

func (t *Topic) isMeLocked() bool {
	return t.name == "me"
}

func mergeSubscription(sub *Subscription, upd *MsgTopicSub) {
	if upd.UpdatedAt != nil {
		sub.Updated = *upd.UpdatedAt
	}
	if upd.DeletedAt != nil {
		sub.Deleted = upd.DeletedAt
		sub.Online = false
		return
	}
	sub.Deleted = nil
	sub.Online = upd.Online
	sub.Acs.AssignAll(upd.Acs.Mode, upd.Acs.Given, upd.Acs.Want)
	// Receipt watermarks are monotonic: a stale lower value must not clobber
	// a higher one already recorded.
	if upd.ReadSeqId > sub.ReadSeqId {
		sub.ReadSeqId = upd.ReadSeqId
	}
	if upd.RecvSeqId > sub.RecvSeqId {
		sub.RecvSeqId = upd.RecvSeqId
	}
	if sub.ReadSeqId > sub.RecvSeqId {
		sub.RecvSeqId = sub.ReadSeqId
	}
	if upd.SeqId > sub.SeqId {
		sub.SeqId = upd.SeqId
	}
	if upd.DelId > sub.DelId {
		sub.DelId = upd.DelId
	}
	if upd.Public != nil {
		sub.Public = upd.Public
	}
	if upd.Trusted != nil {
		sub.Trusted = upd.Trusted
	}
	if upd.Private != nil {
		sub.Private = upd.Private
	}
	if upd.TouchedAt != nil {
		sub.TouchedAt = upd.TouchedAt
	}
	if upd.LastSeen != nil {
		sub.LastSeen = upd.LastSeen
	}
}

func (t *Topic) processMetaDel(del *MsgDelValues) {
	t.lock.Lock()
	for _, r := range del.DelSeq {
		hi := r.Hi
		if hi <= r.Low {
			hi = r.Low + 1
		}
		t.cache.remove(r.Low, hi)
		t.delRanges = append(t.delRanges, types.Range{Low: r.Low, Hi: hi})
	}
	t.delRanges = types.NormalizeRanges(t.delRanges)
	if del.DelId > t.maxDel {
		t.maxDel = del.DelId
	}
	t.lock.Unlock()
	t.persistDelete(del.DelSeq)
}

func (t *Topic) processMetaTags(tags []string) {
	t.lock.Lock()
	t.tags = tags
	listener := t.listener
	t.lock.Unlock()
	if listener != nil && listener.OnTagsUpdated != nil {
		listener.OnTagsUpdated(tags)
	}
}

func (t *Topic) processMetaCreds(cred []*MsgCredServer) {
	t.lock.Lock()
	t.cred = cred
	t.lock.Unlock()
}

func (t *Topic) processMetaAux(aux map[string]any) {
	t.lock.Lock()
	if t.aux == nil {
		t.aux = make(map[string]any)
	}
	for k, v := range aux {
		if v == nil {
			delete(t.aux, k)
		} else {
			t.aux[k] = v
		}
	}
	listener := t.listener
	snapshot := t.aux
	t.lock.Unlock()
	if listener != nil && listener.OnAuxUpdated != nil {
		listener.OnAuxUpdated(snapshot)
	}
}

// Credentials returns cached account credentials; 'me' topic only.
func (t *Topic) Credentials() []*MsgCredServer {
	t.lock.Lock()
	defer t.lock.Unlock()
	return t.cred
}

func (t *Topic) routePres(pres *MsgServerPres) {
	if t.IsMeType() && pres.Src != "" {
		t.routeMePres(pres)
		return
	}

	t.lock.Lock()
	switch pres.What {
	case "on", "off":
		if sub := t.subs[pres.Src]; sub != nil {
			sub.Online = pres.What == "on"
		}
	case "msg":
		if pres.SeqId > t.seq {
			t.seq = pres.SeqId
			t.unread = t.countUnreadLocked()
		}
	case "acs":
		if pres.Acs != nil {
			target := pres.AcsTarget
			if target == "" || target == t.sess.currentUser() {
				t.applyAcsDeltaLocked(&t.acs, pres.Acs)
			} else if sub := t.subs[target]; sub != nil {
				t.applyAcsDeltaLocked(&sub.Acs, pres.Acs)
			}
		}
	case "del":
		for _, r := range pres.DelSeq {
			hi := r.Hi
			if hi <= r.Low {
				hi = r.Low + 1
			}
			t.cache.remove(r.Low, hi)
			t.delRanges = append(t.delRanges, types.Range{Low: r.Low, Hi: hi})
		}
		t.delRanges = types.NormalizeRanges(t.delRanges)
		if pres.DelId > t.maxDel {
			t.maxDel = pres.DelId
		}
	case "term":
		t.attached = false
	}
	listener := t.listener
	t.lock.Unlock()

	if pres.What == "gone" {
		t.gone()
		return
	}
	if listener != nil && listener.OnPres != nil {
		listener.OnPres(pres)
	}
}

// applyAcsDeltaLocked applies a {pres} "dacs" update: values starting with
// '+'/'-' are deltas, others are absolute assignments.
func (t *Topic) applyAcsDeltaLocked(acs *types.AccessMode, d *MsgAccessMode) {
	apply := func(cur types.AccessBits, v string) types.AccessBits {
		if v == "" {
			return cur
		}
		if v[0] == '+' || v[0] == '-' {
			return cur.Update(v)
		}
		return types.ParseAccessBits(v)
	}
	acs.Mode = apply(acs.Mode, d.Mode)
	acs.Given = apply(acs.Given, d.Given)
	acs.Want = apply(acs.Want, d.Want)
}

// routeMePres handles contact updates delivered to the 'me' topic: src names
// the affected contact topic.
func (t *Topic) routeMePres(pres *MsgServerPres) {
	src := pres.Src
	t.lock.Lock()
	sub := t.subs[src]
	if sub != nil {
		switch pres.What {
		case "on":
			sub.Online = true
		case "off":
			sub.Online = false
		case "msg":
			if pres.SeqId > sub.SeqId {
				sub.SeqId = pres.SeqId
			}
		case "read":
			if pres.SeqId > sub.ReadSeqId {
				sub.ReadSeqId = pres.SeqId
			}
		case "recv":
			if pres.SeqId > sub.RecvSeqId {
				sub.RecvSeqId = pres.SeqId
			}
		case "acs":
			if pres.Acs != nil {
				t.applyAcsDeltaLocked(&sub.Acs, pres.Acs)
			}
		case "gone":
			now := types.TimeNow()
			sub.Deleted = &now
			sub.Online = false
		}
	}
	listener := t.listener
	t.lock.Unlock()

	// Mirror the update into the contact's own cache if present.
	if contact := t.sess.registry.get(src); contact != nil {
		contact.contactUpdate(pres)
	}
	if listener != nil && listener.OnContactUpdate != nil {
		listener.OnContactUpdate(pres.What, src)
	}
	if listener != nil && listener.OnPres != nil {
		listener.OnPres(pres)
	}
}

// contactUpdate applies a 'me'-delivered presence event to this topic's own
// cached state.
func (t *Topic) contactUpdate(pres *MsgServerPres) {
	t.lock.Lock()
	switch pres.What {
	case "on":
		t.online = true
	case "off":
		t.online = false
	case "msg":
		if pres.SeqId > t.seq {
			t.seq = pres.SeqId
			t.unread = t.countUnreadLocked()
		}
	case "read":
		if pres.SeqId > t.read {
			t.read = pres.SeqId
			t.unread = t.countUnreadLocked()
		}
	case "recv":
		if pres.SeqId > t.recv {
			t.recv = pres.SeqId
		}
	case "acs":
		if pres.Acs != nil {
			t.applyAcsDeltaLocked(&t.acs, pres.Acs)
		}
	}
	t.lock.Unlock()
	if pres.What == "gone" {
		t.gone()
	}
}

func (t *Topic) routeInfo(info *MsgServerInfo) {
	t.lock.Lock()
	if info.What == "recv" || info.What == "read" {
		if sub := t.subs[info.From]; sub != nil {
			// Monotonic: ignore receipts below the recorded watermark.
			switch info.What {
			case "recv":
				if info.SeqId > sub.RecvSeqId {
					sub.RecvSeqId = info.SeqId
				}
			case "read":
				if info.SeqId > sub.ReadSeqId {
					sub.ReadSeqId = info.SeqId
				}
				if sub.ReadSeqId > sub.RecvSeqId {
					sub.RecvSeqId = sub.ReadSeqId
				}
			}
		}
		t.upgradeMessageStatusLocked(info.What, info.SeqId)
	}
	listener := t.listener
	t.lock.Unlock()

	if listener != nil && listener.OnInfo != nil {
		listener.OnInfo(info)
	}
}

// upgradeMessageStatusLocked advances delivery state of own sent messages
// covered by the receipt.
func (t *Topic) upgradeMessageStatusLocked(what string, seq int) {
	target := StatusReceived
	if what == "read" {
		target = StatusRead
	}
	t.cache.forEach(0, seq+1, func(msg *Message) bool {
		if msg.Status >= StatusSent && msg.Status < target {
			msg.Status = target
		}
		return true
	})
}

// gone removes the topic: server reported it deleted.
func (t *Topic) gone() {
	t.lock.Lock()
	t.attached = false
	listener := t.listener
	t.lock.Unlock()

	t.sess.registry.remove(t.name)
	if listener != nil && listener.OnDeleteTopic != nil {
		listener.OnDeleteTopic()
	}
}

// disconnected is invoked on connection loss: in-flight messages revert to
// QUEUED so they are retried on reconnect, never stuck in SENDING.
func (t *Topic) disconnected() {
	t.lock.Lock()
	t.attached = false
	t.cache.forEach(0, 0, func(msg *Message) bool {
		if msg.Status == StatusSending {
			msg.Status = StatusQueued
		}
		return true
	})
	t.lock.Unlock()
}

// Persistence hooks; no-ops without a configured store adapter.

func (t *Topic) persist() {
	adapter := t.sess.storeAdapter()
	if adapter == nil {
		return
	}

	t.lock.Lock()
	snap := &store.TopicSnapshot{
		Name:      t.name,
		CreatedAt: t.created,
		UpdatedAt: t.updated,
		TouchedAt: t.touched,
		SeqID:     t.seq,
		ReadSeqID: t.read,
		RecvSeqID: t.recv,
		DelID:     t.maxDel,
		Acs:       t.acs,
		Public:    t.public,
		Trusted:   t.trusted,
		Private:   t.private,
		Tags:      t.tags,
	}
	t.lock.Unlock()

	if err := adapter.SaveTopic(snap.Name, snap); err != nil {
		logs.Warn.Println("topic: persist failed", snap.Name, err)
	}
}

func (t *Topic) persistMessage(data *MsgServerData) {
	adapter := t.sess.storeAdapter()
	if adapter == nil {
		return
	}
	err := adapter.AppendMessage(t.name, store.Message{
		Topic:     t.name,
		SeqID:     data.SeqId,
		From:      data.From,
		Timestamp: data.Timestamp,
		Head:      data.Head,
		Content:   data.Content,
	})
	if err != nil {
		logs.Warn.Println("topic: message persist failed", t.name, err)
	}
}

func (t *Topic) persistDelete(ranges []types.Range) {
	adapter := t.sess.storeAdapter()
	if adapter == nil {
		return
	}
	for _, r := range ranges {
		hi := r.Hi
		if hi <= r.Low {
			hi = r.Low + 1
		}
		if err := adapter.DeleteMessages(t.name, types.Range{Low: r.Low, Hi: hi}); err != nil {
			logs.Warn.Println("topic: delete persist failed", t.name, err)
		}
	}
}

// restore loads the persisted snapshot and messages into an empty cache.
func (t *Topic) restore() {
	adapter := t.sess.storeAdapter()
	if adapter == nil {
		return
	}

	snap, err := adapter.LoadTopic(t.name)
	if err != nil {
		if err != store.ErrNotFound {
			logs.Warn.Println("topic: restore failed", t.name, err)
		}
		return
	}
	msgs, _ := adapter.LoadMessages(t.name, types.Range{})

	t.lock.Lock()
	t.created = snap.CreatedAt
	t.updated = snap.UpdatedAt
	t.touched = snap.TouchedAt
	t.seq = snap.SeqID
	t.read = snap.ReadSeqID
	t.recv = snap.RecvSeqID
	t.maxDel = snap.DelID
	t.acs = snap.Acs
	t.public = snap.Public
	t.trusted = snap.Trusted
	t.private = snap.Private
	t.tags = snap.Tags
	t.unread = t.countUnreadLocked()
	for _, m := range msgs {
		t.cache.insert(&Message{
			SeqId:     m.SeqID,
			From:      m.From,
			Timestamp: m.Timestamp,
			Head:      m.Head,
			Content:   m.Content,
		})
	}
	t.lock.Unlock()
}

// ctrlParamInt extracts an integer parameter from a ctrl message.
func ctrlParamInt(ctrl *MsgServerCtrl, name string) int {
	if ctrl == nil {
		return 0
	}
	params, ok := ctrl.Params.(map[string]any)
	if !ok {
		return 0
	}
	switch v := params[name].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return 0
}
