/******************************************************************************
 *
 *  Description :
 *
 *    Per-topic message cache: ordered, deduplicated by seq id, with edit
 *    chains and the lifecycle of locally originated messages.
 *
 *****************************************************************************/

package tinode

import (
	"sort"
	"strconv"
	"strings"
	"time"
)

// Pending messages get provisional seq ids at or above this value until the
// server assigns the real one.
const localSeqStart = 0x7FFFFFF

// IsServerAssignedSeq distinguishes authoritative seq ids from provisional
// ids of unacknowledged messages.
func IsServerAssignedSeq(seq int) bool {
	return seq > 0 && seq < localSeqStart
}

// MessageStatus is the local lifecycle state of a message.
type MessageStatus int

const (
	// StatusNone: message status not assigned (not locally originated).
	StatusNone MessageStatus = iota
	// StatusQueued: created but not yet sent.
	StatusQueued
	// StatusSending: send attempt in progress.
	StatusSending
	// StatusFailed: send failed after the attempt, eligible for retry.
	StatusFailed
	// StatusFatal: send failed irrecoverably, no retries.
	StatusFatal
	// StatusCancelled: aborted by the user before acknowledgment.
	StatusCancelled
	// StatusSent: acknowledged by the server, seq id assigned.
	StatusSent
	// StatusReceived: received by at least one recipient.
	StatusReceived
	// StatusRead: read by at least one recipient.
	StatusRead
)

func (s MessageStatus) String() string {
	switch s {
	case StatusQueued:
		return "queued"
	case StatusSending:
		return "sending"
	case StatusFailed:
		return "failed"
	case StatusFatal:
		return "fatal"
	case StatusCancelled:
		return "cancelled"
	case StatusSent:
		return "sent"
	case StatusReceived:
		return "received"
	case StatusRead:
		return "read"
	}
	return "none"
}

// Message is a cached {data} message. Until acknowledged a locally originated
// message is keyed by a provisional seq id >= localSeqStart.
type Message struct {
	// Server-assigned seq id, or a provisional local one while pending.
	SeqId int
	// Sender's user id; empty for system messages.
	From      string
	Timestamp time.Time
	Head      map[string]any
	Content   any
	// Lifecycle state of a locally originated message; StatusNone otherwise.
	Status MessageStatus

	// Correlation id of the outstanding {pub}, cleared on acknowledgment.
	clientId string
	noEcho   bool
}

// Pending reports whether the message has not been acknowledged yet.
func (m *Message) Pending() bool {
	return !IsServerAssignedSeq(m.SeqId)
}

// ReplacesSeq returns the seq id of the message this one edits, or 0.
// An edit carries head["replace"] == ":origSeq".
func (m *Message) ReplacesSeq() int {
	if m.Head == nil {
		return 0
	}
	ref, _ := m.Head["replace"].(string)
	if !strings.HasPrefix(ref, ":") {
		return 0
	}
	seq, err := strconv.Atoi(ref[1:])
	if err != nil || seq <= 0 {
		return 0
	}
	return seq
}

// msgCache holds messages of one topic ordered by seq id, plus edit chains
// keyed by the original seq id.
type msgCache struct {
	list []*Message
	// Versions of edited messages, original seq id -> versions in seq order.
	versions map[int][]*Message
}

// search returns the insertion index for seq.
func (c *msgCache) search(seq int) int {
	return sort.Search(len(c.list), func(i int) bool {
		return c.list[i].SeqId >= seq
	})
}

func (c *msgCache) find(seq int) *Message {
	idx := c.search(seq)
	if idx < len(c.list) && c.list[idx].SeqId == seq {
		return c.list[idx]
	}
	return nil
}

// insert adds the message or, if the seq id is already cached, merges into
// the existing entry. Returns the cached message and whether it was merged.
// Edits are registered in the version chain of the original message.
func (c *msgCache) insert(msg *Message) (*Message, bool) {
	if orig := msg.ReplacesSeq(); orig > 0 {
		c.addVersion(orig, msg)
	}

	idx := c.search(msg.SeqId)
	if idx < len(c.list) && c.list[idx].SeqId == msg.SeqId {
		cached := c.list[idx]
		cached.From = msg.From
		cached.Head = msg.Head
		cached.Content = msg.Content
		if !msg.Timestamp.IsZero() {
			cached.Timestamp = msg.Timestamp
		}
		if msg.Status != StatusNone {
			cached.Status = msg.Status
		}
		return cached, true
	}

	c.list = append(c.list, nil)
	copy(c.list[idx+1:], c.list[idx:])
	c.list[idx] = msg
	return msg, false
}

func (c *msgCache) addVersion(orig int, msg *Message) {
	if c.versions == nil {
		c.versions = make(map[int][]*Message)
	}
	chain := c.versions[orig]
	for i, v := range chain {
		if v.SeqId == msg.SeqId {
			chain[i] = msg
			return
		}
	}
	chain = append(chain, msg)
	sort.Slice(chain, func(i, j int) bool { return chain[i].SeqId < chain[j].SeqId })
	c.versions[orig] = chain
}

// latestVersion returns the newest edit of the message with the given
// original seq id, or the message itself if never edited, or nil if unknown.
func (c *msgCache) latestVersion(orig int) *Message {
	if chain := c.versions[orig]; len(chain) > 0 {
		return chain[len(chain)-1]
	}
	return c.find(orig)
}

// remove deletes messages with seq ids in [since, before) and returns them.
// Version chains referencing removed originals are dropped too.
func (c *msgCache) remove(since, before int) []*Message {
	lo := c.search(since)
	hi := c.search(before)
	if lo >= hi {
		return nil
	}

	evicted := make([]*Message, hi-lo)
	copy(evicted, c.list[lo:hi])
	c.list = append(c.list[:lo], c.list[hi:]...)
	for _, msg := range evicted {
		delete(c.versions, msg.SeqId)
	}
	return evicted
}

// swapId re-keys a pending message from its provisional id to the
// server-assigned one, keeping the list ordered.
func (c *msgCache) swapId(oldSeq, newSeq int) *Message {
	idx := c.search(oldSeq)
	if idx >= len(c.list) || c.list[idx].SeqId != oldSeq {
		return nil
	}

	msg := c.list[idx]
	c.list = append(c.list[:idx], c.list[idx+1:]...)
	msg.SeqId = newSeq
	c.insert(msg)

	if chain, ok := c.versions[oldSeq]; ok {
		delete(c.versions, oldSeq)
		c.versions[newSeq] = chain
	}
	return msg
}

// minSeq is the lowest server-assigned seq id in the cache, 0 when empty.
func (c *msgCache) minSeq() int {
	for _, msg := range c.list {
		if IsServerAssignedSeq(msg.SeqId) {
			return msg.SeqId
		}
	}
	return 0
}

// maxSeq is the greatest server-assigned seq id in the cache, 0 when empty.
func (c *msgCache) maxSeq() int {
	for i := len(c.list) - 1; i >= 0; i-- {
		if IsServerAssignedSeq(c.list[i].SeqId) {
			return c.list[i].SeqId
		}
	}
	return 0
}

func (c *msgCache) count() int {
	return len(c.list)
}

// nextLocalSeq returns a provisional seq id greater than any cached one.
func (c *msgCache) nextLocalSeq() int {
	if n := len(c.list); n > 0 && c.list[n-1].SeqId >= localSeqStart {
		return c.list[n-1].SeqId + 1
	}
	return localSeqStart
}

// forEach calls f for cached messages with seq in [since, before), in seq
// order. Zero bounds mean unbounded. Iteration stops when f returns false.
func (c *msgCache) forEach(since, before int, f func(*Message) bool) {
	for _, msg := range c.list {
		if since > 0 && msg.SeqId < since {
			continue
		}
		if before > 0 && msg.SeqId >= before {
			break
		}
		if !f(msg) {
			break
		}
	}
}
