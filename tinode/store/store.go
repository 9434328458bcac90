// Package store defines the optional persistence boundary of the client
// cache. When no Adapter is configured the cache is memory-only and lost
// across restarts.
package store

import (
	"errors"
	"time"

	"github.com/tinode/gosdk/tinode/types"
)

// ErrNotFound is returned when the requested topic is not persisted.
var ErrNotFound = errors.New("store: not found")

// TopicSnapshot is the persistable projection of a topic's description.
type TopicSnapshot struct {
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time
	TouchedAt time.Time
	SeqID     int
	ReadSeqID int
	RecvSeqID int
	DelID     int
	Acs       types.AccessMode
	Public    any
	Trusted   any
	Private   any
	Tags      []string
}

// Message is the persistable projection of a cached {data} message.
type Message struct {
	Topic     string
	SeqID     int
	From      string
	Timestamp time.Time
	Head      map[string]any
	Content   any
}

// Adapter is the interface to a persistent cache backend.
type Adapter interface {
	// LoadTopic returns the stored snapshot or ErrNotFound.
	LoadTopic(name string) (*TopicSnapshot, error)
	// SaveTopic inserts or replaces the snapshot.
	SaveTopic(name string, snap *TopicSnapshot) error
	// LoadMessages returns stored messages with seq ids within the given
	// range, ordered by seq id ascending.
	LoadMessages(name string, rng types.Range) ([]Message, error)
	// AppendMessage inserts or replaces a message keyed by (topic, seq).
	AppendMessage(name string, msg Message) error
	// DeleteMessages removes stored messages with seq ids within the range.
	DeleteMessages(name string, rng types.Range) error
}
