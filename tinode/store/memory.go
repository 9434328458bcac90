package store

import (
	"sort"
	"sync"

	"github.com/tinode/gosdk/tinode/types"
)

// Memory is an in-process Adapter. It adds nothing over the cache itself but
// serves as the reference implementation and as the test double for backends
// with real persistence.
type Memory struct {
	lock     sync.RWMutex
	topics   map[string]*TopicSnapshot
	messages map[string][]Message
}

// NewMemory creates an empty in-memory adapter.
func NewMemory() *Memory {
	return &Memory{
		topics:   make(map[string]*TopicSnapshot),
		messages: make(map[string][]Message),
	}
}

func (m *Memory) LoadTopic(name string) (*TopicSnapshot, error) {
	m.lock.RLock()
	defer m.lock.RUnlock()

	snap, ok := m.topics[name]
	if !ok {
		return nil, ErrNotFound
	}
	dst := *snap
	return &dst, nil
}

func (m *Memory) SaveTopic(name string, snap *TopicSnapshot) error {
	m.lock.Lock()
	defer m.lock.Unlock()

	dst := *snap
	m.topics[name] = &dst
	return nil
}

func (m *Memory) LoadMessages(name string, rng types.Range) ([]Message, error) {
	m.lock.RLock()
	defer m.lock.RUnlock()

	var out []Message
	for _, msg := range m.messages[name] {
		if rng.Low == 0 || rng.Contains(msg.SeqID) {
			out = append(out, msg)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SeqID < out[j].SeqID })
	return out, nil
}

func (m *Memory) AppendMessage(name string, msg Message) error {
	m.lock.Lock()
	defer m.lock.Unlock()

	list := m.messages[name]
	for i := range list {
		if list[i].SeqID == msg.SeqID {
			list[i] = msg
			return nil
		}
	}
	m.messages[name] = append(list, msg)
	return nil
}

func (m *Memory) DeleteMessages(name string, rng types.Range) error {
	m.lock.Lock()
	defer m.lock.Unlock()

	list := m.messages[name][:0]
	for _, msg := range m.messages[name] {
		if !rng.Contains(msg.SeqID) {
			list = append(list, msg)
		}
	}
	m.messages[name] = list
	return nil
}
