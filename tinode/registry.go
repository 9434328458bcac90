package tinode

import "sync"

// topicRegistry is the session's cache of topics, keyed by name. Topics are
// created on first use and removed when deleted on the server.
type topicRegistry struct {
	lock   sync.RWMutex
	topics map[string]*Topic
}

func newTopicRegistry() *topicRegistry {
	return &topicRegistry{topics: make(map[string]*Topic)}
}

func (r *topicRegistry) get(name string) *Topic {
	r.lock.RLock()
	defer r.lock.RUnlock()
	return r.topics[name]
}

// getOrCreate returns the cached topic, creating it if absent. The second
// return value reports whether the topic was just created.
func (r *topicRegistry) getOrCreate(sess *Session, name string) (*Topic, bool) {
	r.lock.Lock()
	defer r.lock.Unlock()

	if t := r.topics[name]; t != nil {
		return t, false
	}
	t := newTopic(sess, name)
	r.topics[name] = t
	return t, true
}

func (r *topicRegistry) remove(name string) *Topic {
	r.lock.Lock()
	defer r.lock.Unlock()

	t := r.topics[name]
	delete(r.topics, name)
	return t
}

// rename re-keys a topic after the server assigned its permanent name.
func (r *topicRegistry) rename(oldName, newName string) {
	r.lock.Lock()
	defer r.lock.Unlock()

	if t := r.topics[oldName]; t != nil {
		delete(r.topics, oldName)
		r.topics[newName] = t
	}
}

func (r *topicRegistry) forEach(f func(*Topic)) {
	r.lock.RLock()
	snapshot := make([]*Topic, 0, len(r.topics))
	for _, t := range r.topics {
		snapshot = append(snapshot, t)
	}
	r.lock.RUnlock()

	for _, t := range snapshot {
		f(t)
	}
}

func (r *topicRegistry) count() int {
	r.lock.RLock()
	defer r.lock.RUnlock()
	return len(r.topics)
}
