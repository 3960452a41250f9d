package sessionstore

import "sync"

// MemoryStore is an in-memory ports.SessionStore. It backs tests and serves
// as the fallback when durable storage cannot be opened: sessions then simply
// do not survive a restart, matching the "no persisted id" degradation.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemoryStore creates an empty in-memory session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string]string)}
}

// Load returns the stored conversation id, or "" when none is set.
func (s *MemoryStore) Load(knowledgeBaseID string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.values[StorageKey(knowledgeBaseID)]
}

// Save stores the active conversation id.
func (s *MemoryStore) Save(knowledgeBaseID, conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[StorageKey(knowledgeBaseID)] = conversationID
}

// Clear removes the stored id.
func (s *MemoryStore) Clear(knowledgeBaseID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, StorageKey(knowledgeBaseID))
}
