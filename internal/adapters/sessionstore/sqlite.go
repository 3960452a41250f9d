// Package sessionstore provides session persistence adapters.
// Clean Architecture: Adapters implementing ports.SessionStore.
// The durable variant keeps one row per knowledge base in SQLite; every
// operation is best-effort because a broken store must degrade to "no
// persisted session", never break the chat session itself.
package sessionstore

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/loglux/RAG-Knowledge-Base-Platform-sub000/internal/platform/logger"
)

// keyPrefix matches the storage key layout of the original client:
// one value per knowledge base under "chat_conversation_<knowledgeBaseID>".
const keyPrefix = "chat_conversation_"

// StorageKey returns the store key for a knowledge base.
func StorageKey(knowledgeBaseID string) string {
	return keyPrefix + knowledgeBaseID
}

// SQLiteStore implements ports.SessionStore with SQLite-based persistence.
type SQLiteStore struct {
	mu   sync.Mutex
	db   *sql.DB
	path string
	log  *logger.Logger
}

// NewSQLiteStore creates a persistent session store under dataPath.
func NewSQLiteStore(dataPath string, log *logger.Logger) (*SQLiteStore, error) {
	if dataPath == "" {
		dataPath = "./data"
	}

	if err := os.MkdirAll(dataPath, 0755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	dbPath := filepath.Join(dataPath, "sessions.db")
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	store := &SQLiteStore{
		db:   db,
		path: dbPath,
		log:  log,
	}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}

	return store, nil
}

// initSchema creates the necessary table.
func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS active_conversations (
		storage_key TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Load returns the persisted conversation id for a knowledge base, or ""
// when nothing is stored or the store is unavailable.
func (s *SQLiteStore) Load(knowledgeBaseID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var id string
	err := s.db.QueryRow(
		"SELECT conversation_id FROM active_conversations WHERE storage_key = ?",
		StorageKey(knowledgeBaseID),
	).Scan(&id)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			s.log.Warn("session load failed", "knowledge_base", knowledgeBaseID, "error", err)
		}
		return ""
	}
	return id
}

// Save persists the active conversation id. Failures are logged, not surfaced.
func (s *SQLiteStore) Save(knowledgeBaseID, conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO active_conversations (storage_key, conversation_id, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
	`, StorageKey(knowledgeBaseID), conversationID)
	if err != nil {
		s.log.Warn("session save failed", "knowledge_base", knowledgeBaseID, "error", err)
	}
}

// Clear removes the persisted id. Failures are logged, not surfaced.
func (s *SQLiteStore) Clear(knowledgeBaseID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		"DELETE FROM active_conversations WHERE storage_key = ?",
		StorageKey(knowledgeBaseID),
	)
	if err != nil {
		s.log.Warn("session clear failed", "knowledge_base", knowledgeBaseID, "error", err)
	}
}

// Path returns the database file path, for the store watcher.
func (s *SQLiteStore) Path() string {
	return s.path
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
