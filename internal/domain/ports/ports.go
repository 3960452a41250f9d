// Package ports defines interfaces for external dependencies.
// Clean Architecture: These are the boundaries - usecases depend on these abstractions,
// not concrete implementations. Adapters implement these interfaces.
// This follows Dependency Inversion Principle (DIP) strictly.
package ports

import (
	"context"
	"errors"

	"github.com/loglux/RAG-Knowledge-Base-Platform-sub000/internal/domain/entities"
)

// ErrConversationNotFound marks a stale conversation reference: the server no
// longer knows the id. Callers treat it as a reset signal, not a failure.
var ErrConversationNotFound = errors.New("conversation not found")

// ChatService sends questions to the remote knowledge-base chat endpoint.
// Single Responsibility: Only the send operation, nothing else.
type ChatService interface {
	// Send posts a question and returns the server's answer together with
	// the ids needed to reconcile the optimistic local log.
	Send(ctx context.Context, req *entities.ChatRequest) (*entities.ChatResult, error)
}

// ConversationService manages server-side conversation records.
type ConversationService interface {
	// List returns all conversations for a knowledge base, server-ordered
	// (most recent first).
	List(ctx context.Context, knowledgeBaseID string) ([]entities.ConversationSummary, error)

	// Messages returns the ordered message history of a conversation.
	// Returns ErrConversationNotFound for unknown ids.
	Messages(ctx context.Context, conversationID string) ([]entities.Message, error)

	// Rename sets or clears a conversation title. An empty title clears it.
	Rename(ctx context.Context, conversationID, title string) error

	// Delete removes a conversation and its messages server-side.
	Delete(ctx context.Context, conversationID string) error

	// DeleteMessage removes a message, optionally together with its paired
	// turn; the server decides the final set and returns every deleted id.
	DeleteMessage(ctx context.Context, conversationID, messageID string, pair bool) ([]string, error)
}

// DocumentStatusService reports ingestion progress for a single document.
type DocumentStatusService interface {
	// Status fetches the current ingestion snapshot for a document.
	Status(ctx context.Context, documentID string) (*entities.DocumentStatus, error)
}

// SessionStore persists the active conversation id per knowledge base.
// All operations are best-effort: storage failures are handled (and logged)
// inside the implementation, never surfaced to callers. This mirrors the
// durable-local-storage semantics the engine was designed around.
type SessionStore interface {
	// Load returns the persisted conversation id, or "" when none is stored
	// or the backing store is unavailable.
	Load(knowledgeBaseID string) string

	// Save persists the active conversation id for a knowledge base.
	Save(knowledgeBaseID, conversationID string)

	// Clear removes the persisted id for a knowledge base.
	Clear(knowledgeBaseID string)
}

// StoreEvent signals that the persisted session state changed outside this
// process (another tab or instance wrote the store; last write wins).
type StoreEvent struct {
	Path string
}

// StoreWatcher monitors the session store for external changes.
type StoreWatcher interface {
	// Watch starts monitoring and emits events until ctx is done.
	Watch(ctx context.Context) (<-chan StoreEvent, error)

	// Stop stops the watcher.
	Stop() error
}
