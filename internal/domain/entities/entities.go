// Package entities contains core business entities.
// These are the enterprise business rules - pure domain objects with no external dependencies.
package entities

// Message roles as stored in the conversation log.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message represents one turn in the active conversation log.
// ID is empty immediately after optimistic insertion and is back-filled once
// the server assigns one. ClientID is a locally generated correlation token
// used to match a server response back to its optimistic message; synthetic
// error messages carry neither.
type Message struct {
	ID           string
	ClientID     string
	Role         string
	Content      string
	Sources      []SourceChunk
	Timestamp    string
	Model        string
	UseSelfCheck bool
}

// Reconciled reports whether the message has a server-assigned identity.
func (m Message) Reconciled() bool {
	return m.ID != ""
}

// SourceChunk is a retrieved passage attached to an assistant message.
// Read-only after creation.
type SourceChunk struct {
	Text       string
	Score      float64
	DocumentID string
	Filename   string
	ChunkIndex int
}

// ConversationSummary is the client's view of a server-side conversation.
// Created server-side on first send; the client only reads, renames and
// deletes it. An empty Title means the conversation was never named.
type ConversationSummary struct {
	ID              string
	KnowledgeBaseID string
	Title           string
	CreatedAt       string
	UpdatedAt       string
}

// UntitledLabel is shown (and searched) in place of a missing title.
const UntitledLabel = "Untitled conversation"

// Label returns the display title, falling back for unnamed conversations.
func (c ConversationSummary) Label() string {
	if c.Title == "" {
		return UntitledLabel
	}
	return c.Title
}

// DocumentState is the ingestion lifecycle state of a document.
type DocumentState string

const (
	DocumentPending    DocumentState = "pending"
	DocumentProcessing DocumentState = "processing"
	DocumentCompleted  DocumentState = "completed"
	DocumentFailed     DocumentState = "failed"
)

// DocumentStatus is a point-in-time snapshot of a document's ingestion
// progress, produced only by the status poller's diff step.
type DocumentStatus struct {
	ID                 string
	Status             DocumentState
	ChunkCount         int
	ProgressPercentage float64
	ProcessingStage    string
	ErrorMessage       string
}

// Active reports whether the document still needs polling.
func (d DocumentStatus) Active() bool {
	return d.Status == DocumentPending || d.Status == DocumentProcessing
}

// Changed compares the fields that drive UI updates. ErrorMessage is not
// diffed; it only ever appears together with a state change.
func (d DocumentStatus) Changed(prev DocumentStatus) bool {
	return d.Status != prev.Status ||
		d.ChunkCount != prev.ChunkCount ||
		d.ProgressPercentage != prev.ProgressPercentage ||
		d.ProcessingStage != prev.ProcessingStage
}

// QueryOptions is the full retrieval/generation parameter set carried on
// every chat request. The client only transports these values; scoring and
// generation happen server-side.
type QueryOptions struct {
	TopK               int
	Temperature        float64
	RetrievalMode      string // "vector", "hybrid" or "bm25"
	VectorWeight       float64
	KeywordWeight      float64
	BM25K1             float64
	BM25B              float64
	ScoreThreshold     float64
	MaxContextChars    int
	Model              string
	Provider           string
	UseStructureSearch bool
	UseMMR             bool
	MMRDiversity       float64
	UseSelfCheck       bool
	IncludeHistory     bool
	HistoryLimit       int
	DocumentIDs        []string
	ExpandContext      bool
	ExpandWindow       int
}

// ChatRequest is a question bound for the remote chat endpoint.
// An empty ConversationID signals "create a new conversation".
type ChatRequest struct {
	Question        string
	KnowledgeBaseID string
	ConversationID  string
	Options         QueryOptions
}

// ChatResult is the server's answer to a ChatRequest, including the
// identifiers needed to reconcile the optimistic local log.
type ChatResult struct {
	Answer             string
	Sources            []SourceChunk
	ConversationID     string
	UserMessageID      string
	AssistantMessageID string
	Model              string
	UseMMR             bool
	MMRDiversity       float64
	UseSelfCheck       bool
}
