package usecases

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/loglux/RAG-Knowledge-Base-Platform-sub000/internal/domain/entities"
	"github.com/loglux/RAG-Knowledge-Base-Platform-sub000/internal/domain/ports"
	"github.com/loglux/RAG-Knowledge-Base-Platform-sub000/internal/platform/logger"
)

// DefaultPageSize is the conversation list page size when none is configured.
const DefaultPageSize = 10

// ConversationList keeps a denormalized client copy of the server's
// conversation list plus the derived view state: free-text search,
// pagination, and the row currently being renamed in place.
//
// The server list is authoritative for existence and ordering; everything
// derived here (filtering, pages) is recomputed from it and never written
// back.
type ConversationList struct {
	svc ports.ConversationService
	log *logger.Logger

	mu        sync.Mutex
	items     []entities.ConversationSummary
	search    string
	pageSize  int
	page      int
	editingID string
	draft     string
}

// NewConversationList creates an empty list view backed by the remote service.
func NewConversationList(svc ports.ConversationService, log *logger.Logger) *ConversationList {
	return &ConversationList{
		svc:      svc,
		log:      log,
		pageSize: DefaultPageSize,
		page:     1,
	}
}

// Refresh replaces the client copy with the server's list.
func (l *ConversationList) Refresh(ctx context.Context, knowledgeBaseID string) error {
	items, err := l.svc.List(ctx, knowledgeBaseID)
	if err != nil {
		l.log.Warn("conversation list refresh failed",
			"knowledge_base", knowledgeBaseID, "error", err)
		return fmt.Errorf("listing conversations: %w", err)
	}

	l.mu.Lock()
	l.items = items
	l.mu.Unlock()
	return nil
}

// Items returns a copy of the full (unfiltered) list in server order.
func (l *ConversationList) Items() []entities.ConversationSummary {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]entities.ConversationSummary, len(l.items))
	copy(out, l.items)
	return out
}

// SetSearch updates the filter term and resets pagination to the first page.
func (l *ConversationList) SetSearch(term string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if term == l.search {
		return
	}
	l.search = term
	l.page = 1
}

// Search returns the current filter term.
func (l *ConversationList) Search() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.search
}

// SetPageSize updates the page size and resets to the first page.
func (l *ConversationList) SetPageSize(size int) {
	if size <= 0 {
		size = DefaultPageSize
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if size == l.pageSize {
		return
	}
	l.pageSize = size
	l.page = 1
}

// SetPage moves to the requested page, clamped to the valid range for the
// current filter.
func (l *ConversationList) SetPage(page int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	total := l.totalPagesLocked()
	if page < 1 {
		page = 1
	}
	if page > total {
		page = total
	}
	l.page = page
}

// Page returns the effective current page. When filtering shrank the result
// set below the stored page, the value clamps down rather than pointing past
// the end.
func (l *ConversationList) Page() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.effectivePageLocked()
}

// TotalPages returns the page count for the current filter, at least 1.
func (l *ConversationList) TotalPages() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.totalPagesLocked()
}

// Filtered returns all conversations matching the search term, in server
// order. Matching is a case-insensitive substring test against the display
// label (title or the untitled fallback) and the raw id.
func (l *ConversationList) Filtered() []entities.ConversationSummary {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.filteredLocked()
}

// PageItems returns the conversations visible on the effective current page.
func (l *ConversationList) PageItems() []entities.ConversationSummary {
	l.mu.Lock()
	defer l.mu.Unlock()

	filtered := l.filteredLocked()
	page := l.effectivePageLocked()

	start := (page - 1) * l.pageSize
	if start >= len(filtered) {
		return nil
	}
	end := start + l.pageSize
	if end > len(filtered) {
		end = len(filtered)
	}
	return filtered[start:end]
}

// Rename delegates to the remote service. The caller refreshes afterwards;
// the denormalized copy stays untouched until then.
func (l *ConversationList) Rename(ctx context.Context, conversationID, title string) error {
	if err := l.svc.Rename(ctx, conversationID, title); err != nil {
		return fmt.Errorf("renaming conversation: %w", err)
	}
	return nil
}

// Delete delegates to the remote service.
func (l *ConversationList) Delete(ctx context.Context, conversationID string) error {
	if err := l.svc.Delete(ctx, conversationID); err != nil {
		return fmt.Errorf("deleting conversation: %w", err)
	}
	return nil
}

// BeginEdit marks a row as being renamed and seeds the draft title.
func (l *ConversationList) BeginEdit(conversationID, currentTitle string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.editingID = conversationID
	l.draft = currentTitle
}

// SetDraft updates the in-progress rename text.
func (l *ConversationList) SetDraft(text string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.draft = text
}

// EditingID returns the id of the row being renamed, or "".
func (l *ConversationList) EditingID() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.editingID
}

// Draft returns the in-progress rename text.
func (l *ConversationList) Draft() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.draft
}

// ResetEdit abandons any in-place rename. Called when a different
// conversation is selected or a new chat starts.
func (l *ConversationList) ResetEdit() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.editingID = ""
	l.draft = ""
}

func (l *ConversationList) filteredLocked() []entities.ConversationSummary {
	if l.search == "" {
		out := make([]entities.ConversationSummary, len(l.items))
		copy(out, l.items)
		return out
	}

	term := strings.ToLower(l.search)
	var out []entities.ConversationSummary
	for _, c := range l.items {
		if strings.Contains(strings.ToLower(c.Label()), term) ||
			strings.Contains(strings.ToLower(c.ID), term) {
			out = append(out, c)
		}
	}
	return out
}

func (l *ConversationList) totalPagesLocked() int {
	count := len(l.filteredLocked())
	if count == 0 {
		return 1
	}
	return (count + l.pageSize - 1) / l.pageSize
}

func (l *ConversationList) effectivePageLocked() int {
	total := l.totalPagesLocked()
	if l.page > total {
		return total
	}
	if l.page < 1 {
		return 1
	}
	return l.page
}
