// Package usecases contains application business rules.
// Clean Architecture: Usecases orchestrate entities and depend on port interfaces.
package usecases

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/loglux/RAG-Knowledge-Base-Platform-sub000/internal/domain/entities"
	"github.com/loglux/RAG-Knowledge-Base-Platform-sub000/internal/domain/ports"
	"github.com/loglux/RAG-Knowledge-Base-Platform-sub000/internal/platform/logger"
)

// SessionState is a read-only snapshot of the controller's state.
type SessionState struct {
	ConversationID string
	Messages       []entities.Message
	Loading        bool
	Err            string
	ForceNewChat   bool
}

// SessionController coordinates the active conversation of one knowledge
// base: the ordered message log, optimistic sends and their reconciliation,
// conversation selection, and the persisted session id.
//
// Callers are expected to serialize SendMessage the way the original UI does
// (input disabled while loading); concurrent sends fall back to most-recent
// reconciliation and may misattribute ids. Snapshot is safe from any
// goroutine.
type SessionController struct {
	knowledgeBaseID string
	chat            ports.ChatService
	convs           ports.ConversationService
	store           ports.SessionStore
	defaults        entities.QueryOptions
	onListChanged   func()
	log             *logger.Logger

	mu             sync.Mutex
	conversationID string
	messages       []entities.Message
	loading        bool
	lastErr        string
	forceNewChat   bool
	overrides      map[string]entities.QueryOptions
}

// NewSessionController creates a controller for one knowledge base.
// onListChanged, if non-nil, is invoked (on its own goroutine, never blocking
// the send path) whenever a mutation may have changed the conversation list.
func NewSessionController(
	knowledgeBaseID string,
	chat ports.ChatService,
	convs ports.ConversationService,
	store ports.SessionStore,
	defaults entities.QueryOptions,
	onListChanged func(),
	log *logger.Logger,
) *SessionController {
	return &SessionController{
		knowledgeBaseID: knowledgeBaseID,
		chat:            chat,
		convs:           convs,
		store:           store,
		defaults:        defaults,
		onListChanged:   onListChanged,
		log:             log,
		overrides:       make(map[string]entities.QueryOptions),
	}
}

// Snapshot returns a copy of the current session state.
func (c *SessionController) Snapshot() SessionState {
	c.mu.Lock()
	defer c.mu.Unlock()

	msgs := make([]entities.Message, len(c.messages))
	copy(msgs, c.messages)

	return SessionState{
		ConversationID: c.conversationID,
		Messages:       msgs,
		Loading:        c.loading,
		Err:            c.lastErr,
		ForceNewChat:   c.forceNewChat,
	}
}

// ResolveActive reconciles the active conversation against a freshly fetched
// conversation list. Called whenever the knowledge base changes or the list
// is (re)loaded.
//
//  1. A set conversation id that no longer appears in the list is stale:
//     active state and the persisted id are cleared, then resolution continues.
//  2. While a new chat is forced, no conversation is auto-selected.
//  3. Otherwise the persisted id wins if listed, then the most recent listed
//     conversation; the choice is persisted and its history loaded.
//
// Every failure on this path self-heals to "no active conversation"; nothing
// is surfaced to the caller.
func (c *SessionController) ResolveActive(ctx context.Context, conversations []entities.ConversationSummary) {
	c.mu.Lock()
	current := c.conversationID
	force := c.forceNewChat
	c.mu.Unlock()

	if current != "" {
		if containsConversation(conversations, current) {
			return
		}
		c.log.Info("active conversation no longer listed; resetting",
			"knowledge_base", c.knowledgeBaseID, "conversation", current)
		c.resetActive()
	}

	if force {
		return
	}

	persisted := c.store.Load(c.knowledgeBaseID)
	var chosen string
	switch {
	case persisted != "" && containsConversation(conversations, persisted):
		chosen = persisted
	case len(conversations) > 0:
		// Server order is most-recent-first.
		chosen = conversations[0].ID
	}
	if chosen == "" {
		return
	}

	c.store.Save(c.knowledgeBaseID, chosen)
	c.mu.Lock()
	c.conversationID = chosen
	c.mu.Unlock()

	c.loadHistory(ctx, chosen)
}

// loadHistory replaces the in-memory log with the server's history. A fetch
// failure means the id is invalid: the session resets silently.
func (c *SessionController) loadHistory(ctx context.Context, conversationID string) {
	msgs, err := c.convs.Messages(ctx, conversationID)
	if err != nil {
		c.log.Warn("history load failed; clearing session",
			"conversation", conversationID, "error", err)
		c.resetActive()
		return
	}

	c.mu.Lock()
	c.messages = msgs
	c.mu.Unlock()
}

// SendMessage appends the question optimistically, posts it, and reconciles
// the response into the log. An empty (after trimming) question is rejected
// silently. Send failures become an inline assistant-role error message; the
// session itself never breaks.
func (c *SessionController) SendMessage(ctx context.Context, question string) error {
	q := strings.TrimSpace(question)
	if q == "" {
		return nil
	}

	token := uuid.NewString()

	c.mu.Lock()
	c.messages = append(c.messages, entities.Message{
		ClientID:  token,
		Role:      entities.RoleUser,
		Content:   q,
		Timestamp: timestampNow(),
	})
	c.loading = true
	c.lastErr = ""
	current := c.conversationID
	opts := c.resolveOptionsLocked(current)
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.loading = false
		c.mu.Unlock()
	}()

	res, err := c.chat.Send(ctx, &entities.ChatRequest{
		Question:        q,
		KnowledgeBaseID: c.knowledgeBaseID,
		ConversationID:  current,
		Options:         opts,
	})
	if err != nil {
		c.mu.Lock()
		c.lastErr = err.Error()
		// Synthetic client-only message; it never receives an id.
		c.messages = append(c.messages, entities.Message{
			Role:      entities.RoleAssistant,
			Content:   fmt.Sprintf("Sorry, something went wrong: %s", err.Error()),
			Timestamp: timestampNow(),
		})
		c.mu.Unlock()
		return fmt.Errorf("sending message: %w", err)
	}

	var adopted string
	c.mu.Lock()
	if res.ConversationID != "" && res.ConversationID != c.conversationID {
		c.conversationID = res.ConversationID
		adopted = res.ConversationID
	}

	reconcileUserMessage(c.messages, token, res.UserMessageID)

	c.messages = append(c.messages, entities.Message{
		ID:           res.AssistantMessageID,
		Role:         entities.RoleAssistant,
		Content:      res.Answer,
		Sources:      res.Sources,
		Timestamp:    timestampNow(),
		Model:        res.Model,
		UseSelfCheck: res.UseSelfCheck,
	})

	// A successful send is an explicit attachment to this conversation.
	c.forceNewChat = false
	c.mu.Unlock()

	if adopted != "" {
		c.store.Save(c.knowledgeBaseID, adopted)
	}

	c.notifyListChanged()
	return nil
}

// DeleteMessagePair removes a message server-side (the server decides via the
// pair flag whether the paired turn goes too) and drops every id the server
// reports deleted from the local log. Messages without an id are never
// eligible.
func (c *SessionController) DeleteMessagePair(ctx context.Context, messageID string, pair bool) error {
	c.mu.Lock()
	conversationID := c.conversationID
	c.mu.Unlock()

	if conversationID == "" || messageID == "" {
		return nil
	}

	deleted, err := c.convs.DeleteMessage(ctx, conversationID, messageID, pair)
	if err != nil {
		return fmt.Errorf("deleting message: %w", err)
	}

	removed := make(map[string]struct{}, len(deleted))
	for _, id := range deleted {
		removed[id] = struct{}{}
	}

	c.mu.Lock()
	kept := c.messages[:0]
	for _, m := range c.messages {
		if m.ID != "" {
			if _, gone := removed[m.ID]; gone {
				continue
			}
		}
		kept = append(kept, m)
	}
	c.messages = kept
	c.mu.Unlock()
	return nil
}

// StartNewChat clears the session and pins it to "no conversation" until the
// user explicitly selects one or a send creates one. Without the pin, the
// next list resolution would immediately re-attach the most recent
// conversation.
func (c *SessionController) StartNewChat() {
	c.mu.Lock()
	c.messages = nil
	c.lastErr = ""
	c.conversationID = ""
	c.forceNewChat = true
	c.mu.Unlock()

	c.store.Clear(c.knowledgeBaseID)
}

// SelectConversation makes an existing conversation active and loads its
// history.
func (c *SessionController) SelectConversation(ctx context.Context, conversationID string) {
	c.mu.Lock()
	c.forceNewChat = false
	c.conversationID = conversationID
	c.lastErr = ""
	c.mu.Unlock()

	c.store.Save(c.knowledgeBaseID, conversationID)
	c.loadHistory(ctx, conversationID)
}

// RenameConversation delegates to the remote service and triggers a list
// refresh.
func (c *SessionController) RenameConversation(ctx context.Context, conversationID, title string) error {
	if err := c.convs.Rename(ctx, conversationID, title); err != nil {
		return fmt.Errorf("renaming conversation: %w", err)
	}
	c.notifyListChanged()
	return nil
}

// DeleteConversation deletes a conversation; when it is the active one the
// session resets (without forcing a new chat) and the persisted id is
// cleared. A list refresh is always triggered afterward.
func (c *SessionController) DeleteConversation(ctx context.Context, conversationID string) error {
	if err := c.convs.Delete(ctx, conversationID); err != nil {
		return fmt.Errorf("deleting conversation: %w", err)
	}

	c.mu.Lock()
	wasActive := conversationID == c.conversationID
	if wasActive {
		c.conversationID = ""
		c.messages = nil
		c.lastErr = ""
	}
	c.mu.Unlock()

	if wasActive {
		c.store.Clear(c.knowledgeBaseID)
	}

	c.notifyListChanged()
	return nil
}

// SetConversationOptions installs a per-conversation override for the
// retrieval/generation parameters.
func (c *SessionController) SetConversationOptions(conversationID string, opts entities.QueryOptions) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.overrides[conversationID] = opts
}

// ClearConversationOptions drops a per-conversation override.
func (c *SessionController) ClearConversationOptions(conversationID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.overrides, conversationID)
}

// resetActive clears in-memory and persisted session state.
func (c *SessionController) resetActive() {
	c.mu.Lock()
	c.conversationID = ""
	c.messages = nil
	c.mu.Unlock()

	c.store.Clear(c.knowledgeBaseID)
}

func (c *SessionController) resolveOptionsLocked(conversationID string) entities.QueryOptions {
	if o, ok := c.overrides[conversationID]; ok {
		return ResolveQueryOptions(c.defaults, &o)
	}
	return ResolveQueryOptions(c.defaults, nil)
}

func (c *SessionController) notifyListChanged() {
	if c.onListChanged != nil {
		go c.onListChanged()
	}
}

// reconcileUserMessage assigns the server id to the optimistic message that
// produced it: the correlation token is matched first, then the most recent
// unreconciled user message as a fallback. Both scans run from the end of the
// log because under rapid sends several unreconciled messages can coexist.
func reconcileUserMessage(msgs []entities.Message, token, serverID string) {
	if serverID == "" {
		return
	}
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].ClientID == token && msgs[i].ID == "" {
			msgs[i].ID = serverID
			return
		}
	}
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == entities.RoleUser && msgs[i].ID == "" {
			msgs[i].ID = serverID
			return
		}
	}
}

func containsConversation(list []entities.ConversationSummary, id string) bool {
	for _, c := range list {
		if c.ID == id {
			return true
		}
	}
	return false
}

func timestampNow() string {
	return time.Now().UTC().Format(time.RFC3339)
}
