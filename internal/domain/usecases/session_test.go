package usecases

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/loglux/RAG-Knowledge-Base-Platform-sub000/internal/domain/entities"
	"github.com/loglux/RAG-Knowledge-Base-Platform-sub000/internal/domain/ports"
	"github.com/loglux/RAG-Knowledge-Base-Platform-sub000/internal/platform/logger"
)

// mockChat implements ports.ChatService for testing.
type mockChat struct {
	mu       sync.Mutex
	requests []*entities.ChatRequest
	result   *entities.ChatResult
	err      error
	onSend   func() // runs inside Send, before returning
}

func (m *mockChat) Send(ctx context.Context, req *entities.ChatRequest) (*entities.ChatResult, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	hook := m.onSend
	m.mu.Unlock()

	if hook != nil {
		hook()
	}
	if m.err != nil {
		return nil, m.err
	}
	res := *m.result
	return &res, nil
}

func (m *mockChat) sent() []*entities.ChatRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*entities.ChatRequest, len(m.requests))
	copy(out, m.requests)
	return out
}

// mockConversations implements ports.ConversationService for testing.
type mockConversations struct {
	mu           sync.Mutex
	list         []entities.ConversationSummary
	histories    map[string][]entities.Message
	historyErr   error
	deletedIDs   []string
	deleteMsgErr error
	renamed      []string
	deleted      []string
	historyCalls []string
}

func (m *mockConversations) List(ctx context.Context, knowledgeBaseID string) ([]entities.ConversationSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.list, nil
}

func (m *mockConversations) Messages(ctx context.Context, conversationID string) ([]entities.Message, error) {
	m.mu.Lock()
	m.historyCalls = append(m.historyCalls, conversationID)
	m.mu.Unlock()

	if m.historyErr != nil {
		return nil, m.historyErr
	}
	msgs, ok := m.histories[conversationID]
	if !ok {
		return nil, ports.ErrConversationNotFound
	}
	return msgs, nil
}

func (m *mockConversations) Rename(ctx context.Context, conversationID, title string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.renamed = append(m.renamed, conversationID)
	return nil
}

func (m *mockConversations) Delete(ctx context.Context, conversationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted = append(m.deleted, conversationID)
	return nil
}

func (m *mockConversations) DeleteMessage(ctx context.Context, conversationID, messageID string, pair bool) ([]string, error) {
	if m.deleteMsgErr != nil {
		return nil, m.deleteMsgErr
	}
	return m.deletedIDs, nil
}

// spyStore implements ports.SessionStore and counts writes.
type spyStore struct {
	mu     sync.Mutex
	values map[string]string
	saves  int
	clears int
}

func newSpyStore() *spyStore {
	return &spyStore{values: make(map[string]string)}
}

func (s *spyStore) Load(knowledgeBaseID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.values[knowledgeBaseID]
}

func (s *spyStore) Save(knowledgeBaseID, conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[knowledgeBaseID] = conversationID
	s.saves++
}

func (s *spyStore) Clear(knowledgeBaseID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, knowledgeBaseID)
	s.clears++
}

func newController(chat *mockChat, convs *mockConversations, store *spyStore) *SessionController {
	return NewSessionController("kb1", chat, convs, store,
		entities.QueryOptions{TopK: 5, RetrievalMode: "hybrid"}, nil, logger.NewNop())
}

func TestSessionController_SendMessage_EndToEnd(t *testing.T) {
	chat := &mockChat{result: &entities.ChatResult{
		Answer:             "hi",
		ConversationID:     "c1",
		UserMessageID:      "u1",
		AssistantMessageID: "a1",
	}}
	store := newSpyStore()
	ctrl := newController(chat, &mockConversations{}, store)

	if err := ctrl.SendMessage(context.Background(), "hello"); err != nil {
		t.Fatalf("send failed: %v", err)
	}

	state := ctrl.Snapshot()
	if state.ConversationID != "c1" {
		t.Errorf("expected adopted conversation c1, got %q", state.ConversationID)
	}
	if len(state.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(state.Messages))
	}
	if state.Messages[0].ID != "u1" || state.Messages[0].Role != entities.RoleUser || state.Messages[0].Content != "hello" {
		t.Errorf("unexpected user message: %+v", state.Messages[0])
	}
	if state.Messages[1].ID != "a1" || state.Messages[1].Role != entities.RoleAssistant || state.Messages[1].Content != "hi" {
		t.Errorf("unexpected assistant message: %+v", state.Messages[1])
	}
	if state.Loading {
		t.Error("loading must be cleared after send")
	}
	if store.Load("kb1") != "c1" {
		t.Errorf("expected persisted id c1, got %q", store.Load("kb1"))
	}
}

func TestSessionController_SendMessage_RejectsEmptyInput(t *testing.T) {
	chat := &mockChat{result: &entities.ChatResult{}}
	ctrl := newController(chat, &mockConversations{}, newSpyStore())

	if err := ctrl.SendMessage(context.Background(), "   \n\t"); err != nil {
		t.Fatalf("empty input must be rejected silently, got %v", err)
	}
	if len(chat.sent()) != 0 {
		t.Error("no request should be issued for empty input")
	}
	if len(ctrl.Snapshot().Messages) != 0 {
		t.Error("no message should be appended for empty input")
	}
}

func TestSessionController_SendMessage_OptimisticInsertPrecedesResponse(t *testing.T) {
	var duringSend SessionState
	chat := &mockChat{result: &entities.ChatResult{
		Answer: "hi", ConversationID: "c1", UserMessageID: "u1", AssistantMessageID: "a1",
	}}
	ctrl := newController(chat, &mockConversations{}, newSpyStore())
	chat.onSend = func() { duringSend = ctrl.Snapshot() }

	if err := ctrl.SendMessage(context.Background(), "hello"); err != nil {
		t.Fatalf("send failed: %v", err)
	}

	if len(duringSend.Messages) != 1 {
		t.Fatalf("user turn must be visible before the round trip completes, got %d messages", len(duringSend.Messages))
	}
	if duringSend.Messages[0].Reconciled() {
		t.Error("optimistic message must not carry a server id yet")
	}
	if !duringSend.Loading {
		t.Error("loading must be set while the request is in flight")
	}
}

func TestSessionController_SendMessage_IdempotentAdoption(t *testing.T) {
	chat := &mockChat{result: &entities.ChatResult{
		Answer: "hi", ConversationID: "c1", UserMessageID: "u1", AssistantMessageID: "a1",
	}}
	store := newSpyStore()
	ctrl := newController(chat, &mockConversations{}, store)

	ctx := context.Background()
	if err := ctrl.SendMessage(ctx, "first"); err != nil {
		t.Fatalf("first send failed: %v", err)
	}
	if err := ctrl.SendMessage(ctx, "second"); err != nil {
		t.Fatalf("second send failed: %v", err)
	}

	if store.saves != 1 {
		t.Errorf("same conversation id must be persisted exactly once, got %d saves", store.saves)
	}
	reqs := chat.sent()
	if reqs[0].ConversationID != "" || reqs[1].ConversationID != "c1" {
		t.Errorf("second request must carry the adopted id: %q then %q",
			reqs[0].ConversationID, reqs[1].ConversationID)
	}
}

func TestSessionController_SendMessage_FailureAppendsSyntheticError(t *testing.T) {
	chat := &mockChat{err: errors.New("connection refused")}
	ctrl := newController(chat, &mockConversations{}, newSpyStore())

	err := ctrl.SendMessage(context.Background(), "hello")
	if err == nil {
		t.Fatal("send error must be returned")
	}

	state := ctrl.Snapshot()
	if state.Err == "" {
		t.Error("error must be recorded in state")
	}
	if state.Loading {
		t.Error("loading must be cleared on failure")
	}
	if len(state.Messages) != 2 {
		t.Fatalf("expected user turn plus synthetic error, got %d messages", len(state.Messages))
	}
	synthetic := state.Messages[1]
	if synthetic.Role != entities.RoleAssistant {
		t.Errorf("synthetic message must be assistant-role, got %s", synthetic.Role)
	}
	if synthetic.ID != "" || synthetic.ClientID != "" {
		t.Error("synthetic message must never carry an id")
	}
}

func TestSessionController_SendMessage_ListRefreshDoesNotBlock(t *testing.T) {
	release := make(chan struct{})
	notified := make(chan struct{})
	chat := &mockChat{result: &entities.ChatResult{
		Answer: "hi", ConversationID: "c1", UserMessageID: "u1", AssistantMessageID: "a1",
	}}
	ctrl := NewSessionController("kb1", chat, &mockConversations{}, newSpyStore(),
		entities.QueryOptions{}, func() {
			close(notified)
			<-release
		}, logger.NewNop())

	done := make(chan struct{})
	go func() {
		ctrl.SendMessage(context.Background(), "hello")
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("send must complete without waiting for the list refresh")
	}

	select {
	case <-notified:
	case <-time.After(time.Second):
		t.Fatal("list refresh callback was never invoked")
	}
	close(release)
}

func TestSessionController_ResolveActive_StaleIDSelfHeal(t *testing.T) {
	store := newSpyStore()
	store.Save("kb1", "abc")
	store.saves = 0

	convs := &mockConversations{histories: map[string][]entities.Message{}}
	ctrl := newController(&mockChat{}, convs, store)

	ctrl.ResolveActive(context.Background(), nil)

	state := ctrl.Snapshot()
	if state.ConversationID != "" {
		t.Errorf("expected no active conversation, got %q", state.ConversationID)
	}
	if len(state.Messages) != 0 {
		t.Errorf("expected empty log, got %d messages", len(state.Messages))
	}
}

func TestSessionController_ResolveActive_ClearsStaleInMemoryID(t *testing.T) {
	store := newSpyStore()
	convs := &mockConversations{histories: map[string][]entities.Message{
		"c1": {{ID: "u1", Role: entities.RoleUser, Content: "old"}},
	}}
	ctrl := newController(&mockChat{}, convs, store)

	ctrl.SelectConversation(context.Background(), "c1")
	if len(ctrl.Snapshot().Messages) != 1 {
		t.Fatal("history should be loaded after selection")
	}

	// c1 disappeared server-side; the fresh list only has c2 and no history
	// for it is needed because resolution falls through to the stored id path.
	convs.mu.Lock()
	convs.histories["c2"] = nil
	convs.mu.Unlock()
	ctrl.ResolveActive(context.Background(), []entities.ConversationSummary{{ID: "c2"}})

	state := ctrl.Snapshot()
	if state.ConversationID != "c2" {
		t.Errorf("expected fallback to most recent listed conversation, got %q", state.ConversationID)
	}
	if store.clears == 0 {
		t.Error("stale persisted id must be cleared")
	}
}

func TestSessionController_ResolveActive_PrefersPersistedID(t *testing.T) {
	store := newSpyStore()
	store.Save("kb1", "c2")

	convs := &mockConversations{histories: map[string][]entities.Message{
		"c2": {{ID: "u1", Role: entities.RoleUser, Content: "hi"}},
	}}
	ctrl := newController(&mockChat{}, convs, store)

	ctrl.ResolveActive(context.Background(), []entities.ConversationSummary{
		{ID: "c3"}, {ID: "c2"}, {ID: "c1"},
	})

	state := ctrl.Snapshot()
	if state.ConversationID != "c2" {
		t.Errorf("persisted id must win over most recent, got %q", state.ConversationID)
	}
	if len(state.Messages) != 1 {
		t.Errorf("history must be loaded, got %d messages", len(state.Messages))
	}
}

func TestSessionController_ResolveActive_FallsBackToMostRecent(t *testing.T) {
	convs := &mockConversations{histories: map[string][]entities.Message{"c3": nil}}
	ctrl := newController(&mockChat{}, convs, newSpyStore())

	ctrl.ResolveActive(context.Background(), []entities.ConversationSummary{
		{ID: "c3"}, {ID: "c2"},
	})

	if got := ctrl.Snapshot().ConversationID; got != "c3" {
		t.Errorf("expected most recent listed conversation, got %q", got)
	}
}

func TestSessionController_NewChatIsolation(t *testing.T) {
	store := newSpyStore()
	convs := &mockConversations{histories: map[string][]entities.Message{
		"c1": {{ID: "u1", Role: entities.RoleUser, Content: "old"}},
	}}
	ctrl := newController(&mockChat{}, convs, store)

	ctrl.SelectConversation(context.Background(), "c1")
	ctrl.StartNewChat()

	list := []entities.ConversationSummary{{ID: "c1"}}
	ctrl.ResolveActive(context.Background(), list)

	state := ctrl.Snapshot()
	if state.ConversationID != "" || len(state.Messages) != 0 {
		t.Error("list refresh must not re-attach a conversation after StartNewChat")
	}
	if !state.ForceNewChat {
		t.Error("new-chat pin must remain set until an explicit selection")
	}

	// Explicit selection releases the pin.
	ctrl.SelectConversation(context.Background(), "c1")
	state = ctrl.Snapshot()
	if state.ConversationID != "c1" || state.ForceNewChat {
		t.Error("explicit selection must attach and release the pin")
	}
}

func TestSessionController_NewChatPin_ReleasedBySuccessfulSend(t *testing.T) {
	chat := &mockChat{result: &entities.ChatResult{
		Answer: "hi", ConversationID: "c9", UserMessageID: "u1", AssistantMessageID: "a1",
	}}
	ctrl := newController(chat, &mockConversations{}, newSpyStore())

	ctrl.StartNewChat()
	if err := ctrl.SendMessage(context.Background(), "hello"); err != nil {
		t.Fatalf("send failed: %v", err)
	}

	state := ctrl.Snapshot()
	if state.ForceNewChat {
		t.Error("successful send must release the new-chat pin")
	}
	if state.ConversationID != "c9" {
		t.Errorf("expected newly created conversation, got %q", state.ConversationID)
	}
}

func TestSessionController_DeleteMessagePair(t *testing.T) {
	convs := &mockConversations{
		histories: map[string][]entities.Message{
			"c1": {
				{ID: "m1", Role: entities.RoleUser, Content: "q"},
				{ID: "m2", Role: entities.RoleAssistant, Content: "a"},
				{ID: "m3", Role: entities.RoleUser, Content: "q2"},
			},
		},
		deletedIDs: []string{"m1", "m2"},
	}
	ctrl := newController(&mockChat{}, convs, newSpyStore())
	ctrl.SelectConversation(context.Background(), "c1")

	if err := ctrl.DeleteMessagePair(context.Background(), "m2", true); err != nil {
		t.Fatalf("pair delete failed: %v", err)
	}

	msgs := ctrl.Snapshot().Messages
	if len(msgs) != 1 || msgs[0].ID != "m3" {
		t.Errorf("expected only m3 to remain, got %+v", msgs)
	}
}

func TestSessionController_DeleteMessagePair_KeepsIDLessMessages(t *testing.T) {
	chat := &mockChat{err: errors.New("boom")}
	convs := &mockConversations{
		histories:  map[string][]entities.Message{"c1": {{ID: "m1", Role: entities.RoleUser, Content: "q"}}},
		deletedIDs: []string{"m1"},
	}
	ctrl := newController(chat, convs, newSpyStore())
	ctrl.SelectConversation(context.Background(), "c1")

	// Produce a synthetic id-less error message, then delete m1.
	ctrl.SendMessage(context.Background(), "fails")
	if err := ctrl.DeleteMessagePair(context.Background(), "m1", false); err != nil {
		t.Fatalf("delete failed: %v", err)
	}

	for _, m := range ctrl.Snapshot().Messages {
		if m.ID == "m1" {
			t.Error("m1 should have been removed")
		}
	}
	// The optimistic turn and the synthetic error message both lack ids and
	// must survive targeted deletion.
	if len(ctrl.Snapshot().Messages) != 2 {
		t.Errorf("id-less messages must survive, got %+v", ctrl.Snapshot().Messages)
	}
}

func TestSessionController_DeleteActiveConversation_ResetsSession(t *testing.T) {
	store := newSpyStore()
	convs := &mockConversations{histories: map[string][]entities.Message{
		"c1": {{ID: "u1", Role: entities.RoleUser, Content: "hi"}},
	}}
	ctrl := newController(&mockChat{}, convs, store)
	ctrl.SelectConversation(context.Background(), "c1")

	if err := ctrl.DeleteConversation(context.Background(), "c1"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}

	state := ctrl.Snapshot()
	if state.ConversationID != "" || len(state.Messages) != 0 {
		t.Error("deleting the active conversation must reset the session")
	}
	if state.ForceNewChat {
		t.Error("delete must not force a new chat")
	}
	if store.Load("kb1") != "" {
		t.Error("persisted id must be cleared")
	}
}

func TestSessionController_DeleteOtherConversation_KeepsSession(t *testing.T) {
	convs := &mockConversations{histories: map[string][]entities.Message{
		"c1": {{ID: "u1", Role: entities.RoleUser, Content: "hi"}},
	}}
	ctrl := newController(&mockChat{}, convs, newSpyStore())
	ctrl.SelectConversation(context.Background(), "c1")

	if err := ctrl.DeleteConversation(context.Background(), "c2"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if got := ctrl.Snapshot().ConversationID; got != "c1" {
		t.Errorf("active session must survive deleting another conversation, got %q", got)
	}
}

func TestSessionController_HistoryLoadFailure_ResetsSilently(t *testing.T) {
	store := newSpyStore()
	convs := &mockConversations{historyErr: errors.New("timeout")}
	ctrl := newController(&mockChat{}, convs, store)

	ctrl.SelectConversation(context.Background(), "c1")

	state := ctrl.Snapshot()
	if state.ConversationID != "" || len(state.Messages) != 0 {
		t.Error("history failure must clear the session")
	}
	if state.Err != "" {
		t.Error("history failure is a recovery path, not a user-facing error")
	}
	if store.Load("kb1") != "" {
		t.Error("persisted id must be cleared on history failure")
	}
}

func TestSessionController_ConversationOptionsOverrideDefaults(t *testing.T) {
	chat := &mockChat{result: &entities.ChatResult{
		Answer: "hi", ConversationID: "c1", UserMessageID: "u1", AssistantMessageID: "a1",
	}}
	convs := &mockConversations{histories: map[string][]entities.Message{"c1": nil}}
	ctrl := newController(chat, convs, newSpyStore())

	ctrl.SelectConversation(context.Background(), "c1")
	ctrl.SetConversationOptions("c1", entities.QueryOptions{TopK: 12, RetrievalMode: "bm25"})

	if err := ctrl.SendMessage(context.Background(), "hello"); err != nil {
		t.Fatalf("send failed: %v", err)
	}

	req := chat.sent()[0]
	if req.Options.TopK != 12 || req.Options.RetrievalMode != "bm25" {
		t.Errorf("conversation override must win, got %+v", req.Options)
	}

	ctrl.ClearConversationOptions("c1")
	if err := ctrl.SendMessage(context.Background(), "again"); err != nil {
		t.Fatalf("send failed: %v", err)
	}
	req = chat.sent()[1]
	if req.Options.TopK != 5 || req.Options.RetrievalMode != "hybrid" {
		t.Errorf("defaults must apply without an override, got %+v", req.Options)
	}
}

func TestReconcileUserMessage_TokenMatch(t *testing.T) {
	msgs := []entities.Message{
		{ID: "u0", Role: entities.RoleUser, Content: "old"},
		{ClientID: "tok-a", Role: entities.RoleUser, Content: "first"},
		{ClientID: "tok-b", Role: entities.RoleUser, Content: "second"},
	}

	reconcileUserMessage(msgs, "tok-a", "u1")

	if msgs[1].ID != "u1" {
		t.Errorf("token match must assign to the matching message, got %+v", msgs[1])
	}
	if msgs[2].ID != "" {
		t.Error("other unreconciled messages must be untouched")
	}
}

func TestReconcileUserMessage_FallbackMostRecentScan(t *testing.T) {
	msgs := []entities.Message{
		{Role: entities.RoleUser, Content: "older unreconciled"},
		{ID: "a0", Role: entities.RoleAssistant, Content: "reply"},
		{Role: entities.RoleUser, Content: "newest unreconciled"},
	}

	reconcileUserMessage(msgs, "unknown-token", "u9")

	if msgs[2].ID != "u9" {
		t.Error("fallback must assign to the most recent unreconciled user message")
	}
	if msgs[0].ID != "" {
		t.Error("older unreconciled message must be untouched")
	}
}

func TestReconcileUserMessage_SingleUnreconciledAmongReconciled(t *testing.T) {
	msgs := []entities.Message{
		{ClientID: "tok-x", Role: entities.RoleUser, Content: "pending"},
		{ID: "a1", Role: entities.RoleAssistant, Content: "r1"},
		{ID: "u2", Role: entities.RoleUser, Content: "r2"},
		{ID: "a2", Role: entities.RoleAssistant, Content: "r3"},
	}

	reconcileUserMessage(msgs, "tok-x", "X")

	if msgs[0].ID != "X" {
		t.Error("the single unreconciled message must receive the id")
	}
	for _, m := range msgs[1:] {
		if m.ID == "X" {
			t.Error("reconciled messages must never be reassigned")
		}
	}
}

func TestReconcileUserMessage_NoServerID(t *testing.T) {
	msgs := []entities.Message{{ClientID: "tok", Role: entities.RoleUser, Content: "q"}}
	reconcileUserMessage(msgs, "tok", "")
	if msgs[0].ID != "" {
		t.Error("empty server id must be a no-op")
	}
}

func TestResolveQueryOptions_Precedence(t *testing.T) {
	defaults := entities.QueryOptions{TopK: 5, Temperature: 0.7}
	override := entities.QueryOptions{TopK: 10, Temperature: 0.1}

	if got := ResolveQueryOptions(defaults, &override); got.TopK != 10 {
		t.Errorf("override must win, got %+v", got)
	}
	if got := ResolveQueryOptions(defaults, nil); got.TopK != 5 {
		t.Errorf("defaults must apply without override, got %+v", got)
	}
}
