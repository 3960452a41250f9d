// Package api provides the HTTP client for the remote knowledge-base chat service.
// Clean Architecture: Adapter implementing ports.ChatService,
// ports.ConversationService and ports.DocumentStatusService.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/loglux/RAG-Knowledge-Base-Platform-sub000/internal/domain/entities"
	"github.com/loglux/RAG-Knowledge-Base-Platform-sub000/internal/domain/ports"
	"github.com/loglux/RAG-Knowledge-Base-Platform-sub000/internal/platform/logger"
)

// Client talks HTTP+JSON to the chat service.
type Client struct {
	baseURL string
	client  *http.Client
	log     *logger.Logger
}

// NewClient creates an API client. An empty baseURL falls back to the local
// development service.
func NewClient(baseURL string, timeout time.Duration, log *logger.Logger) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:8000/api"
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		log:     log,
	}
}

// chatRequestPayload is the POST /chat request body.
type chatRequestPayload struct {
	Question           string   `json:"question"`
	KnowledgeBaseID    string   `json:"knowledge_base_id"`
	ConversationID     string   `json:"conversation_id,omitempty"`
	TopK               int      `json:"top_k"`
	Temperature        float64  `json:"temperature"`
	RetrievalMode      string   `json:"retrieval_mode"`
	VectorWeight       float64  `json:"vector_weight"`
	KeywordWeight      float64  `json:"keyword_weight"`
	BM25K1             float64  `json:"bm25_k1"`
	BM25B              float64  `json:"bm25_b"`
	ScoreThreshold     float64  `json:"score_threshold"`
	MaxContextChars    int      `json:"max_context_chars"`
	Model              string   `json:"model,omitempty"`
	Provider           string   `json:"provider,omitempty"`
	UseStructureSearch bool     `json:"use_structure_search"`
	UseMMR             bool     `json:"use_mmr"`
	MMRDiversity       float64  `json:"mmr_diversity"`
	UseSelfCheck       bool     `json:"use_self_check"`
	IncludeHistory     bool     `json:"include_history"`
	HistoryLimit       int      `json:"history_limit"`
	DocumentIDs        []string `json:"document_ids,omitempty"`
	ExpandContext      bool     `json:"expand_context"`
	ExpandWindow       int      `json:"expand_window,omitempty"`
}

// sourcePayload is a retrieved chunk as the service serializes it.
type sourcePayload struct {
	Text       string  `json:"text"`
	Score      float64 `json:"score"`
	DocumentID string  `json:"document_id"`
	Filename   string  `json:"filename"`
	ChunkIndex int     `json:"chunk_index"`
}

// chatResponsePayload is the POST /chat response body.
type chatResponsePayload struct {
	Answer             string          `json:"answer"`
	Sources            []sourcePayload `json:"sources"`
	ConversationID     string          `json:"conversation_id"`
	UserMessageID      string          `json:"user_message_id"`
	AssistantMessageID string          `json:"assistant_message_id"`
	Model              string          `json:"model"`
	UseMMR             bool            `json:"use_mmr"`
	MMRDiversity       float64         `json:"mmr_diversity"`
	UseSelfCheck       bool            `json:"use_self_check"`
}

// conversationPayload is one entry of GET /chat/conversations.
type conversationPayload struct {
	ID              string `json:"id"`
	KnowledgeBaseID string `json:"knowledge_base_id"`
	Title           string `json:"title"`
	CreatedAt       string `json:"created_at"`
	UpdatedAt       string `json:"updated_at"`
}

// messagePayload is one entry of GET /chat/conversations/{id}/messages.
type messagePayload struct {
	ID           string          `json:"id"`
	Role         string          `json:"role"`
	Content      string          `json:"content"`
	Sources      []sourcePayload `json:"sources"`
	Timestamp    string          `json:"timestamp"`
	Model        string          `json:"model"`
	UseSelfCheck bool            `json:"use_self_check"`
	Index        int             `json:"index"`
}

// deleteMessageResponse is the DELETE .../messages/{id} response body.
type deleteMessageResponse struct {
	Status     string   `json:"status"`
	DeletedIDs []string `json:"deleted_ids"`
}

// Send posts a question to POST /chat.
func (c *Client) Send(ctx context.Context, req *entities.ChatRequest) (*entities.ChatResult, error) {
	o := req.Options
	payload := chatRequestPayload{
		Question:           req.Question,
		KnowledgeBaseID:    req.KnowledgeBaseID,
		ConversationID:     req.ConversationID,
		TopK:               o.TopK,
		Temperature:        o.Temperature,
		RetrievalMode:      o.RetrievalMode,
		VectorWeight:       o.VectorWeight,
		KeywordWeight:      o.KeywordWeight,
		BM25K1:             o.BM25K1,
		BM25B:              o.BM25B,
		ScoreThreshold:     o.ScoreThreshold,
		MaxContextChars:    o.MaxContextChars,
		Model:              o.Model,
		Provider:           o.Provider,
		UseStructureSearch: o.UseStructureSearch,
		UseMMR:             o.UseMMR,
		MMRDiversity:       o.MMRDiversity,
		UseSelfCheck:       o.UseSelfCheck,
		IncludeHistory:     o.IncludeHistory,
		HistoryLimit:       o.HistoryLimit,
		DocumentIDs:        o.DocumentIDs,
		ExpandContext:      o.ExpandContext,
		ExpandWindow:       o.ExpandWindow,
	}

	var resp chatResponsePayload
	if err := c.do(ctx, http.MethodPost, "/chat", payload, &resp); err != nil {
		return nil, err
	}

	return &entities.ChatResult{
		Answer:             resp.Answer,
		Sources:            toSources(resp.Sources),
		ConversationID:     resp.ConversationID,
		UserMessageID:      resp.UserMessageID,
		AssistantMessageID: resp.AssistantMessageID,
		Model:              resp.Model,
		UseMMR:             resp.UseMMR,
		MMRDiversity:       resp.MMRDiversity,
		UseSelfCheck:       resp.UseSelfCheck,
	}, nil
}

// List fetches GET /chat/conversations for a knowledge base.
func (c *Client) List(ctx context.Context, knowledgeBaseID string) ([]entities.ConversationSummary, error) {
	path := "/chat/conversations?knowledge_base_id=" + url.QueryEscape(knowledgeBaseID)

	var resp []conversationPayload
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}

	out := make([]entities.ConversationSummary, len(resp))
	for i, p := range resp {
		out[i] = entities.ConversationSummary{
			ID:              p.ID,
			KnowledgeBaseID: p.KnowledgeBaseID,
			Title:           p.Title,
			CreatedAt:       p.CreatedAt,
			UpdatedAt:       p.UpdatedAt,
		}
	}
	return out, nil
}

// Messages fetches GET /chat/conversations/{id}/messages, preserving server order.
func (c *Client) Messages(ctx context.Context, conversationID string) ([]entities.Message, error) {
	path := "/chat/conversations/" + url.PathEscape(conversationID) + "/messages"

	var resp []messagePayload
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}

	out := make([]entities.Message, len(resp))
	for i, p := range resp {
		out[i] = entities.Message{
			ID:           p.ID,
			Role:         p.Role,
			Content:      p.Content,
			Sources:      toSources(p.Sources),
			Timestamp:    p.Timestamp,
			Model:        p.Model,
			UseSelfCheck: p.UseSelfCheck,
		}
	}
	return out, nil
}

// Rename issues PATCH /chat/conversations/{id}. An empty title clears the
// title (serialized as JSON null, the shape the service expects).
func (c *Client) Rename(ctx context.Context, conversationID, title string) error {
	path := "/chat/conversations/" + url.PathEscape(conversationID)

	var t *string
	if title != "" {
		t = &title
	}
	payload := struct {
		Title *string `json:"title"`
	}{Title: t}

	return c.do(ctx, http.MethodPatch, path, payload, nil)
}

// Delete issues DELETE /chat/conversations/{id}.
func (c *Client) Delete(ctx context.Context, conversationID string) error {
	path := "/chat/conversations/" + url.PathEscape(conversationID)

	var resp struct {
		Status string `json:"status"`
		ID     string `json:"id"`
	}
	return c.do(ctx, http.MethodDelete, path, nil, &resp)
}

// DeleteMessage issues DELETE /chat/conversations/{id}/messages/{messageID}
// and returns the full set of ids the server removed.
func (c *Client) DeleteMessage(ctx context.Context, conversationID, messageID string, pair bool) ([]string, error) {
	path := "/chat/conversations/" + url.PathEscape(conversationID) +
		"/messages/" + url.PathEscape(messageID) +
		"?pair=" + strconv.FormatBool(pair)

	var resp deleteMessageResponse
	if err := c.do(ctx, http.MethodDelete, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.DeletedIDs, nil
}

// Status fetches GET /documents/{id}/status.
func (c *Client) Status(ctx context.Context, documentID string) (*entities.DocumentStatus, error) {
	path := "/documents/" + url.PathEscape(documentID) + "/status"

	var resp struct {
		ID                 string  `json:"id"`
		Status             string  `json:"status"`
		ChunkCount         int     `json:"chunk_count"`
		ProgressPercentage float64 `json:"progress_percentage"`
		ProcessingStage    string  `json:"processing_stage"`
		ErrorMessage       string  `json:"error_message"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}

	return &entities.DocumentStatus{
		ID:                 resp.ID,
		Status:             entities.DocumentState(resp.Status),
		ChunkCount:         resp.ChunkCount,
		ProgressPercentage: resp.ProgressPercentage,
		ProcessingStage:    resp.ProcessingStage,
		ErrorMessage:       resp.ErrorMessage,
	}, nil
}

// do performs one JSON round trip. A 404 maps to ErrConversationNotFound so
// callers can treat stale references as a reset signal.
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request: %w", err)
		}
		reader = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("calling chat service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ports.ErrConversationNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("chat service returned status %d", resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func toSources(in []sourcePayload) []entities.SourceChunk {
	if len(in) == 0 {
		return nil
	}
	out := make([]entities.SourceChunk, len(in))
	for i, s := range in {
		out[i] = entities.SourceChunk{
			Text:       s.Text,
			Score:      s.Score,
			DocumentID: s.DocumentID,
			Filename:   s.Filename,
			ChunkIndex: s.ChunkIndex,
		}
	}
	return out
}
