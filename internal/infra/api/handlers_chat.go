package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/oapi-codegen/runtime"
	"github.com/rs/zerolog"

	"cineai/internal/domain"
	"cineai/internal/domain/model"
	"cineai/internal/domain/ports/adapter"
	"cineai/internal/infra/logging"
	"cineai/internal/usecase"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

type chatRequest struct {
	ConversationID string  `json:"conversation_id"`
	Message        string  `json:"message"`
	Model          string  `json:"model"`
	MaxTokens      int     `json:"max_tokens"`
	Temperature    float64 `json:"temperature"`
}

type usageBody struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type chatResponse struct {
	ConversationID string           `json:"conversation_id"`
	ProviderID     string           `json:"provider_id"`
	Model          string           `json:"model,omitempty"`
	Content        string           `json:"content"`
	Usage          usageBody        `json:"usage"`
	Attempts       []domain.Attempt `json:"attempts,omitempty"`
}

func (s *Server) logFor(r *http.Request) *zerolog.Logger {
	return logging.With(r.Context(), s.log)
}

func (req *chatRequest) options() usecase.ChatOptions {
	return usecase.ChatOptions{Model: req.Model, MaxTokens: req.MaxTokens, Temperature: req.Temperature}
}

// conversation returns the requested id, or a fresh one so every chat call keeps history.
func (req *chatRequest) conversation() string {
	if req.ConversationID != "" {
		return req.ConversationID
	}
	return uuid.NewString()
}

func toChatResponse(convID string, res *usecase.Result) chatResponse {
	out := chatResponse{ConversationID: convID, ProviderID: res.ProviderID, Attempts: res.Attempts}
	if res.Chat != nil {
		out.Model = res.Chat.Model
		out.Content = res.Chat.Content
		out.Usage = usageBody(res.Chat.Usage)
	}
	return out
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decode(r, chatBody, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	convID := req.conversation()
	res, err := s.chat.Send(r.Context(), logging.UserID(r.Context()), convID, req.Message, req.options())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toChatResponse(convID, res))
}

// handleChatStream relays chunks as server-sent events. Errors before the first chunk are plain
// JSON responses; afterwards they arrive as an "error" event since the status line is gone.
func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.fail(w, r, fmt.Errorf("streaming unsupported by response writer"))
		return
	}
	var req chatRequest
	if err := decode(r, chatBody, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	convID := req.conversation()

	started := false
	open := func() {
		if started {
			return
		}
		started = true
		h := w.Header()
		h.Set("Content-Type", "text/event-stream")
		h.Set("Cache-Control", "no-cache")
		h.Set("Connection", "keep-alive")
		h.Set("X-Accel-Buffering", "no")
		w.WriteHeader(http.StatusOK)
	}
	send := func(event string, v any) error {
		b, err := json.Marshal(v)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, b); err != nil {
			return err
		}
		flusher.Flush()
		return r.Context().Err()
	}

	res, err := s.chat.Stream(r.Context(), logging.UserID(r.Context()), convID, req.Message, req.options(),
		func(ch adapter.StreamChunk) error {
			open()
			return send("chunk", ch)
		})
	if err != nil {
		if !started {
			s.fail(w, r, err)
			return
		}
		s.logFor(r).Warn().Err(err).Str("conversation_id", convID).Msg("stream ended with error")
		status := statusFor(err)
		_ = send("error", errorBody{Error: err.Error(), Code: codeFor(err, status)})
		return
	}
	open()
	_ = send("done", toChatResponse(convID, res))
}

type enhanceRequest struct {
	Prompt string `json:"prompt"`
	usecase.StyleOptions
}

func (s *Server) handleEnhance(w http.ResponseWriter, r *http.Request) {
	var req enhanceRequest
	if err := decode(r, enhanceBody, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	out, err := s.chat.EnhancePrompt(r.Context(), logging.UserID(r.Context()), req.Prompt, req.StyleOptions)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleStyles(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, usecase.Styles)
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	convs, err := s.chat.ListConversations(r.Context(), logging.UserID(r.Context()))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if convs == nil {
		convs = []*model.Conversation{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversations": convs})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	// optional parameters bind through a pointer that stays nil when absent
	var param *int
	if err := runtime.BindQueryParameter("form", true, false, "limit", r.URL.Query(), &param); err != nil {
		s.fail(w, r, fmt.Errorf("%w: limit: %v", domain.ErrInvalidArgument, err))
		return
	}
	limit := defaultHistoryLimit
	if param != nil {
		limit = *param
	}
	if limit < 1 || limit > maxHistoryLimit {
		s.fail(w, r, fmt.Errorf("%w: limit must be between 1 and %d", domain.ErrInvalidArgument, maxHistoryLimit))
		return
	}
	id := chi.URLParam(r, "id")
	msgs, err := s.chat.History(r.Context(), logging.UserID(r.Context()), id, limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if msgs == nil {
		msgs = []model.Message{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversation_id": id, "messages": msgs})
}

func (s *Server) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	if err := s.chat.DeleteConversation(r.Context(), logging.UserID(r.Context()), chi.URLParam(r, "id")); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleProviders(w http.ResponseWriter, r *http.Request) {
	c, err := model.ParseCapability(chi.URLParam(r, "capability"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	list, err := s.chat.ListProviders(r.Context(), c)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if list == nil {
		list = []model.ProviderStatus{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"capability": c, "providers": list})
}
