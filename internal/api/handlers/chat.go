package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/seerstack/logseer/internal/api"
	"github.com/seerstack/logseer/internal/domain"
	"github.com/seerstack/logseer/internal/pagination"
)

// ChatStore reads and clears the persisted chat transcript of an issue.
// *session.History satisfies it.
type ChatStore interface {
	LoadPage(issueID, cursor string, limit int) (pagination.PageResult[domain.ChatMessage], error)
	Clear(issueID string) error
}

type ChatHandler struct {
	store ChatStore
}

func NewChatHandler(store ChatStore) *ChatHandler {
	return &ChatHandler{store: store}
}

const defaultChatPageLimit = 50

type ChatMessageResponse struct {
	Role       string   `json:"role"`
	Text       string   `json:"text"`
	References []string `json:"references,omitempty"`
	CreatedAt  string   `json:"created_at"`
}

type ChatListResponse struct {
	Items   []ChatMessageResponse `json:"items"`
	Cursor  string                `json:"cursor,omitempty"`
	HasMore bool                  `json:"has_more"`
}

// List returns one page of the transcript, oldest first.
func (h *ChatHandler) List(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		api.Error(w, http.StatusBadRequest, "id is required")
		return
	}

	cursor := r.URL.Query().Get("cursor")
	limitStr := r.URL.Query().Get("limit")
	limit := defaultChatPageLimit
	if limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	page, err := h.store.LoadPage(id, cursor, limit)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	items := make([]ChatMessageResponse, len(page.Items))
	for i, msg := range page.Items {
		items[i] = ChatMessageResponse{
			Role:       string(msg.Role),
			Text:       msg.Text,
			References: msg.References,
			CreatedAt:  msg.CreatedAt.Format("2006-01-02T15:04:05Z"),
		}
	}

	api.Success(w, http.StatusOK, ChatListResponse{
		Items:   items,
		Cursor:  page.Cursor,
		HasMore: page.HasMore,
	})
}

func (h *ChatHandler) Clear(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		api.Error(w, http.StatusBadRequest, "id is required")
		return
	}

	if err := h.store.Clear(id); err != nil {
		api.HandleError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
