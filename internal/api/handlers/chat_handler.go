package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	middleware "github.com/markdave123-py/contexta/internal/api/middlewares"
	"github.com/markdave123-py/contexta/internal/logger"
	"github.com/markdave123-py/contexta/internal/services"
)

type ChatHandler struct {
	chat *services.ChatService
	log  zerolog.Logger
}

func NewChatHandler(chat *services.ChatService, log zerolog.Logger) *ChatHandler {
	return &ChatHandler{chat: chat, log: logger.Component(log, "chat")}
}

// ChatRequest accepts a list of documents to search; the single
// document_id field is still honoured for older clients.
type ChatRequest struct {
	Query       string   `json:"query"`
	DocumentIDs []string `json:"document_ids,omitempty"`
	DocumentID  *string  `json:"document_id,omitempty"`
}

// candidates returns the trimmed ids. ok is false when ids were supplied but
// every one is blank, which must not widen into an owner-wide search.
func (req ChatRequest) candidates() (ids []string, ok bool) {
	supplied := len(req.DocumentIDs) > 0 || req.DocumentID != nil
	ids = make([]string, 0, len(req.DocumentIDs)+1)
	for _, id := range req.DocumentIDs {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	if req.DocumentID != nil {
		if id := strings.TrimSpace(*req.DocumentID); id != "" {
			ids = append(ids, id)
		}
	}
	return ids, !supplied || len(ids) > 0
}

func (h *ChatHandler) QueryDocument(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		writeMessage(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid request")
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeMessage(w, http.StatusBadRequest, "query is required")
		return
	}

	ids, ok := req.candidates()
	if !ok {
		writeMessage(w, http.StatusBadRequest, "document_ids contains no valid ids")
		return
	}

	answer, err := h.chat.Ask(r.Context(), userID, req.Query, ids)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, answer)
}
