package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"chat-core/internal/auth"
	"chat-core/internal/store"
	"chat-core/pkg/logger"
)

const defaultPageSize = 50

// ConversationHandlers is the REST surface clients use for the sync
// list and history backfill.
type ConversationHandlers struct {
	authenticator auth.Authenticator
	store         store.Store
}

func NewConversationHandlers(authenticator auth.Authenticator, s store.Store) *ConversationHandlers {
	return &ConversationHandlers{
		authenticator: authenticator,
		store:         s,
	}
}

func (h *ConversationHandlers) ListConversations(w http.ResponseWriter, r *http.Request) {
	userID, err := h.getUserFromToken(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conversations, err := h.store.ListUserConversations(r.Context(), userID)
	if err != nil {
		logger.Error("List conversations error: %v", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(conversations)
}

// GetMessages pages backwards through a conversation's history. Cursor
// is the RFC3339 "before" parameter; the response reports whether more
// pages remain.
func (h *ConversationHandlers) GetMessages(w http.ResponseWriter, r *http.Request) {
	userID, err := h.getUserFromToken(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conversationID, err := h.getConversationIDFromPath(r)
	if err != nil {
		http.Error(w, "invalid conversation ID", http.StatusBadRequest)
		return
	}

	isMember, err := h.store.IsMember(r.Context(), userID, conversationID)
	if err != nil {
		logger.Error("Membership check error: %v", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	if !isMember {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	before := time.Now().UTC()
	if beforeStr := r.URL.Query().Get("before"); beforeStr != "" {
		before, err = time.Parse(time.RFC3339Nano, beforeStr)
		if err != nil {
			http.Error(w, "invalid before cursor", http.StatusBadRequest)
			return
		}
	}

	limit := defaultPageSize
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		limit, err = strconv.Atoi(limitStr)
		if err != nil || limit < 1 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
	}

	// Fetch one extra row to learn whether another page exists.
	messages, err := h.store.LoadMessages(r.Context(), conversationID, before, limit+1)
	if err != nil {
		logger.Error("Load messages error: %v", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	hasMore := len(messages) > limit
	if hasMore {
		messages = messages[1:]
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"messages": messages,
		"hasMore":  hasMore,
	})
}

func (h *ConversationHandlers) getUserFromToken(r *http.Request) (string, error) {
	tokenStr := r.URL.Query().Get("token")
	if tokenStr == "" {
		return "", fmt.Errorf("missing token")
	}

	return h.authenticator.UserIDFromToken(tokenStr)
}

func (h *ConversationHandlers) getConversationIDFromPath(r *http.Request) (string, error) {
	parts := strings.Split(r.URL.Path, "/")
	if len(parts) < 3 || parts[2] == "" {
		return "", fmt.Errorf("invalid path")
	}

	return parts[2], nil
}
