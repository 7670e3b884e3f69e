package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"chat-core/internal/models"
)

// HistoryClient pages through the collaborator's history REST endpoint.
type HistoryClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func NewHistoryClient(baseURL, token string) *HistoryClient {
	return &HistoryClient{
		baseURL:    baseURL,
		token:      token,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

type historyPage struct {
	Messages []*models.Message `json:"messages"`
	HasMore  bool              `json:"hasMore"`
}

// FetchMessages loads the page of messages created before the cursor.
func (h *HistoryClient) FetchMessages(ctx context.Context, conversationID string, before time.Time, limit int) ([]*models.Message, bool, error) {
	query := url.Values{}
	query.Set("token", h.token)
	query.Set("before", before.Format(time.RFC3339Nano))
	query.Set("limit", strconv.Itoa(limit))

	endpoint := fmt.Sprintf("%s/conversations/%s/messages?%s", h.baseURL, conversationID, query.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, false, err
	}

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return nil, false, fmt.Errorf("history fetch failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, false, fmt.Errorf("history fetch failed: status %d", resp.StatusCode)
	}

	var page historyPage
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, false, fmt.Errorf("history decode failed: %w", err)
	}
	return page.Messages, page.HasMore, nil
}

// FetchMoreMessages backfills one page of older history into the store
// and reports whether more pages remain.
func (d *DeliveryStore) FetchMoreMessages(ctx context.Context, history *HistoryClient, conversationID string, limit int) (bool, error) {
	before := time.Now().UTC()
	if msgs := d.Messages(conversationID); len(msgs) > 0 {
		before = msgs[0].CreatedAt
	}

	older, hasMore, err := history.FetchMessages(ctx, conversationID, before, limit)
	if err != nil {
		return false, err
	}
	d.MergeHistory(conversationID, older)
	return hasMore, nil
}
