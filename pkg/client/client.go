// Package client - Go-клиент HTTP API чата. Реализует realtime.Fetcher,
// поэтому годится как источник полного состояния для realtime.Feed.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"matchchat/internal/domain"
	"matchchat/internal/realtime"
	apperrors "matchchat/pkg/errors"
)

type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// New создает клиент; token - JWT сервиса идентификации.
func New(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Source возвращает push-источник для realtime.Feed на том же сервере.
func (c *Client) Source() *realtime.WSSource {
	return &realtime.WSSource{BaseURL: c.baseURL, Token: c.token, Buffer: 64}
}

func (c *Client) Resolve(ctx context.Context, participantID string) (*domain.Conversation, error) {
	var conv domain.Conversation
	body := map[string]string{"participant_id": participantID}
	if err := c.do(ctx, http.MethodPost, "/api/v1/conversations", nil, body, &conv); err != nil {
		return nil, err
	}
	return &conv, nil
}

func (c *Client) GetConversation(ctx context.Context, id uuid.UUID) (*domain.Conversation, error) {
	var conv domain.Conversation
	if err := c.do(ctx, http.MethodGet, "/api/v1/conversations/"+id.String(), nil, nil, &conv); err != nil {
		return nil, err
	}
	return &conv, nil
}

func (c *Client) ListConversations(ctx context.Context, opts domain.ListOptions) ([]domain.ConversationView, error) {
	query := url.Values{}
	if opts.Filter != "" {
		query.Set("filter", string(opts.Filter))
	}
	if opts.Sort != "" {
		query.Set("sort", string(opts.Sort))
	}
	if opts.Query != "" {
		query.Set("q", opts.Query)
	}
	var resp struct {
		Conversations []domain.ConversationView `json:"conversations"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/conversations", query, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Conversations, nil
}

func (c *Client) Send(ctx context.Context, conversationID uuid.UUID, content string) (*domain.Message, error) {
	var msg domain.Message
	body := map[string]string{"content": content}
	if err := c.do(ctx, http.MethodPost, conversationPath(conversationID, "/messages"), nil, body, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

func (c *Client) ListMessages(ctx context.Context, conversationID uuid.UUID, page domain.MessagePage) ([]domain.Message, error) {
	query := url.Values{}
	if page.After > 0 {
		query.Set("after", strconv.FormatInt(page.After, 10))
	}
	if page.Limit > 0 {
		query.Set("limit", strconv.Itoa(page.Limit))
	}
	var resp struct {
		Messages []domain.Message `json:"messages"`
	}
	if err := c.do(ctx, http.MethodGet, conversationPath(conversationID, "/messages"), query, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

// LatestMessage возвращает nil без ошибки для пустой переписки.
func (c *Client) LatestMessage(ctx context.Context, conversationID uuid.UUID) (*domain.Message, error) {
	var resp struct {
		Message *domain.Message `json:"message"`
	}
	if err := c.do(ctx, http.MethodGet, conversationPath(conversationID, "/messages/latest"), nil, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Message, nil
}

func (c *Client) MarkConversationRead(ctx context.Context, conversationID uuid.UUID) (int, error) {
	var resp struct {
		Marked int `json:"marked"`
	}
	if err := c.do(ctx, http.MethodPost, conversationPath(conversationID, "/read"), nil, nil, &resp); err != nil {
		return 0, err
	}
	return resp.Marked, nil
}

func (c *Client) MarkRead(ctx context.Context, messageID uuid.UUID) (*domain.Message, bool, error) {
	var resp struct {
		Message *domain.Message `json:"message"`
		Updated bool            `json:"updated"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/v1/messages/"+messageID.String()+"/read", nil, nil, &resp); err != nil {
		return nil, false, err
	}
	return resp.Message, resp.Updated, nil
}

func (c *Client) UnreadCount(ctx context.Context, conversationID uuid.UUID) (int, error) {
	var resp struct {
		UnreadCount int `json:"unread_count"`
	}
	if err := c.do(ctx, http.MethodGet, conversationPath(conversationID, "/unread"), nil, nil, &resp); err != nil {
		return 0, err
	}
	return resp.UnreadCount, nil
}

func (c *Client) TotalUnread(ctx context.Context) (int, error) {
	var resp struct {
		TotalUnread int `json:"total_unread"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/me/unread", nil, nil, &resp); err != nil {
		return 0, err
	}
	return resp.TotalUnread, nil
}

// FetchMessages выкачивает весь журнал постранично.
func (c *Client) FetchMessages(ctx context.Context, conversationID uuid.UUID) ([]domain.Message, error) {
	var all []domain.Message
	page := domain.MessagePage{Limit: domain.MaxMessagePageSize}
	for {
		messages, err := c.ListMessages(ctx, conversationID, page)
		if err != nil {
			return nil, err
		}
		all = append(all, messages...)
		if len(messages) < page.Limit {
			return all, nil
		}
		page.After = messages[len(messages)-1].Seq
	}
}

// FetchConversations: пользователь определяется токеном, userID не передается.
func (c *Client) FetchConversations(ctx context.Context, _ string) ([]domain.ConversationView, error) {
	return c.ListConversations(ctx, domain.DefaultListOptions())
}

func conversationPath(id uuid.UUID, suffix string) string {
	return "/api/v1/conversations/" + id.String() + suffix
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if in != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		err = fmt.Errorf("failed to send request: %w", err)
		if isTimeout(err) {
			return apperrors.Timeout(err)
		}
		// Сервер недоступен - для вызывающего это повторяемая ошибка, как и 503.
		return apperrors.StoreUnavailable(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// decodeError восстанавливает AppError из тела ответа, чтобы вызывающий
// мог сравнивать коды через errors.Is и apperrors.Retryable.
func decodeError(resp *http.Response) error {
	bodyBytes, _ := io.ReadAll(resp.Body)
	var apiErr apperrors.APIError
	if err := json.Unmarshal(bodyBytes, &apiErr); err != nil || apiErr.Code == "" {
		return fmt.Errorf("server returned status %d: %s: %w",
			resp.StatusCode, strings.TrimSpace(string(bodyBytes)), apperrors.ErrInternalServer)
	}
	return apperrors.New(apiErr.Code, apiErr.Message)
}

// isTimeout - истек дедлайн вызывающего или таймаут транспорта.
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
