// Package client talks to the support server over HTTP and websocket. It
// feeds the agent package's views and the read-state reconciler.
package client

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

	"github.com/dakael7/gravitylabs/internal/apperr"
	"github.com/dakael7/gravitylabs/internal/models"
	"github.com/dakael7/gravitylabs/internal/presence"
)

// APIError is a non-2xx reply. It unwraps to the matching apperr kind so
// callers can use errors.Is the same way they do server side.
type APIError struct {
	Status  int
	Code    string `json:"code"`
	Message string `json:"error"`
	Field   string `json:"field,omitempty"`
}

func (e *APIError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%d %s: %s: %s", e.Status, e.Code, e.Field, e.Message)
	}
	return fmt.Sprintf("%d %s: %s", e.Status, e.Code, e.Message)
}

func (e *APIError) Unwrap() error {
	switch e.Status {
	case http.StatusBadRequest:
		return apperr.ErrValidation
	case http.StatusNotFound:
		return apperr.ErrNotFound
	case http.StatusForbidden:
		return apperr.ErrForbidden
	case http.StatusConflict:
		return apperr.ErrInvalidTransition
	case http.StatusServiceUnavailable, http.StatusTooManyRequests:
		return apperr.ErrStoreUnavailable
	}
	return nil
}

type Option func(*API)

func WithHTTPClient(c *http.Client) Option {
	return func(a *API) { a.httpClient = c }
}

func WithTimeout(d time.Duration) Option {
	return func(a *API) { a.httpClient = &http.Client{Timeout: d} }
}

// API is the HTTP half of the client.
type API struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func NewAPI(baseURL, token string, opts ...Option) *API {
	a := &API{
		baseURL:    baseURL,
		token:      token,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *API) BaseURL() string { return a.baseURL }
func (a *API) Token() string   { return a.token }

func conversationPath(key, suffix string) string {
	return "/api/conversations/" + url.PathEscape(key) + suffix
}

// doRequest sends body as JSON and returns the status and raw reply.
func (a *API) doRequest(ctx context.Context, method, path string, body interface{}, query url.Values) (int, []byte, error) {
	u := a.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if a.token != "" {
		req.Header.Set("Authorization", "Bearer "+a.token)
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return 0, nil, apperr.TransientDelivery(method+" "+path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, apperr.TransientDelivery(method+" "+path, err)
	}
	if resp.StatusCode >= 400 {
		apiErr := &APIError{Status: resp.StatusCode}
		if json.Unmarshal(data, apiErr) != nil || apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		return resp.StatusCode, nil, apiErr
	}
	return resp.StatusCode, data, nil
}

func (a *API) call(ctx context.Context, method, path string, body interface{}, query url.Values, out interface{}) (int, error) {
	status, data, err := a.doRequest(ctx, method, path, body, query)
	if err != nil {
		return status, err
	}
	if out == nil || len(data) == 0 {
		return status, nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return status, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return status, nil
}

// Append sends a message. clientID should be a fresh UUID; resending with
// the same id is safe.
func (a *API) Append(ctx context.Context, conversationKey, body, clientID string) (*models.Message, error) {
	var m models.Message
	_, err := a.call(ctx, http.MethodPost, conversationPath(conversationKey, "/messages"), map[string]string{
		"body":      body,
		"client_id": clientID,
	}, nil, &m)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// ListSince implements agent.Source.
func (a *API) ListSince(ctx context.Context, conversationKey string, sinceID uint, limit int) ([]models.Message, error) {
	query := url.Values{}
	if sinceID > 0 {
		query.Set("since_id", strconv.FormatUint(uint64(sinceID), 10))
	}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	var out struct {
		Messages []models.Message `json:"messages"`
	}
	if _, err := a.call(ctx, http.MethodGet, conversationPath(conversationKey, "/messages"), nil, query, &out); err != nil {
		return nil, err
	}
	return out.Messages, nil
}

// Conversations implements agent.ListSource.
func (a *API) Conversations(ctx context.Context) ([]models.ConversationSummary, error) {
	var out struct {
		Conversations []models.ConversationSummary `json:"conversations"`
	}
	if _, err := a.call(ctx, http.MethodGet, "/api/conversations", nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Conversations, nil
}

// MarkConversationRead implements readstate.Marker. The server derives the
// reader from the token's role.
func (a *API) MarkConversationRead(ctx context.Context, conversationKey string, _ models.SenderKind) (int, error) {
	var out struct {
		Changed int `json:"changed"`
	}
	if _, err := a.call(ctx, http.MethodPost, conversationPath(conversationKey, "/read"), nil, nil, &out); err != nil {
		return 0, err
	}
	return out.Changed, nil
}

// MarkMessageRead implements readstate.Marker. A message the caller may not
// see is reported as apperr.ErrNotFound.
func (a *API) MarkMessageRead(ctx context.Context, messageID uint, _ models.SenderKind) (*models.Message, error) {
	var m models.Message
	status, err := a.call(ctx, http.MethodPost, "/api/messages/"+strconv.FormatUint(uint64(messageID), 10)+"/read", nil, nil, &m)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNoContent {
		return nil, apperr.ErrNotFound
	}
	return &m, nil
}

// HeartbeatInfo is the cadence the server expects.
type HeartbeatInfo struct {
	Online              bool  `json:"online"`
	HeartbeatIntervalMS int64 `json:"heartbeat_interval_ms"`
	LivenessWindowMS    int64 `json:"liveness_window_ms"`
}

func (h HeartbeatInfo) Interval() time.Duration {
	return time.Duration(h.HeartbeatIntervalMS) * time.Millisecond
}

func (a *API) Heartbeat(ctx context.Context, sessionToken string) (HeartbeatInfo, error) {
	var out HeartbeatInfo
	_, err := a.call(ctx, http.MethodPost, "/api/presence/heartbeat", map[string]string{"session_token": sessionToken}, nil, &out)
	return out, err
}

func (a *API) EndSession(ctx context.Context, sessionToken string) error {
	_, err := a.call(ctx, http.MethodDelete, "/api/presence/sessions/"+url.PathEscape(sessionToken), nil, nil, nil)
	return err
}

// Presence lists who is online in scope.
func (a *API) Presence(ctx context.Context, scope string) ([]presence.Transition, error) {
	var out struct {
		Online []presence.Transition `json:"online"`
	}
	if _, err := a.call(ctx, http.MethodGet, "/api/presence", nil, url.Values{"scope": {scope}}, &out); err != nil {
		return nil, err
	}
	return out.Online, nil
}
