package wechat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hrygo/replybridge/internal/version"
)

// noMoreHistoryMarkers are the failure texts the driver uses once the top of a conversation is reached.
var noMoreHistoryMarkers = []string{"没有更多消息", "no more message"}

// BridgeClient communicates with the automation sidecar over HTTP.
type BridgeClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client

	bridgeVersion string
}

// NewBridgeClient creates a new client for the automation sidecar.
// Requests carry no client-side timeout: next-message fetches block on the driver
// and are bounded by the caller's context instead.
func NewBridgeClient(bridgeURL, apiKey string) *BridgeClient {
	return &BridgeClient{
		baseURL: strings.TrimRight(bridgeURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 0,
		},
	}
}

// NewConnector returns a Connector that builds a BridgeClient and verifies the
// sidecar reports a logged-in session before handing it out.
func NewConnector(bridgeURL, apiKey string) Connector {
	return func(ctx context.Context) (Client, error) {
		c := NewBridgeClient(bridgeURL, apiKey)
		hctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := c.HealthCheck(hctx); err != nil {
			return nil, err
		}
		if !version.IsBridgeSupported(c.bridgeVersion) {
			slog.Warn("wechat: sidecar version older than supported",
				"version", c.bridgeVersion, "min", version.MinBridgeVersion)
		}
		return c, nil
	}
}

// HealthCheck verifies the sidecar is running and the chat client is logged in.
func (b *BridgeClient) HealthCheck(ctx context.Context) error {
	var result struct {
		Status    string `json:"status"`
		Connected bool   `json:"connected"`
		Version   string `json:"version"`
	}
	status, err := b.do(ctx, http.MethodGet, "/health", nil, &result)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return wrapErr(ErrUnreachable, fmt.Errorf("health check failed: status %d", status))
	}
	b.bridgeVersion = result.Version
	if result.Status == "disconnected" || (result.Status == "" && !result.Connected) {
		return ErrNotConnected
	}
	return nil
}

// MyInfo returns the logged-in account.
func (b *BridgeClient) MyInfo(ctx context.Context) (*Identity, error) {
	var id Identity
	if _, err := b.expectOK(ctx, http.MethodGet, "/me", nil, &id); err != nil {
		return nil, err
	}
	return &id, nil
}

// FetchNextMessage asks the driver for the next unseen batch.
func (b *BridgeClient) FetchNextMessage(ctx context.Context, muteFiltered bool) (*Batch, error) {
	req := map[string]any{"filter_mute": muteFiltered}
	var batch Batch
	status, err := b.do(ctx, http.MethodPost, "/messages/next", req, &batch)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNoContent {
		return &Batch{}, nil
	}
	if status != http.StatusOK {
		return nil, statusErr(status)
	}
	return &batch, nil
}

// OpenConversation switches the chat window to name.
func (b *BridgeClient) OpenConversation(ctx context.Context, name string) (bool, error) {
	return b.successCall(ctx, "/chat/open", map[string]any{"who": name})
}

// LoadMoreHistory loads one more page of history into the open window.
func (b *BridgeClient) LoadMoreHistory(ctx context.Context) (*LoadResult, error) {
	var result struct {
		Status  string `json:"status"`
		Message string `json:"message"`
	}
	if _, err := b.expectOK(ctx, http.MethodPost, "/messages/load_more", struct{}{}, &result); err != nil {
		return nil, err
	}
	return &LoadResult{
		More:    result.Status != "" && !isFailureStatus(result.Status),
		Message: result.Message,
	}, nil
}

// IsNoMoreHistory reports whether a load result signals the top of the conversation.
func IsNoMoreHistory(r *LoadResult) bool {
	if r == nil {
		return true
	}
	if r.More {
		return false
	}
	msg := strings.ToLower(r.Message)
	for _, marker := range noMoreHistoryMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// FetchAllMessages returns all messages rendered in the open conversation.
func (b *BridgeClient) FetchAllMessages(ctx context.Context) ([]*Message, error) {
	var raw json.RawMessage
	if _, err := b.expectOK(ctx, http.MethodGet, "/messages/all", nil, &raw); err != nil {
		return nil, err
	}
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var wrapped struct {
			Messages json.RawMessage `json:"messages"`
		}
		if err := json.Unmarshal(trimmed, &wrapped); err != nil {
			return nil, wrapErr(ErrInvalidPayload, err)
		}
		trimmed = wrapped.Messages
	}
	msgs, err := decodeMessages(trimmed)
	if err != nil {
		return nil, wrapErr(ErrInvalidPayload, err)
	}
	return msgs, nil
}

// SendReply quotes msg and answers it with text.
func (b *BridgeClient) SendReply(ctx context.Context, msg *Message, text string) (bool, error) {
	return b.successCall(ctx, "/messages/reply", map[string]any{"message": msg, "text": text})
}

// Send sends text to the named conversation.
func (b *BridgeClient) Send(ctx context.Context, name, text string) (bool, error) {
	return b.successCall(ctx, "/send", map[string]any{"who": name, "msg": text})
}

// Close closes idle connections to the sidecar.
func (b *BridgeClient) Close() error {
	b.httpClient.CloseIdleConnections()
	return nil
}

func (b *BridgeClient) successCall(ctx context.Context, path string, body any) (bool, error) {
	var result struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
	}
	if _, err := b.expectOK(ctx, http.MethodPost, path, body, &result); err != nil {
		return false, err
	}
	if !result.Success && result.Message != "" {
		slog.Debug("wechat: bridge call unsuccessful", "path", path, "message", result.Message)
	}
	return result.Success, nil
}

func (b *BridgeClient) expectOK(ctx context.Context, method, path string, body, out any) (int, error) {
	status, err := b.do(ctx, method, path, body, out)
	if err != nil {
		return status, err
	}
	if status != http.StatusOK {
		return status, statusErr(status)
	}
	return status, nil
}

func (b *BridgeClient) do(ctx context.Context, method, path string, body, out any) (int, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, b.baseURL+path, reader)
	if err != nil {
		return 0, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if b.apiKey != "" {
		req.Header.Set("x-bridge-api-key", b.apiKey)
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return 0, wrapErr(ErrUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return resp.StatusCode, ErrUnauthorized
	}
	if resp.StatusCode != http.StatusOK || out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return resp.StatusCode, nil
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, wrapErr(ErrUnreachable, err)
	}
	if len(bytes.TrimSpace(data)) == 0 || string(bytes.TrimSpace(data)) == "null" {
		return resp.StatusCode, nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return resp.StatusCode, wrapErr(ErrInvalidPayload, err)
	}
	return resp.StatusCode, nil
}

func statusErr(status int) error {
	if status == http.StatusServiceUnavailable {
		return ErrNotConnected
	}
	return wrapErr(ErrUnreachable, fmt.Errorf("unexpected status %d", status))
}

func isFailureStatus(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "失败", "failed", "failure", "error":
		return true
	default:
		return false
	}
}

// Ensure BridgeClient implements Client
var _ Client = (*BridgeClient)(nil)
