package line

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const defaultEndpoint = "https://api.line.me"

// Client sends messages through the LINE Messaging API.
type Client struct {
	httpClient *http.Client
	tokens     TokenSource
	endpoint   string
}

// NewClient creates a messaging client using the given token source.
func NewClient(tokens TokenSource) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		tokens:     tokens,
		endpoint:   defaultEndpoint,
	}
}

type textMessage struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// ReplyText answers the event that carried the reply token.
func (c *Client) ReplyText(ctx context.Context, replyToken, text string) error {
	payload := map[string]any{
		"replyToken": replyToken,
		"messages":   []textMessage{{Type: "text", Text: text}},
	}
	return c.post(ctx, "/v2/bot/message/reply", payload)
}

// PushText sends a message to a user, group or room by ID.
func (c *Client) PushText(ctx context.Context, to, text string) error {
	payload := map[string]any{
		"to":       to,
		"messages": []textMessage{{Type: "text", Text: text}},
	}
	return c.post(ctx, "/v2/bot/message/push", payload)
}

// GetProfile fetches a user's display name.
func (c *Client) GetProfile(ctx context.Context, userID string) (string, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to get channel token: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"/v2/bot/profile/"+userID, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build profile request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch profile: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", apiError("profile", resp)
	}

	var profile struct {
		DisplayName string `json:"displayName"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&profile); err != nil {
		return "", fmt.Errorf("failed to decode profile: %w", err)
	}
	return profile.DisplayName, nil
}

func (c *Client) post(ctx context.Context, path string, payload any) error {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return fmt.Errorf("failed to get channel token: %w", err)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build message request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return apiError(path, resp)
	}
	return nil
}

func apiError(what string, resp *http.Response) error {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return fmt.Errorf("line api %s returned %d: %s", what, resp.StatusCode, snippet)
}
