// Package line is the thin boundary to the LINE messaging platform:
// webhook signature verification and decoding on the way in, reply and
// push sends on the way out.
package line

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// ErrInvalidSignature is returned when the X-Line-Signature header does
// not match the request body. The webhook endpoint answers 400.
var ErrInvalidSignature = errors.New("invalid webhook signature")

// Webhook event and source shapes, trimmed to the fields the bot uses.
type (
	// Event is one inbound webhook event.
	Event struct {
		Type            string           `json:"type"`
		ReplyToken      string           `json:"replyToken"`
		Timestamp       int64            `json:"timestamp"`
		Source          Source           `json:"source"`
		Message         *Message         `json:"message,omitempty"`
		DeliveryContext *DeliveryContext `json:"deliveryContext,omitempty"`
	}

	// Source identifies where the event came from. Type is "user",
	// "group" or "room".
	Source struct {
		Type    string `json:"type"`
		UserID  string `json:"userId"`
		GroupID string `json:"groupId,omitempty"`
		RoomID  string `json:"roomId,omitempty"`
	}

	// Message is the message payload of a message event.
	Message struct {
		ID   string `json:"id"`
		Type string `json:"type"`
		Text string `json:"text,omitempty"`
	}

	// DeliveryContext marks platform redeliveries. All round mutations
	// are overwrite-style, so redeliveries are processed normally.
	DeliveryContext struct {
		IsRedelivery bool `json:"isRedelivery"`
	}

	webhookBody struct {
		Destination string  `json:"destination"`
		Events      []Event `json:"events"`
	}
)

// ParseRequest verifies the request signature against the channel secret
// and decodes the event batch.
func ParseRequest(channelSecret string, r *http.Request) ([]Event, error) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read webhook body: %w", err)
	}

	if !ValidateSignature(channelSecret, r.Header.Get("X-Line-Signature"), body) {
		return nil, ErrInvalidSignature
	}

	var decoded webhookBody
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("failed to decode webhook body: %w", err)
	}
	return decoded.Events, nil
}

// ValidateSignature checks the base64-encoded HMAC-SHA256 of the raw body
// keyed by the channel secret, as the platform computes it.
func ValidateSignature(channelSecret, signature string, body []byte) bool {
	decoded, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(channelSecret))
	mac.Write(body)
	return hmac.Equal(decoded, mac.Sum(nil))
}
