package line

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newTestClient(handler http.HandlerFunc) (*Client, *httptest.Server) {
	server := httptest.NewServer(handler)
	client := NewClient(StaticToken("test-token"))
	client.endpoint = server.URL
	return client, server
}

func TestReplyText(t *testing.T) {
	var got struct {
		ReplyToken string `json:"replyToken"`
		Messages   []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"messages"`
	}
	client, server := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v2/bot/message/reply" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-token" {
			t.Errorf("unexpected auth header %q", auth)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("failed to decode request: %v", err)
		}
	})
	defer server.Close()

	if err := client.ReplyText(context.Background(), "rt-1", "平安"); err != nil {
		t.Fatalf("ReplyText failed: %v", err)
	}
	if got.ReplyToken != "rt-1" {
		t.Errorf("replyToken = %q", got.ReplyToken)
	}
	if len(got.Messages) != 1 || got.Messages[0].Type != "text" || got.Messages[0].Text != "平安" {
		t.Errorf("messages = %+v", got.Messages)
	}
}

func TestPushTextAPIError(t *testing.T) {
	client, server := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"message":"rate limited"}`))
	})
	defer server.Close()

	err := client.PushText(context.Background(), "G1", "hello")
	if err == nil {
		t.Fatal("expected an error for a 429 response")
	}
	if !strings.Contains(err.Error(), "429") || !strings.Contains(err.Error(), "rate limited") {
		t.Errorf("error should carry status and body snippet: %v", err)
	}
}

func TestGetProfile(t *testing.T) {
	client, server := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v2/bot/profile/U1" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]string{"displayName": "Alice", "userId": "U1"})
	})
	defer server.Close()

	name, err := client.GetProfile(context.Background(), "U1")
	if err != nil {
		t.Fatalf("GetProfile failed: %v", err)
	}
	if name != "Alice" {
		t.Errorf("display name = %q, want Alice", name)
	}
}
