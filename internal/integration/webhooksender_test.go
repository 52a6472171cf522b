package integration

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/valter-silva-au/ai-employee/internal/core"
	"github.com/valter-silva-au/ai-employee/pkg/models"
)

func TestWebhookSender_Send(t *testing.T) {
	var got webhookPayload
	var contentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		contentType = r.Header.Get("Content-Type")
		raw, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(raw, &got); err != nil {
			t.Errorf("decoding payload: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true,"message_id":"m-42"}`))
	}))
	defer srv.Close()

	s, err := NewWebhookSender(models.ChannelSlack, srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("NewWebhookSender: %v", err)
	}
	receipt, err := s.Send(context.Background(), "#ops", "deploy finished", core.SendOptions{ResponseID: "RESP_1", OriginalMessageID: "CHAT_1"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	if contentType != "application/json" {
		t.Errorf("Content-Type = %q", contentType)
	}
	if got.Text != "deploy finished" || got.Recipient != "#ops" || got.Channel != "slack" || got.InReplyTo != "CHAT_1" {
		t.Errorf("payload = %+v", got)
	}
	if receipt.ProviderMessageID != "m-42" {
		t.Errorf("ProviderMessageID = %q", receipt.ProviderMessageID)
	}
}

func TestWebhookSender_PlainOK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	s, err := NewWebhookSender(models.ChannelSlack, srv.URL, nil)
	if err != nil {
		t.Fatal(err)
	}
	receipt, err := s.Send(context.Background(), "#ops", "hi", core.SendOptions{})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if receipt.Status != "sent" || receipt.ProviderMessageID != "" {
		t.Errorf("receipt = %+v", receipt)
	}
}

func TestWebhookSender_Non2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid_token", http.StatusForbidden)
	}))
	defer srv.Close()

	s, err := NewWebhookSender(models.ChannelSlack, srv.URL, nil)
	if err != nil {
		t.Fatal(err)
	}
	_, err = s.Send(context.Background(), "#ops", "hi", core.SendOptions{})
	if err == nil {
		t.Fatal("expected error for 403")
	}
	if !strings.Contains(err.Error(), "403") || !strings.Contains(err.Error(), "invalid_token") {
		t.Errorf("error = %v", err)
	}
}

func TestNewWebhookSender_Validation(t *testing.T) {
	if _, err := NewWebhookSender("", "http://x", nil); err == nil {
		t.Error("expected error for empty channel")
	}
	if _, err := NewWebhookSender(models.ChannelSlack, "", nil); err == nil {
		t.Error("expected error for empty url")
	}
}
