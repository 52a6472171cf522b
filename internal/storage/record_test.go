package storage

import (
	"strings"
	"testing"

	"github.com/valter-silva-au/ai-employee/pkg/models"
)

func TestDecodeRecord_WatcherFormat(t *testing.T) {
	content := "---\r\n" +
		"type: EMAIL\r\n" +
		"from: bob@example.com\r\n" +
		"subject: Invoice\r\n" +
		"tags: [billing, urgent]\r\n" +
		"created: 2025-02-10 08:15:00\r\n" +
		"---\r\n" +
		"\r\n" +
		"Please pay the attached invoice.\r\n"

	item, err := DecodeRecord([]byte(content))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if item.Kind != models.KindEmail {
		t.Errorf("kind = %q, want email", item.Kind)
	}
	if item.CreatedAt.IsZero() || item.CreatedAt.Hour() != 8 {
		t.Errorf("created = %v", item.CreatedAt)
	}
	if got := item.Metadata.Get("tags"); got != "[billing, urgent]" {
		t.Errorf("tags = %q", got)
	}
	if item.Body != "Please pay the attached invoice.\n" {
		t.Errorf("body = %q", item.Body)
	}
	if keys := item.Metadata.Keys(); strings.Join(keys, ",") != "from,subject,tags" {
		t.Errorf("keys = %v", keys)
	}
}

func TestDecodeRecord_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"no frontmatter", "just text"},
		{"unterminated", "---\ntype: email\n"},
		{"missing type", "---\nfrom: x\n---\n"},
		{"unknown type", "---\ntype: telegram\n---\n"},
		{"not a mapping", "---\n- a\n- b\n---\n"},
		{"bad created", "---\ntype: email\ncreated: yesterday\n---\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodeRecord([]byte(tt.content)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestDecodeRecord_KeepsOnlyErrorStatus(t *testing.T) {
	item, err := DecodeRecord([]byte("---\ntype: email\nstatus: done\n---\n"))
	if err != nil {
		t.Fatal(err)
	}
	if item.Status != "" {
		t.Errorf("status = %q, want empty (folder decides)", item.Status)
	}

	item, err = DecodeRecord([]byte("---\ntype: email\nstatus: error\nerror: disk full\n---\n"))
	if err != nil {
		t.Fatal(err)
	}
	if item.Status != models.StatusError {
		t.Errorf("status = %q, want error", item.Status)
	}
}

func TestEncodeRecord_HeaderOrder(t *testing.T) {
	item := &models.WorkItem{
		ID:       "CHAT_1",
		Kind:     models.KindChatMessage,
		Status:   models.StatusNew,
		Metadata: models.NewMetadata("zeta", "1", "alpha", "2", "status", "ignored"),
		Body:     "hi",
	}
	data, err := EncodeRecord(item)
	if err != nil {
		t.Fatal(err)
	}
	want := "---\nid: CHAT_1\ntype: chat_message\nstatus: new\nzeta: \"1\"\nalpha: \"2\"\n---\n\nhi"
	if string(data) != want {
		t.Errorf("got:\n%s\nwant:\n%s", data, want)
	}
}
