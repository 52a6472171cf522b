package storage

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/valter-silva-au/ai-employee/pkg/models"
)

func testConversation(id string) *models.Conversation {
	at := time.Date(2025, 4, 2, 12, 0, 0, 0, time.UTC)
	return &models.Conversation{
		ID:              id,
		OriginalChannel: models.ChannelEmail,
		OriginalSender:  "carol@example.com",
		ThreadID:        "thread-" + id,
		Participants:    []string{"carol@example.com"},
		Active:          true,
		CreatedAt:       at,
		LastActivity:    at,
	}
}

func TestConversationStore_SaveLoad(t *testing.T) {
	store := NewConversationStore(t.TempDir())
	conv := testConversation("CONV_1")
	conv.Responses = []models.ConversationResponse{
		{ID: "RESP_1", Content: "Thanks!", Sender: "assistant", Timestamp: conv.CreatedAt},
	}
	if err := store.Save(conv); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := store.Load("CONV_1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.OriginalSender != conv.OriginalSender || got.OriginalChannel != conv.OriginalChannel {
		t.Errorf("got %+v", got)
	}
	if len(got.Responses) != 1 || got.Responses[0].ID != "RESP_1" {
		t.Errorf("responses = %+v", got.Responses)
	}
	if !got.LastActivity.Equal(conv.LastActivity) {
		t.Errorf("last activity = %v", got.LastActivity)
	}
}

func TestConversationStore_LoadMissing(t *testing.T) {
	store := NewConversationStore(t.TempDir())
	if _, err := store.Load("CONV_X"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := store.Delete("CONV_X"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestConversationStore_LoadAllSkipsBadFiles(t *testing.T) {
	dir := t.TempDir()
	store := NewConversationStore(dir)
	for _, id := range []string{"CONV_B", "CONV_A"} {
		if err := store.Save(testConversation(id)); err != nil {
			t.Fatal(err)
		}
	}
	bad := filepath.Join(dir, ConversationsDir, "CONV_BAD.yaml")
	if err := os.WriteFile(bad, []byte("responses: {not: [a list"), 0o644); err != nil {
		t.Fatal(err)
	}

	all, err := store.LoadAll()
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if len(all) != 2 || all[0].ID != "CONV_A" || all[1].ID != "CONV_B" {
		t.Errorf("unexpected conversations: %d", len(all))
	}
}

func TestConversationStore_WithLockSerialisesUpdates(t *testing.T) {
	store := NewConversationStore(t.TempDir())
	if err := store.Save(testConversation("CONV_C")); err != nil {
		t.Fatal(err)
	}

	const writers = 10
	var wg sync.WaitGroup
	for i := range writers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := store.WithLock(func() error {
				conv, err := store.Load("CONV_C")
				if err != nil {
					return err
				}
				conv.Responses = append(conv.Responses, models.ConversationResponse{ID: "R", Content: "x"})
				return store.Save(conv)
			})
			if err != nil {
				t.Errorf("writer %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	got, err := store.Load("CONV_C")
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Responses) != writers {
		t.Errorf("responses = %d, want %d", len(got.Responses), writers)
	}
}
