package storage

import (
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/valter-silva-au/ai-employee/pkg/models"
	"pgregory.net/rapid"
)

func genAlphaString(t *rapid.T, label string, minLen, maxLen int) string {
	letters := "abcdefghijklmnopqrstuvwxyz"
	n := rapid.IntRange(minLen, maxLen).Draw(t, label+"Len")
	b := make([]byte, n)
	for i := range b {
		b[i] = letters[rapid.IntRange(0, len(letters)-1).Draw(t, label+"Char")]
	}
	return string(b)
}

func genFolder(t *rapid.T, label string) models.Folder {
	folders := models.Folders()
	return folders[rapid.IntRange(0, len(folders)-1).Draw(t, label)]
}

func genKind(t *rapid.T) models.Kind {
	kinds := []models.Kind{models.KindEmail, models.KindFileDrop, models.KindChatMessage}
	return kinds[rapid.IntRange(0, len(kinds)-1).Draw(t, "kindIdx")]
}

func genMetadata(t *rapid.T) models.Metadata {
	var md models.Metadata
	n := rapid.IntRange(0, 6).Draw(t, "nMeta")
	for i := range n {
		key := "x_" + genAlphaString(t, fmt.Sprintf("key%d", i), 1, 8)
		value := rapid.SampledFrom([]string{
			"", "plain", "123", "true", "a: b", "#hash", "- dash", "wire $5,000", "null",
		}).Draw(t, fmt.Sprintf("value%d", i))
		md.Set(key, value)
	}
	return md
}

func genWorkItem(t *rapid.T) *models.WorkItem {
	return &models.WorkItem{
		ID:        fmt.Sprintf("ITEM_%04d", rapid.IntRange(0, 9999).Draw(t, "idNum")),
		Kind:      genKind(t),
		CreatedAt: time.Unix(rapid.Int64Range(0, 4_000_000_000).Draw(t, "created"), 0).UTC(),
		Metadata:  genMetadata(t),
		Body:      genAlphaString(t, "body", 0, 60),
	}
}

// Feature: item-store, Property 1: Status always agrees with folder
// For any sequence of moves, reading a record back yields the status its
// folder represents, and the record exists in exactly one folder.
func TestProperty_StatusMatchesFolder(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		dir, err := os.MkdirTemp("", "aie-store-*")
		if err != nil {
			t.Fatal(err)
		}
		defer os.RemoveAll(dir)

		store := NewItemStore(dir, nil)
		if err := store.EnsureLayout(); err != nil {
			t.Fatal(err)
		}

		item := genWorkItem(t)
		start := genFolder(t, "start")
		if err := store.Create(start, item); err != nil {
			t.Fatalf("Create: %v", err)
		}

		current := start
		moves := rapid.IntRange(0, 5).Draw(t, "moves")
		for i := range moves {
			target := genFolder(t, fmt.Sprintf("target%d", i))
			if target == current {
				continue
			}
			if err := store.Move(item, target); err != nil {
				t.Fatalf("Move %s -> %s: %v", current, target, err)
			}
			current = target
		}

		got, err := store.Get(current, item.ID)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got.Status != models.StatusForFolder(current) {
			t.Fatalf("status %q in folder %s", got.Status, current)
		}

		counts, err := store.Counts()
		if err != nil {
			t.Fatal(err)
		}
		total := 0
		for _, n := range counts {
			total += n
		}
		if total != 1 {
			t.Fatalf("record present %d times", total)
		}
	})
}

// Feature: item-store, Property 2: Record round trip
// For any work item, encoding and decoding preserves kind, creation time,
// body, and metadata including key order.
func TestProperty_RecordRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		item := genWorkItem(t)

		data, err := EncodeRecord(item)
		if err != nil {
			t.Fatalf("EncodeRecord: %v", err)
		}
		got, err := DecodeRecord(data)
		if err != nil {
			t.Fatalf("DecodeRecord: %v\n%s", err, data)
		}

		if got.Kind != item.Kind {
			t.Fatalf("kind %q != %q", got.Kind, item.Kind)
		}
		if !got.CreatedAt.Equal(item.CreatedAt) {
			t.Fatalf("created %v != %v", got.CreatedAt, item.CreatedAt)
		}
		if got.Body != item.Body {
			t.Fatalf("body %q != %q", got.Body, item.Body)
		}

		wantKeys, gotKeys := item.Metadata.Keys(), got.Metadata.Keys()
		if len(wantKeys) != len(gotKeys) {
			t.Fatalf("keys %v != %v", gotKeys, wantKeys)
		}
		for i, k := range wantKeys {
			if gotKeys[i] != k {
				t.Fatalf("key order %v != %v", gotKeys, wantKeys)
			}
			if got.Metadata.Get(k) != item.Metadata.Get(k) {
				t.Fatalf("value for %s: %q != %q", k, got.Metadata.Get(k), item.Metadata.Get(k))
			}
		}
	})
}
