package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/valter-silva-au/ai-employee/pkg/models"
	"gopkg.in/yaml.v3"
)

// ConversationsDir is the directory, relative to the base path, holding
// conversation records.
const ConversationsDir = "Conversations"

const conversationExt = ".yaml"

// ConversationStore persists conversations as one YAML file each.
type ConversationStore interface {
	Load(id string) (*models.Conversation, error)
	Save(conv *models.Conversation) error
	Delete(id string) error
	LoadAll() ([]*models.Conversation, error)
	// WithLock runs fn while holding the store's write lock. Read-modify-write
	// sequences must go through WithLock so that concurrent goroutines and
	// processes do not lose updates.
	WithLock(fn func() error) error
}

type fileConversationStore struct {
	dir string
	mu  sync.Mutex
}

// NewConversationStore creates a ConversationStore under
// <basePath>/Conversations.
func NewConversationStore(basePath string) ConversationStore {
	return &fileConversationStore{dir: filepath.Join(basePath, ConversationsDir)}
}

func (s *fileConversationStore) path(id string) string {
	return filepath.Join(s.dir, id+conversationExt)
}

func (s *fileConversationStore) WithLock(fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("creating conversations directory: %w", err)
	}
	unlock, err := lockFile(filepath.Join(s.dir, ".lock"))
	if err != nil {
		return err
	}
	defer func() { _ = unlock() }()

	return fn()
}

func (s *fileConversationStore) Load(id string) (*models.Conversation, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.path(id))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("loading conversation %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("loading conversation %s: %w", id, err)
	}

	var conv models.Conversation
	if err := yaml.Unmarshal(data, &conv); err != nil {
		return nil, &ValidationError{Path: s.path(id), Err: err}
	}
	return &conv, nil
}

func (s *fileConversationStore) Save(conv *models.Conversation) error {
	if conv == nil {
		return fmt.Errorf("saving conversation: conversation is nil")
	}
	if err := validateID(conv.ID); err != nil {
		return fmt.Errorf("saving conversation: %w", err)
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("creating conversations directory: %w", err)
	}

	data, err := yaml.Marshal(conv)
	if err != nil {
		return fmt.Errorf("marshaling conversation %s: %w", conv.ID, err)
	}

	tmp := filepath.Join(s.dir, tmpPrefix+uuid.NewString()+conversationExt)
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing conversation %s: %w", conv.ID, err)
	}
	if err := os.Rename(tmp, s.path(conv.ID)); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("writing conversation %s: %w", conv.ID, err)
	}
	return nil
}

func (s *fileConversationStore) Delete(id string) error {
	if err := validateID(id); err != nil {
		return err
	}
	if err := os.Remove(s.path(id)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("deleting conversation %s: %w", id, ErrNotFound)
		}
		return fmt.Errorf("deleting conversation %s: %w", id, err)
	}
	return nil
}

// LoadAll returns every readable conversation ordered by ID. Unparseable
// files are skipped.
func (s *fileConversationStore) LoadAll() ([]*models.Conversation, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("listing conversations: %w", err)
	}

	var convs []*models.Conversation
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, conversationExt) {
			continue
		}
		conv, err := s.Load(strings.TrimSuffix(name, conversationExt))
		if err != nil {
			continue
		}
		convs = append(convs, conv)
	}
	sort.Slice(convs, func(i, j int) bool { return convs[i].ID < convs[j].ID })
	return convs, nil
}
