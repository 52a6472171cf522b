package core

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/valter-silva-au/ai-employee/internal/storage"
	"github.com/valter-silva-au/ai-employee/pkg/models"
)

// ConversationIDPrefix prefixes every conversation ID.
const ConversationIDPrefix = "CONV_"

// DefaultActiveDays is how long a conversation stays eligible for reuse
// without activity.
const DefaultActiveDays = 30

// ConversationTracker correlates outbound replies with the sender and
// channel they answer.
type ConversationTracker interface {
	// FindActive returns the most recently active conversation with sender on
	// channel, or nil when none is active within the activity window.
	FindActive(sender string, channel models.Channel) (*models.Conversation, error)
	CreateContext(originalMessageID string, channel models.Channel, sender, summary string) (*models.Conversation, error)
	// FindOrCreate returns the active conversation with sender on channel,
	// creating one when none exists. The lookup and the create happen under
	// one store lock, so concurrent callers share a single conversation.
	FindOrCreate(originalMessageID string, channel models.Channel, sender, summary string) (*models.Conversation, bool, error)
	// LinkResponse appends a reply to a conversation and bumps its activity.
	LinkResponse(conversationID, responseID, content, sender string) error
	// Touch bumps lastActivity.
	Touch(conversationID string) error
	Get(conversationID string) (*models.Conversation, error)
	Deactivate(conversationID string) error
	// DeactivateStale marks conversations idle for more than inactiveDays as
	// inactive, returning how many changed.
	DeactivateStale(inactiveDays int) (int, error)
	// Cleanup deletes inactive conversations idle for more than olderThanDays.
	Cleanup(olderThanDays int) (int, error)
	List() ([]*models.Conversation, error)
}

// ConversationOption configures a ConversationTracker.
type ConversationOption func(*conversationTracker)

// WithConversationClock overrides the time source.
func WithConversationClock(now func() time.Time) ConversationOption {
	return func(t *conversationTracker) { t.now = now }
}

// WithConversationLogger sets the runtime logger.
func WithConversationLogger(logger *slog.Logger) ConversationOption {
	return func(t *conversationTracker) { t.logger = logger }
}

type conversationTracker struct {
	store      storage.ConversationStore
	activeDays int
	now        func() time.Time
	logger     *slog.Logger
}

// NewConversationTracker creates a ConversationTracker backed by store.
func NewConversationTracker(store storage.ConversationStore, activeDays int, opts ...ConversationOption) ConversationTracker {
	if activeDays <= 0 {
		activeDays = DefaultActiveDays
	}
	t := &conversationTracker{
		store:      store,
		activeDays: activeDays,
		now:        time.Now,
		logger:     discardLogger(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func days(n int) time.Duration {
	return time.Duration(n) * 24 * time.Hour
}

func (t *conversationTracker) FindActive(sender string, channel models.Channel) (*models.Conversation, error) {
	all, err := t.store.LoadAll()
	if err != nil {
		return nil, fmt.Errorf("finding conversation: %w", err)
	}
	return t.mostRecentActive(all, sender, channel), nil
}

func (t *conversationTracker) mostRecentActive(all []*models.Conversation, sender string, channel models.Channel) *models.Conversation {
	cutoff := t.now().Add(-days(t.activeDays))
	var best *models.Conversation
	for _, c := range all {
		if !c.Active || !c.Matches(sender, channel) || c.LastActivity.Before(cutoff) {
			continue
		}
		if best == nil || c.LastActivity.After(best.LastActivity) {
			best = c
		}
	}
	return best
}

func (t *conversationTracker) newConversation(originalMessageID string, channel models.Channel, sender, summary string) *models.Conversation {
	now := t.now().UTC()
	return &models.Conversation{
		ID:                ConversationIDPrefix + uuid.New().String(),
		OriginalChannel:   channel,
		OriginalSender:    sender,
		OriginalMessageID: originalMessageID,
		ThreadID:          uuid.New().String(),
		Summary:           summary,
		Participants:      []string{sender},
		Responses:         []models.ConversationResponse{},
		Active:            true,
		CreatedAt:         now,
		LastActivity:      now,
	}
}

func (t *conversationTracker) CreateContext(originalMessageID string, channel models.Channel, sender, summary string) (*models.Conversation, error) {
	conv := t.newConversation(originalMessageID, channel, sender, summary)
	err := t.store.WithLock(func() error {
		return t.store.Save(conv)
	})
	if err != nil {
		return nil, fmt.Errorf("creating conversation: %w", err)
	}
	t.logger.Debug("conversation created", "conversation_id", conv.ID, "channel", channel, "sender", sender)
	return conv, nil
}

func (t *conversationTracker) FindOrCreate(originalMessageID string, channel models.Channel, sender, summary string) (*models.Conversation, bool, error) {
	var (
		conv    *models.Conversation
		created bool
	)
	err := t.store.WithLock(func() error {
		all, err := t.store.LoadAll()
		if err != nil {
			return err
		}
		if conv = t.mostRecentActive(all, sender, channel); conv != nil {
			return nil
		}
		conv = t.newConversation(originalMessageID, channel, sender, summary)
		created = true
		return t.store.Save(conv)
	})
	if err != nil {
		return nil, false, fmt.Errorf("finding or creating conversation: %w", err)
	}
	if created {
		t.logger.Debug("conversation created", "conversation_id", conv.ID, "channel", channel, "sender", sender)
	}
	return conv, created, nil
}

// update runs fn against a freshly loaded conversation under the store lock
// and saves the result.
func (t *conversationTracker) update(id string, fn func(*models.Conversation)) error {
	return t.store.WithLock(func() error {
		conv, err := t.store.Load(id)
		if err != nil {
			return err
		}
		fn(conv)
		return t.store.Save(conv)
	})
}

func (t *conversationTracker) LinkResponse(conversationID, responseID, content, sender string) error {
	now := t.now().UTC()
	err := t.update(conversationID, func(c *models.Conversation) {
		c.Responses = append(c.Responses, models.ConversationResponse{
			ID:        responseID,
			Content:   content,
			Sender:    sender,
			Timestamp: now,
		})
		c.AddParticipant(sender)
		c.LastActivity = now
	})
	if err != nil {
		return fmt.Errorf("linking response %s to %s: %w", responseID, conversationID, err)
	}
	return nil
}

func (t *conversationTracker) Touch(conversationID string) error {
	now := t.now().UTC()
	if err := t.update(conversationID, func(c *models.Conversation) { c.LastActivity = now }); err != nil {
		return fmt.Errorf("touching conversation %s: %w", conversationID, err)
	}
	return nil
}

func (t *conversationTracker) Get(conversationID string) (*models.Conversation, error) {
	return t.store.Load(conversationID)
}

func (t *conversationTracker) Deactivate(conversationID string) error {
	if err := t.update(conversationID, func(c *models.Conversation) { c.Active = false }); err != nil {
		return fmt.Errorf("deactivating conversation %s: %w", conversationID, err)
	}
	return nil
}

func (t *conversationTracker) DeactivateStale(inactiveDays int) (int, error) {
	cutoff := t.now().Add(-days(inactiveDays))
	changed := 0
	err := t.store.WithLock(func() error {
		all, err := t.store.LoadAll()
		if err != nil {
			return err
		}
		for _, c := range all {
			if !c.Active || !c.LastActivity.Before(cutoff) {
				continue
			}
			c.Active = false
			if err := t.store.Save(c); err != nil {
				return err
			}
			changed++
		}
		return nil
	})
	if err != nil {
		return changed, fmt.Errorf("deactivating stale conversations: %w", err)
	}
	return changed, nil
}

func (t *conversationTracker) Cleanup(olderThanDays int) (int, error) {
	cutoff := t.now().Add(-days(olderThanDays))
	removed := 0
	err := t.store.WithLock(func() error {
		all, err := t.store.LoadAll()
		if err != nil {
			return err
		}
		for _, c := range all {
			if c.Active || !c.LastActivity.Before(cutoff) {
				continue
			}
			if err := t.store.Delete(c.ID); err != nil && !errors.Is(err, storage.ErrNotFound) {
				return err
			}
			removed++
		}
		return nil
	})
	if err != nil {
		return removed, fmt.Errorf("cleaning up conversations: %w", err)
	}
	if removed > 0 {
		t.logger.Info("conversations cleaned up", "removed", removed, "older_than_days", olderThanDays)
	}
	return removed, nil
}

func (t *conversationTracker) List() ([]*models.Conversation, error) {
	return t.store.LoadAll()
}
