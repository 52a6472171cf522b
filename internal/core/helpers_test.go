package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/valter-silva-au/ai-employee/internal/storage"
	"github.com/valter-silva-au/ai-employee/pkg/models"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type sentMessage struct {
	Recipient string
	Content   string
	Opts      SendOptions
}

type fakeSender struct {
	channel models.Channel
	mu      sync.Mutex
	sent    []sentMessage
	fail    error
}

func (s *fakeSender) Channel() models.Channel { return s.channel }

func (s *fakeSender) Send(_ context.Context, recipient, content string, opts SendOptions) (*SendReceipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return nil, s.fail
	}
	s.sent = append(s.sent, sentMessage{Recipient: recipient, Content: content, Opts: opts})
	return &SendReceipt{Status: "sent", ProviderMessageID: fmt.Sprintf("%s-%d", s.channel, len(s.sent))}, nil
}

func (s *fakeSender) Sent() []sentMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sentMessage(nil), s.sent...)
}

type recordedEvent struct {
	Type string
	Data map[string]any
}

type memEventLog struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (l *memEventLog) LogEvent(eventType string, data map[string]any) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, recordedEvent{Type: eventType, Data: data})
	return nil
}

func (l *memEventLog) All() []recordedEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]recordedEvent(nil), l.events...)
}

func (l *memEventLog) Count(eventType string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.events {
		if e.Type == eventType {
			n++
		}
	}
	return n
}

var errSendFailed = errors.New("smtp unavailable")

// pipeline wires the core components over a temporary vault.
type pipeline struct {
	dir       string
	clock     *fakeClock
	store     storage.ItemStore
	events    *memEventLog
	policy    PolicyEvaluator
	approvals ApprovalLifecycle
	tracker   ConversationTracker
	email     *fakeSender
	slack     *fakeSender
	responder ResponseCoordinator
	processor TaskProcessor
}

func newPipeline(t *testing.T, mutate ...func(*models.GlobalConfig)) *pipeline {
	t.Helper()
	cfg := DefaultGlobalConfig()
	for _, m := range mutate {
		m(cfg)
	}

	p := &pipeline{dir: t.TempDir(), clock: newFakeClock(), events: &memEventLog{}}
	p.store = storage.NewItemStore(p.dir, nil)
	if err := p.store.EnsureLayout(); err != nil {
		t.Fatalf("EnsureLayout: %v", err)
	}

	set, err := NewPolicySet(cfg.Policy)
	if err != nil {
		t.Fatalf("NewPolicySet: %v", err)
	}
	p.policy = NewPolicyEvaluator(set, cfg.Responses.SensitiveTerms)

	p.approvals = NewApprovalLifecycle(p.store, cfg.Approval.Expiry,
		WithApprovalClock(p.clock.Now), WithApprovalEvents(p.events))
	p.tracker = NewConversationTracker(storage.NewConversationStore(p.dir), cfg.Conversations.ActiveDays,
		WithConversationClock(p.clock.Now))

	p.email = &fakeSender{channel: models.ChannelEmail}
	p.slack = &fakeSender{channel: models.ChannelSlack}
	senders := NewSenderRegistry()
	if err := senders.Register(p.email); err != nil {
		t.Fatal(err)
	}
	if err := senders.Register(p.slack); err != nil {
		t.Fatal(err)
	}

	p.responder = NewResponseCoordinator(cfg.Responses, senders, p.approvals, p.policy, p.tracker,
		WithCoordinatorClock(p.clock.Now),
		WithCoordinatorEvents(p.events),
		WithResponseLog(storage.NewResponseLog(p.dir)),
	)
	p.processor = NewTaskProcessor(p.store, p.policy, p.approvals, p.responder,
		WithReplyComposer(NewAckComposer("-- assistant")),
		WithProcessorClock(p.clock.Now),
		WithProcessorEvents(p.events),
	)
	return p
}

func (p *pipeline) addItem(t *testing.T, folder models.Folder, item *models.WorkItem) {
	t.Helper()
	if err := p.store.Create(folder, item); err != nil {
		t.Fatalf("Create %s: %v", item.ID, err)
	}
}

func (p *pipeline) ids(folder models.Folder) []string {
	var ids []string
	for item := range p.store.List(folder) {
		ids = append(ids, item.ID)
	}
	return ids
}
