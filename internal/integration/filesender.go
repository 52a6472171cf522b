package integration

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/valter-silva-au/ai-employee/internal/core"
	"github.com/valter-silva-au/ai-employee/internal/storage"
	"github.com/valter-silva-au/ai-employee/pkg/models"
	"gopkg.in/yaml.v3"
)

// fileSender implements core.ChannelSender by writing each message as a
// markdown file with YAML frontmatter under Outbox/<channel>/sent/. Actual
// transmission is left to whatever watches that directory.
type fileSender struct {
	channel models.Channel
	sentDir string
	now     func() time.Time
}

// NewFileSender creates a file-based sender for channel rooted at the vault
// base path.
func NewFileSender(basePath string, channel models.Channel) (core.ChannelSender, error) {
	if channel == "" {
		return nil, fmt.Errorf("creating file sender: channel is empty")
	}
	if basePath == "" {
		return nil, fmt.Errorf("creating file sender: base path is empty")
	}

	sentDir := SentDir(basePath, channel)
	if err := os.MkdirAll(sentDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating file sender directory %s: %w", sentDir, err)
	}
	return &fileSender{channel: channel, sentDir: sentDir, now: time.Now}, nil
}

// SentDir is where the file sender for channel writes messages.
func SentDir(basePath string, channel models.Channel) string {
	return filepath.Join(basePath, storage.OutboxDir, string(channel), "sent")
}

func (s *fileSender) Channel() models.Channel {
	return s.channel
}

// sentFrontmatter is the YAML frontmatter of a sent message file.
type sentFrontmatter struct {
	ID             string `yaml:"id"`
	Channel        string `yaml:"channel"`
	To             string `yaml:"to"`
	Subject        string `yaml:"subject,omitempty"`
	Date           string `yaml:"date"`
	Priority       string `yaml:"priority,omitempty"`
	Type           string `yaml:"type,omitempty"`
	InReplyTo      string `yaml:"in_reply_to,omitempty"`
	ConversationID string `yaml:"conversation_id,omitempty"`
}

func (s *fileSender) Send(ctx context.Context, recipient, content string, opts core.SendOptions) (*core.SendReceipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(recipient) == "" {
		return nil, fmt.Errorf("sending to %s: recipient is empty", s.channel)
	}

	id := opts.ResponseID
	if id == "" {
		id = fmt.Sprintf("MSG_%d", s.now().UnixNano())
	}
	fm := sentFrontmatter{
		ID:             id,
		Channel:        string(s.channel),
		To:             recipient,
		Subject:        opts.Subject,
		Date:           s.now().UTC().Format(time.RFC3339),
		Priority:       string(opts.Priority),
		Type:           opts.ResponseType,
		InReplyTo:      opts.OriginalMessageID,
		ConversationID: opts.ConversationID,
	}

	data, err := renderMessage(fm, content)
	if err != nil {
		return nil, fmt.Errorf("rendering %s message: %w", s.channel, err)
	}

	path := filepath.Join(s.sentDir, id+".md")
	tmp := filepath.Join(s.sentDir, ".tmp-"+id+".md")
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return nil, fmt.Errorf("writing %s message: %w", s.channel, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return nil, fmt.Errorf("writing %s message: %w", s.channel, err)
	}

	return &core.SendReceipt{Status: "written", ProviderMessageID: "file:" + id}, nil
}

func renderMessage(fm sentFrontmatter, body string) ([]byte, error) {
	fmBytes, err := yaml.Marshal(fm)
	if err != nil {
		return nil, fmt.Errorf("marshaling frontmatter: %w", err)
	}

	var sb strings.Builder
	sb.WriteString("---\n")
	sb.Write(fmBytes)
	sb.WriteString("---\n\n")
	sb.WriteString(body)
	return []byte(sb.String()), nil
}

// parseMessage splits a sent message file into its frontmatter and body.
func parseMessage(content string) (sentFrontmatter, string, error) {
	var fm sentFrontmatter

	if !strings.HasPrefix(content, "---\n") {
		return fm, content, fmt.Errorf("no frontmatter delimiter found")
	}
	rest := content[4:]
	idx := strings.Index(rest, "\n---\n")
	if idx < 0 {
		return fm, content, fmt.Errorf("no closing frontmatter delimiter found")
	}

	body := strings.TrimLeft(rest[idx+5:], "\n")
	if err := yaml.Unmarshal([]byte(rest[:idx]), &fm); err != nil {
		return fm, body, fmt.Errorf("unmarshaling frontmatter: %w", err)
	}
	return fm, body, nil
}
