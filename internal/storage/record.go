package storage

import (
	"fmt"
	"strings"
	"time"

	"github.com/valter-silva-au/ai-employee/pkg/models"
	"gopkg.in/yaml.v3"
)

// Reserved header keys. Every other key is kept in WorkItem.Metadata.
const (
	headerID      = "id"
	headerType    = "type"
	headerKind    = "kind"
	headerStatus  = "status"
	headerCreated = "created"
)

// createdLayouts are accepted for the created header, most specific first.
var createdLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

var knownKinds = map[models.Kind]bool{
	models.KindEmail:            true,
	models.KindFileDrop:         true,
	models.KindChatMessage:      true,
	models.KindApprovalRequest:  true,
	models.KindOutboundResponse: true,
}

// EncodeRecord renders a work item as markdown with a YAML frontmatter
// header. Metadata keys are written in insertion order.
func EncodeRecord(item *models.WorkItem) ([]byte, error) {
	header := &yaml.Node{Kind: yaml.MappingNode}
	add := func(key, value string) {
		header.Content = append(header.Content, strNode(key), strNode(value))
	}

	add(headerID, item.ID)
	add(headerType, string(item.Kind))
	if item.Status != "" {
		add(headerStatus, string(item.Status))
	}
	if !item.CreatedAt.IsZero() {
		add(headerCreated, item.CreatedAt.UTC().Format(time.RFC3339))
	}
	for k, v := range item.Metadata.All() {
		if isReservedHeader(k) {
			continue
		}
		add(k, v)
	}

	fmBytes, err := yaml.Marshal(header)
	if err != nil {
		return nil, fmt.Errorf("marshaling record header: %w", err)
	}

	var sb strings.Builder
	sb.WriteString("---\n")
	sb.Write(fmBytes)
	sb.WriteString("---\n\n")
	sb.WriteString(item.Body)
	return []byte(sb.String()), nil
}

// DecodeRecord parses a record produced by EncodeRecord or written by a
// watcher. Folder and derived status are filled in by the store.
func DecodeRecord(data []byte) (*models.WorkItem, error) {
	fmStr, body, err := splitFrontmatter(string(data))
	if err != nil {
		return nil, err
	}

	var doc yaml.Node
	if err := yaml.Unmarshal([]byte(fmStr), &doc); err != nil {
		return nil, fmt.Errorf("unmarshaling header: %w", err)
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 || doc.Content[0].Kind != yaml.MappingNode {
		return nil, fmt.Errorf("header is not a key/value mapping")
	}

	item := &models.WorkItem{Body: body}
	mapping := doc.Content[0]
	for i := 0; i+1 < len(mapping.Content); i += 2 {
		key := mapping.Content[i].Value
		value, err := nodeString(mapping.Content[i+1])
		if err != nil {
			return nil, fmt.Errorf("header %q: %w", key, err)
		}

		switch key {
		case headerID:
			item.ID = value
		case headerType, headerKind:
			item.Kind = models.Kind(strings.ToLower(value))
		case headerStatus:
			if models.Status(strings.ToLower(value)) == models.StatusError {
				item.Status = models.StatusError
			}
		case headerCreated:
			t, err := parseCreated(value)
			if err != nil {
				return nil, err
			}
			item.CreatedAt = t
		default:
			item.Metadata.Set(key, value)
		}
	}

	if item.Kind == "" {
		return nil, fmt.Errorf("header is missing %q", headerType)
	}
	if !knownKinds[item.Kind] {
		return nil, fmt.Errorf("unknown record type %q", item.Kind)
	}
	return item, nil
}

// splitFrontmatter splits a record into its YAML header and body. The header
// is delimited by "---" lines.
func splitFrontmatter(content string) (string, string, error) {
	content = strings.ReplaceAll(content, "\r\n", "\n")
	if !strings.HasPrefix(content, "---\n") {
		return "", content, fmt.Errorf("no frontmatter delimiter found")
	}

	rest := content[4:]
	idx := strings.Index(rest, "\n---\n")
	if idx < 0 {
		if strings.HasSuffix(rest, "\n---") {
			idx = len(rest) - 4
		} else {
			return "", content, fmt.Errorf("no closing frontmatter delimiter found")
		}
	}

	fmStr := rest[:idx]
	var body string
	if idx+5 <= len(rest) {
		body = strings.TrimLeft(rest[idx+5:], "\n")
	}
	return fmStr, body, nil
}

func nodeString(n *yaml.Node) (string, error) {
	if n.Kind == yaml.ScalarNode {
		return n.Value, nil
	}
	if n.Kind == yaml.AliasNode && n.Alias != nil {
		return nodeString(n.Alias)
	}
	// Lists and nested maps are kept as inline YAML text.
	flow := *n
	flow.Style = yaml.FlowStyle
	out, err := yaml.Marshal(&flow)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

func parseCreated(value string) (time.Time, error) {
	for _, layout := range createdLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable created timestamp %q", value)
}

func strNode(s string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: s}
}

func isReservedHeader(key string) bool {
	switch key {
	case headerID, headerType, headerKind, headerStatus, headerCreated:
		return true
	}
	return false
}
