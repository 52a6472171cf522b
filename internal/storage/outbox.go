package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/valter-silva-au/ai-employee/pkg/models"
)

// OutboxDir is the directory, relative to the base path, holding outbound
// response audit records.
const OutboxDir = "Outbox"

// ResponseLog keeps an audit record per outbound response in Outbox/. Records
// are overwritten as the response moves through its dispatch states.
type ResponseLog interface {
	Save(resp *models.OutboundResponse) error
	Get(id string) (*models.WorkItem, error)
	List() ([]*models.WorkItem, error)
}

type fileResponseLog struct {
	dir string
}

// NewResponseLog creates a ResponseLog under <basePath>/Outbox.
func NewResponseLog(basePath string) ResponseLog {
	return &fileResponseLog{dir: filepath.Join(basePath, OutboxDir)}
}

func (l *fileResponseLog) Save(resp *models.OutboundResponse) error {
	if resp == nil {
		return fmt.Errorf("saving response: response is nil")
	}
	if err := validateID(resp.ID); err != nil {
		return fmt.Errorf("saving response: %w", err)
	}
	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return fmt.Errorf("creating outbox: %w", err)
	}

	data, err := EncodeRecord(resp.ToWorkItem())
	if err != nil {
		return fmt.Errorf("encoding response %s: %w", resp.ID, err)
	}
	tmp := filepath.Join(l.dir, tmpPrefix+uuid.NewString()+recordExt)
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing response %s: %w", resp.ID, err)
	}
	if err := os.Rename(tmp, filepath.Join(l.dir, resp.ID+recordExt)); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("writing response %s: %w", resp.ID, err)
	}
	return nil
}

func (l *fileResponseLog) Get(id string) (*models.WorkItem, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}
	path := filepath.Join(l.dir, id+recordExt)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("getting response %s: %w", id, ErrNotFound)
		}
		return nil, err
	}
	item, err := DecodeRecord(data)
	if err != nil {
		return nil, &ValidationError{Path: path, Err: err}
	}
	item.ID = id
	return item, nil
}

// List returns every audit record ordered by ID. Sub-directories (such as
// the file sender's per-channel folders) are ignored.
func (l *fileResponseLog) List() ([]*models.WorkItem, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("listing outbox: %w", err)
	}

	var items []*models.WorkItem
	for _, entry := range entries {
		if !isRecordName(entry) {
			continue
		}
		item, err := l.Get(strings.TrimSuffix(entry.Name(), recordExt))
		if err != nil {
			continue
		}
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items, nil
}
