package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"iter"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/valter-silva-au/ai-employee/pkg/models"
)

const (
	recordExt   = ".md"
	claimPrefix = ".claim-"
	tmpPrefix   = ".tmp-"
)

// ItemStore persists work items as markdown records in state folders under
// a base directory. A record's folder is its state.
//
// Renaming a record is the store's only concurrency primitive: Claim renames
// a record to a hidden name, so when several workers race for the same
// record exactly one succeeds and the others get ErrNotFound. This is safe
// for a single node sharing one filesystem; it is not a distributed lock.
type ItemStore interface {
	// EnsureLayout creates every state folder.
	EnsureLayout() error
	// List yields the visible records of a folder. Each range re-reads the
	// directory. Unparseable records are logged and skipped.
	List(folder models.Folder) iter.Seq[*models.WorkItem]
	Get(folder models.Folder, id string) (*models.WorkItem, error)
	// Find searches every state folder for id.
	Find(id string) (*models.WorkItem, error)
	// Create writes a new record; ErrExists if the ID is taken in folder.
	Create(folder models.Folder, item *models.WorkItem) error
	// Claim takes exclusive ownership of the record item names (by folder and
	// ID) until Commit, Release or Abort. The claim holds the record as read
	// after the rename, not item itself.
	Claim(item *models.WorkItem) (*Claim, error)
	// Apply claims the record id in folder and runs fn on the freshly read
	// copy. When fn returns nil the record is committed to target; otherwise
	// it is put back unchanged and fn's error returned.
	Apply(folder models.Folder, id string, target models.Folder, fn func(*models.WorkItem) error) (*models.WorkItem, error)
	// Move replaces the record with item and commits it to target.
	Move(item *models.WorkItem, target models.Folder) error
	// Update replaces the record with item in place.
	Update(item *models.WorkItem) error
	// Recover restores records left claimed by a crashed process.
	Recover() (int, error)
	// Counts returns the number of visible records per folder.
	Counts() (map[models.Folder]int, error)
	// Path returns the file path of a record.
	Path(folder models.Folder, id string) string
	BasePath() string
}

type fileItemStore struct {
	basePath string
	logger   *slog.Logger
}

// NewItemStore creates an ItemStore rooted at basePath. A nil logger
// discards parse warnings.
func NewItemStore(basePath string, logger *slog.Logger) ItemStore {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &fileItemStore{basePath: basePath, logger: logger}
}

func (s *fileItemStore) BasePath() string {
	return s.basePath
}

func (s *fileItemStore) folderDir(folder models.Folder) string {
	return filepath.Join(s.basePath, string(folder))
}

func (s *fileItemStore) Path(folder models.Folder, id string) string {
	return filepath.Join(s.folderDir(folder), id+recordExt)
}

func (s *fileItemStore) claimPath(folder models.Folder, id string) string {
	return filepath.Join(s.folderDir(folder), claimPrefix+id+recordExt)
}

func (s *fileItemStore) EnsureLayout() error {
	for _, f := range models.Folders() {
		if err := os.MkdirAll(s.folderDir(f), 0o755); err != nil {
			return fmt.Errorf("creating folder %s: %w", f, err)
		}
	}
	return nil
}

func (s *fileItemStore) List(folder models.Folder) iter.Seq[*models.WorkItem] {
	return func(yield func(*models.WorkItem) bool) {
		dir := s.folderDir(folder)
		entries, err := os.ReadDir(dir)
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				s.logger.Warn("listing folder", "folder", folder, "error", err)
			}
			return
		}

		for _, entry := range entries {
			name := entry.Name()
			if !isRecordName(entry) {
				continue
			}
			item, err := s.readRecord(folder, filepath.Join(dir, name))
			if err != nil {
				// Claimed by another worker between ReadDir and ReadFile.
				if errors.Is(err, fs.ErrNotExist) {
					continue
				}
				s.logger.Warn("skipping invalid record", "folder", folder, "file", name, "error", err)
				continue
			}
			if !yield(item) {
				return
			}
		}
	}
}

func (s *fileItemStore) Get(folder models.Folder, id string) (*models.WorkItem, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}
	item, err := s.readRecord(folder, s.Path(folder, id))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("getting %s from %s: %w", id, folder, ErrNotFound)
		}
		return nil, err
	}
	return item, nil
}

func (s *fileItemStore) Find(id string) (*models.WorkItem, error) {
	for _, f := range models.Folders() {
		item, err := s.Get(f, id)
		if err == nil {
			return item, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("finding %s: %w", id, ErrNotFound)
}

func (s *fileItemStore) Create(folder models.Folder, item *models.WorkItem) error {
	if item == nil {
		return fmt.Errorf("creating record: item is nil")
	}
	if err := validateID(item.ID); err != nil {
		return fmt.Errorf("creating record: %w", err)
	}
	if err := os.MkdirAll(s.folderDir(folder), 0o755); err != nil {
		return fmt.Errorf("creating record %s: %w", item.ID, err)
	}

	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}
	item.Folder = folder
	if item.Status != models.StatusError {
		item.Status = models.StatusForFolder(folder)
	}

	tmp, err := s.writeTemp(folder, item)
	if err != nil {
		return fmt.Errorf("creating record %s: %w", item.ID, err)
	}
	defer os.Remove(tmp)

	// Link fails if the target exists, so a record is never overwritten.
	if err := os.Link(tmp, s.Path(folder, item.ID)); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("creating record %s in %s: %w", item.ID, folder, ErrExists)
		}
		return fmt.Errorf("creating record %s: %w", item.ID, err)
	}
	return nil
}

func (s *fileItemStore) Claim(item *models.WorkItem) (*Claim, error) {
	if item == nil {
		return nil, fmt.Errorf("claiming record: item is nil")
	}
	if err := validateID(item.ID); err != nil {
		return nil, fmt.Errorf("claiming record: %w", err)
	}

	return s.claim(item.Folder, item.ID)
}

func (s *fileItemStore) claim(folder models.Folder, id string) (*Claim, error) {
	src := s.Path(folder, id)
	dst := s.claimPath(folder, id)
	if err := os.Rename(src, dst); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("claiming %s in %s: %w", id, folder, ErrNotFound)
		}
		return nil, fmt.Errorf("claiming %s: %w", id, err)
	}

	// Whatever was listed earlier may be stale; the claimed file is not.
	fresh, err := s.decodeFile(folder, id, dst)
	if err != nil {
		if pubErr := publish(dst, src); pubErr != nil {
			s.logger.Warn("returning unreadable claimed record", "folder", folder, "id", id, "error", pubErr)
		}
		return nil, fmt.Errorf("claiming %s: %w", id, err)
	}
	return &Claim{store: s, item: fresh, origin: folder, path: dst}, nil
}

func (s *fileItemStore) Apply(folder models.Folder, id string, target models.Folder, fn func(*models.WorkItem) error) (*models.WorkItem, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}
	claim, err := s.claim(folder, id)
	if err != nil {
		return nil, err
	}
	if err := fn(claim.Item()); err != nil {
		if abortErr := claim.Abort(); abortErr != nil {
			s.logger.Error("returning claimed record", "folder", folder, "id", id, "error", abortErr)
		}
		return nil, err
	}
	if err := claim.Commit(target); err != nil {
		return nil, err
	}
	return claim.Item(), nil
}

func (s *fileItemStore) Move(item *models.WorkItem, target models.Folder) error {
	claim, err := s.Claim(item)
	if err != nil {
		return err
	}
	claim.item = item
	return claim.Commit(target)
}

func (s *fileItemStore) Update(item *models.WorkItem) error {
	claim, err := s.Claim(item)
	if err != nil {
		return err
	}
	claim.item = item
	return claim.Release()
}

func (s *fileItemStore) Recover() (int, error) {
	recovered := 0
	for _, folder := range models.Folders() {
		dir := s.folderDir(folder)
		entries, err := os.ReadDir(dir)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return recovered, fmt.Errorf("recovering %s: %w", folder, err)
		}

		for _, entry := range entries {
			name := entry.Name()
			path := filepath.Join(dir, name)
			switch {
			case strings.HasPrefix(name, tmpPrefix):
				_ = os.Remove(path)
			case strings.HasPrefix(name, claimPrefix) && strings.HasSuffix(name, recordExt):
				id := strings.TrimSuffix(strings.TrimPrefix(name, claimPrefix), recordExt)
				if err := s.restoreClaim(folder, id, path); err != nil {
					s.logger.Warn("restoring claimed record", "folder", folder, "id", id, "error", err)
					continue
				}
				recovered++
			}
		}
	}
	return recovered, nil
}

// restoreClaim makes a leftover claim file visible again, rewriting its
// header so the status agrees with the folder it is restored into.
func (s *fileItemStore) restoreClaim(folder models.Folder, id, path string) error {
	final := s.Path(folder, id)
	if _, err := os.Stat(final); err == nil {
		return fmt.Errorf("%s already exists: %w", final, ErrExists)
	}

	item, err := s.decodeFile(folder, id, path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return err
		}
		// Keep the bytes; a human can fix the header.
		return publish(path, final)
	}
	if err := s.rewrite(path, item); err != nil {
		return err
	}
	return publish(path, final)
}

func (s *fileItemStore) Counts() (map[models.Folder]int, error) {
	counts := make(map[models.Folder]int, len(models.Folders()))
	for _, folder := range models.Folders() {
		entries, err := os.ReadDir(s.folderDir(folder))
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				counts[folder] = 0
				continue
			}
			return nil, fmt.Errorf("counting %s: %w", folder, err)
		}
		n := 0
		for _, entry := range entries {
			if isRecordName(entry) {
				n++
			}
		}
		counts[folder] = n
	}
	return counts, nil
}

// readRecord parses a record file. The file name is authoritative for the ID.
func (s *fileItemStore) readRecord(folder models.Folder, path string) (*models.WorkItem, error) {
	return s.decodeFile(folder, strings.TrimSuffix(filepath.Base(path), recordExt), path)
}

// decodeFile parses the record stored at path as item id of folder.
func (s *fileItemStore) decodeFile(folder models.Folder, id, path string) (*models.WorkItem, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	item, err := DecodeRecord(data)
	if err != nil {
		return nil, &ValidationError{Path: path, Err: err}
	}

	item.ID = id
	item.Folder = folder
	if item.Status != models.StatusError {
		item.Status = models.StatusForFolder(folder)
	}
	if item.CreatedAt.IsZero() {
		if info, statErr := os.Stat(path); statErr == nil {
			item.CreatedAt = info.ModTime().UTC()
		}
	}
	return item, nil
}

// writeTemp encodes item into a hidden temporary file in folder and returns
// its path.
func (s *fileItemStore) writeTemp(folder models.Folder, item *models.WorkItem) (string, error) {
	data, err := EncodeRecord(item)
	if err != nil {
		return "", err
	}
	tmp := filepath.Join(s.folderDir(folder), tmpPrefix+uuid.NewString()+recordExt)
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("writing temp record: %w", err)
	}
	return tmp, nil
}

// rewrite atomically replaces the file at path with the encoded item.
func (s *fileItemStore) rewrite(path string, item *models.WorkItem) error {
	data, err := EncodeRecord(item)
	if err != nil {
		return err
	}
	tmp := filepath.Join(filepath.Dir(path), tmpPrefix+uuid.NewString()+recordExt)
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing temp record: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replacing record: %w", err)
	}
	return nil
}

// publish makes src visible as dst. Link fails when dst exists, so no
// record is ever replaced.
func publish(src, dst string) error {
	if err := os.Link(src, dst); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("%s: %w", filepath.Base(dst), ErrExists)
		}
		return err
	}
	return os.Remove(src)
}

func isRecordName(entry fs.DirEntry) bool {
	name := entry.Name()
	return !entry.IsDir() && !strings.HasPrefix(name, ".") && strings.HasSuffix(name, recordExt)
}

func validateID(id string) error {
	switch {
	case id == "":
		return fmt.Errorf("record ID is empty")
	case strings.ContainsAny(id, `/\`), strings.HasPrefix(id, "."):
		return fmt.Errorf("record ID %q is not a valid file name", id)
	}
	return nil
}

// Claim is exclusive ownership of one record, held as a hidden file in the
// record's folder. Exactly one of Commit or Release must be called.
type Claim struct {
	store  *fileItemStore
	item   *models.WorkItem
	origin models.Folder
	path   string
	done   bool
}

// Item returns the claimed work item. Callers may modify its metadata and
// body before Commit or Release.
func (c *Claim) Item() *models.WorkItem {
	return c.item
}

// Commit writes the item and makes it visible in target. Unless the item is
// marked StatusError its status becomes the one target represents. If a
// record with the same ID already exists in target the claim is released
// and ErrExists returned.
func (c *Claim) Commit(target models.Folder) error {
	if c.done {
		return fmt.Errorf("committing %s: claim already finished", c.item.ID)
	}
	if err := os.MkdirAll(c.store.folderDir(target), 0o755); err != nil {
		return fmt.Errorf("committing %s: %w", c.item.ID, err)
	}

	prevFolder, prevStatus := c.item.Folder, c.item.Status
	c.item.Folder = target
	if c.item.Status != models.StatusError {
		c.item.Status = models.StatusForFolder(target)
	}

	if err := c.store.rewrite(c.path, c.item); err != nil {
		c.item.Folder, c.item.Status = prevFolder, prevStatus
		return fmt.Errorf("committing %s: %w", c.item.ID, err)
	}
	if err := publish(c.path, c.store.Path(target, c.item.ID)); err != nil {
		c.item.Folder, c.item.Status = prevFolder, prevStatus
		if errors.Is(err, ErrExists) {
			if relErr := c.Release(); relErr != nil {
				return fmt.Errorf("committing %s: %w (release failed: %v)", c.item.ID, ErrExists, relErr)
			}
			return fmt.Errorf("committing %s to %s: %w", c.item.ID, target, ErrExists)
		}
		return fmt.Errorf("committing %s: %w", c.item.ID, err)
	}
	c.done = true
	return nil
}

// Release writes the item back under its visible name in the folder it was
// claimed from.
func (c *Claim) Release() error {
	if c.done {
		return fmt.Errorf("releasing %s: claim already finished", c.item.ID)
	}
	c.item.Folder = c.origin
	if c.item.Status != models.StatusError {
		c.item.Status = models.StatusForFolder(c.origin)
	}
	if err := c.store.rewrite(c.path, c.item); err != nil {
		return fmt.Errorf("releasing %s: %w", c.item.ID, err)
	}
	if err := publish(c.path, c.store.Path(c.origin, c.item.ID)); err != nil {
		return fmt.Errorf("releasing %s: %w", c.item.ID, err)
	}
	c.done = true
	return nil
}

// Abort makes the record visible again exactly as it was claimed, dropping
// any changes made to Item.
func (c *Claim) Abort() error {
	if c.done {
		return fmt.Errorf("aborting %s: claim already finished", c.item.ID)
	}
	if err := publish(c.path, c.store.Path(c.origin, c.item.ID)); err != nil {
		return fmt.Errorf("aborting %s: %w", c.item.ID, err)
	}
	c.done = true
	return nil
}

// Finished reports whether Commit or Release has completed.
func (c *Claim) Finished() bool {
	return c.done
}
