package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
)

// ErrVersionConflict is returned when the document on disk changed since it was loaded.
var ErrVersionConflict = errors.New("snapshot: version conflict")

// FileStore persists the master document as a single JSON file.
type FileStore struct {
	path   string
	logger zerolog.Logger
}

// NewFileStore returns a store rooted at path.
func NewFileStore(path string, logger zerolog.Logger) *FileStore {
	return &FileStore{path: path, logger: logger.With().Str("component", "snapshot_store").Logger()}
}

// Path reports the backing file.
func (s *FileStore) Path() string {
	return s.path
}

// Load reads the master document. A missing file yields an empty document.
func (s *FileStore) Load(ctx context.Context) (*Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	raw, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		s.logger.Debug().Str("path", s.path).Msg("no master store yet; starting empty")
		return NewDocument(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read master store: %w", err)
	}

	doc := NewDocument()
	if err := json.Unmarshal(raw, doc); err != nil {
		return nil, fmt.Errorf("decode master store %s: %w", s.path, err)
	}
	if doc.Regions == nil {
		doc.Regions = make([]Entry, 0)
	}
	return doc, nil
}

// Save overwrites the master document. doc.Version must match the stored version;
// it is incremented on success.
func (s *FileStore) Save(ctx context.Context, doc *Document) error {
	if doc == nil {
		return errors.New("snapshot: nil document")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	current, err := s.storedVersion()
	if err != nil {
		return err
	}
	if current != doc.Version {
		return fmt.Errorf("%w: stored %d, have %d", ErrVersionConflict, current, doc.Version)
	}

	next := *doc
	next.Version = doc.Version + 1
	payload, err := json.MarshalIndent(&next, "", "  ")
	if err != nil {
		return fmt.Errorf("encode master store: %w", err)
	}

	if err := writeFileAtomic(s.path, payload); err != nil {
		return err
	}

	doc.Version = next.Version
	s.logger.Debug().Int64("version", doc.Version).Int("products", len(doc.Regions)).Msg("master store saved")
	return nil
}

func (s *FileStore) storedVersion() (int64, error) {
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read master store: %w", err)
	}
	var header struct {
		Version int64 `json:"version"`
	}
	if err := json.Unmarshal(raw, &header); err != nil {
		return 0, fmt.Errorf("decode master store version: %w", err)
	}
	return header.Version, nil
}

func writeFileAtomic(path string, payload []byte) error {
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create store dir: %w", err)
		}
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replace master store: %w", err)
	}
	return nil
}
