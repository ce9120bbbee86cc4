package archive

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"github.com/chameleon-db/rowsync/pkg/engine"
)

// ErrNotFound is returned when no snapshot is stored under a key
var ErrNotFound = errors.New("snapshot not found")

// Store parks encoded snapshots under string keys.
type Store interface {
	Save(ctx context.Context, key string, snap *engine.RecordSnapshot) error
	Load(ctx context.Context, key string) (*engine.RecordSnapshot, error)
	Delete(ctx context.Context, key string) error
	List(ctx context.Context) ([]string, error)
}

const suffix = ".json"

func validKey(key string) error {
	if key == "" || strings.Contains(key, "..") || strings.HasPrefix(key, "/") {
		return errors.Errorf("invalid snapshot key %q", key)
	}
	return nil
}

// ============================================================
// FILE STORE
// ============================================================

// FileStore keeps one JSON file per key below a directory.
type FileStore struct {
	dir string
}

// NewFileStore creates dir when it does not exist yet
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, &engine.MissingConfigurationError{Setting: "archive.dir"}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "create archive directory %s", dir)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) path(key string) string {
	return filepath.Join(s.dir, filepath.FromSlash(key)+suffix)
}

func (s *FileStore) Save(_ context.Context, key string, snap *engine.RecordSnapshot) error {
	if err := validKey(key); err != nil {
		return err
	}
	data, err := Encode(snap)
	if err != nil {
		return err
	}
	path := s.path(key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrapf(err, "create directory for %s", key)
	}

	// write then rename so a reader never sees half a document
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errors.Wrapf(err, "write snapshot %s", key)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return errors.Wrapf(err, "write snapshot %s", key)
	}
	return nil
}

func (s *FileStore) Load(_ context.Context, key string) (*engine.RecordSnapshot, error) {
	if err := validKey(key); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.path(key))
	if os.IsNotExist(err) {
		return nil, errors.Wrap(ErrNotFound, key)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "read snapshot %s", key)
	}
	return Decode(data)
}

func (s *FileStore) Delete(_ context.Context, key string) error {
	if err := validKey(key); err != nil {
		return err
	}
	err := os.Remove(s.path(key))
	if os.IsNotExist(err) {
		return errors.Wrap(ErrNotFound, key)
	}
	return errors.Wrapf(err, "delete snapshot %s", key)
}

// List returns the stored keys in lexical order
func (s *FileStore) List(_ context.Context) ([]string, error) {
	var keys []string
	err := filepath.WalkDir(s.dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, suffix) {
			return nil
		}
		rel, err := filepath.Rel(s.dir, path)
		if err != nil {
			return err
		}
		keys = append(keys, strings.TrimSuffix(filepath.ToSlash(rel), suffix))
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "list snapshots")
	}
	sort.Strings(keys)
	return keys, nil
}
