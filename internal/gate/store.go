package gate

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/smallbiznis/entitlementd/internal/entitlement/domain"
)

const (
	cacheDirPerm  fs.FileMode = 0o700
	cacheFilePerm fs.FileMode = 0o600
)

// Entry is what the client remembers about one user between runs.
type Entry struct {
	Record domain.Record `json:"record"`
	// CheckedAt is when this client last reached the server for the user.
	CheckedAt *time.Time `json:"checked_at,omitempty"`
}

type LocalStore interface {
	Load(userID string) (*Entry, error)
	Save(userID string, entry Entry) error
}

// FileStore keeps one JSON document per user under dir.
type FileStore struct {
	dir string
}

func NewFileStore(dir string) (*FileStore, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, ErrInvalidCacheDir
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) path(userID string) string {
	sum := sha256.Sum256([]byte(userID))
	return filepath.Join(s.dir, hex.EncodeToString(sum[:16])+".json")
}

// Load returns nil, nil when nothing has been cached for userID yet.
func (s *FileStore) Load(userID string) (*Entry, error) {
	data, err := os.ReadFile(s.path(userID))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptCache, err)
	}
	if entry.Record.UserID != userID {
		return nil, fmt.Errorf("%w: cached record belongs to %q", ErrCorruptCache, entry.Record.UserID)
	}
	return &entry, nil
}

// Save replaces the cached entry atomically.
func (s *FileStore) Save(userID string, entry Entry) error {
	entry.Record.UserID = userID
	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(s.dir, cacheDirPerm); err != nil {
		return err
	}

	path := s.path(userID)
	tmpFile, err := os.CreateTemp(s.dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmpFile.Name()
	cleanup := true
	defer func() {
		if cleanup {
			_ = os.Remove(tmpPath)
		}
	}()

	if err := tmpFile.Chmod(cacheFilePerm); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if _, err := tmpFile.Write(data); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Sync(); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return err
	}
	cleanup = false
	return nil
}
