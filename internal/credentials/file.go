package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/gofrs/flock"

	"tradedash-client/internal/logging"
)

const lockTimeout = 2 * time.Second

// FileBackend persists the pair as a small JSON document, the local
// equivalent of a browser's storage keys. Writes are serialized across
// processes with an advisory lock file beside it.
type FileBackend struct {
	Path string
	// PersistRefreshToken also writes the refresh token. Without it only the
	// access token survives a restart and refresh relies on the cookie.
	PersistRefreshToken bool
}

type fileDocument struct {
	AccessToken  string `json:"access_token,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

func NewFileBackend(path string, persistRefresh bool) *FileBackend {
	return &FileBackend{Path: filepath.Clean(path), PersistRefreshToken: persistRefresh}
}

func (b *FileBackend) Load() (Pair, error) {
	data, err := os.ReadFile(b.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return Pair{}, nil
	}
	if err != nil {
		return Pair{}, fmt.Errorf("read credentials: %w", err)
	}
	if len(data) == 0 {
		return Pair{}, nil
	}
	var doc fileDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return Pair{}, fmt.Errorf("decode credentials %s: %w", b.Path, err)
	}
	return Pair{AccessToken: doc.AccessToken, RefreshToken: doc.RefreshToken}, nil
}

func (b *FileBackend) Save(pair Pair) error {
	doc := fileDocument{AccessToken: pair.AccessToken}
	if b.PersistRefreshToken {
		doc.RefreshToken = pair.RefreshToken
	}
	payload, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	return b.withLock(func() error {
		tmp := b.Path + ".tmp"
		if err := os.WriteFile(tmp, payload, 0o600); err != nil {
			return fmt.Errorf("write credentials: %w", err)
		}
		if err := os.Rename(tmp, b.Path); err != nil {
			_ = os.Remove(tmp)
			return fmt.Errorf("replace credentials: %w", err)
		}
		return nil
	})
}

func (b *FileBackend) Remove() error {
	return b.withLock(func() error {
		if err := os.Remove(b.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("remove credentials: %w", err)
		}
		return nil
	})
}

func (b *FileBackend) withLock(fn func() error) error {
	if err := os.MkdirAll(filepath.Dir(b.Path), 0o700); err != nil {
		return fmt.Errorf("create credentials directory: %w", err)
	}
	lock := flock.New(b.Path + ".lock")
	ctx, cancel := context.WithTimeout(context.Background(), lockTimeout)
	defer cancel()
	locked, err := lock.TryLockContext(ctx, 25*time.Millisecond)
	if err != nil {
		return fmt.Errorf("lock credentials: %w", err)
	}
	if !locked {
		return errors.New("lock credentials: timed out")
	}
	defer func() { _ = lock.Unlock() }()
	return fn()
}

// Watch reloads store whenever the backing file changes on disk until ctx is
// done. The parent directory is watched so remove+recreate is seen.
func Watch(ctx context.Context, store *Store, backend *FileBackend, logger *logging.Logger) error {
	if logger == nil {
		panic("credentials.Watch: logger must not be nil")
	}
	dir := filepath.Dir(backend.Path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create credentials directory: %w", err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to initialize fsnotify watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch credentials directory %s: %w", dir, err)
	}
	logger.Debug("watching credentials file", logging.Field("path", backend.Path))

	for {
		select {
		case <-ctx.Done():
			logger.Debug("stopping credentials watch: context canceled")
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != backend.Path {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if err := store.Reload(); err != nil {
				logger.Warn("credentials reload failed", logging.Field("error", err))
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("credentials watcher error", logging.Field("error", err))
		}
	}
}
