// Package filestore implements lease.Store as a JSON file guarded by an
// advisory file lock, for processes on one host that share a directory
// but not a database.
//
// Every operation takes the lock, reads the whole file and, for writes,
// replaces it atomically with a rename. The file stays small because it
// only holds live leases.
package filestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/roach88/capgate/internal/lease"
	"github.com/roach88/capgate/internal/store"
)

// lockRetryDelay is how often a blocked operation retries the file lock.
const lockRetryDelay = 10 * time.Millisecond

// Store is a lease.Store over a single JSON object file.
//
// Thread-safety: all methods are safe for concurrent use. Goroutines
// serialize on a mutex; processes serialize on the lock file.
type Store struct {
	path   string
	lock   *flock.Flock
	logger *slog.Logger

	mu sync.Mutex
}

var _ lease.Store = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// Open returns a store for path, creating its directory if needed. The lock
// file is path + ".lock".
func Open(path string, opts ...Option) (*Store, error) {
	if path == "" {
		return nil, errors.New("filestore: empty path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create lease directory: %w", err)
	}
	s := &Store{
		path:   path,
		lock:   flock.New(path + ".lock"),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Path returns the data file path.
func (s *Store) Path() string {
	return s.path
}

// Close releases the lock file handle.
func (s *Store) Close() error {
	return s.lock.Close()
}

// Get implements lease.Store.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	var (
		value string
		found bool
	)
	err := s.withLock(ctx, false, func() error {
		data, err := s.read()
		if err != nil {
			return err
		}
		value, found = data[key]
		return nil
	})
	if err != nil {
		return "", false, store.NewError(store.OpGet, key, err)
	}
	return value, found, nil
}

// Set implements lease.Store.
func (s *Store) Set(ctx context.Context, key, value string) error {
	err := s.withLock(ctx, true, func() error {
		data, err := s.read()
		if err != nil {
			return err
		}
		data[key] = value
		return s.write(data)
	})
	if err != nil {
		return store.NewError(store.OpSet, key, err)
	}
	return nil
}

// Remove implements lease.Store.
func (s *Store) Remove(ctx context.Context, key string) error {
	err := s.withLock(ctx, true, func() error {
		data, err := s.read()
		if err != nil {
			return err
		}
		if _, ok := data[key]; !ok {
			return nil
		}
		delete(data, key)
		return s.write(data)
	})
	if err != nil {
		return store.NewError(store.OpRemove, key, err)
	}
	return nil
}

// GetAll implements lease.Store.
func (s *Store) GetAll(ctx context.Context, prefix string) (map[string]string, error) {
	out := make(map[string]string)
	err := s.withLock(ctx, false, func() error {
		data, err := s.read()
		if err != nil {
			return err
		}
		for k, v := range data {
			if strings.HasPrefix(k, prefix) {
				out[k] = v
			}
		}
		return nil
	})
	if err != nil {
		return nil, store.NewError(store.OpGetAll, prefix, err)
	}
	return out, nil
}

// withLock runs fn holding the process mutex and the file lock, shared
// for reads and exclusive for writes.
func (s *Store) withLock(ctx context.Context, exclusive bool, fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		ok  bool
		err error
	)
	if exclusive {
		ok, err = s.lock.TryLockContext(ctx, lockRetryDelay)
	} else {
		ok, err = s.lock.TryRLockContext(ctx, lockRetryDelay)
	}
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("acquire lock: not acquired")
	}
	defer func() {
		if err := s.lock.Unlock(); err != nil {
			s.logger.Warn("failed to release lease file lock", "path", s.path, "error", err)
		}
	}()

	return fn()
}

func (s *Store) read() (map[string]string, error) {
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return make(map[string]string), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", s.path, err)
	}
	data := make(map[string]string)
	if len(raw) == 0 {
		return data, nil
	}
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("decode %s: %w", s.path, err)
	}
	return data, nil
}

// write replaces the file atomically via a temp file in the same directory.
func (s *Store) write(data map[string]string) error {
	raw, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("encode leases: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(append(raw, '\n')); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace %s: %w", s.path, err)
	}
	return nil
}
