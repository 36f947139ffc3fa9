package kv

import (
	"encoding/base32"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// FileStore persists each key as a file under a base directory.
//
// Keys are base32-encoded to produce safe file names, so arbitrary session
// ids and artifact ids are valid keys. An optional byte quota bounds the
// total size of stored values.
type FileStore struct {
	mu    sync.Mutex
	dir   string
	quota int64
}

const fileExt = ".kv"

var fileEnc = base32.StdEncoding.WithPadding(base32.NoPadding)

// NewFileStore creates the base directory if needed. A quota of 0 means
// unlimited.
func NewFileStore(dir string, quota int64) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	return &FileStore{dir: dir, quota: quota}, nil
}

func (f *FileStore) path(key string) string {
	return filepath.Join(f.dir, fileEnc.EncodeToString([]byte(key))+fileExt)
}

func (f *FileStore) Get(key string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, err := os.ReadFile(f.path(key))
	if err != nil {
		return "", false
	}
	return string(b), true
}

func (f *FileStore) Set(key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.quota > 0 {
		used, err := f.usedLocked(key)
		if err != nil {
			return err
		}
		if used+int64(len(value)) > f.quota {
			return ErrQuotaExceeded
		}
	}
	return os.WriteFile(f.path(key), []byte(value), 0o600)
}

func (f *FileStore) Remove(key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_ = os.Remove(f.path(key))
}

func (f *FileStore) Keys(prefix string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return nil
	}
	var keys []string
	for _, e := range entries {
		name, ok := strings.CutSuffix(e.Name(), fileExt)
		if !ok {
			continue
		}
		raw, err := fileEnc.DecodeString(name)
		if err != nil {
			continue
		}
		if strings.HasPrefix(string(raw), prefix) {
			keys = append(keys, string(raw))
		}
	}
	return keys
}

// usedLocked sums the sizes of all stored values, excluding the entry being
// replaced. Caller must hold the lock.
func (f *FileStore) usedLocked(replacing string) (int64, error) {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return 0, err
	}
	skip := filepath.Base(f.path(replacing))
	var total int64
	for _, e := range entries {
		if e.Name() == skip || !strings.HasSuffix(e.Name(), fileExt) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		total += info.Size()
	}
	return total, nil
}
