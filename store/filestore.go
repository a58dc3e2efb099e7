package store

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/zeebo/xxh3"
)

// tmpPrefix marks in-progress writes so Iterate can skip them; a crash
// between CreateTemp and Rename leaves one of these behind harmlessly.
const tmpPrefix = ".tmp-"

// checksumSize is the width of the xxh3 integrity header prepended to
// every value FileStore persists.
const checksumSize = 8

// FileStore is a reference Store backed by one directory per partition and
// one file per key, named by the key's hex encoding so that ascending
// filename order matches ascending key order for fixed-width big-endian
// keys (as used for chunk ids throughout bloomvault).
//
// Each value is prefixed with an 8-byte little-endian xxh3 checksum of its
// payload, verified on read; writes land via a temp file in the same
// directory followed by os.Rename, so a single key's put is atomic even
// across a crash mid-write.
type FileStore struct {
	root   string
	mu     sync.Mutex
	tmpSeq atomic.Uint64
	closed atomic.Bool
}

// Open creates (if necessary) and returns a FileStore rooted at dir.
func Open(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("store: open %s: %w", dir, err)
	}
	return &FileStore{root: dir}, nil
}

func (s *FileStore) partitionDir(partition string) (string, error) {
	if partition == "" || strings.ContainsAny(partition, "/\\") || partition == "." || partition == ".." {
		return "", fmt.Errorf("store: invalid partition name %q", partition)
	}
	return filepath.Join(s.root, partition), nil
}

func keyFilename(key []byte) string {
	if len(key) == 0 {
		return "_empty"
	}
	return hex.EncodeToString(key)
}

func filenameKey(name string) ([]byte, bool) {
	if name == "_empty" {
		return []byte{}, true
	}
	b, err := hex.DecodeString(name)
	if err != nil {
		return nil, false
	}
	return b, true
}

func (s *FileStore) checkClosed() error {
	if s.closed.Load() {
		return ErrClosed
	}
	return nil
}

// Put implements Store.
func (s *FileStore) Put(partition string, key, value []byte) error {
	if err := s.checkClosed(); err != nil {
		return err
	}
	dir, err := s.partitionDir(partition)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("store: mkdir %s: %w", dir, err)
	}

	payload := make([]byte, checksumSize+len(value))
	binary.LittleEndian.PutUint64(payload[:checksumSize], xxh3.Hash(value))
	copy(payload[checksumSize:], value)

	s.mu.Lock()
	seq := s.tmpSeq.Add(1)
	s.mu.Unlock()

	tmpName := fmt.Sprintf("%s%d-%s", tmpPrefix, seq, keyFilename(key))
	tmpPath := filepath.Join(dir, tmpName)
	if err := os.WriteFile(tmpPath, payload, 0o644); err != nil {
		return fmt.Errorf("store: write %s: %w", tmpPath, err)
	}

	finalPath := filepath.Join(dir, keyFilename(key))
	if err := os.Rename(tmpPath, finalPath); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("store: rename into %s: %w", finalPath, err)
	}
	return nil
}

// Get implements Store.
func (s *FileStore) Get(partition string, key []byte) ([]byte, error) {
	if err := s.checkClosed(); err != nil {
		return nil, err
	}
	dir, err := s.partitionDir(partition)
	if err != nil {
		return nil, err
	}
	path := filepath.Join(dir, keyFilename(key))
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: read %s: %w", path, err)
	}
	return verifyAndStrip(path, data)
}

func verifyAndStrip(path string, data []byte) ([]byte, error) {
	if len(data) < checksumSize {
		return nil, fmt.Errorf("store: truncated record at %s", path)
	}
	want := binary.LittleEndian.Uint64(data[:checksumSize])
	payload := data[checksumSize:]
	if got := xxh3.Hash(payload); got != want {
		return nil, fmt.Errorf("store: checksum mismatch at %s (got %x want %x)", path, got, want)
	}
	return payload, nil
}

// Delete implements Store.
func (s *FileStore) Delete(partition string, key []byte) error {
	if err := s.checkClosed(); err != nil {
		return err
	}
	dir, err := s.partitionDir(partition)
	if err != nil {
		return err
	}
	path := filepath.Join(dir, keyFilename(key))
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("store: delete %s: %w", path, err)
	}
	return nil
}

// Iterate implements Store.
func (s *FileStore) Iterate(partition string, fn func(key, value []byte) error) error {
	if err := s.checkClosed(); err != nil {
		return err
	}
	dir, err := s.partitionDir(partition)
	if err != nil {
		return err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("store: readdir %s: %w", dir, err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), tmpPrefix) {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	for _, name := range names {
		key, ok := filenameKey(name)
		if !ok {
			continue
		}
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				// Raced with a concurrent Delete; skip.
				continue
			}
			return fmt.Errorf("store: read %s: %w", path, err)
		}
		value, err := verifyAndStrip(path, data)
		if err != nil {
			return err
		}
		if err := fn(key, value); err != nil {
			return err
		}
	}
	return nil
}

// Flush implements Store. Every Put is already durable via rename, so
// Flush best-effort fsyncs partition directory entries so that the
// renames themselves are not lost on a crash before the next open.
func (s *FileStore) Flush() error {
	if err := s.checkClosed(); err != nil {
		return err
	}
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return fmt.Errorf("store: flush readdir %s: %w", s.root, err)
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if err := syncDir(filepath.Join(s.root, e.Name())); err != nil {
			return err
		}
	}
	return syncDir(s.root)
}

func syncDir(path string) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("store: open %s: %w", path, err)
	}
	defer f.Close()
	if err := f.Sync(); err != nil {
		// Not all platforms/filesystems support directory fsync; treat
		// that as a no-op rather than a fatal error.
		if pe, ok := err.(*fs.PathError); ok && pe.Err.Error() == "invalid argument" {
			return nil
		}
		return fmt.Errorf("store: sync %s: %w", path, err)
	}
	return nil
}

var _ io.Closer = (*FileStore)(nil)

// Close implements Store. After Close, all operations return ErrClosed.
func (s *FileStore) Close() error {
	s.closed.Store(true)
	return nil
}
