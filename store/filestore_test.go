package store

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
)

func TestFileStorePutGetRoundTrip(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	if err := s.Put("chunks", []byte{0, 0, 0, 0, 0, 0, 0, 1}, []byte("payload")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err := s.Get("chunks", []byte{0, 0, 0, 0, 0, 0, 0, 1})
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != "payload" {
		t.Errorf("Get = %q, want %q", got, "payload")
	}
}

func TestFileStoreGetNotFound(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	_, err = s.Get("chunks", []byte("missing"))
	if err != ErrNotFound {
		t.Errorf("Get(missing) = %v, want ErrNotFound", err)
	}
}

func TestFileStoreDeleteAbsentKeyIsNotError(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	if err := s.Delete("chunks", []byte("nope")); err != nil {
		t.Errorf("Delete(absent) = %v, want nil", err)
	}
}

func TestFileStoreIterateAscendingKeyOrder(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	for _, id := range []uint64{5, 1, 3, 0, 2} {
		key := make([]byte, 8)
		binary.BigEndian.PutUint64(key, id)
		if err := s.Put("chunks", key, []byte{byte(id)}); err != nil {
			t.Fatalf("Put(%d): %v", id, err)
		}
	}

	var gotOrder []uint64
	if err := s.Iterate("chunks", func(key, _ []byte) error {
		gotOrder = append(gotOrder, binary.BigEndian.Uint64(key))
		return nil
	}); err != nil {
		t.Fatalf("Iterate: %v", err)
	}

	want := []uint64{0, 1, 2, 3, 5}
	if len(gotOrder) != len(want) {
		t.Fatalf("got %d entries, want %d", len(gotOrder), len(want))
	}
	for i := range want {
		if gotOrder[i] != want[i] {
			t.Errorf("position %d: got %d, want %d", i, gotOrder[i], want[i])
		}
	}
}

func TestFileStoreIterateEmptyPartitionIsNoop(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	var calls int
	if err := s.Iterate("never-created", func(_, _ []byte) error {
		calls++
		return nil
	}); err != nil {
		t.Fatalf("Iterate: %v", err)
	}
	if calls != 0 {
		t.Errorf("expected zero calls on an empty partition, got %d", calls)
	}
}

func TestFileStoreChecksumMismatchDetected(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	key := []byte("k")
	if err := s.Put("chunks", key, []byte("original")); err != nil {
		t.Fatalf("Put: %v", err)
	}

	path := filepath.Join(dir, "chunks", keyFilename(key))
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	// Corrupt the payload without touching the checksum header.
	data[len(data)-1] ^= 0xFF
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if _, err := s.Get("chunks", key); err == nil {
		t.Fatal("expected checksum mismatch error, got nil")
	}
}

func TestFileStoreClosedReturnsErrClosed(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Put("p", []byte("k"), []byte("v")); err != ErrClosed {
		t.Errorf("Put after Close = %v, want ErrClosed", err)
	}
	if _, err := s.Get("p", []byte("k")); err != ErrClosed {
		t.Errorf("Get after Close = %v, want ErrClosed", err)
	}
}

func TestFileStoreInvalidPartitionName(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	for _, bad := range []string{"", ".", "..", "a/b", `a\b`} {
		if err := s.Put(bad, []byte("k"), []byte("v")); err == nil {
			t.Errorf("Put with partition %q: expected error, got nil", bad)
		}
	}
}

func TestFileStorePutOverwritesExistingKey(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	key := []byte("k")
	if err := s.Put("p", key, []byte("first")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := s.Put("p", key, []byte("second")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err := s.Get("p", key)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != "second" {
		t.Errorf("Get = %q, want %q", got, "second")
	}
}

func TestFileStoreEmptyKey(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	if err := s.Put("p", []byte{}, []byte("v")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err := s.Get("p", []byte{})
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != "v" {
		t.Errorf("Get = %q, want %q", got, "v")
	}
}
