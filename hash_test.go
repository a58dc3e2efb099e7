package bloomvault

import "testing"

func TestBitIndicesDeterministic(t *testing.T) {
	a, err := bitIndices([]byte("hello"), 7, 10_000)
	if err != nil {
		t.Fatalf("bitIndices: %v", err)
	}
	b, err := bitIndices([]byte("hello"), 7, 10_000)
	if err != nil {
		t.Fatalf("bitIndices: %v", err)
	}
	if len(a) != len(b) {
		t.Fatalf("length mismatch: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Errorf("index %d differs across calls: %d vs %d", i, a[i], b[i])
		}
	}
}

func TestBitIndicesWithinRange(t *testing.T) {
	const m = 9973 // deliberately not a power of two
	indices, err := bitIndices([]byte("some-key"), 11, m)
	if err != nil {
		t.Fatalf("bitIndices: %v", err)
	}
	for _, idx := range indices {
		if idx >= m {
			t.Errorf("index %d out of range [0,%d)", idx, m)
		}
	}
}

func TestBitIndicesDistinctKeysDiffer(t *testing.T) {
	a, err := bitIndices([]byte("alpha"), 5, 100_000)
	if err != nil {
		t.Fatalf("bitIndices: %v", err)
	}
	b, err := bitIndices([]byte("beta"), 5, 100_000)
	if err != nil {
		t.Fatalf("bitIndices: %v", err)
	}
	same := true
	for i := range a {
		if a[i] != b[i] {
			same = false
			break
		}
	}
	if same {
		t.Errorf("distinct keys produced identical index sets (suspiciously unlikely): %v", a)
	}
}

func TestFnv1a64Stdlib(t *testing.T) {
	// FNV-1a-64 of the empty string is the well-known offset basis.
	const offsetBasis uint64 = 0xcbf29ce484222325
	if got := fnv1a64(nil); got != offsetBasis {
		t.Errorf("fnv1a64(nil) = %#x, want %#x", got, offsetBasis)
	}
}
