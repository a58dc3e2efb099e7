package bloomvault

import (
	"bytes"
	"testing"
)

func TestChunkCodecIterateApplyRoundTrip(t *testing.T) {
	bv := NewBitVector(100_000)
	for i := uint64(0); i < bv.Len(); i += 37 {
		bv.Set(i, true)
	}

	codec := NewChunkCodec(4096)
	chunks := map[uint64][]byte{}
	if err := codec.Iterate(bv, func(id uint64, data []byte) error {
		chunks[id] = append([]byte(nil), data...)
		return nil
	}); err != nil {
		t.Fatalf("Iterate: %v", err)
	}

	restored := NewBitVector(100_000)
	for id, data := range chunks {
		if err := codec.Apply(restored, id, data); err != nil {
			t.Fatalf("Apply(%d): %v", id, err)
		}
	}

	if !bytes.Equal(bv.rawBytes(), restored.rawBytes()) {
		t.Fatal("round-tripped bit vector does not match original")
	}
}

func TestChunkCodecApplyCorruptChunk(t *testing.T) {
	bv := NewBitVector(1000)
	codec := NewChunkCodec(16)

	if err := codec.Apply(bv, 999, make([]byte, 16)); err == nil {
		t.Fatal("expected error for out-of-range chunk id")
	}
	if err := codec.Apply(bv, 0, make([]byte, 15)); err == nil {
		t.Fatal("expected error for wrong-length chunk data")
	}
}

func TestChunkCodecSingleChunk(t *testing.T) {
	bv := NewBitVector(1000)
	codec := NewChunkCodec(bv.NumBytes()) // chunk_size_bytes >= ceil(m/8)
	if n := codec.NumChunks(bv.NumBytes()); n != 1 {
		t.Fatalf("expected exactly 1 chunk, got %d", n)
	}
}

func TestChunkCodecOneByteChunks(t *testing.T) {
	bv := NewBitVector(64)
	codec := NewChunkCodec(1)
	if n := codec.NumChunks(bv.NumBytes()); n != 8 {
		t.Fatalf("expected 8 one-byte chunks, got %d", n)
	}
}

func TestDirtyChunkSetTakeAndClear(t *testing.T) {
	d := NewDirtyChunkSet(10)
	d.Mark(2)
	d.Mark(7)
	if !d.Any() {
		t.Fatal("expected Any() to report dirty chunks")
	}

	ids := d.TakeAndClear()
	if len(ids) != 2 || ids[0] != 2 || ids[1] != 7 {
		t.Fatalf("unexpected dirty ids: %v", ids)
	}
	if d.Any() {
		t.Fatal("expected dirty set to be clear after TakeAndClear")
	}
}

func TestDirtyChunkSetRestore(t *testing.T) {
	d := NewDirtyChunkSet(10)
	d.Mark(3)
	ids := d.TakeAndClear()
	d.Restore(ids)
	if !d.IsDirty(3) {
		t.Fatal("expected chunk 3 to be dirty again after Restore")
	}
}

func TestDirtyChunkSetMarkAll(t *testing.T) {
	d := NewDirtyChunkSet(5)
	d.MarkAll()
	for i := uint64(0); i < 5; i++ {
		if !d.IsDirty(i) {
			t.Errorf("chunk %d should be dirty after MarkAll", i)
		}
	}
}
