package bloomvault

import "fmt"

// ChunkCodec slices and reassembles a BitVector's packed byte
// representation as fixed-size chunks, addressed by an ascending chunk
// id. It is the unit of persistence: a snapshot writes whole chunks, never
// partial ones.
type ChunkCodec struct {
	chunkBytes int
}

// NewChunkCodec returns a codec that slices byte arrays into chunks of
// chunkBytes bytes (the last chunk of any array may be shorter).
func NewChunkCodec(chunkBytes int) *ChunkCodec {
	return &ChunkCodec{chunkBytes: chunkBytes}
}

// ChunkBytes returns the configured chunk size.
func (c *ChunkCodec) ChunkBytes() int { return c.chunkBytes }

// NumChunks returns the number of chunks a byte array of length numBytes
// splits into.
func (c *ChunkCodec) NumChunks(numBytes int) uint64 {
	if numBytes <= 0 {
		return 0
	}
	return uint64((numBytes + c.chunkBytes - 1) / c.chunkBytes)
}

// chunkRange returns the [start, end) byte range chunkID occupies within
// an array of length numBytes, or ErrCorruptChunk if chunkID is out of
// range.
func (c *ChunkCodec) chunkRange(chunkID uint64, numBytes int) (start, end int, err error) {
	total := c.NumChunks(numBytes)
	if chunkID >= total {
		return 0, 0, fmt.Errorf("%w: chunk id %d out of range (have %d chunks)", ErrCorruptChunk, chunkID, total)
	}
	start = int(chunkID) * c.chunkBytes
	end = start + c.chunkBytes
	if end > numBytes {
		end = numBytes
	}
	return start, end, nil
}

// Iterate calls fn once per chunk of bv's packed bytes, in ascending chunk
// id order, stopping at the first error fn returns. The byte slice passed
// to fn aliases bv's storage and must not be retained past the call.
func (c *ChunkCodec) Iterate(bv *BitVector, fn func(chunkID uint64, data []byte) error) error {
	raw := bv.rawBytes()
	total := c.NumChunks(len(raw))
	for id := uint64(0); id < total; id++ {
		start, end, err := c.chunkRange(id, len(raw))
		if err != nil {
			return err
		}
		if err := fn(id, raw[start:end]); err != nil {
			return err
		}
	}
	return nil
}

// Apply overwrites the byte range of bv corresponding to chunkID with
// data. It returns ErrCorruptChunk if chunkID is out of range or len(data)
// does not match the expected length for that chunk.
func (c *ChunkCodec) Apply(bv *BitVector, chunkID uint64, data []byte) error {
	raw := bv.rawBytes()
	start, end, err := c.chunkRange(chunkID, len(raw))
	if err != nil {
		return err
	}
	if want := end - start; len(data) != want {
		return fmt.Errorf("%w: chunk %d expected %d bytes, got %d", ErrCorruptChunk, chunkID, want, len(data))
	}
	copy(raw[start:end], data)
	return nil
}

// DirtyChunkSet conservatively tracks which chunks of a bit vector have
// been modified since the last successful snapshot. Over-marking is
// correctness-preserving; under-marking is not — every chunk that differs
// from its on-disk copy must be marked.
type DirtyChunkSet struct {
	bits *BitVector
}

// NewDirtyChunkSet allocates a clean (all-zero) dirty set sized for
// numChunks chunks.
func NewDirtyChunkSet(numChunks uint64) *DirtyChunkSet {
	return &DirtyChunkSet{bits: NewBitVector(numChunks)}
}

// Len returns the number of chunks tracked.
func (d *DirtyChunkSet) Len() uint64 { return d.bits.Len() }

// Mark flags chunkID as dirty.
func (d *DirtyChunkSet) Mark(chunkID uint64) {
	d.bits.Set(chunkID, true)
}

// MarkAll flags every chunk as dirty, used after a full clear so that a
// subsequent snapshot propagates the zeroing to disk.
func (d *DirtyChunkSet) MarkAll() {
	d.bits.Fill(true)
}

// IsDirty reports whether chunkID is currently marked dirty.
func (d *DirtyChunkSet) IsDirty(chunkID uint64) bool {
	return d.bits.Get(chunkID)
}

// Any reports whether at least one chunk is currently marked dirty,
// without clearing the set.
func (d *DirtyChunkSet) Any() bool {
	for i := uint64(0); i < d.bits.Len(); i++ {
		if d.bits.Get(i) {
			return true
		}
	}
	return false
}

// TakeAndClear atomically (with respect to this call only — the caller
// must hold whatever latch serializes concurrent mutators) copies out the
// ids of every currently-dirty chunk and then clears the set, implementing
// the two-phase "copy bits, then clear" step of the snapshot protocol.
func (d *DirtyChunkSet) TakeAndClear() []uint64 {
	ids := d.dirtyIDs()
	d.bits.Fill(false)
	return ids
}

func (d *DirtyChunkSet) dirtyIDs() []uint64 {
	var ids []uint64
	for i := uint64(0); i < d.bits.Len(); i++ {
		if d.bits.Get(i) {
			ids = append(ids, i)
		}
	}
	return ids
}

// Restore re-marks each id in ids as dirty. Used to return a chunk to the
// retry set after a failed write mid-snapshot.
func (d *DirtyChunkSet) Restore(ids []uint64) {
	for _, id := range ids {
		d.Mark(id)
	}
}
