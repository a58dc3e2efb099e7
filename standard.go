package bloomvault

import (
	"encoding/binary"
	"sync"
	"sync/atomic"

	"github.com/jcalabro/bloomvault/store"
)

const (
	partitionConfig = "config"
	partitionChunks = "chunks"
	configKey       = "config"
)

// StandardFilter is a fixed-capacity Bloom filter with optional durable,
// incrementally-checkpointed persistence. All public operations take a
// shared receiver; the filter encapsulates its own latches.
type StandardFilter struct {
	cfg    FilterConfig
	params FilterParams
	codec  *ChunkCodec

	bitsMu sync.RWMutex
	bits   *BitVector

	dirtyMu sync.Mutex
	dirty   *DirtyChunkSet

	insertCount atomic.Uint64
	closed      atomic.Bool

	backend store.Store
}

// Create builds a new StandardFilter from cfg. If cfg.Persistence is set,
// any existing backend at that path is overwritten: the config and an
// empty chunk set are persisted immediately.
func Create(cfg FilterConfig) (*StandardFilter, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	params, err := ComputeParams(cfg.ExpectedItems, cfg.TargetFPR)
	if err != nil {
		return nil, err
	}

	var backend store.Store
	var chunkBytes int
	if cfg.Persistence != nil {
		fs, err := store.Open(cfg.Persistence.DBPath)
		if err != nil {
			return nil, newStorageError("create", false, err)
		}
		backend = fs
		chunkBytes = int(cfg.Persistence.ChunkSizeBytes)
	} else {
		chunkBytes = int(numBytes(params.M))
		if chunkBytes < 1 {
			chunkBytes = 1
		}
	}

	f := &StandardFilter{
		cfg:     cfg,
		params:  params,
		codec:   NewChunkCodec(chunkBytes),
		bits:    NewBitVector(params.M),
		backend: backend,
	}
	f.dirty = NewDirtyChunkSet(f.codec.NumChunks(f.bits.NumBytes()))

	if backend != nil {
		var stale [][]byte
		if err := backend.Iterate(partitionChunks, func(key, _ []byte) error {
			stale = append(stale, append([]byte(nil), key...))
			return nil
		}); err != nil {
			return nil, newStorageError("create:clear-chunks", true, err)
		}
		for _, key := range stale {
			if err := backend.Delete(partitionChunks, key); err != nil {
				return nil, newStorageError("create:clear-chunks", true, err)
			}
		}
		if err := backend.Put(partitionConfig, []byte(configKey), cfg.encode()); err != nil {
			return nil, newStorageError("create:put-config", true, err)
		}
		if err := backend.Flush(); err != nil {
			return nil, newStorageError("create:flush", true, err)
		}
	}
	return f, nil
}

// Load opens an existing backend at dbPath, reads its persisted config,
// and reconstructs the bit vector from stored chunks. It returns an error
// if the backend does not contain a valid config.
func Load(dbPath string) (*StandardFilter, error) {
	backend, err := store.Open(dbPath)
	if err != nil {
		return nil, newStorageError("load", false, err)
	}

	raw, err := backend.Get(partitionConfig, []byte(configKey))
	if err != nil {
		return nil, newStorageError("load:get-config", false, err)
	}
	cfg, err := decodeFilterConfig(raw)
	if err != nil {
		return nil, err
	}
	if cfg.Persistence == nil {
		cfg.Persistence = &PersistenceConfig{DBPath: dbPath}
	} else {
		cfg.Persistence.DBPath = dbPath
	}

	params, err := ComputeParams(cfg.ExpectedItems, cfg.TargetFPR)
	if err != nil {
		return nil, err
	}

	f := &StandardFilter{
		cfg:     cfg,
		params:  params,
		codec:   NewChunkCodec(int(cfg.Persistence.ChunkSizeBytes)),
		bits:    NewBitVector(params.M),
		backend: backend,
	}
	f.dirty = NewDirtyChunkSet(f.codec.NumChunks(f.bits.NumBytes()))

	if err := backend.Iterate(partitionChunks, func(key, value []byte) error {
		id := decodeChunkKey(key)
		return f.codec.Apply(f.bits, id, value)
	}); err != nil {
		return nil, newStorageError("load:apply-chunks", false, err)
	}

	return f, nil
}

// CreateOrLoad loads the filter at cfg.Persistence.DBPath if a backend
// already exists there, otherwise creates a new one from cfg. With no
// persistence configured, it always creates an in-memory filter.
func CreateOrLoad(cfg FilterConfig) (*StandardFilter, error) {
	if cfg.Persistence != nil {
		if pathExists(cfg.Persistence.DBPath) {
			return Load(cfg.Persistence.DBPath)
		}
	}
	return Create(cfg)
}

func chunkKey(id uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], id)
	return b[:]
}

func decodeChunkKey(key []byte) uint64 {
	return binary.BigEndian.Uint64(key)
}

func (f *StandardFilter) checkClosed() error {
	if f.closed.Load() {
		return ErrClosed
	}
	return nil
}

// Insert adds key to the filter. It is idempotent: inserting the same key
// twice leaves the bit vector and dirty set identical to a single insert,
// modulo InsertCount advancing by two.
func (f *StandardFilter) Insert(key []byte) error {
	if err := f.checkClosed(); err != nil {
		return err
	}
	indices, err := bitIndices(key, f.params.K, f.params.M)
	if err != nil {
		return err
	}

	f.bitsMu.Lock()
	for _, idx := range indices {
		f.bits.Set(idx, true)
	}
	f.bitsMu.Unlock()

	f.markDirtyForBits(indices)
	f.insertCount.Add(1)
	return nil
}

// Contains reports whether key might be a member. A false result is
// certain; a true result may be a false positive.
func (f *StandardFilter) Contains(key []byte) (bool, error) {
	if err := f.checkClosed(); err != nil {
		return false, err
	}
	indices, err := bitIndices(key, f.params.K, f.params.M)
	if err != nil {
		return false, err
	}

	f.bitsMu.RLock()
	defer f.bitsMu.RUnlock()
	for _, idx := range indices {
		if !f.bits.Get(idx) {
			return false, nil
		}
	}
	return true, nil
}

// InsertBulk computes hash indices for every key up front, then applies
// all of them under a single write-latch acquisition: concurrent readers
// observe either all of the keys or none of them.
func (f *StandardFilter) InsertBulk(keys [][]byte) error {
	if err := f.checkClosed(); err != nil {
		return err
	}
	allIndices := make([][]uint64, len(keys))
	for i, key := range keys {
		indices, err := bitIndices(key, f.params.K, f.params.M)
		if err != nil {
			return err
		}
		allIndices[i] = indices
	}

	f.bitsMu.Lock()
	for _, indices := range allIndices {
		for _, idx := range indices {
			f.bits.Set(idx, true)
		}
	}
	f.bitsMu.Unlock()

	for _, indices := range allIndices {
		f.markDirtyForBits(indices)
	}
	f.insertCount.Add(uint64(len(keys)))
	return nil
}

// ContainsBulk is the bulk counterpart of Contains: it acquires the read
// latch once and evaluates every key, returning results in input order.
func (f *StandardFilter) ContainsBulk(keys [][]byte) ([]bool, error) {
	if err := f.checkClosed(); err != nil {
		return nil, err
	}
	allIndices := make([][]uint64, len(keys))
	for i, key := range keys {
		indices, err := bitIndices(key, f.params.K, f.params.M)
		if err != nil {
			return nil, err
		}
		allIndices[i] = indices
	}

	results := make([]bool, len(keys))
	f.bitsMu.RLock()
	defer f.bitsMu.RUnlock()
	for i, indices := range allIndices {
		present := true
		for _, idx := range indices {
			if !f.bits.Get(idx) {
				present = false
				break
			}
		}
		results[i] = present
	}
	return results, nil
}

// Clear zeroes the bit vector, marks every chunk dirty so a subsequent
// snapshot propagates the zeroing to disk, and resets InsertCount.
func (f *StandardFilter) Clear() error {
	if err := f.checkClosed(); err != nil {
		return err
	}
	f.bitsMu.Lock()
	f.bits.Fill(false)
	f.bitsMu.Unlock()

	f.dirtyMu.Lock()
	f.dirty.MarkAll()
	f.dirtyMu.Unlock()

	f.insertCount.Store(0)
	return nil
}

// InsertCount returns the number of Insert/InsertBulk calls applied
// (bulk inserts count each key), including duplicates.
func (f *StandardFilter) InsertCount() uint64 {
	return f.insertCount.Load()
}

func (f *StandardFilter) markDirtyForBits(indices []uint64) {
	if f.backend == nil {
		return
	}
	f.dirtyMu.Lock()
	defer f.dirtyMu.Unlock()
	for _, idx := range indices {
		chunkID := idx / 8 / uint64(f.codec.ChunkBytes())
		f.dirty.Mark(chunkID)
	}
}

// Snapshot persists every chunk marked dirty since the last successful
// snapshot. It takes and clears the dirty set first, then writes; any
// chunk whose write fails is re-marked dirty and returned via
// SnapshotError so a later Snapshot call retries it. Snapshot is a no-op
// returning nil if the filter has no backend configured.
func (f *StandardFilter) Snapshot() error {
	if err := f.checkClosed(); err != nil {
		return err
	}
	if f.backend == nil {
		return nil
	}

	f.dirtyMu.Lock()
	dirtyIDs := f.dirty.TakeAndClear()
	f.dirtyMu.Unlock()

	if err := f.backend.Put(partitionConfig, []byte(configKey), f.cfg.encode()); err != nil {
		f.dirtyMu.Lock()
		f.dirty.Restore(dirtyIDs)
		f.dirtyMu.Unlock()
		return newStorageError("snapshot:put-config", true, err)
	}

	var failed []uint64
	var firstErr error
	for _, id := range dirtyIDs {
		f.bitsMu.RLock()
		start, end, rangeErr := f.codec.chunkRange(id, f.bits.NumBytes())
		var data []byte
		if rangeErr == nil {
			data = append([]byte(nil), f.bits.rawBytes()[start:end]...)
		}
		f.bitsMu.RUnlock()

		if rangeErr != nil {
			failed = append(failed, id)
			if firstErr == nil {
				firstErr = rangeErr
			}
			continue
		}
		if err := f.backend.Put(partitionChunks, chunkKey(id), data); err != nil {
			failed = append(failed, id)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
	}

	if len(failed) > 0 {
		f.dirtyMu.Lock()
		f.dirty.Restore(failed)
		f.dirtyMu.Unlock()
		return &SnapshotError{ChunkIDs: failed, Err: firstErr}
	}

	if err := f.backend.Flush(); err != nil {
		return newStorageError("snapshot:flush", true, err)
	}
	return nil
}

// Close releases the filter's backend, if any. Operations after Close
// return ErrClosed.
func (f *StandardFilter) Close() error {
	if !f.closed.CompareAndSwap(false, true) {
		return nil
	}
	if f.backend != nil {
		return f.backend.Close()
	}
	return nil
}

func pathExists(path string) bool {
	// A config key only exists once Create has run. store.Open creates the
	// directory when it is missing, so the probe looks for the standard
	// filter's config key rather than for the directory itself.
	fs, err := store.Open(path)
	if err != nil {
		return false
	}
	defer fs.Close()
	_, err = fs.Get(partitionConfig, []byte(configKey))
	return err == nil
}
