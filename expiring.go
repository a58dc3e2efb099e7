package bloomvault

import (
	"fmt"
	"log"
	"sync"
	"sync/atomic"

	"github.com/jcalabro/bloomvault/store"
)

const (
	partitionExpiringConfig = "expiring_config"
	partitionCurrentLevel   = "current_level"
	partitionLevelMetadata  = "level_metadata"
	currentLevelKey         = "current_level"
	levelMetadataKey        = "level_metadata"
)

func levelChunksPartition(i uint8) string { return fmt.Sprintf("level_%d_chunks", i) }
func levelDirtyPartition(i uint8) string  { return fmt.Sprintf("level_%d_dirty", i) }

// ExpiringFilter is a ring of NumLevels Bloom filter levels rotated on a
// wall-clock schedule. At most one level is writable at a time (the
// current level); the rest are frozen, read-only, and persisted. A
// rotation freezes the current level, advances the pointer, and evicts
// the level the pointer now targets, implementing a sliding time window:
// entries older than NumLevels*LevelDuration are forgotten automatically.
type ExpiringFilter struct {
	cfg    ExpiringConfig
	params FilterParams
	codec  *ChunkCodec

	levelMu []sync.RWMutex
	levels  []*BitVector

	metaMu   sync.RWMutex
	metadata []LevelMetadata

	currentLevel atomic.Uint32

	dirtyMu sync.Mutex
	dirty   *DirtyChunkSet // always refers to the current level

	rotMu sync.Mutex // serializes rotations

	backend store.Store
	closed  atomic.Bool

	rotator *Rotator
}

// CreateExpiring builds a new ExpiringFilter from cfg. Every level shares
// identical (m, k), derived once from (CapacityPerLevel, TargetFPR). If
// cfg.Persistence is set, the config, empty per-level chunk partitions,
// and pointer are persisted immediately.
func CreateExpiring(cfg ExpiringConfig) (*ExpiringFilter, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	params, err := ComputeParams(cfg.CapacityPerLevel, cfg.TargetFPR)
	if err != nil {
		return nil, err
	}

	var backend store.Store
	var chunkBytes int
	if cfg.Persistence != nil {
		fs, err := store.Open(cfg.Persistence.DBPath)
		if err != nil {
			return nil, newStorageError("create-expiring", false, err)
		}
		backend = fs
		chunkBytes = int(cfg.Persistence.ChunkSizeBytes)
	} else {
		chunkBytes = int(numBytes(params.M))
		if chunkBytes < 1 {
			chunkBytes = 1
		}
	}

	f := &ExpiringFilter{
		cfg:     cfg,
		params:  params,
		codec:   NewChunkCodec(chunkBytes),
		levelMu: make([]sync.RWMutex, cfg.NumLevels),
		levels:  make([]*BitVector, cfg.NumLevels),
		metadata: make([]LevelMetadata, cfg.NumLevels),
		backend: backend,
	}
	for i := range f.levels {
		f.levels[i] = NewBitVector(params.M)
	}
	f.metadata[0] = LevelMetadata{CreatedAtMs: nowMs()}
	f.dirty = NewDirtyChunkSet(f.codec.NumChunks(f.levels[0].NumBytes()))

	if backend != nil {
		for i := uint8(0); i < cfg.NumLevels; i++ {
			if err := f.clearPartition(levelChunksPartition(i)); err != nil {
				return nil, newStorageError("create-expiring:clear-level", true, err)
			}
			if err := f.clearPartition(levelDirtyPartition(i)); err != nil {
				return nil, newStorageError("create-expiring:clear-level", true, err)
			}
		}
		if err := backend.Put(partitionExpiringConfig, []byte(configKey), cfg.encode()); err != nil {
			return nil, newStorageError("create-expiring:put-config", true, err)
		}
		if err := backend.Put(partitionCurrentLevel, []byte(currentLevelKey), []byte{0}); err != nil {
			return nil, newStorageError("create-expiring:put-current-level", true, err)
		}
		if err := backend.Put(partitionLevelMetadata, []byte(levelMetadataKey), encodeLevelMetadata(f.metadata)); err != nil {
			return nil, newStorageError("create-expiring:put-metadata", true, err)
		}
		if err := backend.Flush(); err != nil {
			return nil, newStorageError("create-expiring:flush", true, err)
		}
	}
	return f, nil
}

// LoadExpiring opens an existing backend at dbPath and reconstructs every
// level: each is rebuilt from its frozen full-snapshot partition
// (level_i_chunks), then overlaid with its incremental partition
// (level_i_dirty). Only the current level is expected to carry a non-empty
// dirty overlay; a non-current level with one logs a warning and applies
// it anyway (the conservative, safe choice).
func LoadExpiring(dbPath string) (*ExpiringFilter, error) {
	backend, err := store.Open(dbPath)
	if err != nil {
		return nil, newStorageError("load-expiring", false, err)
	}

	raw, err := backend.Get(partitionExpiringConfig, []byte(configKey))
	if err != nil {
		return nil, newStorageError("load-expiring:get-config", false, err)
	}
	cfg, err := decodeExpiringConfig(raw)
	if err != nil {
		return nil, err
	}
	if cfg.NumLevels == 0 {
		return nil, fmt.Errorf("%w: persisted num_levels is zero", ErrCodec)
	}
	if cfg.Persistence == nil {
		cfg.Persistence = &PersistenceConfig{DBPath: dbPath}
	} else {
		cfg.Persistence.DBPath = dbPath
	}

	params, err := ComputeParams(cfg.CapacityPerLevel, cfg.TargetFPR)
	if err != nil {
		return nil, err
	}

	curRaw, err := backend.Get(partitionCurrentLevel, []byte(currentLevelKey))
	if err != nil {
		return nil, newStorageError("load-expiring:get-current-level", false, err)
	}
	if len(curRaw) != 1 {
		return nil, fmt.Errorf("%w: current_level value must be 1 byte, got %d", ErrCodec, len(curRaw))
	}
	cur := curRaw[0]
	if cur >= cfg.NumLevels {
		return nil, fmt.Errorf("%w: current_level %d out of range for num_levels %d", ErrCodec, cur, cfg.NumLevels)
	}

	metaRaw, err := backend.Get(partitionLevelMetadata, []byte(levelMetadataKey))
	if err != nil {
		return nil, newStorageError("load-expiring:get-metadata", false, err)
	}
	metadata, err := decodeLevelMetadata(metaRaw)
	if err != nil {
		return nil, err
	}
	if len(metadata) != int(cfg.NumLevels) {
		return nil, fmt.Errorf("%w: metadata has %d entries, expected %d", ErrCodec, len(metadata), cfg.NumLevels)
	}

	f := &ExpiringFilter{
		cfg:      cfg,
		params:   params,
		codec:    NewChunkCodec(int(cfg.Persistence.ChunkSizeBytes)),
		levelMu:  make([]sync.RWMutex, cfg.NumLevels),
		levels:   make([]*BitVector, cfg.NumLevels),
		metadata: metadata,
		backend:  backend,
	}
	f.currentLevel.Store(uint32(cur))

	for i := uint8(0); i < cfg.NumLevels; i++ {
		bv := NewBitVector(params.M)
		if err := backend.Iterate(levelChunksPartition(i), func(key, value []byte) error {
			return f.codec.Apply(bv, decodeChunkKey(key), value)
		}); err != nil {
			return nil, newStorageError("load-expiring:apply-chunks", false, err)
		}

		var dirtyApplied int
		if err := backend.Iterate(levelDirtyPartition(i), func(key, value []byte) error {
			dirtyApplied++
			return f.codec.Apply(bv, decodeChunkKey(key), value)
		}); err != nil {
			return nil, newStorageError("load-expiring:apply-dirty", false, err)
		}
		if dirtyApplied > 0 && i != cur {
			log.Printf("bloomvault: DirtyOnFrozen: level %d is not current but has %d dirty chunk(s); applying conservatively", i, dirtyApplied)
		}
		f.levels[i] = bv
	}

	f.dirty = NewDirtyChunkSet(f.codec.NumChunks(f.levels[0].NumBytes()))
	return f, nil
}

// CreateOrLoadExpiring loads the filter at cfg.Persistence.DBPath if a
// backend already exists there, otherwise creates a new one from cfg.
func CreateOrLoadExpiring(cfg ExpiringConfig) (*ExpiringFilter, error) {
	if cfg.Persistence != nil {
		if s, err := store.Open(cfg.Persistence.DBPath); err == nil {
			_, getErr := s.Get(partitionExpiringConfig, []byte(configKey))
			s.Close()
			if getErr == nil {
				return LoadExpiring(cfg.Persistence.DBPath)
			}
		}
	}
	return CreateExpiring(cfg)
}

func (f *ExpiringFilter) checkClosed() error {
	if f.closed.Load() {
		return ErrClosed
	}
	return nil
}

// CurrentLevel returns the index of the currently writable level.
func (f *ExpiringFilter) CurrentLevel() uint8 {
	return uint8(f.currentLevel.Load())
}

// NumLevels returns the size of the ring.
func (f *ExpiringFilter) NumLevels() uint8 { return f.cfg.NumLevels }

// Metadata returns a copy of the per-level metadata vector.
func (f *ExpiringFilter) Metadata() []LevelMetadata {
	f.metaMu.RLock()
	defer f.metaMu.RUnlock()
	return append([]LevelMetadata(nil), f.metadata...)
}

// Insert adds key to the current level only.
func (f *ExpiringFilter) Insert(key []byte) error {
	if err := f.checkClosed(); err != nil {
		return err
	}
	cur := f.CurrentLevel()
	indices, err := bitIndices(key, f.params.K, f.params.M)
	if err != nil {
		return err
	}

	f.levelMu[cur].Lock()
	for _, idx := range indices {
		f.levels[cur].Set(idx, true)
	}
	f.levelMu[cur].Unlock()

	if f.backend != nil {
		f.dirtyMu.Lock()
		for _, idx := range indices {
			chunkID := idx / 8 / uint64(f.codec.ChunkBytes())
			f.dirty.Mark(chunkID)
		}
		f.dirtyMu.Unlock()
	}

	f.metaMu.Lock()
	f.metadata[cur].InsertCount++
	f.metaMu.Unlock()
	return nil
}

// Contains iterates every level and returns true iff any level reports a
// hit, short-circuiting on the first one. Iteration order is unspecified.
func (f *ExpiringFilter) Contains(key []byte) (bool, error) {
	if err := f.checkClosed(); err != nil {
		return false, err
	}
	indices, err := bitIndices(key, f.params.K, f.params.M)
	if err != nil {
		return false, err
	}

	for i := range f.levels {
		f.levelMu[i].RLock()
		hit := true
		for _, idx := range indices {
			if !f.levels[i].Get(idx) {
				hit = false
				break
			}
		}
		f.levelMu[i].RUnlock()
		if hit {
			return true, nil
		}
	}
	return false, nil
}

// Snapshot incrementally persists the dirty chunks of the current level
// only, into its level_{cur}_dirty partition. Non-current levels are
// never touched. It is a no-op if the filter has no backend.
func (f *ExpiringFilter) Snapshot() error {
	if err := f.checkClosed(); err != nil {
		return err
	}
	if f.backend == nil {
		return nil
	}
	cur := f.CurrentLevel()

	f.dirtyMu.Lock()
	ids := f.dirty.TakeAndClear()
	f.dirtyMu.Unlock()

	var failed []uint64
	var firstErr error
	for _, id := range ids {
		f.levelMu[cur].RLock()
		start, end, rangeErr := f.codec.chunkRange(id, f.levels[cur].NumBytes())
		var data []byte
		if rangeErr == nil {
			data = append([]byte(nil), f.levels[cur].rawBytes()[start:end]...)
		}
		f.levelMu[cur].RUnlock()

		if rangeErr != nil {
			failed = append(failed, id)
			if firstErr == nil {
				firstErr = rangeErr
			}
			continue
		}
		if err := f.backend.Put(levelDirtyPartition(cur), chunkKey(id), data); err != nil {
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

	f.metaMu.Lock()
	f.metadata[cur].LastSnapshotAtMs = nowMs()
	metaCopy := append([]LevelMetadata(nil), f.metadata...)
	f.metaMu.Unlock()

	if err := f.backend.Put(partitionLevelMetadata, []byte(levelMetadataKey), encodeLevelMetadata(metaCopy)); err != nil {
		return newStorageError("snapshot-expiring:put-metadata", true, err)
	}
	return f.backend.Flush()
}

// Rotate freezes the current level, advances the pointer, and evicts the
// level the pointer now targets, per the seven-step protocol: freeze
// current, advance pointer, clear new-current in memory, delete
// new-current on disk, reset its metadata, persist metadata and pointer,
// then publish the new current-level pointer and clear the dirty tracker.
// At most one rotation runs at a time.
func (f *ExpiringFilter) Rotate() error {
	if err := f.checkClosed(); err != nil {
		return err
	}
	f.rotMu.Lock()
	defer f.rotMu.Unlock()

	cur := f.CurrentLevel()

	if f.backend != nil {
		if err := f.freezeLevel(cur); err != nil {
			return &RotationError{Step: RotationStepFreeze, Err: err}
		}
	}

	newCur := (cur + 1) % f.cfg.NumLevels

	f.levelMu[newCur].Lock()
	f.levels[newCur].Fill(false)
	f.levelMu[newCur].Unlock()

	if f.backend != nil {
		if err := f.clearPartition(levelChunksPartition(newCur)); err != nil {
			return &RotationError{Step: RotationStepDeleteDisk, Err: err}
		}
		if err := f.clearPartition(levelDirtyPartition(newCur)); err != nil {
			return &RotationError{Step: RotationStepDeleteDisk, Err: err}
		}
	}

	f.metaMu.Lock()
	f.metadata[newCur] = LevelMetadata{CreatedAtMs: nowMs()}
	metaCopy := append([]LevelMetadata(nil), f.metadata...)
	f.metaMu.Unlock()

	if f.backend != nil {
		if err := f.backend.Put(partitionLevelMetadata, []byte(levelMetadataKey), encodeLevelMetadata(metaCopy)); err != nil {
			return &RotationError{Step: RotationStepPersistMetadata, Err: err}
		}
		if err := f.backend.Put(partitionCurrentLevel, []byte(currentLevelKey), []byte{newCur}); err != nil {
			return &RotationError{Step: RotationStepPersistMetadata, Err: err}
		}
		if err := f.backend.Flush(); err != nil {
			return &RotationError{Step: RotationStepPersistMetadata, Err: err}
		}
	}

	f.currentLevel.Store(uint32(newCur))
	f.dirtyMu.Lock()
	f.dirty = NewDirtyChunkSet(f.codec.NumChunks(f.levels[newCur].NumBytes()))
	f.dirtyMu.Unlock()

	return nil
}

// freezeLevel writes every chunk of level i into its chunks partition,
// then clears its dirty partition, so the persisted state of level i
// exactly matches its in-memory state.
func (f *ExpiringFilter) freezeLevel(i uint8) error {
	f.levelMu[i].RLock()
	err := f.codec.Iterate(f.levels[i], func(id uint64, data []byte) error {
		return f.backend.Put(levelChunksPartition(i), chunkKey(id), append([]byte(nil), data...))
	})
	f.levelMu[i].RUnlock()
	if err != nil {
		return err
	}
	return f.clearPartition(levelDirtyPartition(i))
}

// clearPartition deletes every key currently in partition.
func (f *ExpiringFilter) clearPartition(partition string) error {
	var keys [][]byte
	if err := f.backend.Iterate(partition, func(key, _ []byte) error {
		keys = append(keys, append([]byte(nil), key...))
		return nil
	}); err != nil {
		return err
	}
	for _, key := range keys {
		if err := f.backend.Delete(partition, key); err != nil {
			return err
		}
	}
	return nil
}

func (f *ExpiringFilter) hasDirty() bool {
	f.dirtyMu.Lock()
	defer f.dirtyMu.Unlock()
	return f.dirty.Any()
}

// Close stops any attached Rotator and releases the backend, if any.
// Operations after Close return ErrClosed.
func (f *ExpiringFilter) Close() error {
	if !f.closed.CompareAndSwap(false, true) {
		return nil
	}
	if f.rotator != nil {
		f.rotator.Stop()
	}
	if f.backend != nil {
		return f.backend.Close()
	}
	return nil
}
