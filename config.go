package bloomvault

import (
	"fmt"
	"time"

	"github.com/jcalabro/bloomvault/internal/binlayout"
)

// PersistenceConfig selects and sizes the durable backend for a filter.
// A nil *PersistenceConfig means the filter is in-memory only.
type PersistenceConfig struct {
	DBPath         string
	ChunkSizeBytes uint32
}

// FilterConfig is the construction config for a StandardFilter.
type FilterConfig struct {
	ExpectedItems uint64
	TargetFPR     float64
	MaxFPR        float64
	Persistence   *PersistenceConfig
}

// Option mutates a FilterConfig during construction, following the
// functional-options shape used across this codebase's lineage for config
// assembly. ExpiringOption is the ExpiringConfig counterpart.
type Option func(*FilterConfig)

// NewFilterConfig returns a FilterConfig for expectedItems items at
// targetFPR false positive rate, in memory only unless WithPersistence is
// supplied.
func NewFilterConfig(expectedItems uint64, targetFPR float64, opts ...Option) FilterConfig {
	cfg := FilterConfig{ExpectedItems: expectedItems, TargetFPR: targetFPR, MaxFPR: targetFPR}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// WithPersistence enables durable snapshotting to dbPath, chunked at
// chunkSizeBytes per chunk.
func WithPersistence(dbPath string, chunkSizeBytes uint32) Option {
	return func(c *FilterConfig) {
		c.Persistence = &PersistenceConfig{DBPath: dbPath, ChunkSizeBytes: chunkSizeBytes}
	}
}

// WithMaxFPR overrides the max acceptable false positive rate recorded in
// the config blob, independent of the target used to size the filter.
func WithMaxFPR(maxFPR float64) Option {
	return func(c *FilterConfig) { c.MaxFPR = maxFPR }
}

func (c FilterConfig) validate() error {
	if c.ExpectedItems < 1 {
		return fmt.Errorf("%w: expected_items must be >= 1", ErrInvalidParams)
	}
	if !(c.TargetFPR > 0 && c.TargetFPR < 1) {
		return fmt.Errorf("%w: target_fpr must be in (0,1)", ErrInvalidParams)
	}
	if c.Persistence != nil && c.Persistence.ChunkSizeBytes == 0 {
		return fmt.Errorf("%w: chunk_size_bytes must be > 0", ErrInvalidParams)
	}
	return nil
}

func (c FilterConfig) encode() []byte {
	w := binlayout.NewWriter()
	w.WriteU64(c.ExpectedItems)
	w.WriteF64(c.TargetFPR)
	w.WriteF64(c.MaxFPR)
	if c.Persistence != nil {
		w.WriteBool(true)
		w.WriteString(c.Persistence.DBPath)
		w.WriteU32(c.Persistence.ChunkSizeBytes)
	} else {
		w.WriteBool(false)
	}
	return w.Bytes()
}

func decodeFilterConfig(data []byte) (FilterConfig, error) {
	r := binlayout.NewReader(data)
	cfg := FilterConfig{
		ExpectedItems: r.ReadU64(),
		TargetFPR:     r.ReadF64(),
		MaxFPR:        r.ReadF64(),
	}
	if r.ReadBool() {
		cfg.Persistence = &PersistenceConfig{
			DBPath:         r.ReadString(),
			ChunkSizeBytes: r.ReadU32(),
		}
	}
	if err := r.Err(); err != nil {
		return FilterConfig{}, fmt.Errorf("%w: %v", ErrCodec, err)
	}
	return cfg, nil
}

// ExpiringConfig is the construction config for an ExpiringFilter.
type ExpiringConfig struct {
	CapacityPerLevel uint64
	TargetFPR        float64
	NumLevels        uint8
	LevelDuration    time.Duration
	Persistence      *PersistenceConfig
}

// ExpiringOption mutates an ExpiringConfig during construction.
type ExpiringOption func(*ExpiringConfig)

// NewExpiringConfig returns an ExpiringConfig for a ring of numLevels
// levels, each sized for capacityPerLevel items at targetFPR, rotated
// every levelDuration.
func NewExpiringConfig(capacityPerLevel uint64, targetFPR float64, numLevels uint8, levelDuration time.Duration, opts ...ExpiringOption) ExpiringConfig {
	cfg := ExpiringConfig{
		CapacityPerLevel: capacityPerLevel,
		TargetFPR:        targetFPR,
		NumLevels:        numLevels,
		LevelDuration:    levelDuration,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// WithExpiringPersistence enables durable per-level snapshotting to
// dbPath, chunked at chunkSizeBytes per chunk.
func WithExpiringPersistence(dbPath string, chunkSizeBytes uint32) ExpiringOption {
	return func(c *ExpiringConfig) {
		c.Persistence = &PersistenceConfig{DBPath: dbPath, ChunkSizeBytes: chunkSizeBytes}
	}
}

func (c ExpiringConfig) validate() error {
	if c.CapacityPerLevel < 1 {
		return fmt.Errorf("%w: capacity_per_level must be >= 1", ErrInvalidParams)
	}
	if !(c.TargetFPR > 0 && c.TargetFPR < 1) {
		return fmt.Errorf("%w: target_fpr must be in (0,1)", ErrInvalidParams)
	}
	if c.NumLevels == 0 {
		return fmt.Errorf("%w: num_levels must be >= 1", ErrInvalidParams)
	}
	if c.Persistence != nil && c.Persistence.ChunkSizeBytes == 0 {
		return fmt.Errorf("%w: chunk_size_bytes must be > 0", ErrInvalidParams)
	}
	return nil
}

func (c ExpiringConfig) encode() []byte {
	w := binlayout.NewWriter()
	w.WriteU64(c.CapacityPerLevel)
	w.WriteF64(c.TargetFPR)
	w.WriteU8(c.NumLevels)
	w.WriteU64(uint64(c.LevelDuration))
	if c.Persistence != nil {
		w.WriteBool(true)
		w.WriteString(c.Persistence.DBPath)
		w.WriteU32(c.Persistence.ChunkSizeBytes)
	} else {
		w.WriteBool(false)
	}
	return w.Bytes()
}

func decodeExpiringConfig(data []byte) (ExpiringConfig, error) {
	r := binlayout.NewReader(data)
	cfg := ExpiringConfig{
		CapacityPerLevel: r.ReadU64(),
		TargetFPR:        r.ReadF64(),
		NumLevels:        r.ReadU8(),
		LevelDuration:    time.Duration(r.ReadU64()),
	}
	if r.ReadBool() {
		cfg.Persistence = &PersistenceConfig{
			DBPath:         r.ReadString(),
			ChunkSizeBytes: r.ReadU32(),
		}
	}
	if err := r.Err(); err != nil {
		return ExpiringConfig{}, fmt.Errorf("%w: %v", ErrCodec, err)
	}
	return cfg, nil
}

// LevelMetadata records the activation time, insert count, and last
// snapshot time of a single level in an ExpiringFilter's ring.
type LevelMetadata struct {
	CreatedAtMs      uint64
	InsertCount      uint64
	LastSnapshotAtMs uint64
}

func encodeLevelMetadata(meta []LevelMetadata) []byte {
	w := binlayout.NewWriter()
	w.WriteVarint(uint64(len(meta)))
	for _, m := range meta {
		w.WriteU64(m.CreatedAtMs)
		w.WriteU64(m.InsertCount)
		w.WriteU64(m.LastSnapshotAtMs)
	}
	return w.Bytes()
}

func decodeLevelMetadata(data []byte) ([]LevelMetadata, error) {
	r := binlayout.NewReader(data)
	n := r.ReadVarint()
	meta := make([]LevelMetadata, n)
	for i := range meta {
		meta[i] = LevelMetadata{
			CreatedAtMs:      r.ReadU64(),
			InsertCount:      r.ReadU64(),
			LastSnapshotAtMs: r.ReadU64(),
		}
	}
	if err := r.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCodec, err)
	}
	return meta, nil
}

func nowMs() uint64 {
	return uint64(time.Now().UnixMilli())
}
