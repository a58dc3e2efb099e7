// Package bloomvault provides two probabilistic set-membership data
// structures with optional disk persistence: a standard Bloom filter and
// an expiring (time-decaying) Bloom filter built from a ring of rotating
// sub-filters.
//
// A Bloom filter is a space-efficient probabilistic data structure that
// tests whether an element is a member of a set. False positives are
// possible; false negatives are not — if a filter says an element is
// absent, it definitely is.
//
// # Implementations
//
// [StandardFilter] is a fixed-capacity filter with single and bulk insert
// and membership operations, optionally backed by a [store.Store] that
// durably checkpoints only the portions of the bit vector that changed
// since the last snapshot.
//
// [ExpiringFilter] layers a sliding time window on top of the same bit
// vector and persistence mechanics: it holds exactly NumLevels bit vectors
// ("levels"), writes only go to the current level, and a background
// [Rotator] (or an explicit [ExpiringFilter.Rotate] call) periodically
// freezes the current level, advances to the next one, and evicts the
// level that window is about to reuse — so membership older than
// NumLevels*LevelDuration is forgotten automatically.
//
// # Choosing parameters
//
//	f, err := bloomvault.Create(bloomvault.NewFilterConfig(1_000_000, 0.01))
//
// creates an in-memory filter sized for one million items at a 1% target
// false positive rate. Passing [WithPersistence] additionally durably
// checkpoints the filter to a [store.Store].
//
// # Hashing is a format invariant
//
// The hash kernel (Murmur3 x64-128, low 64 bits, combined with FNV-1a-64
// via double hashing) is part of the on-disk contract: existing persisted
// chunks encode bit positions under these specific hash functions.
// Replacing them would be a format break, not a performance tweak.
//
// # Concurrency
//
// All public operations on both filter types take a shared receiver —
// callers do not need external synchronization. Each bit vector, the
// dirty-chunk tracker, and the level metadata vector are independently
// latched; insert and contains never block on storage I/O, only snapshot
// and rotate do.
//
// # What this package does not do
//
// bloomvault does not implement counting Bloom filters, deletion of
// individual items from [StandardFilter], exact membership, distributed
// replication, or cross-process writer coordination — a single writer per
// persisted filter is assumed. Persisted filters always store their data
// through [store.FileStore], an intentionally minimal file-per-key engine;
// no constructor accepts a different [store.Store] implementation.
package bloomvault
