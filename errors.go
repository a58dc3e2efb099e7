package bloomvault

import (
	"errors"
	"fmt"
)

// Sentinel errors for the taxonomy in the persistence engine's error
// model. Wrap these with fmt.Errorf("%w: ...") for context; callers can
// still recover the kind with errors.Is.
var (
	// ErrInvalidParams is returned when filter construction parameters
	// are out of range: target FPR not in (0,1), capacity < 1, a derived
	// m < k, num_levels == 0 or > 255, or chunk_size_bytes == 0.
	ErrInvalidParams = errors.New("bloomvault: invalid params")

	// ErrHash signals a hash kernel invariant violation. This should be
	// unreachable once construction has validated m and k; its presence
	// indicates a bug rather than bad input.
	ErrHash = errors.New("bloomvault: hash kernel invariant violated")

	// ErrStorage wraps backend I/O failures: open, put, get, delete, or
	// iterate. See StorageError for whether a given failure is
	// recoverable.
	ErrStorage = errors.New("bloomvault: storage error")

	// ErrCodec is returned when deserializing a persisted config or
	// metadata blob fails. Load aborts on this error.
	ErrCodec = errors.New("bloomvault: codec error")

	// ErrCorruptChunk is returned by chunk application when the chunk id
	// is out of range or the supplied bytes don't match the expected
	// length for that chunk.
	ErrCorruptChunk = errors.New("bloomvault: corrupt chunk")

	// ErrSnapshotPartial is returned when one or more chunks failed to
	// persist during a snapshot. See SnapshotError for the failing chunk
	// ids, which remain marked dirty for a future retry.
	ErrSnapshotPartial = errors.New("bloomvault: snapshot partial")

	// ErrRotationAborted is returned when a rotation could not complete
	// past the evict step. The filter remains Active; see RotationError
	// for how far the rotation progressed.
	ErrRotationAborted = errors.New("bloomvault: rotation aborted")

	// ErrClosed is returned by any operation invoked on a filter after
	// Close has run.
	ErrClosed = errors.New("bloomvault: filter is closed")
)

// StorageError wraps a backend failure with a flag indicating whether the
// caller may reasonably retry the operation.
type StorageError struct {
	Op          string
	Recoverable bool
	Err         error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("bloomvault: storage error during %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return errors.Join(ErrStorage, e.Err) }

func newStorageError(op string, recoverable bool, err error) *StorageError {
	return &StorageError{Op: op, Recoverable: recoverable, Err: err}
}

// SnapshotError reports that a snapshot persisted some but not all dirty
// chunks. ChunkIDs lists the chunks that failed and remain marked dirty.
type SnapshotError struct {
	ChunkIDs []uint64
	Err      error
}

func (e *SnapshotError) Error() string {
	return fmt.Sprintf("bloomvault: snapshot partial, %d chunk(s) failed: %v", len(e.ChunkIDs), e.Err)
}

func (e *SnapshotError) Unwrap() error { return errors.Join(ErrSnapshotPartial, e.Err) }

// RotationStep identifies how far a rotation progressed before failing,
// per the freeze/advance/clear/delete/reset/persist/publish protocol.
type RotationStep int

const (
	RotationStepFreeze RotationStep = iota
	RotationStepClearMemory
	RotationStepDeleteDisk
	RotationStepResetMetadata
	RotationStepPersistMetadata
	RotationStepPublish
)

func (s RotationStep) String() string {
	switch s {
	case RotationStepFreeze:
		return "freeze"
	case RotationStepClearMemory:
		return "clear_memory"
	case RotationStepDeleteDisk:
		return "delete_disk"
	case RotationStepResetMetadata:
		return "reset_metadata"
	case RotationStepPersistMetadata:
		return "persist_metadata"
	case RotationStepPublish:
		return "publish"
	default:
		return "unknown"
	}
}

// RotationError reports that a rotation failed at Step, with Err the
// underlying cause. Per the protocol, a failure strictly before
// RotationStepPersistMetadata leaves the old current level intact and
// Active; recovery from a crash in this window is handled by Load, not by
// this error.
type RotationError struct {
	Step RotationStep
	Err  error
}

func (e *RotationError) Error() string {
	return fmt.Sprintf("bloomvault: rotation aborted at step %s: %v", e.Step, e.Err)
}

func (e *RotationError) Unwrap() error { return errors.Join(ErrRotationAborted, e.Err) }
