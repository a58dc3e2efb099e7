package bloomvault

import (
	"log"
	"sync"
	"time"
)

// defaultSnapshotInterval bounds how often the rotator will take an
// incremental snapshot of a level that isn't yet due for rotation.
const defaultSnapshotInterval = time.Second

// Rotator periodically drives an ExpiringFilter's rotation and
// incremental snapshotting. On each tick it checks whether the current
// level has aged past LevelDuration — if so it rotates; otherwise, if
// there are dirty chunks and enough time has passed since the last
// snapshot, it takes an incremental snapshot. Recoverable errors from
// either operation are logged and retried on the next tick; Rotator never
// panics or exits on them.
type Rotator struct {
	filter           *ExpiringFilter
	interval         time.Duration
	snapshotInterval time.Duration
	logger           *log.Logger

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// RotatorOption configures a Rotator at construction.
type RotatorOption func(*Rotator)

// WithRotatorInterval overrides the tick interval. The default is
// min(LevelDuration/4, 1s).
func WithRotatorInterval(d time.Duration) RotatorOption {
	return func(r *Rotator) { r.interval = d }
}

// WithSnapshotInterval overrides the minimum spacing between incremental
// snapshots. The default is one second.
func WithSnapshotInterval(d time.Duration) RotatorOption {
	return func(r *Rotator) { r.snapshotInterval = d }
}

// WithRotatorLogger attaches a logger for the rotator's own lifecycle and
// recoverable-error messages. The default is nil (silent).
func WithRotatorLogger(l *log.Logger) RotatorOption {
	return func(r *Rotator) { r.logger = l }
}

// NewRotator builds a Rotator for filter. Start must be called to begin
// ticking; it is not started automatically.
func NewRotator(filter *ExpiringFilter, opts ...RotatorOption) *Rotator {
	interval := filter.cfg.LevelDuration / 4
	if interval <= 0 || interval > time.Second {
		interval = time.Second
	}
	r := &Rotator{
		filter:           filter,
		interval:         interval,
		snapshotInterval: defaultSnapshotInterval,
	}
	for _, opt := range opts {
		opt(r)
	}
	filter.rotator = r
	return r
}

// Start begins the periodic tick loop in a background goroutine.
func (r *Rotator) Start() {
	r.stop = make(chan struct{})
	r.done = make(chan struct{})
	go r.run()
}

func (r *Rotator) run() {
	defer close(r.done)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-r.stop:
			r.tick() // one final pass, best-effort
			return
		case <-ticker.C:
			r.tick()
		}
	}
}

func (r *Rotator) tick() {
	meta := r.filter.Metadata()
	cur := r.filter.CurrentLevel()
	age := time.Duration(nowMs()-meta[cur].CreatedAtMs) * time.Millisecond

	if age >= r.filter.cfg.LevelDuration {
		if err := r.filter.Rotate(); err != nil {
			r.logf("rotation failed, will retry next tick: %v", err)
		}
		return
	}

	if !r.filter.hasDirty() {
		return
	}
	sinceSnapshot := time.Duration(nowMs()-meta[cur].LastSnapshotAtMs) * time.Millisecond
	if sinceSnapshot >= r.snapshotInterval {
		if err := r.filter.Snapshot(); err != nil {
			r.logf("incremental snapshot failed, will retry next tick: %v", err)
		}
	}
}

// Stop signals the rotator to stop, waits for any in-flight tick to
// finish (including a final best-effort incremental snapshot), and
// returns once the background goroutine has exited. Stop is idempotent
// and safe to call even if Start was never called.
func (r *Rotator) Stop() {
	if r.stop == nil {
		return
	}
	r.stopOnce.Do(func() {
		close(r.stop)
		<-r.done
	})
}

func (r *Rotator) logf(format string, args ...any) {
	if r.logger != nil {
		r.logger.Printf(format, args...)
	}
}
