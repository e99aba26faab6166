package coordinator

import (
	"time"

	"github.com/docuflow/ingest-backend/pkg/repository"
)

const (
	defaultLockTTL        = 300 * time.Second
	defaultStateRetention = 7 * 24 * time.Hour
)

// Coordinator is the single source of truth for one document's lock,
// progress and hash-dedup status. All operations on the same document id
// serialize behind a per-document mutex, so each operation observes the
// effects of every previous one. There is deliberately no global lock:
// unrelated documents never contend, except on the hash index where
// first-writer-wins resolves races without blocking.
//
// Deployments that run several coordinator instances must shard document
// ids across instances so that a single instance owns each id.
type Coordinator struct {
	repo     *repository.Repository
	notifier Notifier

	lockTTL        time.Duration
	stateRetention time.Duration

	keys *keyedMutex
	now  func() time.Time
}

// Options tunes a Coordinator. Zero values fall back to defaults.
type Options struct {
	// DefaultLockTTL applies when AcquireLock is called with a
	// non-positive TTL.
	DefaultLockTTL time.Duration
	// StateRetention is the age beyond which cleanup reaps processing
	// states.
	StateRetention time.Duration
	// Notifier receives state-change notifications. Defaults to a
	// log-emitting notifier.
	Notifier Notifier
}

// New returns a Coordinator over the given stores.
func New(repo *repository.Repository, opts Options) *Coordinator {
	if opts.DefaultLockTTL <= 0 {
		opts.DefaultLockTTL = defaultLockTTL
	}
	if opts.StateRetention <= 0 {
		opts.StateRetention = defaultStateRetention
	}
	if opts.Notifier == nil {
		opts.Notifier = NewLogNotifier()
	}
	return &Coordinator{
		repo:           repo,
		notifier:       opts.Notifier,
		lockTTL:        opts.DefaultLockTTL,
		stateRetention: opts.StateRetention,
		keys:           newKeyedMutex(),
		now:            time.Now,
	}
}
