package blob

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// defaultAcquireBudget bounds how long Acquire keeps retrying a contended
// lock before giving up.
const defaultAcquireBudget = 5 * time.Minute

// ErrLockContention is returned when the lock stayed held by someone else
// for the whole acquisition budget.
var ErrLockContention = errors.New("lock held by another process")

// ErrLockNotFound is returned by Release when the lock blob is already
// gone.
var ErrLockNotFound = errors.New("lock not held")

// Lock is a cross-process mutex held as a single blob in a shared bucket:
// the blob existing means held, absent means free. The blob carries no
// owner identity and no expiry, so a lock left behind by a crashed holder
// blocks every later acquisition until the blob is deleted by hand.
type Lock struct {
	store  Store
	bucket string
	name   string
	budget time.Duration
	seed   time.Duration
	log    *slog.Logger
}

// LockOptions tune a Lock beyond its defaults.
type LockOptions struct {
	// AcquireBudget bounds the total time Acquire spends retrying a
	// contended lock. Zero means the five-minute default.
	AcquireBudget time.Duration

	// InitialInterval seeds the exponential backoff between attempts.
	// Zero means the backoff library's default.
	InitialInterval time.Duration

	// Logger receives acquisition progress. Nil means slog.Default.
	Logger *slog.Logger
}

// NewLock returns a lock backed by the given blob with default options.
func NewLock(store Store, bucket, name string) *Lock {
	return NewLockWithOptions(store, bucket, name, LockOptions{})
}

// NewLockWithOptions returns a lock backed by the given blob.
func NewLockWithOptions(store Store, bucket, name string, opts LockOptions) *Lock {
	if opts.AcquireBudget <= 0 {
		opts.AcquireBudget = defaultAcquireBudget
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Lock{
		store:  store,
		bucket: bucket,
		name:   name,
		budget: opts.AcquireBudget,
		seed:   opts.InitialInterval,
		log:    opts.Logger,
	}
}

// Acquire takes the lock, retrying with exponential backoff while it is
// held elsewhere. It returns ErrLockContention once the acquisition budget
// is spent, and the context error if ctx ends first.
func (l *Lock) Acquire(ctx context.Context) error {
	attempt := func() error {
		err := l.store.Create(ctx, l.bucket, l.name, nil)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrPreconditionFailed) {
			l.log.Debug("lock busy, backing off", "bucket", l.bucket, "name", l.name)
			return err
		}
		return backoff.Permanent(err)
	}

	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = l.budget
	if l.seed > 0 {
		policy.InitialInterval = l.seed
	}

	if err := backoff.Retry(attempt, backoff.WithContext(policy, ctx)); err != nil {
		if errors.Is(err, ErrPreconditionFailed) {
			return fmt.Errorf("%w: %s/%s", ErrLockContention, l.bucket, l.name)
		}
		return fmt.Errorf("unable to acquire lock %s/%s: %w", l.bucket, l.name, err)
	}
	return nil
}

// Release frees the lock. A missing lock blob returns ErrLockNotFound
// unless allowMissing is set, in which case it is treated as released.
func (l *Lock) Release(ctx context.Context, allowMissing bool) error {
	err := l.store.Delete(ctx, l.bucket, l.name)
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) {
		if allowMissing {
			return nil
		}
		return fmt.Errorf("%w: %s/%s", ErrLockNotFound, l.bucket, l.name)
	}
	return fmt.Errorf("unable to release lock %s/%s: %w", l.bucket, l.name, err)
}
