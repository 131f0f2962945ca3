package mirror

import (
	"context"
	"log/slog"
	"time"

	"github.com/drewfead/calendupe/internal/blob"
)

// lockBlob names the blob whose existence serializes reconciliation runs
// across every instance of the service.
const lockBlob = "calendupe_lock"

// SyncerConfig wires a Syncer to its collaborators.
type SyncerConfig struct {
	// Store holds the lock and sync-token blobs.
	Store blob.Store

	// LockBucket is the bucket the lock blob lives in.
	LockBucket string

	// DataBucket is the bucket the sync token lives in.
	DataBucket string

	// Reconciler performs the actual mirroring.
	Reconciler *Reconciler

	// MinEndTime bounds full listings from below: events ending at or
	// before it are never mirrored. Incremental listings ignore it.
	MinEndTime time.Time

	// LockOptions tune lock acquisition, mainly for tests.
	LockOptions blob.LockOptions

	Logger *slog.Logger
}

// Syncer runs lock-guarded reconciliation passes. Exactly one pass runs at
// a time across all instances sharing the lock bucket.
type Syncer struct {
	lock   *blob.Lock
	tokens *TokenStore
	rec    *Reconciler
	minEnd time.Time
	log    *slog.Logger
}

// NewSyncer assembles a Syncer from its configuration.
func NewSyncer(cfg SyncerConfig) *Syncer {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	lockOpts := cfg.LockOptions
	if lockOpts.Logger == nil {
		lockOpts.Logger = logger
	}
	return &Syncer{
		lock:   blob.NewLockWithOptions(cfg.Store, cfg.LockBucket, lockBlob, lockOpts),
		tokens: NewTokenStore(cfg.Store, cfg.DataBucket),
		rec:    cfg.Reconciler,
		minEnd: cfg.MinEndTime,
		log:    logger,
	}
}

// Run performs one reconciliation pass under the cross-instance lock:
// load the stored sync token, mirror what changed, store the new token.
// The lock is released on every exit path; a release failure is logged
// rather than returned, since the pass itself already finished.
func (s *Syncer) Run(ctx context.Context) error {
	s.log.Info("acquiring sync lock")
	if err := s.lock.Acquire(ctx); err != nil {
		return err
	}
	s.log.Info("acquired sync lock")
	defer func() {
		// Release even when ctx was cancelled mid-pass; an orphaned
		// lock blob blocks every future run.
		if err := s.lock.Release(context.WithoutCancel(ctx), false); err != nil {
			s.log.Error("unable to release sync lock", "error", err)
			return
		}
		s.log.Info("released sync lock")
	}()

	token, err := s.tokens.Load(ctx)
	if err != nil {
		return err
	}

	next, err := s.rec.DuplicateEvents(ctx, token, s.minEnd)
	if err != nil {
		return err
	}

	return s.tokens.Save(ctx, next)
}
