package services

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"time"

	"github.com/SAP-F-2025/copy-workflow-service/internal/config"
	apperrors "github.com/SAP-F-2025/copy-workflow-service/internal/errors"
	"github.com/SAP-F-2025/copy-workflow-service/internal/models"
	"github.com/SAP-F-2025/copy-workflow-service/internal/repositories"
	"github.com/SAP-F-2025/copy-workflow-service/internal/requestctx"
	"gorm.io/gorm"
)

// Options tunes the workflow engine. Zero fields fall back to defaults.
type Options struct {
	LeaseTTL                 time.Duration
	MaxLeaseTTL              time.Duration
	RequireAnnotationVersion bool
	FinalizeMaxAttempts      int
	FinalizeBackoff          time.Duration
	FinalizeStaleRunning     time.Duration
	FlattenTimeout           time.Duration
	RequestTimeout           time.Duration
	ScoreCacheTTL            time.Duration
	HashSalt                 string
	DraftMaxBytes            int
	AppreciationMaxLength    int
	SweepBatchSize           int
}

func DefaultOptions() Options {
	return Options{
		LeaseTTL:              10 * time.Minute,
		MaxLeaseTTL:           time.Hour,
		FinalizeMaxAttempts:   3,
		FinalizeBackoff:       10 * time.Second,
		FinalizeStaleRunning:  5 * time.Minute,
		FlattenTimeout:        time.Minute,
		RequestTimeout:        30 * time.Second,
		ScoreCacheTTL:         5 * time.Minute,
		DraftMaxBytes:         256 * 1024,
		AppreciationMaxLength: 1000,
		SweepBatchSize:        100,
	}
}

func OptionsFromConfig(cfg *config.Config) Options {
	opts := DefaultOptions()
	opts.LeaseTTL = cfg.Lease.DefaultTTL
	opts.MaxLeaseTTL = cfg.Lease.MaxTTL
	opts.RequireAnnotationVersion = cfg.Annotation.RequireVersion
	opts.FinalizeMaxAttempts = cfg.Finalize.MaxAttempts
	opts.FinalizeBackoff = cfg.Finalize.Backoff
	opts.FinalizeStaleRunning = cfg.Finalize.StaleRunning
	opts.FlattenTimeout = cfg.Finalize.FlattenTimeout
	opts.RequestTimeout = cfg.RequestTimeout
	opts.ScoreCacheTTL = cfg.ScoreCacheTTL
	opts.HashSalt = cfg.AuditHashSalt
	return opts.withDefaults()
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.LeaseTTL <= 0 {
		o.LeaseTTL = d.LeaseTTL
	}
	if o.MaxLeaseTTL <= 0 {
		o.MaxLeaseTTL = d.MaxLeaseTTL
	}
	if o.MaxLeaseTTL < o.LeaseTTL {
		o.MaxLeaseTTL = o.LeaseTTL
	}
	if o.FinalizeMaxAttempts <= 0 {
		o.FinalizeMaxAttempts = d.FinalizeMaxAttempts
	}
	if o.FinalizeBackoff <= 0 {
		o.FinalizeBackoff = d.FinalizeBackoff
	}
	if o.FinalizeStaleRunning <= 0 {
		o.FinalizeStaleRunning = d.FinalizeStaleRunning
	}
	if o.FlattenTimeout <= 0 {
		o.FlattenTimeout = d.FlattenTimeout
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = d.RequestTimeout
	}
	if o.ScoreCacheTTL <= 0 {
		o.ScoreCacheTTL = d.ScoreCacheTTL
	}
	if o.DraftMaxBytes <= 0 {
		o.DraftMaxBytes = d.DraftMaxBytes
	}
	if o.AppreciationMaxLength <= 0 {
		o.AppreciationMaxLength = d.AppreciationMaxLength
	}
	if o.SweepBatchSize <= 0 {
		o.SweepBatchSize = d.SweepBatchSize
	}
	return o
}

// workflow holds what every component shares: the database handle used
// for transactions, repositories, the clock and the audit appender.
type workflow struct {
	db     *gorm.DB
	repo   repositories.Repository
	clock  Clock
	audit  *auditService
	logger *slog.Logger
	ops    *ServiceLogger
	opts   Options
}

func (w *workflow) now() time.Time {
	return w.clock.Now().UTC()
}

// run is the boundary of every public operation: it bounds the context,
// normalises the returned error and logs the outcome.
func (w *workflow) run(ctx context.Context, operation, actorID, resourceID string, fn func(ctx context.Context) error) error {
	return w.runFor(ctx, w.opts.RequestTimeout, operation, actorID, resourceID, fn)
}

func (w *workflow) runFor(ctx context.Context, timeout time.Duration, operation, actorID, resourceID string, fn func(ctx context.Context) error) error {
	ctx, cancel := requestctx.EnsureDeadline(ctx, timeout)
	defer cancel()

	cl := w.ops.WithOperation(ctx, operation, actorID)
	if err := fn(ctx); err != nil {
		werr := apperrors.Normalize(err, requestctx.CorrelationID(ctx))
		cl.LogResult(resourceID, "copy", werr)
		return werr
	}
	cl.LogResult(resourceID, "copy", nil)
	return nil
}

// inTx runs fn in a transaction and publishes the recorded audit events
// once it has committed.
func (w *workflow) inTx(ctx context.Context, fn func(tx *gorm.DB, cs *changeSet) error) error {
	var cs *changeSet
	err := w.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		cs = w.audit.newChangeSet(ctx, tx)
		return fn(tx, cs)
	})
	if err != nil {
		return err
	}
	w.audit.publish(ctx, cs.events)
	return nil
}

// inCopyTx is inTx with the copy row locked for the whole transaction.
// All mutations of one copy are serialised here.
func (w *workflow) inCopyTx(ctx context.Context, copyID string, fn func(tx *gorm.DB, cp *models.Copy, cs *changeSet) error) error {
	return w.inTx(ctx, func(tx *gorm.DB, cs *changeSet) error {
		cp, err := w.repo.Copy().LockByID(ctx, tx, copyID)
		if err != nil {
			return notFoundOr(err, "copy")
		}
		return fn(tx, cp, cs)
	})
}

// requireLease checks that the copy is Locked and that ownerID holds the
// active lease with the given token.
func (w *workflow) requireLease(ctx context.Context, tx *gorm.DB, cp *models.Copy, ownerID, token string) (*models.Lease, error) {
	if cp.Status != models.CopyStatusLocked {
		return nil, apperrors.Newf(apperrors.CodeTransition, "copy is %s, not Locked", cp.Status).
			With("copy_id", cp.ID)
	}

	lease, err := w.repo.Lease().GetByCopy(ctx, tx, cp.ID)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, err, "failed to load lease")
	}
	if lease == nil {
		return nil, apperrors.ErrLeaseExpired.With("copy_id", cp.ID)
	}
	if lease.OwnerID != ownerID {
		return nil, apperrors.ErrOwnerMismatch.With("copy_id", cp.ID)
	}
	if !tokenMatches(lease.Token, token) {
		return nil, apperrors.ErrLeaseExpired.With("copy_id", cp.ID)
	}
	if !lease.Active(w.now()) {
		return nil, apperrors.ErrLeaseExpired.With("copy_id", cp.ID)
	}
	return lease, nil
}

func tokenMatches(stored, presented string) bool {
	if stored == "" || presented == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(stored), []byte(presented)) == 1
}

func (w *workflow) saveCopy(ctx context.Context, tx *gorm.DB, cp *models.Copy) error {
	if err := w.repo.Copy().Update(ctx, tx, cp); err != nil {
		return apperrors.Wrap(apperrors.CodeInternal, err, "failed to update copy")
	}
	return nil
}
