package services

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"time"

	apperrors "github.com/SAP-F-2025/copy-workflow-service/internal/errors"
	"github.com/SAP-F-2025/copy-workflow-service/internal/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// LeaseGrant is what the lease owner gets back. It is the only place the
// token ever leaves the service.
type LeaseGrant struct {
	CopyID    string    `json:"copy_id"`
	OwnerID   string    `json:"owner_id"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	Created   bool      `json:"created"`
}

type leaseService struct {
	*workflow
}

func newGrant(lease *models.Lease, created bool) *LeaseGrant {
	return &LeaseGrant{
		CopyID:    lease.CopyID,
		OwnerID:   lease.OwnerID,
		Token:     lease.Token,
		ExpiresAt: lease.ExpiresAt,
		Created:   created,
	}
}

func (s *leaseService) resolveTTL(ttl time.Duration) (time.Duration, error) {
	if ttl == 0 {
		return s.opts.LeaseTTL, nil
	}
	if ttl < 0 || ttl > s.opts.MaxLeaseTTL {
		return 0, validationFailed("ttl", "must be positive and at most "+s.opts.MaxLeaseTTL.String(), ttl.String())
	}
	return ttl, nil
}

func newLeaseToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// Acquire grants ownerID the lease on copyID, refreshing it when the
// caller already holds it. An expired lease of another owner is cleared
// first and recorded as expired_unlock.
func (s *leaseService) Acquire(ctx context.Context, copyID, ownerID string, ttl time.Duration) (*LeaseGrant, error) {
	var grant *LeaseGrant
	err := s.run(ctx, "acquire_lease", ownerID, copyID, func(ctx context.Context) error {
		ttl, err := s.resolveTTL(ttl)
		if err != nil {
			return err
		}
		return s.inCopyTx(ctx, copyID, func(tx *gorm.DB, cp *models.Copy, cs *changeSet) error {
			if _, err := CheckTransition(cp.Status, TransitionLock); err != nil {
				return err
			}

			now := s.now()
			lease, err := s.repo.Lease().GetByCopy(ctx, tx, copyID)
			if err != nil {
				return apperrors.Wrap(apperrors.CodeInternal, err, "failed to load lease")
			}

			if lease != nil && lease.Active(now) {
				if lease.OwnerID != ownerID {
					return apperrors.ErrLockConflict.With("copy_id", copyID)
				}
				lease.ExpiresAt = now.Add(ttl)
				lease.RefreshedAt = now
				if err := s.repo.Lease().Update(ctx, tx, lease); err != nil {
					return apperrors.Wrap(apperrors.CodeInternal, err, "failed to refresh lease")
				}
				if cp.Status != models.CopyStatusLocked {
					if err := ApplyTransition(cp, TransitionLock, now); err != nil {
						return err
					}
					if err := s.saveCopy(ctx, tx, cp); err != nil {
						return err
					}
				}
				grant = newGrant(lease, false)
				return cs.record(copyID, ownerID, models.AuditHeartbeat, map[string]interface{}{
					"lease_id":   lease.ID,
					"via":        "acquire",
					"expires_at": lease.ExpiresAt,
				})
			}

			if err := s.clearExpired(ctx, tx, cp, lease, cs, now); err != nil {
				return err
			}

			token, err := newLeaseToken()
			if err != nil {
				return apperrors.Wrap(apperrors.CodeInternal, err, "failed to generate lease token")
			}
			lease = &models.Lease{
				ID:          uuid.NewString(),
				CopyID:      copyID,
				OwnerID:     ownerID,
				Token:       token,
				ExpiresAt:   now.Add(ttl),
				RefreshedAt: now,
				CreatedAt:   now,
			}
			if err := s.repo.Lease().Create(ctx, tx, lease); err != nil {
				return apperrors.Wrap(apperrors.CodeInternal, err, "failed to create lease")
			}
			if err := ApplyTransition(cp, TransitionLock, now); err != nil {
				return err
			}
			if err := s.saveCopy(ctx, tx, cp); err != nil {
				return err
			}

			grant = newGrant(lease, true)
			return cs.record(copyID, ownerID, models.AuditLock, map[string]interface{}{
				"transition": string(TransitionLock),
				"lease_id":   lease.ID,
				"expires_at": lease.ExpiresAt,
			})
		})
	})
	if err != nil {
		return nil, err
	}
	return grant, nil
}

// clearExpired removes a lease that is no longer active and brings a
// Locked copy back to Ready.
func (s *leaseService) clearExpired(ctx context.Context, tx *gorm.DB, cp *models.Copy, lease *models.Lease, cs *changeSet, now time.Time) error {
	if lease == nil && cp.Status != models.CopyStatusLocked {
		return nil
	}
	if lease != nil {
		if err := s.repo.Lease().DeleteByCopy(ctx, tx, cp.ID); err != nil {
			return apperrors.Wrap(apperrors.CodeInternal, err, "failed to delete expired lease")
		}
	}
	if cp.Status != models.CopyStatusLocked {
		return nil
	}
	if err := ApplyTransition(cp, TransitionUnlock, now); err != nil {
		return err
	}
	if err := s.saveCopy(ctx, tx, cp); err != nil {
		return err
	}

	metadata := map[string]interface{}{"transition": string(TransitionUnlock)}
	if lease != nil {
		metadata["lease_id"] = lease.ID
		metadata["previous_owner"] = lease.OwnerID
		metadata["expired_at"] = lease.ExpiresAt
	}
	return cs.record(cp.ID, models.SystemActor, models.AuditExpiredUnlock, metadata)
}

// Heartbeat extends the caller's active lease.
func (s *leaseService) Heartbeat(ctx context.Context, copyID, ownerID, token string, ttl time.Duration) (*LeaseGrant, error) {
	var grant *LeaseGrant
	err := s.run(ctx, "heartbeat_lease", ownerID, copyID, func(ctx context.Context) error {
		ttl, err := s.resolveTTL(ttl)
		if err != nil {
			return err
		}
		return s.inCopyTx(ctx, copyID, func(tx *gorm.DB, cp *models.Copy, cs *changeSet) error {
			if cp.IsGraded() {
				return apperrors.ErrLeaseExpired.With("copy_id", copyID)
			}
			lease, err := s.requireLease(ctx, tx, cp, ownerID, token)
			if err != nil {
				return err
			}

			now := s.now()
			lease.ExpiresAt = now.Add(ttl)
			lease.RefreshedAt = now
			if err := s.repo.Lease().Update(ctx, tx, lease); err != nil {
				return apperrors.Wrap(apperrors.CodeInternal, err, "failed to extend lease")
			}

			grant = newGrant(lease, false)
			return cs.record(copyID, ownerID, models.AuditHeartbeat, map[string]interface{}{
				"lease_id":   lease.ID,
				"expires_at": lease.ExpiresAt,
			})
		})
	})
	if err != nil {
		return nil, err
	}
	return grant, nil
}

// Release drops the caller's lease and unlocks the copy. Releasing a
// lease that is already gone succeeds without a second event; a token
// that does not match the current lease is rejected.
func (s *leaseService) Release(ctx context.Context, copyID, ownerID, token string) error {
	return s.run(ctx, "release_lease", ownerID, copyID, func(ctx context.Context) error {
		return s.inCopyTx(ctx, copyID, func(tx *gorm.DB, cp *models.Copy, cs *changeSet) error {
			lease, err := s.repo.Lease().GetByCopy(ctx, tx, copyID)
			if err != nil {
				return apperrors.Wrap(apperrors.CodeInternal, err, "failed to load lease")
			}
			if lease == nil {
				return nil
			}
			if lease.OwnerID != ownerID {
				return apperrors.ErrOwnerMismatch.With("copy_id", copyID)
			}
			if !tokenMatches(lease.Token, token) {
				return apperrors.ErrLeaseExpired.With("copy_id", copyID)
			}

			if err := s.repo.Lease().DeleteByCopy(ctx, tx, copyID); err != nil {
				return apperrors.Wrap(apperrors.CodeInternal, err, "failed to delete lease")
			}
			if cp.Status == models.CopyStatusLocked {
				if err := ApplyTransition(cp, TransitionUnlock, s.now()); err != nil {
					return err
				}
				if err := s.saveCopy(ctx, tx, cp); err != nil {
					return err
				}
			}
			return cs.record(copyID, ownerID, models.AuditUnlock, map[string]interface{}{
				"transition": string(TransitionUnlock),
				"lease_id":   lease.ID,
			})
		})
	})
}

// ForceExpireStale deletes every lease past its deadline and unlocks the
// copies they held. Each copy is handled in its own transaction.
func (s *leaseService) ForceExpireStale(ctx context.Context) (int, error) {
	expired := 0
	err := s.run(ctx, "expire_stale_leases", models.SystemActor, "", func(ctx context.Context) error {
		for {
			stale, err := s.repo.Lease().ListExpired(ctx, nil, s.now(), s.opts.SweepBatchSize)
			if err != nil {
				return apperrors.Wrap(apperrors.CodeInternal, err, "failed to list expired leases")
			}
			if len(stale) == 0 {
				return nil
			}

			progressed := 0
			for _, candidate := range stale {
				err := s.inCopyTx(ctx, candidate.CopyID, func(tx *gorm.DB, cp *models.Copy, cs *changeSet) error {
					lease, err := s.repo.Lease().GetByCopy(ctx, tx, cp.ID)
					if err != nil {
						return apperrors.Wrap(apperrors.CodeInternal, err, "failed to load lease")
					}
					now := s.now()
					if lease == nil || lease.Active(now) {
						return nil
					}
					progressed++
					if cp.Status == models.CopyStatusLocked {
						expired++
					}
					return s.clearExpired(ctx, tx, cp, lease, cs, now)
				})
				if IsNotFound(err) {
					// Orphaned by a deleted copy.
					if delErr := s.repo.Lease().DeleteByCopy(ctx, nil, candidate.CopyID); delErr != nil {
						return apperrors.Wrap(apperrors.CodeInternal, delErr, "failed to delete orphaned lease")
					}
					progressed++
					continue
				}
				if err != nil {
					return err
				}
			}
			if progressed == 0 || len(stale) < s.opts.SweepBatchSize {
				return nil
			}
		}
	})
	return expired, err
}
