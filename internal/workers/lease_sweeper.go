package workers

import (
	"context"
	"log/slog"
	"time"

	"github.com/SAP-F-2025/copy-workflow-service/internal/services"
)

// LeaseSweeper unlocks copies whose lease lapsed without anyone touching
// them again. Expiry is also enforced lazily on access; the sweeper only
// keeps Locked copies from lingering.
type LeaseSweeper struct {
	leases   services.LeaseService
	interval time.Duration
	logger   *slog.Logger
}

func NewLeaseSweeper(leases services.LeaseService, interval time.Duration, logger *slog.Logger) *LeaseSweeper {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &LeaseSweeper{
		leases:   leases,
		interval: interval,
		logger:   logger.With("component", "LeaseSweeper"),
	}
}

func (s *LeaseSweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs one pass and returns how many copies were unlocked.
func (s *LeaseSweeper) Sweep(ctx context.Context) int {
	expired, err := s.leases.ForceExpireStale(ctx)
	if err != nil {
		s.logger.Warn("Lease sweep failed", "error", err)
		return expired
	}
	if expired > 0 {
		s.logger.Info("Expired stale leases", "count", expired)
	}
	return expired
}
