package sweeper

import (
	"context"
	"time"

	"reservation-service/internal/service"
	"reservation-service/internal/store"
	"reservation-service/internal/util"

	"go.uber.org/zap"
)

const sweepBatchSize = 100

// Sweeper reclaims stock from abandoned sessions. It is the authoritative
// backstop: the client-side countdown and Abandon calls are best-effort
// optimizations on top of it. An expired reservation may stay held for up
// to one sweep interval past its deadline; that latency bound is the
// contract, not instant reclamation.
type Sweeper struct {
	store    store.Store
	manager  *service.ReservationManager
	interval time.Duration
	logger   *zap.Logger

	stop chan struct{}
	done chan struct{}
}

// New creates a sweeper running every interval
func New(st store.Store, manager *service.ReservationManager, interval time.Duration) *Sweeper {
	return &Sweeper{
		store:    st,
		manager:  manager,
		interval: interval,
		logger:   util.GetLogger(),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start runs the sweep loop until the context is cancelled or Stop is called
func (s *Sweeper) Start(ctx context.Context) {
	s.logger.Info("Starting expiry sweeper", zap.Duration("interval", s.interval))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	defer close(s.done)

	for {
		select {
		case <-ticker.C:
			s.Sweep(ctx)
		case <-ctx.Done():
			s.logger.Info("Sweeper context cancelled, stopping")
			return
		case <-s.stop:
			s.logger.Info("Sweeper stopped")
			return
		}
	}
}

// Stop signals the loop to exit and waits for the in-flight pass
func (s *Sweeper) Stop() {
	close(s.stop)
	<-s.done
}

// Sweep performs one pass: release every expired session that still holds
// ACTIVE reservations. Errors on one session are logged and do not stop
// reclamation for the others. Racing a concurrent sweeper or a
// user-initiated commit is safe; the per-reservation transition guard
// makes the loser a no-op, and the release path rechecks the deadline
// under lock so a session extended after the scan keeps its holds.
func (s *Sweeper) Sweep(ctx context.Context) {
	start := time.Now()
	defer func() {
		util.SweepDuration.Observe(time.Since(start).Seconds())
	}()

	for {
		sessionIDs, err := s.store.ExpiredSessionIDs(ctx, time.Now(), sweepBatchSize)
		if err != nil {
			s.logger.Error("Failed to scan for expired sessions", zap.Error(err))
			return
		}
		if len(sessionIDs) == 0 {
			return
		}

		reclaimed := 0
		for _, sessionID := range sessionIDs {
			if err := s.manager.ReleaseExpiredSession(ctx, sessionID); err != nil {
				s.logger.Error("Failed to release expired session",
					zap.String("session_id", sessionID),
					zap.Error(err))
				continue
			}
			reclaimed++
		}

		util.SweepSessionsReclaimedTotal.Add(float64(reclaimed))
		s.logger.Info("Sweep pass reclaimed expired sessions",
			zap.Int("reclaimed", reclaimed),
			zap.Int("scanned", len(sessionIDs)))

		// A short batch means the backlog is drained; a pass that reclaimed
		// nothing would rescan the same failing sessions forever.
		if len(sessionIDs) < sweepBatchSize || reclaimed == 0 {
			return
		}
	}
}
