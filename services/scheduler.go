// services/scheduler.go
package services

import (
	"log"
	"time"

	"budget-ledger-service/models"

	"github.com/go-co-op/gocron/v2"
)

// StartMaintenanceScheduler runs the periodic housekeeping jobs: pruning
// expired idempotency keys and logging any wallet whose cached balance has
// drifted from its recomputed value.
func (s *LedgerService) StartMaintenanceScheduler() {
	sched, _ := gocron.NewScheduler()
	sched.Start()

	// Hourly: drop idempotency keys past their TTL.
	_, _ = sched.NewJob(
		gocron.DurationJob(1*time.Hour),
		gocron.NewTask(func() {
			res := s.DB.Where("expires_at < ?", time.Now()).Delete(&models.IdempotencyKey{})
			if res.Error != nil {
				log.Printf("[Scheduler] idempotency prune failed: %v", res.Error)
				return
			}
			if res.RowsAffected > 0 {
				log.Printf("[Scheduler] pruned %d expired idempotency key(s)", res.RowsAffected)
			}
		}),
	)

	// Daily: verify the cached balance invariant. Drift means a bug, not
	// something to silently repair.
	_, _ = sched.NewJob(
		gocron.DurationJob(24*time.Hour),
		gocron.NewTask(func() {
			var wallets []models.Wallet
			if err := s.DB.Find(&wallets).Error; err != nil {
				log.Printf("[Scheduler] balance audit query failed: %v", err)
				return
			}
			for i := range wallets {
				w := &wallets[i]
				derived, err := s.RecomputeBalance(w.UserID, w.ID)
				if err != nil {
					log.Printf("[Scheduler] balance audit failed for wallet %s: %v", w.ID, err)
					continue
				}
				if !derived.Equal(w.CurrentBalance) {
					log.Printf("❌ [Scheduler] wallet %s balance drift: cached=%s derived=%s",
						w.ID, w.CurrentBalance.String(), derived.String())
				}
			}
		}),
	)
}
