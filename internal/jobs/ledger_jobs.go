package jobs

import (
	"context"
	"time"

	"loaner-backend/internal/domain"
	"loaner-backend/internal/logger"
)

// ReconcileFeeBalances recomputes every fee balance from its active
// payments and corrects any that drifted.
func (jr *JobRunner) ReconcileFeeBalances() {
	jr.runWithRecovery("ReconcileFeeBalances", func() {
		ctx := context.Background()

		corrected, err := jr.services.Ledger.ReconcileBalances(ctx)
		if err != nil {
			logger.Error("Failed to reconcile fee balances", "error", err)
			return
		}
		if corrected > 0 {
			logger.Warn("Corrected drifted fee balances", "count", corrected)
			return
		}
		logger.Info("Fee balances consistent")
	})
}

// ReportStaleSessions logs hand-off sessions left failed or unfinished past
// the configured age so staff can retry or abandon them.
func (jr *JobRunner) ReportStaleSessions() {
	jr.runWithRecovery("ReportStaleSessions", func() {
		ctx := context.Background()

		cutoff := jr.now().Add(-time.Duration(jr.config.Sessions.StaleAfterHours) * time.Hour)
		sessions, err := jr.services.Handoff.ListStaleSessions(ctx, cutoff)
		if err != nil {
			logger.Error("Failed to list stale sessions", "error", err)
			return
		}

		for _, sess := range sessions {
			logger.Warn("Stale hand-off session",
				"session_id", sess.ID,
				"kind", sess.Kind,
				"person_id", sess.PersonID,
				"device_id", sess.DeviceID,
				"status", sess.OverallStatus,
				"blocked_step", blockedStep(&sess),
				"updated_on", sess.UpdatedOn)
		}
		logger.Info("Stale session report complete", "count", len(sessions), "cutoff", cutoff)
	})
}

// blockedStep names the first step that has not succeeded.
func blockedStep(sess *domain.Session) string {
	for _, st := range sess.Steps {
		if st.Status != domain.StepStatusSucceeded {
			return string(st.Name)
		}
	}
	return ""
}
