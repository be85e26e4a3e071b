package service

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"pool-api/internal/config"
)

// Scheduler runs the background sweeps: the nightly ledger reconciliation
// across all users and the periodic gateway balance check.
type Scheduler struct {
	cron  *cron.Cron
	admin AdminService
	cfg   config.JobsConfig
}

func NewScheduler(admin AdminService, cfg config.JobsConfig) *Scheduler {
	return &Scheduler{
		cron:  cron.New(),
		admin: admin,
		cfg:   cfg,
	}
}

// Start registers the jobs and launches the cron loop. Jobs log their
// outcome; failures wait for the next tick rather than retrying.
func (s *Scheduler) Start() error {
	if !s.cfg.Enabled {
		logrus.Info("Background jobs disabled")
		return nil
	}

	if _, err := s.cron.AddFunc(s.cfg.LedgerSweepSpec, s.runLedgerSweep); err != nil {
		return err
	}
	if _, err := s.cron.AddFunc(s.cfg.GatewayReconcileSpec, s.runGatewayReconcile); err != nil {
		return err
	}

	s.cron.Start()
	logrus.WithFields(logrus.Fields{
		"ledger_sweep":      s.cfg.LedgerSweepSpec,
		"gateway_reconcile": s.cfg.GatewayReconcileSpec,
	}).Info("Background jobs scheduled")
	return nil
}

// Stop halts scheduling and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

func (s *Scheduler) runLedgerSweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	result, err := s.admin.ReconcileAllUsers(ctx, s.cfg.SweepBatchSize)
	if err != nil {
		logrus.WithError(err).Error("Ledger sweep failed")
		return
	}
	logrus.WithFields(logrus.Fields{
		"total_users":   result.TotalUsers,
		"reconciled":    result.ReconciledUsers,
		"discrepancies": result.DiscrepanciesFound,
		"duration":      result.FinishedAt.Sub(result.StartedAt).String(),
	}).Info("Ledger sweep finished")

	if _, err := s.admin.VerifyPoolIntegrity(ctx); err != nil {
		logrus.WithError(err).Error("Pool integrity check failed")
	}
}

func (s *Scheduler) runGatewayReconcile() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	result, err := s.admin.ReconcileWithGateway(ctx)
	if err != nil {
		logrus.WithError(err).Error("Gateway reconciliation failed")
		return
	}
	logrus.WithFields(logrus.Fields{
		"in_sync":    result.InSync,
		"difference": result.Difference.String(),
	}).Info("Gateway reconciliation finished")
}
