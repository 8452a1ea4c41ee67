package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

const jobTimeout = 10 * time.Minute

type jobs struct {
	eng    *Engine
	logger *slog.Logger
}

// startJobs schedules the periodic chain verification and the overdue escalation sweep. An empty schedule
// disables that job. The returned scheduler is already running.
func startJobs(eng *Engine, logger *slog.Logger, verifySchedule, slaSchedule string) (*cron.Cron, error) {
	j := &jobs{eng: eng, logger: logger.With("component", "jobs")}
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger), cron.Recover(cron.DiscardLogger)))

	if verifySchedule != "" {
		if _, err := c.AddFunc(verifySchedule, j.verifyChain); err != nil {
			return nil, fmt.Errorf("invalid verify schedule %q: %w", verifySchedule, err)
		}
	}
	if slaSchedule != "" {
		if _, err := c.AddFunc(slaSchedule, j.sweepOverdue); err != nil {
			return nil, fmt.Errorf("invalid SLA schedule %q: %w", slaSchedule, err)
		}
	}
	c.Start()
	logger.Info("scheduled jobs started", "verify", verifySchedule, "sla", slaSchedule)
	return c, nil
}

func (j *jobs) verifyChain() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	start := time.Now()
	res, err := j.eng.Ledger.VerifyChain(ctx)
	if err != nil {
		jobRuns.WithLabelValues("verify", "error").Inc()
		j.logger.Error("audit chain verification failed to run", "err", err)
		return
	}
	auditChainBlocks.Set(float64(res.BlocksChecked))
	if !res.Valid {
		auditChainValid.Set(0)
		jobRuns.WithLabelValues("verify", "violation").Inc()
		j.logger.Error("audit chain integrity violation", "violation", res.Violation, "blocks", res.BlocksChecked)
		return
	}
	auditChainValid.Set(1)
	jobRuns.WithLabelValues("verify", "ok").Inc()
	j.logger.Info("audit chain verified", "blocks", res.BlocksChecked, "duration", time.Since(start))
}

func (j *jobs) sweepOverdue() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	overdue, err := j.eng.Pipeline.SweepOverdue(ctx, time.Now())
	if err != nil {
		jobRuns.WithLabelValues("sla", "error").Inc()
		j.logger.Error("overdue escalation sweep failed", "err", err)
		return
	}
	jobRuns.WithLabelValues("sla", "ok").Inc()
	j.logger.Debug("overdue escalation sweep complete", "overdue", len(overdue))
}
