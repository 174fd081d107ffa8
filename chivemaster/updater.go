package chivemaster

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lmittmann/tint"
)

// Updater runs the background reconciliation loops: verification checks,
// leaderboard publishing, matchmaking, and the role sweep. All loops are
// supervised, so a panic in one pass is logged and the loop restarted
// rather than taking the bot down.
type Updater struct {
	db      DBI
	discord *Discord
	profile ProfileClient
	config  *UpdaterConfig
	guildID string
	logger  *slog.Logger
}

func newUpdater(
	db DBI,
	discord *Discord,
	profile ProfileClient,
	config *UpdaterConfig,
	guildID string,
	logger *slog.Logger,
) *Updater {
	if logger == nil {
		logger = slog.Default()
	}
	return &Updater{
		db:      db,
		discord: discord,
		profile: profile,
		config:  config,
		guildID: guildID,
		logger:  logger.With(loggerNameKey, "updater"),
	}
}

// Run starts the reconciliation loops and blocks until ctx is canceled.
func (u *Updater) Run(ctx context.Context) {
	var wg sync.WaitGroup

	wg.Add(2)
	go func() {
		defer wg.Done()
		u.runSupervised(ctx, "interval", u.runIntervalLoop)
	}()
	go func() {
		defer wg.Done()
		u.runSupervised(ctx, "role_sweep", u.runRoleSweepLoop)
	}()

	wg.Wait()
}

// runSupervised executes fn, restarting it if it panics or returns while
// the context is still live.
func (u *Updater) runSupervised(
	ctx context.Context,
	name string,
	fn func(context.Context),
) {
	logger := u.logger.With("loop", name)
	for {
		if ctx.Err() != nil {
			return
		}
		func() {
			defer func() {
				if r := recover(); r != nil {
					logger.Error("loop panicked", "panic", r)
					u.discord.alertOperator(
						fmt.Sprintf("Updater loop %q panicked: %v", name, r),
					)
				}
			}()
			fn(ctx)
		}()
		if ctx.Err() != nil {
			return
		}
		logger.Warn("loop exited, restarting")
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Second):
		}
	}
}

// updateStep is one named pass of the interval loop.
type updateStep struct {
	name string
	fn   func(context.Context) error
}

// runIntervalLoop runs the verification, leaderboard, and matchmaking
// passes on a fixed cadence, reporting each step's outcome to the operator
// channel.
func (u *Updater) runIntervalLoop(ctx context.Context) {
	steps := []updateStep{
		{"verifications", u.checkVerifications},
		{"leaderboard", u.updateLeaderboard},
		{"matches", u.matchCandidates},
	}

	ticker := time.NewTicker(u.config.UpdateInterval)
	defer ticker.Stop()

	for {
		for _, step := range steps {
			if ctx.Err() != nil {
				return
			}
			u.runStep(ctx, step)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (u *Updater) runStep(ctx context.Context, step updateStep) {
	started := time.Now()
	err := step.fn(ctx)
	elapsed := time.Since(started)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		u.logger.Error(
			"update step failed",
			tint.Err(err),
			"step", step.name,
			"elapsed", elapsed,
		)
		u.discord.alertOperator(
			fmt.Sprintf("Error updating %s: %s", step.name, err),
		)
		return
	}
	u.logger.Info("update step finished", "step", step.name, "elapsed", elapsed)
	u.discord.logOperator(
		fmt.Sprintf(
			"Updated %s in %d seconds",
			step.name,
			int(elapsed.Round(time.Second).Seconds()),
		),
	)
}

// runRoleSweepLoop continuously reconciles member roles. The per-user delay
// inside the sweep provides the pacing; a short pause between full sweeps
// keeps an empty guild from busy-looping.
func (u *Updater) runRoleSweepLoop(ctx context.Context) {
	for {
		if err := u.sweepRoles(ctx); err != nil && ctx.Err() == nil {
			u.logger.Error("role sweep failed", tint.Err(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(u.config.RoleSweepDelay):
		}
	}
}
