package app

import (
	"context"
	"time"

	"hfauth/cmd/internal/auth/facade"
)

// sweepFunc runs one sweep pass. facade.Service.Sweep satisfies it.
type sweepFunc func(ctx context.Context) (facade.SweepResult, error)

// runSweeper calls sweep every interval until ctx is done. A failed pass is
// logged and retried on the next tick.
func runSweeper(ctx context.Context, log Logger, interval time.Duration, sweep sweepFunc) error {
	if interval <= 0 {
		log.Info("sweeper.disabled")
		return nil
	}

	t := time.NewTicker(interval)
	defer t.Stop()

	log.Info("sweeper.start", "interval", interval.String())
	for {
		select {
		case <-ctx.Done():
			log.Info("sweeper.stop")
			return nil
		case <-t.C:
			sweepOnce(ctx, log, sweep)
		}
	}
}

func sweepOnce(ctx context.Context, log Logger, sweep sweepFunc) {
	start := time.Now()
	res, err := sweep(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		log.Error("sweeper.pass.fail", "err", err,
			"tokens_expired", res.ExpiredTokens,
			"sessions_expired", res.ExpiredSessions,
			"tokens_purged", res.PurgedTokens,
		)
		return
	}
	if res == (facade.SweepResult{}) {
		log.Debug("sweeper.pass.idle", "duration_ms", time.Since(start).Milliseconds())
		return
	}
	log.Info("sweeper.pass.done",
		"tokens_expired", res.ExpiredTokens,
		"sessions_expired", res.ExpiredSessions,
		"tokens_purged", res.PurgedTokens,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}
