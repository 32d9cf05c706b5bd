package daemon

import (
	"context"
	"errors"
	"fmt"

	"snapkeep/internal/retention"

	"github.com/sourcegraph/conc/pool"
)

const sweepConcurrency = 4

// runSweeper enforces retention over every registered camera on the
// configured interval. Upload-time enforcement already keeps namespaces in
// budget; the sweep settles overshoot left by concurrent uploads.
func (d *Daemon) runSweeper(ctx context.Context) {
	interval := d.cfg.Retention.SweepInterval.Duration
	if interval <= 0 {
		d.log.Info().Msg("retention sweep disabled")
		return
	}

	for {
		d.setNextSweepAt(d.now().Add(interval))
		select {
		case <-ctx.Done():
			return
		case <-d.timerAfter(interval):
			results, err := d.sweep(ctx, false)
			d.setLastSweepAt(d.now())
			if err != nil {
				d.setLastError(fmt.Sprintf("retention sweep: %v", err))
				d.log.Warn().Err(err).Int("cameras", len(results)).Msg("retention sweep incomplete")
				continue
			}
			d.log.Debug().Int("cameras", len(results)).Msg("retention sweep finished")
		}
	}
}

type sweepResult struct {
	retention.Result
	RunErr error
}

// sweep runs one pass per registered camera. Results keep registry order.
func (d *Daemon) sweep(ctx context.Context, dryRun bool) ([]sweepResult, error) {
	if err := d.storeReady(ctx); err != nil {
		return nil, err
	}
	cams, err := d.registry.AllCameras(ctx)
	if err != nil {
		return nil, err
	}

	results := make([]sweepResult, len(cams))
	p := pool.New().WithMaxGoroutines(sweepConcurrency)
	for i, cam := range cams {
		p.Go(func() {
			results[i].Result, results[i].RunErr = d.enforce(ctx, cam.ID, dryRun)
		})
	}
	p.Wait()

	errs := make([]error, 0, len(results))
	for _, res := range results {
		d.recordRetention(res.Result)
		errs = append(errs, res.RunErr)
	}
	return results, errors.Join(errs...)
}

func (d *Daemon) enforce(ctx context.Context, cameraID string, dryRun bool) (retention.Result, error) {
	if dryRun {
		return d.retention.Plan(ctx, cameraID, retention.Admitted{})
	}
	return d.retention.Enforce(ctx, cameraID, retention.Admitted{})
}
