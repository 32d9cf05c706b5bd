package daemon

import (
	"context"
	"time"

	"snapkeep/internal/retention"
	"snapkeep/internal/upload"
)

func (d *Daemon) recordUpload(_ context.Context, o upload.Outcome) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.status.Uploads++
	d.status.LastUploadAt = o.StoredAt
	d.recordRetentionLocked(o.Retention)
	if o.RetentionErr != nil {
		d.status.LastError = o.RetentionErr.Error()
	}
}

func (d *Daemon) recordUploadFailure(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.status.UploadFailures++
	d.status.LastError = err.Error()
}

func (d *Daemon) recordRetention(results ...retention.Result) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, res := range results {
		d.recordRetentionLocked(res)
	}
}

func (d *Daemon) recordRetentionLocked(res retention.Result) {
	if res.DryRun {
		return
	}
	d.status.Evictions += int64(len(res.Deleted))
	d.status.EvictionFailures += int64(len(res.Failures))
}

func (d *Daemon) setLastError(lastError string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.status.LastError = lastError
}

func (d *Daemon) setNextSweepAt(next time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.status.NextSweepAt = next.UTC()
}

func (d *Daemon) setLastSweepAt(at time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.status.LastSweepAt = at.UTC()
}

func (d *Daemon) snapshot() statusResponse {
	d.mu.Lock()
	defer d.mu.Unlock()

	resp := statusResponse{
		State:            "ready",
		StoreAvailable:   d.store != nil && d.storeErr == nil,
		RetentionMode:    d.status.RetentionMode,
		RetentionBudget:  d.status.RetentionBudget,
		Uploads:          d.status.Uploads,
		UploadFailures:   d.status.UploadFailures,
		Evictions:        d.status.Evictions,
		EvictionFailures: d.status.EvictionFailures,
		LastError:        d.status.LastError,
	}
	if !resp.StoreAvailable {
		resp.State = "degraded"
	}
	if !d.status.LastUploadAt.IsZero() {
		resp.LastUploadAt = d.status.LastUploadAt.UTC().Format(time.RFC3339)
	}
	if !d.status.LastSweepAt.IsZero() {
		resp.LastSweepAt = d.status.LastSweepAt.Format(time.RFC3339)
	}
	if !d.status.NextSweepAt.IsZero() {
		resp.NextSweepAt = d.status.NextSweepAt.Format(time.RFC3339)
	}
	return resp
}
