// Package retention evicts the oldest snapshots of a camera until its
// namespace fits the configured budget.
package retention

import (
	"context"
	"errors"
	"fmt"
	"time"

	"snapkeep/internal/storage"

	"github.com/rs/zerolog"
)

const DefaultDeleteTimeout = 30 * time.Second

// Lister yields a camera's complete namespace, oldest first.
type Lister interface {
	Ascending(ctx context.Context, cameraID string) ([]storage.Object, error)
}

type Deleter interface {
	Delete(ctx context.Context, key string) error
}

// Admitted is the snapshot whose upload triggered the pass. It is never an
// eviction candidate. A zero Admitted runs a standalone pass.
type Admitted struct {
	Key  string
	Size int64
}

type DeleteFailure struct {
	Key string
	Err error
}

type Result struct {
	CameraID      string
	Mode          Mode
	Listed        int
	Candidates    []string
	Deleted       []string
	Failures      []DeleteFailure
	RetainedCount int
	RetainedBytes int64
	DryRun        bool
	// Skipped is set when no listing was needed (unbounded) or the listing
	// failed and nothing was deleted.
	Skipped bool
}

// Err joins the per-object delete failures, or returns nil.
func (r Result) Err() error {
	if len(r.Failures) == 0 {
		return nil
	}
	errs := make([]error, 0, len(r.Failures))
	for _, f := range r.Failures {
		errs = append(errs, f.Err)
	}
	return errors.Join(errs...)
}

type Enforcer struct {
	budget        Budget
	lister        Lister
	store         Deleter
	log           zerolog.Logger
	deleteTimeout time.Duration
}

func NewEnforcer(budget Budget, lister Lister, store Deleter, logger zerolog.Logger, deleteTimeout time.Duration) (*Enforcer, error) {
	if err := budget.Validate(); err != nil {
		return nil, err
	}
	if lister == nil {
		return nil, errors.New("retention lister is required")
	}
	if store == nil {
		return nil, errors.New("retention store is required")
	}
	if deleteTimeout <= 0 {
		deleteTimeout = DefaultDeleteTimeout
	}
	return &Enforcer{
		budget:        budget,
		lister:        lister,
		store:         store,
		log:           logger.With().Str("component", "retention").Logger(),
		deleteTimeout: deleteTimeout,
	}, nil
}

func (e *Enforcer) Budget() Budget {
	return e.budget
}

// Enforce applies the configured budget after admitted was stored.
func (e *Enforcer) Enforce(ctx context.Context, cameraID string, admitted Admitted) (Result, error) {
	return e.run(ctx, cameraID, e.budget, admitted, false)
}

// Plan reports what Enforce would delete without deleting anything.
func (e *Enforcer) Plan(ctx context.Context, cameraID string, admitted Admitted) (Result, error) {
	return e.run(ctx, cameraID, e.budget, admitted, true)
}

// EnforceCount keeps the newest keepCount snapshots, the admitted one
// included.
func (e *Enforcer) EnforceCount(ctx context.Context, cameraID string, keepCount int, admitted Admitted) (Result, error) {
	b := CountBudget(keepCount)
	if err := b.Validate(); err != nil {
		return Result{}, err
	}
	return e.run(ctx, cameraID, b, admitted, false)
}

// EnforceBudget evicts oldest first until the namespace plus incomingSize
// fits in maxTotalBytes. admitted.Size is ignored in favour of incomingSize.
func (e *Enforcer) EnforceBudget(ctx context.Context, cameraID string, incomingSize, maxTotalBytes int64, admitted Admitted) (Result, error) {
	b := SizeBudget(maxTotalBytes)
	if err := b.Validate(); err != nil {
		return Result{}, err
	}
	if incomingSize < 0 {
		return Result{}, fmt.Errorf("incoming size must be >= 0, got %d", incomingSize)
	}
	admitted.Size = incomingSize
	return e.run(ctx, cameraID, b, admitted, false)
}

func (e *Enforcer) run(ctx context.Context, cameraID string, b Budget, admitted Admitted, dryRun bool) (Result, error) {
	result := Result{CameraID: cameraID, Mode: b.Mode, DryRun: dryRun}
	if b.Mode == ModeUnbounded {
		result.Skipped = true
		return result, nil
	}

	objects, err := e.lister.Ascending(ctx, cameraID)
	if err != nil {
		// A partial enumeration must never drive deletes.
		result.Skipped = true
		e.log.Warn().Err(err).Str("camera_id", cameraID).Msg("listing failed; eviction skipped")
		return result, fmt.Errorf("retention %s: %w", cameraID, err)
	}

	candidates := make([]storage.Object, 0, len(objects))
	for _, obj := range objects {
		if admitted.Key != "" && obj.Key == admitted.Key {
			continue
		}
		candidates = append(candidates, obj)
	}
	result.Listed = len(candidates)

	// A standalone size pass protects the newest snapshot the way an upload
	// protects its own, so an oversize object is never evicted on its own.
	if b.Mode == ModeSize && admitted.Key == "" && len(candidates) > 0 {
		newest := candidates[len(candidates)-1]
		candidates = candidates[:len(candidates)-1]
		admitted = Admitted{Key: newest.Key, Size: newest.Size}
	}

	var evict []storage.Object
	switch b.Mode {
	case ModeCount:
		evict = planCount(candidates, b.KeepCount, admitted.Key != "")
	case ModeSize:
		evict = planSize(candidates, admitted.Size, b.MaxTotalBytes)
	}

	for _, obj := range evict {
		result.Candidates = append(result.Candidates, obj.Key)
	}
	retainedCount, retainedBytes := len(candidates), sumSizes(candidates)
	if admitted.Key != "" {
		retainedCount++
		retainedBytes += admitted.Size
	}

	if dryRun {
		result.RetainedCount = retainedCount - len(evict)
		result.RetainedBytes = retainedBytes - sumSizes(evict)
		return result, nil
	}

	// Deletes are detached from the caller so an aborted request still lets
	// the pass finish.
	detached := context.WithoutCancel(ctx)
	for _, obj := range evict {
		if err := e.delete(detached, obj.Key); err != nil {
			result.Failures = append(result.Failures, DeleteFailure{Key: obj.Key, Err: err})
			e.log.Warn().Err(err).Str("camera_id", cameraID).Str("key", obj.Key).Msg("evict failed")
			continue
		}
		result.Deleted = append(result.Deleted, obj.Key)
		retainedCount--
		retainedBytes -= obj.Size
	}
	result.RetainedCount = retainedCount
	result.RetainedBytes = retainedBytes

	if len(evict) > 0 {
		e.log.Info().
			Str("camera_id", cameraID).
			Str("budget", b.String()).
			Int("deleted", len(result.Deleted)).
			Int("failed", len(result.Failures)).
			Int("retained", result.RetainedCount).
			Int64("retained_bytes", result.RetainedBytes).
			Msg("retention enforced")
	}
	return result, result.Err()
}

func (e *Enforcer) delete(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, e.deleteTimeout)
	defer cancel()
	if err := e.store.Delete(ctx, key); err != nil {
		if !errors.Is(err, storage.ErrDeleteFailed) {
			err = fmt.Errorf("%w: %s: %w", storage.ErrDeleteFailed, key, err)
		}
		return err
	}
	return nil
}

// planCount returns the oldest objects beyond the newest keepCount. The
// admitted object, when present, takes one of the slots.
func planCount(ascending []storage.Object, keepCount int, hasAdmitted bool) []storage.Object {
	slots := keepCount
	if hasAdmitted {
		slots--
	}
	if slots < 0 {
		slots = 0
	}
	if len(ascending) <= slots {
		return nil
	}
	return ascending[:len(ascending)-slots]
}

// planSize walks oldest first until the remaining total leaves room for the
// incoming object. An incoming object larger than the budget evicts the
// whole namespace and is still admitted.
func planSize(ascending []storage.Object, incoming, maxTotalBytes int64) []storage.Object {
	total := sumSizes(ascending)
	if total+incoming <= maxTotalBytes {
		return nil
	}
	target := maxTotalBytes - incoming
	running := total
	n := 0
	for n < len(ascending) && running > target {
		running -= ascending[n].Size
		n++
	}
	return ascending[:n]
}

func sumSizes(objects []storage.Object) int64 {
	var total int64
	for _, obj := range objects {
		total += obj.Size
	}
	return total
}
