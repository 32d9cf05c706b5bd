// Package upload stores camera snapshots and runs retention after each
// successful store.
package upload

import (
	"context"
	"errors"
	"fmt"
	"time"

	"snapkeep/internal/retention"
	"snapkeep/internal/storage"

	"github.com/rs/zerolog"
)

type State string

const (
	StateReceived State = "RECEIVED"
	StateSized    State = "SIZED"
	StateStored   State = "STORED"
	StateEvicted  State = "EVICTED"
	StateSkipped  State = "SKIPPED"
	StateComplete State = "COMPLETE"
	StateFailed   State = "FAILED"
)

var ErrEmptyImage = errors.New("image payload is empty")

type Putter interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
}

type Enforcer interface {
	Enforce(ctx context.Context, cameraID string, admitted retention.Admitted) (retention.Result, error)
}

// Observer is notified after a snapshot is stored. Observers must not block.
type Observer interface {
	SnapshotStored(ctx context.Context, outcome Outcome)
}

type ObserverFunc func(ctx context.Context, outcome Outcome)

func (f ObserverFunc) SnapshotStored(ctx context.Context, outcome Outcome) {
	f(ctx, outcome)
}

// Outcome describes one upload. States records every state the upload
// passed through in order.
type Outcome struct {
	CameraID     string
	Key          string
	SizeBytes    int64
	StoredAt     time.Time
	States       []State
	Retention    retention.Result
	RetentionErr error
}

func (o Outcome) State() State {
	if len(o.States) == 0 {
		return ""
	}
	return o.States[len(o.States)-1]
}

type Option func(*Pipeline)

func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) {
		if now != nil {
			p.now = now
		}
	}
}

// WithRequestTimeout bounds the store and retention calls of one upload.
func WithRequestTimeout(d time.Duration) Option {
	return func(p *Pipeline) {
		p.timeout = d
	}
}

// WithSerializePerCamera makes list, store and evict for the same camera run
// one upload at a time. Without it concurrent uploads may overshoot the
// budget until the next pass.
func WithSerializePerCamera(enabled bool) Option {
	return func(p *Pipeline) {
		if enabled {
			p.locks = newCameraLocks()
		} else {
			p.locks = nil
		}
	}
}

func WithObserver(o Observer) Option {
	return func(p *Pipeline) {
		if o != nil {
			p.observers = append(p.observers, o)
		}
	}
}

type Pipeline struct {
	store     Putter
	enforcer  Enforcer
	log       zerolog.Logger
	now       func() time.Time
	timeout   time.Duration
	locks     *cameraLocks
	observers []Observer
}

func New(store Putter, enforcer Enforcer, logger zerolog.Logger, opts ...Option) *Pipeline {
	p := &Pipeline{
		store:    store,
		enforcer: enforcer,
		log:      logger.With().Str("component", "upload").Logger(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Upload stores data under <camera_id>/<UTC timestamp>.jpg and then runs
// retention. A failed store fails the upload; a failed retention pass is
// logged and reported in the Outcome only.
func (p *Pipeline) Upload(ctx context.Context, cameraID string, data []byte) (Outcome, error) {
	out := Outcome{CameraID: cameraID, States: []State{StateReceived}}
	fail := func(err error) (Outcome, error) {
		out.States = append(out.States, StateFailed)
		p.log.Warn().Err(err).Str("camera_id", cameraID).Msg("upload failed")
		return out, err
	}

	if err := storage.ValidateCameraID(cameraID); err != nil {
		return fail(err)
	}
	if len(data) == 0 {
		return fail(ErrEmptyImage)
	}
	if p.store == nil {
		return fail(fmt.Errorf("%w: object store is not configured", storage.ErrStoreUnavailable))
	}

	out.SizeBytes = int64(len(data))
	out.States = append(out.States, StateSized)

	if p.locks != nil {
		unlock := p.locks.lock(cameraID)
		defer unlock()
	}

	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	storedAt := p.now().UTC()
	key := storage.SnapshotKey(cameraID, storedAt)
	if err := p.store.Put(ctx, key, data, storage.SnapshotContentType); err != nil {
		if !errors.Is(err, storage.ErrPutFailed) {
			err = fmt.Errorf("%w: %s: %w", storage.ErrPutFailed, key, err)
		}
		return fail(err)
	}
	out.Key = key
	out.StoredAt = storedAt
	out.States = append(out.States, StateStored)

	if p.enforcer != nil {
		res, err := p.enforcer.Enforce(ctx, cameraID, retention.Admitted{Key: key, Size: out.SizeBytes})
		out.Retention = res
		out.RetentionErr = err
		if err != nil {
			p.log.Warn().Err(err).Str("camera_id", cameraID).Str("key", key).Msg("retention pass incomplete; upload kept")
		}
	}
	if len(out.Retention.Candidates) > 0 {
		out.States = append(out.States, StateEvicted)
	} else {
		out.States = append(out.States, StateSkipped)
	}
	out.States = append(out.States, StateComplete)

	p.log.Info().
		Str("camera_id", cameraID).
		Str("key", key).
		Int64("size_bytes", out.SizeBytes).
		Int("evicted", len(out.Retention.Deleted)).
		Msg("snapshot stored")

	for _, o := range p.observers {
		o.SnapshotStored(ctx, out)
	}
	return out, nil
}
