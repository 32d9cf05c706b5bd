// Package listing enumerates a camera's snapshots across paginated store
// listings and orders them by recency.
package listing

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"time"

	"snapkeep/internal/storage"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/iter"
)

const defaultPresignConcurrency = 8

// Image is a snapshot descriptor handed to viewers.
type Image struct {
	Key       string `json:"key"`
	URL       string `json:"url"`
	Timestamp string `json:"timestamp"`
	SizeBytes int64  `json:"size_bytes"`
}

type Engine struct {
	store              storage.ObjectStore
	log                zerolog.Logger
	presignConcurrency int
}

func New(store storage.ObjectStore, logger zerolog.Logger) *Engine {
	return &Engine{
		store:              store,
		log:                logger.With().Str("component", "listing").Logger(),
		presignConcurrency: defaultPresignConcurrency,
	}
}

// Namespace returns every object under the camera's prefix, newest first.
// Objects with equal LastModified keep the order the store returned them in.
// A failed page fails the whole listing; partial results are never returned.
func (e *Engine) Namespace(ctx context.Context, cameraID string) ([]storage.Object, error) {
	objects, err := e.collect(ctx, cameraID)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(objects, func(i, j int) bool {
		return objects[i].LastModified.After(objects[j].LastModified)
	})
	return objects, nil
}

// Ascending returns Namespace reversed, oldest first.
func (e *Engine) Ascending(ctx context.Context, cameraID string) ([]storage.Object, error) {
	objects, err := e.Namespace(ctx, cameraID)
	if err != nil {
		return nil, err
	}
	slices.Reverse(objects)
	return objects, nil
}

// Display returns the newest limit objects. A limit <= 0 returns the whole
// namespace. It never deletes.
func (e *Engine) Display(ctx context.Context, cameraID string, limit int) ([]storage.Object, error) {
	objects, err := e.Namespace(ctx, cameraID)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(objects) > limit {
		objects = objects[:limit]
	}
	return objects, nil
}

// Images presigns the Display set. Objects that fail to presign are logged
// and left out; the remaining order is unchanged.
func (e *Engine) Images(ctx context.Context, cameraID string, limit int, ttl time.Duration) ([]Image, error) {
	objects, err := e.Display(ctx, cameraID, limit)
	if err != nil {
		return nil, err
	}

	type presigned struct {
		image Image
		ok    bool
	}
	mapper := iter.Mapper[storage.Object, presigned]{MaxGoroutines: e.presignConcurrency}
	results := mapper.Map(objects, func(obj *storage.Object) presigned {
		u, err := e.store.Presign(ctx, obj.Key, ttl)
		if err != nil {
			e.log.Warn().Err(err).Str("camera_id", cameraID).Str("key", obj.Key).Msg("presign failed; skipping image")
			return presigned{}
		}
		return presigned{
			image: Image{
				Key:       obj.Key,
				URL:       u,
				Timestamp: obj.LastModified.UTC().Format(time.RFC3339),
				SizeBytes: obj.Size,
			},
			ok: true,
		}
	})

	images := make([]Image, 0, len(results))
	for _, r := range results {
		if r.ok {
			images = append(images, r.image)
		}
	}
	return images, nil
}

func (e *Engine) collect(ctx context.Context, cameraID string) ([]storage.Object, error) {
	if err := storage.ValidateCameraID(cameraID); err != nil {
		return nil, err
	}
	prefix := storage.CameraPrefix(cameraID)

	objects := make([]storage.Object, 0)
	seen := make(map[string]struct{})
	token := ""
	pages := 0
	for {
		page, err := e.store.List(ctx, prefix, token)
		if err != nil {
			e.log.Warn().Err(err).Str("camera_id", cameraID).Int("pages", pages).Msg("listing failed; discarding partial results")
			return nil, err
		}
		pages++
		objects = append(objects, page.Objects...)

		if page.NextToken == "" {
			break
		}
		if _, ok := seen[page.NextToken]; ok {
			return nil, fmt.Errorf("%w: list %q: repeated continuation token", storage.ErrListingPageFailed, prefix)
		}
		seen[page.NextToken] = struct{}{}
		token = page.NextToken
	}

	e.log.Debug().Str("camera_id", cameraID).Int("pages", pages).Int("objects", len(objects)).Msg("namespace listed")
	return objects, nil
}
