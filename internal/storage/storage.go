package storage

import (
	"context"
	"time"
)

// MaxListPageSize bounds a single List call. Callers must follow NextToken.
const MaxListPageSize = 1000

// Object describes one stored snapshot.
type Object struct {
	Key          string
	Size         int64
	LastModified time.Time
}

// ListPage is one page of a prefix listing. NextToken is empty on the last page.
type ListPage struct {
	Objects   []Object
	NextToken string
}

// ObjectStore is the uninterpreted bucket adapter. Implementations do no
// caching and no retries.
type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	List(ctx context.Context, prefix, continuationToken string) (ListPage, error)
	Delete(ctx context.Context, key string) error
	Presign(ctx context.Context, key string, ttl time.Duration) (string, error)
	Ping(ctx context.Context) error
}
