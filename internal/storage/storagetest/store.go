// Package storagetest provides an in-memory storage.ObjectStore with a
// controllable clock, configurable page size and fault injection.
package storagetest

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"snapkeep/internal/storage"
)

// Epoch is the first LastModified handed out by a new Store's clock.
var Epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

type entry struct {
	data         []byte
	contentType  string
	lastModified time.Time
}

type Store struct {
	mu       sync.Mutex
	objects  map[string]entry
	clock    func() time.Time
	pageSize int

	putErr      error
	pingErr     error
	deleteErrs  map[string]error
	presignErrs map[string]error
	listHook    func(prefix, token string) error

	listCalls   int
	deleteCalls []string
}

// NewStore returns a store whose clock starts at Epoch and advances one
// second per Put.
func NewStore() *Store {
	next := Epoch
	return &Store{
		objects: make(map[string]entry),
		clock: func() time.Time {
			t := next
			next = next.Add(time.Second)
			return t
		},
		pageSize:    storage.MaxListPageSize,
		deleteErrs:  make(map[string]error),
		presignErrs: make(map[string]error),
	}
}

// SetClock replaces the LastModified source used by Put.
func (s *Store) SetClock(clock func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clock = clock
}

func (s *Store) SetPageSize(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pageSize = n
}

func (s *Store) FailPut(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.putErr = err
}

func (s *Store) FailPing(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pingErr = err
}

func (s *Store) FailDelete(key string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteErrs[key] = err
}

func (s *Store) FailPresign(key string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.presignErrs[key] = err
}

// OnList installs a hook consulted before every page; a non-nil return
// fails that page.
func (s *Store) OnList(hook func(prefix, token string) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listHook = hook
}

// PutAt stores data with an explicit LastModified, bypassing the clock.
func (s *Store) PutAt(key string, data []byte, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = entry{data: append([]byte(nil), data...), lastModified: at.UTC()}
}

func (s *Store) Put(_ context.Context, key string, data []byte, contentType string) error {
	if err := storage.ValidateKey(key); err != nil {
		return fmt.Errorf("%w: %w", storage.ErrPutFailed, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.putErr != nil {
		return fmt.Errorf("%w: put object %s: %w", storage.ErrPutFailed, key, s.putErr)
	}
	s.objects[key] = entry{
		data:         append([]byte(nil), data...),
		contentType:  contentType,
		lastModified: s.clock().UTC(),
	}
	return nil
}

func (s *Store) List(ctx context.Context, prefix, continuationToken string) (storage.ListPage, error) {
	if err := ctx.Err(); err != nil {
		return storage.ListPage{}, fmt.Errorf("%w: %w", storage.ErrListingPageFailed, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listCalls++
	if s.listHook != nil {
		if err := s.listHook(prefix, continuationToken); err != nil {
			return storage.ListPage{}, fmt.Errorf("%w: list objects %q: %w", storage.ErrListingPageFailed, prefix, err)
		}
	}

	keys := s.sortedKeysLocked(prefix)
	start := sort.SearchStrings(keys, continuationToken)
	if continuationToken != "" && start < len(keys) && keys[start] == continuationToken {
		start++
	}
	keys = keys[start:]

	page := storage.ListPage{Objects: make([]storage.Object, 0, len(keys))}
	if s.pageSize > 0 && len(keys) > s.pageSize {
		keys = keys[:s.pageSize]
		page.NextToken = keys[len(keys)-1]
	}
	for _, key := range keys {
		page.Objects = append(page.Objects, s.objectLocked(key))
	}
	return page, nil
}

func (s *Store) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteCalls = append(s.deleteCalls, key)
	if err, ok := s.deleteErrs[key]; ok && err != nil {
		return fmt.Errorf("%w: delete object %s: %w", storage.ErrDeleteFailed, key, err)
	}
	delete(s.objects, key)
	return nil
}

func (s *Store) Presign(_ context.Context, key string, ttl time.Duration) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err, ok := s.presignErrs[key]; ok && err != nil {
		return "", fmt.Errorf("%w: presign %s: %w", storage.ErrPresignFailed, key, err)
	}
	q := url.Values{}
	q.Set("X-Amz-Expires", fmt.Sprintf("%d", int(ttl.Seconds())))
	return "https://storagetest.invalid/" + key + "?" + q.Encode(), nil
}

func (s *Store) Ping(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pingErr != nil {
		return fmt.Errorf("%w: %w", storage.ErrStoreUnavailable, s.pingErr)
	}
	return nil
}

// Keys returns the stored keys under prefix in lexical order.
func (s *Store) Keys(prefix string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sortedKeysLocked(prefix)
}

func (s *Store) Object(key string) (storage.Object, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.objects[key]; !ok {
		return storage.Object{}, false
	}
	return s.objectLocked(key), true
}

func (s *Store) Data(key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.objects[key]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), e.data...), true
}

func (s *Store) TotalBytes(prefix string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var total int64
	for key, e := range s.objects {
		if strings.HasPrefix(key, prefix) {
			total += int64(len(e.data))
		}
	}
	return total
}

func (s *Store) ListCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listCalls
}

func (s *Store) DeleteCalls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.deleteCalls...)
}

func (s *Store) sortedKeysLocked(prefix string) []string {
	keys := make([]string, 0, len(s.objects))
	for key := range s.objects {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys
}

func (s *Store) objectLocked(key string) storage.Object {
	e := s.objects[key]
	return storage.Object{
		Key:          key,
		Size:         int64(len(e.data)),
		LastModified: e.lastModified,
	}
}
