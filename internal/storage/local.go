package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"snapkeep/internal/crypto"
)

const (
	localTempPrefix  = ".tmp-"
	ObjectsRoutePath = "/v1/objects/"
)

var ErrPresignNotConfigured = errors.New("local presign requires base_url and signing_key")

// LocalClient stores objects as files under rootDir. It backs development
// deployments without a bucket; presigned URLs point at the daemon's
// /v1/objects/ route and carry an HMAC signature.
type LocalClient struct {
	rootDir    string
	baseURL    string
	signingKey []byte
	pageSize   int
	now        func() time.Time
}

func NewLocalClient(rootDir, baseURL string, signingKey []byte) *LocalClient {
	return &LocalClient{
		rootDir:    rootDir,
		baseURL:    strings.TrimRight(baseURL, "/"),
		signingKey: signingKey,
		pageSize:   MaxListPageSize,
		now:        time.Now,
	}
}

func (c *LocalClient) Put(_ context.Context, key string, data []byte, _ string) error {
	fullPath, err := c.objectPath(key)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPutFailed, err)
	}
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return fmt.Errorf("%w: %w", ErrPutFailed, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(fullPath), localTempPrefix+"*")
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPutFailed, err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("%w: write %s: %w", ErrPutFailed, key, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("%w: write %s: %w", ErrPutFailed, key, err)
	}
	if err := os.Rename(tmpPath, fullPath); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("%w: rename %s: %w", ErrPutFailed, key, err)
	}
	return nil
}

func (c *LocalClient) List(_ context.Context, prefix, continuationToken string) (ListPage, error) {
	if err := validateListPrefix(prefix); err != nil {
		return ListPage{}, fmt.Errorf("%w: %w", ErrListingPageFailed, err)
	}

	walkRoot := filepath.Join(c.rootDir, filepath.FromSlash(path.Dir(prefix+"x")))
	if _, err := os.Stat(walkRoot); err != nil {
		if os.IsNotExist(err) {
			return ListPage{Objects: []Object{}}, nil
		}
		return ListPage{}, fmt.Errorf("%w: %w", ErrListingPageFailed, err)
	}

	objects := make([]Object, 0)
	err := filepath.WalkDir(walkRoot, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), localTempPrefix) {
			return nil
		}
		rel, err := filepath.Rel(c.rootDir, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if !strings.HasPrefix(key, prefix) || key <= continuationToken {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		objects = append(objects, Object{
			Key:          key,
			Size:         info.Size(),
			LastModified: info.ModTime().UTC(),
		})
		return nil
	})
	if err != nil {
		return ListPage{}, fmt.Errorf("%w: walk %q: %w", ErrListingPageFailed, prefix, err)
	}

	sort.Slice(objects, func(i, j int) bool { return objects[i].Key < objects[j].Key })
	page := ListPage{Objects: objects}
	if c.pageSize > 0 && len(objects) > c.pageSize {
		page.Objects = objects[:c.pageSize]
		page.NextToken = page.Objects[len(page.Objects)-1].Key
	}
	return page, nil
}

func (c *LocalClient) Delete(_ context.Context, key string) error {
	fullPath, err := c.objectPath(key)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDeleteFailed, err)
	}
	if err := os.Remove(fullPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%w: %w", ErrDeleteFailed, err)
	}
	return nil
}

func (c *LocalClient) Presign(_ context.Context, key string, ttl time.Duration) (string, error) {
	if c.baseURL == "" || len(c.signingKey) == 0 {
		return "", fmt.Errorf("%w: %w", ErrPresignFailed, ErrPresignNotConfigured)
	}
	if _, err := c.objectPath(key); err != nil {
		return "", fmt.Errorf("%w: %w", ErrPresignFailed, err)
	}

	expires := c.now().Add(ttl)
	q := url.Values{}
	q.Set("expires", strconv.FormatInt(expires.Unix(), 10))
	q.Set("signature", crypto.SignObjectURL(c.signingKey, key, expires))
	return c.baseURL + ObjectsRoutePath + escapeKey(key) + "?" + q.Encode(), nil
}

func (c *LocalClient) Ping(_ context.Context) error {
	if err := os.MkdirAll(c.rootDir, 0o755); err != nil {
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	return nil
}

// OpenSigned verifies a presigned read and opens the object. The caller
// closes the file.
func (c *LocalClient) OpenSigned(key string, expiresUnix int64, signature string) (*os.File, error) {
	if len(c.signingKey) == 0 {
		return nil, ErrPresignNotConfigured
	}
	if err := crypto.VerifyObjectURL(c.signingKey, key, expiresUnix, signature, c.now()); err != nil {
		return nil, err
	}
	fullPath, err := c.objectPath(key)
	if err != nil {
		return nil, err
	}
	return os.Open(fullPath)
}

func (c *LocalClient) objectPath(key string) (string, error) {
	if err := ValidateKey(key); err != nil {
		return "", err
	}
	return filepath.Join(c.rootDir, filepath.FromSlash(key)), nil
}

func escapeKey(key string) string {
	parts := strings.Split(key, "/")
	for i, part := range parts {
		parts[i] = url.PathEscape(part)
	}
	return strings.Join(parts, "/")
}
