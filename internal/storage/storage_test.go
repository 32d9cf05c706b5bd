package storage

import (
	"context"
	"errors"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"testing"
	"time"

	"snapkeep/internal/config"
	"snapkeep/internal/crypto"
)

var testSigningKey = []byte("0123456789abcdef0123456789abcdef")

func TestLocalClientPutListDelete(t *testing.T) {
	root := t.TempDir()
	c := NewLocalClient(root, "http://127.0.0.1:41830", testSigningKey)
	ctx := context.Background()

	if err := c.Put(ctx, "cam1/20260101_000001.jpg", []byte("one"), SnapshotContentType); err != nil {
		t.Fatalf("put failed: %v", err)
	}
	if err := c.Put(ctx, "cam1/20260101_000002.jpg", []byte("two!"), SnapshotContentType); err != nil {
		t.Fatalf("put failed: %v", err)
	}
	if err := c.Put(ctx, "cam10/20260101_000003.jpg", []byte("other"), SnapshotContentType); err != nil {
		t.Fatalf("put failed: %v", err)
	}

	page, err := c.List(ctx, "cam1/", "")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if page.NextToken != "" {
		t.Fatalf("expected single page, got token %q", page.NextToken)
	}
	var keys []string
	var sizes []int64
	for _, obj := range page.Objects {
		keys = append(keys, obj.Key)
		sizes = append(sizes, obj.Size)
		if obj.LastModified.IsZero() {
			t.Fatalf("expected last modified for %s", obj.Key)
		}
	}
	if !reflect.DeepEqual(keys, []string{"cam1/20260101_000001.jpg", "cam1/20260101_000002.jpg"}) {
		t.Fatalf("keys mismatch: %v", keys)
	}
	if !reflect.DeepEqual(sizes, []int64{3, 4}) {
		t.Fatalf("sizes mismatch: %v", sizes)
	}

	if err := c.Delete(ctx, "cam1/20260101_000001.jpg"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if err := c.Delete(ctx, "cam1/20260101_000001.jpg"); err != nil {
		t.Fatalf("delete of missing object should succeed: %v", err)
	}
	page, err = c.List(ctx, "cam1/", "")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(page.Objects) != 1 || page.Objects[0].Key != "cam1/20260101_000002.jpg" {
		t.Fatalf("unexpected objects after delete: %+v", page.Objects)
	}
}

func TestLocalClientOverwriteReplacesContent(t *testing.T) {
	root := t.TempDir()
	c := NewLocalClient(root, "", nil)
	ctx := context.Background()

	key := "cam1/20260101_000001.jpg"
	if err := c.Put(ctx, key, []byte("first"), ""); err != nil {
		t.Fatalf("put failed: %v", err)
	}
	if err := c.Put(ctx, key, []byte("second-version"), ""); err != nil {
		t.Fatalf("overwrite failed: %v", err)
	}

	got, err := os.ReadFile(filepath.Join(root, "cam1", "20260101_000001.jpg"))
	if err != nil {
		t.Fatalf("read object: %v", err)
	}
	if string(got) != "second-version" {
		t.Fatalf("content mismatch: %q", got)
	}

	entries, err := os.ReadDir(filepath.Join(root, "cam1"))
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected no leftover temp files, got %d entries", len(entries))
	}
}

func TestLocalClientListPagination(t *testing.T) {
	root := t.TempDir()
	c := NewLocalClient(root, "", nil)
	c.pageSize = 2
	ctx := context.Background()

	want := []string{
		"cam1/20260101_000001.jpg",
		"cam1/20260101_000002.jpg",
		"cam1/20260101_000003.jpg",
		"cam1/20260101_000004.jpg",
		"cam1/20260101_000005.jpg",
	}
	for _, key := range want {
		if err := c.Put(ctx, key, []byte("x"), ""); err != nil {
			t.Fatalf("put %s failed: %v", key, err)
		}
	}

	var got []string
	token := ""
	pages := 0
	for {
		page, err := c.List(ctx, "cam1/", token)
		if err != nil {
			t.Fatalf("list failed: %v", err)
		}
		pages++
		for _, obj := range page.Objects {
			got = append(got, obj.Key)
		}
		if page.NextToken == "" {
			break
		}
		token = page.NextToken
	}
	if pages != 3 {
		t.Fatalf("expected 3 pages, got %d", pages)
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("paged keys mismatch: got %v want %v", got, want)
	}
}

func TestLocalClientListMissingPrefixIsEmpty(t *testing.T) {
	c := NewLocalClient(t.TempDir(), "", nil)
	page, err := c.List(context.Background(), "never-seen/", "")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(page.Objects) != 0 || page.NextToken != "" {
		t.Fatalf("expected empty page, got %+v", page)
	}
}

func TestLocalClientRejectsInvalidKeys(t *testing.T) {
	c := NewLocalClient(t.TempDir(), "", nil)
	ctx := context.Background()

	if err := c.Put(ctx, "../escape.jpg", []byte("x"), ""); !errors.Is(err, ErrPutFailed) || !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("expected invalid key put failure, got: %v", err)
	}
	if err := c.Delete(ctx, "/abs.jpg"); !errors.Is(err, ErrDeleteFailed) || !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("expected invalid key delete failure, got: %v", err)
	}
	if _, err := c.List(ctx, "../", ""); !errors.Is(err, ErrListingPageFailed) {
		t.Fatalf("expected invalid prefix listing failure, got: %v", err)
	}
}

func TestLocalClientPresignRoundTrip(t *testing.T) {
	root := t.TempDir()
	c := NewLocalClient(root, "http://127.0.0.1:41830/", testSigningKey)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	ctx := context.Background()

	key := "cam1/20260301_120000.jpg"
	if err := c.Put(ctx, key, []byte("jpeg-bytes"), SnapshotContentType); err != nil {
		t.Fatalf("put failed: %v", err)
	}

	raw, err := c.Presign(ctx, key, time.Hour)
	if err != nil {
		t.Fatalf("presign failed: %v", err)
	}
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse presigned url: %v", err)
	}
	if u.Host != "127.0.0.1:41830" || u.Path != ObjectsRoutePath+key {
		t.Fatalf("unexpected presigned url: %s", raw)
	}
	expires, err := strconv.ParseInt(u.Query().Get("expires"), 10, 64)
	if err != nil {
		t.Fatalf("parse expires: %v", err)
	}
	if expires != now.Add(time.Hour).Unix() {
		t.Fatalf("expires mismatch: got %d", expires)
	}

	f, err := c.OpenSigned(key, expires, u.Query().Get("signature"))
	if err != nil {
		t.Fatalf("open signed failed: %v", err)
	}
	defer f.Close()
	body, err := io.ReadAll(f)
	if err != nil {
		t.Fatalf("read signed object: %v", err)
	}
	if string(body) != "jpeg-bytes" {
		t.Fatalf("body mismatch: %q", body)
	}

	if _, err := c.OpenSigned("cam1/other.jpg", expires, u.Query().Get("signature")); !errors.Is(err, crypto.ErrSignatureInvalid) {
		t.Fatalf("expected invalid signature for different key, got: %v", err)
	}

	now = now.Add(2 * time.Hour)
	if _, err := c.OpenSigned(key, expires, u.Query().Get("signature")); !errors.Is(err, crypto.ErrSignatureExpired) {
		t.Fatalf("expected expired signature, got: %v", err)
	}
}

func TestLocalClientPresignRequiresConfiguration(t *testing.T) {
	c := NewLocalClient(t.TempDir(), "", nil)
	_, err := c.Presign(context.Background(), "cam1/x.jpg", time.Minute)
	if !errors.Is(err, ErrPresignFailed) || !errors.Is(err, ErrPresignNotConfigured) {
		t.Fatalf("expected presign not configured, got: %v", err)
	}
}

func TestLocalClientPingCreatesRoot(t *testing.T) {
	root := filepath.Join(t.TempDir(), "nested", "objects")
	c := NewLocalClient(root, "", nil)
	if err := c.Ping(context.Background()); err != nil {
		t.Fatalf("ping failed: %v", err)
	}
	if info, err := os.Stat(root); err != nil || !info.IsDir() {
		t.Fatalf("expected root dir to exist, err=%v", err)
	}
}

func TestNewFromConfigSelectsBackend(t *testing.T) {
	ctx := context.Background()

	cfg := config.DefaultConfig()
	dir := t.TempDir()
	store, err := NewFromConfig(ctx, cfg, dir)
	if err != nil {
		t.Fatalf("local store: %v", err)
	}
	local, ok := store.(*LocalClient)
	if !ok {
		t.Fatalf("expected *LocalClient, got %T", store)
	}
	if local.rootDir != dir || local.baseURL != "http://"+config.DefaultListenAddr {
		t.Fatalf("unexpected local client: root=%q base=%q", local.rootDir, local.baseURL)
	}
	if len(local.signingKey) == 0 {
		t.Fatal("expected generated signing key")
	}

	cfg.Local.SigningKey = "short"
	if _, err := NewFromConfig(ctx, cfg, dir); err == nil || !strings.Contains(err.Error(), "signing key") {
		t.Fatalf("expected short signing key error, got: %v", err)
	}

	cfg = config.DefaultConfig()
	cfg.S3 = config.S3Config{Bucket: "snaps", Region: "us-east-1", AccessKey: "a", SecretKey: "b"}
	store, err = NewFromConfig(ctx, cfg, dir)
	if err != nil {
		t.Fatalf("s3 store: %v", err)
	}
	if _, ok := store.(*S3Client); !ok {
		t.Fatalf("expected *S3Client, got %T", store)
	}
}

func TestSnapshotKeyRoundTrip(t *testing.T) {
	at := time.Date(2026, 7, 4, 9, 8, 7, 123, time.FixedZone("X", 2*3600))
	key := SnapshotKey("front-door", at)
	if key != "front-door/20260704_070807.jpg" {
		t.Fatalf("key mismatch: %q", key)
	}

	cam, ts, ok := ParseSnapshotKey(key)
	if !ok {
		t.Fatalf("expected key to parse: %q", key)
	}
	if cam != "front-door" || !ts.Equal(time.Date(2026, 7, 4, 7, 8, 7, 0, time.UTC)) {
		t.Fatalf("parsed mismatch: cam=%q ts=%s", cam, ts)
	}

	for _, bad := range []string{"front-door", "front-door/x.jpg", "front-door/20260704_070807.png", "a/b/20260704_070807.jpg", "/20260704_070807.jpg"} {
		if _, _, ok := ParseSnapshotKey(bad); ok {
			t.Fatalf("expected %q not to parse", bad)
		}
	}
}

func TestValidateCameraID(t *testing.T) {
	valid := []string{"cam1", "front-door", "garage_2", "lobby.east", strings.Repeat("a", maxCameraIDLength)}
	for _, id := range valid {
		if err := ValidateCameraID(id); err != nil {
			t.Fatalf("expected %q to be valid: %v", id, err)
		}
	}

	invalid := []string{"", ".", "..", "cam/1", "cam 1", "cam\\1", "kamera-ü", strings.Repeat("a", maxCameraIDLength+1)}
	for _, id := range invalid {
		if err := ValidateCameraID(id); !errors.Is(err, ErrInvalidCameraID) {
			t.Fatalf("expected %q to be rejected, got: %v", id, err)
		}
	}
}

func TestCameraPrefixDoesNotOverlap(t *testing.T) {
	if strings.HasPrefix(CameraPrefix("cam10")+"x.jpg", CameraPrefix("cam1")) {
		t.Fatal("cam1 prefix must not match cam10 keys")
	}
}
