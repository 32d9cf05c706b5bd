package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"snapkeep/internal/config"
	"snapkeep/internal/registry"
	"snapkeep/internal/storage"
	"snapkeep/internal/storage/storagetest"

	"github.com/rs/zerolog"
)

type testEnv struct {
	d     *Daemon
	store *storagetest.Store
	reg   *registry.Registry
}

func openTestRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	reg, err := registry.Open(context.Background(), config.RegistryConfig{Driver: registry.DriverSQLite, DSN: ":memory:"}, "")
	if err != nil {
		t.Fatalf("open registry: %v", err)
	}
	t.Cleanup(func() { _ = reg.Close() })
	return reg
}

// testConfig keeps three snapshots per camera unless mutate says otherwise.
func testConfig(mutate func(*config.Config)) *config.Config {
	cfg := config.DefaultConfig()
	cfg.Retention = config.RetentionConfig{Mode: config.RetentionCount, KeepCount: 3}
	if mutate != nil {
		mutate(cfg)
	}
	return cfg
}

func newTestEnv(t *testing.T, mutate func(*config.Config)) *testEnv {
	t.Helper()
	store := storagetest.NewStore()
	reg := openTestRegistry(t)
	d, err := New(testConfig(mutate), Services{Store: store, Registry: reg}, zerolog.Nop())
	if err != nil {
		t.Fatalf("new daemon: %v", err)
	}
	d.clockNow = steppingClock(storagetest.Epoch)
	return &testEnv{d: d, store: store, reg: reg}
}

func (e *testEnv) addCamera(t *testing.T, cameraID, owner, deviceToken string) {
	t.Helper()
	if _, err := e.reg.CreateCamera(context.Background(), registry.Camera{ID: cameraID, Name: cameraID, Owner: owner}, deviceToken); err != nil {
		t.Fatalf("create camera %s: %v", cameraID, err)
	}
}

// seed stores n snapshots one minute apart and returns their keys oldest
// first.
func (e *testEnv) seed(cameraID string, n int) []string {
	keys := make([]string, 0, n)
	for i := 0; i < n; i++ {
		at := storagetest.Epoch.Add(time.Duration(i) * time.Minute)
		key := storage.SnapshotKey(cameraID, at)
		e.store.PutAt(key, []byte("jpeg-bytes"), at)
		keys = append(keys, key)
	}
	return keys
}

func steppingClock(start time.Time) func() time.Time {
	var mu sync.Mutex
	next := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t := next
		next = next.Add(time.Second)
		return t
	}
}

func fixedClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func rawUploadRequest(cameraID string, body []byte) *http.Request {
	return httptest.NewRequest(http.MethodPost, "/v1/upload?camera_id="+cameraID, bytes.NewReader(body))
}

func multipartUploadRequest(t *testing.T, cameraID string, body []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("camera_id", cameraID); err != nil {
		t.Fatalf("write camera_id: %v", err)
	}
	fw, err := mw.CreateFormFile("file", "snapshot.jpg")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := fw.Write(body); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/v1/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func decodeErrorResponse(t *testing.T, rr *httptest.ResponseRecorder) errorResponse {
	t.Helper()
	var resp errorResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode error response: %v body=%s", err, rr.Body.String())
	}
	return resp
}

func decodeUploadResponse(t *testing.T, rr *httptest.ResponseRecorder) uploadResponse {
	t.Helper()
	var resp uploadResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode upload response: %v body=%s", err, rr.Body.String())
	}
	return resp
}

func decodeJSON[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rr.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode response: %v body=%s", err, rr.Body.String())
	}
	return v
}
