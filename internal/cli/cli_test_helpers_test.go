package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"snapkeep/internal/state"
	"snapkeep/internal/storage"
)

var testEpoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// setCLIHome points the app dir at a temp dir and writes config there.
func setCLIHome(t *testing.T, config string) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv(state.HomeEnv, home)
	if config != "" {
		if err := os.WriteFile(filepath.Join(home, "config.toml"), []byte(config), 0o600); err != nil {
			t.Fatalf("write config: %v", err)
		}
	}
	return home
}

func runCLI(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	err := run(context.Background(), args, &stdout, &stderr)
	return stdout.String(), stderr.String(), err
}

func mustRunCLI(t *testing.T, args ...string) string {
	t.Helper()
	out, errOut, err := runCLI(t, args...)
	if err != nil {
		t.Fatalf("snapkeep %s: %v\nstderr: %s", strings.Join(args, " "), err, errOut)
	}
	return out
}

// seedSnapshots writes n snapshots one minute apart into the default local
// store and returns their keys oldest first.
func seedSnapshots(t *testing.T, home, cameraID string, n int) []string {
	t.Helper()
	root := filepath.Join(home, "objects")
	store := storage.NewLocalClient(root, "http://snapkeep.test", nil)
	keys := make([]string, 0, n)
	for i := 0; i < n; i++ {
		at := testEpoch.Add(time.Duration(i) * time.Minute)
		key := storage.SnapshotKey(cameraID, at)
		if err := store.Put(context.Background(), key, []byte("jpeg"), "image/jpeg"); err != nil {
			t.Fatalf("put %s: %v", key, err)
		}
		if err := os.Chtimes(filepath.Join(root, filepath.FromSlash(key)), at, at); err != nil {
			t.Fatalf("chtimes %s: %v", key, err)
		}
		keys = append(keys, key)
	}
	return keys
}

func objectExists(t *testing.T, home, key string) bool {
	t.Helper()
	_, err := os.Stat(filepath.Join(home, "objects", filepath.FromSlash(key)))
	if err == nil {
		return true
	}
	if !os.IsNotExist(err) {
		t.Fatalf("stat %s: %v", key, err)
	}
	return false
}
