package registry

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"snapkeep/internal/config"
	"snapkeep/internal/crypto"
	"snapkeep/internal/storage"
)

func openTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := Open(context.Background(), config.RegistryConfig{Driver: DriverSQLite, DSN: ":memory:"}, "")
	if err != nil {
		t.Fatalf("open registry: %v", err)
	}
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func cameraIDs(cams []Camera) []string {
	ids := make([]string, 0, len(cams))
	for _, c := range cams {
		ids = append(ids, c.ID)
	}
	return ids
}

func TestCreateAndGetCamera(t *testing.T) {
	r := openTestRegistry(t)
	ctx := context.Background()
	r.now = func() time.Time { return time.Date(2026, 2, 3, 4, 5, 6, 789, time.UTC) }

	created, err := r.CreateCamera(ctx, Camera{ID: "front-door", Name: "Front Door", Location: "Porch", Owner: "alice"}, "")
	if err != nil {
		t.Fatalf("create camera: %v", err)
	}
	got, err := r.GetCamera(ctx, "front-door")
	if err != nil {
		t.Fatalf("get camera: %v", err)
	}
	if got.ID != created.ID || got.Name != "Front Door" || got.Location != "Porch" || got.Owner != "alice" {
		t.Fatalf("camera mismatch:\n got %+v\nwant %+v", got, created)
	}
	if got.HasDeviceToken() {
		t.Fatal("expected camera without device token")
	}
	if !got.CreatedAt.Equal(created.CreatedAt) || !got.CreatedAt.Equal(time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)) {
		t.Fatalf("created_at mismatch: %s", got.CreatedAt)
	}
	if !got.LastSeen.IsZero() {
		t.Fatalf("expected never seen, got %s", got.LastSeen)
	}

	if _, err := r.CreateCamera(ctx, Camera{ID: "front-door", Owner: "bob"}, ""); !errors.Is(err, ErrCameraExists) {
		t.Fatalf("expected duplicate error, got: %v", err)
	}
	if _, err := r.CreateCamera(ctx, Camera{ID: "../x", Owner: "bob"}, ""); !errors.Is(err, storage.ErrInvalidCameraID) {
		t.Fatalf("expected invalid id error, got: %v", err)
	}
	if _, err := r.CreateCamera(ctx, Camera{ID: "cam2"}, ""); err == nil {
		t.Fatal("expected missing owner error")
	}
	if _, err := r.GetCamera(ctx, "missing"); !errors.Is(err, ErrCameraNotFound) {
		t.Fatalf("expected not found, got: %v", err)
	}
}

func TestUpdateAndDeleteCamera(t *testing.T) {
	r := openTestRegistry(t)
	ctx := context.Background()
	if _, err := r.CreateCamera(ctx, Camera{ID: "cam1", Owner: "alice"}, ""); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := r.UpdateCamera(ctx, "cam1", "Garage", "Side"); err != nil {
		t.Fatalf("update: %v", err)
	}
	cam, _ := r.GetCamera(ctx, "cam1")
	if cam.Name != "Garage" || cam.Location != "Side" {
		t.Fatalf("update not applied: %+v", cam)
	}
	if err := r.UpdateCamera(ctx, "missing", "x", "y"); !errors.Is(err, ErrCameraNotFound) {
		t.Fatalf("expected not found on update, got: %v", err)
	}

	if err := r.Share(ctx, "cam1", "bob", false); err != nil {
		t.Fatalf("share: %v", err)
	}
	if err := r.DeleteCamera(ctx, "cam1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := r.GetCamera(ctx, "cam1"); !errors.Is(err, ErrCameraNotFound) {
		t.Fatalf("expected camera to be gone, got: %v", err)
	}
	shares, err := r.Shares(ctx, "cam1")
	if err != nil || len(shares) != 0 {
		t.Fatalf("expected shares removed, got %+v err=%v", shares, err)
	}
	if err := r.DeleteCamera(ctx, "cam1"); !errors.Is(err, ErrCameraNotFound) {
		t.Fatalf("expected not found on second delete, got: %v", err)
	}
}

func TestListCamerasIncludesShares(t *testing.T) {
	r := openTestRegistry(t)
	ctx := context.Background()
	for _, c := range []Camera{
		{ID: "alice-b", Owner: "alice"},
		{ID: "alice-a", Owner: "alice"},
		{ID: "bob-1", Owner: "bob"},
		{ID: "carol-1", Owner: "carol"},
	} {
		if _, err := r.CreateCamera(ctx, c, ""); err != nil {
			t.Fatalf("create %s: %v", c.ID, err)
		}
	}
	if err := r.Share(ctx, "bob-1", "alice", false); err != nil {
		t.Fatalf("share: %v", err)
	}

	got, err := r.ListCameras(ctx, "alice")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if want := []string{"alice-a", "alice-b", "bob-1"}; !reflect.DeepEqual(cameraIDs(got), want) {
		t.Fatalf("alice cameras mismatch: got %v want %v", cameraIDs(got), want)
	}

	all, err := r.AllCameras(ctx)
	if err != nil || len(all) != 4 {
		t.Fatalf("expected 4 cameras, got %d err=%v", len(all), err)
	}

	none, err := r.ListCameras(ctx, "dave")
	if err != nil || len(none) != 0 {
		t.Fatalf("expected no cameras for dave, got %v err=%v", cameraIDs(none), err)
	}
}

func TestShareLifecycle(t *testing.T) {
	r := openTestRegistry(t)
	ctx := context.Background()
	if _, err := r.CreateCamera(ctx, Camera{ID: "cam1", Owner: "alice"}, ""); err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := r.Share(ctx, "cam1", "alice", false); !errors.Is(err, ErrShareWithOwner) {
		t.Fatalf("expected owner share rejection, got: %v", err)
	}
	if err := r.Share(ctx, "missing", "bob", false); !errors.Is(err, ErrCameraNotFound) {
		t.Fatalf("expected not found, got: %v", err)
	}
	if err := r.Share(ctx, "cam1", "bob", false); err != nil {
		t.Fatalf("share: %v", err)
	}
	if err := r.Share(ctx, "cam1", "bob", true); err != nil {
		t.Fatalf("reshare: %v", err)
	}
	shares, err := r.Shares(ctx, "cam1")
	if err != nil {
		t.Fatalf("shares: %v", err)
	}
	if len(shares) != 1 || shares[0].Username != "bob" || !shares[0].CanEdit {
		t.Fatalf("unexpected shares: %+v", shares)
	}

	for _, tt := range []struct {
		user string
		want bool
	}{
		{user: "alice", want: true},
		{user: "bob", want: true},
		{user: "carol", want: false},
		{user: "", want: false},
	} {
		ok, err := r.CanView(ctx, tt.user, "cam1")
		if err != nil {
			t.Fatalf("can view %q: %v", tt.user, err)
		}
		if ok != tt.want {
			t.Fatalf("can view %q: got %v want %v", tt.user, ok, tt.want)
		}
	}
	if _, err := r.CanView(ctx, "alice", "missing"); !errors.Is(err, ErrCameraNotFound) {
		t.Fatalf("expected not found, got: %v", err)
	}

	if err := r.Unshare(ctx, "cam1", "bob"); err != nil {
		t.Fatalf("unshare: %v", err)
	}
	if err := r.Unshare(ctx, "cam1", "bob"); !errors.Is(err, ErrShareNotFound) {
		t.Fatalf("expected share not found, got: %v", err)
	}
	if ok, _ := r.CanView(ctx, "bob", "cam1"); ok {
		t.Fatal("bob must lose access after unshare")
	}
}

func TestCanEditRequiresOwnerOrEditShare(t *testing.T) {
	r := openTestRegistry(t)
	ctx := context.Background()
	if _, err := r.CreateCamera(ctx, Camera{ID: "cam1", Owner: "alice"}, ""); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := r.Share(ctx, "cam1", "bob", true); err != nil {
		t.Fatalf("share bob: %v", err)
	}
	if err := r.Share(ctx, "cam1", "carol", false); err != nil {
		t.Fatalf("share carol: %v", err)
	}

	for _, tt := range []struct {
		user string
		want bool
	}{
		{user: "alice", want: true},
		{user: "bob", want: true},
		{user: "carol", want: false},
		{user: "dave", want: false},
		{user: "", want: false},
	} {
		ok, err := r.CanEdit(ctx, tt.user, "cam1")
		if err != nil {
			t.Fatalf("can edit %q: %v", tt.user, err)
		}
		if ok != tt.want {
			t.Fatalf("can edit %q: got %v want %v", tt.user, ok, tt.want)
		}
	}
	if _, err := r.CanEdit(ctx, "alice", "missing"); !errors.Is(err, ErrCameraNotFound) {
		t.Fatalf("expected not found, got: %v", err)
	}

	if err := r.Share(ctx, "cam1", "bob", false); err != nil {
		t.Fatalf("downgrade share: %v", err)
	}
	if ok, _ := r.CanEdit(ctx, "bob", "cam1"); ok {
		t.Fatal("bob must lose edit rights after downgrade")
	}
}

func TestTouchAndStatus(t *testing.T) {
	r := openTestRegistry(t)
	ctx := context.Background()
	if _, err := r.CreateCamera(ctx, Camera{ID: "cam1", Owner: "alice"}, ""); err != nil {
		t.Fatalf("create: %v", err)
	}
	seen := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
	if err := r.Touch(ctx, "cam1", seen); err != nil {
		t.Fatalf("touch: %v", err)
	}
	cam, err := r.GetCamera(ctx, "cam1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !cam.LastSeen.Equal(seen) {
		t.Fatalf("last seen mismatch: %s", cam.LastSeen)
	}
	if err := r.Touch(ctx, "missing", seen); !errors.Is(err, ErrCameraNotFound) {
		t.Fatalf("expected not found, got: %v", err)
	}

	st := StatusOf(cam, seen.Add(12*time.Second), 30*time.Second)
	if st.Status != StatusActive || st.LastSeen != "12s ago" || st.LastSeenAt != "2026-04-01T10:00:00Z" {
		t.Fatalf("unexpected status: %+v", st)
	}
}

func TestStatusOf(t *testing.T) {
	seen := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
	tests := []struct {
		name       string
		lastSeen   time.Time
		now        time.Time
		wantStatus string
		wantText   string
	}{
		{name: "never", now: seen, wantStatus: StatusInactive, wantText: "Never"},
		{name: "seconds", lastSeen: seen, now: seen.Add(29 * time.Second), wantStatus: StatusActive, wantText: "29s ago"},
		{name: "at timeout", lastSeen: seen, now: seen.Add(30 * time.Second), wantStatus: StatusInactive, wantText: "30s ago"},
		{name: "minutes", lastSeen: seen, now: seen.Add(3*time.Minute + 59*time.Second), wantStatus: StatusInactive, wantText: "3m ago"},
		{name: "hours", lastSeen: seen, now: seen.Add(2 * time.Hour), wantStatus: StatusInactive, wantText: "2h ago"},
		{name: "days", lastSeen: seen, now: seen.Add(97 * time.Hour), wantStatus: StatusInactive, wantText: "4d ago"},
		{name: "clock skew", lastSeen: seen, now: seen.Add(-time.Minute), wantStatus: StatusActive, wantText: "0s ago"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := StatusOf(Camera{ID: "cam1", LastSeen: tt.lastSeen}, tt.now, 30*time.Second)
			if st.Status != tt.wantStatus || st.LastSeen != tt.wantText {
				t.Fatalf("got %s/%q want %s/%q", st.Status, st.LastSeen, tt.wantStatus, tt.wantText)
			}
		})
	}
}

func TestEnsureCameraAutoRegisters(t *testing.T) {
	r := openTestRegistry(t)
	ctx := context.Background()

	cam, created, err := r.EnsureCamera(ctx, "new-cam", "admin")
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if !created || cam.Owner != "admin" || cam.Name != "new-cam" {
		t.Fatalf("unexpected auto-registered camera: %+v created=%v", cam, created)
	}

	again, created, err := r.EnsureCamera(ctx, "new-cam", "someone-else")
	if err != nil {
		t.Fatalf("ensure again: %v", err)
	}
	if created || again.Owner != "admin" {
		t.Fatalf("existing camera must be returned unchanged: %+v created=%v", again, created)
	}
}

func TestVerifyDeviceToken(t *testing.T) {
	r := openTestRegistry(t)
	ctx := context.Background()
	if _, err := r.CreateCamera(ctx, Camera{ID: "locked", Owner: "alice"}, "s3cret-token"); err != nil {
		t.Fatalf("create locked: %v", err)
	}
	if _, err := r.CreateCamera(ctx, Camera{ID: "open", Owner: "alice"}, ""); err != nil {
		t.Fatalf("create open: %v", err)
	}

	if err := r.VerifyDeviceToken(ctx, "locked", "s3cret-token"); err != nil {
		t.Fatalf("valid token rejected: %v", err)
	}
	if err := r.VerifyDeviceToken(ctx, "locked", "wrong"); !errors.Is(err, crypto.ErrTokenMismatch) {
		t.Fatalf("expected mismatch, got: %v", err)
	}
	if err := r.VerifyDeviceToken(ctx, "locked", ""); !errors.Is(err, crypto.ErrTokenMismatch) {
		t.Fatalf("expected mismatch for empty token, got: %v", err)
	}
	if err := r.VerifyDeviceToken(ctx, "open", ""); err != nil {
		t.Fatalf("open camera must accept uploads: %v", err)
	}
	if err := r.VerifyDeviceToken(ctx, "missing", "x"); !errors.Is(err, ErrCameraNotFound) {
		t.Fatalf("expected not found, got: %v", err)
	}

	if err := r.SetDeviceToken(ctx, "locked", ""); err != nil {
		t.Fatalf("clear token: %v", err)
	}
	if err := r.VerifyDeviceToken(ctx, "locked", ""); err != nil {
		t.Fatalf("cleared token must accept uploads: %v", err)
	}
}

func TestOpenFileDatabasePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapkeep.db")
	ctx := context.Background()

	r, err := Open(ctx, config.RegistryConfig{Driver: DriverSQLite}, path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := r.CreateCamera(ctx, Camera{ID: "cam1", Owner: "alice"}, ""); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	r, err = Open(ctx, config.RegistryConfig{Driver: DriverSQLite}, path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer r.Close()
	if _, err := r.GetCamera(ctx, "cam1"); err != nil {
		t.Fatalf("camera not persisted: %v", err)
	}
}

func TestOpenRejectsBadConfig(t *testing.T) {
	ctx := context.Background()
	if _, err := Open(ctx, config.RegistryConfig{Driver: "mysql", DSN: "x"}, ""); err == nil {
		t.Fatal("expected unsupported driver error")
	}
	if _, err := Open(ctx, config.RegistryConfig{Driver: DriverPostgres}, ""); err == nil {
		t.Fatal("expected missing dsn error")
	}
	if _, err := Open(ctx, config.RegistryConfig{Driver: DriverSQLite}, ""); err == nil {
		t.Fatal("expected missing path error")
	}
}

func TestRebindForPostgres(t *testing.T) {
	r := &Registry{driver: DriverPostgres}
	got := r.rebind("SELECT * FROM cameras WHERE owner = ? OR camera_id = ?")
	if got != "SELECT * FROM cameras WHERE owner = $1 OR camera_id = $2" {
		t.Fatalf("rebind mismatch: %q", got)
	}
	r.driver = DriverSQLite
	if got := r.rebind("a = ?"); got != "a = ?" {
		t.Fatalf("sqlite query must be unchanged, got %q", got)
	}
}
