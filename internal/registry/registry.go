// Package registry stores cameras, their owners and shares in SQLite or
// PostgreSQL.
package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"snapkeep/internal/config"
	"snapkeep/internal/crypto"
	"snapkeep/internal/storage"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

var (
	ErrCameraNotFound = errors.New("camera not found")
	ErrCameraExists   = errors.New("camera already exists")
	ErrShareNotFound  = errors.New("share not found")
	ErrShareWithOwner = errors.New("cannot share a camera with its owner")
)

type Camera struct {
	ID              string    `json:"camera_id"`
	Name            string    `json:"name"`
	Location        string    `json:"location"`
	Owner           string    `json:"owner"`
	DeviceTokenHash string    `json:"-"`
	LastSeen        time.Time `json:"-"`
	CreatedAt       time.Time `json:"created_at"`
}

func (c Camera) HasDeviceToken() bool {
	return c.DeviceTokenHash != ""
}

type Share struct {
	CameraID  string    `json:"camera_id"`
	Username  string    `json:"username"`
	CanEdit   bool      `json:"can_edit"`
	CreatedAt time.Time `json:"created_at"`
}

type Registry struct {
	db     *sql.DB
	driver string
	now    func() time.Time
}

// Open connects to the configured database and creates the schema. An empty
// sqlite dsn falls back to defaultPath.
func Open(ctx context.Context, cfg config.RegistryConfig, defaultPath string) (*Registry, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = DriverSQLite
	}

	var dsn string
	switch driver {
	case DriverSQLite:
		dsn = cfg.DSN
		if dsn == "" {
			dsn = defaultPath
		}
		if dsn == "" {
			return nil, errors.New("registry sqlite path is required")
		}
		if dsn != ":memory:" && !strings.Contains(dsn, "?") {
			dsn += "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"
		}
	case DriverPostgres:
		dsn = cfg.DSN
		if dsn == "" {
			return nil, errors.New("registry dsn is required for postgres")
		}
	default:
		return nil, fmt.Errorf("unsupported registry driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open registry: %w", err)
	}
	if driver == DriverSQLite {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping registry: %w", err)
	}

	r := &Registry{db: db, driver: driver, now: time.Now}
	if err := r.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate registry: %w", err)
	}
	return r, nil
}

func (r *Registry) Close() error {
	return r.db.Close()
}

func (r *Registry) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS cameras (
			camera_id TEXT PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			location TEXT NOT NULL DEFAULT '',
			owner TEXT NOT NULL,
			device_token_hash TEXT NOT NULL DEFAULT '',
			last_seen BIGINT NULL,
			created_at BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS camera_shares (
			camera_id TEXT NOT NULL REFERENCES cameras(camera_id) ON DELETE CASCADE,
			username TEXT NOT NULL,
			can_edit BOOLEAN NOT NULL DEFAULT FALSE,
			created_at BIGINT NOT NULL,
			PRIMARY KEY (camera_id, username)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_cameras_owner ON cameras(owner)`,
		`CREATE INDEX IF NOT EXISTS idx_camera_shares_username ON camera_shares(username)`,
	}
	for _, stmt := range stmts {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// CreateCamera registers a camera. A non-empty deviceToken is hashed and
// required on every upload from that camera.
func (r *Registry) CreateCamera(ctx context.Context, cam Camera, deviceToken string) (Camera, error) {
	if err := storage.ValidateCameraID(cam.ID); err != nil {
		return Camera{}, err
	}
	cam.Owner = strings.TrimSpace(cam.Owner)
	if cam.Owner == "" {
		return Camera{}, errors.New("camera owner is required")
	}
	if strings.TrimSpace(deviceToken) != "" {
		hash, err := crypto.HashDeviceToken(deviceToken)
		if err != nil {
			return Camera{}, fmt.Errorf("hash device token: %w", err)
		}
		cam.DeviceTokenHash = hash
	}
	cam.CreatedAt = r.now().UTC().Truncate(time.Second)
	cam.LastSeen = time.Time{}

	res, err := r.db.ExecContext(ctx, r.rebind(`
		INSERT INTO cameras (camera_id, name, location, owner, device_token_hash, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (camera_id) DO NOTHING
	`), cam.ID, cam.Name, cam.Location, cam.Owner, cam.DeviceTokenHash, cam.CreatedAt.Unix())
	if err != nil {
		return Camera{}, fmt.Errorf("insert camera: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return Camera{}, fmt.Errorf("insert camera: %w", err)
	}
	if n == 0 {
		return Camera{}, fmt.Errorf("%w: %s", ErrCameraExists, cam.ID)
	}
	return cam, nil
}

// EnsureCamera returns the camera, registering it under owner first if it
// does not exist yet. created reports whether a row was inserted.
func (r *Registry) EnsureCamera(ctx context.Context, cameraID, owner string) (Camera, bool, error) {
	cam, err := r.GetCamera(ctx, cameraID)
	if err == nil {
		return cam, false, nil
	}
	if !errors.Is(err, ErrCameraNotFound) {
		return Camera{}, false, err
	}
	cam, err = r.CreateCamera(ctx, Camera{ID: cameraID, Name: cameraID, Owner: owner}, "")
	if errors.Is(err, ErrCameraExists) {
		cam, err = r.GetCamera(ctx, cameraID)
		return cam, false, err
	}
	if err != nil {
		return Camera{}, false, err
	}
	return cam, true, nil
}

func (r *Registry) GetCamera(ctx context.Context, cameraID string) (Camera, error) {
	row := r.db.QueryRowContext(ctx, r.rebind(`
		SELECT camera_id, name, location, owner, device_token_hash, last_seen, created_at
		FROM cameras WHERE camera_id = ?
	`), cameraID)
	cam, err := scanCamera(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Camera{}, fmt.Errorf("%w: %s", ErrCameraNotFound, cameraID)
	}
	if err != nil {
		return Camera{}, fmt.Errorf("get camera: %w", err)
	}
	return cam, nil
}

func (r *Registry) UpdateCamera(ctx context.Context, cameraID, name, location string) error {
	res, err := r.db.ExecContext(ctx, r.rebind(`
		UPDATE cameras SET name = ?, location = ? WHERE camera_id = ?
	`), name, location, cameraID)
	if err != nil {
		return fmt.Errorf("update camera: %w", err)
	}
	return expectRow(res, fmt.Errorf("%w: %s", ErrCameraNotFound, cameraID))
}

// SetDeviceToken replaces the camera's upload token. An empty token removes
// the requirement.
func (r *Registry) SetDeviceToken(ctx context.Context, cameraID, deviceToken string) error {
	hash := ""
	if strings.TrimSpace(deviceToken) != "" {
		var err error
		hash, err = crypto.HashDeviceToken(deviceToken)
		if err != nil {
			return fmt.Errorf("hash device token: %w", err)
		}
	}
	res, err := r.db.ExecContext(ctx, r.rebind(`
		UPDATE cameras SET device_token_hash = ? WHERE camera_id = ?
	`), hash, cameraID)
	if err != nil {
		return fmt.Errorf("set device token: %w", err)
	}
	return expectRow(res, fmt.Errorf("%w: %s", ErrCameraNotFound, cameraID))
}

// DeleteCamera removes the camera and its shares. Stored snapshots are left
// to retention or the operator.
func (r *Registry) DeleteCamera(ctx context.Context, cameraID string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("delete camera: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, r.rebind(`DELETE FROM camera_shares WHERE camera_id = ?`), cameraID); err != nil {
		return fmt.Errorf("delete camera shares: %w", err)
	}
	res, err := tx.ExecContext(ctx, r.rebind(`DELETE FROM cameras WHERE camera_id = ?`), cameraID)
	if err != nil {
		return fmt.Errorf("delete camera: %w", err)
	}
	if err := expectRow(res, fmt.Errorf("%w: %s", ErrCameraNotFound, cameraID)); err != nil {
		return err
	}
	return tx.Commit()
}

// ListCameras returns cameras owned by or shared with user, by camera id.
func (r *Registry) ListCameras(ctx context.Context, user string) ([]Camera, error) {
	rows, err := r.db.QueryContext(ctx, r.rebind(`
		SELECT camera_id, name, location, owner, device_token_hash, last_seen, created_at
		FROM cameras
		WHERE owner = ? OR camera_id IN (SELECT camera_id FROM camera_shares WHERE username = ?)
		ORDER BY camera_id
	`), user, user)
	if err != nil {
		return nil, fmt.Errorf("list cameras: %w", err)
	}
	return collectCameras(rows)
}

func (r *Registry) AllCameras(ctx context.Context) ([]Camera, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT camera_id, name, location, owner, device_token_hash, last_seen, created_at
		FROM cameras ORDER BY camera_id
	`)
	if err != nil {
		return nil, fmt.Errorf("list cameras: %w", err)
	}
	return collectCameras(rows)
}

func (r *Registry) Share(ctx context.Context, cameraID, username string, canEdit bool) error {
	username = strings.TrimSpace(username)
	if username == "" {
		return errors.New("share username is required")
	}
	cam, err := r.GetCamera(ctx, cameraID)
	if err != nil {
		return err
	}
	if cam.Owner == username {
		return ErrShareWithOwner
	}
	_, err = r.db.ExecContext(ctx, r.rebind(`
		INSERT INTO camera_shares (camera_id, username, can_edit, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (camera_id, username) DO UPDATE SET can_edit = excluded.can_edit
	`), cameraID, username, canEdit, r.now().UTC().Unix())
	if err != nil {
		return fmt.Errorf("share camera: %w", err)
	}
	return nil
}

func (r *Registry) Unshare(ctx context.Context, cameraID, username string) error {
	res, err := r.db.ExecContext(ctx, r.rebind(`
		DELETE FROM camera_shares WHERE camera_id = ? AND username = ?
	`), cameraID, username)
	if err != nil {
		return fmt.Errorf("unshare camera: %w", err)
	}
	return expectRow(res, fmt.Errorf("%w: %s/%s", ErrShareNotFound, cameraID, username))
}

func (r *Registry) Shares(ctx context.Context, cameraID string) ([]Share, error) {
	rows, err := r.db.QueryContext(ctx, r.rebind(`
		SELECT camera_id, username, can_edit, created_at
		FROM camera_shares WHERE camera_id = ? ORDER BY username
	`), cameraID)
	if err != nil {
		return nil, fmt.Errorf("list shares: %w", err)
	}
	defer rows.Close()

	shares := make([]Share, 0)
	for rows.Next() {
		var s Share
		var created int64
		if err := rows.Scan(&s.CameraID, &s.Username, &s.CanEdit, &created); err != nil {
			return nil, fmt.Errorf("scan share: %w", err)
		}
		s.CreatedAt = time.Unix(created, 0).UTC()
		shares = append(shares, s)
	}
	return shares, rows.Err()
}

// CanView reports whether user owns the camera or has it shared.
func (r *Registry) CanView(ctx context.Context, user, cameraID string) (bool, error) {
	cam, err := r.GetCamera(ctx, cameraID)
	if err != nil {
		return false, err
	}
	if user != "" && cam.Owner == user {
		return true, nil
	}
	var n int
	err = r.db.QueryRowContext(ctx, r.rebind(`
		SELECT COUNT(*) FROM camera_shares WHERE camera_id = ? AND username = ?
	`), cameraID, user).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check share: %w", err)
	}
	return n > 0, nil
}

// CanEdit reports whether user owns the camera or holds a can_edit share.
func (r *Registry) CanEdit(ctx context.Context, user, cameraID string) (bool, error) {
	cam, err := r.GetCamera(ctx, cameraID)
	if err != nil {
		return false, err
	}
	if user != "" && cam.Owner == user {
		return true, nil
	}
	var n int
	err = r.db.QueryRowContext(ctx, r.rebind(`
		SELECT COUNT(*) FROM camera_shares WHERE camera_id = ? AND username = ? AND can_edit = ?
	`), cameraID, user, true).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check share: %w", err)
	}
	return n > 0, nil
}

// Touch records that the camera uploaded at.
func (r *Registry) Touch(ctx context.Context, cameraID string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, r.rebind(`
		UPDATE cameras SET last_seen = ? WHERE camera_id = ?
	`), at.UTC().Unix(), cameraID)
	if err != nil {
		return fmt.Errorf("touch camera: %w", err)
	}
	return expectRow(res, fmt.Errorf("%w: %s", ErrCameraNotFound, cameraID))
}

// VerifyDeviceToken checks an upload token. Cameras without a token accept
// any upload.
func (r *Registry) VerifyDeviceToken(ctx context.Context, cameraID, token string) error {
	cam, err := r.GetCamera(ctx, cameraID)
	if err != nil {
		return err
	}
	if !cam.HasDeviceToken() {
		return nil
	}
	if err := crypto.CompareDeviceToken(cam.DeviceTokenHash, token); err != nil {
		if errors.Is(err, crypto.ErrEmptyToken) {
			return crypto.ErrTokenMismatch
		}
		return err
	}
	return nil
}

func (r *Registry) rebind(query string) string {
	if r.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, ch := range query {
		if ch == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(ch)
	}
	return b.String()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCamera(row rowScanner) (Camera, error) {
	var cam Camera
	var lastSeen sql.NullInt64
	var created int64
	if err := row.Scan(&cam.ID, &cam.Name, &cam.Location, &cam.Owner, &cam.DeviceTokenHash, &lastSeen, &created); err != nil {
		return Camera{}, err
	}
	if lastSeen.Valid {
		cam.LastSeen = time.Unix(lastSeen.Int64, 0).UTC()
	}
	cam.CreatedAt = time.Unix(created, 0).UTC()
	return cam, nil
}

func collectCameras(rows *sql.Rows) ([]Camera, error) {
	defer rows.Close()
	cameras := make([]Camera, 0)
	for rows.Next() {
		cam, err := scanCamera(rows)
		if err != nil {
			return nil, fmt.Errorf("scan camera: %w", err)
		}
		cameras = append(cameras, cam)
	}
	return cameras, rows.Err()
}

func expectRow(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}
