package storage

import (
	"errors"
	"fmt"
	"path"
	"strings"
	"time"
)

const (
	SnapshotExt         = ".jpg"
	SnapshotContentType = "image/jpeg"
	snapshotLayout      = "20060102_150405"
	maxCameraIDLength   = 128
)

var ErrInvalidCameraID = errors.New("invalid camera id")

// ValidateCameraID rejects identifiers that are unsafe as a key prefix.
func ValidateCameraID(cameraID string) error {
	if cameraID == "" {
		return fmt.Errorf("%w: camera id is required", ErrInvalidCameraID)
	}
	if len(cameraID) > maxCameraIDLength {
		return fmt.Errorf("%w: longer than %d bytes", ErrInvalidCameraID, maxCameraIDLength)
	}
	if cameraID == "." || cameraID == ".." {
		return fmt.Errorf("%w: %q is reserved", ErrInvalidCameraID, cameraID)
	}
	for _, r := range cameraID {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '-', r == '_', r == '.':
		default:
			return fmt.Errorf("%w: unsupported character %q", ErrInvalidCameraID, r)
		}
	}
	return nil
}

// CameraPrefix is the namespace prefix for a camera. The trailing slash keeps
// "cam1" from matching "cam10".
func CameraPrefix(cameraID string) string {
	return cameraID + "/"
}

// SnapshotKey builds <camera_id>/<YYYYMMDD_HHMMSS>.jpg. Second granularity
// means two uploads in the same second share a key and the later one wins.
func SnapshotKey(cameraID string, at time.Time) string {
	return path.Join(cameraID, at.UTC().Format(snapshotLayout)+SnapshotExt)
}

// ParseSnapshotKey extracts the camera and capture time from a snapshot key.
func ParseSnapshotKey(key string) (string, time.Time, bool) {
	cameraID, name, ok := strings.Cut(key, "/")
	if !ok || cameraID == "" || strings.Contains(name, "/") {
		return "", time.Time{}, false
	}
	stamp, ok := strings.CutSuffix(name, SnapshotExt)
	if !ok {
		return "", time.Time{}, false
	}
	t, err := time.Parse(snapshotLayout, stamp)
	if err != nil {
		return "", time.Time{}, false
	}
	return cameraID, t.UTC(), true
}

// ValidateKey applies the relative-path rules shared by every backend.
func ValidateKey(key string) error {
	trimmed := strings.TrimSpace(key)
	if trimmed == "" || trimmed != key {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	if strings.HasPrefix(key, "/") || strings.Contains(key, "\\") {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	for _, part := range strings.Split(key, "/") {
		if part == "" || part == "." || part == ".." {
			return fmt.Errorf("%w: %q", ErrInvalidKey, key)
		}
	}
	return nil
}
