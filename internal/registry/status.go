package registry

import (
	"fmt"
	"time"
)

const (
	StatusActive   = "active"
	StatusInactive = "inactive"
)

type CameraStatus struct {
	CameraID   string `json:"camera_id"`
	Status     string `json:"status"`
	LastSeen   string `json:"last_seen"`
	LastSeenAt string `json:"last_seen_at,omitempty"`
}

// StatusOf reports a camera as active when it uploaded within timeout.
func StatusOf(cam Camera, now time.Time, timeout time.Duration) CameraStatus {
	st := CameraStatus{CameraID: cam.ID, Status: StatusInactive, LastSeen: "Never"}
	if cam.LastSeen.IsZero() {
		return st
	}
	since := now.Sub(cam.LastSeen)
	if since < 0 {
		since = 0
	}
	if since < timeout {
		st.Status = StatusActive
	}
	st.LastSeen = humanizeSince(since)
	st.LastSeenAt = cam.LastSeen.UTC().Format(time.RFC3339)
	return st
}

func humanizeSince(d time.Duration) string {
	seconds := int64(d / time.Second)
	switch {
	case seconds < 60:
		return fmt.Sprintf("%ds ago", seconds)
	case seconds < 3600:
		return fmt.Sprintf("%dm ago", seconds/60)
	case seconds < 86400:
		return fmt.Sprintf("%dh ago", seconds/3600)
	default:
		return fmt.Sprintf("%dd ago", seconds/86400)
	}
}
