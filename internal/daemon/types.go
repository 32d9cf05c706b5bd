package daemon

import (
	"time"

	"snapkeep/internal/listing"
	"snapkeep/internal/registry"
	"snapkeep/internal/retention"
)

type daemonStatus struct {
	RetentionMode    string
	RetentionBudget  string
	Uploads          int64
	UploadFailures   int64
	Evictions        int64
	EvictionFailures int64
	LastUploadAt     time.Time
	LastSweepAt      time.Time
	NextSweepAt      time.Time
	LastError        string
}

type statusResponse struct {
	State            string `json:"state"`
	StoreAvailable   bool   `json:"store_available"`
	RetentionMode    string `json:"retention_mode"`
	RetentionBudget  string `json:"retention_budget"`
	Uploads          int64  `json:"uploads"`
	UploadFailures   int64  `json:"upload_failures"`
	Evictions        int64  `json:"evictions"`
	EvictionFailures int64  `json:"eviction_failures"`
	LastUploadAt     string `json:"last_upload_at,omitempty"`
	LastSweepAt      string `json:"last_sweep_at,omitempty"`
	NextSweepAt      string `json:"next_sweep_at,omitempty"`
	LastError        string `json:"last_error,omitempty"`
}

// uploadResponse is the shape camera firmware expects.
type uploadResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
	Key     string `json:"key,omitempty"`
}

type imagesResponse struct {
	CameraID string          `json:"camera_id"`
	Images   []listing.Image `json:"images"`
}

type cameraResponse struct {
	registry.Camera
	Status   string `json:"status"`
	LastSeen string `json:"last_seen"`
	Shared   bool   `json:"shared"`
}

type camerasResponse struct {
	Cameras []cameraResponse `json:"cameras"`
}

type retentionFailure struct {
	Key   string `json:"key"`
	Error string `json:"error"`
}

type retentionResultResponse struct {
	CameraID      string             `json:"camera_id"`
	Mode          string             `json:"mode"`
	DryRun        bool               `json:"dry_run"`
	Skipped       bool               `json:"skipped"`
	Listed        int                `json:"listed"`
	Candidates    []string           `json:"candidates"`
	Deleted       []string           `json:"deleted"`
	Failures      []retentionFailure `json:"failures,omitempty"`
	RetainedCount int                `json:"retained_count"`
	RetainedBytes int64              `json:"retained_bytes"`
	Error         string             `json:"error,omitempty"`
}

type retentionRunResponse struct {
	Results []retentionResultResponse `json:"results"`
}

const maxCameraUpdateBytes = 64 << 10

type cameraUpdateRequest struct {
	Name     *string `json:"name"`
	Location *string `json:"location"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func newRetentionResultResponse(res retention.Result, err error) retentionResultResponse {
	out := retentionResultResponse{
		CameraID:      res.CameraID,
		Mode:          string(res.Mode),
		DryRun:        res.DryRun,
		Skipped:       res.Skipped,
		Listed:        res.Listed,
		Candidates:    nonNil(res.Candidates),
		Deleted:       nonNil(res.Deleted),
		RetainedCount: res.RetainedCount,
		RetainedBytes: res.RetainedBytes,
	}
	for _, f := range res.Failures {
		out.Failures = append(out.Failures, retentionFailure{Key: f.Key, Error: f.Err.Error()})
	}
	if err != nil {
		out.Error = err.Error()
	}
	return out
}

func nonNil(keys []string) []string {
	if keys == nil {
		return []string{}
	}
	return keys
}
