package daemon

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path"
	"strconv"
	"strings"

	"snapkeep/internal/crypto"
	"snapkeep/internal/listing"
	"snapkeep/internal/registry"
	"snapkeep/internal/storage"
)

// signedOpener is implemented by backends that serve their own presigned
// reads through the daemon.
type signedOpener interface {
	OpenSigned(key string, expiresUnix int64, signature string) (*os.File, error)
}

func (d *Daemon) newHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/status", d.handleStatus)
	mux.HandleFunc("/v1/upload", d.handleUpload)
	mux.HandleFunc("/v1/cameras", d.requireAuth(d.handleCameras))
	mux.HandleFunc("/v1/cameras/{id}", d.requireAuth(d.handleCamera))
	mux.HandleFunc("/v1/cameras/{id}/images", d.requireAuth(d.handleDisplayImages))
	mux.HandleFunc("/v1/cameras/{id}/images/all", d.requireAuth(d.handleAllImages))
	mux.HandleFunc("/v1/cameras/{id}/status", d.requireAuth(d.handleCameraStatus))
	mux.HandleFunc("/v1/cameras/{id}/live", d.requireAuth(d.handleLive))
	mux.HandleFunc("/v1/retention/run", d.requireAuth(d.handleRetentionRun))
	mux.HandleFunc(storage.ObjectsRoutePath+"{key...}", d.handleObject)
	return d.withRequestLogging(mux)
}

func (d *Daemon) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		d.writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	d.writeJSON(w, http.StatusOK, d.snapshot())
}

func (d *Daemon) handleCameras(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		d.writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}

	user := viewer(r)
	var (
		cams []registry.Camera
		err  error
	)
	if user == "" {
		cams, err = d.registry.AllCameras(r.Context())
	} else {
		cams, err = d.registry.ListCameras(r.Context(), user)
	}
	if err != nil {
		d.writeError(w, http.StatusInternalServerError, "registry_failed", err.Error())
		return
	}

	now := d.now()
	resp := camerasResponse{Cameras: make([]cameraResponse, 0, len(cams))}
	for _, cam := range cams {
		st := registry.StatusOf(cam, now, d.cfg.CameraTimeout.Duration)
		resp.Cameras = append(resp.Cameras, cameraResponse{
			Camera:   cam,
			Status:   st.Status,
			LastSeen: st.LastSeen,
			Shared:   user != "" && cam.Owner != user,
		})
	}
	d.writeJSON(w, http.StatusOK, resp)
}

// handleCamera returns one camera, or updates its name and location. Edits
// need the owner, an operator, or a share with can_edit.
func (d *Daemon) handleCamera(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodPatch {
		d.writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}

	cameraID := r.PathValue("id")
	if err := storage.ValidateCameraID(cameraID); err != nil {
		d.writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	cam, ok := d.authorizeCamera(w, r, cameraID)
	if !ok {
		return
	}
	user := viewer(r)

	if r.Method == http.MethodPatch {
		var req cameraUpdateRequest
		r.Body = http.MaxBytesReader(w, r.Body, maxCameraUpdateBytes)
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			d.writeError(w, http.StatusBadRequest, "invalid_request", "invalid camera update body")
			return
		}
		if req.Name == nil && req.Location == nil {
			d.writeError(w, http.StatusBadRequest, "invalid_request", "name or location is required")
			return
		}
		if user != "" && user != cam.Owner {
			canEdit, err := d.registry.CanEdit(r.Context(), user, cameraID)
			if err != nil {
				d.writeError(w, http.StatusInternalServerError, "registry_failed", err.Error())
				return
			}
			if !canEdit {
				d.writeError(w, http.StatusForbidden, "forbidden", "camera is shared read-only with this user")
				return
			}
		}
		if req.Name != nil {
			cam.Name = strings.TrimSpace(*req.Name)
		}
		if req.Location != nil {
			cam.Location = strings.TrimSpace(*req.Location)
		}
		if err := d.registry.UpdateCamera(r.Context(), cameraID, cam.Name, cam.Location); err != nil {
			d.writeError(w, http.StatusInternalServerError, "registry_failed", err.Error())
			return
		}
	}

	st := registry.StatusOf(cam, d.now(), d.cfg.CameraTimeout.Duration)
	d.writeJSON(w, http.StatusOK, cameraResponse{
		Camera:   cam,
		Status:   st.Status,
		LastSeen: st.LastSeen,
		Shared:   user != "" && cam.Owner != user,
	})
}

func (d *Daemon) handleDisplayImages(w http.ResponseWriter, r *http.Request) {
	d.serveImages(w, r, d.cfg.DisplayLimit)
}

func (d *Daemon) handleAllImages(w http.ResponseWriter, r *http.Request) {
	d.serveImages(w, r, 0)
}

// serveImages lists a camera newest first. defaultLimit applies when the
// request has no limit; zero means every image.
func (d *Daemon) serveImages(w http.ResponseWriter, r *http.Request, defaultLimit int) {
	if r.Method != http.MethodGet {
		d.writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}

	cameraID := r.PathValue("id")
	if err := storage.ValidateCameraID(cameraID); err != nil {
		d.writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	limit, ok := d.parseLimit(w, r, defaultLimit)
	if !ok {
		return
	}
	if _, ok := d.authorizeCamera(w, r, cameraID); !ok {
		return
	}
	if err := d.storeReady(r.Context()); err != nil {
		d.writeError(w, http.StatusServiceUnavailable, "store_unavailable", err.Error())
		return
	}

	images, err := d.listing.Images(r.Context(), cameraID, limit, d.cfg.S3.PresignTTL.Duration)
	if err != nil {
		d.writeError(w, http.StatusBadGateway, "listing_failed", err.Error())
		return
	}
	if images == nil {
		images = []listing.Image{}
	}
	d.writeJSON(w, http.StatusOK, imagesResponse{CameraID: cameraID, Images: images})
}

func (d *Daemon) handleCameraStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		d.writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}

	cameraID := r.PathValue("id")
	if err := storage.ValidateCameraID(cameraID); err != nil {
		d.writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	cam, ok := d.authorizeCamera(w, r, cameraID)
	if !ok {
		return
	}
	d.writeJSON(w, http.StatusOK, registry.StatusOf(cam, d.now(), d.cfg.CameraTimeout.Duration))
}

func (d *Daemon) handleLive(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		d.writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}

	cameraID := r.PathValue("id")
	if err := storage.ValidateCameraID(cameraID); err != nil {
		d.writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if _, ok := d.authorizeCamera(w, r, cameraID); !ok {
		return
	}
	d.hub.Serve(w, r, cameraID)
}

func (d *Daemon) handleRetentionRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		d.writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}

	query := r.URL.Query()
	dryRun := false
	if raw := strings.TrimSpace(query.Get("dry_run")); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			d.writeError(w, http.StatusBadRequest, "invalid_request", "dry_run must be a boolean")
			return
		}
		dryRun = parsed
	}
	if err := d.storeReady(r.Context()); err != nil {
		d.writeError(w, http.StatusServiceUnavailable, "store_unavailable", err.Error())
		return
	}

	cameraID := strings.TrimSpace(query.Get("camera_id"))
	if cameraID == "" {
		results, err := d.sweep(r.Context(), dryRun)
		if err != nil && results == nil {
			d.writeError(w, http.StatusInternalServerError, "retention_failed", err.Error())
			return
		}
		resp := retentionRunResponse{Results: make([]retentionResultResponse, 0, len(results))}
		for _, res := range results {
			resp.Results = append(resp.Results, newRetentionResultResponse(res.Result, res.RunErr))
		}
		d.writeJSON(w, http.StatusOK, resp)
		return
	}

	if err := storage.ValidateCameraID(cameraID); err != nil {
		d.writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if _, err := d.registry.GetCamera(r.Context(), cameraID); err != nil {
		if errors.Is(err, registry.ErrCameraNotFound) {
			d.writeError(w, http.StatusNotFound, "camera_not_found", "camera not found")
			return
		}
		d.writeError(w, http.StatusInternalServerError, "registry_failed", err.Error())
		return
	}

	res, err := d.enforce(r.Context(), cameraID, dryRun)
	if err != nil && res.Skipped {
		d.writeError(w, http.StatusBadGateway, "listing_failed", err.Error())
		return
	}
	d.recordRetention(res)
	d.writeJSON(w, http.StatusOK, retentionRunResponse{
		Results: []retentionResultResponse{newRetentionResultResponse(res, err)},
	})
}

// handleObject serves presigned reads for the local backend.
func (d *Daemon) handleObject(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		d.writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	opener, ok := d.store.(signedOpener)
	if !ok {
		d.writeError(w, http.StatusNotFound, "object_not_found", "object reads are served by the bucket")
		return
	}

	key := r.PathValue("key")
	if err := storage.ValidateKey(key); err != nil {
		d.writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	expires, err := strconv.ParseInt(r.URL.Query().Get("expires"), 10, 64)
	if err != nil {
		d.writeError(w, http.StatusForbidden, "forbidden", "missing or invalid expires")
		return
	}

	f, err := opener.OpenSigned(key, expires, r.URL.Query().Get("signature"))
	if err != nil {
		switch {
		case errors.Is(err, crypto.ErrSignatureInvalid), errors.Is(err, crypto.ErrSignatureExpired):
			d.writeError(w, http.StatusForbidden, "forbidden", err.Error())
		case errors.Is(err, os.ErrNotExist):
			d.writeError(w, http.StatusNotFound, "object_not_found", "object not found")
		default:
			d.writeError(w, http.StatusInternalServerError, "object_read_failed", err.Error())
		}
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		d.writeError(w, http.StatusInternalServerError, "object_read_failed", err.Error())
		return
	}
	w.Header().Set("Content-Type", storage.SnapshotContentType)
	http.ServeContent(w, r, path.Base(key), info.ModTime(), f)
}

func (d *Daemon) parseLimit(w http.ResponseWriter, r *http.Request, fallback int) (int, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get("limit"))
	if raw == "" {
		return fallback, true
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed < 0 {
		d.writeError(w, http.StatusBadRequest, "invalid_request", "limit must be >= 0")
		return 0, false
	}
	return parsed, true
}

func (d *Daemon) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (d *Daemon) writeError(w http.ResponseWriter, status int, code string, message string) {
	d.writeJSON(w, status, errorResponse{
		Code:    code,
		Message: message,
	})
}
