package daemon

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	"snapkeep/internal/crypto"
	"snapkeep/internal/registry"
	"snapkeep/internal/storage"
	"snapkeep/internal/upload"

	"github.com/rs/zerolog"
)

const uploadSuccessMessage = "Image uploaded successfully"

// handleUpload accepts multipart/form-data with camera_id and file fields,
// or a raw body with ?camera_id=.
func (d *Daemon) handleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		d.writeUploadError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	log := zerolog.Ctx(r.Context())

	r.Body = http.MaxBytesReader(w, r.Body, d.cfg.MaxUploadBytes)
	cameraID, data, err := d.readUpload(r)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			d.writeUploadError(w, http.StatusRequestEntityTooLarge, "payload_too_large",
				fmt.Sprintf("image exceeds %d bytes", d.cfg.MaxUploadBytes))
			return
		}
		d.writeUploadError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if err := storage.ValidateCameraID(cameraID); err != nil {
		d.writeUploadError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if len(data) == 0 {
		d.writeUploadError(w, http.StatusBadRequest, "invalid_request", upload.ErrEmptyImage.Error())
		return
	}

	if ok := d.admitCamera(w, r, cameraID); !ok {
		return
	}
	if err := d.storeReady(r.Context()); err != nil {
		d.recordUploadFailure(err)
		d.writeUploadError(w, http.StatusServiceUnavailable, "store_unavailable", err.Error())
		return
	}

	out, err := d.uploads.Upload(r.Context(), cameraID, data)
	if err != nil {
		d.recordUploadFailure(err)
		switch {
		case errors.Is(err, storage.ErrStoreUnavailable):
			d.writeUploadError(w, http.StatusServiceUnavailable, "store_unavailable", err.Error())
		case errors.Is(err, storage.ErrInvalidCameraID), errors.Is(err, upload.ErrEmptyImage):
			d.writeUploadError(w, http.StatusBadRequest, "invalid_request", err.Error())
		default:
			log.Warn().Err(err).Str("camera_id", cameraID).Msg("upload failed")
			d.writeUploadError(w, http.StatusBadGateway, "upload_failed", err.Error())
		}
		return
	}

	d.writeJSON(w, http.StatusOK, uploadResponse{
		Status:  "success",
		Message: uploadSuccessMessage,
		Key:     out.Key,
	})
}

func (d *Daemon) readUpload(r *http.Request) (string, []byte, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		data, err := io.ReadAll(r.Body)
		if err != nil {
			return "", nil, err
		}
		return strings.TrimSpace(r.URL.Query().Get("camera_id")), data, nil
	}

	if err := r.ParseMultipartForm(d.cfg.MaxUploadBytes); err != nil {
		return "", nil, err
	}
	if r.MultipartForm != nil {
		defer r.MultipartForm.RemoveAll()
	}
	cameraID := strings.TrimSpace(r.FormValue("camera_id"))
	if cameraID == "" {
		cameraID = strings.TrimSpace(r.URL.Query().Get("camera_id"))
	}
	file, _, err := r.FormFile("file")
	if err != nil {
		return "", nil, fmt.Errorf("multipart field %q: %w", "file", err)
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		return "", nil, err
	}
	return cameraID, data, nil
}

// admitCamera resolves the uploading camera, registering it when
// auto_register is on, and checks its device token.
func (d *Daemon) admitCamera(w http.ResponseWriter, r *http.Request, cameraID string) bool {
	ctx := r.Context()
	if d.cfg.Registry.AutoRegister {
		_, created, err := d.registry.EnsureCamera(ctx, cameraID, d.cfg.Registry.DefaultOwner)
		if err != nil {
			d.writeUploadError(w, http.StatusInternalServerError, "registry_failed", err.Error())
			return false
		}
		if created {
			zerolog.Ctx(ctx).Info().
				Str("camera_id", cameraID).
				Str("owner", d.cfg.Registry.DefaultOwner).
				Msg("camera auto-registered")
		}
	}

	err := d.registry.VerifyDeviceToken(ctx, cameraID, r.Header.Get(deviceTokenHeader))
	switch {
	case err == nil:
		return true
	case errors.Is(err, registry.ErrCameraNotFound):
		d.writeUploadError(w, http.StatusNotFound, "camera_not_found", "camera is not registered")
	case errors.Is(err, crypto.ErrTokenMismatch):
		d.writeUploadError(w, http.StatusUnauthorized, "unauthorized", "missing or invalid device token")
	default:
		d.writeUploadError(w, http.StatusInternalServerError, "registry_failed", err.Error())
	}
	return false
}

func (d *Daemon) writeUploadError(w http.ResponseWriter, status int, code, message string) {
	d.writeJSON(w, status, uploadResponse{
		Status:  "error",
		Message: message,
		Code:    code,
	})
}
