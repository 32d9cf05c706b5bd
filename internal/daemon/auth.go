package daemon

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"snapkeep/internal/registry"
)

const (
	apiTokenHeader    = "X-Snapkeep-Token"
	userHeader        = "X-Snapkeep-User"
	deviceTokenHeader = "X-Snapkeep-Device-Token"
)

func (d *Daemon) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !d.authorizeRequest(r) {
			d.writeError(w, http.StatusUnauthorized, "unauthorized", "missing or invalid API token")
			return
		}
		next(w, r)
	}
}

func (d *Daemon) authorizeRequest(r *http.Request) bool {
	if len(d.authTokens) == 0 {
		return true
	}

	candidate := strings.TrimSpace(r.Header.Get(apiTokenHeader))
	if candidate == "" {
		return false
	}

	matched := 0
	for _, token := range d.authTokens {
		matched |= subtle.ConstantTimeCompare([]byte(token), []byte(candidate))
	}
	return matched == 1
}

// viewer is the identity set by the upstream session layer. An empty viewer
// is an operator holding an API token and sees every camera.
func viewer(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(userHeader))
}

// authorizeCamera writes the error response and returns false when the
// camera is unknown or the viewer may not see it.
func (d *Daemon) authorizeCamera(w http.ResponseWriter, r *http.Request, cameraID string) (registry.Camera, bool) {
	cam, err := d.registry.GetCamera(r.Context(), cameraID)
	if err != nil {
		if errors.Is(err, registry.ErrCameraNotFound) {
			d.writeError(w, http.StatusNotFound, "camera_not_found", "camera not found")
			return registry.Camera{}, false
		}
		d.writeError(w, http.StatusInternalServerError, "registry_failed", err.Error())
		return registry.Camera{}, false
	}

	user := viewer(r)
	if user == "" || user == cam.Owner {
		return cam, true
	}
	ok, err := d.registry.CanView(r.Context(), user, cameraID)
	if err != nil {
		d.writeError(w, http.StatusInternalServerError, "registry_failed", err.Error())
		return registry.Camera{}, false
	}
	if !ok {
		d.writeError(w, http.StatusForbidden, "forbidden", "camera is not shared with this user")
		return registry.Camera{}, false
	}
	return cam, true
}

func parseAuthTokens(raw string) []string {
	parts := strings.Split(raw, ",")
	tokens := make([]string, 0, len(parts))
	for _, part := range parts {
		token := strings.TrimSpace(part)
		if token == "" {
			continue
		}
		tokens = append(tokens, token)
	}
	return tokens
}
