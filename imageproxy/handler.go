package imageproxy

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/cockroachdb/errors"
)

// immutableCacheControl marks transformed images as permanently valid;
// cover art for a given fingerprint never changes.
const immutableCacheControl = "public, max-age=31536000, immutable"

type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Handler exposes Resolve over HTTP. Query parameters: url (required),
// w (default 180), h (default 180), q (default 80).
func (p *Proxy) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "only GET is supported")
			return
		}

		query := r.URL.Query()
		width, ok := intParam(query.Get("w"), DefaultWidth)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_parameter", "w must be an integer")
			return
		}
		height, ok := intParam(query.Get("h"), DefaultHeight)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_parameter", "h must be an integer")
			return
		}
		quality, ok := intParam(query.Get("q"), DefaultQuality)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_parameter", "q must be an integer")
			return
		}

		data, contentType, err := p.Resolve(r.Context(), query.Get("url"), width, height, quality)
		if err != nil {
			p.writeResolveError(w, err)
			return
		}

		w.Header().Set("Content-Type", contentType)
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		w.Header().Set("Cache-Control", immutableCacheControl)
		w.WriteHeader(http.StatusOK)
		if r.Method == http.MethodGet {
			w.Write(data)
		}
	})
}

func (p *Proxy) writeResolveError(w http.ResponseWriter, err error) {
	var upstream *UpstreamError
	switch {
	case errors.Is(err, ErrMissingParam):
		writeError(w, http.StatusBadRequest, "invalid_parameter", err.Error())
	case errors.Is(err, ErrDisallowedHost):
		writeError(w, http.StatusForbidden, "disallowed_host", err.Error())
	case errors.As(err, &upstream):
		writeError(w, upstream.StatusCode, "upstream_error", err.Error())
	case errors.Is(err, ErrUpstreamUnreachable):
		writeError(w, http.StatusInternalServerError, "upstream_unreachable", err.Error())
	case errors.Is(err, ErrTransform):
		writeError(w, http.StatusInternalServerError, "transform_failed", err.Error())
	default:
		p.log.Error("resolve failed: %+v", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "internal error")
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	var body errorBody
	body.Error.Code = code
	body.Error.Message = message
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func intParam(raw string, def int) (int, bool) {
	if raw == "" {
		return def, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return v, true
}
