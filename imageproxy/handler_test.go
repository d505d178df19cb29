package imageproxy

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestHandlerSuccess(t *testing.T) {
	doer := &stubDoer{status: http.StatusOK, body: pngBytes(t, 10, 10)}
	p := newProxy(t, doer)

	req := httptest.NewRequest(http.MethodGet, "/image?url=https://coverart.example.org/a.png", nil)
	rec := httptest.NewRecorder()
	p.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/jpeg", rec.Header().Get("Content-Type"))
	assert.Equal(t, immutableCacheControl, rec.Header().Get("Cache-Control"))
	assert.NotEmpty(t, rec.Body.Bytes())
}

func TestHandlerMissingURL(t *testing.T) {
	doer := &stubDoer{status: http.StatusOK, body: pngBytes(t, 10, 10)}
	p := newProxy(t, doer)

	req := httptest.NewRequest(http.MethodGet, "/image", nil)
	rec := httptest.NewRecorder()
	p.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_parameter", decodeError(t, rec).Error.Code)
	assert.Equal(t, 0, doer.callCount())
}

func TestHandlerBadDimension(t *testing.T) {
	doer := &stubDoer{status: http.StatusOK, body: pngBytes(t, 10, 10)}
	p := newProxy(t, doer)

	req := httptest.NewRequest(http.MethodGet, "/image?url=https://coverart.example.org/a.png&w=wide", nil)
	rec := httptest.NewRecorder()
	p.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_parameter", decodeError(t, rec).Error.Code)
	assert.Equal(t, 0, doer.callCount())
}

func TestHandlerDisallowedHost(t *testing.T) {
	doer := &stubDoer{status: http.StatusOK, body: pngBytes(t, 10, 10)}
	p := newProxy(t, doer, "coverart.example.org")

	req := httptest.NewRequest(http.MethodGet, "/image?url=https://evil.example.com/a.png", nil)
	rec := httptest.NewRecorder()
	p.Handler().ServeHTTP(rec, req)

	// The code distinguishes a blocked host from a missing parameter.
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "disallowed_host", decodeError(t, rec).Error.Code)
	assert.Equal(t, 0, doer.callCount())
	assert.Equal(t, 0, p.Cache().Len())
}

func TestHandlerUpstreamPassthrough(t *testing.T) {
	doer := &stubDoer{status: http.StatusGone}
	p := newProxy(t, doer)

	req := httptest.NewRequest(http.MethodGet, "/image?url=https://coverart.example.org/a.png", nil)
	rec := httptest.NewRecorder()
	p.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusGone, rec.Code)
	assert.Equal(t, "upstream_error", decodeError(t, rec).Error.Code)
}

func TestHandlerTransformFailure(t *testing.T) {
	doer := &stubDoer{status: http.StatusOK, body: []byte("junk")}
	p := newProxy(t, doer)

	req := httptest.NewRequest(http.MethodGet, "/image?url=https://coverart.example.org/a.png", nil)
	rec := httptest.NewRecorder()
	p.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "transform_failed", decodeError(t, rec).Error.Code)
}

func TestHandlerMethodNotAllowed(t *testing.T) {
	doer := &stubDoer{status: http.StatusOK, body: pngBytes(t, 10, 10)}
	p := newProxy(t, doer)

	req := httptest.NewRequest(http.MethodPost, "/image?url=https://coverart.example.org/a.png", nil)
	rec := httptest.NewRecorder()
	p.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
