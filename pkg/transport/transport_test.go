package transport

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPRequest_QueryAndHeader(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodGet, "/auth/github?code=abc&state=xyz", nil)
	req.Header.Set("Authorization", "Bearer tok")

	adapted := NewRequest(req)
	assert.Equal(t, http.MethodGet, adapted.Method())
	assert.Equal(t, "abc", adapted.Query("code"))
	assert.Equal(t, "xyz", adapted.Query("state"))
	assert.Empty(t, adapted.Query("missing"))
	assert.Equal(t, "Bearer tok", adapted.Header("Authorization"))
	assert.NotNil(t, adapted.Context())
}

func TestHTTPRequest_FormValue(t *testing.T) {
	t.Parallel()

	form := url.Values{"grant_type": {"authorization_code"}, "code": {"abc"}}
	req := httptest.NewRequest(http.MethodPost, "/auth/github/token", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	adapted := NewRequest(req)
	assert.Equal(t, "authorization_code", adapted.FormValue("grant_type"))
	assert.Equal(t, "abc", adapted.FormValue("code"))
}

func TestHTTPResponseWriter_WriteJSON(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	w := NewResponseWriter(rec, req)
	w.SetHeader("Cache-Control", "no-store")
	require.NoError(t, w.WriteJSON(http.StatusBadRequest, map[string]string{"error": "invalid_request"}))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	assert.JSONEq(t, `{"error":"invalid_request"}`, rec.Body.String())
}

func TestHTTPResponseWriter_Redirect(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	w := NewResponseWriter(rec, req)
	require.NoError(t, w.Redirect("https://idp.example.com/authorize?state=x"))

	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "https://idp.example.com/authorize?state=x", rec.Header().Get("Location"))
}
