package httputil

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePathString(t *testing.T) {
	req := httptest.NewRequest("GET", "/api/messages/m1/body", nil)
	req = mux.SetURLVars(req, map[string]string{"id": "m1"})

	val, err := ParsePathString(req, "id")
	require.NoError(t, err)
	assert.Equal(t, "m1", val)

	_, err = ParsePathString(req, "missing")
	assert.Error(t, err)
}

func TestParsePathStringOrError(t *testing.T) {
	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/", nil)

	_, ok := ParsePathStringOrError(w, req, "id")
	assert.False(t, ok)
	assert.Equal(t, 400, w.Code)
}

func TestParseHeaderTime(t *testing.T) {
	req := httptest.NewRequest("PUT", "/", nil)

	got, err := ParseHeaderTime(req, "X-Body-Expires-At")
	require.NoError(t, err)
	assert.True(t, got.IsZero())

	req.Header.Set("X-Body-Expires-At", "2030-01-02T03:04:05Z")
	got, err = ParseHeaderTime(req, "X-Body-Expires-At")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2030, 1, 2, 3, 4, 5, 0, time.UTC), got)

	req.Header.Set("X-Body-Expires-At", "tomorrow")
	_, err = ParseHeaderTime(req, "X-Body-Expires-At")
	assert.ErrorContains(t, err, "RFC 3339")
}

func TestParseHeaderDuration(t *testing.T) {
	req := httptest.NewRequest("PUT", "/", nil)

	got, err := ParseHeaderDuration(req, "X-Body-TTL")
	require.NoError(t, err)
	assert.Zero(t, got)

	req.Header.Set("X-Body-TTL", "90m")
	got, err = ParseHeaderDuration(req, "X-Body-TTL")
	require.NoError(t, err)
	assert.Equal(t, 90*time.Minute, got)

	for _, bad := range []string{"-1h", "0s", "forever"} {
		req.Header.Set("X-Body-TTL", bad)
		_, err = ParseHeaderDuration(req, "X-Body-TTL")
		assert.Error(t, err, bad)
	}
}

func TestMatchesETag(t *testing.T) {
	tests := []struct {
		header string
		etag   string
		want   bool
	}{
		{`"3"`, "3", true},
		{`W/"3"`, "3", true},
		{`"1", "3"`, "3", true},
		{`*`, "3", true},
		{`"4"`, "3", false},
		{"", "3", false},
		{`"3"`, "", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, MatchesETag(tt.header, tt.etag), "%s vs %s", tt.header, tt.etag)
	}
}
