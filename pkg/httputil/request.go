package httputil

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
)

// ParsePathString extracts a string path parameter
func ParsePathString(r *http.Request, key string) (string, error) {
	str := mux.Vars(r)[key]
	if str == "" {
		return "", fmt.Errorf("missing path parameter: %s", key)
	}
	return str, nil
}

// ParsePathStringOrError extracts a string path parameter and writes error on failure
func ParsePathStringOrError(w http.ResponseWriter, r *http.Request, key string) (string, bool) {
	val, err := ParsePathString(r, key)
	if err != nil {
		WriteBadRequest(w, err.Error())
		return "", false
	}
	return val, true
}

// ParseHeaderTime parses an RFC 3339 timestamp header. A missing header
// yields the zero time.
func ParseHeaderTime(r *http.Request, key string) (time.Time, error) {
	value := strings.TrimSpace(r.Header.Get(key))
	if value == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid %s header: must be RFC 3339", key)
	}
	return t, nil
}

// ParseHeaderDuration parses a Go duration header. A missing header yields
// zero.
func ParseHeaderDuration(r *http.Request, key string) (time.Duration, error) {
	value := strings.TrimSpace(r.Header.Get(key))
	if value == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s header: must be a positive duration", key)
	}
	return d, nil
}

// MatchesETag reports whether an If-None-Match header value matches etag.
// Weak validators and the * wildcard are honored.
func MatchesETag(ifNoneMatch, etag string) bool {
	if ifNoneMatch == "" || etag == "" {
		return false
	}
	for _, candidate := range strings.Split(ifNoneMatch, ",") {
		candidate = strings.TrimSpace(candidate)
		if candidate == "*" {
			return true
		}
		candidate = strings.TrimPrefix(candidate, "W/")
		if strings.Trim(candidate, `"`) == etag {
			return true
		}
	}
	return false
}
