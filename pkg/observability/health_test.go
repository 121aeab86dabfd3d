package observability

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okCheck(context.Context) error { return nil }

func failCheck(context.Context) error { return errors.New("boom") }

func TestHealthChecker_Check(t *testing.T) {
	t.Run("no checks is healthy", func(t *testing.T) {
		status := NewHealthChecker("v1").Check(context.Background())
		assert.Equal(t, StatusHealthy, status.Status)
		assert.Equal(t, "v1", status.Version)
		assert.Empty(t, status.Dependencies)
	})

	t.Run("failing critical check is unhealthy", func(t *testing.T) {
		checker := NewHealthChecker("v1")
		checker.Register("postgres", true, failCheck)
		checker.Register("redis", false, okCheck)

		status := checker.Check(context.Background())
		assert.Equal(t, StatusUnhealthy, status.Status)
		assert.Equal(t, StatusUnhealthy, status.Dependencies["postgres"].Status)
		assert.Equal(t, "boom", status.Dependencies["postgres"].Message)
		assert.Equal(t, StatusHealthy, status.Dependencies["redis"].Status)
	})

	t.Run("failing optional check is degraded", func(t *testing.T) {
		checker := NewHealthChecker("v1")
		checker.Register("postgres", true, okCheck)
		checker.Register("redis", false, failCheck)

		assert.Equal(t, StatusDegraded, checker.Check(context.Background()).Status)
	})

	t.Run("critical failure wins over degraded", func(t *testing.T) {
		checker := NewHealthChecker("v1")
		checker.Register("a-redis", false, failCheck)
		checker.Register("b-postgres", true, failCheck)

		assert.Equal(t, StatusUnhealthy, checker.Check(context.Background()).Status)
	})
}

func TestHealthChecker_Routes(t *testing.T) {
	checker := NewHealthChecker("v1")
	checker.Register("postgres", true, failCheck)

	router := mux.NewRouter()
	RegisterHealthRoutes(router, checker)

	t.Run("liveness ignores dependencies", func(t *testing.T) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	for _, path := range []string{"/health", "/health/ready"} {
		t.Run("readiness "+path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
			assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

			var status HealthStatus
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&status))
			assert.Equal(t, StatusUnhealthy, status.Status)
		})
	}
}

func TestDatabaseCheck(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectPing()
		mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))

		assert.NoError(t, DatabaseCheck(db)(context.Background()))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("ping failure", func(t *testing.T) {
		db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectPing().WillReturnError(errors.New("connection refused"))

		assert.Error(t, DatabaseCheck(db)(context.Background()))
	})
}

func TestRedisCheck(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	assert.NoError(t, RedisCheck(client)(context.Background()))

	mr.Close()
	assert.Error(t, RedisCheck(client)(context.Background()))
}
