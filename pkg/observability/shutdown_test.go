package observability

import (
	"context"
	"errors"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShutdownManager_RunsFuncsInOrder(t *testing.T) {
	logger, _ := test.NewNullLogger()
	sm := NewShutdownManager(logger, nil, time.Second)

	var order []string
	sm.RegisterShutdownFunc("engine", func(context.Context) error {
		order = append(order, "engine")
		return nil
	})
	sm.RegisterShutdownFunc("store", func(context.Context) error {
		order = append(order, "store")
		return nil
	})

	assert.NoError(t, sm.Shutdown())
	assert.Equal(t, []string{"engine", "store"}, order)
}

func TestShutdownManager_CollectsErrors(t *testing.T) {
	logger, hook := test.NewNullLogger()
	sm := NewShutdownManager(logger, nil, time.Second)

	called := false
	sm.RegisterShutdownFunc("engine", func(context.Context) error {
		return errors.New("drain timed out")
	})
	sm.RegisterShutdownFunc("store", func(context.Context) error {
		called = true
		return nil
	})

	err := sm.Shutdown()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "drain timed out")
	assert.True(t, called, "later functions still run after a failure")

	var sawError bool
	for _, e := range hook.AllEntries() {
		if e.Message == "Shutdown function failed" {
			sawError = true
		}
	}
	assert.True(t, sawError)
}

func TestShutdownManager_DefaultTimeout(t *testing.T) {
	logger, _ := test.NewNullLogger()
	sm := NewShutdownManager(logger, &http.Server{}, 0)
	assert.Equal(t, 30*time.Second, sm.shutdownTimeout)
}

func TestShutdownManager_WaitForShutdownOnContext(t *testing.T) {
	logger, _ := test.NewNullLogger()
	sm := NewShutdownManager(logger, &http.Server{}, time.Second)

	ran := make(chan struct{})
	sm.RegisterShutdownFunc("engine", func(context.Context) error {
		close(ran)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.NoError(t, sm.WaitForShutdown(ctx))
	select {
	case <-ran:
	default:
		t.Fatal("shutdown function did not run")
	}
}

func TestShutdownManager_RunsFuncsWhenServerDrainTimesOut(t *testing.T) {
	logger, _ := test.NewNullLogger()

	started := make(chan struct{})
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	server := &http.Server{Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(started)
		select {
		case <-r.Context().Done():
		case <-release:
		}
	})}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go server.Serve(ln)

	go func() {
		resp, err := http.Get("http://" + ln.Addr().String())
		if err == nil {
			resp.Body.Close()
		}
	}()
	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("request never reached the handler")
	}

	sm := NewShutdownManager(logger, server, 100*time.Millisecond)

	var drainCtxErr error
	called := false
	sm.RegisterShutdownFunc("body-writer", func(ctx context.Context) error {
		called = true
		drainCtxErr = ctx.Err()
		return nil
	})

	err = sm.Shutdown()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP server shutdown failed")
	assert.True(t, called, "shutdown functions run after a failed server drain")
	assert.NoError(t, drainCtxErr, "shutdown functions get a fresh budget")
}
