package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	pkgredis "github.com/prohmpiriya/booking-rush-gate/pkg/redis"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type checkerFunc func(ctx context.Context) error

func (f checkerFunc) HealthCheck(ctx context.Context) error { return f(ctx) }

func serveProbe(h *HealthHandler, path string, fn gin.HandlerFunc) (*httptest.ResponseRecorder, ReadyResponse) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, path, nil)
	fn(c)
	var resp ReadyResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	return w, resp
}

func TestHealthHandler_Health(t *testing.T) {
	h := NewHealthHandler(nil)

	w, resp := serveProbe(h, "/health", h.Health)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "healthy", resp.Status)
}

func TestHealthHandler_Ready(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	h := NewHealthHandler(map[string]HealthChecker{
		"redis":    pkgredis.Wrap(rdb),
		"database": nil,
	})

	w, resp := serveProbe(h, "/ready", h.Ready)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ready", resp.Status)
	assert.Equal(t, "healthy", resp.Components["redis"])
	assert.Equal(t, "not configured", resp.Components["database"])
}

func TestHealthHandler_NotReady(t *testing.T) {
	h := NewHealthHandler(map[string]HealthChecker{
		"redis":    checkerFunc(func(context.Context) error { return nil }),
		"database": checkerFunc(func(context.Context) error { return errors.New("connection refused") }),
	})

	w, resp := serveProbe(h, "/ready", h.Ready)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "not ready", resp.Status)
	assert.Equal(t, "unhealthy: connection refused", resp.Components["database"])
	assert.Equal(t, "healthy", resp.Components["redis"])
}
