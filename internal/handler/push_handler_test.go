package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/prohmpiriya/booking-rush-gate/internal/domain"
	"github.com/prohmpiriya/booking-rush-gate/internal/repository"
	pkgredis "github.com/prohmpiriya/booking-rush-gate/pkg/redis"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newPushStore(t *testing.T) *repository.RedisPushStore {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	push := repository.NewRedisPushStore(pkgredis.Wrap(rdb), 10)
	t.Cleanup(func() { _ = push.Close() })
	return push
}

func setupPushTestRouter(admission *MockAdmissionService, push repository.PushStore) *gin.Engine {
	h := NewPushHandler(admission, push, 50*time.Millisecond, nil)
	r := newTestRouter()
	r.GET("/api/v1/queue/stream", h.Stream)
	return r
}

// openStream serves one stream request until the client goes away after d
func openStream(r http.Handler, target string, headers map[string]string, d time.Duration) *httptest.ResponseRecorder {
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, target, nil).WithContext(ctx)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestPushHandler_ReplaysAfterLastEventID(t *testing.T) {
	push := newPushStore(t)
	ctx := context.Background()
	now := time.Now()
	first, err := push.Append(ctx, "alice", domain.WaitingMessage("evt-1", 2, now))
	require.NoError(t, err)
	second, err := push.Append(ctx, "alice", &domain.PushMessage{Kind: domain.PushStatus, EventID: "evt-1", Status: domain.StatusPromoted, EntryToken: "tok", At: now})
	require.NoError(t, err)
	third, err := push.Append(ctx, "alice", domain.ExpiredMessage("evt-1", domain.ReasonTTL, now))
	require.NoError(t, err)

	w := openStream(setupPushTestRouter(new(MockAdmissionService), push), "/api/v1/queue/stream",
		map[string]string{"X-User-ID": "alice", "Last-Event-ID": first}, 200*time.Millisecond)

	body := w.Body.String()
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	assert.NotContains(t, body, "id:"+first+"\n")
	assert.Contains(t, body, "id:"+second+"\n")
	assert.Contains(t, body, "id:"+third+"\n")
	assert.Less(t, strings.Index(body, second), strings.Index(body, third))
	assert.Contains(t, body, `"entry_token":"tok"`)
	assert.Contains(t, body, "event:heartbeat")
}

func TestPushHandler_SendsCurrentStateFirst(t *testing.T) {
	push := newPushStore(t)
	exp := time.Now().Add(time.Minute)
	admission := new(MockAdmissionService)
	admission.On("Status", mock.Anything, "evt-1", "alice").Return(&domain.AdmissionState{
		EventID:    "evt-1",
		UserID:     "alice",
		Status:     domain.StatusPromoted,
		EntryToken: "tok",
		ExpiresAt:  &exp,
	}, nil)

	w := openStream(setupPushTestRouter(admission, push), "/api/v1/queue/stream?event_id=evt-1",
		map[string]string{"X-User-ID": "alice"}, 150*time.Millisecond)

	body := w.Body.String()
	require.True(t, strings.HasPrefix(body, "event:status\n"), body)
	assert.Contains(t, body, `"status":"PROMOTED"`)
	assert.Contains(t, body, `"entry_token":"tok"`)
}

func TestPushHandler_HeartbeatRefreshesRank(t *testing.T) {
	push := newPushStore(t)
	admission := new(MockAdmissionService)
	admission.On("Status", mock.Anything, "evt-1", "alice").Return(&domain.AdmissionState{
		EventID: "evt-1",
		Status:  domain.StatusWaiting,
		Rank:    4,
	}, nil).Once()
	admission.On("Status", mock.Anything, "evt-1", "alice").Return(&domain.AdmissionState{
		EventID: "evt-1",
		Status:  domain.StatusWaiting,
		Rank:    1,
	}, nil)

	w := openStream(setupPushTestRouter(admission, push), "/api/v1/queue/stream?event_id=evt-1",
		map[string]string{"X-User-ID": "alice"}, 200*time.Millisecond)

	body := w.Body.String()
	assert.Contains(t, body, `"rank":4`)
	assert.Contains(t, body, "event:heartbeat")
	assert.Contains(t, body, `"rank":1`)
}

func TestPushHandler_DeliversLiveMessages(t *testing.T) {
	push := newPushStore(t)
	r := setupPushTestRouter(new(MockAdmissionService), push)

	go func() {
		time.Sleep(60 * time.Millisecond)
		_, _ = push.Append(context.Background(), "alice", domain.ExpiredMessage("evt-1", domain.ReasonRevoked, time.Now()))
	}()
	w := openStream(r, "/api/v1/queue/stream", map[string]string{"X-User-ID": "alice"}, 300*time.Millisecond)

	body := w.Body.String()
	assert.Contains(t, body, `"status":"EXPIRED"`)
	assert.Contains(t, body, `"reason":"revoked"`)
}

func TestPushHandler_Errors(t *testing.T) {
	push := newPushStore(t)
	r := setupPushTestRouter(new(MockAdmissionService), push)

	w := openStream(r, "/api/v1/queue/stream", nil, 100*time.Millisecond)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = openStream(r, "/api/v1/queue/stream", map[string]string{"X-User-ID": "alice", "Last-Event-ID": "not-a-cursor"}, 100*time.Millisecond)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_CURSOR", decodeError(t, w).Code)
}
