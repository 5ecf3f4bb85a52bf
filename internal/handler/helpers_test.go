package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prohmpiriya/booking-rush-gate/internal/domain"
	"github.com/prohmpiriya/booking-rush-gate/internal/middleware"
	"github.com/prohmpiriya/booking-rush-gate/pkg/response"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// MockAdmissionService is a mock implementation of service.AdmissionService
type MockAdmissionService struct {
	mock.Mock
}

func (m *MockAdmissionService) Enter(ctx context.Context, eventID, userID string) (*domain.AdmissionState, error) {
	args := m.Called(ctx, eventID, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.AdmissionState), args.Error(1)
}

func (m *MockAdmissionService) Status(ctx context.Context, eventID, userID string) (*domain.AdmissionState, error) {
	args := m.Called(ctx, eventID, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.AdmissionState), args.Error(1)
}

func (m *MockAdmissionService) QueueStatus(ctx context.Context, eventID string) (*domain.QueueStatus, error) {
	args := m.Called(ctx, eventID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.QueueStatus), args.Error(1)
}

// MockCheckoutService is a mock implementation of service.CheckoutService
type MockCheckoutService struct {
	mock.Mock
}

func (m *MockCheckoutService) Select(ctx context.Context, grant *domain.EntryGrant, seatIDs []string) (*domain.Reservation, error) {
	args := m.Called(ctx, grant, seatIDs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Reservation), args.Error(1)
}

func (m *MockCheckoutService) Release(ctx context.Context, grant *domain.EntryGrant, seatIDs []string) ([]string, error) {
	args := m.Called(ctx, grant, seatIDs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockCheckoutService) Complete(ctx context.Context, grant *domain.EntryGrant, seatIDs []string) (*domain.Ticket, error) {
	args := m.Called(ctx, grant, seatIDs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Ticket), args.Error(1)
}

// MockAdminService is a mock implementation of service.AdminService
type MockAdminService struct {
	mock.Mock
}

func (m *MockAdminService) SetEventCapacity(ctx context.Context, eventID string, ceiling int64) error {
	return m.Called(ctx, eventID, ceiling).Error(0)
}

func (m *MockAdminService) RegisterSeats(ctx context.Context, eventID string, seatIDs []string) (int64, error) {
	args := m.Called(ctx, eventID, seatIDs)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockAdminService) SeatMap(ctx context.Context, eventID string) ([]domain.Seat, error) {
	args := m.Called(ctx, eventID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Seat), args.Error(1)
}

func (m *MockAdminService) RevokeEntry(ctx context.Context, userID string) (string, bool, error) {
	args := m.Called(ctx, userID)
	return args.String(0), args.Bool(1), args.Error(2)
}

// testGrant is the entry grant injected by the test router
var testGrant = &domain.EntryGrant{UserID: "alice", EventID: "evt-1", Token: "entry-token"}

// newTestRouter sets user_id from X-User-ID and, when X-Test-Grant is
// present, the entry grant, in place of the real auth middlewares
func newTestRouter() *gin.Engine {
	r := gin.New()
	r.Use(func(c *gin.Context) {
		if uid := c.GetHeader("X-User-ID"); uid != "" {
			c.Set(middleware.UserIDKey, uid)
		}
		c.Next()
	})
	return r
}

// withGrant emulates EntryTokenGuard for handler tests
func withGrant(c *gin.Context) {
	if c.GetHeader("X-Test-Grant") != "" {
		middleware.SetEntryGrant(c, testGrant)
	}
	c.Next()
}

func doJSON(r http.Handler, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

// decodeData unmarshals the data field of a success envelope into out
func decodeData(t *testing.T, w *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	var env struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	require.True(t, env.Success, w.Body.String())
	require.NoError(t, json.Unmarshal(env.Data, out))
}

// decodeError returns the error envelope of a failed response
func decodeError(t *testing.T, w *httptest.ResponseRecorder) *response.ErrorData {
	t.Helper()
	var env response.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	require.False(t, env.Success)
	require.NotNil(t, env.Error)
	return env.Error
}
