package users

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"chatcore/pkg/response"
)

type mockUserService struct {
	mock.Mock
}

func (m *mockUserService) CreateUser(ctx context.Context, username, displayName, email string) (User, error) {
	args := m.Called(ctx, username, displayName, email)
	user, _ := args.Get(0).(User)
	return user, args.Error(1)
}

func (m *mockUserService) UpdateUser(ctx context.Context, username, displayName, email string) (User, error) {
	args := m.Called(ctx, username, displayName, email)
	user, _ := args.Get(0).(User)
	return user, args.Error(1)
}

func (m *mockUserService) DeleteUser(ctx context.Context, username string) error {
	args := m.Called(ctx, username)
	return args.Error(0)
}

func (m *mockUserService) GetUser(ctx context.Context, username string) (User, error) {
	args := m.Called(ctx, username)
	user, _ := args.Get(0).(User)
	return user, args.Error(1)
}

func (m *mockUserService) ListUsers(ctx context.Context, page, limit int) ([]User, int64, error) {
	args := m.Called(ctx, page, limit)
	users, _ := args.Get(0).([]User)
	return users, args.Get(1).(int64), args.Error(2)
}

func (m *mockUserService) DisplayName(ctx context.Context, username string) (string, error) {
	args := m.Called(ctx, username)
	return args.String(0), args.Error(1)
}

func (m *mockUserService) Email(ctx context.Context, username string) (string, error) {
	args := m.Called(ctx, username)
	return args.String(0), args.Error(1)
}

func (m *mockUserService) TouchLastSeen(ctx context.Context, username string) error {
	args := m.Called(ctx, username)
	return args.Error(0)
}

func setupUserRouter(service UserService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h := NewUserHandler(service)
	h.RegisterRoutes(r)
	return r
}

func TestUserHandler_CreateUser_Success(t *testing.T) {
	svc := new(mockUserService)
	r := setupUserRouter(svc)

	expected := User{ID: 1, Username: "alice", DisplayName: "Alice", Email: "a@example.com"}
	svc.On("CreateUser", mock.Anything, "alice", "Alice", "a@example.com").Return(expected, nil)

	reqBody := `{"username":"alice","display_name":"Alice","email":"a@example.com"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/users", strings.NewReader(reqBody))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusCreated, w.Code)
	var resp response.APIResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.True(t, resp.Success)
	require.Equal(t, "user created", resp.Message)

	data, ok := resp.Data.(map[string]any)
	require.True(t, ok)
	require.EqualValues(t, 1, data["id"])
	require.Equal(t, "Alice", data["display_name"])

	svc.AssertExpectations(t)
}

func TestUserHandler_CreateUser_InvalidPayload(t *testing.T) {
	svc := new(mockUserService)
	r := setupUserRouter(svc)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/users", strings.NewReader(`{"email":"a@example.com"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusBadRequest, w.Code)
	var resp response.APIResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.False(t, resp.Success)
	require.Equal(t, "invalid request payload", resp.Message)

	svc.AssertNotCalled(t, "CreateUser", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestUserHandler_CreateUser_Conflict(t *testing.T) {
	svc := new(mockUserService)
	r := setupUserRouter(svc)

	svc.On("CreateUser", mock.Anything, "alice", "", "").Return(User{}, ErrUserExists)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/users", strings.NewReader(`{"username":"alice"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusConflict, w.Code)
}

func TestUserHandler_UpdateUser_NotFound(t *testing.T) {
	svc := new(mockUserService)
	r := setupUserRouter(svc)

	svc.On("UpdateUser", mock.Anything, "ghost", "New", "").Return(User{}, ErrUserNotFound)

	req := httptest.NewRequest(http.MethodPut, "/api/v1/users/ghost", strings.NewReader(`{"display_name":"New"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusNotFound, w.Code)
	var resp response.APIResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.False(t, resp.Success)
	require.Equal(t, "user not found", resp.Message)

	svc.AssertExpectations(t)
}

func TestUserHandler_DeleteUser_NotFound(t *testing.T) {
	svc := new(mockUserService)
	r := setupUserRouter(svc)

	svc.On("DeleteUser", mock.Anything, "ghost").Return(ErrUserNotFound)

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/users/ghost", nil)
	w := httptest.NewRecorder()

	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusNotFound, w.Code)
	svc.AssertExpectations(t)
}

func TestUserHandler_ListUsers_ClampsLimit(t *testing.T) {
	svc := new(mockUserService)
	r := setupUserRouter(svc)

	svc.On("ListUsers", mock.Anything, 1, 100).Return([]User{{ID: 1, Username: "alice"}}, int64(1), nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/users?page=0&limit=500", nil)
	w := httptest.NewRecorder()

	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	svc.AssertExpectations(t)
}
