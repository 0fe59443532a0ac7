package handlers

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MoSam007/MicasaWeb/middleware"
	"github.com/MoSam007/MicasaWeb/models"
	"github.com/MoSam007/MicasaWeb/services"
	"github.com/MoSam007/MicasaWeb/utils"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// MockUserService is a mock implementation of UserService
type MockUserService struct {
	mock.Mock
}

func (m *MockUserService) ChangeRole(ctx context.Context, actor *models.User, targetUID, role string) (*models.User, error) {
	args := m.Called(ctx, actor, targetUID, role)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *MockUserService) SetActive(ctx context.Context, actor *models.User, targetUID string, active *bool) (*models.User, error) {
	args := m.Called(ctx, actor, targetUID, active)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *MockUserService) GetByUID(ctx context.Context, uid string) (*models.User, error) {
	args := m.Called(ctx, uid)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *MockUserService) Search(ctx context.Context, actor *models.User, query string, limit, offset int) ([]*models.User, error) {
	args := m.Called(ctx, actor, query, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.User), args.Error(1)
}

func (m *MockUserService) Relink(ctx context.Context, actor *models.User, targetUID, newUID string, provider models.AuthProvider) (*models.User, error) {
	args := m.Called(ctx, actor, targetUID, newUID, provider)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *MockUserService) ExportActive(ctx context.Context, actor *models.User) ([]*models.User, error) {
	args := m.Called(ctx, actor)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.User), args.Error(1)
}

func newUserRouter(svc UserService) http.Handler {
	h := NewUserHandler(svc, zap.NewNop())
	r := chi.NewRouter()
	r.Get("/api/v1/users", h.HandleSearch)
	r.Get("/api/v1/users/me", h.HandleMe)
	r.Get("/api/v1/users/export", h.HandleExport)
	r.Post("/api/v1/users/{uid}/relink", h.HandleRelink)
	r.Put("/api/v1/users/me/role", h.HandleChangeOwnRole)
	r.Get("/api/v1/users/{uid}", h.HandleGetUser)
	r.Put("/api/v1/users/{uid}/role", h.HandleChangeRole)
	r.Patch("/api/v1/users/{uid}/status", h.HandleSetStatus)
	return r
}

func asPrincipal(req *http.Request, user *models.User) *http.Request {
	return req.WithContext(middleware.WithAuthContext(req.Context(), &middleware.AuthContext{Principal: user}))
}

func TestHandleMe(t *testing.T) {
	router := newUserRouter(new(MockUserService))

	t.Run("returns the current principal", func(t *testing.T) {
		jane := models.NewUser("abc123", "jane@x.com", models.RoleHunter, models.ProviderFirebase)
		req := asPrincipal(httptest.NewRequest(http.MethodGet, "/api/v1/users/me", nil), jane)
		rec := httptest.NewRecorder()

		router.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

		var body struct {
			Data models.User `json:"data"`
		}
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
		assert.Equal(t, "abc123", body.Data.UID)
		assert.Equal(t, "jane", body.Data.Username)
		assert.Equal(t, models.RoleHunter, body.Data.Role)
		assert.True(t, body.Data.IsActive)
	})

	t.Run("returns 401 without principal", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/users/me", nil)
		rec := httptest.NewRecorder()

		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestHandleChangeOwnRole(t *testing.T) {
	jane := models.NewUser("abc123", "jane@x.com", models.RoleHunter, models.ProviderFirebase)

	t.Run("non-admin is rejected", func(t *testing.T) {
		svc := new(MockUserService)
		svc.On("ChangeRole", mock.Anything, jane, "abc123", "owner").Return(nil, services.ErrRoleImmutable)
		router := newUserRouter(svc)

		req := asPrincipal(httptest.NewRequest(http.MethodPut, "/api/v1/users/me/role", strings.NewReader(`{"role":"owner"}`)), jane)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusForbidden, rec.Code)

		var resp utils.ErrorResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		assert.Equal(t, "forbidden", resp.Error)
		assert.Equal(t, "you cannot change your role after registration", resp.Message)
		svc.AssertExpectations(t)
	})

	t.Run("role outside the set is role_invalid", func(t *testing.T) {
		svc := new(MockUserService)
		router := newUserRouter(svc)

		req := asPrincipal(httptest.NewRequest(http.MethodPut, "/api/v1/users/me/role", strings.NewReader(`{"role":"landlord"}`)), jane)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)

		var resp utils.ErrorResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		assert.Equal(t, "role_invalid", resp.Error)
		assert.Contains(t, resp.Details, "role")
		svc.AssertNotCalled(t, "ChangeRole", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("missing role is role_invalid", func(t *testing.T) {
		router := newUserRouter(new(MockUserService))

		req := asPrincipal(httptest.NewRequest(http.MethodPut, "/api/v1/users/me/role", strings.NewReader(`{}`)), jane)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("empty body is bad_request", func(t *testing.T) {
		router := newUserRouter(new(MockUserService))

		req := asPrincipal(httptest.NewRequest(http.MethodPut, "/api/v1/users/me/role", nil), jane)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)

		var resp utils.ErrorResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		assert.Equal(t, "bad_request", resp.Error)
	})
}

func TestHandleChangeRole_Admin(t *testing.T) {
	admin := models.NewUser("admin-1", "admin@x.com", models.RoleAdmin, models.ProviderClerk)
	updated := models.NewUser("abc123", "jane@x.com", models.RoleOwner, models.ProviderFirebase)

	svc := new(MockUserService)
	svc.On("ChangeRole", mock.Anything, admin, "abc123", "owner").Return(updated, nil)
	router := newUserRouter(svc)

	req := asPrincipal(httptest.NewRequest(http.MethodPut, "/api/v1/users/abc123/role", strings.NewReader(`{"role":"owner"}`)), admin)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Data models.User `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, models.RoleOwner, body.Data.Role)
	svc.AssertExpectations(t)
}

func TestHandleGetUser(t *testing.T) {
	jane := models.NewUser("abc123", "jane@x.com", models.RoleHunter, models.ProviderFirebase)
	bob := models.NewUser("bob-1", "bob@x.com", models.RoleOwner, models.ProviderFirebase)
	admin := models.NewUser("admin-1", "admin@x.com", models.RoleAdmin, models.ProviderClerk)

	tests := []struct {
		name      string
		viewer    *models.User
		wantEmail bool
	}{
		{"self sees everything", bob, true},
		{"admin sees everything", admin, true},
		{"others see public profile", jane, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(MockUserService)
			svc.On("GetByUID", mock.Anything, "bob-1").Return(bob, nil)
			router := newUserRouter(svc)

			req := asPrincipal(httptest.NewRequest(http.MethodGet, "/api/v1/users/bob-1", nil), tt.viewer)
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			require.Equal(t, http.StatusOK, rec.Code)

			var body struct {
				Data map[string]interface{} `json:"data"`
			}
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
			assert.Equal(t, "bob-1", body.Data["uid"])
			assert.Equal(t, "owner", body.Data["role"])
			_, hasEmail := body.Data["email"]
			assert.Equal(t, tt.wantEmail, hasEmail)
		})
	}

	t.Run("not found", func(t *testing.T) {
		svc := new(MockUserService)
		svc.On("GetByUID", mock.Anything, "ghost").Return(nil, services.ErrUserNotFound)
		router := newUserRouter(svc)

		req := asPrincipal(httptest.NewRequest(http.MethodGet, "/api/v1/users/ghost", nil), admin)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestHandleSetStatus(t *testing.T) {
	admin := models.NewUser("admin-1", "admin@x.com", models.RoleAdmin, models.ProviderClerk)

	t.Run("empty body toggles", func(t *testing.T) {
		jane := models.NewUser("abc123", "jane@x.com", models.RoleHunter, models.ProviderFirebase)
		jane.IsActive = false

		svc := new(MockUserService)
		svc.On("SetActive", mock.Anything, admin, "abc123", (*bool)(nil)).Return(jane, nil)
		router := newUserRouter(svc)

		req := asPrincipal(httptest.NewRequest(http.MethodPatch, "/api/v1/users/abc123/status", nil), admin)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		svc.AssertExpectations(t)
	})

	t.Run("explicit value", func(t *testing.T) {
		jane := models.NewUser("abc123", "jane@x.com", models.RoleHunter, models.ProviderFirebase)

		svc := new(MockUserService)
		svc.On("SetActive", mock.Anything, admin, "abc123", mock.MatchedBy(func(b *bool) bool {
			return b != nil && *b
		})).Return(jane, nil)
		router := newUserRouter(svc)

		req := asPrincipal(httptest.NewRequest(http.MethodPatch, "/api/v1/users/abc123/status", strings.NewReader(`{"is_active":true}`)), admin)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		svc.AssertExpectations(t)
	})

	t.Run("self deactivation rejected", func(t *testing.T) {
		svc := new(MockUserService)
		svc.On("SetActive", mock.Anything, admin, "admin-1", (*bool)(nil)).Return(nil, services.ErrSelfDeactivate)
		router := newUserRouter(svc)

		req := asPrincipal(httptest.NewRequest(http.MethodPatch, "/api/v1/users/admin-1/status", nil), admin)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestHandleSearch(t *testing.T) {
	admin := models.NewUser("admin-1", "admin@x.com", models.RoleAdmin, models.ProviderClerk)

	t.Run("passes query and paging", func(t *testing.T) {
		jane := models.NewUser("abc123", "jane@x.com", models.RoleHunter, models.ProviderFirebase)
		svc := new(MockUserService)
		svc.On("Search", mock.Anything, admin, "jan", 10, 5).Return([]*models.User{jane}, nil)
		router := newUserRouter(svc)

		req := asPrincipal(httptest.NewRequest(http.MethodGet, "/api/v1/users?query=jan&limit=10&offset=5", nil), admin)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)

		var body struct {
			Data SearchUsersResponse `json:"data"`
		}
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
		require.Len(t, body.Data.Users, 1)
		assert.Equal(t, "abc123", body.Data.Users[0].UID)
		assert.Equal(t, 10, body.Data.Limit)
		svc.AssertExpectations(t)
	})

	t.Run("empty result is an empty list", func(t *testing.T) {
		svc := new(MockUserService)
		svc.On("Search", mock.Anything, admin, "", 0, 0).Return(nil, nil)
		router := newUserRouter(svc)

		req := asPrincipal(httptest.NewRequest(http.MethodGet, "/api/v1/users", nil), admin)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"users":[]`)
	})

	t.Run("invalid limit", func(t *testing.T) {
		router := newUserRouter(new(MockUserService))

		req := asPrincipal(httptest.NewRequest(http.MethodGet, "/api/v1/users?limit=ten", nil), admin)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestHandleRelink(t *testing.T) {
	admin := models.NewUser("admin-1", "admin@x.com", models.RoleAdmin, models.ProviderClerk)

	t.Run("relinks to the new identity", func(t *testing.T) {
		moved := models.NewUser("user_2clerk", "jane@x.com", models.RoleOwner, models.ProviderClerk)
		svc := new(MockUserService)
		svc.On("Relink", mock.Anything, admin, "firebase-uid", "user_2clerk", models.ProviderClerk).Return(moved, nil)
		router := newUserRouter(svc)

		body := strings.NewReader(`{"uid":"user_2clerk","provider":"clerk"}`)
		req := asPrincipal(httptest.NewRequest(http.MethodPost, "/api/v1/users/firebase-uid/relink", body), admin)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		var resp struct {
			Data models.User `json:"data"`
		}
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		assert.Equal(t, "user_2clerk", resp.Data.UID)
		assert.Equal(t, models.ProviderClerk, resp.Data.AuthProvider)
		svc.AssertExpectations(t)
	})

	t.Run("taken uid is a conflict", func(t *testing.T) {
		svc := new(MockUserService)
		svc.On("Relink", mock.Anything, admin, "firebase-uid", "user_2clerk", models.ProviderClerk).
			Return(nil, services.ErrDuplicateUID)
		router := newUserRouter(svc)

		body := strings.NewReader(`{"uid":"user_2clerk","provider":"clerk"}`)
		req := asPrincipal(httptest.NewRequest(http.MethodPost, "/api/v1/users/firebase-uid/relink", body), admin)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("invalid body", func(t *testing.T) {
		tests := []struct {
			name  string
			body  string
			field string
		}{
			{"missing uid", `{"provider":"clerk"}`, "uid"},
			{"unknown provider", `{"uid":"x","provider":"cognito"}`, "provider"},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				svc := new(MockUserService)
				router := newUserRouter(svc)

				req := asPrincipal(httptest.NewRequest(http.MethodPost, "/api/v1/users/abc123/relink", strings.NewReader(tt.body)), admin)
				rec := httptest.NewRecorder()
				router.ServeHTTP(rec, req)

				assert.Equal(t, http.StatusBadRequest, rec.Code)
				var resp utils.ErrorResponse
				require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
				assert.Equal(t, "bad_request", resp.Error)
				assert.Contains(t, resp.Details, tt.field)
				svc.AssertNotCalled(t, "Relink", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
			})
		}
	})
}

func TestHandleExport(t *testing.T) {
	admin := models.NewUser("admin-1", "admin@x.com", models.RoleAdmin, models.ProviderClerk)

	t.Run("writes clerk import csv", func(t *testing.T) {
		jane := models.NewUser("abc123", "jane@x.com", models.RoleOwner, models.ProviderFirebase)
		noEmail := models.NewUser("user_2abcdefgh", "", models.RoleMover, models.ProviderClerk)
		svc := new(MockUserService)
		svc.On("ExportActive", mock.Anything, admin).Return([]*models.User{jane, noEmail}, nil)
		router := newUserRouter(svc)

		req := asPrincipal(httptest.NewRequest(http.MethodGet, "/api/v1/users/export", nil), admin)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "text/csv; charset=utf-8", rec.Header().Get("Content-Type"))
		assert.Contains(t, rec.Header().Get("Content-Disposition"), "users_for_clerk_import.csv")

		records, err := csv.NewReader(rec.Body).ReadAll()
		require.NoError(t, err)
		require.Len(t, records, 3)
		assert.Equal(t, []string{"email_address", "username", "first_name", "last_name", "public_metadata", "private_metadata"}, records[0])
		assert.Equal(t, []string{"jane@x.com", "jane", "", "", `{"role":"owner"}`, "{}"}, records[1])
		assert.Equal(t, "user_2ab", records[2][1])
		assert.JSONEq(t, `{"role":"mover"}`, records[2][4])
	})

	t.Run("non-admin is rejected", func(t *testing.T) {
		jane := models.NewUser("abc123", "jane@x.com", models.RoleOwner, models.ProviderFirebase)
		svc := new(MockUserService)
		svc.On("ExportActive", mock.Anything, jane).Return(nil, services.ErrInsufficientPermissions)
		router := newUserRouter(svc)

		req := asPrincipal(httptest.NewRequest(http.MethodGet, "/api/v1/users/export", nil), jane)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.NotContains(t, rec.Header().Get("Content-Type"), "csv")
	})
}
