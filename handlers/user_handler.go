package handlers

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/MoSam007/MicasaWeb/middleware"
	"github.com/MoSam007/MicasaWeb/models"
	"github.com/MoSam007/MicasaWeb/services"
	"github.com/MoSam007/MicasaWeb/utils"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// ChangeRoleRequest is the body of the role-change endpoints
type ChangeRoleRequest struct {
	Role string `json:"role" validate:"required,oneof=hunter owner mover admin"`
}

// SetStatusRequest is the body of PATCH /api/v1/users/{uid}/status.
// An omitted is_active toggles the current value.
type SetStatusRequest struct {
	IsActive *bool `json:"is_active,omitempty"`
}

// RelinkRequest is the body of POST /api/v1/users/{uid}/relink
type RelinkRequest struct {
	UID      string `json:"uid" validate:"required"`
	Provider string `json:"provider" validate:"required,oneof=clerk firebase"`
}

// exportColumns is the header of the user export, in the column order the
// Clerk dashboard import expects.
var exportColumns = []string{"email_address", "username", "first_name", "last_name", "public_metadata", "private_metadata"}

// SearchUsersResponse is the body of GET /api/v1/users
type SearchUsersResponse struct {
	Users  []*models.User `json:"users"`
	Limit  int            `json:"limit"`
	Offset int            `json:"offset"`
}

// UserService defines the principal operations exposed over HTTP
type UserService interface {
	ChangeRole(ctx context.Context, actor *models.User, targetUID, role string) (*models.User, error)
	SetActive(ctx context.Context, actor *models.User, targetUID string, active *bool) (*models.User, error)
	GetByUID(ctx context.Context, uid string) (*models.User, error)
	Search(ctx context.Context, actor *models.User, query string, limit, offset int) ([]*models.User, error)
	Relink(ctx context.Context, actor *models.User, targetUID, newUID string, provider models.AuthProvider) (*models.User, error)
	ExportActive(ctx context.Context, actor *models.User) ([]*models.User, error)
}

// UserHandler handles user-related HTTP requests
type UserHandler struct {
	users  UserService
	logger *zap.Logger
}

// NewUserHandler creates a new UserHandler
func NewUserHandler(users UserService, logger *zap.Logger) *UserHandler {
	return &UserHandler{
		users:  users,
		logger: logger,
	}
}

// HandleMe handles GET /api/v1/users/me
func (h *UserHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetPrincipal(r.Context())
	if principal == nil {
		HandleServiceError(w, services.ErrUnauthorized, h.logger)
		return
	}

	_ = utils.WriteOK(w, principal)
}

// HandleChangeOwnRole handles PUT /api/v1/users/me/role
func (h *UserHandler) HandleChangeOwnRole(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetPrincipal(r.Context())
	if principal == nil {
		HandleServiceError(w, services.ErrUnauthorized, h.logger)
		return
	}

	h.changeRole(w, r, principal, principal.UID)
}

// HandleChangeRole handles PUT /api/v1/users/{uid}/role
func (h *UserHandler) HandleChangeRole(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetPrincipal(r.Context())
	if principal == nil {
		HandleServiceError(w, services.ErrUnauthorized, h.logger)
		return
	}

	h.changeRole(w, r, principal, chi.URLParam(r, "uid"))
}

func (h *UserHandler) changeRole(w http.ResponseWriter, r *http.Request, actor *models.User, targetUID string) {
	var req ChangeRoleRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	user, err := h.users.ChangeRole(r.Context(), actor, targetUID, req.Role)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	_ = utils.WriteOK(w, user)
}

// HandleGetUser handles GET /api/v1/users/{uid}.
// Principals see their own record and admins see everything; others get the public profile.
func (h *UserHandler) HandleGetUser(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetPrincipal(r.Context())
	if principal == nil {
		HandleServiceError(w, services.ErrUnauthorized, h.logger)
		return
	}

	user, err := h.users.GetByUID(r.Context(), chi.URLParam(r, "uid"))
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	if principal.IsAdmin() || principal.UID == user.UID {
		_ = utils.WriteOK(w, user)
		return
	}
	_ = utils.WriteOK(w, user.Public())
}

// HandleSetStatus handles PATCH /api/v1/users/{uid}/status
func (h *UserHandler) HandleSetStatus(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetPrincipal(r.Context())
	if principal == nil {
		HandleServiceError(w, services.ErrUnauthorized, h.logger)
		return
	}

	var req SetStatusRequest
	if err := utils.DecodeJSON(r, &req); err != nil && !errors.Is(err, utils.ErrEmptyBody) {
		HandleValidationError(w, err, h.logger)
		return
	}

	user, err := h.users.SetActive(r.Context(), principal, chi.URLParam(r, "uid"), req.IsActive)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	_ = utils.WriteOK(w, user)
}

// HandleSearch handles GET /api/v1/users?query=&limit=&offset=
func (h *UserHandler) HandleSearch(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetPrincipal(r.Context())
	if principal == nil {
		HandleServiceError(w, services.ErrUnauthorized, h.logger)
		return
	}

	q := r.URL.Query()
	limit, err := intParam(q.Get("limit"))
	if err != nil {
		HandleServiceError(w, services.ErrInvalidInput.Wrap(err).WithDetail("limit", "must be an integer"), h.logger)
		return
	}
	offset, err := intParam(q.Get("offset"))
	if err != nil {
		HandleServiceError(w, services.ErrInvalidInput.Wrap(err).WithDetail("offset", "must be an integer"), h.logger)
		return
	}

	users, err := h.users.Search(r.Context(), principal, q.Get("query"), limit, offset)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	if users == nil {
		users = []*models.User{}
	}

	_ = utils.WriteOK(w, SearchUsersResponse{Users: users, Limit: limit, Offset: offset})
}

// HandleRelink handles POST /api/v1/users/{uid}/relink
func (h *UserHandler) HandleRelink(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetPrincipal(r.Context())
	if principal == nil {
		HandleServiceError(w, services.ErrUnauthorized, h.logger)
		return
	}

	var req RelinkRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	user, err := h.users.Relink(r.Context(), principal, chi.URLParam(r, "uid"), req.UID, models.AuthProvider(req.Provider))
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	_ = utils.WriteOK(w, user)
}

// HandleExport handles GET /api/v1/users/export. It streams active users as a
// CSV file ready for import into Clerk, carrying the role in public_metadata.
func (h *UserHandler) HandleExport(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetPrincipal(r.Context())
	if principal == nil {
		HandleServiceError(w, services.ErrUnauthorized, h.logger)
		return
	}

	users, err := h.users.ExportActive(r.Context(), principal)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="users_for_clerk_import.csv"`)
	w.WriteHeader(http.StatusOK)

	cw := csv.NewWriter(w)
	_ = cw.Write(exportColumns)
	for _, u := range users {
		meta, err := json.Marshal(map[string]string{"role": string(u.Role)})
		if err != nil {
			h.logger.Error("failed to encode export metadata", zap.String("uid", u.UID), zap.Error(err))
			continue
		}
		_ = cw.Write([]string{u.Email, u.Username, "", "", string(meta), "{}"})
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		h.logger.Error("failed to write user export", zap.Error(err))
	}
}

func intParam(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.Atoi(s)
}
