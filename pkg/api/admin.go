package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/ethpandaops/perception/pkg/api/store"
	"github.com/go-chi/chi/v5"
	"golang.org/x/crypto/bcrypt"
)

func validRole(role string) bool {
	return role == store.RoleAdmin || role == store.RoleUser
}

var errInvalidRole = fmt.Errorf("role must be %q or %q", store.RoleAdmin, store.RoleUser)

// --- User management ---

func (s *server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.store.ListUsers(r.Context())
	if err != nil {
		s.writeError(w, err, "Failed to list users")

		return
	}

	resp := make([]userResponse, 0, len(users))
	for i := range users {
		resp = append(resp, toUserResponse(&users[i]))
	}

	writeJSON(w, http.StatusOK, resp)
}

type userRequest struct {
	Username string  `json:"username"`
	Password *string `json:"password,omitempty"`
	Role     *string `json:"role,omitempty"`
}

func hashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hashing password: %w", err)
	}

	return string(hash), nil
}

// handleCreateUser adds an admin-sourced account.
func (s *server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req userRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if req.Username == "" || req.Password == nil || *req.Password == "" {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"username and password are required"})

		return
	}

	role := store.RoleUser
	if req.Role != nil {
		role = *req.Role
	}

	if !validRole(role) {
		writeJSON(w, http.StatusBadRequest, errorResponse{errInvalidRole.Error()})

		return
	}

	hash, err := hashPassword(*req.Password)
	if err != nil {
		s.writeError(w, err, "Failed to hash password")

		return
	}

	user := &store.User{
		Username:     req.Username,
		PasswordHash: hash,
		Role:         role,
		Source:       store.SourceAdmin,
	}

	if err := s.store.CreateUser(r.Context(), user); err != nil {
		writeJSON(w, http.StatusConflict,
			errorResponse{"username already exists"})

		return
	}

	writeJSON(w, http.StatusCreated, toUserResponse(user))
}

// handleUpdateUser changes a user's password or role. Admins cannot
// change their own role.
func (s *server) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{err.Error()})

		return
	}

	var req userRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	user, err := s.store.GetUserByID(r.Context(), id)
	if err != nil {
		s.writeUserError(w, err)

		return
	}

	if req.Role != nil {
		if current := userFromContext(r.Context()); current != nil && current.ID == user.ID {
			writeJSON(w, http.StatusBadRequest,
				errorResponse{"cannot change your own role"})

			return
		}

		if !validRole(*req.Role) {
			writeJSON(w, http.StatusBadRequest, errorResponse{errInvalidRole.Error()})

			return
		}

		user.Role = *req.Role
	}

	if req.Password != nil && *req.Password != "" {
		hash, err := hashPassword(*req.Password)
		if err != nil {
			s.writeError(w, err, "Failed to hash password")

			return
		}

		user.PasswordHash = hash
	}

	if err := s.store.UpdateUser(r.Context(), user); err != nil {
		s.writeError(w, err, "Failed to update user")

		return
	}

	writeJSON(w, http.StatusOK, toUserResponse(user))
}

func (s *server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{err.Error()})

		return
	}

	if current := userFromContext(r.Context()); current != nil && current.ID == id {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"cannot delete yourself"})

		return
	}

	if err := s.store.DeleteUser(r.Context(), id); err != nil {
		s.writeUserError(w, err)

		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *server) writeUserError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, errorResponse{"user not found"})

		return
	}

	s.writeError(w, err, "User store failure")
}

// --- Login session management ---

type loginSessionResponse struct {
	ID           uint       `json:"id"`
	UserID       uint       `json:"user_id"`
	Username     string     `json:"username"`
	ExpiresAt    time.Time  `json:"expires_at"`
	CreatedAt    time.Time  `json:"created_at"`
	LastActiveAt *time.Time `json:"last_active_at,omitempty"`
}

// handleListLoginSessions lists login sessions with resolved usernames.
func (s *server) handleListLoginSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.store.ListSessions(r.Context())
	if err != nil {
		s.writeError(w, err, "Failed to list sessions")

		return
	}

	users, err := s.store.ListUsers(r.Context())
	if err != nil {
		s.writeError(w, err, "Failed to list users")

		return
	}

	names := make(map[uint]string, len(users))
	for i := range users {
		names[users[i].ID] = users[i].Username
	}

	resp := make([]loginSessionResponse, 0, len(sessions))
	for i := range sessions {
		resp = append(resp, loginSessionResponse{
			ID:           sessions[i].ID,
			UserID:       sessions[i].UserID,
			Username:     names[sessions[i].UserID],
			ExpiresAt:    sessions[i].ExpiresAt.UTC(),
			CreatedAt:    sessions[i].CreatedAt.UTC(),
			LastActiveAt: sessions[i].LastActiveAt,
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *server) handleDeleteLoginSession(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{err.Error()})

		return
	}

	if err := s.store.DeleteSessionByID(r.Context(), id); err != nil {
		s.writeError(w, err, "Failed to delete session")

		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// parseIDParam reads the numeric {id} URL parameter.
func parseIDParam(r *http.Request) (uint, error) {
	raw := chi.URLParam(r, "id")

	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid id %q", raw)
	}

	return uint(id), nil
}
