package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/ethpandaops/perception/pkg/api/store"
	"github.com/sirupsen/logrus"
)

type contextKey string

const (
	userContextKey contextKey = "user"

	sessionCookieName = "perception_session"

	// lastActiveThrottle limits how often a login session is touched.
	lastActiveThrottle = 5 * time.Minute
)

var (
	errNoSession      = errors.New("authentication required")
	errInvalidSession = errors.New("invalid or expired session")
	errSessionExpired = errors.New("session expired")
	errUserNotFound   = errors.New("user not found")
)

// requestLogger logs incoming HTTP requests.
func (s *server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)

		s.log.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"remote":   r.RemoteAddr,
			"duration": time.Since(start),
		}).Debug("Request handled")
	})
}

// requireAuth resolves the session cookie to a user and rejects the
// request when there is none.
func (s *server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, err := s.authenticate(r)
		if err != nil {
			writeJSON(w, http.StatusUnauthorized, errorResponse{err.Error()})

			return
		}

		next.ServeHTTP(w, r.WithContext(
			context.WithValue(r.Context(), userContextKey, user),
		))
	})
}

// optionalAuth attaches the user when a valid session cookie is present
// and lets anonymous requests through.
func (s *server) optionalAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if user, err := s.authenticate(r); err == nil {
			r = r.WithContext(
				context.WithValue(r.Context(), userContextKey, user),
			)
		}

		next.ServeHTTP(w, r)
	})
}

func (s *server) authenticate(r *http.Request) (*store.User, error) {
	cookie, err := r.Cookie(sessionCookieName)
	if err != nil {
		return nil, errNoSession
	}

	session, err := s.store.GetSessionByToken(r.Context(), cookie.Value)
	if err != nil {
		return nil, errInvalidSession
	}

	if time.Now().UTC().After(session.ExpiresAt) {
		_ = s.store.DeleteSession(r.Context(), cookie.Value)

		return nil, errSessionExpired
	}

	user, err := s.store.GetUserByID(r.Context(), session.UserID)
	if err != nil {
		return nil, errUserNotFound
	}

	if session.LastActiveAt == nil ||
		time.Since(*session.LastActiveAt) > lastActiveThrottle {
		go s.touchSession(session.ID)
	}

	return user, nil
}

func (s *server) touchSession(id uint) {
	if err := s.store.UpdateSessionLastActive(
		context.Background(), id, time.Now().UTC(),
	); err != nil {
		s.log.WithError(err).Warn("Failed to update session last active")
	}
}

// requireRole checks that the authenticated user has the specified role.
func (s *server) requireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user := userFromContext(r.Context())
			if user == nil || user.Role != role {
				writeJSON(w, http.StatusForbidden,
					errorResponse{"insufficient permissions"})

				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// userFromContext extracts the authenticated user from the request context.
func userFromContext(ctx context.Context) *store.User {
	user, _ := ctx.Value(userContextKey).(*store.User)

	return user
}
