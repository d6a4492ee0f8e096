package middleware

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/whizmedia/social-dashboard/backend/internal/auth"
	"github.com/whizmedia/social-dashboard/backend/internal/models"
)

type contextKey string

const userContextKey contextKey = "session_user"

// SessionAuthenticator gates protected routes. It verifies the app session
// JWT (cookie first, then Authorization bearer), resolves the uid claim
// against the users table, and attaches the full user record to the request
// context. A token whose uid no longer exists is rejected the same way as a
// bad signature.
type SessionAuthenticator struct {
	DB         *sql.DB
	Secret     string
	CookieName string
}

// Middleware wraps next with session authentication.
func (a *SessionAuthenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := a.tokenFromRequest(r)
		if raw == "" {
			writeAuthError(w, http.StatusUnauthorized, "Access token required")
			return
		}
		claims, err := auth.VerifySessionToken(a.Secret, raw)
		if err != nil {
			writeAuthError(w, http.StatusUnauthorized, "Invalid token")
			return
		}

		user, err := a.lookupUser(r.Context(), claims.UID)
		if err != nil {
			// Token for a deleted or never-existing user: "who are you", not
			// "you may not", so 401 rather than 403.
			writeAuthError(w, http.StatusUnauthorized, "Invalid token")
			return
		}

		ctx := context.WithValue(r.Context(), userContextKey, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// tokenFromRequest prefers the session cookie over the Authorization header.
func (a *SessionAuthenticator) tokenFromRequest(r *http.Request) string {
	if c, err := r.Cookie(a.CookieName); err == nil && c.Value != "" {
		return c.Value
	}
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	return ""
}

func (a *SessionAuthenticator) lookupUser(ctx context.Context, uid string) (*models.User, error) {
	var (
		u       models.User
		photo   sql.NullString
		created sql.NullTime
		updated sql.NullTime
	)
	err := a.DB.QueryRowContext(ctx, `
		SELECT uid, username, email, role, instagram_access, instagram_connected, linkedin_connected, photo_url, created_at, updated_at
		  FROM public.users
		 WHERE uid = $1
	`, uid).Scan(&u.UID, &u.Username, &u.Email, &u.Role, &u.InstagramAccess, &u.InstagramConnected, &u.LinkedInConnected, &photo, &created, &updated)
	if err != nil {
		return nil, err
	}
	if photo.Valid {
		u.PhotoURL = &photo.String
	}
	if created.Valid {
		u.CreatedAt = created.Time
	}
	if updated.Valid {
		u.UpdatedAt = updated.Time
	}
	return &u, nil
}

// UserFromContext returns the user attached by Middleware.
func UserFromContext(ctx context.Context) (*models.User, bool) {
	u, ok := ctx.Value(userContextKey).(*models.User)
	return u, ok
}

// WithUser attaches a user record to the context. Used by tests to exercise
// handlers without running the full middleware chain.
func WithUser(ctx context.Context, u *models.User) context.Context {
	return context.WithValue(ctx, userContextKey, u)
}

// RequireAdmin allows only role=admin. 403, not 401: the caller is known,
// just not permitted.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, ok := UserFromContext(r.Context())
		if !ok || u.Role != models.RoleAdmin {
			writeAuthError(w, http.StatusForbidden, "Admin access required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireInstagramAccess allows only users whose record carries the
// instagramAccess flag.
func RequireInstagramAccess(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, ok := UserFromContext(r.Context())
		if !ok || !u.InstagramAccess {
			writeAuthError(w, http.StatusForbidden, "Instagram access not available for your account")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeAuthError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"message": message})
}

// SessionCookie builds the authToken cookie with the hardening flags the
// frontend contract expects.
func SessionCookie(name, token string, ttl time.Duration, secure bool) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    token,
		Path:     "/",
		MaxAge:   int(ttl / time.Second),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteStrictMode,
	}
}

// ClearedSessionCookie expires the session cookie immediately.
func ClearedSessionCookie(name string) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	}
}
