package handlers

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/whizmedia/social-dashboard/backend/internal/auth"
	"github.com/whizmedia/social-dashboard/backend/internal/cloudinary"
	"github.com/whizmedia/social-dashboard/backend/internal/config"
	"github.com/whizmedia/social-dashboard/backend/internal/instagram"
	"github.com/whizmedia/social-dashboard/backend/internal/linkedin"
	"github.com/whizmedia/social-dashboard/backend/internal/metrics"
	"github.com/whizmedia/social-dashboard/backend/internal/middleware"
	"github.com/whizmedia/social-dashboard/backend/internal/models"
	"github.com/whizmedia/social-dashboard/backend/internal/security"
)

var (
	usernameRe      = regexp.MustCompile(`^[a-zA-Z0-9_]{3,20}$`)
	emailRe         = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	usernameStripRe = regexp.MustCompile(`[^a-zA-Z0-9_]`)
)

const linkTokenTTL = time.Hour

type linkedInAuthenticator interface {
	Authenticate(ctx context.Context, code string) (models.LinkedInIdentity, error)
}

type linkedInPublisher interface {
	RegisterUpload(ctx context.Context, accessToken, authorID, recipe string) (uploadURL, asset string, err error)
	UploadAsset(ctx context.Context, accessToken, uploadURL string, data []byte) error
	CreatePost(ctx context.Context, accessToken, authorID, content, asset string) (string, error)
	SendMessage(ctx context.Context, accessToken, authorID string, msg linkedin.MessageRequest) (messageID, threadID string, err error)
}

type instagramPublisher interface {
	Publish(ctx context.Context, imageURL, caption string) (string, error)
}

type Handler struct {
	db      *sql.DB
	cfg     *config.Config
	metrics *metrics.Collector

	oauth    linkedInAuthenticator
	li       linkedInPublisher
	ig       instagramPublisher
	uploader cloudinary.Uploader
}

// New wires the handler against the real provider clients. Providers whose
// credentials are absent stay nil and their endpoints fail at request time.
func New(db *sql.DB, cfg *config.Config, collector *metrics.Collector) (*Handler, error) {
	h := &Handler{
		db:      db,
		cfg:     cfg,
		metrics: collector,
		li:      linkedin.NewPublisher(security.NewSafeClient(60*time.Second), security.ValidateURL),
	}
	if cfg.LinkedInConfigured() {
		h.oauth = linkedin.NewOAuthClient(cfg.LinkedInClientID, cfg.LinkedInClientSecret, cfg.LinkedInRedirectURI)
	}
	if cfg.InstagramConfigured() {
		h.ig = instagram.NewPublisher(cfg.InstagramAccountID, cfg.InstagramAccessToken)
	}
	if cfg.CloudinaryConfigured() {
		up, err := cloudinary.New(cfg.CloudinaryCloudName, cfg.CloudinaryAPIKey, cfg.CloudinaryAPISecret)
		if err != nil {
			return nil, err
		}
		h.uploader = up
	}
	return h, nil
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "OK", "message": "Server is running"})
}

// sessionUser is the user payload returned by the auth endpoints. The session
// JWT rides both in the cookie and in the body for clients that prefer
// Authorization headers.
type sessionUser struct {
	UID             string `json:"uid"`
	Username        string `json:"username"`
	Email           string `json:"email"`
	Role            string `json:"role"`
	InstagramAccess bool   `json:"instagramAccess"`
	Token           string `json:"token"`
}

func (h *Handler) issueSession(w http.ResponseWriter, uid, role string) (string, error) {
	token, err := auth.NewSessionToken(h.cfg.JWTSecret, auth.SessionClaims{UID: uid, Role: role}, h.cfg.SessionTTL)
	if err != nil {
		return "", err
	}
	http.SetCookie(w, middleware.SessionCookie(h.cfg.CookieName, token, h.cfg.SessionTTL, h.secureCookies()))
	return token, nil
}

func (h *Handler) secureCookies() bool {
	return strings.HasPrefix(h.cfg.FrontendURL, "https://")
}

func (h *Handler) Signup(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.TrimSpace(req.Email)

	if req.Username == "" || req.Email == "" || req.Password == "" {
		writeMessage(w, http.StatusBadRequest, "All fields are required")
		return
	}
	if !emailRe.MatchString(req.Email) {
		writeMessage(w, http.StatusBadRequest, "Invalid email format")
		return
	}
	if !usernameRe.MatchString(req.Username) {
		writeMessage(w, http.StatusBadRequest, "Username must be 3-20 characters long and contain only letters, numbers, and underscores")
		return
	}
	if len(req.Password) < 6 {
		writeMessage(w, http.StatusBadRequest, "Password must be at least 6 characters")
		return
	}

	username := strings.ToLower(req.Username)

	taken, err := h.usernameExists(r.Context(), username)
	if err != nil {
		writeMessage(w, http.StatusInternalServerError, "Something went wrong")
		return
	}
	if taken {
		writeMessage(w, http.StatusBadRequest, "Username already taken")
		return
	}

	var emailExists bool
	err = h.db.QueryRowContext(r.Context(),
		`SELECT EXISTS(SELECT 1 FROM public.users WHERE lower(email) = lower($1))`, req.Email).Scan(&emailExists)
	if err != nil {
		writeMessage(w, http.StatusInternalServerError, "Something went wrong")
		return
	}
	if emailExists {
		writeMessage(w, http.StatusBadRequest, "Email already in use")
		return
	}

	hash, err := auth.HashPassword(req.Password, h.cfg.BcryptCost)
	if err != nil {
		writeMessage(w, http.StatusInternalServerError, "Something went wrong")
		return
	}

	uid := uuid.NewString()
	role, igAccess := h.grantsFor(req.Email)

	_, err = h.db.ExecContext(r.Context(), `
		INSERT INTO public.users
			(uid, username, email, password_hash, role, instagram_access, instagram_connected, linkedin_connected, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, false, false, NOW(), NOW())
	`, uid, username, req.Email, hash, role, igAccess)
	if err != nil {
		// Races with a concurrent signup land here instead of the pre-checks.
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			writeMessage(w, http.StatusBadRequest, "Username or email already in use")
			return
		}
		log.Printf("[Signup] insert error: %v", err)
		writeMessage(w, http.StatusInternalServerError, "Something went wrong")
		return
	}

	token, err := h.issueSession(w, uid, role)
	if err != nil {
		writeMessage(w, http.StatusInternalServerError, "Something went wrong")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"message": "Signup successful",
		"user": sessionUser{
			UID:             uid,
			Username:        username,
			Email:           req.Email,
			Role:            role,
			InstagramAccess: igAccess,
			Token:           token,
		},
	})
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Identifier string `json:"identifier"`
		Password   string `json:"password"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	req.Identifier = strings.TrimSpace(req.Identifier)
	if req.Identifier == "" || req.Password == "" {
		writeMessage(w, http.StatusBadRequest, "Username/Email and password are required")
		return
	}

	query := `SELECT uid, username, email, role, instagram_access, password_hash FROM public.users WHERE username = $1`
	arg := strings.ToLower(req.Identifier)
	if strings.Contains(req.Identifier, "@") {
		query = `SELECT uid, username, email, role, instagram_access, password_hash FROM public.users WHERE lower(email) = lower($1)`
		arg = req.Identifier
	}

	var u sessionUser
	var hash sql.NullString
	err := h.db.QueryRowContext(r.Context(), query, arg).
		Scan(&u.UID, &u.Username, &u.Email, &u.Role, &u.InstagramAccess, &hash)
	if err == sql.ErrNoRows {
		h.metrics.RecordLogin("failure")
		writeMessage(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}
	if err != nil {
		writeMessage(w, http.StatusInternalServerError, "Something went wrong")
		return
	}
	if !hash.Valid || !auth.VerifyPassword(hash.String, req.Password) {
		h.metrics.RecordLogin("failure")
		writeMessage(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}

	token, err := h.issueSession(w, u.UID, u.Role)
	if err != nil {
		writeMessage(w, http.StatusInternalServerError, "Something went wrong")
		return
	}
	u.Token = token

	h.metrics.RecordLogin("success")
	writeJSON(w, http.StatusOK, map[string]any{"message": "Login successful", "user": u})
}

// GoogleLogin upserts a user from an identity already verified by the
// frontend's provider SDK and starts a first-party session for it.
func (h *Handler) GoogleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UID      string  `json:"uid"`
		Email    string  `json:"email"`
		Name     string  `json:"name"`
		PhotoURL *string `json:"photoURL"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if strings.TrimSpace(req.UID) == "" || strings.TrimSpace(req.Email) == "" {
		writeMessage(w, http.StatusBadRequest, "uid and email are required")
		return
	}

	u, err := h.findOrCreateUser(r.Context(), req.UID, req.Email, req.PhotoURL)
	if err != nil {
		log.Printf("[GoogleLogin] error: %v", err)
		writeMessage(w, http.StatusInternalServerError, "Google login failed")
		return
	}

	token, err := h.issueSession(w, u.UID, u.Role)
	if err != nil {
		writeMessage(w, http.StatusInternalServerError, "Google login failed")
		return
	}
	u.Token = token

	h.metrics.RecordLogin("success")
	writeJSON(w, http.StatusOK, map[string]any{"message": "Google login successful", "user": u})
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, middleware.ClearedSessionCookie(h.cfg.CookieName))
	writeJSON(w, http.StatusOK, map[string]string{"message": "Logout successful"})
}

func (h *Handler) UpdateUsername(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		writeMessage(w, http.StatusUnauthorized, "Access token required")
		return
	}

	var req struct {
		NewUsername string `json:"newUsername"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	req.NewUsername = strings.TrimSpace(req.NewUsername)
	if req.NewUsername == "" {
		writeMessage(w, http.StatusBadRequest, "Username is required")
		return
	}
	if !usernameRe.MatchString(req.NewUsername) {
		writeMessage(w, http.StatusBadRequest, "Username must be 3-20 characters long and contain only letters, numbers, and underscores")
		return
	}

	username := strings.ToLower(req.NewUsername)

	var ownerUID string
	err := h.db.QueryRowContext(r.Context(),
		`SELECT uid FROM public.users WHERE username = $1`, username).Scan(&ownerUID)
	if err != nil && err != sql.ErrNoRows {
		writeMessage(w, http.StatusInternalServerError, "Failed to update username")
		return
	}
	if err == nil && ownerUID != user.UID {
		writeMessage(w, http.StatusBadRequest, "Username already taken")
		return
	}

	_, err = h.db.ExecContext(r.Context(),
		`UPDATE public.users SET username = $1, updated_at = NOW() WHERE uid = $2`, username, user.UID)
	if err != nil {
		writeMessage(w, http.StatusInternalServerError, "Failed to update username")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"message":  "Username updated successfully",
		"username": username,
	})
}

// ForgotPassword mints a single-use reset token. Delivery is out of band:
// the link is written to the server log for the operator's mailer to pick up.
func (h *Handler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" {
		writeMessage(w, http.StatusBadRequest, "Email is required")
		return
	}

	var exists bool
	err := h.db.QueryRowContext(r.Context(),
		`SELECT EXISTS(SELECT 1 FROM public.users WHERE lower(email) = lower($1))`, req.Email).Scan(&exists)
	if err != nil {
		writeMessage(w, http.StatusInternalServerError, "Failed to send password reset email")
		return
	}
	if !exists {
		writeMessage(w, http.StatusBadRequest, "Failed to send password reset email")
		return
	}

	tok, err := h.mintLinkToken(r.Context(), req.Email, models.LinkPurposePasswordReset)
	if err != nil {
		writeMessage(w, http.StatusInternalServerError, "Failed to send password reset email")
		return
	}
	log.Printf("[AuthLink] password reset link for %s: %s/reset-password?email=%s&oobCode=%s",
		req.Email, h.cfg.FrontendURL, url.QueryEscape(req.Email), tok)

	writeJSON(w, http.StatusOK, map[string]string{"message": "Password reset email sent successfully"})
}

// SendSignInLink mints a passwordless sign-in token. Unknown addresses are
// allowed; the account is created when the link is verified.
func (h *Handler) SendSignInLink(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" {
		writeMessage(w, http.StatusBadRequest, "Email is required")
		return
	}

	tok, err := h.mintLinkToken(r.Context(), req.Email, models.LinkPurposeEmailSignIn)
	if err != nil {
		writeMessage(w, http.StatusInternalServerError, "Failed to send sign-in link")
		return
	}
	log.Printf("[AuthLink] sign-in link for %s: %s/email-signin?email=%s&oobCode=%s",
		req.Email, h.cfg.FrontendURL, url.QueryEscape(req.Email), tok)

	writeJSON(w, http.StatusOK, map[string]string{"message": "Sign-in link sent to your email"})
}

func (h *Handler) VerifyEmailLink(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email   string `json:"email"`
		OobCode string `json:"oobCode"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Email == "" || req.OobCode == "" {
		writeMessage(w, http.StatusBadRequest, "Email and code are required")
		return
	}

	if err := h.consumeLinkToken(r.Context(), req.OobCode, req.Email, models.LinkPurposeEmailSignIn); err != nil {
		writeMessage(w, http.StatusBadRequest, "Email verification failed")
		return
	}

	u, err := h.findOrCreateUser(r.Context(), uuid.NewString(), req.Email, nil)
	if err != nil {
		log.Printf("[VerifyEmailLink] error: %v", err)
		writeMessage(w, http.StatusInternalServerError, "Email verification failed")
		return
	}

	token, err := h.issueSession(w, u.UID, u.Role)
	if err != nil {
		writeMessage(w, http.StatusInternalServerError, "Email verification failed")
		return
	}
	u.Token = token

	h.metrics.RecordLogin("success")
	writeJSON(w, http.StatusOK, map[string]any{"message": "Email verification successful", "user": u})
}

// ResetPassword consumes a forgot-password token and sets the new password.
func (h *Handler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email       string `json:"email"`
		OobCode     string `json:"oobCode"`
		NewPassword string `json:"newPassword"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Email == "" || req.OobCode == "" || req.NewPassword == "" {
		writeMessage(w, http.StatusBadRequest, "Email, code and new password are required")
		return
	}
	if len(req.NewPassword) < 6 {
		writeMessage(w, http.StatusBadRequest, "Password must be at least 6 characters")
		return
	}

	if err := h.consumeLinkToken(r.Context(), req.OobCode, req.Email, models.LinkPurposePasswordReset); err != nil {
		writeMessage(w, http.StatusBadRequest, "Password reset failed")
		return
	}

	hash, err := auth.HashPassword(req.NewPassword, h.cfg.BcryptCost)
	if err != nil {
		writeMessage(w, http.StatusInternalServerError, "Password reset failed")
		return
	}
	_, err = h.db.ExecContext(r.Context(),
		`UPDATE public.users SET password_hash = $1, updated_at = NOW() WHERE lower(email) = lower($2)`,
		hash, req.Email)
	if err != nil {
		writeMessage(w, http.StatusInternalServerError, "Password reset failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "Password reset successful"})
}

func (h *Handler) grantsFor(email string) (role string, instagramAccess bool) {
	if email == h.cfg.TestUserEmail {
		return models.RoleAdmin, true
	}
	return models.RoleUser, false
}

func (h *Handler) usernameExists(ctx context.Context, username string) (bool, error) {
	var exists bool
	err := h.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM public.users WHERE username = $1)`, username).Scan(&exists)
	return exists, err
}

// generateUniqueUsername derives a username from the email local part and
// appends a counter until it is free.
func (h *Handler) generateUniqueUsername(ctx context.Context, base string) (string, error) {
	base = usernameStripRe.ReplaceAllString(strings.ToLower(base), "")
	if base == "" {
		base = "user"
	}
	candidate := base
	for counter := 1; ; counter++ {
		taken, err := h.usernameExists(ctx, candidate)
		if err != nil {
			return "", err
		}
		if !taken {
			return candidate, nil
		}
		candidate = base + strconv.Itoa(counter)
	}
}

func (h *Handler) findOrCreateUser(ctx context.Context, uid, email string, photoURL *string) (sessionUser, error) {
	var u sessionUser
	err := h.db.QueryRowContext(ctx, `
		SELECT uid, username, email, role, instagram_access FROM public.users WHERE lower(email) = lower($1)
	`, email).Scan(&u.UID, &u.Username, &u.Email, &u.Role, &u.InstagramAccess)
	if err == nil {
		_, err = h.db.ExecContext(ctx,
			`UPDATE public.users SET updated_at = NOW() WHERE uid = $1`, u.UID)
		return u, err
	}
	if err != sql.ErrNoRows {
		return u, err
	}

	username, err := h.generateUniqueUsername(ctx, strings.SplitN(email, "@", 2)[0])
	if err != nil {
		return u, err
	}
	role, igAccess := h.grantsFor(email)

	_, err = h.db.ExecContext(ctx, `
		INSERT INTO public.users
			(uid, username, email, role, instagram_access, instagram_connected, linkedin_connected, photo_url, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, false, false, $6, NOW(), NOW())
	`, uid, username, email, role, igAccess, photoURL)
	if err != nil {
		return u, err
	}
	return sessionUser{UID: uid, Username: username, Email: email, Role: role, InstagramAccess: igAccess}, nil
}

func (h *Handler) mintLinkToken(ctx context.Context, email, purpose string) (string, error) {
	tok := uuid.NewString()
	_, err := h.db.ExecContext(ctx, `
		INSERT INTO public.auth_link_tokens (token, email, purpose, expires_at, created_at)
		VALUES ($1, $2, $3, $4, NOW())
	`, tok, email, purpose, time.Now().Add(linkTokenTTL))
	if err != nil {
		return "", err
	}
	return tok, nil
}

// consumeLinkToken atomically marks a live token used. A second verify with
// the same code fails here.
func (h *Handler) consumeLinkToken(ctx context.Context, token, email, purpose string) error {
	var consumed string
	return h.db.QueryRowContext(ctx, `
		UPDATE public.auth_link_tokens
		SET consumed_at = NOW()
		WHERE token = $1 AND lower(email) = lower($2) AND purpose = $3
		  AND consumed_at IS NULL AND expires_at > NOW()
		RETURNING token
	`, token, email, purpose).Scan(&consumed)
}
