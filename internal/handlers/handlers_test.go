package handlers

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/whizmedia/social-dashboard/backend/internal/auth"
	"github.com/whizmedia/social-dashboard/backend/internal/config"
	"github.com/whizmedia/social-dashboard/backend/internal/metrics"
	"github.com/whizmedia/social-dashboard/backend/internal/middleware"
	"github.com/whizmedia/social-dashboard/backend/internal/models"
)

func testConfig() *config.Config {
	return &config.Config{
		Port:          "0",
		FrontendURL:   "http://localhost:5173",
		JWTSecret:     "test-secret",
		CookieName:    "authToken",
		SessionTTL:    7 * 24 * time.Hour,
		TestUserEmail: "user@whizmedia.com",
		BcryptCost:    4,
	}
}

func newTestHandler(t *testing.T) (*Handler, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	h := &Handler{
		db:      db,
		cfg:     testConfig(),
		metrics: metrics.NewCollector(),
		li:      &fakeLinkedInPublisher{},
	}
	return h, mock
}

func sessionCookieFrom(t *testing.T, rr *httptest.ResponseRecorder, name string) *http.Cookie {
	t.Helper()
	for _, c := range rr.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	t.Fatalf("cookie %q not set; got %v", name, rr.Result().Cookies())
	return nil
}

func TestHealth_OK(t *testing.T) {
	h, _ := newTestHandler(t)
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)

	h.Health(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rr.Code)
	}
	var out map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode json: %v body=%q", err, rr.Body.String())
	}
	if out["status"] != "OK" {
		t.Fatalf("expected status=OK got %#v", out)
	}
}

func TestSignup_Success(t *testing.T) {
	h, mock := newTestHandler(t)

	mock.ExpectQuery(`SELECT EXISTS\(SELECT 1 FROM public\.users WHERE username = \$1\)`).
		WithArgs("alice_1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectQuery(`SELECT EXISTS\(SELECT 1 FROM public\.users WHERE lower\(email\) = lower\(\$1\)\)`).
		WithArgs("alice@example.com").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectExec(`INSERT INTO public\.users`).
		WithArgs(sqlmock.AnyArg(), "alice_1", "alice@example.com", sqlmock.AnyArg(), "user", false).
		WillReturnResult(sqlmock.NewResult(0, 1))

	body := `{"username":"Alice_1","email":"alice@example.com","password":"secret123"}`
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/user/signup", bytes.NewBufferString(body))

	h.Signup(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d body=%q", rr.Code, rr.Body.String())
	}

	c := sessionCookieFrom(t, rr, "authToken")
	if !c.HttpOnly || c.SameSite != http.SameSiteStrictMode {
		t.Fatalf("expected httpOnly strict cookie, got %+v", c)
	}
	if _, err := auth.VerifySessionToken("test-secret", c.Value); err != nil {
		t.Fatalf("cookie does not carry a valid session token: %v", err)
	}

	var out struct {
		Message string      `json:"message"`
		User    sessionUser `json:"user"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode json: %v body=%q", err, rr.Body.String())
	}
	if out.User.Username != "alice_1" || out.User.Role != "user" || out.User.InstagramAccess {
		t.Fatalf("unexpected user payload: %+v", out.User)
	}
	if out.User.Token == "" || out.User.UID == "" {
		t.Fatalf("expected token and uid in payload, got %+v", out.User)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sql expectations: %v", err)
	}
}

func TestSignup_TestUserGetsAdminAndInstagram(t *testing.T) {
	h, mock := newTestHandler(t)

	mock.ExpectQuery(`WHERE username`).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectQuery(`lower\(email\)`).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectExec(`INSERT INTO public\.users`).
		WithArgs(sqlmock.AnyArg(), "whiz", "user@whizmedia.com", sqlmock.AnyArg(), "admin", true).
		WillReturnResult(sqlmock.NewResult(0, 1))

	body := `{"username":"whiz","email":"user@whizmedia.com","password":"secret123"}`
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/user/signup", bytes.NewBufferString(body))

	h.Signup(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d body=%q", rr.Code, rr.Body.String())
	}
	var out struct {
		User sessionUser `json:"user"`
	}
	_ = json.Unmarshal(rr.Body.Bytes(), &out)
	if out.User.Role != "admin" || !out.User.InstagramAccess {
		t.Fatalf("expected admin with instagram access, got %+v", out.User)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sql expectations: %v", err)
	}
}

func TestSignup_Validation(t *testing.T) {
	cases := []struct {
		name string
		body string
		msg  string
	}{
		{"missing fields", `{"username":"","email":"","password":""}`, "All fields are required"},
		{"bad email", `{"username":"alice","email":"not-an-email","password":"secret123"}`, "Invalid email format"},
		{"short username", `{"username":"ab","email":"a@b.com","password":"secret123"}`, "Username must be 3-20 characters long and contain only letters, numbers, and underscores"},
		{"bad chars", `{"username":"bad name!","email":"a@b.com","password":"secret123"}`, "Username must be 3-20 characters long and contain only letters, numbers, and underscores"},
		{"short password", `{"username":"alice","email":"a@b.com","password":"12345"}`, "Password must be at least 6 characters"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h, _ := newTestHandler(t)
			rr := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/user/signup", bytes.NewBufferString(tc.body))

			h.Signup(rr, req)

			if rr.Code != http.StatusBadRequest {
				t.Fatalf("expected 400 got %d", rr.Code)
			}
			if !strings.Contains(rr.Body.String(), tc.msg) {
				t.Fatalf("expected message %q in body %q", tc.msg, rr.Body.String())
			}
		})
	}
}

func TestSignup_UsernameTaken(t *testing.T) {
	h, mock := newTestHandler(t)

	mock.ExpectQuery(`WHERE username`).
		WithArgs("alice").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	body := `{"username":"alice","email":"a@b.com","password":"secret123"}`
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/user/signup", bytes.NewBufferString(body))

	h.Signup(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "Username already taken") {
		t.Fatalf("unexpected body %q", rr.Body.String())
	}
}

func loginRow(t *testing.T, password string) *sqlmock.Rows {
	t.Helper()
	hash, err := auth.HashPassword(password, 4)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	return sqlmock.NewRows([]string{"uid", "username", "email", "role", "instagram_access", "password_hash"}).
		AddRow("uid-1", "alice", "alice@example.com", "user", false, hash)
}

func TestLogin_SuccessWithUsername(t *testing.T) {
	h, mock := newTestHandler(t)

	mock.ExpectQuery(`FROM public\.users WHERE username = \$1`).
		WithArgs("alice").
		WillReturnRows(loginRow(t, "secret123"))

	body := `{"identifier":"Alice","password":"secret123"}`
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/user/login", bytes.NewBufferString(body))

	h.Login(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d body=%q", rr.Code, rr.Body.String())
	}
	sessionCookieFrom(t, rr, "authToken")
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sql expectations: %v", err)
	}
}

func TestLogin_SuccessWithEmail(t *testing.T) {
	h, mock := newTestHandler(t)

	mock.ExpectQuery(`FROM public\.users WHERE lower\(email\) = lower\(\$1\)`).
		WithArgs("alice@example.com").
		WillReturnRows(loginRow(t, "secret123"))

	body := `{"identifier":"alice@example.com","password":"secret123"}`
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/user/login", bytes.NewBufferString(body))

	h.Login(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d body=%q", rr.Code, rr.Body.String())
	}
}

func TestLogin_WrongPassword(t *testing.T) {
	h, mock := newTestHandler(t)

	mock.ExpectQuery(`FROM public\.users WHERE username`).
		WillReturnRows(loginRow(t, "secret123"))

	body := `{"identifier":"alice","password":"wrong-password"}`
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/user/login", bytes.NewBufferString(body))

	h.Login(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "Invalid credentials") {
		t.Fatalf("unexpected body %q", rr.Body.String())
	}
}

func TestLogin_UnknownUser(t *testing.T) {
	h, mock := newTestHandler(t)

	mock.ExpectQuery(`FROM public\.users WHERE username`).
		WillReturnError(sql.ErrNoRows)

	body := `{"identifier":"ghost","password":"secret123"}`
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/user/login", bytes.NewBufferString(body))

	h.Login(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", rr.Code)
	}
}

func TestLogin_MissingFields(t *testing.T) {
	h, _ := newTestHandler(t)
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/user/login", bytes.NewBufferString(`{"identifier":"","password":""}`))

	h.Login(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", rr.Code)
	}
}

func TestLogout_ClearsCookie(t *testing.T) {
	h, _ := newTestHandler(t)
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/user/logout", nil)

	h.Logout(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rr.Code)
	}
	c := sessionCookieFrom(t, rr, "authToken")
	if c.Value != "" || c.MaxAge >= 0 {
		t.Fatalf("expected cleared cookie, got %+v", c)
	}
}

func TestGoogleLogin_NewUser(t *testing.T) {
	h, mock := newTestHandler(t)

	mock.ExpectQuery(`SELECT uid, username, email, role, instagram_access FROM public\.users WHERE lower\(email\)`).
		WithArgs("bob@example.com").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(`WHERE username`).
		WithArgs("bob").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectExec(`INSERT INTO public\.users`).
		WithArgs("g-uid-1", "bob", "bob@example.com", "user", false, nil).
		WillReturnResult(sqlmock.NewResult(0, 1))

	body := `{"uid":"g-uid-1","email":"bob@example.com","name":"Bob"}`
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/user/google-login", bytes.NewBufferString(body))

	h.GoogleLogin(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d body=%q", rr.Code, rr.Body.String())
	}
	var out struct {
		User sessionUser `json:"user"`
	}
	_ = json.Unmarshal(rr.Body.Bytes(), &out)
	if out.User.Username != "bob" || out.User.UID != "g-uid-1" {
		t.Fatalf("unexpected user %+v", out.User)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sql expectations: %v", err)
	}
}

func TestGoogleLogin_ExistingUser(t *testing.T) {
	h, mock := newTestHandler(t)

	mock.ExpectQuery(`SELECT uid, username, email, role, instagram_access FROM public\.users WHERE lower\(email\)`).
		WithArgs("alice@example.com").
		WillReturnRows(sqlmock.NewRows([]string{"uid", "username", "email", "role", "instagram_access"}).
			AddRow("uid-1", "alice", "alice@example.com", "user", false))
	mock.ExpectExec(`UPDATE public\.users SET updated_at`).
		WithArgs("uid-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	body := `{"uid":"ignored","email":"alice@example.com"}`
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/user/google-login", bytes.NewBufferString(body))

	h.GoogleLogin(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d body=%q", rr.Code, rr.Body.String())
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sql expectations: %v", err)
	}
}

func TestUpdateUsername_Success(t *testing.T) {
	h, mock := newTestHandler(t)

	mock.ExpectQuery(`SELECT uid FROM public\.users WHERE username = \$1`).
		WithArgs("newname").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectExec(`UPDATE public\.users SET username`).
		WithArgs("newname", "uid-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPut, "/user/update-username", bytes.NewBufferString(`{"newUsername":"NewName"}`))
	req = req.WithContext(middleware.WithUser(req.Context(), &models.User{UID: "uid-1", Role: "user"}))

	h.UpdateUsername(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d body=%q", rr.Code, rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), `"username":"newname"`) {
		t.Fatalf("unexpected body %q", rr.Body.String())
	}
}

func TestUpdateUsername_TakenByOther(t *testing.T) {
	h, mock := newTestHandler(t)

	mock.ExpectQuery(`SELECT uid FROM public\.users WHERE username = \$1`).
		WithArgs("taken").
		WillReturnRows(sqlmock.NewRows([]string{"uid"}).AddRow("uid-2"))

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPut, "/user/update-username", bytes.NewBufferString(`{"newUsername":"taken"}`))
	req = req.WithContext(middleware.WithUser(req.Context(), &models.User{UID: "uid-1"}))

	h.UpdateUsername(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "Username already taken") {
		t.Fatalf("unexpected body %q", rr.Body.String())
	}
}

func TestUpdateUsername_NoSession(t *testing.T) {
	h, _ := newTestHandler(t)
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPut, "/user/update-username", bytes.NewBufferString(`{"newUsername":"whatever"}`))

	h.UpdateUsername(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", rr.Code)
	}
}

func TestForgotPassword_MintsToken(t *testing.T) {
	h, mock := newTestHandler(t)

	mock.ExpectQuery(`SELECT EXISTS\(SELECT 1 FROM public\.users WHERE lower\(email\)`).
		WithArgs("alice@example.com").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectExec(`INSERT INTO public\.auth_link_tokens`).
		WithArgs(sqlmock.AnyArg(), "alice@example.com", models.LinkPurposePasswordReset, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/user/forgot-password", bytes.NewBufferString(`{"email":"alice@example.com"}`))

	h.ForgotPassword(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d body=%q", rr.Code, rr.Body.String())
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sql expectations: %v", err)
	}
}

func TestForgotPassword_UnknownEmail(t *testing.T) {
	h, mock := newTestHandler(t)

	mock.ExpectQuery(`SELECT EXISTS\(SELECT 1 FROM public\.users WHERE lower\(email\)`).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/user/forgot-password", bytes.NewBufferString(`{"email":"ghost@example.com"}`))

	h.ForgotPassword(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", rr.Code)
	}
}

func TestVerifyEmailLink_Success(t *testing.T) {
	h, mock := newTestHandler(t)

	mock.ExpectQuery(`UPDATE public\.auth_link_tokens`).
		WithArgs("tok-1", "alice@example.com", models.LinkPurposeEmailSignIn).
		WillReturnRows(sqlmock.NewRows([]string{"token"}).AddRow("tok-1"))
	mock.ExpectQuery(`SELECT uid, username, email, role, instagram_access FROM public\.users WHERE lower\(email\)`).
		WithArgs("alice@example.com").
		WillReturnRows(sqlmock.NewRows([]string{"uid", "username", "email", "role", "instagram_access"}).
			AddRow("uid-1", "alice", "alice@example.com", "user", false))
	mock.ExpectExec(`UPDATE public\.users SET updated_at`).
		WithArgs("uid-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	body := `{"email":"alice@example.com","oobCode":"tok-1"}`
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/user/verify-email-link", bytes.NewBufferString(body))

	h.VerifyEmailLink(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d body=%q", rr.Code, rr.Body.String())
	}
	sessionCookieFrom(t, rr, "authToken")
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sql expectations: %v", err)
	}
}

func TestVerifyEmailLink_ConsumedOrExpired(t *testing.T) {
	h, mock := newTestHandler(t)

	mock.ExpectQuery(`UPDATE public\.auth_link_tokens`).
		WillReturnError(sql.ErrNoRows)

	body := `{"email":"alice@example.com","oobCode":"stale"}`
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/user/verify-email-link", bytes.NewBufferString(body))

	h.VerifyEmailLink(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "Email verification failed") {
		t.Fatalf("unexpected body %q", rr.Body.String())
	}
}

func TestResetPassword_Success(t *testing.T) {
	h, mock := newTestHandler(t)

	mock.ExpectQuery(`UPDATE public\.auth_link_tokens`).
		WithArgs("tok-2", "alice@example.com", models.LinkPurposePasswordReset).
		WillReturnRows(sqlmock.NewRows([]string{"token"}).AddRow("tok-2"))
	mock.ExpectExec(`UPDATE public\.users SET password_hash`).
		WithArgs(sqlmock.AnyArg(), "alice@example.com").
		WillReturnResult(sqlmock.NewResult(0, 1))

	body := `{"email":"alice@example.com","oobCode":"tok-2","newPassword":"brandnew1"}`
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/user/reset-password", bytesBuffer(body))

	h.ResetPassword(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d body=%q", rr.Code, rr.Body.String())
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sql expectations: %v", err)
	}
}

func TestResetPassword_ShortPassword(t *testing.T) {
	h, _ := newTestHandler(t)
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/user/reset-password",
		bytesBuffer(`{"email":"a@b.com","oobCode":"tok","newPassword":"12345"}`))

	h.ResetPassword(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", rr.Code)
	}
}

func bytesBuffer(s string) *bytes.Buffer { return bytes.NewBufferString(s) }
