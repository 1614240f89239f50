package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"golang.org/x/crypto/bcrypt"
)

const testSecret = "test-jwt-secret-key"

func newTestHandler(t *testing.T) (*Handler, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("create pgxmock pool: %v", err)
	}
	handler := NewHandler(mock, testSecret, false)
	return handler, mock
}

func expectInsertRefreshToken(mock pgxmock.PgxPoolIface, userID string) {
	mock.ExpectExec(`INSERT INTO refresh_tokens`).
		WithArgs(pgxmock.AnyArg(), userID, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
}

func decodeTokenResponse(t *testing.T, rec *httptest.ResponseRecorder) tokenResponse {
	t.Helper()
	var resp tokenResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp
}

func decodeErrorResponse(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode error response: %v", err)
	}
	return body.Error
}

func findCookie(cookies []*http.Cookie, name string) *http.Cookie {
	for _, c := range cookies {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func hashPassword(t *testing.T, password string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	return string(hash)
}

type mockEmailSender struct {
	lastEmail     string
	lastName      string
	lastResetLink string
	lastBrowseURL string
	welcomeCalled bool
	sendErr       error
}

func (m *mockEmailSender) SendPasswordReset(_ context.Context, toEmail, toName, resetLink string) error {
	m.lastEmail = toEmail
	m.lastName = toName
	m.lastResetLink = resetLink
	return m.sendErr
}

func (m *mockEmailSender) SendWelcome(_ context.Context, toEmail, toName, browseURL string) error {
	m.welcomeCalled = true
	m.lastEmail = toEmail
	m.lastName = toName
	m.lastBrowseURL = browseURL
	return m.sendErr
}

type fakeGuard struct {
	locked   bool
	failures []string
	resets   []string
}

func (g *fakeGuard) Locked(_ context.Context, _ string) (bool, int) { return g.locked, 120 }
func (g *fakeGuard) RecordFailure(_ context.Context, email string) {
	g.failures = append(g.failures, email)
}
func (g *fakeGuard) Reset(_ context.Context, email string) { g.resets = append(g.resets, email) }

// --- Register ---

func TestRegister_Success(t *testing.T) {
	handler, mock := newTestHandler(t)
	defer mock.Close()
	sender := &mockEmailSender{}
	handler.SetEmailSender(sender, "https://watch.example.com/")

	mock.ExpectQuery(`INSERT INTO users`).
		WithArgs("alice@example.com", pgxmock.AnyArg(), "Alice").
		WillReturnRows(pgxmock.NewRows([]string{"id", "role"}).AddRow("user-uuid-1", "user"))
	expectInsertRefreshToken(mock, "user-uuid-1")

	body := `{"email":" Alice@Example.com ","password":"strongpass123","name":"Alice"}`
	req := httptest.NewRequest(http.MethodPost, "/api/auth/register", strings.NewReader(body))
	rec := httptest.NewRecorder()

	handler.Register(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status %d, got %d: %s", http.StatusCreated, rec.Code, rec.Body.String())
	}
	resp := decodeTokenResponse(t, rec)
	claims, err := ValidateToken(testSecret, resp.AccessToken)
	if err != nil {
		t.Fatalf("access token invalid: %v", err)
	}
	if claims.UserID != "user-uuid-1" || claims.Role != RoleUser {
		t.Errorf("unexpected claims: %+v", claims)
	}
	cookie := findCookie(rec.Result().Cookies(), "refresh_token")
	if cookie == nil || cookie.Path != "/api/auth" || !cookie.HttpOnly {
		t.Fatalf("expected HttpOnly refresh cookie on /api/auth, got %+v", cookie)
	}
	if !sender.welcomeCalled || sender.lastBrowseURL != "https://watch.example.com/browse" {
		t.Errorf("expected welcome email with browse link, got %+v", sender)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet mock expectations: %v", err)
	}
}

func TestRegister_ValidationErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"missing email", `{"password":"strongpass123","name":"Alice"}`},
		{"missing password", `{"email":"alice@example.com","name":"Alice"}`},
		{"missing name", `{"email":"alice@example.com","password":"strongpass123"}`},
		{"invalid email", `{"email":"not-an-email","password":"strongpass123","name":"Alice"}`},
		{"short password", `{"email":"alice@example.com","password":"short","name":"Alice"}`},
		{"long password", `{"email":"alice@example.com","password":"` + strings.Repeat("x", 73) + `","name":"Alice"}`},
		{"invalid json", `{not json`},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			handler, mock := newTestHandler(t)
			defer mock.Close()

			req := httptest.NewRequest(http.MethodPost, "/api/auth/register", strings.NewReader(tc.body))
			rec := httptest.NewRecorder()

			handler.Register(rec, req)

			if rec.Code != http.StatusBadRequest {
				t.Errorf("expected status %d, got %d", http.StatusBadRequest, rec.Code)
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unexpected database calls: %v", err)
			}
		})
	}
}

func TestRegister_DuplicateEmail(t *testing.T) {
	handler, mock := newTestHandler(t)
	defer mock.Close()

	mock.ExpectQuery(`INSERT INTO users`).
		WithArgs("alice@example.com", pgxmock.AnyArg(), "Alice").
		WillReturnError(&pgconn.PgError{Code: "23505"})

	body := `{"email":"alice@example.com","password":"strongpass123","name":"Alice"}`
	req := httptest.NewRequest(http.MethodPost, "/api/auth/register", strings.NewReader(body))
	rec := httptest.NewRecorder()

	handler.Register(rec, req)

	if rec.Code != http.StatusConflict {
		t.Errorf("expected status %d, got %d", http.StatusConflict, rec.Code)
	}
}

func TestRegister_DBErrorIsGeneric500(t *testing.T) {
	handler, mock := newTestHandler(t)
	defer mock.Close()

	mock.ExpectQuery(`INSERT INTO users`).
		WithArgs("alice@example.com", pgxmock.AnyArg(), "Alice").
		WillReturnError(errors.New("connection refused"))

	body := `{"email":"alice@example.com","password":"strongpass123","name":"Alice"}`
	req := httptest.NewRequest(http.MethodPost, "/api/auth/register", strings.NewReader(body))
	rec := httptest.NewRecorder()

	handler.Register(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected status %d, got %d", http.StatusInternalServerError, rec.Code)
	}
	if msg := decodeErrorResponse(t, rec); strings.Contains(msg, "connection refused") {
		t.Errorf("internal error leaked: %q", msg)
	}
}

func TestRegister_WelcomeEmailFailureDoesNotFailSignup(t *testing.T) {
	handler, mock := newTestHandler(t)
	defer mock.Close()
	handler.SetEmailSender(&mockEmailSender{sendErr: errors.New("smtp down")}, "https://watch.example.com")

	mock.ExpectQuery(`INSERT INTO users`).
		WithArgs("alice@example.com", pgxmock.AnyArg(), "Alice").
		WillReturnRows(pgxmock.NewRows([]string{"id", "role"}).AddRow("user-uuid-1", "user"))
	expectInsertRefreshToken(mock, "user-uuid-1")

	body := `{"email":"alice@example.com","password":"strongpass123","name":"Alice"}`
	req := httptest.NewRequest(http.MethodPost, "/api/auth/register", strings.NewReader(body))
	rec := httptest.NewRecorder()

	handler.Register(rec, req)

	if rec.Code != http.StatusCreated {
		t.Errorf("expected status %d, got %d", http.StatusCreated, rec.Code)
	}
}

// --- Login ---

func TestLogin_Success(t *testing.T) {
	handler, mock := newTestHandler(t)
	defer mock.Close()
	guard := &fakeGuard{}
	handler.SetLoginGuard(guard)

	mock.ExpectQuery(`SELECT id, password, role FROM users WHERE email`).
		WithArgs("admin@example.com").
		WillReturnRows(pgxmock.NewRows([]string{"id", "password", "role"}).
			AddRow("user-uuid-2", hashPassword(t, "correct-horse"), "admin"))
	expectInsertRefreshToken(mock, "user-uuid-2")

	body := `{"email":"admin@example.com","password":"correct-horse"}`
	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader(body))
	rec := httptest.NewRecorder()

	handler.Login(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, rec.Code, rec.Body.String())
	}
	claims, err := ValidateToken(testSecret, decodeTokenResponse(t, rec).AccessToken)
	if err != nil {
		t.Fatalf("access token invalid: %v", err)
	}
	if claims.Role != RoleAdmin {
		t.Errorf("expected admin role in token, got %q", claims.Role)
	}
	if len(guard.resets) != 1 {
		t.Errorf("expected failure counter reset on success, got %v", guard.resets)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet mock expectations: %v", err)
	}
}

func TestLogin_WrongPasswordRecordsFailure(t *testing.T) {
	handler, mock := newTestHandler(t)
	defer mock.Close()
	guard := &fakeGuard{}
	handler.SetLoginGuard(guard)

	mock.ExpectQuery(`SELECT id, password, role FROM users WHERE email`).
		WithArgs("alice@example.com").
		WillReturnRows(pgxmock.NewRows([]string{"id", "password", "role"}).
			AddRow("user-uuid-1", hashPassword(t, "correct-horse"), "user"))

	body := `{"email":"alice@example.com","password":"wrong-horse"}`
	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader(body))
	rec := httptest.NewRecorder()

	handler.Login(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected status %d, got %d", http.StatusUnauthorized, rec.Code)
	}
	if len(guard.failures) != 1 || guard.failures[0] != "alice@example.com" {
		t.Errorf("expected one recorded failure, got %v", guard.failures)
	}
}

func TestLogin_UnknownEmail(t *testing.T) {
	handler, mock := newTestHandler(t)
	defer mock.Close()

	mock.ExpectQuery(`SELECT id, password, role FROM users WHERE email`).
		WithArgs("nobody@example.com").
		WillReturnError(pgx.ErrNoRows)

	body := `{"email":"nobody@example.com","password":"whatever123"}`
	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader(body))
	rec := httptest.NewRecorder()

	handler.Login(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected status %d, got %d", http.StatusUnauthorized, rec.Code)
	}
	if msg := decodeErrorResponse(t, rec); msg != "invalid email or password" {
		t.Errorf("unexpected message %q", msg)
	}
}

func TestLogin_LockedOut(t *testing.T) {
	handler, mock := newTestHandler(t)
	defer mock.Close()
	handler.SetLoginGuard(&fakeGuard{locked: true})

	body := `{"email":"alice@example.com","password":"whatever123"}`
	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader(body))
	rec := httptest.NewRecorder()

	handler.Login(rec, req)

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected status %d, got %d", http.StatusTooManyRequests, rec.Code)
	}
	if rec.Header().Get("Retry-After") != "120" {
		t.Errorf("expected Retry-After 120, got %q", rec.Header().Get("Retry-After"))
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("expected no database calls: %v", err)
	}
}

func TestLogin_MissingFields(t *testing.T) {
	handler, mock := newTestHandler(t)
	defer mock.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader(`{"email":"a@example.com"}`))
	rec := httptest.NewRecorder()

	handler.Login(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected status %d, got %d", http.StatusBadRequest, rec.Code)
	}
}

// --- Refresh ---

func TestRefresh_RotatesToken(t *testing.T) {
	handler, mock := newTestHandler(t)
	defer mock.Close()

	refreshToken, _ := GenerateRefreshToken(testSecret, "user-uuid-1", "token-1")

	mock.ExpectQuery(`SELECT rt.revoked, rt.expires_at, u.role FROM refresh_tokens`).
		WithArgs("token-1", "user-uuid-1").
		WillReturnRows(pgxmock.NewRows([]string{"revoked", "expires_at", "role"}).
			AddRow(false, time.Now().Add(time.Hour), "user"))
	mock.ExpectExec(`UPDATE refresh_tokens SET revoked`).
		WithArgs("token-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	expectInsertRefreshToken(mock, "user-uuid-1")

	req := httptest.NewRequest(http.MethodPost, "/api/auth/refresh", nil)
	req.AddCookie(&http.Cookie{Name: "refresh_token", Value: refreshToken})
	rec := httptest.NewRecorder()

	handler.Refresh(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, rec.Code, rec.Body.String())
	}
	cookie := findCookie(rec.Result().Cookies(), "refresh_token")
	if cookie == nil || cookie.Value == "" || cookie.Value == refreshToken {
		t.Error("expected a new refresh token cookie")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet mock expectations: %v", err)
	}
}

func TestRefresh_RevokedToken(t *testing.T) {
	handler, mock := newTestHandler(t)
	defer mock.Close()

	refreshToken, _ := GenerateRefreshToken(testSecret, "user-uuid-1", "token-1")

	mock.ExpectQuery(`SELECT rt.revoked, rt.expires_at, u.role FROM refresh_tokens`).
		WithArgs("token-1", "user-uuid-1").
		WillReturnRows(pgxmock.NewRows([]string{"revoked", "expires_at", "role"}).
			AddRow(true, time.Now().Add(time.Hour), "user"))

	req := httptest.NewRequest(http.MethodPost, "/api/auth/refresh", nil)
	req.AddCookie(&http.Cookie{Name: "refresh_token", Value: refreshToken})
	rec := httptest.NewRecorder()

	handler.Refresh(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected status %d, got %d", http.StatusUnauthorized, rec.Code)
	}
}

func TestRefresh_NoCookie(t *testing.T) {
	handler, mock := newTestHandler(t)
	defer mock.Close()

	rec := httptest.NewRecorder()
	handler.Refresh(rec, httptest.NewRequest(http.MethodPost, "/api/auth/refresh", nil))

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected status %d, got %d", http.StatusUnauthorized, rec.Code)
	}
}

func TestRefresh_AccessTokenUsedAsRefresh(t *testing.T) {
	handler, mock := newTestHandler(t)
	defer mock.Close()

	accessToken, _ := GenerateAccessToken(testSecret, "user-uuid-1", RoleUser)
	req := httptest.NewRequest(http.MethodPost, "/api/auth/refresh", nil)
	req.AddCookie(&http.Cookie{Name: "refresh_token", Value: accessToken})
	rec := httptest.NewRecorder()

	handler.Refresh(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected status %d, got %d", http.StatusUnauthorized, rec.Code)
	}
}

// --- Logout ---

func TestLogout_RevokesAndClearsCookie(t *testing.T) {
	handler, mock := newTestHandler(t)
	defer mock.Close()

	refreshToken, _ := GenerateRefreshToken(testSecret, "user-uuid-1", "token-9")
	mock.ExpectExec(`UPDATE refresh_tokens SET revoked`).
		WithArgs("token-9").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	req := httptest.NewRequest(http.MethodPost, "/api/auth/logout", nil)
	req.AddCookie(&http.Cookie{Name: "refresh_token", Value: refreshToken})
	rec := httptest.NewRecorder()

	handler.Logout(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Errorf("expected status %d, got %d", http.StatusNoContent, rec.Code)
	}
	cookie := findCookie(rec.Result().Cookies(), "refresh_token")
	if cookie == nil || cookie.MaxAge >= 0 {
		t.Errorf("expected refresh cookie to be cleared, got %+v", cookie)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet mock expectations: %v", err)
	}
}

// --- ForgotPassword ---

func TestForgotPassword_Success(t *testing.T) {
	handler, mock := newTestHandler(t)
	defer mock.Close()

	emailSender := &mockEmailSender{}
	handler.SetEmailSender(emailSender, "https://watch.example.com")

	mock.ExpectQuery(`SELECT id, name FROM users WHERE email`).
		WithArgs("alice@example.com").
		WillReturnRows(pgxmock.NewRows([]string{"id", "name"}).AddRow("user-uuid-1", "Alice"))
	mock.ExpectExec(`UPDATE password_resets SET used_at`).
		WithArgs("user-uuid-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectExec(`INSERT INTO password_resets`).
		WithArgs(pgxmock.AnyArg(), "user-uuid-1", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	body := `{"email":"alice@example.com"}`
	req := httptest.NewRequest(http.MethodPost, "/api/auth/forgot-password", strings.NewReader(body))
	rec := httptest.NewRecorder()

	handler.ForgotPassword(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, rec.Code, rec.Body.String())
	}
	if emailSender.lastEmail != "alice@example.com" {
		t.Errorf("expected email sent to alice@example.com, got %q", emailSender.lastEmail)
	}
	if !strings.HasPrefix(emailSender.lastResetLink, "https://watch.example.com/reset-password?token=") {
		t.Errorf("unexpected reset link %q", emailSender.lastResetLink)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestForgotPassword_UnknownEmail_StillReturns200(t *testing.T) {
	handler, mock := newTestHandler(t)
	defer mock.Close()

	emailSender := &mockEmailSender{}
	handler.SetEmailSender(emailSender, "https://watch.example.com")

	mock.ExpectQuery(`SELECT id, name FROM users WHERE email`).
		WithArgs("nobody@example.com").
		WillReturnError(pgx.ErrNoRows)

	body := `{"email":"nobody@example.com"}`
	req := httptest.NewRequest(http.MethodPost, "/api/auth/forgot-password", strings.NewReader(body))
	rec := httptest.NewRecorder()

	handler.ForgotPassword(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
	}
	if emailSender.lastEmail != "" {
		t.Error("should not send email for unknown user")
	}
}

func TestForgotPassword_DBError_StillReturns200(t *testing.T) {
	handler, mock := newTestHandler(t)
	defer mock.Close()

	mock.ExpectQuery(`SELECT id, name FROM users WHERE email`).
		WithArgs("alice@example.com").
		WillReturnError(errors.New("timeout"))

	req := httptest.NewRequest(http.MethodPost, "/api/auth/forgot-password", strings.NewReader(`{"email":"alice@example.com"}`))
	rec := httptest.NewRecorder()

	handler.ForgotPassword(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
	}
}

func TestForgotPassword_MissingEmail(t *testing.T) {
	handler, mock := newTestHandler(t)
	defer mock.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/auth/forgot-password", strings.NewReader(`{"email":""}`))
	rec := httptest.NewRecorder()

	handler.ForgotPassword(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected status %d, got %d", http.StatusBadRequest, rec.Code)
	}
}

// --- ResetPassword ---

func TestResetPassword_Success(t *testing.T) {
	handler, mock := newTestHandler(t)
	defer mock.Close()

	rawToken, tokenHash, _ := generateSecureToken()

	mock.ExpectQuery(`WITH consumed AS \(\s*UPDATE password_resets SET used_at = now\(\)\s*WHERE token_hash = \$1 AND used_at IS NULL AND expires_at > now\(\)`).
		WithArgs(tokenHash, pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow("user-uuid-1"))
	mock.ExpectExec(`UPDATE refresh_tokens SET revoked`).
		WithArgs("user-uuid-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 2))

	body := `{"token":"` + rawToken + `","password":"newpassword123"}`
	req := httptest.NewRequest(http.MethodPost, "/api/auth/reset-password", strings.NewReader(body))
	rec := httptest.NewRecorder()

	handler.ResetPassword(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, rec.Code, rec.Body.String())
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestResetPassword_InvalidToken(t *testing.T) {
	handler, mock := newTestHandler(t)
	defer mock.Close()

	mock.ExpectQuery(`WITH consumed AS`).
		WithArgs(hashToken("invalid-token"), pgxmock.AnyArg()).
		WillReturnError(pgx.ErrNoRows)

	body := `{"token":"invalid-token","password":"newpassword123"}`
	req := httptest.NewRequest(http.MethodPost, "/api/auth/reset-password", strings.NewReader(body))
	rec := httptest.NewRecorder()

	handler.ResetPassword(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected status %d, got %d", http.StatusBadRequest, rec.Code)
	}
	if errMsg := decodeErrorResponse(t, rec); errMsg != "invalid or expired reset link" {
		t.Errorf("expected invalid token error, got %q", errMsg)
	}
}

func TestResetPassword_StatementFailureKeepsSessions(t *testing.T) {
	handler, mock := newTestHandler(t)
	defer mock.Close()

	rawToken, tokenHash, _ := generateSecureToken()

	mock.ExpectQuery(`WITH consumed AS`).
		WithArgs(tokenHash, pgxmock.AnyArg()).
		WillReturnError(errors.New("connection reset"))

	body := `{"token":"` + rawToken + `","password":"newpassword123"}`
	req := httptest.NewRequest(http.MethodPost, "/api/auth/reset-password", strings.NewReader(body))
	rec := httptest.NewRecorder()

	handler.ResetPassword(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected status %d, got %d", http.StatusInternalServerError, rec.Code)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestResetPassword_PasswordTooShort(t *testing.T) {
	handler, mock := newTestHandler(t)
	defer mock.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/auth/reset-password", strings.NewReader(`{"token":"abc","password":"short"}`))
	rec := httptest.NewRecorder()

	handler.ResetPassword(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected status %d, got %d", http.StatusBadRequest, rec.Code)
	}
}

func TestGenerateSecureToken_HashMatches(t *testing.T) {
	raw, hash, err := generateSecureToken()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(raw) != 64 {
		t.Errorf("expected 64 hex chars, got %d", len(raw))
	}
	if hashToken(raw) != hash {
		t.Error("hash does not match raw token")
	}
}
