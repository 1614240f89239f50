package user

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/vidstream/vidstream/internal/auth"
	"golang.org/x/crypto/bcrypt"
)

const (
	testUserID  = "11111111-1111-1111-1111-111111111111"
	testOtherID = "22222222-2222-2222-2222-222222222222"
)

func newTestHandler(t *testing.T) (*Handler, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("create pgxmock pool: %v", err)
	}
	return NewHandler(mock), mock
}

func authedRequest(method, target, body, userID, role string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	return req.WithContext(auth.ContextWithIdentity(req.Context(), userID, role))
}

func withURLParam(req *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func TestGetProfile(t *testing.T) {
	handler, mock := newTestHandler(t)
	defer mock.Close()

	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	mock.ExpectQuery(`SELECT id, email, name, role, subscription_plan, created_at FROM users WHERE id = \$1`).
		WithArgs(testUserID).
		WillReturnRows(pgxmock.NewRows([]string{"id", "email", "name", "role", "subscription_plan", "created_at"}).
			AddRow(testUserID, "ana@example.com", "Ana", "user", "premium", created))

	req := authedRequest(http.MethodGet, "/api/me", "", testUserID, auth.RoleUser)
	rec := httptest.NewRecorder()
	handler.GetProfile(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp profileResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Email != "ana@example.com" || resp.Plan != "premium" {
		t.Errorf("unexpected profile: %+v", resp)
	}
	if !resp.PremiumAccess {
		t.Error("expected premium plan to grant premium access")
	}
	if resp.PlanName != "Premium" {
		t.Errorf("expected plan name Premium, got %q", resp.PlanName)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestGetProfile_NotFound(t *testing.T) {
	handler, mock := newTestHandler(t)
	defer mock.Close()

	mock.ExpectQuery(`SELECT id, email`).
		WithArgs(testUserID).
		WillReturnError(pgx.ErrNoRows)

	rec := httptest.NewRecorder()
	handler.GetProfile(rec, authedRequest(http.MethodGet, "/api/me", "", testUserID, auth.RoleUser))

	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestUpdateProfile(t *testing.T) {
	handler, mock := newTestHandler(t)
	defer mock.Close()

	mock.ExpectExec(`UPDATE users SET name = \$1, updated_at = now\(\) WHERE id = \$2`).
		WithArgs("Ana Lima", testUserID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	rec := httptest.NewRecorder()
	handler.UpdateProfile(rec, authedRequest(http.MethodPatch, "/api/me", `{"name":"  Ana Lima "}`, testUserID, auth.RoleUser))

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", rec.Code, rec.Body.String())
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestUpdateProfile_Validation(t *testing.T) {
	handler, mock := newTestHandler(t)
	defer mock.Close()

	cases := []string{`{"name":""}`, `{"name":"` + strings.Repeat("a", 101) + `"}`, `not json`}
	for _, body := range cases {
		rec := httptest.NewRecorder()
		handler.UpdateProfile(rec, authedRequest(http.MethodPatch, "/api/me", body, testUserID, auth.RoleUser))
		if rec.Code != http.StatusBadRequest {
			t.Errorf("body %q: expected 400, got %d", body, rec.Code)
		}
	}
}

func TestChangePassword(t *testing.T) {
	handler, mock := newTestHandler(t)
	defer mock.Close()

	hashed, err := bcrypt.GenerateFromPassword([]byte("old-password"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}

	mock.ExpectQuery(`SELECT password FROM users WHERE id = \$1`).
		WithArgs(testUserID).
		WillReturnRows(pgxmock.NewRows([]string{"password"}).AddRow(string(hashed)))
	mock.ExpectExec(`UPDATE users SET password = \$1`).
		WithArgs(pgxmock.AnyArg(), testUserID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`UPDATE refresh_tokens SET revoked = true`).
		WithArgs(testUserID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 2))

	body := `{"currentPassword":"old-password","newPassword":"new-password-123"}`
	rec := httptest.NewRecorder()
	handler.ChangePassword(rec, authedRequest(http.MethodPut, "/api/me/password", body, testUserID, auth.RoleUser))

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", rec.Code, rec.Body.String())
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestChangePassword_WrongCurrent(t *testing.T) {
	handler, mock := newTestHandler(t)
	defer mock.Close()

	hashed, _ := bcrypt.GenerateFromPassword([]byte("old-password"), bcrypt.MinCost)
	mock.ExpectQuery(`SELECT password FROM users`).
		WithArgs(testUserID).
		WillReturnRows(pgxmock.NewRows([]string{"password"}).AddRow(string(hashed)))

	body := `{"currentPassword":"nope-nope","newPassword":"new-password-123"}`
	rec := httptest.NewRecorder()
	handler.ChangePassword(rec, authedRequest(http.MethodPut, "/api/me/password", body, testUserID, auth.RoleUser))

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
}

func TestChangePassword_TooShort(t *testing.T) {
	handler, mock := newTestHandler(t)
	defer mock.Close()

	body := `{"currentPassword":"old-password","newPassword":"short"}`
	rec := httptest.NewRecorder()
	handler.ChangePassword(rec, authedRequest(http.MethodPut, "/api/me/password", body, testUserID, auth.RoleUser))

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestAdminList(t *testing.T) {
	handler, mock := newTestHandler(t)
	defer mock.Close()

	created := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM users`).
		WithArgs(`%50\%%`).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(1)))
	mock.ExpectQuery(`(?s)SELECT id, email, name, role, subscription_plan, created_at.*LIMIT \$2 OFFSET \$3`).
		WithArgs(`%50\%%`, 10, 20).
		WillReturnRows(pgxmock.NewRows([]string{"id", "email", "name", "role", "subscription_plan", "created_at"}).
			AddRow(testOtherID, "50%@example.com", "Half", "user", "free", created))

	req := authedRequest(http.MethodGet, "/api/admin/users?q=50%25&limit=10&offset=20", "", testUserID, auth.RoleAdmin)
	rec := httptest.NewRecorder()
	handler.AdminList(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp adminUserList
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Total != 1 || len(resp.Users) != 1 || resp.Users[0].ID != testOtherID {
		t.Errorf("unexpected list: %+v", resp)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestAdminSetRole(t *testing.T) {
	handler, mock := newTestHandler(t)
	defer mock.Close()

	mock.ExpectExec(`UPDATE users SET role = \$1`).
		WithArgs("admin", testOtherID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`UPDATE refresh_tokens SET revoked = true`).
		WithArgs(testOtherID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	req := authedRequest(http.MethodPatch, "/api/admin/users/"+testOtherID+"/role", `{"role":"admin"}`, testUserID, auth.RoleAdmin)
	rec := httptest.NewRecorder()
	handler.AdminSetRole(rec, withURLParam(req, "id", testOtherID))

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", rec.Code, rec.Body.String())
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestAdminSetRole_RejectsUnknownRole(t *testing.T) {
	handler, mock := newTestHandler(t)
	defer mock.Close()

	req := authedRequest(http.MethodPatch, "/", `{"role":"owner"}`, testUserID, auth.RoleAdmin)
	rec := httptest.NewRecorder()
	handler.AdminSetRole(rec, withURLParam(req, "id", testOtherID))

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestAdminSetRole_CannotDemoteSelf(t *testing.T) {
	handler, mock := newTestHandler(t)
	defer mock.Close()

	req := authedRequest(http.MethodPatch, "/", `{"role":"user"}`, testUserID, auth.RoleAdmin)
	rec := httptest.NewRecorder()
	handler.AdminSetRole(rec, withURLParam(req, "id", testUserID))

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestAdminDelete(t *testing.T) {
	handler, mock := newTestHandler(t)
	defer mock.Close()

	mock.ExpectExec(`DELETE FROM users WHERE id = \$1`).
		WithArgs(testOtherID).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))

	req := authedRequest(http.MethodDelete, "/", "", testUserID, auth.RoleAdmin)
	rec := httptest.NewRecorder()
	handler.AdminDelete(rec, withURLParam(req, "id", testOtherID))

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestAdminDelete_Self(t *testing.T) {
	handler, mock := newTestHandler(t)
	defer mock.Close()

	req := authedRequest(http.MethodDelete, "/", "", testUserID, auth.RoleAdmin)
	rec := httptest.NewRecorder()
	handler.AdminDelete(rec, withURLParam(req, "id", testUserID))

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestAdminDelete_NotFound(t *testing.T) {
	handler, mock := newTestHandler(t)
	defer mock.Close()

	mock.ExpectExec(`DELETE FROM users`).
		WithArgs(testOtherID).
		WillReturnResult(pgxmock.NewResult("DELETE", 0))

	req := authedRequest(http.MethodDelete, "/", "", testUserID, auth.RoleAdmin)
	rec := httptest.NewRecorder()
	handler.AdminDelete(rec, withURLParam(req, "id", testOtherID))

	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestAdminDelete_DBError(t *testing.T) {
	handler, mock := newTestHandler(t)
	defer mock.Close()

	mock.ExpectExec(`DELETE FROM users`).
		WithArgs(testOtherID).
		WillReturnError(errors.New("connection reset"))

	req := authedRequest(http.MethodDelete, "/", "", testUserID, auth.RoleAdmin)
	rec := httptest.NewRecorder()
	handler.AdminDelete(rec, withURLParam(req, "id", testOtherID))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "connection reset") {
		t.Error("expected internal error details to stay out of the response")
	}
}

func TestEscapeLike(t *testing.T) {
	if got := escapeLike(`a_b%c\`); got != `a\_b\%c\\` {
		t.Errorf("escapeLike = %q", got)
	}
}
