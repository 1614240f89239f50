package video

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
)

func TestListFavorites(t *testing.T) {
	h, mock := newTestHandler(t, nil)
	defer mock.Close()

	thumb := "videos/x/thumbnail.jpg"
	mock.ExpectQuery(`(?s)FROM favorites f.*WHERE f.user_id = \$1 AND v.status = 'ready'`).
		WithArgs(testUserID, 50, 0).
		WillReturnRows(pgxmock.NewRows([]string{"id", "kind", "title", "thumbnail_key", "created_at"}).
			AddRow(testVideoID, "movie", "Heat", &thumb, testNow))

	rec := httptest.NewRecorder()
	h.ListFavorites(rec, asUser(newRequest(http.MethodGet, "/api/favorites", ""), testUserID))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var items []favoriteItem
	if err := json.Unmarshal(rec.Body.Bytes(), &items); err != nil {
		t.Fatal(err)
	}
	if len(items) != 1 || items[0].ThumbnailURL != "https://s3.test/"+thumb {
		t.Errorf("unexpected favorites %+v", items)
	}
	expectMet(t, mock)
}

func TestAddFavoriteIsIdempotent(t *testing.T) {
	h, mock := newTestHandler(t, nil)
	defer mock.Close()

	mock.ExpectExec(`(?s)INSERT INTO favorites \(user_id, video_id\).*ON CONFLICT \(user_id, video_id\) DO NOTHING`).
		WithArgs(testUserID, testVideoID).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))
	mock.ExpectQuery(`SELECT EXISTS \(SELECT 1 FROM favorites WHERE user_id = \$1 AND video_id = \$2\)`).
		WithArgs(testUserID, testVideoID).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))

	req := withParams(asUser(newRequest(http.MethodPut, "/", ""), testUserID), "videoId", testVideoID)
	rec := httptest.NewRecorder()
	h.AddFavorite(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	expectMet(t, mock)
}

func TestAddFavoriteUnknownVideo(t *testing.T) {
	h, mock := newTestHandler(t, nil)
	defer mock.Close()

	mock.ExpectExec(`INSERT INTO favorites`).
		WithArgs(testUserID, testVideoID).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))
	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs(testUserID, testVideoID).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))

	req := withParams(asUser(newRequest(http.MethodPut, "/", ""), testUserID), "videoId", testVideoID)
	rec := httptest.NewRecorder()
	h.AddFavorite(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	expectMet(t, mock)
}

func TestRemoveFavorite(t *testing.T) {
	tests := []struct {
		name     string
		affected int64
		want     int
	}{
		{"removed", 1, http.StatusNoContent},
		{"absent", 0, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, mock := newTestHandler(t, nil)
			defer mock.Close()

			mock.ExpectExec(`DELETE FROM favorites WHERE user_id = \$1 AND video_id = \$2`).
				WithArgs(testUserID, testVideoID).
				WillReturnResult(pgxmock.NewResult("DELETE", tt.affected))

			req := withParams(asUser(newRequest(http.MethodDelete, "/", ""), testUserID), "videoId", testVideoID)
			rec := httptest.NewRecorder()
			h.RemoveFavorite(rec, req)

			if rec.Code != tt.want {
				t.Errorf("expected %d, got %d", tt.want, rec.Code)
			}
			expectMet(t, mock)
		})
	}
}
