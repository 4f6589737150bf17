package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/feedvault/internal/article"
	"github.com/hitoshi/feedvault/internal/model"
	"github.com/hitoshi/feedvault/internal/source"
)

// --- モック定義 ---

// mockSourceService はSourceServiceInterfaceのモック実装。
type mockSourceService struct {
	addSourceFn        func(ctx context.Context, input source.AddSourceInput) (*model.Source, error)
	getSourceFn        func(ctx context.Context, id int64) (*model.Source, error)
	listSourcesFn      func(ctx context.Context, category string) ([]*model.Source, error)
	listCategoriesFn   func(ctx context.Context) ([]string, error)
	updateSourceFn     func(ctx context.Context, id int64, input source.UpdateSourceInput) (*model.Source, error)
	deactivateSourceFn func(ctx context.Context, id int64) error
	deleteSourceFn     func(ctx context.Context, id int64) error
}

func (m *mockSourceService) AddSource(ctx context.Context, input source.AddSourceInput) (*model.Source, error) {
	if m.addSourceFn != nil {
		return m.addSourceFn(ctx, input)
	}
	return nil, nil
}

func (m *mockSourceService) GetSource(ctx context.Context, id int64) (*model.Source, error) {
	if m.getSourceFn != nil {
		return m.getSourceFn(ctx, id)
	}
	return nil, nil
}

func (m *mockSourceService) ListSources(ctx context.Context, category string) ([]*model.Source, error) {
	if m.listSourcesFn != nil {
		return m.listSourcesFn(ctx, category)
	}
	return nil, nil
}

func (m *mockSourceService) ListCategories(ctx context.Context) ([]string, error) {
	if m.listCategoriesFn != nil {
		return m.listCategoriesFn(ctx)
	}
	return nil, nil
}

func (m *mockSourceService) UpdateSource(ctx context.Context, id int64, input source.UpdateSourceInput) (*model.Source, error) {
	if m.updateSourceFn != nil {
		return m.updateSourceFn(ctx, id, input)
	}
	return nil, nil
}

func (m *mockSourceService) DeactivateSource(ctx context.Context, id int64) error {
	if m.deactivateSourceFn != nil {
		return m.deactivateSourceFn(ctx, id)
	}
	return nil
}

func (m *mockSourceService) DeleteSource(ctx context.Context, id int64) error {
	if m.deleteSourceFn != nil {
		return m.deleteSourceFn(ctx, id)
	}
	return nil
}

// mockRefresher はSourceRefresherのモック実装。
type mockRefresher struct {
	refreshSourceFn    func(ctx context.Context, sourceID int64) (int, error)
	refreshSourceNowFn func(ctx context.Context, sourceID int64) (int, error)
}

func (m *mockRefresher) RefreshSource(ctx context.Context, sourceID int64) (int, error) {
	if m.refreshSourceFn != nil {
		return m.refreshSourceFn(ctx, sourceID)
	}
	return 0, nil
}

func (m *mockRefresher) RefreshSourceNow(ctx context.Context, sourceID int64) (int, error) {
	if m.refreshSourceNowFn != nil {
		return m.refreshSourceNowFn(ctx, sourceID)
	}
	return 0, nil
}

// mockBulkFetcher はBulkFetcherのモック実装。
type mockBulkFetcher struct {
	fetchAllFn func(ctx context.Context) (int, int, error)
}

func (m *mockBulkFetcher) FetchAllActiveSources(ctx context.Context) (int, int, error) {
	if m.fetchAllFn != nil {
		return m.fetchAllFn(ctx)
	}
	return 0, 0, nil
}

// mockReadMarker はSourceReadMarkerのモック実装。
type mockReadMarker struct {
	markSourceReadFn      func(ctx context.Context, sourceID int64) error
	unreadCountBySourceFn func(ctx context.Context, sourceID int64) (int, error)
}

func (m *mockReadMarker) MarkSourceRead(ctx context.Context, sourceID int64) error {
	if m.markSourceReadFn != nil {
		return m.markSourceReadFn(ctx, sourceID)
	}
	return nil
}

func (m *mockReadMarker) UnreadCountBySource(ctx context.Context, sourceID int64) (int, error) {
	if m.unreadCountBySourceFn != nil {
		return m.unreadCountBySourceFn(ctx, sourceID)
	}
	return 0, nil
}

// mockArticleService はArticleServiceInterfaceのモック実装。
type mockArticleService struct {
	listArticlesFn  func(ctx context.Context, q article.ListQuery) (*article.ListResult, error)
	getArticleFn    func(ctx context.Context, id int64) (*model.Article, error)
	updateStateFn   func(ctx context.Context, id int64, read, favorite *bool) (*model.Article, error)
	getCountsFn     func(ctx context.Context) (*article.Counts, error)
	deleteArticleFn func(ctx context.Context, id int64) error
}

func (m *mockArticleService) ListArticles(ctx context.Context, q article.ListQuery) (*article.ListResult, error) {
	if m.listArticlesFn != nil {
		return m.listArticlesFn(ctx, q)
	}
	return &article.ListResult{}, nil
}

func (m *mockArticleService) GetArticle(ctx context.Context, id int64) (*model.Article, error) {
	if m.getArticleFn != nil {
		return m.getArticleFn(ctx, id)
	}
	return nil, nil
}

func (m *mockArticleService) UpdateState(ctx context.Context, id int64, read, favorite *bool) (*model.Article, error) {
	if m.updateStateFn != nil {
		return m.updateStateFn(ctx, id, read, favorite)
	}
	return nil, nil
}

func (m *mockArticleService) GetCounts(ctx context.Context) (*article.Counts, error) {
	if m.getCountsFn != nil {
		return m.getCountsFn(ctx)
	}
	return &article.Counts{}, nil
}

func (m *mockArticleService) DeleteArticle(ctx context.Context, id int64) error {
	if m.deleteArticleFn != nil {
		return m.deleteArticleFn(ctx, id)
	}
	return nil
}

// --- テストヘルパー ---

// withChiURLParam はテスト用にchiのURLパラメータを注入するヘルパー。
func withChiURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	ctx := context.WithValue(r.Context(), chi.RouteCtxKey, rctx)
	return r.WithContext(ctx)
}

// parseAPIErrorResponse はレスポンスボディからAPIErrorレスポンスをパースするヘルパー。
func parseAPIErrorResponse(t *testing.T, w *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var result map[string]string
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	return result
}

func testSource() *model.Source {
	return &model.Source{
		ID:            1,
		Title:         "Example Blog",
		URL:           "https://example.com/rss",
		Category:      "Tech",
		IsActive:      true,
		FetchInterval: time.Hour,
	}
}

func newSourceHandler(svc SourceServiceInterface, refresher SourceRefresher, fetcher BulkFetcher, marker SourceReadMarker) *SourceHandler {
	if svc == nil {
		svc = &mockSourceService{}
	}
	if refresher == nil {
		refresher = &mockRefresher{}
	}
	if fetcher == nil {
		fetcher = &mockBulkFetcher{}
	}
	if marker == nil {
		marker = &mockReadMarker{}
	}
	return NewSourceHandler(svc, refresher, fetcher, marker)
}

// --- POST /api/sources テスト ---

func TestSourceHandler_AddSource_Success(t *testing.T) {
	svc := &mockSourceService{
		addSourceFn: func(ctx context.Context, input source.AddSourceInput) (*model.Source, error) {
			if input.URL != "https://example.com/rss" {
				t.Errorf("URL = %q, want %q", input.URL, "https://example.com/rss")
			}
			if input.Category != "Tech" {
				t.Errorf("Category = %q, want Tech", input.Category)
			}
			if input.FetchInterval != 30*time.Minute {
				t.Errorf("FetchInterval = %v, want 30m", input.FetchInterval)
			}
			s := testSource()
			s.Category = input.Category
			s.FetchInterval = input.FetchInterval
			return s, nil
		},
	}
	h := newSourceHandler(svc, nil, nil, nil)

	body, _ := json.Marshal(addSourceRequest{
		URL:              "https://example.com/rss",
		Category:         "Tech",
		FetchIntervalSec: 1800,
	})
	req := httptest.NewRequest(http.MethodPost, "/api/sources", bytes.NewReader(body))
	w := httptest.NewRecorder()

	h.AddSource(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusCreated)
	}

	var resp sourceResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("レスポンスのデコードに失敗: %v", err)
	}
	if resp.ID != 1 {
		t.Errorf("id = %d, want 1", resp.ID)
	}
	if resp.FetchIntervalSec != 1800 {
		t.Errorf("fetch_interval_sec = %d, want 1800", resp.FetchIntervalSec)
	}
}

func TestSourceHandler_AddSource_EmptyURL_Returns400(t *testing.T) {
	h := newSourceHandler(nil, nil, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/sources", bytes.NewReader([]byte(`{"url":""}`)))
	w := httptest.NewRecorder()

	h.AddSource(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
	resp := parseAPIErrorResponse(t, w)
	if resp["code"] != model.ErrCodeInvalidURL {
		t.Errorf("code = %q, want %q", resp["code"], model.ErrCodeInvalidURL)
	}
}

func TestSourceHandler_AddSource_InvalidJSON_Returns400(t *testing.T) {
	h := newSourceHandler(nil, nil, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/sources", bytes.NewReader([]byte(`{broken`)))
	w := httptest.NewRecorder()

	h.AddSource(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
	resp := parseAPIErrorResponse(t, w)
	if resp["code"] != model.ErrCodeInvalidRequest {
		t.Errorf("code = %q, want %q", resp["code"], model.ErrCodeInvalidRequest)
	}
}

func TestSourceHandler_AddSource_Duplicate_Returns409(t *testing.T) {
	svc := &mockSourceService{
		addSourceFn: func(ctx context.Context, input source.AddSourceInput) (*model.Source, error) {
			return nil, model.NewDuplicateSourceError(input.URL)
		},
	}
	h := newSourceHandler(svc, nil, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/sources", bytes.NewReader([]byte(`{"url":"https://example.com/rss"}`)))
	w := httptest.NewRecorder()

	h.AddSource(w, req)

	if w.Code != http.StatusConflict {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusConflict)
	}
	resp := parseAPIErrorResponse(t, w)
	if resp["code"] != model.ErrCodeDuplicateSource {
		t.Errorf("code = %q, want %q", resp["code"], model.ErrCodeDuplicateSource)
	}
}

func TestSourceHandler_AddSource_SSRFBlocked_Returns403(t *testing.T) {
	svc := &mockSourceService{
		addSourceFn: func(ctx context.Context, input source.AddSourceInput) (*model.Source, error) {
			return nil, model.NewSSRFBlockedError()
		},
	}
	h := newSourceHandler(svc, nil, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/sources", bytes.NewReader([]byte(`{"url":"http://169.254.169.254/"}`)))
	w := httptest.NewRecorder()

	h.AddSource(w, req)

	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusForbidden)
	}
}

// --- GET /api/sources テスト ---

func TestSourceHandler_ListSources_PassesCategory(t *testing.T) {
	var capturedCategory string
	svc := &mockSourceService{
		listSourcesFn: func(ctx context.Context, category string) ([]*model.Source, error) {
			capturedCategory = category
			return []*model.Source{testSource()}, nil
		},
	}
	h := newSourceHandler(svc, nil, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/sources?category=Tech", nil)
	w := httptest.NewRecorder()

	h.ListSources(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if capturedCategory != "Tech" {
		t.Errorf("category = %q, want Tech", capturedCategory)
	}

	var resp struct {
		Sources []sourceResponse `json:"sources"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("レスポンスのデコードに失敗: %v", err)
	}
	if len(resp.Sources) != 1 {
		t.Errorf("sources数 = %d, want 1", len(resp.Sources))
	}
}

func TestSourceHandler_ListCategories(t *testing.T) {
	svc := &mockSourceService{
		listCategoriesFn: func(ctx context.Context) ([]string, error) {
			return []string{"Tech", "News"}, nil
		},
	}
	h := newSourceHandler(svc, nil, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/sources/categories", nil)
	w := httptest.NewRecorder()

	h.ListCategories(w, req)

	var resp map[string][]string
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("レスポンスのデコードに失敗: %v", err)
	}
	if len(resp["categories"]) != 2 {
		t.Errorf("categories数 = %d, want 2", len(resp["categories"]))
	}
}

// --- GET /api/sources/{id} テスト ---

func TestSourceHandler_GetSource_NotFound_Returns404(t *testing.T) {
	svc := &mockSourceService{
		getSourceFn: func(ctx context.Context, id int64) (*model.Source, error) {
			return nil, model.NewSourceNotFoundError(id)
		},
	}
	h := newSourceHandler(svc, nil, nil, nil)

	req := withChiURLParam(httptest.NewRequest(http.MethodGet, "/api/sources/999", nil), "id", "999")
	w := httptest.NewRecorder()

	h.GetSource(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestSourceHandler_GetSource_InvalidID_Returns400(t *testing.T) {
	h := newSourceHandler(nil, nil, nil, nil)

	req := withChiURLParam(httptest.NewRequest(http.MethodGet, "/api/sources/abc", nil), "id", "abc")
	w := httptest.NewRecorder()

	h.GetSource(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
	resp := parseAPIErrorResponse(t, w)
	if resp["code"] != model.ErrCodeInvalidRequest {
		t.Errorf("code = %q, want %q", resp["code"], model.ErrCodeInvalidRequest)
	}
}

// --- PATCH /api/sources/{id} テスト ---

func TestSourceHandler_UpdateSource_PartialUpdate(t *testing.T) {
	svc := &mockSourceService{
		updateSourceFn: func(ctx context.Context, id int64, input source.UpdateSourceInput) (*model.Source, error) {
			if input.CustomTitle == nil || *input.CustomTitle != "My Blog" {
				t.Errorf("CustomTitle = %v, want My Blog", input.CustomTitle)
			}
			if input.Category != nil {
				t.Errorf("Category = %v, want nil（未指定フィールドは変更しない）", input.Category)
			}
			s := testSource()
			s.CustomTitle = *input.CustomTitle
			return s, nil
		},
	}
	h := newSourceHandler(svc, nil, nil, nil)

	req := withChiURLParam(
		httptest.NewRequest(http.MethodPatch, "/api/sources/1", bytes.NewReader([]byte(`{"custom_title":"My Blog"}`))),
		"id", "1")
	w := httptest.NewRecorder()

	h.UpdateSource(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var resp sourceResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("レスポンスのデコードに失敗: %v", err)
	}
	if resp.DisplayTitle != "My Blog" {
		t.Errorf("display_title = %q, want My Blog", resp.DisplayTitle)
	}
}

// --- DELETE /api/sources/{id} テスト ---

func TestSourceHandler_DeleteSource_Returns204(t *testing.T) {
	deleted := false
	svc := &mockSourceService{
		deleteSourceFn: func(ctx context.Context, id int64) error {
			deleted = true
			return nil
		},
	}
	h := newSourceHandler(svc, nil, nil, nil)

	req := withChiURLParam(httptest.NewRequest(http.MethodDelete, "/api/sources/1", nil), "id", "1")
	w := httptest.NewRecorder()

	h.DeleteSource(w, req)

	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusNoContent)
	}
	if !deleted {
		t.Error("DeleteSourceが呼ばれていません")
	}
}

// --- POST /api/sources/{id}/refresh テスト ---

func TestSourceHandler_RefreshSource_Default_UsesFreshnessCheck(t *testing.T) {
	refreshCalled := false
	forceCalled := false
	refresher := &mockRefresher{
		refreshSourceFn: func(ctx context.Context, sourceID int64) (int, error) {
			refreshCalled = true
			return 5, nil
		},
		refreshSourceNowFn: func(ctx context.Context, sourceID int64) (int, error) {
			forceCalled = true
			return 0, nil
		},
	}
	h := newSourceHandler(nil, refresher, nil, nil)

	req := withChiURLParam(httptest.NewRequest(http.MethodPost, "/api/sources/1/refresh", nil), "id", "1")
	w := httptest.NewRecorder()

	h.RefreshSource(w, req)

	if !refreshCalled {
		t.Error("RefreshSourceが呼ばれていません")
	}
	if forceCalled {
		t.Error("forceなしでRefreshSourceNowが呼ばれました")
	}

	var resp refreshResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("レスポンスのデコードに失敗: %v", err)
	}
	if resp.InsertedCount != 5 {
		t.Errorf("inserted_count = %d, want 5", resp.InsertedCount)
	}
}

func TestSourceHandler_RefreshSource_Force_BypassesFreshnessCheck(t *testing.T) {
	forceCalled := false
	refresher := &mockRefresher{
		refreshSourceFn: func(ctx context.Context, sourceID int64) (int, error) {
			t.Fatal("force指定時にRefreshSourceが呼ばれました")
			return 0, nil
		},
		refreshSourceNowFn: func(ctx context.Context, sourceID int64) (int, error) {
			forceCalled = true
			return 3, nil
		},
	}
	h := newSourceHandler(nil, refresher, nil, nil)

	req := withChiURLParam(httptest.NewRequest(http.MethodPost, "/api/sources/1/refresh?force=true", nil), "id", "1")
	w := httptest.NewRecorder()

	h.RefreshSource(w, req)

	if !forceCalled {
		t.Error("RefreshSourceNowが呼ばれていません")
	}
}

func TestSourceHandler_RefreshSource_NotNeeded_Returns409(t *testing.T) {
	refresher := &mockRefresher{
		refreshSourceFn: func(ctx context.Context, sourceID int64) (int, error) {
			return 0, model.NewRefreshNotNeededError(sourceID)
		},
	}
	h := newSourceHandler(nil, refresher, nil, nil)

	req := withChiURLParam(httptest.NewRequest(http.MethodPost, "/api/sources/1/refresh", nil), "id", "1")
	w := httptest.NewRecorder()

	h.RefreshSource(w, req)

	if w.Code != http.StatusConflict {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusConflict)
	}
	resp := parseAPIErrorResponse(t, w)
	if resp["code"] != model.ErrCodeRefreshNotNeeded {
		t.Errorf("code = %q, want %q", resp["code"], model.ErrCodeRefreshNotNeeded)
	}
}

// --- POST /api/refresh テスト ---

func TestSourceHandler_RefreshAll_ReturnsCounts(t *testing.T) {
	fetcher := &mockBulkFetcher{
		fetchAllFn: func(ctx context.Context) (int, int, error) {
			return 42, 2, nil
		},
	}
	h := newSourceHandler(nil, nil, fetcher, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/refresh", nil)
	w := httptest.NewRecorder()

	h.RefreshAll(w, req)

	var resp bulkRefreshResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("レスポンスのデコードに失敗: %v", err)
	}
	if resp.InsertedCount != 42 {
		t.Errorf("inserted_count = %d, want 42", resp.InsertedCount)
	}
	if resp.FailedSources != 2 {
		t.Errorf("failed_sources = %d, want 2", resp.FailedSources)
	}
}

// --- POST /api/sources/{id}/read テスト ---

func TestSourceHandler_MarkSourceRead_Returns204(t *testing.T) {
	svc := &mockSourceService{
		getSourceFn: func(ctx context.Context, id int64) (*model.Source, error) {
			return testSource(), nil
		},
	}
	marked := false
	marker := &mockReadMarker{
		markSourceReadFn: func(ctx context.Context, sourceID int64) error {
			marked = true
			return nil
		},
	}
	h := newSourceHandler(svc, nil, nil, marker)

	req := withChiURLParam(httptest.NewRequest(http.MethodPost, "/api/sources/1/read", nil), "id", "1")
	w := httptest.NewRecorder()

	h.MarkSourceRead(w, req)

	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusNoContent)
	}
	if !marked {
		t.Error("MarkSourceReadが呼ばれていません")
	}
}

func TestSourceHandler_MarkSourceRead_UnknownSource_Returns404(t *testing.T) {
	svc := &mockSourceService{
		getSourceFn: func(ctx context.Context, id int64) (*model.Source, error) {
			return nil, model.NewSourceNotFoundError(id)
		},
	}
	marker := &mockReadMarker{
		markSourceReadFn: func(ctx context.Context, sourceID int64) error {
			t.Fatal("未知ソースでMarkSourceReadが呼ばれました")
			return nil
		},
	}
	h := newSourceHandler(svc, nil, nil, marker)

	req := withChiURLParam(httptest.NewRequest(http.MethodPost, "/api/sources/999/read", nil), "id", "999")
	w := httptest.NewRecorder()

	h.MarkSourceRead(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

// --- GET /api/sources/{id}/unread テスト ---

func TestSourceHandler_UnreadCount(t *testing.T) {
	svc := &mockSourceService{
		getSourceFn: func(ctx context.Context, id int64) (*model.Source, error) {
			return testSource(), nil
		},
	}
	marker := &mockReadMarker{
		unreadCountBySourceFn: func(ctx context.Context, sourceID int64) (int, error) {
			return 7, nil
		},
	}
	h := newSourceHandler(svc, nil, nil, marker)

	req := withChiURLParam(httptest.NewRequest(http.MethodGet, "/api/sources/1/unread", nil), "id", "1")
	w := httptest.NewRecorder()

	h.UnreadCount(w, req)

	var resp map[string]int
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("レスポンスのデコードに失敗: %v", err)
	}
	if resp["unread_count"] != 7 {
		t.Errorf("unread_count = %d, want 7", resp["unread_count"])
	}
}
