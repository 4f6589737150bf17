package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/feedvault/internal/article"
	"github.com/hitoshi/feedvault/internal/model"
)

func newTestRouter(t *testing.T, deps *RouterDeps) http.Handler {
	t.Helper()
	if deps == nil {
		deps = &RouterDeps{}
	}
	if deps.SourceService == nil {
		deps.SourceService = &mockSourceService{}
	}
	if deps.Refresher == nil {
		deps.Refresher = &mockRefresher{}
	}
	if deps.BulkFetcher == nil {
		deps.BulkFetcher = &mockBulkFetcher{}
	}
	if deps.ArticleService == nil {
		deps.ArticleService = &mockArticleService{}
	}
	if deps.ReadMarker == nil {
		deps.ReadMarker = &mockReadMarker{}
	}
	if deps.CORSAllowedOrigin == "" {
		deps.CORSAllowedOrigin = "http://localhost:3000"
	}
	return NewRouter(deps)
}

func TestRouter_Health(t *testing.T) {
	router := newTestRouter(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var resp map[string]string
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("レスポンスのデコードに失敗: %v", err)
	}
	if resp["status"] != "ok" {
		t.Errorf("status = %q, want ok", resp["status"])
	}
}

func TestRouter_MetricsHandler_Mounted(t *testing.T) {
	metricsCalled := false
	deps := &RouterDeps{
		MetricsHandler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			metricsCalled = true
			w.WriteHeader(http.StatusOK)
		}),
	}
	router := newTestRouter(t, deps)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if !metricsCalled {
		t.Error("/metrics がメトリクスハンドラーにルーティングされていません")
	}
}

func TestRouter_SourceRoutes_Dispatch(t *testing.T) {
	getCalled := false
	deps := &RouterDeps{
		SourceService: &mockSourceService{
			getSourceFn: func(ctx context.Context, id int64) (*model.Source, error) {
				getCalled = true
				if id != 42 {
					t.Errorf("id = %d, want 42", id)
				}
				return testSource(), nil
			},
		},
	}
	router := newTestRouter(t, deps)

	req := httptest.NewRequest(http.MethodGet, "/api/sources/42", nil)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if !getCalled {
		t.Error("GetSourceが呼ばれていません")
	}
}

func TestRouter_CategoriesRoute_NotShadowedByIDParam(t *testing.T) {
	categoriesCalled := false
	deps := &RouterDeps{
		SourceService: &mockSourceService{
			listCategoriesFn: func(ctx context.Context) ([]string, error) {
				categoriesCalled = true
				return []string{"Tech"}, nil
			},
			getSourceFn: func(ctx context.Context, id int64) (*model.Source, error) {
				t.Fatal("/api/sources/categories が {id} ルートにマッチしました")
				return nil, nil
			},
		},
	}
	router := newTestRouter(t, deps)

	req := httptest.NewRequest(http.MethodGet, "/api/sources/categories", nil)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if !categoriesCalled {
		t.Error("ListCategoriesが呼ばれていません")
	}
}

func TestRouter_ArticleRoutes_Dispatch(t *testing.T) {
	listCalled := false
	deps := &RouterDeps{
		ArticleService: &mockArticleService{
			listArticlesFn: func(ctx context.Context, q article.ListQuery) (*article.ListResult, error) {
				listCalled = true
				return &article.ListResult{}, nil
			},
		},
	}
	router := newTestRouter(t, deps)

	req := httptest.NewRequest(http.MethodGet, "/api/articles", nil)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if !listCalled {
		t.Error("ListArticlesが呼ばれていません")
	}
}

func TestRouter_BulkRefreshRoute(t *testing.T) {
	fetchCalled := false
	deps := &RouterDeps{
		BulkFetcher: &mockBulkFetcher{
			fetchAllFn: func(ctx context.Context) (int, int, error) {
				fetchCalled = true
				return 10, 0, nil
			},
		},
	}
	router := newTestRouter(t, deps)

	req := httptest.NewRequest(http.MethodPost, "/api/refresh", nil)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if !fetchCalled {
		t.Error("FetchAllActiveSourcesが呼ばれていません")
	}
}

func TestRouter_SecurityHeaders_Applied(t *testing.T) {
	router := newTestRouter(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if got := w.Result().Header.Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q, want nosniff", got)
	}
	if got := w.Result().Header.Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("Access-Control-Allow-Origin = %q, want http://localhost:3000", got)
	}
}

func TestRouter_RequestID_AssignedToResponse(t *testing.T) {
	router := newTestRouter(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if got := w.Result().Header.Get("X-Request-Id"); got == "" {
		t.Error("X-Request-Id がレスポンスに設定されていません")
	}
}

func TestRouter_UnknownRoute_Returns404(t *testing.T) {
	router := newTestRouter(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/unknown", nil)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}
