package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/feedvault/internal/article"
	"github.com/hitoshi/feedvault/internal/model"
)

// defaultArticlesPerPage は記事一覧の1回の取得件数（デフォルト）。
const defaultArticlesPerPage = 50

// ArticleServiceInterface は記事ハンドラーが必要とするサービスインターフェース。
type ArticleServiceInterface interface {
	// ListArticles は記事一覧をフィルタ・検索・ページネーション付きで返す。
	ListArticles(ctx context.Context, q article.ListQuery) (*article.ListResult, error)
	// GetArticle は記事詳細を返す。
	GetArticle(ctx context.Context, id int64) (*model.Article, error)
	// UpdateState は記事の既読・お気に入り状態を冪等に更新する。
	// nilフィールドは変更しない部分更新を行う。
	UpdateState(ctx context.Context, id int64, read, favorite *bool) (*model.Article, error)
	// GetCounts は未読数・お気に入り数を返す。
	GetCounts(ctx context.Context) (*article.Counts, error)
	// DeleteArticle は記事を削除する。
	DeleteArticle(ctx context.Context, id int64) error
}

// ArticleHandler は記事管理のHTTPハンドラー。
type ArticleHandler struct {
	service ArticleServiceInterface
}

// NewArticleHandler はArticleHandlerを生成する。
func NewArticleHandler(service ArticleServiceInterface) *ArticleHandler {
	return &ArticleHandler{service: service}
}

// --- レスポンス型 ---

// articleSummaryResponse は記事一覧のサマリーレスポンス。
type articleSummaryResponse struct {
	ID              int64  `json:"id"`
	SourceID        int64  `json:"source_id"`
	SourceTitle     string `json:"source_title"`
	Title           string `json:"title"`
	Teaser          string `json:"teaser"`
	ArticleURL      string `json:"article_url"`
	ImageURL        string `json:"image_url,omitempty"`
	PublishedAt     int64  `json:"published_at"`
	IsDateEstimated bool   `json:"is_date_estimated"`
	Author          string `json:"author,omitempty"`
	IsRead          bool   `json:"is_read"`
	IsFavorite      bool   `json:"is_favorite"`
}

// articleListResponse は記事一覧のレスポンス。
type articleListResponse struct {
	Articles   []articleSummaryResponse `json:"articles"`
	NextCursor string                   `json:"next_cursor,omitempty"`
	HasMore    bool                     `json:"has_more"`
}

// articleDetailResponse は記事詳細のレスポンス。本文を含む。
type articleDetailResponse struct {
	ID              int64  `json:"id"`
	SourceID        int64  `json:"source_id"`
	SourceTitle     string `json:"source_title"`
	Title           string `json:"title"`
	Description     string `json:"description"`
	Content         string `json:"content"`
	ArticleURL      string `json:"article_url"`
	ImageURL        string `json:"image_url,omitempty"`
	PublishedAt     int64  `json:"published_at"`
	IsDateEstimated bool   `json:"is_date_estimated"`
	Author          string `json:"author,omitempty"`
	IsRead          bool   `json:"is_read"`
	IsFavorite      bool   `json:"is_favorite"`
}

// updateStateRequest は記事状態更新リクエストのボディ。nilフィールドは変更しない。
type updateStateRequest struct {
	IsRead     *bool `json:"is_read"`
	IsFavorite *bool `json:"is_favorite"`
}

// countsResponse は未読数・お気に入り数のレスポンス。
type countsResponse struct {
	TotalUnread int `json:"total_unread"`
	Favorites   int `json:"favorites"`
}

func toArticleDetailResponse(a *model.Article) articleDetailResponse {
	return articleDetailResponse{
		ID:              a.ID,
		SourceID:        a.SourceID,
		SourceTitle:     a.SourceTitle,
		Title:           a.Title,
		Description:     a.Description,
		Content:         a.Content,
		ArticleURL:      a.ArticleURL,
		ImageURL:        a.ImageURL,
		PublishedAt:     a.PublishedAt,
		IsDateEstimated: a.IsDateEstimated,
		Author:          a.Author,
		IsRead:          a.IsRead,
		IsFavorite:      a.IsFavorite,
	}
}

// articleIDParam はパスパラメータから記事IDを取得する。
func articleIDParam(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// listQueryFromRequest はクエリパラメータからListQueryを組み立てる。
// sourceIDが正の場合はソース単位の一覧として上書きする。
func listQueryFromRequest(r *http.Request, sourceID int64) article.ListQuery {
	q := r.URL.Query()

	limit := defaultArticlesPerPage
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	return article.ListQuery{
		Filter:   q.Get("filter"),
		SourceID: sourceID,
		Category: q.Get("category"),
		Search:   q.Get("search"),
		Cursor:   q.Get("cursor"),
		Limit:    limit,
	}
}

func writeArticleList(w http.ResponseWriter, result *article.ListResult) {
	articles := make([]articleSummaryResponse, len(result.Articles))
	for i, a := range result.Articles {
		articles[i] = articleSummaryResponse{
			ID:              a.ID,
			SourceID:        a.SourceID,
			SourceTitle:     a.SourceTitle,
			Title:           a.Title,
			Teaser:          a.Teaser,
			ArticleURL:      a.ArticleURL,
			ImageURL:        a.ImageURL,
			PublishedAt:     a.PublishedAt,
			IsDateEstimated: a.IsDateEstimated,
			Author:          a.Author,
			IsRead:          a.IsRead,
			IsFavorite:      a.IsFavorite,
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(articleListResponse{
		Articles:   articles,
		NextCursor: result.NextCursor,
		HasMore:    result.HasMore,
	})
}

// ListArticles は記事一覧を返す。
// GET /api/articles?filter=&category=&search=&cursor=&limit=
func (h *ArticleHandler) ListArticles(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.ListArticles(r.Context(), listQueryFromRequest(r, 0))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeArticleList(w, result)
}

// ListSourceArticles はソース単位の記事一覧を返す。
// GET /api/sources/{id}/articles
func (h *ArticleHandler) ListSourceArticles(w http.ResponseWriter, r *http.Request) {
	sourceID, ok := sourceIDParam(r)
	if !ok {
		writeInvalidID(w)
		return
	}

	result, err := h.service.ListArticles(r.Context(), listQueryFromRequest(r, sourceID))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeArticleList(w, result)
}

// GetArticle は記事詳細を返す。
// GET /api/articles/{id}
func (h *ArticleHandler) GetArticle(w http.ResponseWriter, r *http.Request) {
	id, ok := articleIDParam(r)
	if !ok {
		writeInvalidID(w)
		return
	}

	a, err := h.service.GetArticle(r.Context(), id)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toArticleDetailResponse(a))
}

// UpdateState は記事の既読・お気に入り状態を更新する。
// PUT /api/articles/{id}/state
func (h *ArticleHandler) UpdateState(w http.ResponseWriter, r *http.Request) {
	id, ok := articleIDParam(r)
	if !ok {
		writeInvalidID(w)
		return
	}

	var req updateStateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidRequest(w)
		return
	}

	a, err := h.service.UpdateState(r.Context(), id, req.IsRead, req.IsFavorite)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toArticleDetailResponse(a))
}

// GetCounts は未読数・お気に入り数を返す。
// GET /api/articles/counts
func (h *ArticleHandler) GetCounts(w http.ResponseWriter, r *http.Request) {
	counts, err := h.service.GetCounts(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(countsResponse{
		TotalUnread: counts.TotalUnread,
		Favorites:   counts.Favorites,
	})
}

// DeleteArticle は記事を削除する。
// DELETE /api/articles/{id}
func (h *ArticleHandler) DeleteArticle(w http.ResponseWriter, r *http.Request) {
	id, ok := articleIDParam(r)
	if !ok {
		writeInvalidID(w)
		return
	}

	// 存在確認を先に行い、未知IDには404を返す
	if _, err := h.service.GetArticle(r.Context(), id); err != nil {
		handleServiceError(w, err)
		return
	}

	if err := h.service.DeleteArticle(r.Context(), id); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
