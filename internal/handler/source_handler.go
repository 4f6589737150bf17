package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/feedvault/internal/model"
	"github.com/hitoshi/feedvault/internal/source"
)

// SourceServiceInterface はソースハンドラーが必要とするサービスインターフェース。
type SourceServiceInterface interface {
	// AddSource はフィードURLからソースを登録する。
	AddSource(ctx context.Context, input source.AddSourceInput) (*model.Source, error)
	// GetSource はソース情報を取得する。
	GetSource(ctx context.Context, id int64) (*model.Source, error)
	// ListSources はソース一覧を返す。categoryが空の場合は全件。
	ListSources(ctx context.Context, category string) ([]*model.Source, error)
	// ListCategories は登録済みカテゴリの一覧を返す。
	ListCategories(ctx context.Context) ([]string, error)
	// UpdateSource はソースの編集可能フィールドを部分更新する。
	UpdateSource(ctx context.Context, id int64, input source.UpdateSourceInput) (*model.Source, error)
	// DeactivateSource はソースを自動更新の対象外にする。
	DeactivateSource(ctx context.Context, id int64) error
	// DeleteSource はソースと配下の記事を削除する。
	DeleteSource(ctx context.Context, id int64) error
}

// SourceRefresher はソース単位の更新を実行するインターフェース。
type SourceRefresher interface {
	// RefreshSource は更新が必要な場合のみフェッチを実行し、挿入記事数を返す。
	RefreshSource(ctx context.Context, sourceID int64) (int, error)
	// RefreshSourceNow は鮮度判定を省略して無条件にフェッチを実行する。
	RefreshSourceNow(ctx context.Context, sourceID int64) (int, error)
}

// BulkFetcher は全アクティブソースの一括フェッチを実行するインターフェース。
type BulkFetcher interface {
	// FetchAllActiveSources は全アクティブソースをフェッチし、
	// 挿入記事数と失敗ソース数を返す。
	FetchAllActiveSources(ctx context.Context) (int, int, error)
}

// SourceReadMarker はソース配下の記事の既読管理を提供するインターフェース。
type SourceReadMarker interface {
	// MarkSourceRead はソース配下の記事を一括既読にする。
	MarkSourceRead(ctx context.Context, sourceID int64) error
	// UnreadCountBySource はソース配下の未読記事数を返す。
	UnreadCountBySource(ctx context.Context, sourceID int64) (int, error)
}

// SourceHandler はソース管理のHTTPハンドラー。
type SourceHandler struct {
	service    SourceServiceInterface
	refresher  SourceRefresher
	fetcher    BulkFetcher
	readMarker SourceReadMarker
}

// NewSourceHandler はSourceHandlerを生成する。
func NewSourceHandler(service SourceServiceInterface, refresher SourceRefresher, fetcher BulkFetcher, readMarker SourceReadMarker) *SourceHandler {
	return &SourceHandler{
		service:    service,
		refresher:  refresher,
		fetcher:    fetcher,
		readMarker: readMarker,
	}
}

// addSourceRequest はソース登録リクエストのボディ。
type addSourceRequest struct {
	URL              string `json:"url"`
	CustomTitle      string `json:"custom_title"`
	Category         string `json:"category"`
	FetchIntervalSec int64  `json:"fetch_interval_sec"`
}

// updateSourceRequest はソース更新リクエストのボディ。nilフィールドは変更しない。
type updateSourceRequest struct {
	CustomTitle      *string `json:"custom_title"`
	Category         *string `json:"category"`
	FetchIntervalSec *int64  `json:"fetch_interval_sec"`
	IsActive         *bool   `json:"is_active"`
}

// sourceResponse はソース情報のAPIレスポンス。
type sourceResponse struct {
	ID               int64  `json:"id"`
	Title            string `json:"title"`
	CustomTitle      string `json:"custom_title,omitempty"`
	DisplayTitle     string `json:"display_title"`
	URL              string `json:"url"`
	Description      string `json:"description,omitempty"`
	Category         string `json:"category"`
	ImageURL         string `json:"image_url,omitempty"`
	IsActive         bool   `json:"is_active"`
	LastUpdate       int64  `json:"last_update"`
	FetchIntervalSec int64  `json:"fetch_interval_sec"`
}

// toSourceResponse はドメインのSourceをAPIレスポンス型に変換する。
func toSourceResponse(s *model.Source) sourceResponse {
	return sourceResponse{
		ID:               s.ID,
		Title:            s.Title,
		CustomTitle:      s.CustomTitle,
		DisplayTitle:     s.DisplayTitle(),
		URL:              s.URL,
		Description:      s.Description,
		Category:         s.Category,
		ImageURL:         s.ImageURL,
		IsActive:         s.IsActive,
		LastUpdate:       s.LastUpdate,
		FetchIntervalSec: int64(s.FetchInterval / time.Second),
	}
}

// refreshResponse はフェッチ実行結果のAPIレスポンス。
type refreshResponse struct {
	InsertedCount int `json:"inserted_count"`
}

// bulkRefreshResponse は一括フェッチ実行結果のAPIレスポンス。
type bulkRefreshResponse struct {
	InsertedCount int `json:"inserted_count"`
	FailedSources int `json:"failed_sources"`
}

// sourceIDParam はパスパラメータからソースIDを取得する。
func sourceIDParam(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// AddSource はソース登録を処理する。
// POST /api/sources
func (h *SourceHandler) AddSource(w http.ResponseWriter, r *http.Request) {
	var req addSourceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidRequest(w)
		return
	}

	if req.URL == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidURLError("URLが空です"))
		return
	}

	input := source.AddSourceInput{
		URL:         req.URL,
		CustomTitle: req.CustomTitle,
		Category:    req.Category,
	}
	if req.FetchIntervalSec > 0 {
		input.FetchInterval = time.Duration(req.FetchIntervalSec) * time.Second
	}

	src, err := h.service.AddSource(r.Context(), input)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(toSourceResponse(src))
}

// ListSources はソース一覧を返す。
// GET /api/sources?category=
func (h *SourceHandler) ListSources(w http.ResponseWriter, r *http.Request) {
	category := r.URL.Query().Get("category")

	sources, err := h.service.ListSources(r.Context(), category)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := make([]sourceResponse, len(sources))
	for i, s := range sources {
		resp[i] = toSourceResponse(s)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{"sources": resp})
}

// ListCategories は登録済みカテゴリの一覧を返す。
// GET /api/sources/categories
func (h *SourceHandler) ListCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := h.service.ListCategories(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if categories == nil {
		categories = []string{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string][]string{"categories": categories})
}

// GetSource はソース詳細を返す。
// GET /api/sources/{id}
func (h *SourceHandler) GetSource(w http.ResponseWriter, r *http.Request) {
	id, ok := sourceIDParam(r)
	if !ok {
		writeInvalidID(w)
		return
	}

	src, err := h.service.GetSource(r.Context(), id)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toSourceResponse(src))
}

// UpdateSource はソースの編集可能フィールドを部分更新する。
// PATCH /api/sources/{id}
func (h *SourceHandler) UpdateSource(w http.ResponseWriter, r *http.Request) {
	id, ok := sourceIDParam(r)
	if !ok {
		writeInvalidID(w)
		return
	}

	var req updateSourceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidRequest(w)
		return
	}

	input := source.UpdateSourceInput{
		CustomTitle: req.CustomTitle,
		Category:    req.Category,
		IsActive:    req.IsActive,
	}
	if req.FetchIntervalSec != nil {
		interval := time.Duration(*req.FetchIntervalSec) * time.Second
		input.FetchInterval = &interval
	}

	src, err := h.service.UpdateSource(r.Context(), id, input)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toSourceResponse(src))
}

// DeleteSource はソースと配下の記事を削除する。
// DELETE /api/sources/{id}
func (h *SourceHandler) DeleteSource(w http.ResponseWriter, r *http.Request) {
	id, ok := sourceIDParam(r)
	if !ok {
		writeInvalidID(w)
		return
	}

	if err := h.service.DeleteSource(r.Context(), id); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// DeactivateSource はソースを自動更新の対象外にする。
// POST /api/sources/{id}/deactivate
func (h *SourceHandler) DeactivateSource(w http.ResponseWriter, r *http.Request) {
	id, ok := sourceIDParam(r)
	if !ok {
		writeInvalidID(w)
		return
	}

	if err := h.service.DeactivateSource(r.Context(), id); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// RefreshSource はソース単位のフェッチを実行する。
// POST /api/sources/{id}/refresh?force=true で鮮度判定を省略する。
func (h *SourceHandler) RefreshSource(w http.ResponseWriter, r *http.Request) {
	id, ok := sourceIDParam(r)
	if !ok {
		writeInvalidID(w)
		return
	}

	var inserted int
	var err error
	if r.URL.Query().Get("force") == "true" {
		inserted, err = h.refresher.RefreshSourceNow(r.Context(), id)
	} else {
		inserted, err = h.refresher.RefreshSource(r.Context(), id)
	}
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(refreshResponse{InsertedCount: inserted})
}

// RefreshAll は全アクティブソースの一括フェッチを実行する。
// POST /api/refresh
func (h *SourceHandler) RefreshAll(w http.ResponseWriter, r *http.Request) {
	inserted, failed, err := h.fetcher.FetchAllActiveSources(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(bulkRefreshResponse{
		InsertedCount: inserted,
		FailedSources: failed,
	})
}

// MarkSourceRead はソース配下の記事をすべて既読にする。
// POST /api/sources/{id}/read
func (h *SourceHandler) MarkSourceRead(w http.ResponseWriter, r *http.Request) {
	id, ok := sourceIDParam(r)
	if !ok {
		writeInvalidID(w)
		return
	}

	// ソースの存在確認を先に行い、未知IDには404を返す
	if _, err := h.service.GetSource(r.Context(), id); err != nil {
		handleServiceError(w, err)
		return
	}

	if err := h.readMarker.MarkSourceRead(r.Context(), id); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// UnreadCount はソース配下の未読記事数を返す。
// GET /api/sources/{id}/unread
func (h *SourceHandler) UnreadCount(w http.ResponseWriter, r *http.Request) {
	id, ok := sourceIDParam(r)
	if !ok {
		writeInvalidID(w)
		return
	}

	if _, err := h.service.GetSource(r.Context(), id); err != nil {
		handleServiceError(w, err)
		return
	}

	count, err := h.readMarker.UnreadCountBySource(r.Context(), id)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]int{"unread_count": count})
}
