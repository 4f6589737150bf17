package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/feedvault/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter

	// サービス
	SourceService  SourceServiceInterface
	Refresher      SourceRefresher
	BulkFetcher    BulkFetcher
	ArticleService ArticleServiceInterface
	ReadMarker     SourceReadMarker

	// メトリクス公開用ハンドラー（promhttp）
	MetricsHandler http.Handler
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → RequestID → Logging → SecurityHeaders → CORS → RateLimit(General)
//
// /health と /metrics はレート制限の外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewRequestIDMiddleware())
	if deps.Logger != nil {
		r.Use(middleware.NewLoggingMiddleware(deps.Logger))
	}
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	sourceHandler := NewSourceHandler(deps.SourceService, deps.Refresher, deps.BulkFetcher, deps.ReadMarker)
	articleHandler := NewArticleHandler(deps.ArticleService)

	// --- レート制限の対象外 ---

	r.Get("/health", handleHealth)

	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	// --- APIルート ---
	r.Group(func(r chi.Router) {
		if deps.RateLimiter != nil {
			r.Use(deps.RateLimiter.GeneralMiddleware())
		}

		// ソース管理
		r.Route("/api/sources", func(r chi.Router) {
			// POST /api/sources - ソース登録（登録専用レート制限を追加）
			if deps.RateLimiter != nil {
				r.With(deps.RateLimiter.SourceRegistrationMiddleware()).Post("/", sourceHandler.AddSource)
			} else {
				r.Post("/", sourceHandler.AddSource)
			}

			r.Get("/", sourceHandler.ListSources)
			r.Get("/categories", sourceHandler.ListCategories)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", sourceHandler.GetSource)
				r.Patch("/", sourceHandler.UpdateSource)
				r.Delete("/", sourceHandler.DeleteSource)
				r.Post("/deactivate", sourceHandler.DeactivateSource)
				r.Post("/refresh", sourceHandler.RefreshSource)
				r.Post("/read", sourceHandler.MarkSourceRead)
				r.Get("/unread", sourceHandler.UnreadCount)

				// GET /api/sources/{id}/articles - ソースごとの記事一覧
				r.Get("/articles", articleHandler.ListSourceArticles)
			})
		})

		// 一括フェッチ
		r.Post("/api/refresh", sourceHandler.RefreshAll)

		// 記事管理
		r.Route("/api/articles", func(r chi.Router) {
			r.Get("/", articleHandler.ListArticles)
			r.Get("/counts", articleHandler.GetCounts)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", articleHandler.GetArticle)
				r.Put("/state", articleHandler.UpdateState)
				r.Delete("/", articleHandler.DeleteArticle)
			})
		})
	})

	return r
}

// handleHealth はヘルスチェックエンドポイント。
// GET /health
func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
