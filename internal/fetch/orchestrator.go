// Package fetch はソースのフィード取得から記事永続化までのパイプラインを提供する。
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/feedvault/internal/metrics"
	"github.com/hitoshi/feedvault/internal/model"
	"github.com/hitoshi/feedvault/internal/parser"
	"github.com/hitoshi/feedvault/internal/repository"
)

// SSRFValidator はSSRF検証のインターフェース。
type SSRFValidator interface {
	ValidateURL(rawURL string) error
	NewSafeClient(timeout time.Duration, maxResponseSize int64) *http.Client
}

// Deduplicator は記事の重複排除のインターフェース。
type Deduplicator interface {
	Filter(ctx context.Context, parsed []model.ParsedArticle) ([]model.ParsedArticle, error)
}

// Sanitizer はHTMLサニタイズのインターフェース。
type Sanitizer interface {
	Sanitize(rawHTML string) string
}

// Orchestrator は個別ソースのフェッチ・パース・重複排除・保存を統括する。
// RSSとしてのパースを先に試行し、認識できない場合はAtomとして再試行する。
type Orchestrator struct {
	sources     repository.SourceRepository
	articles    repository.ArticleRepository
	dedup       Deduplicator
	sanitizer   Sanitizer
	ssrfGuard   SSRFValidator
	collector   metrics.MetricsCollector
	logger      *slog.Logger
	timeout     time.Duration
	maxBodySize int64
}

// NewOrchestrator はOrchestratorの新しいインスタンスを生成する。
func NewOrchestrator(
	sources repository.SourceRepository,
	articles repository.ArticleRepository,
	dedup Deduplicator,
	sanitizer Sanitizer,
	ssrfGuard SSRFValidator,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
	timeout time.Duration,
	maxBodySize int64,
) *Orchestrator {
	return &Orchestrator{
		sources:     sources,
		articles:    articles,
		dedup:       dedup,
		sanitizer:   sanitizer,
		ssrfGuard:   ssrfGuard,
		collector:   collector,
		logger:      logger,
		timeout:     timeout,
		maxBodySize: maxBodySize,
	}
}

// FetchForSource は指定ソースのフィードを取得し、新規記事を保存する。
// 保存された新規記事数を返す。重複のみのフィードでは0を返す（エラーではない）。
func (o *Orchestrator) FetchForSource(ctx context.Context, sourceID int64) (int, error) {
	start := time.Now()

	source, err := o.sources.FindByID(ctx, sourceID)
	if err != nil {
		return 0, fmt.Errorf("ソースの取得に失敗しました: %w", err)
	}
	if source == nil {
		return 0, model.NewSourceNotFoundError(sourceID)
	}

	body, err := o.download(ctx, source)
	if err != nil {
		o.collector.RecordFetchFailure(sourceID, "network")
		return 0, err
	}

	parsed, err := o.parseWithFallback(body, sourceID)
	if err != nil {
		o.collector.RecordParseFailure(sourceID)
		o.collector.RecordFetchFailure(sourceID, "parse")
		o.logger.Error("フィードのパースに失敗しました",
			slog.Int64("source_id", sourceID),
			slog.String("source_url", source.URL),
			slog.String("error", err.Error()),
		)
		return 0, err
	}

	// 保存前にHTML断片を無害化する
	for i := range parsed {
		parsed[i].Description = o.sanitizer.Sanitize(parsed[i].Description)
		parsed[i].Content = o.sanitizer.Sanitize(parsed[i].Content)
	}

	fresh, err := o.dedup.Filter(ctx, parsed)
	if err != nil {
		o.collector.RecordFetchFailure(sourceID, "dedup")
		return 0, model.NewPersistenceError(err.Error())
	}
	skipped := len(parsed) - len(fresh)
	o.collector.RecordDuplicatesSkipped(skipped)

	inserted := 0
	if len(fresh) > 0 {
		now := time.Now()
		articles := make([]*model.Article, 0, len(fresh))
		for _, p := range fresh {
			articles = append(articles, &model.Article{
				SourceID:        p.SourceID,
				Title:           p.Title,
				Description:     p.Description,
				Content:         p.Content,
				ArticleURL:      p.ArticleURL,
				ImageURL:        p.ImageURL,
				PublishedAt:     p.PublishedAt,
				IsDateEstimated: p.IsDateEstimated,
				Author:          p.Author,
				Hash:            p.Hash,
				CreatedAt:       now,
			})
		}

		ids, err := o.articles.InsertBatch(ctx, articles)
		if err != nil {
			o.collector.RecordFetchFailure(sourceID, "persistence")
			return 0, model.NewPersistenceError(err.Error())
		}
		inserted = len(ids)
	}

	duration := time.Since(start)
	o.collector.RecordFetchSuccess(sourceID)
	o.collector.RecordArticlesInserted(inserted)
	o.collector.RecordFetchLatency(duration)

	o.logger.Info("ソースフェッチが完了しました",
		slog.Int64("source_id", sourceID),
		slog.String("source_url", source.URL),
		slog.Int("articles_parsed", len(parsed)),
		slog.Int("articles_inserted", inserted),
		slog.Int("duplicates_skipped", skipped),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return inserted, nil
}

// FetchAllActiveSources は全アクティブソースをフェッチする。
// 個別ソースの失敗は隔離され、残りのソースの処理は継続する。
// 保存された新規記事の合計数と、失敗したソース数を返す。
func (o *Orchestrator) FetchAllActiveSources(ctx context.Context) (int, int, error) {
	sources, err := o.sources.ListActive(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("アクティブソース一覧の取得に失敗しました: %w", err)
	}

	total := 0
	failed := 0
	for _, source := range sources {
		if ctx.Err() != nil {
			return total, failed, ctx.Err()
		}

		inserted, err := o.FetchForSource(ctx, source.ID)
		if err != nil {
			failed++
			o.logger.Warn("ソースのフェッチに失敗しました（処理は継続）",
				slog.Int64("source_id", source.ID),
				slog.String("source_url", source.URL),
				slog.String("error", err.Error()),
			)
			continue
		}
		total += inserted
	}

	o.logger.Info("全アクティブソースのフェッチが完了しました",
		slog.Int("sources_total", len(sources)),
		slog.Int("sources_failed", failed),
		slog.Int("articles_inserted", total),
	)

	return total, failed, nil
}

// download はSSRF検証済みクライアントでフィード本文を取得する。
func (o *Orchestrator) download(ctx context.Context, source *model.Source) ([]byte, error) {
	if err := o.ssrfGuard.ValidateURL(source.URL); err != nil {
		o.logger.Error("SSRF検証に失敗しました",
			slog.Int64("source_id", source.ID),
			slog.String("source_url", source.URL),
			slog.String("error", err.Error()),
		)
		return nil, model.NewSSRFBlockedError()
	}

	client := o.ssrfGuard.NewSafeClient(o.timeout, o.maxBodySize)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source.URL, nil)
	if err != nil {
		return nil, model.NewNetworkError(err.Error())
	}

	req.Header.Set("User-Agent", "Feedvault/1.0 RSS Reader")
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/xml, text/xml, */*")

	resp, err := client.Do(req)
	if err != nil {
		o.logger.Error("HTTPリクエストに失敗しました",
			slog.Int64("source_id", source.ID),
			slog.String("source_url", source.URL),
			slog.String("error", err.Error()),
		)
		return nil, model.NewNetworkError(err.Error())
	}
	defer resp.Body.Close()

	o.collector.RecordHTTPStatus(resp.StatusCode)

	if resp.StatusCode != http.StatusOK {
		o.logger.Warn("フィード取得が非200ステータスで終了しました",
			slog.Int64("source_id", source.ID),
			slog.String("source_url", source.URL),
			slog.Int("http_status", resp.StatusCode),
		)
		return nil, model.NewNetworkError(fmt.Sprintf("HTTPステータス %d", resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, o.maxBodySize))
	if err != nil {
		return nil, model.NewNetworkError(fmt.Sprintf("レスポンス読み取り失敗: %s", err.Error()))
	}
	return body, nil
}

// parseWithFallback はRSSとしてパースし、失敗時はAtomとして再試行する。
// 両形式とも認識できないコンテンツにはUNSUPPORTED_FORMATを返す。
func (o *Orchestrator) parseWithFallback(body []byte, sourceID int64) ([]model.ParsedArticle, error) {
	articles, rssErr := parser.Parse(body, parser.FormatRSS, sourceID)
	if rssErr == nil {
		return articles, nil
	}

	articles, atomErr := parser.Parse(body, parser.FormatAtom, sourceID)
	if atomErr == nil {
		return articles, nil
	}

	if errors.Is(rssErr, parser.ErrNotRecognized) && errors.Is(atomErr, parser.ErrNotRecognized) {
		return nil, model.NewUnsupportedFormatError()
	}
	return nil, model.NewParseFailedError(atomErr.Error())
}
