// Package refresh はソースの定期リフレッシュ処理を提供する。
// スケジューラ、鮮度判定、バックオフ戦略を含む。
package refresh

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/feedvault/internal/model"
	"github.com/hitoshi/feedvault/internal/repository"
)

// ContentFetcher はソース単位のフェッチ実行インターフェース。
type ContentFetcher interface {
	// FetchForSource は指定ソースのフィードを取得し、新規記事数を返す。
	FetchForSource(ctx context.Context, sourceID int64) (int, error)
}

// Scheduler はソースリフレッシュのスケジューリングと並列制御を行う。
// ティッカーでリフレッシュ対象ソースを抽出し、semaphoreパターンで
// 最大並列数を制御しながらフェッチを実行する。
type Scheduler struct {
	sources        repository.SourceRepository
	fetcher        ContentFetcher
	logger         *slog.Logger
	maxConcurrency int
	backoff        *backoffTracker
}

// NewScheduler はSchedulerの新しいインスタンスを生成する。
// maxConcurrencyが0以下の場合はデフォルト値10を使用する。
func NewScheduler(
	sources repository.SourceRepository,
	fetcher ContentFetcher,
	logger *slog.Logger,
	maxConcurrency int,
) *Scheduler {
	if maxConcurrency <= 0 {
		maxConcurrency = 10
	}
	return &Scheduler{
		sources:        sources,
		fetcher:        fetcher,
		logger:         logger,
		maxConcurrency: maxConcurrency,
		backoff:        newBackoffTracker(),
	}
}

// RefreshSource は鮮度判定付きでソースをリフレッシュする。
// リフレッシュ不要（取得間隔内）のソースにはREFRESH_NOT_NEEDEDを返し、
// フェッチは実行しない。成功時は新規記事数を返す。
func (s *Scheduler) RefreshSource(ctx context.Context, sourceID int64) (int, error) {
	source, err := s.sources.FindByID(ctx, sourceID)
	if err != nil {
		return 0, fmt.Errorf("ソースの取得に失敗しました: %w", err)
	}
	if source == nil {
		return 0, model.NewSourceNotFoundError(sourceID)
	}

	if !source.NeedsRefresh(time.Now()) {
		return 0, model.NewRefreshNotNeededError(sourceID)
	}

	return s.refresh(ctx, sourceID)
}

// RefreshSourceNow は鮮度判定を行わず無条件にソースをリフレッシュする。
func (s *Scheduler) RefreshSourceNow(ctx context.Context, sourceID int64) (int, error) {
	return s.refresh(ctx, sourceID)
}

// refresh はフェッチを実行し、成功時のみ最終更新時刻を進める。
// 失敗時は最終更新時刻を変更せず（ソースはリフレッシュ対象のまま残る）、
// バックオフ状態を記録して即時再試行を抑制する。
func (s *Scheduler) refresh(ctx context.Context, sourceID int64) (int, error) {
	now := time.Now()

	inserted, err := s.fetcher.FetchForSource(ctx, sourceID)
	if err != nil {
		s.backoff.RecordFailure(sourceID, now)
		return 0, err
	}

	s.backoff.Reset(sourceID)
	if err := s.sources.SetLastUpdate(ctx, sourceID, now.UnixMilli()); err != nil {
		return inserted, fmt.Errorf("最終更新時刻の記録に失敗しました: %w", err)
	}
	return inserted, nil
}

// Start は指定間隔のティッカーでスケジューラを起動する。
// コンテキストがキャンセルされるまで実行を継続する。
func (s *Scheduler) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("リフレッシュスケジューラを開始しました",
		slog.Duration("interval", interval),
		slog.Int("max_concurrency", s.maxConcurrency),
	)

	// 起動直後に1回実行
	if err := s.RunOnce(ctx); err != nil {
		s.logger.Error("リフレッシュサイクルの実行に失敗しました",
			slog.String("error", err.Error()),
		)
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("リフレッシュスケジューラを停止しました")
			return
		case <-ticker.C:
			if err := s.RunOnce(ctx); err != nil {
				s.logger.Error("リフレッシュサイクルの実行に失敗しました",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// RunOnce はリフレッシュ対象ソースを1回抽出し、並列でフェッチを実行する。
// 対象は「アクティブかつ取得間隔を超過、かつバックオフ期間外」のソース。
// semaphoreパターンで最大並列数を制御し、個別ソースの失敗は隔離する。
func (s *Scheduler) RunOnce(ctx context.Context) error {
	start := time.Now()

	active, err := s.sources.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("アクティブソース一覧の取得に失敗しました: %w", err)
	}

	var due []*model.Source
	for _, source := range active {
		if source.NeedsRefresh(start) && s.backoff.Eligible(source.ID, start) {
			due = append(due, source)
		}
	}

	if len(due) == 0 {
		s.logger.Info("リフレッシュ対象のソースはありません")
		return nil
	}

	s.logger.Info("リフレッシュサイクルを開始します",
		slog.Int("source_count", len(due)),
	)

	sem := make(chan struct{}, s.maxConcurrency)
	var wg sync.WaitGroup

	for _, source := range due {
		if ctx.Err() != nil {
			break
		}

		wg.Add(1)
		sem <- struct{}{} // semaphore取得（ブロック）

		go func(src *model.Source) {
			defer wg.Done()
			defer func() { <-sem }() // semaphore解放

			if _, err := s.refresh(ctx, src.ID); err != nil {
				s.logger.Error("ソースリフレッシュに失敗しました",
					slog.Int64("source_id", src.ID),
					slog.String("source_url", src.URL),
					slog.String("error", err.Error()),
				)
			}
		}(source)
	}

	wg.Wait()

	duration := time.Since(start)
	s.logger.Info("リフレッシュサイクルが完了しました",
		slog.Int("source_count", len(due)),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return nil
}
