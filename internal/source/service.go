// Package source はソース登録・管理のドメインロジックを提供する。
package source

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hitoshi/feedvault/internal/model"
	"github.com/hitoshi/feedvault/internal/repository"
)

// SSRFValidator はSSRF検証のインターフェース。
// security.SSRFGuardServiceを抽象化してテスタビリティを向上させる。
type SSRFValidator interface {
	ValidateURL(rawURL string) error
	NewSafeClient(timeout time.Duration, maxResponseSize int64) *http.Client
}

// AddSourceInput はソース登録の入力。
// URL以外のフィールドは省略可能で、省略時はフィードのメタデータと
// デフォルト値で補完される。
type AddSourceInput struct {
	URL           string
	CustomTitle   string
	Category      string
	FetchInterval time.Duration
}

// UpdateSourceInput はソース更新の入力。nilのフィールドは変更しない。
type UpdateSourceInput struct {
	CustomTitle   *string
	Category      *string
	FetchInterval *time.Duration
	IsActive      *bool
}

// SourceService はソース登録・管理のサービス層。
// URL検証 → 重複チェック → メタデータ補完 → アイコン解決 → 保存のフローを統括する。
type SourceService struct {
	sources  repository.SourceRepository
	metadata MetadataResolverService
	favicon  FaviconResolverService
	ssrf     SSRFValidator
	logger   *slog.Logger
}

// NewSourceService はSourceServiceの新しいインスタンスを生成する。
func NewSourceService(
	sources repository.SourceRepository,
	metadata MetadataResolverService,
	favicon FaviconResolverService,
	ssrf SSRFValidator,
	logger *slog.Logger,
) *SourceService {
	return &SourceService{
		sources:  sources,
		metadata: metadata,
		favicon:  favicon,
		ssrf:     ssrf,
		logger:   logger,
	}
}

// AddSource は新しいソースを登録する。
// 登録済みURLの再登録はDUPLICATE_SOURCEで拒否される。
// タイトル・説明はフィードのメタデータから補完し、取得に失敗した場合は
// URLを初期タイトルとして登録する（初回フェッチ後に正しいタイトルが得られる）。
func (s *SourceService) AddSource(ctx context.Context, input AddSourceInput) (*model.Source, error) {
	feedURL, err := normalizeURL(input.URL)
	if err != nil {
		return nil, err
	}

	if s.ssrf != nil {
		if err := s.ssrf.ValidateURL(feedURL); err != nil {
			return nil, model.NewSSRFBlockedError()
		}
	}

	existing, err := s.sources.FindByURL(ctx, feedURL)
	if err != nil {
		return nil, fmt.Errorf("ソースの検索に失敗しました: %w", err)
	}
	if existing != nil {
		return nil, model.NewDuplicateSourceError(feedURL)
	}

	now := time.Now()
	source := &model.Source{
		Title:         feedURL, // 初期タイトルはフィードURL（メタデータ取得時に更新される）
		CustomTitle:   strings.TrimSpace(input.CustomTitle),
		URL:           feedURL,
		Category:      model.DefaultCategory,
		IsActive:      true,
		LastUpdate:    0,
		FetchInterval: model.DefaultFetchInterval,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if c := strings.TrimSpace(input.Category); c != "" {
		source.Category = c
	}
	if input.FetchInterval > 0 {
		source.FetchInterval = input.FetchInterval
	}

	// メタデータ補完（失敗してもURL初期値のまま登録を継続）
	siteURL := feedURL
	if s.metadata != nil {
		meta, err := s.metadata.Resolve(ctx, feedURL)
		if err != nil {
			s.logger.Warn("フィードメタデータの取得に失敗しました",
				slog.String("url", feedURL),
				slog.String("error", err.Error()),
			)
		} else {
			if meta.Title != "" {
				source.Title = meta.Title
			}
			if meta.Description != "" {
				source.Description = meta.Description
			}
			if meta.SiteURL != "" {
				siteURL = meta.SiteURL
			}
		}
	}

	// アイコン解決（ベストエフォート）
	if s.favicon != nil {
		source.ImageURL = s.favicon.ResolveIconURL(ctx, siteURL)
	}

	id, err := s.sources.Insert(ctx, source)
	if err != nil {
		return nil, fmt.Errorf("ソースの保存に失敗しました: %w", err)
	}
	source.ID = id

	s.logger.Info("ソースを登録しました",
		slog.Int64("source_id", id),
		slog.String("url", feedURL),
		slog.String("title", source.Title),
	)

	return source, nil
}

// GetSource は指定IDのソースを取得する。
func (s *SourceService) GetSource(ctx context.Context, id int64) (*model.Source, error) {
	source, err := s.sources.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("ソースの取得に失敗しました: %w", err)
	}
	if source == nil {
		return nil, model.NewSourceNotFoundError(id)
	}
	return source, nil
}

// ListSources はソース一覧を返す。categoryが空の場合は全アクティブソース。
func (s *SourceService) ListSources(ctx context.Context, category string) ([]*model.Source, error) {
	if category != "" {
		return s.sources.ListByCategory(ctx, category)
	}
	return s.sources.ListActive(ctx)
}

// ListCategories はアクティブなソースのカテゴリ一覧を返す。
func (s *SourceService) ListCategories(ctx context.Context) ([]string, error) {
	return s.sources.ListCategories(ctx)
}

// UpdateSource はソースのユーザー編集可能なフィールドを更新する。
func (s *SourceService) UpdateSource(ctx context.Context, id int64, input UpdateSourceInput) (*model.Source, error) {
	source, err := s.GetSource(ctx, id)
	if err != nil {
		return nil, err
	}

	if input.CustomTitle != nil {
		source.CustomTitle = strings.TrimSpace(*input.CustomTitle)
	}
	if input.Category != nil {
		source.Category = strings.TrimSpace(*input.Category)
		if source.Category == "" {
			source.Category = model.DefaultCategory
		}
	}
	if input.FetchInterval != nil && *input.FetchInterval > 0 {
		source.FetchInterval = *input.FetchInterval
	}
	if input.IsActive != nil {
		source.IsActive = *input.IsActive
	}
	source.UpdatedAt = time.Now()

	if err := s.sources.Update(ctx, source); err != nil {
		return nil, fmt.Errorf("ソースの更新に失敗しました: %w", err)
	}
	return source, nil
}

// DeactivateSource はソースを非アクティブ化する。記事は保持される。
func (s *SourceService) DeactivateSource(ctx context.Context, id int64) error {
	if _, err := s.GetSource(ctx, id); err != nil {
		return err
	}
	if err := s.sources.Deactivate(ctx, id); err != nil {
		return fmt.Errorf("ソースの非アクティブ化に失敗しました: %w", err)
	}
	return nil
}

// DeleteSource はソースを削除する。所属する記事はCASCADE削除される。
func (s *SourceService) DeleteSource(ctx context.Context, id int64) error {
	if _, err := s.GetSource(ctx, id); err != nil {
		return err
	}
	if err := s.sources.Delete(ctx, id); err != nil {
		return fmt.Errorf("ソースの削除に失敗しました: %w", err)
	}
	s.logger.Info("ソースを削除しました", slog.Int64("source_id", id))
	return nil
}

// normalizeURL は入力URLを検証し、正規化したURLを返す。
func normalizeURL(rawURL string) (string, error) {
	trimmed := strings.TrimSpace(rawURL)
	if trimmed == "" {
		return "", model.NewInvalidURLError("URLが入力されていません")
	}

	parsed, err := url.Parse(trimmed)
	if err != nil {
		return "", model.NewInvalidURLError(err.Error())
	}
	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", model.NewInvalidURLError(fmt.Sprintf("未対応のスキームです: %s", parsed.Scheme))
	}
	if parsed.Host == "" {
		return "", model.NewInvalidURLError("ホストが含まれていません")
	}

	return parsed.String(), nil
}
