// Package article は記事の閲覧・状態管理機能を提供する。
package article

import (
	"context"
	"fmt"
	"strconv"

	"github.com/hitoshi/feedvault/internal/model"
	"github.com/hitoshi/feedvault/internal/repository"
)

// defaultListLimit は記事一覧のデフォルト取得件数。
const defaultListLimit = 50

// maxListLimit は記事一覧の最大取得件数。
const maxListLimit = 200

// ArticleService は記事取得・状態管理のサービス。
type ArticleService struct {
	articles repository.ArticleRepository
}

// NewArticleService はArticleServiceの新しいインスタンスを生成する。
func NewArticleService(articles repository.ArticleRepository) *ArticleService {
	return &ArticleService{
		articles: articles,
	}
}

// validFilters は有効なフィルタ値のセット。
var validFilters = map[model.ArticleFilter]bool{
	model.ArticleFilterAll:      true,
	model.ArticleFilterUnread:   true,
	model.ArticleFilterFavorite: true,
}

// ListQuery は記事一覧取得のリクエストパラメータ。
type ListQuery struct {
	Filter   string
	SourceID int64
	Category string
	Search   string
	Cursor   string // published_atエポックミリ秒の文字列
	Limit    int
}

// ListResult はListArticlesの戻り値。
type ListResult struct {
	Articles   []Summary
	NextCursor string
	HasMore    bool
}

// Summary は記事一覧のサマリー情報。
// 本文は含めず、一覧表示用のティーザーを提供する。
type Summary struct {
	ID              int64
	SourceID        int64
	SourceTitle     string
	Title           string
	Teaser          string
	ArticleURL      string
	ImageURL        string
	PublishedAt     int64
	IsDateEstimated bool
	Author          string
	IsRead          bool
	IsFavorite      bool
}

// ListArticles は記事一覧をフィルタ・検索・ページネーション付きで返す。
// published_at降順のカーソルベースページネーションを使用し、
// limit+1件を取得してHasMoreを判定する。
func (s *ArticleService) ListArticles(ctx context.Context, q ListQuery) (*ListResult, error) {
	filter := model.ArticleFilter(q.Filter)
	if q.Filter == "" {
		filter = model.ArticleFilterAll
	}
	if !validFilters[filter] {
		return nil, model.NewInvalidFilterError(q.Filter)
	}

	var cursorMillis int64
	if q.Cursor != "" {
		var err error
		cursorMillis, err = strconv.ParseInt(q.Cursor, 10, 64)
		if err != nil || cursorMillis <= 0 {
			return nil, model.NewInvalidFilterError("無効なカーソル値: " + q.Cursor)
		}
	}

	limit := q.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	articles, err := s.articles.List(ctx, repository.ArticleQuery{
		Filter:       filter,
		SourceID:     q.SourceID,
		Category:     q.Category,
		Search:       q.Search,
		CursorMillis: cursorMillis,
		Limit:        limit + 1,
	})
	if err != nil {
		return nil, fmt.Errorf("記事一覧の取得に失敗しました: %w", err)
	}

	hasMore := len(articles) > limit
	if hasMore {
		articles = articles[:limit]
	}

	summaries := make([]Summary, len(articles))
	var nextCursor string
	for i, a := range articles {
		summaries[i] = Summary{
			ID:              a.ID,
			SourceID:        a.SourceID,
			SourceTitle:     a.SourceTitle,
			Title:           a.Title,
			Teaser:          Teaser(a.Description, teaserLimit),
			ArticleURL:      a.ArticleURL,
			ImageURL:        a.ImageURL,
			PublishedAt:     a.PublishedAt,
			IsDateEstimated: a.IsDateEstimated,
			Author:          a.Author,
			IsRead:          a.IsRead,
			IsFavorite:      a.IsFavorite,
		}
		if i == len(articles)-1 {
			nextCursor = strconv.FormatInt(a.PublishedAt, 10)
		}
	}
	if !hasMore {
		nextCursor = ""
	}

	return &ListResult{
		Articles:   summaries,
		NextCursor: nextCursor,
		HasMore:    hasMore,
	}, nil
}

// GetArticle は指定IDの記事を本文込みで取得する。
func (s *ArticleService) GetArticle(ctx context.Context, id int64) (*model.Article, error) {
	article, err := s.articles.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("記事の取得に失敗しました: %w", err)
	}
	if article == nil {
		return nil, model.NewArticleNotFoundError(id)
	}
	return article, nil
}

// UpdateState は記事の既読・お気に入り状態を更新する。
// nilのフィールドは変更しない。
func (s *ArticleService) UpdateState(ctx context.Context, id int64, read, favorite *bool) (*model.Article, error) {
	if _, err := s.GetArticle(ctx, id); err != nil {
		return nil, err
	}

	if read != nil {
		var err error
		if *read {
			err = s.articles.MarkRead(ctx, id)
		} else {
			err = s.articles.MarkUnread(ctx, id)
		}
		if err != nil {
			return nil, fmt.Errorf("既読状態の更新に失敗しました: %w", err)
		}
	}

	if favorite != nil {
		var err error
		if *favorite {
			err = s.articles.MarkFavorite(ctx, id)
		} else {
			err = s.articles.UnmarkFavorite(ctx, id)
		}
		if err != nil {
			return nil, fmt.Errorf("お気に入り状態の更新に失敗しました: %w", err)
		}
	}

	return s.GetArticle(ctx, id)
}

// MarkSourceRead は指定ソースの全記事を既読にする。
func (s *ArticleService) MarkSourceRead(ctx context.Context, sourceID int64) error {
	if err := s.articles.MarkSourceRead(ctx, sourceID); err != nil {
		return fmt.Errorf("一括既読化に失敗しました: %w", err)
	}
	return nil
}

// Counts は未読・お気に入りの集計値。
type Counts struct {
	TotalUnread int
	Favorites   int
}

// GetCounts は全体の未読数とお気に入り数を返す。
func (s *ArticleService) GetCounts(ctx context.Context) (*Counts, error) {
	unread, err := s.articles.TotalUnreadCount(ctx)
	if err != nil {
		return nil, fmt.Errorf("未読数の取得に失敗しました: %w", err)
	}
	favorites, err := s.articles.FavoriteCount(ctx)
	if err != nil {
		return nil, fmt.Errorf("お気に入り数の取得に失敗しました: %w", err)
	}
	return &Counts{TotalUnread: unread, Favorites: favorites}, nil
}

// UnreadCountBySource は指定ソースの未読数を返す。
func (s *ArticleService) UnreadCountBySource(ctx context.Context, sourceID int64) (int, error) {
	return s.articles.UnreadCountBySource(ctx, sourceID)
}

// DeleteArticle は指定IDの記事を削除する。
func (s *ArticleService) DeleteArticle(ctx context.Context, id int64) error {
	if _, err := s.GetArticle(ctx, id); err != nil {
		return err
	}
	if err := s.articles.DeleteByID(ctx, id); err != nil {
		return fmt.Errorf("記事の削除に失敗しました: %w", err)
	}
	return nil
}
