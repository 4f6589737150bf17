// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"

	"github.com/hitoshi/feedvault/internal/model"
)

// SourceRepository はソースデータの永続化インターフェース。
type SourceRepository interface {
	// Insert はソースを作成し、採番されたIDを返す。
	// URLの一意制約違反は呼び出し側で事前チェックする前提だが、
	// 競合時はエラーを返す。
	Insert(ctx context.Context, source *model.Source) (int64, error)

	// Update はソース情報を更新する。
	Update(ctx context.Context, source *model.Source) error

	// Delete は指定IDのソースを削除する。
	// 所属する記事はCASCADE削除される。
	Delete(ctx context.Context, id int64) error

	// FindByID は指定IDのソースを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id int64) (*model.Source, error)

	// FindByURL はフィードURLでソースを検索する。見つからない場合はnilを返す。
	FindByURL(ctx context.Context, url string) (*model.Source, error)

	// ListAll は全ソースをタイトル昇順で返す。
	ListAll(ctx context.Context) ([]*model.Source, error)

	// ListActive はアクティブなソースをタイトル昇順で返す。
	ListActive(ctx context.Context) ([]*model.Source, error)

	// ListByCategory は指定カテゴリのアクティブなソースを返す。
	ListByCategory(ctx context.Context, category string) ([]*model.Source, error)

	// ListCategories はアクティブなソースのカテゴリ一覧を返す。
	ListCategories(ctx context.Context) ([]string, error)

	// SetLastUpdate は最終フェッチ成功時刻（エポックミリ秒）を更新する。
	SetLastUpdate(ctx context.Context, id int64, timestampMillis int64) error

	// Deactivate はソースを非アクティブ化する（ソフト無効化）。
	// アクティブソース一覧から除外されるが、記事は保持される。
	Deactivate(ctx context.Context, id int64) error

	// ActiveCount はアクティブなソース数を返す。
	ActiveCount(ctx context.Context) (int, error)
}

// ArticleQuery は記事一覧取得の検索条件。
// CursorMillisが0より大きい場合、published_atがその値より小さい記事から返す
// （published_at降順のカーソルベースページネーション）。
type ArticleQuery struct {
	Filter       model.ArticleFilter
	SourceID     int64  // 0の場合は全ソース
	Category     string // 空の場合は全カテゴリ
	Search       string // タイトル・説明文の部分一致検索語
	CursorMillis int64
	Limit        int
}

// ArticleRepository は記事データの永続化インターフェース。
// 重複排除エンジンのハッシュ索引（FindByHash）とフェッチパイプラインの
// バッチ挿入（InsertBatch）を提供する。
type ArticleRepository interface {
	// InsertBatch は記事を1回の複数行INSERTで一括挿入し、採番されたIDを返す。
	// 空スライスの場合は何もせずnilを返す。
	InsertBatch(ctx context.Context, articles []*model.Article) ([]int64, error)

	// FindByID は指定IDの記事を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id int64) (*model.Article, error)

	// FindByHash はコンテンツハッシュで記事を検索する。見つからない場合はnilを返す。
	// 重複排除の唯一の判定手段。
	FindByHash(ctx context.Context, hash string) (*model.Article, error)

	// FindByURL は記事URLで記事を検索する。見つからない場合はnilを返す。
	FindByURL(ctx context.Context, url string) (*model.Article, error)

	// List は検索条件に一致する記事をpublished_at降順で返す。
	// ソースタイトルはJOINで解決される。
	List(ctx context.Context, q ArticleQuery) ([]*model.Article, error)

	// MarkRead / MarkUnread は既読フラグを更新する。
	MarkRead(ctx context.Context, id int64) error
	MarkUnread(ctx context.Context, id int64) error

	// MarkFavorite / UnmarkFavorite はお気に入りフラグを更新する。
	MarkFavorite(ctx context.Context, id int64) error
	UnmarkFavorite(ctx context.Context, id int64) error

	// MarkSourceRead は指定ソースの全記事を既読にする。
	MarkSourceRead(ctx context.Context, sourceID int64) error

	// UnreadCountBySource は指定ソースの未読記事数を返す。
	UnreadCountBySource(ctx context.Context, sourceID int64) (int, error)

	// TotalUnreadCount は全ソースの未読記事数を返す。
	TotalUnreadCount(ctx context.Context) (int, error)

	// FavoriteCount はお気に入り記事数を返す。
	FavoriteCount(ctx context.Context) (int, error)

	// DeleteByID は指定IDの記事を削除する。
	DeleteByID(ctx context.Context, id int64) error

	// DeleteBySource は指定ソースの全記事を削除する。
	DeleteBySource(ctx context.Context, sourceID int64) error

	// DeleteOlderThan は公開時刻がcutoffMillisより古い記事を削除し、
	// 削除件数を返す。保持期間クリーンアップ用。
	DeleteOlderThan(ctx context.Context, cutoffMillis int64) (int64, error)
}
