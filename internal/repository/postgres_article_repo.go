package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/hitoshi/feedvault/internal/model"
)

// PostgresArticleRepo はPostgreSQLを使用した記事リポジトリ。
type PostgresArticleRepo struct {
	db *sql.DB
}

// NewPostgresArticleRepo はPostgresArticleRepoを生成する。
func NewPostgresArticleRepo(db *sql.DB) *PostgresArticleRepo {
	return &PostgresArticleRepo{db: db}
}

const articleColumns = `a.id, a.source_id, a.title, a.description, a.content,
	a.article_url, a.image_url, a.published_at, a.is_date_estimated,
	a.author, a.is_read, a.is_favorite, a.hash, a.created_at, a.updated_at`

// insertColumnCount はInsertBatchのプレースホルダ生成に使用する列数。
const insertColumnCount = 13

// InsertBatch は記事を1回の複数行INSERTで一括挿入し、採番されたIDを返す。
// ON CONFLICT DO NOTHINGにより、article_urlやhashの一意制約に衝突する行は
// 黙ってスキップされ、残りの行の挿入は継続する。RETURNING idは実際に
// 挿入された行のIDのみを返す。
func (r *PostgresArticleRepo) InsertBatch(ctx context.Context, articles []*model.Article) ([]int64, error) {
	if len(articles) == 0 {
		return nil, nil
	}

	var sb strings.Builder
	sb.WriteString(`INSERT INTO articles (source_id, title, description, content,
		article_url, image_url, published_at, is_date_estimated, author,
		is_read, is_favorite, hash, created_at)
		VALUES `)

	args := make([]interface{}, 0, len(articles)*insertColumnCount)
	for i, a := range articles {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("(")
		for j := 0; j < insertColumnCount; j++ {
			if j > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "$%d", i*insertColumnCount+j+1)
		}
		sb.WriteString(")")

		args = append(args,
			a.SourceID, a.Title, a.Description, a.Content,
			a.ArticleURL, nullString(a.ImageURL), a.PublishedAt,
			a.IsDateEstimated, nullString(a.Author),
			a.IsRead, a.IsFavorite, a.Hash, a.CreatedAt,
		)
	}
	sb.WriteString(" ON CONFLICT DO NOTHING RETURNING id")

	rows, err := r.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("記事の一括挿入に失敗しました: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("挿入済み記事IDの読み取りに失敗しました: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("挿入済み記事IDの走査に失敗しました: %w", err)
	}
	return ids, nil
}

// FindByID は指定IDの記事を取得する。見つからない場合はnilを返す。
// ソースタイトルは読み取り時にJOINで解決される。
func (r *PostgresArticleRepo) FindByID(ctx context.Context, id int64) (*model.Article, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+articleColumns+`, COALESCE(s.custom_title, s.title) AS source_title
		 FROM articles a JOIN sources s ON a.source_id = s.id
		 WHERE a.id = $1`, id)
	article, err := scanArticle(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("記事の取得に失敗しました: %w", err)
	}
	return article, nil
}

// FindByHash はコンテンツハッシュで記事を検索する。見つからない場合はnilを返す。
// ハッシュ列の一意索引に対するポイントルックアップ。
func (r *PostgresArticleRepo) FindByHash(ctx context.Context, hash string) (*model.Article, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+articleColumns+`, '' AS source_title
		 FROM articles a WHERE a.hash = $1 LIMIT 1`, hash)
	article, err := scanArticle(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ハッシュによる記事の検索に失敗しました: %w", err)
	}
	return article, nil
}

// FindByURL は記事URLで記事を検索する。見つからない場合はnilを返す。
func (r *PostgresArticleRepo) FindByURL(ctx context.Context, url string) (*model.Article, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+articleColumns+`, '' AS source_title
		 FROM articles a WHERE a.article_url = $1 LIMIT 1`, url)
	article, err := scanArticle(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("URLによる記事の検索に失敗しました: %w", err)
	}
	return article, nil
}

// List は検索条件に一致する記事をpublished_at降順で返す。
// カーソルベースページネーション: CursorMillisより古い記事から取得する。
func (r *PostgresArticleRepo) List(ctx context.Context, q ArticleQuery) ([]*model.Article, error) {
	query := `SELECT ` + articleColumns + `, COALESCE(s.custom_title, s.title) AS source_title
		 FROM articles a JOIN sources s ON a.source_id = s.id
		 WHERE 1=1`

	args := []interface{}{}
	argIndex := 1

	if q.SourceID > 0 {
		query += fmt.Sprintf(" AND a.source_id = $%d", argIndex)
		args = append(args, q.SourceID)
		argIndex++
	}

	if q.Category != "" {
		query += fmt.Sprintf(" AND s.category = $%d", argIndex)
		args = append(args, q.Category)
		argIndex++
	}

	if q.Search != "" {
		query += fmt.Sprintf(" AND (a.title ILIKE $%d OR a.description ILIKE $%d)", argIndex, argIndex)
		args = append(args, "%"+q.Search+"%")
		argIndex++
	}

	switch q.Filter {
	case model.ArticleFilterUnread:
		query += " AND a.is_read = false"
	case model.ArticleFilterFavorite:
		query += " AND a.is_favorite = true"
	case model.ArticleFilterAll, "":
		// 全件: 追加条件なし
	}

	if q.CursorMillis > 0 {
		query += fmt.Sprintf(" AND a.published_at < $%d", argIndex)
		args = append(args, q.CursorMillis)
		argIndex++
	}

	query += fmt.Sprintf(" ORDER BY a.published_at DESC LIMIT $%d", argIndex)
	args = append(args, q.Limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("記事一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var articles []*model.Article
	for rows.Next() {
		article, err := scanArticle(rows)
		if err != nil {
			return nil, fmt.Errorf("記事行の読み取りに失敗しました: %w", err)
		}
		articles = append(articles, article)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("記事一覧の走査に失敗しました: %w", err)
	}
	return articles, nil
}

// MarkRead は記事を既読にする。
func (r *PostgresArticleRepo) MarkRead(ctx context.Context, id int64) error {
	return r.execFlag(ctx,
		`UPDATE articles SET is_read = true, updated_at = now() WHERE id = $1`, id)
}

// MarkUnread は記事を未読に戻す。
func (r *PostgresArticleRepo) MarkUnread(ctx context.Context, id int64) error {
	return r.execFlag(ctx,
		`UPDATE articles SET is_read = false, updated_at = now() WHERE id = $1`, id)
}

// MarkFavorite は記事をお気に入りにする。
func (r *PostgresArticleRepo) MarkFavorite(ctx context.Context, id int64) error {
	return r.execFlag(ctx,
		`UPDATE articles SET is_favorite = true, updated_at = now() WHERE id = $1`, id)
}

// UnmarkFavorite は記事のお気に入りを解除する。
func (r *PostgresArticleRepo) UnmarkFavorite(ctx context.Context, id int64) error {
	return r.execFlag(ctx,
		`UPDATE articles SET is_favorite = false, updated_at = now() WHERE id = $1`, id)
}

// MarkSourceRead は指定ソースの全記事を既読にする。
func (r *PostgresArticleRepo) MarkSourceRead(ctx context.Context, sourceID int64) error {
	return r.execFlag(ctx,
		`UPDATE articles SET is_read = true, updated_at = now() WHERE source_id = $1`, sourceID)
}

// execFlag はフラグ更新系のUPDATEを実行する共通処理。
func (r *PostgresArticleRepo) execFlag(ctx context.Context, query string, id int64) error {
	_, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("記事フラグの更新に失敗しました: %w", err)
	}
	return nil
}

// UnreadCountBySource は指定ソースの未読記事数を返す。
func (r *PostgresArticleRepo) UnreadCountBySource(ctx context.Context, sourceID int64) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM articles WHERE source_id = $1 AND is_read = false`,
		sourceID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("未読数の取得に失敗しました: %w", err)
	}
	return count, nil
}

// TotalUnreadCount は全ソースの未読記事数を返す。
func (r *PostgresArticleRepo) TotalUnreadCount(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM articles WHERE is_read = false`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("全体未読数の取得に失敗しました: %w", err)
	}
	return count, nil
}

// FavoriteCount はお気に入り記事数を返す。
func (r *PostgresArticleRepo) FavoriteCount(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM articles WHERE is_favorite = true`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("お気に入り数の取得に失敗しました: %w", err)
	}
	return count, nil
}

// DeleteByID は指定IDの記事を削除する。
func (r *PostgresArticleRepo) DeleteByID(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM articles WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("記事の削除に失敗しました: %w", err)
	}
	return nil
}

// DeleteBySource は指定ソースの全記事を削除する。
func (r *PostgresArticleRepo) DeleteBySource(ctx context.Context, sourceID int64) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM articles WHERE source_id = $1`, sourceID)
	if err != nil {
		return fmt.Errorf("ソース記事の一括削除に失敗しました: %w", err)
	}
	return nil
}

// DeleteOlderThan は公開時刻がcutoffMillisより古い記事を削除し、削除件数を返す。
func (r *PostgresArticleRepo) DeleteOlderThan(ctx context.Context, cutoffMillis int64) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM articles WHERE published_at < $1`, cutoffMillis)
	if err != nil {
		return 0, fmt.Errorf("古い記事の削除に失敗しました: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("削除件数の取得に失敗しました: %w", err)
	}
	return deleted, nil
}

// scanArticle は1行をmodel.Articleに読み取る。
func scanArticle(row rowScanner) (*model.Article, error) {
	article := &model.Article{}
	var imageURL, author sql.NullString

	err := row.Scan(
		&article.ID, &article.SourceID, &article.Title, &article.Description,
		&article.Content, &article.ArticleURL, &imageURL,
		&article.PublishedAt, &article.IsDateEstimated, &author,
		&article.IsRead, &article.IsFavorite, &article.Hash,
		&article.CreatedAt, &article.UpdatedAt,
		&article.SourceTitle,
	)
	if err != nil {
		return nil, err
	}

	article.ImageURL = nullStringValue(imageURL)
	article.Author = nullStringValue(author)
	return article, nil
}

// compile-time interface check
var _ ArticleRepository = (*PostgresArticleRepo)(nil)
var _ SourceRepository = (*PostgresSourceRepo)(nil)
