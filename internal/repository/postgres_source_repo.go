package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/feedvault/internal/model"
)

// PostgresSourceRepo はPostgreSQLを使用したソースリポジトリ。
type PostgresSourceRepo struct {
	db *sql.DB
}

// NewPostgresSourceRepo はPostgresSourceRepoを生成する。
func NewPostgresSourceRepo(db *sql.DB) *PostgresSourceRepo {
	return &PostgresSourceRepo{db: db}
}

const sourceColumns = `id, title, custom_title, url, description, category,
	image_url, is_active, last_update, fetch_interval_ms, created_at, updated_at`

// Insert はソースを作成し、採番されたIDを返す。
func (r *PostgresSourceRepo) Insert(ctx context.Context, source *model.Source) (int64, error) {
	var id int64
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO sources (title, custom_title, url, description, category,
		                      image_url, is_active, last_update, fetch_interval_ms,
		                      created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 RETURNING id`,
		source.Title, nullString(source.CustomTitle), source.URL,
		source.Description, source.Category, nullString(source.ImageURL),
		source.IsActive, source.LastUpdate, source.FetchInterval.Milliseconds(),
		source.CreatedAt, source.UpdatedAt,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("ソースの作成に失敗しました: %w", err)
	}
	source.ID = id
	return id, nil
}

// Update はソース情報を更新する。
func (r *PostgresSourceRepo) Update(ctx context.Context, source *model.Source) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE sources SET
		    title = $2, custom_title = $3, url = $4, description = $5,
		    category = $6, image_url = $7, is_active = $8,
		    fetch_interval_ms = $9, updated_at = $10
		 WHERE id = $1`,
		source.ID, source.Title, nullString(source.CustomTitle), source.URL,
		source.Description, source.Category, nullString(source.ImageURL),
		source.IsActive, source.FetchInterval.Milliseconds(), time.Now(),
	)
	if err != nil {
		return fmt.Errorf("ソースの更新に失敗しました: %w", err)
	}
	return nil
}

// Delete は指定IDのソースを削除する。記事はFK制約によりCASCADE削除される。
func (r *PostgresSourceRepo) Delete(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM sources WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("ソースの削除に失敗しました: %w", err)
	}
	return nil
}

// FindByID は指定IDのソースを取得する。見つからない場合はnilを返す。
func (r *PostgresSourceRepo) FindByID(ctx context.Context, id int64) (*model.Source, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+sourceColumns+` FROM sources WHERE id = $1`, id)
	source, err := scanSource(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ソースの取得に失敗しました: %w", err)
	}
	return source, nil
}

// FindByURL はフィードURLでソースを検索する。見つからない場合はnilを返す。
func (r *PostgresSourceRepo) FindByURL(ctx context.Context, url string) (*model.Source, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+sourceColumns+` FROM sources WHERE url = $1`, url)
	source, err := scanSource(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("URLによるソースの検索に失敗しました: %w", err)
	}
	return source, nil
}

// ListAll は全ソースをタイトル昇順で返す。
func (r *PostgresSourceRepo) ListAll(ctx context.Context) ([]*model.Source, error) {
	return r.listSources(ctx,
		`SELECT `+sourceColumns+` FROM sources ORDER BY title ASC`)
}

// ListActive はアクティブなソースをタイトル昇順で返す。
func (r *PostgresSourceRepo) ListActive(ctx context.Context) ([]*model.Source, error) {
	return r.listSources(ctx,
		`SELECT `+sourceColumns+` FROM sources WHERE is_active = true ORDER BY title ASC`)
}

// ListByCategory は指定カテゴリのアクティブなソースを返す。
func (r *PostgresSourceRepo) ListByCategory(ctx context.Context, category string) ([]*model.Source, error) {
	return r.listSources(ctx,
		`SELECT `+sourceColumns+` FROM sources
		 WHERE category = $1 AND is_active = true ORDER BY title ASC`, category)
}

// ListCategories はアクティブなソースのカテゴリ一覧を返す。
func (r *PostgresSourceRepo) ListCategories(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT category FROM sources WHERE is_active = true
		 GROUP BY category ORDER BY category ASC`)
	if err != nil {
		return nil, fmt.Errorf("カテゴリ一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var categories []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, fmt.Errorf("カテゴリ行の読み取りに失敗しました: %w", err)
		}
		categories = append(categories, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("カテゴリ一覧の走査に失敗しました: %w", err)
	}
	return categories, nil
}

// SetLastUpdate は最終フェッチ成功時刻を更新する。
func (r *PostgresSourceRepo) SetLastUpdate(ctx context.Context, id int64, timestampMillis int64) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE sources SET last_update = $2, updated_at = now() WHERE id = $1`,
		id, timestampMillis,
	)
	if err != nil {
		return fmt.Errorf("最終更新時刻の更新に失敗しました: %w", err)
	}
	return nil
}

// Deactivate はソースを非アクティブ化する。
func (r *PostgresSourceRepo) Deactivate(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE sources SET is_active = false, updated_at = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("ソースの非アクティブ化に失敗しました: %w", err)
	}
	return nil
}

// ActiveCount はアクティブなソース数を返す。
func (r *PostgresSourceRepo) ActiveCount(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sources WHERE is_active = true`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("アクティブソース数の取得に失敗しました: %w", err)
	}
	return count, nil
}

// listSources はクエリを実行してソース一覧を返す共通処理。
func (r *PostgresSourceRepo) listSources(ctx context.Context, query string, args ...interface{}) ([]*model.Source, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ソース一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var sources []*model.Source
	for rows.Next() {
		source, err := scanSource(rows)
		if err != nil {
			return nil, fmt.Errorf("ソース行の読み取りに失敗しました: %w", err)
		}
		sources = append(sources, source)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ソース一覧の走査に失敗しました: %w", err)
	}
	return sources, nil
}

// rowScanner は*sql.Rowと*sql.Rowsの共通Scanインターフェース。
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanSource は1行をmodel.Sourceに読み取る。
func scanSource(row rowScanner) (*model.Source, error) {
	source := &model.Source{}
	var customTitle, imageURL sql.NullString
	var fetchIntervalMs int64

	err := row.Scan(
		&source.ID, &source.Title, &customTitle, &source.URL,
		&source.Description, &source.Category, &imageURL,
		&source.IsActive, &source.LastUpdate, &fetchIntervalMs,
		&source.CreatedAt, &source.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	source.CustomTitle = nullStringValue(customTitle)
	source.ImageURL = nullStringValue(imageURL)
	source.FetchInterval = time.Duration(fetchIntervalMs) * time.Millisecond
	return source, nil
}

// nullString は空文字列をNULLとして扱うsql.NullStringに変換する。
func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// nullStringValue はsql.NullStringから値を取り出す。NULLの場合は空文字列。
func nullStringValue(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}
