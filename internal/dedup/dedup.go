// Package dedup はコンテンツハッシュに基づく記事の重複排除を提供する。
package dedup

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hitoshi/feedvault/internal/model"
)

// HashLookup は永続化済み記事のハッシュ検索に必要な操作。
type HashLookup interface {
	FindByHash(ctx context.Context, hash string) (*model.Article, error)
}

// Engine は永続化済み記事およびバッチ内の重複を検出する。
type Engine struct {
	articles HashLookup
	logger   *slog.Logger
}

// NewEngine はEngineを生成する。
func NewEngine(articles HashLookup, logger *slog.Logger) *Engine {
	return &Engine{
		articles: articles,
		logger:   logger,
	}
}

// IsDuplicate は同一ハッシュの記事が既に保存されているかを返す。
func (e *Engine) IsDuplicate(ctx context.Context, hash string) (bool, error) {
	existing, err := e.articles.FindByHash(ctx, hash)
	if err != nil {
		return false, fmt.Errorf("重複チェックに失敗しました: %w", err)
	}
	return existing != nil, nil
}

// Filter は入力順を保ちながら新規記事のみを返す。
// 保存済み記事と同一ハッシュのもの、およびバッチ内で2回目以降に
// 現れた同一ハッシュのものを除外する。同一入力に対して冪等。
func (e *Engine) Filter(ctx context.Context, parsed []model.ParsedArticle) ([]model.ParsedArticle, error) {
	if len(parsed) == 0 {
		return nil, nil
	}

	seen := make(map[string]struct{}, len(parsed))
	fresh := make([]model.ParsedArticle, 0, len(parsed))

	for _, p := range parsed {
		if _, ok := seen[p.Hash]; ok {
			e.logger.Debug("バッチ内重複をスキップ",
				slog.String("hash", p.Hash),
				slog.String("title", p.Title))
			continue
		}
		seen[p.Hash] = struct{}{}

		dup, err := e.IsDuplicate(ctx, p.Hash)
		if err != nil {
			return nil, err
		}
		if dup {
			e.logger.Debug("保存済み記事と重複するためスキップ",
				slog.String("hash", p.Hash),
				slog.String("title", p.Title))
			continue
		}
		fresh = append(fresh, p)
	}
	return fresh, nil
}
