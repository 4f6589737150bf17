// Package model はドメインモデルを定義する。
package model

import "time"

// Article はソースのフィードから取得・正規化した1件の記事を表す。
type Article struct {
	ID              int64
	SourceID        int64
	SourceTitle     string // 読み取り時にソースから解決される表示用タイトル（非永続）
	Title           string
	Description     string // 一覧表示用の短い本文（サニタイズ済み）
	Content         string // 記事本文（サニタイズ済みHTML）
	ArticleURL      string // 記事URL（全記事で一意）
	ImageURL        string
	PublishedAt     int64 // 公開時刻（エポックミリ秒）
	IsDateEstimated bool  // 公開時刻がパース不能でフェッチ時刻を代用した場合true
	Author          string
	IsRead          bool
	IsFavorite      bool
	Hash            string // md5(title|url)。重複排除の正準キー
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// ParsedArticle はフィードパーサーが出力する未保存の記事データを表す。
// フェッチパイプラインが重複排除・サニタイズを経てArticleとして永続化する。
type ParsedArticle struct {
	SourceID        int64
	Title           string
	Description     string
	Content         string
	ArticleURL      string
	ImageURL        string
	PublishedAt     int64
	IsDateEstimated bool
	Author          string
	Hash            string
}

// ArticleFilter は記事一覧のフィルタ種別を表す。
type ArticleFilter string

const (
	// ArticleFilterAll は全記事を表示するフィルタ。
	ArticleFilterAll ArticleFilter = "all"
	// ArticleFilterUnread は未読記事のみを表示するフィルタ。
	ArticleFilterUnread ArticleFilter = "unread"
	// ArticleFilterFavorite はお気に入り記事のみを表示するフィルタ。
	ArticleFilterFavorite ArticleFilter = "favorite"
)
