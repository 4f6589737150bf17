// Package model はドメインモデルを定義する。
package model

import "time"

// DefaultCategory はカテゴリ未指定のソースに割り当てる既定カテゴリ。
const DefaultCategory = "Uncategorized"

// DefaultFetchInterval は新規ソースの既定フェッチ間隔。
const DefaultFetchInterval = time.Hour

// Source は購読中のRSS/Atomフィードの配信元を表す。
type Source struct {
	ID          int64
	Title       string
	CustomTitle string // ユーザーによる表示名の上書き（空の場合はTitleを使用）
	URL         string // フィードURL（全ソースで一意）
	Description string
	Category    string
	ImageURL    string // favicon等のソース画像URL
	IsActive    bool
	LastUpdate  int64 // 最終フェッチ成功時刻（エポックミリ秒、0=未フェッチ）
	FetchInterval time.Duration
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// DisplayTitle は表示用タイトルを返す。
// CustomTitleが設定されている場合はそちらを優先する。
func (s *Source) DisplayTitle() string {
	if s.CustomTitle != "" {
		return s.CustomTitle
	}
	return s.Title
}

// NeedsRefresh はソースがフェッチ対象（Due状態）かどうかを判定する。
// 未フェッチ（LastUpdate == 0）、または前回成功からFetchIntervalを
// 超過している場合にtrueを返す。非アクティブなソースは常にfalse。
func (s *Source) NeedsRefresh(now time.Time) bool {
	if !s.IsActive {
		return false
	}
	if s.LastUpdate == 0 {
		return true
	}
	elapsed := now.UnixMilli() - s.LastUpdate
	return elapsed > s.FetchInterval.Milliseconds()
}
