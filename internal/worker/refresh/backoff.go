package refresh

import (
	"sync"
	"time"
)

const (
	// initialBackoff は指数バックオフの初回遅延（30分）。
	initialBackoff = 30 * time.Minute
	// maxBackoff は指数バックオフの最大遅延（12時間）。
	maxBackoff = 12 * time.Hour
)

// CalculateBackoff は連続エラー回数に基づいて指数バックオフ遅延を計算する。
// 初回30分、2倍ずつ増加、最大12時間。
func CalculateBackoff(consecutiveErrors int) time.Duration {
	delay := initialBackoff
	for i := 0; i < consecutiveErrors; i++ {
		delay *= 2
		if delay > maxBackoff {
			return maxBackoff
		}
	}
	return delay
}

// backoffEntry はソースごとの連続エラー状態。
type backoffEntry struct {
	consecutiveErrors int
	nextEligible      time.Time
}

// backoffTracker はソースごとのバックオフ状態をメモリ上で管理する。
// プロセス再起動で状態は消えるが、次サイクルで通常どおり再試行されるだけ
// なので永続化はしない。
type backoffTracker struct {
	mu      sync.Mutex
	entries map[int64]backoffEntry
}

func newBackoffTracker() *backoffTracker {
	return &backoffTracker{
		entries: make(map[int64]backoffEntry),
	}
}

// Eligible はソースがバックオフ期間を抜けて再試行可能かを返す。
// 失敗履歴のないソースは常に再試行可能。
func (b *backoffTracker) Eligible(sourceID int64, now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	entry, ok := b.entries[sourceID]
	if !ok {
		return true
	}
	return !now.Before(entry.nextEligible)
}

// RecordFailure は失敗を記録し、次回再試行可能時刻を指数的に延ばす。
func (b *backoffTracker) RecordFailure(sourceID int64, now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	entry := b.entries[sourceID]
	delay := CalculateBackoff(entry.consecutiveErrors)
	entry.consecutiveErrors++
	entry.nextEligible = now.Add(delay)
	b.entries[sourceID] = entry
}

// Reset は成功したソースのバックオフ状態をクリアする。
func (b *backoffTracker) Reset(sourceID int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.entries, sourceID)
}
