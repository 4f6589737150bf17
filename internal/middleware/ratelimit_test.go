package middleware

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"golang.org/x/time/rate"
)

// testRateLimiterConfig はテスト用に小さいレート制限設定を返す。
func testRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		GeneralRate:     rate.Limit(1.0), // 1 req/sec
		GeneralBurst:    3,
		SourceRegRate:   rate.Limit(1.0),
		SourceRegBurst:  2,
		CleanupInterval: 50 * time.Millisecond,
	}
}

func newTestRequest(method, path, remoteAddr string) *http.Request {
	req := httptest.NewRequest(method, path, nil)
	req.RemoteAddr = remoteAddr
	return req
}

func TestRateLimiter_General_AllowsWithinBurst(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig())
	defer rl.Stop()

	handler := rl.GeneralMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, newTestRequest(http.MethodGet, "/api/articles", "10.0.0.1:12345"))
		if w.Result().StatusCode != http.StatusOK {
			t.Fatalf("リクエスト%dが拒否されました: status = %d", i+1, w.Result().StatusCode)
		}
	}
}

func TestRateLimiter_General_BlocksOverBurst(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig())
	defer rl.Stop()

	handler := rl.GeneralMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	// バースト分を消費
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, newTestRequest(http.MethodGet, "/api/articles", "10.0.0.1:12345"))
	}

	// バースト超過分は429
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, newTestRequest(http.MethodGet, "/api/articles", "10.0.0.1:12345"))

	resp := w.Result()
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusTooManyRequests)
	}

	// Retry-Afterヘッダーが正の整数であること
	retryAfter := resp.Header.Get("Retry-After")
	sec, err := strconv.Atoi(retryAfter)
	if err != nil || sec < 1 {
		t.Errorf("Retry-After = %q, want positive integer", retryAfter)
	}
}

func TestRateLimiter_General_SeparateClientsIndependent(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig())
	defer rl.Stop()

	handler := rl.GeneralMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	// クライアントAのバーストを使い切る
	for i := 0; i < 4; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, newTestRequest(http.MethodGet, "/api/articles", "10.0.0.1:12345"))
	}

	// クライアントBは影響を受けない
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, newTestRequest(http.MethodGet, "/api/articles", "10.0.0.2:12345"))
	if w.Result().StatusCode != http.StatusOK {
		t.Errorf("別クライアントのリクエストが拒否されました: status = %d", w.Result().StatusCode)
	}
}

func TestRateLimiter_SourceRegistration_IndependentOfGeneral(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig())
	defer rl.Stop()

	generalHandler := rl.GeneralMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	sourceRegHandler := rl.SourceRegistrationMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))

	// ソース登録のバースト(2)を使い切る
	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		sourceRegHandler.ServeHTTP(w, newTestRequest(http.MethodPost, "/api/sources", "10.0.0.1:12345"))
		if w.Result().StatusCode != http.StatusCreated {
			t.Fatalf("ソース登録リクエスト%dが拒否されました", i+1)
		}
	}

	// ソース登録は429
	w := httptest.NewRecorder()
	sourceRegHandler.ServeHTTP(w, newTestRequest(http.MethodPost, "/api/sources", "10.0.0.1:12345"))
	if w.Result().StatusCode != http.StatusTooManyRequests {
		t.Errorf("ソース登録のバースト超過: status = %d, want 429", w.Result().StatusCode)
	}

	// API全般は独立して通る
	w = httptest.NewRecorder()
	generalHandler.ServeHTTP(w, newTestRequest(http.MethodGet, "/api/articles", "10.0.0.1:12345"))
	if w.Result().StatusCode != http.StatusOK {
		t.Errorf("API全般のリクエストがソース登録の制限に巻き込まれました: status = %d", w.Result().StatusCode)
	}
}

func TestRateLimiter_XForwardedFor_UsedAsClientKey(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig())
	defer rl.Stop()

	handler := rl.GeneralMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	// 同じRemoteAddrでもX-Forwarded-Forが異なれば別クライアント
	for i := 0; i < 4; i++ {
		req := newTestRequest(http.MethodGet, "/api/articles", "127.0.0.1:8080")
		req.Header.Set("X-Forwarded-For", "203.0.113.1, 10.0.0.1")
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
	}

	req := newTestRequest(http.MethodGet, "/api/articles", "127.0.0.1:8080")
	req.Header.Set("X-Forwarded-For", "203.0.113.2, 10.0.0.1")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Result().StatusCode != http.StatusOK {
		t.Errorf("X-Forwarded-Forが異なるクライアントが拒否されました: status = %d", w.Result().StatusCode)
	}

	if count := rl.GeneralLimiterCount(); count != 2 {
		t.Errorf("リミッターエントリ数 = %d, want 2", count)
	}
}

func TestRateLimiter_Cleanup_RemovesStaleEntries(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig())
	defer rl.Stop()

	handler := rl.GeneralMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, newTestRequest(http.MethodGet, "/api/articles", "10.0.0.1:12345"))

	if count := rl.GeneralLimiterCount(); count != 1 {
		t.Fatalf("リミッターエントリ数 = %d, want 1", count)
	}

	// CleanupInterval(50ms)の2倍 = TTL 100msを超えるまで待つ
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if rl.GeneralLimiterCount() == 0 {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Errorf("期限切れエントリがクリーンアップされていません: count = %d", rl.GeneralLimiterCount())
}

func TestNewRateLimiterConfig_FromPerMinute(t *testing.T) {
	cfg := NewRateLimiterConfig(120, 10)

	if cfg.GeneralRate != rate.Limit(2.0) {
		t.Errorf("GeneralRate = %v, want 2.0", cfg.GeneralRate)
	}
	if cfg.GeneralBurst != 120 {
		t.Errorf("GeneralBurst = %d, want 120", cfg.GeneralBurst)
	}
	if cfg.SourceRegBurst != 10 {
		t.Errorf("SourceRegBurst = %d, want 10", cfg.SourceRegBurst)
	}
}

func TestNewRateLimiterConfig_ZeroUsesDefaults(t *testing.T) {
	cfg := NewRateLimiterConfig(0, 0)
	def := DefaultRateLimiterConfig()

	if cfg.GeneralRate != def.GeneralRate {
		t.Errorf("GeneralRate = %v, want default %v", cfg.GeneralRate, def.GeneralRate)
	}
	if cfg.SourceRegRate != def.SourceRegRate {
		t.Errorf("SourceRegRate = %v, want default %v", cfg.SourceRegRate, def.SourceRegRate)
	}
}
