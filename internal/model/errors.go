// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: validation, feed, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeSourceNotFound    = "SOURCE_NOT_FOUND"
	ErrCodeDuplicateSource   = "DUPLICATE_SOURCE"
	ErrCodeNetworkError      = "NETWORK_ERROR"
	ErrCodeUnsupportedFormat = "UNSUPPORTED_FORMAT"
	ErrCodeParseFailed       = "PARSE_FAILED"
	ErrCodePersistenceError  = "PERSISTENCE_ERROR"
	ErrCodeRefreshNotNeeded  = "REFRESH_NOT_NEEDED"
	ErrCodeArticleNotFound   = "ARTICLE_NOT_FOUND"
	ErrCodeInvalidURL        = "INVALID_URL"
	ErrCodeSSRFBlocked       = "SSRF_BLOCKED"
	ErrCodeInvalidFilter     = "INVALID_FILTER"
	ErrCodeInvalidRequest    = "INVALID_REQUEST"
)

// NewSourceNotFoundError はソース未検出エラーを生成する。
// ユーザー操作なしには再試行しても解決しない。
func NewSourceNotFoundError(sourceID int64) *APIError {
	return &APIError{
		Code:     ErrCodeSourceNotFound,
		Message:  fmt.Sprintf("指定されたソースが見つかりません: %d", sourceID),
		Category: "feed",
		Action:   "ソースIDを確認してください。",
	}
}

// NewDuplicateSourceError は登録済みURLを再登録しようとした場合のエラーを生成する。
func NewDuplicateSourceError(url string) *APIError {
	return &APIError{
		Code:     ErrCodeDuplicateSource,
		Message:  fmt.Sprintf("このURLは既に登録されています: %s", url),
		Category: "feed",
		Action:   "ソース一覧から該当フィードを確認してください。",
	}
}

// NewNetworkError はフィードURLへの到達失敗エラーを生成する。
// 次回のスケジュール実行で再試行される。
func NewNetworkError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeNetworkError,
		Message:  fmt.Sprintf("フィードの取得に失敗しました: %s", reason),
		Category: "feed",
		Action:   "URLが正しいか確認し、しばらく待ってから再度お試しください。",
	}
}

// NewUnsupportedFormatError はRSSでもAtomでもないコンテンツに対するエラーを生成する。
// フィード側のコンテンツが変わらない限り再試行しても解決しない。
func NewUnsupportedFormatError() *APIError {
	return &APIError{
		Code:     ErrCodeUnsupportedFormat,
		Message:  "コンテンツをRSSまたはAtomフィードとして解析できませんでした。",
		Category: "feed",
		Action:   "有効なRSS 2.0またはAtom 1.0フィードのURLか確認してください。",
	}
}

// NewParseFailedError はフィードのパース失敗エラーを生成する。
func NewParseFailedError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeParseFailed,
		Message:  fmt.Sprintf("フィードの解析に失敗しました: %s", reason),
		Category: "feed",
		Action:   "フィードのXMLが正しい形式か確認してください。",
	}
}

// NewPersistenceError はストア書き込み失敗エラーを生成する。
// 同一サイクル内での自動再試行は行わない。
func NewPersistenceError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodePersistenceError,
		Message:  fmt.Sprintf("記事の保存に失敗しました: %s", reason),
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewRefreshNotNeededError はDue状態でないソースへのリフレッシュ要求エラーを生成する。
func NewRefreshNotNeededError(sourceID int64) *APIError {
	return &APIError{
		Code:     ErrCodeRefreshNotNeeded,
		Message:  fmt.Sprintf("このソースは現在リフレッシュ不要です: %d", sourceID),
		Category: "feed",
		Action:   "強制リフレッシュする場合はforce指定で再実行してください。",
	}
}

// NewArticleNotFoundError は記事未検出エラーを生成する。
func NewArticleNotFoundError(articleID int64) *APIError {
	return &APIError{
		Code:     ErrCodeArticleNotFound,
		Message:  fmt.Sprintf("指定された記事が見つかりません: %d", articleID),
		Category: "feed",
		Action:   "記事IDを確認してください。",
	}
}

// NewInvalidURLError は無効なURLエラーを生成する。
func NewInvalidURLError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidURL,
		Message:  fmt.Sprintf("無効なURLです: %s", reason),
		Category: "validation",
		Action:   "正しいURL形式（http:// または https:// で始まるURL）を入力してください。",
	}
}

// NewSSRFBlockedError はSSRFブロックエラーを生成する。
func NewSSRFBlockedError() *APIError {
	return &APIError{
		Code:     ErrCodeSSRFBlocked,
		Message:  "セキュリティポリシーにより、指定されたURLへのアクセスがブロックされました。",
		Category: "validation",
		Action:   "公開されているWebサイトのURLを入力してください。ローカルネットワークやプライベートIPへのアクセスは許可されていません。",
	}
}

// NewInvalidRequestError はリクエスト形式不正エラーを生成する。
// ボディのJSON不正やパスパラメータ不正など、入力の形式そのものの問題を表す。
func NewInvalidRequestError(message, action string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  message,
		Category: "validation",
		Action:   action,
	}
}

// NewInvalidFilterError は無効なフィルタエラーを生成する。
func NewInvalidFilterError(filter string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidFilter,
		Message:  fmt.Sprintf("無効なフィルタです: %s", filter),
		Category: "validation",
		Action:   "フィルタには all、unread、favorite のいずれかを指定してください。",
	}
}
