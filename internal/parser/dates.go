package parser

import (
	"strings"
	"time"
)

// 日付レイアウト。部分文字列の出現に基づいて優先順に試行する。
const (
	// layoutRFC822 は "Mon, 02 Jan 2006 15:04:05 GMT" 形式（RFC 822系）。
	layoutRFC822 = "Mon, 02 Jan 2006 15:04:05 MST"
	// layoutISO8601 は "2006-01-02T15:04:05Z" 形式（ISO 8601系）。
	layoutISO8601 = "2006-01-02T15:04:05Z"
	// layoutDateOnly は "Mon, 02 Jan 2006" 形式。
	layoutDateOnly = "Mon, 02 Jan 2006"
)

// ParseDate はフィードの日付文字列をエポックミリ秒に変換する。
// レイアウトの推定は部分文字列で行う:
//
//	"GMT"を含む → RFC 822系、"T"を含む → ISO 8601系、それ以外 → 日付のみ
//
// いずれの形式でもパースできない場合は現在時刻にフォールバックし、
// 推定フラグ（第2戻り値）をtrueにして返す。パース失敗を現在時刻で
// 埋める寛容ポリシーは維持しつつ、「実際に今公開された」記事と
// 区別できるようにするための措置。
func ParseDate(value string, now time.Time) (int64, bool) {
	if value == "" {
		return now.UnixMilli(), true
	}

	var layout string
	switch {
	case strings.Contains(value, "GMT"):
		layout = layoutRFC822
	case strings.Contains(value, "T"):
		layout = layoutISO8601
	default:
		layout = layoutDateOnly
	}

	t, err := time.Parse(layout, value)
	if err != nil {
		return now.UnixMilli(), true
	}
	return t.UnixMilli(), false
}
