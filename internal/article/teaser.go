package article

import (
	"strings"

	"golang.org/x/net/html"
)

// teaserLimit は一覧表示用ティーザーの最大文字数。
const teaserLimit = 200

// Teaser はHTML断片からタグを除去し、先頭limit文字のプレーンテキストを返す。
// 連続する空白は1つに畳み込まれる。正規表現ではなくトークナイザを使うため、
// 壊れたマークアップでも安全に処理できる。
func Teaser(rawHTML string, limit int) string {
	if rawHTML == "" {
		return ""
	}

	tokenizer := html.NewTokenizer(strings.NewReader(rawHTML))
	var sb strings.Builder

	for {
		tt := tokenizer.Next()
		if tt == html.ErrorToken {
			break
		}
		if tt == html.TextToken {
			sb.WriteString(tokenizer.Token().Data)
			sb.WriteByte(' ')
		}
	}

	text := strings.Join(strings.Fields(sb.String()), " ")

	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit])
}
