package source

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"
)

// faviconTimeout はfavicon解決のタイムアウト。
const faviconTimeout = 5 * time.Second

// maxFaviconPageSize はfavicon探索時に読み込むHTMLの最大サイズ（1MB）。
const maxFaviconPageSize = 1 * 1024 * 1024

// FaviconResolverService はソースのアイコンURL解決インターフェース。
type FaviconResolverService interface {
	// ResolveIconURL はサイトURLからアイコンのURLを解決する。
	// 見つからない場合は空文字列を返す（エラーは返さない）。
	ResolveIconURL(ctx context.Context, siteURL string) string
}

// FaviconResolver はサイトのHTMLを走査してアイコンURLを解決する実装。
// headタグ内の link rel="icon" を探し、見つからない場合は
// /favicon.ico にフォールバックする。
type FaviconResolver struct {
	ssrfGuard SSRFValidator
	logger    *slog.Logger
}

// NewFaviconResolver はFaviconResolverの新しいインスタンスを生成する。
func NewFaviconResolver(ssrfGuard SSRFValidator, logger *slog.Logger) *FaviconResolver {
	return &FaviconResolver{
		ssrfGuard: ssrfGuard,
		logger:    logger,
	}
}

// ResolveIconURL はサイトURLからアイコンのURLを解決する。
// 解決はベストエフォートであり、失敗してもソース登録は継続される。
func (f *FaviconResolver) ResolveIconURL(ctx context.Context, siteURL string) string {
	if siteURL == "" {
		return ""
	}

	base, err := url.Parse(siteURL)
	if err != nil || base.Host == "" {
		return ""
	}

	if f.ssrfGuard != nil {
		if err := f.ssrfGuard.ValidateURL(siteURL); err != nil {
			f.logger.Warn("favicon解決: SSRFブロック",
				slog.String("site_url", siteURL),
				slog.String("error", err.Error()),
			)
			return ""
		}
	}

	if iconURL := f.scanPageForIcon(ctx, base); iconURL != "" {
		return iconURL
	}

	// フォールバック: サイトルートの /favicon.ico
	fallback := *base
	fallback.Path = "/favicon.ico"
	fallback.RawQuery = ""
	fallback.Fragment = ""
	return fallback.String()
}

// scanPageForIcon はサイトのトップページHTMLを取得し、
// headタグ内のlink rel="icon"系要素からアイコンURLを抽出する。
func (f *FaviconResolver) scanPageForIcon(ctx context.Context, base *url.URL) string {
	client := f.getHTTPClient()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base.String(), nil)
	if err != nil {
		return ""
	}
	req.Header.Set("User-Agent", "Feedvault/1.0 RSS Reader")
	req.Header.Set("Accept", "text/html, */*")

	resp, err := client.Do(req)
	if err != nil {
		f.logger.Warn("favicon解決: ページ取得失敗",
			slog.String("site_url", base.String()),
			slog.String("error", err.Error()),
		)
		return ""
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return ""
	}

	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if !strings.Contains(strings.ToLower(mediaType), "html") {
		return ""
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFaviconPageSize))
	if err != nil {
		return ""
	}

	return extractIconHref(body, base)
}

// extractIconHref はHTMLのheadタグからアイコンリンクを抽出し、絶対URLで返す。
func extractIconHref(htmlBody []byte, base *url.URL) string {
	tokenizer := html.NewTokenizer(bytes.NewReader(htmlBody))

	for {
		tt := tokenizer.Next()
		switch tt {
		case html.ErrorToken:
			return ""

		case html.StartTagToken, html.SelfClosingTagToken:
			tn, hasAttr := tokenizer.TagName()
			tagName := string(tn)

			if tagName == "body" {
				// bodyに入ったらheadの走査を終了
				return ""
			}
			if tagName != "link" || !hasAttr {
				continue
			}

			var rel, href string
			for {
				key, val, more := tokenizer.TagAttr()
				switch strings.ToLower(string(key)) {
				case "rel":
					rel = strings.ToLower(string(val))
				case "href":
					href = string(val)
				}
				if !more {
					break
				}
			}

			// rel="icon" / "shortcut icon" / "apple-touch-icon" を対象にする
			if href == "" || !strings.Contains(rel, "icon") {
				continue
			}

			ref, err := url.Parse(href)
			if err != nil {
				continue
			}
			return base.ResolveReference(ref).String()
		}
	}
}

// getHTTPClient はHTTPクライアントを取得する。
func (f *FaviconResolver) getHTTPClient() *http.Client {
	if f.ssrfGuard != nil {
		return f.ssrfGuard.NewSafeClient(faviconTimeout, maxFaviconPageSize)
	}
	return &http.Client{Timeout: faviconTimeout}
}

// compile-time interface check
var _ FaviconResolverService = (*FaviconResolver)(nil)
