package source

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
)

// metadataTimeout はメタデータ取得のタイムアウト。
const metadataTimeout = 10 * time.Second

// maxMetadataBodySize はメタデータ取得時の最大レスポンスサイズ（5MB）。
const maxMetadataBodySize = 5 * 1024 * 1024

// Metadata はフィードから取得したソースのメタデータ。
type Metadata struct {
	Title       string
	Description string
	SiteURL     string
}

// MetadataResolverService はソース登録時のメタデータ自動補完インターフェース。
type MetadataResolverService interface {
	// Resolve はフィードURLからタイトル・説明・サイトURLを取得する。
	// 取得失敗時はゼロ値のMetadataとエラーを返す。
	Resolve(ctx context.Context, feedURL string) (Metadata, error)
}

// MetadataResolver はgofeedを使用したメタデータ取得の実装。
// 記事の取り込みとは独立しており、ソース登録時のチャンネルレベルの
// メタデータ補完にのみ使用される。
type MetadataResolver struct {
	ssrfGuard SSRFValidator
}

// NewMetadataResolver はMetadataResolverの新しいインスタンスを生成する。
func NewMetadataResolver(ssrfGuard SSRFValidator) *MetadataResolver {
	return &MetadataResolver{
		ssrfGuard: ssrfGuard,
	}
}

// Resolve はフィードURLからタイトル・説明・サイトURLを取得する。
func (r *MetadataResolver) Resolve(ctx context.Context, feedURL string) (Metadata, error) {
	client := r.getHTTPClient()

	fp := gofeed.NewParser()
	fp.Client = client
	fp.UserAgent = "Feedvault/1.0 RSS Reader"

	parsed, err := fp.ParseURLWithContext(feedURL, ctx)
	if err != nil {
		return Metadata{}, err
	}

	return Metadata{
		Title:       strings.TrimSpace(parsed.Title),
		Description: strings.TrimSpace(parsed.Description),
		SiteURL:     strings.TrimSpace(parsed.Link),
	}, nil
}

// getHTTPClient はHTTPクライアントを取得する。
// SSRFGuardが設定されている場合はSSRF防止付きクライアントを返す。
func (r *MetadataResolver) getHTTPClient() *http.Client {
	if r.ssrfGuard != nil {
		return r.ssrfGuard.NewSafeClient(metadataTimeout, maxMetadataBodySize)
	}
	return &http.Client{Timeout: metadataTimeout}
}

// compile-time interface check
var _ MetadataResolverService = (*MetadataResolver)(nil)
