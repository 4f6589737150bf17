package parser

import (
	"crypto/md5"
	"encoding/hex"
)

// ComputeHash は記事の正準コンテンツハッシュを計算する。
// md5(title + "|" + url) の16進表現で、重複排除の唯一のキーとして
// 使用される。同一の(タイトル, URL)ペアはソースが異なっても同一
// ハッシュに収束する。決定的であることが要件であり、衝突耐性は
// このコーパス規模では問題にならない。
func ComputeHash(title, url string) string {
	sum := md5.Sum([]byte(title + "|" + url))
	return hex.EncodeToString(sum[:])
}
