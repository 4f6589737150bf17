// Package parser はRSS 2.0 / Atom 1.0フィードのストリーミングパースを提供する。
// XMLトークン列（開始タグ / テキスト / 終了タグ）を走査する状態機械として
// 実装されており、item/entry境界で記事アキュムレータを確定・リセットする。
// I/Oや永続化は行わない。
package parser

import (
	"bytes"
	"encoding/xml"
	"errors"
	"io"
	"strings"
	"time"

	"golang.org/x/net/html/charset"

	"github.com/hitoshi/feedvault/internal/model"
)

// Format はパース対象のフィード形式を表す。
type Format string

const (
	// FormatRSS はRSS 2.0形式。
	FormatRSS Format = "rss"
	// FormatAtom はAtom 1.0形式。
	FormatAtom Format = "atom"
)

// ErrNotRecognized はドキュメントが指定形式のフィードとして
// 認識できなかったことを示す。呼び出し側はもう一方の形式での
// パースを試行する（例外ではなく明示的な結果として返す）。
var ErrNotRecognized = errors.New("指定された形式のフィードとして認識できません")

// content:encoded / media:thumbnail の名前空間URI。
// 名前空間宣言を省略した不正気味なフィードではプレフィックスが
// そのままSpaceに入るため、両方を受け付ける。
const (
	contentNamespace = "http://purl.org/rss/1.0/modules/content/"
	mediaNamespace   = "http://search.yahoo.com/mrss/"
)

// フィード本来の要素の名前空間URI。RSS 2.0は名前空間なし、
// RSS 1.0 (RDF) とAtomは既定名前空間が要素に付与される。
const (
	rss1Namespace = "http://purl.org/rss/1.0/"
	atomNamespace = "http://www.w3.org/2005/Atom"
)

// atomDescriptionLimit はAtom記事の一覧表示用説明文の最大文字数。
const atomDescriptionLimit = 200

// Parse は生のフィードバイト列を指定形式でパースし、正規化済みの
// 記事レコード列を返す。item/entry単位の不備（タイトルまたはリンク欠落）は
// その項目を黙って破棄するのみでパース全体は継続する。
// ドキュメントのルート要素が形式に一致しない場合はErrNotRecognizedを、
// トークナイザを破壊する不正XMLはパースエラーを返す。
func Parse(raw []byte, format Format, sourceID int64) ([]model.ParsedArticle, error) {
	switch format {
	case FormatRSS:
		return parseRSS(raw, sourceID)
	case FormatAtom:
		return parseAtom(raw, sourceID)
	default:
		return nil, ErrNotRecognized
	}
}

// newDecoder はフィード用のXMLデコーダを生成する。
// 実在フィードにはcharset宣言違反や未宣言エンティティが多いため、
// 非strictモード + charset変換リーダーを使用する。
func newDecoder(raw []byte) *xml.Decoder {
	d := xml.NewDecoder(bytes.NewReader(raw))
	d.Strict = false
	d.CharsetReader = charset.NewReaderLabel
	return d
}

// rssAccumulator はRSS itemのアキュムレータ状態。
type rssAccumulator struct {
	title       string
	description string
	link        string
	imageURL    string
	published   int64
	estimated   bool
	author      string
}

func (a *rssAccumulator) reset() {
	*a = rssAccumulator{}
}

// parseRSS はRSS 2.0ドキュメントをパースする。
// <item>開始タグから対応する終了タグまでを「item内」として追跡し、
// item終了時にタイトルとリンクが揃っている場合のみ記事を出力する。
// content:encodedはdescriptionを上書きする（リッチな本文を優先）。
func parseRSS(raw []byte, sourceID int64) ([]model.ParsedArticle, error) {
	d := newDecoder(raw)

	var articles []model.ParsedArticle
	var acc rssAccumulator
	inItem := false
	sawRoot := false

	for {
		tok, err := d.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, model.NewParseFailedError(err.Error())
		}

		switch t := tok.(type) {
		case xml.StartElement:
			if !sawRoot {
				// ルート要素の検証: <rss> または RDF形式のRSS 1.0
				if t.Name.Local != "rss" && t.Name.Local != "RDF" {
					return nil, ErrNotRecognized
				}
				sawRoot = true
				continue
			}

			switch {
			case isRSSName(t.Name, "item"):
				inItem = true

			case !inItem:
				// channelレベルの要素は読み飛ばす

			case isContentEncoded(t.Name):
				// content:encoded はdescriptionを上書きする
				acc.description = strings.TrimSpace(elementText(d, &t))

			case isRSSName(t.Name, "title"):
				acc.title = strings.TrimSpace(elementText(d, &t))

			case isRSSName(t.Name, "description"):
				acc.description = strings.TrimSpace(elementText(d, &t))

			case isRSSName(t.Name, "link"):
				acc.link = strings.TrimSpace(elementText(d, &t))

			case isRSSName(t.Name, "enclosure"):
				// MIMEタイプが画像のenclosureのみ採用する
				if strings.HasPrefix(attrValue(t, "type"), "image/") {
					acc.imageURL = attrValue(t, "url")
				}
				skipElement(d)

			case isRSSName(t.Name, "pubDate"):
				acc.published, acc.estimated = ParseDate(strings.TrimSpace(elementText(d, &t)), time.Now())

			case isRSSName(t.Name, "author"):
				acc.author = strings.TrimSpace(elementText(d, &t))
			}

		case xml.EndElement:
			if isRSSName(t.Name, "item") && inItem {
				if acc.title != "" && acc.link != "" {
					if acc.published == 0 {
						// pubDate要素そのものがないitemは取得時刻を代用する
						acc.published = time.Now().UnixMilli()
						acc.estimated = true
					}
					articles = append(articles, model.ParsedArticle{
						SourceID:    sourceID,
						Title:       acc.title,
						Description: acc.description,
						// RSS 2.0にはcontent:encoded以外の本文フィールドがないため
						// contentはdescriptionと同値になる
						Content:         acc.description,
						ArticleURL:      acc.link,
						ImageURL:        acc.imageURL,
						PublishedAt:     acc.published,
						IsDateEstimated: acc.estimated,
						Author:          acc.author,
						Hash:            ComputeHash(acc.title, acc.link),
					})
				}
				inItem = false
				acc.reset()
			}
		}
	}

	if !sawRoot {
		return nil, ErrNotRecognized
	}
	return articles, nil
}

// atomAccumulator はAtom entryのアキュムレータ状態。
type atomAccumulator struct {
	title     string
	content   string
	link      string
	imageURL  string
	published int64
	estimated bool
	hasDate   bool
	author    string
}

func (a *atomAccumulator) reset() {
	*a = atomAccumulator{}
}

// atomAuthor はAtomのauthor要素（<name>子要素を持つ）のデコード用。
type atomAuthor struct {
	Name string `xml:"name"`
	Text string `xml:",chardata"`
}

// parseAtom はAtom 1.0ドキュメントをパースする。
// contentとsummaryは同一アキュムレータに書き込むため、文書内で後に
// 現れた方が勝つ。linkはrel=alternateまたはhref付きのものを採用し、
// これも後勝ちで上書きされる。publishedを優先し、日付未確定の場合のみ
// updatedを採用する。
func parseAtom(raw []byte, sourceID int64) ([]model.ParsedArticle, error) {
	d := newDecoder(raw)

	var articles []model.ParsedArticle
	var acc atomAccumulator
	inEntry := false
	sawRoot := false

	for {
		tok, err := d.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, model.NewParseFailedError(err.Error())
		}

		switch t := tok.(type) {
		case xml.StartElement:
			if !sawRoot {
				if t.Name.Local != "feed" {
					return nil, ErrNotRecognized
				}
				sawRoot = true
				continue
			}

			switch {
			case isAtomName(t.Name, "entry"):
				inEntry = true

			case !inEntry:
				// feedレベルの要素は読み飛ばす

			case isAtomName(t.Name, "title"):
				acc.title = strings.TrimSpace(elementText(d, &t))

			case isAtomName(t.Name, "content"), isAtomName(t.Name, "summary"):
				acc.content = strings.TrimSpace(elementText(d, &t))

			case isAtomName(t.Name, "link"):
				rel := attrValue(t, "rel")
				href := attrValue(t, "href")
				if rel == "alternate" || href != "" {
					acc.link = href
				}
				skipElement(d)

			case isAtomName(t.Name, "published"):
				acc.published, acc.estimated = ParseDate(strings.TrimSpace(elementText(d, &t)), time.Now())
				acc.hasDate = true

			case isAtomName(t.Name, "updated"):
				if !acc.hasDate {
					acc.published, acc.estimated = ParseDate(strings.TrimSpace(elementText(d, &t)), time.Now())
					acc.hasDate = true
				} else {
					skipElement(d)
				}

			case isAtomName(t.Name, "author"):
				var author atomAuthor
				if err := d.DecodeElement(&author, &t); err == nil {
					if author.Name != "" {
						acc.author = strings.TrimSpace(author.Name)
					} else {
						acc.author = strings.TrimSpace(author.Text)
					}
				}

			case isMediaThumbnail(t.Name):
				acc.imageURL = attrValue(t, "url")
				skipElement(d)
			}

		case xml.EndElement:
			if isAtomName(t.Name, "entry") && inEntry {
				if acc.title != "" && acc.link != "" {
					if !acc.hasDate {
						// published/updatedのないentryは取得時刻を代用する
						acc.published = time.Now().UnixMilli()
						acc.estimated = true
					}
					articles = append(articles, model.ParsedArticle{
						SourceID:    sourceID,
						Title:       acc.title,
						Description: truncateRunes(acc.content, atomDescriptionLimit),
						Content:     acc.content,
						ArticleURL:  acc.link,
						ImageURL:    acc.imageURL,
						PublishedAt: acc.published,
						IsDateEstimated: acc.estimated,
						Author:      acc.author,
						Hash:        ComputeHash(acc.title, acc.link),
					})
				}
				inEntry = false
				acc.reset()
			}
		}
	}

	if !sawRoot {
		return nil, ErrNotRecognized
	}
	return articles, nil
}

// isRSSName はRSS本来の要素（名前空間なし、またはRSS 1.0既定名前空間）かどうかを
// 判定する。atom:linkやmedia:titleのような拡張名前空間の同名ローカル要素が
// アキュムレータを上書きするのを防ぐ。
func isRSSName(name xml.Name, local string) bool {
	return name.Local == local && (name.Space == "" || name.Space == rss1Namespace)
}

// isAtomName はAtom本来の要素（Atom既定名前空間、または名前空間宣言なし）かどうかを判定する。
func isAtomName(name xml.Name, local string) bool {
	return name.Local == local && (name.Space == "" || name.Space == atomNamespace)
}

// isContentEncoded はcontent:encoded要素かどうかを判定する。
func isContentEncoded(name xml.Name) bool {
	return name.Local == "encoded" && (name.Space == contentNamespace || name.Space == "content")
}

// isMediaThumbnail はmedia:thumbnail要素かどうかを判定する。
func isMediaThumbnail(name xml.Name) bool {
	return name.Local == "thumbnail" && (name.Space == mediaNamespace || name.Space == "media")
}

// elementText は現在の開始要素の文字データを読み取り、終了タグまで消費する。
// デコード失敗時は空文字列を返す（項目レベルの寛容性）。
func elementText(d *xml.Decoder, start *xml.StartElement) string {
	var s string
	if err := d.DecodeElement(&s, start); err != nil {
		return ""
	}
	return s
}

// attrValue は開始要素から指定名の属性値を取得する。存在しない場合は空文字列。
func attrValue(t xml.StartElement, name string) string {
	for _, a := range t.Attr {
		if a.Name.Local == name {
			return a.Value
		}
	}
	return ""
}

// skipElement は現在の要素を終了タグまで読み飛ばす。
func skipElement(d *xml.Decoder) {
	_ = d.Skip()
}

// truncateRunes は文字列を最大n文字（rune単位）に切り詰める。
func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
