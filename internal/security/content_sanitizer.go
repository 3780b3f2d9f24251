// Package security は外部から受け取るコンテンツの無害化を提供する。
//
// TextSanitizer は記事本文からHTMLマークアップを取り除き、
// ベクトル生成サービスに渡すプレーンテキストに変換する。
package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// TextSanitizer は記事本文をプレーンテキストに変換するインターフェース。
// 記事の保存前に使用される。
type TextSanitizer interface {
	// Sanitize はタグをすべて除去し、実体参照を復元し、連続する空白を1つにまとめる。
	// 空文字列の入力には空文字列を返す。
	// 同一入力に対して常に同一出力を返す（冪等）。
	Sanitize(raw string) string
}

// textSanitizer はTextSanitizerの実装。
// bluemondayのポリシーはスレッドセーフに共有できる。
type textSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はTextSanitizerの新しいインスタンスを生成する。
// ポリシーの内容:
//   - すべてのタグを除去（script, styleは中身ごと除去）
//   - 除去したタグの位置に空白を挿入し、隣接する段落の単語が連結されないようにする
func NewTextSanitizer() *textSanitizer {
	p := bluemonday.StrictPolicy()
	p.AddSpaceWhenStrippingTag(true)

	return &textSanitizer{
		policy: p,
	}
}

// Sanitize は本文をプレーンテキストに変換する。
func (s *textSanitizer) Sanitize(raw string) string {
	if raw == "" {
		return ""
	}
	stripped := html.UnescapeString(s.policy.Sanitize(raw))
	return strings.Join(strings.Fields(stripped), " ")
}
