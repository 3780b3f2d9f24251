// Package model はドメインモデルを定義する。
package model

import (
	"strings"
	"time"
)

// Article はニュース記事を表す。
// EmbeddingVector と TFIDFVector は生成前は nil（未生成）となる。
type Article struct {
	ID              string
	Title           string
	Text            string
	Labels          []string
	Views           int64 // 単調増加
	TimeSpentOn     int64 // 累計閲覧秒数、単調増加
	EmbeddingVector []float64
	TFIDFVector     []float64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// HasEmbedding は埋め込みベクトルが生成済みかを返す。
func (a *Article) HasEmbedding() bool {
	return len(a.EmbeddingVector) > 0
}

// HasVectors は埋め込みとTF-IDFの両ベクトルが生成済みかを返す。
func (a *Article) HasVectors() bool {
	return len(a.EmbeddingVector) > 0 && len(a.TFIDFVector) > 0
}

// LabelSet はラベルを集合として返す。
func (a *Article) LabelSet() map[string]struct{} {
	set := make(map[string]struct{}, len(a.Labels))
	for _, l := range a.Labels {
		set[l] = struct{}{}
	}
	return set
}

// NormalizeLabels はラベルの前後空白を除去し、空文字と重複を取り除く。
// 出現順は維持する。
func NormalizeLabels(labels []string) []string {
	out := make([]string, 0, len(labels))
	seen := make(map[string]struct{}, len(labels))
	for _, l := range labels {
		l = strings.TrimSpace(l)
		if l == "" {
			continue
		}
		if _, ok := seen[l]; ok {
			continue
		}
		seen[l] = struct{}{}
		out = append(out, l)
	}
	return out
}

// ParseLabels はカンマ区切りのラベル文字列をラベルの一覧に変換する。
// 例: "politics, world" -> ["politics", "world"]
func ParseLabels(raw string) []string {
	if raw == "" {
		return nil
	}
	return NormalizeLabels(strings.Split(raw, ","))
}

// ActiveFilter はアクティブ記事（直近の公開期間内の記事）を取得する際の絞り込み条件。
// アクティブ記事は独立したエンティティではなく、articlesに対する読み取り専用の射影として扱う。
type ActiveFilter struct {
	// Since はアクティブ期間の開始時刻。created_at >= Since の記事が対象。
	Since time.Time
	// RequireEmbedding は埋め込みベクトルが生成済みの記事のみに限定する。
	RequireEmbedding bool
	// ExcludeID は指定IDの記事を除外する。
	ExcludeID string
	// ExcludeInteractedBy は指定ユーザーがインタラクション済みの記事を除外する。
	ExcludeInteractedBy string
}
