// Package model はドメインモデルを定義する。
package model

import "time"

// UserProfile はユーザーの興味プロファイルを表す。
// 閲覧した記事ベクトルの重み付き累積和で、集約処理以外から直接変更してはならない。
type UserProfile struct {
	UserID           string
	EmbeddingProfile []float64 // 初回更新時にゼロベクトルで遅延初期化される
	TFIDFProfile     []float64
	WatchedCount     int
	UpdatedAt        time.Time
}

// Clone はプロファイルのディープコピーを返す。
func (p *UserProfile) Clone() *UserProfile {
	if p == nil {
		return nil
	}
	c := *p
	c.EmbeddingProfile = cloneVector(p.EmbeddingProfile)
	c.TFIDFProfile = cloneVector(p.TFIDFProfile)
	return &c
}

// Clone は記事のディープコピーを返す。
func (a *Article) Clone() *Article {
	if a == nil {
		return nil
	}
	c := *a
	c.Labels = append([]string(nil), a.Labels...)
	c.EmbeddingVector = cloneVector(a.EmbeddingVector)
	c.TFIDFVector = cloneVector(a.TFIDFVector)
	return &c
}

func cloneVector(v []float64) []float64 {
	if v == nil {
		return nil
	}
	out := make([]float64, len(v))
	copy(out, v)
	return out
}
