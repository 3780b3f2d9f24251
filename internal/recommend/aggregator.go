package recommend

import (
	"github.com/hitoshi/newsrec/internal/model"
	"github.com/hitoshi/newsrec/internal/vector"
)

// Aggregator はインタラクションからユーザーの興味プロファイルを逐次更新する。
//
// n回目の更新の重みは w = timeSpent / n（n = 更新前のWatchedCount + 1）。
// 新しい閲覧ほど影響が小さくなり、古い寄与は再正規化されないため、
// 閲覧数の多いプロファイルは初期の履歴に支配される。これは既知の特性として維持する。
type Aggregator struct{}

// NormalizedProfile は類似度計算用にL2正規化したプロファイルのコピー。
type NormalizedProfile struct {
	Embedding []float64
	TFIDF     []float64
}

// Update はarticleのベクトルをtimeSpentに応じた重みでprofileに加算する。
// 記事のベクトルが揃っていない場合は何もせずapplied=falseを返す。
// 次元が一致しない場合はprofileを変更せずにDimensionMismatchErrorを返す。
func (Aggregator) Update(profile *model.UserProfile, article *model.Article, timeSpent int64) (applied bool, err error) {
	if !article.HasVectors() {
		return false, nil
	}

	embedding := profile.EmbeddingProfile
	if embedding == nil {
		embedding = make([]float64, len(article.EmbeddingVector))
	}
	tfidf := profile.TFIDFProfile
	if tfidf == nil {
		tfidf = make([]float64, len(article.TFIDFVector))
	}

	// 両方の次元を確認してから書き込む
	if err := vector.CheckDimension(embedding, article.EmbeddingVector); err != nil {
		return false, err
	}
	if err := vector.CheckDimension(tfidf, article.TFIDFVector); err != nil {
		return false, err
	}

	w := float64(timeSpent) / float64(profile.WatchedCount+1)
	if err := vector.AddScaled(embedding, article.EmbeddingVector, w); err != nil {
		return false, err
	}
	if err := vector.AddScaled(tfidf, article.TFIDFVector, w); err != nil {
		return false, err
	}

	profile.EmbeddingProfile = embedding
	profile.TFIDFProfile = tfidf
	profile.WatchedCount++
	return true, nil
}

// Normalize はプロファイルの両ベクトルをL2正規化したコピーを返す。
// ノルムが0のベクトルはそのまま返す。保存済みの状態は変更しない。
func (Aggregator) Normalize(profile *model.UserProfile) NormalizedProfile {
	return NormalizedProfile{
		Embedding: vector.Normalize(profile.EmbeddingProfile),
		TFIDF:     vector.Normalize(profile.TFIDFProfile),
	}
}
