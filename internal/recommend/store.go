package recommend

import (
	"context"
	"fmt"

	"github.com/hitoshi/newsrec/internal/model"
	"github.com/hitoshi/newsrec/internal/repository"
)

// VectorStore は記事ベクトルの保持と参照を担う。
// 保存と存在確認以外の計算は行わない。
type VectorStore struct {
	articles repository.ArticleRepository
}

// NewVectorStore はVectorStoreを生成する。
func NewVectorStore(articles repository.ArticleRepository) *VectorStore {
	return &VectorStore{articles: articles}
}

// Vectors は記事の埋め込みベクトルとTF-IDFベクトルを返す。
// どちらかが未生成の場合は model.ErrVectorUnavailable を返す。
// 呼び出し側はこれを「ベクトル順位付けから除外する」として扱うこと。
func (s *VectorStore) Vectors(ctx context.Context, articleID string) (embedding, tfidf []float64, err error) {
	article, err := s.articles.FindByID(ctx, articleID)
	if err != nil {
		return nil, nil, err
	}
	if article == nil {
		return nil, nil, model.NewArticleNotFoundError(articleID)
	}
	if !article.HasVectors() {
		return nil, nil, fmt.Errorf("%w: article %s", model.ErrVectorUnavailable, articleID)
	}
	return article.EmbeddingVector, article.TFIDFVector, nil
}

// StoreVectors はsourceTextから生成したベクトルを保存する。
// 記事の本文がsourceTextから変わっている場合は保存せずにfalseを返す。
func (s *VectorStore) StoreVectors(ctx context.Context, articleID, sourceText string, embedding, tfidf []float64) (bool, error) {
	return s.articles.UpdateVectors(ctx, articleID, sourceText, embedding, tfidf)
}

// Candidates はアクティブ記事のスナップショットを永続化層の標準順
// （views降順、created_at降順、id昇順）で返す。
func (s *VectorStore) Candidates(ctx context.Context, filter model.ActiveFilter) ([]*model.Article, error) {
	return s.articles.ListActive(ctx, filter)
}

// embeddingCandidates は記事一覧をランキング入力に変換する。
// 埋め込み未生成の記事はVector=nilのまま渡し、Rankで除外させる。
func embeddingCandidates(articles []*model.Article) []Candidate {
	candidates := make([]Candidate, len(articles))
	for i, a := range articles {
		candidates[i] = Candidate{ID: a.ID, Vector: a.EmbeddingVector}
	}
	return candidates
}
