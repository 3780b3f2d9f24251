// Package article は記事の保存とベクトル生成の管理を提供する。
package article

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/newsrec/internal/model"
	"github.com/hitoshi/newsrec/internal/repository"
	"github.com/hitoshi/newsrec/internal/security"
)

// VectorGenerator は本文から記事ベクトルを生成するインターフェース。
// vectorizer.Client が実装する。
type VectorGenerator interface {
	Generate(ctx context.Context, text string) (embedding, tfidf []float64, err error)
}

// SaveInput は記事の作成・更新の入力。
// IDが空、または存在しないIDの場合は新規作成となる。
type SaveInput struct {
	ID     string
	Title  string
	Text   string
	Labels []string
}

// Service は記事の保存を提供する。
// 本文のマークアップ除去、ラベル正規化、ベクトル再生成を行う。
type Service struct {
	articles  repository.ArticleRepository
	sanitizer security.TextSanitizer
	generator VectorGenerator
	logger    *slog.Logger
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	articles repository.ArticleRepository,
	sanitizer security.TextSanitizer,
	generator VectorGenerator,
	logger *slog.Logger,
) *Service {
	return &Service{
		articles:  articles,
		sanitizer: sanitizer,
		generator: generator,
		logger:    logger,
	}
}

// Save は記事を作成または更新する。
// 新規作成時と本文が変わった場合はベクトルを再生成する。
// ベクトル生成に失敗した場合はベクトル未生成のまま保存し、バックフィルに任せる。
// views と time_spent_on はこの操作では変更されない。
func (s *Service) Save(ctx context.Context, input SaveInput) (*model.Article, error) {
	title := strings.TrimSpace(input.Title)
	text := s.sanitizer.Sanitize(input.Text)
	if title == "" {
		return nil, model.NewInvalidArticleError("title is empty")
	}
	if text == "" {
		return nil, model.NewInvalidArticleError("text is empty")
	}
	labels := model.NormalizeLabels(input.Labels)

	var existing *model.Article
	if input.ID != "" {
		found, err := s.articles.FindByID(ctx, input.ID)
		if err != nil {
			return nil, fmt.Errorf("記事の取得に失敗しました: %w", err)
		}
		existing = found
	}

	now := time.Now().UTC()

	if existing == nil {
		article := &model.Article{
			ID:        input.ID,
			Title:     title,
			Text:      text,
			Labels:    labels,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if article.ID == "" {
			article.ID = uuid.New().String()
		}
		s.generateVectors(ctx, article)

		if err := s.articles.Create(ctx, article); err != nil {
			return nil, fmt.Errorf("記事の作成に失敗しました: %w", err)
		}
		s.logger.Info("記事を作成しました",
			slog.String("article_id", article.ID),
			slog.Bool("has_vectors", article.HasVectors()),
		)
		return article, nil
	}

	textChanged := existing.Text != text
	existing.Title = title
	existing.Text = text
	existing.Labels = labels
	existing.UpdatedAt = now
	if textChanged {
		// 古い本文のベクトルは残さない
		existing.EmbeddingVector = nil
		existing.TFIDFVector = nil
		s.generateVectors(ctx, existing)
	}

	if err := s.articles.Update(ctx, existing); err != nil {
		return nil, fmt.Errorf("記事の更新に失敗しました: %w", err)
	}
	s.logger.Info("記事を更新しました",
		slog.String("article_id", existing.ID),
		slog.Bool("text_changed", textChanged),
		slog.Bool("has_vectors", existing.HasVectors()),
	)
	return existing, nil
}

// GenerateVectors はベクトル未生成の記事のベクトルを生成して保存する。
// バックフィルワーカーから呼ばれる。articleは取得時点のスナップショットのため、
// 生成中に本文が更新された、または別経路でベクトルが保存された場合は書き込まずに終了する。
func (s *Service) GenerateVectors(ctx context.Context, article *model.Article) error {
	embedding, tfidf, err := s.generator.Generate(ctx, article.Text)
	if err != nil {
		return fmt.Errorf("記事 %s のベクトル生成に失敗しました: %w", article.ID, err)
	}
	applied, err := s.articles.UpdateVectors(ctx, article.ID, article.Text, embedding, tfidf)
	if err != nil {
		return err
	}
	if !applied {
		s.logger.Debug("記事が更新済みのためベクトルの保存をスキップしました",
			slog.String("article_id", article.ID),
		)
		return nil
	}
	article.EmbeddingVector = embedding
	article.TFIDFVector = tfidf
	return nil
}

// generateVectors はベクトルを生成してarticleに設定する。失敗はログのみ。
func (s *Service) generateVectors(ctx context.Context, article *model.Article) {
	embedding, tfidf, err := s.generator.Generate(ctx, article.Text)
	if err != nil {
		s.logger.Warn("ベクトル生成に失敗しました。未生成のまま保存します",
			slog.String("article_id", article.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	article.EmbeddingVector = embedding
	article.TFIDFVector = tfidf
}
