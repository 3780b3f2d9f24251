// Package recommend は記事の推薦とユーザー興味プロファイルの集約を提供する。
//
// 推薦は複数のシグナル（ベクトル類似度、ラベルの重なり、新着順）を
// この優先順で適用し、後段は前段で埋まらなかった枠だけを補充する。
// シグナル間での再順位付けは行わない。
package recommend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/hitoshi/newsrec/internal/metrics"
	"github.com/hitoshi/newsrec/internal/model"
	"github.com/hitoshi/newsrec/internal/repository"
	"github.com/hitoshi/newsrec/internal/vector"
)

// 推薦種別（メトリクスのラベル）
const (
	KindPersonalized = "personalized"
	KindRelated      = "related"
	KindPopular      = "popular"
)

// 充填パス（メトリクスのラベル）
const (
	passVector  = "vector"
	passLabel   = "label"
	passRecency = "recency"
	passPopular = "popular"
)

// HomeSource はホーム画面の記事一覧がどの方式で選ばれたかを表す。
type HomeSource string

const (
	// HomeSourcePersonalized はプロファイルに基づく推薦。
	HomeSourcePersonalized HomeSource = "personalized"
	// HomeSourcePopular は閲覧数順の人気記事（新規ユーザー向け）。
	HomeSourcePopular HomeSource = "popular"
)

// HomeResult はホーム画面向けの記事一覧。
type HomeResult struct {
	Source   HomeSource
	Articles []model.Article
}

// DefaultActiveWindow はアクティブ記事とみなす公開期間のデフォルト値。
const DefaultActiveWindow = 7 * 24 * time.Hour

// EngineConfig は推薦エンジンの設定を保持する。
type EngineConfig struct {
	// ActiveWindow はアクティブ記事とみなす公開期間。
	ActiveWindow time.Duration
}

// DefaultEngineConfig はデフォルトの推薦エンジン設定を返す。
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{ActiveWindow: DefaultActiveWindow}
}

// Engine は推薦リクエストを処理する。
// 状態を持たないため、複数のgoroutineから同時に利用できる。
type Engine struct {
	store      *VectorStore
	profiles   repository.ProfileRepository
	aggregator Aggregator
	metrics    metrics.MetricsCollector
	logger     *slog.Logger
	cfg        EngineConfig
	now        func() time.Time
}

// NewEngine は新しいEngineを生成する。
func NewEngine(
	store *VectorStore,
	profiles repository.ProfileRepository,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
	cfg EngineConfig,
) *Engine {
	if cfg.ActiveWindow <= 0 {
		cfg.ActiveWindow = DefaultActiveWindow
	}
	return &Engine{
		store:    store,
		profiles: profiles,
		metrics:  collector,
		logger:   logger,
		cfg:      cfg,
		now:      time.Now,
	}
}

// activeFilter はアクティブ期間で絞り込むフィルタを返す。
func (e *Engine) activeFilter() model.ActiveFilter {
	return model.ActiveFilter{Since: e.now().Add(-e.cfg.ActiveWindow)}
}

// RecommendForUser はユーザーのプロファイルに類似したアクティブ記事を最大k件返す。
// プロファイルが無い、または埋め込みがゼロベクトルの場合は空を返す（エラーにしない）。
// 閲覧済みの記事と埋め込み未生成の記事は候補から除外する。
func (e *Engine) RecommendForUser(ctx context.Context, userID string, k int) ([]model.Article, error) {
	if k <= 0 {
		return nil, model.NewInvalidCountError(k)
	}
	start := time.Now()
	defer func() { e.metrics.RecordRecommendationLatency(KindPersonalized, time.Since(start)) }()

	query, err := e.profileQuery(ctx, userID)
	if errors.Is(err, model.ErrProfileNotFound) || errors.Is(err, model.ErrVectorUnavailable) {
		e.logger.Debug("personalized recommendation unavailable",
			slog.String("user_id", userID),
			slog.String("reason", err.Error()),
		)
		return []model.Article{}, nil
	}
	if err != nil {
		return nil, err
	}

	filter := e.activeFilter()
	filter.RequireEmbedding = true
	filter.ExcludeInteractedBy = userID
	candidates, err := e.store.Candidates(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to load candidates: %w", err)
	}

	ids, err := Rank(query, embeddingCandidates(candidates), k)
	if err != nil {
		return nil, fmt.Errorf("failed to rank candidates for user %s: %w", userID, err)
	}

	result := pick(candidates, ids)
	e.metrics.RecordRecommendation(KindPersonalized, passVector, len(result))
	e.logger.Debug("personalized recommendation",
		slog.String("user_id", userID),
		slog.Int("candidates", len(candidates)),
		slog.Int("results", len(result)),
	)
	return result, nil
}

// profileQuery はユーザーのプロファイルから検索用の正規化済み埋め込みを作る。
// プロファイルが無い場合は model.ErrProfileNotFound、
// まだ信号が無い（ゼロベクトル）場合は model.ErrVectorUnavailable を返す。
func (e *Engine) profileQuery(ctx context.Context, userID string) ([]float64, error) {
	profile, err := e.profiles.FindByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load profile: %w", err)
	}
	if profile == nil {
		return nil, fmt.Errorf("%w: user %s", model.ErrProfileNotFound, userID)
	}

	normalized := e.aggregator.Normalize(profile)
	if vector.IsZero(normalized.Embedding) {
		return nil, fmt.Errorf("%w: profile of user %s has no signal (watched_count=%d)",
			model.ErrVectorUnavailable, userID, profile.WatchedCount)
	}
	return normalized.Embedding, nil
}

// RecommendRelated はsourceに関連するアクティブ記事をちょうどmin(k, 候補数)件返す。
//
// 1. sourceに埋め込みがあれば、類似度順に最大k件
// 2. ラベルの重なり（共通ラベル数）が1以上の記事を重なりの多い順に最大k件
// 3. 公開日時の新しい順
//
// の順に、既に含まれる記事を除いて空き枠を埋める。source自身は含めない。
func (e *Engine) RecommendRelated(ctx context.Context, source *model.Article, k int) ([]model.Article, error) {
	if k <= 0 {
		return nil, model.NewInvalidCountError(k)
	}
	if source == nil {
		return nil, model.NewInvalidArticleError("source article is required")
	}
	start := time.Now()
	defer func() { e.metrics.RecordRecommendationLatency(KindRelated, time.Since(start)) }()

	filter := e.activeFilter()
	filter.ExcludeID = source.ID
	candidates, err := e.store.Candidates(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to load candidates: %w", err)
	}

	merged := newMerger(k)

	if source.HasEmbedding() {
		ids, err := Rank(source.EmbeddingVector, embeddingCandidates(candidates), k)
		if err != nil {
			return nil, fmt.Errorf("failed to rank related articles for %s: %w", source.ID, err)
		}
		e.metrics.RecordRecommendation(KindRelated, passVector, merged.add(ids))
	}

	labelIDs := rankByLabelOverlap(source, candidates)
	if len(labelIDs) > k {
		labelIDs = labelIDs[:k]
	}
	e.metrics.RecordRecommendation(KindRelated, passLabel, merged.add(labelIDs))

	e.metrics.RecordRecommendation(KindRelated, passRecency, merged.add(rankByRecency(candidates)))

	result := pick(candidates, merged.ids)
	e.logger.Debug("related recommendation",
		slog.String("article_id", source.ID),
		slog.Int("candidates", len(candidates)),
		slog.Int("results", len(result)),
	)
	return result, nil
}

// Popular はアクティブ記事を閲覧数の多い順に最大k件返す。
func (e *Engine) Popular(ctx context.Context, k int) ([]model.Article, error) {
	if k <= 0 {
		return nil, model.NewInvalidCountError(k)
	}
	start := time.Now()
	defer func() { e.metrics.RecordRecommendationLatency(KindPopular, time.Since(start)) }()

	candidates, err := e.store.Candidates(ctx, e.activeFilter())
	if err != nil {
		return nil, fmt.Errorf("failed to load candidates: %w", err)
	}
	if len(candidates) > k {
		candidates = candidates[:k]
	}

	result := make([]model.Article, len(candidates))
	for i, a := range candidates {
		result[i] = *a
	}
	e.metrics.RecordRecommendation(KindPopular, passPopular, len(result))
	return result, nil
}

// RecommendForHome はホーム画面の記事一覧を返す。
// 個人向け推薦が得られればそれを、得られなければ（未ログイン・新規ユーザー）人気記事を返す。
// 次元不一致などのデータ不整合はフォールバックせずエラーとして返す。
func (e *Engine) RecommendForHome(ctx context.Context, userID string, k int) (*HomeResult, error) {
	if userID != "" {
		articles, err := e.RecommendForUser(ctx, userID, k)
		if err != nil {
			return nil, err
		}
		if len(articles) > 0 {
			return &HomeResult{Source: HomeSourcePersonalized, Articles: articles}, nil
		}
	}

	articles, err := e.Popular(ctx, k)
	if err != nil {
		return nil, err
	}
	return &HomeResult{Source: HomeSourcePopular, Articles: articles}, nil
}

// merger は複数パスの結果を重複なく最大limit件まで連結する。
type merger struct {
	limit int
	ids   []string
	seen  map[string]struct{}
}

func newMerger(limit int) *merger {
	return &merger{limit: limit, seen: make(map[string]struct{}, limit)}
}

// add はidsを順に追加し、実際に追加した件数を返す。
func (m *merger) add(ids []string) int {
	added := 0
	for _, id := range ids {
		if len(m.ids) >= m.limit {
			break
		}
		if _, ok := m.seen[id]; ok {
			continue
		}
		m.seen[id] = struct{}{}
		m.ids = append(m.ids, id)
		added++
	}
	return added
}

// rankByLabelOverlap は共通ラベル数の多い順（同数は入力順）に記事IDを返す。
// 共通ラベルが無い記事は含めない。
func rankByLabelOverlap(source *model.Article, candidates []*model.Article) []string {
	labels := source.LabelSet()
	if len(labels) == 0 {
		return nil
	}

	type overlap struct {
		id    string
		count int
	}
	var overlaps []overlap
	for _, c := range candidates {
		n := 0
		for l := range c.LabelSet() {
			if _, ok := labels[l]; ok {
				n++
			}
		}
		if n > 0 {
			overlaps = append(overlaps, overlap{id: c.ID, count: n})
		}
	}

	sort.SliceStable(overlaps, func(i, j int) bool {
		return overlaps[i].count > overlaps[j].count
	})
	ids := make([]string, len(overlaps))
	for i, o := range overlaps {
		ids[i] = o.id
	}
	return ids
}

// rankByRecency は公開日時の新しい順（同時刻は入力順）に記事IDを返す。
func rankByRecency(candidates []*model.Article) []string {
	sorted := make([]*model.Article, len(candidates))
	copy(sorted, candidates)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CreatedAt.After(sorted[j].CreatedAt)
	})
	ids := make([]string, len(sorted))
	for i, a := range sorted {
		ids[i] = a.ID
	}
	return ids
}

// pick はidsの順に候補から記事を取り出す。
func pick(candidates []*model.Article, ids []string) []model.Article {
	byID := make(map[string]*model.Article, len(candidates))
	for _, a := range candidates {
		byID[a.ID] = a
	}
	result := make([]model.Article, 0, len(ids))
	for _, id := range ids {
		if a, ok := byID[id]; ok {
			result = append(result, *a)
		}
	}
	return result
}
