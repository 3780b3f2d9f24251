package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/newsrec/internal/model"
)

// eventKey はインタラクションイベントの一意キー。
type eventKey struct {
	userID    string
	articleID string
	sessionID string
}

// MemoryStore はメモリ上で動作するリポジトリ実装。
// 単体テストとDBを使わないローカル実行で利用する。
// 返却する値はすべてコピーで、呼び出し側の変更はストアに反映されない。
type MemoryStore struct {
	mu       sync.Mutex
	articles map[string]*model.Article
	profiles map[string]*model.UserProfile
	events   map[eventKey]*model.InteractionEvent
}

// NewMemoryStore は空のMemoryStoreを生成する。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		articles: make(map[string]*model.Article),
		profiles: make(map[string]*model.UserProfile),
		events:   make(map[eventKey]*model.InteractionEvent),
	}
}

// FindByID は指定IDの記事を取得する。見つからない場合はnilを返す。
func (s *MemoryStore) FindByID(ctx context.Context, id string) (*model.Article, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.articles[id].Clone(), nil
}

// Create は新規記事を作成する。IDが空の場合は採番する。
func (s *MemoryStore) Create(ctx context.Context, article *model.Article) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if article.ID == "" {
		article.ID = uuid.New().String()
	}
	if _, ok := s.articles[article.ID]; ok {
		return fmt.Errorf("記事の作成に失敗しました: duplicate id %s", article.ID)
	}
	now := time.Now().UTC()
	if article.CreatedAt.IsZero() {
		article.CreatedAt = now
	}
	if article.UpdatedAt.IsZero() {
		article.UpdatedAt = now
	}
	s.articles[article.ID] = article.Clone()
	return nil
}

// Update は記事の本文・ラベル・ベクトルを上書きする。views と time_spent_on は保持する。
// 本文が保存済みの値と同じ場合はベクトルも保持する。
func (s *MemoryStore) Update(ctx context.Context, article *model.Article) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.articles[article.ID]
	if !ok {
		return model.NewArticleNotFoundError(article.ID)
	}
	updated := article.Clone()
	updated.Views = stored.Views
	updated.TimeSpentOn = stored.TimeSpentOn
	updated.CreatedAt = stored.CreatedAt
	if stored.Text == updated.Text {
		updated.EmbeddingVector = append([]float64(nil), stored.EmbeddingVector...)
		updated.TFIDFVector = append([]float64(nil), stored.TFIDFVector...)
	}
	s.articles[article.ID] = updated
	return nil
}

// UpdateVectors はsourceTextから生成したベクトルを保存する。
// 本文が変わっている、またはベクトルが生成済みの場合は書き込まずにfalseを返す。
func (s *MemoryStore) UpdateVectors(ctx context.Context, id, sourceText string, embedding, tfidf []float64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.articles[id]
	if !ok {
		return false, model.NewArticleNotFoundError(id)
	}
	if stored.Text != sourceText || stored.HasVectors() {
		return false, nil
	}
	stored.EmbeddingVector = append([]float64(nil), embedding...)
	stored.TFIDFVector = append([]float64(nil), tfidf...)
	stored.UpdatedAt = time.Now().UTC()
	return true, nil
}

// IncrementMetrics は views と time_spent_on を加算する。
func (s *MemoryStore) IncrementMetrics(ctx context.Context, id string, views, timeSpent int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.incrementLocked(id, views, timeSpent)
}

func (s *MemoryStore) incrementLocked(id string, views, timeSpent int64) error {
	stored, ok := s.articles[id]
	if !ok {
		return model.NewArticleNotFoundError(id)
	}
	stored.Views += views
	stored.TimeSpentOn += timeSpent
	return nil
}

// ListActive はアクティブ記事をfilterで絞り込んで返す。
// 並び順は views降順、created_at降順、id昇順。
func (s *MemoryStore) ListActive(ctx context.Context, filter model.ActiveFilter) ([]*model.Article, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	interacted := make(map[string]bool)
	if filter.ExcludeInteractedBy != "" {
		for k := range s.events {
			if k.userID == filter.ExcludeInteractedBy {
				interacted[k.articleID] = true
			}
		}
	}

	var out []*model.Article
	for _, a := range s.articles {
		if !filter.Since.IsZero() && a.CreatedAt.Before(filter.Since) {
			continue
		}
		if filter.RequireEmbedding && !a.HasEmbedding() {
			continue
		}
		if filter.ExcludeID != "" && a.ID == filter.ExcludeID {
			continue
		}
		if interacted[a.ID] {
			continue
		}
		out = append(out, a.Clone())
	}
	sortByPopularity(out)
	return out, nil
}

// ListMissingVectors はベクトル未生成の記事を古い順に最大limit件返す。
func (s *MemoryStore) ListMissingVectors(ctx context.Context, limit int) ([]*model.Article, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*model.Article
	for _, a := range s.articles {
		if !a.HasVectors() {
			out = append(out, a.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// sortByPopularity はPostgres実装のORDER BYと同じ順に並べる。
func sortByPopularity(articles []*model.Article) {
	sort.Slice(articles, func(i, j int) bool {
		a, b := articles[i], articles[j]
		if a.Views != b.Views {
			return a.Views > b.Views
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}

// FindByUserID は指定ユーザーのプロファイルを取得する。見つからない場合はnilを返す。
func (s *MemoryStore) FindByUserID(ctx context.Context, userID string) (*model.UserProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.profiles[userID].Clone(), nil
}

// FindByKey は (user, article, session) でイベントを取得する。見つからない場合はnilを返す。
func (s *MemoryStore) FindByKey(ctx context.Context, userID, articleID, sessionID string) (*model.InteractionEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.events[eventKey{userID, articleID, sessionID}]
	if !ok {
		return nil, nil
	}
	c := *e
	return &c, nil
}

// DeleteStaleUnclicked は確定されないまま olderThan より古くなったイベントを削除する。
func (s *MemoryStore) DeleteStaleUnclicked(ctx context.Context, olderThan time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int64
	for k, e := range s.events {
		if !e.Clicked && e.UpdatedAt.Before(olderThan) {
			delete(s.events, k)
			deleted++
		}
	}
	return deleted, nil
}

// WithinInteractionTx はストア全体のロックを保持したままfnを実行する。
// fnの書き込みはステージングされ、fnが成功した場合のみまとめて反映する。
func (s *MemoryStore) WithinInteractionTx(ctx context.Context, fn func(tx InteractionTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memoryTx{
		store:    s,
		events:   make(map[eventKey]*model.InteractionEvent),
		metrics:  make(map[string]metricDelta),
		profiles: make(map[string]*model.UserProfile),
	}
	if err := fn(tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

type metricDelta struct {
	views     int64
	timeSpent int64
}

// memoryTx はMemoryStore上のInteractionTx実装。
// 呼び出し中はMemoryStore.muが保持されている。
type memoryTx struct {
	store    *MemoryStore
	events   map[eventKey]*model.InteractionEvent
	metrics  map[string]metricDelta
	profiles map[string]*model.UserProfile
}

func (t *memoryTx) FindArticle(ctx context.Context, id string) (*model.Article, error) {
	a := t.store.articles[id].Clone()
	if a == nil {
		return nil, nil
	}
	d := t.metrics[id]
	a.Views += d.views
	a.TimeSpentOn += d.timeSpent
	return a, nil
}

func (t *memoryTx) GetOrCreateEvent(ctx context.Context, userID, articleID, sessionID string) (*model.InteractionEvent, bool, error) {
	key := eventKey{userID, articleID, sessionID}
	if e, ok := t.events[key]; ok {
		c := *e
		return &c, false, nil
	}
	if e, ok := t.store.events[key]; ok {
		c := *e
		return &c, false, nil
	}
	if _, ok := t.store.articles[articleID]; !ok {
		return nil, false, model.NewArticleNotFoundError(articleID)
	}

	now := time.Now().UTC()
	e := &model.InteractionEvent{
		ID:        uuid.New().String(),
		UserID:    userID,
		ArticleID: articleID,
		SessionID: sessionID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	t.events[key] = e
	c := *e
	return &c, true, nil
}

func (t *memoryTx) SaveEvent(ctx context.Context, event *model.InteractionEvent) error {
	event.UpdatedAt = time.Now().UTC()
	c := *event
	t.events[eventKey{event.UserID, event.ArticleID, event.SessionID}] = &c
	return nil
}

func (t *memoryTx) IncrementArticleMetrics(ctx context.Context, articleID string, views, timeSpent int64) error {
	if _, ok := t.store.articles[articleID]; !ok {
		return model.NewArticleNotFoundError(articleID)
	}
	d := t.metrics[articleID]
	d.views += views
	d.timeSpent += timeSpent
	t.metrics[articleID] = d
	return nil
}

func (t *memoryTx) GetOrCreateProfileForUpdate(ctx context.Context, userID string) (*model.UserProfile, error) {
	if p, ok := t.profiles[userID]; ok {
		return p.Clone(), nil
	}
	if p, ok := t.store.profiles[userID]; ok {
		return p.Clone(), nil
	}
	p := &model.UserProfile{UserID: userID, UpdatedAt: time.Now().UTC()}
	t.profiles[userID] = p
	return p.Clone(), nil
}

func (t *memoryTx) SaveProfile(ctx context.Context, profile *model.UserProfile) error {
	profile.UpdatedAt = time.Now().UTC()
	t.profiles[profile.UserID] = profile.Clone()
	return nil
}

// commit はステージングした書き込みをストアに反映する。
func (t *memoryTx) commit() {
	for k, e := range t.events {
		t.store.events[k] = e
	}
	for id, d := range t.metrics {
		// IncrementArticleMetricsで存在確認済み
		_ = t.store.incrementLocked(id, d.views, d.timeSpent)
	}
	for id, p := range t.profiles {
		t.store.profiles[id] = p
	}
}

// compile-time interface check
var _ ArticleRepository = (*MemoryStore)(nil)
var _ ProfileRepository = (*MemoryStore)(nil)
var _ InteractionRepository = (*MemoryStore)(nil)
var _ InteractionTxRunner = (*MemoryStore)(nil)
var _ InteractionTx = (*memoryTx)(nil)
