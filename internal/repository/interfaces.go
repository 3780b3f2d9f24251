// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/hitoshi/newsrec/internal/model"
)

// ArticleRepository は記事データの永続化インターフェース。
type ArticleRepository interface {
	// FindByID は指定IDの記事を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Article, error)

	// Create は新規記事を作成する。
	Create(ctx context.Context, article *model.Article) error

	// Update は記事の本文・ラベル・ベクトルを上書き更新する。
	// 保存済みの本文と同じ場合、ベクトルは保存済みの値を保持する。
	// views と time_spent_on は IncrementMetrics 以外で変更しない。
	// 記事が存在しない場合は ARTICLE_NOT_FOUND を返す。
	Update(ctx context.Context, article *model.Article) error

	// UpdateVectors はsourceTextから生成したベクトルを保存する。
	// 保存済みの本文がsourceTextと異なる場合、またはベクトルが生成済みの場合は
	// 書き込まずにfalseを返す。記事が存在しない場合は ARTICLE_NOT_FOUND を返す。
	UpdateVectors(ctx context.Context, id, sourceText string, embedding, tfidf []float64) (bool, error)

	// IncrementMetrics は views と time_spent_on を差分で原子的に加算する。
	// アプリケーション側での読み取り→加算→書き込みは行わない。
	IncrementMetrics(ctx context.Context, id string, views, timeSpent int64) error

	// ListActive はアクティブ記事をfilterで絞り込んで返す。
	// 並び順は views降順、created_at降順、id昇順で固定する（ランキングの入力順になる）。
	ListActive(ctx context.Context, filter model.ActiveFilter) ([]*model.Article, error)

	// ListMissingVectors はベクトル未生成の記事を古い順に最大limit件返す。
	ListMissingVectors(ctx context.Context, limit int) ([]*model.Article, error)
}

// ProfileRepository はユーザープロファイルの参照用インターフェース。
// プロファイルの更新は InteractionTx 経由でのみ行う。
type ProfileRepository interface {
	// FindByUserID は指定ユーザーのプロファイルを取得する。見つからない場合はnilを返す。
	FindByUserID(ctx context.Context, userID string) (*model.UserProfile, error)
}

// InteractionRepository はインタラクションイベントの永続化インターフェース。
type InteractionRepository interface {
	// FindByKey は (user, article, session) でイベントを取得する。見つからない場合はnilを返す。
	FindByKey(ctx context.Context, userID, articleID, sessionID string) (*model.InteractionEvent, error)

	// DeleteStaleUnclicked は確定（clicked=true）されないまま olderThan より古くなったイベントを削除する。
	// 削除件数を返す。
	DeleteStaleUnclicked(ctx context.Context, olderThan time.Time) (int64, error)
}

// InteractionTx は (user, article, session) 単位のトランザクション内で利用できる操作。
type InteractionTx interface {
	// FindArticle は記事を取得する。見つからない場合はnilを返す。
	FindArticle(ctx context.Context, id string) (*model.Article, error)

	// GetOrCreateEvent はイベントを原子的に取得または作成し、行ロックを取得する。
	// createdはこの呼び出しで新規作成された場合にtrueとなる。
	GetOrCreateEvent(ctx context.Context, userID, articleID, sessionID string) (event *model.InteractionEvent, created bool, err error)

	// SaveEvent はイベントの clicked と time_spent を保存する。
	SaveEvent(ctx context.Context, event *model.InteractionEvent) error

	// IncrementArticleMetrics は記事の views と time_spent_on を差分で原子的に加算する。
	IncrementArticleMetrics(ctx context.Context, articleID string, views, timeSpent int64) error

	// GetOrCreateProfileForUpdate はプロファイルを取得または作成し、
	// トランザクション終了まで他の更新を待たせる。
	GetOrCreateProfileForUpdate(ctx context.Context, userID string) (*model.UserProfile, error)

	// SaveProfile はプロファイルのベクトルと watched_count を保存する。
	SaveProfile(ctx context.Context, profile *model.UserProfile) error
}

// InteractionTxRunner はインタラクション記録用トランザクションの実行インターフェース。
// fnがエラーを返した場合はロールバックする。
// 排他制御の競合で完了できない場合は model.ErrConcurrentUpdateConflict をラップして返す。
type InteractionTxRunner interface {
	WithinInteractionTx(ctx context.Context, fn func(tx InteractionTx) error) error
}

// TxBeginner はトランザクション開始用のインターフェース。
type TxBeginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}
