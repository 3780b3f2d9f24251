package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/hitoshi/newsrec/internal/model"
)

// Executor はSQLのExecContextを抽象化するインターフェース。
// *sql.DB や *sql.Tx を受け付けることができる。
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// conflictSQLStates は再試行で解消しうる競合を表すSQLSTATE。
var conflictSQLStates = map[pq.ErrorCode]bool{
	"40001": true, // serialization_failure
	"40P01": true, // deadlock_detected
	"55P03": true, // lock_not_available（lock_timeout超過）
}

// defaultLockTimeout はトランザクション内で行ロックを待つ最大時間。
// 超過した場合は競合として扱い、呼び出し側の再試行に任せる。
const defaultLockTimeout = 5 * time.Second

// PostgresInteractionRepo はPostgreSQLを使用したインタラクションリポジトリ。
// (user, article, session) 単位のトランザクションも提供する。
type PostgresInteractionRepo struct {
	db          *sql.DB
	lockTimeout time.Duration
}

// NewPostgresInteractionRepo はPostgresInteractionRepoを生成する。
func NewPostgresInteractionRepo(db *sql.DB) *PostgresInteractionRepo {
	return &PostgresInteractionRepo{db: db, lockTimeout: defaultLockTimeout}
}

// FindByKey は (user, article, session) でイベントを取得する。見つからない場合はnilを返す。
func (r *PostgresInteractionRepo) FindByKey(ctx context.Context, userID, articleID, sessionID string) (*model.InteractionEvent, error) {
	return findEvent(ctx, r.db, userID, articleID, sessionID, false)
}

// DeleteStaleUnclicked は確定されないまま olderThan より古くなったイベントを削除する。
func (r *PostgresInteractionRepo) DeleteStaleUnclicked(ctx context.Context, olderThan time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM interaction_events WHERE clicked = false AND updated_at < $1`,
		olderThan,
	)
	if err != nil {
		return 0, fmt.Errorf("未確定インタラクションの削除に失敗しました: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("削除件数の取得に失敗しました: %w", err)
	}
	return deleted, nil
}

// WithinInteractionTx はREAD COMMITTEDのトランザクション内でfnを実行する。
// fnがエラーを返した場合はロールバックする。
// シリアライズ失敗・デッドロック・ロック待ちタイムアウトは model.ErrConcurrentUpdateConflict に変換する。
func (r *PostgresInteractionRepo) WithinInteractionTx(ctx context.Context, fn func(tx InteractionTx) error) error {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// SET LOCAL はパラメータを受け付けないため、ミリ秒値を埋め込む
	if _, err := tx.ExecContext(ctx,
		fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", r.lockTimeout.Milliseconds()),
	); err != nil {
		return translateConflict(fmt.Errorf("failed to set lock_timeout: %w", err))
	}

	if err := fn(&postgresInteractionTx{tx: tx}); err != nil {
		return translateConflict(err)
	}

	if err := tx.Commit(); err != nil {
		return translateConflict(fmt.Errorf("failed to commit transaction: %w", err))
	}
	return nil
}

// translateConflict は再試行可能なpqエラーをErrConcurrentUpdateConflictでラップする。
func translateConflict(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && conflictSQLStates[pqErr.Code] {
		return fmt.Errorf("%w: %w", model.ErrConcurrentUpdateConflict, err)
	}
	return err
}

// postgresInteractionTx は*sql.Tx上のInteractionTx実装。
type postgresInteractionTx struct {
	tx *sql.Tx
}

// FindArticle は記事を取得する。見つからない場合はnilを返す。
// 行ロックは取らない。以降の存在保証はイベントの外部キーに任せる。
func (t *postgresInteractionTx) FindArticle(ctx context.Context, id string) (*model.Article, error) {
	return findArticle(ctx, t.tx, id)
}

// GetOrCreateEvent はイベントを原子的に取得または作成する。
// UNIQUE(user_id, article_id, session_id) 制約とON CONFLICT DO NOTHINGにより、
// 同一の組に対する同時リクエストでも作成されるのは1件のみとなる。
// 競合した側は先行トランザクションの確定を待ってから既存行をFOR UPDATEで取得する。
func (t *postgresInteractionTx) GetOrCreateEvent(ctx context.Context, userID, articleID, sessionID string) (*model.InteractionEvent, bool, error) {
	now := time.Now().UTC()
	event := &model.InteractionEvent{
		ID:        uuid.New().String(),
		UserID:    userID,
		ArticleID: articleID,
		SessionID: sessionID,
		CreatedAt: now,
		UpdatedAt: now,
	}

	var insertedID string
	err := t.tx.QueryRowContext(ctx,
		`INSERT INTO interaction_events (id, user_id, article_id, session_id, clicked, time_spent, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, false, 0, $5, $6)
		 ON CONFLICT (user_id, article_id, session_id) DO NOTHING
		 RETURNING id`,
		event.ID, userID, articleID, sessionID, event.CreatedAt, event.UpdatedAt,
	).Scan(&insertedID)
	if err == nil {
		return event, true, nil
	}
	if err != sql.ErrNoRows {
		return nil, false, fmt.Errorf("インタラクションの作成に失敗しました: %w", err)
	}

	existing, err := findEvent(ctx, t.tx, userID, articleID, sessionID, true)
	if err != nil {
		return nil, false, err
	}
	if existing == nil {
		// DO NOTHINGの直後に他トランザクションが削除した場合
		return nil, false, fmt.Errorf("%w: インタラクションが取得できませんでした", model.ErrConcurrentUpdateConflict)
	}
	return existing, false, nil
}

// SaveEvent はイベントの clicked と time_spent を保存する。
func (t *postgresInteractionTx) SaveEvent(ctx context.Context, event *model.InteractionEvent) error {
	event.UpdatedAt = time.Now().UTC()
	_, err := t.tx.ExecContext(ctx,
		`UPDATE interaction_events SET clicked = $2, time_spent = $3, updated_at = $4
		 WHERE id = $1`,
		event.ID, event.Clicked, event.TimeSpent, event.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("インタラクションの保存に失敗しました: %w", err)
	}
	return nil
}

// IncrementArticleMetrics は記事の views と time_spent_on を差分で原子的に加算する。
func (t *postgresInteractionTx) IncrementArticleMetrics(ctx context.Context, articleID string, views, timeSpent int64) error {
	return incrementArticleMetrics(ctx, t.tx, articleID, views, timeSpent)
}

// GetOrCreateProfileForUpdate はプロファイルを取得または作成し、FOR UPDATEで行ロックを取得する。
// 同一ユーザーのプロファイル更新はこのロックで直列化される。
func (t *postgresInteractionTx) GetOrCreateProfileForUpdate(ctx context.Context, userID string) (*model.UserProfile, error) {
	if _, err := t.tx.ExecContext(ctx,
		`INSERT INTO user_profiles (user_id, watched_count, updated_at)
		 VALUES ($1, 0, now())
		 ON CONFLICT (user_id) DO NOTHING`,
		userID,
	); err != nil {
		return nil, fmt.Errorf("プロファイルの作成に失敗しました: %w", err)
	}

	profile, err := findProfile(ctx, t.tx, userID, true)
	if err != nil {
		return nil, err
	}
	if profile == nil {
		return nil, fmt.Errorf("%w: プロファイルが取得できませんでした", model.ErrConcurrentUpdateConflict)
	}
	return profile, nil
}

// SaveProfile はプロファイルのベクトルと watched_count を保存する。
func (t *postgresInteractionTx) SaveProfile(ctx context.Context, profile *model.UserProfile) error {
	profile.UpdatedAt = time.Now().UTC()
	_, err := t.tx.ExecContext(ctx,
		`UPDATE user_profiles SET
		    embedding_profile = $2, tfidf_profile = $3, watched_count = $4, updated_at = $5
		 WHERE user_id = $1`,
		profile.UserID,
		float64Array(profile.EmbeddingProfile), float64Array(profile.TFIDFProfile),
		profile.WatchedCount, profile.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("プロファイルの保存に失敗しました: %w", err)
	}
	return nil
}

// findEvent はイベントを1件取得する。forUpdateがtrueの場合は行ロックを取得する。
func findEvent(ctx context.Context, q rowQuerier, userID, articleID, sessionID string, forUpdate bool) (*model.InteractionEvent, error) {
	query := `SELECT id, user_id, article_id, session_id, clicked, time_spent, created_at, updated_at
		 FROM interaction_events
		 WHERE user_id = $1 AND article_id = $2 AND session_id = $3`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	e := &model.InteractionEvent{}
	err := q.QueryRowContext(ctx, query, userID, articleID, sessionID).Scan(
		&e.ID, &e.UserID, &e.ArticleID, &e.SessionID,
		&e.Clicked, &e.TimeSpent, &e.CreatedAt, &e.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("インタラクションの取得に失敗しました: %w", err)
	}
	return e, nil
}

// compile-time interface check
var _ InteractionRepository = (*PostgresInteractionRepo)(nil)
var _ InteractionTxRunner = (*PostgresInteractionRepo)(nil)
var _ InteractionTx = (*postgresInteractionTx)(nil)
