package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/hitoshi/newsrec/internal/model"
)

// PostgresProfileRepo はPostgreSQLを使用したユーザープロファイルリポジトリ（参照用）。
type PostgresProfileRepo struct {
	db *sql.DB
}

// NewPostgresProfileRepo はPostgresProfileRepoを生成する。
func NewPostgresProfileRepo(db *sql.DB) *PostgresProfileRepo {
	return &PostgresProfileRepo{db: db}
}

// FindByUserID は指定ユーザーのプロファイルを取得する。見つからない場合はnilを返す。
func (r *PostgresProfileRepo) FindByUserID(ctx context.Context, userID string) (*model.UserProfile, error) {
	return findProfile(ctx, r.db, userID, false)
}

// findProfile はプロファイルを1件取得する。forUpdateがtrueの場合は行ロックを取得する。
func findProfile(ctx context.Context, q rowQuerier, userID string, forUpdate bool) (*model.UserProfile, error) {
	query := `SELECT user_id, embedding_profile, tfidf_profile, watched_count, updated_at
		 FROM user_profiles WHERE user_id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	p := &model.UserProfile{}
	var embedding, tfidf pq.Float64Array
	err := q.QueryRowContext(ctx, query, userID).Scan(
		&p.UserID, &embedding, &tfidf, &p.WatchedCount, &p.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("プロファイルの取得に失敗しました: %w", err)
	}

	if len(embedding) > 0 {
		p.EmbeddingProfile = []float64(embedding)
	}
	if len(tfidf) > 0 {
		p.TFIDFProfile = []float64(tfidf)
	}
	return p, nil
}

// compile-time interface check
var _ ProfileRepository = (*PostgresProfileRepo)(nil)
