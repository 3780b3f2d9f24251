package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/hitoshi/newsrec/internal/model"
)

// articleColumns はarticlesテーブルの取得列。scanArticleの順序と一致させる。
const articleColumns = `a.id, a.title, a.text, a.labels, a.views, a.time_spent_on,
		        a.embedding_vector, a.tfidf_vector, a.created_at, a.updated_at`

// rowQuerier は*sql.DBと*sql.Txの共通部分（単一行取得）。
type rowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// rowScanner は*sql.Rowと*sql.Rowsの共通部分。
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// PostgresArticleRepo はPostgreSQLを使用した記事リポジトリ。
type PostgresArticleRepo struct {
	db *sql.DB
}

// NewPostgresArticleRepo はPostgresArticleRepoを生成する。
func NewPostgresArticleRepo(db *sql.DB) *PostgresArticleRepo {
	return &PostgresArticleRepo{db: db}
}

// FindByID は指定IDの記事を取得する。見つからない場合はnilを返す。
func (r *PostgresArticleRepo) FindByID(ctx context.Context, id string) (*model.Article, error) {
	return findArticle(ctx, r.db, id)
}

// findArticle はdbまたはtxから記事を1件取得する。
func findArticle(ctx context.Context, q rowQuerier, id string) (*model.Article, error) {
	article, err := scanArticle(q.QueryRowContext(ctx,
		`SELECT `+articleColumns+` FROM articles a WHERE a.id = $1`,
		id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("記事の取得に失敗しました: %w", err)
	}
	return article, nil
}

// Create は新規記事を作成する。作成日時・更新日時が未設定の場合は現在時刻を使う。
func (r *PostgresArticleRepo) Create(ctx context.Context, article *model.Article) error {
	now := time.Now().UTC()
	if article.CreatedAt.IsZero() {
		article.CreatedAt = now
	}
	if article.UpdatedAt.IsZero() {
		article.UpdatedAt = now
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO articles (id, title, text, labels, views, time_spent_on,
		                       embedding_vector, tfidf_vector, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		article.ID, article.Title, article.Text, labelsArray(article.Labels),
		article.Views, article.TimeSpentOn,
		float64Array(article.EmbeddingVector), float64Array(article.TFIDFVector),
		article.CreatedAt, article.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("記事の作成に失敗しました: %w", err)
	}
	return nil
}

// Update は記事の本文・ラベル・ベクトルを上書き更新する。
// 本文が保存済みの値と同じ場合はベクトル列を書き換えない。
// views と time_spent_on はIncrementMetricsでのみ変更するため、ここでは書き込まない。
func (r *PostgresArticleRepo) Update(ctx context.Context, article *model.Article) error {
	// SET句の右辺の列参照は更新前の値を指す
	result, err := r.db.ExecContext(ctx,
		`UPDATE articles SET
		    title = $2, text = $3, labels = $4,
		    embedding_vector = CASE WHEN text = $3 THEN embedding_vector ELSE $5 END,
		    tfidf_vector = CASE WHEN text = $3 THEN tfidf_vector ELSE $6 END,
		    updated_at = $7
		 WHERE id = $1`,
		article.ID, article.Title, article.Text, labelsArray(article.Labels),
		float64Array(article.EmbeddingVector), float64Array(article.TFIDFVector),
		article.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("記事の更新に失敗しました: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("更新件数の取得に失敗しました: %w", err)
	}
	if affected == 0 {
		return model.NewArticleNotFoundError(article.ID)
	}
	return nil
}

// UpdateVectors はsourceTextから生成したベクトルを保存する。
// 本文が変わっている、またはベクトルが生成済みの場合は書き込まずにfalseを返す。
func (r *PostgresArticleRepo) UpdateVectors(ctx context.Context, id, sourceText string, embedding, tfidf []float64) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE articles SET embedding_vector = $2, tfidf_vector = $3, updated_at = now()
		 WHERE id = $1 AND text = $4
		   AND (embedding_vector IS NULL OR tfidf_vector IS NULL)`,
		id, float64Array(embedding), float64Array(tfidf), sourceText,
	)
	if err != nil {
		return false, fmt.Errorf("記事ベクトルの保存に失敗しました: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("更新件数の取得に失敗しました: %w", err)
	}
	if affected > 0 {
		return true, nil
	}

	var exists bool
	if err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM articles WHERE id = $1)`, id,
	).Scan(&exists); err != nil {
		return false, fmt.Errorf("記事の存在確認に失敗しました: %w", err)
	}
	if !exists {
		return false, model.NewArticleNotFoundError(id)
	}
	return false, nil
}

// IncrementMetrics は views と time_spent_on を差分で原子的に加算する。
func (r *PostgresArticleRepo) IncrementMetrics(ctx context.Context, id string, views, timeSpent int64) error {
	return incrementArticleMetrics(ctx, r.db, id, views, timeSpent)
}

// incrementArticleMetrics は保存値を基準としたUPDATEで加算する。
// 同時に実行されても加算が失われない。
func incrementArticleMetrics(ctx context.Context, exec Executor, id string, views, timeSpent int64) error {
	result, err := exec.ExecContext(ctx,
		`UPDATE articles SET
		    views = views + $2,
		    time_spent_on = time_spent_on + $3
		 WHERE id = $1`,
		id, views, timeSpent,
	)
	if err != nil {
		return fmt.Errorf("記事メトリクスの加算に失敗しました: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("更新件数の取得に失敗しました: %w", err)
	}
	if affected == 0 {
		return model.NewArticleNotFoundError(id)
	}
	return nil
}

// ListActive はアクティブ記事をfilterで絞り込んで返す。
// 並び順は views降順、created_at降順、id昇順。
func (r *PostgresArticleRepo) ListActive(ctx context.Context, filter model.ActiveFilter) ([]*model.Article, error) {
	var conds []string
	var args []interface{}
	argIndex := 1

	if !filter.Since.IsZero() {
		conds = append(conds, fmt.Sprintf("a.created_at >= $%d", argIndex))
		args = append(args, filter.Since)
		argIndex++
	}
	if filter.RequireEmbedding {
		conds = append(conds, "a.embedding_vector IS NOT NULL")
	}
	if filter.ExcludeID != "" {
		conds = append(conds, fmt.Sprintf("a.id <> $%d", argIndex))
		args = append(args, filter.ExcludeID)
		argIndex++
	}
	if filter.ExcludeInteractedBy != "" {
		conds = append(conds, fmt.Sprintf(
			"NOT EXISTS (SELECT 1 FROM interaction_events e WHERE e.article_id = a.id AND e.user_id = $%d)",
			argIndex,
		))
		args = append(args, filter.ExcludeInteractedBy)
		argIndex++
	}

	query := `SELECT ` + articleColumns + ` FROM articles a`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY a.views DESC, a.created_at DESC, a.id ASC"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("アクティブ記事の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	return scanArticles(rows)
}

// ListMissingVectors はベクトル未生成の記事を古い順に最大limit件返す。
func (r *PostgresArticleRepo) ListMissingVectors(ctx context.Context, limit int) ([]*model.Article, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+articleColumns+`
		 FROM articles a
		 WHERE a.embedding_vector IS NULL OR a.tfidf_vector IS NULL
		 ORDER BY a.created_at ASC, a.id ASC
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("ベクトル未生成記事の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	return scanArticles(rows)
}

// scanArticle は1行をArticleに読み込む。
func scanArticle(row rowScanner) (*model.Article, error) {
	a := &model.Article{}
	var labels pq.StringArray
	var embedding, tfidf pq.Float64Array
	var createdAt, updatedAt time.Time

	if err := row.Scan(
		&a.ID, &a.Title, &a.Text, &labels, &a.Views, &a.TimeSpentOn,
		&embedding, &tfidf, &createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}

	a.Labels = []string(labels)
	if len(embedding) > 0 {
		a.EmbeddingVector = []float64(embedding)
	}
	if len(tfidf) > 0 {
		a.TFIDFVector = []float64(tfidf)
	}
	a.CreatedAt = createdAt
	a.UpdatedAt = updatedAt
	return a, nil
}

// scanArticles は複数行を読み込む。
func scanArticles(rows *sql.Rows) ([]*model.Article, error) {
	var articles []*model.Article
	for rows.Next() {
		a, err := scanArticle(rows)
		if err != nil {
			return nil, fmt.Errorf("記事行の読み取りに失敗しました: %w", err)
		}
		articles = append(articles, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("記事一覧の走査に失敗しました: %w", err)
	}
	return articles, nil
}

// float64Array は未生成（nil）のベクトルをNULLとして書き込む。
func float64Array(v []float64) interface{} {
	if len(v) == 0 {
		return nil
	}
	return pq.Float64Array(v)
}

// labelsArray はNOT NULL列のためnilを空配列に変換する。
func labelsArray(labels []string) pq.StringArray {
	if labels == nil {
		return pq.StringArray{}
	}
	return pq.StringArray(labels)
}

// compile-time interface check
var _ ArticleRepository = (*PostgresArticleRepo)(nil)
