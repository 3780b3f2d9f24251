// Package interaction はユーザーの記事閲覧イベントの記録を提供する。
package interaction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hitoshi/newsrec/internal/metrics"
	"github.com/hitoshi/newsrec/internal/model"
	"github.com/hitoshi/newsrec/internal/repository"
)

// 記録結果（メトリクスのラベル）
const (
	outcomeCreated   = "created"
	outcomeUpdated   = "updated"
	outcomeFinalized = "finalized"
	outcomeInvalid   = "invalid"
	outcomeConflict  = "conflict"
	outcomeError     = "error"
)

// ProfileUpdater はプロファイル集約のインターフェース。
// recommend.Aggregator が実装する。
type ProfileUpdater interface {
	Update(profile *model.UserProfile, article *model.Article, timeSpent int64) (applied bool, err error)
}

// RecordInput はインタラクション記録の入力。
type RecordInput struct {
	UserID    string
	ArticleID string
	SessionID string
	TimeSpent int64 // 閲覧秒数（0以上）
	// FinalUpdate はセッション終了時の確定送信であることを示す。
	FinalUpdate bool
}

// RecorderConfig は競合時の再試行設定を保持する。
type RecorderConfig struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultRecorderConfig はデフォルトの再試行設定を返す。
func DefaultRecorderConfig() RecorderConfig {
	return RecorderConfig{
		MaxAttempts:    3,
		InitialBackoff: 20 * time.Millisecond,
		MaxBackoff:     500 * time.Millisecond,
	}
}

// Recorder は (user, article, session) 単位の閲覧イベントを記録する。
// イベントが今回新規に作成され、かつ確定（clicked）である場合に限り、
// 記事のメトリクス加算とプロファイル更新を同じトランザクション内で一度だけ適用する。
type Recorder struct {
	runner     repository.InteractionTxRunner
	aggregator ProfileUpdater
	metrics    metrics.MetricsCollector
	logger     *slog.Logger
	cfg        RecorderConfig
	sleep      func(ctx context.Context, d time.Duration) error
}

// NewRecorder は新しいRecorderを生成する。
func NewRecorder(
	runner repository.InteractionTxRunner,
	aggregator ProfileUpdater,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
	cfg RecorderConfig,
) *Recorder {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	return &Recorder{
		runner:     runner,
		aggregator: aggregator,
		metrics:    collector,
		logger:     logger,
		cfg:        cfg,
		sleep:      sleepContext,
	}
}

// Record はインタラクションを記録し、保存後のイベントを返す。
// 同時更新の競合は設定回数まで再試行し、それでも解消しない場合は
// INTERACTION_CONFLICT（model.ErrConcurrentUpdateConflict をラップ）を返す。
func (r *Recorder) Record(ctx context.Context, in RecordInput) (*model.InteractionEvent, error) {
	if err := validate(in); err != nil {
		r.metrics.RecordInteraction(outcomeInvalid)
		return nil, err
	}

	for attempt := 1; ; attempt++ {
		res, err := r.recordOnce(ctx, in)
		if err == nil {
			r.recordOutcome(res)
			return res.event, nil
		}

		if !errors.Is(err, model.ErrConcurrentUpdateConflict) {
			r.metrics.RecordInteraction(outcomeError)
			return nil, err
		}
		if attempt >= r.cfg.MaxAttempts {
			r.metrics.RecordInteraction(outcomeConflict)
			r.logger.Error("interaction conflict not resolved",
				slog.String("user_id", in.UserID),
				slog.String("article_id", in.ArticleID),
				slog.Int("attempts", attempt),
				slog.String("error", err.Error()),
			)
			return nil, model.NewInteractionConflictError(attempt, err)
		}

		delay := backoff(r.cfg, attempt)
		r.metrics.RecordInteractionRetry()
		r.logger.Warn("interaction conflict, retrying",
			slog.String("user_id", in.UserID),
			slog.String("article_id", in.ArticleID),
			slog.Int("attempt", attempt),
			slog.Duration("delay", delay),
		)
		if err := r.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
}

// recordResult は1回分の記録結果。
type recordResult struct {
	event   *model.InteractionEvent
	created bool

	// finalized はメトリクスとプロファイルの更新を適用した場合にtrueとなる。
	finalized      bool
	profileUpdated bool
}

// recordOnce は1回分のトランザクションを実行する。
func (r *Recorder) recordOnce(ctx context.Context, in RecordInput) (recordResult, error) {
	var res recordResult

	err := r.runner.WithinInteractionTx(ctx, func(tx repository.InteractionTx) error {
		article, err := tx.FindArticle(ctx, in.ArticleID)
		if err != nil {
			return err
		}
		if article == nil {
			return model.NewArticleNotFoundError(in.ArticleID)
		}

		event, created, err := tx.GetOrCreateEvent(ctx, in.UserID, in.ArticleID, in.SessionID)
		if err != nil {
			return err
		}
		event.TimeSpent = in.TimeSpent
		event.Clicked = in.FinalUpdate

		res = recordResult{created: created}
		if created && event.Clicked {
			updated, err := r.applyFinalization(ctx, tx, article, in)
			if err != nil {
				return err
			}
			res.finalized = true
			res.profileUpdated = updated
		}

		if err := tx.SaveEvent(ctx, event); err != nil {
			return err
		}
		res.event = event
		return nil
	})
	if err != nil {
		return recordResult{}, err
	}
	return res, nil
}

// applyFinalization は記事メトリクスの加算とプロファイル更新をこの順で適用する。
// プロファイルを書き換えた場合にtrueを返す。
func (r *Recorder) applyFinalization(ctx context.Context, tx repository.InteractionTx, article *model.Article, in RecordInput) (bool, error) {
	if err := tx.IncrementArticleMetrics(ctx, article.ID, 1, in.TimeSpent); err != nil {
		return false, err
	}

	profile, err := tx.GetOrCreateProfileForUpdate(ctx, in.UserID)
	if err != nil {
		return false, err
	}
	applied, err := r.aggregator.Update(profile, article, in.TimeSpent)
	if err != nil {
		return false, fmt.Errorf("failed to update profile of user %s: %w", in.UserID, err)
	}
	if !applied {
		r.logger.Info("article has no vectors, profile left unchanged",
			slog.String("user_id", in.UserID),
			slog.String("article_id", article.ID),
		)
		return false, nil
	}
	if err := tx.SaveProfile(ctx, profile); err != nil {
		return false, err
	}
	return true, nil
}

func (r *Recorder) recordOutcome(res recordResult) {
	switch {
	case res.finalized:
		r.metrics.RecordInteraction(outcomeFinalized)
		if res.profileUpdated {
			r.metrics.RecordProfileUpdate()
		}
	case res.created:
		r.metrics.RecordInteraction(outcomeCreated)
	default:
		r.metrics.RecordInteraction(outcomeUpdated)
	}
}

// validate は入力を検証する。
func validate(in RecordInput) error {
	switch {
	case strings.TrimSpace(in.UserID) == "":
		return model.NewInvalidInteractionError("user id is empty")
	case strings.TrimSpace(in.ArticleID) == "":
		return model.NewInvalidInteractionError("article id is empty")
	case strings.TrimSpace(in.SessionID) == "":
		return model.NewInvalidInteractionError("session id is empty")
	case in.TimeSpent < 0:
		return model.NewInvalidInteractionError(fmt.Sprintf("time spent is negative: %d", in.TimeSpent))
	}
	return nil
}

// backoff はattempt回目の失敗後の待ち時間を返す。初回InitialBackoff、2倍ずつ増加、最大MaxBackoff。
func backoff(cfg RecorderConfig, attempt int) time.Duration {
	delay := cfg.InitialBackoff
	for i := 1; i < attempt; i++ {
		delay *= 2
		if cfg.MaxBackoff > 0 && delay > cfg.MaxBackoff {
			return cfg.MaxBackoff
		}
	}
	return delay
}

// sleepContext はdだけ待つ。ctxがキャンセルされた場合はその時点で戻る。
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
