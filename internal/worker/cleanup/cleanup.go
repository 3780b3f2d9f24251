// Package cleanup は未確定インタラクションの自動削除ジョブを提供する。
// 確定（clicked=true）されないまま保持期間（デフォルト30日）を超えたイベントを
// 定期バッチで削除する。確定済みイベントは推薦の除外判定に使うため削除しない。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/newsrec/internal/metrics"
)

// StaleInteractionDeleter は未確定インタラクションの削除インターフェース。
// repository.InteractionRepository が実装する。
type StaleInteractionDeleter interface {
	DeleteStaleUnclicked(ctx context.Context, olderThan time.Time) (int64, error)
}

// CleanupJob は保持期間を超過した未確定インタラクションの自動削除ジョブ。
// 冪等な削除処理を保証する。
type CleanupJob struct {
	interactions  StaleInteractionDeleter
	metrics       metrics.MetricsCollector
	logger        *slog.Logger
	now           func() time.Time
	RetentionDays int // 未確定イベントの保持日数（デフォルト: 30）
}

// NewCleanupJob は新しいCleanupJobを生成する。
// retentionDaysが0以下の場合は30日とする。
func NewCleanupJob(
	interactions StaleInteractionDeleter,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
	retentionDays int,
) *CleanupJob {
	if retentionDays <= 0 {
		retentionDays = 30
	}
	return &CleanupJob{
		interactions:  interactions,
		metrics:       collector,
		logger:        logger,
		now:           time.Now,
		RetentionDays: retentionDays,
	}
}

// Start は起動直後に1回、以降intervalごとにRunを実行する。
// コンテキストがキャンセルされるまで実行を継続する。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	if err := j.Run(ctx); err != nil {
		j.logger.Error("cleanup job failed", slog.String("error", err.Error()))
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := j.Run(ctx); err != nil {
				j.logger.Error("cleanup job failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Run はupdated_atがRetentionDays日前より古い未確定イベントを削除する。
// 冪等: 削除対象がない場合でもエラーにならない。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()
	olderThan := j.now().AddDate(0, 0, -j.RetentionDays)

	deletedCount, err := j.interactions.DeleteStaleUnclicked(ctx, olderThan)
	if err != nil {
		j.logger.Error("インタラクションクリーンアップジョブの実行に失敗しました",
			slog.String("error", err.Error()),
			slog.Int("retention_days", j.RetentionDays),
		)
		return fmt.Errorf("インタラクションクリーンアップの実行に失敗: %w", err)
	}
	j.metrics.RecordStaleInteractionsDeleted(deletedCount)

	duration := time.Since(start)
	j.logger.Info("インタラクションクリーンアップジョブが完了しました",
		slog.Int64("deleted_count", deletedCount),
		slog.Int("retention_days", j.RetentionDays),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return nil
}
