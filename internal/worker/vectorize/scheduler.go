// Package vectorize はベクトル未生成記事のバックグラウンド補完処理を提供する。
// スケジューラとリトライ/バックオフ戦略を含む。
package vectorize

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/newsrec/internal/metrics"
	"github.com/hitoshi/newsrec/internal/model"
)

// ArticleLister はベクトル未生成記事の取得インターフェース。
type ArticleLister interface {
	ListMissingVectors(ctx context.Context, limit int) ([]*model.Article, error)
}

// VectorGenerator は1記事のベクトル生成と保存を行うインターフェース。
// article.Service が実装する。
type VectorGenerator interface {
	GenerateVectors(ctx context.Context, article *model.Article) error
}

// CycleResult は1サイクルの処理結果。
type CycleResult struct {
	Total     int
	Succeeded int
	Failed    int
	Aborted   bool // サービス停止によりサイクルを打ち切った
}

// failed はサイクル全体を失敗とみなすかを返す。
func (r CycleResult) failed() bool {
	return r.Aborted || (r.Succeeded == 0 && r.Failed > 0)
}

// Scheduler はベクトル補完のスケジューリングと並列制御を行う。
// 一定間隔でベクトル未生成の記事を古い順に取得し、
// semaphoreパターンで最大並列数を制御しながら生成を実行する。
type Scheduler struct {
	articles       ArticleLister
	generator      VectorGenerator
	metrics        metrics.MetricsCollector
	logger         *slog.Logger
	maxConcurrency int
	batchSize      int
}

// NewScheduler はSchedulerの新しいインスタンスを生成する。
// maxConcurrencyが0以下の場合は4、batchSizeが0以下の場合は50を使用する。
func NewScheduler(
	articles ArticleLister,
	generator VectorGenerator,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
	maxConcurrency int,
	batchSize int,
) *Scheduler {
	if maxConcurrency <= 0 {
		maxConcurrency = 4
	}
	if batchSize <= 0 {
		batchSize = 50
	}
	return &Scheduler{
		articles:       articles,
		generator:      generator,
		metrics:        collector,
		logger:         logger,
		maxConcurrency: maxConcurrency,
		batchSize:      batchSize,
	}
}

// Start はintervalごとにスケジューラを実行する。
// 失敗サイクルが続く場合は次の実行を指数バックオフで遅らせる。
// コンテキストがキャンセルされるまで実行を継続する。
func (s *Scheduler) Start(ctx context.Context, interval time.Duration) {
	s.logger.Info("ベクトル補完スケジューラを開始しました",
		slog.Duration("interval", interval),
		slog.Int("max_concurrency", s.maxConcurrency),
		slog.Int("batch_size", s.batchSize),
	)

	failedCycles := 0
	for {
		// 起動直後に1回実行
		result, err := s.RunOnce(ctx)
		switch {
		case err != nil:
			s.logger.Error("ベクトル補完サイクルの実行に失敗しました",
				slog.String("error", err.Error()),
			)
			failedCycles++
		case result.failed():
			failedCycles++
		default:
			failedCycles = 0
		}

		delay := NextDelay(interval, failedCycles)
		if failedCycles > 0 {
			s.logger.Warn("ベクトル補完の次回実行を遅延します",
				slog.Int("failed_cycles", failedCycles),
				slog.Duration("delay", delay),
			)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.logger.Info("ベクトル補完スケジューラを停止しました")
			return
		case <-timer.C:
		}
	}
}

// RunOnce はベクトル未生成の記事を1バッチ取得し、並列で生成を実行する。
// サービスが利用できないと判明した時点で残りの記事の処理を打ち切る。
// 個別記事の失敗はエラーとして返さず、CycleResultに集計する。
func (s *Scheduler) RunOnce(ctx context.Context) (CycleResult, error) {
	start := time.Now()

	articles, err := s.articles.ListMissingVectors(ctx, s.batchSize)
	if err != nil {
		return CycleResult{}, err
	}

	if len(articles) == 0 {
		s.logger.Debug("ベクトル未生成の記事はありません")
		return CycleResult{}, nil
	}

	s.logger.Info("ベクトル補完サイクルを開始します",
		slog.Int("article_count", len(articles)),
	)

	cycleCtx, abort := context.WithCancel(ctx)
	defer abort()

	result := CycleResult{Total: len(articles)}
	var mu sync.Mutex

	// semaphoreパターンで並列数を制御
	sem := make(chan struct{}, s.maxConcurrency)
	var wg sync.WaitGroup

loop:
	for _, article := range articles {
		select {
		case sem <- struct{}{}: // semaphore取得
		case <-cycleCtx.Done():
			break loop
		}
		if cycleCtx.Err() != nil {
			<-sem
			break loop
		}

		wg.Add(1)
		go func(a *model.Article) {
			defer wg.Done()
			defer func() { <-sem }() // semaphore解放

			err := s.generator.GenerateVectors(cycleCtx, a)
			outcome := ClassifyError(err)

			mu.Lock()
			defer mu.Unlock()

			switch outcome {
			case OutcomeOK:
				result.Succeeded++
				return
			case OutcomeAbortCycle:
				if !result.Aborted && ctx.Err() == nil {
					s.logger.Warn("ベクトル生成サービスが利用できないためサイクルを打ち切ります",
						slog.String("article_id", a.ID),
						slog.String("error", err.Error()),
					)
				}
				result.Aborted = true
				abort()
			case OutcomePermanent:
				s.logger.Error("ベクトルの次元が設定と一致しません",
					slog.String("article_id", a.ID),
					slog.String("error", err.Error()),
				)
			default:
				s.logger.Error("ベクトル生成に失敗しました",
					slog.String("article_id", a.ID),
					slog.String("error", err.Error()),
				)
			}
			result.Failed++
		}(article)
	}

	wg.Wait()

	s.metrics.RecordVectorsBackfilled(result.Succeeded)

	duration := time.Since(start)
	s.logger.Info("ベクトル補完サイクルが完了しました",
		slog.Int("article_count", result.Total),
		slog.Int("succeeded", result.Succeeded),
		slog.Int("failed", result.Failed),
		slog.Bool("aborted", result.Aborted),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return result, nil
}
