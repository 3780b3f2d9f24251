package vectorize

import (
	"context"
	"errors"
	"time"

	"github.com/hitoshi/newsrec/internal/model"
	"github.com/hitoshi/newsrec/internal/vectorizer"
)

// Outcome はベクトル生成結果の分類。
type Outcome int

const (
	// OutcomeOK は生成成功。
	OutcomeOK Outcome = iota
	// OutcomeRetryLater は一時的な失敗。次のサイクルで再試行する。
	OutcomeRetryLater
	// OutcomePermanent はサービス設定の不整合（次元不一致）。再試行しても解消しない。
	OutcomePermanent
	// OutcomeAbortCycle はサービスが利用できない（ブレーカーが開いている）。
	// 残りの記事を処理せずにサイクルを打ち切る。
	OutcomeAbortCycle
)

const (
	// initialBackoff は失敗サイクル後の指数バックオフの初回遅延（1分）。
	initialBackoff = time.Minute
	// maxBackoff は指数バックオフの最大遅延（1時間）。
	maxBackoff = time.Hour
)

// ClassifyError はベクトル生成のエラーを分類する。
func ClassifyError(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeOK
	case errors.Is(err, vectorizer.ErrUnavailable):
		return OutcomeAbortCycle
	case errors.Is(err, context.Canceled):
		return OutcomeAbortCycle
	case errors.Is(err, model.ErrDimensionMismatch):
		return OutcomePermanent
	default:
		return OutcomeRetryLater
	}
}

// CalculateBackoff は連続失敗サイクル数に基づいて指数バックオフ遅延を計算する。
// 初回1分、2倍ずつ増加、最大1時間。
func CalculateBackoff(consecutiveFailures int) time.Duration {
	delay := initialBackoff
	for i := 0; i < consecutiveFailures; i++ {
		delay *= 2
		if delay > maxBackoff {
			return maxBackoff
		}
	}
	return delay
}

// NextDelay は次のサイクルまでの待ち時間を返す。
// 失敗が続いている間はバックオフ遅延を使うが、通常の間隔より短くはしない。
func NextDelay(interval time.Duration, failedCycles int) time.Duration {
	if failedCycles <= 0 {
		return interval
	}
	if backoff := CalculateBackoff(failedCycles - 1); backoff > interval {
		return backoff
	}
	return interval
}
