// Package vectorizer は外部のベクトル生成サービスのクライアントを提供する。
// 記事本文から埋め込みベクトルとTF-IDFベクトルを取得する。
package vectorizer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/hitoshi/newsrec/internal/metrics"
	"github.com/hitoshi/newsrec/internal/model"
)

// 呼び出し結果（メトリクスのラベル）
const (
	outcomeSuccess  = "success"
	outcomeError    = "error"
	outcomeRejected = "rejected"
	outcomeInvalid  = "invalid"
)

// maxResponseSize はレスポンスボディの最大サイズ（16MB）。
const maxResponseSize = 16 * 1024 * 1024

// ErrUnavailable はサーキットブレーカーが開いており呼び出しを行わなかったことを示す。
var ErrUnavailable = errors.New("vectorizer unavailable")

// Config はクライアントの設定を保持する。
type Config struct {
	Endpoint         string        // サービスのベースURL
	Dimension        int           // 期待するベクトル次元（0の場合は検証しない）
	RatePerSec       float64       // 1秒あたりの最大リクエスト数
	Burst            int           // バースト許容数
	FailureThreshold uint32        // ブレーカーを開く連続失敗回数
	OpenTimeout      time.Duration // ブレーカーが開いてから半開になるまでの時間
}

// Vectors はサービスが返すベクトルの組。
type Vectors struct {
	Embedding []float64 `json:"embedding"`
	TFIDF     []float64 `json:"tfidf"`
}

type generateRequest struct {
	Text string `json:"text"`
}

// Client はベクトル生成サービスのクライアント。
// レート制限とサーキットブレーカーを備え、複数のgoroutineから同時に利用できる。
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	metrics    metrics.MetricsCollector
	endpoint   string
	dimension  int
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker[*Vectors]
}

// NewClient はClientの新しいインスタンスを生成する。
func NewClient(httpClient *http.Client, cfg Config, collector metrics.MetricsCollector, logger *slog.Logger) *Client {
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 5
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}

	c := &Client{
		httpClient: httpClient,
		logger:     logger,
		metrics:    collector,
		endpoint:   strings.TrimRight(cfg.Endpoint, "/") + "/vectors",
		dimension:  cfg.Dimension,
		limiter:    rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.Burst),
	}

	threshold := cfg.FailureThreshold
	c.breaker = gobreaker.NewCircuitBreaker[*Vectors](gobreaker.Settings{
		Name:        "vectorizer",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("サーキットブレーカーの状態が変化しました",
				slog.String("name", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
		},
		// 呼び出し側のキャンセルはサービスの障害として数えない
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	})
	return c
}

// Generate はtextの埋め込みベクトルとTF-IDFベクトルを生成する。
// ブレーカーが開いている場合は ErrUnavailable を、
// 次元が設定と異なる場合は *model.DimensionMismatchError を返す。
func (c *Client) Generate(ctx context.Context, text string) (embedding, tfidf []float64, err error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, nil, fmt.Errorf("レート制限の待機に失敗しました: %w", err)
	}

	start := time.Now()
	vectors, err := c.breaker.Execute(func() (*Vectors, error) {
		return c.call(ctx, text)
	})
	c.metrics.RecordVectorizerLatency(time.Since(start))

	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			c.metrics.RecordVectorizerRequest(outcomeRejected)
			return nil, nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
		}
		if errors.Is(err, model.ErrDimensionMismatch) {
			c.metrics.RecordVectorizerRequest(outcomeInvalid)
		} else {
			c.metrics.RecordVectorizerRequest(outcomeError)
		}
		return nil, nil, err
	}

	c.metrics.RecordVectorizerRequest(outcomeSuccess)
	return vectors.Embedding, vectors.TFIDF, nil
}

// call はサービスを1回呼び出し、レスポンスを検証する。
func (c *Client) call(ctx context.Context, text string) (*Vectors, error) {
	payload, err := json.Marshal(generateRequest{Text: text})
	if err != nil {
		return nil, fmt.Errorf("リクエストのエンコードに失敗しました: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "newsrec/1.0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("ベクトル生成サービスの呼び出しに失敗しました",
			slog.String("error", err.Error()),
		)
		return nil, err
	}
	defer resp.Body.Close()

	c.metrics.RecordHTTPStatus(resp.StatusCode)
	if resp.StatusCode != http.StatusOK {
		c.logger.Error("ベクトル生成サービスがエラーステータスを返しました",
			slog.Int("http_status", resp.StatusCode),
		)
		return nil, fmt.Errorf("ベクトル生成サービスがステータス %d を返しました", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("レスポンスボディの読み取りに失敗しました: %w", err)
	}

	var vectors Vectors
	if err := json.Unmarshal(body, &vectors); err != nil {
		c.logger.Error("ベクトル生成サービスのレスポンスのパースに失敗しました",
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("レスポンスJSONのパースに失敗しました: %w", err)
	}

	if err := c.validate(&vectors); err != nil {
		c.logger.Error("ベクトル生成サービスのレスポンスが不正です",
			slog.String("error", err.Error()),
			slog.Int("embedding_dim", len(vectors.Embedding)),
			slog.Int("tfidf_dim", len(vectors.TFIDF)),
		)
		return nil, err
	}
	return &vectors, nil
}

// validate は両ベクトルが揃っており、設定された次元であることを確認する。
func (c *Client) validate(v *Vectors) error {
	if len(v.Embedding) == 0 || len(v.TFIDF) == 0 {
		return fmt.Errorf("レスポンスにベクトルが含まれていません")
	}
	if c.dimension <= 0 {
		return nil
	}
	if len(v.Embedding) != c.dimension {
		return fmt.Errorf("埋め込みベクトル: %w", &model.DimensionMismatchError{Want: c.dimension, Got: len(v.Embedding)})
	}
	if len(v.TFIDF) != c.dimension {
		return fmt.Errorf("TF-IDFベクトル: %w", &model.DimensionMismatchError{Want: c.dimension, Got: len(v.TFIDF)})
	}
	return nil
}

// State はサーキットブレーカーの現在の状態を返す。
func (c *Client) State() gobreaker.State {
	return c.breaker.State()
}
