// Package handler は運用HTTPサーバー（ヘルスチェックとメトリクス）のルーティングを提供する。
package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/newsrec/internal/metrics"
	"github.com/hitoshi/newsrec/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Logger   *slog.Logger
	Gatherer prometheus.Gatherer

	// ヘルスチェック
	Database     Pinger
	BreakerState func() string // nilの場合は報告しない
}

// NewRouter は運用エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → Logging → Recovery
//
// /metrics はスクレイプ頻度が高いためアクセスログから除外する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(middleware.NewLoggingMiddleware(deps.Logger, "/metrics"))
	r.Use(middleware.NewRecoveryMiddleware(deps.Logger))

	health := NewHealthHandler(deps.Database, deps.BreakerState, deps.Logger)
	r.Get("/health", health.Check)
	r.Method(http.MethodGet, "/metrics", metrics.Handler(deps.Gatherer))

	return r
}
