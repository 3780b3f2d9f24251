// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// 推薦エンジン、インタラクション記録、ワーカーから利用する。
type MetricsCollector interface {
	RecordRecommendation(kind, pass string, count int)
	RecordRecommendationLatency(kind string, duration time.Duration)
	RecordInteraction(outcome string)
	RecordInteractionRetry()
	RecordProfileUpdate()
	RecordVectorizerRequest(outcome string)
	RecordHTTPStatus(statusCode int)
	RecordVectorizerLatency(duration time.Duration)
	RecordVectorsBackfilled(count int)
	RecordStaleInteractionsDeleted(count int64)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	recommended        *prometheus.CounterVec
	recommendLatency   *prometheus.HistogramVec
	interactions       *prometheus.CounterVec
	interactionRetries prometheus.Counter
	profileUpdates     prometheus.Counter
	vectorizerRequests *prometheus.CounterVec
	httpStatus         *prometheus.CounterVec
	vectorizerLatency  prometheus.Histogram
	vectorsBackfilled  prometheus.Counter
	staleEventsDeleted prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		recommended: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "newsrec_recommended_articles_total",
			Help: "推薦結果に含めた記事数（推薦種別・充填パス別）",
		}, []string{"kind", "pass"}),
		recommendLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "newsrec_recommendation_latency_seconds",
			Help:    "推薦処理のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"kind"}),
		interactions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "newsrec_interactions_total",
			Help: "インタラクション記録の結果別件数",
		}, []string{"outcome"}),
		interactionRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "newsrec_interaction_retries_total",
			Help: "同時更新の競合による再試行回数",
		}),
		profileUpdates: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "newsrec_profile_updates_total",
			Help: "プロファイル更新の適用回数",
		}),
		vectorizerRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "newsrec_vectorizer_requests_total",
			Help: "ベクトル生成サービスへのリクエスト数（結果別）",
		}, []string{"outcome"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "newsrec_vectorizer_http_status_total",
			Help: "ベクトル生成サービスのHTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		vectorizerLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "newsrec_vectorizer_latency_seconds",
			Help:    "ベクトル生成のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		vectorsBackfilled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "newsrec_vectors_backfilled_total",
			Help: "バックフィルでベクトルを生成した記事の合計数",
		}),
		staleEventsDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "newsrec_stale_interactions_deleted_total",
			Help: "削除した未確定インタラクションの合計数",
		}),
	}

	reg.MustRegister(
		c.recommended,
		c.recommendLatency,
		c.interactions,
		c.interactionRetries,
		c.profileUpdates,
		c.vectorizerRequests,
		c.httpStatus,
		c.vectorizerLatency,
		c.vectorsBackfilled,
		c.staleEventsDeleted,
	)

	return c
}

// RecordRecommendation は推薦パスで充填した記事数を記録する。
func (c *Collector) RecordRecommendation(kind, pass string, count int) {
	c.recommended.WithLabelValues(kind, pass).Add(float64(count))
}

// RecordRecommendationLatency は推薦処理のレイテンシを記録する。
func (c *Collector) RecordRecommendationLatency(kind string, duration time.Duration) {
	c.recommendLatency.WithLabelValues(kind).Observe(duration.Seconds())
}

// RecordInteraction はインタラクション記録の結果を記録する。
func (c *Collector) RecordInteraction(outcome string) {
	c.interactions.WithLabelValues(outcome).Inc()
}

// RecordInteractionRetry は競合による再試行を記録する。
func (c *Collector) RecordInteractionRetry() {
	c.interactionRetries.Inc()
}

// RecordProfileUpdate はプロファイル更新の適用を記録する。
func (c *Collector) RecordProfileUpdate() {
	c.profileUpdates.Inc()
}

// RecordVectorizerRequest はベクトル生成リクエストの結果を記録する。
func (c *Collector) RecordVectorizerRequest(outcome string) {
	c.vectorizerRequests.WithLabelValues(outcome).Inc()
}

// RecordHTTPStatus はベクトル生成サービスのHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordVectorizerLatency はベクトル生成のレイテンシを記録する。
func (c *Collector) RecordVectorizerLatency(duration time.Duration) {
	c.vectorizerLatency.Observe(duration.Seconds())
}

// RecordVectorsBackfilled はバックフィルした記事数を記録する。
func (c *Collector) RecordVectorsBackfilled(count int) {
	c.vectorsBackfilled.Add(float64(count))
}

// RecordStaleInteractionsDeleted は削除した未確定インタラクション数を記録する。
func (c *Collector) RecordStaleInteractionsDeleted(count int64) {
	c.staleEventsDeleted.Add(float64(count))
}

// NopCollector は何も記録しないMetricsCollector。
// CLIの単発コマンドやテストで使用する。
type NopCollector struct{}

func (NopCollector) RecordRecommendation(string, string, int) {}
func (NopCollector) RecordRecommendationLatency(string, time.Duration) {}
func (NopCollector) RecordInteraction(string) {}
func (NopCollector) RecordInteractionRetry() {}
func (NopCollector) RecordProfileUpdate() {}
func (NopCollector) RecordVectorizerRequest(string) {}
func (NopCollector) RecordHTTPStatus(int) {}
func (NopCollector) RecordVectorizerLatency(time.Duration) {}
func (NopCollector) RecordVectorsBackfilled(int) {}
func (NopCollector) RecordStaleInteractionsDeleted(int64) {}

// compile-time interface check
var _ MetricsCollector = (*Collector)(nil)
var _ MetricsCollector = NopCollector{}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
