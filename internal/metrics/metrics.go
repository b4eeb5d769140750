// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector はリコンシリエーションとハンドシェイクのメトリクスを収集する。
// poll.Recorderインターフェースを実装する。
type Collector struct {
	cycles          prometheus.Counter
	cycleDuration   prometheus.Histogram
	sessionsPolled  prometheus.Counter
	sessionsSkipped *prometheus.CounterVec
	transitions     *prometheus.CounterVec
	notifyFailures  prometheus.Counter
	linksStarted    prometheus.Counter
	linksCompleted  *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		cycles: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "contractwatch_poll_cycles_total",
			Help: "リコンシリエーションサイクルの実行回数",
		}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "contractwatch_poll_cycle_duration_seconds",
			Help:    "リコンシリエーションサイクルの所要時間（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		sessionsPolled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "contractwatch_sessions_polled_total",
			Help: "ポーリングに成功したセッションの合計数",
		}),
		sessionsSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "contractwatch_sessions_skipped_total",
			Help: "サイクル内でスキップされたセッションの理由別合計数",
		}, []string{"reason"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "contractwatch_transitions_total",
			Help: "検出されたステータス遷移の種別別合計数",
		}, []string{"kind"}),
		notifyFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "contractwatch_notify_failures_total",
			Help: "通知配送失敗の合計数",
		}),
		linksStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "contractwatch_links_started_total",
			Help: "開始されたリンクハンドシェイクの合計数",
		}),
		linksCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "contractwatch_links_completed_total",
			Help: "完了したリンクハンドシェイクの結果別合計数",
		}, []string{"result"}),
	}

	reg.MustRegister(
		c.cycles,
		c.cycleDuration,
		c.sessionsPolled,
		c.sessionsSkipped,
		c.transitions,
		c.notifyFailures,
		c.linksStarted,
		c.linksCompleted,
	)

	return c
}

// RecordCycle はサイクルの完了を記録する。
func (c *Collector) RecordCycle(duration time.Duration) {
	c.cycles.Inc()
	c.cycleDuration.Observe(duration.Seconds())
}

// RecordSessionPolled はセッションのポーリング成功を記録する。
func (c *Collector) RecordSessionPolled() {
	c.sessionsPolled.Inc()
}

// RecordSessionSkipped はセッションのスキップを理由付きで記録する。
func (c *Collector) RecordSessionSkipped(reason string) {
	c.sessionsSkipped.WithLabelValues(reason).Inc()
}

// RecordTransition はステータス遷移の検出を記録する。
func (c *Collector) RecordTransition(kind string) {
	c.transitions.WithLabelValues(kind).Inc()
}

// RecordNotifyFailure は通知配送の失敗を記録する。
func (c *Collector) RecordNotifyFailure() {
	c.notifyFailures.Inc()
}

// RecordLinkStarted はリンクハンドシェイクの開始を記録する。
func (c *Collector) RecordLinkStarted() {
	c.linksStarted.Inc()
}

// RecordLinkCompleted はリンクハンドシェイクの完了を結果付きで記録する。
// resultは"success"またはLinkErrorのコード。
func (c *Collector) RecordLinkCompleted(result string) {
	c.linksCompleted.WithLabelValues(result).Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
