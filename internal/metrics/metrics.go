// Package metrics owns the Prometheus collectors of one engine instance. The
// registry is created per Recorder so several engines (and tests) never share
// global state. A nil *Recorder is valid and records nothing.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "anyrepo"

// Recorder 聚合引擎用到的全部指标。
type Recorder struct {
	registry *prometheus.Registry

	outcomes    *prometheus.CounterVec
	fetches     *prometheus.CounterVec
	fetchTime   *prometheus.HistogramVec
	resolutions *prometheus.CounterVec
	deploys     *prometheus.CounterVec
	lockEntries prometheus.GaugeFunc
}

// New 创建 Recorder 并注册全部采集器。lockEntries 为空时不导出锁表大小。
func New(lockEntries func() int) *Recorder {
	r := &Recorder{registry: prometheus.NewRegistry()}
	r.outcomes = counterVec(r.registry, "remote", "outcomes_total",
		"Remote cache outcomes recorded, by remote and outcome kind.", "remote", "outcome")
	r.fetches = counterVec(r.registry, "remote", "fetches_total",
		"Upstream fetches issued, by remote and HTTP status (0 on transport error).", "remote", "status")
	r.fetchTime = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "remote",
		Name:      "fetch_duration_seconds",
		Help:      "Latency of upstream fetches.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"remote"})
	r.registry.MustRegister(r.fetchTime)
	r.resolutions = counterVec(r.registry, "", "resolutions_total",
		"Resolve calls, by requested repository and result.", "repo", "result")
	r.deploys = counterVec(r.registry, "", "deploys_total",
		"Deploy calls, by repository and result.", "repo", "result")
	if lockEntries != nil {
		r.lockEntries = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "lockvault",
			Name:      "entries",
			Help:      "Lock entries currently retained by the vault.",
		}, func() float64 { return float64(lockEntries()) })
		r.registry.MustRegister(r.lockEntries)
	}
	r.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

func counterVec(reg *prometheus.Registry, subsystem, name, help string, labels ...string) *prometheus.CounterVec {
	m := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	}, labels)
	reg.MustRegister(m)
	return m
}

// Registry 返回实例私有的注册表。
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// Handler 返回 /-/metrics 使用的 HTTP handler。
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// RemoteOutcome 记录一次 Hit/Failed/Missed 状态写入。
func (r *Recorder) RemoteOutcome(remote, outcome string) {
	if r == nil {
		return
	}
	r.outcomes.WithLabelValues(remote, outcome).Inc()
}

// RemoteFetch 记录一次上游请求；status 为 0 表示网络层失败。
func (r *Recorder) RemoteFetch(remote string, status int, elapsed time.Duration) {
	if r == nil {
		return
	}
	r.fetches.WithLabelValues(remote, strconv.Itoa(status)).Inc()
	r.fetchTime.WithLabelValues(remote).Observe(elapsed.Seconds())
}

// Resolution 记录一次 Resolve 的结果分类（hit/remote/not_found/error 等）。
func (r *Recorder) Resolution(repo, result string) {
	if r == nil {
		return
	}
	r.resolutions.WithLabelValues(repo, result).Inc()
}

// Deploy 记录一次部署结果。
func (r *Recorder) Deploy(repo, result string) {
	if r == nil {
		return
	}
	r.deploys.WithLabelValues(repo, result).Inc()
}
