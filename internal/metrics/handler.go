package metrics

import (
	"encoding/json"
	"math"
	"net/http"
	"sort"
	"time"

	dto "github.com/prometheus/client_model/go"
)

// Summary is the JSON digest served at /metrics/summary.
type Summary struct {
	HTTP     httpSummary     `json:"http"`
	Gateway  gatewaySummary  `json:"gateway"`
	Tools    toolsSummary    `json:"tools"`
	Upstream upstreamSummary `json:"upstream"`
	Auth     authInfo        `json:"auth"`
	Metering meteringInfo    `json:"metering"`
	DB       dbInfo          `json:"db"`
	Server   serverInfo      `json:"server"`
}

type httpSummary struct {
	TotalRequests float64 `json:"totalRequests"`
	ErrorRate     float64 `json:"errorRate"`
	P50Latency    float64 `json:"p50Latency"`
	P95Latency    float64 `json:"p95Latency"`
	P99Latency    float64 `json:"p99Latency"`
}

type gatewaySummary struct {
	Requests        float64 `json:"requests"`
	AvgTools        float64 `json:"avgTools"`
	DuplicateTools  float64 `json:"duplicateTools"`
	ConfigLoadFails float64 `json:"configLoadFailures"`
}

type toolsSummary struct {
	Invocations        float64 `json:"invocations"`
	Active             float64 `json:"active"`
	OK                 float64 `json:"ok"`
	MissingCredentials float64 `json:"missingCredentials"`
	UpstreamErrors     float64 `json:"upstreamErrors"`
	CallFailures       float64 `json:"callFailures"`
}

type upstreamSummary struct {
	P50Latency float64            `json:"p50Latency"`
	P95Latency float64            `json:"p95Latency"`
	Errors     map[string]float64 `json:"errors"`
}

type authInfo struct {
	Failures map[string]float64 `json:"failures"`
}

type meteringInfo struct {
	BufferSize float64 `json:"bufferSize"`
}

type dbInfo struct {
	TotalConns    float64 `json:"totalConns"`
	IdleConns     float64 `json:"idleConns"`
	AcquiredConns float64 `json:"acquiredConns"`
}

type serverInfo struct {
	StartTime     float64 `json:"startTime"`
	UptimeSeconds float64 `json:"uptimeSeconds"`
}

// SummaryHandler serves a JSON digest of the registry's current values.
func (m *Metrics) SummaryHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		summary, err := m.Summarize()
		if err != nil {
			http.Error(w, "failed to gather metrics", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-cache, no-store")
		_ = json.NewEncoder(w).Encode(summary)
	}
}

// Summarize gathers the registry and reduces it to a Summary.
func (m *Metrics) Summarize() (*Summary, error) {
	families, err := m.registry.Gather()
	if err != nil {
		return nil, err
	}

	fam := make(map[string]*dto.MetricFamily, len(families))
	for _, f := range families {
		fam[f.GetName()] = f
	}

	httpReqs := fam["indexgate_http_requests_total"]
	httpDur := fam["indexgate_http_request_duration_seconds"]
	invocations := fam["indexgate_tool_invocations_total"]
	registered := fam["indexgate_tools_registered"]
	upstreamDur := fam["indexgate_upstream_duration_seconds"]
	startTime := gaugeValue(fam["indexgate_server_start_time_seconds"])

	s := &Summary{
		HTTP: httpSummary{
			TotalRequests: sumCounter(httpReqs, nil),
			ErrorRate:     errorRate(httpReqs),
			P50Latency:    histogramPercentile(httpDur, 0.50, nil),
			P95Latency:    histogramPercentile(httpDur, 0.95, nil),
			P99Latency:    histogramPercentile(httpDur, 0.99, nil),
		},
		Gateway: gatewaySummary{
			Requests:        histogramCount(registered),
			AvgTools:        histogramMean(registered),
			DuplicateTools:  counterValue(fam["indexgate_duplicate_tools_total"]),
			ConfigLoadFails: counterValue(fam["indexgate_tool_config_load_errors_total"]),
		},
		Tools: toolsSummary{
			Invocations:        sumCounter(invocations, nil),
			Active:             gaugeValue(fam["indexgate_active_invocations"]),
			OK:                 sumCounter(invocations, withLabel("outcome", "ok")),
			MissingCredentials: sumCounter(invocations, withLabel("outcome", "missing_credentials")),
			UpstreamErrors:     sumCounter(invocations, withLabel("outcome", "upstream_error")),
			CallFailures:       sumCounter(invocations, withLabel("outcome", "call_failed")),
		},
		Upstream: upstreamSummary{
			P50Latency: histogramPercentile(upstreamDur, 0.50, nil),
			P95Latency: histogramPercentile(upstreamDur, 0.95, nil),
			Errors:     countersByLabel(fam["indexgate_upstream_errors_total"], "error_type"),
		},
		Auth: authInfo{
			Failures: countersByLabel(fam["indexgate_auth_failures_total"], "reason"),
		},
		Metering: meteringInfo{
			BufferSize: gaugeValue(fam["indexgate_metering_buffer_size"]),
		},
		DB: dbInfo{
			TotalConns:    sumGauge(fam["indexgate_db_pool_conns"], withLabel("state", "total")),
			IdleConns:     sumGauge(fam["indexgate_db_pool_conns"], withLabel("state", "idle")),
			AcquiredConns: sumGauge(fam["indexgate_db_pool_conns"], withLabel("state", "acquired")),
		},
		Server: serverInfo{
			StartTime:     startTime,
			UptimeSeconds: float64(time.Now().Unix()) - startTime,
		},
	}
	return s, nil
}

// --- Prometheus metric helpers ---

type metricFilter func(*dto.Metric) bool

func withLabel(name, value string) metricFilter {
	return func(m *dto.Metric) bool {
		for _, lp := range m.GetLabel() {
			if lp.GetName() == name && lp.GetValue() == value {
				return true
			}
		}
		return false
	}
}

func labelValue(m *dto.Metric, name string) string {
	for _, lp := range m.GetLabel() {
		if lp.GetName() == name {
			return lp.GetValue()
		}
	}
	return ""
}

func sumCounter(f *dto.MetricFamily, match metricFilter) float64 {
	if f == nil {
		return 0
	}
	var total float64
	for _, m := range f.GetMetric() {
		if (match == nil || match(m)) && m.GetCounter() != nil {
			total += m.GetCounter().GetValue()
		}
	}
	return total
}

func sumGauge(f *dto.MetricFamily, match metricFilter) float64 {
	if f == nil {
		return 0
	}
	var total float64
	for _, m := range f.GetMetric() {
		if (match == nil || match(m)) && m.GetGauge() != nil {
			total += m.GetGauge().GetValue()
		}
	}
	return total
}

func gaugeValue(f *dto.MetricFamily) float64 {
	if f == nil || len(f.GetMetric()) == 0 {
		return 0
	}
	return f.GetMetric()[0].GetGauge().GetValue()
}

func counterValue(f *dto.MetricFamily) float64 {
	if f == nil || len(f.GetMetric()) == 0 {
		return 0
	}
	return f.GetMetric()[0].GetCounter().GetValue()
}

func countersByLabel(f *dto.MetricFamily, label string) map[string]float64 {
	out := map[string]float64{}
	if f == nil {
		return out
	}
	for _, m := range f.GetMetric() {
		if m.GetCounter() != nil {
			out[labelValue(m, label)] += m.GetCounter().GetValue()
		}
	}
	return out
}

// errorRate is the share of requests answered with a 5xx status.
func errorRate(f *dto.MetricFamily) float64 {
	if f == nil {
		return 0
	}
	var total, failed float64
	for _, m := range f.GetMetric() {
		v := m.GetCounter().GetValue()
		total += v
		if code := labelValue(m, "status_code"); len(code) > 0 && code[0] == '5' {
			failed += v
		}
	}
	if total == 0 {
		return 0
	}
	return failed / total
}

func histogramCount(f *dto.MetricFamily) float64 {
	if f == nil {
		return 0
	}
	var n uint64
	for _, m := range f.GetMetric() {
		n += m.GetHistogram().GetSampleCount()
	}
	return float64(n)
}

func histogramMean(f *dto.MetricFamily) float64 {
	if f == nil {
		return 0
	}
	var n uint64
	var sum float64
	for _, m := range f.GetMetric() {
		n += m.GetHistogram().GetSampleCount()
		sum += m.GetHistogram().GetSampleSum()
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// histogramPercentile computes a percentile from the aggregated buckets of
// the matching series using linear interpolation.
func histogramPercentile(f *dto.MetricFamily, q float64, match metricFilter) float64 {
	if f == nil {
		return 0
	}

	type bucket struct {
		upperBound      float64
		cumulativeCount uint64
	}
	var totalCount uint64
	bucketMap := make(map[float64]uint64)

	for _, m := range f.GetMetric() {
		if match != nil && !match(m) {
			continue
		}
		h := m.GetHistogram()
		if h == nil {
			continue
		}
		totalCount += h.GetSampleCount()
		for _, b := range h.GetBucket() {
			bucketMap[b.GetUpperBound()] += b.GetCumulativeCount()
		}
	}
	if totalCount == 0 {
		return 0
	}

	buckets := make([]bucket, 0, len(bucketMap))
	for ub, count := range bucketMap {
		buckets = append(buckets, bucket{upperBound: ub, cumulativeCount: count})
	}
	sort.Slice(buckets, func(i, j int) bool {
		return buckets[i].upperBound < buckets[j].upperBound
	})

	rank := q * float64(totalCount)

	var prevBound float64
	var prevCount uint64
	for _, b := range buckets {
		if math.IsInf(b.upperBound, 1) {
			break
		}
		if float64(b.cumulativeCount) >= rank {
			bucketCount := b.cumulativeCount - prevCount
			if bucketCount == 0 {
				return b.upperBound
			}
			fraction := (rank - float64(prevCount)) / float64(bucketCount)
			return prevBound + fraction*(b.upperBound-prevBound)
		}
		prevBound = b.upperBound
		prevCount = b.cumulativeCount
	}

	// Rank falls in the +Inf bucket: report the last finite bound.
	for i := len(buckets) - 1; i >= 0; i-- {
		if !math.IsInf(buckets[i].upperBound, 1) {
			return buckets[i].upperBound
		}
	}
	return 0
}
