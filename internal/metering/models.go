package metering

import "time"

// Invocation records one tool call proxied to the upstream retrieval API.
type Invocation struct {
	ID           int64     `json:"id"`
	UserID       string    `json:"user_id"`
	ToolName     string    `json:"tool_name"`
	IndexID      string    `json:"index_id"`
	Outcome      string    `json:"outcome"`
	StatusCode   int       `json:"status_code"` // 0 when no upstream response
	LatencyMs    int64     `json:"latency_ms"`
	ResponseSize int64     `json:"response_size"`
	Timestamp    time.Time `json:"timestamp"`
	Error        string    `json:"error,omitempty"`
}

// UsageSummary holds aggregate counts for a set of invocations.
type UsageSummary struct {
	TotalCalls   int64       `json:"total_calls"`
	OKCount      int64       `json:"ok_count"`
	ErrorCount   int64       `json:"error_count"`
	AvgLatencyMs float64     `json:"avg_latency_ms"`
	Tools        []ToolUsage `json:"tools"`
}

// ToolUsage is the per-tool breakdown of a UsageSummary.
type ToolUsage struct {
	ToolName   string `json:"tool_name"`
	Calls      int64  `json:"calls"`
	ErrorCount int64  `json:"error_count"`
}

// UsageQuery filters invocations. Zero values are ignored.
type UsageQuery struct {
	UserID   string    `json:"user_id,omitempty"`
	ToolName string    `json:"tool_name,omitempty"`
	From     time.Time `json:"from"`
	To       time.Time `json:"to"`
}
