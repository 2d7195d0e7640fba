package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/alecgard/indexgate/internal/metering"
	"github.com/alecgard/indexgate/internal/registry"
	"github.com/alecgard/indexgate/internal/user"
)

// MissingCredentialsText is returned when the caller has no usable upstream
// credentials.
const MissingCredentialsText = "User API key, organization_id, or project_id not found."

// Kind classifies how a tool invocation ended.
type Kind string

const (
	KindOK                 Kind = "ok"
	KindMissingCredentials Kind = "missing_credentials"
	KindUpstreamError      Kind = "upstream_error"
	KindCallFailed         Kind = "call_failed"
)

// Result is the text a tool call returns. Every Kind is delivered to the
// client as ordinary tool output.
type Result struct {
	Kind       Kind
	Text       string
	StatusCode int
}

// CredentialStore is the interface for resolving a user's upstream credentials.
type CredentialStore interface {
	GetCredentials(ctx context.Context, userID string) (*user.Credentials, error)
}

// MeteringRecorder is the interface for recording invocations.
type MeteringRecorder interface {
	Record(inv metering.Invocation)
}

// MetricsRecorder is an optional interface for recording invocation metrics.
type MetricsRecorder interface {
	IncToolInvocation(outcome string)
	ObserveUpstreamDuration(statusClass string, seconds float64)
	IncUpstreamError(errorType string)
	IncActiveInvocations()
	DecActiveInvocations()
}

// Invoker forwards tool calls to the upstream retrieval API.
type Invoker struct {
	creds           CredentialStore
	collector       MeteringRecorder
	client          *http.Client
	baseURL         string
	maxResponseSize int64
	metrics         MetricsRecorder
}

// NewInvoker creates a new Invoker. collector may be nil.
func NewInvoker(creds CredentialStore, collector MeteringRecorder, baseURL string, timeout time.Duration, maxResponseSize int64) *Invoker {
	return &Invoker{
		creds:           creds,
		collector:       collector,
		client:          &http.Client{Timeout: timeout},
		baseURL:         baseURL,
		maxResponseSize: maxResponseSize,
	}
}

// SetMetrics sets the optional metrics recorder.
func (i *Invoker) SetMetrics(m MetricsRecorder) {
	i.metrics = m
}

// Invoke runs one retrieval for the descriptor's index. Failures are reported
// in the Result, never as an error.
func (i *Invoker) Invoke(ctx context.Context, userID string, d registry.Descriptor, query string) Result {
	if i.metrics != nil {
		i.metrics.IncActiveInvocations()
		defer i.metrics.DecActiveInvocations()
	}

	start := time.Now()
	res, size, callErr := i.invoke(ctx, userID, d, query)
	latency := time.Since(start)

	logAttrs := []any{"user_id", userID, "tool", d.Name, "index_id", d.IndexID, "outcome", res.Kind, "latency_ms", latency.Milliseconds()}
	switch res.Kind {
	case KindOK:
		slog.Debug("tool invocation completed", logAttrs...)
	case KindUpstreamError:
		slog.Warn("upstream returned error", append(logAttrs, "status", res.StatusCode)...)
	default:
		if callErr != nil {
			logAttrs = append(logAttrs, "error", callErr)
		}
		slog.Warn("tool invocation failed", logAttrs...)
	}

	if i.metrics != nil {
		i.metrics.IncToolInvocation(string(res.Kind))
	}
	if i.collector != nil {
		inv := metering.Invocation{
			UserID:       userID,
			ToolName:     d.Name,
			IndexID:      d.IndexID,
			Outcome:      string(res.Kind),
			StatusCode:   res.StatusCode,
			LatencyMs:    latency.Milliseconds(),
			ResponseSize: size,
			Timestamp:    time.Now().UTC(),
		}
		if callErr != nil {
			inv.Error = callErr.Error()
		}
		i.collector.Record(inv)
	}
	return res
}

func (i *Invoker) invoke(ctx context.Context, userID string, d registry.Descriptor, query string) (Result, int64, error) {
	creds, err := i.creds.GetCredentials(ctx, userID)
	if err != nil && !errors.Is(err, user.ErrNotFound) {
		return callFailed(fmt.Errorf("loading credentials: %w", err)), 0, err
	}
	if !creds.Complete() {
		return Result{Kind: KindMissingCredentials, Text: MissingCredentialsText}, 0, nil
	}

	req, err := i.newUpstreamRequest(ctx, creds, d, query)
	if err != nil {
		return callFailed(err), 0, err
	}

	upstreamStart := time.Now()
	resp, err := i.client.Do(req)
	if err != nil {
		if i.metrics != nil {
			i.metrics.ObserveUpstreamDuration("error", time.Since(upstreamStart).Seconds())
			i.metrics.IncUpstreamError(classifyUpstreamError(err))
		}
		return callFailed(err), 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, i.maxResponseSize+1))
	if i.metrics != nil {
		i.metrics.ObserveUpstreamDuration(statusClass(resp.StatusCode), time.Since(upstreamStart).Seconds())
	}
	if err != nil {
		if i.metrics != nil {
			i.metrics.IncUpstreamError(classifyUpstreamError(err))
		}
		return callFailed(fmt.Errorf("reading response: %w", err)), 0, err
	}
	truncated := int64(len(body)) > i.maxResponseSize
	if truncated {
		body = body[:i.maxResponseSize]
	}
	size := int64(len(body))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if i.metrics != nil {
			i.metrics.IncUpstreamError("http_status")
		}
		return Result{
			Kind:       KindUpstreamError,
			Text:       fmt.Sprintf("Retriever API error: %d - %s", resp.StatusCode, body),
			StatusCode: resp.StatusCode,
		}, size, nil
	}

	if truncated {
		err := fmt.Errorf("response exceeds %d bytes", i.maxResponseSize)
		return withStatus(callFailed(err), resp.StatusCode), size, err
	}
	var compact bytes.Buffer
	if err := json.Compact(&compact, body); err != nil {
		err = fmt.Errorf("invalid JSON response: %w", err)
		return withStatus(callFailed(err), resp.StatusCode), size, err
	}
	return Result{Kind: KindOK, Text: compact.String(), StatusCode: resp.StatusCode}, size, nil
}

func callFailed(err error) Result {
	return Result{Kind: KindCallFailed, Text: fmt.Sprintf("Error calling retriever API: %v", err)}
}

func withStatus(r Result, status int) Result {
	r.StatusCode = status
	return r
}

func statusClass(code int) string {
	return fmt.Sprintf("%dxx", code/100)
}

// classifyUpstreamError categorizes an upstream HTTP client error.
func classifyUpstreamError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	if errors.Is(err, context.Canceled) {
		return "canceled"
	}
	var timeoutErr interface{ Timeout() bool }
	if errors.As(err, &timeoutErr) && timeoutErr.Timeout() {
		return "timeout"
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return "dns"
	}
	var netErr *net.OpError
	if errors.As(err, &netErr) {
		if netErr.Op == "dial" {
			return "connection_refused"
		}
		return "network"
	}
	return "other"
}
