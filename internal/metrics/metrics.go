package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for apply operations.
type Metrics struct {
	registry        *prometheus.Registry
	Operations      *prometheus.CounterVec
	Patches         *prometheus.CounterVec
	Files           *prometheus.CounterVec
	UpdateRetries   *prometheus.CounterVec
	StreamedTokens  *prometheus.CounterVec
	Reverts         prometheus.Counter
	ReviewDecisions *prometheus.CounterVec
}

// New constructs a metrics registry with apply collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	ops := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chatapply_operations_total",
		Help: "Apply operations by method and outcome",
	}, []string{"method", "outcome"})

	patches := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chatapply_patches_total",
		Help: "Patch application results by strategy (strict, fallback, failed)",
	}, []string{"result"})

	files := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chatapply_files_total",
		Help: "Files touched by action (created, modified, deleted, failed)",
	}, []string{"action"})

	retries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chatapply_update_retries_total",
		Help: "Intelligent update retries after transient model errors",
	}, []string{"provider"})

	tokens := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chatapply_streamed_tokens_total",
		Help: "Approximate tokens streamed from the model during intelligent updates",
	}, []string{"provider", "model"})

	reverts := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chatapply_reverts_total",
		Help: "Ledger reverts performed",
	})

	decisions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chatapply_review_decisions_total",
		Help: "Review decisions by kind",
	}, []string{"decision"})

	reg.MustRegister(ops, patches, files, retries, tokens, reverts, decisions)

	return &Metrics{
		registry:        reg,
		Operations:      ops,
		Patches:         patches,
		Files:           files,
		UpdateRetries:   retries,
		StreamedTokens:  tokens,
		Reverts:         reverts,
		ReviewDecisions: decisions,
	}
}

// Registry returns the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// WriteTextfile writes the current metric values in text exposition format.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil || path == "" {
		return nil
	}
	return prometheus.WriteToTextfile(path, m.registry)
}

// RecordOperation counts a finished apply operation.
func (m *Metrics) RecordOperation(method, outcome string) {
	if m == nil {
		return
	}
	m.Operations.WithLabelValues(orUnknown(method), orUnknown(outcome)).Inc()
}

// RecordPatch counts one patch result.
func (m *Metrics) RecordPatch(result string) {
	if m == nil {
		return
	}
	m.Patches.WithLabelValues(orUnknown(result)).Inc()
}

// RecordFiles adds n files for an action.
func (m *Metrics) RecordFiles(action string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.Files.WithLabelValues(orUnknown(action)).Add(float64(n))
}

// RecordRetry counts a retried model request.
func (m *Metrics) RecordRetry(provider string) {
	if m == nil {
		return
	}
	m.UpdateRetries.WithLabelValues(orUnknown(provider)).Inc()
}

// RecordTokens adds streamed tokens.
func (m *Metrics) RecordTokens(provider, model string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.StreamedTokens.WithLabelValues(orUnknown(provider), orUnknown(model)).Add(float64(n))
}

// RecordRevert counts a ledger revert.
func (m *Metrics) RecordRevert() {
	if m == nil {
		return
	}
	m.Reverts.Inc()
}

// RecordDecision counts a review decision.
func (m *Metrics) RecordDecision(decision string) {
	if m == nil {
		return
	}
	m.ReviewDecisions.WithLabelValues(orUnknown(decision)).Inc()
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
