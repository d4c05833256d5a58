package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewPrometheus_ReusesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()

	first, err := NewPrometheus(reg)
	if err != nil {
		t.Fatalf("NewPrometheus() error = %v", err)
	}
	second, err := NewPrometheus(reg)
	if err != nil {
		t.Fatalf("second NewPrometheus() error = %v", err)
	}

	first.IncKVProposalResult("n1", "accepted")
	second.IncKVProposalResult("n1", "accepted")

	if got := testutil.ToFloat64(first.kvProposalTotal.WithLabelValues("n1", "accepted")); got != 2 {
		t.Fatalf("proposal_total = %v, want 2", got)
	}
}

func TestPrometheus_RecordsValues(t *testing.T) {
	m, err := NewPrometheus(prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("NewPrometheus() error = %v", err)
	}

	m.SetKVPendingWaiters("n1", 3)
	m.IncKVApplied("n1", "cas", "conflict")
	m.SetLogApplyLag("n1", -5)
	m.SetNodeServing("n1", true)
	m.ObserveHTTPRequest("/v1/kv/{key}", "GET", 404, time.Millisecond)

	if got := testutil.ToFloat64(m.kvPendingWaiters.WithLabelValues("n1")); got != 3 {
		t.Fatalf("pending_waiters = %v, want 3", got)
	}
	if got := testutil.ToFloat64(m.kvAppliedTotal.WithLabelValues("n1", "cas", "conflict")); got != 1 {
		t.Fatalf("applied_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.logApplyLag.WithLabelValues("n1")); got != 0 {
		t.Fatalf("apply_lag_batches = %v, want clamped 0", got)
	}
	if got := testutil.ToFloat64(m.nodeServing.WithLabelValues("n1")); got != 1 {
		t.Fatalf("serving = %v, want 1", got)
	}
	if n := testutil.CollectAndCount(m.httpRequestDuration); n != 1 {
		t.Fatalf("http request series = %d, want 1", n)
	}
}
