//revive:disable:var-naming
//revive:disable:exported
package metrics

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "kvelldb"

// Prometheus exposes application metrics and can be injected into the
// service, log and transport layers. It implements internal/service.Metrics,
// internal/consensus/local.Metrics and the HTTP and health transport sinks
// through method set compatibility, without importing those packages.
type Prometheus struct {
	kvProposalTotal       *prometheus.CounterVec
	kvWaitDuration        *prometheus.HistogramVec
	kvPendingWaiters      *prometheus.GaugeVec
	kvAppliedTotal        *prometheus.CounterVec
	kvPassThroughTotal    *prometheus.CounterVec
	logAppendedTotal      *prometheus.CounterVec
	logBatchBytes         *prometheus.HistogramVec
	logStorageErrorTotal  *prometheus.CounterVec
	logApplyLag           *prometheus.GaugeVec
	logCommitToApplyDur   *prometheus.HistogramVec
	httpRequestDuration   *prometheus.HistogramVec
	nodeServing           *prometheus.GaugeVec
}

func NewPrometheus(reg prometheus.Registerer) (*Prometheus, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Prometheus{
		kvProposalTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "kv",
				Name:      "proposal_total",
				Help:      "KV command proposal outcomes (accepted, replication_failed).",
			},
			[]string{"node_id", "result"},
		),
		kvWaitDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "kv",
				Name:      "wait_duration_seconds",
				Help:      "Time from submitting a KV command to its result being returned to the caller.",
				Buckets:   []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.02, 0.05, 0.1, 0.2, 0.5, 1},
			},
			[]string{"node_id", "command", "result"},
		),
		kvPendingWaiters: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "kv",
				Name:      "pending_waiters",
				Help:      "Number of calls waiting for their command to be applied.",
			},
			[]string{"node_id"},
		),
		kvAppliedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "kv",
				Name:      "applied_total",
				Help:      "KV commands applied to the state machine by command and result code.",
			},
			[]string{"node_id", "command", "result"},
		),
		kvPassThroughTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "kv",
				Name:      "apply_pass_through_total",
				Help:      "Committed batches of other types ignored by the state machine.",
			},
			[]string{"node_id", "batch_type"},
		),
		logAppendedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "log",
				Name:      "appended_batches_total",
				Help:      "Batches appended and committed to the log.",
			},
			[]string{"node_id", "batch_type"},
		),
		logBatchBytes: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "log",
				Name:      "batch_bytes",
				Help:      "Encoded size of appended batches in bytes.",
				Buckets:   []float64{64, 128, 256, 512, 1024, 4096, 16384, 65536, 262144, 1048576},
			},
			[]string{"node_id"},
		),
		logStorageErrorTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "log",
				Name:      "storage_error_total",
				Help:      "Log storage persistence errors by operation.",
			},
			[]string{"node_id", "op"},
		),
		logApplyLag: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "log",
				Name:      "apply_lag_batches",
				Help:      "Committed batches not yet delivered to the state machine.",
			},
			[]string{"node_id"},
		),
		logCommitToApplyDur: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "log",
				Name:      "commit_to_apply_duration_seconds",
				Help:      "Time from a batch being committed to its delivery to the state machine.",
				Buckets:   []float64{0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.02, 0.05, 0.1},
			},
			[]string{"node_id"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "HTTP API request latency by route and status code.",
				Buckets:   []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.02, 0.05, 0.1, 0.2, 0.5, 1, 5},
			},
			[]string{"route", "method", "code"},
		),
		nodeServing: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "node",
				Name:      "serving",
				Help:      "1 if the node reports SERVING on its health service, otherwise 0.",
			},
			[]string{"node_id"},
		),
	}

	if err := m.register(reg); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Prometheus) register(reg prometheus.Registerer) error {
	if err := registerOrReuseCounterVec(reg, &m.kvProposalTotal); err != nil {
		return fmt.Errorf("register kv proposal counter: %w", err)
	}
	if err := registerOrReuseHistogramVec(reg, &m.kvWaitDuration); err != nil {
		return fmt.Errorf("register kv wait histogram: %w", err)
	}
	if err := registerOrReuseGaugeVec(reg, &m.kvPendingWaiters); err != nil {
		return fmt.Errorf("register kv pending waiters gauge: %w", err)
	}
	if err := registerOrReuseCounterVec(reg, &m.kvAppliedTotal); err != nil {
		return fmt.Errorf("register kv applied counter: %w", err)
	}
	if err := registerOrReuseCounterVec(reg, &m.kvPassThroughTotal); err != nil {
		return fmt.Errorf("register kv pass-through counter: %w", err)
	}
	if err := registerOrReuseCounterVec(reg, &m.logAppendedTotal); err != nil {
		return fmt.Errorf("register log appended counter: %w", err)
	}
	if err := registerOrReuseHistogramVec(reg, &m.logBatchBytes); err != nil {
		return fmt.Errorf("register log batch bytes histogram: %w", err)
	}
	if err := registerOrReuseCounterVec(reg, &m.logStorageErrorTotal); err != nil {
		return fmt.Errorf("register log storage error counter: %w", err)
	}
	if err := registerOrReuseGaugeVec(reg, &m.logApplyLag); err != nil {
		return fmt.Errorf("register log apply lag gauge: %w", err)
	}
	if err := registerOrReuseHistogramVec(reg, &m.logCommitToApplyDur); err != nil {
		return fmt.Errorf("register log commit->apply histogram: %w", err)
	}
	if err := registerOrReuseHistogramVec(reg, &m.httpRequestDuration); err != nil {
		return fmt.Errorf("register http request histogram: %w", err)
	}
	if err := registerOrReuseGaugeVec(reg, &m.nodeServing); err != nil {
		return fmt.Errorf("register node serving gauge: %w", err)
	}
	return nil
}

func registerOrReuseHistogramVec(reg prometheus.Registerer, c **prometheus.HistogramVec) error {
	if err := reg.Register(*c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if !errors.As(err, &already) {
			return err
		}
		existing, ok := already.ExistingCollector.(*prometheus.HistogramVec)
		if !ok {
			return fmt.Errorf("collector type mismatch for %T", *c)
		}
		*c = existing
	}
	return nil
}

func registerOrReuseCounterVec(reg prometheus.Registerer, c **prometheus.CounterVec) error {
	if err := reg.Register(*c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if !errors.As(err, &already) {
			return err
		}
		existing, ok := already.ExistingCollector.(*prometheus.CounterVec)
		if !ok {
			return fmt.Errorf("collector type mismatch for %T", *c)
		}
		*c = existing
	}
	return nil
}

func registerOrReuseGaugeVec(reg prometheus.Registerer, c **prometheus.GaugeVec) error {
	if err := reg.Register(*c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if !errors.As(err, &already) {
			return err
		}
		existing, ok := already.ExistingCollector.(*prometheus.GaugeVec)
		if !ok {
			return fmt.Errorf("collector type mismatch for %T", *c)
		}
		*c = existing
	}
	return nil
}

func (m *Prometheus) IncKVProposalResult(nodeID, result string) {
	m.kvProposalTotal.WithLabelValues(nodeID, result).Inc()
}

func (m *Prometheus) ObserveKVWaitDuration(nodeID, command, result string, d time.Duration) {
	m.kvWaitDuration.WithLabelValues(nodeID, command, result).Observe(d.Seconds())
}

func (m *Prometheus) SetKVPendingWaiters(nodeID string, n int) {
	m.kvPendingWaiters.WithLabelValues(nodeID).Set(float64(n))
}

func (m *Prometheus) IncKVApplied(nodeID, command, result string) {
	m.kvAppliedTotal.WithLabelValues(nodeID, command, result).Inc()
}

func (m *Prometheus) IncKVApplyPassThrough(nodeID, batchType string) {
	m.kvPassThroughTotal.WithLabelValues(nodeID, batchType).Inc()
}

func (m *Prometheus) IncLogAppended(nodeID, batchType string) {
	m.logAppendedTotal.WithLabelValues(nodeID, batchType).Inc()
}

func (m *Prometheus) ObserveLogBatchBytes(nodeID string, n int) {
	if n < 0 {
		n = 0
	}
	m.logBatchBytes.WithLabelValues(nodeID).Observe(float64(n))
}

func (m *Prometheus) IncLogStorageError(nodeID, op string) {
	m.logStorageErrorTotal.WithLabelValues(nodeID, op).Inc()
}

func (m *Prometheus) SetLogApplyLag(nodeID string, lag int64) {
	if lag < 0 {
		lag = 0
	}
	m.logApplyLag.WithLabelValues(nodeID).Set(float64(lag))
}

func (m *Prometheus) ObserveLogCommitToApplyDuration(nodeID string, d time.Duration) {
	m.logCommitToApplyDur.WithLabelValues(nodeID).Observe(d.Seconds())
}

func (m *Prometheus) ObserveHTTPRequest(route, method string, code int, d time.Duration) {
	m.httpRequestDuration.WithLabelValues(route, method, strconv.Itoa(code)).Observe(d.Seconds())
}

func (m *Prometheus) SetNodeServing(nodeID string, serving bool) {
	m.nodeServing.WithLabelValues(nodeID).Set(boolFloat(serving))
}

func boolFloat(v bool) float64 {
	if v {
		return 1
	}
	return 0
}
