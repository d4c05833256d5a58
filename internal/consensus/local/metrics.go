package local

import "time"

// Metrics captures log-layer metric sinks used by the node implementation.
type Metrics interface {
	IncLogAppended(nodeID, batchType string)
	ObserveLogBatchBytes(nodeID string, n int)
	IncLogStorageError(nodeID, op string)
	SetLogApplyLag(nodeID string, lag int64)
	ObserveLogCommitToApplyDuration(nodeID string, d time.Duration)
}

type noopMetrics struct{}

func (noopMetrics) IncLogAppended(string, string)                          {}
func (noopMetrics) ObserveLogBatchBytes(string, int)                       {}
func (noopMetrics) IncLogStorageError(string, string)                      {}
func (noopMetrics) SetLogApplyLag(string, int64)                           {}
func (noopMetrics) ObserveLogCommitToApplyDuration(string, time.Duration) {}
