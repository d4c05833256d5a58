package local

import (
	"context"
	"time"

	"github.com/i-melnichenko/kvelldb/internal/consensus"
)

func (n *Node) notifyApply() {
	select {
	case n.applyNotifyCh <- struct{}{}:
	default:
	}
}

func (n *Node) runApplyLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-n.applyNotifyCh:
		}

		// Deliver committed batches in order. The head is only removed after
		// the send so a shutdown mid-delivery loses nothing.
		for {
			n.mu.Lock()
			if len(n.pending) == 0 {
				n.mu.Unlock()
				break
			}
			next := n.pending[0]
			n.mu.Unlock()

			n.logger.Debug("applying batch",
				"node_id", n.id,
				"base_offset", next.batch.BaseOffset(),
				"last_offset", next.batch.LastOffset(),
			)

			select {
			case <-ctx.Done():
				return
			case n.applyCh <- consensus.ApplyMsg{Batch: next.batch}:
			}

			now := time.Now()
			n.mu.Lock()
			n.pending[0] = committedBatch{}
			n.pending = n.pending[1:]
			n.appliedOffset = next.batch.LastOffset()
			n.lastAppliedAt = now
			lag := len(n.pending)
			n.mu.Unlock()

			n.metrics.ObserveLogCommitToApplyDuration(n.id, now.Sub(next.committedAt))
			n.metrics.SetLogApplyLag(n.id, int64(lag))
		}
	}
}
