package engine

import (
	"context"

	"github.com/ao-apps/ao-cdn-data/internal/replicator"
	"github.com/ao-apps/ao-cdn-data/lib/metrics"
)

// replicationQueue is a suture.Service: Store and Resource hand it
// fire-and-forget notifications via enqueue, and it drains them
// serially against the configured Replicator so a wedged csync2 child
// process stalls only the queue, never the caller of addNewResource or
// scale.
type replicationQueue struct {
	repl    replicator.Replicator
	group   string
	jobs    chan []string
	metrics *metrics.Registry
}

func newReplicationQueue(repl replicator.Replicator, group string, reg *metrics.Registry) *replicationQueue {
	return &replicationQueue{repl: repl, group: group, jobs: make(chan []string, 256), metrics: reg}
}

// enqueue never blocks the caller for long: the channel is generously
// buffered, and a full queue (a badly wedged replicator) is logged and
// the notification dropped rather than stalling a deposit.
func (q *replicationQueue) enqueue(paths ...string) {
	if len(paths) == 0 {
		return
	}
	select {
	case q.jobs <- paths:
	default:
		l.Warnln("replication queue full, dropping notification for:", paths)
	}
}

func (q *replicationQueue) Serve(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case paths := <-q.jobs:
			if err := q.repl.Notify(ctx, q.group, paths); err != nil {
				l.Warnln("replicator notification failed:", paths, err)
				if q.metrics != nil {
					q.metrics.ReplicatorError()
				}
			} else if q.metrics != nil {
				q.metrics.ReplicatorRun()
			}
		}
	}
}
