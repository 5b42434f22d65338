// Package replicator implements the boundary to the external cluster
// replication tool. The engine itself only ever enqueues a notification;
// actually moving bytes between peers is entirely this package's
// collaborator's job.
package replicator

import (
	"context"
	"errors"
	"os/exec"

	"github.com/ao-apps/ao-cdn-data/lib/logger"
)

var l = logger.DefaultLogger.NewFacility("replicator", "cluster replication")

// Replicator is notified after a committed mutation with the set of
// paths that a peer needs to learn about. Implementations must not block
// the caller indefinitely without a context deadline; the default
// CSync2Replicator has none, matching the "known gap" in the timeout
// story.
type Replicator interface {
	Notify(ctx context.Context, group string, paths []string) error
}

// CSync2Replicator drives a csync2 binary through its three-phase
// invocation: mark-and-recurse, check, update. A single combined call
// does not reliably schedule the update phase against the deployments
// this was built against, hence the three separate invocations.
type CSync2Replicator struct {
	// Binary is the csync2 executable path; defaults to "csync2" on PATH
	// when empty.
	Binary string
}

func (c CSync2Replicator) binary() string {
	if c.Binary == "" {
		return "csync2"
	}
	return c.Binary
}

// Notify is a no-op when group is empty, matching the contract that an
// absent replication group disables replication entirely. All three
// phases always run, each logged independently on failure; the
// aggregated error is returned so a caller such as the replication
// queue can count persistent failures instead of this boundary
// swallowing them outright. Per the exit-code contract, a failure here
// never unwinds the mutation that triggered it — monitoring is expected
// to catch it from the logged/counted signal, not from a returned error
// blocking a deposit or a scale.
func (c CSync2Replicator) Notify(ctx context.Context, group string, paths []string) error {
	if group == "" || len(paths) == 0 {
		return nil
	}

	markArgs := append([]string{"-G", group, "-h", "-r"}, paths...)
	markErr := c.run(ctx, markArgs)
	checkErr := c.run(ctx, []string{"-G", group, "-c"})
	updateErr := c.run(ctx, []string{"-G", group, "-u"})

	return errors.Join(markErr, checkErr, updateErr)
}

func (c CSync2Replicator) run(ctx context.Context, args []string) error {
	cmd := exec.CommandContext(ctx, c.binary(), args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		l.Warnln("replicator invocation failed, continuing:", c.binary(), args, err, string(out))
		return err
	}
	return nil
}

// RecordingReplicator is an in-memory Replicator for tests: it appends
// every call's arguments instead of shelling out.
type RecordingReplicator struct {
	Calls []RecordedCall
}

type RecordedCall struct {
	Group string
	Paths []string
}

func (r *RecordingReplicator) Notify(ctx context.Context, group string, paths []string) error {
	cp := make([]string, len(paths))
	copy(cp, paths)
	r.Calls = append(r.Calls, RecordedCall{Group: group, Paths: cp})
	return nil
}
