package validator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tessacoin/tessanode/errors"
	"github.com/tessacoin/tessanode/util"
	"golang.org/x/sync/errgroup"
)

// CheckQueue runs script checks on a bounded set of workers. Only one
// master may use the queue at a time; Begin blocks until the previous
// control has been waited on.
type CheckQueue struct {
	workers int
	guard   sync.Mutex
}

// NewCheckQueue returns a queue with the given number of workers. With one
// worker or fewer the checks run inline on the master.
func NewCheckQueue(workers int) *CheckQueue {
	initPrometheusMetrics()

	if workers < 1 {
		workers = 1
	}

	return &CheckQueue{workers: workers}
}

func (q *CheckQueue) Workers() int {
	return q.workers
}

// CheckQueueControl is one batch of checks owned by a master.
type CheckQueueControl struct {
	queue *CheckQueue
	g     *errgroup.Group
	ctx   context.Context
	err   error
	done  bool
}

// Begin takes the queue for a new batch.
func (q *CheckQueue) Begin(ctx context.Context) *CheckQueueControl {
	q.guard.Lock()

	c := &CheckQueueControl{queue: q}

	if q.workers > 1 {
		c.g, c.ctx = errgroup.WithContext(ctx)
		util.SafeSetLimit(c.g, q.workers)
	} else {
		c.ctx = ctx
	}

	return c
}

// Add enqueues checks. After the first failure further checks are
// discarded. Checks added after the context is done fail the batch with a
// cancellation error rather than being skipped.
func (c *CheckQueueControl) Add(checks []ScriptCheck) {
	if c.done || len(checks) == 0 {
		return
	}

	if c.g == nil {
		for i := range checks {
			if c.err != nil {
				return
			}

			if err := c.ctx.Err(); err != nil {
				c.err = interrupted(err)
				return
			}

			c.err = runCheck(&checks[i])
		}

		return
	}

	for i := range checks {
		check := &checks[i]

		if err := c.ctx.Err(); err != nil {
			// the group keeps its first error so an earlier script failure wins
			c.g.Go(func() error { return interrupted(err) })
			return
		}

		c.g.Go(func() error {
			if err := c.ctx.Err(); err != nil {
				return interrupted(err)
			}

			return runCheck(check)
		})
	}
}

func interrupted(err error) error {
	return errors.NewContextCanceledError("script checks interrupted", err)
}

// Wait blocks until all queued checks finished and releases the queue. It
// returns the first failure.
func (c *CheckQueueControl) Wait() error {
	if c.done {
		return c.err
	}

	c.done = true
	defer c.queue.guard.Unlock()

	if c.g != nil {
		c.err = c.g.Wait()
	}

	if c.err != nil {
		prometheusInvalidScripts.Inc()
	}

	return c.err
}

// runCheck turns a panicking check into an error so the connect attempt
// fails instead of the process.
func runCheck(check *ScriptCheck) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.NewProcessingError("script check of input %d of %s panicked: %s", check.Idx, check.TxHash.String(), fmt.Sprint(r))
		}
	}()

	start := time.Now()
	err = check.Verify()

	prometheusScriptCheck.Observe(time.Since(start).Seconds())

	return err
}
