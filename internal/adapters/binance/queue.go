package binance

import (
	"context"
	"sync"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/arbelos/usdm/internal/events"
	"github.com/arbelos/usdm/internal/schema"
)

const (
	window10Cap     = 300
	window60Cap     = 1200
	window10Horizon = 10 * time.Second
	window60Horizon = 60 * time.Second
	maxLotSize      = 5
)

// orderSubmitter is the fast-path placement surface the queue drives.
type orderSubmitter interface {
	PlaceOrder(ctx context.Context, payload *schema.PayloadOrder) (orderAck, error)
	PlaceBatch(ctx context.Context, payloads []*schema.PayloadOrder) ([]schema.BatchOutcome, error)
}

// Queue is the rate-window-governed order submitter. Payloads are spliced
// into lots of at most five, charged against rolling 10s and 60s windows at
// admission, and dispatched without awaiting completion so batches may race.
// Exactly one processing task runs at a time.
type Queue struct {
	submitter orderSubmitter
	emitter   *events.Emitter
	metrics   *adapterMetrics

	clock func() time.Time
	sleep func(ctx context.Context, d time.Duration)

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	queue       []*schema.PayloadOrder
	w10         []time.Time
	w60         []time.Time
	results     []string
	processing  bool
	dispatching int
	idle        chan struct{}

	inflight conc.WaitGroup
}

// NewQueue constructs an idle dispatch queue bound to the submitter.
func NewQueue(submitter orderSubmitter, emitter *events.Emitter, metrics *adapterMetrics) *Queue {
	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		submitter: submitter,
		emitter:   emitter,
		metrics:   metrics,
		clock:     time.Now,
		sleep:     sleepFor,
		ctx:       ctx,
		cancel:    cancel,
	}
}

func sleepFor(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// Enqueue appends payloads in order and starts the processing task when idle.
// FIFO holds within one call; concurrent callers are ordered by the mutex.
func (q *Queue) Enqueue(payloads []*schema.PayloadOrder) {
	if len(payloads) == 0 {
		return
	}
	q.mu.Lock()
	q.queue = append(q.queue, payloads...)
	depth := len(q.queue)
	start := !q.processing
	if start {
		q.processing = true
		if q.idle == nil {
			q.idle = make(chan struct{})
		}
	}
	q.mu.Unlock()

	q.emitter.Emit(events.TopicOrderManager, depth)
	if q.metrics != nil {
		q.metrics.recordQueueDepth(depth)
	}
	if start {
		go q.process()
	}
}

// Processing reports whether the processing task is running.
func (q *Queue) Processing() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.processing || q.dispatching > 0
}

// DrainResults returns the successfully placed client IDs accumulated since
// the previous drain, clearing the buffer atomically.
func (q *Queue) DrainResults() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.results
	q.results = nil
	return out
}

// Wait blocks until every enqueued payload has been dispatched and resolved,
// or the context is done.
func (q *Queue) Wait(ctx context.Context) error {
	q.mu.Lock()
	ch := q.idle
	q.mu.Unlock()
	if ch == nil {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-ch:
		return nil
	}
}

// Close stops the processing task and waits for in-flight dispatches.
func (q *Queue) Close() {
	q.cancel()
	q.inflight.Wait()
}

func (q *Queue) maybeIdleLocked() {
	if !q.processing && q.dispatching == 0 && q.idle != nil {
		close(q.idle)
		q.idle = nil
	}
}

func prune(window []time.Time, now time.Time, horizon time.Duration) []time.Time {
	cutoff := now.Add(-horizon)
	i := 0
	for ; i < len(window); i++ {
		if window[i].After(cutoff) {
			break
		}
	}
	return window[i:]
}

// process is the scheduling loop. The single now sampled per iteration is
// used for pruning, admission charging, and pacing alike.
func (q *Queue) process() {
	for {
		if q.ctx.Err() != nil {
			q.mu.Lock()
			q.processing = false
			q.maybeIdleLocked()
			q.mu.Unlock()
			return
		}

		now := q.clock()

		q.mu.Lock()
		q.w10 = prune(q.w10, now, window10Horizon)
		q.w60 = prune(q.w60, now, window60Horizon)

		if len(q.queue) == 0 {
			q.processing = false
			q.maybeIdleLocked()
			q.mu.Unlock()
			return
		}

		if len(q.w10) >= window10Cap || len(q.w60) >= window60Cap {
			var wait time.Duration
			if len(q.w10) >= window10Cap {
				wait = q.w10[0].Add(window10Horizon).Sub(now)
			}
			if len(q.w60) >= window60Cap {
				if w := q.w60[0].Add(window60Horizon).Sub(now); w > wait {
					wait = w
				}
			}
			q.mu.Unlock()
			q.sleep(q.ctx, wait)
			continue
		}

		capacity := window10Cap - len(q.w10)
		if c := window60Cap - len(q.w60); c < capacity {
			capacity = c
		}
		if len(q.queue) < capacity {
			capacity = len(q.queue)
		}
		if capacity > maxLotSize {
			capacity = maxLotSize
		}

		batch := make([]*schema.PayloadOrder, capacity)
		copy(batch, q.queue[:capacity])
		q.queue = q.queue[capacity:]
		depth := len(q.queue)

		// Charge the windows before dispatching so concurrent in-flight
		// batches can never exceed the caps.
		for i := 0; i < capacity; i++ {
			q.w10 = append(q.w10, now)
			q.w60 = append(q.w60, now)
		}
		q.dispatching++

		var pause time.Duration
		if depth > 0 {
			pause = q.pacedSleepLocked(now)
		}
		q.mu.Unlock()

		q.emitter.Emit(events.TopicOrderManager, depth)
		if q.metrics != nil {
			q.metrics.recordQueueDepth(depth)
		}

		q.inflight.Go(func() {
			q.dispatch(batch)
		})

		q.sleep(q.ctx, pause)
	}
}

// pacedSleepLocked spreads the remaining window capacity over the remaining
// window time, taking the tighter of the two horizons.
func (q *Queue) pacedSleepLocked(now time.Time) time.Duration {
	sleep10 := windowPace(q.w10, now, window10Cap, window10Horizon)
	sleep60 := windowPace(q.w60, now, window60Cap, window60Horizon)
	if sleep10 < sleep60 {
		return sleep10
	}
	return sleep60
}

func windowPace(window []time.Time, now time.Time, limit int, horizon time.Duration) time.Duration {
	remainingLots := (limit - len(window) + maxLotSize - 1) / maxLotSize
	if remainingLots <= 0 {
		return time.Second
	}
	var remaining time.Duration
	if len(window) > 0 {
		remaining = window[0].Add(horizon).Sub(now)
	}
	if remaining <= 0 {
		return 0
	}
	return remaining / time.Duration(remainingLots)
}

// dispatch submits one lot on the fast path and folds the outcome back into
// the results buffer.
func (q *Queue) dispatch(batch []*schema.PayloadOrder) {
	outcomes := q.submit(batch)

	q.mu.Lock()
	for _, outcome := range outcomes {
		if outcome.Err == nil {
			q.results = append(q.results, outcome.ClientID)
		}
	}
	q.dispatching--
	q.maybeIdleLocked()
	q.mu.Unlock()

	q.emitter.Emit(events.TopicBatchResolved, outcomes)
	if q.metrics != nil {
		q.metrics.recordDispatch(outcomes)
	}
}

func (q *Queue) submit(batch []*schema.PayloadOrder) []schema.BatchOutcome {
	if len(batch) == 1 {
		payload := batch[0]
		outcome := schema.BatchOutcome{ClientID: payload.ClientID()}
		if _, err := q.submitter.PlaceOrder(q.ctx, payload); err != nil {
			outcome.Err = err
		}
		return []schema.BatchOutcome{outcome}
	}
	outcomes, err := q.submitter.PlaceBatch(q.ctx, batch)
	if err != nil {
		// Endpoint-level failure charges every payload in the lot.
		outcomes = make([]schema.BatchOutcome, 0, len(batch))
		for _, payload := range batch {
			outcomes = append(outcomes, schema.BatchOutcome{ClientID: payload.ClientID(), Err: err})
		}
	}
	return outcomes
}
