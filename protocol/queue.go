package protocol

import (
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	// DefaultConcurrency is the number of commands that may be in flight
	// at once.
	DefaultConcurrency = 3

	// DefaultAckTimeout is how long a command waits for its
	// acknowledgement before giving up.
	DefaultAckTimeout = 10 * time.Second
)

// Sender is implemented by command builders that queue transmissions. When
// a command times out the sender is given first refusal on handling it;
// returning false causes the generic timeout response to be reported.
type Sender interface {
	TrySatisfyTimeout(buffer []byte, seq byte) bool
}

// Callback receives a job's settlement: the transmit result code on
// acknowledgement, or a non-nil error on timeout or write failure.
type Callback func(code byte, err error)

// Job is one queued transmission. The queue owns it from Enqueue until it
// is acknowledged, timed out, or discarded by Close.
type Job struct {
	Buffer   []byte
	Seq      byte
	Sender   Sender
	Callback Callback
}

// TransmitQueue is a FIFO command queue with bounded concurrency. Jobs are
// dequeued in submission order by a fixed pool of workers started by
// Start; each worker registers the job in the acknowledgement table,
// writes its buffer to the transport, and waits for the matching
// acknowledgement or a timeout. Completion order is not guaranteed to
// match submission order.
//
// The queue is created held: nothing is dequeued until Start is called,
// which happens exactly once when the connection handshake completes.
type TransmitQueue struct {
	writer io.Writer
	acks   *AckTable
	log    zerolog.Logger

	concurrency int
	timeout     time.Duration

	// onTimeout, if set, is told about timeouts the sender declined to
	// handle. The driver uses it to emit the generic timeout response.
	onTimeout func(seq byte)

	mu     sync.Mutex
	cond   *sync.Cond
	jobs   []*Job
	closed bool

	startOnce sync.Once
	done      chan struct{}
	wg        sync.WaitGroup
}

// NewTransmitQueue creates a held queue writing to w. Concurrency and
// timeout fall back to the defaults when zero.
func NewTransmitQueue(w io.Writer, acks *AckTable, concurrency int, timeout time.Duration, log zerolog.Logger) *TransmitQueue {
	registerMetrics()
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	if timeout <= 0 {
		timeout = DefaultAckTimeout
	}
	q := &TransmitQueue{
		writer:      w,
		acks:        acks,
		log:         log,
		concurrency: concurrency,
		timeout:     timeout,
		done:        make(chan struct{}),
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// SetTimeoutHandler installs the hook invoked for timeouts that the job's
// sender did not claim. Must be called before Start.
func (q *TransmitQueue) SetTimeoutHandler(fn func(seq byte)) {
	q.onTimeout = fn
}

// Enqueue appends a job. Jobs are only accepted while the queue is open;
// they are not dequeued until Start has been called.
func (q *TransmitQueue) Enqueue(job *Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}
	q.jobs = append(q.jobs, job)
	q.cond.Signal()
	return nil
}

// Pending returns the number of jobs waiting to be dequeued.
func (q *TransmitQueue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

// Start launches the worker pool. Subsequent calls are no-ops.
func (q *TransmitQueue) Start() {
	q.startOnce.Do(func() {
		q.mu.Lock()
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return
		}
		for i := 0; i < q.concurrency; i++ {
			q.wg.Add(1)
			go q.worker()
		}
	})
}

// Close empties the queue and stops the workers. Not-yet-dequeued jobs are
// discarded without their callbacks firing; this mirrors the device
// semantics where a disconnect orphans whatever was still waiting.
// Close is idempotent.
func (q *TransmitQueue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	dropped := len(q.jobs)
	q.jobs = nil
	q.mu.Unlock()

	close(q.done)
	q.cond.Broadcast()
	q.wg.Wait()

	if dropped > 0 {
		q.log.Debug().Int("jobs", dropped).Msg("transmit queue closed with jobs pending")
	}
}

func (q *TransmitQueue) worker() {
	defer q.wg.Done()
	for {
		q.mu.Lock()
		for len(q.jobs) == 0 && !q.closed {
			q.cond.Wait()
		}
		if q.closed {
			q.mu.Unlock()
			return
		}
		job := q.jobs[0]
		q.jobs = q.jobs[1:]
		q.mu.Unlock()

		q.run(job)
	}
}

// run settles one job: exactly one of acknowledgement, timeout, or queue
// shutdown decides its fate.
func (q *TransmitQueue) run(job *Job) {
	ackCh := make(chan byte, 1)
	q.acks.Register(job.Seq, func(code byte) {
		select {
		case ackCh <- code:
		default:
		}
	})

	if _, err := q.writer.Write(job.Buffer); err != nil {
		q.acks.Take(job.Seq)
		q.log.Error().Err(err).Uint8("seqnbr", job.Seq).Msg("transmit write failed")
		if job.Callback != nil {
			job.Callback(ResultTimeout, ErrWriteFailed)
		}
		return
	}
	commandsTotal.Inc()

	timer := time.NewTimer(q.timeout)
	defer timer.Stop()

	select {
	case code := <-ackCh:
		acksTotal.Inc()
		if job.Callback != nil {
			job.Callback(code, nil)
		}

	case <-timer.C:
		// Remove the entry so a late acknowledgement cannot settle the
		// job twice. The timer only cancels the logical wait; the write
		// already happened.
		q.acks.Take(job.Seq)
		timeoutsTotal.Inc()
		if job.Sender != nil && job.Sender.TrySatisfyTimeout(job.Buffer, job.Seq) {
			return
		}
		q.log.Warn().Uint8("seqnbr", job.Seq).Dur("timeout", q.timeout).Msg("command timed out")
		if q.onTimeout != nil {
			q.onTimeout(job.Seq)
		}
		if job.Callback != nil {
			job.Callback(ResultTimeout, ErrCommandTimeout)
		}

	case <-q.done:
		q.acks.Take(job.Seq)
	}
}
