package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/armon/go-metrics"

	"github.com/GPTx-global/near-oracle/oracle/log"
	"github.com/GPTx-global/near-oracle/oracle/matcher"
	"github.com/GPTx-global/near-oracle/oracle/types"
)

const (
	DefaultInterval     = 1019 * time.Millisecond
	DefaultResultBuffer = 64
)

// Fetcher returns the pending requests of one cycle. *scanner.Scanner
// implements it.
type Fetcher interface {
	Fetch(ctx context.Context) (*types.RequestSet, error)
}

// Observer is called with every cycle result, from the loop goroutine.
// Stop waits for that goroutine, so an observer must not call Stop; to end
// the loop from an observer, cancel the context given to Start.
type Observer func(types.CycleResult)

type Option func(*Scheduler)

func WithResultBuffer(n int) Option {
	return func(s *Scheduler) {
		if n >= 0 {
			s.bufferSize = n
		}
	}
}

func WithObserver(o Observer) Option {
	return func(s *Scheduler) {
		if o != nil {
			s.observers = append(s.observers, o)
		}
	}
}

// Scheduler runs fetch then match once per interval on a single goroutine.
// The next cycle starts one interval after the previous one finished.
type Scheduler struct {
	fetcher    Fetcher
	target     string
	interval   time.Duration
	bufferSize int
	observers  []Observer

	mu       sync.Mutex
	started  bool
	stopped  bool
	stopOnce sync.Once

	wg          sync.WaitGroup
	quit        chan struct{}
	seq         atomic.Uint64
	resultQueue chan types.CycleResult
}

func New(fetcher Fetcher, target string, interval time.Duration, opts ...Option) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}

	s := &Scheduler{
		fetcher:    fetcher,
		target:     target,
		interval:   interval,
		bufferSize: DefaultResultBuffer,
		quit:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.resultQueue = make(chan types.CycleResult, s.bufferSize)

	return s
}

// Start runs the first cycle immediately and keeps polling until Stop is
// called or ctx is done. A scheduler can be started once.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return errors.New("scheduler is stopped")
	}
	if s.started {
		return errors.New("scheduler already started")
	}
	s.started = true

	s.wg.Add(1)
	go s.loop(ctx)

	log.Debugf("scheduler started: target=%s interval=%s", s.target, s.interval)

	return nil
}

// Stop prevents further cycles and waits for an in-flight cycle to finish.
// It closes the Results channel and is safe to call more than once. It must
// not be called from an Observer.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()

	s.stopOnce.Do(func() {
		close(s.quit)
		s.wg.Wait()
		close(s.resultQueue)
		log.Debugf("scheduler stopped")
	})
}

func (s *Scheduler) Results() <-chan types.CycleResult {
	return s.resultQueue
}

func (s *Scheduler) Target() string {
	return s.target
}

func (s *Scheduler) Interval() time.Duration {
	return s.interval
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-s.quit:
			return
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		// quit and the timer can be ready together
		select {
		case <-s.quit:
			return
		case <-ctx.Done():
			return
		default:
		}

		res := s.RunCycle(ctx)
		if ctx.Err() != nil {
			return
		}
		s.report(res)

		timer.Reset(s.interval)
	}
}

// RunCycle fetches the pending requests and looks for the target spec once.
// Errors end the cycle and are returned in the result.
func (s *Scheduler) RunCycle(ctx context.Context) types.CycleResult {
	start := time.Now()
	res := types.CycleResult{
		Seq:       s.seq.Add(1),
		StartedAt: start,
		Match:     types.NotFound,
	}

	metrics.IncrCounter([]string{"oracle", "cycles"}, 1)

	set, err := s.fetcher.Fetch(ctx)
	if err != nil {
		res.Err = err
		metrics.IncrCounterWithLabels([]string{"oracle", "cycle", "errors"}, 1,
			[]metrics.Label{{Name: "kind", Value: types.ErrorKind(err)}})

		if ctx.Err() != nil {
			log.Debugf("cycle %d aborted: %v", res.Seq, err)
		} else {
			log.Errorf("cycle %d failed: %v", res.Seq, err)
		}
	} else {
		res.Requests = set.Len()
		res.Match = matcher.FindMatch(set, s.target)

		if res.Match.Found {
			metrics.IncrCounter([]string{"oracle", "cycle", "matches"}, 1)
			log.Infof("Found a spec we can work on, it's key: %s", res.Match.ID)
		} else {
			metrics.IncrCounter([]string{"oracle", "cycle", "no_matches"}, 1)
			log.Infof("Couldn't find a matching specification.")
		}
	}

	res.Duration = time.Since(start)
	metrics.MeasureSince([]string{"oracle", "cycle", "duration"}, start)

	for _, o := range s.observers {
		o(res)
	}

	return res
}

func (s *Scheduler) report(res types.CycleResult) {
	select {
	case s.resultQueue <- res:
	default:
		metrics.IncrCounter([]string{"oracle", "cycle", "dropped"}, 1)
		log.Errorf("result queue full, dropping result of cycle %d", res.Seq)
	}
}
