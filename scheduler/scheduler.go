package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/timzifer/parkgate/remote"
	"github.com/timzifer/parkgate/telemetry"
)

// Kind distinguishes the two independent polls of a cycle.
type Kind string

const (
	KindStatus Kind = "status"
	KindParams Kind = "params"
)

// State of the scheduler.
type State string

const (
	StateIdle    State = "idle"
	StatePolling State = "polling"
)

// Handlers receive poll completions on the loop. seq grows monotonically per
// kind; receivers discard completions older than the newest one applied.
type Handlers struct {
	Status func(seq uint64, snap *remote.StatusSnapshot, err error)
	Params func(seq uint64, set remote.ParameterSet, err error)
	// Editing is consulted at tick time; while it reports true no
	// parameter poll is issued.
	Editing func() bool
}

// Status describes the scheduler for views.
type Status struct {
	State        State  `json:"state"`
	IntervalMS   int64  `json:"interval_ms"`
	IntervalText string `json:"interval_text"`
	Ticks        uint64 `json:"ticks"`
}

// Scheduler issues status and parameter polls on a fixed interval.
//
// Start, Stop, Refresh and SetInterval may be called from any goroutine.
// Polls are issued and completed on the loop.
type Scheduler struct {
	loop      *Loop
	device    remote.Device
	handlers  Handlers
	telemetry telemetry.Collector
	logger    zerolog.Logger
	ticker    *ticker

	mu     sync.Mutex
	state  State
	ctx    context.Context
	cancel context.CancelFunc
	ticks  uint64

	// loop-owned
	inFlight map[Kind]int
	seq      map[Kind]uint64
}

// New creates an idle scheduler.
func New(loop *Loop, device remote.Device, interval time.Duration, handlers Handlers, collector telemetry.Collector, logger zerolog.Logger) *Scheduler {
	if collector == nil {
		collector = telemetry.Noop()
	}
	return &Scheduler{
		loop:      loop,
		device:    device,
		handlers:  handlers,
		telemetry: collector,
		logger:    logger.With().Str("component", "scheduler").Logger(),
		ticker:    newTicker(interval),
		state:     StateIdle,
		inFlight:  make(map[Kind]int),
		seq:       make(map[Kind]uint64),
	}
}

// Start begins polling: one cycle right away, then one per interval.
// Requests in flight keep using ctx after Stop; cancelling ctx aborts them.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.state == StatePolling {
		s.mu.Unlock()
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.state = StatePolling
	s.ctx = ctx
	s.cancel = cancel
	s.mu.Unlock()

	s.logger.Info().Dur("interval", s.ticker.Interval()).Msg("polling started")
	s.loop.Post(s.tick)
	go s.run(runCtx)
}

// Stop returns the scheduler to idle. Pending completions are still
// delivered.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StatePolling {
		return
	}
	s.cancel()
	s.cancel = nil
	s.state = StateIdle
	s.logger.Info().Msg("polling stopped")
}

// Refresh issues a status poll immediately, even if one is in flight, and
// restarts the interval from now. It does nothing while idle.
func (s *Scheduler) Refresh() {
	if !s.polling() {
		return
	}
	s.ticker.Restart()
	s.loop.Post(func() {
		if s.polling() {
			s.issue(KindStatus, true)
		}
	})
}

// SetInterval changes the tick period and restarts it from now.
func (s *Scheduler) SetInterval(d time.Duration) {
	s.ticker.SetInterval(d)
}

// Status reports the scheduler state.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	state, ticks := s.state, s.ticks
	s.mu.Unlock()
	interval := s.ticker.Interval()
	return Status{
		State:        state,
		IntervalMS:   int64(interval / time.Millisecond),
		IntervalText: interval.String(),
		Ticks:        ticks,
	}
}

func (s *Scheduler) polling() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StatePolling
}

func (s *Scheduler) run(ctx context.Context) {
	for {
		if _, err := s.ticker.Wait(ctx); err != nil {
			return
		}
		if !s.loop.Post(s.tick) {
			return
		}
	}
}

func (s *Scheduler) tick() {
	s.mu.Lock()
	polling := s.state == StatePolling
	if polling {
		s.ticks++
	}
	s.mu.Unlock()
	if !polling {
		return
	}
	s.issue(KindStatus, false)
	if s.handlers.Editing != nil && s.handlers.Editing() {
		return
	}
	s.issue(KindParams, false)
}

func (s *Scheduler) requestContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx == nil {
		return context.Background()
	}
	return s.ctx
}

// issue starts a poll of kind. Timed polls are skipped while an earlier
// poll of the same kind is still in flight.
func (s *Scheduler) issue(kind Kind, manual bool) {
	if s.inFlight[kind] > 0 && !manual {
		s.telemetry.IncPollSkipped(string(kind))
		s.logger.Debug().Str("kind", string(kind)).Msg("previous poll still in flight, skipping")
		return
	}
	s.seq[kind]++
	seq := s.seq[kind]
	s.inFlight[kind]++
	ctx := s.requestContext()

	switch kind {
	case KindStatus:
		go func() {
			snap, err := s.device.GetStatus(ctx)
			s.loop.Post(func() {
				s.inFlight[kind]--
				s.record(kind, seq, err)
				if s.handlers.Status != nil {
					s.handlers.Status(seq, snap, err)
				}
			})
		}()
	case KindParams:
		go func() {
			set, err := s.device.GetParams(ctx)
			s.loop.Post(func() {
				s.inFlight[kind]--
				s.record(kind, seq, err)
				if s.handlers.Params != nil {
					s.handlers.Params(seq, set, err)
				}
			})
		}()
	}
}

func (s *Scheduler) record(kind Kind, seq uint64, err error) {
	if err != nil {
		s.telemetry.IncPoll(string(kind), telemetry.OutcomeError)
		s.logger.Debug().Err(err).Str("kind", string(kind)).Uint64("seq", seq).Msg("poll failed")
		return
	}
	s.telemetry.IncPoll(string(kind), telemetry.OutcomeOK)
}

// InFlight reports the number of outstanding polls of kind. It must be
// called on the loop.
func (s *Scheduler) InFlight(kind Kind) int {
	return s.inFlight[kind]
}

// Issue starts a poll of kind right away, in flight or not. It must be
// called on the loop.
func (s *Scheduler) Issue(kind Kind) {
	s.issue(kind, true)
}

// Seq returns the sequence number of the newest poll of kind. It must be
// called on the loop.
func (s *Scheduler) Seq(kind Kind) uint64 {
	return s.seq[kind]
}
