// Package session wires the device client, presenter, parameter sync and
// poll scheduler onto a single loop and publishes what the operator sees.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/timzifer/parkgate/params"
	"github.com/timzifer/parkgate/presenter"
	"github.com/timzifer/parkgate/remote"
	"github.com/timzifer/parkgate/scheduler"
	"github.com/timzifer/parkgate/telemetry"
)

// DefaultNoticeTTL is how long a notice stays visible.
const DefaultNoticeTTL = 3 * time.Second

// Recorder receives every successfully polled snapshot.
type Recorder interface {
	Record(at time.Time, snap *remote.StatusSnapshot)
}

// Options configure a session.
type Options struct {
	Device    remote.Device
	DeviceURL string
	Interval  time.Duration
	Precision int32
	NoticeTTL time.Duration
	Rules     *presenter.Rules
	Schema    *params.Schema
	Labels    map[string]string
	Telemetry telemetry.Collector
	Recorder  Recorder
	Logger    zerolog.Logger
	Now       func() time.Time
}

// Session owns all client state. Operator actions may be called from any
// goroutine; they are queued onto the session loop.
type Session struct {
	loop      *scheduler.Loop
	sched     *scheduler.Scheduler
	device    remote.Device
	deviceURL string
	presenter *presenter.Presenter
	guard     *params.Guard
	sync      *params.Sync
	telemetry telemetry.Collector
	recorder  Recorder
	logger    zerolog.Logger
	now       func() time.Time
	noticeTTL time.Duration

	// loop-owned
	ctx         context.Context
	saving      bool
	failing     bool
	paramsErr   string
	paramsFence uint64
	paramsSeq   uint64
	saves       uint64
	notice      *Notice
	noticeTimer *time.Timer
	version     uint64

	latest atomic.Pointer[View]

	subsMu sync.Mutex
	subs   map[int]chan View
	nextID int
}

// New builds a session. Nothing is polled before Run.
func New(opts Options) (*Session, error) {
	if opts.Device == nil {
		return nil, errors.New("session requires a device")
	}
	if opts.Telemetry == nil {
		opts.Telemetry = telemetry.Noop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NoticeTTL <= 0 {
		opts.NoticeTTL = DefaultNoticeTTL
	}
	guard := params.NewGuard()
	s := &Session{
		loop:      scheduler.NewLoop(),
		device:    opts.Device,
		deviceURL: opts.DeviceURL,
		presenter: presenter.New(opts.Precision, opts.Rules, opts.Logger),
		guard:     guard,
		sync:      params.NewSync(guard, opts.Schema, opts.Labels),
		telemetry: opts.Telemetry,
		recorder:  opts.Recorder,
		logger:    opts.Logger.With().Str("component", "session").Logger(),
		now:       opts.Now,
		noticeTTL: opts.NoticeTTL,
		ctx:       context.Background(),
		subs:      make(map[int]chan View),
	}
	s.sched = scheduler.New(s.loop, opts.Device, opts.Interval, scheduler.Handlers{
		Status:  s.onStatus,
		Params:  s.onParams,
		Editing: guard.IsEditing,
	}, opts.Telemetry, opts.Logger)
	view := s.buildView()
	s.latest.Store(&view)
	return s, nil
}

// Run polls the device until ctx is cancelled.
func (s *Session) Run(ctx context.Context) error {
	s.loop.Post(func() { s.ctx = ctx })
	s.sched.Start(ctx)
	s.loop.Run(ctx)
	s.sched.Stop()
	s.closeSubscribers()
	return nil
}

// Current returns the latest view.
func (s *Session) Current() View {
	return *s.latest.Load()
}

// Subscribe returns a channel carrying the latest view after every change.
// Slow readers only miss intermediate views. The channel is closed when the
// session stops or cancel is called.
func (s *Session) Subscribe() (<-chan View, func()) {
	ch := make(chan View, 1)
	ch <- s.Current()
	s.subsMu.Lock()
	id := s.nextID
	s.nextID++
	if s.subs == nil {
		s.subsMu.Unlock()
		close(ch)
		return ch, func() {}
	}
	s.subs[id] = ch
	s.subsMu.Unlock()
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.subsMu.Lock()
			defer s.subsMu.Unlock()
			if sub, ok := s.subs[id]; ok {
				delete(s.subs, id)
				close(sub)
			}
		})
	}
}

// Focus marks a parameter field as being edited.
func (s *Session) Focus(name string) {
	s.loop.Post(func() {
		s.guard.Enter(name)
		s.publish()
	})
}

// Blur marks a parameter field as no longer edited. The typed text stays
// until the next reconciliation.
func (s *Session) Blur(name string) {
	s.loop.Post(func() {
		s.guard.Exit(name)
		s.publish()
	})
}

// SetField stores operator text for a parameter.
func (s *Session) SetField(name, text string) {
	s.loop.Post(func() {
		if s.sync.SetField(name, text) {
			s.publish()
		}
	})
}

// Save submits the edit buffer.
func (s *Session) Save() {
	s.loop.Post(s.save)
}

// Refresh polls the device status right away.
func (s *Session) Refresh() {
	s.sched.Refresh()
}

// SetInterval changes the poll period.
func (s *Session) SetInterval(d time.Duration) {
	s.sched.SetInterval(d)
}

// Sync runs fn on the session loop and waits for it. Tests and the
// healthcheck use it to observe state consistently.
func (s *Session) Sync(ctx context.Context, fn func()) error {
	return s.loop.Call(ctx, fn)
}

func (s *Session) onStatus(seq uint64, snap *remote.StatusSnapshot, err error) {
	now := s.now()
	_, applied := s.presenter.Apply(seq, snap, err, now)
	if !applied {
		s.telemetry.IncPoll(string(scheduler.KindStatus), telemetry.OutcomeStale)
		return
	}
	s.telemetry.SetConnected(err == nil)
	if err != nil {
		if !s.failing {
			s.logger.Warn().Err(err).Msg("device unreachable")
		} else {
			s.logger.Debug().Err(err).Msg("device still unreachable")
		}
		s.failing = true
		s.publish()
		return
	}
	if s.failing {
		s.logger.Info().Msg("device reachable again")
	}
	s.failing = false
	if s.recorder != nil {
		s.recorder.Record(now, snap)
	}
	s.publish()
}

func (s *Session) onParams(seq uint64, set remote.ParameterSet, err error) {
	if seq <= s.paramsFence || seq < s.paramsSeq {
		s.telemetry.IncPoll(string(scheduler.KindParams), telemetry.OutcomeStale)
		return
	}
	s.paramsSeq = seq
	if err != nil {
		s.paramsErr = err.Error()
		s.logger.Debug().Err(err).Msg("parameter poll failed")
		s.publish()
		return
	}
	s.paramsErr = ""
	overwritten, stale := s.sync.Apply(seq, set)
	if stale {
		s.telemetry.IncPoll(string(scheduler.KindParams), telemetry.OutcomeStale)
		return
	}
	s.telemetry.IncReconcile(overwritten)
	s.publish()
}

func (s *Session) save() {
	if s.saving {
		return
	}
	set, err := s.sync.Prepare()
	if err != nil {
		s.telemetry.IncSave("invalid")
		s.showNotice(NoticeError, err.Error())
		s.publish()
		return
	}
	s.saving = true
	s.publish()
	ctx := s.ctx
	go func() {
		ack, err := s.device.SetParams(ctx, set)
		s.loop.Post(func() {
			s.saved(ack, err)
		})
	}()
}

func (s *Session) saved(ack remote.Ack, err error) {
	s.saving = false
	if err != nil {
		s.telemetry.IncSave(telemetry.OutcomeError)
		s.logger.Warn().Err(err).Msg("saving parameters failed")
		s.showNotice(NoticeError, fmt.Sprintf("Error al guardar: %v", err))
		s.publish()
		return
	}
	s.telemetry.IncSave(telemetry.OutcomeOK)
	s.saves++
	// Parameter polls issued before the device acknowledged may carry the
	// old values.
	s.paramsFence = s.sched.Seq(scheduler.KindParams)
	if s.sync.Confirm(0, ack) {
		s.sched.Issue(scheduler.KindParams)
	}
	text := ack.Message
	if text == "" {
		text = "Parámetros guardados"
	}
	s.logger.Info().Str("message", ack.Message).Bool("echo", ack.HasEcho()).Msg("parameters saved")
	s.showNotice(NoticeSuccess, text)
	s.publish()
}

func (s *Session) showNotice(kind NoticeKind, text string) {
	if s.noticeTimer != nil {
		s.noticeTimer.Stop()
	}
	notice := &Notice{Text: text, Kind: kind, Expires: s.now().Add(s.noticeTTL)}
	s.notice = notice
	s.noticeTimer = time.AfterFunc(s.noticeTTL, func() {
		s.loop.Post(func() {
			if s.notice == notice {
				s.notice = nil
				s.publish()
			}
		})
	})
}

func (s *Session) buildView() View {
	view := View{
		Device:      s.deviceURL,
		Display:     s.presenter.Current(),
		Fields:      s.sync.Fields(),
		ParamsReady: s.sync.Ready(),
		ParamsError: s.paramsErr,
		Editing:     s.guard.IsEditing(),
		Saving:      s.saving,
		Saves:       s.saves,
		Scheduler:   s.sched.Status(),
		Version:     s.version,
	}
	if s.notice != nil {
		notice := *s.notice
		view.Notice = &notice
	}
	return view
}

func (s *Session) publish() {
	s.version++
	view := s.buildView()
	s.latest.Store(&view)

	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for _, ch := range s.subs {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- view:
		default:
		}
	}
}

func (s *Session) closeSubscribers() {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for id, ch := range s.subs {
		close(ch)
		delete(s.subs, id)
	}
	s.subs = nil
	if s.noticeTimer != nil {
		s.noticeTimer.Stop()
	}
}
