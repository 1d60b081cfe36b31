// Package bridge runs the ingestion loop: read a line from the device, parse
// it, persist the reading. The Supervisor owns both connections and is the
// only place that decides between skipping, reconnecting and giving up.
//
// Readings are handled one at a time and never queued. A reading whose write
// fails transiently is dropped and logged, then the store is reconnected;
// there is no replay. Store outages therefore lose the readings that arrive
// while the store is down.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/luhtfiimanal/irrigo-bridge/frame"
	"github.com/luhtfiimanal/irrigo-bridge/serial"
	"github.com/luhtfiimanal/irrigo-bridge/store"
)

// State is the supervisor's position in its lifecycle.
type State int32

const (
	Starting State = iota
	Running
	RecoveringLink
	RecoveringStore
	Stopped
)

func (s State) String() string {
	switch s {
	case Starting:
		return "starting"
	case Running:
		return "running"
	case RecoveringLink:
		return "recovering(link)"
	case RecoveringStore:
		return "recovering(store)"
	case Stopped:
		return "stopped"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Link is an open device channel. *serial.SerialReader implements it.
type Link interface {
	NextLine(timeout time.Duration) ([]byte, error)
	Close() error
}

// Options wires the supervisor to its collaborators.
type Options struct {
	// OpenLink opens the device. *serial.UnavailableError is retried,
	// any other error ends Run.
	OpenLink func(ctx context.Context) (Link, error)
	// OpenStore opens the store. *store.UnavailableError is retried,
	// any other error ends Run.
	OpenStore func(ctx context.Context) (store.Store, error)

	PollTimeout  time.Duration // how long one NextLine call may wait
	PollInterval time.Duration // idle sleep after NoData
	RetryDelay   time.Duration // fixed delay between reconnect attempts
	WriteTimeout time.Duration // bound on IsAlive and Write

	Logger        zerolog.Logger
	Metrics       *Metrics
	OnStateChange func(State)
}

// Supervisor runs the read, parse, persist loop on a single goroutine.
type Supervisor struct {
	opts  Options
	log   zerolog.Logger
	state atomic.Int32

	link  Link
	store store.Store
}

// New returns a Supervisor in the Starting state.
func New(opts Options) *Supervisor {
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = 100 * time.Millisecond
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 100 * time.Millisecond
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 2 * time.Second
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 5 * time.Second
	}
	return &Supervisor{
		opts: opts,
		log:  opts.Logger.With().Str("component", "supervisor").Logger(),
	}
}

// State is safe to call from any goroutine.
func (s *Supervisor) State() State {
	return State(s.state.Load())
}

func (s *Supervisor) setState(st State) {
	prev := State(s.state.Swap(int32(st)))
	if prev == st {
		return
	}
	s.log.Info().Stringer("from", prev).Stringer("to", st).Msg("state change")
	s.opts.Metrics.SetState(st)
	if s.opts.OnStateChange != nil {
		s.opts.OnStateChange(st)
	}
}

// Run opens both connections and processes lines until ctx is cancelled.
// It returns nil on shutdown and an error only for conditions that retrying
// cannot fix. Both connections are closed before Run returns.
func (s *Supervisor) Run(ctx context.Context) error {
	defer s.shutdown()
	s.setState(Starting)

	if err := s.connectLink(ctx); err != nil {
		return s.fatal(ctx, "open device", err)
	}
	if err := s.connectStore(ctx); err != nil {
		return s.fatal(ctx, "open store", err)
	}
	s.setState(Running)

	for ctx.Err() == nil {
		raw, err := s.link.NextLine(s.opts.PollTimeout)
		switch {
		case err == nil:
			if err := s.handleLine(ctx, raw); err != nil {
				return s.fatal(ctx, "reconnect store", err)
			}
		case errors.Is(err, serial.ErrNoData):
			sleepContext(ctx, s.opts.PollInterval)
		default:
			s.log.Warn().Err(err).Msg("device link failed")
			if err := s.recoverLink(ctx); err != nil {
				return s.fatal(ctx, "reconnect device", err)
			}
		}
	}
	return nil
}

func (s *Supervisor) fatal(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil {
		return nil
	}
	s.log.Error().Err(err).Str("op", op).Msg("giving up")
	return fmt.Errorf("%s: %w", op, err)
}

// shutdown closes whatever is open. It runs on every exit path of Run.
func (s *Supervisor) shutdown() {
	s.closeLink()
	s.closeStore()
	s.setState(Stopped)
}

func (s *Supervisor) handleLine(ctx context.Context, raw []byte) error {
	s.log.Debug().Bytes("line", raw).Msg("received")

	r, err := frame.ParseBytes(raw)
	var (
		fe *frame.Error
		de *frame.DecodeError
	)
	switch {
	case errors.Is(err, frame.ErrIgnored):
		s.opts.Metrics.Line("ignored")
		s.log.Debug().Bytes("line", raw).Msg("ignored non-telemetry line")
		return nil
	case errors.As(err, &de):
		s.opts.Metrics.Line("decode_error")
		s.log.Warn().Hex("raw", de.Raw).Msg("dropped line: invalid UTF-8")
		return nil
	case errors.As(err, &fe):
		s.opts.Metrics.Line("frame_error")
		s.log.Warn().Str("line", fe.Line).Str("field", fe.Field).AnErr("cause", fe.Cause).Msg("dropped malformed frame")
		return nil
	case err != nil:
		s.opts.Metrics.Line("frame_error")
		s.log.Warn().Err(err).Bytes("line", raw).Msg("dropped line")
		return nil
	}
	s.opts.Metrics.Line("reading")
	return s.persist(ctx, r)
}

// persist writes one reading. A write already started is not interrupted by
// shutdown; only its own timeout bounds it.
func (s *Supervisor) persist(ctx context.Context, r frame.Reading) error {
	logr := s.log.With().
		Int("moisture", r.Moisture).
		Int("water_level", r.WaterLevel).
		Int("pump_status", r.PumpStatus).
		Logger()

	if !s.alive(ctx) {
		logr.Warn().Msg("store not alive before write, reconnecting")
		if err := s.recoverStore(ctx); err != nil {
			s.opts.Metrics.Dropped("store_unavailable")
			logr.Warn().Err(err).Msg("dropped reading: store reconnect interrupted")
			return err
		}
	}

	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.WriteTimeout)
	err := s.store.Write(wctx, r)
	cancel()

	switch {
	case err == nil:
		s.opts.Metrics.Write("ok")
		logr.Info().
			Int("moisture_pct", r.MoisturePercent()).
			Str("water", r.Water()).
			Str("pump", r.Pump()).
			Msg("reading stored")
		return nil
	case store.IsPermanent(err):
		s.opts.Metrics.Write("permanent")
		s.opts.Metrics.Dropped("permanent_error")
		logr.Error().Err(err).Msg("dropped reading: store rejected it")
		return nil
	default:
		s.opts.Metrics.Write("transient")
		s.opts.Metrics.Dropped("transient_error")
		logr.Warn().Err(err).Msg("dropped reading: write failed, reconnecting store")
		return s.recoverStore(ctx)
	}
}

func (s *Supervisor) alive(ctx context.Context) bool {
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.WriteTimeout)
	defer cancel()
	return s.store.IsAlive(actx)
}

func (s *Supervisor) recoverLink(ctx context.Context) error {
	s.setState(RecoveringLink)
	s.opts.Metrics.Reconnect("device")
	s.closeLink()
	if err := s.connectLink(ctx); err != nil {
		return err
	}
	s.setState(Running)
	return nil
}

func (s *Supervisor) recoverStore(ctx context.Context) error {
	s.setState(RecoveringStore)
	s.opts.Metrics.Reconnect("store")
	s.closeStore()
	if err := s.connectStore(ctx); err != nil {
		return err
	}
	s.setState(Running)
	return nil
}

func (s *Supervisor) connectLink(ctx context.Context) error {
	return s.retry(ctx, "device", func() error {
		l, err := s.opts.OpenLink(ctx)
		if err != nil {
			var ue *serial.UnavailableError
			if !errors.As(err, &ue) {
				return backoff.Permanent(err)
			}
			return err
		}
		s.link = l
		s.log.Info().Msg("device link open")
		return nil
	})
}

func (s *Supervisor) connectStore(ctx context.Context) error {
	return s.retry(ctx, "store", func() error {
		st, err := s.opts.OpenStore(ctx)
		if err != nil {
			var ue *store.UnavailableError
			if !errors.As(err, &ue) {
				return backoff.Permanent(err)
			}
			return err
		}
		s.store = st
		s.log.Info().Msg("store open")
		return nil
	})
}

// retry runs op until it succeeds, returns a permanent error or ctx ends.
// The delay between attempts is fixed and the number of attempts unbounded.
func (s *Supervisor) retry(ctx context.Context, target string, op func() error) error {
	attempt := 0
	b := backoff.WithContext(backoff.NewConstantBackOff(s.opts.RetryDelay), ctx)
	return backoff.RetryNotify(func() error {
		attempt++
		return op()
	}, b, func(err error, next time.Duration) {
		s.log.Warn().Err(err).
			Str("target", target).
			Int("attempt", attempt).
			Dur("retry_in", next).
			Msg("connect failed")
	})
}

func (s *Supervisor) closeLink() {
	if s.link == nil {
		return
	}
	if err := s.link.Close(); err != nil {
		s.log.Warn().Err(err).Msg("closing device link")
	}
	s.link = nil
}

func (s *Supervisor) closeStore() {
	if s.store == nil {
		return
	}
	if err := s.store.Close(); err != nil {
		s.log.Warn().Err(err).Msg("closing store")
	}
	s.store = nil
}

func sleepContext(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
