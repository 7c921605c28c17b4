// Package cycle drives the daily submission round: it computes the next
// trigger time, waits for it, opens the window, reminds stragglers, closes
// the window and hands the collected media to the distributor.
package cycle

import (
	"context"
	"fmt"
	"math/rand"
	"sync/atomic"
	"time"

	"berealbot/internal/dispatch"
	"berealbot/internal/distribute"
	"berealbot/internal/eventbus"
	"berealbot/internal/registry"
	"berealbot/internal/transport"
	logx "berealbot/pkg/logx"
)

type Service struct {
	cfg  Config
	reg  *registry.Registry
	disp *dispatch.Dispatcher
	dist *distribute.Distributor
	bus  eventbus.Bus
	log  logx.Logger

	state atomic.Int32

	// Test seams.
	now func() time.Time
	rng *rand.Rand
}

func New(cfg Config, reg *registry.Registry, disp *dispatch.Dispatcher, dist *distribute.Distributor, bus eventbus.Bus, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:  cfg.withDefaults(),
		reg:  reg,
		disp: disp,
		dist: dist,
		bus:  bus,
		log:  log,
		now:  time.Now,
		rng:  rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// State reports the current position in the daily round.
func (s *Service) State() State { return State(s.state.Load()) }

// Accepting reports whether media submissions are currently allowed.
// The grace interval is part of the open window: submissions stay accepted
// until the window actually closes.
func (s *Service) Accepting() bool {
	st := s.State()
	return st == StateCollecting || st == StateGrace
}

func (s *Service) setState(st State) {
	s.state.Store(int32(st))
	s.log.Info("cycle state", logx.String("state", st.String()))
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: "cycle." + st.String()})
	}
}

// Run executes the daily loop until ctx is canceled. It only returns a
// non-nil error on a persistence failure, which the supervisor treats as
// fatal; per-recipient delivery failures never surface here.
func (s *Service) Run(ctx context.Context) error {
	for {
		s.setState(StateWaiting)

		target, err := s.computeTarget()
		if err != nil {
			return err
		}
		s.log.Info("next round scheduled", logx.Time("at", target))

		if err := s.sleepUntil(ctx, target); err != nil {
			return nil
		}

		if err := s.openWindow(ctx); err != nil {
			return err
		}
		if err := s.sleepUntil(ctx, target.Add(s.cfg.Window-s.cfg.Grace)); err != nil {
			return nil
		}

		s.remind(ctx)
		if err := s.sleepUntil(ctx, target.Add(s.cfg.Window)); err != nil {
			return nil
		}

		if err := s.closeWindow(ctx); err != nil {
			return err
		}
	}
}

// openWindow resets submission flags and tells every participant the round is open.
func (s *Service) openWindow(ctx context.Context) error {
	if err := s.reg.ResetSubmissions(); err != nil {
		return err
	}
	s.setState(StateCollecting)

	text := fmt.Sprintf(TextRoundOpen, formatDur(s.cfg.Window))
	opt := &transport.SendOptions{ParseMode: "HTML"}
	for _, p := range s.reg.Participants() {
		s.disp.SendText(ctx, p.ID, text, opt)
	}
	return nil
}

// remind pings everyone who hasn't posted yet.
func (s *Service) remind(ctx context.Context) {
	s.setState(StateGrace)

	text := fmt.Sprintf(TextRoundReminder, formatDur(s.cfg.Grace))
	opt := &transport.SendOptions{ParseMode: "HTML"}
	for _, p := range s.reg.Participants() {
		if p.PostedMedia {
			continue
		}
		s.disp.SendText(ctx, p.ID, text, opt)
	}
}

// closeWindow announces the close, distributes the collected media and
// clears submission state for the next round.
func (s *Service) closeWindow(ctx context.Context) error {
	s.setState(StateDistributing)

	opt := &transport.SendOptions{ParseMode: "HTML"}
	for _, p := range s.reg.Participants() {
		s.disp.SendText(ctx, p.ID, TextRoundClosed, opt)
	}

	s.dist.Distribute(ctx)

	// Defensive double-reset: distribution reads are done, make sure nothing
	// leaks into the next round even if a submission raced the close.
	if err := s.reg.ResetSubmissions(); err != nil {
		return err
	}
	// The consumed anchor becomes a sentinel so the next iteration rolls fresh.
	return s.reg.SetNextCycleAt(time.Time{})
}

// sleepUntil blocks until the absolute wall-clock target. The deadline is
// re-checked periodically so a suspended process overshoots by at most one
// tick instead of the full suspension.
func (s *Service) sleepUntil(ctx context.Context, target time.Time) error {
	const maxTick = time.Minute
	for {
		d := target.Sub(s.now())
		if d <= 0 {
			return nil
		}
		if d > maxTick {
			d = maxTick
		}
		t := time.NewTimer(d)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

func formatDur(d time.Duration) string {
	d = d.Round(time.Minute)
	if d < time.Minute {
		return d.String()
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	if h == 0 {
		return fmt.Sprintf("%d minutes", m)
	}
	if m == 0 {
		if h == 1 {
			return "1 hour"
		}
		return fmt.Sprintf("%d hours", h)
	}
	return fmt.Sprintf("%dh %dm", h, m)
}
