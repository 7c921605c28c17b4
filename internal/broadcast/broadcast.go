// Package broadcast implements the operator-facing manual announcement path:
// free-form text fanned out to every known participant, behind an explicit
// confirmation step.
package broadcast

import (
	"context"
	"sync"
	"time"

	"berealbot/internal/dispatch"
	"berealbot/internal/registry"
	"berealbot/internal/transport"
	logx "berealbot/pkg/logx"
)

// PendingTTL bounds how long a staged broadcast waits for confirmation.
const PendingTTL = 5 * time.Minute

type pending struct {
	text     string
	stagedBy int64
	stagedAt time.Time
}

// Service stages one broadcast at a time. Staging replaces any previous
// unconfirmed request; confirmation fans out through the dispatcher with the
// same per-recipient failure isolation as every other send.
type Service struct {
	reg  *registry.Registry
	disp *dispatch.Dispatcher
	log  logx.Logger
	now  func() time.Time

	mu      sync.Mutex
	pending *pending
}

func New(reg *registry.Registry, disp *dispatch.Dispatcher, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{reg: reg, disp: disp, log: log, now: time.Now}
}

// WithClock overrides the time source (tests).
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Stage records a broadcast awaiting confirmation and returns the number of
// participants it would reach.
func (s *Service) Stage(text string, by int64) int {
	s.mu.Lock()
	s.pending = &pending{text: text, stagedBy: by, stagedAt: s.now()}
	s.mu.Unlock()
	return s.reg.ParticipantCount()
}

// Confirm sends the staged broadcast. It reports (delivered, failed, ok);
// ok is false when nothing was staged, the request expired, or the confirming
// operator differs from the staging one.
func (s *Service) Confirm(ctx context.Context, by int64) (delivered, failed int, ok bool) {
	s.mu.Lock()
	p := s.pending
	if p == nil || s.now().Sub(p.stagedAt) > PendingTTL {
		s.pending = nil
		s.mu.Unlock()
		return 0, 0, false
	}
	// Another operator's staged request stays put.
	if p.stagedBy != by {
		s.mu.Unlock()
		return 0, 0, false
	}
	s.pending = nil
	s.mu.Unlock()

	opt := &transport.SendOptions{ParseMode: "HTML"}
	for _, part := range s.reg.Participants() {
		if s.disp.SendText(ctx, part.ID, p.text, opt) == dispatch.Delivered {
			delivered++
		} else {
			failed++
		}
	}
	s.log.Info("broadcast sent",
		logx.Int64("by", by),
		logx.Int("delivered", delivered),
		logx.Int("failed", failed))
	return delivered, failed, true
}

// Cancel discards the staged broadcast, reporting whether one existed for
// this operator.
func (s *Service) Cancel(by int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == nil || s.pending.stagedBy != by {
		return false
	}
	s.pending = nil
	return true
}
