package cycle

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"testing"
	"time"

	"berealbot/internal/dispatch"
	"berealbot/internal/distribute"
	"berealbot/internal/registry"
	"berealbot/internal/transport"
	"berealbot/pkg/logx"
)

type fakeAdapter struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeAdapter) Start(ctx context.Context, out chan<- transport.Update) error { return nil }
func (f *fakeAdapter) Stop(ctx context.Context) error                               { return nil }

func (f *fakeAdapter) record(chatID int64, kind, detail string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, fmt.Sprintf("%s:%d:%s", kind, chatID, detail))
	return nil
}

func (f *fakeAdapter) SendText(ctx context.Context, chatID int64, text string, opt *transport.SendOptions) error {
	return f.record(chatID, "text", text)
}

func (f *fakeAdapter) SendPhoto(ctx context.Context, chatID int64, ref, caption string, opt *transport.SendOptions) error {
	return f.record(chatID, "photo", ref)
}

func (f *fakeAdapter) SendVideo(ctx context.Context, chatID int64, ref string, opt *transport.SendOptions) error {
	return f.record(chatID, "video", ref)
}

func (f *fakeAdapter) snapshot() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type staticMembers map[int64][]int64

func (m staticMembers) Members(ctx context.Context, chatID int64) ([]int64, error) {
	return m[chatID], nil
}

type fixture struct {
	reg *registry.Registry
	ad  *fakeAdapter
	svc *Service
}

func setup(t *testing.T, cfg Config, members staticMembers) *fixture {
	t.Helper()
	reg, err := registry.Open(context.Background(), nil, logx.Nop())
	if err != nil {
		t.Fatalf("registry.Open: %v", err)
	}
	ad := &fakeAdapter{}
	disp := dispatch.New(ad, reg, 1000, logx.Nop())
	dist := distribute.New(reg, members, disp, logx.Nop())
	svc := New(cfg, reg, disp, dist, nil, logx.Nop())
	return &fixture{reg: reg, ad: ad, svc: svc}
}

func TestComputeTargetBounds(t *testing.T) {
	t.Parallel()
	cfg := Config{BeginHour: 10, EndHour: 21, Window: 30 * time.Minute, Grace: 10 * time.Minute, Location: time.UTC}
	now := time.Date(2026, 8, 28, 23, 50, 0, 0, time.UTC)

	for seed := int64(0); seed < 20; seed++ {
		f := setup(t, cfg, nil)
		f.svc.now = func() time.Time { return now }
		f.svc.rng = rand.New(rand.NewSource(seed))

		target, err := f.svc.computeTarget()
		if err != nil {
			t.Fatalf("computeTarget: %v", err)
		}
		if target.Day() != 29 || target.Month() != time.August {
			t.Fatalf("target %v not on the following day", target)
		}
		if h := target.Hour(); h < 10 || h >= 21 {
			t.Fatalf("target hour %d outside [10, 21)", h)
		}
		if !f.reg.NextCycleAt().Equal(target) {
			t.Fatal("target not persisted as anchor")
		}
	}
}

func TestComputeTargetReusesPersistedAnchor(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		anchor time.Time
	}{
		{name: "future anchor", anchor: now.Add(3 * time.Hour)},
		// a round missed while the process was down fires immediately
		{name: "past anchor", anchor: now.Add(-2 * time.Hour)},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			f := setup(t, Config{Location: time.UTC}, nil)
			f.svc.now = func() time.Time { return now }
			if err := f.reg.SetNextCycleAt(tt.anchor); err != nil {
				t.Fatalf("SetNextCycleAt: %v", err)
			}

			target, err := f.svc.computeTarget()
			if err != nil {
				t.Fatalf("computeTarget: %v", err)
			}
			if !target.Equal(tt.anchor) {
				t.Fatalf("target = %v, want persisted anchor %v", target, tt.anchor)
			}
		})
	}
}

func TestAcceptingOnlyWhileWindowOpen(t *testing.T) {
	t.Parallel()
	f := setup(t, Config{}, nil)

	tests := []struct {
		state State
		want  bool
	}{
		{StateWaiting, false},
		{StateCollecting, true},
		{StateGrace, true},
		{StateDistributing, false},
	}
	for _, tt := range tests {
		f.svc.setState(tt.state)
		if got := f.svc.Accepting(); got != tt.want {
			t.Fatalf("Accepting() in %v = %v, want %v", tt.state, got, tt.want)
		}
	}
}

func TestOpenWindowResetsFlagsAndNotifiesEveryone(t *testing.T) {
	t.Parallel()
	f := setup(t, Config{}, nil)
	for _, id := range []int64{7, 9} {
		if err := f.reg.RegisterParticipant(id, "p"); err != nil {
			t.Fatalf("RegisterParticipant: %v", err)
		}
	}
	// stale flag from a previous round
	if err := f.reg.RecordSubmission(7, transport.MediaPhoto, "old"); err != nil {
		t.Fatalf("RecordSubmission: %v", err)
	}

	if err := f.svc.openWindow(context.Background()); err != nil {
		t.Fatalf("openWindow: %v", err)
	}
	if got := f.svc.State(); got != StateCollecting {
		t.Fatalf("state = %v, want collecting", got)
	}
	for _, p := range f.reg.Participants() {
		if p.PostedMedia {
			t.Fatalf("participant %d entered the round already flagged", p.ID)
		}
	}
	if calls := f.ad.snapshot(); len(calls) != 2 {
		t.Fatalf("announcements = %v, want one per participant", calls)
	}
}

func TestRemindSkipsPosters(t *testing.T) {
	t.Parallel()
	f := setup(t, Config{}, nil)
	for _, id := range []int64{7, 9} {
		if err := f.reg.RegisterParticipant(id, "p"); err != nil {
			t.Fatalf("RegisterParticipant: %v", err)
		}
	}
	if err := f.reg.RecordSubmission(7, transport.MediaPhoto, "ref"); err != nil {
		t.Fatalf("RecordSubmission: %v", err)
	}

	f.svc.remind(context.Background())

	if got := f.svc.State(); got != StateGrace {
		t.Fatalf("state = %v, want grace", got)
	}
	calls := f.ad.snapshot()
	if len(calls) != 1 || !strings.HasPrefix(calls[0], "text:9:") {
		t.Fatalf("reminders = %v, want only participant 9", calls)
	}
}

func TestCloseWindowDistributesAndRearms(t *testing.T) {
	t.Parallel()
	members := staticMembers{-100: {7}}
	f := setup(t, Config{}, members)

	if err := f.reg.RegisterParticipant(7, "Alice"); err != nil {
		t.Fatalf("RegisterParticipant: %v", err)
	}
	if err := f.reg.RecordSubmission(7, transport.MediaPhoto, "photo-7"); err != nil {
		t.Fatalf("RecordSubmission: %v", err)
	}
	if _, err := f.reg.RegisterDestination(-100); err != nil {
		t.Fatalf("RegisterDestination: %v", err)
	}
	if err := f.reg.SetNextCycleAt(time.Date(2026, 8, 28, 14, 0, 0, 0, time.UTC)); err != nil {
		t.Fatalf("SetNextCycleAt: %v", err)
	}

	if err := f.svc.closeWindow(context.Background()); err != nil {
		t.Fatalf("closeWindow: %v", err)
	}

	var gotPhoto bool
	for _, c := range f.ad.snapshot() {
		if c == "photo:-100:photo-7" {
			gotPhoto = true
		}
	}
	if !gotPhoto {
		t.Fatalf("media not redistributed, calls = %v", f.ad.snapshot())
	}
	// flags and the consumed anchor are cleared for the next iteration
	for _, p := range f.reg.Participants() {
		if p.PostedMedia {
			t.Fatalf("participant %d still flagged after close", p.ID)
		}
	}
	if !f.reg.NextCycleAt().IsZero() {
		t.Fatalf("anchor = %v, want zero", f.reg.NextCycleAt())
	}
}

func TestSleepUntil(t *testing.T) {
	t.Parallel()
	f := setup(t, Config{}, nil)

	// past target returns immediately
	if err := f.svc.sleepUntil(context.Background(), time.Now().Add(-time.Second)); err != nil {
		t.Fatalf("sleepUntil(past) = %v", err)
	}

	// cancellation interrupts the wait
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.svc.sleepUntil(ctx, time.Now().Add(time.Hour)) }()
	cancel()
	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected context error")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("sleepUntil did not return after cancel")
	}
}

func TestFormatDur(t *testing.T) {
	t.Parallel()
	tests := []struct {
		d    time.Duration
		want string
	}{
		{30 * time.Minute, "30 minutes"},
		{10 * time.Minute, "10 minutes"},
		{time.Hour, "1 hour"},
		{2 * time.Hour, "2 hours"},
		{90 * time.Minute, "1h 30m"},
	}
	for _, tt := range tests {
		if got := formatDur(tt.d); got != tt.want {
			t.Fatalf("formatDur(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}
