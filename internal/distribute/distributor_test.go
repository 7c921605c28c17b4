package distribute

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"berealbot/internal/dispatch"
	"berealbot/internal/registry"
	"berealbot/internal/transport"
	"berealbot/pkg/logx"
)

type recordingAdapter struct {
	mu    sync.Mutex
	fail  map[int64]error
	calls []string
}

func newRecordingAdapter() *recordingAdapter { return &recordingAdapter{fail: map[int64]error{}} }

func (f *recordingAdapter) Start(ctx context.Context, out chan<- transport.Update) error { return nil }
func (f *recordingAdapter) Stop(ctx context.Context) error                               { return nil }

func (f *recordingAdapter) record(chatID int64, kind, detail string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, fmt.Sprintf("%s:%d:%s", kind, chatID, detail))
	return f.fail[chatID]
}

func (f *recordingAdapter) SendText(ctx context.Context, chatID int64, text string, opt *transport.SendOptions) error {
	return f.record(chatID, "text", text)
}

func (f *recordingAdapter) SendPhoto(ctx context.Context, chatID int64, ref, caption string, opt *transport.SendOptions) error {
	return f.record(chatID, "photo", ref)
}

func (f *recordingAdapter) SendVideo(ctx context.Context, chatID int64, ref string, opt *transport.SendOptions) error {
	return f.record(chatID, "video", ref)
}

func (f *recordingAdapter) snapshot() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// staticMembers maps destination ids to fixed member lists.
type staticMembers struct {
	byChat map[int64][]int64
	errFor map[int64]error
}

func (m *staticMembers) Members(ctx context.Context, chatID int64) ([]int64, error) {
	if err := m.errFor[chatID]; err != nil {
		return nil, err
	}
	return m.byChat[chatID], nil
}

type fixture struct {
	reg  *registry.Registry
	ad   *recordingAdapter
	dist *Distributor
}

func setup(t *testing.T, members *staticMembers) *fixture {
	t.Helper()
	reg, err := registry.Open(context.Background(), nil, logx.Nop())
	if err != nil {
		t.Fatalf("registry.Open: %v", err)
	}
	ad := newRecordingAdapter()
	disp := dispatch.New(ad, reg, 1000, logx.Nop())
	dist := New(reg, members, disp, logx.Nop())
	return &fixture{reg: reg, ad: ad, dist: dist}
}

func mustRegister(t *testing.T, reg *registry.Registry, id int64, name string) {
	t.Helper()
	if err := reg.RegisterParticipant(id, name); err != nil {
		t.Fatalf("RegisterParticipant(%d): %v", id, err)
	}
}

func TestDistributeOnlyPostedmembersOfEachChat(t *testing.T) {
	t.Parallel()
	members := &staticMembers{byChat: map[int64][]int64{
		-100: {7, 9},
		-200: {9},
	}}
	f := setup(t, members)

	mustRegister(t, f.reg, 7, "Alice")
	mustRegister(t, f.reg, 9, "Bob")
	if err := f.reg.RecordSubmission(7, transport.MediaPhoto, "photo-7"); err != nil {
		t.Fatalf("RecordSubmission: %v", err)
	}
	// Bob registered but did not post; Carol posted but is in no chat.
	mustRegister(t, f.reg, 11, "Carol")
	if err := f.reg.RecordSubmission(11, transport.MediaPhoto, "photo-11"); err != nil {
		t.Fatalf("RecordSubmission: %v", err)
	}
	for _, id := range []int64{-100, -200} {
		if _, err := f.reg.RegisterDestination(id); err != nil {
			t.Fatalf("RegisterDestination: %v", err)
		}
	}

	f.dist.Distribute(context.Background())

	calls := f.ad.snapshot()
	if len(calls) != 1 {
		t.Fatalf("calls = %v, want exactly one photo to -100", calls)
	}
	if calls[0] != "photo:-100:photo-7" {
		t.Fatalf("call = %q", calls[0])
	}
}

func TestDistributeVideoGetsSeparateCaption(t *testing.T) {
	t.Parallel()
	members := &staticMembers{byChat: map[int64][]int64{-100: {7}}}
	f := setup(t, members)

	mustRegister(t, f.reg, 7, "Alice")
	if err := f.reg.RecordSubmission(7, transport.MediaVideo, "vid-7"); err != nil {
		t.Fatalf("RecordSubmission: %v", err)
	}
	if _, err := f.reg.RegisterDestination(-100); err != nil {
		t.Fatalf("RegisterDestination: %v", err)
	}

	f.dist.Distribute(context.Background())

	calls := f.ad.snapshot()
	if len(calls) != 2 {
		t.Fatalf("calls = %v, want video then caption", calls)
	}
	if calls[0] != "video:-100:vid-7" {
		t.Fatalf("first call = %q", calls[0])
	}
	if !strings.HasPrefix(calls[1], "text:-100:") || !strings.Contains(calls[1], "Alice") {
		t.Fatalf("second call = %q, want attribution text", calls[1])
	}
}

func TestDistributeBadDestinationDoesNotAbort(t *testing.T) {
	t.Parallel()
	members := &staticMembers{
		byChat: map[int64][]int64{-200: {7}},
		errFor: map[int64]error{-100: errors.New("chat unknown")},
	}
	f := setup(t, members)

	mustRegister(t, f.reg, 7, "Alice")
	if err := f.reg.RecordSubmission(7, transport.MediaPhoto, "photo-7"); err != nil {
		t.Fatalf("RecordSubmission: %v", err)
	}
	for _, id := range []int64{-100, -200} {
		if _, err := f.reg.RegisterDestination(id); err != nil {
			t.Fatalf("RegisterDestination: %v", err)
		}
	}

	f.dist.Distribute(context.Background())

	calls := f.ad.snapshot()
	if len(calls) != 1 || calls[0] != "photo:-200:photo-7" {
		t.Fatalf("calls = %v, want delivery to the healthy destination", calls)
	}
}

func TestDistributeTouchesActivityOnlyOnDelivery(t *testing.T) {
	t.Parallel()
	members := &staticMembers{byChat: map[int64][]int64{
		-100: {7},
		-200: {},
	}}
	f := setup(t, members)

	mustRegister(t, f.reg, 7, "Alice")
	if err := f.reg.RecordSubmission(7, transport.MediaPhoto, "photo-7"); err != nil {
		t.Fatalf("RecordSubmission: %v", err)
	}
	for _, id := range []int64{-100, -200} {
		if _, err := f.reg.RegisterDestination(id); err != nil {
			t.Fatalf("RegisterDestination: %v", err)
		}
	}

	when := time.Date(2026, 8, 28, 18, 0, 0, 0, time.UTC)
	f.dist.WithClock(func() time.Time { return when })
	f.dist.Distribute(context.Background())

	for _, d := range f.reg.Destinations() {
		switch d.ID {
		case -100:
			if !d.LastActivity.Equal(when) {
				t.Fatalf("active destination LastActivity = %v, want %v", d.LastActivity, when)
			}
		case -200:
			if !d.LastActivity.IsZero() {
				t.Fatalf("idle destination LastActivity = %v, want zero", d.LastActivity)
			}
		}
	}
}

func TestCaptionFormat(t *testing.T) {
	t.Parallel()
	p := registry.Participant{
		DisplayName: "Alice",
		SubmittedAt: time.Date(2026, 8, 28, 9, 5, 0, 0, time.UTC),
	}
	if got, want := Caption(p), "<b>Alice</b>, 09:05"; got != want {
		t.Fatalf("Caption = %q, want %q", got, want)
	}
}
