package adapter

import (
	"errors"
	"fmt"
	"testing"

	tele "gopkg.in/telebot.v4"

	kit "berealbot/internal/transport"
)

func TestMemberTracker(t *testing.T) {
	t.Parallel()
	tr := newMemberTracker()

	tr.note(-100, 9)
	tr.note(-100, 7)
	tr.note(-100, 7) // duplicate
	tr.note(-200, 5)
	tr.note(-100, 0) // ignored

	if got := tr.members(-100); len(got) != 2 || got[0] != 7 || got[1] != 9 {
		t.Fatalf("members(-100) = %v, want [7 9]", got)
	}

	tr.forget(-100, 7)
	if got := tr.members(-100); len(got) != 1 || got[0] != 9 {
		t.Fatalf("after forget: %v", got)
	}

	tr.dropChat(-100)
	if got := tr.members(-100); len(got) != 0 {
		t.Fatalf("after dropChat: %v", got)
	}
	// other chats are untouched
	if got := tr.members(-200); len(got) != 1 || got[0] != 5 {
		t.Fatalf("members(-200) = %v", got)
	}
}

func TestClassifySendErr(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name        string
		err         error
		unreachable bool
	}{
		{name: "nil", err: nil},
		{name: "blocked", err: tele.ErrBlockedByUser, unreachable: true},
		{name: "deactivated", err: tele.ErrUserIsDeactivated, unreachable: true},
		{name: "chat gone", err: tele.ErrChatNotFound, unreachable: true},
		{name: "other 403", err: &tele.Error{Code: 403, Description: "bot was kicked"}, unreachable: true},
		{name: "flood wait", err: &tele.Error{Code: 429, Description: "too many requests"}},
		{name: "plain error", err: errors.New("dial tcp: timeout")},
		{name: "wrapped blocked", err: fmt.Errorf("send: %w", tele.ErrBlockedByUser), unreachable: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got := classifySendErr(tt.err)
			if tt.err == nil {
				if got != nil {
					t.Fatalf("classifySendErr(nil) = %v", got)
				}
				return
			}
			if got == nil {
				t.Fatal("error swallowed")
			}
			if errors.Is(got, kit.ErrRecipientUnreachable) != tt.unreachable {
				t.Fatalf("unreachable = %v, want %v (err %v)", !tt.unreachable, tt.unreachable, got)
			}
			// the original cause stays inspectable
			if !errors.Is(got, tt.err) && !errors.Is(tt.err, got) {
				var teleErr *tele.Error
				if !errors.As(got, &teleErr) {
					t.Fatalf("original error lost: %v", got)
				}
			}
		})
	}
}
