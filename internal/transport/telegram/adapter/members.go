package adapter

import (
	"context"
	"sort"
	"sync"
)

// memberTracker learns group membership from observed traffic.
//
// The Bot API has no call to enumerate a group's members, so the adapter
// builds the set from what it can see: join/leave service messages and the
// senders of regular group messages. The set is in-memory only; it repopulates
// from traffic after a restart.
type memberTracker struct {
	mu    sync.Mutex
	chats map[int64]map[int64]struct{}
}

func newMemberTracker() *memberTracker {
	return &memberTracker{chats: map[int64]map[int64]struct{}{}}
}

func (t *memberTracker) note(chatID, userID int64) {
	if userID == 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	m := t.chats[chatID]
	if m == nil {
		m = map[int64]struct{}{}
		t.chats[chatID] = m
	}
	m[userID] = struct{}{}
}

func (t *memberTracker) forget(chatID, userID int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if m := t.chats[chatID]; m != nil {
		delete(m, userID)
	}
}

func (t *memberTracker) dropChat(chatID int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.chats, chatID)
}

func (t *memberTracker) members(chatID int64) []int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	m := t.chats[chatID]
	out := make([]int64, 0, len(m))
	for id := range m {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Members implements transport.MemberLister.
func (a *Adapter) Members(ctx context.Context, chatID int64) ([]int64, error) {
	_ = ctx
	return a.tracker.members(chatID), nil
}
