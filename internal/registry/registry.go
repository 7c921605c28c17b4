package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"berealbot/internal/eventbus"
	"berealbot/internal/storage"
	"berealbot/internal/transport"
	logx "berealbot/pkg/logx"
)

// ErrNotRegistered is returned when an operation references an unknown participant.
var ErrNotRegistered = errors.New("participant not registered")

type Participant = storage.Participant

type Destination = storage.Destination

// Registry is the durable, in-memory source of truth for participants,
// destinations and the next scheduled cycle time.
//
// Every mutating operation persists the full snapshot synchronously before
// returning (write-through), inside the same critical section, so the
// in-memory and durable copies never diverge past a single mutation. No
// operation performs any other I/O or sleeping while holding the lock.
//
// A persistence failure is fatal by policy: it is reported through the fatal
// hook (if installed) in addition to being returned, since continuing with
// divergent memory/durable state would violate the write-through invariant.
type Registry struct {
	log   logx.Logger
	store storage.SnapshotStore
	bus   eventbus.Bus

	// fatal is invoked on persistence failures. The app wires it to the
	// supervisor so the process goes down instead of running divergent.
	fatal func(error)

	now func() time.Time

	mu           sync.Mutex
	participants map[int64]Participant
	destinations map[int64]Destination
	nextCycleAt  time.Time
}

type Option func(*Registry)

func WithBus(bus eventbus.Bus) Option {
	return func(r *Registry) { r.bus = bus }
}

// WithFatalHook installs the persistence-failure escalation hook.
func WithFatalHook(fn func(error)) Option {
	return func(r *Registry) { r.fatal = fn }
}

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// Open loads the persisted snapshot (or starts empty) and returns a ready
// registry. A nil store keeps the registry memory-only.
func Open(ctx context.Context, store storage.SnapshotStore, log logx.Logger, opts ...Option) (*Registry, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	r := &Registry{
		log:          log,
		store:        store,
		now:          time.Now,
		participants: map[int64]Participant{},
		destinations: map[int64]Destination{},
	}
	for _, o := range opts {
		o(r)
	}

	if store != nil {
		snap, err := store.Load(ctx)
		if err != nil {
			return nil, fmt.Errorf("load snapshot: %w", err)
		}
		r.participants = snap.Participants
		r.destinations = snap.Destinations
		r.nextCycleAt = snap.NextCycleAt
		log.Info("snapshot loaded",
			logx.Int("participants", len(r.participants)),
			logx.Int("destinations", len(r.destinations)),
			logx.Time("next_cycle_at", r.nextCycleAt))
	}
	return r, nil
}

// persistLocked writes the full snapshot through the store. Callers must hold r.mu.
func (r *Registry) persistLocked() error {
	if r.store == nil {
		return nil
	}
	snap := storage.Snapshot{
		Participants: make(map[int64]Participant, len(r.participants)),
		Destinations: make(map[int64]Destination, len(r.destinations)),
		NextCycleAt:  r.nextCycleAt,
	}
	for id, p := range r.participants {
		snap.Participants[id] = p
	}
	for id, d := range r.destinations {
		snap.Destinations[id] = d
	}
	if err := r.store.Save(context.Background(), snap); err != nil {
		err = fmt.Errorf("persist snapshot: %w", err)
		r.log.Error("snapshot write failed", logx.Err(err))
		if r.fatal != nil {
			r.fatal(err)
		}
		return err
	}
	return nil
}

func (r *Registry) publish(typ string, data any) {
	if r.bus != nil {
		r.bus.Publish(eventbus.Event{Type: typ, Data: data})
	}
}

// RegisterParticipant inserts or overwrites a participant with a clean
// submission state.
func (r *Registry) RegisterParticipant(id int64, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.participants[id] = Participant{
		ID:           id,
		DisplayName:  name,
		RegisteredAt: r.now(),
	}
	if err := r.persistLocked(); err != nil {
		return err
	}
	r.publish("registry.participant_registered", id)
	return nil
}

// RemoveParticipant removes the participant if present and reports whether it existed.
func (r *Registry) RemoveParticipant(id int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.participants[id]; !ok {
		return false, nil
	}
	delete(r.participants, id)
	if err := r.persistLocked(); err != nil {
		return true, err
	}
	r.publish("registry.participant_removed", id)
	return true, nil
}

// RecordSubmission marks the participant's media for the current round.
func (r *Registry) RecordSubmission(id int64, kind transport.MediaKind, ref string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.participants[id]
	if !ok {
		return ErrNotRegistered
	}
	p.PostedMedia = true
	p.MediaKind = kind
	p.MediaRef = ref
	p.SubmittedAt = r.now()
	r.participants[id] = p
	if err := r.persistLocked(); err != nil {
		return err
	}
	r.publish("registry.submission", id)
	return nil
}

// ResetSubmissions clears the posted flag on every participant.
// Media kind/ref are left stale; PostedMedia gates all reads of them.
// The snapshot is persisted once after the bulk update.
func (r *Registry) ResetSubmissions() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, p := range r.participants {
		p.PostedMedia = false
		r.participants[id] = p
	}
	return r.persistLocked()
}

// RegisterDestination adds a destination; it reports whether the set changed.
func (r *Registry) RegisterDestination(id int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.destinations[id]; ok {
		return false, nil
	}
	r.destinations[id] = Destination{ID: id, AddedAt: r.now()}
	if err := r.persistLocked(); err != nil {
		return true, err
	}
	r.publish("registry.destination_added", id)
	return true, nil
}

// RemoveDestination removes a destination; it reports whether the set changed.
func (r *Registry) RemoveDestination(id int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.destinations[id]; !ok {
		return false, nil
	}
	delete(r.destinations, id)
	if err := r.persistLocked(); err != nil {
		return true, err
	}
	r.publish("registry.destination_removed", id)
	return true, nil
}

// TouchDestinationActivity records the last successful distribution time.
func (r *Registry) TouchDestinationActivity(id int64, when time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.destinations[id]
	if !ok {
		return nil
	}
	d.LastActivity = when
	r.destinations[id] = d
	return r.persistLocked()
}

// NextCycleAt returns the schedule anchor; zero means "must be recomputed".
func (r *Registry) NextCycleAt() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.nextCycleAt
}

// SetNextCycleAt persists the schedule anchor immediately so a restart
// mid-wait resumes the same target instead of rerolling.
func (r *Registry) SetNextCycleAt(t time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextCycleAt = t
	return r.persistLocked()
}

// Participant returns a copy of the participant, if known.
func (r *Registry) Participant(id int64) (Participant, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.participants[id]
	return p, ok
}

// Participants returns a copy of all participants, ordered by id for
// deterministic fan-outs.
func (r *Registry) Participants() []Participant {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Participant, 0, len(r.participants))
	for _, p := range r.participants {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Destinations returns a copy of all destinations, ordered by id.
func (r *Registry) Destinations() []Destination {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Destination, 0, len(r.destinations))
	for _, d := range r.destinations {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ParticipantCount reports the current number of registered participants.
func (r *Registry) ParticipantCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.participants)
}
