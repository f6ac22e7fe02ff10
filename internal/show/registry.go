// Package show is the single authoritative registry of callers and their
// status transitions. It is designed to be maximally standalone — coupling
// to the media layer is via the ParticipantAllocator interface only.
package show

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"
)

var (
	ErrNotFound      = errors.New("caller not found")
	ErrShowNotLive   = errors.New("no show is live")
	ErrShowLive      = errors.New("a show is already live")
	ErrBadTransition = errors.New("transition not allowed from current status")
	ErrEmptyName     = errors.New("caller name must not be empty")
	ErrLiveLimit     = errors.New("on-air caller limit reached")
)

// ParticipantAllocator is the only surface the show package needs from the
// stream layer. Promote asks it for a live participant before the status
// flip is committed; allocation failure rolls the transition back.
type ParticipantAllocator interface {
	Allocate(ctx context.Context, id, name string) error
	Release(id string) error
	ReleaseAll()
}

// ArchiveSink receives show boundaries and terminal caller records. Wired
// to the SQLite call log; may be nil to disable archiving.
type ArchiveSink interface {
	RecordShowStart(name string, at time.Time) (int64, error)
	RecordShowEnd(showID int64, at time.Time) error
	ArchiveCaller(showID int64, c CallerView, outcome string, at time.Time) error
}

// Event types emitted to registry subscribers.
const (
	EventShowStarted   = "show-started"
	EventShowEnded     = "show-ended"
	EventCallerAdded   = "caller-added"
	EventCallerUpdated = "caller-updated"
	EventCallerLive    = "caller-live"
	EventCallerOffAir  = "caller-offair"
	EventCallerRemoved = "caller-removed"
)

// Event describes one roster change, pushed to SSE subscribers.
type Event struct {
	Type     string      `json:"type"`
	ShowName string      `json:"show,omitempty"`
	CallerID string      `json:"caller_id,omitempty"`
	Caller   *CallerView `json:"caller,omitempty"`
}

// Registry owns the caller roster for one host. All mutating operations
// take the registry lock; the paired participant side effect completes
// before the status flip is committed, so the two registries never disagree
// about a live caller for longer than one allocation window.
type Registry struct {
	mu        sync.Mutex
	live      bool
	name      string
	showID    int64
	callers   map[string]*Caller
	promoting map[string]struct{}
	seq       int
	maxLive   int
	deflName  string

	alloc   ParticipantAllocator
	archive ArchiveSink
	clock   func() time.Time

	listeners map[chan Event]struct{}
}

// NewRegistry creates an empty registry. archive may be nil.
func NewRegistry(alloc ParticipantAllocator, archive ArchiveSink) *Registry {
	return &Registry{
		callers:   make(map[string]*Caller),
		promoting: make(map[string]struct{}),
		alloc:     alloc,
		archive:   archive,
		clock:     time.Now,
		listeners: make(map[chan Event]struct{}),
	}
}

// SetMaxLive caps how many callers may be on air at once. Zero or negative
// means no cap. Lowering the cap never demotes callers already live.
func (r *Registry) SetMaxLive(n int) {
	r.mu.Lock()
	r.maxLive = n
	r.mu.Unlock()
}

// SetDefaultShowName sets the name used when StartShow gets an empty one.
func (r *Registry) SetDefaultShowName(name string) {
	r.mu.Lock()
	r.deflName = strings.TrimSpace(name)
	r.mu.Unlock()
}

// SetClock overrides the time source. Tests only.
func (r *Registry) SetClock(clock func() time.Time) {
	r.mu.Lock()
	r.clock = clock
	r.mu.Unlock()
}

// StartShow begins a new show. An empty name falls back to the configured
// default; fails if one is already live.
func (r *Registry) StartShow(name string) error {
	r.mu.Lock()
	if !validName(name) {
		name = r.deflName
	}
	if !validName(name) {
		r.mu.Unlock()
		return ErrEmptyName
	}
	if r.live {
		r.mu.Unlock()
		return ErrShowLive
	}
	r.live = true
	r.name = name
	now := r.clock()
	if r.archive != nil {
		id, err := r.archive.RecordShowStart(name, now)
		if err != nil {
			log.Printf("SHOW: archive show start failed: %v", err)
		} else {
			r.showID = id
		}
	}
	r.notifyLocked(Event{Type: EventShowStarted, ShowName: name})
	r.mu.Unlock()
	log.Printf("SHOW: started %q", name)
	return nil
}

// EndShow stops the live show, archives and clears every caller, and
// releases all participant resources. Idempotent.
func (r *Registry) EndShow() {
	r.mu.Lock()
	if !r.live {
		r.mu.Unlock()
		return
	}
	now := r.clock()
	for id, c := range r.callers {
		if r.archive != nil {
			outcome := "queued-at-end"
			if c.Status == StatusLive {
				outcome = "on-air-at-end"
			}
			if err := r.archive.ArchiveCaller(r.showID, c.view(now), outcome, now); err != nil {
				log.Printf("SHOW: archive caller %s failed: %v", id, err)
			}
		}
		delete(r.callers, id)
	}
	if r.archive != nil {
		if err := r.archive.RecordShowEnd(r.showID, now); err != nil {
			log.Printf("SHOW: archive show end failed: %v", err)
		}
	}
	name := r.name
	r.live = false
	r.name = ""
	r.showID = 0
	r.notifyLocked(Event{Type: EventShowEnded, ShowName: name})
	r.mu.Unlock()

	// Media teardown happens after the roster is cleared; ReleaseAll is
	// idempotent against participants already gone.
	if r.alloc != nil {
		r.alloc.ReleaseAll()
	}
	log.Printf("SHOW: ended %q", name)
}

// IsLive reports whether a show is running.
func (r *Registry) IsLive() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.live
}

// ShowName returns the current show name, empty when off air.
func (r *Registry) ShowName() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.name
}

// AddCaller enqueues a new waiting caller and returns its view.
func (r *Registry) AddCaller(name, contact string) (CallerView, error) {
	if !validName(name) {
		return CallerView{}, ErrEmptyName
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.live {
		return CallerView{}, ErrShowNotLive
	}
	now := r.clock()
	c := newCaller(name, contact, r.seq, now)
	r.seq++
	r.callers[c.ID] = c
	v := c.view(now)
	r.notifyLocked(Event{Type: EventCallerAdded, CallerID: c.ID, Caller: &v})
	log.Printf("SHOW: caller %q queued (%s)", name, c.ID)
	return v, nil
}

// Promote moves a waiting caller on air. The participant is allocated
// first; if media acquisition or negotiation fails the caller stays
// waiting and the error is returned to the UI action.
func (r *Registry) Promote(ctx context.Context, id string) error {
	r.mu.Lock()
	c, ok := r.callers[id]
	if !ok {
		r.mu.Unlock()
		return ErrNotFound
	}
	if c.Status != StatusWaiting {
		r.mu.Unlock()
		return fmt.Errorf("promote %s: %w", id, ErrBadTransition)
	}
	if r.liveFullLocked() {
		r.mu.Unlock()
		return fmt.Errorf("promote %s: %w", id, ErrLiveLimit)
	}
	// One promote per caller at a time; a duplicate arriving during the
	// allocation window is refused, not raced.
	if _, busy := r.promoting[id]; busy {
		r.mu.Unlock()
		return fmt.Errorf("promote %s: %w", id, ErrBadTransition)
	}
	r.promoting[id] = struct{}{}
	name := c.Name
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		delete(r.promoting, id)
		r.mu.Unlock()
	}()

	// Allocation happens outside the registry lock: device acquisition and
	// negotiation can block, and peer callbacks may re-enter the registry.
	if r.alloc != nil {
		if err := r.alloc.Allocate(ctx, id, name); err != nil {
			return fmt.Errorf("promote %s: %w", id, err)
		}
	}

	r.mu.Lock()
	c, ok = r.callers[id]
	if !ok || c.Status != StatusWaiting || r.liveFullLocked() {
		// Caller was rejected, promoted concurrently, or the on-air slots
		// filled up while media came up.
		full := ok && c.Status == StatusWaiting
		r.mu.Unlock()
		if r.alloc != nil {
			_ = r.alloc.Release(id)
		}
		if !ok {
			return ErrNotFound
		}
		if full {
			return fmt.Errorf("promote %s: %w", id, ErrLiveLimit)
		}
		return fmt.Errorf("promote %s: %w", id, ErrBadTransition)
	}
	c.Status = StatusLive
	v := c.view(r.clock())
	r.notifyLocked(Event{Type: EventCallerLive, CallerID: id, Caller: &v})
	r.mu.Unlock()
	log.Printf("SHOW: caller %q on air (%s)", name, id)
	return nil
}

// TakeOffAir returns a live caller to the waiting queue. The participant
// is released before the status flips; notes, priority and join time are
// preserved.
func (r *Registry) TakeOffAir(id string) error {
	r.mu.Lock()
	c, ok := r.callers[id]
	if !ok {
		r.mu.Unlock()
		return ErrNotFound
	}
	if c.Status != StatusLive {
		r.mu.Unlock()
		return fmt.Errorf("take off air %s: %w", id, ErrBadTransition)
	}
	r.mu.Unlock()

	if r.alloc != nil {
		if err := r.alloc.Release(id); err != nil {
			log.Printf("SHOW: release participant %s: %v", id, err)
		}
	}

	r.mu.Lock()
	c, ok = r.callers[id]
	if !ok {
		r.mu.Unlock()
		return ErrNotFound
	}
	c.Status = StatusWaiting
	v := c.view(r.clock())
	r.notifyLocked(Event{Type: EventCallerOffAir, CallerID: id, Caller: &v})
	r.mu.Unlock()
	log.Printf("SHOW: caller %s back in queue", id)
	return nil
}

// Reject ends a caller's run — terminal. The caller is removed from the
// roster once its participant (if any) is released, and archived.
func (r *Registry) Reject(id string) error {
	r.mu.Lock()
	c, ok := r.callers[id]
	if !ok {
		r.mu.Unlock()
		return ErrNotFound
	}
	wasLive := c.Status == StatusLive
	r.mu.Unlock()

	if wasLive && r.alloc != nil {
		if err := r.alloc.Release(id); err != nil {
			log.Printf("SHOW: release participant %s: %v", id, err)
		}
	}

	r.mu.Lock()
	c, ok = r.callers[id]
	if !ok {
		r.mu.Unlock()
		return ErrNotFound
	}
	now := r.clock()
	c.Status = StatusRejected
	if r.archive != nil {
		outcome := "rejected"
		if wasLive {
			outcome = "ended"
		}
		if err := r.archive.ArchiveCaller(r.showID, c.view(now), outcome, now); err != nil {
			log.Printf("SHOW: archive caller %s failed: %v", id, err)
		}
	}
	delete(r.callers, id)
	r.notifyLocked(Event{Type: EventCallerRemoved, CallerID: id})
	r.mu.Unlock()
	log.Printf("SHOW: caller %s removed", id)
	return nil
}

// SetNotes updates the free-text annotation. Allowed in any state; setting
// the same value again emits no event.
func (r *Registry) SetNotes(id, notes string) error {
	return r.update(id, func(c *Caller) bool {
		if c.Notes == notes {
			return false
		}
		c.Notes = notes
		return true
	})
}

// SetPriority flags a caller for the top of its queue tier.
func (r *Registry) SetPriority(id string, priority bool) error {
	return r.update(id, func(c *Caller) bool {
		if c.Priority == priority {
			return false
		}
		c.Priority = priority
		return true
	})
}

// SetMuted records the mute flag. Meaningful on air only, but always
// permitted so the host can pre-mute a waiting caller.
func (r *Registry) SetMuted(id string, muted bool) error {
	return r.update(id, func(c *Caller) bool {
		if c.Muted == muted {
			return false
		}
		c.Muted = muted
		return true
	})
}

func (r *Registry) update(id string, mutate func(*Caller) bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.callers[id]
	if !ok {
		return ErrNotFound
	}
	if !mutate(c) {
		return nil
	}
	v := c.view(r.clock())
	r.notifyLocked(Event{Type: EventCallerUpdated, CallerID: id, Caller: &v})
	return nil
}

// Caller returns the view of a single caller.
func (r *Registry) Caller(id string) (CallerView, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.callers[id]
	if !ok {
		return CallerView{}, ErrNotFound
	}
	return c.view(r.clock()), nil
}

// Callers returns the roster in display order: live before waiting,
// priority first within a tier, join order last.
func (r *Registry) Callers() []CallerView {
	r.mu.Lock()
	defer r.mu.Unlock()
	cs := make([]*Caller, 0, len(r.callers))
	for _, c := range r.callers {
		cs = append(cs, c)
	}
	sortCallers(cs)
	now := r.clock()
	out := make([]CallerView, len(cs))
	for i, c := range cs {
		out[i] = c.view(now)
	}
	return out
}

// Counts reports the number of waiting and live callers.
func (r *Registry) Counts() (waiting, live int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.callers {
		switch c.Status {
		case StatusWaiting:
			waiting++
		case StatusLive:
			live++
		}
	}
	return waiting, live
}

// Subscribe returns a channel of roster events. Slow subscribers drop
// events rather than blocking transitions.
func (r *Registry) Subscribe() chan Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch := make(chan Event, 16)
	r.listeners[ch] = struct{}{}
	return ch
}

func (r *Registry) Unsubscribe(ch chan Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.listeners[ch]; ok {
		delete(r.listeners, ch)
		close(ch)
	}
}

func (r *Registry) liveFullLocked() bool {
	if r.maxLive <= 0 {
		return false
	}
	live := 0
	for _, c := range r.callers {
		if c.Status == StatusLive {
			live++
		}
	}
	return live >= r.maxLive
}

func (r *Registry) notifyLocked(evt Event) {
	for ch := range r.listeners {
		select {
		case ch <- evt:
		default:
		}
	}
}
