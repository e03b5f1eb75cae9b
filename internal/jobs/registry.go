package jobs

import (
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Key identifies one pending job. Hall calls carry a signed Target; cabin
// commands set Cabin and carry the plain floor, so the two never collide.
type Key struct {
	Target int
	Cabin  bool
}

// Hall returns the key for a signed hall call target.
func Hall(target int) Key { return Key{Target: target} }

// CabinFloor returns the key for a cabin command to floor.
func CabinFloor(floor int) Key { return Key{Target: floor, Cabin: true} }

// Floor is the 1-indexed floor the key points at.
func (k Key) Floor() int {
	if k.Target < 0 {
		return -k.Target
	}
	return k.Target
}

// Entry is one registry row. Delay is the value the entry was last inserted
// with; Deadline is when this node intends to act on it.
type Entry struct {
	Key
	Delay    time.Duration
	Deadline time.Time
	Remote   bool
	Taken    bool

	seq uint64
}

// Seq is the insertion sequence used to break deadline ties.
func (e Entry) Seq() uint64 { return e.seq }

// Remaining is the wait left at now, never negative.
func (e Entry) Remaining(now time.Time) time.Duration {
	d := e.Deadline.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

func (e Entry) valid() bool {
	return e.Target != 0 && e.Delay >= 0 && !e.Deadline.IsZero()
}

// before orders entries for dispatch: cabin commands first, then earliest
// deadline, then first inserted.
func (e Entry) before(o Entry) bool {
	if e.Cabin != o.Cabin {
		return e.Cabin
	}
	if !e.Deadline.Equal(o.Deadline) {
		return e.Deadline.Before(o.Deadline)
	}
	return e.seq < o.seq
}

type Options struct {
	Logger zerolog.Logger
	// Now overrides the clock in tests.
	Now func() time.Time
	// OnChange observes the entry count after every mutation. It runs under
	// the registry lock and must not call back into the registry.
	OnChange func(pending int)
}

// Registry is the node-local target->delay table. Every mutation signals the
// wake channel so a blocked dispatcher re-evaluates immediately.
type Registry struct {
	mu       sync.Mutex
	entries  map[Key]Entry
	seq      uint64
	wake     chan struct{}
	now      func() time.Time
	log      zerolog.Logger
	onChange func(int)
}

// NewRegistry returns an empty registry using the wall clock unless
// opts.Now is set.
func NewRegistry(opts Options) *Registry {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Registry{
		entries:  make(map[Key]Entry),
		wake:     make(chan struct{}, 1),
		now:      now,
		log:      opts.Logger,
		onChange: opts.OnChange,
	}
}

// Wake is signalled after every mutation. At most one signal is buffered.
func (r *Registry) Wake() <-chan struct{} {
	return r.wake
}

// Put inserts or overwrites key with delay. Negative delays are stored as 0;
// cabin commands always store 0.
func (r *Registry) Put(key Key, delay time.Duration, remote bool) Entry {
	if key.Target == 0 {
		r.log.Warn().Msg("jobs.Registry.Put ignored zero target")
		return Entry{}
	}
	if delay < 0 || key.Cabin {
		delay = 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	e := r.insertLocked(key, delay, remote, false)
	r.log.Debug().Msgf("jobs.Registry.Put target=%d cabin=%v delay=%s remote=%v", key.Target, key.Cabin, delay, remote)
	return e
}

// Extend adds by to the remaining delay of key (0 when absent) and re-inserts
// it marked as taken.
func (r *Registry) Extend(key Key, by time.Duration) Entry {
	if key.Target == 0 {
		return Entry{}
	}
	if by < 0 {
		by = 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var base time.Duration
	remote := true
	if cur, ok := r.entries[key]; ok {
		base = cur.Remaining(r.now())
		remote = cur.Remote
	}
	e := r.insertLocked(key, base+by, remote, true)
	r.log.Debug().Msgf("jobs.Registry.Extend target=%d delay=%s", key.Target, e.Delay)
	return e
}

// Remove deletes key. Removing an absent key is a no-op but still wakes.
func (r *Registry) Remove(key Key) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[key]
	delete(r.entries, key)
	r.changedLocked()
	return ok
}

// Get returns the entry stored under key.
func (r *Registry) Get(key Key) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[key]
	return e, ok
}

// Has reports whether key is pending.
func (r *Registry) Has(key Key) bool {
	_, ok := r.Get(key)
	return ok
}

// Len is the number of pending entries.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Min returns the entry the dispatcher should act on next.
func (r *Registry) Min() (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.minLocked()
}

// Claim atomically re-checks that want is still the minimum entry (same key,
// same insertion), runs act, and removes the entry when act accepts it.
// act runs under the registry lock and must not call back into the registry.
func (r *Registry) Claim(want Entry, act func(Entry) bool) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.minLocked()
	if !ok || cur.Key != want.Key || cur.seq != want.seq {
		return Entry{}, false
	}
	if !act(cur) {
		return Entry{}, false
	}
	delete(r.entries, cur.Key)
	r.changedLocked()
	return cur, true
}

// Recalculate re-derives the delay of every hall entry that is neither a
// cabin command nor extended by a takeover. fn returns the new delay, or
// false to leave the entry untouched. Insertion order is preserved.
func (r *Registry) Recalculate(fn func(Entry) (time.Duration, bool)) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	n := 0
	for key, e := range r.entries {
		if e.Cabin || e.Taken {
			continue
		}
		delay, ok := fn(e)
		if !ok {
			continue
		}
		if delay < 0 {
			delay = 0
		}
		e.Delay = delay
		e.Deadline = now.Add(delay)
		r.entries[key] = e
		n++
	}
	r.changedLocked()
	return n
}

// Snapshot lists entries in dispatch order.
func (r *Registry) Snapshot() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].before(out[j]) })
	return out
}

func (r *Registry) insertLocked(key Key, delay time.Duration, remote, taken bool) Entry {
	r.seq++
	e := Entry{
		Key:      key,
		Delay:    delay,
		Deadline: r.now().Add(delay),
		Remote:   remote,
		Taken:    taken,
		seq:      r.seq,
	}
	r.entries[key] = e
	r.changedLocked()
	return e
}

func (r *Registry) minLocked() (Entry, bool) {
	var best Entry
	found := false
	for _, e := range r.entries {
		if !e.valid() {
			r.log.Warn().Msgf("jobs.Registry.min skipping invalid entry target=%d delay=%s", e.Target, e.Delay)
			continue
		}
		if !found || e.before(best) {
			best = e
			found = true
		}
	}
	return best, found
}

func (r *Registry) changedLocked() {
	if r.onChange != nil {
		r.onChange(len(r.entries))
	}
	select {
	case r.wake <- struct{}{}:
	default:
	}
}
