// Package reactor implements the readiness-based poller backends (epoll,
// kqueue, and a generic poll() fallback) that back amio.Poller. It owns the
// slot table, the generation counter used to invalidate stale callbacks
// within a single Poll batch, and the edge-triggering emulation policy.
package reactor

import (
	"fmt"
	"sync"
)

// Event is the set of interests (or notifications) a Backend tracks for a slot.
type Event uint8

// Interest bits. Read and Write may be combined.
const (
	Read Event = 1 << iota
	Write
)

func (e Event) String() string {
	switch e {
	case 0:
		return "none"
	case Read:
		return "read"
	case Write:
		return "write"
	case Read | Write:
		return "read|write"
	default:
		return fmt.Sprintf("event(%d)", uint8(e))
	}
}

// Has reports whether e contains all bits of o.
func (e Event) Has(o Event) bool { return e&o == o }

// TriggerMode selects level- or edge-triggered delivery for an attachment.
type TriggerMode uint8

const (
	// Level delivers readiness every Poll while the condition holds.
	Level TriggerMode = iota
	// Edge delivers readiness only on the state transition; the backend
	// must drain until EWOULDBLOCK. Emulated in software on backends that
	// are natively level-triggered (poll, select).
	Edge
	// EdgeOrLevel uses edge triggering if the backend supports it natively
	// or via emulation, otherwise falls back to level.
	EdgeOrLevel
)

// Slot is one entry of a Backend's slot table: a stable integer key under
// which a file descriptor is tracked, stamped with the generation at its
// last mutation. Owner is opaque to the reactor package (it holds the
// front end's *Transport); the reactor only needs to move it around.
type Slot struct {
	FD         int
	Events     Event
	Mode       TriggerMode
	Owner      any
	generation uint64
	inUse      bool
}

// Table is a growable, freelist-backed slot table shared by every readiness
// Backend. Slot ids are stable for the lifetime of an attachment; detaching
// recycles the id through the freelist so it may be reused by a later
// Attach. Reuse is safe because the generation stamp lets Poll distinguish
// "the slot I'm about to deliver a callback for" from "a different
// attachment that now occupies the same numeric id".
type Table struct {
	mu         sync.Mutex
	slots      []Slot
	free       []int
	generation uint64
}

// Alloc reserves a fresh slot id (new or recycled) and stamps it with the
// table's current generation. The caller must fill in FD/Events/Mode/Owner
// before releasing the structural lock to other goroutines.
func (t *Table) Alloc() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	var id int
	if n := len(t.free); n > 0 {
		id = t.free[n-1]
		t.free = t.free[:n-1]
	} else {
		t.slots = append(t.slots, Slot{})
		id = len(t.slots) - 1
	}
	t.slots[id] = Slot{inUse: true, generation: t.generation}
	return id
}

// Set overwrites the stored slot at id and stamps it with the current
// generation, signalling that the slot was mutated.
func (t *Table) Set(id int, s Slot) {
	t.mu.Lock()
	s.inUse = true
	s.generation = t.generation
	t.slots[id] = s
	t.mu.Unlock()
}

// Get returns a copy of the slot at id and whether it is still attached.
func (t *Table) Get(id int) (Slot, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if id < 0 || id >= len(t.slots) || !t.slots[id].inUse {
		return Slot{}, false
	}
	return t.slots[id], true
}

// Free detaches the slot, stamps the current generation on it (so any
// in-flight Poll batch sees it as stale) and returns its id to the freelist.
func (t *Table) Free(id int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if id < 0 || id >= len(t.slots) || !t.slots[id].inUse {
		return
	}
	t.slots[id] = Slot{generation: t.generation}
	t.free = append(t.free, id)
}

// Mutate applies fn to the slot under the structural lock, stamping the
// generation as having changed. Used by ChangeEvents/AddEvents/RemoveEvents.
func (t *Table) Mutate(id int, fn func(*Slot)) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if id < 0 || id >= len(t.slots) || !t.slots[id].inUse {
		return false
	}
	fn(&t.slots[id])
	t.slots[id].generation = t.generation
	return true
}

// InUse returns the ids of every slot currently attached, in no particular
// order. Used by Shutdown to enumerate transports to detach.
func (t *Table) InUse() []int {
	t.mu.Lock()
	defer t.mu.Unlock()
	ids := make([]int, 0, len(t.slots))
	for i, s := range t.slots {
		if s.inUse {
			ids = append(ids, i)
		}
	}
	return ids
}

// BeginPoll increments the generation counter, marking the start of a new
// Poll batch. Every slot mutated before this call (Attach/Detach/Change)
// carries the previous generation; slots mutated by callbacks running
// inside the batch that follows carry the new one, which is how
// StaleAt below tells "mutated within this batch" apart from "stable".
func (t *Table) BeginPoll() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.generation++
	return t.generation
}

// Generation returns the current generation without mutating it.
func (t *Table) Generation() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.generation
}

// StaleAt reports whether the slot's stamped generation matches gen, which
// per the invariant means it was mutated (attached/detached/changed) during
// the batch identified by gen and a pending callback for it must be
// skipped. Detach stamps the slot with the generation current at the time
// of detach; since BeginPoll always runs before any callback in the batch,
// a slot detached mid-batch carries exactly gen.
func (t *Table) StaleAt(id int, gen uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if id < 0 || id >= len(t.slots) {
		return true
	}
	return t.slots[id].generation == gen
}
