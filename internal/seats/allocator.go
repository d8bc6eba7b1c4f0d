// Package seats enforces per-course seat capacity under concurrent
// admission. It is the only component in the engine that needs mutual
// exclusion: every reservation is a single check-and-insert under a
// per-course lock, so unrelated courses never contend.
package seats

import (
	"sync"

	"github.com/google/uuid"

	appErrors "github.com/univreg/course-allocation-api/pkg/errors"
)

// Token is a handle for one held seat, redeemable for release exactly once.
type Token string

type courseSeats struct {
	mu       sync.Mutex
	capacity int
	held     map[Token]struct{}
}

// Allocator tracks reserved seats for every course. The zero value is not
// usable; construct with NewAllocator.
type Allocator struct {
	mu      sync.Mutex
	courses map[string]*courseSeats
}

// NewAllocator returns an empty allocator.
func NewAllocator() *Allocator {
	return &Allocator{courses: make(map[string]*courseSeats)}
}

func (a *Allocator) course(code string) *courseSeats {
	a.mu.Lock()
	defer a.mu.Unlock()
	cs, ok := a.courses[code]
	if !ok {
		cs = &courseSeats{held: make(map[Token]struct{})}
		a.courses[code] = cs
	}
	return cs
}

// SetCapacity registers or updates the seat capacity for a course.
// Reducing capacity below the held count is refused so existing
// reservations are never invalidated.
func (a *Allocator) SetCapacity(code string, capacity int) error {
	if capacity < 0 {
		return appErrors.Clone(appErrors.ErrValidation, "capacity must be non-negative")
	}
	cs := a.course(code)
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if capacity < len(cs.held) {
		return appErrors.Clone(appErrors.ErrConflict, "capacity below currently held seats")
	}
	cs.capacity = capacity
	return nil
}

// Reserve atomically claims one seat of the course. It fails fast with
// SEATS_EXHAUSTED when every seat is held; it never blocks or queues.
func (a *Allocator) Reserve(code string) (Token, error) {
	cs := a.course(code)
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if len(cs.held) >= cs.capacity {
		return "", appErrors.ErrSeatsExhausted
	}

	token := Token(uuid.NewString())
	cs.held[token] = struct{}{}
	return token, nil
}

// Release frees a previously reserved seat. Releasing a token twice is a
// programming error and is surfaced, never swallowed.
func (a *Allocator) Release(code string, token Token) error {
	cs := a.course(code)
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if _, ok := cs.held[token]; !ok {
		return appErrors.ErrInvalidToken
	}
	delete(cs.held, token)
	return nil
}

// Restore rebuilds a course's state from persisted allocations, replacing
// whatever the allocator currently holds. Used at startup so the in-memory
// counters agree with the database.
func (a *Allocator) Restore(code string, capacity int, tokens []Token) {
	cs := a.course(code)
	cs.mu.Lock()
	defer cs.mu.Unlock()

	cs.capacity = capacity
	cs.held = make(map[Token]struct{}, len(tokens))
	for _, t := range tokens {
		cs.held[t] = struct{}{}
	}
}

// Forget drops a course's seat state entirely, for catalog deletions.
func (a *Allocator) Forget(code string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.courses, code)
}

// Reserved returns the number of seats currently held for the course.
func (a *Allocator) Reserved(code string) int {
	cs := a.course(code)
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return len(cs.held)
}

// Available returns the number of free seats for the course.
func (a *Allocator) Available(code string) int {
	cs := a.course(code)
	cs.mu.Lock()
	defer cs.mu.Unlock()
	free := cs.capacity - len(cs.held)
	if free < 0 {
		return 0
	}
	return free
}

// Capacity returns the registered capacity for the course.
func (a *Allocator) Capacity(code string) int {
	cs := a.course(code)
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.capacity
}
