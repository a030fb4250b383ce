package voice

import (
	"sync"
	"time"
)

// smoothingDelay is added when the playout clock has overtaken the
// scheduled position, so a late chunk starts slightly in the future
// instead of clipping its head.
const smoothingDelay = 50 * time.Millisecond

// Scheduler assigns gap-free start offsets to a stream of audio chunks.
// Offsets are measured on a monotonic playout clock that starts at zero
// when the stream opens; consecutive chunks are laid out back to back so
// speech never overlaps and never leaves holes.
//
// An interruption (the speaker barging in) stops every chunk still in
// flight and resets the stream position to zero.
type Scheduler struct {
	mu     sync.Mutex
	now    func() time.Duration
	next   time.Duration
	active map[uint64]func()
	nextID uint64
}

// NewScheduler creates a scheduler over the given playout clock. The
// clock reports elapsed stream time and must be monotonic.
func NewScheduler(now func() time.Duration) *Scheduler {
	return &Scheduler{
		now:    now,
		active: make(map[uint64]func()),
	}
}

// Schedule reserves playout time for one chunk of the given duration and
// registers its stop hook for interruption handling. It returns the start
// offset and a release function the caller invokes when the chunk
// finishes playing naturally.
func (s *Scheduler) Schedule(d time.Duration, stop func()) (time.Duration, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := s.next
	if now := s.now(); start < now {
		start = now + smoothingDelay
	}
	s.next = start + d

	id := s.nextID
	s.nextID++
	if stop != nil {
		s.active[id] = stop
	}

	return start, func() {
		s.mu.Lock()
		delete(s.active, id)
		s.mu.Unlock()
	}
}

// Interrupt stops every chunk still in flight and rewinds the stream
// position to zero, so the next chunk schedules immediately.
func (s *Scheduler) Interrupt() {
	s.mu.Lock()
	stops := make([]func(), 0, len(s.active))
	for _, stop := range s.active {
		stops = append(stops, stop)
	}
	s.active = make(map[uint64]func())
	s.next = 0
	s.mu.Unlock()

	for _, stop := range stops {
		stop()
	}
}

// Pending reports how many scheduled chunks have not yet been released.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// NextStart reports the offset the next chunk would be appended at.
func (s *Scheduler) NextStart() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next
}
