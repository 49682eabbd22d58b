package l2

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// ErrUnknownLock is returned when releasing a lock the region does not
// hold.
var ErrUnknownLock = errors.New("l2: unknown soft lock")

// SoftLock marks a space as being modified. While any lock on a space is
// held the region neither serves nor stores entries of that space.
type SoftLock struct {
	ID    string
	Space string
}

// Region is a cache region.
type Region interface {
	// Timestamp returns the current logical time. Callers read it before
	// running the query whose result they later Put.
	Timestamp() int64

	// Get returns the entry under key if it is still valid.
	Get(key string) ([]byte, bool, error)

	// Put stores value under key, tagged with spaces. The value is dropped
	// when a space was invalidated after readAt or is locked.
	Put(key string, spaces []string, value []byte, readAt int64) error

	Lock(space string) (SoftLock, error)
	Unlock(lock SoftLock) error

	// EvictSpace drops every entry tagged with space.
	EvictSpace(space string) error

	Close() error
}

// spaces tracks the invalidation stamps and soft locks of table spaces.
type spaces struct {
	clock *Clock

	mu     sync.Mutex
	stamps map[string]int64
	locks  map[string]map[string]struct{}
}

func newSpaces() *spaces {
	return &spaces{
		clock:  NewClock(),
		stamps: make(map[string]int64),
		locks:  make(map[string]map[string]struct{}),
	}
}

func (s *spaces) now() int64 { return s.clock.Current() }

func (s *spaces) lock(space string) SoftLock {
	lock := SoftLock{ID: uuid.Must(uuid.NewV7()).String(), Space: space}
	s.mu.Lock()
	defer s.mu.Unlock()
	held, ok := s.locks[space]
	if !ok {
		held = make(map[string]struct{})
		s.locks[space] = held
	}
	held[lock.ID] = struct{}{}
	s.stamps[space] = s.clock.Next()
	return lock
}

func (s *spaces) unlock(lock SoftLock) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	held := s.locks[lock.Space]
	if _, ok := held[lock.ID]; !ok {
		return fmt.Errorf("%w: %s on %s", ErrUnknownLock, lock.ID, lock.Space)
	}
	delete(held, lock.ID)
	if len(held) == 0 {
		delete(s.locks, lock.Space)
	}
	s.stamps[lock.Space] = s.clock.Next()
	return nil
}

func (s *spaces) invalidate(space string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stamps[space] = s.clock.Next()
}

// valid reports whether data of spaces read at readAt is still current.
func (s *spaces) valid(tags []string, readAt int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, space := range tags {
		if len(s.locks[space]) > 0 || s.stamps[space] > readAt {
			return false
		}
	}
	return true
}

func (s *spaces) locked(space string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.locks[space])
}
