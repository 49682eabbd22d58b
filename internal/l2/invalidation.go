package l2

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// BulkInvalidation invalidates the spaces touched by one bulk statement
// around the completion of its transaction.
type BulkInvalidation struct {
	Region Region
	Spaces []string

	mu    sync.Mutex
	locks []SoftLock

	once sync.Once
	err  error
}

// NewBulkInvalidation creates the invalidation of spaces in region.
func NewBulkInvalidation(region Region, spaces []string) *BulkInvalidation {
	return &BulkInvalidation{Region: region, Spaces: spaces}
}

// BeforeCompletion soft-locks and evicts every space. Locks acquired
// before a failure stay recorded and are released by AfterCompletion.
func (b *BulkInvalidation) BeforeCompletion() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, space := range b.Spaces {
		lock, err := b.Region.Lock(space)
		if err != nil {
			return fmt.Errorf("lock space %s: %w", space, err)
		}
		b.locks = append(b.locks, lock)
		if err := b.Region.EvictSpace(space); err != nil {
			return err
		}
	}
	return nil
}

// AfterCompletion evicts every space again and releases the locks. It runs
// once; later calls return the first result.
func (b *BulkInvalidation) AfterCompletion(committed bool) error {
	b.once.Do(func() {
		b.mu.Lock()
		defer b.mu.Unlock()

		var errs []error
		for _, space := range b.Spaces {
			if err := b.Region.EvictSpace(space); err != nil {
				errs = append(errs, err)
			}
		}
		for _, lock := range b.locks {
			if err := b.Region.Unlock(lock); err != nil {
				errs = append(errs, err)
			}
		}
		b.locks = nil
		b.err = errors.Join(errs...)

		slog.Debug("cache spaces invalidated",
			"spaces", b.Spaces,
			"committed", committed,
			"failed", b.err != nil)
	})
	return b.err
}

// Held returns the number of soft locks not yet released.
func (b *BulkInvalidation) Held() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.locks)
}
