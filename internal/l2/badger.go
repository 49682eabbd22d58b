package l2

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
)

// BadgerOptions configures a BadgerRegion.
type BadgerOptions struct {
	// Dir holds the region files. It is ignored when InMemory is set.
	Dir string

	InMemory bool
}

// BadgerRegion keeps entries in a badger database.
//
// Key layout:
//
//	e/<key>          -> gob-encoded badgerEntry
//	s/<space>/<key>  -> empty marker, one per space tag of the entry
type BadgerRegion struct {
	*spaces
	db *badger.DB
}

type badgerEntry struct {
	Spaces []string
	ReadAt int64
	Value  []byte
}

var _ Region = (*BadgerRegion)(nil)

// NewBadgerRegion opens a region.
func NewBadgerRegion(opts BadgerOptions) (*BadgerRegion, error) {
	badgerOpts := badger.DefaultOptions(opts.Dir)
	if opts.InMemory {
		badgerOpts = badgerOpts.WithInMemory(true)
	}
	badgerOpts = badgerOpts.WithLogger(nil)

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache region: %w", err)
	}
	return &BadgerRegion{spaces: newSpaces(), db: db}, nil
}

func entryKey(key string) []byte {
	return []byte("e/" + key)
}

func spacePrefix(space string) []byte {
	return []byte("s/" + space + "/")
}

func (r *BadgerRegion) Timestamp() int64 { return r.now() }

func (r *BadgerRegion) Get(key string) ([]byte, bool, error) {
	var e badgerEntry
	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(entryKey(key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return gob.NewDecoder(bytes.NewReader(val)).Decode(&e)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read cache entry: %w", err)
	}
	if !r.valid(e.Spaces, e.ReadAt) {
		return nil, false, nil
	}
	return e.Value, true, nil
}

func (r *BadgerRegion) Put(key string, tags []string, value []byte, readAt int64) error {
	if !r.valid(tags, readAt) {
		return nil
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(badgerEntry{Spaces: tags, ReadAt: readAt, Value: value}); err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}
	err := r.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(entryKey(key), buf.Bytes()); err != nil {
			return err
		}
		for _, space := range tags {
			if err := txn.Set(append(spacePrefix(space), key...), nil); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("write cache entry: %w", err)
	}
	return nil
}

func (r *BadgerRegion) Lock(space string) (SoftLock, error) {
	return r.lock(space), nil
}

func (r *BadgerRegion) Unlock(lock SoftLock) error {
	return r.unlock(lock)
}

// EvictSpace deletes the entries tagged with space along with their
// markers.
func (r *BadgerRegion) EvictSpace(space string) error {
	r.invalidate(space)
	prefix := spacePrefix(space)
	err := r.db.Update(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		var markers [][]byte
		for it.Rewind(); it.Valid(); it.Next() {
			markers = append(markers, it.Item().KeyCopy(nil))
		}
		it.Close()

		for _, marker := range markers {
			if err := txn.Delete(marker); err != nil {
				return err
			}
			if err := txn.Delete(entryKey(string(marker[len(prefix):]))); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("evict space %s: %w", space, err)
	}
	return nil
}

func (r *BadgerRegion) Close() error {
	return r.db.Close()
}
