package hashdb

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	badger "github.com/dgraph-io/badger/v4"
)

// Handler is the narrow key-value surface the hash stores are built on.
// Implementations must be safe for concurrent use.
type Handler interface {
	// Put inserts a record; it fails with ErrKeyExists when the key is
	// already present.
	Put(key, value []byte) error

	// Upsert inserts or replaces a record.
	Upsert(key, value []byte) error

	// Get streams the value for key into sink without retaining it.
	// Returns false when the key is absent.
	Get(key []byte, sink func(value []byte) error) (bool, error)

	// Exists tests membership without copying the value.
	Exists(key []byte) (bool, error)

	// Each iterates all records in key order.
	Each(fn func(key, value []byte) error) error

	// RemoveIf iterates all records and deletes those for which pred
	// returns true. Returns the number of deleted records.
	RemoveIf(pred func(key, value []byte) bool) (int, error)

	// Size returns the number of records. The approximate form may use
	// table metadata instead of a full scan.
	Size(exact bool) (int64, error)

	// SizeOnDisk returns the bytes used by the store's files.
	SizeOnDisk() (int64, error)

	// Compact reclaims space from deleted records.
	Compact() error

	Close() error
}

// badgerHandler implements Handler on a dedicated BadgerDB instance.
type badgerHandler struct {
	db   *badger.DB
	path string
}

func openBadger(path string) (*badgerHandler, error) {
	opts := badger.DefaultOptions(path).
		WithLogger(nil).
		WithCompactL0OnClose(true)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("hashdb: open %s: %w", path, err)
	}
	return &badgerHandler{db: db, path: path}, nil
}

// retryConflict re-runs fn while it fails with a transient transaction
// conflict, up to maxRetries times after the first attempt.
func retryConflict(fn func() error) error {
	var err error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err = fn()
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return err
}

func (h *badgerHandler) Put(key, value []byte) error {
	return retryConflict(func() error {
		return h.db.Update(func(txn *badger.Txn) error {
			_, err := txn.Get(key)
			if err == nil {
				return ErrKeyExists
			}
			if !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}
			return txn.Set(append([]byte(nil), key...), append([]byte(nil), value...))
		})
	})
}

func (h *badgerHandler) Upsert(key, value []byte) error {
	return retryConflict(func() error {
		return h.db.Update(func(txn *badger.Txn) error {
			return txn.Set(append([]byte(nil), key...), append([]byte(nil), value...))
		})
	})
}

func (h *badgerHandler) Each(fn func(key, value []byte) error) error {
	return h.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			key := item.KeyCopy(nil)
			err := item.Value(func(val []byte) error {
				return fn(key, val)
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func (h *badgerHandler) Get(key []byte, sink func(value []byte) error) (bool, error) {
	found := false
	err := h.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return item.Value(sink)
	})
	return found, err
}

func (h *badgerHandler) Exists(key []byte) (bool, error) {
	found := false
	err := h.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return nil
	})
	return found, err
}

func (h *badgerHandler) RemoveIf(pred func(key, value []byte) bool) (int, error) {
	var doomed [][]byte
	err := h.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			key := item.KeyCopy(nil)
			err := item.Value(func(val []byte) error {
				if pred(key, val) {
					doomed = append(doomed, key)
				}
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	removed := 0
	wb := h.db.NewWriteBatch()
	defer wb.Cancel()
	for _, key := range doomed {
		if err := wb.Delete(key); err != nil {
			return removed, err
		}
		removed++
	}
	if err := wb.Flush(); err != nil {
		return 0, err
	}
	return removed, nil
}

func (h *badgerHandler) Size(exact bool) (int64, error) {
	var count int64
	err := h.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			count++
		}
		return nil
	})
	_ = exact // key-only iteration is cheap enough for both forms
	return count, err
}

func (h *badgerHandler) SizeOnDisk() (int64, error) {
	lsm, vlog := h.db.Size()
	if lsm+vlog > 0 {
		return lsm + vlog, nil
	}
	var total int64
	err := filepath.Walk(h.path, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			total += info.Size()
		}
		return nil
	})
	return total, err
}

func (h *badgerHandler) Compact() error {
	if err := h.db.Flatten(1); err != nil {
		return err
	}
	err := h.db.RunValueLogGC(0.5)
	if errors.Is(err, badger.ErrNoRewrite) {
		return nil
	}
	return err
}

func (h *badgerHandler) Close() error {
	return h.db.Close()
}
