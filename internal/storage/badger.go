package storage

import (
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	log "github.com/sirupsen/logrus"
)

// BadgerStore keeps attributes in an embedded badger database under keys
// "x:<dev>:<ino>:<name>".
type BadgerStore struct {
	db *badger.DB
}

var _ XattrStore = (*BadgerStore)(nil)

// OpenBadgerStore opens the database in dir. An empty dir keeps everything
// in memory.
func OpenBadgerStore(dir string) (*BadgerStore, error) {
	var opts badger.Options
	if dir == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(dir)
	}
	opts = opts.WithLoggingLevel(badger.WARNING)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger store: %w", err)
	}
	log.Debugf("[STORAGE] Opened badger store %q", dir)
	return &BadgerStore{db: db}, nil
}

func filePrefix(t Target) []byte {
	return []byte(fmt.Sprintf("x:%x:%x:", t.Dev, t.Ino))
}

func attrKey(t Target, name string) []byte {
	return append(filePrefix(t), name...)
}

func (s *BadgerStore) Get(t Target, name string) ([]byte, error) {
	var out []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(attrKey(t, name))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNoAttr
		}
		if err != nil {
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	return out, err
}

func (s *BadgerStore) Set(t Target, name string, value []byte) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(attrKey(t, name), append([]byte(nil), value...))
	})
}

func (s *BadgerStore) Remove(t Target, name string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		k := attrKey(t, name)
		if _, err := txn.Get(k); errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNoAttr
		} else if err != nil {
			return err
		}
		return txn.Delete(k)
	})
}

func (s *BadgerStore) List(t Target) ([]string, error) {
	var names []string
	prefix := filePrefix(t)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			names = append(names, string(it.Item().Key()[len(prefix):]))
		}
		return nil
	})
	return names, err
}

func (s *BadgerStore) DeleteAll(t Target) error {
	prefix := filePrefix(t)
	return s.db.Update(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		var keys [][]byte
		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		it.Close()
		for _, k := range keys {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}
