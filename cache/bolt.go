package cache

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/goccy/go-json"
	"go.etcd.io/bbolt"

	"github.com/sandeepkandula/poosh/file"
)

const defaultNamespace = "snapshots"

// BoltStore persists snapshots in a bbolt file. Each remote base destination
// gets its own bucket so switching targets never reuses foreign fingerprints.
// A read-only store opened on a missing file has no db and reads as empty.
type BoltStore struct {
	db       *bbolt.DB
	bucket   []byte
	readOnly bool
}

// ErrReadOnly is returned by writes on a store opened with OpenBoltReadOnly.
var ErrReadOnly = errors.New("cache is read-only")

// OpenBolt opens (or creates) the cache file at path, scoped to namespace.
func OpenBolt(path, namespace string) (*BoltStore, error) {
	if namespace == "" {
		namespace = defaultNamespace
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, &Error{Op: "open", Err: err}
	}

	// the timeout keeps a second process from blocking forever on the file lock
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, &Error{Op: "open", Err: fmt.Errorf("%s: %w", path, err)}
	}

	bucket := []byte(namespace)
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, &Error{Op: "open", Err: fmt.Errorf("create bucket %q: %w", namespace, err)}
	}

	return &BoltStore{db: db, bucket: bucket}, nil
}

// OpenBoltReadOnly opens the cache file at path without creating or modifying
// it. A missing file or namespace reads as an empty cache.
func OpenBoltReadOnly(path, namespace string) (*BoltStore, error) {
	if namespace == "" {
		namespace = defaultNamespace
	}
	store := &BoltStore{bucket: []byte(namespace), readOnly: true}
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return store, nil
	}

	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second, ReadOnly: true})
	if err != nil {
		return nil, &Error{Op: "open", Err: fmt.Errorf("%s: %w", path, err)}
	}
	store.db = db
	return store, nil
}

func (b *BoltStore) Close() error {
	if b.db == nil {
		return nil
	}
	return b.db.Close()
}

func (b *BoltStore) Get(key string) (*file.Snapshot, error) {
	if b.db == nil {
		return nil, nil
	}
	var snap *file.Snapshot
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(b.bucket)
		if bucket == nil {
			return nil
		}
		v := bucket.Get([]byte(key))
		if v == nil {
			return nil
		}
		snap = &file.Snapshot{}
		return json.Unmarshal(v, snap)
	})
	if err != nil {
		return nil, &Error{Op: "get", Key: key, Err: err}
	}
	return snap, nil
}

func (b *BoltStore) Set(key string, snap *file.Snapshot) error {
	if b.readOnly {
		return &Error{Op: "set", Key: key, Err: ErrReadOnly}
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return &Error{Op: "set", Key: key, Err: err}
	}
	err = b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(b.bucket).Put([]byte(key), data)
	})
	if err != nil {
		return &Error{Op: "set", Key: key, Err: err}
	}
	return nil
}

func (b *BoltStore) Delete(key string) error {
	if b.readOnly {
		return &Error{Op: "delete", Key: key, Err: ErrReadOnly}
	}
	err := b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(b.bucket).Delete([]byte(key))
	})
	if err != nil {
		return &Error{Op: "delete", Key: key, Err: err}
	}
	return nil
}

// Count returns the number of snapshots in the namespace.
func (b *BoltStore) Count() (int, error) {
	if b.db == nil {
		return 0, nil
	}
	var n int
	err := b.db.View(func(tx *bbolt.Tx) error {
		if bucket := tx.Bucket(b.bucket); bucket != nil {
			n = bucket.Stats().KeyN
		}
		return nil
	})
	return n, err
}
