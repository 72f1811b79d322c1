package persistence

import (
	"fmt"

	bolt "go.etcd.io/bbolt"
)

var bucketName = []byte("codepod-namespaces")

// BoltBackend persists each namespace's blob as one key in a single
// bucket of a single-file bbolt database, giving `persistent` mode
// survival across process restarts (spec.md §4.10).
type BoltBackend struct {
	db *bolt.DB
}

// OpenBoltBackend opens (creating if absent) a bbolt database at path.
func OpenBoltBackend(path string) (*BoltBackend, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("persistence: open bbolt db %q: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("persistence: init bucket: %w", err)
	}
	return &BoltBackend{db: db}, nil
}

func (b *BoltBackend) Load(namespace string) ([]byte, bool, error) {
	var out []byte
	err := b.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketName).Get([]byte(namespace))
		if v != nil {
			out = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return out, out != nil, nil
}

func (b *BoltBackend) Save(namespace string, blob []byte) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).Put([]byte(namespace), blob)
	})
}

func (b *BoltBackend) Clear(namespace string) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).Delete([]byte(namespace))
	})
}

func (b *BoltBackend) Close() error { return b.db.Close() }
