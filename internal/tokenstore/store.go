// Package tokenstore persists the latest resumption token per resource path
// for hosts without their own key storage, such as the ktail CLI.
package tokenstore

import (
	"errors"
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	bolt "go.etcd.io/bbolt"
)

var bucket = []byte("tokens")

var ErrNotFound = errors.New("tokenstore: no token")

// Entry is the stored form of a token.
type Entry struct {
	Token     []byte    `msgpack:"token"`
	UpdatedAt time.Time `msgpack:"updated_at"`
	FetchID   string    `msgpack:"fetch_id"`
}

type Store struct {
	db *bolt.DB
}

// Open opens or creates the store at path.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("tokenstore: open %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("tokenstore: init: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Load(path string) (Entry, error) {
	var e Entry
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucket).Get([]byte(path))
		if raw == nil {
			return ErrNotFound
		}
		return msgpack.Unmarshal(raw, &e)
	})
	if err != nil {
		return Entry{}, err
	}
	return e, nil
}

func (s *Store) Save(path string, e Entry) error {
	if e.UpdatedAt.IsZero() {
		e.UpdatedAt = time.Now().UTC()
	}
	raw, err := msgpack.Marshal(&e)
	if err != nil {
		return fmt.Errorf("tokenstore: encode: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucket).Put([]byte(path), raw)
	})
}

// Delete removes the token for path. Deleting a missing token is not an
// error.
func (s *Store) Delete(path string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucket).Delete([]byte(path))
	})
}

// Paths lists every path that has a token, in key order.
func (s *Store) Paths() ([]string, error) {
	var out []string
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucket).ForEach(func(k, _ []byte) error {
			out = append(out, string(k))
			return nil
		})
	})
	return out, err
}

func (s *Store) Close() error { return s.db.Close() }
