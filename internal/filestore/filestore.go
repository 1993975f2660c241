// Package filestore keeps binary File content addressed by its sha256 hash.
//
// The BoltDB file is held open only for the duration of one operation.
package filestore

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"
)

const (
	filesBucket = "files"
	lockTimeout = 5 * time.Second
)

// ErrNotFound is returned when no content is stored under a hash.
var ErrNotFound = errors.New("file not found")

// Store is a content-addressed blob store backed by BoltDB.
type Store struct {
	path string
	mu   sync.Mutex
}

// Open creates the blob store at path if needed.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create storage directory: %w", err)
		}
	}

	s := &Store{path: path}
	err := s.update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(filesBucket))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("init bucket: %w", err)
	}
	return s, nil
}

// Close is a no-op kept for callers that defer it; no handle outlives an operation.
func (s *Store) Close() error {
	return nil
}

// Hash returns the key data is stored under.
func Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Put stores data and returns its hash. Storing the same bytes twice is a no-op.
func (s *Store) Put(data []byte) (string, error) {
	if len(data) == 0 {
		return "", errors.New("empty file")
	}
	key := Hash(data)
	err := s.update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(filesBucket))
		if b.Get([]byte(key)) != nil {
			return nil
		}
		return b.Put([]byte(key), data)
	})
	if err != nil {
		return "", fmt.Errorf("put file: %w", err)
	}
	return key, nil
}

// Get returns the content stored under hash.
func (s *Store) Get(hash string) ([]byte, error) {
	var out []byte
	err := s.view(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(filesBucket))
		if b == nil {
			return ErrNotFound
		}
		v := b.Get([]byte(hash))
		if v == nil {
			return ErrNotFound
		}
		// bbolt values are only valid inside the transaction
		out = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("get file %s: %w", hash, err)
	}
	return out, nil
}

func (s *Store) update(fn func(*bolt.Tx) error) error {
	return s.with(&bolt.Options{Timeout: lockTimeout}, func(db *bolt.DB) error {
		return db.Update(fn)
	})
}

func (s *Store) view(fn func(*bolt.Tx) error) error {
	return s.with(&bolt.Options{Timeout: lockTimeout, ReadOnly: true}, func(db *bolt.DB) error {
		return db.View(fn)
	})
}

func (s *Store) with(opts *bolt.Options, fn func(*bolt.DB) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	db, err := bolt.Open(s.path, 0o600, opts)
	if err != nil {
		return fmt.Errorf("open bbolt db: %w", err)
	}
	err = fn(db)
	if cerr := db.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("close bbolt db: %w", cerr)
	}
	return err
}
