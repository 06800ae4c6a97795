package storage

import (
	"encoding/binary"
	"sync"
	"time"

	"go.etcd.io/bbolt"

	"maildossier/utils"
)

// SessionStorage is a fiber.Storage backed by the sessions bucket. Each
// value is prefixed with its expiry as Unix nanoseconds (0 = never).
type SessionStorage struct {
	db   *bbolt.DB
	now  func() time.Time
	done chan struct{}
	once sync.Once
}

// NewSessionStorage starts a storage that drops expired sessions every
// gcInterval. A non-positive interval disables the sweep.
func NewSessionStorage(db *bbolt.DB, gcInterval time.Duration) *SessionStorage {
	s := &SessionStorage{db: db, now: time.Now, done: make(chan struct{})}
	if gcInterval > 0 {
		go s.gcLoop(gcInterval)
	}
	return s
}

func (s *SessionStorage) gcLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			if n, err := s.gc(); err != nil {
				utils.Log.Error("Session cleanup failed: %v", err)
			} else if n > 0 {
				utils.Log.Debug("Removed %d expired sessions", n)
			}
		}
	}
}

func (s *SessionStorage) expired(v []byte, now time.Time) bool {
	if len(v) < 8 {
		return true
	}
	exp := int64(binary.BigEndian.Uint64(v[:8]))
	return exp != 0 && now.UnixNano() >= exp
}

// gc deletes every expired entry and reports how many were removed
func (s *SessionStorage) gc() (int, error) {
	now := s.now()
	var removed int
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(sessionBucket))
		var stale [][]byte
		if err := b.ForEach(func(k, v []byte) error {
			if s.expired(v, now) {
				stale = append(stale, append([]byte(nil), k...))
			}
			return nil
		}); err != nil {
			return err
		}
		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		removed = len(stale)
		return nil
	})
	return removed, err
}

// Get returns nil without error for missing or expired keys
func (s *SessionStorage) Get(key string) ([]byte, error) {
	if key == "" {
		return nil, nil
	}
	var out []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket([]byte(sessionBucket)).Get([]byte(key))
		if v == nil || s.expired(v, s.now()) {
			return nil
		}
		out = append([]byte(nil), v[8:]...)
		return nil
	})
	return out, err
}

// Set stores val for exp; zero means no expiry
func (s *SessionStorage) Set(key string, val []byte, exp time.Duration) error {
	if key == "" || len(val) == 0 {
		return nil
	}
	var deadline int64
	if exp > 0 {
		deadline = s.now().Add(exp).UnixNano()
	}
	record := make([]byte, 8+len(val))
	binary.BigEndian.PutUint64(record[:8], uint64(deadline))
	copy(record[8:], val)

	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(sessionBucket)).Put([]byte(key), record)
	})
}

// Delete removes key
func (s *SessionStorage) Delete(key string) error {
	if key == "" {
		return nil
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(sessionBucket)).Delete([]byte(key))
	})
}

// Reset removes every session
func (s *SessionStorage) Reset() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.DeleteBucket([]byte(sessionBucket)); err != nil {
			return err
		}
		_, err := tx.CreateBucket([]byte(sessionBucket))
		return err
	})
}

// Close stops the cleanup loop. The database stays open; it is shared.
func (s *SessionStorage) Close() error {
	s.once.Do(func() { close(s.done) })
	return nil
}
