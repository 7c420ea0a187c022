package embedcache

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"
)

var (
	bucketEntries = []byte("entries")
	bucketOrder   = []byte("order")
	bucketMeta    = []byte("meta")
	metaCountKey  = []byte("count")
)

// ErrCacheLocked is returned by OpenBoltStore when another process holds the
// cache file. bbolt allows a single process per file.
var ErrCacheLocked = errors.New("embedding cache file is in use by another process")

var lockTimeout = 5 * time.Second

// BoltStore persists cache entries in a bbolt file so embeddings survive
// restarts. Only one process can open a given file; processes that must share
// a cache use RedisStore.
//
// Layout:
//
//	entries: key -> encoded entry
//	order:   createdAt(8, big endian) || key -> empty  (oldest first, drives capacity eviction)
//	meta:    "count" -> uint64
type BoltStore struct {
	db       *bbolt.DB
	capacity int
}

// OpenBoltStore opens or creates the cache file at path. capacity 0 means unbounded.
func OpenBoltStore(path string, capacity int) (*BoltStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("open embedding cache %s: %w", path, err)
		}
	}
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: lockTimeout})
	if errors.Is(err, bbolt.ErrTimeout) {
		return nil, fmt.Errorf("open embedding cache %s: %w", path, ErrCacheLocked)
	}
	if err != nil {
		return nil, fmt.Errorf("open embedding cache %s: %w", path, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketEntries, bucketOrder, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &BoltStore{db: db, capacity: capacity}, nil
}

func (s *BoltStore) Get(_ context.Context, key string) (*Entry, bool, error) {
	var entry *Entry
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketEntries).Get([]byte(key))
		if data == nil {
			return nil
		}
		// data is only valid inside the transaction; decodeEntry copies it
		e, err := decodeEntry(key, data)
		if err != nil {
			return fmt.Errorf("entry %s: %w", key, err)
		}
		entry = e
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("Get: %w", err)
	}
	return entry, entry != nil, nil
}

func (s *BoltStore) Put(_ context.Context, entry *Entry) (int, error) {
	evicted := 0
	err := s.db.Update(func(tx *bbolt.Tx) error {
		entries := tx.Bucket(bucketEntries)
		order := tx.Bucket(bucketOrder)
		meta := tx.Bucket(bucketMeta)
		count := readCount(meta)

		key := []byte(entry.Key)
		if old := entries.Get(key); old != nil {
			if prev, err := decodeEntry(entry.Key, old); err == nil {
				if err := order.Delete(orderKey(prev.CreatedAt, entry.Key)); err != nil {
					return err
				}
			}
			count--
		}

		if err := entries.Put(key, encodeEntry(entry)); err != nil {
			return err
		}
		if err := order.Put(orderKey(entry.CreatedAt, entry.Key), []byte{}); err != nil {
			return err
		}
		count++

		if s.capacity > 0 && count > uint64(s.capacity) {
			var victims [][]byte
			c := order.Cursor()
			for k, _ := c.First(); k != nil && count-uint64(len(victims)) > uint64(s.capacity); k, _ = c.Next() {
				victims = append(victims, append([]byte(nil), k...))
			}
			for _, ok := range victims {
				if err := order.Delete(ok); err != nil {
					return err
				}
				if err := entries.Delete(ok[8:]); err != nil {
					return err
				}
			}
			evicted = len(victims)
			count -= uint64(evicted)
		}

		return writeCount(meta, count)
	})
	if err != nil {
		return 0, fmt.Errorf("Put: %w", err)
	}
	return evicted, nil
}

func (s *BoltStore) Delete(_ context.Context, key string) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		entries := tx.Bucket(bucketEntries)
		old := entries.Get([]byte(key))
		if old == nil {
			return nil
		}
		if prev, err := decodeEntry(key, old); err == nil {
			if err := tx.Bucket(bucketOrder).Delete(orderKey(prev.CreatedAt, key)); err != nil {
				return err
			}
		}
		if err := entries.Delete([]byte(key)); err != nil {
			return err
		}
		meta := tx.Bucket(bucketMeta)
		return writeCount(meta, readCount(meta)-1)
	})
	if err != nil {
		return fmt.Errorf("Delete: %w", err)
	}
	return nil
}

func (s *BoltStore) Len(context.Context) (int, error) {
	var n uint64
	err := s.db.View(func(tx *bbolt.Tx) error {
		n = readCount(tx.Bucket(bucketMeta))
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("Len: %w", err)
	}
	return int(n), nil
}

func (s *BoltStore) Purge(_ context.Context, cutoff time.Time) (int, error) {
	removed := 0
	err := s.db.Update(func(tx *bbolt.Tx) error {
		entries := tx.Bucket(bucketEntries)
		order := tx.Bucket(bucketOrder)

		type victim struct {
			key     []byte
			created time.Time
		}
		var victims []victim
		err := entries.ForEach(func(k, v []byte) error {
			e, err := decodeEntry(string(k), v)
			if err != nil {
				// unreadable entries are dropped with the expired ones
				victims = append(victims, victim{key: append([]byte(nil), k...)})
				return nil
			}
			if e.ValidUntil.Before(cutoff) {
				victims = append(victims, victim{key: append([]byte(nil), k...), created: e.CreatedAt})
			}
			return nil
		})
		if err != nil {
			return err
		}

		for _, v := range victims {
			if err := entries.Delete(v.key); err != nil {
				return err
			}
			if !v.created.IsZero() {
				if err := order.Delete(orderKey(v.created, string(v.key))); err != nil {
					return err
				}
			}
		}
		removed = len(victims)

		meta := tx.Bucket(bucketMeta)
		return writeCount(meta, readCount(meta)-uint64(removed))
	})
	if err != nil {
		return 0, fmt.Errorf("Purge: %w", err)
	}
	return removed, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

func orderKey(created time.Time, key string) []byte {
	k := make([]byte, 8, 8+len(key))
	binary.BigEndian.PutUint64(k, uint64(created.UnixNano()))
	return append(k, key...)
}

func readCount(meta *bbolt.Bucket) uint64 {
	v := meta.Get(metaCountKey)
	if len(v) != 8 {
		return 0
	}
	return binary.BigEndian.Uint64(v)
}

func writeCount(meta *bbolt.Bucket, n uint64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], n)
	return meta.Put(metaCountKey, buf[:])
}
