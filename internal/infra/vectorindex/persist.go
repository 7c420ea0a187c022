package vectorindex

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"

	"article-finder/internal/domain/entity"
)

// File layout, one bbolt database per index file:
//
//	meta:       version, dimension, positions, generation
//	vectors:    position (8, big endian) -> dim float32 (little endian)
//	tombstones: position -> empty
//	binding:    position -> article id
var (
	bucketMeta       = []byte("meta")
	bucketVectors    = []byte("vectors")
	bucketTombstones = []byte("tombstones")
	bucketBinding    = []byte("binding")

	keyVersion    = []byte("version")
	keyDimension  = []byte("dimension")
	keyPositions  = []byte("positions")
	keyGeneration = []byte("generation")
)

const formatVersion = 1

// Persist writes the index alone to path. Positions and vectors are reproduced
// exactly by Load.
func (idx *Index) Persist(path string) error {
	return writeFile(path, &Generation{Index: idx, Binding: NewBinding()})
}

// Load reads an index written by Persist or by a Catalog.
func Load(path string) (*Index, error) {
	gen, err := readFile(path)
	if err != nil {
		return nil, err
	}
	return gen.Index, nil
}

// writeFile replaces path with the generation's index and binding. It writes a
// temporary file, syncs it and renames it over path, so a crash leaves either
// the old file or the new one.
func writeFile(path string, gen *Generation) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return &entity.StoreError{Op: "persist index", Err: err}
		}
	}

	tmp := path + ".tmp"
	if err := os.Remove(tmp); err != nil && !errors.Is(err, os.ErrNotExist) {
		return &entity.StoreError{Op: "persist index", Err: err}
	}

	if err := fillFile(tmp, gen); err != nil {
		_ = os.Remove(tmp)
		return &entity.StoreError{Op: "persist index", Err: err}
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return &entity.StoreError{Op: "persist index", Err: err}
	}
	syncDir(filepath.Dir(path))
	return nil
}

func fillFile(path string, gen *Generation) error {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return err
	}

	s := gen.Index.snap.Load()
	dim := gen.Index.dim

	err = db.Update(func(tx *bbolt.Tx) error {
		meta, err := tx.CreateBucket(bucketMeta)
		if err != nil {
			return err
		}
		vectors, err := tx.CreateBucket(bucketVectors)
		if err != nil {
			return err
		}
		tombstones, err := tx.CreateBucket(bucketTombstones)
		if err != nil {
			return err
		}
		binding, err := tx.CreateBucket(bucketBinding)
		if err != nil {
			return err
		}
		// keys are written in ascending order
		vectors.FillPercent = 1.0
		binding.FillPercent = 1.0

		for _, kv := range []struct {
			key []byte
			val uint64
		}{
			{keyVersion, formatVersion},
			{keyDimension, uint64(dim)},
			{keyPositions, uint64(s.n)},
			{keyGeneration, gen.Number},
		} {
			if err := meta.Put(kv.key, u64(kv.val)); err != nil {
				return err
			}
		}

		for pos := 0; pos < s.n; pos++ {
			// bbolt keeps a reference to values until commit
			row := make([]byte, 4*dim)
			for i, x := range s.data[pos*dim : (pos+1)*dim] {
				binary.LittleEndian.PutUint32(row[4*i:], math.Float32bits(x))
			}
			if err := vectors.Put(u64(uint64(pos)), row); err != nil {
				return err
			}
			if s.isDead(pos) {
				if err := tombstones.Put(u64(uint64(pos)), []byte{}); err != nil {
					return err
				}
			}
		}

		return gen.Binding.Each(func(pos entity.IndexPosition, id string) error {
			return binding.Put(u64(uint64(pos)), []byte(id))
		})
	})
	if err != nil {
		_ = db.Close()
		return err
	}
	return db.Close()
}

func readFile(path string) (*Generation, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, &entity.StoreError{Op: "load index", Err: err}
	}
	db, err := bbolt.Open(path, 0600, &bbolt.Options{ReadOnly: true, Timeout: 5 * time.Second})
	if err != nil {
		return nil, &entity.StoreError{Op: "load index", Err: err}
	}
	defer func() { _ = db.Close() }()

	var gen *Generation
	err = db.View(func(tx *bbolt.Tx) error {
		meta := tx.Bucket(bucketMeta)
		vectors := tx.Bucket(bucketVectors)
		tombstones := tx.Bucket(bucketTombstones)
		binding := tx.Bucket(bucketBinding)
		if meta == nil || vectors == nil || tombstones == nil || binding == nil {
			return errors.New("not an index file: missing buckets")
		}

		if v := readU64(meta, keyVersion); v != formatVersion {
			return fmt.Errorf("unsupported index format version %d", v)
		}
		dim := int(readU64(meta, keyDimension))
		n := int(readU64(meta, keyPositions))
		if dim <= 0 {
			return fmt.Errorf("invalid dimension %d", dim)
		}

		data := make([]float32, 0, n*dim)
		c := vectors.Cursor()
		expect := 0
		for k, v := c.First(); k != nil; k, v = c.Next() {
			pos := int(binary.BigEndian.Uint64(k))
			if pos != expect {
				return fmt.Errorf("vector for position %d missing", expect)
			}
			if len(v) != 4*dim {
				return fmt.Errorf("vector %d has %d bytes, want %d", pos, len(v), 4*dim)
			}
			for i := 0; i < dim; i++ {
				data = append(data, math.Float32frombits(binary.LittleEndian.Uint32(v[4*i:])))
			}
			expect++
		}
		if expect != n {
			return fmt.Errorf("index holds %d vectors, meta says %d", expect, n)
		}

		snap := &snapshot{data: data, n: n}
		if n > 0 {
			snap.dead = make([]uint64, (n+63)/64)
		}
		err := tombstones.ForEach(func(k, _ []byte) error {
			pos := int(binary.BigEndian.Uint64(k))
			if pos >= n {
				return fmt.Errorf("tombstone for unknown position %d", pos)
			}
			snap.dead[pos/64] |= 1 << (uint(pos) % 64)
			snap.nDead++
			return nil
		})
		if err != nil {
			return err
		}

		idx := &Index{dim: dim}
		idx.snap.Store(snap)

		b := NewBinding()
		err = binding.ForEach(func(k, v []byte) error {
			_, _, err := b.Bind(entity.IndexPosition(binary.BigEndian.Uint64(k)), string(v))
			return err
		})
		if err != nil {
			return err
		}

		gen = &Generation{Number: readU64(meta, keyGeneration), Index: idx, Binding: b, serial: serials.Add(1)}
		return nil
	})
	if err != nil {
		var storeErr *entity.StoreError
		if errors.As(err, &storeErr) {
			return nil, err
		}
		return nil, &entity.StoreError{Op: "load index", Err: fmt.Errorf("%s: %w", path, err)}
	}
	return gen, nil
}

func u64(v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return b[:]
}

func readU64(b *bbolt.Bucket, key []byte) uint64 {
	v := b.Get(key)
	if len(v) != 8 {
		return 0
	}
	return binary.BigEndian.Uint64(v)
}

func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}
