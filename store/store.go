// Package store persists block fields in a bbolt file.
//
// Each field lives in its own bucket. The "meta" key holds the domain and
// channel count as JSON; every block slot is stored under its block id as
// little-endian float64 values, channel-major like the in-memory layout.
package store

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/cespare/xxhash"
	"github.com/notargets/gridtensor/domain"
	"github.com/notargets/gridtensor/field"
	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"
)

var metaKey = []byte("meta")

// meta describes a stored field
type meta struct {
	Dims       int            `json:"dims"`
	N          domain.IntVect `json:"n"`
	Blocks     []domain.Box   `json:"blocks"`
	Owner      []int          `json:"owner"`
	NumWorkers int            `json:"num_workers"`
	Channels   int            `json:"channels"`
	Checksum   uint64         `json:"checksum"`
	Written    time.Time      `json:"written"`
	Attrs      map[string]any `json:"attrs,omitempty"`
}

// Store is an open field database
type Store struct {
	db   *bolt.DB
	Path string

	// Returns the current time. Can be mocked for tests.
	Now func() time.Time
}

// Open opens or creates the database at path
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o777); err != nil {
		return nil, errors.Wrapf(err, "mkdir %s", filepath.Dir(path))
	}
	db, err := bolt.Open(path, 0o666, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, errors.Wrapf(err, "open file: %s", path)
	}
	return &Store{db: db, Path: path, Now: time.Now}, nil
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return errors.Wrap(err, "closing store")
}

// Entry is one field to persist
type Entry struct {
	Name  string
	Field *field.Field
	Attrs map[string]any
}

// Save writes every entry in a single transaction, replacing fields of the
// same name. Either all entries are written or none are.
func (s *Store) Save(entries ...Entry) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		for _, e := range entries {
			if e.Name == "" || e.Field == nil {
				return fmt.Errorf("entry needs a name and a field")
			}
			if tx.Bucket([]byte(e.Name)) != nil {
				if err := tx.DeleteBucket([]byte(e.Name)); err != nil {
					return errors.Wrapf(err, "replacing bucket: %s", e.Name)
				}
			}
			bkt, err := tx.CreateBucket([]byte(e.Name))
			if err != nil {
				return errors.Wrapf(err, "creating bucket: %s", e.Name)
			}
			if err = s.put(bkt, e); err != nil {
				return errors.Wrapf(err, "writing field: %s", e.Name)
			}
		}
		return nil
	})
	return errors.Wrapf(err, "saving to %s", s.Path)
}

func (s *Store) put(bkt *bolt.Bucket, e Entry) error {
	f := e.Field
	h := xxhash.New()
	for b := 0; b < f.NumBlocks(); b++ {
		buf := encodeBlock(f.Block(b))
		h.Write(buf)
		if err := bkt.Put(blockKey(b), buf); err != nil {
			return err
		}
	}
	d := f.Domain
	m := meta{
		Dims:       d.Dims,
		N:          d.N,
		Blocks:     d.Blocks,
		Owner:      d.Owner,
		NumWorkers: d.NumWorkers,
		Channels:   f.Channels,
		Checksum:   h.Sum64(),
		Written:    s.Now().UTC(),
		Attrs:      e.Attrs,
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return bkt.Put(metaKey, raw)
}

// Load reads a field and verifies its checksum
func (s *Store) Load(name string) (*field.Field, error) {
	var f *field.Field
	err := s.db.View(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte(name))
		if bkt == nil {
			return fmt.Errorf("bucket '%s' not found", name)
		}
		var m meta
		if err := json.Unmarshal(bkt.Get(metaKey), &m); err != nil {
			return errors.Wrap(err, "decoding meta")
		}
		d, err := domain.New(m.Dims, m.N, m.Blocks, m.Owner, m.NumWorkers)
		if err != nil {
			return err
		}
		if f, err = field.New(d, m.Channels); err != nil {
			return err
		}
		h := xxhash.New()
		for b := 0; b < f.NumBlocks(); b++ {
			raw := bkt.Get(blockKey(b))
			slot := f.Block(b)
			if len(raw) != 8*len(slot) {
				return fmt.Errorf("block %d holds %d bytes, want %d", b, len(raw), 8*len(slot))
			}
			h.Write(raw)
			decodeBlock(slot, raw)
		}
		if sum := h.Sum64(); sum != m.Checksum {
			return fmt.Errorf("checksum mismatch: stored %x, computed %x", m.Checksum, sum)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "loading %s from %s", name, s.Path)
	}
	return f, nil
}

// Attrs returns the attributes stored with a field
func (s *Store) Attrs(name string) (map[string]any, error) {
	var m meta
	err := s.db.View(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte(name))
		if bkt == nil {
			return fmt.Errorf("bucket '%s' not found", name)
		}
		return json.Unmarshal(bkt.Get(metaKey), &m)
	})
	return m.Attrs, errors.Wrapf(err, "reading attributes of %s", name)
}

// Names lists the stored fields in sorted order
func (s *Store) Names() ([]string, error) {
	var names []string
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.ForEach(func(name []byte, _ *bolt.Bucket) error {
			names = append(names, string(name))
			return nil
		})
	})
	sort.Strings(names)
	return names, errors.Wrap(err, "listing fields")
}

func blockKey(b int) []byte {
	return []byte(fmt.Sprintf("block/%08d", b))
}

func encodeBlock(values []float64) []byte {
	buf := make([]byte, 8*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint64(buf[8*i:], math.Float64bits(v))
	}
	return buf
}

func decodeBlock(dst []float64, raw []byte) {
	for i := range dst {
		dst[i] = math.Float64frombits(binary.LittleEndian.Uint64(raw[8*i:]))
	}
}
