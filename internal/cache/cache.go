// Package cache 把求解结果持久化到 bbolt，条目用 cbor 编码
package cache

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"time"

	"github.com/fxamacker/cbor"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"go.etcd.io/bbolt"

	"gstate/internal/smt"
)

var bucket = []byte("verdicts")

// Entry is one stored verdict.
type Entry struct {
	Key     uint64
	Solver  string
	Mode    string
	Status  uint8
	Reason  string
	Query   string
	Core    []int
	Session string
	// Unix seconds
	Recorded int64
}

func (e Entry) Verdict() smt.Verdict {
	return smt.Verdict{
		Key:    e.Key,
		Solver: e.Solver,
		Mode:   smt.Mode(e.Mode),
		Status: smt.Status(e.Status),
		Reason: e.Reason,
		Query:  e.Query,
		Core:   e.Core,
	}
}

// Store is a verdict cache backed by a bbolt file. It is safe for concurrent
// use by the sessions of one analysis.
type Store struct {
	db      *bbolt.DB
	session string
	now     func() time.Time
}

// Open opens or creates the cache file at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrap(err, "create cache directory")
		}
	}
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, errors.Wrapf(err, "open cache %s", path)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "create bucket")
	}
	log.Debugf("opened verdict cache %s", path)
	return &Store{db: db, now: time.Now}, nil
}

// WithSession returns a view of the store that stamps recorded entries with
// the session id.
func (s *Store) WithSession(id uuid.UUID) *Store {
	view := *s
	view.session = id.String()
	return &view
}

func encodeKey(key uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, key)
	return b
}

func (s *Store) Lookup(key uint64) (smt.Verdict, bool, error) {
	var (
		entry Entry
		found bool
	)
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucket).Get(encodeKey(key))
		if data == nil {
			return nil
		}
		found = true
		return cbor.Unmarshal(data, &entry)
	})
	if err != nil {
		return smt.Verdict{}, false, errors.Wrapf(err, "lookup %016x", key)
	}
	return entry.Verdict(), found, nil
}

func (s *Store) Record(v smt.Verdict) error {
	entry := Entry{
		Key:      v.Key,
		Solver:   v.Solver,
		Mode:     string(v.Mode),
		Status:   uint8(v.Status),
		Reason:   v.Reason,
		Query:    v.Query,
		Core:     v.Core,
		Session:  s.session,
		Recorded: s.now().Unix(),
	}
	data, err := cbor.Marshal(entry, cbor.EncOptions{})
	if err != nil {
		return errors.Wrap(err, "encode verdict")
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucket).Put(encodeKey(v.Key), data)
	})
}

// List returns every entry ordered by key.
func (s *Store) List() ([]Entry, error) {
	var entries []Entry
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucket).ForEach(func(k, data []byte) error {
			var entry Entry
			if err := cbor.Unmarshal(data, &entry); err != nil {
				return errors.Wrapf(err, "decode %x", k)
			}
			entries = append(entries, entry)
			return nil
		})
	})
	return entries, err
}

// Clear removes every entry.
func (s *Store) Clear() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.DeleteBucket(bucket); err != nil {
			return err
		}
		_, err := tx.CreateBucket(bucket)
		return err
	})
}

func (s *Store) Close() error {
	return s.db.Close()
}
