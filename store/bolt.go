// Package store provides durable, bbolt-backed implementations of
// raft.Log and raft.MetadataStore (C1/C2). Both share a single *bolt.DB
// file per replica, matching the single-file-per-node layout the rest of
// this module's domain stack favors for embedded storage.
package store

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"path/filepath"

	bolt "go.etcd.io/bbolt"

	"github.com/dsyscourse/rsm/raft"
)

var (
	bucketLog      = []byte("log")
	bucketMetadata = []byte("metadata")
)

// Bolt opens (creating if necessary) the bbolt database backing one
// replica's durable state, and exposes it through the Log and
// MetadataStore interfaces package raft depends on.
type Bolt struct {
	db *bolt.DB
}

// Open opens the database file "raft.db" under dataDir, creating it and
// its buckets if they do not already exist.
func Open(dataDir string) (*Bolt, error) {
	path := filepath.Join(dataDir, "raft.db")
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("store: opening %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketLog); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(bucketMetadata)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("store: creating buckets: %w", err)
	}
	return &Bolt{db: db}, nil
}

// Close releases the underlying file lock.
func (b *Bolt) Close() error {
	return b.db.Close()
}

// Log returns a raft.Log view over this database.
func (b *Bolt) Log() *Log {
	return &Log{db: b.db}
}

// MetadataStore returns a raft.MetadataStore view over this database.
func (b *Bolt) MetadataStore() *MetadataStore {
	return &MetadataStore{db: b.db}
}

func logKey(index raft.LogIndex) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, uint64(index))
	return key
}

// Log is a durable raft.Log backed by one bbolt bucket, keyed by
// big-endian-encoded LogIndex so that bucket iteration order matches log
// order (needed by TruncateSuffix's range delete).
type Log struct {
	db     *bolt.DB
	length raft.LogIndex
	loaded bool
}

type logEntryRecord struct {
	TermNo  raft.TermNo
	Command []byte
}

// Open loads the cached log length from disk. It must be called once,
// before any other Log method.
func (l *Log) Open() error {
	return l.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketLog)
		c := b.Cursor()
		k, _ := c.Last()
		if k == nil {
			l.length = 0
		} else {
			l.length = raft.LogIndex(binary.BigEndian.Uint64(k))
		}
		l.loaded = true
		return nil
	})
}

// Append appends entries starting at logical position from+1. from must
// equal the log's current length (package raft never calls Append
// out-of-order; reconciliation always truncates first).
func (l *Log) Append(entries []raft.LogEntry, from raft.LogIndex) error {
	if !l.loaded {
		return raft.ErrLogCorrupted
	}
	if from != l.length {
		return fmt.Errorf("store: Append from=%d does not match length=%d", from, l.length)
	}
	if len(entries) == 0 {
		return nil
	}
	err := l.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketLog)
		for i, e := range entries {
			index := from + raft.LogIndex(i) + 1
			rec := logEntryRecord{TermNo: e.TermNo, Command: []byte(e.Command)}
			data, err := json.Marshal(rec)
			if err != nil {
				return err
			}
			if err := b.Put(logKey(index), data); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	l.length += raft.LogIndex(len(entries))
	return nil
}

// TruncateSuffix deletes every entry at index >= index, leaving the log
// at length index-1.
func (l *Log) TruncateSuffix(index raft.LogIndex) error {
	if !l.loaded {
		return raft.ErrLogCorrupted
	}
	err := l.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketLog)
		c := b.Cursor()
		// Collect the keys first: deleting while the cursor walks the
		// bucket makes it skip the key after each deleted one.
		var keys [][]byte
		for k, _ := c.Seek(logKey(index)); k != nil; k, _ = c.Next() {
			keys = append(keys, append([]byte(nil), k...))
		}
		for _, k := range keys {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	if index == 0 {
		l.length = 0
	} else {
		l.length = index - 1
	}
	return nil
}

// Read returns the entry at index, which must be in [1, Length()].
func (l *Log) Read(index raft.LogIndex) (raft.LogEntry, error) {
	var entry raft.LogEntry
	err := l.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketLog)
		data := b.Get(logKey(index))
		if data == nil {
			return raft.ErrLogCorrupted
		}
		var rec logEntryRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return fmt.Errorf("store: %w: %v", raft.ErrLogCorrupted, err)
		}
		entry = raft.LogEntry{TermNo: rec.TermNo, Command: raft.Command(rec.Command)}
		return nil
	})
	return entry, err
}

// Term returns the term of the entry at index.
func (l *Log) Term(index raft.LogIndex) (raft.TermNo, error) {
	e, err := l.Read(index)
	if err != nil {
		return 0, err
	}
	return e.TermNo, nil
}

// Length returns the number of entries currently in the log.
func (l *Log) Length() raft.LogIndex {
	return l.length
}

// LastLogTerm returns the term of the last entry, or 0 if the log is
// empty.
func (l *Log) LastLogTerm() (raft.TermNo, error) {
	if l.length == 0 {
		return 0, nil
	}
	return l.Term(l.length)
}

// MetadataStore is a durable raft.MetadataStore backed by one bbolt
// bucket, keyed by the metadata key string directly.
type MetadataStore struct {
	db *bolt.DB
}

func (m *MetadataStore) TryLoadUint64(key string) (uint64, bool, error) {
	var value uint64
	var found bool
	err := m.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketMetadata).Get([]byte(key))
		if data == nil {
			return nil
		}
		found = true
		value = binary.BigEndian.Uint64(data)
		return nil
	})
	return value, found, err
}

func (m *MetadataStore) StoreUint64(key string, value uint64) error {
	data := make([]byte, 8)
	binary.BigEndian.PutUint64(data, value)
	return m.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMetadata).Put([]byte(key), data)
	})
}

func (m *MetadataStore) TryLoadString(key string) (string, bool, error) {
	var value string
	var found bool
	err := m.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketMetadata).Get([]byte(key))
		if data == nil {
			return nil
		}
		found = true
		value = string(data)
		return nil
	})
	return value, found, err
}

func (m *MetadataStore) StoreString(key string, value string) error {
	return m.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMetadata).Put([]byte(key), []byte(value))
	})
}
