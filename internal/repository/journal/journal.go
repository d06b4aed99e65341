package journal

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	jsoniter "github.com/json-iterator/go"
	"github.com/syndtr/goleveldb/leveldb"
	lerrors "github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/oshokin/alarm-processor/internal/logger"
)

//nolint:gochecknoglobals // Stateless codec configuration.
var json = jsoniter.ConfigCompatibleWithStandardLibrary

var (
	// ErrNotFound is returned when a table has no value for a key.
	ErrNotFound = errors.New("journal: key not found")
	// ErrClosed is returned by operations on a closed journal.
	ErrClosed = errors.New("journal: closed")
)

const (
	logPrefix   = "l/"
	tablePrefix = "t/"
	metaPrefix  = "m/"
)

// Headers are producer metadata attached to each record.
type Headers map[string]string

// Record is one entry of a topic log.
type Record struct {
	Topic   string  `json:"-"`
	Offset  uint64  `json:"-"`
	Key     string  `json:"key"`
	Value   []byte  `json:"value,omitempty"`
	Headers Headers `json:"headers,omitempty"`
	// Time is the wall-clock time of the append.
	Time time.Time `json:"time"`
}

// Tombstone reports whether the record removes its key.
func (r *Record) Tombstone() bool {
	return r.Value == nil
}

// Option configures a Journal.
type Option func(*Journal)

// WithHeaders sets the function producing headers for each append.
func WithHeaders(fn func() Headers) Option {
	return func(j *Journal) {
		j.headers = fn
	}
}

// WithSync makes every append wait for the write to reach stable storage.
func WithSync(sync bool) Option {
	return func(j *Journal) {
		j.writeOptions = &opt.WriteOptions{Sync: sync}
	}
}

// Journal is a set of durable topics backed by goleveldb.
type Journal struct {
	db *leveldb.DB

	headers      func() Headers
	writeOptions *opt.WriteOptions

	// mu serializes appends so offsets are assigned without gaps.
	mu      sync.Mutex
	offsets map[string]uint64
	closed  bool
}

// Open opens (or creates) the journal at path. A corrupted database is
// recovered before giving up.
func Open(path string, options ...Option) (*Journal, error) {
	db, err := leveldb.OpenFile(path, nil)
	if lerrors.IsCorrupted(err) {
		db, err = leveldb.RecoverFile(path, nil)
	}

	if err != nil {
		return nil, fmt.Errorf("open journal %s: %w", path, err)
	}

	return newJournal(db, options...), nil
}

// OpenMemory opens a journal that lives only in memory.
func OpenMemory(options ...Option) (*Journal, error) {
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		return nil, fmt.Errorf("open memory journal: %w", err)
	}

	return newJournal(db, options...), nil
}

// OpenRetry opens the journal at path, retrying with exponential backoff
// until it succeeds, ctx is done or maxElapsed passes.
func OpenRetry(ctx context.Context, path string, maxElapsed time.Duration, options ...Option) (*Journal, error) {
	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = maxElapsed

	var j *Journal

	operation := func() error {
		var err error

		j, err = Open(path, options...)

		return err
	}

	notify := func(err error, wait time.Duration) {
		logger.WarnKV(ctx, "Journal unavailable, retrying", "path", path, "error", err, "wait", wait)
	}

	if err := backoff.RetryNotify(operation, backoff.WithContext(policy, ctx), notify); err != nil {
		return nil, err
	}

	return j, nil
}

func newJournal(db *leveldb.DB, options ...Option) *Journal {
	j := &Journal{
		db:           db,
		headers:      func() Headers { return nil },
		writeOptions: &opt.WriteOptions{Sync: true},
		offsets:      make(map[string]uint64),
	}

	for _, o := range options {
		o(j)
	}

	return j
}

// Entry is one record of a multi-topic append.
type Entry struct {
	Topic string
	Key   string
	// Value is the record value; nil appends a tombstone.
	Value []byte
}

// Append writes value under key to topic and returns the record offset.
// A nil value appends a tombstone and removes the key from the table.
func (j *Journal) Append(topic, key string, value []byte) (uint64, error) {
	offsets, err := j.AppendBatch(Entry{Topic: topic, Key: key, Value: value})
	if err != nil {
		return 0, err
	}

	return offsets[0], nil
}

// AppendBatch writes entries, possibly across topics, in one atomic batch:
// either every record and table update is applied or none is. Offsets are
// returned in entry order.
func (j *Journal) AppendBatch(entries ...Entry) ([]uint64, error) {
	if len(entries) == 0 {
		return nil, nil
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return nil, ErrClosed
	}

	var (
		now     = time.Now().UTC()
		batch   = new(leveldb.Batch)
		next    = make(map[string]uint64, len(entries))
		offsets = make([]uint64, 0, len(entries))
	)

	for _, e := range entries {
		offset, ok := next[e.Topic]
		if !ok {
			var err error

			if offset, err = j.nextOffset(e.Topic); err != nil {
				return nil, err
			}
		}

		rec := Record{
			Key:     e.Key,
			Value:   e.Value,
			Headers: j.headers(),
			Time:    now,
		}

		encoded, err := json.Marshal(&rec)
		if err != nil {
			return nil, fmt.Errorf("encode record %s/%s: %w", e.Topic, e.Key, err)
		}

		batch.Put(logKey(e.Topic, offset), encoded)

		if e.Value == nil {
			batch.Delete(tableKey(e.Topic, e.Key))
		} else {
			batch.Put(tableKey(e.Topic, e.Key), e.Value)
		}

		next[e.Topic] = offset + 1
		offsets = append(offsets, offset)
	}

	for topic, offset := range next {
		batch.Put(metaKey(topic), encodeOffset(offset))
	}

	if err := j.db.Write(batch, j.writeOptions); err != nil {
		return nil, fmt.Errorf("append %s/%s: %w", entries[0].Topic, entries[0].Key, err)
	}

	for topic, offset := range next {
		j.offsets[topic] = offset
	}

	return offsets, nil
}

// Get returns the latest value of key in topic.
func (j *Journal) Get(topic, key string) ([]byte, error) {
	value, err := j.db.Get(tableKey(topic, key), nil)

	switch {
	case err == nil:
		return value, nil
	case errors.Is(err, leveldb.ErrNotFound):
		return nil, ErrNotFound
	case errors.Is(err, leveldb.ErrClosed):
		return nil, ErrClosed
	default:
		return nil, fmt.Errorf("get %s/%s: %w", topic, key, err)
	}
}

// Table calls fn for the latest value of every live key in topic, in key
// order. Iteration works on a snapshot, so concurrent appends are not seen.
func (j *Journal) Table(topic string, fn func(key string, value []byte) error) error {
	prefix := tableKey(topic, "")

	return j.iterate(util.BytesPrefix(prefix), func(k, v []byte) error {
		return fn(string(bytes.TrimPrefix(k, prefix)), v)
	})
}

// Replay calls fn for every record of topic starting at offset from.
func (j *Journal) Replay(topic string, from uint64, fn func(*Record) error) error {
	r := util.BytesPrefix(logKey(topic, 0)[:len(logPrefix)+len(topic)+1])
	r.Start = logKey(topic, from)

	return j.iterate(r, func(k, v []byte) error {
		var rec Record
		if err := json.Unmarshal(v, &rec); err != nil {
			return fmt.Errorf("decode record %s: %w", k, err)
		}

		rec.Topic = topic
		rec.Offset = binary.BigEndian.Uint64(k[len(k)-8:])

		return fn(&rec)
	})
}

// Close closes the database. Appends in progress complete first.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return nil
	}

	j.closed = true

	return j.db.Close()
}

func (j *Journal) iterate(r *util.Range, fn func(k, v []byte) error) error {
	snap, err := j.db.GetSnapshot()
	if err != nil {
		if errors.Is(err, leveldb.ErrClosed) {
			return ErrClosed
		}

		return fmt.Errorf("snapshot: %w", err)
	}
	defer snap.Release()

	it := snap.NewIterator(r, nil)
	defer it.Release()

	for it.Next() {
		// Key and Value are only valid until the next call to Next.
		if err = fn(bytes.Clone(it.Key()), bytes.Clone(it.Value())); err != nil {
			return err
		}
	}

	return it.Error()
}

func (j *Journal) nextOffset(topic string) (uint64, error) {
	if offset, ok := j.offsets[topic]; ok {
		return offset, nil
	}

	value, err := j.db.Get(metaKey(topic), nil)

	switch {
	case errors.Is(err, leveldb.ErrNotFound):
		return 0, nil
	case err != nil:
		return 0, fmt.Errorf("read offset of %s: %w", topic, err)
	default:
		return binary.BigEndian.Uint64(value), nil
	}
}

func logKey(topic string, offset uint64) []byte {
	key := make([]byte, 0, len(logPrefix)+len(topic)+1+8)
	key = append(key, logPrefix...)
	key = append(key, topic...)
	key = append(key, '/')

	return binary.BigEndian.AppendUint64(key, offset)
}

func tableKey(topic, key string) []byte {
	return []byte(tablePrefix + topic + "/" + key)
}

func metaKey(topic string) []byte {
	return []byte(metaPrefix + topic)
}

func encodeOffset(offset uint64) []byte {
	return binary.BigEndian.AppendUint64(nil, offset)
}
