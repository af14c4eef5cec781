package dump

import (
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"sync"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/ieee0824/ctceval/evaluate"
)

const samplePrefix = "sample:"

// BadgerOptions configures a BadgerSink.
type BadgerOptions struct {
	// Dir is the directory for BadgerDB data files. Required unless InMemory.
	Dir string
	// InMemory keeps the database in memory only.
	InMemory bool
	// Logger receives badger's warnings and errors. Nil uses slog.Default().
	Logger *slog.Logger
}

// BadgerSink stores records in BadgerDB, msgpack-encoded under sequential
// sample keys. It implements evaluate.Sink.
type BadgerSink struct {
	db  *badger.DB
	mu  sync.Mutex
	seq uint64
}

// OpenBadger opens (or creates) a BadgerSink. Writes continue after the last
// record already stored.
func OpenBadger(opts BadgerOptions) (*BadgerSink, error) {
	if !opts.InMemory && opts.Dir == "" {
		return nil, errors.New("dump: BadgerOptions.Dir is required for on-disk mode")
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	dbOpts := badger.DefaultOptions(opts.Dir).WithLogger(badgerLogger{log})
	if opts.InMemory {
		dbOpts = dbOpts.WithDir("").WithValueDir("").WithInMemory(true)
	}
	db, err := badger.Open(dbOpts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	s := &BadgerSink{db: db}
	n, err := s.Len()
	if err != nil {
		db.Close()
		return nil, err
	}
	s.seq = uint64(n)
	return s, nil
}

func sampleKey(seq uint64) []byte {
	return fmt.Appendf(nil, "%s%012d", samplePrefix, seq)
}

// Write implements evaluate.Sink.
func (s *BadgerSink) Write(r evaluate.Record) error {
	data, err := msgpack.Marshal(&r)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := sampleKey(s.seq)
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, data)
	})
	if err != nil {
		return fmt.Errorf("store %s: %w", key, err)
	}
	s.seq++
	return nil
}

// Get returns the record stored at sequence number seq.
func (s *BadgerSink) Get(seq uint64) (evaluate.Record, error) {
	var rec evaluate.Record
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(sampleKey(seq))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return msgpack.Unmarshal(val, &rec)
		})
	})
	if err != nil {
		return evaluate.Record{}, fmt.Errorf("get sample %d: %w", seq, err)
	}
	return rec, nil
}

// Len counts the stored records.
func (s *BadgerSink) Len() (int, error) {
	n := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(samplePrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			n++
		}
		return nil
	})
	return n, err
}

// Records iterates over the stored records in write order.
func (s *BadgerSink) Records() iter.Seq2[evaluate.Record, error] {
	prefix := []byte(samplePrefix)
	return func(yield func(evaluate.Record, error) bool) {
		stopped := false
		err := s.db.View(func(txn *badger.Txn) error {
			opts := badger.DefaultIteratorOptions
			opts.Prefix = prefix
			it := txn.NewIterator(opts)
			defer it.Close()
			for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
				var rec evaluate.Record
				err := it.Item().Value(func(val []byte) error {
					return msgpack.Unmarshal(val, &rec)
				})
				if err != nil {
					return fmt.Errorf("decode %s: %w", it.Item().Key(), err)
				}
				if !yield(rec, nil) {
					stopped = true
					return nil
				}
			}
			return nil
		})
		if err != nil && !stopped {
			yield(evaluate.Record{}, err)
		}
	}
}

// Close closes the database.
func (s *BadgerSink) Close() error {
	return s.db.Close()
}

// badgerLogger routes badger's messages to slog, dropping info and debug.
type badgerLogger struct{ log *slog.Logger }

func (l badgerLogger) Errorf(f string, v ...any)   { l.log.Error(fmt.Sprintf("badger: "+f, v...)) }
func (l badgerLogger) Warningf(f string, v ...any) { l.log.Warn(fmt.Sprintf("badger: "+f, v...)) }
func (badgerLogger) Infof(string, ...any)          {}
func (badgerLogger) Debugf(string, ...any)         {}
