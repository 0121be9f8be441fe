package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	badgerdb "github.com/dgraph-io/badger/v3"
	"go.uber.org/zap"

	"github.com/samuel0642/txengine/internal/logging"
)

// BadgerStore is a Store backed by BadgerDB. Every key is prefixed with the
// namespace the store was opened with.
type BadgerStore struct {
	db        *badgerdb.DB
	namespace string
	logger    *zap.Logger

	closing int32
	writeWg sync.WaitGroup
}

// OpenBadger opens (or creates) a BadgerDB database in dir
func OpenBadger(dir, namespace string, logger *zap.Logger) (*BadgerStore, error) {
	logger = logging.OrNop(logger).Named("storage")
	if dir == "" {
		return nil, errors.New("storage directory not set")
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	opts := badgerdb.DefaultOptions(dir)
	opts.SyncWrites = true
	opts.ValueLogFileSize = 64 << 20
	opts.BlockCacheSize = 32 << 20
	opts.IndexCacheSize = 16 << 20
	opts.NumMemtables = 2
	opts.Logger = &badgerLogger{logger: logger.Sugar()}

	db, err := badgerdb.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger at %s: %w", dir, err)
	}
	logger.Info("opened badger store", zap.String("dir", dir), zap.String("namespace", namespace))
	return &BadgerStore{db: db, namespace: namespace, logger: logger}, nil
}

// OpenBadgerInMemory opens a BadgerDB instance that keeps everything in memory
func OpenBadgerInMemory(namespace string, logger *zap.Logger) (*BadgerStore, error) {
	logger = logging.OrNop(logger).Named("storage")

	opts := badgerdb.DefaultOptions("").WithInMemory(true)
	opts.BlockCacheSize = 8 << 20
	opts.IndexCacheSize = 8 << 20
	opts.Logger = &badgerLogger{logger: logger.Sugar()}

	db, err := badgerdb.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open in-memory badger: %w", err)
	}
	return &BadgerStore{db: db, namespace: namespace, logger: logger}, nil
}

// Get returns the value stored under (table, key), or nil when absent
func (s *BadgerStore) Get(ctx context.Context, table, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, unavailable("get", err)
	}
	if atomic.LoadInt32(&s.closing) == 1 {
		return nil, unavailable("get", ErrClosed)
	}

	var value []byte
	err := s.db.View(func(txn *badgerdb.Txn) error {
		item, err := txn.Get([]byte(compositeKey(s.namespace, table, key)))
		if err != nil {
			if errors.Is(err, badgerdb.ErrKeyNotFound) {
				return nil
			}
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, unavailable("get", err)
	}
	return value, nil
}

// Set stores value under (table, key)
func (s *BadgerStore) Set(ctx context.Context, table, key string, value []byte) error {
	return s.SetMany(ctx, []Entry{{Table: table, Key: key, Value: value}})
}

// SetMany writes every entry in a single badger transaction
func (s *BadgerStore) SetMany(ctx context.Context, entries []Entry) error {
	if err := ctx.Err(); err != nil {
		return unavailable("set", err)
	}
	done, err := s.beginWrite()
	if err != nil {
		return unavailable("set", err)
	}
	defer done()

	err = s.db.Update(func(txn *badgerdb.Txn) error {
		for _, e := range entries {
			if err := txn.Set([]byte(compositeKey(s.namespace, e.Table, e.Key)), e.Value); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return unavailable("set", err)
	}
	return nil
}

// Close waits for in-flight writes and closes the database
func (s *BadgerStore) Close() error {
	if !atomic.CompareAndSwapInt32(&s.closing, 0, 1) {
		return nil
	}
	s.writeWg.Wait()
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close badger: %w", err)
	}
	s.logger.Info("closed badger store")
	return nil
}

func (s *BadgerStore) beginWrite() (func(), error) {
	if atomic.LoadInt32(&s.closing) == 1 {
		return nil, ErrClosed
	}
	s.writeWg.Add(1)
	// closing may have flipped between the check and Add
	if atomic.LoadInt32(&s.closing) == 1 {
		s.writeWg.Done()
		return nil, ErrClosed
	}
	return s.writeWg.Done, nil
}

// badgerLogger routes badger's internal logging into zap
type badgerLogger struct {
	logger *zap.SugaredLogger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Errorf("[badger] "+format, args...)
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warnf("[badger] "+format, args...)
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debugf("[badger] "+format, args...)
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debugf("[badger] "+format, args...)
}
