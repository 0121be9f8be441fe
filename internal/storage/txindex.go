package storage

import (
	"context"
	"strconv"
	"sync"

	"github.com/samuel0642/txengine/internal/types"
)

const (
	// TransactionsTable holds committed transaction hashes and the counter
	TransactionsTable = "transactions"
	// CountKey is the key of the decimal transaction counter
	CountKey = "transactions_count"
)

// TxIndex records which transaction hashes have been committed
type TxIndex struct {
	mu    sync.Mutex
	store Store
}

// NewTxIndex creates an index over store
func NewTxIndex(store Store) *TxIndex {
	return &TxIndex{store: store}
}

// Has reports whether hash has been committed
func (i *TxIndex) Has(ctx context.Context, hash string) (bool, error) {
	v, err := i.store.Get(ctx, TransactionsTable, hash)
	if err != nil {
		return false, err
	}
	return v != nil, nil
}

// Count returns the number of committed transactions
func (i *TxIndex) Count(ctx context.Context) (uint64, error) {
	v, err := i.store.Get(ctx, TransactionsTable, CountKey)
	if err != nil {
		return 0, err
	}
	if v == nil {
		return 0, nil
	}
	n, err := strconv.ParseUint(string(v), 10, 64)
	if err != nil {
		return 0, types.NewError(types.KindCollaboratorUnavailable, "", "corrupt transaction counter %q: %w", v, err)
	}
	return n, nil
}

// Record marks hash as committed and advances the counter in one write.
// It returns the sequence number assigned to hash, starting at 1.
func (i *TxIndex) Record(ctx context.Context, hash string) (uint64, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	exists, err := i.Has(ctx, hash)
	if err != nil {
		return 0, err
	}
	if exists {
		return 0, types.NewError(types.KindAlreadyCommitted, hash, "already recorded")
	}
	count, err := i.Count(ctx)
	if err != nil {
		return 0, err
	}
	seq := count + 1
	encoded := []byte(strconv.FormatUint(seq, 10))
	err = i.store.SetMany(ctx, []Entry{
		{Table: TransactionsTable, Key: hash, Value: encoded},
		{Table: TransactionsTable, Key: CountKey, Value: encoded},
	})
	if err != nil {
		return 0, err
	}
	return seq, nil
}

// Sequence returns the sequence number of a committed hash, or 0 when the
// hash is unknown
func (i *TxIndex) Sequence(ctx context.Context, hash string) (uint64, error) {
	v, err := i.store.Get(ctx, TransactionsTable, hash)
	if err != nil || v == nil {
		return 0, err
	}
	n, err := strconv.ParseUint(string(v), 10, 64)
	if err != nil {
		return 0, types.NewError(types.KindCollaboratorUnavailable, hash, "corrupt index entry %q: %w", v, err)
	}
	return n, nil
}

// Batch stages Record calls on top of an index so the hashes can be written
// in the same store batch as the state they belong to, or dropped with it.
// Has and Record see staged hashes. A Batch must not be mixed with direct
// Record calls on the same index.
type Batch struct {
	mu     sync.Mutex
	index  *TxIndex
	staged map[string]uint64
	order  []string
	count  uint64
	loaded bool
}

// Batch starts an empty batch over i
func (i *TxIndex) Batch() *Batch {
	return &Batch{index: i, staged: make(map[string]uint64)}
}

// Has reports whether hash is staged or committed
func (b *Batch) Has(ctx context.Context, hash string) (bool, error) {
	b.mu.Lock()
	_, ok := b.staged[hash]
	b.mu.Unlock()
	if ok {
		return true, nil
	}
	return b.index.Has(ctx, hash)
}

// Record stages hash and returns the sequence number it will be committed under
func (b *Batch) Record(ctx context.Context, hash string) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.staged[hash]; ok {
		return 0, types.NewError(types.KindAlreadyCommitted, hash, "already staged")
	}
	exists, err := b.index.Has(ctx, hash)
	if err != nil {
		return 0, err
	}
	if exists {
		return 0, types.NewError(types.KindAlreadyCommitted, hash, "already recorded")
	}
	if !b.loaded {
		if b.count, err = b.index.Count(ctx); err != nil {
			return 0, err
		}
		b.loaded = true
	}
	b.count++
	b.staged[hash] = b.count
	b.order = append(b.order, hash)
	return b.count, nil
}

// Len returns the number of staged hashes
func (b *Batch) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.order)
}

// Entries returns the writes that commit every staged hash and the counter
func (b *Batch) Entries() []Entry {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.order) == 0 {
		return nil
	}
	entries := make([]Entry, 0, len(b.order)+1)
	for _, h := range b.order {
		entries = append(entries, Entry{Table: TransactionsTable, Key: h, Value: []byte(strconv.FormatUint(b.staged[h], 10))})
	}
	return append(entries, Entry{Table: TransactionsTable, Key: CountKey, Value: []byte(strconv.FormatUint(b.count, 10))})
}

// Flush writes the staged hashes on their own and empties the batch
func (b *Batch) Flush(ctx context.Context) error {
	entries := b.Entries()
	if len(entries) == 0 {
		return nil
	}
	if err := b.index.store.SetMany(ctx, entries); err != nil {
		return err
	}
	b.Discard()
	return nil
}

// Discard drops every staged hash
func (b *Batch) Discard() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.staged = make(map[string]uint64)
	b.order = nil
	b.loaded = false
}
