package transaction

import (
	"errors"
	"sync"

	"github.com/samuel0642/txengine/internal/types"
)

var (
	// ErrDuplicateTx is returned when a transaction is already in the pool
	ErrDuplicateTx = errors.New("duplicate transaction")
	// ErrPoolFull is returned when the transaction pool is full
	ErrPoolFull = errors.New("transaction pool is full")
)

// Mempool is the pending-transaction lookup the validator depends on
type Mempool interface {
	Has(hash string) bool
}

// Pool is a keyed set of pending transactions. It keeps arrival order so
// Pending hands transactions out first come first served.
type Pool struct {
	txs     map[string]*types.Transaction
	order   []string
	maxSize int
	mu      sync.RWMutex
}

// NewPool creates a new transaction pool. A maxSize of zero means unbounded.
func NewPool(maxSize int) *Pool {
	return &Pool{
		txs:     make(map[string]*types.Transaction),
		maxSize: maxSize,
	}
}

// Add adds a transaction to the pool under its recomputed hash. The Hash
// field the transaction arrived with is ignored.
func (p *Pool) Add(tx *types.Transaction) error {
	hash := tx.ComputeHash()

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.txs[hash]; exists {
		return ErrDuplicateTx
	}
	if p.maxSize > 0 && len(p.txs) >= p.maxSize {
		return ErrPoolFull
	}

	p.txs[hash] = tx
	p.order = append(p.order, hash)
	return nil
}

// Has reports whether a transaction with hash is pending
func (p *Pool) Has(hash string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, exists := p.txs[hash]
	return exists
}

// Get retrieves a transaction by its hash
func (p *Pool) Get(hash string) (*types.Transaction, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	tx, exists := p.txs[hash]
	return tx, exists
}

// Remove removes the transactions with the given hashes
func (p *Pool) Remove(hashes ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	removed := 0
	for _, h := range hashes {
		if _, exists := p.txs[h]; exists {
			delete(p.txs, h)
			removed++
		}
	}
	if removed == 0 {
		return
	}
	order := p.order[:0]
	for _, h := range p.order {
		if _, exists := p.txs[h]; exists {
			order = append(order, h)
		}
	}
	p.order = order
}

// Pending returns up to n transactions in arrival order. n <= 0 returns all.
func (p *Pool) Pending(n int) []*types.Transaction {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if n <= 0 || n > len(p.order) {
		n = len(p.order)
	}
	txs := make([]*types.Transaction, 0, n)
	for _, h := range p.order[:n] {
		txs = append(txs, p.txs[h])
	}
	return txs
}

// Len returns the number of pending transactions
func (p *Pool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.txs)
}

// Clear clears the transaction pool
func (p *Pool) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.txs = make(map[string]*types.Transaction)
	p.order = nil
}
