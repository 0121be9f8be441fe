package state

import (
	"context"
	"sync"

	"github.com/samuel0642/txengine/internal/types"
)

// MemoryLedger is an in-memory Ledger
type MemoryLedger struct {
	mu        sync.RWMutex
	accounts  map[string]*types.Account
	contracts map[string]*types.Contract
	chains    map[string]*types.Chain
	evidence  map[string]bool
	supply    uint64
}

// NewMemoryLedger creates an empty ledger
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		accounts:  make(map[string]*types.Account),
		contracts: make(map[string]*types.Contract),
		chains:    make(map[string]*types.Chain),
		evidence:  make(map[string]bool),
	}
}

// NewMemoryLedgerFromGenesis creates a ledger seeded with g
func NewMemoryLedgerFromGenesis(ctx context.Context, g Genesis) (*MemoryLedger, error) {
	l := NewMemoryLedger()
	st := New(l)
	if err := seed(ctx, st, g); err != nil {
		return nil, err
	}
	l.Commit(st)
	return l, nil
}

func (l *MemoryLedger) GetAccount(_ context.Context, address string) (*types.Account, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	acc, ok := l.accounts[address]
	if !ok {
		return nil, accountNotFound(address)
	}
	return acc.Clone(), nil
}

func (l *MemoryLedger) GetContract(_ context.Context, address string) (*types.Contract, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	c, ok := l.contracts[address]
	if !ok {
		return nil, ErrNotFound
	}
	return c.Clone(), nil
}

func (l *MemoryLedger) GetChain(_ context.Context, id string) (*types.Chain, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	c, ok := l.chains[id]
	if !ok {
		return nil, ErrNotFound
	}
	cc := *c
	return &cc, nil
}

func (l *MemoryLedger) HasEvidence(_ context.Context, key string) (bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.evidence[key], nil
}

func (l *MemoryLedger) Supply(_ context.Context) (uint64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.supply, nil
}

// Commit copies the records held by st into the ledger and resets st
func (l *MemoryLedger) Commit(st *State) {
	changes := st.Dirty()

	l.mu.Lock()
	for _, a := range changes.Accounts {
		l.accounts[a.Address] = a
	}
	for _, c := range changes.Contracts {
		l.contracts[c.Address] = c
	}
	for _, c := range changes.Chains {
		l.chains[c.ID] = c
	}
	for _, e := range changes.Evidence {
		l.evidence[e] = true
	}
	if changes.Supply != nil {
		l.supply = *changes.Supply
	}
	l.mu.Unlock()

	st.Reset()
}

// Accounts returns a copy of every account
func (l *MemoryLedger) Accounts() []*types.Account {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]*types.Account, 0, len(l.accounts))
	for _, k := range sortedKeys(l.accounts) {
		out = append(out, l.accounts[k].Clone())
	}
	return out
}

// Holdings returns the sum of every balance and stake, which equals the
// supply while the ledger is consistent
func (l *MemoryLedger) Holdings() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var total uint64
	for _, a := range l.accounts {
		total += a.Balance + a.Stake
	}
	return total
}
