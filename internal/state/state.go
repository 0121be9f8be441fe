// Package state holds the mutable ledger context transactions execute
// against and the ledgers it reads through to.
package state

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/samuel0642/txengine/internal/types"
)

// State is a copy-on-write overlay over a Ledger. Reads fall through to the
// base until a record is written; writes only touch the overlay. Apply runs
// a mutation on a child overlay and folds it in only when it succeeds, so a
// failed transaction leaves no partial effects.
type State struct {
	applyMu sync.Mutex // one Apply at a time
	mu      sync.RWMutex

	base      Ledger
	accounts  map[string]*types.Account
	contracts map[string]*types.Contract
	chains    map[string]*types.Chain
	evidence  map[string]bool
	supply    *uint64
}

// New creates an empty overlay over base
func New(base Ledger) *State {
	return &State{
		base:      base,
		accounts:  make(map[string]*types.Account),
		contracts: make(map[string]*types.Contract),
		chains:    make(map[string]*types.Chain),
		evidence:  make(map[string]bool),
	}
}

// Fork returns a child overlay reading through s. Nothing written to the
// child is visible in s until it is merged by Apply.
func (s *State) Fork() *State {
	return New(s)
}

// Apply runs fn against a fork of s and merges the fork into s if fn
// returns nil. Calls to Apply on the same State are serialized.
func (s *State) Apply(ctx context.Context, fn func(*State) error) error {
	s.applyMu.Lock()
	defer s.applyMu.Unlock()

	if err := ctx.Err(); err != nil {
		return types.Unavailable("", err)
	}
	child := s.Fork()
	if err := fn(child); err != nil {
		return err
	}
	s.absorb(child)
	return nil
}

func (s *State) absorb(child *State) {
	child.mu.RLock()
	defer child.mu.RUnlock()
	s.mu.Lock()
	defer s.mu.Unlock()

	for k, v := range child.accounts {
		s.accounts[k] = v
	}
	for k, v := range child.contracts {
		s.contracts[k] = v
	}
	for k, v := range child.chains {
		s.chains[k] = v
	}
	for k := range child.evidence {
		s.evidence[k] = true
	}
	if child.supply != nil {
		v := *child.supply
		s.supply = &v
	}
}

// GetAccount returns a copy of the account at address
func (s *State) GetAccount(ctx context.Context, address string) (*types.Account, error) {
	s.mu.RLock()
	acc, ok := s.accounts[address]
	s.mu.RUnlock()
	if ok {
		return acc.Clone(), nil
	}
	if s.base == nil {
		return nil, accountNotFound(address)
	}
	return s.base.GetAccount(ctx, address)
}

// LookupAccount is GetAccount with not-found reported as ok == false
func (s *State) LookupAccount(ctx context.Context, address string) (*types.Account, bool, error) {
	acc, err := s.GetAccount(ctx, address)
	if errors.Is(err, types.ErrAccountNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return acc, true, nil
}

// AccountOrNew returns the account at address, or a zero account when none exists
func (s *State) AccountOrNew(ctx context.Context, address string) (*types.Account, error) {
	acc, ok, err := s.LookupAccount(ctx, address)
	if err != nil {
		return nil, err
	}
	if !ok {
		return types.NewAccount(address, 0), nil
	}
	return acc, nil
}

// PutAccount writes acc into the overlay
func (s *State) PutAccount(acc *types.Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[acc.Address] = acc.Clone()
}

// GetContract returns a copy of the contract at address
func (s *State) GetContract(ctx context.Context, address string) (*types.Contract, error) {
	s.mu.RLock()
	c, ok := s.contracts[address]
	s.mu.RUnlock()
	if ok {
		return c.Clone(), nil
	}
	if s.base == nil {
		return nil, ErrNotFound
	}
	return s.base.GetContract(ctx, address)
}

// PutContract writes c into the overlay
func (s *State) PutContract(c *types.Contract) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contracts[c.Address] = c.Clone()
}

// GetChain returns a copy of the chain record with the given id
func (s *State) GetChain(ctx context.Context, id string) (*types.Chain, error) {
	s.mu.RLock()
	c, ok := s.chains[id]
	s.mu.RUnlock()
	if ok {
		cc := *c
		return &cc, nil
	}
	if s.base == nil {
		return nil, ErrNotFound
	}
	return s.base.GetChain(ctx, id)
}

// PutChain writes c into the overlay
func (s *State) PutChain(c *types.Chain) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cc := *c
	s.chains[c.ID] = &cc
}

// HasEvidence reports whether evidence with key has been recorded
func (s *State) HasEvidence(ctx context.Context, key string) (bool, error) {
	s.mu.RLock()
	ok := s.evidence[key]
	s.mu.RUnlock()
	if ok {
		return true, nil
	}
	if s.base == nil {
		return false, nil
	}
	return s.base.HasEvidence(ctx, key)
}

// MarkEvidence records evidence key
func (s *State) MarkEvidence(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evidence[key] = true
}

// Supply returns the total amount of funds in existence
func (s *State) Supply(ctx context.Context) (uint64, error) {
	s.mu.RLock()
	supply := s.supply
	s.mu.RUnlock()
	if supply != nil {
		return *supply, nil
	}
	if s.base == nil {
		return 0, nil
	}
	return s.base.Supply(ctx)
}

// AdjustSupply adds delta to the total supply
func (s *State) AdjustSupply(ctx context.Context, delta int64) error {
	current, err := s.Supply(ctx)
	if err != nil {
		return err
	}
	var next uint64
	switch {
	case delta >= 0:
		if current > math.MaxUint64-uint64(delta) {
			return fmt.Errorf("%w: adding %d to %d", ErrSupplyOverflow, delta, current)
		}
		next = current + uint64(delta)
	default:
		d := uint64(-delta)
		if d > current {
			return fmt.Errorf("%w: removing %d from %d", ErrSupplyUnderflow, d, current)
		}
		next = current - d
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.supply = &next
	return nil
}

// Dirty returns the records written to this overlay
func (s *State) Dirty() *Changes {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c := &Changes{}
	for _, k := range sortedKeys(s.accounts) {
		c.Accounts = append(c.Accounts, s.accounts[k].Clone())
	}
	for _, k := range sortedKeys(s.contracts) {
		c.Contracts = append(c.Contracts, s.contracts[k].Clone())
	}
	for _, k := range sortedKeys(s.chains) {
		cc := *s.chains[k]
		c.Chains = append(c.Chains, &cc)
	}
	c.Evidence = sortedKeys(s.evidence)
	if s.supply != nil {
		v := *s.supply
		c.Supply = &v
	}
	return c
}

// Reset drops every record of the overlay
func (s *State) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts = make(map[string]*types.Account)
	s.contracts = make(map[string]*types.Contract)
	s.chains = make(map[string]*types.Chain)
	s.evidence = make(map[string]bool)
	s.supply = nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
