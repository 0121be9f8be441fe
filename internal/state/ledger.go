package state

import (
	"context"
	"errors"

	"github.com/samuel0642/txengine/internal/types"
)

var (
	ErrNotFound           = errors.New("record not found")
	ErrSupplyUnderflow    = errors.New("supply underflow")
	ErrSupplyOverflow     = errors.New("supply overflow")
	ErrAlreadyInitialized = errors.New("ledger already initialized")
)

// Ledger is read access to committed records. Every getter returns a copy
// the caller may modify freely.
type Ledger interface {
	// GetAccount returns types.ErrAccountNotFound when the address is unknown
	GetAccount(ctx context.Context, address string) (*types.Account, error)
	// GetContract returns ErrNotFound when no contract lives at address
	GetContract(ctx context.Context, address string) (*types.Contract, error)
	// GetChain returns ErrNotFound when the chain id is unknown
	GetChain(ctx context.Context, id string) (*types.Chain, error)
	HasEvidence(ctx context.Context, key string) (bool, error)
	Supply(ctx context.Context) (uint64, error)
}

func accountNotFound(address string) error {
	return types.NewError(types.KindAccountNotFound, "", "account %s", shortAddr(address))
}

func shortAddr(address string) string {
	if len(address) > 16 {
		return address[:16]
	}
	return address
}

// Genesis describes the initial allocation of a ledger
type Genesis struct {
	Accounts   map[string]uint64 // address -> balance
	Validators map[string]uint64 // address -> self stake
	Contracts  map[string]string // address -> native contract name
}

// Changes lists the records a State holds on top of its base, sorted by key
type Changes struct {
	Accounts  []*types.Account
	Contracts []*types.Contract
	Chains    []*types.Chain
	Evidence  []string
	Supply    *uint64
}

// Empty reports whether there is nothing to commit
func (c *Changes) Empty() bool {
	return len(c.Accounts) == 0 && len(c.Contracts) == 0 && len(c.Chains) == 0 &&
		len(c.Evidence) == 0 && c.Supply == nil
}
