package state

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"go.uber.org/zap"

	"github.com/samuel0642/txengine/internal/logging"
	"github.com/samuel0642/txengine/internal/storage"
	"github.com/samuel0642/txengine/internal/types"
)

const (
	accountsTable  = "accounts"
	contractsTable = "contracts"
	chainsTable    = "chains"
	evidenceTable  = "evidence"
	metaTable      = "meta"

	supplyKey  = "supply"
	genesisKey = "genesis"
)

// StoreLedger is a Ledger persisted in a storage.Store as JSON records
type StoreLedger struct {
	store  storage.Store
	logger *zap.Logger
}

// NewStoreLedger creates a ledger over store
func NewStoreLedger(store storage.Store, logger *zap.Logger) *StoreLedger {
	return &StoreLedger{
		store:  store,
		logger: logging.OrNop(logger).Named("ledger"),
	}
}

func (l *StoreLedger) load(ctx context.Context, table, key string, out interface{}) (bool, error) {
	data, err := l.store.Get(ctx, table, key)
	if err != nil {
		return false, err
	}
	if data == nil {
		return false, nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false, types.NewError(types.KindCollaboratorUnavailable, "", "corrupt %s record %s: %w", table, shortAddr(key), err)
	}
	return true, nil
}

// GetAccount loads the account at address
func (l *StoreLedger) GetAccount(ctx context.Context, address string) (*types.Account, error) {
	var acc types.Account
	ok, err := l.load(ctx, accountsTable, address, &acc)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, accountNotFound(address)
	}
	if acc.Delegations == nil {
		acc.Delegations = make(map[string]uint64)
	}
	return &acc, nil
}

// GetContract loads the contract at address
func (l *StoreLedger) GetContract(ctx context.Context, address string) (*types.Contract, error) {
	var c types.Contract
	ok, err := l.load(ctx, contractsTable, address, &c)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	if c.Storage == nil {
		c.Storage = make(map[string]string)
	}
	return &c, nil
}

// GetChain loads the chain record with the given id
func (l *StoreLedger) GetChain(ctx context.Context, id string) (*types.Chain, error) {
	var c types.Chain
	ok, err := l.load(ctx, chainsTable, id, &c)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	return &c, nil
}

// HasEvidence reports whether evidence key has been recorded
func (l *StoreLedger) HasEvidence(ctx context.Context, key string) (bool, error) {
	data, err := l.store.Get(ctx, evidenceTable, key)
	if err != nil {
		return false, err
	}
	return data != nil, nil
}

// Supply returns the committed total supply
func (l *StoreLedger) Supply(ctx context.Context) (uint64, error) {
	data, err := l.store.Get(ctx, metaTable, supplyKey)
	if err != nil || data == nil {
		return 0, err
	}
	n, err := strconv.ParseUint(string(data), 10, 64)
	if err != nil {
		return 0, types.NewError(types.KindCollaboratorUnavailable, "", "corrupt supply %q: %w", data, err)
	}
	return n, nil
}

// Commit writes the records held by st, plus any extra entries, in one
// atomic batch and resets st so it reads the committed values through
func (l *StoreLedger) Commit(ctx context.Context, st *State, extra ...storage.Entry) error {
	changes := st.Dirty()
	if changes.Empty() && len(extra) == 0 {
		return nil
	}
	entries, err := changeEntries(changes)
	if err != nil {
		return err
	}
	entries = append(entries, extra...)
	if err := l.store.SetMany(ctx, entries); err != nil {
		return err
	}
	st.Reset()
	l.logger.Debug("committed state",
		zap.Int("accounts", len(changes.Accounts)),
		zap.Int("contracts", len(changes.Contracts)),
		zap.Int("chains", len(changes.Chains)),
		zap.Int("evidence", len(changes.Evidence)),
		zap.Int("extra", len(extra)))
	return nil
}

// Genesis seeds an empty ledger with g. It fails with ErrAlreadyInitialized
// when run twice against the same store.
func (l *StoreLedger) Genesis(ctx context.Context, g Genesis) error {
	done, err := l.store.Get(ctx, metaTable, genesisKey)
	if err != nil {
		return err
	}
	if done != nil {
		return ErrAlreadyInitialized
	}

	st := New(l)
	if err := seed(ctx, st, g); err != nil {
		return err
	}
	entries, err := changeEntries(st.Dirty())
	if err != nil {
		return err
	}
	entries = append(entries, storage.Entry{Table: metaTable, Key: genesisKey, Value: []byte(st.Digest())})
	if err := l.store.SetMany(ctx, entries); err != nil {
		return err
	}
	l.logger.Info("initialized ledger",
		zap.Int("accounts", len(g.Accounts)),
		zap.Int("validators", len(g.Validators)),
		zap.Int("contracts", len(g.Contracts)))
	return nil
}

func changeEntries(c *Changes) ([]storage.Entry, error) {
	entries := make([]storage.Entry, 0, len(c.Accounts)+len(c.Contracts)+len(c.Chains)+len(c.Evidence)+1)
	add := func(table, key string, record interface{}) error {
		data, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("failed to encode %s record: %w", table, err)
		}
		entries = append(entries, storage.Entry{Table: table, Key: key, Value: data})
		return nil
	}

	for _, a := range c.Accounts {
		if err := add(accountsTable, a.Address, a); err != nil {
			return nil, err
		}
	}
	for _, ct := range c.Contracts {
		if err := add(contractsTable, ct.Address, ct); err != nil {
			return nil, err
		}
	}
	for _, ch := range c.Chains {
		if err := add(chainsTable, ch.ID, ch); err != nil {
			return nil, err
		}
	}
	for _, e := range c.Evidence {
		entries = append(entries, storage.Entry{Table: evidenceTable, Key: e, Value: []byte{1}})
	}
	if c.Supply != nil {
		entries = append(entries, storage.Entry{Table: metaTable, Key: supplyKey, Value: []byte(strconv.FormatUint(*c.Supply, 10))})
	}
	return entries, nil
}

// seed writes the genesis allocation into st
func seed(ctx context.Context, st *State, g Genesis) error {
	var supply uint64
	for addr, balance := range g.Accounts {
		acc, err := st.AccountOrNew(ctx, addr)
		if err != nil {
			return err
		}
		if supply, err = addGenesis(supply, balance); err != nil {
			return err
		}
		acc.Balance += balance
		st.PutAccount(acc)
	}
	for addr, stake := range g.Validators {
		acc, err := st.AccountOrNew(ctx, addr)
		if err != nil {
			return err
		}
		acc.Validator = true
		acc.Online = true
		if supply, err = addGenesis(supply, stake); err != nil {
			return err
		}
		acc.Stake += stake
		st.PutAccount(acc)
	}
	for addr, code := range g.Contracts {
		st.PutContract(&types.Contract{Address: addr, Code: code, Storage: make(map[string]string)})
		acc, err := st.AccountOrNew(ctx, addr)
		if err != nil {
			return err
		}
		st.PutAccount(acc)
	}
	if supply > 0 {
		return st.AdjustSupply(ctx, int64(supply))
	}
	return nil
}

// addGenesis adds n to a genesis total, which must stay within int64
func addGenesis(total, n uint64) (uint64, error) {
	if n > math.MaxInt64-total {
		return 0, fmt.Errorf("%w: genesis allocation exceeds %d", ErrSupplyOverflow, int64(math.MaxInt64))
	}
	return total + n, nil
}
