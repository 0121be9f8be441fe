package transaction

import (
	"context"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/samuel0642/txengine/internal/keys"
	"github.com/samuel0642/txengine/internal/pow"
	"github.com/samuel0642/txengine/internal/state"
	"github.com/samuel0642/txengine/internal/storage"
	"github.com/samuel0642/txengine/internal/types"
)

var (
	kvAddr     = strings.Repeat("e", 64)
	escrowAddr = strings.Repeat("f", 64)
)

// harness wires a validator and an executor over in-memory collaborators
type harness struct {
	t   *testing.T
	ctx context.Context

	ledger    *state.MemoryLedger
	st        *state.State
	store     *storage.MemoryStore
	index     *storage.TxIndex
	pool      *Pool
	pow       *pow.Engine
	validator *Validator
	executor  *Executor

	alice *keys.KeyPair
	bob   *keys.KeyPair
	val   *keys.KeyPair
	gov   *keys.KeyPair
}

type harnessOption func(*Deps, *ExecutorDeps)

func withFees(f *FeePolicy) harnessOption {
	return func(d *Deps, e *ExecutorDeps) {
		d.Fees = f
		e.Fees = f
	}
}

func withNoncePolicy(p NoncePolicy) harnessOption {
	return func(d *Deps, _ *ExecutorDeps) { d.NoncePolicy = p }
}

func withVerifier(v keys.Verifier) harnessOption {
	return func(d *Deps, _ *ExecutorDeps) { d.Verifier = v }
}

func newKey(t *testing.T) *keys.KeyPair {
	t.Helper()
	kp, err := keys.GenerateKeyPair()
	require.NoError(t, err)
	return kp
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	ctx := context.Background()
	h := &harness{
		t:     t,
		ctx:   ctx,
		alice: newKey(t),
		bob:   newKey(t),
		val:   newKey(t),
		gov:   newKey(t),
	}

	ledger, err := state.NewMemoryLedgerFromGenesis(ctx, state.Genesis{
		Accounts: map[string]uint64{
			h.alice.Address(): 100,
			h.val.Address():   10,
			h.gov.Address():   5,
		},
		Validators: map[string]uint64{h.val.Address(): 500},
		Contracts: map[string]string{
			kvAddr:     "kv",
			escrowAddr: "escrow",
		},
	})
	require.NoError(t, err)
	h.ledger = ledger
	h.st = state.New(ledger)
	h.store = storage.NewMemoryStore()
	h.index = storage.NewTxIndex(h.store)
	h.pool = NewPool(100)

	h.pow, err = pow.NewEngine(pow.WithDifficulty(1), pow.WithWorkers(2))
	require.NoError(t, err)

	contracts := NewContracts()
	deps := Deps{
		Mempool:    h.pool,
		Index:      h.index,
		Ledger:     h.st,
		PoW:        h.pow,
		Governance: []string{h.gov.Address()},
		Contracts:  contracts,
	}
	execDeps := ExecutorDeps{
		Index:        h.index,
		Contracts:    contracts,
		SlashPercent: 10,
	}
	for _, opt := range opts {
		opt(&deps, &execDeps)
	}

	h.validator, err = NewValidator(deps, nil, nil)
	require.NoError(t, err)
	h.executor, err = NewExecutor(execDeps, nil, nil)
	require.NoError(t, err)
	return h
}

// build creates a sealed and signed transaction
func (h *harness) build(kp *keys.KeyPair, receiver string, amount uint64, txType types.TxType, payload string) *types.Transaction {
	h.t.Helper()
	tx := types.NewTransaction(kp.Address(), receiver, amount, txType, payload)
	require.NoError(h.t, h.pow.Seal(h.ctx, tx))
	require.NoError(h.t, kp.SignTransaction(tx))
	return tx
}

// submit validates and executes tx
func (h *harness) submit(tx *types.Transaction, bc *BlockContext) (*types.Receipt, error) {
	if err := h.validator.Validate(h.ctx, tx, bc); err != nil {
		return nil, err
	}
	return h.executor.Execute(h.ctx, tx, h.st, bc)
}

func (h *harness) mustSubmit(tx *types.Transaction, bc *BlockContext) *types.Receipt {
	h.t.Helper()
	r, err := h.submit(tx, bc)
	require.NoError(h.t, err)
	return r
}

func (h *harness) account(addr string) *types.Account {
	h.t.Helper()
	acc, err := h.st.GetAccount(h.ctx, addr)
	require.NoError(h.t, err)
	return acc
}

func (h *harness) balance(addr string) uint64 {
	h.t.Helper()
	acc, ok, err := h.st.LookupAccount(h.ctx, addr)
	require.NoError(h.t, err)
	if !ok {
		return 0
	}
	return acc.Balance
}

func (h *harness) supply() uint64 {
	h.t.Helper()
	s, err := h.st.Supply(h.ctx)
	require.NoError(h.t, err)
	return s
}

func (h *harness) count() uint64 {
	h.t.Helper()
	n, err := h.index.Count(h.ctx)
	require.NoError(h.t, err)
	return n
}

func hexPayload(s string) string {
	return hex.EncodeToString([]byte(s))
}

// acceptAll is a signature verifier that accepts everything
type acceptAll struct{}

func (acceptAll) Verify(string, string, string) error { return nil }
