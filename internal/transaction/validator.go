package transaction

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/samuel0642/txengine/internal/keys"
	"github.com/samuel0642/txengine/internal/logging"
	"github.com/samuel0642/txengine/internal/metrics"
	"github.com/samuel0642/txengine/internal/state"
	"github.com/samuel0642/txengine/internal/types"
)

// CommitIndex answers whether a transaction hash has been committed
type CommitIndex interface {
	Has(ctx context.Context, hash string) (bool, error)
}

// ProofVerifier checks a transaction's proof of work
type ProofVerifier interface {
	VerifyErr(tx *types.Transaction) error
}

// NoncePolicy decides whether a transaction's nonce is acceptable beyond
// carrying valid proof of work
type NoncePolicy interface {
	CheckNonce(ctx context.Context, tx *types.Transaction, ledger state.Ledger) error
}

// NoncePolicyFunc adapts a function to NoncePolicy
type NoncePolicyFunc func(ctx context.Context, tx *types.Transaction, ledger state.Ledger) error

// CheckNonce implements NoncePolicy
func (f NoncePolicyFunc) CheckNonce(ctx context.Context, tx *types.Transaction, ledger state.Ledger) error {
	return f(ctx, tx, ledger)
}

// AcceptAnyNonce treats the nonce purely as the proof-of-work search
// variable. Replay is prevented by the committed-hash check.
var AcceptAnyNonce NoncePolicy = NoncePolicyFunc(func(context.Context, *types.Transaction, state.Ledger) error {
	return nil
})

// Deps are the collaborators of a Validator. Mempool may be nil, in which
// case the pending check is skipped.
type Deps struct {
	Mempool     Mempool
	Index       CommitIndex
	Ledger      state.Ledger
	Verifier    keys.Verifier
	PoW         ProofVerifier
	NoncePolicy NoncePolicy
	Governance  []string
	Fees        *FeePolicy
	Contracts   *Contracts
}

// Validator decides whether a transaction may be executed. Checks run in a
// fixed order and the first failure is returned.
type Validator struct {
	deps       Deps
	governance map[string]bool
	handlers   registry
	logger     *zap.Logger
	metrics    *metrics.Metrics
}

// NewValidator creates a validator
func NewValidator(deps Deps, logger *zap.Logger, m *metrics.Metrics) (*Validator, error) {
	if deps.Index == nil || deps.Ledger == nil || deps.PoW == nil {
		return nil, errors.New("validator needs an index, a ledger and a proof verifier")
	}
	if deps.Verifier == nil {
		deps.Verifier = keys.SchnorrVerifier{}
	}
	if deps.NoncePolicy == nil {
		deps.NoncePolicy = AcceptAnyNonce
	}
	if deps.Contracts == nil {
		deps.Contracts = NewContracts()
	}
	handlers, err := newRegistry(defaultHandlers())
	if err != nil {
		return nil, err
	}

	governance := make(map[string]bool, len(deps.Governance))
	for _, addr := range deps.Governance {
		governance[addr] = true
	}
	return &Validator{
		deps:       deps,
		governance: governance,
		handlers:   handlers,
		logger:     logging.OrNop(logger).Named("validator"),
		metrics:    m,
	}, nil
}

// Validate runs the validation pipeline on tx. bc is nil outside block
// assembly. A nil error means tx may be executed; a *types.TxError of kind
// CollaboratorUnavailable means no decision could be made.
func (v *Validator) Validate(ctx context.Context, tx *types.Transaction, bc *BlockContext) error {
	hash := tx.ComputeHash()
	err := v.validate(ctx, tx, hash, bc)

	result := "ok"
	if err != nil {
		result = types.KindOf(err).String()
		v.logger.Debug("transaction rejected",
			logging.ShortHash(hash),
			zap.Stringer("type", tx.Type),
			zap.String("kind", result),
			zap.Error(err))
	}
	v.metrics.ObserveValidation(tx.Type.String(), result)
	return err
}

// Admit validates tx and on success reserves its outlay in bc, so later
// transactions of the same block are checked against what is left.
// It is used when a block is assembled without executing each transaction.
func (v *Validator) Admit(ctx context.Context, tx *types.Transaction, bc *BlockContext) error {
	if bc == nil {
		return errors.New("admit needs a block context")
	}
	if err := v.Validate(ctx, tx, bc); err != nil {
		return err
	}
	bc.reserve(tx, v.deps.Fees.Charged(tx))
	return nil
}

func (v *Validator) validate(ctx context.Context, tx *types.Transaction, hash string, bc *BlockContext) error {
	if err := v.validatePending(hash); err != nil {
		return err
	}
	if err := v.validateSignature(tx, hash); err != nil {
		return err
	}
	if err := v.validateCommitted(ctx, hash); err != nil {
		return err
	}
	if err := v.validateProofOfWork(tx, hash); err != nil {
		return err
	}
	if err := v.validateSender(tx, hash); err != nil {
		return err
	}
	if err := v.validateNonce(ctx, tx, hash); err != nil {
		return err
	}
	h, err := v.validateType(tx, hash)
	if err != nil {
		return err
	}
	return h.check(ctx, v.checkEnv(hash, tx, bc), tx)
}

// validatePending rejects transactions already waiting in the mempool
func (v *Validator) validatePending(hash string) error {
	if v.deps.Mempool != nil && v.deps.Mempool.Has(hash) {
		return types.NewError(types.KindAlreadyPending, hash, "transaction is in the mempool")
	}
	return nil
}

// validateSignature verifies the signature over the recomputed hash with
// the sender as public key
func (v *Validator) validateSignature(tx *types.Transaction, hash string) error {
	if err := v.deps.Verifier.Verify(tx.Sender, hash, tx.Signature); err != nil {
		return types.NewError(types.KindInvalidSignature, hash, "%w", err)
	}
	return nil
}

// validateCommitted rejects replays of committed transactions
func (v *Validator) validateCommitted(ctx context.Context, hash string) error {
	committed, err := v.deps.Index.Has(ctx, hash)
	if err != nil {
		return unavailable(hash, err)
	}
	if committed {
		return types.NewError(types.KindAlreadyCommitted, hash, "transaction already committed")
	}
	return nil
}

func (v *Validator) validateProofOfWork(tx *types.Transaction, hash string) error {
	if err := v.deps.PoW.VerifyErr(tx); err != nil {
		return types.NewError(types.KindInvalidProofOfWork, hash, "%w", err)
	}
	return nil
}

func (v *Validator) validateSender(tx *types.Transaction, hash string) error {
	if len(tx.Sender) != types.AddressLength {
		return types.NewError(types.KindInvalidSender, hash, "sender must be %d characters, got %d", types.AddressLength, len(tx.Sender))
	}
	return nil
}

func (v *Validator) validateNonce(ctx context.Context, tx *types.Transaction, hash string) error {
	if err := v.deps.NoncePolicy.CheckNonce(ctx, tx, v.deps.Ledger); err != nil {
		if types.KindOf(err) == types.KindCollaboratorUnavailable {
			return err
		}
		return types.NewError(types.KindInvalidNonce, hash, "%w", err)
	}
	return nil
}

func (v *Validator) validateType(tx *types.Transaction, hash string) (handler, error) {
	h, ok := v.handlers.lookup(tx.Type)
	if !ok {
		return nil, types.NewError(types.KindInvalidType, hash, "unknown transaction type %d", uint8(tx.Type))
	}
	return h, nil
}

func (v *Validator) checkEnv(hash string, tx *types.Transaction, bc *BlockContext) *checkEnv {
	return &checkEnv{
		ledger:     v.deps.Ledger,
		hash:       hash,
		fee:        v.deps.Fees.Charged(tx),
		bc:         bc,
		governance: v.governance,
		contracts:  v.deps.Contracts,
	}
}

// BlockContext is caller-owned bookkeeping for one block under assembly.
// Proposer and Reward bound the Coinbase transaction. Spent holds the
// outlay Admit has reserved per sender.
type BlockContext struct {
	Height       uint64
	Proposer     string
	Reward       uint64
	CoinbaseSeen bool
	Spent        map[string]uint64
}

// NewBlockContext creates the context of a block
func NewBlockContext(height uint64, proposer string, reward uint64) *BlockContext {
	return &BlockContext{
		Height:   height,
		Proposer: proposer,
		Reward:   reward,
		Spent:    make(map[string]uint64),
	}
}

func (bc *BlockContext) spent(addr string) uint64 {
	if bc == nil {
		return 0
	}
	return bc.Spent[addr]
}

func (bc *BlockContext) reserve(tx *types.Transaction, fee uint64) {
	if tx.Type == types.TxCoinbase {
		bc.CoinbaseSeen = true
		return
	}
	if bc.Spent == nil {
		bc.Spent = make(map[string]uint64)
	}
	outlay := fee
	if debitsAmount(tx) {
		outlay, _ = addChecked(outlay, tx.Amount)
	}
	total, ok := addChecked(bc.Spent[tx.Sender], outlay)
	if !ok {
		total = ^uint64(0)
	}
	bc.Spent[tx.Sender] = total
}

// unavailable tags a collaborator failure with hash unless it already
// carries a classification
func unavailable(hash string, err error) error {
	if types.KindOf(err) != types.KindUnknown {
		return err
	}
	return types.Unavailable(hash, err)
}
