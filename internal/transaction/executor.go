package transaction

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/samuel0642/txengine/internal/logging"
	"github.com/samuel0642/txengine/internal/metrics"
	"github.com/samuel0642/txengine/internal/state"
	"github.com/samuel0642/txengine/internal/types"
)

// Recorder is the committed-transaction index the executor writes.
// storage.TxIndex writes through; storage.Batch stages the hashes until
// the caller commits them with the state.
type Recorder interface {
	CommitIndex
	Record(ctx context.Context, hash string) (uint64, error)
}

// ExecutorDeps are the collaborators of an Executor
type ExecutorDeps struct {
	Index        Recorder
	Fees         *FeePolicy
	Contracts    *Contracts
	SlashPercent uint64
}

// Executor applies validated transactions to a state
type Executor struct {
	deps     ExecutorDeps
	handlers registry
	logger   *zap.Logger
	metrics  *metrics.Metrics
}

// NewExecutor creates an executor
func NewExecutor(deps ExecutorDeps, logger *zap.Logger, m *metrics.Metrics) (*Executor, error) {
	if deps.Index == nil {
		return nil, errors.New("executor needs a transaction index")
	}
	if deps.SlashPercent > 100 {
		return nil, errors.New("slash percent above 100")
	}
	if deps.Contracts == nil {
		deps.Contracts = NewContracts()
	}
	handlers, err := newRegistry(defaultHandlers())
	if err != nil {
		return nil, err
	}
	return &Executor{
		deps:     deps,
		handlers: handlers,
		logger:   logging.OrNop(logger).Named("executor"),
		metrics:  m,
	}, nil
}

// Execute applies tx to st. Either every effect lands, the hash is
// recorded in the index and the counter advances, or st is left as it was.
// tx must have passed validation against st.
func (e *Executor) Execute(ctx context.Context, tx *types.Transaction, st *state.State, bc *BlockContext) (*types.Receipt, error) {
	start := time.Now()
	hash := tx.ComputeHash()

	receipt, err := e.execute(ctx, tx, hash, st, bc)
	if err != nil {
		kind := types.KindOf(err).String()
		e.metrics.ObserveExecution(tx.Type.String(), kind)
		e.logger.Warn("execution failed",
			logging.ShortHash(hash),
			zap.Stringer("type", tx.Type),
			zap.String("kind", kind),
			zap.Error(err))
		return nil, err
	}

	e.metrics.ObserveExecution(tx.Type.String(), "ok")
	e.logger.Info("transaction executed",
		logging.ShortHash(hash),
		zap.Stringer("type", tx.Type),
		zap.Uint64("amount", tx.Amount),
		zap.Uint64("fee", receipt.Fee),
		zap.Uint64("seq", receipt.Sequence),
		zap.Duration("elapsed", time.Since(start)))
	return receipt, nil
}

func (e *Executor) execute(ctx context.Context, tx *types.Transaction, hash string, st *state.State, bc *BlockContext) (*types.Receipt, error) {
	h, ok := e.handlers.lookup(tx.Type)
	if !ok {
		return nil, types.NewError(types.KindInvalidType, hash, "unknown transaction type %d", uint8(tx.Type))
	}
	committed, err := e.deps.Index.Has(ctx, hash)
	if err != nil {
		return nil, unavailable(hash, err)
	}
	if committed {
		return nil, types.NewError(types.KindAlreadyCommitted, hash, "transaction already committed")
	}

	fee := e.deps.Fees.Cost(tx)
	var seq uint64
	err = st.Apply(ctx, func(child *state.State) error {
		env := &applyEnv{
			st:           child,
			hash:         hash,
			bc:           bc,
			slashPercent: e.deps.SlashPercent,
			contracts:    e.deps.Contracts,
		}
		if err := h.apply(ctx, env, tx); err != nil {
			return err
		}
		if err := e.chargeFee(ctx, env, tx); err != nil {
			return err
		}
		// last step: once the hash is recorded the fork must merge
		n, err := e.deps.Index.Record(ctx, hash)
		if err != nil {
			return unavailable(hash, err)
		}
		seq = n
		return nil
	})
	if err != nil {
		return nil, err
	}

	if tx.Type == types.TxCoinbase && bc != nil {
		bc.CoinbaseSeen = true
	}
	return &types.Receipt{
		Hash:        hash,
		Type:        tx.Type,
		Fee:         fee,
		StateDigest: st.Digest(),
		Sequence:    seq,
	}, nil
}

func (e *Executor) chargeFee(ctx context.Context, env *applyEnv, tx *types.Transaction) error {
	charged := e.deps.Fees.Charged(tx)
	if charged == 0 {
		return nil
	}
	if err := env.debit(ctx, tx.Sender, charged); err != nil {
		return err
	}
	if to := e.deps.Fees.recipient(env.bc); to != "" {
		return env.credit(ctx, to, charged)
	}
	return env.adjustSupply(ctx, charged, true)
}
