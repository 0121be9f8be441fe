package transaction

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"math/bits"

	"github.com/samuel0642/txengine/internal/state"
	"github.com/samuel0642/txengine/internal/types"
)

const (
	delegatePayload   = "00"
	undelegatePayload = "01"

	evidenceDigestLen = 32
	maxChainNameLen   = 32
)

// handler carries the rules of one transaction type. check only reads;
// apply mutates the state it is given, which the executor discards if
// apply fails.
type handler interface {
	check(ctx context.Context, env *checkEnv, tx *types.Transaction) error
	apply(ctx context.Context, env *applyEnv, tx *types.Transaction) error
}

type registry map[types.TxType]handler

func defaultHandlers() registry {
	return registry{
		types.TxSend:         sendHandler{},
		types.TxBurn:         burnHandler{},
		types.TxToggleOnline: toggleOnlineHandler{},
		types.TxEvidence:     evidenceHandler{},
		types.TxDelegate:     delegateHandler{},
		types.TxCallContract: callContractHandler{},
		types.TxCreateChain:  createChainHandler{},
		types.TxCoinbase:     coinbaseHandler{},
	}
}

// newRegistry fails unless every transaction type has exactly one handler
func newRegistry(r registry) (registry, error) {
	for _, t := range types.AllTxTypes() {
		if r[t] == nil {
			return nil, fmt.Errorf("no handler for transaction type %s", t)
		}
	}
	for t := range r {
		if !t.Valid() {
			return nil, fmt.Errorf("handler registered for unknown type %d", uint8(t))
		}
	}
	return r, nil
}

func (r registry) lookup(t types.TxType) (handler, bool) {
	if !t.Valid() {
		return nil, false
	}
	h, ok := r[t]
	return h, ok
}

// checkEnv is what a handler may consult during validation
type checkEnv struct {
	ledger     state.Ledger
	hash       string
	fee        uint64
	bc         *BlockContext
	governance map[string]bool
	contracts  *Contracts
}

func (e *checkEnv) reject(kind types.ErrorKind, format string, args ...interface{}) error {
	return types.NewError(kind, e.hash, format, args...)
}

// account loads address, reporting a missing account as notFoundKind
func (e *checkEnv) account(ctx context.Context, address string, notFoundKind types.ErrorKind, role string) (*types.Account, error) {
	acc, err := e.ledger.GetAccount(ctx, address)
	if errors.Is(err, types.ErrAccountNotFound) {
		return nil, e.reject(notFoundKind, "%s %s does not exist", role, shortAddr(address))
	}
	if err != nil {
		return nil, unavailable(e.hash, err)
	}
	return acc, nil
}

// requireFunds checks the sender can pay amount plus the charged fee on top
// of whatever the block has already reserved
func (e *checkEnv) requireFunds(ctx context.Context, tx *types.Transaction, amount uint64) (*types.Account, error) {
	acc, err := e.account(ctx, tx.Sender, types.KindAccountNotFound, "sender")
	if err != nil {
		return nil, err
	}
	need, ok := addChecked(amount, e.fee)
	if ok {
		need, ok = addChecked(need, e.bc.spent(tx.Sender))
	}
	if !ok || acc.Balance < need {
		return nil, e.reject(types.KindInsufficientFunds, "balance %d, need %d plus fee %d", acc.Balance, amount, e.fee)
	}
	return acc, nil
}

func (e *checkEnv) requireReceiver(tx *types.Transaction) error {
	if !types.IsHexAddress(tx.Receiver) {
		return e.reject(types.KindInvalidReceiver, "receiver %q is not an address", tx.Receiver)
	}
	return nil
}

func (e *checkEnv) requireNoReceiver(tx *types.Transaction) error {
	if tx.Receiver != "" {
		return e.reject(types.KindInvalidReceiver, "%s takes no receiver", tx.Type)
	}
	return nil
}

func (e *checkEnv) requireAmount(tx *types.Transaction) error {
	if tx.Amount == 0 {
		return e.reject(types.KindInvalidAmount, "amount must be positive")
	}
	return nil
}

func (e *checkEnv) requireZeroAmount(tx *types.Transaction) error {
	if tx.Amount != 0 {
		return e.reject(types.KindInvalidAmount, "%s carries no amount", tx.Type)
	}
	return nil
}

// applyEnv is what a handler may touch during execution
type applyEnv struct {
	st           *state.State
	hash         string
	bc           *BlockContext
	slashPercent uint64
	contracts    *Contracts
}

func (e *applyEnv) debit(ctx context.Context, address string, amount uint64) error {
	if amount == 0 {
		return nil
	}
	acc, err := e.st.GetAccount(ctx, address)
	if errors.Is(err, types.ErrAccountNotFound) {
		return types.NewError(types.KindAccountNotFound, e.hash, "account %s does not exist", shortAddr(address))
	}
	if err != nil {
		return unavailable(e.hash, err)
	}
	if acc.Balance < amount {
		return types.NewError(types.KindInsufficientFunds, e.hash, "balance %d below %d", acc.Balance, amount)
	}
	acc.Balance -= amount
	e.st.PutAccount(acc)
	return nil
}

func (e *applyEnv) credit(ctx context.Context, address string, amount uint64) error {
	if amount == 0 {
		return nil
	}
	acc, err := e.st.AccountOrNew(ctx, address)
	if err != nil {
		return unavailable(e.hash, err)
	}
	balance, ok := addChecked(acc.Balance, amount)
	if !ok {
		return types.NewError(types.KindInvalidAmount, e.hash, "balance of %s would overflow", shortAddr(address))
	}
	acc.Balance = balance
	e.st.PutAccount(acc)
	return nil
}

func (e *applyEnv) transfer(ctx context.Context, from, to string, amount uint64) error {
	if err := e.debit(ctx, from, amount); err != nil {
		return err
	}
	return e.credit(ctx, to, amount)
}

// adjustSupply mints amount, or burns it when burn is set
func (e *applyEnv) adjustSupply(ctx context.Context, amount uint64, burn bool) error {
	if amount > math.MaxInt64 {
		return types.NewError(types.KindInvalidAmount, e.hash, "amount %d exceeds the supply adjustment limit", amount)
	}
	delta := int64(amount)
	if burn {
		delta = -delta
	}
	if err := e.st.AdjustSupply(ctx, delta); err != nil {
		if errors.Is(err, state.ErrSupplyUnderflow) {
			return types.NewError(types.KindInvalidAmount, e.hash, "%w", err)
		}
		return unavailable(e.hash, err)
	}
	return nil
}

// debitsAmount reports whether tx moves its amount out of the sender's balance
func debitsAmount(tx *types.Transaction) bool {
	switch tx.Type {
	case types.TxSend, types.TxBurn, types.TxCallContract:
		return true
	case types.TxDelegate:
		return tx.Payload == "" || tx.Payload == delegatePayload
	}
	return false
}

type sendHandler struct{}

func (sendHandler) check(ctx context.Context, env *checkEnv, tx *types.Transaction) error {
	if err := env.requireReceiver(tx); err != nil {
		return err
	}
	if err := env.requireAmount(tx); err != nil {
		return err
	}
	_, err := env.requireFunds(ctx, tx, tx.Amount)
	return err
}

func (sendHandler) apply(ctx context.Context, env *applyEnv, tx *types.Transaction) error {
	return env.transfer(ctx, tx.Sender, tx.Receiver, tx.Amount)
}

type burnHandler struct{}

func (burnHandler) check(ctx context.Context, env *checkEnv, tx *types.Transaction) error {
	if err := env.requireNoReceiver(tx); err != nil {
		return err
	}
	if err := env.requireAmount(tx); err != nil {
		return err
	}
	_, err := env.requireFunds(ctx, tx, tx.Amount)
	return err
}

func (burnHandler) apply(ctx context.Context, env *applyEnv, tx *types.Transaction) error {
	if err := env.debit(ctx, tx.Sender, tx.Amount); err != nil {
		return err
	}
	return env.adjustSupply(ctx, tx.Amount, true)
}

type toggleOnlineHandler struct{}

func (toggleOnlineHandler) check(ctx context.Context, env *checkEnv, tx *types.Transaction) error {
	if tx.Receiver != "" && tx.Receiver != tx.Sender {
		return env.reject(types.KindInvalidReceiver, "toggle_online applies to the sender only")
	}
	if err := env.requireZeroAmount(tx); err != nil {
		return err
	}
	acc, err := env.requireFunds(ctx, tx, 0)
	if err != nil {
		return err
	}
	if !acc.Validator {
		return env.reject(types.KindUnauthorized, "sender is not a validator")
	}
	return nil
}

func (toggleOnlineHandler) apply(ctx context.Context, env *applyEnv, tx *types.Transaction) error {
	acc, err := env.st.GetAccount(ctx, tx.Sender)
	if err != nil {
		return unavailable(env.hash, err)
	}
	acc.Online = !acc.Online
	env.st.PutAccount(acc)
	return nil
}

type evidenceHandler struct{}

// evidenceKey identifies a piece of evidence independent of digest order
func evidenceKey(offender string, payload []byte) string {
	a, b := payload[:evidenceDigestLen], payload[evidenceDigestLen:]
	if string(a) > string(b) {
		a, b = b, a
	}
	buf := make([]byte, 0, len(offender)+len(payload))
	buf = append(buf, offender...)
	buf = append(buf, a...)
	buf = append(buf, b...)
	return types.HashBytes(buf)
}

func decodeEvidence(payload string) ([]byte, error) {
	raw, err := hex.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("payload is not hex: %w", err)
	}
	if len(raw) != 2*evidenceDigestLen {
		return nil, fmt.Errorf("payload must hold two %d byte digests, got %d bytes", evidenceDigestLen, len(raw))
	}
	if string(raw[:evidenceDigestLen]) == string(raw[evidenceDigestLen:]) {
		return nil, errors.New("conflicting digests are identical")
	}
	return raw, nil
}

func (evidenceHandler) check(ctx context.Context, env *checkEnv, tx *types.Transaction) error {
	if err := env.requireReceiver(tx); err != nil {
		return err
	}
	if tx.Receiver == tx.Sender {
		return env.reject(types.KindInvalidReceiver, "validators cannot report themselves")
	}
	if err := env.requireZeroAmount(tx); err != nil {
		return err
	}
	offender, err := env.account(ctx, tx.Receiver, types.KindInvalidReceiver, "offender")
	if err != nil {
		return err
	}
	if !offender.Validator {
		return env.reject(types.KindInvalidReceiver, "offender is not a validator")
	}
	raw, err := decodeEvidence(tx.Payload)
	if err != nil {
		return env.reject(types.KindInvalidPayload, "%w", err)
	}
	seen, err := env.ledger.HasEvidence(ctx, evidenceKey(tx.Receiver, raw))
	if err != nil {
		return unavailable(env.hash, err)
	}
	if seen {
		return env.reject(types.KindInvalidPayload, "evidence already recorded")
	}
	_, err = env.requireFunds(ctx, tx, 0)
	return err
}

func (evidenceHandler) apply(ctx context.Context, env *applyEnv, tx *types.Transaction) error {
	raw, err := decodeEvidence(tx.Payload)
	if err != nil {
		return types.NewError(types.KindInvalidPayload, env.hash, "%w", err)
	}
	offender, err := env.st.GetAccount(ctx, tx.Receiver)
	if err != nil {
		return unavailable(env.hash, err)
	}
	slash := percentOf(offender.Stake, env.slashPercent)
	offender.Stake -= slash
	offender.Online = false
	env.st.PutAccount(offender)
	env.st.MarkEvidence(evidenceKey(tx.Receiver, raw))
	return env.credit(ctx, tx.Sender, slash)
}

// percentOf returns floor(v * p / 100) without intermediate overflow
func percentOf(v, p uint64) uint64 {
	if p >= 100 {
		return v
	}
	hi, lo := bits.Mul64(v, p)
	q, _ := bits.Div64(hi, lo, 100)
	return q
}

type delegateHandler struct{}

func (delegateHandler) check(ctx context.Context, env *checkEnv, tx *types.Transaction) error {
	if err := env.requireReceiver(tx); err != nil {
		return err
	}
	if err := env.requireAmount(tx); err != nil {
		return err
	}
	validator, err := env.account(ctx, tx.Receiver, types.KindInvalidReceiver, "validator")
	if err != nil {
		return err
	}
	if !validator.Validator {
		return env.reject(types.KindInvalidReceiver, "receiver is not a validator")
	}

	switch tx.Payload {
	case "", delegatePayload:
		_, err := env.requireFunds(ctx, tx, tx.Amount)
		return err
	case undelegatePayload:
		acc, err := env.requireFunds(ctx, tx, 0)
		if err != nil {
			return err
		}
		if acc.Delegations[tx.Receiver] < tx.Amount {
			return env.reject(types.KindInsufficientFunds, "delegated %d, undelegating %d", acc.Delegations[tx.Receiver], tx.Amount)
		}
		if validator.Stake < tx.Amount {
			return env.reject(types.KindInsufficientFunds, "validator stake %d below %d", validator.Stake, tx.Amount)
		}
		return nil
	default:
		return env.reject(types.KindInvalidPayload, "delegate payload must be %q or %q", delegatePayload, undelegatePayload)
	}
}

func (delegateHandler) apply(ctx context.Context, env *applyEnv, tx *types.Transaction) error {
	undelegate := tx.Payload == undelegatePayload

	if !undelegate {
		if err := env.debit(ctx, tx.Sender, tx.Amount); err != nil {
			return err
		}
	}

	validator, err := env.st.GetAccount(ctx, tx.Receiver)
	if err != nil {
		return unavailable(env.hash, err)
	}
	if undelegate {
		if validator.Stake < tx.Amount {
			return types.NewError(types.KindInsufficientFunds, env.hash, "validator stake %d below %d", validator.Stake, tx.Amount)
		}
		validator.Stake -= tx.Amount
	} else {
		stake, ok := addChecked(validator.Stake, tx.Amount)
		if !ok {
			return types.NewError(types.KindInvalidAmount, env.hash, "stake would overflow")
		}
		validator.Stake = stake
	}
	env.st.PutAccount(validator)

	// re-read: sender and validator may be the same account
	sender, err := env.st.GetAccount(ctx, tx.Sender)
	if err != nil {
		return unavailable(env.hash, err)
	}
	if undelegate {
		if sender.Delegations[tx.Receiver] < tx.Amount {
			return types.NewError(types.KindInsufficientFunds, env.hash, "delegated %d, undelegating %d", sender.Delegations[tx.Receiver], tx.Amount)
		}
		sender.Delegations[tx.Receiver] -= tx.Amount
		if sender.Delegations[tx.Receiver] == 0 {
			delete(sender.Delegations, tx.Receiver)
		}
		sender.Balance += tx.Amount
	} else {
		sender.Delegations[tx.Receiver] += tx.Amount
	}
	env.st.PutAccount(sender)
	return nil
}

type callContractHandler struct{}

func (callContractHandler) check(ctx context.Context, env *checkEnv, tx *types.Transaction) error {
	if err := env.requireReceiver(tx); err != nil {
		return err
	}
	record, err := env.ledger.GetContract(ctx, tx.Receiver)
	if errors.Is(err, state.ErrNotFound) {
		return env.reject(types.KindInvalidReceiver, "no contract at %s", shortAddr(tx.Receiver))
	}
	if err != nil {
		return unavailable(env.hash, err)
	}
	contract, ok := env.contracts.Lookup(record.Code)
	if !ok {
		return env.reject(types.KindInvalidReceiver, "contract code %q is not available", record.Code)
	}
	payload, err := hex.DecodeString(tx.Payload)
	if err != nil {
		return env.reject(types.KindInvalidPayload, "payload is not hex: %w", err)
	}
	if err := contract.Check(payload); err != nil {
		return env.reject(types.KindInvalidPayload, "%w", err)
	}
	_, err = env.requireFunds(ctx, tx, tx.Amount)
	return err
}

func (callContractHandler) apply(ctx context.Context, env *applyEnv, tx *types.Transaction) error {
	record, err := env.st.GetContract(ctx, tx.Receiver)
	if err != nil {
		if errors.Is(err, state.ErrNotFound) {
			return types.NewError(types.KindInvalidReceiver, env.hash, "no contract at %s", shortAddr(tx.Receiver))
		}
		return unavailable(env.hash, err)
	}
	contract, ok := env.contracts.Lookup(record.Code)
	if !ok {
		return types.NewError(types.KindInvalidReceiver, env.hash, "contract code %q is not available", record.Code)
	}
	payload, err := hex.DecodeString(tx.Payload)
	if err != nil {
		return types.NewError(types.KindInvalidPayload, env.hash, "payload is not hex: %w", err)
	}
	if err := env.transfer(ctx, tx.Sender, tx.Receiver, tx.Amount); err != nil {
		return err
	}

	cc := &ContractContext{
		ctx:      ctx,
		env:      env,
		Contract: record,
		Caller:   tx.Sender,
		Amount:   tx.Amount,
	}
	if err := contract.Invoke(cc, payload); err != nil {
		if types.KindOf(err) != types.KindUnknown {
			return err
		}
		return types.NewError(types.KindInvalidPayload, env.hash, "contract %s: %w", record.Code, err)
	}
	env.st.PutContract(cc.Contract)
	return nil
}

type createChainHandler struct{}

func decodeChainName(payload string) (string, error) {
	raw, err := hex.DecodeString(payload)
	if err != nil {
		return "", fmt.Errorf("payload is not hex: %w", err)
	}
	if len(raw) == 0 || len(raw) > maxChainNameLen {
		return "", fmt.Errorf("chain name must be 1 to %d bytes, got %d", maxChainNameLen, len(raw))
	}
	return string(raw), nil
}

// ChainID returns the id of the chain named name
func ChainID(name string) string {
	return types.HashBytes([]byte(name))
}

func (createChainHandler) check(ctx context.Context, env *checkEnv, tx *types.Transaction) error {
	if !env.governance[tx.Sender] {
		return env.reject(types.KindUnauthorized, "sender is not in the governance set")
	}
	if err := env.requireNoReceiver(tx); err != nil {
		return err
	}
	if err := env.requireZeroAmount(tx); err != nil {
		return err
	}
	name, err := decodeChainName(tx.Payload)
	if err != nil {
		return env.reject(types.KindInvalidPayload, "%w", err)
	}
	_, err = env.ledger.GetChain(ctx, ChainID(name))
	switch {
	case err == nil:
		return env.reject(types.KindInvalidPayload, "chain %q already exists", name)
	case !errors.Is(err, state.ErrNotFound):
		return unavailable(env.hash, err)
	}
	_, err = env.requireFunds(ctx, tx, 0)
	return err
}

func (createChainHandler) apply(ctx context.Context, env *applyEnv, tx *types.Transaction) error {
	name, err := decodeChainName(tx.Payload)
	if err != nil {
		return types.NewError(types.KindInvalidPayload, env.hash, "%w", err)
	}
	id := ChainID(name)
	if _, err := env.st.GetChain(ctx, id); err == nil {
		return types.NewError(types.KindInvalidPayload, env.hash, "chain %q already exists", name)
	}
	var height uint64
	if env.bc != nil {
		height = env.bc.Height
	}
	env.st.PutChain(&types.Chain{ID: id, Name: name, Creator: tx.Sender, CreatedAt: height})
	return nil
}

type coinbaseHandler struct{}

func (coinbaseHandler) check(_ context.Context, env *checkEnv, tx *types.Transaction) error {
	if env.bc == nil {
		return env.reject(types.KindInvalidType, "coinbase is only valid inside a block")
	}
	if env.bc.CoinbaseSeen {
		return env.reject(types.KindDuplicateCoinbase, "block already has a coinbase")
	}
	if tx.Sender != env.bc.Proposer {
		return env.reject(types.KindUnauthorized, "coinbase must be sent by the block proposer")
	}
	if err := env.requireReceiver(tx); err != nil {
		return err
	}
	if tx.Amount == 0 || tx.Amount > env.bc.Reward {
		return env.reject(types.KindInvalidAmount, "coinbase amount must be in (0, %d]", env.bc.Reward)
	}
	return nil
}

func (coinbaseHandler) apply(ctx context.Context, env *applyEnv, tx *types.Transaction) error {
	if env.bc == nil || env.bc.CoinbaseSeen {
		return types.NewError(types.KindDuplicateCoinbase, env.hash, "coinbase not allowed here")
	}
	if err := env.credit(ctx, tx.Receiver, tx.Amount); err != nil {
		return err
	}
	return env.adjustSupply(ctx, tx.Amount, false)
}

func shortAddr(address string) string {
	if len(address) > 16 {
		return address[:16]
	}
	return address
}
