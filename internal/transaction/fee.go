package transaction

import (
	"fmt"
	"math"
	"math/bits"

	"github.com/samuel0642/txengine/internal/config"
	"github.com/samuel0642/txengine/internal/types"
)

// FeePolicy prices transactions. A fee is always computed; it only moves
// funds when Charge is set. A nil *FeePolicy prices everything at zero.
type FeePolicy struct {
	Charge    bool
	PerByte   uint64
	Base      map[types.TxType]uint64
	Collector string
}

// NewFeePolicy builds a policy from the fee configuration
func NewFeePolicy(cfg config.FeeConfig) (*FeePolicy, error) {
	p := &FeePolicy{
		Charge:    cfg.Charge,
		PerByte:   cfg.PerByte,
		Base:      make(map[types.TxType]uint64, len(cfg.Base)),
		Collector: cfg.Collector,
	}
	for name, fee := range cfg.Base {
		t, err := types.ParseTxType(name)
		if err != nil {
			return nil, fmt.Errorf("fees.base: %w", err)
		}
		p.Base[t] = fee
	}
	if p.Collector != "" && !types.IsHexAddress(p.Collector) {
		return nil, fmt.Errorf("fees.collector %q is not an address", p.Collector)
	}
	return p, nil
}

// Cost returns the fee of tx: the base fee of its type plus PerByte for
// every canonical byte. Coinbase transactions cost nothing. The result
// saturates at math.MaxUint64.
func (p *FeePolicy) Cost(tx *types.Transaction) uint64 {
	if p == nil || tx.Type == types.TxCoinbase {
		return 0
	}
	hi, size := bits.Mul64(p.PerByte, uint64(len(tx.CanonicalBytes())))
	if hi != 0 {
		return math.MaxUint64
	}
	total, carry := bits.Add64(p.Base[tx.Type], size, 0)
	if carry != 0 {
		return math.MaxUint64
	}
	return total
}

// Charged returns the amount actually debited from the sender
func (p *FeePolicy) Charged(tx *types.Transaction) uint64 {
	if p == nil || !p.Charge {
		return 0
	}
	return p.Cost(tx)
}

// recipient returns who receives charged fees, or "" when they are burnt
func (p *FeePolicy) recipient(bc *BlockContext) string {
	if p != nil && p.Collector != "" {
		return p.Collector
	}
	if bc != nil {
		return bc.Proposer
	}
	return ""
}

// addChecked returns a+b, or ok == false on overflow
func addChecked(a, b uint64) (uint64, bool) {
	sum, carry := bits.Add64(a, b, 0)
	return sum, carry == 0
}
