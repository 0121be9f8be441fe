package transaction

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samuel0642/txengine/internal/types"
)

func evidencePayload(a, b string) string {
	return types.HashBytes([]byte(a)) + types.HashBytes([]byte(b))
}

func TestHandler_Burn(t *testing.T) {
	h := newHarness(t)
	supply := h.supply()

	h.mustSubmit(h.build(h.alice, "", 30, types.TxBurn, ""), nil)
	assert.Equal(t, uint64(70), h.balance(h.alice.Address()))
	assert.Equal(t, supply-30, h.supply())

	_, err := h.submit(h.build(h.alice, h.bob.Address(), 1, types.TxBurn, ""), nil)
	assert.ErrorIs(t, err, types.ErrInvalidReceiver)
	_, err = h.submit(h.build(h.alice, "", 0, types.TxBurn, ""), nil)
	assert.ErrorIs(t, err, types.ErrInvalidAmount)
	_, err = h.submit(h.build(h.alice, "", 71, types.TxBurn, ""), nil)
	assert.ErrorIs(t, err, types.ErrInsufficientFunds)
}

func TestHandler_ToggleOnline(t *testing.T) {
	h := newHarness(t)
	require.True(t, h.account(h.val.Address()).Online)

	h.mustSubmit(h.build(h.val, "", 0, types.TxToggleOnline, ""), nil)
	assert.False(t, h.account(h.val.Address()).Online)

	h.mustSubmit(h.build(h.val, h.val.Address(), 0, types.TxToggleOnline, ""), nil)
	assert.True(t, h.account(h.val.Address()).Online)

	_, err := h.submit(h.build(h.alice, "", 0, types.TxToggleOnline, ""), nil)
	assert.ErrorIs(t, err, types.ErrUnauthorized)
	_, err = h.submit(h.build(h.val, "", 1, types.TxToggleOnline, ""), nil)
	assert.ErrorIs(t, err, types.ErrInvalidAmount)
	_, err = h.submit(h.build(h.val, h.alice.Address(), 0, types.TxToggleOnline, ""), nil)
	assert.ErrorIs(t, err, types.ErrInvalidReceiver)
}

func TestHandler_Evidence(t *testing.T) {
	h := newHarness(t)
	supply := h.supply()
	payload := evidencePayload("vote-a", "vote-b")

	h.mustSubmit(h.build(h.alice, h.val.Address(), 0, types.TxEvidence, payload), nil)

	offender := h.account(h.val.Address())
	assert.Equal(t, uint64(450), offender.Stake)
	assert.False(t, offender.Online)
	assert.Equal(t, uint64(150), h.balance(h.alice.Address()))
	assert.Equal(t, supply, h.supply(), "slashing moves stake, it does not destroy it")

	// the same evidence in either order is only accepted once
	swapped := evidencePayload("vote-b", "vote-a")
	_, err := h.submit(h.build(h.alice, h.val.Address(), 0, types.TxEvidence, swapped), nil)
	assert.ErrorIs(t, err, types.ErrInvalidPayload)

	tests := []struct {
		name     string
		sender   string
		receiver string
		payload  string
		want     error
	}{
		{"identical digests", "alice", h.val.Address(), evidencePayload("x", "x"), types.ErrInvalidPayload},
		{"short payload", "alice", h.val.Address(), types.HashBytes([]byte("x")), types.ErrInvalidPayload},
		{"not hex", "alice", h.val.Address(), strings.Repeat("zz", 64), types.ErrInvalidPayload},
		{"offender not a validator", "alice", h.gov.Address(), evidencePayload("c", "d"), types.ErrInvalidReceiver},
		{"unknown offender", "alice", h.bob.Address(), evidencePayload("c", "d"), types.ErrInvalidReceiver},
		{"self report", "val", h.val.Address(), evidencePayload("c", "d"), types.ErrInvalidReceiver},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kp := h.alice
			if tt.sender == "val" {
				kp = h.val
			}
			_, err := h.submit(h.build(kp, tt.receiver, 0, types.TxEvidence, tt.payload), nil)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestHandler_Delegate(t *testing.T) {
	h := newHarness(t)
	supply := h.supply()
	val := h.val.Address()

	h.mustSubmit(h.build(h.alice, val, 30, types.TxDelegate, ""), nil)
	alice := h.account(h.alice.Address())
	assert.Equal(t, uint64(70), alice.Balance)
	assert.Equal(t, uint64(30), alice.Delegations[val])
	assert.Equal(t, uint64(530), h.account(val).Stake)

	h.mustSubmit(h.build(h.alice, val, 10, types.TxDelegate, "00"), nil)
	assert.Equal(t, uint64(40), h.account(h.alice.Address()).Delegations[val])

	h.mustSubmit(h.build(h.alice, val, 25, types.TxDelegate, "01"), nil)
	alice = h.account(h.alice.Address())
	assert.Equal(t, uint64(85), alice.Balance)
	assert.Equal(t, uint64(15), alice.Delegations[val])
	assert.Equal(t, uint64(515), h.account(val).Stake)
	assert.Equal(t, supply, h.supply())

	_, err := h.submit(h.build(h.alice, val, 16, types.TxDelegate, "01"), nil)
	assert.ErrorIs(t, err, types.ErrInsufficientFunds)
	_, err = h.submit(h.build(h.alice, val, 1, types.TxDelegate, "02"), nil)
	assert.ErrorIs(t, err, types.ErrInvalidPayload)
	_, err = h.submit(h.build(h.alice, h.gov.Address(), 1, types.TxDelegate, ""), nil)
	assert.ErrorIs(t, err, types.ErrInvalidReceiver)
	_, err = h.submit(h.build(h.alice, val, 0, types.TxDelegate, ""), nil)
	assert.ErrorIs(t, err, types.ErrInvalidAmount)

	h.mustSubmit(h.build(h.alice, val, 15, types.TxDelegate, "01"), nil)
	assert.NotContains(t, h.account(h.alice.Address()).Delegations, val)
}

func TestHandler_SelfDelegate(t *testing.T) {
	h := newHarness(t)
	val := h.val.Address()

	h.mustSubmit(h.build(h.val, val, 10, types.TxDelegate, ""), nil)
	acc := h.account(val)
	assert.Equal(t, uint64(0), acc.Balance)
	assert.Equal(t, uint64(510), acc.Stake)
	assert.Equal(t, uint64(10), acc.Delegations[val])
}

func TestHandler_CallContractKV(t *testing.T) {
	h := newHarness(t)

	h.mustSubmit(h.build(h.alice, kvAddr, 0, types.TxCallContract, hexPayload("color=blue")), nil)
	c, err := h.st.GetContract(h.ctx, kvAddr)
	require.NoError(t, err)
	assert.Equal(t, "blue", c.Storage["color"])

	h.mustSubmit(h.build(h.alice, kvAddr, 5, types.TxCallContract, hexPayload("color=")), nil)
	c, err = h.st.GetContract(h.ctx, kvAddr)
	require.NoError(t, err)
	assert.NotContains(t, c.Storage, "color")
	assert.Equal(t, uint64(5), h.balance(kvAddr))

	_, err = h.submit(h.build(h.alice, kvAddr, 0, types.TxCallContract, hexPayload("novalue")), nil)
	assert.ErrorIs(t, err, types.ErrInvalidPayload)
	_, err = h.submit(h.build(h.alice, kvAddr, 0, types.TxCallContract, "zz"), nil)
	assert.ErrorIs(t, err, types.ErrInvalidPayload)
	_, err = h.submit(h.build(h.alice, h.bob.Address(), 0, types.TxCallContract, hexPayload("a=b")), nil)
	assert.ErrorIs(t, err, types.ErrInvalidReceiver)
	_, err = h.submit(h.build(h.alice, kvAddr, 1000, types.TxCallContract, hexPayload("a=b")), nil)
	assert.ErrorIs(t, err, types.ErrInsufficientFunds)
}

func TestHandler_CallContractEscrow(t *testing.T) {
	h := newHarness(t)

	h.mustSubmit(h.build(h.alice, escrowAddr, 20, types.TxCallContract, hexPayload("deposit")), nil)
	assert.Equal(t, uint64(20), h.balance(escrowAddr))
	assert.Equal(t, uint64(80), h.balance(h.alice.Address()))

	// only the owner may release, and a failed call leaves nothing behind
	before := h.st.Digest()
	steal := h.build(h.val, escrowAddr, 5, types.TxCallContract, hexPayload("release:"+h.val.Address()))
	_, err := h.submit(steal, nil)
	assert.ErrorIs(t, err, types.ErrUnauthorized)
	assert.Equal(t, before, h.st.Digest())
	assert.Equal(t, uint64(10), h.balance(h.val.Address()))
	assert.Equal(t, uint64(20), h.balance(escrowAddr))

	h.mustSubmit(h.build(h.alice, escrowAddr, 0, types.TxCallContract, hexPayload("release:"+h.bob.Address())), nil)
	assert.Equal(t, uint64(20), h.balance(h.bob.Address()))
	assert.Equal(t, uint64(0), h.balance(escrowAddr))
}

func TestHandler_CreateChain(t *testing.T) {
	h := newHarness(t)
	bc := NewBlockContext(7, h.val.Address(), 50)

	h.mustSubmit(h.build(h.gov, "", 0, types.TxCreateChain, hexPayload("side")), bc)
	chain, err := h.st.GetChain(h.ctx, ChainID("side"))
	require.NoError(t, err)
	assert.Equal(t, "side", chain.Name)
	assert.Equal(t, h.gov.Address(), chain.Creator)
	assert.Equal(t, uint64(7), chain.CreatedAt)

	_, err = h.submit(h.build(h.gov, "", 0, types.TxCreateChain, hexPayload("side")), nil)
	assert.ErrorIs(t, err, types.ErrInvalidPayload)
	_, err = h.submit(h.build(h.alice, "", 0, types.TxCreateChain, hexPayload("other")), nil)
	assert.ErrorIs(t, err, types.ErrUnauthorized)
	_, err = h.submit(h.build(h.gov, "", 0, types.TxCreateChain, ""), nil)
	assert.ErrorIs(t, err, types.ErrInvalidPayload)
	_, err = h.submit(h.build(h.gov, "", 0, types.TxCreateChain, hexPayload(strings.Repeat("n", 33))), nil)
	assert.ErrorIs(t, err, types.ErrInvalidPayload)
	_, err = h.submit(h.build(h.gov, "", 1, types.TxCreateChain, hexPayload("other")), nil)
	assert.ErrorIs(t, err, types.ErrInvalidAmount)
	_, err = h.submit(h.build(h.gov, h.bob.Address(), 0, types.TxCreateChain, hexPayload("other")), nil)
	assert.ErrorIs(t, err, types.ErrInvalidReceiver)
}

func TestHandler_Coinbase(t *testing.T) {
	h := newHarness(t)
	supply := h.supply()
	proposer := h.val

	_, err := h.submit(h.build(proposer, proposer.Address(), 50, types.TxCoinbase, ""), nil)
	assert.ErrorIs(t, err, types.ErrInvalidType)

	bc := NewBlockContext(1, proposer.Address(), 50)
	_, err = h.submit(h.build(h.alice, h.alice.Address(), 50, types.TxCoinbase, ""), bc)
	assert.ErrorIs(t, err, types.ErrUnauthorized)
	_, err = h.submit(h.build(proposer, proposer.Address(), 51, types.TxCoinbase, ""), bc)
	assert.ErrorIs(t, err, types.ErrInvalidAmount)
	_, err = h.submit(h.build(proposer, proposer.Address(), 0, types.TxCoinbase, ""), bc)
	assert.ErrorIs(t, err, types.ErrInvalidAmount)

	h.mustSubmit(h.build(proposer, proposer.Address(), 50, types.TxCoinbase, ""), bc)
	assert.True(t, bc.CoinbaseSeen)
	assert.Equal(t, uint64(60), h.balance(proposer.Address()))
	assert.Equal(t, supply+50, h.supply())

	_, err = h.submit(h.build(proposer, proposer.Address(), 10, types.TxCoinbase, ""), bc)
	assert.ErrorIs(t, err, types.ErrDuplicateCoinbase)

	next := NewBlockContext(2, proposer.Address(), 50)
	h.mustSubmit(h.build(proposer, h.bob.Address(), 25, types.TxCoinbase, ""), next)
	assert.Equal(t, uint64(25), h.balance(h.bob.Address()))
}

func TestPercentOf(t *testing.T) {
	assert.Equal(t, uint64(50), percentOf(500, 10))
	assert.Equal(t, uint64(0), percentOf(9, 10))
	assert.Equal(t, uint64(500), percentOf(500, 100))
	assert.Equal(t, uint64(500), percentOf(500, 150))
	assert.Equal(t, ^uint64(0)>>1, percentOf(^uint64(0), 50))
}
