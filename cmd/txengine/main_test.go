package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samuel0642/txengine/internal/transaction"
	"github.com/samuel0642/txengine/internal/types"
)

// run executes one CLI invocation the way main does
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	a := &app{}
	cmd := newRootCmd(a)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	require.NoError(t, a.close())
	return out.String(), err
}

func writeConfig(t *testing.T, dir string, accounts map[string]uint64, extra ...string) string {
	t.Helper()
	var b strings.Builder
	fmt.Fprintf(&b, "log:\n  level: error\n")
	fmt.Fprintf(&b, "storage:\n  dir: %s\n  namespace: test\n", filepath.Join(dir, "data"))
	fmt.Fprintf(&b, "pow:\n  difficulty: 1\n  workers: 1\n  timeout: 30s\n")
	fmt.Fprintf(&b, "genesis:\n  accounts:\n")
	for addr, balance := range accounts {
		fmt.Fprintf(&b, "    %q: %d\n", addr, balance)
	}
	for _, e := range extra {
		b.WriteString(e)
	}
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0600))
	return path
}

func TestCLI_EndToEnd(t *testing.T) {
	dir := t.TempDir()
	ks := filepath.Join(dir, "keystore.json")

	out, err := run(t, "keygen", "--keystore", ks)
	require.NoError(t, err)
	alice := strings.TrimSpace(out)
	out, err = run(t, "keygen", "--keystore", ks)
	require.NoError(t, err)
	bob := strings.TrimSpace(out)
	require.True(t, types.IsHexAddress(alice))
	require.True(t, types.IsHexAddress(bob))

	cfg := writeConfig(t, dir, map[string]uint64{alice: 100})

	out, err = run(t, "genesis", "-c", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "ledger initialized")
	out, err = run(t, "genesis", "-c", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "already initialized")

	out, err = run(t, "tx", "build", "-c", cfg, "--keystore", ks,
		"--from", alice, "--to", bob, "--amount", "40")
	require.NoError(t, err)
	var tx types.Transaction
	require.NoError(t, json.Unmarshal([]byte(out), &tx))
	assert.Equal(t, alice, tx.Sender)
	assert.Equal(t, tx.ComputeHash(), tx.Hash)
	txFile := filepath.Join(dir, "tx.json")
	require.NoError(t, os.WriteFile(txFile, []byte(out), 0600))

	out, err = run(t, "validate", "-c", cfg, txFile)
	require.NoError(t, err)
	assert.Contains(t, out, tx.Hash)

	out, err = run(t, "apply", "-c", cfg, txFile)
	require.NoError(t, err)
	var receipts []types.Receipt
	require.NoError(t, json.Unmarshal([]byte(out), &receipts))
	require.Len(t, receipts, 1)
	assert.Equal(t, tx.Hash, receipts[0].Hash)
	assert.Equal(t, uint64(1), receipts[0].Sequence)

	out, err = run(t, "account", "-c", cfg, bob)
	require.NoError(t, err)
	var acc types.Account
	require.NoError(t, json.Unmarshal([]byte(out), &acc))
	assert.Equal(t, uint64(40), acc.Balance)

	out, err = run(t, "account", "-c", cfg, alice)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &acc))
	assert.Equal(t, uint64(60), acc.Balance)

	_, err = run(t, "apply", "-c", cfg, txFile)
	assert.ErrorIs(t, err, types.ErrAlreadyCommitted)

	out, err = run(t, "status", "-c", cfg)
	require.NoError(t, err)
	var st status
	require.NoError(t, json.Unmarshal([]byte(out), &st))
	assert.Equal(t, uint64(100), st.Supply)
	assert.Equal(t, uint64(1), st.Transactions)
	assert.Equal(t, 1, st.Difficulty)
}

func TestCLI_BuildRejectsBadInput(t *testing.T) {
	dir := t.TempDir()
	ks := filepath.Join(dir, "keystore.json")

	_, err := run(t, "tx", "build", "--keystore", ks, "--to", strings.Repeat("a", 64), "--amount", "1")
	assert.ErrorContains(t, err, "keystore is empty")

	_, err = run(t, "keygen", "--keystore", ks)
	require.NoError(t, err)
	_, err = run(t, "tx", "build", "--keystore", ks, "--type", "teleport")
	assert.Error(t, err)
	_, err = run(t, "tx", "build", "--keystore", ks, "--payload", "00", "--payload-text", "x")
	assert.ErrorContains(t, err, "mutually exclusive")
}

func TestCLI_ValidateUnknownSender(t *testing.T) {
	dir := t.TempDir()
	ks := filepath.Join(dir, "keystore.json")
	out, err := run(t, "keygen", "--keystore", ks)
	require.NoError(t, err)
	alice := strings.TrimSpace(out)
	cfg := writeConfig(t, dir, map[string]uint64{})

	out, err = run(t, "tx", "build", "-c", cfg, "--keystore", ks, "--from", alice, "--to", strings.Repeat("b", 64), "--amount", "5")
	require.NoError(t, err)
	txFile := filepath.Join(dir, "tx.json")
	require.NoError(t, os.WriteFile(txFile, []byte(out), 0600))

	_, err = run(t, "validate", "-c", cfg, txFile)
	assert.ErrorIs(t, err, types.ErrAccountNotFound)
}

// buildTx runs tx build and writes the result to name in dir
func buildTx(t *testing.T, dir, name string, args ...string) string {
	t.Helper()
	out, err := run(t, append([]string{"tx", "build"}, args...)...)
	require.NoError(t, err)
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(out), 0600))
	return path
}

func TestCLI_CoinbaseOncePerHeight(t *testing.T) {
	dir := t.TempDir()
	ks := filepath.Join(dir, "keystore.json")
	out, err := run(t, "keygen", "--keystore", ks)
	require.NoError(t, err)
	proposer := strings.TrimSpace(out)
	cfg := writeConfig(t, dir, map[string]uint64{proposer: 10}, "chain:\n  block_reward: 50\n")

	_, err = run(t, "genesis", "-c", cfg)
	require.NoError(t, err)

	coinbase := func(name string) string {
		return buildTx(t, dir, name, "-c", cfg, "--keystore", ks,
			"--from", proposer, "--to", proposer, "--amount", "50", "--type", "coinbase")
	}
	cb1, cb2, cb3 := coinbase("cb1.json"), coinbase("cb2.json"), coinbase("cb3.json")

	_, err = run(t, "apply", "-c", cfg, "--proposer", proposer, "--height", "1", cb1)
	require.NoError(t, err)

	// a fresh coinbase for the same height is refused
	_, err = run(t, "validate", "-c", cfg, "--proposer", proposer, "--height", "1", cb2)
	assert.ErrorIs(t, err, errBlockApplied)
	_, err = run(t, "apply", "-c", cfg, "--proposer", proposer, "--height", "1", cb2)
	assert.ErrorIs(t, err, errBlockApplied)

	// two coinbases in one block fail and leave the ledger untouched
	_, err = run(t, "apply", "-c", cfg, "--proposer", proposer, "--height", "2", cb2, cb3)
	assert.ErrorIs(t, err, types.ErrDuplicateCoinbase)

	_, err = run(t, "apply", "-c", cfg, "--proposer", proposer, "--height", "2", cb2)
	require.NoError(t, err)

	out, err = run(t, "status", "-c", cfg)
	require.NoError(t, err)
	var st status
	require.NoError(t, json.Unmarshal([]byte(out), &st))
	assert.Equal(t, uint64(110), st.Supply)
	assert.Equal(t, uint64(2), st.Transactions)
}

func TestCLI_ApplyBlock(t *testing.T) {
	dir := t.TempDir()
	ks := filepath.Join(dir, "keystore.json")
	out, err := run(t, "keygen", "--keystore", ks)
	require.NoError(t, err)
	alice := strings.TrimSpace(out)
	bob := strings.Repeat("b", 64)
	cfg := writeConfig(t, dir, map[string]uint64{alice: 100}, "mempool:\n  max_size: 2\n")

	_, err = run(t, "genesis", "-c", cfg)
	require.NoError(t, err)

	send := func(name, amount string) string {
		return buildTx(t, dir, name, "-c", cfg, "--keystore", ks, "--from", alice, "--to", bob, "--amount", amount)
	}
	tx1, tx2, tx3 := send("tx1.json", "10"), send("tx2.json", "20"), send("tx3.json", "95")

	_, err = run(t, "apply", "-c", cfg, tx1, tx2, tx3)
	assert.ErrorIs(t, err, transaction.ErrPoolFull)
	_, err = run(t, "apply", "-c", cfg, tx1, tx1)
	assert.ErrorIs(t, err, transaction.ErrDuplicateTx)

	// the second transaction overdraws, so neither is committed
	_, err = run(t, "apply", "-c", cfg, tx1, tx3)
	assert.ErrorIs(t, err, types.ErrInsufficientFunds)
	out, err = run(t, "status", "-c", cfg)
	require.NoError(t, err)
	var st status
	require.NoError(t, json.Unmarshal([]byte(out), &st))
	assert.Equal(t, uint64(0), st.Transactions)

	out, err = run(t, "apply", "-c", cfg, tx1, tx2)
	require.NoError(t, err)
	var receipts []types.Receipt
	require.NoError(t, json.Unmarshal([]byte(out), &receipts))
	require.Len(t, receipts, 2)
	assert.Equal(t, uint64(1), receipts[0].Sequence)
	assert.Equal(t, uint64(2), receipts[1].Sequence)

	out, err = run(t, "account", "-c", cfg, alice)
	require.NoError(t, err)
	var acc types.Account
	require.NoError(t, json.Unmarshal([]byte(out), &acc))
	assert.Equal(t, uint64(70), acc.Balance)
}
