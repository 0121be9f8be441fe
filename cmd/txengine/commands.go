package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/samuel0642/txengine/internal/keys"
	"github.com/samuel0642/txengine/internal/state"
	"github.com/samuel0642/txengine/internal/storage"
	"github.com/samuel0642/txengine/internal/transaction"
	"github.com/samuel0642/txengine/internal/types"
)

func newKeygenCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:         "keygen",
		Short:       "Generate a key pair and add it to the keystore",
		Annotations: map[string]string{offlineAnnotation: ""},
		Args:        cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ks, err := keys.LoadKeystore(flags.keystore)
			if err != nil {
				return err
			}
			kp, err := ks.GenerateAndAddKey()
			if err != nil {
				return err
			}
			if err := ks.Save(flags.keystore); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), kp.Address())
			return nil
		},
	}
}

type buildFlags struct {
	from        string
	to          string
	amount      uint64
	txType      string
	payload     string
	payloadText string
}

func newTxCmd(a *app, flags *globalFlags) *cobra.Command {
	tx := &cobra.Command{
		Use:   "tx",
		Short: "Transaction tooling",
	}

	var bf buildFlags
	build := &cobra.Command{
		Use:         "build",
		Short:       "Build, mine and sign a transaction, printing it as JSON",
		Annotations: map[string]string{offlineAnnotation: ""},
		Args:        cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ks, err := keys.LoadKeystore(flags.keystore)
			if err != nil {
				return err
			}
			t, err := buildTransaction(cmd.Context(), a, ks, bf)
			if err != nil {
				return err
			}
			return printJSON(cmd, t)
		},
	}
	build.Flags().StringVar(&bf.from, "from", "", "sender address (defaults to the first keystore entry)")
	build.Flags().StringVar(&bf.to, "to", "", "receiver address")
	build.Flags().Uint64Var(&bf.amount, "amount", 0, "amount to transfer")
	build.Flags().StringVar(&bf.txType, "type", "send", "transaction type")
	build.Flags().StringVar(&bf.payload, "payload", "", "hex payload")
	build.Flags().StringVar(&bf.payloadText, "payload-text", "", "payload as text, hex encoded before signing")

	tx.AddCommand(build)
	return tx
}

func buildTransaction(ctx context.Context, a *app, ks *keys.Keystore, bf buildFlags) (*types.Transaction, error) {
	txType, err := types.ParseTxType(bf.txType)
	if err != nil {
		return nil, err
	}
	if bf.payload != "" && bf.payloadText != "" {
		return nil, errors.New("--payload and --payload-text are mutually exclusive")
	}
	payload := bf.payload
	if bf.payloadText != "" {
		payload = hex.EncodeToString([]byte(bf.payloadText))
	}

	from := bf.from
	if from == "" {
		addrs := ks.ListAddresses()
		if len(addrs) == 0 {
			return nil, errors.New("keystore is empty, run keygen first")
		}
		from = addrs[0]
	}
	kp, ok := ks.GetKey(from)
	if !ok {
		return nil, fmt.Errorf("no key for %s in keystore", from)
	}

	if a.cfg.Pow.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.cfg.Pow.Timeout)
		defer cancel()
	}
	tx := types.NewTransaction(kp.Address(), bf.to, bf.amount, txType, payload)
	if err := a.pow.Seal(ctx, tx); err != nil {
		return nil, err
	}
	if err := kp.SignTransaction(tx); err != nil {
		return nil, err
	}
	return tx, nil
}

const blocksTable = "blocks"

var errBlockApplied = errors.New("block already applied")

func blockKey(height uint64) string {
	return strconv.FormatUint(height, 10)
}

// checkBlockOpen fails when the block named by bf has already been applied,
// so its coinbase cannot be minted twice
func checkBlockOpen(ctx context.Context, a *app, bf blockFlags) error {
	if bf.proposer == "" {
		return nil
	}
	done, err := a.store.Get(ctx, blocksTable, blockKey(bf.height))
	if err != nil {
		return err
	}
	if done != nil {
		return fmt.Errorf("%w: height %d by %s", errBlockApplied, bf.height, done)
	}
	return nil
}

type blockFlags struct {
	height   uint64
	proposer string
}

func (bf blockFlags) context(a *app) *transaction.BlockContext {
	if bf.proposer == "" {
		return nil
	}
	return transaction.NewBlockContext(bf.height, bf.proposer, a.cfg.Chain.BlockReward)
}

func addBlockFlags(cmd *cobra.Command, bf *blockFlags) {
	cmd.Flags().Uint64Var(&bf.height, "height", 0, "block height")
	cmd.Flags().StringVar(&bf.proposer, "proposer", "", "block proposer; enables coinbase")
}

func newValidateCmd(a *app) *cobra.Command {
	var bf blockFlags
	cmd := &cobra.Command{
		Use:   "validate [tx.json|-]",
		Short: "Validate a transaction against the committed ledger",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tx, err := readTransaction(cmd, txArg(args))
			if err != nil {
				return err
			}
			if err := checkBlockOpen(cmd.Context(), a, bf); err != nil {
				return err
			}
			v, err := a.validator(a.ledger, a.index, nil)
			if err != nil {
				return err
			}
			if err := v.Validate(cmd.Context(), tx, bf.context(a)); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "valid %s\n", tx.ComputeHash())
			return nil
		},
	}
	addBlockFlags(cmd, &bf)
	return cmd
}

func newApplyCmd(a *app) *cobra.Command {
	var bf blockFlags
	cmd := &cobra.Command{
		Use:   "apply [tx.json|-]...",
		Short: "Validate and execute transactions in order and commit them together",
		Long: `Queue the transactions in a pool bounded by mempool.max_size, then
validate and execute them in arrival order against one state. Nothing is
committed unless every transaction succeeds. With --proposer the run is the
block at --height, and each height can be applied once.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				args = []string{"-"}
			}
			pool := transaction.NewPool(a.cfg.Mempool.MaxSize)
			for _, path := range args {
				tx, err := readTransaction(cmd, path)
				if err != nil {
					return err
				}
				if err := pool.Add(tx); err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}
			}
			receipts, err := applyPool(cmd.Context(), a, pool, bf)
			if err != nil {
				return err
			}
			return printJSON(cmd, receipts)
		},
	}
	addBlockFlags(cmd, &bf)
	return cmd
}

// applyPool drains pool into one state and commits the state, the index
// entries and the block marker in a single store batch
func applyPool(ctx context.Context, a *app, pool *transaction.Pool, bf blockFlags) ([]*types.Receipt, error) {
	if err := checkBlockOpen(ctx, a, bf); err != nil {
		return nil, err
	}
	bc := bf.context(a)
	st := state.New(a.ledger)
	batch := a.index.Batch()
	v, err := a.validator(st, batch, pool)
	if err != nil {
		return nil, err
	}
	exec, err := a.executor(batch)
	if err != nil {
		return nil, err
	}

	receipts := make([]*types.Receipt, 0, pool.Len())
	for _, tx := range pool.Pending(0) {
		pool.Remove(tx.ComputeHash())
		if err := v.Validate(ctx, tx, bc); err != nil {
			return nil, err
		}
		receipt, err := exec.Execute(ctx, tx, st, bc)
		if err != nil {
			return nil, err
		}
		receipts = append(receipts, receipt)
	}

	entries := batch.Entries()
	if bc != nil {
		entries = append(entries, storage.Entry{Table: blocksTable, Key: blockKey(bc.Height), Value: []byte(bc.Proposer)})
	}
	if err := a.ledger.Commit(ctx, st, entries...); err != nil {
		return nil, err
	}
	return receipts, nil
}

func newAccountCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "account <address>",
		Short: "Show a committed account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			acc, err := a.ledger.GetAccount(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, acc)
		},
	}
}

func newGenesisCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "genesis",
		Short: "Seed an empty ledger from the genesis section of the config",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			err := a.ledger.Genesis(cmd.Context(), a.genesis())
			if errors.Is(err, state.ErrAlreadyInitialized) {
				fmt.Fprintln(cmd.OutOrStdout(), "ledger already initialized")
				return nil
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "ledger initialized")
			return nil
		},
	}
}

type status struct {
	Supply       uint64 `json:"supply"`
	Transactions uint64 `json:"transactions"`
	Difficulty   int    `json:"difficulty"`
}

func newStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the supply and committed transaction count",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			supply, err := a.ledger.Supply(cmd.Context())
			if err != nil {
				return err
			}
			count, err := a.index.Count(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd, status{Supply: supply, Transactions: count, Difficulty: a.pow.Difficulty()})
		},
	}
}
