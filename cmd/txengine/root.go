package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/samuel0642/txengine/internal/types"
)

// offlineAnnotation marks commands that never touch storage
const offlineAnnotation = "offline"

type globalFlags struct {
	configPath string
	keystore   string
}

// newRootCmd builds the command tree around a. The caller closes a once
// the command returns.
func newRootCmd(a *app) *cobra.Command {
	var flags globalFlags

	root := &cobra.Command{
		Use:           "txengine",
		Short:         "Build, validate and apply ledger transactions",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			_, offline := cmd.Annotations[offlineAnnotation]
			return a.setup(flags.configPath, !offline)
		},
	}
	root.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "path to the YAML config file (defaults when empty)")
	root.PersistentFlags().StringVar(&flags.keystore, "keystore", "keystore.json", "path to the keystore file")

	root.AddCommand(
		newKeygenCmd(&flags),
		newTxCmd(a, &flags),
		newValidateCmd(a),
		newApplyCmd(a),
		newAccountCmd(a),
		newGenesisCmd(a),
		newStatusCmd(a),
	)
	return root
}

// readTransaction decodes a JSON transaction from path, or stdin for "-"
func readTransaction(cmd *cobra.Command, path string) (*types.Transaction, error) {
	var r io.Reader = cmd.InOrStdin()
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open transaction: %w", err)
		}
		defer f.Close()
		r = f
	}
	var tx types.Transaction
	if err := json.NewDecoder(r).Decode(&tx); err != nil {
		return nil, fmt.Errorf("failed to decode transaction: %w", err)
	}
	return &tx, nil
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func txArg(args []string) string {
	if len(args) == 0 {
		return "-"
	}
	return args[0]
}
