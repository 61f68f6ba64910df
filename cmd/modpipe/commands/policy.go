package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/modpipe/modpipe/internal/policy"
)

func newPolicyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Inspect and test policy threshold tables",
	}
	cmd.AddCommand(newPolicyValidateCmd(), newPolicyEvalCmd())
	return cmd
}

func newPolicyValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [file]",
		Short: "Validate a policy file (or the embedded defaults)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			}
			pol, err := policy.Load(path)
			if err != nil {
				return err
			}
			var hard, soft int
			for _, f := range pol.Families {
				hard += len(f.Hard)
				soft += len(f.Soft)
			}
			fmt.Printf("ok: policy %s, %d families, %d hard rules, %d soft rules\n",
				pol.ID, len(pol.Families), hard, soft)
			return nil
		},
	}
}

func newPolicyEvalCmd() *cobra.Command {
	var file string
	var trustScore int

	cmd := &cobra.Command{
		Use:   "eval",
		Short: "Evaluate a signals JSON document against a policy file",
		Long:  `Reads a JSON object of signals from stdin and prints the decision, e.g.: echo '{"hate": 0.99}' | modpipe policy eval`,
		RunE: func(cmd *cobra.Command, args []string) error {
			pol, err := policy.Load(file)
			if err != nil {
				return err
			}

			var signals map[string]any
			if err := json.NewDecoder(os.Stdin).Decode(&signals); err != nil {
				return fmt.Errorf("reading signals from stdin: %w", err)
			}

			dec := pol.Evaluate(signals, trustScore)
			out, err := json.MarshalIndent(dec, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}

	cmd.Flags().StringVar(&file, "file", "", "policy file (default: embedded tables)")
	cmd.Flags().IntVar(&trustScore, "trust", 50, "trust score of the hypothetical author")
	return cmd
}
