package commands

import (
	"github.com/spf13/cobra"
)

var cfgFile string

func NewRoot() *cobra.Command {
	root := &cobra.Command{
		Use:   "modpipe",
		Short: "Streaming moderation decision pipeline",
		Long:  "Modpipe turns user-generated content events into trust-weighted moderation decisions and enforced cases. Single binary: ops API, pipeline workers, and policy tooling.",
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "modpipe.yaml", "config file path")

	root.AddCommand(
		newServeCmd(),
		newWorkerCmd(),
		newPolicyCmd(),
		newVersionCmd(),
	)

	return root
}
