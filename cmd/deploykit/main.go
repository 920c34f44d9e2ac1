package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/visionlab-ai/deploykit/config"
)

const errExitCode = 1

func main() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(errExitCode)
	}
}

// NewRootCmd builds the deploykit command tree.
func NewRootCmd() *cobra.Command {
	var appConfig string
	cmd := &cobra.Command{
		Use:          "deploykit",
		Short:        "run and evaluate deployed vision models on inference backends",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return config.Init(appConfig)
		},
	}
	cmd.PersistentFlags().StringVar(&appConfig, "app-config", "config/config.yaml", "runtime configuration file")
	cmd.AddCommand(NewTestCmd())
	return cmd
}
