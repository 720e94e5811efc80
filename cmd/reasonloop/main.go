// Command reasonloop answers questions with a tool-using reasoning loop over
// a domain workspace.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

type rootOptions struct {
	configPath string
	envFile    string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "reasonloop",
		Short:         "reasonloop - tool-using reasoning loop over a domain workspace",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.envFile != "" {
				if err := godotenv.Load(opts.envFile); err != nil {
					return fmt.Errorf("load env file: %w", err)
				}
				return nil
			}
			// A missing default .env is fine.
			_ = godotenv.Load()
			return nil
		},
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to YAML config file")
	cmd.PersistentFlags().StringVar(&opts.envFile, "env-file", "", "load environment from this file instead of ./.env")

	cmd.AddCommand(newRunCmd(opts), newProvidersCmd(opts))
	return cmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
