package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/martinemde/reasonloop/agentloop"
	"github.com/martinemde/reasonloop/llm"
)

func newProvidersCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "providers",
		Short: "List configured providers and whether they have credentials",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(root.configPath)
			if err != nil {
				return err
			}
			defer a.close()
			ctrl, err := a.controller()
			if err != nil {
				return err
			}
			return printProviders(cmd.OutOrStdout(), ctrl.Router().Selections(), ctrl.Router().Select("", ""), ctrl.Router().Model)
		},
	}
}

func printProviders(w io.Writer, selections []agentloop.ProviderSelection, primary string, model func(string) string) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PROVIDER\tAVAILABLE\tMODEL\tKEY ENV\tDEFAULT")
	for _, s := range selections {
		def := ""
		if s.Name == primary {
			def = "*"
		}
		fmt.Fprintf(tw, "%s\t%t\t%s\t%s\t%s\n", s.Name, s.Available, model(s.Name), llm.APIKeyEnv(s.Name), def)
	}
	return tw.Flush()
}
