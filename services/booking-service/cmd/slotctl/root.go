package main

import (
	"encoding/json"
	"io"

	"github.com/spf13/cobra"
)

type options struct {
	json bool
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:          "slotctl",
		Short:        "Operator tooling for the slotbook booking service",
		SilenceUsage: true,
	}
	cmd.PersistentFlags().BoolVar(&opts.json, "json", false, "Output JSON")

	cmd.AddCommand(slotsCmd(opts))
	cmd.AddCommand(healthCmd(opts))
	cmd.AddCommand(tokenCmd(opts))
	cmd.AddCommand(eventsCmd(opts))
	return cmd
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
