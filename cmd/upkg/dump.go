package main

import (
	"github.com/spf13/cobra"
)

func newDumpCmd(a *app) *cobra.Command {
	var guid string
	cmd := &cobra.Command{
		Use:   "dump <package>",
		Short: "Print the summary, imports and exports of a package",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r := a.registry()
			defer r.Shutdown()

			p, err := a.open(cmd.Context(), r, args[0], guid)
			if err != nil {
				return err
			}
			defer r.Close(p)
			return p.Dump(cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&guid, "guid", "", "only accept a package with this GUID")
	return cmd
}
