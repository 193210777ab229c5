package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/meigma/upkg/dirindex"
)

func newIndexCmd(a *app) *cobra.Command {
	var rebuild bool
	cmd := &cobra.Command{
		Use:   "index [prefix]",
		Short: "List the package files under the game root",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := []dirindex.Option{dirindex.WithLogger(a.logger)}
			if rebuild || a.cfg.RebuildIndex {
				opts = append(opts, dirindex.WithRebuild())
			}
			idx, err := dirindex.Load(a.cfg.Root, opts...)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(args) == 0 {
				for _, rel := range idx.Paths() {
					fmt.Fprintln(out, rel)
				}
				fmt.Fprintln(out, subtitleStyle.Render(fmt.Sprintf("%d packages", idx.Len())))
				return nil
			}

			n := 0
			for rel := range idx.Matches(args[0]) {
				fmt.Fprintln(out, rel)
				n++
			}
			if n == 0 {
				return fmt.Errorf("no package matches %q", args[0])
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&rebuild, "rebuild", false, "rescan the root and rewrite the index cache")
	return cmd
}
