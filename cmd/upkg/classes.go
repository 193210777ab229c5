package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newClassesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "classes [package...]",
		Short: "Load the class packages and list the classes they define",
		RunE: func(cmd *cobra.Command, args []string) error {
			r := a.registry()
			defer r.Shutdown()

			if err := r.LoadClassPackages(cmd.Context(), args...); err != nil {
				return err
			}
			defer r.UnloadClassPackages()

			out := cmd.OutOrStdout()
			if v, ok := r.CoreVersion(); ok {
				fmt.Fprintf(out, "%s %d\n", titleStyle.Render("core version"), v)
			}
			for _, p := range r.ClassPackages() {
				fmt.Fprintf(out, "%s %s\n", successStyle.Render(p.Name()), subtitleStyle.Render(fmt.Sprintf("%d exports", len(p.Exports()))))
			}
			names := r.ClassNames()
			for _, name := range names {
				fmt.Fprintf(out, "  %s\n", name)
			}
			fmt.Fprintln(out, subtitleStyle.Render(fmt.Sprintf("%d classes", len(names))))
			return nil
		},
	}
}
