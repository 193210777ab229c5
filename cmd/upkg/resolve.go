package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

const packageClass = "Package"

func newResolveCmd(a *app) *cobra.Command {
	var (
		guid string
		load bool
	)
	cmd := &cobra.Command{
		Use:   "resolve <package>",
		Short: "Resolve every import of a package",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			r := a.registry()
			defer r.Shutdown()

			p, err := a.open(ctx, r, args[0], guid)
			if err != nil {
				return err
			}
			defer r.Close(p)

			out := cmd.OutOrStdout()
			unresolved := 0
			for _, imp := range p.Imports() {
				if imp.ClassName() == packageClass {
					continue
				}
				obj, err := p.GetObject(ctx, imp.Ref(), load)
				if err != nil {
					return fmt.Errorf("%s: %w", imp.Path(), err)
				}
				if obj == nil {
					unresolved++
					fmt.Fprintf(out, "%s %s\n", errorStyle.Render("x"), imp.Path())
					continue
				}
				fmt.Fprintf(out, "%s %s -> %s\n", successStyle.Render("ok"), imp.Path(), obj.Export().Package().Name())
			}
			if unresolved > 0 {
				fmt.Fprintln(out, warningStyle.Render(fmt.Sprintf("%d unresolved imports", unresolved)))
				return fmt.Errorf("%d of %d imports unresolved", unresolved, len(p.Imports()))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&guid, "guid", "", "only accept a package with this GUID")
	cmd.Flags().BoolVar(&load, "load", false, "also deserialize each resolved object")
	return cmd
}
