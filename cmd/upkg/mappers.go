package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/meigma/upkg/mapper"
)

func newMappersCmd(a *app) *cobra.Command {
	var dumpDir string
	cmd := &cobra.Command{
		Use:   "mappers [name]",
		Short: "Decrypt the mapper tables and look up a name",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if dumpDir == "" {
				dumpDir = a.cfg.DumpDir
			}
			s := mapper.New(a.cfg.Root, mapper.WithLogger(a.logger), mapper.WithDumpDir(dumpDir))
			if err := s.Load(cmd.Context()); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(args) == 0 {
				fmt.Fprintln(out, titleStyle.Render("mapper tables"))
				fmt.Fprintf(out, "%-24s %d\n", mapper.PackageMapper, s.LenPackages())
				fmt.Fprintf(out, "%-24s %d\n", mapper.CompositeMapper, s.LenComposites())
				fmt.Fprintf(out, "%-24s %d\n", mapper.RedirectorMapper, s.LenRedirects())
				return nil
			}

			name := args[0]
			found := false
			if path, ok := s.PackagePath(name); ok {
				fmt.Fprintf(out, "package    %s -> %s\n", name, path)
				found = true
			}
			if e, ok := s.Composite(name); ok {
				fmt.Fprintf(out, "composite  %s -> %s @%d+%d (%s)\n", name, e.FileName, e.Offset, e.Size, e.ObjectPath)
				found = true
			}
			if target, ok := s.Redirect(name); ok {
				fmt.Fprintf(out, "redirect   %s -> %s\n", name, target)
				found = true
			}
			if !found {
				return fmt.Errorf("%q is not in the mapper tables", name)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&dumpDir, "dump-dir", "", "write the decrypted tables to this directory")
	return cmd
}
