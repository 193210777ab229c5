package upkg

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
)

// Dump writes a human readable listing of the package summary and tables
// to w. Tables are only listed once the package is ready.
func (p *Package) Dump(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	s := p.summary
	fmt.Fprintf(tw, "Package:\t%s\n", p.name)
	fmt.Fprintf(tw, "Source:\t%s\n", p.sourcePath)
	if p.Composite() {
		fmt.Fprintf(tw, "Bundle:\t%s\n", p.compositeSource)
		fmt.Fprintf(tw, "Digest:\t%s\n", p.compositeDigest)
	}
	fmt.Fprintf(tw, "Version:\t%d/%d\n", s.FileVersion, s.LicenseeVersion)
	fmt.Fprintf(tw, "GUID:\t%s\n", s.GUID)
	fmt.Fprintf(tw, "Flags:\t%#08x\n", s.PackageFlags)
	fmt.Fprintf(tw, "Header:\t%d bytes\n", s.HeaderSize)
	fmt.Fprintf(tw, "Names:\t%d @ %#x\n", s.NamesCount, s.NamesOffset)
	fmt.Fprintf(tw, "Imports:\t%d @ %#x\n", s.ImportsCount, s.ImportsOffset)
	fmt.Fprintf(tw, "Exports:\t%d @ %#x\n", s.ExportsCount, s.ExportsOffset)
	fmt.Fprintf(tw, "Depends:\t%#x\n", s.DependsOffset)
	fmt.Fprintf(tw, "State:\t%s\n", p.State())
	if err := tw.Flush(); err != nil {
		return err
	}
	if !p.Ready() {
		return nil
	}

	fmt.Fprintln(tw, "\nIMPORTS")
	fmt.Fprintln(tw, "INDEX\tCLASS\tPATH")
	for _, imp := range p.imports {
		fmt.Fprintf(tw, "%d\t%s.%s\t%s\n", imp.ref.PackageIndex(), imp.classPackage, imp.className, imp.Path())
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Fprintln(tw, "\nEXPORTS")
	fmt.Fprintln(tw, "INDEX\tCLASS\tOFFSET\tSIZE\tOBJECT")
	var walk func(exp *Export, depth int)
	walk = func(exp *Export, depth int) {
		fmt.Fprintf(tw, "%d\t%s\t%#x\t%d\t%s%s\n",
			exp.ref.PackageIndex(), exp.className, exp.SerialOffset(), exp.SerialSize(),
			strings.Repeat("  ", depth), exp.name)
		for _, in := range exp.inner {
			walk(in, depth+1)
		}
	}
	for _, exp := range p.rootExports {
		walk(exp, 0)
	}
	for _, v := range p.VirtualExports() {
		fmt.Fprintf(tw, "-\t%s\t-\t-\t%s (virtual)\n", v.className, v.name)
	}
	return tw.Flush()
}
