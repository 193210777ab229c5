// Package upkg loads and resolves game-asset packages.
//
// A package is one archive holding a names table, a table of objects it
// defines (exports), references into other packages (imports) and the
// serialized object payloads, optionally block-compressed or carved out of a
// larger composite bundle.
//
// A [Registry] owns every open package of one game root. Packages are
// reference counted: each [Registry.Open] or [Registry.OpenNamed] must be
// paired with [Registry.Close].
//
//	reg := upkg.New("/games/tera/Client/S1Game", upkg.WithLogger(logger))
//	defer reg.Shutdown()
//
//	pkg, err := reg.OpenNamed(ctx, "Engine", uuid.Nil)
//	if err != nil {
//	    return err
//	}
//	defer reg.Close(pkg)
//	if err := pkg.Load(ctx); err != nil {
//	    return err
//	}
//	obj, err := pkg.GetObject(ctx, upkg.ExportRef(0), true)
//
// # Resolution
//
// Imports are resolved lazily. A foreign import opens the package that
// defines it on demand and keeps it open for as long as the importing
// package lives. Imports that cannot be satisfied resolve to nil and are
// logged, so partially available object graphs stay usable.
//
// # Class packages
//
// [Registry.LoadClassPackages] bootstraps the built-in class packages with a
// phased parallel loader: classes, field linking, class defaults and finally
// every remaining object.
package upkg
