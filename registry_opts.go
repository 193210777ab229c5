package upkg

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"

	"github.com/meigma/upkg/dirindex"
	"github.com/meigma/upkg/internal/compress"
	"github.com/meigma/upkg/mapper"
)

// Codec decompresses one compressed block into a buffer of the exact
// decompressed size.
type Codec = compress.Codec

// CodecFunc adapts a function to Codec.
type CodecFunc = compress.CodecFunc

// DefaultClassPackages are the foundational packages loaded by
// LoadClassPackages when no names are given.
var DefaultClassPackages = []string{"Core.u", "Engine.u", "GameFramework.u", "GFxUI.u"}

// DefaultBuiltinClasses are the intrinsic classes synthesized in the core
// package before it is deserialized.
var DefaultBuiltinClasses = []string{"Class", "Package", "TextBuffer", "MetaData"}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger used by the registry and every package it opens.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		r.logger = logger
	}
}

// WithFactory sets the constructor for export objects.
// The default factory creates RawObject values.
func WithFactory(f Factory) Option {
	return func(r *Registry) {
		if f != nil {
			r.factory = f
		}
	}
}

// WithWorkers sets the parallelism of chunk decompression and class loading.
// Zero uses GOMAXPROCS, values < 0 force serial processing.
func WithWorkers(n int) Option {
	return func(r *Registry) {
		r.workers = n
	}
}

// WithTempDir sets where decompressed and composite packages are written.
// The default is os.TempDir.
func WithTempDir(dir string) Option {
	return func(r *Registry) {
		r.tempDir = dir
	}
}

// WithCodec registers or replaces the block codec for a summary compression flag.
func WithCodec(flag uint32, c Codec) Option {
	return func(r *Registry) {
		r.codecOpts = append(r.codecOpts, compress.WithCodec(flag, c))
	}
}

// WithMaxDecoderMemory limits the maximum memory used by each zstd decoder.
// Set limit to 0 to disable the limit.
func WithMaxDecoderMemory(limit uint64) Option {
	return func(r *Registry) {
		r.maxDecoderMemory = limit
	}
}

// WithDecoderLowmem sets whether zstd decoders use low-memory mode (default: false).
func WithDecoderLowmem(enabled bool) Option {
	return func(r *Registry) {
		r.decoderLowmem = enabled
	}
}

// WithMappers supplies already loaded mapper tables. Without it composite
// packages and package aliases are not resolved unless LoadMappers is called.
func WithMappers(s *mapper.Store) Option {
	return func(r *Registry) {
		r.mappers = s
	}
}

// WithDirIndex supplies the directory index used by OpenNamed. Without it
// the index is loaded from the root on first use.
func WithDirIndex(idx *dirindex.Index) Option {
	return func(r *Registry) {
		r.index = idx
	}
}

// WithMetrics registers the registry collectors with reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(r *Registry) {
		r.registerer = reg
	}
}

// WithTracerProvider sets the provider for registry spans.
// The global provider is used by default.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(r *Registry) {
		r.tracerProvider = tp
	}
}

// WithBuiltinClasses replaces DefaultBuiltinClasses.
func WithBuiltinClasses(names ...string) Option {
	return func(r *Registry) {
		r.builtins = names
	}
}

// WithClassPackages replaces DefaultClassPackages.
func WithClassPackages(names ...string) Option {
	return func(r *Registry) {
		r.classPackages = names
	}
}
