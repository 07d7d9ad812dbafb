package proots

import (
	"log/slog"

	"github.com/Proots-Foundation/pRoots-command-line/codec"
)

// DefaultConcurrency bounds how many annotation blocks are fetched or stored
// at once.
const DefaultConcurrency = 16

// Option tunes Build and Resolve.
type Option func(*options)

type options struct {
	codec       codec.Codec
	concurrency int
	logger      *slog.Logger
}

func newOptions(opts []Option) options {
	o := options{
		codec:       codec.DagCBOR,
		concurrency: DefaultConcurrency,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	if o.logger == nil {
		o.logger = slog.New(slog.DiscardHandler)
	}
	return o
}

// WithCodec selects the codec records are encoded with on Build. It must
// match the codec of the store's CID prefix. Resolve always decodes with the
// codec named by each CID.
func WithCodec(c codec.Codec) Option {
	return func(o *options) {
		if c != nil {
			o.codec = c
		}
	}
}

// WithConcurrency bounds concurrent store operations per sequence.
// n <= 0 removes the bound.
func WithConcurrency(n int) Option {
	return func(o *options) { o.concurrency = n }
}

// WithLogger sets the logger for debug output. The default discards.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}
