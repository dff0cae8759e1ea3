package biztracing

import (
	"go.uber.org/zap"

	"github.com/simplesurance/biztracing/bizctx"
)

type config struct {
	logger       *zap.Logger
	extractor    *bizctx.Extractor
	classifier   ErrorClassifier
	excludedOps  map[SQLOp]struct{}
	commandSpans bool
}

func newConfig(opts []Opt) *config {
	cfg := config{
		logger:      zap.NewNop(),
		extractor:   bizctx.NewExtractor(),
		classifier:  ClassifyError,
		excludedOps: map[SQLOp]struct{}{},
	}

	for _, opt := range opts {
		opt(&cfg)
	}

	return &cfg
}

// Opt is a type for options that can be passed to NewInterceptor,
// WrapDriver and NewEnricher.
type Opt func(*config)

// WithLogger sets the logger for completed database operations and
// enrichment failures.
func WithLogger(logger *zap.Logger) Opt {
	return func(cfg *config) {
		cfg.logger = logger
	}
}

// WithExtractor sets the extractor that derives the business context of
// database commands.
func WithExtractor(e *bizctx.Extractor) Opt {
	return func(cfg *config) {
		cfg.extractor = e
	}
}

// WithErrorClassifier replaces ClassifyError as source of the
// db.error_type tag.
func WithErrorClassifier(fn ErrorClassifier) Opt {
	return func(cfg *config) {
		cfg.classifier = fn
	}
}

// WithOpsExcluded excludes the passed database operations from
// enrichment and from command spans.
func WithOpsExcluded(ops ...SQLOp) Opt {
	return func(cfg *config) {
		for _, op := range ops {
			cfg.excludedOps[op] = struct{}{}
		}
	}
}

// WithCommandSpans enables recording a client span for every database
// operation. The spans are only created when the context of the operation
// contains a span, they are started with the tracer of that span.
// Business context is then recorded on the command span instead of the
// enclosing span.
func WithCommandSpans() Opt {
	return func(cfg *config) {
		cfg.commandSpans = true
	}
}

func (cfg *config) opIsExcluded(op SQLOp) bool {
	_, exist := cfg.excludedOps[op]
	return exist
}
