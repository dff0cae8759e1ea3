// Package business provides helpers that start spans for business operations
// and record business events on them.
package business

import (
	"context"
	"time"

	"github.com/simplesurance/biztracing/tracing"
)

const (
	DefaultServiceName    = "Money.Business"
	DefaultServiceVersion = "1.0.0"
)

const (
	TagServiceName        = "service.name"
	TagServiceVersion     = "service.version"
	TagOperationTimestamp = "operation.timestamp"
	TagOperationType      = "operation.type"
	TagOperationName      = "operation.name"
	TagOperationEntity    = "operation.entity_type"
	TagEntityType         = "entity.type"
	TagEntityID           = "entity.id"
	TagUserID             = "user.id"
	TagSpanKind           = "span.kind"
	TagBusinessOperation  = "business.operation"

	// Prefix is prepended to the keys of caller provided business tags.
	Prefix = "business."
)

// OperationTypeBusiness is the operation.type of nested and enhanced
// business spans.
const OperationTypeBusiness = "business"

// Helper starts business spans with a tracer and tags them with the service
// identity.
type Helper struct {
	tracer         *tracing.Tracer
	serviceName    string
	serviceVersion string
	clock          func() time.Time
}

// Opt is a type for options that can be passed to New.
type Opt func(*Helper)

func WithServiceName(name string) Opt {
	return func(h *Helper) {
		h.serviceName = name
	}
}

func WithServiceVersion(version string) Opt {
	return func(h *Helper) {
		h.serviceVersion = version
	}
}

// WithClock replaces time.Now as source of event and operation timestamps.
func WithClock(fn func() time.Time) Opt {
	return func(h *Helper) {
		h.clock = fn
	}
}

// New returns a Helper that starts spans with tracer.
func New(tracer *tracing.Tracer, opts ...Opt) *Helper {
	h := Helper{
		tracer:         tracer,
		serviceName:    DefaultServiceName,
		serviceVersion: DefaultServiceVersion,
		clock:          time.Now,
	}

	for _, opt := range opts {
		opt(&h)
	}

	return &h
}

func (h *Helper) timestamp() string {
	return h.clock().UTC().Format(time.RFC3339Nano)
}

type spanConfig struct {
	kind     tracing.Kind
	entityID *int64
	userID   *int64
	tags     []tracing.Tag
}

// SpanOpt is a type for options that can be passed to the Start methods.
type SpanOpt func(*spanConfig)

// WithEntityID sets the id of the entity the operation works on.
func WithEntityID(id int64) SpanOpt {
	return func(c *spanConfig) {
		c.entityID = &id
	}
}

// WithUserID sets the id of the user that runs the operation.
func WithUserID(id int64) SpanOpt {
	return func(c *spanConfig) {
		c.userID = &id
	}
}

// WithKind sets the kind of the span, the default is tracing.KindInternal.
func WithKind(kind tracing.Kind) SpanOpt {
	return func(c *spanConfig) {
		c.kind = kind
	}
}

// WithBusinessTags adds tags to spans started by StartEnhancedBusinessSpan,
// the keys are prefixed with Prefix.
func WithBusinessTags(tags ...tracing.Tag) SpanOpt {
	return func(c *spanConfig) {
		c.tags = append(c.tags, tags...)
	}
}

func newSpanConfig(opts []SpanOpt) *spanConfig {
	var cfg spanConfig

	for _, opt := range opts {
		opt(&cfg)
	}

	return &cfg
}

// enrich sets the service identity and the operation timestamp on span.
func (h *Helper) enrich(span *tracing.Span, userID *int64) {
	span.SetTags(
		tracing.String(TagServiceName, h.serviceName),
		tracing.String(TagServiceVersion, h.serviceVersion),
		tracing.String(TagOperationTimestamp, h.timestamp()),
	)

	if userID != nil {
		span.SetTag(tracing.Int64(TagUserID, *userID))
	}
}

// StartBusinessSpan starts a span called "{entityType}.{operationType}" as
// child of the current span of ctx.
func (h *Helper) StartBusinessSpan(ctx context.Context, operationType, entityType string, opts ...SpanOpt) (*tracing.Span, context.Context) {
	cfg := newSpanConfig(opts)

	span, ctx := h.tracer.StartSpan(ctx, entityType+"."+operationType, tracing.WithKind(cfg.kind))
	h.enrich(span, cfg.userID)

	span.SetTags(
		tracing.String(TagOperationType, operationType),
		tracing.String(TagEntityType, entityType),
	)

	if cfg.entityID != nil {
		span.SetTag(tracing.Int64(TagEntityID, *cfg.entityID))
	}

	return span, ctx
}

// StartNestedSpan starts a span called "{entityType}.{operationName}" for a
// step of a business operation.
func (h *Helper) StartNestedSpan(ctx context.Context, operationName, entityType string, opts ...SpanOpt) (*tracing.Span, context.Context) {
	cfg := newSpanConfig(opts)

	span, ctx := h.tracer.StartSpan(ctx, entityType+"."+operationName, tracing.WithKind(cfg.kind))
	span.SetTags(
		tracing.String(TagOperationType, OperationTypeBusiness),
		tracing.String(TagOperationEntity, entityType),
		tracing.String(TagOperationName, operationName),
		tracing.String(TagSpanKind, cfg.kind.String()),
	)
	h.enrich(span, cfg.userID)

	return span, ctx
}

// StartEnhancedBusinessSpan starts a span like StartNestedSpan, the entity
// id is recorded as "{entityType}.id" and tags passed via WithBusinessTags
// are added with Prefix.
func (h *Helper) StartEnhancedBusinessSpan(ctx context.Context, operationType, entityType string, opts ...SpanOpt) (*tracing.Span, context.Context) {
	cfg := newSpanConfig(opts)

	span, ctx := h.tracer.StartSpan(ctx, entityType+"."+operationType, tracing.WithKind(cfg.kind))
	span.SetTags(
		tracing.String(TagOperationType, OperationTypeBusiness),
		tracing.String(TagOperationEntity, entityType),
		tracing.String(TagOperationName, operationType),
	)

	if cfg.entityID != nil {
		span.SetTag(tracing.Int64(entityType+".id", *cfg.entityID))
	}

	span.SetTags(prefixed(cfg.tags)...)
	h.enrich(span, cfg.userID)

	return span, ctx
}

func prefixed(tags []tracing.Tag) []tracing.Tag {
	if len(tags) == 0 {
		return nil
	}

	result := make([]tracing.Tag, 0, len(tags))
	for _, tag := range tags {
		result = append(result, tracing.Tag{Key: Prefix + tag.Key, Value: tag.Value})
	}

	return result
}
