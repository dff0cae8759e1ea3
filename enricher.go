package biztracing

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/simplesurance/biztracing/bizctx"
	"github.com/simplesurance/biztracing/tracing"
)

// CommandKind is the result shape of a database command.
type CommandKind string

const (
	// KindQuery is a command that returns rows.
	KindQuery CommandKind = "SELECT"
	// KindNonQuery is a command that returns the number of affected rows.
	KindNonQuery CommandKind = "MODIFY"
	// KindScalar is a command that returns a single value.
	KindScalar CommandKind = "SCALAR"
)

const (
	TagOperationType     = "db.operation_type"
	TagOperationSuccess  = "db.operation_success"
	TagOperationDuration = "db.operation_duration_ms"
	TagRecordsAffected   = "db.records_affected"
	TagErrorType         = "db.error_type"
	TagErrorCode         = "db.error_code"
	TagPrimaryEntity     = "business.primary_entity"
	TagCategory          = "business.category"
	TagPriority          = "business.priority"

	// EventOperationCompleted is recorded after every enriched command.
	EventOperationCompleted = "DatabaseOperationCompleted"

	failedOperationType = "FAILED"
)

// Command is a database command and its bound parameters.
type Command struct {
	Kind   CommandKind
	Text   string
	Params []bizctx.Param
}

// Enricher records the business context and the outcome of database
// commands on the current span of their context.
// Failures while enriching are logged and never reach the caller.
type Enricher struct {
	extractor  *bizctx.Extractor
	classifier ErrorClassifier
	logger     *zap.Logger
}

// NewEnricher returns an Enricher. Only the WithLogger, WithExtractor and
// WithErrorClassifier options are evaluated.
func NewEnricher(opts ...Opt) *Enricher {
	return newEnricher(newConfig(opts))
}

func newEnricher(cfg *config) *Enricher {
	return &Enricher{
		extractor:  cfg.extractor,
		classifier: cfg.classifier,
		logger:     cfg.logger,
	}
}

// Before tags the current span with the kind and the business context of
// cmd.
func (e *Enricher) Before(ctx context.Context, cmd Command) {
	span := tracing.SpanFromContext(ctx)
	if span == nil {
		return
	}

	defer e.recoverEnrichment("before", cmd)

	bctx := e.extractor.Extract(cmd.Text, cmd.Params, enclosingSpan(ctx))

	span.SetTag(tracing.String(TagOperationType, string(cmd.Kind)))
	span.SetTags(bctx.Tags()...)

	if entityType, ok := bctx.EntityType(); ok {
		span.SetTags(
			tracing.String(TagPrimaryEntity, entityType),
			tracing.String(TagCategory, bizctx.Category(entityType)),
		)
	}

	span.SetTag(tracing.String(TagPriority, string(bizctx.Priority(bctx))))
}

// AfterSuccess records the successful completion of cmd. rowsAffected is
// only recorded if it is not negative.
func (e *Enricher) AfterSuccess(ctx context.Context, cmd Command, elapsed time.Duration, rowsAffected int64) {
	span := tracing.SpanFromContext(ctx)
	if span == nil {
		return
	}

	defer e.recoverEnrichment("after-success", cmd)

	durationMs := milliseconds(elapsed)

	span.SetTags(
		tracing.Bool(TagOperationSuccess, true),
		tracing.Float64(TagOperationDuration, durationMs),
	)

	evTags := []tracing.Tag{
		tracing.String("operation_type", string(cmd.Kind)),
		tracing.Bool("success", true),
		tracing.Float64("duration_ms", durationMs),
	}

	if rowsAffected >= 0 {
		span.SetTag(tracing.Int64(TagRecordsAffected, rowsAffected))
		evTags = append(evTags, tracing.Int64("records_affected", rowsAffected))
	}

	span.AddEvent(EventOperationCompleted, evTags...)

	if ce := e.logger.Check(zap.DebugLevel, "database operation completed"); ce != nil {
		fields := []zap.Field{
			zap.String("operation_type", string(cmd.Kind)),
			zap.Duration("duration", elapsed),
			zap.Bool("success", true),
		}

		if rowsAffected >= 0 {
			fields = append(fields, zap.Int64("records_affected", rowsAffected))
		}

		ce.Write(fields...)
	}
}

// AfterFailure records that cmd failed with err.
func (e *Enricher) AfterFailure(ctx context.Context, cmd Command, elapsed time.Duration, err error) {
	span := tracing.SpanFromContext(ctx)
	if span == nil {
		return
	}

	defer e.recoverEnrichment("after-failure", cmd)

	durationMs := milliseconds(elapsed)
	errType := e.classifier(err)

	span.SetTags(
		tracing.Bool(TagOperationSuccess, false),
		tracing.Float64(TagOperationDuration, durationMs),
		tracing.String(TagErrorType, errType),
	)

	if code, ok := errorCode(err); ok {
		span.SetTag(tracing.String(TagErrorCode, code))
	}

	span.AddEvent(EventOperationCompleted,
		tracing.String("operation_type", failedOperationType),
		tracing.Bool("success", false),
		tracing.Float64("duration_ms", durationMs),
		tracing.String("error_message", err.Error()),
		tracing.String("error_type", errType),
	)

	e.logger.Warn("database operation failed",
		zap.String("operation_type", string(cmd.Kind)),
		zap.Duration("duration", elapsed),
		zap.String("error_type", errType),
		zap.Error(err),
	)
}

func (e *Enricher) recoverEnrichment(stage string, cmd Command) {
	if p := recover(); p != nil {
		e.logger.Warn("enriching span with business context failed",
			zap.String("stage", stage),
			zap.String("operation_type", string(cmd.Kind)),
			zap.Error(tracing.PanicError(p)),
		)
	}
}

func milliseconds(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
