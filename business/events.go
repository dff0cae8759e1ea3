package business

import (
	"context"
	"strings"

	"github.com/simplesurance/biztracing/tracing"
)

const (
	EventOperationStart = "BusinessOperationStart"
	EventOperationEnd   = "BusinessOperationEnd"
	EventValidation     = "Validation"
	EventDatabase       = "DatabaseOperation"
)

const (
	TagEventType      = "event.type"
	TagEventSource    = "event.source"
	TagEventTimestamp = "event.timestamp"

	TagOperationSuccess = "operation.success"

	TagValidationEntityType = "validation.entity_type"
	TagValidationIsValid    = "validation.is_valid"
	TagValidationErrors     = "validation.errors"

	TagDBOperation       = "db.operation"
	TagDBTable           = "db.table"
	TagDBRecordsAffected = "db.records_affected"

	TagBusinessOperationType = "business.operation_type"
	TagBusinessSuccess       = "business.success"
)

const (
	eventTypeOperationStart = "business_operation_start"
	eventTypeOperationEnd   = "business_operation_end"
	eventTypeValidation     = "validation"
	eventTypeDatabase       = "database"
	eventTypeEnrichment     = "business_enrichment"
	eventTypeOperation      = "business_operation"
)

// AddBusinessOperationStartEvent adds a BusinessOperationStart event to the
// current span of ctx.
func (h *Helper) AddBusinessOperationStartEvent(ctx context.Context, operationType string, details ...tracing.Tag) {
	tags := append([]tracing.Tag{
		tracing.String(TagOperationType, operationType),
		tracing.String(TagEventType, eventTypeOperationStart),
	}, details...)

	tracing.SpanFromContext(ctx).AddEvent(EventOperationStart, tags...)
}

// AddBusinessOperationEndEvent adds a BusinessOperationEnd event to the
// current span of ctx.
func (h *Helper) AddBusinessOperationEndEvent(ctx context.Context, operationType string, success bool, details ...tracing.Tag) {
	tags := append([]tracing.Tag{
		tracing.String(TagOperationType, operationType),
		tracing.String(TagEventType, eventTypeOperationEnd),
		tracing.Bool(TagOperationSuccess, success),
	}, details...)

	tracing.SpanFromContext(ctx).AddEvent(EventOperationEnd, tags...)
}

// AddValidationEvent adds a Validation event to the current span of ctx.
func (h *Helper) AddValidationEvent(ctx context.Context, entityType string, valid bool, errs ...string) {
	tags := []tracing.Tag{
		tracing.String(TagValidationEntityType, entityType),
		tracing.Bool(TagValidationIsValid, valid),
		tracing.String(TagEventType, eventTypeValidation),
	}

	if len(errs) > 0 {
		tags = append(tags, tracing.String(TagValidationErrors, strings.Join(errs, ", ")))
	}

	tracing.SpanFromContext(ctx).AddEvent(EventValidation, tags...)
}

// AddDatabaseEvent adds a DatabaseOperation event to the current span of ctx.
// A negative recordsAffected is omitted.
func (h *Helper) AddDatabaseEvent(ctx context.Context, operation, table string, recordsAffected int64) {
	tags := []tracing.Tag{
		tracing.String(TagDBOperation, operation),
		tracing.String(TagDBTable, table),
		tracing.String(TagEventType, eventTypeDatabase),
	}

	if recordsAffected >= 0 {
		tags = append(tags, tracing.Int64(TagDBRecordsAffected, recordsAffected))
	}

	tracing.SpanFromContext(ctx).AddEvent(EventDatabase, tags...)
}

// AddEventToSpan adds an event to span, tagged with the service name as
// source and the current time.
func (h *Helper) AddEventToSpan(span *tracing.Span, name string, tags ...tracing.Tag) {
	if span == nil {
		return
	}

	span.AddEvent(name, h.sourced(tags)...)
}

func (h *Helper) sourced(tags []tracing.Tag) []tracing.Tag {
	result := make([]tracing.Tag, 0, len(tags)+2)
	result = append(result, tags...)

	return append(result,
		tracing.String(TagEventSource, h.serviceName),
		tracing.String(TagEventTimestamp, h.timestamp()),
	)
}

// MirrorEvent adds an event to the current span of ctx and, if it is a
// different span, to span.
// It is used to record an event on an enclosing span that is held
// explicitly while a nested span is current.
func (h *Helper) MirrorEvent(ctx context.Context, span *tracing.Span, name string, tags ...tracing.Tag) {
	current := tracing.SpanFromContext(ctx)
	current.AddEvent(name, tags...)

	if span != nil && span != current {
		h.AddEventToSpan(span, name, tags...)
	}
}

// EnrichCurrent adds an event with the given business details to the current
// span of ctx. The keys of details are prefixed with Prefix.
func (h *Helper) EnrichCurrent(ctx context.Context, eventName string, details ...tracing.Tag) {
	span := tracing.SpanFromContext(ctx)
	if span == nil {
		return
	}

	tags := append([]tracing.Tag{
		tracing.String(TagEventType, eventTypeEnrichment),
		tracing.String(TagEventSource, h.serviceName),
	}, prefixed(details)...)

	span.AddEvent(eventName, tags...)
}

// RecordOutcome adds a "{operationType}_completed" or
// "{operationType}_failed" event to span.
func (h *Helper) RecordOutcome(span *tracing.Span, operationType string, success bool, details ...tracing.Tag) {
	if span == nil {
		return
	}

	tags := append([]tracing.Tag{
		tracing.String(TagBusinessOperationType, operationType),
		tracing.Bool(TagBusinessSuccess, success),
		tracing.String(TagEventType, eventTypeOperation),
	}, prefixed(details)...)

	name := operationType + "_completed"
	if !success {
		name = operationType + "_failed"
	}

	h.AddEventToSpan(span, name, tags...)
}

// RecordError marks the current span of ctx as failed with err.
// operation is recorded as business.operation when it is not empty.
func (h *Helper) RecordError(ctx context.Context, err error, operation string) {
	span := tracing.SpanFromContext(ctx)
	if span == nil || err == nil {
		return
	}

	span.RecordError(err)

	if operation != "" {
		span.SetTag(tracing.String(TagBusinessOperation, operation))
	}
}

// Operation runs fn in a business span, see StartBusinessSpan. The span
// records a BusinessOperationEnd event and ends when fn returns or panics.
// The error of fn is returned unchanged.
func (h *Helper) Operation(
	ctx context.Context,
	operationType, entityType string,
	fn func(context.Context) error,
	opts ...SpanOpt,
) (err error) {
	span, ctx := h.StartBusinessSpan(ctx, operationType, entityType, opts...)

	h.AddBusinessOperationStartEvent(ctx, operationType)

	defer func() {
		if p := recover(); p != nil {
			h.RecordError(ctx, tracing.PanicError(p), entityType+"."+operationType)
			h.AddBusinessOperationEndEvent(ctx, operationType, false)
			span.End()
			panic(p)
		}

		if err != nil {
			h.RecordError(ctx, err, entityType+"."+operationType)
		} else {
			span.SetStatus(tracing.StatusOK, "")
		}

		h.AddBusinessOperationEndEvent(ctx, operationType, err == nil)
		span.End()
	}()

	return fn(ctx)
}
