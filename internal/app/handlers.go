package app

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/simplesurance/biztracing/bizerr"
	"github.com/simplesurance/biztracing/business"
	"github.com/simplesurance/biztracing/httpmw"
	"github.com/simplesurance/biztracing/principal"
	"github.com/simplesurance/biztracing/tracing"
)

type handlers struct {
	store  Store
	biz    *business.Helper
	logger *zap.Logger
}

// userID returns the application id of the authenticated user, "" for
// anonymous requests.
func userID(ctx context.Context) string {
	p := principal.FromContext(ctx)
	if p == nil {
		return ""
	}

	if p.DomainID != "" {
		return p.DomainID
	}

	return p.Subject
}

func (h *handlers) health(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = w.Write([]byte("ok"))
}

func (h *handlers) listCategories(w http.ResponseWriter, r *http.Request) error {
	span, ctx := h.biz.StartBusinessSpan(r.Context(), "list", "category")
	defer span.End()

	categories, err := h.store.Categories(ctx, userID(ctx))
	if err != nil {
		h.biz.RecordError(ctx, err, "category.list")
		h.biz.RecordOutcome(span, "category_list", false)
		return err
	}

	h.biz.AddDatabaseEvent(ctx, "SELECT", "categories", int64(len(categories)))
	h.biz.RecordOutcome(span, "category_list", true, tracing.Int("count", len(categories)))
	span.SetStatus(tracing.StatusOK, "")

	return h.writeJSON(w, http.StatusOK, categories)
}

func (h *handlers) getOperation(w http.ResponseWriter, r *http.Request) error {
	id, err := pathID(r)
	if err != nil {
		return err
	}

	var op *Operation

	err = h.biz.Operation(r.Context(), "get", "operation", func(ctx context.Context) error {
		var err error

		op, err = h.store.Operation(ctx, userID(ctx), id)
		return err
	}, business.WithEntityID(id))
	if err != nil {
		return err
	}

	return h.writeJSON(w, http.StatusOK, op)
}

func (h *handlers) deleteOperation(w http.ResponseWriter, r *http.Request) error {
	id, err := pathID(r)
	if err != nil {
		return err
	}

	span, ctx := h.biz.StartEnhancedBusinessSpan(r.Context(), "delete", "operation",
		business.WithEntityID(id),
		business.WithBusinessTags(tracing.String("user_id", userID(r.Context()))),
	)
	defer span.End()

	h.biz.EnrichCurrent(ctx, "operation_delete_started", tracing.Int64("operation_id", id))

	if err := h.validateDelete(ctx, span, id); err != nil {
		h.biz.RecordError(ctx, err, "operation.delete")
		h.biz.RecordOutcome(span, "operation_delete", false)
		return err
	}

	h.biz.MirrorEvent(ctx, span, "DatabaseDelete")

	if err := h.store.DeleteOperation(ctx, userID(ctx), id); err != nil {
		h.biz.RecordError(ctx, err, "operation.delete")
		h.biz.RecordOutcome(span, "operation_delete", false)
		return err
	}

	h.biz.AddDatabaseEvent(ctx, "UPDATE", "operations", 1)
	h.biz.RecordOutcome(span, "operation_delete", true, tracing.Int64("operation_id", id))
	span.SetStatus(tracing.StatusOK, "")

	w.WriteHeader(http.StatusNoContent)

	return nil
}

// validateDelete runs in a nested span, its events are mirrored to the
// enclosing operation span.
func (h *handlers) validateDelete(ctx context.Context, opSpan *tracing.Span, id int64) error {
	span, ctx := h.biz.StartNestedSpan(ctx, "validate", "operation")
	defer span.End()

	h.biz.MirrorEvent(ctx, opSpan, "ValidationStart")

	if id <= 0 {
		h.biz.AddValidationEvent(ctx, "operation", false, "id must be positive")
		return bizerr.IncorrectDataf("invalid operation id %d", id)
	}

	h.biz.AddValidationEvent(ctx, "operation", true)
	h.biz.MirrorEvent(ctx, opSpan, "ValidationCompleted")

	return nil
}

func pathID(r *http.Request) (int64, error) {
	raw := mux.Vars(r)["id"]

	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, bizerr.Wrap(bizerr.IncorrectData, err, "invalid id "+strconv.Quote(raw))
	}

	return id, nil
}

func (h *handlers) writeJSON(w http.ResponseWriter, status int, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Length", strconv.Itoa(len(b)))
	w.WriteHeader(status)

	if _, err := w.Write(b); err != nil {
		h.logger.Debug("writing response failed", zap.Error(err))
	}

	return nil
}

// errorStatus returns the HTTP status code for a handler error.
func errorStatus(err error) int {
	switch bizerr.KindOf(err) {
	case bizerr.NotFound:
		return http.StatusNotFound
	case bizerr.EntityExists:
		return http.StatusConflict
	case bizerr.Permission:
		return http.StatusForbidden
	case bizerr.Business:
		return http.StatusUnprocessableEntity
	case bizerr.IncorrectData:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// handle returns a handler that runs fn in the request span of mw and
// converts its error into a response.
func (h *handlers) handle(mw *httpmw.Middleware, fn httpmw.HandlerFunc) http.Handler {
	wrapped := mw.WrapFunc(fn)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		err := wrapped(w, r)
		if err == nil {
			return
		}

		status := errorStatus(err)
		msg := err.Error()
		if status == http.StatusInternalServerError {
			msg = http.StatusText(status)
		}

		_ = h.writeJSON(w, status, map[string]string{"error": msg})
	})
}
