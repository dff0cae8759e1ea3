// Package pgxtrace records the business context of commands executed via
// pgx connections and pools.
package pgxtrace

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/simplesurance/biztracing"
	"github.com/simplesurance/biztracing/bizctx"
)

var returningRe = regexp.MustCompile(`(?i)\bRETURNING\b`)

type queryKey struct{}

type queryState struct {
	cmd        biztracing.Command
	start      time.Time
	finishSpan func(error)
}

// Tracer implements pgx.QueryTracer.
// Assign it to pgx.ConnConfig.Tracer, for pools to
// pgxpool.Config.ConnConfig.Tracer.
type Tracer struct {
	enricher     *biztracing.Enricher
	commandSpans bool
}

// Opt is a type for options that can be passed to New.
type Opt func(*Tracer)

// WithCommandSpans enables recording a client span named
// biztracing.OpPgxQuery for every command.
func WithCommandSpans() Opt {
	return func(t *Tracer) {
		t.commandSpans = true
	}
}

// New returns a Tracer that enriches spans via enricher.
func New(enricher *biztracing.Enricher, opts ...Opt) *Tracer {
	t := Tracer{enricher: enricher}

	for _, opt := range opts {
		opt(&t)
	}

	return &t
}

func (t *Tracer) TraceQueryStart(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	st := queryState{
		cmd: biztracing.Command{
			Kind:   biztracing.KindFromContext(ctx, returnsRows(data.SQL)),
			Text:   data.SQL,
			Params: Params(data.Args),
		},
	}

	if t.commandSpans {
		st.finishSpan, ctx = biztracing.StartCommandSpan(ctx, biztracing.OpPgxQuery, data.SQL)
	}

	t.enricher.Before(ctx, st.cmd)
	st.start = time.Now()

	return context.WithValue(ctx, queryKey{}, &st)
}

func (t *Tracer) TraceQueryEnd(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryEndData) {
	st, ok := ctx.Value(queryKey{}).(*queryState)
	if !ok {
		return
	}

	elapsed := time.Since(st.start)

	if data.Err != nil {
		t.enricher.AfterFailure(ctx, st.cmd, elapsed, data.Err)
	} else {
		t.enricher.AfterSuccess(ctx, st.cmd, elapsed, rowsAffected(st.cmd.Kind, data))
	}

	if st.finishSpan != nil {
		st.finishSpan(data.Err)
	}
}

func rowsAffected(kind biztracing.CommandKind, data pgx.TraceQueryEndData) int64 {
	if kind != biztracing.KindNonQuery {
		return -1
	}

	return data.CommandTag.RowsAffected()
}

// returnsRows reports whether the statement is expected to return rows.
func returnsRows(sql string) bool {
	s := strings.ToUpper(strings.TrimSpace(sql))

	for _, prefix := range []string{"SELECT", "WITH", "VALUES", "SHOW", "TABLE"} {
		if strings.HasPrefix(s, prefix) {
			return true
		}
	}

	return returningRe.MatchString(s)
}

// Params converts the arguments of a pgx query to parameters.
// pgx.NamedArgs are converted to named parameters in name order, other
// arguments are named after their position ($1, $2, ...). Query options
// like pgx.QueryExecMode are skipped.
func Params(args []any) []bizctx.Param {
	if len(args) == 0 {
		return nil
	}

	res := make([]bizctx.Param, 0, len(args))
	pos := 0

	for _, arg := range args {
		switch a := arg.(type) {
		case pgx.NamedArgs:
			res = appendNamed(res, a)
		case pgx.StrictNamedArgs:
			res = appendNamed(res, a)
		case pgx.QueryExecMode, pgx.QueryResultFormats, pgx.QueryResultFormatsByOID:
		default:
			pos++
			res = append(res, bizctx.Param{Name: fmt.Sprintf("$%d", pos), Value: a})
		}
	}

	return res
}

func appendNamed(params []bizctx.Param, args map[string]any) []bizctx.Param {
	names := make([]string, 0, len(args))
	for name := range args {
		names = append(names, name)
	}

	sort.Strings(names)

	for _, name := range names {
		params = append(params, bizctx.Param{Name: name, Value: args[name]})
	}

	return params
}

var _ pgx.QueryTracer = &Tracer{}
