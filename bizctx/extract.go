// Package bizctx derives business context from database commands.
//
// The extraction is based on keyword matching, it does not parse SQL.
// Subqueries, CTEs and quoted identifiers are only partially recognized.
package bizctx

import (
	"database/sql/driver"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"time"

	"github.com/simplesurance/biztracing/tracing"
)

const (
	KeySQLOperation   = "db.sql_operation"
	KeyTables         = "db.tables"
	KeyParameterCount = "db.parameter_count"
	KeyOperationType  = "business.operation_type"
	KeyEntityTypes    = "business.entity_types"
	KeyEntityType     = "business.entity_type"
	KeyUserID         = "business.user_id"
	KeyCategoryID     = "business.category_id"
	KeyOperationID    = "business.operation_id"
	KeyAmount         = "business.amount"

	ParentPrefix           = "parent."
	KeyParentOperationName = ParentPrefix + "operation_name"
)

var (
	verbRe  = regexp.MustCompile(`(?i)^\s*(SELECT|INSERT|UPDATE|DELETE|MERGE)\b`)
	tableRe = regexp.MustCompile(`(?i)\b(?:FROM|JOIN|INTO|UPDATE)\s+([a-zA-Z_][a-zA-Z0-9_]*)`)
)

// Param is a bound parameter of a database command.
type Param struct {
	Name  string
	Value any
}

// Context is the business context of a single database command.
type Context struct {
	tags tracing.Tags
}

// Get returns the value of key.
func (c Context) Get(key string) (string, bool) {
	v, ok := c.tags.Get(key)
	if !ok {
		return "", false
	}

	return v.String(), true
}

// Len returns the number of entries.
func (c Context) Len() int {
	return c.tags.Len()
}

// Tags returns the entries as span tags, in the order they were derived.
func (c Context) Tags() []tracing.Tag {
	return c.tags.List()
}

// EntityType returns the entity type if the command accessed exactly one
// known entity type.
func (c Context) EntityType() (string, bool) {
	return c.Get(KeyEntityType)
}

// Extractor derives a business Context from database commands.
// An Extractor is immutable and safe for concurrent use.
type Extractor struct {
	tables  map[string]string
	actions map[string]string
}

// Opt is a type for options that can be passed to NewExtractor.
type Opt func(*Extractor)

// WithTableEntities adds table to entity type mappings, existing mappings
// for the same tables are replaced.
func WithTableEntities(m map[string]string) Opt {
	return func(e *Extractor) {
		for table, entity := range m {
			e.tables[strings.ToLower(table)] = entity
		}
	}
}

// NewExtractor returns an extractor that uses TableEntities and
// SQLVerbActions, extended by the passed options.
func NewExtractor(opts ...Opt) *Extractor {
	e := Extractor{
		tables:  make(map[string]string, len(TableEntities)),
		actions: make(map[string]string, len(SQLVerbActions)),
	}

	for k, v := range TableEntities {
		e.tables[k] = v
	}

	for k, v := range SQLVerbActions {
		e.actions[k] = v
	}

	for _, opt := range opts {
		opt(&e)
	}

	return &e
}

var defaultExtractor = NewExtractor()

// Extract derives the business context with the default Extractor.
func Extract(command string, params []Param, parent *tracing.Span) Context {
	return defaultExtractor.Extract(command, params, parent)
}

// EntityType returns the entity type stored in table.
func (e *Extractor) EntityType(table string) (string, bool) {
	entity, ok := e.tables[strings.ToLower(table)]
	return entity, ok
}

// Extract derives the business context of a database command from its text,
// its bound parameters and the tags of the parent span.
// parent can be nil.
// An empty command results in an empty Context.
func (e *Extractor) Extract(command string, params []Param, parent *tracing.Span) Context {
	var res Context

	if command == "" {
		return res
	}

	if m := verbRe.FindStringSubmatch(command); m != nil {
		verb := strings.ToUpper(m[1])

		res.tags.Set(tracing.String(KeySQLOperation, verb))
		if action, ok := e.actions[verb]; ok {
			res.tags.Set(tracing.String(KeyOperationType, action))
		}
	}

	tables := e.findTables(command)
	if len(tables) > 0 {
		res.tags.Set(tracing.String(KeyTables, strings.Join(tables, ",")))
	}

	entities := e.findEntities(tables)
	if len(entities) > 0 {
		res.tags.Set(tracing.String(KeyEntityTypes, strings.Join(entities, ",")))
	}

	if len(entities) == 1 {
		res.tags.Set(tracing.String(KeyEntityType, entities[0]))
	}

	if len(params) > 0 {
		res.tags.Set(tracing.Int(KeyParameterCount, len(params)))
	}

	for _, p := range params {
		key := paramKey(p.Name)
		if key == "" {
			continue
		}

		if v, ok := ParamString(p.Value); ok {
			res.tags.Set(tracing.String(key, v))
		}
	}

	if parent != nil {
		for _, tag := range parent.Tags() {
			if strings.HasPrefix(tag.Key, "business.") || strings.HasPrefix(tag.Key, "user.") {
				res.tags.Set(tracing.Tag{Key: ParentPrefix + tag.Key, Value: tag.Value})
			}
		}

		if name := parent.Name(); name != "" {
			res.tags.Set(tracing.String(KeyParentOperationName, name))
		}
	}

	return res
}

// findTables returns the lower-cased distinct table names in order of their
// first occurrence.
func (e *Extractor) findTables(command string) []string {
	matches := tableRe.FindAllStringSubmatch(command, -1)
	if len(matches) == 0 {
		return nil
	}

	res := make([]string, 0, len(matches))
	seen := make(map[string]struct{}, len(matches))

	for _, m := range matches {
		table := strings.ToLower(m[1])
		if _, exists := seen[table]; exists {
			continue
		}

		seen[table] = struct{}{}
		res = append(res, table)
	}

	return res
}

func (e *Extractor) findEntities(tables []string) []string {
	var res []string

	seen := make(map[string]struct{}, len(tables))

	for _, table := range tables {
		entity, ok := e.tables[table]
		if !ok {
			continue
		}

		if _, exists := seen[entity]; exists {
			continue
		}

		seen[entity] = struct{}{}
		res = append(res, entity)
	}

	return res
}

func paramKey(name string) string {
	name = strings.ToLower(name)

	switch {
	case strings.Contains(name, "userid"), strings.Contains(name, "user_id"):
		return KeyUserID
	case strings.Contains(name, "categoryid"), strings.Contains(name, "category_id"):
		return KeyCategoryID
	case strings.Contains(name, "operationid"), strings.Contains(name, "operation_id"):
		return KeyOperationID
	case strings.Contains(name, "sum"), strings.Contains(name, "amount"):
		return KeyAmount
	default:
		return ""
	}
}

// ParamString renders a parameter value. It returns false for null values:
// nil, nil pointers and driver.Valuers that return nil or fail.
func ParamString(v any) (string, bool) {
	if v == nil {
		return "", false
	}

	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return "", false
		}

		if valuer, ok := rv.Interface().(driver.Valuer); ok {
			return valuerString(valuer)
		}

		rv = rv.Elem()
	}

	v = rv.Interface()

	if valuer, ok := v.(driver.Valuer); ok {
		return valuerString(valuer)
	}

	switch x := v.(type) {
	case string:
		return x, true
	case []byte:
		if x == nil {
			return "", false
		}

		return string(x), true
	case time.Time:
		return x.Format(time.RFC3339Nano), true
	default:
		return fmt.Sprint(x), true
	}
}

func valuerString(valuer driver.Valuer) (string, bool) {
	dv, err := valuer.Value()
	if err != nil {
		return "", false
	}

	if _, isValuer := dv.(driver.Valuer); isValuer {
		return "", false
	}

	return ParamString(dv)
}
