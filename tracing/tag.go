package tracing

import (
	"strconv"
)

// ValueType identifies the scalar stored in a Value.
type ValueType int

const (
	TypeString ValueType = iota
	TypeInt64
	TypeFloat64
	TypeBool
)

// Value is a tag or event value. Only scalars can be stored, so nothing that
// can't be represented by a trace collector ends up in the exported data.
type Value struct {
	typ ValueType
	s   string
	n   int64
	f   float64
	b   bool
}

// Tag is a key/value annotation of a span or event.
type Tag struct {
	Key   string
	Value Value
}

func String(k, v string) Tag {
	return Tag{Key: k, Value: Value{typ: TypeString, s: v}}
}

func Int(k string, v int) Tag {
	return Int64(k, int64(v))
}

func Int64(k string, v int64) Tag {
	return Tag{Key: k, Value: Value{typ: TypeInt64, n: v}}
}

func Float64(k string, v float64) Tag {
	return Tag{Key: k, Value: Value{typ: TypeFloat64, f: v}}
}

func Bool(k string, v bool) Tag {
	return Tag{Key: k, Value: Value{typ: TypeBool, b: v}}
}

// Type returns the type of the stored scalar.
func (v Value) Type() ValueType {
	return v.typ
}

func (v Value) AsString() string { return v.s }

func (v Value) AsInt64() int64 { return v.n }

func (v Value) AsFloat64() float64 { return v.f }

func (v Value) AsBool() bool { return v.b }

// Interface returns the stored scalar as string, int64, float64 or bool.
func (v Value) Interface() any {
	switch v.typ {
	case TypeInt64:
		return v.n
	case TypeFloat64:
		return v.f
	case TypeBool:
		return v.b
	default:
		return v.s
	}
}

// String renders the value, independent of its type.
func (v Value) String() string {
	switch v.typ {
	case TypeInt64:
		return strconv.FormatInt(v.n, 10)
	case TypeFloat64:
		return strconv.FormatFloat(v.f, 'f', -1, 64)
	case TypeBool:
		return strconv.FormatBool(v.b)
	default:
		return v.s
	}
}

// Tags is an ordered set of tags. Setting an existing key replaces its value
// but keeps the position of the first write.
// The zero value is ready to use.
type Tags struct {
	list  []Tag
	index map[string]int
}

// Set adds or replaces the tag.
func (t *Tags) Set(tag Tag) {
	if t.index == nil {
		t.index = map[string]int{}
	}

	if i, exist := t.index[tag.Key]; exist {
		t.list[i].Value = tag.Value
		return
	}

	t.index[tag.Key] = len(t.list)
	t.list = append(t.list, tag)
}

// Get returns the value stored for key.
func (t *Tags) Get(key string) (Value, bool) {
	i, exist := t.index[key]
	if !exist {
		return Value{}, false
	}

	return t.list[i].Value, true
}

// Len returns the number of distinct keys.
func (t *Tags) Len() int {
	return len(t.list)
}

// List returns a copy of the tags in insertion order.
func (t *Tags) List() []Tag {
	if len(t.list) == 0 {
		return nil
	}

	res := make([]Tag, len(t.list))
	copy(res, t.list)

	return res
}

// Map returns the tags as key to rendered value map.
func (t *Tags) Map() map[string]string {
	res := make(map[string]string, len(t.list))
	for _, tag := range t.list {
		res[tag.Key] = tag.Value.String()
	}

	return res
}
