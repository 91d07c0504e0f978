package pooldb

import (
	"sort"
)

// Field is one entry of a record, SET list or condition list. An entry with
// an empty Name is a raw SQL fragment taken verbatim (in an upsert update
// list it names a column whose new value comes from the insert record).
type Field struct {
	Name  string
	Value interface{}
}

// Fields keeps entries in the order statements are generated
type Fields []Field

// Eq is a named entry: a column value or an equality condition
func Eq(name string, value interface{}) Field {
	return Field{Name: name, Value: value}
}

// Fragment is a raw SQL piece used as is
func Fragment(sql string) Field {
	return Field{Value: sql}
}

// Column refers to a column of the insert record in an upsert update list
func Column(name string) Field {
	return Field{Value: name}
}

// FieldsOf converts a map into Fields sorted by name
func FieldsOf(m map[string]interface{}) Fields {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)

	fields := make(Fields, 0, len(names))
	for _, name := range names {
		fields = append(fields, Field{Name: name, Value: m[name]})
	}
	return fields
}

// Get returns the value of the first entry with the given name
func (f Fields) Get(name string) (interface{}, bool) {
	for _, field := range f {
		if field.Name != "" && field.Name == name {
			return field.Value, true
		}
	}
	return nil, false
}

// Params returns the named entries as bind parameters
func (f Fields) Params() Params {
	p := make(Params, len(f))
	for _, field := range f {
		if field.Name != "" {
			p[field.Name] = field.Value
		}
	}
	return p
}
