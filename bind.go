package pooldb

import (
	"sort"
)

// Params maps placeholder names (without the leading colon) to values
type Params map[string]interface{}

// Bind carries the parameters of one statement: either named or positional
type Bind struct {
	Named      Params
	Positional []interface{}
}

// Named binds values to :name placeholders
func Named(p Params) Bind {
	return Bind{Named: p}
}

// Positional binds values to ? placeholders in order
func Positional(args ...interface{}) Bind {
	return Bind{Positional: args}
}

// IsEmpty reports whether no parameter is bound
func (b Bind) IsEmpty() bool {
	return len(b.Named) == 0 && len(b.Positional) == 0
}

// IsPositional reports whether the bind is a positional list
func (b Bind) IsPositional() bool {
	return len(b.Positional) != 0
}

// Values returns the bound values in a form suitable for log records
func (b Bind) Values() interface{} {
	switch {
	case len(b.Positional) != 0:
		return b.Positional
	case len(b.Named) != 0:
		return map[string]interface{}(b.Named)
	default:
		return nil
	}
}

// Keys returns the named parameter names in sorted order
func (p Params) Keys() []string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (b Bind) copyNamed() Params {
	p := make(Params, len(b.Named))
	for k, v := range b.Named {
		p[k] = v
	}
	return p
}
