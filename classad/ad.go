package classad

import (
	"strings"
)

// Ad is an ordered, case-insensitive attribute/value record.
// An Ad is not safe for concurrent mutation.
type Ad struct {
	names []string
	attrs map[string]*Expr
}

// New returns an empty ad.
func New() *Ad {
	return &Ad{attrs: map[string]*Expr{}}
}

func fold(name string) string {
	return strings.ToLower(name)
}

// Insert sets name to e, replacing any previous value. The spelling of
// the first insertion is kept.
func (a *Ad) Insert(name string, e *Expr) {
	if e == nil {
		e = Undefined()
	}
	k := fold(name)
	if _, ok := a.attrs[k]; !ok {
		a.names = append(a.names, name)
	}
	a.attrs[k] = e
}

// InsertAttr sets name to the literal for a Go value.
func (a *Ad) InsertAttr(name string, v any) error {
	e, err := FromValue(v)
	if err != nil {
		return err
	}
	a.Insert(name, e)
	return nil
}

// Lookup returns the expression bound to name, or nil.
func (a *Ad) Lookup(name string) *Expr {
	if a == nil {
		return nil
	}
	return a.attrs[fold(name)]
}

// Delete removes name and reports whether it was present.
func (a *Ad) Delete(name string) bool {
	k := fold(name)
	if _, ok := a.attrs[k]; !ok {
		return false
	}
	delete(a.attrs, k)
	for i, n := range a.names {
		if fold(n) == k {
			a.names = append(a.names[:i], a.names[i+1:]...)
			break
		}
	}
	return true
}

// Names returns the attribute names in insertion order.
func (a *Ad) Names() []string {
	if a == nil {
		return nil
	}
	res := make([]string, len(a.names))
	copy(res, a.names)
	return res
}

func (a *Ad) Len() int {
	if a == nil {
		return 0
	}
	return len(a.names)
}

func (a *Ad) Clear() {
	a.names = nil
	a.attrs = map[string]*Expr{}
}

// Copy returns a deep copy of a.
func (a *Ad) Copy() *Ad {
	if a == nil {
		return nil
	}
	c := &Ad{
		names: make([]string, len(a.names)),
		attrs: make(map[string]*Expr, len(a.attrs)),
	}
	copy(c.names, a.names)
	for k, e := range a.attrs {
		c.attrs[k] = e.Copy()
	}
	return c
}

// Update copies every attribute of other into a, overwriting.
func (a *Ad) Update(other *Ad) {
	if other == nil {
		return
	}
	for _, n := range other.names {
		a.Insert(n, other.attrs[fold(n)].Copy())
	}
}

// Modify applies a modification ad. Replace (an ad) replaces the whole
// contents, Updates (an ad) overwrites attributes, and Deletes (a list of
// strings) removes attributes, in that order.
func (a *Ad) Modify(mod *Ad) error {
	if e := mod.Lookup("Replace"); e != nil {
		rep, ok := e.Ad()
		if !ok {
			return errorf("Replace must be an ad, got %s", e.Kind())
		}
		a.Clear()
		a.Update(rep)
	}
	if e := mod.Lookup("Updates"); e != nil {
		up, ok := e.Ad()
		if !ok {
			return errorf("Updates must be an ad, got %s", e.Kind())
		}
		a.Update(up)
	}
	if e := mod.Lookup("Deletes"); e != nil {
		items, ok := e.Items()
		if !ok {
			return errorf("Deletes must be a list, got %s", e.Kind())
		}
		names := make([]string, 0, len(items))
		for _, it := range items {
			if it.Kind() != StringKind {
				return errorf("Deletes must contain strings, got %s", it.Kind())
			}
			names = append(names, it.s)
		}
		for _, n := range names {
			a.Delete(n)
		}
	}
	return nil
}

// String returns the unparsed form of a.
func (a *Ad) String() string {
	return Unparse(a)
}

// Unparse renders an ad in the text syntax accepted by Parse.
func Unparse(a *Ad) string {
	var b strings.Builder
	a.unparse(&b)
	return b.String()
}

func (a *Ad) unparse(b *strings.Builder) {
	if a == nil || len(a.names) == 0 {
		b.WriteString("[ ]")
		return
	}
	b.WriteString("[ ")
	for i, n := range a.names {
		if i > 0 {
			b.WriteString("; ")
		}
		b.WriteString(n)
		b.WriteString(" = ")
		a.attrs[fold(n)].unparse(b)
	}
	b.WriteString(" ]")
}

// toMap returns the literal attributes of a keyed by folded name.
// Expression attributes are evaluated with a as MY.
func (a *Ad) toMap() map[string]any {
	m := make(map[string]any, len(a.attrs))
	for k, e := range a.attrs {
		if e.kind == ExprKind {
			v, err := e.eval(a, nil)
			if err == nil {
				m[k] = v
			}
			continue
		}
		m[k] = e.value()
	}
	return m
}
