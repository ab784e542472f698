package classad

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/expr-lang/expr/vm"
)

// Kind is the kind of an expression.
type Kind int

const (
	UndefinedKind Kind = iota
	BoolKind
	IntKind
	RealKind
	StringKind
	ListKind
	AdKind
	ExprKind
)

func (k Kind) String() string {
	switch k {
	case UndefinedKind:
		return "undefined"
	case BoolKind:
		return "bool"
	case IntKind:
		return "int"
	case RealKind:
		return "real"
	case StringKind:
		return "string"
	case ListKind:
		return "list"
	case AdKind:
		return "ad"
	case ExprKind:
		return "expr"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Expr is an attribute value: a literal or a compiled expression.
// Expressions are immutable once built and may be evaluated concurrently.
type Expr struct {
	kind Kind
	b    bool
	i    int64
	r    float64
	s    string
	list []*Expr
	ad   *Ad

	// ExprKind only
	src  string
	prog *vm.Program
	refs *refSet
}

func Undefined() *Expr          { return &Expr{kind: UndefinedKind} }
func Bool(b bool) *Expr         { return &Expr{kind: BoolKind, b: b} }
func Int(i int64) *Expr         { return &Expr{kind: IntKind, i: i} }
func Real(r float64) *Expr      { return &Expr{kind: RealKind, r: r} }
func String(s string) *Expr     { return &Expr{kind: StringKind, s: s} }
func List(es ...*Expr) *Expr    { return &Expr{kind: ListKind, list: es} }
func AdValue(ad *Ad) *Expr      { return &Expr{kind: AdKind, ad: ad} }
func (e *Expr) Kind() Kind      { return e.kind }
func (e *Expr) IsLiteral() bool { return e.kind != ExprKind }

// StringList builds a list of string literals.
func StringList(ss []string) *Expr {
	es := make([]*Expr, len(ss))
	for i, s := range ss {
		es[i] = String(s)
	}
	return List(es...)
}

// Ad returns the nested ad of an AdKind expression.
func (e *Expr) Ad() (*Ad, bool) {
	if e == nil || e.kind != AdKind {
		return nil, false
	}
	return e.ad, true
}

// Items returns the elements of a ListKind expression.
func (e *Expr) Items() ([]*Expr, bool) {
	if e == nil || e.kind != ListKind {
		return nil, false
	}
	return e.list, true
}

// Copy returns a deep copy. Compiled programs are shared.
func (e *Expr) Copy() *Expr {
	if e == nil {
		return nil
	}
	c := *e
	switch e.kind {
	case ListKind:
		c.list = make([]*Expr, len(e.list))
		for i, x := range e.list {
			c.list[i] = x.Copy()
		}
	case AdKind:
		c.ad = e.ad.Copy()
	}
	return &c
}

// String unparses the expression.
func (e *Expr) String() string {
	var b strings.Builder
	e.unparse(&b)
	return b.String()
}

func (e *Expr) unparse(b *strings.Builder) {
	if e == nil {
		b.WriteString("undefined")
		return
	}
	switch e.kind {
	case UndefinedKind:
		b.WriteString("undefined")
	case BoolKind:
		b.WriteString(strconv.FormatBool(e.b))
	case IntKind:
		b.WriteString(strconv.FormatInt(e.i, 10))
	case RealKind:
		b.WriteString(formatReal(e.r))
	case StringKind:
		b.WriteString(strconv.Quote(e.s))
	case ListKind:
		b.WriteByte('{')
		for i, x := range e.list {
			if i > 0 {
				b.WriteString(", ")
			}
			x.unparse(b)
		}
		b.WriteByte('}')
	case AdKind:
		e.ad.unparse(b)
	case ExprKind:
		b.WriteString(e.src)
	}
}

func formatReal(r float64) string {
	s := strconv.FormatFloat(r, 'g', -1, 64)
	if !math.IsInf(r, 0) && !math.IsNaN(r) && !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	return s
}

// FromValue converts an evaluation result or a plain Go value into a
// literal expression.
func FromValue(v any) (*Expr, error) {
	switch x := v.(type) {
	case nil:
		return Undefined(), nil
	case *Expr:
		return x, nil
	case bool:
		return Bool(x), nil
	case int:
		return Int(int64(x)), nil
	case int8:
		return Int(int64(x)), nil
	case int16:
		return Int(int64(x)), nil
	case int32:
		return Int(int64(x)), nil
	case int64:
		return Int(x), nil
	case uint:
		return Int(int64(x)), nil
	case uint8:
		return Int(int64(x)), nil
	case uint16:
		return Int(int64(x)), nil
	case uint32:
		return Int(int64(x)), nil
	case uint64:
		return Int(int64(x)), nil
	case float32:
		return Real(float64(x)), nil
	case float64:
		return Real(x), nil
	case string:
		return String(x), nil
	case []string:
		return StringList(x), nil
	case []any:
		es := make([]*Expr, len(x))
		for i, y := range x {
			e, err := FromValue(y)
			if err != nil {
				return nil, err
			}
			es[i] = e
		}
		return List(es...), nil
	case *Ad:
		return AdValue(x), nil
	case map[string]any:
		ad := New()
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			e, err := FromValue(x[k])
			if err != nil {
				return nil, err
			}
			ad.Insert(k, e)
		}
		return AdValue(ad), nil
	default:
		return nil, fmt.Errorf("cannot convert %T to an ad value", v)
	}
}

// value converts a literal to the representation used in evaluation
// environments.
func (e *Expr) value() any {
	switch e.kind {
	case BoolKind:
		return e.b
	case IntKind:
		return int(e.i)
	case RealKind:
		return e.r
	case StringKind:
		return e.s
	case ListKind:
		vs := make([]any, len(e.list))
		for i, x := range e.list {
			if x.kind == ExprKind {
				v, err := x.eval(nil, nil)
				if err == nil {
					vs[i] = v
				}
				continue
			}
			vs[i] = x.value()
		}
		return vs
	case AdKind:
		return e.ad.toMap()
	}
	return nil
}
