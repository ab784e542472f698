package classad

import (
	"slices"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/ast"
	"github.com/expr-lang/expr/vm"
)

const maxEvalDepth = 32

// refSet records the attribute references of a compiled expression so an
// environment only carries what the expression reads.
type refSet struct {
	names     []string
	my        []string
	target    []string
	allMy     bool
	allTarget bool
}

func (r *refSet) add(list *[]string, name string) {
	if !slices.Contains(*list, name) {
		*list = append(*list, name)
	}
}

// identFolder folds identifiers and member names to lower case, turns the
// ad keywords true, false and undefined into literals, and collects
// references.
type identFolder struct {
	refs *refSet
}

func (v *identFolder) Visit(node *ast.Node) {
	switch n := (*node).(type) {
	case *ast.IdentifierNode:
		name := fold(n.Value)
		switch name {
		case "true", "false":
			ast.Patch(node, &ast.BoolNode{Value: name == "true"})
			return
		case "undefined":
			ast.Patch(node, &ast.NilNode{})
			return
		}
		n.Value = name
		if name != "my" && name != "target" {
			v.refs.add(&v.refs.names, name)
		}
	case *ast.MemberNode:
		prop, isStr := n.Property.(*ast.StringNode)
		if isStr {
			prop.Value = fold(prop.Value)
		}
		id, ok := n.Node.(*ast.IdentifierNode)
		if !ok {
			return
		}
		switch id.Value {
		case "my":
			if isStr {
				v.refs.add(&v.refs.my, prop.Value)
			} else {
				v.refs.allMy = true
			}
		case "target":
			if isStr {
				v.refs.add(&v.refs.target, prop.Value)
			} else {
				v.refs.allTarget = true
			}
		}
	}
}

var builtins = []expr.Option{
	expr.Function("isundefined", func(params ...any) (any, error) {
		return params[0] == nil, nil
	}),
	expr.Function("ifthenelse", func(params ...any) (any, error) {
		b, _ := params[0].(bool)
		if b {
			return params[1], nil
		}
		return params[2], nil
	}),
	expr.Function("member", func(params ...any) (any, error) {
		list, _ := params[1].([]any)
		for _, x := range list {
			if x == params[0] {
				return true, nil
			}
		}
		return false, nil
	}),
}

func compile(src, exprSrc string) (*Expr, error) {
	refs := &refSet{}
	opts := append([]expr.Option{
		expr.AllowUndefinedVariables(),
		expr.Patch(&identFolder{refs: refs}),
	}, builtins...)
	prog, err := expr.Compile(exprSrc, opts...)
	if err != nil {
		return nil, &ParseError{Msg: "expression " + src + ": " + err.Error()}
	}
	return &Expr{kind: ExprKind, src: src, prog: prog, refs: refs}, nil
}

func (e *Expr) eval(my, target *Ad) (any, error) {
	return e.evalDepth(my, target, 0)
}

func (e *Expr) evalDepth(my, target *Ad, depth int) (any, error) {
	if e == nil {
		return nil, nil
	}
	if e.kind != ExprKind {
		return e.value(), nil
	}
	if depth > maxEvalDepth {
		return nil, errorf("evaluation of %q is too deep", e.src)
	}
	env := make(map[string]any, len(e.refs.names)+2)
	for _, n := range e.refs.names {
		switch {
		case my.Lookup(n) != nil:
			env[n] = attrValue(my, n, my, target, depth)
		case target.Lookup(n) != nil:
			env[n] = attrValue(target, n, target, my, depth)
		}
	}
	env["my"] = sideEnv(my, target, e.refs.my, e.refs.allMy, depth)
	env["target"] = sideEnv(target, my, e.refs.target, e.refs.allTarget, depth)
	return vm.Run(e.prog, env)
}

func sideEnv(side, other *Ad, names []string, all bool, depth int) map[string]any {
	if side == nil {
		return nil
	}
	if all {
		names = nil
		for _, n := range side.names {
			names = append(names, fold(n))
		}
	}
	m := make(map[string]any, len(names))
	for _, n := range names {
		if side.Lookup(n) != nil {
			m[n] = attrValue(side, n, side, other, depth)
		}
	}
	return m
}

func attrValue(ad *Ad, name string, my, target *Ad, depth int) any {
	x := ad.Lookup(name)
	if x == nil {
		return nil
	}
	v, err := x.evalDepth(my, target, depth+1)
	if err != nil {
		return nil
	}
	return v
}

// EvalExpr evaluates e with my as MY and target as TARGET.
// Either ad may be nil.
func EvalExpr(e *Expr, my, target *Ad) (any, error) {
	return e.eval(my, target)
}

// Eval evaluates the named attribute of a. A missing attribute evaluates
// to nil (undefined).
func (a *Ad) Eval(name string) (any, error) {
	return a.EvalAgainst(name, nil)
}

// EvalAgainst evaluates the named attribute of a with target as TARGET.
func (a *Ad) EvalAgainst(name string, target *Ad) (any, error) {
	x := a.Lookup(name)
	if x == nil {
		return nil, nil
	}
	return x.eval(a, target)
}

func (a *Ad) EvalString(name string) (string, bool) {
	v, err := a.Eval(name)
	if err != nil {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func (a *Ad) EvalBool(name string) (bool, bool) {
	v, err := a.Eval(name)
	if err != nil {
		return false, false
	}
	b, ok := v.(bool)
	return b, ok
}

func (a *Ad) EvalInt(name string) (int64, bool) {
	v, err := a.Eval(name)
	if err != nil {
		return 0, false
	}
	return toInt(v)
}

// EvalAd returns the nested ad bound to name. The ad is not copied.
func (a *Ad) EvalAd(name string) (*Ad, bool) {
	return a.Lookup(name).Ad()
}

// EvalStringList returns the strings of a list-valued attribute.
func (a *Ad) EvalStringList(name string) ([]string, bool) {
	v, err := a.Eval(name)
	if err != nil {
		return nil, false
	}
	list, ok := v.([]any)
	if !ok {
		return nil, false
	}
	res := make([]string, 0, len(list))
	for _, x := range list {
		s, ok := x.(string)
		if !ok {
			return nil, false
		}
		res = append(res, s)
	}
	return res, true
}

func toInt(v any) (int64, bool) {
	switch x := v.(type) {
	case int:
		return int64(x), true
	case int64:
		return x, true
	case int32:
		return int64(x), true
	}
	return 0, false
}

// ToFloat converts a numeric evaluation result to float64.
func ToFloat(v any) (float64, bool) {
	if i, ok := toInt(v); ok {
		return float64(i), true
	}
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	}
	return 0, false
}

// Match reports whether target satisfies my's Requirements. An ad without
// Requirements matches everything; an evaluation error or a non-boolean
// result does not match.
func Match(my, target *Ad) bool {
	req := my.Lookup("Requirements")
	if req == nil {
		return true
	}
	v, err := req.eval(my, target)
	if err != nil {
		return false
	}
	b, ok := v.(bool)
	return ok && b
}
