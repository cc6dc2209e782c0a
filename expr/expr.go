// Package expr provides a typed expression tree that compiles to document-store
// aggregation expressions. Field references are relative to a prefix that is
// supplied at compile time, which lets the same expression be applied to a
// top-level field, to every element of a list, or to a value bound by a
// variable.
package expr

import (
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// Expr is a node of the expression tree.
type Expr interface {
	// Compile renders the expression. prefix is the reference the expression
	// is evaluated against, for example "$ground_truth.detections" or "$$this".
	// An empty prefix means the document root.
	Compile(prefix string) any
	String() string
	isExpr()
}

// Field references a path relative to the compile prefix. A path starting
// with "$" is absolute and ignores the prefix. The empty path refers to the
// prefix itself.
type Field struct {
	Path string
}

// Literal is a constant value.
type Literal struct {
	Value any
}

// Var references a variable such as "this" or "value".
type Var struct {
	Name string
}

// Call applies an operator like "$add" to its arguments.
type Call struct {
	Op   string
	Args []Expr
}

// Array is a list of expressions.
type Array struct {
	Items []Expr
}

// Object is an ordered document of expressions.
type Object struct {
	Keys   []string
	Values []Expr
}

// Map applies Body to every element of Input. Inside Body the prefix is the
// current element.
type Map struct {
	Input Expr
	Body  Expr
}

// Filter keeps the elements of Input for which Cond is true.
type Filter struct {
	Input Expr
	Cond  Expr
}

// Reduce folds Input into a single value starting from Init. Body sees the
// accumulator as Var{"value"} and the current element as its prefix.
type Reduce struct {
	Input Expr
	Init  Expr
	Body  Expr
}

// Apply evaluates Body with Input as its prefix.
type Apply struct {
	Input Expr
	Body  Expr
}

// Frozen wraps an expression whose field references are always relative to
// the document root. Prefix extraction does not look inside it.
type Frozen struct {
	X Expr
}

func (Field) isExpr()   {}
func (Literal) isExpr() {}
func (Var) isExpr()     {}
func (Call) isExpr()    {}
func (Array) isExpr()   {}
func (Object) isExpr()  {}
func (Map) isExpr()     {}
func (Filter) isExpr()  {}
func (Reduce) isExpr()  {}
func (Apply) isExpr()   {}
func (Frozen) isExpr()  {}

func (f Field) Compile(prefix string) any {
	switch {
	case strings.HasPrefix(f.Path, "$"):
		return f.Path
	case prefix == "" && f.Path == "":
		return "$$CURRENT"
	case prefix == "":
		return "$" + f.Path
	case f.Path == "":
		return prefix
	default:
		return prefix + "." + f.Path
	}
}

func (l Literal) Compile(prefix string) any {
	if s, ok := l.Value.(string); ok && strings.HasPrefix(s, "$") {
		return bson.D{{Key: "$literal", Value: s}}
	}
	return l.Value
}

func (v Var) Compile(prefix string) any {
	return "$$" + v.Name
}

func (c Call) Compile(prefix string) any {
	if len(c.Args) == 1 {
		if obj, ok := c.Args[0].(Object); ok {
			return bson.D{{Key: c.Op, Value: obj.Compile(prefix)}}
		}
	}
	args := make(bson.A, len(c.Args))
	for i, a := range c.Args {
		args[i] = compileOrNil(a, prefix)
	}
	return bson.D{{Key: c.Op, Value: args}}
}

func (a Array) Compile(prefix string) any {
	items := make(bson.A, len(a.Items))
	for i, it := range a.Items {
		items[i] = compileOrNil(it, prefix)
	}
	return items
}

func (o Object) Compile(prefix string) any {
	d := make(bson.D, 0, len(o.Keys))
	for i, k := range o.Keys {
		d = append(d, bson.E{Key: k, Value: compileOrNil(o.Values[i], prefix)})
	}
	return d
}

func (m Map) Compile(prefix string) any {
	return bson.D{{Key: "$map", Value: bson.D{
		{Key: "input", Value: compileOrNil(m.Input, prefix)},
		{Key: "as", Value: "this"},
		{Key: "in", Value: compileOrNil(m.Body, "$$this")},
	}}}
}

func (f Filter) Compile(prefix string) any {
	return bson.D{{Key: "$filter", Value: bson.D{
		{Key: "input", Value: compileOrNil(f.Input, prefix)},
		{Key: "as", Value: "this"},
		{Key: "cond", Value: compileOrNil(f.Cond, "$$this")},
	}}}
}

func (r Reduce) Compile(prefix string) any {
	return bson.D{{Key: "$reduce", Value: bson.D{
		{Key: "input", Value: compileOrNil(r.Input, prefix)},
		{Key: "initialValue", Value: compileOrNil(r.Init, prefix)},
		{Key: "in", Value: compileOrNil(r.Body, "$$this")},
	}}}
}

func (a Apply) Compile(prefix string) any {
	return bson.D{{Key: "$let", Value: bson.D{
		{Key: "vars", Value: bson.D{{Key: "expr", Value: compileOrNil(a.Input, prefix)}}},
		{Key: "in", Value: compileOrNil(a.Body, "$$expr")},
	}}}
}

func (f Frozen) Compile(prefix string) any {
	return compileOrNil(f.X, "")
}

func compileOrNil(e Expr, prefix string) any {
	if e == nil {
		return nil
	}
	return e.Compile(prefix)
}

func (f Field) String() string {
	return fmt.Sprintf("F(%q)", f.Path)
}

func (l Literal) String() string {
	if s, ok := l.Value.(string); ok {
		return fmt.Sprintf("%q", s)
	}
	return fmt.Sprintf("%v", l.Value)
}

func (v Var) String() string {
	return "$$" + v.Name
}

func (c Call) String() string {
	return c.Op + "(" + joinExprs(c.Args) + ")"
}

func (a Array) String() string {
	return "[" + joinExprs(a.Items) + "]"
}

func (o Object) String() string {
	var sb strings.Builder
	sb.WriteByte('{')
	for i, k := range o.Keys {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(k)
		sb.WriteString(": ")
		sb.WriteString(exprString(o.Values[i]))
	}
	sb.WriteByte('}')
	return sb.String()
}

func (m Map) String() string {
	return exprString(m.Input) + ".map(" + exprString(m.Body) + ")"
}

func (f Filter) String() string {
	return exprString(f.Input) + ".filter(" + exprString(f.Cond) + ")"
}

func (r Reduce) String() string {
	return exprString(r.Input) + ".reduce(" + exprString(r.Body) + ", " + exprString(r.Init) + ")"
}

func (a Apply) String() string {
	return exprString(a.Input) + ".apply(" + exprString(a.Body) + ")"
}

func (f Frozen) String() string {
	return "frozen(" + exprString(f.X) + ")"
}

func exprString(e Expr) string {
	if e == nil {
		return "null"
	}
	return e.String()
}

func joinExprs(list []Expr) string {
	parts := make([]string, len(list))
	for i, e := range list {
		parts[i] = exprString(e)
	}
	return strings.Join(parts, ", ")
}
