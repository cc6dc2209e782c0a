package expr

import "math"

// F returns a field reference. F("") refers to the current prefix.
func F(path string) Field {
	return Field{Path: path}
}

// Lit wraps a constant.
func Lit(v any) Literal {
	return Literal{Value: v}
}

// V references a variable by name.
func V(name string) Var {
	return Var{Name: name}
}

// Op builds a call of an arbitrary operator.
func Op(op string, args ...Expr) Call {
	return Call{Op: op, Args: args}
}

// Arr builds an array expression.
func Arr(items ...Expr) Array {
	return Array{Items: items}
}

// Obj builds an object expression from alternating keys and values.
func Obj(pairs ...any) Object {
	var o Object
	for i := 0; i+1 < len(pairs); i += 2 {
		o.Keys = append(o.Keys, pairs[i].(string))
		o.Values = append(o.Values, toExpr(pairs[i+1]))
	}
	return o
}

func toExpr(v any) Expr {
	if e, ok := v.(Expr); ok {
		return e
	}
	return Lit(v)
}

func Add(a, b Expr) Call      { return Op("$add", a, b) }
func Subtract(a, b Expr) Call { return Op("$subtract", a, b) }
func Multiply(a, b Expr) Call { return Op("$multiply", a, b) }
func Divide(a, b Expr) Call   { return Op("$divide", a, b) }
func Eq(a, b Expr) Call       { return Op("$eq", a, b) }
func Ne(a, b Expr) Call       { return Op("$ne", a, b) }
func Gt(a, b Expr) Call       { return Op("$gt", a, b) }
func Gte(a, b Expr) Call      { return Op("$gte", a, b) }
func Lt(a, b Expr) Call       { return Op("$lt", a, b) }
func Lte(a, b Expr) Call      { return Op("$lte", a, b) }
func And(args ...Expr) Call   { return Op("$and", args...) }
func Or(args ...Expr) Call    { return Op("$or", args...) }
func Not(a Expr) Call         { return Op("$not", a) }
func Size(a Expr) Call        { return Op("$size", a) }
func ToString(a Expr) Call    { return Op("$toString", a) }
func ToLower(a Expr) Call     { return Op("$toLower", a) }
func ToUpper(a Expr) Call     { return Op("$toUpper", a) }
func ToInt(a Expr) Call       { return Op("$toInt", a) }
func Concat(args ...Expr) Call {
	return Op("$concat", args...)
}
func ConcatArrays(args ...Expr) Call { return Op("$concatArrays", args...) }
func IsNumber(a Expr) Call           { return Op("$isNumber", a) }
func IsArray(a Expr) Call            { return Op("$isArray", a) }
func Type(a Expr) Call               { return Op("$type", a) }
func Ceil(a Expr) Call               { return Op("$ceil", a) }
func Floor(a Expr) Call              { return Op("$floor", a) }
func Abs(a Expr) Call                { return Op("$abs", a) }
func IfNull(a, b Expr) Call          { return Op("$ifNull", a, b) }
func In(a, list Expr) Call           { return Op("$in", a, list) }
func ArrayElemAt(a, idx Expr) Call   { return Op("$arrayElemAt", a, idx) }
func Max(args ...Expr) Call          { return Op("$max", args...) }
func Min(args ...Expr) Call          { return Op("$min", args...) }

// Cond is the if/then/else operator.
func Cond(cond, then, otherwise Expr) Call {
	return Op("$cond", cond, then, otherwise)
}

// MapOf applies body to every element of input.
func MapOf(input, body Expr) Map {
	return Map{Input: input, Body: body}
}

// FilterOf keeps the elements of input matching cond.
func FilterOf(input, cond Expr) Filter {
	return Filter{Input: input, Cond: cond}
}

// ReduceOf folds input with body starting from init.
func ReduceOf(input, body, init Expr) Reduce {
	return Reduce{Input: input, Body: body, Init: init}
}

// ApplyTo evaluates body with input as its prefix.
func ApplyTo(input, body Expr) Apply {
	return Apply{Input: input, Body: body}
}

// Freeze marks e as root-relative.
func Freeze(e Expr) Frozen {
	return Frozen{X: e}
}

// Nonfinite lists the float values that safe mode treats as missing.
func Nonfinite() Array {
	return Arr(Lit(math.NaN()), Lit(math.Inf(1)), Lit(math.Inf(-1)))
}

// Safe replaces non-finite values of e with null.
func Safe(e Expr) Call {
	return Cond(In(e, Nonfinite()), Lit(nil), e)
}
