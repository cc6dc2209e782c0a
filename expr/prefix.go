package expr

import "strings"

// Walk calls fn for every node of e that is evaluated against the outer
// prefix. It does not descend into the bodies of Map, Filter, Reduce and
// Apply, which are evaluated against their own input, nor into Frozen nodes.
// Returning false from fn stops the descent below that node.
func Walk(e Expr, fn func(Expr) bool) {
	if e == nil || !fn(e) {
		return
	}
	switch v := e.(type) {
	case Call:
		for _, a := range v.Args {
			Walk(a, fn)
		}
	case Array:
		for _, it := range v.Items {
			Walk(it, fn)
		}
	case Object:
		for _, val := range v.Values {
			Walk(val, fn)
		}
	case Map:
		Walk(v.Input, fn)
	case Filter:
		Walk(v.Input, fn)
	case Reduce:
		Walk(v.Input, fn)
		Walk(v.Init, fn)
	case Apply:
		Walk(v.Input, fn)
	}
}

// FieldRefs returns the relative field references of e in evaluation order.
// Absolute references (starting with "$") are skipped.
func FieldRefs(e Expr) []Field {
	var refs []Field
	Walk(e, func(n Expr) bool {
		if _, ok := n.(Frozen); ok {
			return false
		}
		if f, ok := n.(Field); ok && !strings.HasPrefix(f.Path, "$") {
			refs = append(refs, f)
		}
		return true
	})
	return refs
}

// Rewrite returns a copy of e with fn applied to every field reference that
// Walk would visit. The input is never modified.
func Rewrite(e Expr, fn func(Field) Expr) Expr {
	switch v := e.(type) {
	case nil:
		return nil
	case Field:
		if strings.HasPrefix(v.Path, "$") {
			return v
		}
		return fn(v)
	case Call:
		args := make([]Expr, len(v.Args))
		for i, a := range v.Args {
			args[i] = Rewrite(a, fn)
		}
		return Call{Op: v.Op, Args: args}
	case Array:
		items := make([]Expr, len(v.Items))
		for i, it := range v.Items {
			items[i] = Rewrite(it, fn)
		}
		return Array{Items: items}
	case Object:
		vals := make([]Expr, len(v.Values))
		for i, val := range v.Values {
			vals[i] = Rewrite(val, fn)
		}
		return Object{Keys: append([]string(nil), v.Keys...), Values: vals}
	case Map:
		return Map{Input: Rewrite(v.Input, fn), Body: v.Body}
	case Filter:
		return Filter{Input: Rewrite(v.Input, fn), Cond: v.Cond}
	case Reduce:
		return Reduce{Input: Rewrite(v.Input, fn), Init: Rewrite(v.Init, fn), Body: v.Body}
	case Apply:
		return Apply{Input: Rewrite(v.Input, fn), Body: v.Body}
	default:
		return e
	}
}

// ExtractPrefix finds the longest dot-segment prefix shared by every field
// reference of e and returns it along with a copy of e whose references are
// relative to it. When there is no common prefix it returns "" and e.
func ExtractPrefix(e Expr) (string, Expr) {
	refs := FieldRefs(e)
	if len(refs) == 0 {
		return "", e
	}

	chunks := make([][]string, len(refs))
	minLen := -1
	for i, r := range refs {
		if r.Path == "" {
			return "", e
		}
		chunks[i] = strings.Split(r.Path, ".")
		if minLen < 0 || len(chunks[i]) < minLen {
			minLen = len(chunks[i])
		}
	}

	n := 0
	for n < minLen {
		seg := chunks[0][n]
		same := true
		for _, c := range chunks[1:] {
			if c[n] != seg {
				same = false
				break
			}
		}
		if !same {
			break
		}
		n++
	}
	if n == 0 {
		return "", e
	}

	prefix := strings.Join(chunks[0][:n], ".")
	out := Rewrite(e, func(f Field) Expr {
		switch {
		case f.Path == prefix:
			return Field{Path: ""}
		case strings.HasPrefix(f.Path, prefix+"."):
			return Field{Path: f.Path[len(prefix)+1:]}
		default:
			return f
		}
	})
	return prefix, out
}
