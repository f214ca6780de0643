// Package refresolver resolves "${path}" references embedded in strings,
// objects, and lists against a scope made of local bindings, accumulated
// step results, and the global context.
package refresolver

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lemonberrylabs/flowengine/pkg/pathaccessor"
	"github.com/lemonberrylabs/flowengine/pkg/types"
)

// Scope is the lookup surface a reference resolves against: local bindings
// (loop element, iteration metadata, nested-step markers) take precedence
// over step results, and the literal name "context" yields the global
// context mapping.
type Scope struct {
	Local       map[string]types.Value
	StepResults map[string]types.Value
	Context     types.Value
}

func (s Scope) lookup(root string) (types.Value, bool) {
	if root == "context" {
		return s.Context, true
	}
	if v, ok := s.Local[root]; ok {
		return v, true
	}
	if v, ok := s.StepResults[root]; ok {
		return v, true
	}
	return types.Null, false
}

// Roots lists every root identifier resolvable in this scope, used to
// compose UnknownReferenceError's "available" list.
func (s Scope) Roots() []string {
	roots := make([]string, 0, len(s.Local)+len(s.StepResults)+1)
	for k := range s.Local {
		roots = append(roots, k)
	}
	for k := range s.StepResults {
		roots = append(roots, k)
	}
	roots = append(roots, "context")
	return roots
}

// EvalFunc evaluates an arbitrary expression source string against a scope,
// used for dynamic bracket indices (a[b]) encountered while walking a path.
// Supplied by the expression evaluator to avoid an import cycle.
type EvalFunc func(src string, scope Scope) (types.Value, error)

// stack tracks the reference-resolution call chain to detect cycles.
type stack struct {
	items []string
	set   map[string]bool
}

func newStack() *stack { return &stack{set: map[string]bool{}} }

func (s *stack) push(ref string) error {
	if s.set[ref] {
		idx := 0
		for i, v := range s.items {
			if v == ref {
				idx = i
				break
			}
		}
		cycle := append(append([]string{}, s.items[idx:]...), ref)
		return types.NewCircularReferenceError(cycle)
	}
	s.items = append(s.items, ref)
	s.set[ref] = true
	return nil
}

func (s *stack) pop() {
	last := s.items[len(s.items)-1]
	s.items = s.items[:len(s.items)-1]
	delete(s.set, last)
}

// Resolver resolves references against scopes supplied per-call; it holds no
// mutable state of its own (flows never share a resolution stack across
// calls).
type Resolver struct {
	Eval EvalFunc
}

// New creates a Resolver. eval may be nil if the flow never uses dynamic
// bracket indices.
func New(eval EvalFunc) *Resolver {
	return &Resolver{Eval: eval}
}

// isWholeReference reports whether s is exactly one "${...}" spanning the
// entire string, returning the inner path if so.
func isWholeReference(s string) (string, bool) {
	if !strings.HasPrefix(s, "${") || !strings.HasSuffix(s, "}") {
		return "", false
	}
	depth := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '{':
			if i > 0 && s[i-1] == '$' {
				depth++
			} else if depth > 0 {
				depth++
			}
		case '}':
			if depth > 0 {
				depth--
				if depth == 0 && i != len(s)-1 {
					return "", false
				}
			}
		}
	}
	return s[2 : len(s)-1], depth == 0
}

// findReferences scans s for every top-level "${...}" span, returning their
// byte ranges and inner path text.
func findReferences(s string) []struct {
	start, end int
	path       string
} {
	var out []struct {
		start, end int
		path       string
	}
	i := 0
	for i < len(s) {
		if s[i] == '$' && i+1 < len(s) && s[i+1] == '{' {
			start := i
			depth := 1
			j := i + 2
			for j < len(s) && depth > 0 {
				switch s[j] {
				case '{':
					depth++
				case '}':
					depth--
				}
				j++
			}
			if depth == 0 {
				out = append(out, struct {
					start, end int
					path       string
				}{start, j, s[start+2 : j-1]})
				i = j
				continue
			}
		}
		i++
	}
	return out
}

// ResolveReference resolves a single "${path}" reference string (the
// wrapper syntax is required) against scope.
func (r *Resolver) ResolveReference(ref string, scope Scope) (types.Value, error) {
	return r.resolveReference(ref, scope, newStack())
}

func (r *Resolver) resolveReference(ref string, scope Scope, st *stack) (types.Value, error) {
	path, ok := isWholeReference(ref)
	if !ok {
		return types.Null, types.NewInvalidReferenceError("%q is not a valid ${...} reference", ref)
	}
	if err := st.push(ref); err != nil {
		return types.Null, err
	}
	defer st.pop()

	segs, err := pathaccessor.Parse(path)
	if err != nil {
		return types.Null, err
	}
	root := pathaccessor.Root(segs)
	rv, ok := scope.lookup(root)
	if !ok {
		return types.Null, types.NewUnknownReferenceError(root, scope.Roots())
	}
	evalIdx := func(src string) (types.Value, error) {
		if r.Eval == nil {
			return types.Null, types.NewPathSyntaxError("dynamic index %q needs an expression evaluator", src)
		}
		return r.Eval(src, scope)
	}
	val, err := pathaccessor.Get(rv, segs, evalIdx)
	if err != nil {
		return types.Null, types.NewReferenceResolutionError(path, err)
	}
	return val, nil
}

// ResolveReferences deep-walks a JSON-shaped value (types.Value), resolving
// every "${...}" occurrence in every string leaf. A string that IS exactly
// one reference returns the raw resolved value, preserving its type.
// Strings with multiple or embedded references are rebuilt by substitution,
// JSON-encoding any non-scalar substitution.
func (r *Resolver) ResolveReferences(v types.Value, scope Scope) (types.Value, error) {
	return r.resolveReferences(v, scope, newStack())
}

func (r *Resolver) resolveReferences(v types.Value, scope Scope, st *stack) (types.Value, error) {
	switch v.Type() {
	case types.TypeString:
		s := v.AsString()
		if !strings.Contains(s, "${") {
			return v, nil
		}
		if path, ok := isWholeReference(s); ok {
			resolved, err := r.resolveReference("${"+path+"}", scope, st)
			if err != nil {
				return types.Null, err
			}
			return resolved, nil
		}
		refs := findReferences(s)
		if len(refs) == 0 {
			return v, nil
		}
		var sb strings.Builder
		last := 0
		for _, ref := range refs {
			sb.WriteString(s[last:ref.start])
			resolved, err := r.resolveReference(s[ref.start:ref.end], scope, st)
			if err != nil {
				return types.Null, err
			}
			sb.WriteString(stringify(resolved))
			last = ref.end
		}
		sb.WriteString(s[last:])
		return types.NewString(sb.String()), nil
	case types.TypeList:
		items := v.AsList()
		out := make([]types.Value, len(items))
		for i, item := range items {
			rv, err := r.resolveReferences(item, scope, st)
			if err != nil {
				return types.Null, err
			}
			out[i] = rv
		}
		return types.NewList(out), nil
	case types.TypeMap:
		m := v.AsMap()
		out := types.NewOrderedMap()
		for _, k := range m.Keys() {
			mv, _ := m.Get(k)
			rv, err := r.resolveReferences(mv, scope, st)
			if err != nil {
				return types.Null, err
			}
			out.Set(k, rv)
		}
		return types.NewMap(out), nil
	default:
		return v, nil
	}
}

// stringify renders a resolved substitution value for embedding into a
// larger string: scalars render plainly, structured values are JSON-encoded.
func stringify(v types.Value) string {
	switch v.Type() {
	case types.TypeString:
		return v.AsString()
	case types.TypeNull, types.TypeBool, types.TypeInt, types.TypeDouble:
		return v.String()
	default:
		b, err := json.Marshal(v.ToGoValue())
		if err != nil {
			return fmt.Sprintf("%v", v.ToGoValue())
		}
		return string(b)
	}
}
