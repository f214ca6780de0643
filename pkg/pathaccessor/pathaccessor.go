// Package pathaccessor parses dotted/bracketed path strings (as used by
// "${a.b[0]["c"]}" references) into an ordered segment list and walks a
// types.Value with them. Grounded on the teacher's scope.go path-navigation
// helpers (parseAssignmentPath/pathPart/accessPart), generalized from
// assignment-target navigation to read-only addressing of arbitrary values.
package pathaccessor

import (
	"strconv"
	"strings"

	"github.com/lemonberrylabs/flowengine/pkg/types"
)

// SegmentKind discriminates a path segment.
type SegmentKind int

const (
	// Property is a bare identifier following a dot: ".field".
	Property SegmentKind = iota
	// Index is a numeric or quoted-string literal inside brackets: "[0]", `["key"]`.
	Index
	// Expr is non-quoted bracket content to be evaluated by the caller's
	// callback and coerced to a string or number index: "[i]", "[a+1]".
	Expr
)

// Segment is one step of a parsed path.
type Segment struct {
	Kind SegmentKind
	Name string // Property name, or Expr source text
	// IndexInt/IndexStr/IndexIsStr hold the resolved literal index for Kind==Index.
	IndexInt   int64
	IndexStr   string
	IndexIsStr bool
}

// EvalIndexFunc evaluates the source text of an Expr segment against the
// caller's current evaluation scope, returning either a string (map key) or
// a number (list index, truncated to int64).
type EvalIndexFunc func(src string) (types.Value, error)

// Parse splits a path string like `a.b[0]["c"][i]` into segments.
// Fails with PathSyntaxError for unclosed brackets, an empty segment between
// dots, a leading dot, a dot immediately before a bracket, or a non-identifier
// property form.
func Parse(path string) ([]Segment, error) {
	var segs []Segment
	i := 0
	n := len(path)
	if n == 0 {
		return nil, types.NewPathSyntaxError("empty path")
	}
	if path[0] == '.' {
		return nil, types.NewPathSyntaxError("path %q has a leading dot", path)
	}

	// first token: bare identifier up to the first '.' or '['
	start := 0
	for i < n && path[i] != '.' && path[i] != '[' {
		i++
	}
	if i == start {
		return nil, types.NewPathSyntaxError("path %q is missing a root identifier", path)
	}
	segs = append(segs, Segment{Kind: Property, Name: path[start:i]})

	for i < n {
		switch path[i] {
		case '.':
			i++
			if i >= n || path[i] == '.' {
				return nil, types.NewPathSyntaxError("path %q has an empty segment", path)
			}
			if path[i] == '[' {
				return nil, types.NewPathSyntaxError("path %q has a dot immediately before a bracket", path)
			}
			start = i
			for i < n && path[i] != '.' && path[i] != '[' {
				i++
			}
			name := path[start:i]
			if !isIdentifier(name) {
				return nil, types.NewPathSyntaxError("path %q has a non-identifier property %q", path, name)
			}
			segs = append(segs, Segment{Kind: Property, Name: name})
		case '[':
			i++
			start = i
			depth := 1
			inStr := byte(0)
			for i < n && depth > 0 {
				c := path[i]
				if inStr != 0 {
					if c == '\\' && i+1 < n {
						i += 2
						continue
					}
					if c == inStr {
						inStr = 0
					}
					i++
					continue
				}
				switch c {
				case '"', '\'':
					inStr = c
				case '[':
					depth++
				case ']':
					depth--
					if depth == 0 {
						continue
					}
				}
				i++
			}
			if depth != 0 {
				return nil, types.NewPathSyntaxError("path %q has an unclosed bracket", path)
			}
			content := path[start:i]
			i++ // consume ']'
			seg, err := parseBracketContent(path, content)
			if err != nil {
				return nil, err
			}
			segs = append(segs, seg)
		default:
			return nil, types.NewPathSyntaxError("path %q has unexpected character %q", path, string(path[i]))
		}
	}
	return segs, nil
}

func parseBracketContent(path, content string) (Segment, error) {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return Segment{}, types.NewPathSyntaxError("path %q has an empty bracket segment", path)
	}
	if (trimmed[0] == '"' && strings.HasSuffix(trimmed, `"`) && len(trimmed) >= 2) ||
		(trimmed[0] == '\'' && strings.HasSuffix(trimmed, "'") && len(trimmed) >= 2) {
		key := unquote(trimmed)
		return Segment{Kind: Index, IndexStr: key, IndexIsStr: true}, nil
	}
	if n, err := strconv.ParseInt(trimmed, 10, 64); err == nil {
		return Segment{Kind: Index, IndexInt: n}, nil
	}
	return Segment{Kind: Expr, Name: trimmed}, nil
}

func unquote(s string) string {
	inner := s[1 : len(s)-1]
	var sb strings.Builder
	for i := 0; i < len(inner); i++ {
		if inner[i] == '\\' && i+1 < len(inner) {
			i++
			sb.WriteByte(inner[i])
			continue
		}
		sb.WriteByte(inner[i])
	}
	return sb.String()
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		if i == 0 {
			if !(r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')) {
				return false
			}
			continue
		}
		if !(r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')) {
			return false
		}
	}
	return true
}

// Root returns the first segment's property name -- the path's root
// identifier, used by the reference resolver to pick localScope/stepResults/
// context.
func Root(segs []Segment) string {
	if len(segs) == 0 {
		return ""
	}
	return segs[0].Name
}

// Get walks root segment-by-segment (skipping the root segment itself, which
// the caller already resolved) and returns the addressed leaf.
func Get(root types.Value, segs []Segment, evalIndex EvalIndexFunc) (types.Value, error) {
	cur := root
	for _, seg := range segs[1:] {
		next, err := step(cur, seg, evalIndex)
		if err != nil {
			return types.Null, err
		}
		cur = next
	}
	return cur, nil
}

// wrappedResultTypeTags mirrows flowast.StepType's string values. Kept as a
// local literal set (rather than importing flowast) since this is the only
// thing pathaccessor needs to know about the step-result shape.
var wrappedResultTypeTags = map[string]bool{
	"request": true, "condition": true, "loop": true,
	"transform": true, "delay": true, "stop": true,
}

// looksLikeWrappedStepResult reports whether v has the {result, type,
// metadata} shape stored for every step result, with type naming a known
// step type. Navigating past this shape requires going through "result"
// first -- the invariant that downstream references must read payloads via
// ".result" rather than reaching into the wrapper directly.
func looksLikeWrappedStepResult(v types.Value) bool {
	if v.Type() != types.TypeMap {
		return false
	}
	m := v.AsMap()
	if m.Len() < 2 {
		return false
	}
	tv, ok := m.Get("type")
	if !ok || tv.Type() != types.TypeString || !wrappedResultTypeTags[tv.AsString()] {
		return false
	}
	_, hasMeta := m.Get("metadata")
	return hasMeta
}

func step(cur types.Value, seg Segment, evalIndex EvalIndexFunc) (types.Value, error) {
	if cur.IsNull() {
		return types.Null, types.NewPropertyAccessError("cannot access %s on null", describeSegment(seg))
	}
	if looksLikeWrappedStepResult(cur) {
		name := seg.Name
		if seg.Kind == Index && seg.IndexIsStr {
			name = seg.IndexStr
		}
		if name != "result" && name != "type" && name != "metadata" {
			return types.Null, types.NewPropertyAccessError(
				"wrapped step result requires .result to access its payload; got direct access to %q", name)
		}
	}
	switch seg.Kind {
	case Property:
		if cur.Type() != types.TypeMap {
			return types.Null, types.NewPropertyAccessError("cannot access property %q on a %s", seg.Name, cur.Type())
		}
		v, ok := cur.AsMap().Get(seg.Name)
		if !ok {
			return types.Null, types.NewPropertyAccessError("missing property %q", seg.Name)
		}
		return v, nil
	case Index:
		if seg.IndexIsStr {
			if cur.Type() != types.TypeMap {
				return types.Null, types.NewPropertyAccessError("cannot index %q on a %s", seg.IndexStr, cur.Type())
			}
			v, ok := cur.AsMap().Get(seg.IndexStr)
			if !ok {
				return types.Null, types.NewPropertyAccessError("missing key %q", seg.IndexStr)
			}
			return v, nil
		}
		return indexList(cur, seg.IndexInt)
	case Expr:
		if evalIndex == nil {
			return types.Null, types.NewPathSyntaxError("dynamic index %q requires an evaluator callback", seg.Name)
		}
		iv, err := evalIndex(seg.Name)
		if err != nil {
			return types.Null, err
		}
		switch iv.Type() {
		case types.TypeString:
			if cur.Type() != types.TypeMap {
				return types.Null, types.NewPropertyAccessError("cannot index %q on a %s", iv.AsString(), cur.Type())
			}
			v, ok := cur.AsMap().Get(iv.AsString())
			if !ok {
				return types.Null, types.NewPropertyAccessError("missing key %q", iv.AsString())
			}
			return v, nil
		case types.TypeInt, types.TypeDouble:
			n, _ := iv.AsNumber()
			return indexList(cur, int64(n))
		default:
			return types.Null, types.NewPathSyntaxError("dynamic index must evaluate to a string or number, got %s", iv.Type())
		}
	}
	return types.Null, types.NewPathSyntaxError("unknown segment kind")
}

// AccessProperty resolves a single dotted-property access on an
// already-resolved value, honoring the wrapped-step-result ".result" guard.
// Used by the expression evaluator for postfix property access on
// subexpressions (list/object literals, parenthesized expressions,
// references) rather than on a path string.
func AccessProperty(v types.Value, name string) (types.Value, error) {
	return step(v, Segment{Kind: Property, Name: name}, nil)
}

// AccessIndex resolves a single index access (string key or numeric index)
// on an already-resolved value, honoring the same wrapped-step-result guard.
func AccessIndex(v types.Value, idx types.Value) (types.Value, error) {
	switch idx.Type() {
	case types.TypeString:
		return step(v, Segment{Kind: Index, IndexStr: idx.AsString(), IndexIsStr: true}, nil)
	case types.TypeInt, types.TypeDouble:
		n, _ := idx.AsNumber()
		return step(v, Segment{Kind: Index, IndexInt: int64(n)}, nil)
	default:
		return types.Null, types.NewPathSyntaxError("index must evaluate to a string or number, got %s", idx.Type())
	}
}

func indexList(cur types.Value, idx int64) (types.Value, error) {
	if cur.Type() != types.TypeList {
		return types.Null, types.NewPropertyAccessError("cannot index %d on a %s", idx, cur.Type())
	}
	items := cur.AsList()
	if idx < 0 || int(idx) >= len(items) {
		return types.Null, types.NewPropertyAccessError("index %d out of bounds (len=%d)", idx, len(items))
	}
	return items[idx], nil
}

func describeSegment(seg Segment) string {
	switch seg.Kind {
	case Property:
		return "property \"" + seg.Name + "\""
	case Index:
		if seg.IndexIsStr {
			return "key \"" + seg.IndexStr + "\""
		}
		return "index " + strconv.FormatInt(seg.IndexInt, 10)
	default:
		return "expression [" + seg.Name + "]"
	}
}
