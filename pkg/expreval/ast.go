package expreval

// Node is the interface for all expression AST nodes. Grounded on the
// teacher's pkg/expr/ast.go node shapes; CallNode/InNode are dropped (no
// function calls, no "in" operator in this grammar) and RefNode/TemplateNode/
// TernaryNode/ObjectNode are added for the spec's JS/C-style grammar.
type Node interface {
	nodeType() string
}

// LiteralNode is a number, string, boolean, or null literal.
type LiteralNode struct {
	TokenType TokenType
	IntVal    int64
	FloatVal  float64
	StrVal    string
	BoolVal   bool
}

func (n *LiteralNode) nodeType() string { return "Literal" }

// RefNode is a "${path}" reference, resolved via the reference resolver.
type RefNode struct {
	Path string
}

func (n *RefNode) nodeType() string { return "Ref" }

// BinaryNode is a binary operation: arithmetic, string concatenation,
// comparison, or logical.
type BinaryNode struct {
	Op    TokenType
	Left  Node
	Right Node
}

func (n *BinaryNode) nodeType() string { return "Binary" }

// UnaryNode is !x, -x, or +x.
type UnaryNode struct {
	Op      TokenType
	Operand Node
}

func (n *UnaryNode) nodeType() string { return "Unary" }

// TernaryNode is cond ? then : else.
type TernaryNode struct {
	Cond Node
	Then Node
	Else Node
}

func (n *TernaryNode) nodeType() string { return "Ternary" }

// PropertyNode is postfix property access on an already-resolved
// subexpression: (expr).field.
type PropertyNode struct {
	Object   Node
	Property string
}

func (n *PropertyNode) nodeType() string { return "Property" }

// IndexNode is postfix index access: (expr)[index].
type IndexNode struct {
	Object Node
	Index  Node
}

func (n *IndexNode) nodeType() string { return "Index" }

// ListNode is an array literal: [a, b, c].
type ListNode struct {
	Elements []Node
}

func (n *ListNode) nodeType() string { return "List" }

// ObjectNode is an object literal: {key: value, ...}.
type ObjectNode struct {
	Keys   []string
	Values []Node
}

func (n *ObjectNode) nodeType() string { return "Object" }

// TemplatePart is one piece of a backtick template: either literal text or
// an embedded "${...}" expression (parsed eagerly since only path-accessor
// references are allowed inside templates, matching RefNode).
type TemplatePart struct {
	Text string
	Ref  *RefNode // nil when Text is set
}

// TemplateNode is a backtick-bounded string with embedded ${...} references.
type TemplateNode struct {
	Parts []TemplatePart
}

func (n *TemplateNode) nodeType() string { return "Template" }
