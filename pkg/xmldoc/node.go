// Package xmldoc is a format-preserving XML tree. Parsing keeps the raw
// source bytes of every tag and text run so that untouched parts of a
// document serialize byte-for-byte as they were read.
package xmldoc

// Kind distinguishes element nodes from the other markup that can appear
// between elements.
type Kind int

const (
	ElementNode Kind = iota
	CommentNode
	ProcInstNode
	DirectiveNode
)

// Attr is a single attribute. Name carries the namespace prefix, if any,
// exactly as written ("xmlns:foo").
type Attr struct {
	Name  string
	Value string
}

// Node is one element (or comment, processing instruction, directive) in a
// document tree.
//
// For elements, Text is the character data between the start tag and the
// first child node. Character data following a node up to its next sibling
// is that node's tail; tails are layout and live on the Document.
//
// For comments and directives Text holds the body; for processing
// instructions Name is the target and Text the instruction.
type Node struct {
	Kind     Kind
	Name     string
	Attrs    []Attr
	Children []*Node
	Text     string

	parent *Node
}

// NewElement returns a detached element.
func NewElement(name string, attrs ...Attr) *Node {
	return &Node{Kind: ElementNode, Name: name, Attrs: attrs}
}

// NewTextElement returns a detached element holding text.
func NewTextElement(name, text string) *Node {
	return &Node{Kind: ElementNode, Name: name, Text: text}
}

// Parent returns the node's parent, or nil for the root and detached nodes.
func (n *Node) Parent() *Node { return n.parent }

// Append adds c as the last child of n.
func (n *Node) Append(c *Node) {
	c.parent = n
	n.Children = append(n.Children, c)
}

// Elements returns the element children of n in document order.
func (n *Node) Elements() []*Node {
	var out []*Node
	for _, c := range n.Children {
		if c.Kind == ElementNode {
			out = append(out, c)
		}
	}
	return out
}

// LastElement returns the last element child of n, or nil.
func (n *Node) LastElement() *Node {
	for i := len(n.Children) - 1; i >= 0; i-- {
		if n.Children[i].Kind == ElementNode {
			return n.Children[i]
		}
	}
	return nil
}

// Attr returns the value of the named attribute.
func (n *Node) Attr(name string) (string, bool) {
	for _, a := range n.Attrs {
		if a.Name == name {
			return a.Value, true
		}
	}
	return "", false
}

// SetAttr sets or adds the named attribute, keeping attribute order.
func (n *Node) SetAttr(name, value string) {
	for i := range n.Attrs {
		if n.Attrs[i].Name == name {
			n.Attrs[i].Value = value
			return
		}
	}
	n.Attrs = append(n.Attrs, Attr{Name: name, Value: value})
}

// Child returns the first element child called name.
func (n *Node) Child(name string) *Node {
	for _, c := range n.Children {
		if c.Kind == ElementNode && c.Name == name {
			return c
		}
	}
	return nil
}

// ChildText returns the text of the first element child called name. ok is
// false when there is no such child.
func (n *Node) ChildText(name string) (text string, ok bool) {
	c := n.Child(name)
	if c == nil {
		return "", false
	}
	return c.Text, true
}

// Find returns the first node matching the path expression, or nil. It
// panics if expr does not compile.
func (n *Node) Find(expr string) *Node {
	return MustCompile(expr).First(n)
}

// FindAll returns every node matching the path expression. It panics if expr
// does not compile.
func (n *Node) FindAll(expr string) []*Node {
	return MustCompile(expr).All(n)
}
