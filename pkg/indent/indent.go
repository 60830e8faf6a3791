// Package indent keeps inserted elements consistent with the indentation
// already used by the surrounding document.
package indent

import (
	"strings"

	"github.com/glennswest/opnwg/pkg/xmldoc"
)

// DefaultUnit is used when nothing in the document reveals an indentation
// unit.
const DefaultUnit = "  "

// Unit recovers the indentation unit used for the children of container.
//
// With element children the unit is the difference between the line prefix
// of the first child and that of the container's end tag. An empty container
// is a heuristic: its text-to-tail margin spans the container's own level
// twice (open to close, close to parent), so half of it is taken. When that
// yields nothing the parent is asked instead, and DefaultUnit is the last
// resort. Irregular source formatting gives a best-effort result.
func Unit(doc *xmldoc.Document, container *xmldoc.Node) string {
	for n := container; n != nil; n = n.Parent() {
		if u := unitFromChildren(doc, n); u != "" {
			return u
		}
		if n == container {
			if u := unitFromMargin(doc, n); u != "" {
				return u
			}
		}
	}
	return DefaultUnit
}

func unitFromChildren(doc *xmldoc.Document, container *xmldoc.Node) string {
	last := container.LastElement()
	if last == nil {
		return ""
	}
	child, ok := linePrefix(container.Text)
	if !ok {
		return ""
	}
	closing, ok := linePrefix(doc.Tail(lastNode(container)))
	if !ok || !strings.HasPrefix(child, closing) {
		return ""
	}
	return child[len(closing):]
}

func unitFromMargin(doc *xmldoc.Document, container *xmldoc.Node) string {
	margin := strings.Replace(container.Text, doc.Tail(container), "", 1)
	if margin == container.Text {
		inner, ok1 := linePrefix(container.Text)
		outer, ok2 := linePrefix(doc.Tail(container))
		if !ok1 || !ok2 || !strings.HasPrefix(inner, outer) {
			return ""
		}
		margin = inner[len(outer):]
	}
	if strings.TrimSpace(margin) != "" {
		return ""
	}
	return margin[:len(margin)/2]
}

// Own returns the indentation of n's start tag: the line prefix of the
// character data directly before it.
func Own(doc *xmldoc.Document, n *xmldoc.Node) string {
	parent := n.Parent()
	if parent == nil {
		return ""
	}
	before := parent.Text
	for i, c := range parent.Children {
		if c == n {
			if i > 0 {
				before = doc.Tail(parent.Children[i-1])
			}
			break
		}
	}
	prefix, _ := linePrefix(before)
	return prefix
}

// Apply lays out node and its subtree as if its start tag sat at depth
// units of indentation: element children go one level deeper and the last
// child's tail steps back to node's level. The node's own tail is left to the
// caller because it belongs to the node's position among its siblings.
func Apply(doc *xmldoc.Document, node *xmldoc.Node, unit string, depth int) {
	applyAt(doc, node, strings.Repeat(unit, depth), unit)
}

func applyAt(doc *xmldoc.Document, node *xmldoc.Node, own, unit string) {
	elems := node.Elements()
	if len(elems) == 0 {
		return
	}
	inner := own + unit
	if strings.TrimSpace(node.Text) == "" {
		node.Text = "\n" + inner
	}
	for _, c := range elems {
		doc.SetTail(c, "\n"+inner)
		applyAt(doc, c, inner, unit)
	}
	doc.SetTail(elems[len(elems)-1], "\n"+own)
}

// Append inserts node as the last child of container and fixes up the
// whitespace around it: the former last child now leads into node instead of
// the container's end tag, and node's tail takes over that role. Siblings
// before the former last child are not touched.
func Append(doc *xmldoc.Document, container, node *xmldoc.Node, unit string) {
	own := Own(doc, container)
	elementIndent := own + unit

	if prev := lastNode(container); prev != nil {
		doc.SetTail(prev, "\n"+elementIndent)
	} else if strings.TrimSpace(container.Text) == "" {
		container.Text = "\n" + elementIndent
	}

	container.Append(node)
	applyAt(doc, node, elementIndent, unit)
	doc.SetTail(node, "\n"+own)
}

func lastNode(n *xmldoc.Node) *xmldoc.Node {
	if len(n.Children) == 0 {
		return nil
	}
	return n.Children[len(n.Children)-1]
}

// linePrefix returns the whitespace after the last newline of s. ok is false
// when s has no newline or the prefix is not pure whitespace.
func linePrefix(s string) (string, bool) {
	i := strings.LastIndexByte(s, '\n')
	if i < 0 {
		return "", false
	}
	prefix := s[i+1:]
	if strings.TrimLeft(prefix, " \t") != "" {
		return "", false
	}
	return prefix, true
}
