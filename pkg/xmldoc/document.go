package xmldoc

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrMalformed is returned by Parse for input that is not a well-formed
// document.
var ErrMalformed = errors.New("malformed document")

// Document is a parsed XML document. Formatting captured at parse time is
// kept in a side table keyed by node so that the tree itself only carries
// content.
type Document struct {
	Root *Node

	prolog string // everything before the root start tag
	epilog string // everything after the root end tag
	layout map[*Node]*layout
}

// layout is what a node looked like in the source. The snapshot fields let
// Serialize tell whether the node has been changed since parsing.
type layout struct {
	open        string // raw start tag; the whole tag when selfClosing
	close       string // raw end tag
	selfClosing bool

	name  string
	attrs []Attr

	text    string // decoded text at parse time
	rawText string

	tail    string // current tail
	tail0   string // decoded tail at parse time
	rawTail string
}

// Parse reads a complete document.
func Parse(data []byte) (*Document, error) {
	doc := &Document{layout: make(map[*Node]*layout)}

	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.Strict = true

	var (
		stack   []*Node
		rootEnd int64 = -1
	)

	for {
		start := dec.InputOffset()
		tok, err := dec.RawToken()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		end := dec.InputOffset()
		raw := string(data[start:end])

		switch t := tok.(type) {
		case xml.StartElement:
			n := &Node{Kind: ElementNode, Name: qualifiedName(t.Name)}
			for _, a := range t.Attr {
				n.Attrs = append(n.Attrs, Attr{Name: qualifiedName(a.Name), Value: a.Value})
			}
			l := doc.ensure(n)
			l.open = raw
			l.name = n.Name
			l.attrs = append([]Attr(nil), n.Attrs...)

			if len(stack) == 0 {
				if doc.Root != nil {
					return nil, fmt.Errorf("%w: second root element <%s> at offset %d", ErrMalformed, n.Name, start)
				}
				doc.Root = n
				doc.prolog = string(data[:start])
			} else {
				stack[len(stack)-1].Append(n)
			}
			stack = append(stack, n)

		case xml.EndElement:
			if len(stack) == 0 {
				return nil, fmt.Errorf("%w: unexpected end tag </%s> at offset %d", ErrMalformed, qualifiedName(t.Name), start)
			}
			n := stack[len(stack)-1]
			if name := qualifiedName(t.Name); name != n.Name {
				return nil, fmt.Errorf("%w: end tag </%s> does not match <%s> at offset %d", ErrMalformed, name, n.Name, start)
			}
			l := doc.layout[n]
			if start == end {
				l.selfClosing = true
			} else {
				l.close = raw
			}
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				rootEnd = end
			}

		case xml.CharData:
			if len(stack) == 0 {
				if strings.TrimSpace(strings.TrimPrefix(string(t), "\ufeff")) != "" {
					return nil, fmt.Errorf("%w: character data outside the root element at offset %d", ErrMalformed, start)
				}
				continue
			}
			doc.appendCharData(stack[len(stack)-1], string(t), raw)

		case xml.Comment, xml.ProcInst, xml.Directive:
			if len(stack) == 0 {
				continue
			}
			n := markupNode(t)
			doc.ensure(n).open = raw
			doc.layout[n].text = n.Text
			stack[len(stack)-1].Append(n)
		}
	}

	if len(stack) != 0 {
		return nil, fmt.Errorf("%w: unexpected end of input inside <%s>", ErrMalformed, stack[len(stack)-1].Name)
	}
	if doc.Root == nil {
		return nil, fmt.Errorf("%w: no root element", ErrMalformed)
	}
	doc.epilog = string(data[rootEnd:])

	return doc, nil
}

func markupNode(tok xml.Token) *Node {
	switch t := tok.(type) {
	case xml.Comment:
		return &Node{Kind: CommentNode, Text: string(t)}
	case xml.ProcInst:
		return &Node{Kind: ProcInstNode, Name: t.Target, Text: string(t.Inst)}
	case xml.Directive:
		return &Node{Kind: DirectiveNode, Text: string(t)}
	}
	return nil
}

// appendCharData attributes character data to the parent's text when no
// child has been seen yet, otherwise to the tail of the last child.
func (d *Document) appendCharData(parent *Node, text, raw string) {
	if len(parent.Children) == 0 {
		l := d.layout[parent]
		parent.Text += text
		l.text += text
		l.rawText += raw
		return
	}
	l := d.ensure(parent.Children[len(parent.Children)-1])
	l.tail += text
	l.tail0 += text
	l.rawTail += raw
}

func (d *Document) ensure(n *Node) *layout {
	if d.layout == nil {
		d.layout = make(map[*Node]*layout)
	}
	l, ok := d.layout[n]
	if !ok {
		l = &layout{}
		d.layout[n] = l
	}
	return l
}

// Tail returns the character data that follows n up to its next sibling or
// its parent's end tag.
func (d *Document) Tail(n *Node) string {
	if l, ok := d.layout[n]; ok {
		return l.tail
	}
	return ""
}

// SetTail replaces the character data that follows n.
func (d *Document) SetTail(n *Node, tail string) {
	d.ensure(n).tail = tail
}

// Query returns the nodes matching a path expression evaluated against the
// root element, in the style of ElementTree's findall: "a/b[c='v']" selects
// b elements under the root's a children whose c child has text v.
func (d *Document) Query(expr string) ([]*Node, error) {
	p, err := Compile(expr)
	if err != nil {
		return nil, err
	}
	return p.All(d.Root), nil
}

func qualifiedName(n xml.Name) string {
	if n.Space == "" {
		return n.Local
	}
	return n.Space + ":" + n.Local
}
