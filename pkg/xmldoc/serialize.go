package xmldoc

import (
	"bytes"
	"io"
	"strings"
)

var (
	textEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
	attrEscaper = strings.NewReplacer(
		"&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;",
		"\n", "&#10;", "\r", "&#13;", "\t", "&#9;",
	)
)

// Serialize renders the document. Nodes whose name, attributes, text and
// tail are unchanged since Parse are written from their source bytes.
func (d *Document) Serialize() []byte {
	var b bytes.Buffer
	_, _ = d.WriteTo(&b)
	return b.Bytes()
}

// WriteTo writes the serialized document to w.
func (d *Document) WriteTo(w io.Writer) (int64, error) {
	var b strings.Builder
	b.WriteString(d.prolog)
	if d.Root != nil {
		d.writeNode(&b, d.Root)
	}
	b.WriteString(d.epilog)
	n, err := io.WriteString(w, b.String())
	return int64(n), err
}

func (d *Document) writeNode(b *strings.Builder, n *Node) {
	l := d.layout[n]

	switch n.Kind {
	case CommentNode:
		if l != nil && l.open != "" && n.Text == l.text {
			b.WriteString(l.open)
		} else {
			b.WriteString("<!--" + n.Text + "-->")
		}
		return
	case ProcInstNode:
		if l != nil && l.open != "" && n.Text == l.text {
			b.WriteString(l.open)
		} else {
			b.WriteString("<?" + n.Name + " " + n.Text + "?>")
		}
		return
	case DirectiveNode:
		if l != nil && l.open != "" && n.Text == l.text {
			b.WriteString(l.open)
		} else {
			b.WriteString("<!" + n.Text + ">")
		}
		return
	}

	parsed := l != nil && l.open != ""
	tagSame := parsed && n.Name == l.name && attrsEqual(n.Attrs, l.attrs)
	hasContent := n.Text != "" || len(n.Children) > 0

	switch {
	case tagSame && l.selfClosing && !hasContent:
		b.WriteString(l.open)
		return
	case tagSame && !l.selfClosing:
		b.WriteString(l.open)
	case !hasContent && (!parsed || l.selfClosing):
		writeStartTag(b, n, true)
		return
	default:
		writeStartTag(b, n, false)
	}

	if parsed && n.Text == l.text {
		b.WriteString(l.rawText)
	} else {
		b.WriteString(textEscaper.Replace(n.Text))
	}

	for _, c := range n.Children {
		d.writeNode(b, c)
		b.WriteString(d.rawTail(c))
	}

	if parsed && !l.selfClosing && n.Name == l.name {
		b.WriteString(l.close)
	} else {
		b.WriteString("</" + n.Name + ">")
	}
}

func (d *Document) rawTail(n *Node) string {
	l, ok := d.layout[n]
	if !ok {
		return ""
	}
	if l.tail == l.tail0 {
		return l.rawTail
	}
	return textEscaper.Replace(l.tail)
}

func writeStartTag(b *strings.Builder, n *Node, empty bool) {
	b.WriteString("<" + n.Name)
	for _, a := range n.Attrs {
		b.WriteString(" " + a.Name + `="` + attrEscaper.Replace(a.Value) + `"`)
	}
	if empty {
		b.WriteString("/>")
		return
	}
	b.WriteString(">")
}

func attrsEqual(a, b []Attr) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
