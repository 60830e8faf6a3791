package xmldoc

import (
	"fmt"
	"strings"
)

// Path is a compiled path expression. The grammar is a small subset of the
// ElementTree path language:
//
//	path      = step { "/" step }
//	step      = ( name | "*" | "." ) [ predicate ]
//	predicate = "[" ( "@" attr | child ) [ "=" quoted ] "]"
//
// A leading "./" is ignored and a trailing "/" selects all element children.
type Path struct {
	expr  string
	steps []step
}

type step struct {
	name string // "*" matches any element, "." the context node

	// predicate
	attr     bool
	key      string
	value    string
	hasValue bool
}

// Compile parses a path expression.
func Compile(expr string) (*Path, error) {
	trimmed := strings.TrimPrefix(expr, "./")
	if trimmed == "" {
		return nil, fmt.Errorf("empty path expression %q", expr)
	}

	parts, err := splitSteps(trimmed)
	if err != nil {
		return nil, fmt.Errorf("path %q: %w", expr, err)
	}

	p := &Path{expr: expr}
	for i, part := range parts {
		if part == "" {
			if i != len(parts)-1 {
				return nil, fmt.Errorf("path %q: empty step", expr)
			}
			part = "*"
		}
		s, err := parseStep(part)
		if err != nil {
			return nil, fmt.Errorf("path %q: %w", expr, err)
		}
		p.steps = append(p.steps, s)
	}
	return p, nil
}

// MustCompile is like Compile but panics on error.
func MustCompile(expr string) *Path {
	p, err := Compile(expr)
	if err != nil {
		panic(err)
	}
	return p
}

// String returns the source expression.
func (p *Path) String() string { return p.expr }

// All returns the nodes reached from ctx, in document order.
func (p *Path) All(ctx *Node) []*Node {
	if ctx == nil {
		return nil
	}
	current := []*Node{ctx}
	for _, s := range p.steps {
		var next []*Node
		for _, n := range current {
			if s.name == "." {
				if s.matches(n) {
					next = append(next, n)
				}
				continue
			}
			for _, c := range n.Children {
				if c.Kind != ElementNode {
					continue
				}
				if (s.name == "*" || s.name == c.Name) && s.matches(c) {
					next = append(next, c)
				}
			}
		}
		current = next
		if len(current) == 0 {
			return nil
		}
	}
	return current
}

// First returns the first node reached from ctx, or nil.
func (p *Path) First(ctx *Node) *Node {
	if all := p.All(ctx); len(all) > 0 {
		return all[0]
	}
	return nil
}

func (s step) matches(n *Node) bool {
	if s.key == "" {
		return true
	}
	if s.attr {
		v, ok := n.Attr(s.key)
		return ok && (!s.hasValue || v == s.value)
	}
	for _, c := range n.Children {
		if c.Kind == ElementNode && c.Name == s.key && (!s.hasValue || c.Text == s.value) {
			return true
		}
	}
	return false
}

// splitSteps splits on "/" outside of predicates and quotes.
func splitSteps(expr string) ([]string, error) {
	var (
		parts   []string
		depth   int
		quote   byte
		current strings.Builder
	)
	for i := 0; i < len(expr); i++ {
		c := expr[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '\'' || c == '"':
			if depth == 0 {
				return nil, fmt.Errorf("quote outside predicate at %d", i)
			}
			quote = c
		case c == '[':
			depth++
		case c == ']':
			depth--
			if depth < 0 {
				return nil, fmt.Errorf("unbalanced ']' at %d", i)
			}
		case c == '/' && depth == 0:
			parts = append(parts, current.String())
			current.Reset()
			continue
		}
		current.WriteByte(c)
	}
	if quote != 0 {
		return nil, fmt.Errorf("unterminated quote")
	}
	if depth != 0 {
		return nil, fmt.Errorf("unterminated predicate")
	}
	return append(parts, current.String()), nil
}

func parseStep(part string) (step, error) {
	var s step
	open := strings.IndexByte(part, '[')
	if open < 0 {
		s.name = part
		return s, validName(s.name)
	}
	if !strings.HasSuffix(part, "]") || strings.Count(part, "[") > 1 {
		return s, fmt.Errorf("invalid step %q", part)
	}
	s.name = part[:open]
	if err := validName(s.name); err != nil {
		return s, err
	}

	pred := part[open+1 : len(part)-1]
	if strings.HasPrefix(pred, "@") {
		s.attr = true
		pred = pred[1:]
	}
	key, value, hasValue := strings.Cut(pred, "=")
	s.key = strings.TrimSpace(key)
	if s.key == "" {
		return s, fmt.Errorf("empty predicate in %q", part)
	}
	if hasValue {
		value = strings.TrimSpace(value)
		if len(value) < 2 || (value[0] != '\'' && value[0] != '"') || value[len(value)-1] != value[0] {
			return s, fmt.Errorf("predicate value must be quoted in %q", part)
		}
		s.value = value[1 : len(value)-1]
		s.hasValue = true
	}
	return s, nil
}

func validName(name string) error {
	if name == "" {
		return fmt.Errorf("missing element name")
	}
	if strings.ContainsAny(name, " \t\n=@'\"") {
		return fmt.Errorf("invalid element name %q", name)
	}
	return nil
}
