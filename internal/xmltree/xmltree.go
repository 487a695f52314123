// Package xmltree parses XML documents into mutable node trees that render
// back with the original character data intact, whitespace included.
// It exists so that link updates can splice new elements into a metadata
// record without reformatting the parts they do not touch.
//
// The tree keeps every token the decoder reports (elements, text, comments,
// processing instructions, directives). Character data is re-escaped with
// the minimal entities (&amp;, &lt;, &gt;), so indentation and newlines
// survive verbatim. CDATA sections are decoded and re-escaped as plain text.
package xmltree

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strings"
)

// Kind discriminates the node types of the tree.
type Kind int

const (
	ElementNode Kind = iota
	TextNode
	CommentNode
	ProcInstNode
	DirectiveNode
)

// Attr is a single element attribute.
type Attr struct {
	Name  string
	Value string
}

// Node is one node of the document tree. Only ElementNode has Children.
type Node struct {
	Kind Kind
	// Name is the element name, or the processing instruction target.
	Name string
	Attr []Attr
	// Text holds the content of text, comment and directive nodes,
	// and the instruction part of a processing instruction.
	Text     string
	Children []*Node
}

// Document is a parsed XML document. Children holds the top-level nodes;
// exactly one of them is the root element for well-formed input.
type Document struct {
	Children []*Node
}

// Parse builds the node tree for data. An XML declaration at the start of
// the document is dropped together with its trailing newline; Bytes always
// emits the canonical declaration instead.
func Parse(data []byte) (*Document, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	doc := &Document{}
	var stack []*Node
	first := true
	skipDeclWS := false
	// The decoder resolves namespace prefixes to URIs; track the declared
	// prefixes so qualified names render as written.
	ns := map[string]string{"http://www.w3.org/XML/1998/namespace": "xml"}
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("invalid XML: %v", err)
		}
		var n *Node
		switch t := tok.(type) {
		case xml.StartElement:
			for _, a := range t.Attr {
				if a.Name.Space == "xmlns" {
					ns[a.Value] = a.Name.Local
				} else if a.Name.Space == "" && a.Name.Local == "xmlns" {
					ns[a.Value] = ""
				}
			}
			n = &Node{Kind: ElementNode, Name: qname(t.Name, ns), Attr: attrs(t.Attr, ns)}
		case xml.EndElement:
			if len(stack) == 0 {
				return nil, fmt.Errorf("invalid XML: unexpected </%s>", t.Name.Local)
			}
			stack = stack[:len(stack)-1]
			first = false
			continue
		case xml.CharData:
			s := string(t)
			if skipDeclWS && len(stack) == 0 {
				skipDeclWS = false
				s = strings.TrimPrefix(s, "\n")
				if s == "" {
					continue
				}
			}
			n = &Node{Kind: TextNode, Text: s}
		case xml.Comment:
			n = &Node{Kind: CommentNode, Text: string(t)}
		case xml.ProcInst:
			if first && t.Target == "xml" {
				skipDeclWS = true
				first = false
				continue
			}
			n = &Node{Kind: ProcInstNode, Name: t.Target, Text: string(t.Inst)}
		case xml.Directive:
			n = &Node{Kind: DirectiveNode, Text: string(t)}
		default:
			continue
		}
		skipDeclWS = false
		first = false
		if len(stack) == 0 {
			doc.Children = append(doc.Children, n)
		} else {
			p := stack[len(stack)-1]
			p.Children = append(p.Children, n)
		}
		if n.Kind == ElementNode {
			stack = append(stack, n)
		}
	}
	if len(stack) > 0 {
		return nil, fmt.Errorf("invalid XML: unclosed <%s>", stack[len(stack)-1].Name)
	}
	if doc.Root() == nil {
		return nil, fmt.Errorf("invalid XML: no root element")
	}
	return doc, nil
}

func qname(name xml.Name, ns map[string]string) string {
	if name.Space == "" {
		return name.Local
	}
	if p, ok := ns[name.Space]; ok && p != "" {
		return p + ":" + name.Local
	}
	return name.Local
}

func attrs(as []xml.Attr, ns map[string]string) []Attr {
	if len(as) == 0 {
		return nil
	}
	out := make([]Attr, len(as))
	for i, a := range as {
		var name string
		switch {
		case a.Name.Space == "":
			name = a.Name.Local
		case a.Name.Space == "xmlns":
			name = "xmlns:" + a.Name.Local
		default:
			name = qname(a.Name, ns)
		}
		out[i] = Attr{Name: name, Value: a.Value}
	}
	return out
}

// Root returns the document's root element, or nil if there is none.
func (d *Document) Root() *Node {
	for _, n := range d.Children {
		if n.Kind == ElementNode {
			return n
		}
	}
	return nil
}

// Bytes renders the document. Output starts with the canonical XML
// declaration and ends with exactly one trailing newline.
func (d *Document) Bytes() []byte {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	for _, n := range d.Children {
		writeNode(&buf, n)
	}
	b := buf.Bytes()
	if len(b) == 0 || b[len(b)-1] != '\n' {
		b = append(b, '\n')
	}
	return b
}

// Clone returns a deep copy of the document.
func (d *Document) Clone() *Document {
	c := &Document{Children: make([]*Node, len(d.Children))}
	for i, n := range d.Children {
		c.Children[i] = n.Clone()
	}
	return c
}

// Clone returns a deep copy of the node and its subtree.
func (n *Node) Clone() *Node {
	c := &Node{Kind: n.Kind, Name: n.Name, Text: n.Text}
	if n.Attr != nil {
		c.Attr = make([]Attr, len(n.Attr))
		copy(c.Attr, n.Attr)
	}
	if n.Children != nil {
		c.Children = make([]*Node, len(n.Children))
		for i, ch := range n.Children {
			c.Children[i] = ch.Clone()
		}
	}
	return c
}

// Child returns the first element child with the given name, or nil.
func (n *Node) Child(name string) *Node {
	for _, c := range n.Children {
		if c.Kind == ElementNode && c.Name == name {
			return c
		}
	}
	return nil
}

// Elements returns all element children with the given name.
func (n *Node) Elements(name string) []*Node {
	var out []*Node
	for _, c := range n.Children {
		if c.Kind == ElementNode && c.Name == name {
			out = append(out, c)
		}
	}
	return out
}

// Path descends through element children by name and returns the final
// node, or nil if any step is missing.
func (n *Node) Path(names ...string) *Node {
	cur := n
	for _, name := range names {
		cur = cur.Child(name)
		if cur == nil {
			return nil
		}
	}
	return cur
}

// TextContent returns the concatenated text of the node's text children.
func (n *Node) TextContent() string {
	var sb strings.Builder
	for _, c := range n.Children {
		if c.Kind == TextNode {
			sb.WriteString(c.Text)
		}
	}
	return sb.String()
}

// IsWhitespace reports whether the node is text consisting only of whitespace.
func (n *Node) IsWhitespace() bool {
	return n.Kind == TextNode && strings.TrimSpace(n.Text) == ""
}

// Index returns the position of c among the node's children, or -1.
func (n *Node) Index(c *Node) int {
	for i, ch := range n.Children {
		if ch == c {
			return i
		}
	}
	return -1
}

// AppendChild adds c as the last child of the node.
func (n *Node) AppendChild(c *Node) {
	n.Children = append(n.Children, c)
}

// InsertBefore inserts c immediately before ref. A nil ref appends.
func (n *Node) InsertBefore(c, ref *Node) {
	if ref == nil {
		n.AppendChild(c)
		return
	}
	i := n.Index(ref)
	if i < 0 {
		n.AppendChild(c)
		return
	}
	n.Children = append(n.Children, nil)
	copy(n.Children[i+1:], n.Children[i:])
	n.Children[i] = c
}

// InsertAt inserts c at position i, which must be in [0, len(Children)].
func (n *Node) InsertAt(i int, c *Node) {
	n.Children = append(n.Children, nil)
	copy(n.Children[i+1:], n.Children[i:])
	n.Children[i] = c
}

// RemoveChild removes c from the node's children and reports whether it
// was present.
func (n *Node) RemoveChild(c *Node) bool {
	i := n.Index(c)
	if i < 0 {
		return false
	}
	n.Children = append(n.Children[:i], n.Children[i+1:]...)
	return true
}

// ReplaceChild substitutes newChild for old in place and reports whether
// old was present.
func (n *Node) ReplaceChild(newChild, old *Node) bool {
	i := n.Index(old)
	if i < 0 {
		return false
	}
	n.Children[i] = newChild
	return true
}

// Element builds an element node with the given children.
func Element(name string, children ...*Node) *Node {
	return &Node{Kind: ElementNode, Name: name, Children: children}
}

// Text builds a text node.
func Text(s string) *Node {
	return &Node{Kind: TextNode, Text: s}
}

func writeNode(buf *bytes.Buffer, n *Node) {
	switch n.Kind {
	case ElementNode:
		buf.WriteByte('<')
		buf.WriteString(n.Name)
		for _, a := range n.Attr {
			buf.WriteByte(' ')
			buf.WriteString(a.Name)
			buf.WriteString(`="`)
			writeEscaped(buf, a.Value, true)
			buf.WriteByte('"')
		}
		buf.WriteByte('>')
		for _, c := range n.Children {
			writeNode(buf, c)
		}
		buf.WriteString("</")
		buf.WriteString(n.Name)
		buf.WriteByte('>')
	case TextNode:
		writeEscaped(buf, n.Text, false)
	case CommentNode:
		buf.WriteString("<!--")
		buf.WriteString(n.Text)
		buf.WriteString("-->")
	case ProcInstNode:
		buf.WriteString("<?")
		buf.WriteString(n.Name)
		if n.Text != "" {
			buf.WriteByte(' ')
			buf.WriteString(n.Text)
		}
		buf.WriteString("?>")
	case DirectiveNode:
		buf.WriteString("<!")
		buf.WriteString(n.Text)
		buf.WriteByte('>')
	}
}

// writeEscaped escapes the minimal character entities. Unlike
// xml.EscapeText it leaves tabs and newlines alone, so the original
// document layout survives rendering.
func writeEscaped(buf *bytes.Buffer, s string, attr bool) {
	for _, r := range s {
		switch r {
		case '&':
			buf.WriteString("&amp;")
		case '<':
			buf.WriteString("&lt;")
		case '>':
			buf.WriteString("&gt;")
		case '"':
			if attr {
				buf.WriteString("&quot;")
			} else {
				buf.WriteRune(r)
			}
		default:
			buf.WriteRune(r)
		}
	}
}
