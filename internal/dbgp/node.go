package dbgp

import (
	"encoding/xml"
	"strconv"
	"strings"
)

// XMLHeader precedes every serialized response.
const XMLHeader = `<?xml version="1.0" encoding="iso-8859-1"?>` + "\n"

// Attr is a single XML attribute. Attribute order is preserved so that
// serialization is deterministic.
type Attr struct {
	Name  string
	Value string
}

// Node is a response element.
type Node struct {
	Name     string
	Attrs    []Attr
	Children []*Node
	Text     string
	CDATA    bool
}

// NewNode returns an element with the given name.
func NewNode(name string) *Node {
	return &Node{Name: name}
}

// SetAttr sets an attribute, replacing any existing value in place.
func (n *Node) SetAttr(name, value string) *Node {
	for i := range n.Attrs {
		if n.Attrs[i].Name == name {
			n.Attrs[i].Value = value
			return n
		}
	}
	n.Attrs = append(n.Attrs, Attr{Name: name, Value: value})
	return n
}

// Attr returns the value of an attribute.
func (n *Node) Attr(name string) (string, bool) {
	for _, a := range n.Attrs {
		if a.Name == name {
			return a.Value, true
		}
	}
	return "", false
}

// Decorate places the given attributes first, replacing existing ones of
// the same name.
func (n *Node) Decorate(attrs ...Attr) *Node {
	rest := n.Attrs[:0:0]
	for _, a := range n.Attrs {
		keep := true
		for _, d := range attrs {
			if d.Name == a.Name {
				keep = false
				break
			}
		}
		if keep {
			rest = append(rest, a)
		}
	}
	n.Attrs = append(append([]Attr(nil), attrs...), rest...)
	return n
}

// AddChild appends a child element and returns it.
func (n *Node) AddChild(child *Node) *Node {
	n.Children = append(n.Children, child)
	return child
}

// SetText sets escaped character data.
func (n *Node) SetText(text string) *Node {
	n.Text, n.CDATA = text, false
	return n
}

// SetCDATA sets character data emitted as a CDATA section.
func (n *Node) SetCDATA(text string) *Node {
	n.Text, n.CDATA = text, true
	return n
}

// Find returns the first direct child with the given name.
func (n *Node) Find(name string) *Node {
	for _, c := range n.Children {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// FindAll returns every direct child with the given name.
func (n *Node) FindAll(name string) []*Node {
	var out []*Node
	for _, c := range n.Children {
		if c.Name == name {
			out = append(out, c)
		}
	}
	return out
}

// Serialize renders the node as a complete XML document.
func (n *Node) Serialize() string {
	var sb strings.Builder
	sb.WriteString(XMLHeader)
	n.write(&sb)
	return sb.String()
}

// Packet frames a serialized response for the wire: the decimal payload
// length, NUL, the payload, NUL.
func Packet(payload string) string {
	return strconv.Itoa(len(payload)) + "\x00" + payload + "\x00"
}

func (n *Node) write(sb *strings.Builder) {
	sb.WriteByte('<')
	sb.WriteString(n.Name)
	for _, a := range n.Attrs {
		sb.WriteByte(' ')
		sb.WriteString(a.Name)
		sb.WriteString(`="`)
		escape(sb, a.Value)
		sb.WriteByte('"')
	}
	if len(n.Children) == 0 && n.Text == "" {
		sb.WriteString("/>")
		return
	}
	sb.WriteByte('>')
	if n.Text != "" {
		if n.CDATA {
			sb.WriteString("<![CDATA[")
			sb.WriteString(strings.ReplaceAll(n.Text, "]]>", "]]]]><![CDATA[>"))
			sb.WriteString("]]>")
		} else {
			escape(sb, n.Text)
		}
	}
	for _, c := range n.Children {
		c.write(sb)
	}
	sb.WriteString("</")
	sb.WriteString(n.Name)
	sb.WriteByte('>')
}

func escape(sb *strings.Builder, s string) {
	// strings.Builder never fails to write.
	_ = xml.EscapeText(sb, []byte(s))
}
