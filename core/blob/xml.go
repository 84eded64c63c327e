package blob

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/antchfx/xmlquery"
	"github.com/antchfx/xpath"

	"github.com/FocuswithJustin/walscope/core/encoding"
	"github.com/FocuswithJustin/walscope/core/errors"
)

// XMLInfo summarizes an XML BLOB.
type XMLInfo struct {
	Root  string   // name of the document element
	Plist bool     // document element is <plist>
	Keys  []string // top-level dictionary keys of a plist
}

var plistKeys = xpath.MustCompile("/plist/dict/key")

func parseXML(data []byte) (*xmlquery.Node, error) {
	doc, err := xmlquery.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parsing XML: %w", err)
	}
	return doc, nil
}

func rootElement(doc *xmlquery.Node) *xmlquery.Node {
	for child := doc.FirstChild; child != nil; child = child.NextSibling {
		if child.Type == xmlquery.ElementNode {
			return child
		}
	}
	return nil
}

// InspectXML parses data and reports its document element and, for
// property lists, the keys of the top-level dictionary.
func InspectXML(data []byte) (XMLInfo, error) {
	doc, err := parseXML(data)
	if err != nil {
		return XMLInfo{}, err
	}
	root := rootElement(doc)
	if root == nil {
		return XMLInfo{}, fmt.Errorf("parsing XML: no document element")
	}

	info := XMLInfo{Root: root.Data, Plist: root.Data == "plist"}
	if info.Plist {
		for _, k := range xmlquery.QuerySelectorAll(doc, plistKeys) {
			info.Keys = append(info.Keys, strings.TrimSpace(k.InnerText()))
		}
	}
	return info, nil
}

// ValidateXPath reports whether expr compiles.
func ValidateXPath(expr string) error {
	if _, err := xpath.Compile(expr); err != nil {
		return errors.NewValidation("xpath", err.Error())
	}
	return nil
}

// QueryXML evaluates an XPath expression against data and returns the
// text of every matching node.
func QueryXML(data []byte, expr string) ([]string, error) {
	if err := ValidateXPath(expr); err != nil {
		return nil, err
	}
	doc, err := parseXML(data)
	if err != nil {
		return nil, err
	}
	nodes, err := xmlquery.QueryAll(doc, expr)
	if err != nil {
		return nil, fmt.Errorf("xpath query failed: %w", err)
	}
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = n.InnerText()
	}
	return out, nil
}

// FormatXML pretty-prints data with the given indent ("  " when empty).
func FormatXML(data []byte, indent string) ([]byte, error) {
	if indent == "" {
		indent = "  "
	}
	doc, err := parseXML(data)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	formatNode(&buf, doc, 0, indent)
	return buf.Bytes(), nil
}

func formatNode(w *bytes.Buffer, n *xmlquery.Node, depth int, indent string) {
	switch n.Type {
	case xmlquery.DocumentNode:
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			formatNode(w, child, depth, indent)
		}

	case xmlquery.DeclarationNode:
		w.WriteString("<?xml")
		for _, attr := range n.Attr {
			fmt.Fprintf(w, " %s=\"%s\"", attr.Name.Local, encoding.EscapeXMLAttr(attr.Value))
		}
		w.WriteString("?>\n")

	case xmlquery.ElementNode:
		writeIndent(w, depth, indent)
		w.WriteString("<")
		writeName(w, n)
		for _, attr := range n.Attr {
			w.WriteString(" ")
			if attr.Name.Space != "" {
				w.WriteString(attr.Name.Space)
				w.WriteString(":")
			}
			fmt.Fprintf(w, "%s=\"%s\"", attr.Name.Local, encoding.EscapeXMLAttr(attr.Value))
		}

		if n.FirstChild == nil {
			w.WriteString("/>\n")
			return
		}

		nested := false
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			if child.Type == xmlquery.ElementNode {
				nested = true
				break
			}
		}

		w.WriteString(">")
		if nested {
			w.WriteString("\n")
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			switch child.Type {
			case xmlquery.ElementNode, xmlquery.CommentNode:
				formatNode(w, child, depth+1, indent)
			case xmlquery.TextNode:
				text := strings.TrimSpace(child.Data)
				if text == "" {
					continue
				}
				if nested {
					writeIndent(w, depth+1, indent)
				}
				w.WriteString(encoding.EscapeXMLText(text))
				if nested {
					w.WriteString("\n")
				}
			case xmlquery.CharDataNode:
				w.WriteString("<![CDATA[")
				w.WriteString(child.Data)
				w.WriteString("]]>")
			}
		}
		if nested {
			writeIndent(w, depth, indent)
		}
		w.WriteString("</")
		writeName(w, n)
		w.WriteString(">\n")

	case xmlquery.CommentNode:
		writeIndent(w, depth, indent)
		w.WriteString("<!--")
		w.WriteString(n.Data)
		w.WriteString("-->\n")
	}
}

func writeName(w *bytes.Buffer, n *xmlquery.Node) {
	if n.Prefix != "" {
		w.WriteString(n.Prefix)
		w.WriteString(":")
	}
	w.WriteString(n.Data)
}

func writeIndent(w *bytes.Buffer, depth int, indent string) {
	for range depth {
		w.WriteString(indent)
	}
}
