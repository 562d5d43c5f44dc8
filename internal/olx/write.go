package olx

import (
	"encoding/json"
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/yungbote/courseport-backend/internal/course/fields"
	"github.com/yungbote/courseport-backend/internal/keys"
)

// Writer serializes a block tree under one export directory, one file per
// block in a directory named after its type.
type Writer struct {
	dir string
}

func NewWriter(dir string) *Writer {
	return &Writer{dir: dir}
}

// WriteCourse writes the pointer root plus the whole tree.
func (w *Writer) WriteCourse(root *Node, course keys.CourseKey, isLibrary bool) error {
	if err := w.WriteBlockFile(root, course.Run); err != nil {
		return err
	}

	var pointer string
	if isLibrary {
		pointer = fmt.Sprintf("<library org=%s library=%s url_name=%s/>\n",
			quoteAttr(course.Org), quoteAttr(course.Course), quoteAttr(course.Run))
	} else {
		pointer = fmt.Sprintf("<course org=%s course=%s url_name=%s/>\n",
			quoteAttr(course.Org), quoteAttr(course.Course), quoteAttr(course.Run))
	}
	name := "course.xml"
	if isLibrary {
		name = "library.xml"
	}
	return os.WriteFile(filepath.Join(w.dir, name), []byte(pointer), 0o644)
}

// WriteBlockFile writes one block (and recursively its children) to
// {type}/{fileName}.xml. The fileName is normally the block's url_name; the
// root passes the run instead.
func (w *Writer) WriteBlockFile(n *Node, fileName string) error {
	for _, c := range n.Children {
		if err := w.WriteBlockFile(c, c.URLName); err != nil {
			return err
		}
	}

	body, companion, err := w.renderBlock(n)
	if err != nil {
		return err
	}

	dir := filepath.Join(w.dir, n.BlockType)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	if companion != nil {
		p := filepath.Join(dir, SafeName(fileName)+".html")
		if err := os.WriteFile(p, companion, 0o644); err != nil {
			return err
		}
	}
	return os.WriteFile(filepath.Join(dir, SafeName(fileName)+".xml"), body, 0o644)
}

func (w *Writer) renderBlock(n *Node) (body, companion []byte, err error) {
	attrs, err := blockAttrs(n)
	if err != nil {
		return nil, nil, err
	}

	var inner string
	if isLeaf(n.BlockType) {
		if v, ok := n.Fields["data"]; ok && v.Kind == fields.KindString {
			if htmlDataTypes[n.BlockType] {
				companion = []byte(v.Str)
			} else {
				inner = v.Str
			}
		}
	}

	var b strings.Builder
	b.WriteString("<")
	b.WriteString(n.BlockType)
	for _, a := range attrs {
		b.WriteString(" ")
		b.WriteString(a[0])
		b.WriteString("=")
		b.WriteString(quoteAttr(a[1]))
	}
	if inner == "" && len(n.Children) == 0 {
		b.WriteString("/>\n")
		return []byte(b.String()), companion, nil
	}
	b.WriteString(">")
	if inner != "" {
		b.WriteString("\n")
		b.WriteString(inner)
		b.WriteString("\n")
	}
	for _, c := range n.Children {
		fmt.Fprintf(&b, "\n  <%s url_name=%s/>", c.BlockType, quoteAttr(c.URLName))
	}
	if len(n.Children) > 0 {
		b.WriteString("\n")
	}
	b.WriteString("</")
	b.WriteString(n.BlockType)
	b.WriteString(">\n")
	return []byte(b.String()), companion, nil
}

// blockAttrs flattens the field map into sorted attribute pairs. The data
// field serializes as body content and xml_attributes expand back into plain
// attributes.
func blockAttrs(n *Node) ([][2]string, error) {
	var attrs [][2]string
	for name, v := range n.Fields {
		if name == "data" && isLeaf(n.BlockType) {
			continue
		}
		if name == "xml_attributes" {
			if v.Kind != fields.KindJson || len(v.Raw) == 0 {
				continue
			}
			var m map[string]string
			if err := json.Unmarshal(v.Raw, &m); err != nil {
				return nil, fmt.Errorf("xml_attributes on %s: %w", n.URLName, err)
			}
			for k, s := range m {
				attrs = append(attrs, [2]string{k, s})
			}
			continue
		}
		s, err := FormatValue(v)
		if err != nil {
			return nil, fmt.Errorf("field %s on %s: %w", name, n.URLName, err)
		}
		attrs = append(attrs, [2]string{name, s})
	}
	sort.Slice(attrs, func(i, j int) bool { return attrs[i][0] < attrs[j][0] })
	return attrs, nil
}

func quoteAttr(s string) string {
	var b strings.Builder
	b.WriteString(`"`)
	_ = xml.EscapeText(&b, []byte(s))
	b.WriteString(`"`)
	return b.String()
}
