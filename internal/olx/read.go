package olx

import (
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/yungbote/courseport-backend/internal/course/fields"
	"github.com/yungbote/courseport-backend/internal/keys"
)

// RootBlockID is the block_id every course root carries.
const RootBlockID = "course"

// MissingRootError means the extracted tree has no course.xml or library.xml
// at any depth.
type MissingRootError struct {
	Dir string
}

func (e *MissingRootError) Error() string {
	return fmt.Sprintf("no course.xml or library.xml under %s", e.Dir)
}

// element is the generic shape every block file parses into.
type element struct {
	XMLName  xml.Name
	Attrs    []xml.Attr `xml:",any,attr"`
	Inner    string     `xml:",innerxml"`
	Children []element  `xml:",any"`
}

func (el *element) attr(name string) (string, bool) {
	for _, a := range el.Attrs {
		if a.Name.Local == name {
			return a.Value, true
		}
	}
	return "", false
}

// pointer elements carry only a url_name and no body.
func (el *element) isPointer() bool {
	if len(el.Children) > 0 || strings.TrimSpace(el.Inner) != "" {
		return false
	}
	_, ok := el.attr("url_name")
	return ok && len(el.Attrs) == 1
}

// htmlDataTypes store their data in a companion .html file beside the block
// file, because the payload is rarely well-formed XML.
var htmlDataTypes = map[string]bool{
	"html":        true,
	"about":       true,
	"course_info": true,
	"static_tab":  true,
}

// FindRoot locates the directory holding course.xml or library.xml, searching
// breadth-first so the shallowest root wins.
func FindRoot(dir string) (rootDir string, isLibrary bool, err error) {
	queue := []string{dir}
	for len(queue) > 0 {
		d := queue[0]
		queue = queue[1:]
		if _, err := os.Stat(filepath.Join(d, "course.xml")); err == nil {
			return d, false, nil
		}
		if _, err := os.Stat(filepath.Join(d, "library.xml")); err == nil {
			return d, true, nil
		}
		entries, err := os.ReadDir(d)
		if err != nil {
			return "", false, err
		}
		sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
		for _, e := range entries {
			if e.IsDir() {
				queue = append(queue, filepath.Join(d, e.Name()))
			}
		}
	}
	return "", false, &MissingRootError{Dir: dir}
}

// Reader decodes one extracted course tree.
type Reader struct {
	dir       string
	isLibrary bool
}

func NewReader(rootDir string, isLibrary bool) *Reader {
	return &Reader{dir: rootDir, isLibrary: isLibrary}
}

func (r *Reader) IsLibrary() bool { return r.isLibrary }

// CourseKey reads the identity encoded in the root pointer file.
func (r *Reader) CourseKey() (keys.CourseKey, error) {
	el, err := r.parseFile(r.rootFile())
	if err != nil {
		return keys.CourseKey{}, err
	}
	org, _ := el.attr("org")
	run, _ := el.attr("url_name")
	var course string
	if r.isLibrary {
		course, _ = el.attr("library")
		if run == "" {
			run = "library"
		}
	} else {
		course, _ = el.attr("course")
	}
	if org == "" || course == "" || run == "" {
		return keys.CourseKey{}, fmt.Errorf("incomplete course identity in %s", filepath.Base(r.rootFile()))
	}
	return keys.NewCourseKey(org, course, run), nil
}

// ReadCourse loads the whole published tree, root first.
func (r *Reader) ReadCourse() (*Node, error) {
	el, err := r.parseFile(r.rootFile())
	if err != nil {
		return nil, err
	}
	run, _ := el.attr("url_name")
	if run == "" && r.isLibrary {
		run = "library"
	}

	visited := map[string]bool{}
	var root *Node
	if el.isPointer() || len(el.Attrs) <= 3 && len(el.Children) == 0 && strings.TrimSpace(el.Inner) == "" {
		root, err = r.loadNode("course", run, visited)
	} else {
		// Single-file form: the root carries its definition inline.
		el.XMLName.Local = "course"
		root, err = r.nodeFromElement(el, visited)
	}
	if err != nil {
		return nil, err
	}
	root.URLName = RootBlockID
	// Identity attributes live in the pointer file, not on the block.
	root.DeleteXMLAttr("org")
	root.DeleteXMLAttr("course")
	root.DeleteXMLAttr("library")
	return root, nil
}

// ReadDrafts parses every block file under drafts/. Topology metadata
// (parent_url, index_in_children_list) stays in xml_attributes for the
// caller to interpret.
func (r *Reader) ReadDrafts() ([]*Node, error) {
	draftsDir := filepath.Join(r.dir, "drafts")
	if _, err := os.Stat(draftsDir); err != nil {
		return nil, nil
	}
	var nodes []*Node
	err := filepath.WalkDir(draftsDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), ".xml") {
			return nil
		}
		el, err := r.parseFile(p)
		if err != nil {
			return fmt.Errorf("parse draft %s: %w", d.Name(), err)
		}
		if _, ok := el.attr("url_name"); !ok {
			el.Attrs = append(el.Attrs, xml.Attr{
				Name:  xml.Name{Local: "url_name"},
				Value: strings.TrimSuffix(d.Name(), ".xml"),
			})
		}
		node, err := r.draftNodeFromElement(el, map[string]bool{})
		if err != nil {
			return fmt.Errorf("decode draft %s: %w", d.Name(), err)
		}
		nodes = append(nodes, node)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return nodes, nil
}

func (r *Reader) rootFile() string {
	if r.isLibrary {
		return filepath.Join(r.dir, "library.xml")
	}
	return filepath.Join(r.dir, "course.xml")
}

func (r *Reader) parseFile(path string) (*element, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var el element
	if err := xml.Unmarshal(data, &el); err != nil {
		return nil, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	return &el, nil
}

// loadNode reads the block file for (blockType, urlName).
func (r *Reader) loadNode(blockType, urlName string, visited map[string]bool) (*Node, error) {
	id := blockType + "/" + urlName
	if visited[id] {
		return nil, fmt.Errorf("cycle through %s", id)
	}
	visited[id] = true

	el, err := r.parseFile(filepath.Join(r.dir, blockType, SafeName(urlName)+".xml"))
	if err != nil {
		return nil, err
	}
	el.XMLName.Local = blockType
	node, err := r.nodeFromElement(el, visited)
	if err != nil {
		return nil, err
	}
	node.URLName = urlName
	return node, nil
}

func (r *Reader) nodeFromElement(el *element, visited map[string]bool) (*Node, error) {
	return r.buildNode(el, visited, false)
}

// draftNodeFromElement resolves child pointers against drafts/ before the
// published tree.
func (r *Reader) draftNodeFromElement(el *element, visited map[string]bool) (*Node, error) {
	return r.buildNode(el, visited, true)
}

func (r *Reader) buildNode(el *element, visited map[string]bool, preferDrafts bool) (*Node, error) {
	blockType := el.XMLName.Local
	node := &Node{
		BlockType: blockType,
		Fields:    fields.Map{},
	}
	xmlAttrs := map[string]string{}
	for _, a := range el.Attrs {
		name := a.Name.Local
		if name == "url_name" {
			node.URLName = a.Value
			continue
		}
		if name == "xmlns" || strings.HasPrefix(a.Name.Space, "xmlns") {
			continue
		}
		if d, ok := fields.Known(blockType, name); ok && name != "xml_attributes" {
			v, err := ParseValue(d, a.Value)
			if err != nil {
				return nil, fmt.Errorf("field %s on %s: %w", name, blockType, err)
			}
			node.Fields[name] = v
			continue
		}
		xmlAttrs[name] = a.Value
	}
	if node.URLName == "" {
		node.URLName = strings.ReplaceAll(uuid.New().String(), "-", "")
	}
	if len(xmlAttrs) > 0 {
		raw, err := json.Marshal(xmlAttrs)
		if err != nil {
			return nil, err
		}
		node.Fields["xml_attributes"] = fields.Json(raw)
	}

	if isLeaf(blockType) {
		data := strings.TrimSpace(el.Inner)
		if data == "" {
			data = r.companionData(node, xmlAttrs)
		}
		node.Fields["data"] = fields.String(data)
		return node, nil
	}

	for i := range el.Children {
		child := &el.Children[i]
		if child.isPointer() {
			urlName, _ := child.attr("url_name")
			cn, err := r.resolveChild(child.XMLName.Local, urlName, visited, preferDrafts)
			if err != nil {
				return nil, err
			}
			node.Children = append(node.Children, cn)
			continue
		}
		cn, err := r.buildNode(child, visited, preferDrafts)
		if err != nil {
			return nil, err
		}
		node.Children = append(node.Children, cn)
	}
	return node, nil
}

func (r *Reader) resolveChild(blockType, urlName string, visited map[string]bool, preferDrafts bool) (*Node, error) {
	if preferDrafts {
		p := filepath.Join(r.dir, "drafts", blockType, SafeName(urlName)+".xml")
		if el, err := r.parseFile(p); err == nil {
			el.XMLName.Local = blockType
			node, err := r.buildNode(el, visited, true)
			if err != nil {
				return nil, err
			}
			node.URLName = urlName
			return node, nil
		}
	}
	return r.loadNode(blockType, urlName, visited)
}

// companionData loads the sidecar .html payload for html-bearing leaves.
func (r *Reader) companionData(node *Node, xmlAttrs map[string]string) string {
	if !htmlDataTypes[node.BlockType] {
		return ""
	}
	name := node.URLName
	if fn, ok := xmlAttrs["filename"]; ok && fn != "" {
		name = fn
	}
	for _, p := range []string{
		filepath.Join(r.dir, node.BlockType, SafeName(name)+".html"),
		filepath.Join(r.dir, node.BlockType, SafeName(name)),
	} {
		if data, err := os.ReadFile(p); err == nil {
			return string(data)
		}
	}
	return ""
}
