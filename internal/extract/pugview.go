package extract

import (
	"encoding/json"
	"fmt"
	"strings"
)

// PUG View documents are decoded one section at a time: a section that does
// not match the expected shape is reported and skipped, its siblings are kept.

type document struct {
	Record *struct {
		RecordNumber int64             `json:"RecordNumber"`
		Section      []json.RawMessage `json:"Section"`
	} `json:"Record"`
}

type section struct {
	TOCHeading  string            `json:"TOCHeading"`
	Information []json.RawMessage `json:"Information"`
	Section     []json.RawMessage `json:"Section"`
}

type information struct {
	Name  string `json:"Name"`
	Value struct {
		StringWithMarkup []struct {
			String string `json:"String"`
		} `json:"StringWithMarkup"`
	} `json:"Value"`
}

// node is a decoded section with its position, used for error paths.
type node struct {
	section
	path string
}

// walker decodes sections lazily and collects decode failures.
type walker struct {
	degraded []Degradation
	label    string
}

func (w *walker) fail(path string, err error) {
	w.degraded = append(w.degraded, Degradation{Path: w.label, Location: path, Err: err})
}

// parseDocument returns the top-level sections of a PUG View body.
func (w *walker) parseDocument(body []byte) ([]node, bool) {
	var doc document
	if err := json.Unmarshal(body, &doc); err != nil {
		w.fail("Record", err)
		return nil, false
	}
	if doc.Record == nil {
		w.fail("Record", errMissingRecord)
		return nil, false
	}
	return w.children("Record", doc.Record.Section), true
}

// children decodes raw subsections, skipping (and reporting) malformed ones.
func (w *walker) children(parent string, raws []json.RawMessage) []node {
	nodes := make([]node, 0, len(raws))
	for i, raw := range raws {
		p := fmt.Sprintf("%s.Section[%d]", parent, i)
		var s section
		if err := json.Unmarshal(raw, &s); err != nil {
			w.fail(p, err)
			continue
		}
		if s.TOCHeading != "" {
			p = parent + "/" + s.TOCHeading
		}
		nodes = append(nodes, node{section: s, path: p})
	}
	return nodes
}

// infos decodes the Information entries of n.
func (w *walker) infos(n node) []information {
	out := make([]information, 0, len(n.Information))
	for i, raw := range n.Information {
		var info information
		if err := json.Unmarshal(raw, &info); err != nil {
			w.fail(fmt.Sprintf("%s.Information[%d]", n.path, i), err)
			continue
		}
		out = append(out, info)
	}
	return out
}

// strings returns the StringWithMarkup texts of n's own Information entries.
// When name is non-empty only entries with that Name are read.
func (w *walker) strings(n node, name string) []string {
	var out []string
	for _, info := range w.infos(n) {
		if name != "" && info.Name != name {
			continue
		}
		for _, s := range info.Value.StringWithMarkup {
			out = append(out, s.String)
		}
	}
	return out
}

// deepStrings returns the texts of n and every section below it, depth first.
func (w *walker) deepStrings(n node) []string {
	out := w.strings(n, "")
	for _, child := range w.children(n.path, n.Section) {
		out = append(out, w.deepStrings(child)...)
	}
	return out
}

// find returns the first section named heading at any depth below nodes.
func (w *walker) find(nodes []node, heading string) (node, bool) {
	for _, n := range nodes {
		if n.TOCHeading == heading {
			return n, true
		}
	}
	for _, n := range nodes {
		if found, ok := w.find(w.children(n.path, n.Section), heading); ok {
			return found, true
		}
	}
	return node{}, false
}

// child returns the direct subsection of n named heading.
func (w *walker) child(n node, heading string) (node, bool) {
	for _, c := range w.children(n.path, n.Section) {
		if c.TOCHeading == heading {
			return c, true
		}
	}
	return node{}, false
}

func headingMatches(heading string, keywords []string) bool {
	lower := strings.ToLower(heading)
	for _, k := range keywords {
		if strings.Contains(lower, k) {
			return true
		}
	}
	return false
}
