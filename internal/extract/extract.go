// Package extract turns raw PubChem views into normalized records.
//
// Everything here is a pure function over bytes: nothing performs I/O and
// nothing fails outright. A part of a view that cannot be read degrades to
// an empty container (or the "No data found" sentinel for hazard codes) and
// is reported as a Degradation so the caller can log and count it.
package extract

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"toxfetch/internal/model"
	"toxfetch/internal/util"
)

// Logical parts of a record, used as Degradation.Path and as a metrics label.
const (
	PathRecord     = "record"
	PathNames      = "names"
	PathSynonyms   = "synonyms"
	PathLiterature = "literature"
	PathToxData    = "toxdata"
	PathProperties = "properties"
	PathGHS        = "ghs"
)

// PUG View headings read by the normalizer.
const (
	headingNames    = "Names and Identifiers"
	headingComputed = "Computed Descriptors"
	headingIUPAC    = "IUPAC Name"
	headingSynonyms = "Synonyms"
	headingGHS      = "GHS Classification"
)

// toxKeywords select the safety related sections copied into ToxData.
var toxKeywords = []string{"tox", "safety", "hazard", "health", "exposure", "risk", "carcinogen"}

var (
	errMissingRecord = errors.New("response has no Record")
	errMissingView   = errors.New("view not available")
	errNoProperties  = errors.New("property table is empty")
)

// Degradation reports a part of a view that could not be read.
type Degradation struct {
	// Path is the logical part of the record that was degraded.
	Path string
	// Location points into the provider document, when known.
	Location string
	Err      error
}

func (d Degradation) Error() string {
	if d.Location != "" {
		return fmt.Sprintf("%s (%s): %v", d.Path, d.Location, d.Err)
	}
	return fmt.Sprintf("%s: %v", d.Path, d.Err)
}

func (d Degradation) Unwrap() error {
	return d.Err
}

// HasPath reports whether any degradation concerns path.
func HasPath(degraded []Degradation, path string) bool {
	for _, d := range degraded {
		if d.Path == path {
			return true
		}
	}
	return false
}

// Normalize builds a data record from the views fetched for one compound.
// The CAS field is left for the caller; the CID is taken from the views.
// The returned record always has every container initialized.
func Normalize(views map[model.ViewType]model.RawView, mode model.Mode) (model.Record, []Degradation) {
	var cid int64
	for _, v := range views {
		if v.CID != 0 {
			cid = v.CID
			break
		}
	}
	rec := model.NewRecord("", cid)

	var degraded []Degradation
	if mode == model.ModeGHS {
		degraded = normalizeGHS(&rec, views[model.ViewGHS])
	} else {
		degraded = append(degraded, normalizeCompound(&rec, views[model.ViewCompound])...)
		degraded = append(degraded, normalizeProperties(&rec, views[model.ViewProperties])...)
	}
	return rec, dedupDegradations(degraded)
}

// normalizeCompound fills names, synonyms, literature, tox data and the
// hazard codes from the full compound record.
func normalizeCompound(rec *model.Record, view model.RawView) []Degradation {
	rec.Hazards, rec.Precautions = noData()
	if view.Missing || len(view.Body) == 0 {
		return []Degradation{{Path: PathRecord, Err: errMissingView}}
	}

	w := &walker{label: PathRecord}
	top, ok := w.parseDocument(view.Body)
	if !ok {
		return w.degraded
	}

	w.label = PathNames
	if names, ok := w.child(firstOf(top, headingNames), headingComputed); ok {
		rec.Names = util.AppendUnique(rec.Names, map[string]struct{}{}, iupacNames(w, names)...)
	}

	w.label = PathSynonyms
	if syn, ok := w.child(firstOf(top, headingNames), headingSynonyms); ok {
		rec.Synonyms = util.Dedup(w.deepStrings(syn))
	}

	w.label = PathLiterature
	for _, n := range top {
		if _, ok := rec.LiteratureReferences[n.TOCHeading]; ok {
			rec.LiteratureReferences[n.TOCHeading] = append(rec.LiteratureReferences[n.TOCHeading], w.strings(n, "")...)
		}
	}

	w.label = PathToxData
	for _, n := range top {
		collectTox(w, n, rec.ToxData)
	}

	w.label = PathGHS
	if ghs, ok := w.find(top, headingGHS); ok {
		rec.Hazards, rec.Precautions = ExtractCodes(strings.Join(w.deepStrings(ghs), "\n"))
	}
	return w.degraded
}

// iupacNames reads the IUPAC name either from a named Information entry of
// Computed Descriptors or from its "IUPAC Name" subsection.
func iupacNames(w *walker, computed node) []string {
	names := w.strings(computed, headingIUPAC)
	if sub, ok := w.child(computed, headingIUPAC); ok {
		names = append(names, w.strings(sub, "")...)
	}
	return names
}

// collectTox copies the texts of every section whose heading names a safety
// topic, descending only through matching sections.
func collectTox(w *walker, n node, out map[string][]string) {
	if !headingMatches(n.TOCHeading, toxKeywords) {
		return
	}
	if _, ok := out[n.TOCHeading]; !ok {
		out[n.TOCHeading] = []string{}
	}
	out[n.TOCHeading] = append(out[n.TOCHeading], w.strings(n, "")...)
	for _, c := range w.children(n.path, n.Section) {
		collectTox(w, c, out)
	}
}

func firstOf(nodes []node, heading string) node {
	for _, n := range nodes {
		if n.TOCHeading == heading {
			return n
		}
	}
	return node{}
}

type propertyTable struct {
	PropertyTable *struct {
		Properties []map[string]json.RawMessage `json:"Properties"`
	} `json:"PropertyTable"`
}

// smilesKeys are tried in order; PubChem renamed CanonicalSMILES in 2025.
var smilesKeys = []string{"CanonicalSMILES", "SMILES", "ConnectivitySMILES", "IsomericSMILES"}

// normalizeProperties fills IUPAC and SMILES from the property view.
func normalizeProperties(rec *model.Record, view model.RawView) []Degradation {
	if view.Missing || len(view.Body) == 0 {
		return []Degradation{{Path: PathProperties, Err: errMissingView}}
	}
	var table propertyTable
	if err := json.Unmarshal(view.Body, &table); err != nil {
		return []Degradation{{Path: PathProperties, Location: "PropertyTable", Err: err}}
	}
	if table.PropertyTable == nil || len(table.PropertyTable.Properties) == 0 {
		return []Degradation{{Path: PathProperties, Location: "PropertyTable", Err: errNoProperties}}
	}
	props := table.PropertyTable.Properties[0]
	rec.IUPAC = stringProperty(props, "IUPACName")
	for _, k := range smilesKeys {
		if s := stringProperty(props, k); s != "" {
			rec.SMILES = s
			break
		}
	}
	return nil
}

func stringProperty(props map[string]json.RawMessage, key string) string {
	raw, ok := props[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

// normalizeGHS fills Hazards and Precautions from the GHS Classification view.
// A body that is not a readable document is scanned as plain text.
func normalizeGHS(rec *model.Record, view model.RawView) []Degradation {
	rec.Hazards, rec.Precautions = noData()
	if view.Missing || len(view.Body) == 0 {
		return nil
	}

	w := &walker{label: PathGHS}
	top, ok := w.parseDocument(view.Body)
	if !ok {
		rec.Hazards, rec.Precautions = ExtractCodes(string(view.Body))
		return w.degraded
	}
	var text []string
	for _, n := range top {
		text = append(text, w.deepStrings(n)...)
	}
	rec.Hazards, rec.Precautions = ExtractCodes(strings.Join(text, "\n"))
	return w.degraded
}

func dedupDegradations(in []Degradation) []Degradation {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := in[:0]
	for _, d := range in {
		// A location is reported once, under the first part that read it.
		key := d.Location
		if key == "" {
			key = d.Path
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, d)
	}
	return out
}
