// Package model holds the records that flow between the resolver, the
// normalizer, the batch processor and the exporters.
package model

import "encoding/json"

// NoDataFound is written in place of hazard or precaution codes when the
// provider has no GHS classification for a compound.
const NoDataFound = "No data found"

// Literature reference categories, in the order they are exported.
const (
	RefDiseaseAndReferences   = "Disease and References"
	RefNatureJournal          = "Nature Journal References"
	RefSpringerNature         = "Springer Nature References"
	RefOtherSafetyInformation = "Other Safety Information"
)

// ReferenceCategories lists the fixed literature categories.
var ReferenceCategories = []string{
	RefDiseaseAndReferences,
	RefNatureJournal,
	RefSpringerNature,
	RefOtherSafetyInformation,
}

// Status describes how a record was produced. It is not serialized.
type Status string

const (
	StatusOK       Status = "ok"
	StatusNotFound Status = "not_found"
	StatusFailed   Status = "failed"
	StatusSkipped  Status = "skipped"
)

// InputRecord is one registry number to look up.
type InputRecord struct {
	// Index is the 0-based position in the input.
	Index int
	// CAS is the trimmed registry number.
	CAS string
	// Row holds the passthrough columns of the input table, nil for CLI input.
	Row map[string]string
	// Skip, when non-empty, is the reason the record must not be looked up.
	Skip string
}

// Record is the normalized result for one input. It is either a data record
// (Error empty, all containers non-nil) or an error record.
type Record struct {
	CAS                  string              `json:"CAS"`
	PubChemCID           int64               `json:"PubChemCID,omitempty"`
	IUPAC                string              `json:"IUPAC"`
	SMILES               string              `json:"SMILES"`
	Names                []string            `json:"Names"`
	Synonyms             []string            `json:"Synonyms"`
	LiteratureReferences map[string][]string `json:"LiteratureReferences"`
	ToxData              map[string][]string `json:"ToxData"`
	Hazards              []string            `json:"Hazards"`
	Precautions          []string            `json:"Precautions"`
	Error                string              `json:"error,omitempty"`

	Status Status `json:"-"`
}

// NewRecord returns a data record for cas with every container initialized.
func NewRecord(cas string, cid int64) Record {
	refs := make(map[string][]string, len(ReferenceCategories))
	for _, c := range ReferenceCategories {
		refs[c] = []string{}
	}
	return Record{
		CAS:                  cas,
		PubChemCID:           cid,
		Names:                []string{},
		Synonyms:             []string{},
		LiteratureReferences: refs,
		ToxData:              map[string][]string{},
		Hazards:              []string{},
		Precautions:          []string{},
		Status:               StatusOK,
	}
}

// NewErrorRecord returns an error record. cid is zero when resolution did not succeed.
func NewErrorRecord(cas string, cid int64, status Status, msg string) Record {
	return Record{CAS: cas, PubChemCID: cid, Error: msg, Status: status}
}

// IsError reports whether r is an error record.
func (r Record) IsError() bool {
	return r.Error != ""
}

type errorRecord struct {
	CAS        string `json:"CAS"`
	PubChemCID int64  `json:"PubChemCID,omitempty"`
	Error      string `json:"error"`
}

// MarshalJSON writes error records as {CAS, PubChemCID, error} and data
// records with every field, nil containers replaced by empty ones.
func (r Record) MarshalJSON() ([]byte, error) {
	if r.IsError() {
		return json.Marshal(errorRecord{CAS: r.CAS, PubChemCID: r.PubChemCID, Error: r.Error})
	}
	type plain Record
	p := plain(r.withEmptyContainers())
	return json.Marshal(p)
}

// UnmarshalJSON restores a record and its status from either shape.
func (r *Record) UnmarshalJSON(data []byte) error {
	type plain Record
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*r = Record(p)
	if r.Error != "" {
		r.Status = StatusFailed
	} else {
		r.Status = StatusOK
	}
	return nil
}

func (r Record) withEmptyContainers() Record {
	if r.Names == nil {
		r.Names = []string{}
	}
	if r.Synonyms == nil {
		r.Synonyms = []string{}
	}
	refs := make(map[string][]string, len(ReferenceCategories))
	for k, v := range r.LiteratureReferences {
		refs[k] = v
	}
	for _, c := range ReferenceCategories {
		if refs[c] == nil {
			refs[c] = []string{}
		}
	}
	r.LiteratureReferences = refs
	if r.ToxData == nil {
		r.ToxData = map[string][]string{}
	}
	if r.Hazards == nil {
		r.Hazards = []string{}
	}
	if r.Precautions == nil {
		r.Precautions = []string{}
	}
	return r
}

// ViewType names one data view of a compound.
type ViewType string

const (
	// ViewCompound is the full PUG View record: names, synonyms, literature and safety sections.
	ViewCompound ViewType = "compound"
	// ViewProperties carries the computed IUPAC name and SMILES.
	ViewProperties ViewType = "properties"
	// ViewGHS is the PUG View record restricted to the GHS Classification heading.
	ViewGHS ViewType = "ghs"
)

// RawView is an undecoded provider response for one (CID, view) pair.
type RawView struct {
	View ViewType
	CID  int64
	Body []byte
	// Missing is set when the provider had no data for the view.
	Missing bool
}

// Mode selects which views are fetched and how they are normalized.
type Mode string

const (
	// ModeFull fetches the compound record and the property view and fills every field.
	ModeFull Mode = "full"
	// ModeGHS fetches only the GHS Classification view and fills Hazards and Precautions.
	ModeGHS Mode = "ghs"
)

// Views returns the views fetched for each compound in mode m.
func (m Mode) Views() []ViewType {
	if m == ModeGHS {
		return []ViewType{ViewGHS}
	}
	return []ViewType{ViewCompound, ViewProperties}
}

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	return m == ModeFull || m == ModeGHS
}
