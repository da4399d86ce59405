package metadata

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// PrimaryIndexName is the implicit primary-key index; it is always ready.
const PrimaryIndexName = "id"

const (
	indexPrefix = "hz_"
	geoTag      = "geo_"
	multiTag    = "multi_"
)

// IndexSpec describes one secondary index: the ordered field paths it covers
// and its flags. Multi is the offset of the multi-indexed field, or -1.
type IndexSpec struct {
	Fields [][]string
	Geo    bool
	Multi  int
}

// PrimaryIndexSpec is the spec of the implicit id index.
func PrimaryIndexSpec() IndexSpec {
	return IndexSpec{Fields: [][]string{{"id"}}, Multi: -1}
}

// Name encodes the spec into the physical index name:
// hz_[geo_][multi_<offset>_]<json-array-of-field-paths>. The primary index
// encodes to the literal "id". Encoding and DecodeIndexName round-trip
// exactly; physical indexes are looked up by exact string match.
func (s IndexSpec) Name() string {
	if !s.Geo && s.Multi < 0 && len(s.Fields) == 1 &&
		len(s.Fields[0]) == 1 && s.Fields[0][0] == "id" {
		return PrimaryIndexName
	}
	var b strings.Builder
	b.WriteString(indexPrefix)
	if s.Geo {
		b.WriteString(geoTag)
	}
	if s.Multi >= 0 {
		b.WriteString(multiTag)
		b.WriteString(strconv.Itoa(s.Multi))
		b.WriteString("_")
	}
	enc, _ := json.Marshal(s.Fields) // [][]string cannot fail
	b.Write(enc)
	return b.String()
}

// DecodeIndexName parses a physical index name back into its spec. Names not
// produced by the gateway (foreign indexes, malformed field lists) return an
// error and are skipped by table reconciliation.
func DecodeIndexName(name string) (IndexSpec, error) {
	if name == PrimaryIndexName {
		return PrimaryIndexSpec(), nil
	}
	rest, ok := strings.CutPrefix(name, indexPrefix)
	if !ok {
		return IndexSpec{}, fmt.Errorf("index %q: not a gateway index", name)
	}

	spec := IndexSpec{Multi: -1}
	if r, ok := strings.CutPrefix(rest, geoTag); ok {
		spec.Geo = true
		rest = r
	}
	if r, ok := strings.CutPrefix(rest, multiTag); ok {
		sep := strings.IndexByte(r, '_')
		if sep < 1 {
			return IndexSpec{}, fmt.Errorf("index %q: malformed multi offset", name)
		}
		offset, err := strconv.Atoi(r[:sep])
		if err != nil || offset < 0 {
			return IndexSpec{}, fmt.Errorf("index %q: malformed multi offset", name)
		}
		spec.Multi = offset
		rest = r[sep+1:]
	}
	if err := json.Unmarshal([]byte(rest), &spec.Fields); err != nil {
		return IndexSpec{}, fmt.Errorf("index %q: field paths: %w", name, err)
	}
	if len(spec.Fields) == 0 {
		return IndexSpec{}, fmt.Errorf("index %q: empty field list", name)
	}
	// Exact round-trip guards lookups by string match.
	if spec.Name() != name {
		return IndexSpec{}, fmt.Errorf("index %q: non-canonical encoding", name)
	}
	return spec, nil
}

// Index is the live state of one physical index: its decoded spec plus a
// readiness gate resolved when the store reports the build complete.
type Index struct {
	gate
	name string
	spec IndexSpec
}

func newIndex(name string, spec IndexSpec) *Index {
	return &Index{name: name, spec: spec}
}

func newPrimaryIndex() *Index {
	idx := newIndex(PrimaryIndexName, PrimaryIndexSpec())
	idx.setReady(true)
	return idx
}

// Name returns the canonical physical name.
func (i *Index) Name() string { return i.name }

// Spec returns the decoded field paths and flags.
func (i *Index) Spec() IndexSpec { return i.spec }

// Covers reports whether the index serves a query over the given ordered
// field paths.
func (i *Index) Covers(fields [][]string) bool {
	if len(fields) != len(i.spec.Fields) {
		return false
	}
	for n, path := range fields {
		if len(path) != len(i.spec.Fields[n]) {
			return false
		}
		for m, seg := range path {
			if seg != i.spec.Fields[n][m] {
				return false
			}
		}
	}
	return true
}
