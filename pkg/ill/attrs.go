package ill

import (
	"sort"

	"github.com/yourusername/open-ill-broker/pkg/provider"
)

// AttrKey is a request attribute the broker understands.
type AttrKey string

const (
	AttrBibID        AttrKey = "bib_id"
	AttrTitle        AttrKey = "title"
	AttrAuthor       AttrKey = "author"
	AttrISBN         AttrKey = "isbn"
	AttrISSN         AttrKey = "issn"
	AttrTarget       AttrKey = "target"
	AttrStatus       AttrKey = "status"
	AttrMigratedFrom AttrKey = "migrated_from"
	AttrStagingRef   AttrKey = "staging_ref"
)

var knownKeys = map[AttrKey]bool{
	AttrBibID: true, AttrTitle: true, AttrAuthor: true, AttrISBN: true, AttrISSN: true,
	AttrTarget: true, AttrStatus: true, AttrMigratedFrom: true, AttrStagingRef: true,
}

// migrationKeys are the only attributes carried into a migrated request's
// search.
var migrationKeys = []AttrKey{AttrTitle, AttrAuthor, AttrISBN, AttrISSN}

// ParseAttrKey validates s. "id" is accepted as an older name for bib_id.
func ParseAttrKey(s string) (AttrKey, bool) {
	if s == "id" {
		return AttrBibID, true
	}
	k := AttrKey(s)
	return k, knownKeys[k]
}

// Attributes is a request's attribute bag split into known keys and
// backend-specific extras.
type Attributes struct {
	Known map[AttrKey]string
	Extra map[string]string
}

func attributesFrom(list []provider.Attribute) Attributes {
	a := Attributes{Known: make(map[AttrKey]string), Extra: make(map[string]string)}
	for _, attr := range list {
		if k, ok := ParseAttrKey(attr.Type); ok {
			a.Known[k] = attr.Value
			continue
		}
		a.Extra[attr.Type] = attr.Value
	}
	return a
}

func (a Attributes) Get(k AttrKey) (string, bool) {
	v, ok := a.Known[k]
	return v, ok
}

// Flat merges known and extra keys into one map for the host.
func (a Attributes) Flat() map[string]string {
	out := make(map[string]string, len(a.Known)+len(a.Extra))
	for k, v := range a.Extra {
		out[k] = v
	}
	for k, v := range a.Known {
		out[string(k)] = v
	}
	return out
}

// attrList builds a deterministic attribute list, skipping empty values.
func attrList(m map[AttrKey]string) []provider.Attribute {
	keys := make([]string, 0, len(m))
	for k, v := range m {
		if v != "" {
			keys = append(keys, string(k))
		}
	}
	sort.Strings(keys)
	out := make([]provider.Attribute, 0, len(keys))
	for _, k := range keys {
		out = append(out, provider.Attribute{Type: k, Value: m[AttrKey(k)]})
	}
	return out
}
