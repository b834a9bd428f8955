package domain

import (
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// DictionaryRecord is one row of a data dictionary: a unique id, the text
// values of its fields, and the metadata fields carried into the index.
// Records are immutable once loaded for a run.
type DictionaryRecord struct {
	ID       string
	Fields   map[string]string
	Metadata map[string]string
}

// Field returns the text of the named field and whether it is present and
// non-empty.
func (r DictionaryRecord) Field(name string) (string, bool) {
	v, ok := r.Fields[name]
	return v, ok && v != ""
}

// ContentHash digests a field's text for change detection between index
// builds. Two entries with equal hashes embed identical text.
func ContentHash(text string) string {
	return fmt.Sprintf("%016x", xxhash.Sum64String(text))
}
