package domain

// IndexEntry is one indexed (record, embedded field) pair. It is owned
// exclusively by its collection: created by the builder or updater,
// overwritten in place on change, never partially written.
type IndexEntry struct {
	ID          string
	Vector      []float32
	Document    string
	Metadata    map[string]string
	ContentHash string
}

// NewIndexEntry builds an entry for a record's embedded field. The content
// hash is computed from the document text at construction time so the
// stored hash always reflects the text last embedded.
func NewIndexEntry(id, document string, vector []float32, metadata map[string]string) IndexEntry {
	return IndexEntry{
		ID:          id,
		Vector:      vector,
		Document:    document,
		Metadata:    metadata,
		ContentHash: ContentHash(document),
	}
}

// StoredEntry is the lightweight projection of an IndexEntry the updater
// reads back for diffing: id plus stored content hash.
type StoredEntry struct {
	ID          string
	ContentHash string
}
