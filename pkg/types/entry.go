package types

// DefaultContentType is used when a pack does not declare a type
const DefaultContentType = "Normal"

// CacheEntry is one embedded (image, label) pair.
//
// A single image produces one entry per label token in its file name. All of
// them share SourceFilename and FilePath and differ by Label.
type CacheEntry struct {
	SourceFilename string    // File stem without extension
	FilePath       string    // Absolute path of the image
	Vector         []float32 // L2-normalized embedding of Label
	Label          string    // Embedded text, also the dedup group key
	ContentType    string
	PackID         string
}

// Key returns the identity of an entry inside one cache store.
func (e *CacheEntry) Key() EntryKey {
	return EntryKey{FilePath: e.FilePath, Label: e.Label}
}

// EntryKey is the uniqueness key of a cache store row
type EntryKey struct {
	FilePath string
	Label    string
}
