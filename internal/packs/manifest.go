package packs

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path"
	"strings"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/dshills/packsearch/pkg/types"
)

// ManifestName is the manifest file expected in every pack directory
const ManifestName = "manifest.json"

// Manifest is the decoded manifest.json of a resource pack
type Manifest struct {
	Name        string           `json:"name"`
	Version     string           `json:"version"`
	Author      string           `json:"author"`
	Description string           `json:"description"`
	CreatedAt   string           `json:"created_at"`
	Tags        []string         `json:"tags"`
	Cover       *ManifestCover   `json:"cover"`
	URL         string           `json:"url"`
	Type        string           `json:"type"`
	Regex       *types.LabelRule `json:"regex"`
	Contents    struct {
		Images struct {
			Path  string      `json:"path"`
			Files FileListing `json:"files"`
		} `json:"images"`
	} `json:"contents"`
}

// ManifestCover names the cover image relative to the pack root
type ManifestCover struct {
	Filename string `json:"filename"`
}

// FileListing is the ordered "files" object of a manifest
type FileListing []ListedFile

// ListedFile is one value of the "files" object plus its key
type ListedFile struct {
	Key          string
	Filepath     string `json:"filepath"`
	Path         string `json:"path"`
	OriginalName string `json:"original_name"`
	Hash         string `json:"hash"`
}

// UnmarshalJSON keeps the object order of the listing. A repeated key
// keeps its first position and its last value.
func (l *FileListing) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*l = nil
		return nil
	}

	files := orderedmap.New[string, ListedFile]()
	if err := json.Unmarshal(data, files); err != nil {
		return fmt.Errorf("files must be an object of file entries: %w", err)
	}

	out := make(FileListing, 0, files.Len())
	for pair := files.Oldest(); pair != nil; pair = pair.Next() {
		f := pair.Value
		f.Key = pair.Key
		out = append(out, f)
	}
	*l = out
	return nil
}

// ParseManifest decodes and validates manifest data. A manifest without
// name, version or author is rejected with types.ErrInvalidManifest.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrInvalidManifest, err)
	}

	var missing []string
	if strings.TrimSpace(m.Name) == "" {
		missing = append(missing, "name")
	}
	if strings.TrimSpace(m.Version) == "" {
		missing = append(missing, "version")
	}
	if strings.TrimSpace(m.Author) == "" {
		missing = append(missing, "author")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing %s", types.ErrInvalidManifest, strings.Join(missing, ", "))
	}
	return &m, nil
}

// Files converts the listing into manifest-relative paths. Entries that
// would resolve outside the pack are dropped and reported in skipped.
func (m *Manifest) Files() (files []types.ManifestFile, skipped []string) {
	seen := make(map[string]bool)
	for _, f := range m.Contents.Images.Files {
		rel := f.Filepath
		if rel == "" {
			rel = f.Path
		}
		if rel == "" {
			rel = path.Join(m.Contents.Images.Path, f.Key)
		}

		clean, ok := cleanRel(rel)
		if !ok {
			skipped = append(skipped, rel)
			continue
		}
		if seen[clean] {
			continue
		}
		seen[clean] = true

		files = append(files, types.ManifestFile{
			RelPath:      clean,
			OriginalName: f.OriginalName,
			Hash:         f.Hash,
		})
	}
	return files, skipped
}

// cleanRel normalises a manifest path to a slash separated path inside the pack
func cleanRel(rel string) (string, bool) {
	rel = strings.ReplaceAll(strings.TrimSpace(rel), "\\", "/")
	if rel == "" || strings.HasPrefix(rel, "/") || (len(rel) > 1 && rel[1] == ':') {
		return "", false
	}
	clean := path.Clean(rel)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", false
	}
	return clean, true
}
