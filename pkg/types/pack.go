package types

import (
	"path/filepath"
	"strings"
)

// LabelRule is a pack-declared regex substitution applied to file stems
// before they are split into labels.
type LabelRule struct {
	Pattern     string `json:"pattern"`
	Replacement string `json:"replacement"`
}

// ManifestFile is one entry of a pack's content listing
type ManifestFile struct {
	RelPath      string // Slash separated, relative to the pack root
	OriginalName string
	Hash         string // Declared content hash, not verified
}

// ResourcePack is a versioned, independently toggleable bundle of images
type ResourcePack struct {
	ID            string
	Name          string
	Version       string
	Author        string
	Description   string
	Tags          []string
	CreatedAt     string
	RootPath      string
	Enabled       bool
	RemoteBaseURL string // Optional fallback location for missing files
	Type          string
	LabelRule     *LabelRule
	Cover         string // Absolute cover path, empty when none exists
	Files         []ManifestFile
}

// HasRemote reports whether missing files can be fetched on demand
func (p *ResourcePack) HasRemote() bool {
	return strings.TrimSpace(p.RemoteBaseURL) != ""
}

// AbsPath resolves a manifest-relative path against the pack root
func (p *ResourcePack) AbsPath(rel string) string {
	return filepath.Join(p.RootPath, filepath.FromSlash(rel))
}

// RelPath converts an absolute path inside the pack back to a slash separated
// relative path. ok is false when abs is outside the pack root.
func (p *ResourcePack) RelPath(abs string) (string, bool) {
	rel, err := filepath.Rel(p.RootPath, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

// ContentType returns the declared type tag or DefaultContentType
func (p *ResourcePack) ContentType() string {
	if p.Type == "" {
		return DefaultContentType
	}
	return p.Type
}

// Clone returns a copy that shares no slices with p
func (p *ResourcePack) Clone() *ResourcePack {
	c := *p
	c.Tags = append([]string(nil), p.Tags...)
	c.Files = append([]ManifestFile(nil), p.Files...)
	if p.LabelRule != nil {
		rule := *p.LabelRule
		c.LabelRule = &rule
	}
	return &c
}
