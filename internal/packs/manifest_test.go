package packs

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/packsearch/pkg/types"
)

const sampleManifest = `{
  "name": "Cats",
  "version": "1.0.0",
  "author": "someone",
  "description": "cat memes",
  "created_at": "2025-03-01",
  "tags": ["cat", "animal"],
  "cover": {"filename": "cover.png"},
  "url": "https://example.com/packs/cats",
  "type": "vv",
  "regex": {"pattern": "^\\d+_", "replacement": ""},
  "contents": {
    "images": {
      "path": "images",
      "files": {
        "zeta": {"filepath": "images/zeta-cat.png", "original_name": "z.png", "hash": "h1"},
        "alpha": {"filepath": "images/alpha.jpg", "original_name": "a.jpg", "hash": "h2"},
        "legacy.gif": {"original_name": "legacy.gif"},
        "evil": {"filepath": "../../etc/passwd"},
        "dup": {"filepath": "images/alpha.jpg"}
      }
    }
  }
}`

func TestParseManifest(t *testing.T) {
	m, err := ParseManifest([]byte(sampleManifest))
	require.NoError(t, err)

	assert.Equal(t, "Cats", m.Name)
	assert.Equal(t, []string{"cat", "animal"}, m.Tags)
	assert.Equal(t, "cover.png", m.Cover.Filename)
	require.NotNil(t, m.Regex)
	assert.Equal(t, `^\d+_`, m.Regex.Pattern)

	files, skipped := m.Files()
	assert.Equal(t, []string{"../../etc/passwd"}, skipped)
	require.Len(t, files, 3)

	// Manifest order is kept
	assert.Equal(t, "images/zeta-cat.png", files[0].RelPath)
	assert.Equal(t, "h1", files[0].Hash)
	assert.Equal(t, "images/alpha.jpg", files[1].RelPath)
	assert.Equal(t, "images/legacy.gif", files[2].RelPath, "key is joined with images.path when no filepath is given")
}

func TestParseManifest_Validity(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		missing string
	}{
		{"missing name", `{"version": "1", "author": "a"}`, "name"},
		{"blank version", `{"name": "n", "version": "  ", "author": "a"}`, "version"},
		{"missing author", `{"name": "n", "version": "1"}`, "author"},
		{"not json", `{"name":`, ""},
		{"files not an object", `{"name": "n", "version": "1", "author": "a", "contents": {"images": {"files": []}}}`, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseManifest([]byte(tt.data))
			require.ErrorIs(t, err, types.ErrInvalidManifest)
			if tt.missing != "" {
				assert.Contains(t, err.Error(), tt.missing)
			}
		})
	}
}

func TestFileListing_RepeatedKey(t *testing.T) {
	var l FileListing
	data := `{"b": {"filepath": "images/b.png"}, "a": {"filepath": "images/a.png"}, "b": {"filepath": "images/b2.png"}}`
	require.NoError(t, json.Unmarshal([]byte(data), &l))

	require.Len(t, l, 2)
	assert.Equal(t, "b", l[0].Key)
	assert.Equal(t, "images/b2.png", l[0].Filepath, "last value wins at the first position")
	assert.Equal(t, "a", l[1].Key)
}

func TestFileListing_Null(t *testing.T) {
	l := FileListing{{Key: "stale"}}
	require.NoError(t, json.Unmarshal([]byte(`null`), &l))
	assert.Nil(t, l)
}

func TestParseManifest_NoContents(t *testing.T) {
	m, err := ParseManifest([]byte(`{"name": "n", "version": "1", "author": "a"}`))
	require.NoError(t, err)
	files, skipped := m.Files()
	assert.Empty(t, files)
	assert.Empty(t, skipped)
}

func TestCleanRel(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"images/a.png", "images/a.png", true},
		{`images\win.png`, "images/win.png", true},
		{"./images/../images/b.png", "images/b.png", true},
		{"/abs/path.png", "", false},
		{"C:/x.png", "", false},
		{"../up.png", "", false},
		{"", "", false},
		{".", "", false},
	}
	for _, tt := range tests {
		got, ok := cleanRel(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}
