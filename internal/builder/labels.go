package builder

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/dshills/packsearch/pkg/types"
)

// DefaultLabelDelimiter separates label tokens in image file names
const DefaultLabelDelimiter = "-"

// imageExtensions lists the file types that are embedded
var imageExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".gif":  true,
	".webp": true,
}

// IsImage reports whether path has an embeddable image extension
func IsImage(path string) bool {
	return imageExtensions[strings.ToLower(filepath.Ext(path))]
}

// Stem returns the file name without directory and extension
func Stem(path string) string {
	base := filepath.Base(filepath.FromSlash(path))
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Labeler derives embedding labels from image file names
type Labeler struct {
	pattern     *regexp.Regexp
	replacement string
	delimiter   string
}

// NewLabeler compiles a pack's label rule. rule may be nil.
func NewLabeler(rule *types.LabelRule, delimiter string) (*Labeler, error) {
	if delimiter == "" {
		delimiter = DefaultLabelDelimiter
	}
	l := &Labeler{delimiter: delimiter}
	if rule != nil && rule.Pattern != "" {
		re, err := regexp.Compile(rule.Pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid label pattern %q: %w", rule.Pattern, err)
		}
		l.pattern = re
		l.replacement = expandGroups(rule.Replacement)
	}
	return l, nil
}

// backrefPattern matches \1 style group references
var backrefPattern = regexp.MustCompile(`\\(\d+)`)

// expandGroups rewrites \1 references to the ${1} form used by regexp
func expandGroups(repl string) string {
	repl = strings.ReplaceAll(repl, "$", "$$")
	return backrefPattern.ReplaceAllString(repl, "$${$1}")
}

// Labels returns the distinct label tokens of an image path in the order
// they appear. Tokens are kept verbatim; only empty and blank tokens are
// dropped.
func (l *Labeler) Labels(path string) []string {
	name := Stem(path)
	if l.pattern != nil {
		name = l.pattern.ReplaceAllString(name, l.replacement)
	}

	var labels []string
	seen := make(map[string]bool)
	for _, tok := range strings.Split(name, l.delimiter) {
		if strings.TrimSpace(tok) == "" || seen[tok] {
			continue
		}
		seen[tok] = true
		labels = append(labels, tok)
	}
	return labels
}
