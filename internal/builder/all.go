package builder

import (
	"context"
	"fmt"
	"strings"

	"github.com/dshills/packsearch/internal/packs"
	"github.com/dshills/packsearch/pkg/types"
)

// PackProgress reports progress of a multi-pack build. packIndex counts
// from zero; done and total refer to files of the current pack.
type PackProgress func(packIndex, packCount int, pack *types.ResourcePack, done, total int)

// PackFailure records a pack whose build aborted
type PackFailure struct {
	PackID string
	Name   string
	Err    error
}

// Summary is the outcome of BuildAll
type Summary struct {
	Results  []*Result
	Failures []PackFailure
}

// Succeeded returns the number of packs built without abort
func (s *Summary) Succeeded() int {
	return len(s.Results)
}

// Message renders a readable report of the build
func (s *Summary) Message() string {
	var b strings.Builder
	total := len(s.Results) + len(s.Failures)
	fmt.Fprintf(&b, "built %d/%d resource packs", len(s.Results), total)
	for _, r := range s.Results {
		fmt.Fprintf(&b, "\n  %s: %d new files, %d embedded, %d entries", r.PackID, r.NewFiles, r.Success, r.Total)
		if r.Partial() {
			fmt.Fprintf(&b, ", %d errors", len(r.Errors))
			for _, e := range r.Errors {
				fmt.Fprintf(&b, "\n    %s", e.Error())
			}
		}
	}
	for _, f := range s.Failures {
		fmt.Fprintf(&b, "\n  %s (%s) failed: %v", f.PackID, f.Name, f.Err)
	}
	return b.String()
}

// BuildAll builds every pack in order of pack id. A failing pack is
// recorded and the remaining packs are still built. Cancellation stops
// after the current pack.
func (b *Builder) BuildAll(ctx context.Context, enabled map[string]*types.ResourcePack, modelKey string, progress PackProgress) (*Summary, error) {
	if len(enabled) == 0 {
		return nil, types.ErrNoEnabledPacks
	}

	ids := packs.SortedIDs(enabled)
	summary := &Summary{}
	for i, id := range ids {
		pack := enabled[id]
		opts := Options{ModelKey: modelKey}
		if progress != nil {
			progress(i, len(ids), pack, 0, len(pack.Files))
			opts.Progress = func(done, total int) {
				progress(i, len(ids), pack, done, total)
			}
		}

		result, err := b.Build(ctx, pack, opts)
		if err != nil {
			summary.Failures = append(summary.Failures, PackFailure{PackID: id, Name: pack.Name, Err: err})
			if ctx.Err() != nil {
				return summary, ctx.Err()
			}
			continue
		}
		summary.Results = append(summary.Results, result)
	}
	return summary, nil
}
