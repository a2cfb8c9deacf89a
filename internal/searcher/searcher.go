package searcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"sort"
	"time"

	"github.com/dshills/packsearch/internal/embedder"
	"github.com/dshills/packsearch/internal/index"
	"github.com/dshills/packsearch/pkg/types"
)

// Defaults for Config
const (
	DefaultTopK            = 5
	MaxTopK                = 100
	DefaultCandidateFactor = 5
	DefaultDedupThreshold  = 0.9
)

// ErrDimensionMismatch is returned when a supplied query vector does not
// match the dimension of the index
var ErrDimensionMismatch = errors.New("query vector dimension does not match index")

// Embedder turns the query text into a unit vector
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// IndexSource returns the snapshot a search runs against
type IndexSource interface {
	Load() *index.Snapshot
}

// Fetcher downloads a missing pack file from its remote location
type Fetcher interface {
	Fetch(ctx context.Context, baseURL, rel, dest string) error
}

// ImageComparer scores the perceptual similarity of two image files
type ImageComparer interface {
	Similarity(pathA, pathB string) (float64, error)
}

// ShuffleFunc permutes n elements through swap, like rand.Shuffle
type ShuffleFunc func(n int, swap func(i, j int))

// Config contains configuration for the searcher
type Config struct {
	DefaultTopK     int
	CandidateFactor int     // Unique candidates considered per requested result
	DedupThreshold  float64 // Images at or above this similarity are duplicates
	Shuffle         ShuffleFunc
}

func (c Config) withDefaults() Config {
	if c.DefaultTopK <= 0 {
		c.DefaultTopK = DefaultTopK
	}
	if c.CandidateFactor <= 0 {
		c.CandidateFactor = DefaultCandidateFactor
	}
	if c.DedupThreshold <= 0 {
		c.DedupThreshold = DefaultDedupThreshold
	}
	if c.Shuffle == nil {
		c.Shuffle = rand.Shuffle
	}
	return c
}

// Request contains parameters for a search operation
type Request struct {
	Query     string
	TopK      int
	Embedding []float32 // Optional precomputed query vector, skips embedding
}

// Result is one returned image
type Result struct {
	Path   string  `json:"path"`
	Label  string  `json:"label"`
	PackID string  `json:"pack_id"`
	Score  float64 `json:"score"`
	Rank   int     `json:"rank"` // 1-based position among distinct filepaths in score order
}

// Response contains search results and metadata
type Response struct {
	Results    []Result
	Candidates int // unique filepaths examined
	Missing    int // examined filepaths dropped because the file could not be resolved
	Duplicates int // candidates dropped as near-identical variants
	ModelKey   string
	Duration   time.Duration
}

// Paths returns the result file paths in order
func (r *Response) Paths() []string {
	paths := make([]string, len(r.Results))
	for i, res := range r.Results {
		paths[i] = res.Path
	}
	return paths
}

// Searcher ranks the entries of the current index against a query
type Searcher struct {
	embedder Embedder
	index    IndexSource
	fetcher  Fetcher
	comparer ImageComparer
	cfg      Config
}

// New creates a Searcher. fetcher and comparer may be nil, which disables
// remote fallback and deduplication respectively.
func New(emb Embedder, idx IndexSource, fetcher Fetcher, comparer ImageComparer, cfg Config) *Searcher {
	return &Searcher{
		embedder: emb,
		index:    idx,
		fetcher:  fetcher,
		comparer: comparer,
		cfg:      cfg.withDefaults(),
	}
}

// Search returns at most TopK image paths for the query, best first
func (s *Searcher) Search(ctx context.Context, req Request) ([]string, error) {
	resp, err := s.SearchDetailed(ctx, req)
	if err != nil {
		return nil, err
	}
	return resp.Paths(), nil
}

// SearchDetailed performs a search and reports scores and drop counts.
// An empty index yields an empty response, not an error.
func (s *Searcher) SearchDetailed(ctx context.Context, req Request) (*Response, error) {
	startTime := time.Now()
	s.validateRequest(&req)

	snap := s.index.Load()
	resp := &Response{Results: []Result{}}
	if snap.Empty() {
		resp.Duration = time.Since(startTime)
		return resp, nil
	}
	resp.ModelKey = snap.ModelKey

	query, err := s.queryVector(ctx, req)
	if err != nil {
		return nil, err
	}
	if len(req.Embedding) > 0 && len(query) != len(snap.Entries[0].Vector) {
		return nil, fmt.Errorf("%w: got %d, index has %d", ErrDimensionMismatch, len(query), len(snap.Entries[0].Vector))
	}

	scored := s.rank(snap, query)
	kept, examined, err := s.collect(ctx, snap, scored, req.TopK*s.cfg.CandidateFactor)
	if err != nil {
		return nil, err
	}
	resp.Candidates = examined
	resp.Missing = examined - len(kept)

	deduped := s.dedup(kept)
	resp.Duplicates = len(kept) - len(deduped)

	if len(deduped) > req.TopK {
		deduped = deduped[:req.TopK]
	}
	resp.Results = deduped
	resp.Duration = time.Since(startTime)
	return resp, nil
}

// validateRequest applies the default and maximum result count
func (s *Searcher) validateRequest(req *Request) {
	if req.TopK <= 0 {
		req.TopK = s.cfg.DefaultTopK
	}
	if req.TopK > MaxTopK {
		req.TopK = MaxTopK
	}
}

func (s *Searcher) queryVector(ctx context.Context, req Request) ([]float32, error) {
	if len(req.Embedding) > 0 {
		v, err := embedder.NormalizeVector(req.Embedding)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", types.ErrQueryEmbedding, err)
		}
		return v, nil
	}
	if s.embedder == nil {
		return nil, fmt.Errorf("%w: embedder not initialized", types.ErrQueryEmbedding)
	}
	v, err := s.embedder.Embed(ctx, req.Query)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", types.ErrQueryEmbedding, err)
	}
	return v, nil
}

// rankedEntry is an index entry with its score against the query
type rankedEntry struct {
	entry *types.CacheEntry
	score float64
}

// rank scores every entry of matching dimension, best first. Ties keep
// index order.
func (s *Searcher) rank(snap *index.Snapshot, query []float32) []rankedEntry {
	scored := make([]rankedEntry, 0, len(snap.Entries))
	for i := range snap.Entries {
		e := &snap.Entries[i]
		if len(e.Vector) != len(query) {
			continue
		}
		scored = append(scored, rankedEntry{entry: e, score: dot(query, e.Vector)})
	}
	if len(scored) == 0 && len(snap.Entries) > 0 {
		slog.Warn("query dimension does not match any index entry",
			slog.Int("dimension", len(query)),
			slog.String("model", snap.ModelKey))
	}

	sortRankedEntries(scored)
	return scored
}

// collect walks the distinct filepaths in score order, each represented by
// its best entry, and keeps the first limit that resolve to a local file.
// It also reports how many filepaths were examined.
func (s *Searcher) collect(ctx context.Context, snap *index.Snapshot, scored []rankedEntry, limit int) ([]Result, int, error) {
	seen := make(map[string]bool, limit)
	kept := make([]Result, 0, limit)
	examined := 0
	for _, r := range scored {
		if len(kept) >= limit {
			break
		}
		if seen[r.entry.FilePath] {
			continue
		}
		seen[r.entry.FilePath] = true
		examined++

		c := Result{
			Path:   r.entry.FilePath,
			Label:  r.entry.Label,
			PackID: r.entry.PackID,
			Score:  r.score,
			Rank:   examined,
		}
		ok, err := s.resolve(ctx, snap, c)
		if err != nil {
			return nil, examined, err
		}
		if ok {
			kept = append(kept, c)
		}
	}
	return kept, examined, nil
}

// sortRankedEntries sorts by score in descending order, stable for ties
func sortRankedEntries(entries []rankedEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].score > entries[j].score
	})
}

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

// resolve reports whether the candidate's file exists locally or could be
// fetched from the owning pack's remote URL. Only cancellation is an error.
func (s *Searcher) resolve(ctx context.Context, snap *index.Snapshot, c Result) (bool, error) {
	if _, err := os.Stat(c.Path); err == nil {
		return true, nil
	}

	pack, ok := snap.Pack(c.PackID)
	if !ok || !pack.HasRemote() || s.fetcher == nil {
		slog.Debug("dropping missing image", slog.String("path", c.Path), slog.String("pack", c.PackID))
		return false, nil
	}
	rel, ok := pack.RelPath(c.Path)
	if !ok {
		slog.Warn("image outside its pack root", slog.String("path", c.Path), slog.String("pack", c.PackID))
		return false, nil
	}

	if err := s.fetcher.Fetch(ctx, pack.RemoteBaseURL, rel, c.Path); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return false, ctxErr
		}
		slog.Warn("remote fallback failed",
			slog.String("path", c.Path),
			slog.String("pack", c.PackID),
			slog.Any("error", err))
		return false, nil
	}
	return true, nil
}

// dedup groups candidates by label and drops near-identical images inside
// each group. Groups are emitted in the order of their best candidate.
func (s *Searcher) dedup(candidates []Result) []Result {
	var order []string
	groups := make(map[string][]Result)
	for _, c := range candidates {
		if _, ok := groups[c.Label]; !ok {
			order = append(order, c.Label)
		}
		groups[c.Label] = append(groups[c.Label], c)
	}

	out := make([]Result, 0, len(candidates))
	for _, label := range order {
		group := groups[label]
		if len(group) < 2 || s.comparer == nil {
			out = append(out, group...)
			continue
		}
		out = append(out, s.dedupGroup(group)...)
	}
	return out
}

// dedupGroup shuffles the group and greedily retains images whose maximum
// similarity to the already retained ones stays below the threshold
func (s *Searcher) dedupGroup(group []Result) []Result {
	s.cfg.Shuffle(len(group), func(i, j int) {
		group[i], group[j] = group[j], group[i]
	})

	retained := []Result{group[0]}
	for _, candidate := range group[1:] {
		var maxSimilar float64
		for _, r := range retained {
			sim, err := s.comparer.Similarity(r.Path, candidate.Path)
			if err != nil {
				// undecodable images count as distinct
				slog.Debug("image comparison failed",
					slog.String("a", r.Path),
					slog.String("b", candidate.Path),
					slog.Any("error", err))
				continue
			}
			if sim > maxSimilar {
				maxSimilar = sim
			}
		}
		if maxSimilar < s.cfg.DedupThreshold {
			retained = append(retained, candidate)
		}
	}
	return retained
}
