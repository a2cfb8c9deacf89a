// Package searcher answers text queries against the in-memory index.
//
// # Basic Usage
//
//	s := searcher.New(embedderService, holder, fetcher, comparer, searcher.Config{})
//
//	paths, err := s.Search(ctx, searcher.Request{
//	    Query: "surprised cat",
//	    TopK:  5,
//	})
//
// # Query Pipeline
//
// A search runs against the snapshot current when it starts:
//
//  1. An empty index returns an empty result, not an error.
//  2. The query is embedded (or Request.Embedding is used). Provider
//     failures wrap types.ErrQueryEmbedding.
//  3. Every entry is scored by dot product with the query. Both sides are
//     unit vectors, so this is cosine similarity.
//  4. Entries are sorted by score, stable for ties. Distinct filepaths are
//     walked in that order. A file with several labels is represented by
//     its best scoring label.
//  5. A filepath missing on disk is downloaded from the owning pack's
//     remote URL, or dropped when that fails. The walk stops once
//     TopK*CandidateFactor filepaths have resolved; those are the
//     candidates.
//  6. Candidates are grouped by label. Each group with two or more images
//     is shuffled, then images are retained greedily while their highest
//     similarity to the retained ones stays below DedupThreshold.
//  7. Groups are concatenated in the order of their best candidate and the
//     list is cut to TopK.
//
// # Determinism
//
// Ranking is deterministic for a given snapshot. Ties follow index order,
// which depends on pack id order and on the order entries were written
// during builds. The shuffle in step 6 makes the surviving variant of a
// near-duplicate group arbitrary across calls; supply Config.Shuffle to
// control it.
//
// # Soft Failures
//
// Remote fetch failures and undecodable images never fail a query. They
// are logged and counted in Response.Missing; undecodable images are
// treated as distinct from every other image.
package searcher
