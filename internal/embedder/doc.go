// Package embedder turns label and query text into unit-length vectors.
//
// Two provider families are supported: a remote OpenAI-compatible API and
// locally stored models. Service owns the active provider and is what the
// rest of the program talks to.
//
// # Basic Usage
//
//	svc, closeFn, err := embedder.New(embedder.Config{
//	    Mode:        embedder.ModeRemote,
//	    APIKey:      os.Getenv("PACKSEARCH_API_KEY"),
//	    RemoteModel: "text-embedding-3-small",
//	    CachePath:   "~/.packsearch/embeddings.bolt",
//	    Limiter:     ratelimit.NewDefault(),
//	})
//	if err != nil {
//	    return err
//	}
//	defer closeFn()
//
//	v, err := svc.Embed(ctx, "happy cat")
//	// len(v) == svc.Dimension(), ‖v‖₂ == 1
//
// # Switching Models
//
// SetMode replaces the active provider and drops its in-memory request
// cache. The persisted cache on disk is kept, so switching back to a remote
// model later does not repeat network calls:
//
//	err := svc.SetMode(embedder.ModeLocal, "mini-hash")
//	svc.ModelID() // "local:mini-hash"
//
// # Caching
//
// The remote provider looks up a request in an LRU cache, then in a bbolt
// file keyed by ComputeHash(model, text). New vectors are buffered and
// written to bbolt on Flush, which the cache builder calls at every
// checkpoint.
//
// # Local Models
//
// A local model is a directory under the models dir. Download fetches every
// listed file from {base_url}/{name}/ and removes the directory if any file
// fails. Load hands the directory to the configured Loader. Package gguf
// provides one that runs a single .gguf file through llama.cpp; files
// default to model.gguf. A provider without a Loader can download models
// but fails to load them with types.ErrModelUnavailable.
//
// Embed loads a downloaded model on first use and fails with
// types.ErrModelUnavailable otherwise.
//
// # Error Handling
//
// Network and auth failures wrap types.ErrProvider after retries with
// exponential backoff. 4xx responses other than 429 are not retried.
package embedder
