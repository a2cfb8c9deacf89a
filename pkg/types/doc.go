// Package types provides shared type definitions for packsearch.
//
// The types here cross package boundaries: the pack registry produces
// ResourcePack values, the cache builder and storage layer exchange
// CacheEntry values, and the searcher ranks them.
//
// # Core Types
//
// ResourcePack describes a toggleable bundle of images discovered from a
// manifest.json file:
//
//	pack := &types.ResourcePack{
//	    ID:       "pack_cats",
//	    Name:     "Cats",
//	    Version:  "1.0.0",
//	    Author:   "someone",
//	    RootPath: "/data/resource_packs/cats",
//	}
//
// CacheEntry is one embedded label of one image. An image named
// "happy-cat.png" produces two entries, one for "happy" and one for "cat":
//
//	entry := types.CacheEntry{
//	    SourceFilename: "happy-cat",
//	    FilePath:       "/data/resource_packs/cats/images/happy-cat.png",
//	    Label:          "happy",
//	    PackID:         "pack_cats",
//	}
//
// # Errors
//
// Sentinel errors (ErrProvider, ErrPackPathMissing, ...) identify the error
// kinds of the pipeline and are matched with errors.Is. FileError wraps a
// per-file embedding failure collected during a build.
package types
