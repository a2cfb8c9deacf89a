// Package gguf runs local GGUF embedding models through llama.cpp.
//
// The llama.cpp shared library is loaded by github.com/kelindar/search when
// this package is imported, so only the binary wires it in.
package gguf

import (
	"fmt"
	"sync"

	"github.com/kelindar/search"

	"github.com/dshills/packsearch/internal/embedder"
)

// ModelPattern matches the model file inside a model directory
const ModelPattern = "*.gguf"

// DefaultGPULayers offloads nothing to the GPU
const DefaultGPULayers = 0

// dimensionText is embedded once at load to learn the vector size
const dimensionText = "dimension"

// Runtime embeds text with one loaded GGUF model
type Runtime struct {
	mu         sync.Mutex // a llama context serves one call at a time
	vectorizer *search.Vectorizer
	dimension  int
}

// Load is an embedder.Loader for a directory holding exactly one .gguf file
func Load(dir string) (embedder.Runtime, error) {
	path, err := embedder.FindModelFile(dir, ModelPattern)
	if err != nil {
		return nil, err
	}
	rt, err := Open(path, DefaultGPULayers)
	if err != nil {
		return nil, err
	}
	return rt, nil
}

// Open loads the model file. gpuLayers > 0 offloads layers to the GPU.
func Open(path string, gpuLayers int) (*Runtime, error) {
	vectorizer, err := search.NewVectorizer(path, gpuLayers)
	if err != nil {
		return nil, fmt.Errorf("initializing vectorizer from %s: %w", path, err)
	}

	v, err := vectorizer.EmbedText(dimensionText)
	if err != nil {
		_ = vectorizer.Close()
		return nil, fmt.Errorf("embedding with %s: %w", path, err)
	}
	if len(v) == 0 {
		_ = vectorizer.Close()
		return nil, fmt.Errorf("%s produced an empty embedding", path)
	}
	return &Runtime{vectorizer: vectorizer, dimension: len(v)}, nil
}

func (r *Runtime) Embed(text string) ([]float32, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.vectorizer == nil {
		return nil, embedder.ErrClosed
	}
	return r.vectorizer.EmbedText(text)
}

func (r *Runtime) Dimension() int {
	return r.dimension
}

// Close releases the model. Embed fails afterwards.
func (r *Runtime) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.vectorizer == nil {
		return nil
	}
	err := r.vectorizer.Close()
	r.vectorizer = nil
	return err
}
