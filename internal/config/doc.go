// Package config loads and saves the packsearch YAML configuration.
//
// The file lives at ~/.packsearch/config.yaml unless PACKSEARCH_CONFIG
// points elsewhere. Missing keys take the values of Default, unknown keys
// are kept in Extra and written back unchanged. Saves replace the file
// atomically.
package config
