// Package packs discovers resource packs and tracks which are enabled.
//
// A pack is a directory under the resource packs root holding a
// manifest.json. Its id is "pack_" followed by the directory name. Packs
// whose manifest lacks a name, version or author are skipped with a warning.
//
// Enabled state lives outside the registry in a StateStore, normally the
// config file, and is written once per state change.
package packs
