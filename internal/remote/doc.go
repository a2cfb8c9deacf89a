// Package remote downloads pack files that are missing locally from the
// pack's declared remote base URL.
package remote
