// Package antireplay detects anti-forgery tokens which were presented
// before.
//
// A token may be accepted once per its lifetime when single-use mode is
// enabled. Tokens are fed into a Stable Bloom Filter which keeps memory
// usage constant regardless of traffic. A filter has no false negatives
// while an item is still remembered, and a configurable rate of false
// positives: sometimes a fresh token is treated as a replay and a client
// has to fetch a new one.
//
// Deng and Rafiei (2006), "Approximately Detecting Duplicates for
// Streaming Data using Stable Bloom Filters".
package antireplay

const (
	// DefaultStableBloomFilterMaxSize is a default memory size of the
	// filter in bytes.
	DefaultStableBloomFilterMaxSize = 1024 * 1024

	// DefaultStableBloomFilterErrorRate is a default false positive rate.
	DefaultStableBloomFilterErrorRate = 0.001
)
