// Package cache provides the generic entity cache used by every entity manager.
//
// A Manager owns the in-memory table for one entity kind (or one kind within a
// parent scope). It resolves loosely typed references into keys, collapses
// concurrent store reads for the same key into one round-trip and hands out
// stable Wrapper instances around the loaded documents.
package cache
