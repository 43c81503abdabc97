// Package sharding maps tenant shard assignments to configured backend
// endpoints. Shard identifiers follow the fixed pattern "shard-<index>",
// where <index> selects a position in the ordered endpoint list for the
// transport in question.
package sharding

import "strconv"

// DefaultShard is used when an authorization record carries no shard
// assignment.
const DefaultShard = "shard-0"

const shardPrefix = "shard-"

// ParseIndex extracts the numeric index from a shard identifier.
// It returns false for anything that is not "shard-<non-negative int>".
// This sits on the hot path and signals malformed input by the ok flag,
// never by panicking.
func ParseIndex(shardID string) (int, bool) {
	if len(shardID) <= len(shardPrefix) || shardID[:len(shardPrefix)] != shardPrefix {
		return 0, false
	}
	digits := shardID[len(shardPrefix):]
	idx, err := strconv.Atoi(digits)
	if err != nil || idx < 0 {
		return 0, false
	}
	// Reject forms Atoi tolerates but the pattern does not ("+1", "01" is
	// allowed; leading sign is not).
	if digits[0] == '+' || digits[0] == '-' {
		return 0, false
	}
	return idx, true
}

// Route resolves a shard identifier to a backend endpoint from the ordered
// list. An empty shardID means DefaultShard. Returns false when the
// identifier is malformed or the index has no configured endpoint; callers
// treat that as "no endpoint", not a crash.
func Route(shardID string, endpoints []string) (string, bool) {
	if shardID == "" {
		shardID = DefaultShard
	}
	idx, ok := ParseIndex(shardID)
	if !ok || idx >= len(endpoints) {
		return "", false
	}
	return endpoints[idx], true
}
