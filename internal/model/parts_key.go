package model

import (
	"slices"
	"strconv"
	"strings"
)

// FullPartsKey is the parts key of a session with no part subset selected.
const FullPartsKey = "full"

// PartsKey canonicalizes an unordered part selection into a lookup key:
// "full" for an empty selection, otherwise the identifiers sorted
// lexicographically and joined with "-". [5 3] and [3 5] share a key.
func PartsKey(parts []string) string {
	cleaned := cleanParts(parts)
	if len(cleaned) == 0 {
		return FullPartsKey
	}
	slices.Sort(cleaned)
	return strings.Join(cleaned, "-")
}

// JoinParts keeps the learner's original order, for display and restore.
func JoinParts(parts []string) string {
	return strings.Join(cleanParts(parts), "-")
}

// SplitParts is the inverse of JoinParts.
func SplitParts(joined string) []string {
	if joined == "" || joined == FullPartsKey {
		return nil
	}
	return cleanParts(strings.Split(joined, "-"))
}

// PartsFromInts formats numeric part identifiers.
func PartsFromInts(parts []int) []string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		out = append(out, strconv.Itoa(p))
	}
	return out
}

// cleanParts trims identifiers and drops empty ones. An identifier holding the
// separator is split, so joined and split forms always name the same parts.
func cleanParts(parts []string) []string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		for _, id := range strings.Split(p, "-") {
			if id = strings.TrimSpace(id); id != "" {
				out = append(out, id)
			}
		}
	}
	return out
}
