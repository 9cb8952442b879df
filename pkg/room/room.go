// Package room derives conversation room ids from participant pairs.
package room

import "strings"

// Derive returns the canonical id for the conversation between a and b.
// The smaller id (byte-wise) comes first so Derive(a, b) == Derive(b, a).
func Derive(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + "_" + b
}

// Resolve prefers an explicit room id when it is not blank. Without one it
// derives the id from the two participants, or returns "" when either is
// unknown.
func Resolve(explicit, a, b string) string {
	if id := strings.TrimSpace(explicit); id != "" {
		return id
	}
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	if a == "" || b == "" {
		return ""
	}
	return Derive(a, b)
}
