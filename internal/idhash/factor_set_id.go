package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"factor-lab/internal/domain"
)

// ComputeFactorSetID computes a deterministic factor set id using SHA256.
// Formula: SHA256 over sorted "name|canonical" lines joined by newline.
// Returns hex-encoded hash (64 characters).
//
// Two sets with the same names and canonical expressions share an id, even
// when their formulas were written differently or listed in another order.
func ComputeFactorSetID(defs []*domain.FactorDefinition) string {
	lines := make([]string, len(defs))
	for i, d := range defs {
		lines[i] = fmt.Sprintf("%s|%s", d.Name, d.Canonical)
	}
	sort.Strings(lines)

	hash := sha256.Sum256([]byte(strings.Join(lines, "\n")))
	return hex.EncodeToString(hash[:])
}

// ShortID returns the first 12 characters of an id, for logs.
func ShortID(id string) string {
	if len(id) <= 12 {
		return id
	}
	return id[:12]
}
