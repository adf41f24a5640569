// ABOUTME: Package URL (purl) construction from dependency inventory rows.
// ABOUTME: Maps ecosystem names to purl types and deduplicates coordinates.

package purl

import (
	"fmt"

	"github.com/socketdev-demo/slack-alarm-pusher/internal/types"
)

// purlTypes maps the inventory's ecosystem names to purl type identifiers
// where the two differ.
var purlTypes = map[string]string{
	"gem": "rubygems",
}

// Type returns the purl type for an inventory ecosystem name.
func Type(ecosystem string) string {
	if t, ok := purlTypes[ecosystem]; ok {
		return t
	}
	return ecosystem
}

// FromParts returns the canonical package URL for an (ecosystem, name,
// version) triple, e.g. pkg:npm/left-pad@1.3.0. Pure: the same inputs always
// yield the same string.
func FromParts(ecosystem, name, version string) string {
	return fmt.Sprintf("pkg:%s/%s@%s", Type(ecosystem), name, version)
}

// Coordinate returns the canonical package URL for a dependency row.
func Coordinate(dep types.Dependency) string {
	return FromParts(dep.Type, dep.Name, dep.Version)
}

// DedupeCoordinates collapses dependency rows into the set of unique package
// coordinates, preserving first-seen order. Rows from different repositories
// that reference the same package version collapse to one coordinate.
func DedupeCoordinates(deps []types.Dependency) []string {
	seen := make(map[string]struct{}, len(deps))
	coords := make([]string, 0, len(deps))

	for _, dep := range deps {
		c := Coordinate(dep)
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		coords = append(coords, c)
	}

	return coords
}
