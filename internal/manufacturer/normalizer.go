// Package manufacturer maps free-text boiler manufacturer names to the
// canonical keys used to partition fault-code datasets.
//
// "Unknown manufacturer" is an expected outcome, not an error: Normalize
// returns the empty string for input it cannot map.
package manufacturer

import (
	"sort"
	"strings"
	"time"

	"github.com/hearthlabs/boilerd/internal/cache"
)

// Canonical manufacturer keys. The set is closed: datasets are partitioned
// by these keys and the alias table below is total over them.
const (
	Worcester = "worcester"
	Vaillant  = "vaillant"
	Ideal     = "ideal"
	Baxi      = "baxi"
	GlowWorm  = "glowworm"
	Viessmann = "viessmann"
	Ferroli   = "ferroli"
	Potterton = "potterton"
	Alpha     = "alpha"
)

// aliases maps lower-cased free-text strings to canonical keys. Static,
// never mutated at runtime.
var aliases = map[string]string{
	"worcester":        Worcester,
	"worcester bosch":  Worcester,
	"worcester-bosch":  Worcester,
	"bosch":            Worcester,
	"greenstar":        Worcester,
	"vaillant":         Vaillant,
	"valiant":          Vaillant,
	"ecotec":           Vaillant,
	"ideal":            Ideal,
	"ideal boilers":    Ideal,
	"ideal heating":    Ideal,
	"logic":            Ideal,
	"baxi":             Baxi,
	"baxi heating":     Baxi,
	"glow worm":        GlowWorm,
	"glow-worm":        GlowWorm,
	"glowworm":         GlowWorm,
	"viessmann":        Viessmann,
	"vitodens":         Viessmann,
	"ferroli":          Ferroli,
	"potterton":        Potterton,
	"alpha":            Alpha,
	"alpha boilers":    Alpha,
	"alpha heating":    Alpha,
}

// Normalizer resolves free-text manufacturer strings to canonical keys,
// memoizing results so repeated lookups in a hot loop are O(1).
type Normalizer struct {
	memo *cache.Cache[string]
}

// NewNormalizer creates a Normalizer with the given memoization cache.
// A nil cache disables memoization.
func NewNormalizer(memo *cache.Cache[string]) *Normalizer {
	return &Normalizer{memo: memo}
}

// NewDefaultNormalizer creates a Normalizer with a modest built-in cache.
func NewDefaultNormalizer() *Normalizer {
	return NewNormalizer(cache.New[string](time.Hour, 128))
}

// Normalize maps input to a canonical manufacturer key. Returns "" for
// blank input or for a well-formed string with no known mapping.
func (n *Normalizer) Normalize(input string) string {
	key := strings.ToLower(strings.TrimSpace(input))
	if key == "" {
		return ""
	}

	if n.memo != nil {
		if v, ok := n.memo.Get(key); ok {
			return v
		}
	}

	canonical := aliases[key]
	if n.memo != nil {
		n.memo.Set(key, canonical)
	}
	return canonical
}

// IsCanonical reports whether key is a member of the canonical set.
func IsCanonical(key string) bool {
	for _, v := range aliases {
		if v == key {
			return true
		}
	}
	return false
}

// Known returns the canonical manufacturer keys, sorted.
func Known() []string {
	seen := make(map[string]struct{})
	for _, v := range aliases {
		seen[v] = struct{}{}
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
