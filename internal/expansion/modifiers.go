package expansion

import (
	"slices"

	"github.com/FranksOps/seedling/internal/keyword"
)

// focusModifiers are prepended to every seed for a project's content focus.
var focusModifiers = map[keyword.Intent][]string{
	keyword.IntentInformational: {"what is", "how to", "why", "guide", "tutorial", "tips", "examples", "benefits", "explained"},
	keyword.IntentCommercial:    {"best", "top", "review", "comparison", "vs", "alternative", "cheap", "affordable", "premium"},
	keyword.IntentTransactional: {"buy", "price", "cost", "discount", "coupon", "deal", "sale", "order", "online"},
	keyword.IntentLocal:         {"near me", "nearby", "local", "directions", "hours", "open"},
}

// suffixModifiers read naturally after the seed as well.
var suffixModifiers = []string{"guide", "tips", "review", "cost", "near me"}

// Modifiers returns the modifier variants of seed for focus: every
// modifier as a prefix, and the suffix-friendly ones as suffixes too.
func Modifiers(seed string, focus keyword.Intent) []string {
	mods := focusModifiers[focus]
	out := make([]string, 0, len(mods)+2)
	for _, m := range mods {
		out = append(out, m+" "+seed)
	}
	for _, m := range mods {
		if slices.Contains(suffixModifiers, m) {
			out = append(out, seed+" "+m)
		}
	}
	return out
}

// Wildcards are the autosuggest query patterns run for every seed.
func Wildcards(seed string) []string {
	return []string{
		"how to " + seed,
		"best " + seed,
		seed + " near me",
		seed + " vs",
	}
}
