package analyzer

import (
	"strings"
	"unicode"
)

// MatchTitles counts titles that contain the keyword as an exact phrase and,
// separately, titles that contain every keyword token but not the phrase.
// Matching is case-insensitive and ignores punctuation.
func MatchTitles(text string, titles []string) (exact, partial int) {
	phraseTokens := tokenize(text)
	if len(phraseTokens) == 0 {
		return 0, 0
	}
	phrase := " " + strings.Join(phraseTokens, " ") + " "

	for _, title := range titles {
		tokens := tokenize(title)
		if len(tokens) == 0 {
			continue
		}
		if strings.Contains(" "+strings.Join(tokens, " ")+" ", phrase) {
			exact++
			continue
		}
		if containsAll(tokens, phraseTokens) {
			partial++
		}
	}
	return exact, partial
}

// tokenize lowercases s and splits it on anything that is not a letter or digit.
func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func containsAll(haystack, needles []string) bool {
	set := make(map[string]struct{}, len(haystack))
	for _, t := range haystack {
		set[t] = struct{}{}
	}
	for _, n := range needles {
		if _, ok := set[n]; !ok {
			return false
		}
	}
	return true
}
