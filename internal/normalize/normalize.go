// Package normalize canonicalizes keyword text and merges duplicates.
package normalize

import (
	"slices"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/FranksOps/seedling/internal/keyword"
)

// Canonical returns the canonical form of s: accents folded, lowercased,
// whitespace collapsed, punctuation-only tokens dropped and punctuation
// trimmed from both ends. Canonical is idempotent.
func Canonical(s string) string {
	folded, _, err := transform.String(foldAccents(), s)
	if err != nil {
		folded = s
	}

	fields := strings.Fields(strings.ToLower(folded))
	kept := fields[:0]
	for _, f := range fields {
		if strings.IndexFunc(f, isWordRune) >= 0 {
			kept = append(kept, f)
		}
	}
	return strings.TrimFunc(strings.Join(kept, " "), func(r rune) bool {
		return !isWordRune(r)
	})
}

// Tokens splits the canonical form of s into words.
func Tokens(s string) []string {
	return strings.Fields(Canonical(s))
}

// foldAccents decomposes, drops combining marks and recomposes. A new
// chain is built per call because transformers carry state.
func foldAccents() transform.Transformer {
	return transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

// Result is the outcome of a deduplication pass.
type Result struct {
	Keywords []*keyword.Keyword
	Merged   int
	Dropped  int
}

// Dedupe canonicalizes every keyword and merges those sharing canonical
// text. The first-seen record survives with its metrics and snapshots; the
// raw forms and sources of later duplicates become alternate provenance.
// A survivor without SERP data takes over the first duplicate's snapshots,
// and duplicates' degradations are kept. Keywords whose canonical form is
// empty are dropped. Order is preserved.
func Dedupe(kws []*keyword.Keyword) Result {
	var res Result
	index := make(map[string]*keyword.Keyword, len(kws))

	for _, k := range kws {
		text := Canonical(k.Raw)
		if text == "" {
			res.Dropped++
			continue
		}

		if first, ok := index[text]; ok {
			first.Alt = append(first.Alt, keyword.Provenance{Raw: k.Raw, Source: k.Source})
			first.Alt = append(first.Alt, k.Alt...)
			merge(first, k)
			res.Merged++
			continue
		}

		k.Text = text
		k.ID = keyword.NewID("keyword", text)
		index[text] = k
		res.Keywords = append(res.Keywords, k)
	}
	return res
}

// merge moves what dup learned into first when first has nothing of its own.
func merge(first, dup *keyword.Keyword) {
	if len(first.Snapshots) == 0 && len(dup.Snapshots) > 0 {
		first.Snapshots = dup.Snapshots
		first.Metrics = dup.Metrics
	}
	for _, d := range dup.Degraded {
		if !slices.Contains(first.Degraded, d) {
			first.Degrade(d)
		}
	}
}
