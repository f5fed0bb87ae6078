package entity

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/FranksOps/seedling/internal/keyword"
)

var builtinTerms = map[string][]string{
	TypeProduct: {"software", "tool", "app", "platform", "service", "product", "system", "solution", "program", "device", "machine"},
	TypeAudience: {"for beginners", "for students", "for professionals", "for kids", "for small business", "for enterprise",
		"for startups", "for seniors", "for women", "for men"},
	TypePrice: {"free", "cheap", "affordable", "expensive", "premium", "budget", "low cost", "high end", "luxury", "discount"},
	TypeProblem: {"problem", "issue", "error", "fail", "broken", "not working", "fix", "solve", "resolve"},
}

var (
	yearPattern     = regexp.MustCompile(`\b(19\d{2}|20\d{2})\b`)
	currencyPattern = regexp.MustCompile(`[$£€¥]\s*\d+`)
	locationPattern = regexp.MustCompile(`\b(?:in|near) ([a-z]+(?: [a-z]+)?)$|\b(near me|nearby)\b`)
	capitalized     = regexp.MustCompile(`\b[A-Z][A-Za-z0-9&]*(?:\s+[A-Z][A-Za-z0-9&]*)*\b`)
)

var notBrands = []string{"how", "what", "why", "when", "where", "who", "which", "best", "top", "the", "is", "are", "can", "i"}

type termSet struct {
	typ string
	re  *regexp.Regexp
}

// Gazetteer finds entities by term lists and fixed patterns. It is the
// offline extractor and needs no model.
type Gazetteer struct {
	sets []termSet
}

// NewGazetteer builds a gazetteer from the built-in term lists plus extra,
// which maps an entity type to its terms.
func NewGazetteer(extra map[string][]string) *Gazetteer {
	merged := make(map[string][]string, len(builtinTerms)+len(extra))
	for typ, terms := range builtinTerms {
		merged[typ] = append(merged[typ], terms...)
	}
	for typ, terms := range extra {
		merged[strings.ToLower(typ)] = append(merged[strings.ToLower(typ)], terms...)
	}

	types := make([]string, 0, len(merged))
	for typ := range merged {
		types = append(types, typ)
	}
	slices.Sort(types)

	g := &Gazetteer{}
	for _, typ := range types {
		quoted := make([]string, 0, len(merged[typ]))
		for _, t := range merged[typ] {
			if t = strings.TrimSpace(strings.ToLower(t)); t != "" {
				quoted = append(quoted, regexp.QuoteMeta(t))
			}
		}
		if len(quoted) == 0 {
			continue
		}
		// Longer terms first so "for small business" wins over shorter overlaps.
		slices.SortFunc(quoted, func(a, b string) int { return len(b) - len(a) })
		g.sets = append(g.sets, termSet{typ: typ, re: regexp.MustCompile(`\b(` + strings.Join(quoted, "|") + `)\b`)})
	}
	return g
}

// LoadGazetteer reads a YAML mapping of entity type to terms.
func LoadGazetteer(path string) (map[string][]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read gazetteer: %w", err)
	}
	var terms map[string][]string
	if err := yaml.Unmarshal(data, &terms); err != nil {
		return nil, fmt.Errorf("decode gazetteer %s: %w", path, err)
	}
	return terms, nil
}

// Extract looks for entities in text. Brands are only detected from
// mixed-case input, where capitalization carries meaning.
func (g *Gazetteer) Extract(_ context.Context, text string) ([]keyword.Entity, error) {
	lower := strings.ToLower(text)
	var out []keyword.Entity

	for _, s := range g.sets {
		for _, m := range s.re.FindAllString(lower, -1) {
			out = append(out, keyword.Entity{Text: m, Type: s.typ})
		}
	}
	for _, m := range yearPattern.FindAllString(lower, -1) {
		out = append(out, keyword.Entity{Text: m, Type: TypeYear})
	}
	for _, m := range currencyPattern.FindAllString(text, -1) {
		out = append(out, keyword.Entity{Text: m, Type: TypePrice})
	}
	for _, m := range locationPattern.FindAllStringSubmatch(lower, -1) {
		loc := m[1]
		if loc == "" {
			loc = m[2]
		}
		out = append(out, keyword.Entity{Text: loc, Type: TypeLocation})
	}
	out = append(out, brands(text)...)

	return Merge(nil, out), nil
}

func brands(text string) []keyword.Entity {
	if text == strings.ToLower(text) || text == strings.ToUpper(text) || isTitleCase(text) {
		return nil
	}
	var out []keyword.Entity
	for _, m := range capitalized.FindAllString(text, -1) {
		words := strings.Fields(m)
		for len(words) > 0 && slices.Contains(notBrands, strings.ToLower(words[0])) {
			words = words[1:]
		}
		if len(words) == 0 {
			continue
		}
		out = append(out, keyword.Entity{Text: strings.Join(words, " "), Type: TypeBrand})
	}
	return out
}

func isTitleCase(text string) bool {
	for _, w := range strings.Fields(text) {
		r := []rune(w)
		if len(r) > 0 && strings.ToUpper(string(r[0])) != string(r[0]) {
			return false
		}
	}
	return true
}
