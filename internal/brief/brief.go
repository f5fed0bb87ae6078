// Package brief derives a content brief for each PageGroup.
package brief

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/FranksOps/seedling/internal/cluster"
	"github.com/FranksOps/seedling/internal/keyword"
)

const (
	maxFAQs     = 10
	maxEntities = 20
	// entitySections caps the outline sections derived from entities.
	entitySections = 5
	// featureShare is the share of member SERPs a feature must appear on
	// to become a target.
	featureShare = 0.3
	// hubLinks caps the spokes a hub page links down to.
	hubLinks = 5
)

// Heading is one outline entry.
type Heading struct {
	Level    string    `json:"level"`
	Text     string    `json:"text"`
	Children []Heading `json:"children,omitempty"`
}

// WordRange is the recommended article length.
type WordRange struct {
	Min int `json:"min"`
	Max int `json:"max"`
}

func (w WordRange) String() string { return fmt.Sprintf("%d-%d", w.Min, w.Max) }

// Link is an internal-linking suggestion between two pages.
type Link struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Anchor  string `json:"anchor"`
	Context string `json:"context"`
}

// Brief is the content plan for one PageGroup.
type Brief struct {
	PageGroupID   string         `json:"page_group_id"`
	TargetKeyword string         `json:"target_keyword"`
	Intent        keyword.Intent `json:"intent"`
	Summary       string         `json:"summary"`
	Outline       []Heading      `json:"outline"`
	FAQs          []string       `json:"faqs"`
	SchemaTypes   []string       `json:"schema_types"`
	Features      []string       `json:"features"`
	WordRange     WordRange      `json:"word_range"`
	Supporting    []string       `json:"supporting"`
	Entities      []string       `json:"entities"`
}

// Input is one PageGroup with its member keywords, pillar first.
type Input struct {
	Group   *keyword.PageGroup
	Members []*keyword.Keyword
}

// Generator produces briefs.
type Generator interface {
	Generate(ctx context.Context, in Input) (Brief, error)
}

var (
	schemaByIntent = map[keyword.Intent][]string{
		keyword.IntentInformational: {"Article", "FAQPage", "HowTo"},
		keyword.IntentCommercial:    {"Product", "Review", "AggregateRating", "FAQPage"},
		keyword.IntentTransactional: {"Product", "Offer", "Organization"},
		keyword.IntentLocal:         {"LocalBusiness", "Service", "FAQPage"},
		keyword.IntentNavigational:  {"Organization", "WebSite", "SearchAction"},
	}
	wordsByIntent = map[keyword.Intent]WordRange{
		keyword.IntentInformational: {1500, 2500},
		keyword.IntentCommercial:    {2000, 3000},
		keyword.IntentTransactional: {800, 1200},
		keyword.IntentLocal:         {600, 1000},
		keyword.IntentNavigational:  {300, 600},
	}
	summaryByIntent = map[keyword.Intent]string{
		keyword.IntentInformational: "Searchers for %q want to learn and understand the topic. Provide comprehensive, educational content.",
		keyword.IntentCommercial:    "Searchers for %q are evaluating options. Include comparisons, reviews and buying guidance.",
		keyword.IntentTransactional: "Searchers for %q are ready to act. Optimize for conversion with clear calls to action and product information.",
		keyword.IntentLocal:         "Searchers for %q want a local business or service. Include location, hours and contact details.",
		keyword.IntentNavigational:  "Searchers for %q are looking for a specific page or brand.",
	}
)

// ensure Template implements Generator
var _ Generator = (*Template)(nil)

// Template builds briefs from fixed per-intent templates and the SERP
// data of the group's members.
type Template struct {
	// Now dates titles. Nil means time.Now.
	Now func() time.Time
}

// Generate builds the brief for in. It fails only for an empty group.
func (t *Template) Generate(_ context.Context, in Input) (Brief, error) {
	if in.Group == nil || len(in.Members) == 0 {
		return Brief{}, fmt.Errorf("brief: empty page group")
	}
	now := time.Now
	if t.Now != nil {
		now = t.Now
	}

	pillar := in.Members[0]
	for _, k := range in.Members {
		if k.ID == in.Group.PillarID {
			pillar = k
		}
	}
	intent := in.Group.Intent
	if intent == "" {
		intent = pillar.Intent
	}

	b := Brief{
		PageGroupID:   in.Group.ID,
		TargetKeyword: pillar.Text,
		Intent:        intent,
		FAQs:          faqs(in.Members),
		Features:      features(in.Members),
		Entities:      entities(in.Members),
	}
	for _, k := range in.Members {
		if k != pillar {
			b.Supporting = append(b.Supporting, k.Text)
		}
	}

	b.SchemaTypes = schemaByIntent[intent]
	if b.SchemaTypes == nil {
		b.SchemaTypes = []string{"Article"}
	}
	var ok bool
	if b.WordRange, ok = wordsByIntent[intent]; !ok {
		b.WordRange = WordRange{1200, 1800}
	}
	if f, ok := summaryByIntent[intent]; ok {
		b.Summary = fmt.Sprintf(f, pillar.Text)
	} else {
		b.Summary = fmt.Sprintf("Primary intent of %q is %s.", pillar.Text, intent)
	}
	b.Outline = outline(pillar.Text, intent, b.Entities, now().Year())
	return b, nil
}

func outline(target string, intent keyword.Intent, ents []string, year int) []Heading {
	// Casers are stateful, so each outline gets its own.
	title := cases.Title(language.English)
	tt := title.String(target)

	h1 := tt
	switch intent {
	case keyword.IntentCommercial:
		best := tt
		if !strings.HasPrefix(strings.ToLower(target), "best ") {
			best = "Best " + tt
		}
		h1 = fmt.Sprintf("%s %d: Expert Reviews and Comparisons", best, year)
	case keyword.IntentInformational:
		h1 = fmt.Sprintf("%s: Complete Guide for %d", tt, year)
	case keyword.IntentTransactional:
		h1 = fmt.Sprintf("Buy %s: Best Deals and Prices", tt)
	case keyword.IntentLocal:
		h1 = fmt.Sprintf("%s Near You", tt)
	}

	out := []Heading{
		{Level: "H1", Text: h1},
		{Level: "H2", Text: fmt.Sprintf("What Is %s?", tt)},
	}
	switch intent {
	case keyword.IntentInformational:
		out = append(out,
			h2("How Does %s Work?", tt),
			h2("Benefits of %s", tt),
			h2("Types of %s", tt),
			h2("How to Choose the Right %s", tt))
	case keyword.IntentCommercial:
		out = append(out,
			Heading{Level: "H2", Text: fmt.Sprintf("Top %s Options", tt), Children: []Heading{
				{Level: "H3", Text: "Option 1"}, {Level: "H3", Text: "Option 2"}, {Level: "H3", Text: "Option 3"},
			}},
			Heading{Level: "H2", Text: "Comparison Table"},
			Heading{Level: "H2", Text: "Buying Guide", Children: []Heading{
				{Level: "H3", Text: "Key Features to Consider"}, {Level: "H3", Text: "Price Range"}, {Level: "H3", Text: "Where to Buy"},
			}})
	case keyword.IntentTransactional:
		out = append(out,
			h2("Why Buy %s From Us?", tt),
			Heading{Level: "H2", Text: "Pricing and Packages"},
			Heading{Level: "H2", Text: "Shipping and Delivery"})
	case keyword.IntentLocal:
		out = append(out,
			h2("%s in Your Area", tt),
			Heading{Level: "H2", Text: "Service Areas"},
			Heading{Level: "H2", Text: "Hours and Contact"})
	}

	for i, e := range ents {
		if i == entitySections {
			break
		}
		out = append(out, h2("%s Explained", title.String(e)))
	}
	return append(out,
		Heading{Level: "H2", Text: "Frequently Asked Questions"},
		Heading{Level: "H2", Text: "Conclusion"})
}

func h2(format, arg string) Heading {
	return Heading{Level: "H2", Text: fmt.Sprintf(format, arg)}
}

// faqs collects PAA questions from the members' latest SERPs, first
// occurrence wins.
func faqs(members []*keyword.Keyword) []string {
	var out []string
	seen := make(map[string]bool)
	for _, k := range members {
		snap, ok := k.Latest()
		if !ok {
			continue
		}
		for _, q := range snap.PAA {
			key := strings.ToLower(strings.TrimSpace(q))
			if key == "" || seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, q)
			if len(out) == maxFAQs {
				return out
			}
		}
	}
	return out
}

// features returns the SERP features present on at least featureShare of
// the members that have SERP data, in first-seen order.
func features(members []*keyword.Keyword) []string {
	var (
		order  []string
		counts = make(map[string]int)
		total  int
	)
	for _, k := range members {
		if k.Metrics.ResultCount == 0 && len(k.Metrics.Features) == 0 {
			continue
		}
		total++
		for _, f := range k.Metrics.Features {
			if counts[f] == 0 {
				order = append(order, f)
			}
			counts[f]++
		}
	}
	var out []string
	for _, f := range order {
		if float64(counts[f]) >= featureShare*float64(total) {
			out = append(out, f)
		}
	}
	return out
}

func entities(members []*keyword.Keyword) []string {
	var out []string
	seen := make(map[string]bool)
	for _, k := range members {
		for _, e := range k.Entities {
			key := strings.ToLower(e.Text)
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, e.Text)
			if len(out) == maxEntities {
				return out
			}
		}
	}
	return out
}

// LinkPlan suggests internal links for a clustering result: every spoke
// links up to its hub, each hub links down to its first spokes, and
// sibling PageGroups link across Topics. Labels are used as anchors.
func LinkPlan(res cluster.Result) []Link {
	label := make(map[string]string, len(res.PageGroups))
	for _, pg := range res.PageGroups {
		label[pg.ID] = pg.Label
	}

	var out []Link
	for _, g := range res.Graphs {
		if g.Hub == "" {
			continue
		}
		for _, s := range g.Spokes {
			out = append(out, Link{From: s, To: g.Hub, Anchor: label[g.Hub], Context: "parent topic"})
		}
		for i, s := range g.Spokes {
			if i == hubLinks {
				break
			}
			out = append(out, Link{From: g.Hub, To: s, Anchor: label[s], Context: "deep dive"})
		}
	}
	for _, sl := range res.Siblings {
		out = append(out, Link{From: sl.From, To: sl.To, Anchor: label[sl.To], Context: "related topic"})
	}
	return out
}
