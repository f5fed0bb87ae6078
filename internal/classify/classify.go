// Package classify labels keywords with a search intent using an ordered
// list of pattern rules.
package classify

import (
	"fmt"
	"os"
	"regexp"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/FranksOps/seedling/internal/keyword"
)

// Rule maps a set of patterns to an intent. Patterns are regular
// expressions matched against normalized keyword text.
type Rule struct {
	Intent   keyword.Intent `yaml:"intent"`
	Patterns []string       `yaml:"patterns"`
}

// DefaultRules is the built-in rule list in priority order.
var DefaultRules = []Rule{
	{Intent: keyword.IntentTransactional, Patterns: []string{
		`\b(buy|purchase|order|shop|sale|deals?|discount|coupons?|promo)\b`,
		`\b(for sale|to buy|online store|cart|checkout|free shipping|delivery)\b`,
		`\b(hire|rent|book|subscribe|download)\b`,
	}},
	{Intent: keyword.IntentLocal, Patterns: []string{
		`\b(near me|nearby|near|local|open now)\b`,
		`\b(directions|hours|address|phone number)\b`,
		`\b\d{5}\b`,
	}},
	{Intent: keyword.IntentCommercial, Patterns: []string{
		`\b(best|top|reviews?|comparison|compare|affordable|cheap|cheapest|premium)\b`,
		`\b(vs|versus|alternatives?)\b`,
		`\b(price|prices|cost|pricing|quote)\b`,
	}},
	{Intent: keyword.IntentNavigational, Patterns: []string{
		`\b(login|log in|sign in|sign up|account|dashboard|portal|homepage|official site|website)\b`,
		`^[a-z0-9]+ (app|site|login)$`,
	}},
	{Intent: keyword.IntentInformational, Patterns: []string{
		`^(how|what|why|when|where|who|which|can|is|are|does|do|should)\b`,
		`\b(guide|tutorial|learn|explained?|definition|meaning|examples?|ideas|tips|benefits)\b`,
		`\b(how to|what is|difference between)\b`,
	}},
}

var questionWords = []string{"how", "what", "why", "when", "where", "who", "which", "can", "is", "are", "does", "do", "should"}

type compiled struct {
	intent   keyword.Intent
	patterns []*regexp.Regexp
}

// Classifier applies rules in order; the first rule with a matching
// pattern decides the intent.
type Classifier struct {
	rules []compiled
}

// New compiles rules. Every rule must name a known intent.
func New(rules []Rule) (*Classifier, error) {
	c := &Classifier{rules: make([]compiled, 0, len(rules))}
	for i, r := range rules {
		if !slices.Contains(keyword.Intents, r.Intent) || r.Intent == keyword.IntentUnknown {
			return nil, fmt.Errorf("rule %d: unknown intent %q", i, r.Intent)
		}
		cr := compiled{intent: r.Intent}
		for _, p := range r.Patterns {
			re, err := regexp.Compile(p)
			if err != nil {
				return nil, fmt.Errorf("rule %d (%s): %w", i, r.Intent, err)
			}
			cr.patterns = append(cr.patterns, re)
		}
		c.rules = append(c.rules, cr)
	}
	return c, nil
}

// Default returns a classifier over DefaultRules.
func Default() *Classifier {
	c, err := New(DefaultRules)
	if err != nil {
		panic(err)
	}
	return c
}

// LoadRules reads a YAML list of rules, for example:
//
//	- intent: transactional
//	  patterns: ['\bbuy\b']
func LoadRules(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules: %w", err)
	}
	var rules []Rule
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("decode rules %s: %w", path, err)
	}
	return rules, nil
}

// Classify returns the intent of normalized text, or Unknown.
func (c *Classifier) Classify(text string) keyword.Intent {
	for _, r := range c.rules {
		for _, re := range r.patterns {
			if re.MatchString(text) {
				return r.intent
			}
		}
	}
	return keyword.IntentUnknown
}

// Modifiers returns every intent-bearing phrase found in text, sorted.
func (c *Classifier) Modifiers(text string) []string {
	var out []string
	for _, r := range c.rules {
		for _, re := range r.patterns {
			for _, m := range re.FindAllString(text, -1) {
				if m = strings.TrimSpace(m); m != "" && !slices.Contains(out, m) {
					out = append(out, m)
				}
			}
		}
	}
	slices.Sort(out)
	return out
}

// IsQuestion reports whether text starts with a question word or ends
// with a question mark.
func IsQuestion(text string) bool {
	text = strings.TrimSpace(text)
	if strings.HasSuffix(text, "?") {
		return true
	}
	first, _, _ := strings.Cut(strings.ToLower(text), " ")
	return slices.Contains(questionWords, first)
}

// Apply labels k in place. Question detection looks at the raw form so a
// trailing question mark stripped by normalization still counts.
func (c *Classifier) Apply(k *keyword.Keyword) {
	k.Intent = c.Classify(k.Text)
	k.Modifiers = c.Modifiers(k.Text)
	k.Question = IsQuestion(k.Text) || IsQuestion(k.Raw)
}
