// Package scoring computes keyword difficulty, traffic potential and
// opportunity from SERP signals.
package scoring

import (
	"cmp"
	"slices"

	"github.com/FranksOps/seedling/internal/config"
	"github.com/FranksOps/seedling/internal/keyword"
)

const (
	featureKnowledgeGraph  = "knowledge_graph"
	featureFeaturedSnippet = "featured_snippet"
	featureMapPack         = "map_pack"
)

// Engine scores keywords with a fixed set of weights. It is safe for
// concurrent use.
type Engine struct {
	weights    config.Weights
	fit        map[keyword.Intent]float64
	targetRank int
	neutral    float64
}

// New validates the weights and builds an engine. Invalid weights fail with
// an error matching config.ErrInvalidWeights.
func New(cfg config.Scoring) (*Engine, error) {
	if err := config.ValidateWeights(cfg.Weights); err != nil {
		return nil, err
	}

	e := &Engine{
		weights:    cfg.Weights,
		fit:        make(map[keyword.Intent]float64, len(cfg.IntentFit)),
		targetRank: cfg.TargetRank,
		neutral:    cfg.NeutralDifficulty,
	}
	for label, v := range cfg.IntentFit {
		e.fit[keyword.Intent(label)] = v
	}
	if e.targetRank < 1 || e.targetRank > 10 {
		e.targetRank = 3
	}
	return e, nil
}

// Parts returns the four clamped difficulty sub-scores.
func Parts(m keyword.SerpMetrics) keyword.DifficultyParts {
	var p keyword.DifficultyParts

	p.SerpStrength = clamp((30*m.HomepageRatio + 40*m.BrandRatio) / 70 * 100)
	if n := min(m.ResultCount, 10); n > 0 {
		p.Competition = clamp(float64(m.ExactMatchTitles) / float64(n) * 100)
	}
	p.Crowding = clamp(min(float64(m.AdCount)/4, 1)*50 + min(float64(len(m.Features))*10, 50))
	p.ContentDepth = clamp(m.AvgWordCount / 30 * 100)
	return p
}

// Difficulty returns the weighted difficulty in [0,100].
func (e *Engine) Difficulty(p keyword.DifficultyParts) float64 {
	return clamp(p.SerpStrength*e.weights.SerpStrength +
		p.Competition*e.weights.Competition +
		p.Crowding*e.weights.Crowding +
		p.ContentDepth*e.weights.ContentDepth)
}

// IntentFit returns the configured multiplier for intent, 1 if unset.
func (e *Engine) IntentFit(intent keyword.Intent) float64 {
	if v, ok := e.fit[intent]; ok {
		return v
	}
	return 1
}

// CpcWeight boosts commercial and transactional keywords by their CPC, up to 3x.
func CpcWeight(cpc float64, intent keyword.Intent) float64 {
	if intent != keyword.IntentCommercial && intent != keyword.IntentTransactional {
		return 1
	}
	return 1 + min(max(cpc, 0)/10, 2)
}

// BrandCrowding penalizes SERPs dominated by brand presence.
func BrandCrowding(m keyword.SerpMetrics) float64 {
	bc := 10 * m.BrandRatio
	if m.HasFeature(featureKnowledgeGraph) {
		bc += 10
	}
	return bc
}

// Opportunity is (traffic x cpcWeight x intentFit) / (difficulty + brandCrowding),
// with the denominator floored at 1.
func Opportunity(traffic, cpcWeight, intentFit, difficulty, brandCrowding float64) float64 {
	return traffic * cpcWeight * intentFit / max(difficulty+brandCrowding, 1)
}

// Score fills in the difficulty, its parts, traffic potential and
// opportunity of k. Keywords without any SERP data get the neutral
// difficulty.
func (e *Engine) Score(k *keyword.Keyword) {
	if hasSerp(k) {
		k.Parts = Parts(k.Metrics)
		k.Difficulty = e.Difficulty(k.Parts)
	} else {
		k.Parts = keyword.DifficultyParts{}
		k.Difficulty = e.neutral
	}

	k.TrafficPotential = TrafficPotential(k.Volume, k.Intent, k.Metrics, e.targetRank)
	k.Opportunity = Opportunity(
		k.TrafficPotential,
		CpcWeight(k.CPC, k.Intent),
		e.IntentFit(k.Intent),
		k.Difficulty,
		BrandCrowding(k.Metrics),
	)
}

func hasSerp(k *keyword.Keyword) bool {
	return len(k.Snapshots) > 0 || k.Metrics.ResultCount > 0
}

// Rank sorts keywords by opportunity, then search volume, both
// descending, then by discovery order.
func Rank(kws []*keyword.Keyword) {
	slices.SortStableFunc(kws, func(a, b *keyword.Keyword) int {
		if c := cmp.Compare(b.Opportunity, a.Opportunity); c != 0 {
			return c
		}
		if c := cmp.Compare(b.Volume, a.Volume); c != 0 {
			return c
		}
		return cmp.Compare(a.Order, b.Order)
	})
}

func clamp(v float64) float64 {
	return min(max(v, 0), 100)
}
