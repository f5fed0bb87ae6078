package scoring

import (
	"math"

	"github.com/FranksOps/seedling/internal/keyword"
)

// CTR curves by SERP layout, click-through percent for positions 1 to 10.
var (
	ctrInformational   = [10]float64{31.7, 24.7, 18.7, 13.6, 9.5, 6.9, 5.1, 3.8, 2.8, 2.2}
	ctrFeaturedSnippet = [10]float64{19.6, 15.3, 11.3, 8.1, 5.8, 4.3, 3.2, 2.4, 1.8, 1.4}
	ctrCommercial      = [10]float64{27.6, 15.8, 11.3, 8.4, 6.1, 4.5, 3.4, 2.6, 2.0, 1.6}
	ctrLocalMap        = [10]float64{12.0, 9.0, 6.5, 4.8, 3.5, 2.6, 1.9, 1.4, 1.0, 0.8}
)

// curve picks the CTR curve that matches the SERP layout.
func curve(intent keyword.Intent, m keyword.SerpMetrics) [10]float64 {
	switch {
	case intent == keyword.IntentLocal && m.HasFeature(featureMapPack):
		return ctrLocalMap
	case m.HasFeature(featureFeaturedSnippet):
		return ctrFeaturedSnippet
	case intent == keyword.IntentCommercial || intent == keyword.IntentTransactional:
		return ctrCommercial
	}
	return ctrInformational
}

// TrafficPotential estimates monthly clicks at rank (1 to 10), rounded to
// one decimal.
func TrafficPotential(volume int, intent keyword.Intent, m keyword.SerpMetrics, rank int) float64 {
	if volume <= 0 {
		return 0
	}
	rank = min(max(rank, 1), 10)
	ctr := curve(intent, m)[rank-1] / 100
	return math.Round(float64(volume)*ctr*10) / 10
}
