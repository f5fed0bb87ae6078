// Package cluster groups keywords into Topics and, within each Topic,
// single-page PageGroups using hierarchical clustering over a hybrid
// embedding and token similarity.
package cluster

import (
	"errors"
	"log/slog"
	"slices"
	"strings"

	"github.com/FranksOps/seedling/internal/config"
	"github.com/FranksOps/seedling/internal/keyword"
)

// ErrEmbeddingsUnavailable is reported as a warning when clustering fell
// back to token similarity because some keyword had no usable embedding.
var ErrEmbeddingsUnavailable = errors.New("cluster: embeddings unavailable, using token similarity")

// Graph is the hub and spoke layout of one Topic: the hub is the
// PageGroup holding the Topic pillar, spokes are its other PageGroups.
type Graph struct {
	TopicID string   `json:"topic_id"`
	Hub     string   `json:"hub"`
	Spokes  []string `json:"spokes"`
}

// Result is the output of one clustering pass.
type Result struct {
	Topics     []*keyword.Topic      `json:"topics"`
	PageGroups []*keyword.PageGroup  `json:"page_groups"`
	Siblings   []keyword.SiblingLink `json:"siblings"`
	Graphs     []Graph               `json:"graphs"`
	// Warning is ErrEmbeddingsUnavailable when the Jaccard fallback was used.
	Warning error `json:"-"`
}

// Engine clusters keywords with fixed thresholds.
type Engine struct {
	cfg config.Cluster
	log *slog.Logger
}

// New validates the thresholds and creates an engine.
func New(cfg config.Cluster, logger *slog.Logger) (*Engine, error) {
	if err := config.ValidateThresholds(cfg); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{cfg: cfg, log: logger}, nil
}

// Cluster assigns every keyword to exactly one Topic and one PageGroup and
// sets their TopicID and PageGroupID. Identical input gives identical output.
func (e *Engine) Cluster(kws []*keyword.Keyword) Result {
	var res Result
	if len(kws) == 0 {
		return res
	}

	useEmb := embeddingsUsable(kws)
	if !useEmb {
		res.Warning = ErrEmbeddingsUnavailable
		e.log.Warn("clustering without embeddings", "keywords", len(kws))
	}
	m := buildMatrix(kws, e.cfg.Alpha, useEmb)

	texts := make([]string, len(kws))
	all := make([]int, len(kws))
	for i, k := range kws {
		texts[i] = k.Text
		all[i] = i
	}

	// pillarOf maps a PageGroup ID to its pillar's index for sibling links.
	pillarOf := make(map[string]int)

	for _, topicIdx := range agglomerate(all, texts, m, e.cfg.TopicThreshold) {
		topic := &keyword.Topic{
			ID:        groupID("topic", kws, topicIdx),
			Threshold: e.cfg.TopicThreshold,
		}
		tp := pillar(kws, topicIdx)
		topic.PillarID = kws[tp].ID
		topic.Label = kws[tp].Text
		if useEmb {
			topic.Centroid = centroid(kws, topicIdx)
		}

		graph := Graph{TopicID: topic.ID}
		var difficulty float64
		for _, pageIdx := range agglomerate(topicIdx, texts, m, e.cfg.PageThreshold) {
			pp := pillar(kws, pageIdx)
			pg := &keyword.PageGroup{
				ID:        groupID("page", kws, pageIdx),
				TopicID:   topic.ID,
				Label:     kws[pp].Text,
				PillarID:  kws[pp].ID,
				Threshold: e.cfg.PageThreshold,
				Intent:    kws[pp].Intent,
			}
			for _, i := range pageIdx {
				k := kws[i]
				k.TopicID, k.PageGroupID = topic.ID, pg.ID
				pg.Members = append(pg.Members, k.ID)
				pg.TotalVolume += k.Volume
				pg.TotalOpportunity += k.Opportunity
			}
			pillarOf[pg.ID] = pp

			if slices.Contains(pageIdx, tp) {
				graph.Hub = pg.ID
			} else {
				graph.Spokes = append(graph.Spokes, pg.ID)
			}

			topic.PageGroups = append(topic.PageGroups, pg.ID)
			topic.TotalVolume += pg.TotalVolume
			topic.TotalOpportunity += pg.TotalOpportunity
			res.PageGroups = append(res.PageGroups, pg)
		}
		for _, i := range topicIdx {
			topic.Members = append(topic.Members, kws[i].ID)
			difficulty += kws[i].Difficulty
		}
		topic.AvgDifficulty = difficulty / float64(len(topicIdx))

		res.Topics = append(res.Topics, topic)
		res.Graphs = append(res.Graphs, graph)
	}

	res.Siblings = e.siblings(res.PageGroups, pillarOf, m)
	e.log.Debug("clustered keywords",
		"keywords", len(kws),
		"topics", len(res.Topics),
		"page_groups", len(res.PageGroups),
		"siblings", len(res.Siblings))
	return res
}

// siblings links PageGroups of different Topics whose pillars are at least
// SiblingThreshold similar. Links are listed once, in group order.
func (e *Engine) siblings(groups []*keyword.PageGroup, pillarOf map[string]int, m *matrix) []keyword.SiblingLink {
	var out []keyword.SiblingLink
	for a := 0; a < len(groups); a++ {
		for b := a + 1; b < len(groups); b++ {
			ga, gb := groups[a], groups[b]
			if ga.TopicID == gb.TopicID {
				continue
			}
			if s := m.at(pillarOf[ga.ID], pillarOf[gb.ID]); s >= e.cfg.SiblingThreshold {
				out = append(out, keyword.SiblingLink{From: ga.ID, To: gb.ID, Similarity: s})
			}
		}
	}
	return out
}

// pillar returns the member maximizing volume x opportunity, ties broken
// by shorter text and then by text order.
func pillar(kws []*keyword.Keyword, idx []int) int {
	best := idx[0]
	for _, i := range idx[1:] {
		a, b := kws[i], kws[best]
		switch va, vb := a.Value(), b.Value(); {
		case va > vb:
			best = i
		case va < vb:
		case len(a.Text) < len(b.Text):
			best = i
		case len(a.Text) == len(b.Text) && a.Text < b.Text:
			best = i
		}
	}
	return best
}

func centroid(kws []*keyword.Keyword, idx []int) []float64 {
	c := make([]float64, len(kws[idx[0]].Embedding))
	for _, i := range idx {
		for d, v := range kws[i].Embedding {
			c[d] += float64(v)
		}
	}
	for d := range c {
		c[d] /= float64(len(idx))
	}
	return c
}

// groupID derives a stable cluster ID from the member texts.
func groupID(kind string, kws []*keyword.Keyword, idx []int) string {
	texts := make([]string, len(idx))
	for i, k := range idx {
		texts[i] = kws[k].Text
	}
	slices.Sort(texts)
	return keyword.NewID(kind, strings.Join(texts, "\n"))
}

// Detach removes k from its PageGroup and Topic in res and clears its
// assignment. Emptied groups stay in place with no members.
func (r *Result) Detach(k *keyword.Keyword) {
	for _, pg := range r.PageGroups {
		if pg.ID == k.PageGroupID {
			pg.Remove(k.ID)
		}
	}
	for _, t := range r.Topics {
		if t.ID == k.TopicID {
			t.Remove(k.ID)
		}
	}
	k.Detach()
}
