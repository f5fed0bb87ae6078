package keyword

import (
	"slices"
	"time"

	"github.com/google/uuid"
)

// Intent is the search intent label assigned by the classifier.
type Intent string

const (
	IntentInformational Intent = "informational"
	IntentCommercial    Intent = "commercial"
	IntentTransactional Intent = "transactional"
	IntentLocal         Intent = "local"
	IntentNavigational  Intent = "navigational"
	IntentUnknown       Intent = "unknown"
)

// Intents lists every valid label, Unknown last.
var Intents = []Intent{
	IntentInformational,
	IntentCommercial,
	IntentTransactional,
	IntentLocal,
	IntentNavigational,
	IntentUnknown,
}

// Source names the expansion method that produced a keyword.
type Source string

const (
	SourceSeed        Source = "seed"
	SourceAutosuggest Source = "autosuggest"
	SourceModifier    Source = "modifier"
	SourcePAA         Source = "paa"
	SourceRelated     Source = "related"
	SourceCompetitor  Source = "competitor"
)

// idSpace scopes deterministic keyword and cluster IDs.
var idSpace = uuid.MustParse("6f1c2a0e-4b8d-5c3e-9a71-2d0f5e8b4c19")

// NewID derives a stable ID from a kind and a canonical name so that
// identical input produces identical IDs across runs.
func NewID(kind, name string) string {
	return uuid.NewSHA1(idSpace, []byte(kind+":"+name)).String()
}

// Provenance records one raw form of a keyword and where it came from.
type Provenance struct {
	Raw    string `json:"raw"`
	Source Source `json:"source"`
}

// Entity is a named entity recognized in keyword text.
type Entity struct {
	Text string `json:"text"`
	Type string `json:"type"`
}

// SerpResult is one ranked organic result.
type SerpResult struct {
	Position int    `json:"position"`
	Title    string `json:"title"`
	Link     string `json:"link"`
	Snippet  string `json:"snippet"`
}

// SerpSnapshot is the raw SERP payload for a keyword at a point in time.
// Snapshots are never mutated once stored; a re-fetch appends a new one.
type SerpSnapshot struct {
	Query        string       `json:"query"`
	Results      []SerpResult `json:"results"`
	PAA          []string     `json:"paa"`
	Related      []string     `json:"related"`
	Features     []string     `json:"features"`
	Ads          int          `json:"ads"`
	TotalResults int64        `json:"total_results"`
	Provider     string       `json:"provider"`
	RetrievedAt  time.Time    `json:"retrieved_at"`
}

// SerpMetrics are the SERP-derived signals used by scoring.
type SerpMetrics struct {
	ResultCount      int      `json:"result_count"`
	HomepageRatio    float64  `json:"homepage_ratio"`
	BrandRatio       float64  `json:"brand_ratio"`
	AdCount          int      `json:"ad_count"`
	Features         []string `json:"features"`
	ExactMatchTitles int      `json:"exact_match_titles"`
	PartialTitles    int      `json:"partial_titles"`
	AvgWordCount     float64  `json:"avg_word_count"`
}

// HasFeature reports whether the SERP carried the named feature.
func (m SerpMetrics) HasFeature(name string) bool {
	return slices.Contains(m.Features, name)
}

// Trend summarizes relative interest over time.
type Trend struct {
	Direction string `json:"direction"`
	Current   int    `json:"current"`
	Average   int    `json:"average"`
	Peak      int    `json:"peak"`
	Seasonal  bool   `json:"seasonal"`
	Series    []int  `json:"series,omitempty"`
}

// DifficultyParts is the per-component breakdown of a difficulty score.
type DifficultyParts struct {
	SerpStrength float64 `json:"serp_strength"`
	Competition  float64 `json:"competition"`
	Crowding     float64 `json:"crowding"`
	ContentDepth float64 `json:"content_depth"`
}

// Degradation marks a stage whose output for a keyword is best-effort.
type Degradation struct {
	Stage     string `json:"stage"`
	Provider  string `json:"provider,omitempty"`
	ErrorKind string `json:"error_kind,omitempty"`
	Reason    string `json:"reason"`
}

// Keyword is one unique keyword within a pipeline run.
type Keyword struct {
	ID     string       `json:"id"`
	Text   string       `json:"text"`
	Raw    string       `json:"raw"`
	Source Source       `json:"source"`
	Alt    []Provenance `json:"alt,omitempty"`
	Order  int          `json:"order"`

	Intent    Intent   `json:"intent"`
	Modifiers []string `json:"modifiers,omitempty"`
	Question  bool     `json:"question"`
	Entities  []Entity `json:"entities,omitempty"`

	Volume    int            `json:"volume"`
	CPC       float64        `json:"cpc"`
	Trend     Trend          `json:"trend"`
	Metrics   SerpMetrics    `json:"metrics"`
	Snapshots []SerpSnapshot `json:"snapshots,omitempty"`

	Difficulty       float64         `json:"difficulty"`
	Parts            DifficultyParts `json:"difficulty_parts"`
	TrafficPotential float64         `json:"traffic_potential"`
	Opportunity      float64         `json:"opportunity"`

	Embedding   []float32 `json:"-"`
	TopicID     string    `json:"topic_id,omitempty"`
	PageGroupID string    `json:"page_group_id,omitempty"`

	Degraded []Degradation `json:"degraded,omitempty"`
}

// New creates a keyword record for raw text discovered by src.
func New(raw string, src Source, order int) *Keyword {
	return &Keyword{
		Raw:    raw,
		Text:   raw,
		Source: src,
		Order:  order,
		Intent: IntentUnknown,
	}
}

// Latest returns the most recent SERP snapshot, if any.
func (k *Keyword) Latest() (SerpSnapshot, bool) {
	if len(k.Snapshots) == 0 {
		return SerpSnapshot{}, false
	}
	return k.Snapshots[len(k.Snapshots)-1], true
}

// AddSnapshot appends a snapshot. Existing snapshots are left untouched.
func (k *Keyword) AddSnapshot(s SerpSnapshot) {
	k.Snapshots = append(k.Snapshots, s)
}

// Degrade records a best-effort outcome for stage.
func (k *Keyword) Degrade(d Degradation) {
	k.Degraded = append(k.Degraded, d)
}

// IsDegraded reports whether any stage degraded this keyword.
func (k *Keyword) IsDegraded() bool {
	return len(k.Degraded) > 0
}

// DegradedIn reports whether stage degraded this keyword.
func (k *Keyword) DegradedIn(stage string) bool {
	for _, d := range k.Degraded {
		if d.Stage == stage {
			return true
		}
	}
	return false
}

// Value is the volume x opportunity product used for pillar selection.
func (k *Keyword) Value() float64 {
	return float64(k.Volume) * k.Opportunity
}

// Detach clears the cluster assignment, used when a keyword is removed
// from a run after clustering.
func (k *Keyword) Detach() {
	k.TopicID = ""
	k.PageGroupID = ""
}

// Topic is a broad thematic cluster. Members are referenced by keyword ID.
type Topic struct {
	ID               string    `json:"id"`
	Label            string    `json:"label"`
	PillarID         string    `json:"pillar_id"`
	Members          []string  `json:"members"`
	PageGroups       []string  `json:"page_groups"`
	Centroid         []float64 `json:"centroid,omitempty"`
	Threshold        float64   `json:"threshold"`
	TotalVolume      int       `json:"total_volume"`
	TotalOpportunity float64   `json:"total_opportunity"`
	AvgDifficulty    float64   `json:"avg_difficulty"`
}

// PageGroup is a single-page target cluster inside exactly one Topic.
type PageGroup struct {
	ID               string   `json:"id"`
	TopicID          string   `json:"topic_id"`
	Label            string   `json:"label"`
	PillarID         string   `json:"pillar_id"`
	Members          []string `json:"members"`
	Threshold        float64  `json:"threshold"`
	Intent           Intent   `json:"intent"`
	TotalVolume      int      `json:"total_volume"`
	TotalOpportunity float64  `json:"total_opportunity"`
}

// Remove detaches id from the group's member list and reports whether it was present.
func (g *PageGroup) Remove(id string) bool {
	i := slices.Index(g.Members, id)
	if i < 0 {
		return false
	}
	g.Members = slices.Delete(g.Members, i, i+1)
	return true
}

// Remove detaches id from the topic's member list and reports whether it was present.
func (t *Topic) Remove(id string) bool {
	i := slices.Index(t.Members, id)
	if i < 0 {
		return false
	}
	t.Members = slices.Delete(t.Members, i, i+1)
	return true
}

// SiblingLink is a near-duplicate relation between PageGroups of different Topics.
type SiblingLink struct {
	From       string  `json:"from"`
	To         string  `json:"to"`
	Similarity float64 `json:"similarity"`
}
