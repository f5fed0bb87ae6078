package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Provider names used as keys in Settings.Providers.
const (
	ProviderSERP    = "serp"
	ProviderSuggest = "suggest"
	ProviderTrends  = "trends"
	ProviderVolume  = "volume"
	// ProviderModels governs the embedding and entity model calls.
	ProviderModels  = "models"
)

// Settings is the read-only snapshot a pipeline run is configured with.
type Settings struct {
	Providers map[string]Provider `mapstructure:"providers" validate:"dive"`
	Retry     Retry               `mapstructure:"retry"`
	Cache     Cache               `mapstructure:"cache"`
	Audit     Audit               `mapstructure:"audit"`
	Scoring   Scoring             `mapstructure:"scoring"`
	Cluster   Cluster             `mapstructure:"cluster"`
	Pipeline  Pipeline            `mapstructure:"pipeline"`
	Models    Models              `mapstructure:"models"`
	Logging   Logging             `mapstructure:"logging"`
	Metrics   Metrics             `mapstructure:"metrics"`
}

// Provider governs one external data source.
type Provider struct {
	Kind      string        `mapstructure:"kind"`
	BaseURL   string        `mapstructure:"base_url" validate:"omitempty,url"`
	// APIKey is never written to checkpoints.
	APIKey    string        `mapstructure:"api_key" json:"-"`
	RPM       int           `mapstructure:"rpm" validate:"gte=0"`
	Burst     int           `mapstructure:"burst" validate:"gte=0"`
	CacheTTL  time.Duration `mapstructure:"cache_ttl" validate:"gte=0"`
	QuotaCost int           `mapstructure:"quota_cost" validate:"gte=0"`
	Timeout   time.Duration `mapstructure:"timeout" validate:"gte=0"`
	Profile   string        `mapstructure:"tls_profile" validate:"omitempty,oneof=go chrome firefox safari random"`
	// Proxies is a file listing egress proxies, one URL per line.
	Proxies string `mapstructure:"proxies" validate:"omitempty,file"`
}

type Retry struct {
	MaxAttempts int           `mapstructure:"max_attempts" validate:"gte=1,lte=10"`
	BaseDelay   time.Duration `mapstructure:"base_delay" validate:"gte=0"`
	MaxDelay    time.Duration `mapstructure:"max_delay" validate:"gte=0"`
	Jitter      float64       `mapstructure:"jitter" validate:"gte=0,lte=1"`
}

type Cache struct {
	Backend    string `mapstructure:"backend" validate:"oneof=memory redis badger"`
	RedisURL   string `mapstructure:"redis_url"`
	BadgerPath string `mapstructure:"badger_path"`
	Prefix     string `mapstructure:"prefix"`
}

type Audit struct {
	Backend string `mapstructure:"backend" validate:"oneof=memory sqlite postgres json csv"`
	DSN     string `mapstructure:"dsn"`
}

// Weights are the four difficulty sub-score weights. They must sum to 1.
type Weights struct {
	SerpStrength float64 `mapstructure:"serp_strength" validate:"gte=0,lte=1"`
	Competition  float64 `mapstructure:"competition" validate:"gte=0,lte=1"`
	Crowding     float64 `mapstructure:"crowding" validate:"gte=0,lte=1"`
	ContentDepth float64 `mapstructure:"content_depth" validate:"gte=0,lte=1"`
}

// Sum returns the total of the four weights.
func (w Weights) Sum() float64 {
	return w.SerpStrength + w.Competition + w.Crowding + w.ContentDepth
}

type Scoring struct {
	Weights    Weights            `mapstructure:"weights"`
	IntentFit  map[string]float64 `mapstructure:"intent_fit"`
	TargetRank int                `mapstructure:"target_rank" validate:"gte=1,lte=10"`
	// NeutralDifficulty is assigned to keywords without SERP data.
	NeutralDifficulty float64 `mapstructure:"neutral_difficulty" validate:"gte=0,lte=100"`
	// BigBrands are domains counted toward the brand presence ratio.
	BigBrands []string `mapstructure:"big_brands"`
}

type Cluster struct {
	Alpha            float64 `mapstructure:"alpha" validate:"gte=0,lte=1"`
	TopicThreshold   float64 `mapstructure:"topic_threshold"`
	PageThreshold    float64 `mapstructure:"page_threshold"`
	SiblingThreshold float64 `mapstructure:"sibling_threshold"`
}

type Pipeline struct {
	Concurrency  int      `mapstructure:"concurrency" validate:"gte=1"`
	MaxKeywords  int      `mapstructure:"max_keywords" validate:"gte=1"`
	PAASeeds     int      `mapstructure:"paa_seeds" validate:"gte=0"`
	ContentFocus string   `mapstructure:"content_focus" validate:"omitempty,oneof=informational commercial transactional local"`
	Competitors  []string `mapstructure:"competitors"`
	Disabled     []string `mapstructure:"disabled_stages"`
	Briefs       bool     `mapstructure:"briefs"`
	Language     string   `mapstructure:"language"`
	Geo          string   `mapstructure:"geo"`
}

type Models struct {
	Embedder    string `mapstructure:"embedder" validate:"oneof=hashing gemini none"`
	Entities    string `mapstructure:"entities" validate:"oneof=gazetteer gemini"`
	APIKey      string `mapstructure:"api_key" json:"-"`
	EmbedModel  string `mapstructure:"embed_model"`
	GenModel    string `mapstructure:"gen_model"`
	Dimensions  int    `mapstructure:"dimensions" validate:"gte=8"`
	Gazetteer   string `mapstructure:"gazetteer"`
	IntentRules string `mapstructure:"intent_rules"`
}

type Logging struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=text json"`
}

type Metrics struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port" validate:"gte=0,lte=65535"`
}

// Default returns the baseline settings.
func Default() Settings {
	return Settings{
		Providers: map[string]Provider{
			ProviderSERP:    {Kind: "serpapi", BaseURL: "https://serpapi.com/search.json", RPM: 30, Burst: 1, CacheTTL: 24 * time.Hour, QuotaCost: 1, Timeout: 30 * time.Second, Profile: "go"},
			ProviderSuggest: {Kind: "google", BaseURL: "https://suggestqueries.google.com/complete/search", RPM: 20, Burst: 1, CacheTTL: 7 * 24 * time.Hour, QuotaCost: 0, Timeout: 10 * time.Second, Profile: "chrome"},
			ProviderTrends:  {Kind: "trends", RPM: 10, Burst: 1, CacheTTL: 7 * 24 * time.Hour, QuotaCost: 1, Timeout: 30 * time.Second, Profile: "go"},
			ProviderVolume:  {Kind: "volume", RPM: 60, Burst: 5, CacheTTL: 30 * 24 * time.Hour, QuotaCost: 1, Timeout: 30 * time.Second, Profile: "go"},
			ProviderModels:  {Kind: "gemini", RPM: 60, Burst: 5, CacheTTL: 30 * 24 * time.Hour, QuotaCost: 1, Timeout: 30 * time.Second, Profile: "go"},
		},
		Retry: Retry{MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: 30 * time.Second, Jitter: 0.25},
		Cache: Cache{Backend: "memory", RedisURL: "redis://localhost:6379/0", Prefix: "seedling:"},
		Audit: Audit{Backend: "memory"},
		Scoring: Scoring{
			Weights: Weights{SerpStrength: 0.4, Competition: 0.3, Crowding: 0.2, ContentDepth: 0.1},
			IntentFit: map[string]float64{
				"informational": 1.0,
				"commercial":    1.2,
				"transactional": 1.3,
				"local":         1.1,
				"navigational":  0.5,
				"unknown":       1.0,
			},
			TargetRank:        3,
			NeutralDifficulty: 50,
			BigBrands: []string{
				"amazon.com", "wikipedia.org", "youtube.com", "reddit.com", "facebook.com",
				"walmart.com", "target.com", "ebay.com", "bestbuy.com", "homedepot.com",
				"nytimes.com", "forbes.com", "healthline.com", "webmd.com", "mayoclinic.org",
			},
		},
		Cluster:  Cluster{Alpha: 0.7, TopicThreshold: 0.78, PageThreshold: 0.88, SiblingThreshold: 0.92},
		Pipeline: Pipeline{Concurrency: 4, MaxKeywords: 500, PAASeeds: 5, ContentFocus: "informational", Language: "en", Geo: "US"},
		Models:   Models{Embedder: "hashing", Entities: "gazetteer", EmbedModel: "text-embedding-004", GenModel: "gemini-2.0-flash", Dimensions: 256},
		Logging:  Logging{Level: "info", Format: "text"},
		Metrics:  Metrics{Port: 9090},
	}
}

// Load reads settings from an optional file at path (YAML, TOML or JSON),
// then from SEEDLING_* environment variables, a .env file included.
// The result is validated.
func Load(path string) (Settings, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Settings{}, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix("SEEDLING")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v, Default())

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Settings{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return Settings{}, fmt.Errorf("decode config: %w", err)
	}
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// setDefaults registers every default key so that AutomaticEnv can
// override keys that are absent from the file.
func setDefaults(v *viper.Viper, d Settings) {
	for name, p := range d.Providers {
		prefix := "providers." + name + "."
		v.SetDefault(prefix+"kind", p.Kind)
		v.SetDefault(prefix+"base_url", p.BaseURL)
		v.SetDefault(prefix+"api_key", p.APIKey)
		v.SetDefault(prefix+"rpm", p.RPM)
		v.SetDefault(prefix+"burst", p.Burst)
		v.SetDefault(prefix+"cache_ttl", p.CacheTTL)
		v.SetDefault(prefix+"quota_cost", p.QuotaCost)
		v.SetDefault(prefix+"timeout", p.Timeout)
		v.SetDefault(prefix+"tls_profile", p.Profile)
	}

	v.SetDefault("retry.max_attempts", d.Retry.MaxAttempts)
	v.SetDefault("retry.base_delay", d.Retry.BaseDelay)
	v.SetDefault("retry.max_delay", d.Retry.MaxDelay)
	v.SetDefault("retry.jitter", d.Retry.Jitter)

	v.SetDefault("cache.backend", d.Cache.Backend)
	v.SetDefault("cache.redis_url", d.Cache.RedisURL)
	v.SetDefault("cache.badger_path", d.Cache.BadgerPath)
	v.SetDefault("cache.prefix", d.Cache.Prefix)

	v.SetDefault("audit.backend", d.Audit.Backend)
	v.SetDefault("audit.dsn", d.Audit.DSN)

	v.SetDefault("scoring.weights.serp_strength", d.Scoring.Weights.SerpStrength)
	v.SetDefault("scoring.weights.competition", d.Scoring.Weights.Competition)
	v.SetDefault("scoring.weights.crowding", d.Scoring.Weights.Crowding)
	v.SetDefault("scoring.weights.content_depth", d.Scoring.Weights.ContentDepth)
	for intent, fit := range d.Scoring.IntentFit {
		v.SetDefault("scoring.intent_fit."+intent, fit)
	}
	v.SetDefault("scoring.target_rank", d.Scoring.TargetRank)
	v.SetDefault("scoring.neutral_difficulty", d.Scoring.NeutralDifficulty)
	v.SetDefault("scoring.big_brands", d.Scoring.BigBrands)

	v.SetDefault("cluster.alpha", d.Cluster.Alpha)
	v.SetDefault("cluster.topic_threshold", d.Cluster.TopicThreshold)
	v.SetDefault("cluster.page_threshold", d.Cluster.PageThreshold)
	v.SetDefault("cluster.sibling_threshold", d.Cluster.SiblingThreshold)

	v.SetDefault("pipeline.concurrency", d.Pipeline.Concurrency)
	v.SetDefault("pipeline.max_keywords", d.Pipeline.MaxKeywords)
	v.SetDefault("pipeline.paa_seeds", d.Pipeline.PAASeeds)
	v.SetDefault("pipeline.content_focus", d.Pipeline.ContentFocus)
	v.SetDefault("pipeline.competitors", d.Pipeline.Competitors)
	v.SetDefault("pipeline.disabled_stages", d.Pipeline.Disabled)
	v.SetDefault("pipeline.briefs", d.Pipeline.Briefs)
	v.SetDefault("pipeline.language", d.Pipeline.Language)
	v.SetDefault("pipeline.geo", d.Pipeline.Geo)

	v.SetDefault("models.embedder", d.Models.Embedder)
	v.SetDefault("models.entities", d.Models.Entities)
	v.SetDefault("models.api_key", d.Models.APIKey)
	v.SetDefault("models.embed_model", d.Models.EmbedModel)
	v.SetDefault("models.gen_model", d.Models.GenModel)
	v.SetDefault("models.dimensions", d.Models.Dimensions)
	v.SetDefault("models.gazetteer", d.Models.Gazetteer)
	v.SetDefault("models.intent_rules", d.Models.IntentRules)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("metrics.port", d.Metrics.Port)
}

var validate = validator.New()

// Validate checks struct constraints and the domain rules on weights and
// thresholds. Failures are returned as *Error.
func (s Settings) Validate() error {
	if err := validate.Struct(s); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return &Error{Kind: KindInvalidSettings, Field: verrs[0].Namespace(), Msg: verrs[0].Error()}
		}
		return &Error{Kind: KindInvalidSettings, Msg: err.Error()}
	}
	if err := ValidateWeights(s.Scoring.Weights); err != nil {
		return err
	}
	return ValidateThresholds(s.Cluster)
}

const weightTolerance = 1e-9

// ValidateWeights fails with KindInvalidWeights unless the weights are
// non-negative and sum to 1.
func ValidateWeights(w Weights) error {
	for _, v := range []float64{w.SerpStrength, w.Competition, w.Crowding, w.ContentDepth} {
		if v < 0 || math.IsNaN(v) {
			return &Error{Kind: KindInvalidWeights, Field: "scoring.weights", Msg: "weights must be non-negative"}
		}
	}
	if sum := w.Sum(); math.Abs(sum-1) > weightTolerance {
		return &Error{Kind: KindInvalidWeights, Field: "scoring.weights", Msg: fmt.Sprintf("weights sum to %g, want 1", sum)}
	}
	return nil
}

// ValidateThresholds fails with KindInvalidThreshold unless every
// threshold is in (0,1] and the page threshold is not looser than the topic one.
func ValidateThresholds(c Cluster) error {
	for _, t := range []struct {
		name string
		v    float64
	}{
		{"cluster.topic_threshold", c.TopicThreshold},
		{"cluster.page_threshold", c.PageThreshold},
		{"cluster.sibling_threshold", c.SiblingThreshold},
	} {
		if !(t.v > 0 && t.v <= 1) {
			return &Error{Kind: KindInvalidThreshold, Field: t.name, Msg: fmt.Sprintf("threshold %g outside (0,1]", t.v)}
		}
	}
	if c.PageThreshold < c.TopicThreshold {
		return &Error{Kind: KindInvalidThreshold, Field: "cluster.page_threshold", Msg: "page threshold below topic threshold"}
	}
	if c.Alpha < 0 || c.Alpha > 1 {
		return &Error{Kind: KindInvalidThreshold, Field: "cluster.alpha", Msg: fmt.Sprintf("alpha %g outside [0,1]", c.Alpha)}
	}
	return nil
}

// Clone returns a deep copy, so a run's snapshot cannot be changed by the caller.
func (s Settings) Clone() Settings {
	c := s
	c.Providers = make(map[string]Provider, len(s.Providers))
	for k, v := range s.Providers {
		c.Providers[k] = v
	}
	c.Scoring.IntentFit = make(map[string]float64, len(s.Scoring.IntentFit))
	for k, v := range s.Scoring.IntentFit {
		c.Scoring.IntentFit[k] = v
	}
	c.Scoring.BigBrands = append([]string(nil), s.Scoring.BigBrands...)
	c.Pipeline.Competitors = append([]string(nil), s.Pipeline.Competitors...)
	c.Pipeline.Disabled = append([]string(nil), s.Pipeline.Disabled...)
	return c
}
