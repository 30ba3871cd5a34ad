// Package config loads runtime settings from the environment and an
// optional YAML catalog file holding queries, taxonomy and places.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"

	"github.com/deusflow/newsdesk/internal/news"
	"github.com/deusflow/newsdesk/internal/photo"
)

const DefaultConfigPath = "configs/newsdesk.yaml"

// LaneQueries is the query set searched for one lane.
type LaneQueries struct {
	Lane     news.Lane `yaml:"lane"`
	Language string    `yaml:"language"`
	Queries  []string  `yaml:"queries"`
}

type Config struct {
	// HTTP trigger surface
	HTTPAddr     string
	IngestSecret string

	// Persistence
	DatabaseURL        string
	MemorySnapshotPath string

	// Source adapters
	NewsAPIKey         string
	NewsAPIEndpoint    string
	GoogleNewsEndpoint string
	DefaultLanguage    string
	DefaultCountry     string

	// Photo providers
	GooglePlacesKey     string
	PlacesEndpoint      string
	UnsplashKey         string
	UnsplashEndpoint    string
	ProviderDailyBudget int

	// Optional sinks
	MeiliHost      string
	MeiliAPIKey    string
	MeiliIndex     string
	TelegramToken  string
	TelegramChatID string

	// Pipeline tunables
	FetchTimeout     time.Duration
	EnrichTimeout    time.Duration
	FetchConcurrency int
	EnrichLimit      int
	ResultsPerQuery  int
	MaxAge           time.Duration
	DedupThreshold   float64
	CurateBatchLimit int
	CurateTop        int
	CuratePacing     time.Duration
	ImageCacheTTL    time.Duration

	Debug bool

	// Catalog, overridable from YAML
	Lanes          []LaneQueries
	NoiseTerms     []string
	ExemptLanes    []news.Lane
	Taxonomy       []news.TaxonomyRule
	ImpactTerms    news.ImpactTerms
	PublisherRanks []string
	Places         []photo.Place
	Score          photo.ScorePolicy
}

// File is the YAML document shape. Absent sections keep defaults.
type File struct {
	Lanes          []LaneQueries       `yaml:"lanes"`
	NoiseTerms     []string            `yaml:"noise_terms"`
	ExemptLanes    []news.Lane         `yaml:"exempt_lanes"`
	Taxonomy       []news.TaxonomyRule `yaml:"taxonomy"`
	ImpactTerms    *news.ImpactTerms   `yaml:"impact_terms"`
	PublisherRanks []string            `yaml:"publisher_ranks"`
	Places         []photo.Place       `yaml:"places"`
	Score          *photo.ScorePolicy  `yaml:"score"`
}

func Defaults() *Config {
	return &Config{
		HTTPAddr:            ":8080",
		NewsAPIEndpoint:     "https://newsapi.org",
		GoogleNewsEndpoint:  "https://news.google.com",
		DefaultLanguage:     "en",
		DefaultCountry:      "US",
		PlacesEndpoint:      photo.DefaultPlacesEndpoint,
		UnsplashEndpoint:    photo.DefaultUnsplashEndpoint,
		ProviderDailyBudget: 45,
		MeiliIndex:          "news",
		FetchTimeout:        10 * time.Second,
		EnrichTimeout:       5 * time.Second,
		FetchConcurrency:    8,
		EnrichLimit:         20,
		ResultsPerQuery:     10,
		MaxAge:              7 * 24 * time.Hour,
		DedupThreshold:      news.DefaultSimilarityThreshold,
		CurateBatchLimit:    5,
		CurateTop:           3,
		CuratePacing:        1500 * time.Millisecond,
		ImageCacheTTL:       6 * time.Hour,
		Lanes:               DefaultLanes(),
		NoiseTerms:          append([]string(nil), news.DefaultNoiseTerms...),
		ExemptLanes:         append([]news.Lane(nil), news.DefaultExemptLanes...),
		Taxonomy:            append([]news.TaxonomyRule(nil), news.DefaultTaxonomy...),
		ImpactTerms:         news.DefaultImpactTerms,
		PublisherRanks:      DefaultPublisherRanks(),
		Places:              DefaultPlaces(),
		Score:               photo.DefaultScorePolicy(),
	}
}

func DefaultLanes() []LaneQueries {
	return []LaneQueries{
		{Lane: news.LaneDeal, Queries: []string{"UAE Korea deal", "UAE Korea agreement signed", "Korea Abu Dhabi investment"}},
		{Lane: news.LaneMacro, Queries: []string{"UAE economy outlook", "Korea exports Middle East"}},
		{Lane: news.LaneBilateral, Queries: []string{"UAE Korea relations", "Korea UAE summit"}},
		{Lane: news.LaneLocal, Language: "ko", Queries: []string{"두바이 한인", "아부다비 한국"}},
	}
}

func DefaultPublisherRanks() []string {
	return []string{
		"Yonhap", "Korea Herald", "Korea JoongAng Daily", "The National",
		"Gulf News", "Khaleej Times", "WAM", "Reuters", "Bloomberg", "Arabian Business",
	}
}

func DefaultPlaces() []photo.Place {
	return []photo.Place{
		{
			Slug: "burj-khalifa", Name: "Burj Khalifa",
			Queries:  []string{"burj khalifa", "burj khalifa skyline", "downtown dubai tower"},
			Keywords: []string{"burj", "khalifa", "dubai", "skyline", "tower"},
		},
		{
			Slug: "sheikh-zayed-grand-mosque", Name: "Sheikh Zayed Grand Mosque",
			Queries:     []string{"sheikh zayed grand mosque", "abu dhabi grand mosque"},
			Keywords:    []string{"mosque", "abu dhabi", "dome", "minaret"},
			MustInclude: []string{"zayed", "mosque"},
		},
		{
			Slug: "louvre-abu-dhabi", Name: "Louvre Abu Dhabi",
			Queries:       []string{"louvre abu dhabi", "louvre abu dhabi dome"},
			Keywords:      []string{"louvre", "saadiyat", "dome", "museum"},
			MustInclude:   []string{"louvre"},
			VerifiedQuery: "Louvre Abu Dhabi Saadiyat Island",
		},
		{
			Slug: "barakah-nuclear-plant", Name: "Barakah Nuclear Energy Plant",
			Queries:  []string{"barakah nuclear plant", "nuclear power plant uae"},
			Keywords: []string{"barakah", "nuclear", "reactor", "power plant"},
		},
	}
}

// Load reads the environment, then the YAML file at NEWSDESK_CONFIG (or
// the default path, if present), and validates the result.
func Load() (*Config, error) {
	cfg := Defaults()

	cfg.HTTPAddr = getEnvOrDefault("HTTP_ADDR", cfg.HTTPAddr)
	cfg.IngestSecret = os.Getenv("INGEST_SECRET")
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	cfg.MemorySnapshotPath = os.Getenv("MEMORY_SNAPSHOT_PATH")

	cfg.NewsAPIKey = os.Getenv("NEWSAPI_KEY")
	cfg.NewsAPIEndpoint = getEnvOrDefault("NEWSAPI_ENDPOINT", cfg.NewsAPIEndpoint)
	cfg.GoogleNewsEndpoint = getEnvOrDefault("GOOGLE_NEWS_ENDPOINT", cfg.GoogleNewsEndpoint)
	cfg.DefaultLanguage = getEnvOrDefault("NEWS_LANGUAGE", cfg.DefaultLanguage)
	cfg.DefaultCountry = getEnvOrDefault("NEWS_COUNTRY", cfg.DefaultCountry)

	cfg.GooglePlacesKey = os.Getenv("GOOGLE_PLACES_KEY")
	cfg.PlacesEndpoint = getEnvOrDefault("PLACES_ENDPOINT", cfg.PlacesEndpoint)
	cfg.UnsplashKey = os.Getenv("UNSPLASH_ACCESS_KEY")
	cfg.UnsplashEndpoint = getEnvOrDefault("UNSPLASH_ENDPOINT", cfg.UnsplashEndpoint)
	cfg.ProviderDailyBudget = getEnvIntOrDefault("PROVIDER_DAILY_BUDGET", cfg.ProviderDailyBudget)

	cfg.MeiliHost = os.Getenv("MEILI_HOST")
	cfg.MeiliAPIKey = os.Getenv("MEILI_API_KEY")
	cfg.MeiliIndex = getEnvOrDefault("MEILI_INDEX", cfg.MeiliIndex)
	cfg.TelegramToken = os.Getenv("TELEGRAM_TOKEN")
	cfg.TelegramChatID = os.Getenv("TELEGRAM_CHAT_ID")

	cfg.FetchTimeout = getEnvDurationOrDefault("FETCH_TIMEOUT", cfg.FetchTimeout)
	cfg.EnrichTimeout = getEnvDurationOrDefault("ENRICH_TIMEOUT", cfg.EnrichTimeout)
	cfg.FetchConcurrency = getEnvIntOrDefault("FETCH_CONCURRENCY", cfg.FetchConcurrency)
	cfg.EnrichLimit = getEnvIntOrDefault("ENRICH_LIMIT", cfg.EnrichLimit)
	cfg.ResultsPerQuery = getEnvIntOrDefault("RESULTS_PER_QUERY", cfg.ResultsPerQuery)
	cfg.MaxAge = getEnvDurationOrDefault("NEWS_MAX_AGE", cfg.MaxAge)
	cfg.CurateBatchLimit = getEnvIntOrDefault("CURATE_BATCH_LIMIT", cfg.CurateBatchLimit)
	cfg.CurateTop = getEnvIntOrDefault("CURATE_TOP", cfg.CurateTop)
	cfg.CuratePacing = getEnvDurationOrDefault("CURATE_PACING", cfg.CuratePacing)
	cfg.ImageCacheTTL = getEnvDurationOrDefault("IMAGE_CACHE_TTL", cfg.ImageCacheTTL)

	if v := os.Getenv("DEDUP_THRESHOLD"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, errors.Wrap(err, "DEDUP_THRESHOLD")
		}
		cfg.DedupThreshold = f
	}

	cfg.Debug = os.Getenv("DEBUG") == "true"

	path := os.Getenv("NEWSDESK_CONFIG")
	if path == "" {
		path = DefaultConfigPath
		if _, err := os.Stat(path); err != nil {
			path = ""
		}
	}
	if path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return nil, err
		}
	}

	return cfg, cfg.Validate()
}

// LoadFile overlays the catalog sections present in the YAML file.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "read config %s", path)
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return errors.Wrapf(err, "parse config %s", path)
	}
	c.apply(f)
	return nil
}

func (c *Config) apply(f File) {
	if len(f.Lanes) > 0 {
		c.Lanes = f.Lanes
	}
	if f.NoiseTerms != nil {
		c.NoiseTerms = f.NoiseTerms
	}
	if f.ExemptLanes != nil {
		c.ExemptLanes = f.ExemptLanes
	}
	if len(f.Taxonomy) > 0 {
		c.Taxonomy = f.Taxonomy
	}
	if f.ImpactTerms != nil {
		c.ImpactTerms = *f.ImpactTerms
	}
	if len(f.PublisherRanks) > 0 {
		c.PublisherRanks = f.PublisherRanks
	}
	if len(f.Places) > 0 {
		c.Places = f.Places
	}
	if f.Score != nil {
		c.Score = *f.Score
	}
}

// Validate rejects out-of-range tunables and malformed catalog entries.
func (c *Config) Validate() error {
	if c.DedupThreshold <= 0 || c.DedupThreshold > 1 {
		return errors.Newf("DEDUP_THRESHOLD must be in (0,1], got %v", c.DedupThreshold)
	}
	for name, v := range map[string]int{
		"FETCH_CONCURRENCY":  c.FetchConcurrency,
		"RESULTS_PER_QUERY":  c.ResultsPerQuery,
		"CURATE_BATCH_LIMIT": c.CurateBatchLimit,
		"CURATE_TOP":         c.CurateTop,
	} {
		if v <= 0 {
			return errors.Newf("%s must be positive, got %d", name, v)
		}
	}
	if c.EnrichLimit < 0 {
		return errors.Newf("ENRICH_LIMIT must not be negative, got %d", c.EnrichLimit)
	}
	if c.FetchTimeout <= 0 || c.EnrichTimeout <= 0 {
		return errors.New("FETCH_TIMEOUT and ENRICH_TIMEOUT must be positive")
	}
	if c.CuratePacing < 0 {
		return errors.New("CURATE_PACING must not be negative")
	}

	seen := map[news.Lane]bool{}
	for _, l := range c.Lanes {
		lane, err := news.ParseLane(string(l.Lane))
		if err != nil {
			return errors.Wrap(err, "lanes")
		}
		if seen[lane] {
			return errors.Newf("lanes: %s listed twice", lane)
		}
		seen[lane] = true
	}
	for _, l := range c.ExemptLanes {
		if _, err := news.ParseLane(string(l)); err != nil {
			return errors.Wrap(err, "exempt_lanes")
		}
	}
	if _, err := news.NewTagger(c.Taxonomy, c.ImpactTerms); err != nil {
		return err
	}
	if _, err := photo.NewCatalog(c.Places); err != nil {
		return err
	}
	return c.Score.Validate()
}

// RequireSecret is checked by entry points that accept remote triggers.
func (c *Config) RequireSecret() error {
	if strings.TrimSpace(c.IngestSecret) == "" {
		return errors.New("INGEST_SECRET is required")
	}
	return nil
}

// UsePostgres reports whether the external store is configured.
func (c *Config) UsePostgres() bool {
	return c.DatabaseURL != ""
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
