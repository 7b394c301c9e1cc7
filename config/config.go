package config

import (
	"fmt"
	"net/url"
	"slices"
	"time"
)

// KnownFactions is the faction catalogue of the 10th edition datasheet site.
var KnownFactions = []string{
	"adepta-sororitas",
	"adeptus-custodes",
	"adeptus-mechanicus",
	"astra-militarum",
	"grey-knights",
	"imperial-agents",
	"imperial-knights",
	"space-marines",
	"chaos-daemons",
	"chaos-knights",
	"chaos-space-marines",
	"death-guard",
	"thousand-sons",
	"world-eaters",
	"aeldari",
	"drukhari",
	"genestealer-cults",
	"leagues-of-votann",
	"necrons",
	"orks",
	"t-au-empire",
	"tyranids",
}

// Config holds scraper configuration.
type Config struct {
	BaseURL  string   `json:"baseUrl" env:"SCRAPER_BASE_URL"`
	Factions []string `json:"factions" env:"SCRAPER_FACTIONS" envSeparator:","`

	Renderer          string `json:"renderer" env:"SCRAPER_RENDERER"` // http or browser
	BrowserControlURL string `json:"browserControlUrl" env:"SCRAPER_BROWSER_CONTROL_URL"`
	UserAgent         string `json:"userAgent" env:"SCRAPER_USER_AGENT"`
	RespectRobotsTxt  bool   `json:"respectRobotsTxt" env:"SCRAPER_RESPECT_ROBOTS_TXT"`

	Concurrency     int           `json:"concurrency" env:"SCRAPER_CONCURRENCY"`
	BatchSize       int           `json:"batchSize" env:"SCRAPER_BATCH_SIZE"`
	IndexBatchSize  int           `json:"indexBatchSize" env:"SCRAPER_INDEX_BATCH_SIZE"`
	MaxRetryRounds  int           `json:"maxRetryRounds" env:"SCRAPER_MAX_RETRY_ROUNDS"`
	RetryBackoff    time.Duration `json:"-" env:"SCRAPER_RETRY_BACKOFF"`
	RetryBackoffMax time.Duration `json:"-" env:"SCRAPER_RETRY_BACKOFF_MAX"`
	RenderTimeout   time.Duration `json:"-" env:"SCRAPER_RENDER_TIMEOUT"`
	ConsentTimeout  time.Duration `json:"-" env:"SCRAPER_CONSENT_TIMEOUT"`

	ConsentButton    string `json:"consentButton" env:"SCRAPER_CONSENT_BUTTON"`
	ListingLandmark  string `json:"listingLandmark" env:"SCRAPER_LISTING_LANDMARK"`
	UnitLandmark     string `json:"unitLandmark" env:"SCRAPER_UNIT_LANDMARK"`
	ContentContainer string `json:"contentContainer" env:"SCRAPER_CONTENT_CONTAINER"`

	IndexFile          string `json:"indexFile" env:"SCRAPER_INDEX_FILE"`
	FailedFactionsFile string `json:"failedFactionsFile" env:"SCRAPER_FAILED_FACTIONS_FILE"`
	OutputFile         string `json:"outputFile" env:"SCRAPER_OUTPUT_FILE"`
	FailedFile         string `json:"failedFile" env:"SCRAPER_FAILED_FILE"`
	DuplicatesFile     string `json:"duplicatesFile" env:"SCRAPER_DUPLICATES_FILE"`
	StateBackend       string `json:"stateBackend" env:"SCRAPER_STATE_BACKEND"` // json or sqlite
	SQLitePath         string `json:"sqlitePath" env:"SCRAPER_SQLITE_PATH"`

	PartitionDir       string `json:"partitionDir" env:"SCRAPER_PARTITION_DIR"`
	OutputFormat       string `json:"outputFormat" env:"SCRAPER_OUTPUT_FORMAT"` // csv, json, or dual
	Workers            int    `json:"workers" env:"SCRAPER_WORKERS"`
	PipelineBufferSize int    `json:"pipelineBufferSize" env:"SCRAPER_PIPELINE_BUFFER_SIZE"`
	WriteBatchSize     int    `json:"writeBatchSize" env:"SCRAPER_WRITE_BATCH_SIZE"`
	DedupeMaxSize      int    `json:"dedupeMaxSize" env:"SCRAPER_DEDUPE_MAX_SIZE"`

	Verbose     bool   `json:"verbose" env:"SCRAPER_VERBOSE"`
	MetricsAddr string `json:"metricsAddr" env:"SCRAPER_METRICS_ADDR"`
}

// DefaultConfig targets wahapedia.ru with 40 concurrent renders, batches of
// 40 units, 5 retry rounds and JSON state files in the working directory.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:  "https://wahapedia.ru",
		Factions: slices.Clone(KnownFactions),

		Renderer:         "http",
		UserAgent:        "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/117.0.0.0 Safari/537.36",
		RespectRobotsTxt: false,

		Concurrency:     40,
		BatchSize:       40,
		IndexBatchSize:  5,
		MaxRetryRounds:  5,
		RetryBackoff:    500 * time.Millisecond,
		RetryBackoffMax: 10 * time.Second,
		RenderTimeout:   30 * time.Second,
		ConsentTimeout:  3 * time.Second,

		ConsentButton:    "Ga verder met aanbevolen",
		ListingLandmark:  "div.NavColumns3",
		UnitLandmark:     "#wrapper",
		ContentContainer: "#wrapper",

		IndexFile:          "unit_index.json",
		FailedFactionsFile: "failed_factions.json",
		OutputFile:         "unit_details.json",
		FailedFile:         "failed_units.json",
		DuplicatesFile:     "duplicates_skipped.json",
		StateBackend:       "json",
		SQLitePath:         "unit_details.db",

		PartitionDir:       "data",
		OutputFormat:       "json",
		Workers:            4,
		PipelineBufferSize: 64,
		WriteBatchSize:     8,
		DedupeMaxSize:      1024,
	}
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("base URL cannot be empty")
	}

	parsedURL, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("invalid base URL: %w", err)
	}
	if parsedURL.Host == "" {
		return fmt.Errorf("base URL must include a host")
	}

	if len(c.Factions) == 0 {
		return fmt.Errorf("factions cannot be empty")
	}
	for _, f := range c.Factions {
		if f == "" {
			return fmt.Errorf("factions cannot contain an empty name")
		}
	}
	if c.Renderer != "http" && c.Renderer != "browser" {
		return fmt.Errorf("renderer must be http or browser")
	}
	if c.Concurrency <= 0 {
		return fmt.Errorf("concurrency must be positive")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive")
	}
	if c.IndexBatchSize <= 0 {
		return fmt.Errorf("index batch size must be positive")
	}
	if c.MaxRetryRounds < 0 {
		return fmt.Errorf("max retry rounds cannot be negative")
	}
	if c.RetryBackoff < 0 {
		return fmt.Errorf("retry backoff cannot be negative")
	}
	if c.RetryBackoffMax < 0 {
		return fmt.Errorf("retry backoff max cannot be negative")
	}
	if c.RetryBackoffMax > 0 && c.RetryBackoff > c.RetryBackoffMax {
		return fmt.Errorf("retry backoff (%s) cannot exceed retry backoff max (%s)", c.RetryBackoff, c.RetryBackoffMax)
	}
	if c.RenderTimeout <= 0 {
		return fmt.Errorf("render timeout must be positive")
	}
	if c.ConsentTimeout < 0 {
		return fmt.Errorf("consent timeout cannot be negative")
	}
	if c.ListingLandmark == "" || c.UnitLandmark == "" || c.ContentContainer == "" {
		return fmt.Errorf("landmark selectors cannot be empty")
	}
	if c.IndexFile == "" || c.OutputFile == "" || c.FailedFile == "" {
		return fmt.Errorf("output file cannot be empty")
	}
	if c.StateBackend != "json" && c.StateBackend != "sqlite" {
		return fmt.Errorf("state backend must be json or sqlite")
	}
	if c.StateBackend == "sqlite" && c.SQLitePath == "" {
		return fmt.Errorf("sqlite path cannot be empty")
	}
	if c.PartitionDir == "" {
		return fmt.Errorf("partition dir cannot be empty")
	}
	if c.OutputFormat != "csv" && c.OutputFormat != "json" && c.OutputFormat != "dual" {
		return fmt.Errorf("output format must be csv, json, or dual")
	}
	if c.Workers <= 0 {
		return fmt.Errorf("workers must be positive")
	}
	if c.PipelineBufferSize <= 0 {
		return fmt.Errorf("pipeline buffer size must be positive")
	}
	if c.WriteBatchSize <= 0 {
		return fmt.Errorf("write batch size must be positive")
	}
	if c.DedupeMaxSize <= 0 {
		return fmt.Errorf("dedupe max size must be positive")
	}
	if c.UserAgent == "" {
		return fmt.Errorf("user agent cannot be empty")
	}

	return nil
}
