package model

import "time"

// Config holds all runtime configuration
type Config struct {
	HTTP         HTTPConfig        `yaml:"http" mapstructure:"http"`
	RateLimiting RateLimitConfig   `yaml:"rate_limiting" mapstructure:"rate_limiting"`
	Cache        CacheConfig       `yaml:"cache" mapstructure:"cache"`
	Concurrency  ConcurrencyConfig `yaml:"concurrency" mapstructure:"concurrency"`
	Sources      SourcesConfig     `yaml:"sources" mapstructure:"sources"`
	Store        StoreConfig       `yaml:"store" mapstructure:"store"`
	Schedule     ScheduleConfig    `yaml:"schedule" mapstructure:"schedule"`
	Lock         LockConfig        `yaml:"lock" mapstructure:"lock"`
	Alert        AlertConfig       `yaml:"alert" mapstructure:"alert"`
	Archive      ArchiveConfig     `yaml:"archive" mapstructure:"archive"`
	Server       ServerConfig      `yaml:"server" mapstructure:"server"`
	Log          LogConfig         `yaml:"log" mapstructure:"log"`
}

// HTTPConfig controls outbound requests to government sites
type HTTPConfig struct {
	Timeout       time.Duration `yaml:"timeout" mapstructure:"timeout"`           // page requests
	FileTimeout   time.Duration `yaml:"file_timeout" mapstructure:"file_timeout"` // open-data downloads
	UserAgent     string        `yaml:"user_agent" mapstructure:"user_agent"`
	MaxBodyBytes  int64         `yaml:"max_body_bytes" mapstructure:"max_body_bytes"`
	MaxFileBytes  int64         `yaml:"max_file_bytes" mapstructure:"max_file_bytes"`
	Retries       int           `yaml:"retries" mapstructure:"retries"`
	InsecureTLS   bool          `yaml:"insecure_tls" mapstructure:"insecure_tls"` // several .gob.mx chains are incomplete
	RespectRobots bool          `yaml:"respect_robots" mapstructure:"respect_robots"`
	HTTPProxy     string        `yaml:"http_proxy" mapstructure:"http_proxy"`
	HTTPSProxy    string        `yaml:"https_proxy" mapstructure:"https_proxy"`
	NoProxy       string        `yaml:"no_proxy" mapstructure:"no_proxy"`
}

// RateLimitConfig is the per-host request budget
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	Burst             int     `yaml:"burst" mapstructure:"burst"`
}

// CacheConfig controls caching of index pages
type CacheConfig struct {
	Enabled    bool          `yaml:"enabled" mapstructure:"enabled"`
	TTL        time.Duration `yaml:"ttl" mapstructure:"ttl"`
	Dir        string        `yaml:"dir" mapstructure:"dir"`                 // disk layer disabled when empty
	MaxEntries int           `yaml:"max_entries" mapstructure:"max_entries"` // memory layer cap, 0 = unbounded
}

// ConcurrencyConfig bounds fan-out inside a source
type ConcurrencyConfig struct {
	DetailWorkers  int `yaml:"detail_workers" mapstructure:"detail_workers"`
	EditionWorkers int `yaml:"edition_workers" mapstructure:"edition_workers"`
}

// SourcesConfig configures every fetcher
type SourcesConfig struct {
	DOF    GazetteConfig `yaml:"dof" mapstructure:"dof"`
	SIDOF  GazetteConfig `yaml:"sidof" mapstructure:"sidof"`
	SAT    SATConfig     `yaml:"sat" mapstructure:"sat"`
	Gaceta GacetaConfig  `yaml:"gaceta" mapstructure:"gaceta"`
	Leyes  LeyesConfig   `yaml:"leyes" mapstructure:"leyes"`
	News   NewsConfig    `yaml:"news" mapstructure:"news"`
}

// GazetteConfig configures the DOF fetcher and its SIDOF mirror
type GazetteConfig struct {
	Enabled       bool   `yaml:"enabled" mapstructure:"enabled"`
	BaseURL       string `yaml:"base_url" mapstructure:"base_url"`
	DetailBaseURL string `yaml:"detail_base_url" mapstructure:"detail_base_url"` // where notice details live
	LookbackDays  int    `yaml:"lookback_days" mapstructure:"lookback_days"`
	LimitNotices  int    `yaml:"limit_notices" mapstructure:"limit_notices"`
	MaxPerNotice  int    `yaml:"max_per_notice" mapstructure:"max_per_notice"`
}

// SATConfig configures the open-data portal fetcher
type SATConfig struct {
	Enabled        bool     `yaml:"enabled" mapstructure:"enabled"`
	BaseURL        string   `yaml:"base_url" mapstructure:"base_url"`
	Pages          []string `yaml:"pages" mapstructure:"pages"`
	FilesPerBatch  int      `yaml:"files_per_batch" mapstructure:"files_per_batch"`
	MaxRowsPerFile int      `yaml:"max_rows_per_file" mapstructure:"max_rows_per_file"`
}

// GacetaConfig configures the legislative fetcher
type GacetaConfig struct {
	Enabled  bool   `yaml:"enabled" mapstructure:"enabled"`
	BaseURL  string `yaml:"base_url" mapstructure:"base_url"`
	DaysBack int    `yaml:"days_back" mapstructure:"days_back"`
	StepDays int    `yaml:"step_days" mapstructure:"step_days"`
	Limit    int    `yaml:"limit" mapstructure:"limit"`
}

// LeyesConfig configures the statute reform tracker
type LeyesConfig struct {
	Enabled            bool   `yaml:"enabled" mapstructure:"enabled"`
	IndexURL           string `yaml:"index_url" mapstructure:"index_url"`
	ReformLookbackDays int    `yaml:"reform_lookback_days" mapstructure:"reform_lookback_days"`
}

// NewsConfig configures the optional NewsAPI fetcher
type NewsConfig struct {
	APIKey       string `yaml:"api_key" mapstructure:"api_key"` // fetcher is a no-op when empty
	BaseURL      string `yaml:"base_url" mapstructure:"base_url"`
	DaysBack     int    `yaml:"days_back" mapstructure:"days_back"`
	PageSize     int    `yaml:"page_size" mapstructure:"page_size"`
	MaxCompanies int    `yaml:"max_companies" mapstructure:"max_companies"`
}

// StoreConfig selects the evidence database
type StoreConfig struct {
	Driver            string `yaml:"driver" mapstructure:"driver"` // postgres or sqlite
	DSN               string `yaml:"dsn" mapstructure:"dsn"`
	MinReplaceRecords int    `yaml:"min_replace_records" mapstructure:"min_replace_records"` // 0 replaces even with an empty batch
}

// ScheduleConfig holds the daily cycle times (UTC, HH:MM)
type ScheduleConfig struct {
	BatchTimes  []string      `yaml:"batch_times" mapstructure:"batch_times"`
	NewsTime    string        `yaml:"news_time" mapstructure:"news_time"`
	BatchBudget time.Duration `yaml:"batch_budget" mapstructure:"batch_budget"`
}

// LockConfig selects the replica lock
type LockConfig struct {
	Backend     string        `yaml:"backend" mapstructure:"backend"` // auto, postgres, redis, local
	AdvisoryKey int64         `yaml:"advisory_key" mapstructure:"advisory_key"`
	RedisAddr   string        `yaml:"redis_addr" mapstructure:"redis_addr"`
	RedisKey    string        `yaml:"redis_key" mapstructure:"redis_key"`
	TTL         time.Duration `yaml:"ttl" mapstructure:"ttl"`
}

// AlertConfig configures transition publishing
type AlertConfig struct {
	KafkaBrokers []string `yaml:"kafka_brokers" mapstructure:"kafka_brokers"`
	KafkaTopic   string   `yaml:"kafka_topic" mapstructure:"kafka_topic"`
}

// ArchiveConfig configures raw-file archiving to S3
type ArchiveConfig struct {
	Bucket   string `yaml:"bucket" mapstructure:"bucket"` // archiving disabled when empty
	Prefix   string `yaml:"prefix" mapstructure:"prefix"`
	Region   string `yaml:"region" mapstructure:"region"`
	Endpoint string `yaml:"endpoint" mapstructure:"endpoint"`
}

// ServerConfig configures the status server
type ServerConfig struct {
	Addr string `yaml:"addr" mapstructure:"addr"`
}

// LogConfig configures the slog handler
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"` // text or json
}

// BrowserUserAgent is sent on every request; several portals reject non-browser clients
const BrowserUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"

// DefaultConfig returns the built-in defaults
func DefaultConfig() Config {
	return Config{
		HTTP: HTTPConfig{
			Timeout:      25 * time.Second,
			FileTimeout:  60 * time.Second,
			UserAgent:    BrowserUserAgent,
			MaxBodyBytes: 5 << 20,
			MaxFileBytes: 25 << 20,
			Retries:      2,
			InsecureTLS:  true,
		},
		RateLimiting: RateLimitConfig{
			RequestsPerSecond: 4,
			Burst:             4,
		},
		Cache: CacheConfig{
			Enabled:    true,
			TTL:        30 * time.Minute,
			MaxEntries: 2000,
		},
		Concurrency: ConcurrencyConfig{
			DetailWorkers:  6,
			EditionWorkers: 4,
		},
		Sources: SourcesConfig{
			DOF: GazetteConfig{
				Enabled:       true,
				BaseURL:       "https://www.dof.gob.mx",
				DetailBaseURL: "https://www.dof.gob.mx",
				LookbackDays:  30,
				LimitNotices:  80,
				MaxPerNotice:  200,
			},
			SIDOF: GazetteConfig{
				Enabled:       true,
				BaseURL:       "https://sidof.segob.gob.mx",
				DetailBaseURL: "https://www.dof.gob.mx",
				LookbackDays:  14,
				LimitNotices:  60,
				MaxPerNotice:  200,
			},
			SAT: SATConfig{
				Enabled:        true,
				BaseURL:        "http://omawww.sat.gob.mx/cifras_sat/Paginas/DatosAbiertos",
				Pages:          []string{"contribuyentes_publicados.html", "controversia.html", "sat_mas_abierto.html"},
				FilesPerBatch:  15,
				MaxRowsPerFile: 40000,
			},
			Gaceta: GacetaConfig{
				Enabled:  true,
				BaseURL:  "https://gaceta.diputados.gob.mx",
				DaysBack: 30,
				StepDays: 3,
				Limit:    50,
			},
			Leyes: LeyesConfig{
				Enabled:            true,
				IndexURL:           "https://www.diputados.gob.mx/LeyesBiblio/index.htm",
				ReformLookbackDays: 90,
			},
			News: NewsConfig{
				BaseURL:      "https://newsapi.org/v2/everything",
				DaysBack:     30,
				PageSize:     10,
				MaxCompanies: 50,
			},
		},
		Store: StoreConfig{
			Driver: "sqlite",
			DSN:    "file:vigia.db?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)",
		},
		Schedule: ScheduleConfig{
			BatchTimes:  []string{"06:00", "06:30", "07:00", "07:30"},
			NewsTime:    "08:00",
			BatchBudget: 25 * time.Minute,
		},
		Lock: LockConfig{
			Backend:     "auto",
			AdvisoryKey: 73891,
			RedisKey:    "vigia:scheduler",
			TTL:         2 * time.Minute,
		},
		Alert: AlertConfig{
			KafkaTopic: "vigia.risk-transitions",
		},
		Archive: ArchiveConfig{
			Prefix: "sat/",
			Region: "us-east-1",
		},
		Server: ServerConfig{
			Addr: ":8080",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}
