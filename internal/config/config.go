package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
	"github.com/go-sql-driver/mysql"
	"github.com/joho/godotenv"
)

// ErrConfig wraps every validation failure returned by Load.
var ErrConfig = errors.New("invalid configuration")

const (
	DriverSQLite   = "sqlite"
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	DBDriver  string
	DBDSN     string
	DBMigrate bool

	RegionLatMin float64
	RegionLatMax float64
	RegionLonMin float64
	RegionLonMax float64

	WorkerConcurrency int
	MaxAttempts       int
	BackoffMode       string
	BackoffInitial    time.Duration
	BackoffMax        time.Duration

	ScheduleMode  string
	CheckInterval time.Duration
	PollInterval  time.Duration
	PublishDelay  time.Duration
	Cooldown      time.Duration
	KeepRuns      int
	LookbackRuns  int
	MaxRunAge     time.Duration

	RateLimitMax     int
	RateLimitWindow  time.Duration
	RateLimitSpacing time.Duration

	RetrievalMode     string
	NomadsBaseURLs    []string
	NomadsFilterURL   string
	FilterLevels      []string
	FilterVariables   []string
	HTTPTimeout       time.Duration
	ProbeTimeout      time.Duration
	RetryAfterDefault time.Duration

	FieldProfile string
	Wgrib2Path   string

	ArchiveDir         string
	ArchiveCompression string

	KafkaBrokers     []string
	KafkaEventsTopic string

	OTLPEndpoint string
}

// Defaults for the filtered retrieval subset.
var (
	DefaultFilterLevels = []string{
		"2_m_above_ground", "10_m_above_ground", "surface", "mean_sea_level",
		"entire_atmosphere", "low_cloud_layer", "middle_cloud_layer", "high_cloud_layer",
		"850_mb", "500_mb",
	}
	DefaultFilterVariables = []string{
		"TMP", "DPT", "RH", "UGRD", "VGRD", "GUST", "PRMSL", "APCP",
		"CAPE", "CIN", "PWAT", "TCDC", "LCDC", "MCDC", "HCDC", "HGT",
	}
)

// Load reads configuration from environment variables, applying defaults where unset.
// A dotenv file named by ENV_FILE (default .env) is loaded first when present;
// variables already in the environment win.
func Load() (*Config, error) {
	envFile := sharedcfg.EnvOrDefault("ENV_FILE", ".env")
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, wrap(fmt.Errorf("load %s: %w", envFile, err))
	}

	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, wrap(err)
	}

	p := &parser{}
	cfg := &Config{
		HTTPAddr:        sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,

		DBDriver:  strings.ToLower(sharedcfg.EnvOrDefault("DB_DRIVER", DriverSQLite)),
		DBMigrate: p.bool("DB_MIGRATE", true),

		RegionLatMin: p.requiredFloat("REGION_LAT_MIN"),
		RegionLatMax: p.requiredFloat("REGION_LAT_MAX"),
		RegionLonMin: p.requiredFloat("REGION_LON_MIN"),
		RegionLonMax: p.requiredFloat("REGION_LON_MAX"),

		WorkerConcurrency: p.positiveInt("WORKER_CONCURRENCY", 6),
		MaxAttempts:       p.positiveInt("MAX_ATTEMPTS", 3),
		BackoffMode:       strings.ToLower(sharedcfg.EnvOrDefault("BACKOFF_MODE", "fixed")),
		BackoffInitial:    p.duration("BACKOFF_INITIAL", 120*time.Second),
		BackoffMax:        p.duration("BACKOFF_MAX", 10*time.Minute),

		ScheduleMode:  strings.ToLower(sharedcfg.EnvOrDefault("SCHEDULE_MODE", "periodic")),
		CheckInterval: p.duration("CHECK_INTERVAL", 20*time.Minute),
		PollInterval:  p.duration("POLL_INTERVAL", 10*time.Minute),
		PublishDelay:  p.duration("PUBLISH_DELAY", 3*time.Hour),
		Cooldown:      p.duration("COOLDOWN", 2*time.Minute),
		KeepRuns:      p.positiveInt("KEEP_RUNS", 2),
		LookbackRuns:  p.positiveInt("LOOKBACK_RUNS", 6),
		MaxRunAge:     p.duration("MAX_RUN_AGE", 48*time.Hour),

		RateLimitMax:     p.positiveInt("RATE_LIMIT_MAX", 120),
		RateLimitWindow:  p.duration("RATE_LIMIT_WINDOW", 60*time.Second),
		RateLimitSpacing: p.duration("RATE_LIMIT_SPACING", 500*time.Millisecond),

		RetrievalMode:     strings.ToLower(sharedcfg.EnvOrDefault("RETRIEVAL_MODE", "bulk")),
		NomadsBaseURLs:    splitList(sharedcfg.EnvOrDefault("NOMADS_BASE_URLS", "https://nomads.ncep.noaa.gov/pub/data/nccf/com/gfs/prod,https://ftp.ncep.noaa.gov/data/nccf/com/gfs/prod")),
		NomadsFilterURL:   sharedcfg.EnvOrDefault("NOMADS_FILTER_URL", "https://nomads.ncep.noaa.gov/cgi-bin/filter_gfs_0p25.pl"),
		FilterLevels:      p.list("FILTER_LEVELS", DefaultFilterLevels),
		FilterVariables:   p.list("FILTER_VARIABLES", DefaultFilterVariables),
		HTTPTimeout:       p.duration("HTTP_TIMEOUT", 5*time.Minute),
		ProbeTimeout:      p.duration("PROBE_TIMEOUT", 30*time.Second),
		RetryAfterDefault: p.duration("RETRY_AFTER_DEFAULT", 60*time.Second),

		FieldProfile: os.Getenv("FIELD_PROFILE"),
		Wgrib2Path:   sharedcfg.EnvOrDefault("WGRIB2_PATH", "wgrib2"),

		ArchiveDir:         os.Getenv("ARCHIVE_DIR"),
		ArchiveCompression: strings.ToUpper(sharedcfg.EnvOrDefault("ARCHIVE_COMPRESSION", "SNAPPY")),

		KafkaBrokers:     brokers(),
		KafkaEventsTopic: sharedcfg.EnvOrDefault("KAFKA_EVENTS_TOPIC", "gfs-ingest-events"),

		OTLPEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}
	if p.err != nil {
		return nil, wrap(p.err)
	}

	if err := cfg.validate(); err != nil {
		return nil, wrap(err)
	}

	dsn, err := databaseDSN(cfg.DBDriver)
	if err != nil {
		return nil, wrap(err)
	}
	cfg.DBDSN = dsn
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.DBDriver {
	case DriverSQLite, DriverMySQL, DriverPostgres:
	default:
		return fmt.Errorf("DB_DRIVER must be sqlite, mysql or postgres, got %q", c.DBDriver)
	}
	if c.RegionLatMin >= c.RegionLatMax {
		return errors.New("REGION_LAT_MIN must be below REGION_LAT_MAX")
	}
	if c.RegionLonMin >= c.RegionLonMax {
		return errors.New("REGION_LON_MIN must be below REGION_LON_MAX")
	}
	if c.BackoffMode != "fixed" && c.BackoffMode != "exponential" {
		return fmt.Errorf("BACKOFF_MODE must be fixed or exponential, got %q", c.BackoffMode)
	}
	if c.ScheduleMode != "periodic" && c.ScheduleMode != "cadence" {
		return fmt.Errorf("SCHEDULE_MODE must be periodic or cadence, got %q", c.ScheduleMode)
	}
	if c.RetrievalMode != "bulk" && c.RetrievalMode != "filtered" {
		return fmt.Errorf("RETRIEVAL_MODE must be bulk or filtered, got %q", c.RetrievalMode)
	}
	if len(c.NomadsBaseURLs) == 0 {
		return errors.New("NOMADS_BASE_URLS is required")
	}
	switch c.ArchiveCompression {
	case "SNAPPY", "GZIP", "NONE":
	default:
		return fmt.Errorf("ARCHIVE_COMPRESSION must be SNAPPY, GZIP or NONE, got %q", c.ArchiveCompression)
	}
	if len(c.KafkaBrokers) > 0 && c.KafkaEventsTopic == "" {
		return errors.New("KAFKA_EVENTS_TOPIC is required when KAFKA_BROKERS is set")
	}
	return nil
}

// databaseDSN returns DB_DSN when set. Otherwise mysql and postgres DSNs are
// composed from DB_HOST and friends, and sqlite falls back to gfs.db.
func databaseDSN(driver string) (string, error) {
	if dsn := os.Getenv("DB_DSN"); dsn != "" {
		return dsn, nil
	}
	host := os.Getenv("DB_HOST")
	if driver == DriverSQLite || host == "" {
		if driver != DriverSQLite {
			return "", fmt.Errorf("DB_DSN or DB_HOST is required for %s", driver)
		}
		return "gfs.db", nil
	}

	user := os.Getenv("DB_USER")
	password := os.Getenv("DB_PASSWORD")
	name := sharedcfg.EnvOrDefault("DB_NAME", "gfs")

	switch driver {
	case DriverMySQL:
		mc := mysql.NewConfig()
		mc.Net = "tcp"
		mc.Addr = net.JoinHostPort(host, sharedcfg.EnvOrDefault("DB_PORT", "3306"))
		mc.User = user
		mc.Passwd = password
		mc.DBName = name
		mc.ParseTime = true
		mc.Loc = time.UTC
		return mc.FormatDSN(), nil
	default:
		u := url.URL{
			Scheme:   "postgres",
			User:     url.UserPassword(user, password),
			Host:     net.JoinHostPort(host, sharedcfg.EnvOrDefault("DB_PORT", "5432")),
			Path:     "/" + name,
			RawQuery: "sslmode=" + sharedcfg.EnvOrDefault("DB_SSLMODE", "disable"),
		}
		return u.String(), nil
	}
}

// brokers returns nil when KAFKA_BROKERS is unset, which disables the event
// publisher.
func brokers() []string {
	s := os.Getenv("KAFKA_BROKERS")
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return sharedcfg.ParseBrokers(s)
}

func wrap(err error) error {
	return fmt.Errorf("%w: %w", ErrConfig, err)
}

// parser records the first malformed variable so Load can build the whole
// struct in one literal.
type parser struct {
	err error
}

func (p *parser) fail(err error) {
	if p.err == nil {
		p.err = err
	}
}

func (p *parser) duration(key string, def time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		p.fail(fmt.Errorf("invalid %s %q", key, s))
		return def
	}
	return d
}

func (p *parser) positiveInt(key string, def int) int {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		p.fail(fmt.Errorf("invalid %s %q: must be a positive integer", key, s))
		return def
	}
	return n
}

func (p *parser) requiredFloat(key string) float64 {
	s := os.Getenv(key)
	if s == "" {
		p.fail(fmt.Errorf("%s is required", key))
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		p.fail(fmt.Errorf("invalid %s %q", key, s))
		return 0
	}
	return f
}

func (p *parser) bool(key string, def bool) bool {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		p.fail(fmt.Errorf("invalid %s %q", key, s))
		return def
	}
	return b
}

func (p *parser) list(key string, def []string) []string {
	if s := os.Getenv(key); s != "" {
		return splitList(s)
	}
	return def
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
