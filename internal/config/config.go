// Copyright 2025 James Ross
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/viper"
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

type Mongo struct {
	WriteURI       string        `mapstructure:"write_uri"`
	ReadURI        string        `mapstructure:"read_uri"`
	Database       string        `mapstructure:"database"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	QueryTimeout   time.Duration `mapstructure:"query_timeout"`
}

type Redis struct {
	Addr         string        `mapstructure:"addr"`
	Username     string        `mapstructure:"username"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type Backoff struct {
	Base time.Duration `mapstructure:"base"`
	Max  time.Duration `mapstructure:"max"`
}

type Queue struct {
	Name              string        `mapstructure:"name"`
	ProcessingListFmt string        `mapstructure:"processing_list_fmt"`
	HeartbeatKeyFmt   string        `mapstructure:"heartbeat_key_fmt"`
	HeartbeatTTL      time.Duration `mapstructure:"heartbeat_ttl"`
	MaxAttempts       int           `mapstructure:"max_attempts"`
	Backoff           Backoff       `mapstructure:"backoff"`
	BRPopLPushTimeout time.Duration `mapstructure:"brpoplpush_timeout"`
	RemoveOnComplete  int64         `mapstructure:"remove_on_complete"`
	RemoveOnFail      int64         `mapstructure:"remove_on_fail"`
	LeaseRecoveryInterval time.Duration `mapstructure:"lease_recovery_interval"`
}

type Storage struct {
	Mode               string `mapstructure:"mode"` // object-store-cloud, object-store-local-compatible, filesystem, noop
	Policy             string `mapstructure:"policy"` // required, optional
	EnableExternal     bool   `mapstructure:"enable_external"`
	Bucket             string `mapstructure:"bucket"`
	Endpoint           string `mapstructure:"endpoint"`
	Region             string `mapstructure:"region"`
	AccessKeyID        string `mapstructure:"access_key_id"`
	SecretAccessKey    string `mapstructure:"secret_access_key"`
	UsePathStyle       bool   `mapstructure:"use_path_style"`
	FilesystemRoot     string `mapstructure:"filesystem_root"`
	SignedURLTTL       time.Duration `mapstructure:"signed_url_ttl"`
}

type Worker struct {
	MaxJobConcurrency int           `mapstructure:"max_job_concurrency"`
	SnapshotDir       string        `mapstructure:"snapshot_dir"`
	ReportTmpMaxBytes int64         `mapstructure:"report_tmp_max_bytes"`
	BufferBytes       int           `mapstructure:"buffer_bytes"`
	DocumentMaxRows   int           `mapstructure:"document_max_rows"`
	RetentionDays     int           `mapstructure:"retention_days"`
	CursorBatchSize   int32         `mapstructure:"cursor_batch_size"`
	ZipMultipass      bool          `mapstructure:"zip_multipass"`
	PollTimeout       time.Duration `mapstructure:"poll_timeout"`
}

type Reduce struct {
	DefaultChunks        int  `mapstructure:"default_chunks"`
	PartitionCapMax      int  `mapstructure:"partition_cap_max"`
	PartitionMaxConcurrency int `mapstructure:"partition_max_concurrency"`
	MaxGroups            int  `mapstructure:"max_groups"`
	StreamingAccumulator bool `mapstructure:"streaming_accumulator"`
}

type Ticker struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

type Intake struct {
	ListenAddr           string        `mapstructure:"listen_addr"`
	RequireAPIKey        bool          `mapstructure:"require_api_key"`
	RateLimitPerSecond   float64       `mapstructure:"rate_limit_per_second"`
	RateLimitBurst       int           `mapstructure:"rate_limit_burst"`
	AuditLogPath         string        `mapstructure:"audit_log_path"`
	ReadTimeout          time.Duration `mapstructure:"read_timeout"`
	WriteTimeout         time.Duration `mapstructure:"write_timeout"`
}

type CircuitBreaker struct {
	FailureThreshold float64       `mapstructure:"failure_threshold"`
	Window           time.Duration `mapstructure:"window"`
	CooldownPeriod   time.Duration `mapstructure:"cooldown_period"`
	MinSamples       int           `mapstructure:"min_samples"`
}

type TracingConfig struct {
	Enabled      bool    `mapstructure:"enabled"`
	Endpoint     string  `mapstructure:"endpoint"`
	Environment  string  `mapstructure:"environment"`
	SamplingRate float64 `mapstructure:"sampling_rate"`
	Insecure     bool    `mapstructure:"insecure"`
}

type Observability struct {
	MetricsPort int           `mapstructure:"metrics_port"`
	LogLevel    string        `mapstructure:"log_level"`
	Tracing     TracingConfig `mapstructure:"tracing"`
}

// Config is the single, immutable, process-wide configuration record.
// It is assembled once at startup; see internal/obs for the logger derived from it.
type Config struct {
	Mongo             Mongo          `mapstructure:"mongo"`
	Redis             Redis          `mapstructure:"redis"`
	Queue             Queue          `mapstructure:"queue"`
	Storage           Storage        `mapstructure:"storage"`
	Worker            Worker         `mapstructure:"worker"`
	Reduce            Reduce         `mapstructure:"reduce"`
	Ticker            Ticker         `mapstructure:"ticker"`
	Intake            Intake         `mapstructure:"intake"`
	CircuitBreaker    CircuitBreaker `mapstructure:"circuit_breaker"`
	Observability     Observability  `mapstructure:"observability"`
	SourceCollection  string         `mapstructure:"source_collection"`
	SourceAllowlist   []string       `mapstructure:"source_allowlist"`
}

func defaultConfig() *Config {
	return &Config{
		Mongo: Mongo{
			WriteURI:       "mongodb://localhost:27017",
			ReadURI:        "mongodb://localhost:27017",
			Database:       "reportgen",
			ConnectTimeout: 10 * time.Second,
			QueryTimeout:   30 * time.Second,
		},
		Redis: Redis{
			Addr:         "localhost:6379",
			MinIdleConns: 5,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		Queue: Queue{
			Name:              "reportgen:jobs",
			ProcessingListFmt: "reportgen:worker:%s:processing",
			HeartbeatKeyFmt:   "reportgen:heartbeat:%s",
			HeartbeatTTL:      30 * time.Second,
			MaxAttempts:       5,
			Backoff:           Backoff{Base: 2000 * time.Millisecond, Max: 60 * time.Second},
			BRPopLPushTimeout: 1 * time.Second,
			RemoveOnComplete:  100,
			RemoveOnFail:      1000,
			LeaseRecoveryInterval: 5 * time.Second,
		},
		Storage: Storage{
			Mode:           "noop",
			Policy:         "required",
			EnableExternal: false,
			SignedURLTTL:   15 * time.Minute,
		},
		Worker: Worker{
			MaxJobConcurrency: 8,
			SnapshotDir:       "./tmp/snapshots",
			ReportTmpMaxBytes: 512 * 1024 * 1024,
			BufferBytes:       64 * 1024,
			DocumentMaxRows:   0,
			RetentionDays:     30,
			CursorBatchSize:   500,
			ZipMultipass:      false,
			PollTimeout:       1 * time.Second,
		},
		Reduce: Reduce{
			DefaultChunks:           8,
			PartitionCapMax:         64,
			PartitionMaxConcurrency: 8,
			MaxGroups:               100000,
			StreamingAccumulator:    true,
		},
		Ticker: Ticker{
			PollInterval: 5 * time.Second,
		},
		Intake: Intake{
			ListenAddr:         ":8080",
			RequireAPIKey:      true,
			RateLimitPerSecond: 20,
			RateLimitBurst:     40,
			AuditLogPath:       "./log/intake-audit.log",
			ReadTimeout:        10 * time.Second,
			WriteTimeout:       30 * time.Second,
		},
		CircuitBreaker: CircuitBreaker{
			FailureThreshold: 0.5,
			Window:           1 * time.Minute,
			CooldownPeriod:   30 * time.Second,
			MinSamples:       5,
		},
		Observability: Observability{
			MetricsPort: 9090,
			LogLevel:    "info",
			Tracing:     TracingConfig{Enabled: false},
		},
		SourceCollection: "reportSource",
		SourceAllowlist:  []string{"reportSource"},
	}
}

// Load reads configuration from a YAML file plus environment overrides
// (dots replaced with underscores, e.g. REDIS_ADDR overrides redis.addr).
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	def := defaultConfig()
	setDefaults(v, def)

	if _, err := os.Stat(path); err == nil {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper, def *Config) {
	v.SetDefault("mongo.write_uri", def.Mongo.WriteURI)
	v.SetDefault("mongo.read_uri", def.Mongo.ReadURI)
	v.SetDefault("mongo.database", def.Mongo.Database)
	v.SetDefault("mongo.connect_timeout", def.Mongo.ConnectTimeout)
	v.SetDefault("mongo.query_timeout", def.Mongo.QueryTimeout)

	v.SetDefault("redis.addr", def.Redis.Addr)
	v.SetDefault("redis.min_idle_conns", def.Redis.MinIdleConns)
	v.SetDefault("redis.dial_timeout", def.Redis.DialTimeout)
	v.SetDefault("redis.read_timeout", def.Redis.ReadTimeout)
	v.SetDefault("redis.write_timeout", def.Redis.WriteTimeout)

	v.SetDefault("queue.name", def.Queue.Name)
	v.SetDefault("queue.processing_list_fmt", def.Queue.ProcessingListFmt)
	v.SetDefault("queue.heartbeat_key_fmt", def.Queue.HeartbeatKeyFmt)
	v.SetDefault("queue.heartbeat_ttl", def.Queue.HeartbeatTTL)
	v.SetDefault("queue.max_attempts", def.Queue.MaxAttempts)
	v.SetDefault("queue.backoff.base", def.Queue.Backoff.Base)
	v.SetDefault("queue.backoff.max", def.Queue.Backoff.Max)
	v.SetDefault("queue.brpoplpush_timeout", def.Queue.BRPopLPushTimeout)
	v.SetDefault("queue.remove_on_complete", def.Queue.RemoveOnComplete)
	v.SetDefault("queue.remove_on_fail", def.Queue.RemoveOnFail)
	v.SetDefault("queue.lease_recovery_interval", def.Queue.LeaseRecoveryInterval)

	v.SetDefault("storage.mode", def.Storage.Mode)
	v.SetDefault("storage.policy", def.Storage.Policy)
	v.SetDefault("storage.enable_external", def.Storage.EnableExternal)
	v.SetDefault("storage.signed_url_ttl", def.Storage.SignedURLTTL)

	v.SetDefault("worker.max_job_concurrency", def.Worker.MaxJobConcurrency)
	v.SetDefault("worker.snapshot_dir", def.Worker.SnapshotDir)
	v.SetDefault("worker.report_tmp_max_bytes", def.Worker.ReportTmpMaxBytes)
	v.SetDefault("worker.buffer_bytes", def.Worker.BufferBytes)
	v.SetDefault("worker.document_max_rows", def.Worker.DocumentMaxRows)
	v.SetDefault("worker.retention_days", def.Worker.RetentionDays)
	v.SetDefault("worker.cursor_batch_size", def.Worker.CursorBatchSize)
	v.SetDefault("worker.zip_multipass", def.Worker.ZipMultipass)
	v.SetDefault("worker.poll_timeout", def.Worker.PollTimeout)

	v.SetDefault("reduce.default_chunks", def.Reduce.DefaultChunks)
	v.SetDefault("reduce.partition_cap_max", def.Reduce.PartitionCapMax)
	v.SetDefault("reduce.partition_max_concurrency", def.Reduce.PartitionMaxConcurrency)
	v.SetDefault("reduce.max_groups", def.Reduce.MaxGroups)
	v.SetDefault("reduce.streaming_accumulator", def.Reduce.StreamingAccumulator)

	v.SetDefault("ticker.poll_interval", def.Ticker.PollInterval)

	v.SetDefault("intake.listen_addr", def.Intake.ListenAddr)
	v.SetDefault("intake.require_api_key", def.Intake.RequireAPIKey)
	v.SetDefault("intake.rate_limit_per_second", def.Intake.RateLimitPerSecond)
	v.SetDefault("intake.rate_limit_burst", def.Intake.RateLimitBurst)
	v.SetDefault("intake.audit_log_path", def.Intake.AuditLogPath)
	v.SetDefault("intake.read_timeout", def.Intake.ReadTimeout)
	v.SetDefault("intake.write_timeout", def.Intake.WriteTimeout)

	v.SetDefault("circuit_breaker.failure_threshold", def.CircuitBreaker.FailureThreshold)
	v.SetDefault("circuit_breaker.window", def.CircuitBreaker.Window)
	v.SetDefault("circuit_breaker.cooldown_period", def.CircuitBreaker.CooldownPeriod)
	v.SetDefault("circuit_breaker.min_samples", def.CircuitBreaker.MinSamples)

	v.SetDefault("observability.metrics_port", def.Observability.MetricsPort)
	v.SetDefault("observability.log_level", def.Observability.LogLevel)
	v.SetDefault("observability.tracing.enabled", def.Observability.Tracing.Enabled)
	v.SetDefault("observability.tracing.endpoint", def.Observability.Tracing.Endpoint)

	v.SetDefault("source_collection", def.SourceCollection)
	v.SetDefault("source_allowlist", def.SourceAllowlist)
}

// Validate checks config constraints, including the identifier-safety and
// cardinality constraints the reduce engine and job processor depend on.
func Validate(cfg *Config) error {
	if cfg.Mongo.Database == "" {
		return fmt.Errorf("mongo.database must be set")
	}
	if cfg.Worker.MaxJobConcurrency < 1 {
		return fmt.Errorf("worker.max_job_concurrency must be >= 1")
	}
	if cfg.Worker.ReportTmpMaxBytes <= 0 {
		return fmt.Errorf("worker.report_tmp_max_bytes must be > 0")
	}
	if cfg.Worker.RetentionDays < 1 {
		return fmt.Errorf("worker.retention_days must be >= 1")
	}
	if cfg.Reduce.DefaultChunks < 1 {
		return fmt.Errorf("reduce.default_chunks must be >= 1")
	}
	if cfg.Reduce.PartitionCapMax < 1 {
		return fmt.Errorf("reduce.partition_cap_max must be >= 1")
	}
	if cfg.Reduce.PartitionMaxConcurrency < 1 {
		return fmt.Errorf("reduce.partition_max_concurrency must be >= 1")
	}
	if cfg.Reduce.MaxGroups < 1 {
		return fmt.Errorf("reduce.max_groups must be >= 1")
	}
	if cfg.SourceCollection == "" {
		return fmt.Errorf("source_collection must be set")
	}
	if !identifierPattern.MatchString(cfg.SourceCollection) {
		return fmt.Errorf("source_collection %q is not identifier-safe", cfg.SourceCollection)
	}
	if len(cfg.SourceAllowlist) == 0 {
		return fmt.Errorf("source_allowlist must be non-empty")
	}
	for _, name := range cfg.SourceAllowlist {
		if !identifierPattern.MatchString(name) {
			return fmt.Errorf("source_allowlist entry %q is not identifier-safe", name)
		}
	}
	switch cfg.Storage.Mode {
	case "object-store-cloud", "object-store-local-compatible", "filesystem", "noop":
	default:
		return fmt.Errorf("storage.mode %q is invalid", cfg.Storage.Mode)
	}
	switch cfg.Storage.Policy {
	case "required", "optional":
	default:
		return fmt.Errorf("storage.policy %q is invalid", cfg.Storage.Policy)
	}
	if cfg.Observability.MetricsPort <= 0 || cfg.Observability.MetricsPort > 65535 {
		return fmt.Errorf("observability.metrics_port must be 1..65535")
	}
	return nil
}

// IdentifierSafe reports whether s matches the ^[A-Za-z0-9_]+$ charset shared
// by source collection names, group-by fields, and metric aliases.
func IdentifierSafe(s string) bool {
	return identifierPattern.MatchString(s)
}
