package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	LogLevel  string          `yaml:"log_level"`
	TTS       TTSConfig       `yaml:"tts"`
	Text      TextConfig      `yaml:"text"`
	Jobs      JobsConfig      `yaml:"jobs"`
	Stream    StreamConfig    `yaml:"stream"`
	Archive   ArchiveConfig   `yaml:"archive"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Redis     RedisConfig     `yaml:"redis"`
}

type ServerConfig struct {
	Port           string   `yaml:"port"`
	GinMode        string   `yaml:"gin_mode"`
	TrustedProxies []string `yaml:"trusted_proxies"`
	CookieSecure   bool     `yaml:"cookie_secure"`
}

type TTSConfig struct {
	Provider    string        `yaml:"provider"` // translate|cloud|static
	BaseURL     string        `yaml:"base_url"`
	APIKey      string        `yaml:"api_key"`
	Timeout     time.Duration `yaml:"timeout"`
	Attempts    int           `yaml:"attempts"`
	DefaultLang string        `yaml:"default_lang"`
	Languages   []string      `yaml:"languages"`
}

type TextConfig struct {
	MaxChars        int `yaml:"max_chars"`
	MaxWords        int `yaml:"max_words"`
	FirstSegmentMax int `yaml:"first_segment_max"`
	SegmentMax      int `yaml:"segment_max"`
}

type JobsConfig struct {
	TTL time.Duration `yaml:"ttl"`
}

type StreamConfig struct {
	PrebufferBytes int `yaml:"prebuffer_bytes"`
}

type ArchiveConfig struct {
	Dir          string `yaml:"dir"`
	TempDir      string `yaml:"temp_dir"`
	Max          int    `yaml:"max"`
	MirrorBucket string `yaml:"mirror_bucket"`
}

type RateLimitConfig struct {
	MaxRequests int           `yaml:"max_requests"`
	Window      time.Duration `yaml:"window"`
}

type RedisConfig struct {
	Addr string `yaml:"addr"`
}

func Default() Config {
	return Config{
		Server: ServerConfig{
			Port:         "8080",
			GinMode:      "release",
			CookieSecure: true,
		},
		LogLevel: "info",
		TTS: TTSConfig{
			Provider:    "translate",
			Timeout:     20 * time.Second,
			Attempts:    2,
			DefaultLang: "es",
			Languages:   []string{"es", "en", "fr", "pt", "it", "de"},
		},
		Text: TextConfig{
			MaxChars:        5000,
			MaxWords:        1000,
			FirstSegmentMax: 100,
			SegmentMax:      200,
		},
		Jobs:   JobsConfig{TTL: 5 * time.Minute},
		Stream: StreamConfig{PrebufferBytes: 256 << 10},
		Archive: ArchiveConfig{
			Dir:     "data/archive",
			TempDir: "data/tmp",
			Max:     3,
		},
		RateLimit: RateLimitConfig{
			MaxRequests: 10,
			Window:      60 * time.Second,
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file and the environment,
// in that order of precedence (environment wins).
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return cfg, err
	}
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) error {
	overrideString(&cfg.Server.Port, "PORT")
	overrideString(&cfg.Server.GinMode, "GIN_MODE")
	overrideStringSlice(&cfg.Server.TrustedProxies, "TRUSTED_PROXIES")
	overrideString(&cfg.LogLevel, "LOG_LEVEL")
	overrideString(&cfg.TTS.Provider, "TTS_PROVIDER")
	overrideString(&cfg.TTS.BaseURL, "TTS_BASE_URL")
	overrideString(&cfg.TTS.APIKey, "GOOGLE_API_KEY")
	overrideString(&cfg.TTS.DefaultLang, "TTS_DEFAULT_LANG")
	overrideStringSlice(&cfg.TTS.Languages, "TTS_LANGUAGES")
	overrideString(&cfg.Archive.Dir, "ARCHIVE_DIR")
	overrideString(&cfg.Archive.TempDir, "TEMP_DIR")
	overrideString(&cfg.Archive.MirrorBucket, "ARCHIVE_MIRROR_BUCKET")

	// REDIS_ADDR wins over the URI spellings, same as the original Redis bootstrap.
	for _, key := range []string{"REDIS_URL", "REDIS_URI", "REDIS_ADDR"} {
		overrideString(&cfg.Redis.Addr, key)
	}

	var errs []error
	errs = append(errs,
		overrideBool(&cfg.Server.CookieSecure, "COOKIE_SECURE"),
		overrideDuration(&cfg.TTS.Timeout, "TTS_TIMEOUT"),
		overrideInt(&cfg.TTS.Attempts, "TTS_ATTEMPTS"),
		overrideInt(&cfg.Text.MaxChars, "TEXT_MAX_CHARS"),
		overrideInt(&cfg.Text.MaxWords, "TEXT_MAX_WORDS"),
		overrideInt(&cfg.Text.FirstSegmentMax, "SEGMENT_FIRST_MAX"),
		overrideInt(&cfg.Text.SegmentMax, "SEGMENT_MAX"),
		overrideDuration(&cfg.Jobs.TTL, "JOB_TTL"),
		overrideInt(&cfg.Stream.PrebufferBytes, "PREBUFFER_BYTES"),
		overrideInt(&cfg.Archive.Max, "ARCHIVE_MAX"),
		overrideInt(&cfg.RateLimit.MaxRequests, "RL_MAX_REQUESTS"),
		overrideDuration(&cfg.RateLimit.Window, "RL_WINDOW"),
	)
	return errors.Join(errs...)
}

func validate(cfg Config) error {
	var errs []error
	if cfg.Server.Port == "" {
		errs = append(errs, errors.New("server.port is required"))
	}
	switch cfg.TTS.Provider {
	case "translate", "static":
	case "cloud":
		if cfg.TTS.APIKey == "" {
			errs = append(errs, errors.New("tts.api_key (GOOGLE_API_KEY) is required for the cloud provider"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown tts.provider %q", cfg.TTS.Provider))
	}
	if cfg.TTS.Timeout <= 0 {
		errs = append(errs, errors.New("tts.timeout must be > 0"))
	}
	if cfg.TTS.Attempts < 1 {
		errs = append(errs, errors.New("tts.attempts must be >= 1"))
	}
	if len(cfg.TTS.Languages) == 0 {
		errs = append(errs, errors.New("tts.languages must not be empty"))
	} else if !contains(cfg.TTS.Languages, cfg.TTS.DefaultLang) {
		errs = append(errs, fmt.Errorf("tts.default_lang %q is not in tts.languages", cfg.TTS.DefaultLang))
	}
	if cfg.Text.MaxChars <= 0 || cfg.Text.MaxWords <= 0 {
		errs = append(errs, errors.New("text.max_chars and text.max_words must be > 0"))
	}
	if cfg.Text.FirstSegmentMax <= 0 || cfg.Text.SegmentMax <= 0 {
		errs = append(errs, errors.New("text.first_segment_max and text.segment_max must be > 0"))
	}
	if cfg.Jobs.TTL <= 0 {
		errs = append(errs, errors.New("jobs.ttl must be > 0"))
	}
	if cfg.Stream.PrebufferBytes < 0 {
		errs = append(errs, errors.New("stream.prebuffer_bytes must be >= 0"))
	}
	if cfg.Archive.Dir == "" || cfg.Archive.TempDir == "" {
		errs = append(errs, errors.New("archive.dir and archive.temp_dir are required"))
	}
	if cfg.Archive.Max < 1 {
		errs = append(errs, errors.New("archive.max must be >= 1"))
	}
	if cfg.RateLimit.MaxRequests < 1 || cfg.RateLimit.Window <= 0 {
		errs = append(errs, errors.New("rate_limit.max_requests must be >= 1 and rate_limit.window > 0"))
	}
	return errors.Join(errs...)
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func overrideString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		*dst = strings.TrimSpace(v)
	}
}

func overrideStringSlice(dst *[]string, key string) {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	*dst = out
}

func overrideInt(dst *int, key string) error {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return fmt.Errorf("%s: invalid integer %q", key, v)
	}
	*dst = n
	return nil
}

func overrideBool(dst *bool, key string) error {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return nil
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return fmt.Errorf("%s: invalid boolean %q", key, v)
	}
	*dst = b
	return nil
}

func overrideDuration(dst *time.Duration, key string) error {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		return fmt.Errorf("%s: invalid duration %q", key, v)
	}
	*dst = d
	return nil
}
