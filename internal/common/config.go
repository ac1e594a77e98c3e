package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
	"github.com/robfig/cron/v3"

	"github.com/ed-baer97/mektab/internal/models"
)

// Config represents the application configuration
type Config struct {
	Environment string             `toml:"environment"` // "development" or "production"
	Output      OutputConfig       `toml:"output"`
	Storage     StorageConfig      `toml:"storage"`
	Logging     LoggingConfig      `toml:"logging"`
	Portal      PortalConfig       `toml:"portal"`
	Workers     WorkersConfig      `toml:"workers"`
	Retry       RetryConfig        `toml:"retry"`
	Templates   TemplatesConfig    `toml:"templates"`
	Retention   RetentionConfig    `toml:"retention"`
	Schedule    ScheduleConfig     `toml:"schedule"`
	Credentials []models.Credential `toml:"credentials" validate:"dive"`
}

// OutputConfig holds the directories generated files land in.
type OutputConfig struct {
	Dir            string `toml:"dir"`             // synthesized artifacts
	DiagnosticsDir string `toml:"diagnostics_dir"` // failure snapshots (screenshot + html)
}

type StorageConfig struct {
	Badger BadgerConfig `toml:"badger"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path"`             // Database directory path
	ResetOnStartup bool   `toml:"reset_on_startup"` // Delete database on startup for clean test runs
}

type LoggingConfig struct {
	Level         string   `toml:"level"`           // "debug", "info", "warn", "error"
	Format        string   `toml:"format"`          // "json" or "text"
	Output        []string `toml:"output"`          // "stdout", "file"
	TimeFormat    string   `toml:"time_format"`     // Time format for logs (default: "15:04:05.000")
	MinEventLevel string   `toml:"min_event_level"` // Minimum level persisted into job logs
}

// PortalConfig describes how browsing sessions drive the school portal.
// Duration fields arrive from TOML as strings ("15s") and are resolved by
// LoadFromFiles; go-toml does not read strings into time.Duration.
type PortalConfig struct {
	BaseURL  string `toml:"base_url"`
	Headless bool   `toml:"headless"`

	// ExpectedSchool disambiguates the account-role chooser for teachers
	// attached to several schools. Empty picks the first teacher role.
	ExpectedSchool string `toml:"expected_school"`

	StepTimeout time.Duration `toml:"-"` // bounded wait per navigation step
	PageTimeout time.Duration `toml:"-"` // whole-page load budget

	// RateLimit is the minimum gap between job starts against the portal.
	// The portal tolerates little; this is abuse-avoidance, not throughput.
	RateLimit time.Duration `toml:"-"`

	UserAgent string `toml:"user_agent"`
}

// WorkersConfig bounds concurrent browsing contexts.
type WorkersConfig struct {
	PoolSize     int           `toml:"pool_size" validate:"min=1"`
	PollInterval time.Duration `toml:"-"` // queue poll cadence
}

// RetryConfig shapes transient-failure backoff.
type RetryConfig struct {
	MaxRetries     int           `toml:"max_retries" validate:"min=0"`
	InitialBackoff time.Duration `toml:"-"`
	MaxBackoff     time.Duration `toml:"-"`
	Multiplier     float64       `toml:"multiplier"`
}

// tomlDurations captures the duration keys as the strings they are written
// as in mektab.toml ("15s", "2m"). Resolved into the typed config fields
// after all files are merged.
type tomlDurations struct {
	Portal struct {
		StepTimeout string `toml:"step_timeout"`
		PageTimeout string `toml:"page_timeout"`
		RateLimit   string `toml:"rate_limit"`
	} `toml:"portal"`
	Workers struct {
		PollInterval string `toml:"poll_interval"`
	} `toml:"workers"`
	Retry struct {
		InitialBackoff string `toml:"initial_backoff"`
		MaxBackoff     string `toml:"max_backoff"`
	} `toml:"retry"`
}

// TemplatesConfig locates the report template manifests.
type TemplatesConfig struct {
	Dir string `toml:"dir"`
}

// RetentionConfig controls scheduled cleanup of old jobs and artifacts.
type RetentionConfig struct {
	Enabled    bool   `toml:"enabled"`
	Schedule   string `toml:"schedule"` // cron format
	MaxAgeDays int    `toml:"max_age_days" validate:"min=1"`
}

// ScheduleConfig holds recurring scrape submissions.
type ScheduleConfig struct {
	Scrape []ScrapeScheduleConfig `toml:"scrape"`
}

// ScrapeScheduleConfig is one [[schedule.scrape]] block: a cron expression
// plus the job spec it submits.
type ScrapeScheduleConfig struct {
	Cron          string `toml:"cron" validate:"required"`
	SchoolID      string `toml:"school_id"`
	ClassID       string `toml:"class_id"`
	Period        int    `toml:"period"`
	CredentialRef string `toml:"credential_ref"`
	Locale        string `toml:"locale"`
	TemplateID    string `toml:"template_id"`
	Subject       string `toml:"subject"`
}

// ToSpec converts the schedule block into a submittable job spec.
func (s *ScrapeScheduleConfig) ToSpec() models.JobSpec {
	return models.JobSpec{
		SchoolID:      s.SchoolID,
		ClassID:       s.ClassID,
		Period:        s.Period,
		CredentialRef: s.CredentialRef,
		Locale:        s.Locale,
		TemplateID:    s.TemplateID,
		Subject:       s.Subject,
	}
}

// NewDefaultConfig creates a configuration with default values.
// Technical parameters are hardcoded here for production stability.
// Only user-facing settings should be exposed in mektab.toml.
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Output: OutputConfig{
			Dir:            "./out",
			DiagnosticsDir: "./out/diagnostics",
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path: "./data",
			},
		},
		Logging: LoggingConfig{
			Level:         "info",
			Format:        "text",
			Output:        []string{"stdout", "file"},
			TimeFormat:    "15:04:05.000",
			MinEventLevel: "info",
		},
		Portal: PortalConfig{
			BaseURL:     "https://mektep.edu.kz",
			Headless:    true,
			StepTimeout: 15 * time.Second,
			PageTimeout: 45 * time.Second,
			RateLimit:   2 * time.Second,
			UserAgent:   "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		},
		Workers: WorkersConfig{
			PoolSize:     2, // the portal rate-limits aggressively; keep this low
			PollInterval: 1 * time.Second,
		},
		Retry: RetryConfig{
			MaxRetries:     3,
			InitialBackoff: 5 * time.Second,
			MaxBackoff:     2 * time.Minute,
			Multiplier:     2.0,
		},
		Templates: TemplatesConfig{
			Dir: "./templates",
		},
		Retention: RetentionConfig{
			Enabled:    true,
			Schedule:   "0 3 * * *", // daily, 03:00
			MaxAgeDays: 30,
		},
	}
}

// LoadFromFile loads configuration with priority: default -> file -> env
func LoadFromFile(path string) (*Config, error) {
	if path == "" {
		return LoadFromFiles()
	}
	return LoadFromFiles(path)
}

// LoadFromFiles loads configuration from multiple files with priority:
// default -> file1 -> file2 -> ... -> env. Later files override earlier
// files; environment variables override every file.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()
	var durations tomlDurations

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
		if err := toml.Unmarshal(data, &durations); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	if err := resolveDurations(config, &durations); err != nil {
		return nil, err
	}

	applyEnvOverrides(config)

	return config, nil
}

// resolveDurations parses the duration strings collected from the config
// files into the typed fields. Absent keys keep their defaults.
func resolveDurations(config *Config, d *tomlDurations) error {
	set := func(key, value string, target *time.Duration) error {
		if value == "" {
			return nil
		}
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("%s: invalid duration %q", key, value)
		}
		*target = parsed
		return nil
	}

	if err := set("portal.step_timeout", d.Portal.StepTimeout, &config.Portal.StepTimeout); err != nil {
		return err
	}
	if err := set("portal.page_timeout", d.Portal.PageTimeout, &config.Portal.PageTimeout); err != nil {
		return err
	}
	if err := set("portal.rate_limit", d.Portal.RateLimit, &config.Portal.RateLimit); err != nil {
		return err
	}
	if err := set("workers.poll_interval", d.Workers.PollInterval, &config.Workers.PollInterval); err != nil {
		return err
	}
	if err := set("retry.initial_backoff", d.Retry.InitialBackoff, &config.Retry.InitialBackoff); err != nil {
		return err
	}
	if err := set("retry.max_backoff", d.Retry.MaxBackoff, &config.Retry.MaxBackoff); err != nil {
		return err
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("MEKTAB_ENV"); env != "" {
		config.Environment = env
	} else if env := os.Getenv("GO_ENV"); env != "" {
		config.Environment = env
	}

	// Output configuration
	if dir := os.Getenv("MEKTAB_OUTPUT_DIR"); dir != "" {
		config.Output.Dir = dir
	}
	if dir := os.Getenv("MEKTAB_DIAGNOSTICS_DIR"); dir != "" {
		config.Output.DiagnosticsDir = dir
	}

	// Storage configuration
	if badgerPath := os.Getenv("MEKTAB_BADGER_PATH"); badgerPath != "" {
		config.Storage.Badger.Path = badgerPath
	}

	// Logging configuration
	if level := os.Getenv("MEKTAB_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if format := os.Getenv("MEKTAB_LOG_FORMAT"); format != "" {
		config.Logging.Format = format
	}
	if output := os.Getenv("MEKTAB_LOG_OUTPUT"); output != "" {
		outputs := []string{}
		for _, o := range strings.Split(output, ",") {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				outputs = append(outputs, trimmed)
			}
		}
		if len(outputs) > 0 {
			config.Logging.Output = outputs
		}
	}
	if minEventLevel := os.Getenv("MEKTAB_LOG_MIN_EVENT_LEVEL"); minEventLevel != "" {
		config.Logging.MinEventLevel = minEventLevel
	}

	// Portal configuration
	if baseURL := os.Getenv("MEKTAB_PORTAL_BASE_URL"); baseURL != "" {
		config.Portal.BaseURL = baseURL
	}
	if headless := os.Getenv("MEKTAB_PORTAL_HEADLESS"); headless != "" {
		if h, err := strconv.ParseBool(headless); err == nil {
			config.Portal.Headless = h
		}
	}
	if school := os.Getenv("MEKTAB_PORTAL_EXPECTED_SCHOOL"); school != "" {
		config.Portal.ExpectedSchool = school
	}
	if stepTimeout := os.Getenv("MEKTAB_PORTAL_STEP_TIMEOUT"); stepTimeout != "" {
		if d, err := time.ParseDuration(stepTimeout); err == nil {
			config.Portal.StepTimeout = d
		}
	}
	if pageTimeout := os.Getenv("MEKTAB_PORTAL_PAGE_TIMEOUT"); pageTimeout != "" {
		if d, err := time.ParseDuration(pageTimeout); err == nil {
			config.Portal.PageTimeout = d
		}
	}
	if rateLimit := os.Getenv("MEKTAB_PORTAL_RATE_LIMIT"); rateLimit != "" {
		if d, err := time.ParseDuration(rateLimit); err == nil {
			config.Portal.RateLimit = d
		}
	}
	if userAgent := os.Getenv("MEKTAB_PORTAL_USER_AGENT"); userAgent != "" {
		config.Portal.UserAgent = userAgent
	}

	// A single credential can be supplied entirely through the environment,
	// the way the original deployment passed its login. It overrides a file
	// credential with the same ref, or lands as ref "default".
	if login := os.Getenv("MEKTAB_PORTAL_LOGIN"); login != "" {
		secret := os.Getenv("MEKTAB_PORTAL_PASSWORD")
		ref := os.Getenv("MEKTAB_PORTAL_CREDENTIAL_REF")
		if ref == "" {
			ref = "default"
		}
		replaced := false
		for i := range config.Credentials {
			if config.Credentials[i].Ref == ref {
				config.Credentials[i].Username = login
				config.Credentials[i].Secret = secret
				replaced = true
				break
			}
		}
		if !replaced {
			config.Credentials = append(config.Credentials, models.Credential{
				Ref:      ref,
				Username: login,
				Secret:   secret,
			})
		}
	}

	// Workers configuration
	if poolSize := os.Getenv("MEKTAB_WORKERS_POOL_SIZE"); poolSize != "" {
		if ps, err := strconv.Atoi(poolSize); err == nil {
			config.Workers.PoolSize = ps
		}
	}
	if pollInterval := os.Getenv("MEKTAB_WORKERS_POLL_INTERVAL"); pollInterval != "" {
		if d, err := time.ParseDuration(pollInterval); err == nil {
			config.Workers.PollInterval = d
		}
	}

	// Retry configuration
	if maxRetries := os.Getenv("MEKTAB_RETRY_MAX_RETRIES"); maxRetries != "" {
		if mr, err := strconv.Atoi(maxRetries); err == nil {
			config.Retry.MaxRetries = mr
		}
	}
	if initialBackoff := os.Getenv("MEKTAB_RETRY_INITIAL_BACKOFF"); initialBackoff != "" {
		if d, err := time.ParseDuration(initialBackoff); err == nil {
			config.Retry.InitialBackoff = d
		}
	}
	if maxBackoff := os.Getenv("MEKTAB_RETRY_MAX_BACKOFF"); maxBackoff != "" {
		if d, err := time.ParseDuration(maxBackoff); err == nil {
			config.Retry.MaxBackoff = d
		}
	}

	// Templates configuration
	if templatesDir := os.Getenv("MEKTAB_TEMPLATES_DIR"); templatesDir != "" {
		config.Templates.Dir = templatesDir
	}

	// Retention configuration
	if enabled := os.Getenv("MEKTAB_RETENTION_ENABLED"); enabled != "" {
		if e, err := strconv.ParseBool(enabled); err == nil {
			config.Retention.Enabled = e
		}
	}
	if maxAge := os.Getenv("MEKTAB_RETENTION_MAX_AGE_DAYS"); maxAge != "" {
		if days, err := strconv.Atoi(maxAge); err == nil {
			config.Retention.MaxAgeDays = days
		}
	}
}

// ApplyFlagOverrides applies command-line flag overrides to config
func ApplyFlagOverrides(config *Config, workers int, outDir string) {
	if workers > 0 {
		config.Workers.PoolSize = workers
	}
	if outDir != "" {
		config.Output.Dir = outDir
	}
}

// Validate checks the assembled configuration before anything is wired.
func (c *Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	if c.Retry.Multiplier < 1.0 {
		return fmt.Errorf("retry.multiplier must be >= 1.0, got %v", c.Retry.Multiplier)
	}
	if c.Retry.MaxBackoff < c.Retry.InitialBackoff {
		return fmt.Errorf("retry.max_backoff %v is below retry.initial_backoff %v", c.Retry.MaxBackoff, c.Retry.InitialBackoff)
	}

	refs := make(map[string]bool, len(c.Credentials))
	for _, cred := range c.Credentials {
		if refs[cred.Ref] {
			return fmt.Errorf("duplicate credential ref %q", cred.Ref)
		}
		refs[cred.Ref] = true
	}

	if c.Retention.Enabled {
		if err := ValidateSchedule(c.Retention.Schedule); err != nil {
			return fmt.Errorf("retention.schedule: %w", err)
		}
	}
	for i, s := range c.Schedule.Scrape {
		if err := ValidateSchedule(s.Cron); err != nil {
			return fmt.Errorf("schedule.scrape[%d].cron: %w", i, err)
		}
	}

	return nil
}

// CredentialByRef resolves a configured credential.
func (c *Config) CredentialByRef(ref string) (models.Credential, bool) {
	for _, cred := range c.Credentials {
		if cred.Ref == ref {
			return cred, true
		}
	}
	return models.Credential{}, false
}

// ValidateSchedule validates a cron schedule expression and enforces a
// minimum 5-minute interval so schedules cannot hammer the portal.
func ValidateSchedule(schedule string) error {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	_, err := parser.Parse(schedule)
	if err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}

	parts := strings.Fields(schedule)
	if len(parts) < 5 {
		return fmt.Errorf("invalid cron format: expected 5 fields")
	}

	minuteField := parts[0]

	if minuteField == "*" {
		return fmt.Errorf("schedule must have minimum 5-minute interval (every minute is not allowed)")
	}

	if strings.HasPrefix(minuteField, "*/") {
		intervalStr := strings.TrimPrefix(minuteField, "*/")
		interval, err := strconv.Atoi(intervalStr)
		if err == nil && interval < 5 {
			return fmt.Errorf("schedule interval must be at least 5 minutes, got %d", interval)
		}
	}

	return nil
}

// IsProduction returns true if the environment is set to production
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "production" || env == "prod"
}
