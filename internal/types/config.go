package types

import (
	"fmt"
	"time"
)

// Config drives the whole service. It is loaded from an optional YAML file and
// then overridden from the environment (see cmd/kickoff/cmds).
// Leagues lists the competitions kept warm by the syncer; LeagueIDs is the
// environment shorthand for the same list when no file is used.
type Config struct {
	Timezone  string          `yaml:"timezone" env:"TIMEZONE"`
	Leagues   []League        `yaml:"leagues"`
	LeagueIDs []int           `yaml:"-" env:"LEAGUE_IDS" envSeparator:","`
	Provider  ProviderConfig  `yaml:"provider" envPrefix:"PROVIDER_"`
	Sync      SyncConfig      `yaml:"sync" envPrefix:"SYNC_"`
	Scheduler SchedulerConfig `yaml:"scheduler" envPrefix:"SCHEDULER_"`
	Reader    ReaderConfig    `yaml:"reader" envPrefix:"READER_"`
	Live      LiveConfig      `yaml:"live" envPrefix:"LIVE_"`
	API       APIConfig       `yaml:"api" envPrefix:"API_"`
}

// League is a competition to sync. Season 0 means "derive from the date".
type League struct {
	ID     int    `yaml:"id"`
	Name   string `yaml:"name"`
	Season int    `yaml:"season"`
}

type ProviderConfig struct {
	APIKey  string        `yaml:"api_key" env:"API_KEY"`
	BaseURL string        `yaml:"base_url" env:"BASE_URL"`
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// SyncConfig is the provider budget enforced by the syncer.
// AbortRatio is the share of DailyQuota after which a drain pass stops early.
// DetailUsageRatio is the share under which the morning window still queues yesterday's details.
type SyncConfig struct {
	MaxRequestsPerMinute int           `yaml:"max_requests_per_minute" env:"MAX_RPM"`
	DailyQuota           int           `yaml:"daily_quota" env:"DAILY_QUOTA"`
	AbortRatio           float64       `yaml:"abort_ratio" env:"ABORT_RATIO"`
	DetailUsageRatio     float64       `yaml:"detail_usage_ratio" env:"DETAIL_USAGE_RATIO"`
	HistoryRetention     time.Duration `yaml:"history_retention" env:"HISTORY_RETENTION"`
	FullPastDays         int           `yaml:"full_past_days" env:"FULL_PAST_DAYS"`
	FullFutureDays       int           `yaml:"full_future_days" env:"FULL_FUTURE_DAYS"`
	BatchDays            int           `yaml:"batch_days" env:"BATCH_DAYS"`
}

// SchedulerConfig drives the AutoScheduler cadences and guards.
type SchedulerConfig struct {
	Enabled              bool          `yaml:"enabled" env:"ENABLED" json:"enabled"`
	QuickInterval        time.Duration `yaml:"quick_interval" env:"QUICK_INTERVAL" json:"quick_interval"`
	SmartInterval        time.Duration `yaml:"smart_interval" env:"SMART_INTERVAL" json:"smart_interval"`
	FullInterval         time.Duration `yaml:"full_interval" env:"FULL_INTERVAL" json:"full_interval"`
	HealthInterval       time.Duration `yaml:"health_interval" env:"HEALTH_INTERVAL" json:"health_interval"`
	MaxConcurrent        int           `yaml:"max_concurrent" env:"MAX_CONCURRENT" json:"max_concurrent"`
	DailyCallCeiling     int           `yaml:"daily_call_ceiling" env:"DAILY_CALL_CEILING" json:"daily_call_ceiling"`
	LowActivityStartHour int           `yaml:"low_activity_start_hour" env:"LOW_ACTIVITY_START" json:"low_activity_start_hour"`
	LowActivityEndHour   int           `yaml:"low_activity_end_hour" env:"LOW_ACTIVITY_END" json:"low_activity_end_hour"`
}

const (
	FallbackAllOrNothing = "all_or_nothing"
	FallbackPerLeague    = "per_league"
)

type ReaderConfig struct {
	MemoryTTL      time.Duration `yaml:"memory_ttl" env:"MEMORY_TTL"`
	MemorySize     int           `yaml:"memory_size" env:"MEMORY_SIZE"`
	FallbackPolicy string        `yaml:"fallback_policy" env:"FALLBACK_POLICY"`
	RepairDelay    time.Duration `yaml:"repair_delay" env:"REPAIR_DELAY"`
}

type LiveConfig struct {
	Enabled           bool          `yaml:"enabled" env:"ENABLED"`
	ScanInterval      time.Duration `yaml:"scan_interval" env:"SCAN_INTERVAL"`
	SNSArn            string        `yaml:"sns_arn" env:"SNS_ARN"`
	StreamIdleTimeout time.Duration `yaml:"stream_idle_timeout" env:"STREAM_IDLE_TIMEOUT"`
}

type APIConfig struct {
	Port       int    `yaml:"port" env:"PORT"`
	AdminKey   string `yaml:"admin_key" env:"ADMIN_KEY"`
	InboundRPM int    `yaml:"inbound_rpm" env:"INBOUND_RPM"`
}

const (
	AdminKeyHdrName = "x-admin-key"

	MinAdminKeyLength = 8
)

func DefaultConfig() Config {
	return Config{
		Timezone: "UTC",
		Provider: ProviderConfig{
			BaseURL: "https://v3.football.api-sports.io",
			Timeout: 30 * time.Second,
		},
		Sync:      DefaultSyncConfig(),
		Scheduler: DefaultSchedulerConfig(),
		Reader: ReaderConfig{
			MemoryTTL:      30 * time.Second,
			MemorySize:     2048,
			FallbackPolicy: FallbackAllOrNothing,
			RepairDelay:    500 * time.Millisecond,
		},
		Live: LiveConfig{
			Enabled:           true,
			ScanInterval:      time.Minute,
			StreamIdleTimeout: 5 * time.Minute,
		},
		API: APIConfig{
			Port:       8080,
			InboundRPM: 120,
		},
	}
}

func DefaultSyncConfig() SyncConfig {
	return SyncConfig{
		MaxRequestsPerMinute: 10,
		DailyQuota:           7500,
		AbortRatio:           0.9,
		DetailUsageRatio:     0.6,
		HistoryRetention:     time.Hour,
		FullPastDays:         7,
		FullFutureDays:       7,
		BatchDays:            7,
	}
}

func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Enabled:              true,
		QuickInterval:        30 * time.Minute,
		SmartInterval:        2 * time.Hour,
		FullInterval:         24 * time.Hour,
		HealthInterval:       15 * time.Minute,
		MaxConcurrent:        1,
		DailyCallCeiling:     6000,
		LowActivityStartHour: 2,
		LowActivityEndHour:   6,
	}
}

// Location returns the configured timezone, UTC when it cannot be loaded.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// LeagueList merges the file leagues with the env shorthand, file entries first.
func (c Config) LeagueList() []League {
	out := make([]League, 0, len(c.Leagues)+len(c.LeagueIDs))
	seen := make(map[int]bool)
	for _, l := range c.Leagues {
		if !seen[l.ID] {
			seen[l.ID] = true
			out = append(out, l)
		}
	}
	for _, id := range c.LeagueIDs {
		if !seen[id] {
			seen[id] = true
			out = append(out, League{ID: id})
		}
	}
	return out
}

func (c Config) Validate() error {
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("timezone %q: %w", c.Timezone, err)
	}
	for _, l := range c.LeagueList() {
		if l.ID <= 0 {
			return fmt.Errorf("league id must be positive, got %d", l.ID)
		}
	}
	if err := c.Sync.Validate(); err != nil {
		return err
	}
	if err := c.Scheduler.Validate(); err != nil {
		return err
	}
	if c.Reader.MemoryTTL <= 0 {
		return fmt.Errorf("reader.memory_ttl must be positive")
	}
	if c.Reader.MemorySize <= 0 {
		return fmt.Errorf("reader.memory_size must be positive")
	}
	switch c.Reader.FallbackPolicy {
	case FallbackAllOrNothing, FallbackPerLeague:
	default:
		return fmt.Errorf("reader.fallback_policy must be %q or %q", FallbackAllOrNothing, FallbackPerLeague)
	}
	if c.Live.ScanInterval < 10*time.Second {
		return fmt.Errorf("live.scan_interval must be at least 10s")
	}
	if c.API.Port <= 0 {
		return fmt.Errorf("api.port must be positive")
	}
	if c.API.AdminKey != "" && len(c.API.AdminKey) < MinAdminKeyLength {
		return fmt.Errorf("api.admin_key must be at least %d characters", MinAdminKeyLength)
	}
	if c.API.InboundRPM < 0 {
		return fmt.Errorf("api.inbound_rpm must be non-negative. 0 for non limit")
	}
	return nil
}

func (c SyncConfig) Validate() error {
	if c.MaxRequestsPerMinute <= 0 {
		return fmt.Errorf("sync.max_requests_per_minute must be positive")
	}
	if c.DailyQuota <= 0 {
		return fmt.Errorf("sync.daily_quota must be positive")
	}
	if c.AbortRatio <= 0 || c.AbortRatio > 1 {
		return fmt.Errorf("sync.abort_ratio must be in (0, 1]")
	}
	if c.DetailUsageRatio <= 0 || c.DetailUsageRatio > 1 {
		return fmt.Errorf("sync.detail_usage_ratio must be in (0, 1]")
	}
	if c.BatchDays <= 0 {
		return fmt.Errorf("sync.batch_days must be positive")
	}
	if c.FullPastDays < 0 || c.FullFutureDays < 0 {
		return fmt.Errorf("sync.full_past_days and sync.full_future_days must be non-negative")
	}
	return nil
}

func (c SchedulerConfig) Validate() error {
	if c.QuickInterval <= 0 || c.SmartInterval <= 0 || c.FullInterval <= 0 || c.HealthInterval <= 0 {
		return fmt.Errorf("scheduler intervals must be positive")
	}
	if c.MaxConcurrent <= 0 {
		return fmt.Errorf("scheduler.max_concurrent must be positive")
	}
	if c.DailyCallCeiling <= 0 {
		return fmt.Errorf("scheduler.daily_call_ceiling must be positive")
	}
	if c.LowActivityStartHour < 0 || c.LowActivityStartHour > 23 ||
		c.LowActivityEndHour < 0 || c.LowActivityEndHour > 23 {
		return fmt.Errorf("scheduler low activity hours must be within [0, 23]")
	}
	return nil
}
