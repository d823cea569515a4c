package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"PromptHarvester/internal/collector"
	"PromptHarvester/internal/domain"
	"PromptHarvester/internal/scoring"
)

const (
	defaultTimezone = "UTC"
	configPathEnv   = "PROMPT_HARVESTER_CONFIG"
)

// Config holds high-level settings required across the application.
type Config struct {
	Logging       LoggingConfig       `yaml:"logging"`
	Database      DatabaseConfig      `yaml:"database"`
	Scheduler     SchedulerConfig     `yaml:"scheduler"`
	Harvest       HarvestConfig       `yaml:"harvest"`
	Sources       []SourceConfig      `yaml:"sources"`
	Scoring       ScoringConfig       `yaml:"scoring"`
	Analyzer      AnalyzerConfig      `yaml:"analyzer"`
	Orchestration OrchestrationConfig `yaml:"orchestration"`
	Stages        []StageConfig       `yaml:"stages"`
	Notifications NotificationConfig  `yaml:"notifications"`
	Archive       ArchiveConfig       `yaml:"archive"`
	Metrics       MetricsConfig       `yaml:"metrics"`

	// explicit records tunables a parsed document sets, zero values included.
	explicit *explicitFields
}

// explicitFields mirrors the settings whose zero value is meaningful, so a
// merge can tell "set to zero" from "absent".
type explicitFields struct {
	Scheduler struct {
		RunOnStart *bool `yaml:"runOnStart"`
	} `yaml:"scheduler"`
	Harvest struct {
		MaxRetries *int `yaml:"maxRetries"`
	} `yaml:"harvest"`
	Scoring struct {
		MinScore *float64 `yaml:"minScore"`
	} `yaml:"scoring"`
	Analyzer struct {
		MaxItems *int `yaml:"maxItems"`
	} `yaml:"analyzer"`
	Orchestration struct {
		MaxRetries     *int           `yaml:"maxRetries"`
		CostCeilingUSD *float64       `yaml:"costCeilingUsd"`
		RunTimeout     *time.Duration `yaml:"runTimeout"`
		BudgetFatal    *bool          `yaml:"budgetFatal"`
		MinSeedScore   *float64       `yaml:"minSeedScore"`
		PriorRuns      *int           `yaml:"priorRuns"`
	} `yaml:"orchestration"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

// DatabaseConfig describes Postgres connection details. An empty DSN selects
// the in-memory store.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

// SchedulerConfig defines when harvesting cycles run.
type SchedulerConfig struct {
	CronExpression string         `yaml:"cronExpression"`
	Timezone       string         `yaml:"timezone"`
	RunOnStart     bool           `yaml:"runOnStart"`
	location       *time.Location `yaml:"-"`
}

// Location resolves the scheduler timezone string to a time.Location.
func (s SchedulerConfig) Location() *time.Location {
	if s.location != nil {
		return s.location
	}
	loc, _ := time.LoadLocation(defaultTimezone)
	return loc
}

// HarvestConfig tunes the shared HTTP behaviour of collectors.
type HarvestConfig struct {
	Concurrency       int     `yaml:"concurrency"`
	RequestsPerSecond float64 `yaml:"requestsPerSecond"`
	Burst             int     `yaml:"burst"`
	MaxRetries        int     `yaml:"maxRetries"`
	UserAgent         string  `yaml:"userAgent"`
	YouTubeAPIKey     string  `yaml:"youtubeApiKey"`
}

// SourceConfig describes one source to harvest.
type SourceConfig struct {
	Name      string            `yaml:"name"`
	Kind      string            `yaml:"kind"`
	Queries   []string          `yaml:"queries"`
	Limit     int               `yaml:"limit"`
	TimeRange string            `yaml:"timeRange"`
	Timeout   time.Duration     `yaml:"timeout"`
	BaseURL   string            `yaml:"baseUrl"`
	Options   map[string]string `yaml:"options"`
}

// Request converts the declaration into a collector request. A baseUrl is
// passed along as a request option.
func (s SourceConfig) Request() collector.Request {
	options := s.Options
	if s.BaseURL != "" {
		options = make(map[string]string, len(s.Options)+1)
		for k, v := range s.Options {
			options[k] = v
		}
		options[collector.OptionBaseURL] = s.BaseURL
	}
	return collector.Request{
		SourceName: s.Name,
		Kind:       domain.SourceKind(s.Kind),
		Queries:    s.Queries,
		Limit:      s.Limit,
		TimeRange:  collector.TimeRange(s.TimeRange),
		Timeout:    s.Timeout,
		Options:    options,
	}
}

// ScoringConfig holds weights and thresholds for the quality scorer.
type ScoringConfig struct {
	Weights      map[string]float64 `yaml:"weights"`
	AIWeights    map[string]float64 `yaml:"aiWeights"`
	MinScore     float64            `yaml:"minScore"`
	HalfLife     time.Duration      `yaml:"halfLife"`
	RecencyFloor float64            `yaml:"recencyFloor"`
}

// ScorerWeights converts the configured maps into scorer weights.
func (s ScoringConfig) ScorerWeights() scoring.Weights {
	return scoring.Weights{Local: components(s.Weights), AI: components(s.AIWeights)}
}

func components(in map[string]float64) map[domain.Component]float64 {
	if len(in) == 0 {
		return nil
	}
	out := make(map[domain.Component]float64, len(in))
	for k, v := range in {
		out[domain.Component(k)] = v
	}
	return out
}

// AnalyzerConfig selects the optional AI backend.
type AnalyzerConfig struct {
	Backend               string        `yaml:"backend"`
	Timeout               time.Duration `yaml:"timeout"`
	MaxItems              int           `yaml:"maxItems"`
	RequestsPerSecond     float64       `yaml:"requestsPerSecond"`
	Burst                 int           `yaml:"burst"`
	MinPatternOccurrences int           `yaml:"minPatternOccurrences"`
	Gemini                GeminiConfig  `yaml:"gemini"`
	ChatGPT               ChatGPTConfig `yaml:"chatgpt"`
}

// GeminiConfig defines how to contact the Gemini API.
type GeminiConfig struct {
	Model   string `yaml:"model"`
	BaseURL string `yaml:"baseUrl"`
	APIKey  string `yaml:"apiKey"`
}

// ChatGPTConfig defines how to contact an OpenAI-compatible chat API.
type ChatGPTConfig struct {
	Endpoint     string `yaml:"endpoint"`
	Model        string `yaml:"model"`
	APIKey       string `yaml:"apiKey"`
	SystemPrompt string `yaml:"systemPrompt"`
}

// OrchestrationConfig bounds each generation run.
type OrchestrationConfig struct {
	MaxRetries     int           `yaml:"maxRetries"`
	BaseDelay      time.Duration `yaml:"baseDelay"`
	MaxDelay       time.Duration `yaml:"maxDelay"`
	CostCeilingUSD float64       `yaml:"costCeilingUsd"`
	RunTimeout     time.Duration `yaml:"runTimeout"`
	BudgetFatal    bool          `yaml:"budgetFatal"`
	Seeds          int           `yaml:"seeds"`
	MinSeedScore   float64       `yaml:"minSeedScore"`
	ModelType      string        `yaml:"modelType"`
	AgentID        string        `yaml:"agentId"`
	PriorRuns      int           `yaml:"priorRuns"`
}

// StageConfig declares one node of the generation graph.
type StageConfig struct {
	ID        string        `yaml:"id"`
	Kind      string        `yaml:"kind"`
	DependsOn []string      `yaml:"dependsOn"`
	Endpoint  string        `yaml:"endpoint"`
	APIKey    string        `yaml:"apiKey"`
	Model     string        `yaml:"model"`
	CostUSD   float64       `yaml:"costUsd"`
	Timeout   time.Duration `yaml:"timeout"`
}

// NotificationConfig encapsulates outbound channels (Telegram, etc.).
type NotificationConfig struct {
	Telegram TelegramConfig `yaml:"telegram"`
}

// TelegramConfig wires all data required to send messages.
type TelegramConfig struct {
	BaseURL  string `yaml:"baseUrl"`
	BotToken string `yaml:"botToken"`
	ChatID   string `yaml:"chatId"`
}

// ArchiveConfig points at the S3 bucket for JSON cycle reports.
type ArchiveConfig struct {
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix"`
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"accessKey"`
	SecretKey string `yaml:"secretKey"`
}

type MetricsConfig struct {
	Listen string `yaml:"listen"`
}

// secrets are read from the environment and win over the YAML document.
type secrets struct {
	DatabaseDSN      string `envconfig:"DATABASE_DSN"`
	GeminiAPIKey     string `envconfig:"GEMINI_API_KEY"`
	OpenAIAPIKey     string `envconfig:"OPENAI_API_KEY"`
	YouTubeAPIKey    string `envconfig:"YOUTUBE_API_KEY"`
	TelegramBotToken string `envconfig:"TELEGRAM_BOT_TOKEN"`
	TelegramChatID   string `envconfig:"TELEGRAM_CHAT_ID"`
	S3AccessKey      string `envconfig:"S3_ACCESS_KEY"`
	S3SecretKey      string `envconfig:"S3_SECRET_KEY"`
	LogLevel         string `envconfig:"LOG_LEVEL"`
}

// Load reads .env, the YAML document named by PROMPT_HARVESTER_CONFIG and
// environment overrides, then validates the result.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path := os.Getenv(configPathEnv); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		fileCfg, err := Parse(raw)
		if err != nil {
			return Config{}, fmt.Errorf("config %s: %w", path, err)
		}
		cfg = mergeConfig(cfg, fileCfg)
	}

	var env secrets
	if err := envconfig.Process("", &env); err != nil {
		return Config{}, fmt.Errorf("read environment: %w", err)
	}
	cfg.applySecrets(env)
	if err := cfg.bindTimezone(); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Parse decodes a YAML document without applying defaults. Keys present in
// the document are remembered so that merging keeps explicit zero values.
func Parse(raw []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, domain.NewValidationError("config", "cannot parse yaml: %v", err)
	}
	var set explicitFields
	if err := yaml.Unmarshal(raw, &set); err != nil {
		return Config{}, domain.NewValidationError("config", "cannot parse yaml: %v", err)
	}
	cfg.explicit = &set
	return cfg, nil
}

func (c *Config) applySecrets(env secrets) {
	if env.DatabaseDSN != "" {
		c.Database.DSN = env.DatabaseDSN
	}
	if env.GeminiAPIKey != "" {
		c.Analyzer.Gemini.APIKey = env.GeminiAPIKey
	}
	if env.OpenAIAPIKey != "" {
		c.Analyzer.ChatGPT.APIKey = env.OpenAIAPIKey
	}
	if env.YouTubeAPIKey != "" {
		c.Harvest.YouTubeAPIKey = env.YouTubeAPIKey
	}
	if env.TelegramBotToken != "" {
		c.Notifications.Telegram.BotToken = env.TelegramBotToken
	}
	if env.TelegramChatID != "" {
		c.Notifications.Telegram.ChatID = env.TelegramChatID
	}
	if env.S3AccessKey != "" {
		c.Archive.AccessKey = env.S3AccessKey
	}
	if env.S3SecretKey != "" {
		c.Archive.SecretKey = env.S3SecretKey
	}
	if env.LogLevel != "" {
		c.Logging.Level = env.LogLevel
	}
}

func (c *Config) bindTimezone() error {
	tz := c.Scheduler.Timezone
	if tz == "" {
		tz = defaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return domain.NewValidationError("scheduler.timezone", "unknown timezone %q", tz)
	}
	c.Scheduler.location = loc
	return nil
}

func mergeConfig(base, override Config) Config {
	set := override.explicit
	if set == nil {
		set = &explicitFields{}
	}

	if override.Logging.Level != "" {
		base.Logging.Level = override.Logging.Level
	}
	if override.Database.DSN != "" {
		base.Database.DSN = override.Database.DSN
	}

	if override.Scheduler.CronExpression != "" {
		base.Scheduler.CronExpression = override.Scheduler.CronExpression
	}
	if override.Scheduler.Timezone != "" {
		base.Scheduler.Timezone = override.Scheduler.Timezone
	}
	switch {
	case set.Scheduler.RunOnStart != nil:
		base.Scheduler.RunOnStart = *set.Scheduler.RunOnStart
	case override.Scheduler.RunOnStart:
		base.Scheduler.RunOnStart = true
	}

	base.Harvest = mergeHarvest(base.Harvest, override.Harvest)
	if set.Harvest.MaxRetries != nil {
		base.Harvest.MaxRetries = *set.Harvest.MaxRetries
	}
	if len(override.Sources) > 0 {
		base.Sources = override.Sources
	}

	if len(override.Scoring.Weights) > 0 {
		base.Scoring.Weights = override.Scoring.Weights
	}
	if len(override.Scoring.AIWeights) > 0 {
		base.Scoring.AIWeights = override.Scoring.AIWeights
	}
	if override.Scoring.MinScore != 0 {
		base.Scoring.MinScore = override.Scoring.MinScore
	}
	if set.Scoring.MinScore != nil {
		base.Scoring.MinScore = *set.Scoring.MinScore
	}
	if override.Scoring.HalfLife != 0 {
		base.Scoring.HalfLife = override.Scoring.HalfLife
	}
	if override.Scoring.RecencyFloor != 0 {
		base.Scoring.RecencyFloor = override.Scoring.RecencyFloor
	}

	base.Analyzer = mergeAnalyzer(base.Analyzer, override.Analyzer)
	if set.Analyzer.MaxItems != nil {
		base.Analyzer.MaxItems = *set.Analyzer.MaxItems
	}
	base.Orchestration = mergeOrchestration(base.Orchestration, override.Orchestration)
	mergeExplicitOrchestration(&base.Orchestration, set)
	if len(override.Stages) > 0 {
		base.Stages = override.Stages
	}

	if override.Notifications.Telegram.BaseURL != "" {
		base.Notifications.Telegram.BaseURL = override.Notifications.Telegram.BaseURL
	}
	if override.Notifications.Telegram.BotToken != "" {
		base.Notifications.Telegram.BotToken = override.Notifications.Telegram.BotToken
	}
	if override.Notifications.Telegram.ChatID != "" {
		base.Notifications.Telegram.ChatID = override.Notifications.Telegram.ChatID
	}

	if override.Archive.Bucket != "" {
		base.Archive = override.Archive
	}
	if override.Metrics.Listen != "" {
		base.Metrics.Listen = override.Metrics.Listen
	}

	return base
}

func mergeHarvest(base, override HarvestConfig) HarvestConfig {
	if override.Concurrency != 0 {
		base.Concurrency = override.Concurrency
	}
	if override.RequestsPerSecond != 0 {
		base.RequestsPerSecond = override.RequestsPerSecond
	}
	if override.Burst != 0 {
		base.Burst = override.Burst
	}
	if override.MaxRetries != 0 {
		base.MaxRetries = override.MaxRetries
	}
	if override.UserAgent != "" {
		base.UserAgent = override.UserAgent
	}
	if override.YouTubeAPIKey != "" {
		base.YouTubeAPIKey = override.YouTubeAPIKey
	}
	return base
}

func mergeAnalyzer(base, override AnalyzerConfig) AnalyzerConfig {
	if override.Backend != "" {
		base.Backend = override.Backend
	}
	if override.Timeout != 0 {
		base.Timeout = override.Timeout
	}
	if override.MaxItems != 0 {
		base.MaxItems = override.MaxItems
	}
	if override.RequestsPerSecond != 0 {
		base.RequestsPerSecond = override.RequestsPerSecond
	}
	if override.Burst != 0 {
		base.Burst = override.Burst
	}
	if override.MinPatternOccurrences != 0 {
		base.MinPatternOccurrences = override.MinPatternOccurrences
	}

	if override.Gemini.Model != "" {
		base.Gemini.Model = override.Gemini.Model
	}
	if override.Gemini.BaseURL != "" {
		base.Gemini.BaseURL = override.Gemini.BaseURL
	}
	if override.Gemini.APIKey != "" {
		base.Gemini.APIKey = override.Gemini.APIKey
	}

	if override.ChatGPT.Endpoint != "" {
		base.ChatGPT.Endpoint = override.ChatGPT.Endpoint
	}
	if override.ChatGPT.Model != "" {
		base.ChatGPT.Model = override.ChatGPT.Model
	}
	if override.ChatGPT.APIKey != "" {
		base.ChatGPT.APIKey = override.ChatGPT.APIKey
	}
	if override.ChatGPT.SystemPrompt != "" {
		base.ChatGPT.SystemPrompt = override.ChatGPT.SystemPrompt
	}
	return base
}

func mergeOrchestration(base, override OrchestrationConfig) OrchestrationConfig {
	if override.MaxRetries != 0 {
		base.MaxRetries = override.MaxRetries
	}
	if override.BaseDelay != 0 {
		base.BaseDelay = override.BaseDelay
	}
	if override.MaxDelay != 0 {
		base.MaxDelay = override.MaxDelay
	}
	if override.CostCeilingUSD != 0 {
		base.CostCeilingUSD = override.CostCeilingUSD
	}
	if override.RunTimeout != 0 {
		base.RunTimeout = override.RunTimeout
	}
	base.BudgetFatal = base.BudgetFatal || override.BudgetFatal
	if override.Seeds != 0 {
		base.Seeds = override.Seeds
	}
	if override.MinSeedScore != 0 {
		base.MinSeedScore = override.MinSeedScore
	}
	if override.ModelType != "" {
		base.ModelType = override.ModelType
	}
	if override.AgentID != "" {
		base.AgentID = override.AgentID
	}
	if override.PriorRuns != 0 {
		base.PriorRuns = override.PriorRuns
	}
	return base
}

func mergeExplicitOrchestration(o *OrchestrationConfig, set *explicitFields) {
	e := set.Orchestration
	if e.MaxRetries != nil {
		o.MaxRetries = *e.MaxRetries
	}
	if e.CostCeilingUSD != nil {
		o.CostCeilingUSD = *e.CostCeilingUSD
	}
	if e.RunTimeout != nil {
		o.RunTimeout = *e.RunTimeout
	}
	if e.BudgetFatal != nil {
		o.BudgetFatal = *e.BudgetFatal
	}
	if e.MinSeedScore != nil {
		o.MinSeedScore = *e.MinSeedScore
	}
	if e.PriorRuns != nil {
		o.PriorRuns = *e.PriorRuns
	}
}

// Default returns the built-in configuration before file and environment overrides.
func Default() Config {
	tz, _ := time.LoadLocation(defaultTimezone)
	weights := scoring.DefaultWeights()
	return Config{
		Logging:   LoggingConfig{Level: "info"},
		Scheduler: SchedulerConfig{CronExpression: "0 6 * * *", Timezone: defaultTimezone, location: tz},
		Harvest: HarvestConfig{
			Concurrency:       4,
			RequestsPerSecond: 1,
			Burst:             2,
			MaxRetries:        2,
		},
		Sources: []SourceConfig{
			{
				Name:      "reddit",
				Kind:      string(domain.SourceForum),
				Queries:   []string{"aivideo", "SunoAI", "runwayml"},
				Limit:     50,
				TimeRange: string(collector.RangeWeek),
				Timeout:   30 * time.Second,
			},
		},
		Scoring: ScoringConfig{
			Weights:      names(weights.Local),
			AIWeights:    names(weights.AI),
			MinScore:     5,
			HalfLife:     30 * 24 * time.Hour,
			RecencyFloor: 3,
		},
		Analyzer: AnalyzerConfig{
			Timeout:               15 * time.Second,
			MaxItems:              20,
			RequestsPerSecond:     1,
			Burst:                 1,
			MinPatternOccurrences: 2,
			Gemini:                GeminiConfig{Model: "gemini-2.5-flash"},
			ChatGPT: ChatGPTConfig{
				Endpoint:     "https://api.openai.com/v1/chat/completions",
				Model:        "gpt-4o-mini",
				SystemPrompt: "You grade prompts for AI music and video generators.",
			},
		},
		Orchestration: OrchestrationConfig{
			MaxRetries:     3,
			BaseDelay:      time.Second,
			MaxDelay:       30 * time.Second,
			CostCeilingUSD: 5,
			RunTimeout:     30 * time.Minute,
			Seeds:          5,
			MinSeedScore:   7,
			AgentID:        "prompt-harvester",
			PriorRuns:      5,
		},
	}
}

func names(in map[domain.Component]float64) map[string]float64 {
	out := make(map[string]float64, len(in))
	for k, v := range in {
		out[string(k)] = v
	}
	return out
}
