// Package config resolves the memory-bridge subsystem's runtime
// configuration from (in increasing precedence) an optional YAML overlay
// file, environment variables, and CLI flags, and applies the documented
// zero/negative-value fallbacks.
package config

import (
	"os"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// CommitMode selects whether explicit commits are sent synchronously or
// queued through the outbox like any other event.
type CommitMode string

const (
	CommitSync  CommitMode = "sync"
	CommitAsync CommitMode = "async"
)

// ReadLayer selects the content fidelity tier the read pipeline prefers
// when assembling snippets.
type ReadLayer string

const (
	LayerAbstract    ReadLayer = "l0"
	LayerOverview    ReadLayer = "l1"
	LayerFull        ReadLayer = "l2"
	LayerProgressive ReadLayer = "progressive"
)

// Strategy selects how the retrieval planner prioritises context types.
type Strategy string

const (
	StrategyAuto          Strategy = "auto"
	StrategyMemoryFirst   Strategy = "memory_first"
	StrategyResourceFirst Strategy = "resource_first"
	StrategySkillFirst    Strategy = "skill_first"
)

// CommitTriggers controls which automatic commit conditions are active.
type CommitTriggers struct {
	SessionEnd     bool
	Reset          bool
	EveryNMessages int
	EveryNMinutes  int
}

// Commit holds commit-related settings.
type Commit struct {
	Mode     CommitMode
	Triggers CommitTriggers
}

// Outbox holds durable-queue settings.
type Outbox struct {
	Enabled         bool
	Path            string
	FlushIntervalMs int
	MaxBatchSize    int
	RetryBaseMs     int
	RetryMaxMs      int
}

// Search holds read-pipeline settings.
type Search struct {
	Limit            int
	ScoreThreshold   float64
	HasScoreFloor    bool // whether ScoreThreshold was explicitly configured
	TargetURI        string
	IncludeResources bool
	IncludeSkills    bool
	Strategy         Strategy
	ReadLayer        ReadLayer
	MaxEntries       int
	MaxSnippetChars  int
	MaxInjectedChars int

	RelationExpansion             bool
	RelationMaxDepth              int
	RelationMaxAnchors            int
	RelationMaxExpandedEntries    int
	RelationSeedAnchorScore       float64
	RelationPriorityBudgetBoost   bool
	RelationPriorityDepthBonus    int
	RelationPriorityAnchorsBonus  int
	RelationPriorityExpandedBonus int
}

// FSWrite holds the fs write policy gate's rule set.
type FSWrite struct {
	Enabled          bool
	AllowURIPrefixes []string
	DenyURIPrefixes  []string
	ProtectedURIs    []string
	AllowRecursiveRm bool
}

// Headers is a simple string-keyed header map, kept as its own type so zero
// value handling stays explicit at call sites.
type Headers map[string]string

// Config is the fully resolved memory-bridge configuration.
type Config struct {
	AgentID   string
	Endpoint  string
	TimeoutMs int
	Headers   Headers

	// Enabled gates the memory backend as a whole; when false the write
	// bridge reports everything "not queued" and the read pipeline returns
	// empty results.
	Enabled   bool
	DualWrite bool

	Commit  Commit
	Outbox  Outbox
	Search  Search
	FSWrite FSWrite

	MemoryBudgetTokens int

	DashboardPort int
}

// Defaults matching the documented fallbacks for zero/negative values.
const (
	defaultTimeoutMs                  = 10000
	defaultLimit                      = 10
	defaultMaxEntries                 = 6
	defaultMaxSnippetChars            = 560
	defaultMaxInjectedChars           = 3200
	defaultFlushIntervalMs            = 2000
	defaultRetryBaseMs                = 1000
	defaultRetryMaxMs                 = 60000
	defaultEveryNMessages             = 24
	defaultEveryNMinutes              = 12
	defaultMaxBatchSize               = 20
	defaultRelationMaxDepth           = 1
	defaultRelationMaxAnchors         = 4
	defaultRelationMaxExpandedEntries = 8
	defaultRelationSeedAnchorScore    = 0.35
	defaultRelationDepthBonus         = 1
	defaultRelationAnchorsBonus       = 2
	defaultRelationExpandedBonus      = 4
	defaultDashboardPort              = 8090
)

func ifZero(v, fallback int) int {
	if v <= 0 {
		return fallback
	}
	return v
}

func ifZeroF(v, fallback float64) float64 {
	if v <= 0 {
		return fallback
	}
	return v
}

func ifEmpty(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

// applyDefaults normalises zero/negative numeric fields and empty string
// fields to the documented fallback values. It never overrides a
// deliberately-set non-zero/non-empty value.
func applyDefaults(c *Config) {
	c.TimeoutMs = ifZero(c.TimeoutMs, defaultTimeoutMs)

	c.Outbox.FlushIntervalMs = ifZero(c.Outbox.FlushIntervalMs, defaultFlushIntervalMs)
	c.Outbox.MaxBatchSize = ifZero(c.Outbox.MaxBatchSize, defaultMaxBatchSize)
	c.Outbox.RetryBaseMs = ifZero(c.Outbox.RetryBaseMs, defaultRetryBaseMs)
	c.Outbox.RetryMaxMs = ifZero(c.Outbox.RetryMaxMs, defaultRetryMaxMs)

	if c.Commit.Triggers.EveryNMessages < 0 {
		c.Commit.Triggers.EveryNMessages = defaultEveryNMessages
	}
	if c.Commit.Triggers.EveryNMinutes < 0 {
		c.Commit.Triggers.EveryNMinutes = defaultEveryNMinutes
	}
	if c.Commit.Mode == "" {
		c.Commit.Mode = CommitAsync
	}

	c.Search.Limit = ifZero(c.Search.Limit, defaultLimit)
	c.Search.MaxEntries = ifZero(c.Search.MaxEntries, defaultMaxEntries)
	c.Search.MaxSnippetChars = ifZero(c.Search.MaxSnippetChars, defaultMaxSnippetChars)
	c.Search.MaxInjectedChars = ifZero(c.Search.MaxInjectedChars, defaultMaxInjectedChars)
	if c.Search.Strategy == "" {
		c.Search.Strategy = StrategyAuto
	}
	if c.Search.ReadLayer == "" {
		c.Search.ReadLayer = LayerProgressive
	}
	c.Search.RelationMaxDepth = ifZero(c.Search.RelationMaxDepth, defaultRelationMaxDepth)
	c.Search.RelationMaxAnchors = ifZero(c.Search.RelationMaxAnchors, defaultRelationMaxAnchors)
	c.Search.RelationMaxExpandedEntries = ifZero(c.Search.RelationMaxExpandedEntries, defaultRelationMaxExpandedEntries)
	c.Search.RelationSeedAnchorScore = ifZeroF(c.Search.RelationSeedAnchorScore, defaultRelationSeedAnchorScore)
	if c.Search.RelationPriorityDepthBonus == 0 {
		c.Search.RelationPriorityDepthBonus = defaultRelationDepthBonus
	}
	if c.Search.RelationPriorityAnchorsBonus == 0 {
		c.Search.RelationPriorityAnchorsBonus = defaultRelationAnchorsBonus
	}
	if c.Search.RelationPriorityExpandedBonus == 0 {
		c.Search.RelationPriorityExpandedBonus = defaultRelationExpandedBonus
	}

	c.DashboardPort = ifZero(c.DashboardPort, defaultDashboardPort)
}

// yamlOverlay is the shape of the optional memctl.yaml base layer. Only
// fields actually present override viper's zero values; viper itself
// already merges flags and env vars on top.
type yamlOverlay struct {
	Endpoint  string `yaml:"endpoint"`
	AgentID   string `yaml:"agent_id"`
	TimeoutMs int    `yaml:"timeout_ms"`
}

// loadYAMLOverlay reads path if it exists and layers its values into v as
// defaults (lowest precedence, below env and flags).
func loadYAMLOverlay(v *viper.Viper, path string) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var overlay yamlOverlay
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return err
	}
	if overlay.Endpoint != "" {
		v.SetDefault("endpoint", overlay.Endpoint)
	}
	if overlay.AgentID != "" {
		v.SetDefault("agent_id", overlay.AgentID)
	}
	if overlay.TimeoutMs != 0 {
		v.SetDefault("timeout_ms", overlay.TimeoutMs)
	}
	return nil
}

// Load reads configuration from viper (already populated by cobra flags and
// env bindings in cmd/memctl), layers an optional YAML overlay file beneath
// it, and applies documented defaults to zero/negative values.
func Load(v *viper.Viper, yamlPath string) (Config, error) {
	if err := loadYAMLOverlay(v, yamlPath); err != nil {
		return Config{}, err
	}

	cfg := Config{
		AgentID:   v.GetString("agent_id"),
		Endpoint:  v.GetString("endpoint"),
		TimeoutMs: v.GetInt("timeout_ms"),
		Enabled:   v.GetBool("enabled"),
		DualWrite: v.GetBool("dual_write"),

		Commit: Commit{
			Mode: CommitMode(ifEmpty(v.GetString("commit_mode"), string(CommitAsync))),
			Triggers: CommitTriggers{
				SessionEnd:     v.GetBool("commit_trigger_session_end"),
				Reset:          v.GetBool("commit_trigger_reset"),
				EveryNMessages: v.GetInt("commit_trigger_every_n_messages"),
				EveryNMinutes:  v.GetInt("commit_trigger_every_n_minutes"),
			},
		},
		Outbox: Outbox{
			Enabled:         v.GetBool("outbox_enabled"),
			Path:            v.GetString("outbox_path"),
			FlushIntervalMs: v.GetInt("outbox_flush_interval_ms"),
			MaxBatchSize:    v.GetInt("outbox_max_batch_size"),
			RetryBaseMs:     v.GetInt("outbox_retry_base_ms"),
			RetryMaxMs:      v.GetInt("outbox_retry_max_ms"),
		},
		Search: Search{
			Limit:            v.GetInt("search_limit"),
			TargetURI:        v.GetString("search_target_uri"),
			IncludeResources: v.GetBool("search_include_resources"),
			IncludeSkills:    v.GetBool("search_include_skills"),
			Strategy:         Strategy(v.GetString("search_strategy")),
			ReadLayer:        ReadLayer(v.GetString("search_read_layer")),
			MaxEntries:       v.GetInt("search_max_entries"),
			MaxSnippetChars:  v.GetInt("search_max_snippet_chars"),
			MaxInjectedChars: v.GetInt("search_max_injected_chars"),

			RelationExpansion:             v.GetBool("relation_expansion"),
			RelationMaxDepth:              v.GetInt("relation_max_depth"),
			RelationMaxAnchors:            v.GetInt("relation_max_anchors"),
			RelationMaxExpandedEntries:    v.GetInt("relation_max_expanded_entries"),
			RelationSeedAnchorScore:       v.GetFloat64("relation_seed_anchor_score"),
			RelationPriorityBudgetBoost:   v.GetBool("relation_priority_budget_boost"),
			RelationPriorityDepthBonus:    v.GetInt("relation_priority_depth_bonus"),
			RelationPriorityAnchorsBonus:  v.GetInt("relation_priority_anchors_bonus"),
			RelationPriorityExpandedBonus: v.GetInt("relation_priority_expanded_bonus"),
		},
		FSWrite: FSWrite{
			Enabled:          v.GetBool("fs_write_enabled"),
			AllowURIPrefixes: v.GetStringSlice("fs_write_allow_uri_prefixes"),
			DenyURIPrefixes:  v.GetStringSlice("fs_write_deny_uri_prefixes"),
			ProtectedURIs:    v.GetStringSlice("fs_write_protected_uris"),
			AllowRecursiveRm: v.GetBool("fs_write_allow_recursive_rm"),
		},
		MemoryBudgetTokens: v.GetInt("memory_budget_tokens"),
		DashboardPort:      v.GetInt("dashboard_port"),
	}

	if v.IsSet("search_score_threshold") {
		cfg.Search.HasScoreFloor = true
		cfg.Search.ScoreThreshold = v.GetFloat64("search_score_threshold")
	}

	headers := v.GetStringMapString("headers")
	if len(headers) > 0 {
		cfg.Headers = Headers(headers)
	}

	applyDefaults(&cfg)
	return cfg, nil
}
