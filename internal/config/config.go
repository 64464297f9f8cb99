// Package config loads the orchestrator's configuration: a YAML file,
// overridden by RALPH_-prefixed environment variables, overridden by CLI
// flags (spec §6). Precedence and layering are implemented with
// github.com/spf13/viper, matching the teacher's (and mhpenta-iteratr's)
// cobra+viper pairing.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the orchestration config surface (spec §3, §6).
type Config struct {
	Agent               string        `mapstructure:"agent"`
	ACPAgent            string        `mapstructure:"acp_agent"`
	ACPPermissionMode   string        `mapstructure:"acp_permission_mode"`
	ACPAllowlist        []string      `mapstructure:"acp_allowlist"`
	Timeout             time.Duration `mapstructure:"-"`
	MaxIterations       int           `mapstructure:"max_iterations"`
	MaxRuntimeSeconds   float64       `mapstructure:"max_runtime_seconds"`
	MaxCost             float64       `mapstructure:"max_cost"`
	CheckpointInterval  int           `mapstructure:"checkpoint_interval"`
	ArchiveDir          string        `mapstructure:"archive_dir"`
	PromptFile          string        `mapstructure:"prompt_file"`
	PromptText          string        `mapstructure:"prompt_text"`
	Verbose             bool          `mapstructure:"verbose"`
}

var validAgents = map[string]bool{
	"claude": true, "q": true, "qchat": true, "gemini": true, "acp": true, "auto": true,
}

var validPermissionModes = map[string]bool{
	"auto_approve": true, "deny_all": true, "allowlist": true, "interactive": true,
}

// Default returns the built-in defaults, applied before any file, env, or
// flag layer.
func Default() Config {
	return Config{
		Agent:              "auto",
		ACPPermissionMode:  "auto_approve",
		Timeout:            300 * time.Second,
		CheckpointInterval: 5,
		ArchiveDir:         "./prompts",
	}
}

// Load reads configPath, if non-empty, layers RALPH_-prefixed environment
// variables over it, and decodes into a Config seeded with Default(). An
// empty configPath skips the file layer entirely; a non-empty path that
// can't be read is an error.
func Load(configPath string) (Config, error) {
	v := viper.New()

	def := Default()
	v.SetDefault("agent", def.Agent)
	v.SetDefault("acp_permission_mode", def.ACPPermissionMode)
	v.SetDefault("timeout", def.Timeout)
	v.SetDefault("checkpoint_interval", def.CheckpointInterval)
	v.SetDefault("archive_dir", def.ArchiveDir)

	v.SetEnvPrefix("RALPH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("acp_agent", "RALPH_ACP_AGENT")
	_ = v.BindEnv("acp_permission_mode", "RALPH_ACP_PERMISSION_MODE")
	_ = v.BindEnv("timeout", "RALPH_ACP_TIMEOUT")

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("reading config file %s: %w", configPath, err)
		}

		// Read the file's own timeout, unshadowed by env, as the fallback
		// for an invalid RALPH_ACP_TIMEOUT below.
		fileV := viper.New()
		fileV.SetConfigFile(configPath)
		fileV.SetConfigType("yaml")
		if fileV.ReadInConfig() == nil {
			if d, err := time.ParseDuration(fileV.GetString("timeout")); err == nil {
				def.Timeout = d
			} else if secs := fileV.GetInt64("timeout"); secs > 0 {
				def.Timeout = time.Duration(secs) * time.Second
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decoding config: %w", err)
	}

	// RALPH_ACP_TIMEOUT is documented as falling back to the config value
	// on an invalid numeric override rather than failing the run; Timeout
	// is excluded from the generic Unmarshal above so a malformed override
	// can never turn into a decode error.
	cfg.Timeout = def.Timeout
	if raw := v.GetString("timeout"); raw != "" {
		if d, err := time.ParseDuration(raw); err == nil {
			cfg.Timeout = d
		} else if secs := v.GetInt64("timeout"); secs > 0 {
			cfg.Timeout = time.Duration(secs) * time.Second
		}
	}

	return cfg, nil
}

// Validate enforces the ceilings and enum membership spec §3/§7 require,
// matching the teacher's Validate()-returning config pattern
// (internal/cost/config.go, internal/watchdog/config.go).
func (c Config) Validate() error {
	if !validAgents[c.Agent] {
		return fmt.Errorf("agent must be one of claude,q,qchat,gemini,acp,auto, got %q", c.Agent)
	}
	if !validPermissionModes[c.ACPPermissionMode] {
		return fmt.Errorf("acp_permission_mode must be one of auto_approve,deny_all,allowlist,interactive, got %q", c.ACPPermissionMode)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %v", c.Timeout)
	}
	if c.MaxIterations < 0 {
		return fmt.Errorf("max_iterations must be non-negative, got %d", c.MaxIterations)
	}
	if c.MaxRuntimeSeconds < 0 {
		return fmt.Errorf("max_runtime_seconds must be non-negative, got %v", c.MaxRuntimeSeconds)
	}
	if c.MaxCost < 0 {
		return fmt.Errorf("max_cost must be non-negative, got %v", c.MaxCost)
	}
	if c.CheckpointInterval < 0 {
		return fmt.Errorf("checkpoint_interval must be non-negative, got %d", c.CheckpointInterval)
	}
	if c.PromptFile == "" && c.PromptText == "" {
		return fmt.Errorf("one of prompt_file or prompt_text must be set")
	}
	return nil
}
