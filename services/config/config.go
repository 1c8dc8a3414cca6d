// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the assistant's configuration from embedded defaults,
// an optional YAML file, and ASSIST_* environment variables.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// Config is the full assistant configuration.
type Config struct {
	LLM       LLMConfig       `yaml:"llm"`
	Graph     GraphConfig     `yaml:"graph"`
	Tools     ToolsConfig     `yaml:"tools"`
	Loop      LoopConfig      `yaml:"loop"`
	Consult   ConsultConfig   `yaml:"consult"`
	Server    ServerConfig    `yaml:"server"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Log       LogConfig       `yaml:"log"`
}

// LLMConfig configures the completion gateway.
type LLMConfig struct {
	BaseURL           string            `yaml:"base_url" validate:"required,url"`
	Model             string            `yaml:"model" validate:"required"`
	APIKeyEnv         string            `yaml:"api_key_env" validate:"required"`
	Timeout           time.Duration     `yaml:"timeout" validate:"gt=0"`
	MaxAttempts       int               `yaml:"max_attempts" validate:"min=1,max=10"`
	BaseDelay         time.Duration     `yaml:"base_delay" validate:"gte=0"`
	RequestsPerMinute float64           `yaml:"requests_per_minute" validate:"gte=0"`
	Audit             bool              `yaml:"audit"`
	Headers           map[string]string `yaml:"headers"`
	// AllowAnonymous lets the gateway start without an API key, for local
	// endpoints that need none.
	AllowAnonymous bool `yaml:"allow_anonymous"`
}

// GraphConfig configures the graph store client and its breaker.
type GraphConfig struct {
	URI              string        `yaml:"uri" validate:"required"`
	Username         string        `yaml:"username"`
	PasswordEnv      string        `yaml:"password_env"`
	Database         string        `yaml:"database"`
	MaxAttempts      int           `yaml:"max_attempts" validate:"min=1,max=10"`
	BaseDelay        time.Duration `yaml:"base_delay" validate:"gte=0"`
	BreakerThreshold int           `yaml:"breaker_threshold" validate:"min=1"`
	BreakerCooldown  time.Duration `yaml:"breaker_cooldown" validate:"gt=0"`
	MaxPoolSize      int           `yaml:"max_pool_size" validate:"min=1"`
	ConnectTimeout   time.Duration `yaml:"connect_timeout" validate:"gt=0"`
}

// ToolsConfig configures the external tool collaborators.
type ToolsConfig struct {
	WebSearchURL    string        `yaml:"web_search_url" validate:"omitempty,url"`
	WebSearchKeyEnv string        `yaml:"web_search_key_env"`
	NVDURL          string        `yaml:"nvd_url" validate:"omitempty,url"`
	NVDKeyEnv       string        `yaml:"nvd_key_env"`
	CacheDir        string        `yaml:"cache_dir"`
	CacheTTL        time.Duration `yaml:"cache_ttl" validate:"gte=0"`
	HTTPTimeout     time.Duration `yaml:"http_timeout" validate:"gt=0"`
	MaxResults      int           `yaml:"max_results" validate:"min=1,max=50"`
}

// LoopConfig bounds the tool-calling loop.
type LoopConfig struct {
	MaxIterations int `yaml:"max_iterations" validate:"min=1,max=50"`
}

// ConsultConfig configures multi-persona fan-out.
type ConsultConfig struct {
	MaxParallel     int      `yaml:"max_parallel" validate:"gte=0"`
	DefaultPersonas []string `yaml:"default_personas" validate:"required,min=1"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port" validate:"min=1,max=65535"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"gt=0"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string { return fmt.Sprintf("%s:%d", s.Host, s.Port) }

// TelemetryConfig selects the trace exporter.
type TelemetryConfig struct {
	ServiceName  string  `yaml:"service_name" validate:"required"`
	Exporter     string  `yaml:"exporter" validate:"oneof=none stdout otlp"`
	OTLPEndpoint string  `yaml:"otlp_endpoint"`
	OTLPInsecure bool    `yaml:"otlp_insecure"`
	SampleRatio  float64 `yaml:"sample_ratio" validate:"gte=0,lte=1"`
}

// LogConfig configures the slog handler.
type LogConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=auto json text"`
}

// =============================================================================
// Loading
// =============================================================================

var (
	defaultsOnce sync.Once
	defaultsCfg  Config
	defaultsErr  error
)

// Default returns a copy of the embedded defaults.
//
// Thread Safety: Safe for concurrent use via sync.Once.
func Default() (*Config, error) {
	defaultsOnce.Do(func() {
		defaultsErr = yaml.Unmarshal(defaultsYAML, &defaultsCfg)
		if defaultsErr != nil {
			defaultsErr = fmt.Errorf("parsing embedded defaults: %w", defaultsErr)
		}
	})
	if defaultsErr != nil {
		return nil, defaultsErr
	}
	cfg := defaultsCfg
	cfg.LLM.Headers = cloneHeaders(defaultsCfg.LLM.Headers)
	cfg.Consult.DefaultPersonas = append([]string(nil), defaultsCfg.Consult.DefaultPersonas...)
	return &cfg, nil
}

// Load builds the configuration.
//
// Description:
//
//	Starts from the embedded defaults, overlays the YAML file at path when
//	path is non-empty, applies ASSIST_* environment overrides, and validates
//	the result.
//
// Outputs:
//   - *Config: The validated configuration.
//   - error: Parse failures or every validation problem joined together.
func Load(path string) (*Config, error) {
	cfg, err := Default()
	if err != nil {
		return nil, err
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overlays the supported environment variables.
func (c *Config) applyEnv() {
	c.LLM.BaseURL = envString("ASSIST_LLM_BASE_URL", c.LLM.BaseURL)
	c.LLM.Model = envString("ASSIST_LLM_MODEL", c.LLM.Model)
	c.LLM.RequestsPerMinute = envFloat("ASSIST_LLM_REQUESTS_PER_MINUTE", c.LLM.RequestsPerMinute)
	c.LLM.Audit = envBool("ASSIST_LLM_AUDIT", c.LLM.Audit)
	c.Graph.URI = envString("ASSIST_GRAPH_URI", c.Graph.URI)
	c.Graph.Username = envString("ASSIST_GRAPH_USERNAME", c.Graph.Username)
	c.Graph.Database = envString("ASSIST_GRAPH_DATABASE", c.Graph.Database)
	c.Graph.BreakerThreshold = envInt("ASSIST_GRAPH_BREAKER_THRESHOLD", c.Graph.BreakerThreshold)
	c.Graph.BreakerCooldown = envDuration("ASSIST_GRAPH_BREAKER_COOLDOWN", c.Graph.BreakerCooldown)
	c.Tools.WebSearchURL = envString("ASSIST_TOOLS_WEB_SEARCH_URL", c.Tools.WebSearchURL)
	c.Tools.CacheDir = envString("ASSIST_TOOLS_CACHE_DIR", c.Tools.CacheDir)
	c.Loop.MaxIterations = envInt("ASSIST_LOOP_MAX_ITERATIONS", c.Loop.MaxIterations)
	c.Consult.MaxParallel = envInt("ASSIST_CONSULT_MAX_PARALLEL", c.Consult.MaxParallel)
	c.Server.Port = envInt("ASSIST_SERVER_PORT", c.Server.Port)
	c.Telemetry.Exporter = envString("ASSIST_TELEMETRY_EXPORTER", c.Telemetry.Exporter)
	c.Telemetry.OTLPEndpoint = envString("ASSIST_TELEMETRY_OTLP_ENDPOINT", c.Telemetry.OTLPEndpoint)
	c.Log.Level = strings.ToLower(envString("ASSIST_LOG_LEVEL", c.Log.Level))
	c.Log.Format = strings.ToLower(envString("ASSIST_LOG_FORMAT", c.Log.Format))
}

// Validate checks every field and returns all problems at once.
func (c *Config) Validate() error {
	err := validate().Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validating config: %w", err)
	}
	problems := make([]error, 0, len(verrs))
	for _, fe := range verrs {
		problems = append(problems, fmt.Errorf("config %s: failed %q (value %v)", fe.Namespace(), describeTag(fe), fe.Value()))
	}
	return errors.Join(problems...)
}

func describeTag(fe validator.FieldError) string {
	if fe.Param() == "" {
		return fe.Tag()
	}
	return fe.Tag() + "=" + fe.Param()
}

var (
	validateOnce  sync.Once
	validatorInst *validator.Validate
)

func validate() *validator.Validate {
	validateOnce.Do(func() {
		validatorInst = validator.New(validator.WithRequiredStructEnabled())
		validatorInst.RegisterTagNameFunc(yamlTagName)
	})
	return validatorInst
}

func cloneHeaders(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
