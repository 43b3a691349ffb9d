// Package config loads per-client pipeline policies from defaults, a YAML file and
// environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"

	local_errors "github.com/RassulYunussov/ehttpchain/internal/errors"
)

const (
	// SectionName is the root key holding all client policies
	SectionName = "HttpClientPolicies"
	// EnvPrefix selects the environment variables overriding the file, "__" separates keys:
	// EHTTPCHAIN_CLIENTS__BILLING__RETRY__COUNT=5
	EnvPrefix = "EHTTPCHAIN_"

	defaultsKey = "defaults"
	clientsKey  = "clients"
)

type RetryPolicy struct {
	Count        int     `koanf:"count"`
	BackoffPower float64 `koanf:"backoffPower"`
}

type CircuitBreakerPolicy struct {
	FailuresBeforeOpen uint32        `koanf:"failuresBeforeOpen"`
	CoolDownDuration   time.Duration `koanf:"coolDownDuration"`
}

type CorrelationPolicy struct {
	HeaderName string `koanf:"headerName"`
	Overwrite  bool   `koanf:"overwrite"`
}

// Policies is the resolved configuration of one named client
type Policies struct {
	Retry          RetryPolicy          `koanf:"retry"`
	CircuitBreaker CircuitBreakerPolicy `koanf:"circuitBreaker"`
	Correlation    CorrelationPolicy    `koanf:"correlation"`
}

// Config gives access to the policies of every named client
type Config struct {
	k *koanf.Koanf
}

// Load reads defaults, then the YAML file at path (skipped when path is empty), then the environment.
func Load(path string) (*Config, error) {
	var source koanf.Provider
	if path != "" {
		source = file.Provider(path)
	}
	return load(source)
}

// LoadBytes is Load with the YAML document given in memory
func LoadBytes(data []byte) (*Config, error) {
	return load(rawbytes.Provider(data))
}

func load(source koanf.Provider) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if source != nil {
		if err := k.Load(source, yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load policies file: %w", err)
		}
	}

	if err := k.Load(env.Provider(".", env.Opt{
		Prefix:        EnvPrefix,
		TransformFunc: transformEnv,
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := &Config{k: k}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaults() map[string]any {
	prefix := SectionName + "." + defaultsKey + "."
	return map[string]any{
		prefix + "retry.count":                       3,
		prefix + "retry.backoffPower":                2.0,
		prefix + "circuitBreaker.failuresBeforeOpen": 12,
		prefix + "circuitBreaker.coolDownDuration":   "30s",
		prefix + "correlation.headerName":            "X-Correlation-ID",
		prefix + "correlation.overwrite":             false,
	}
}

// For resolves the policies of a named client: its own section merged over the defaults.
// Unknown names and the empty name get the defaults.
func (c *Config) For(name string) (Policies, error) {
	merged := koanf.New(".")
	if err := merged.Merge(c.k.Cut(SectionName + "." + defaultsKey)); err != nil {
		return Policies{}, fmt.Errorf("failed to merge default policies: %w", err)
	}
	if name != "" {
		if err := merged.Merge(c.k.Cut(SectionName + "." + clientsKey + "." + name)); err != nil {
			return Policies{}, fmt.Errorf("failed to merge policies of client %s: %w", name, err)
		}
	}
	var p Policies
	if err := merged.Unmarshal("", &p); err != nil {
		return Policies{}, fmt.Errorf("failed to unmarshal policies of client %s: %w", name, err)
	}
	return p, nil
}

// Clients lists the names that have their own section
func (c *Config) Clients() []string {
	return c.k.MapKeys(SectionName + "." + clientsKey)
}

func (c *Config) validate() error {
	names := append([]string{""}, c.Clients()...)
	for _, name := range names {
		p, err := c.For(name)
		if err != nil {
			return err
		}
		if err := p.Validate(); err != nil {
			if name == "" {
				return fmt.Errorf("invalid default policies: %w", err)
			}
			return fmt.Errorf("invalid policies of client %s: %w", name, err)
		}
	}
	return nil
}

func (p Policies) Validate() error {
	switch {
	case p.Retry.Count < 0:
		return local_errors.Configuration("retry.count must not be negative")
	case p.Retry.BackoffPower <= 0:
		return local_errors.Configuration("retry.backoffPower must be positive")
	case p.CircuitBreaker.FailuresBeforeOpen == 0:
		return local_errors.Configuration("circuitBreaker.failuresBeforeOpen must be at least 1")
	case p.CircuitBreaker.CoolDownDuration <= 0:
		return local_errors.Configuration("circuitBreaker.coolDownDuration must be positive")
	case strings.TrimSpace(p.Correlation.HeaderName) == "":
		return local_errors.Configuration("correlation.headerName must not be empty")
	}
	return nil
}

// camelCase keys cannot be spelled in environment variables, they are matched case-insensitively
var envKeys = map[string]string{}

func init() {
	for _, key := range []string{
		defaultsKey, clientsKey,
		"retry", "count", "backoffPower",
		"circuitBreaker", "failuresBeforeOpen", "coolDownDuration",
		"correlation", "headerName", "overwrite",
	} {
		envKeys[strings.ToLower(key)] = key
	}
}

func transformEnv(k, v string) (string, any) {
	parts := strings.Split(strings.TrimPrefix(k, EnvPrefix), "__")
	for i, part := range parts {
		lower := strings.ToLower(part)
		if known, ok := envKeys[lower]; ok {
			parts[i] = known
			continue
		}
		parts[i] = lower
	}
	return SectionName + "." + strings.Join(parts, "."), v
}
