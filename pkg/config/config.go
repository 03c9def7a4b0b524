// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package config loads host and bridge configuration from a JSON file and
// the environment. A missing or malformed file degrades to defaults with a
// warning rather than failing startup.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"dario.cat/mergo"

	"github.com/stacklok/mcphost/pkg/host"
	"github.com/stacklok/mcphost/pkg/logger"
)

// Bridge defaults. SessionTTL and SamplingTimeout are expressed in
// milliseconds in the file and the environment.
const (
	DefaultEndpoint        = "/mcp"
	DefaultPort            = 3000
	DefaultSessionTTL      = time.Hour
	DefaultSamplingTimeout = 30 * time.Second
)

// HostConfig is the embeddable host's configuration: identity, declared
// capabilities and the server inventory.
type HostConfig struct {
	Info         host.HostInfo         `json:"info"`
	Capabilities host.HostCapabilities `json:"capabilities"`
	Servers      []host.ServerConfig   `json:"servers"`
}

// BridgeConfig configures the HTTP bridge in front of the host.
type BridgeConfig struct {
	Endpoint        string        `json:"endpoint"`
	Port            int           `json:"port"`
	SessionTTL      time.Duration `json:"-"`
	SamplingTimeout time.Duration `json:"-"`
	APIKeys         []string      `json:"apiKeys"`
	AuthRequired    bool          `json:"authRequired"`

	// Raw millisecond fields as they appear on the wire.
	SessionTTLMillis      int64 `json:"sessionTtl,omitempty"`
	SamplingTimeoutMillis int64 `json:"samplingTimeout,omitempty"`
}

// Config is the full serve-mode configuration file.
type Config struct {
	Host   HostConfig   `json:"host"`
	Bridge BridgeConfig `json:"bridge"`
}

// Default returns the zero-server default configuration.
func Default() *Config {
	return &Config{
		Host: HostConfig{
			Info: host.HostInfo{Name: "mcphost", Version: "dev"},
			Capabilities: host.HostCapabilities{
				Sampling: true,
				Roots:    &host.RootsCapability{ListChanged: true},
			},
		},
		Bridge: BridgeConfig{
			Endpoint:        DefaultEndpoint,
			Port:            DefaultPort,
			SessionTTL:      DefaultSessionTTL,
			SamplingTimeout: DefaultSamplingTimeout,
		},
	}
}

// Load reads the configuration file at path, fills unset fields with
// defaults and applies environment overrides. A missing file yields the
// defaults silently; a malformed file yields the defaults with a warning.
func Load(path string) *Config {
	cfg := loadFile(path)
	applyDefaults(cfg)
	applyEnv(cfg)
	return cfg
}

func loadFile(path string) *Config {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path) // #nosec G304 - caller-specified config path
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Warnf("Failed to read config file %s: %v, using defaults", path, err)
		}
		return Default()
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		logger.Warnf("Failed to parse config file %s: %v, using defaults", path, err)
		return Default()
	}
	return &cfg
}

// applyDefaults fills zero-valued fields from Default. Server entries are
// left untouched; only identity, capabilities and bridge settings merge.
func applyDefaults(cfg *Config) {
	if cfg.Bridge.SessionTTLMillis > 0 {
		cfg.Bridge.SessionTTL = time.Duration(cfg.Bridge.SessionTTLMillis) * time.Millisecond
	}
	if cfg.Bridge.SamplingTimeoutMillis > 0 {
		cfg.Bridge.SamplingTimeout = time.Duration(cfg.Bridge.SamplingTimeoutMillis) * time.Millisecond
	}
	if err := mergo.Merge(cfg, Default()); err != nil {
		logger.Warnf("Failed to merge config defaults: %v", err)
	}
}

// applyEnv overlays MCPHOST_* environment variables on the bridge settings.
func applyEnv(cfg *Config) {
	if v := os.Getenv("MCPHOST_ENDPOINT"); v != "" {
		cfg.Bridge.Endpoint = v
	}
	if v := os.Getenv("MCPHOST_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			cfg.Bridge.Port = port
		} else {
			logger.Warnf("Ignoring invalid MCPHOST_PORT %q", v)
		}
	}
	if v := os.Getenv("MCPHOST_SESSION_TTL"); v != "" {
		if ms, err := strconv.ParseInt(v, 10, 64); err == nil && ms > 0 {
			cfg.Bridge.SessionTTL = time.Duration(ms) * time.Millisecond
		} else {
			logger.Warnf("Ignoring invalid MCPHOST_SESSION_TTL %q", v)
		}
	}
	if v := os.Getenv("MCPHOST_SAMPLING_TIMEOUT"); v != "" {
		if ms, err := strconv.ParseInt(v, 10, 64); err == nil && ms > 0 {
			cfg.Bridge.SamplingTimeout = time.Duration(ms) * time.Millisecond
		} else {
			logger.Warnf("Ignoring invalid MCPHOST_SAMPLING_TIMEOUT %q", v)
		}
	}
	if v := os.Getenv("MCPHOST_API_KEYS"); v != "" {
		keys := make([]string, 0, 4)
		for _, key := range strings.Split(v, ",") {
			if key = strings.TrimSpace(key); key != "" {
				keys = append(keys, key)
			}
		}
		cfg.Bridge.APIKeys = keys
	}
	if v := os.Getenv("MCPHOST_AUTH_REQUIRED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Bridge.AuthRequired = b
		} else {
			logger.Warnf("Ignoring invalid MCPHOST_AUTH_REQUIRED %q", v)
		}
	} else {
		// Auth defaults on exactly when keys are configured.
		cfg.Bridge.AuthRequired = len(cfg.Bridge.APIKeys) > 0
	}
}

// Validate checks the server inventory for entries the host would reject.
// Duplicate ids are not fatal: the first entry wins and later ones are
// dropped with a warning.
func (c *Config) Validate() error {
	seen := make(map[string]struct{}, len(c.Host.Servers))
	kept := c.Host.Servers[:0]
	for i, srv := range c.Host.Servers {
		if srv.ID == "" {
			return fmt.Errorf("server %d: id is required", i)
		}
		if _, dup := seen[srv.ID]; dup {
			logger.Warnf("Ignoring duplicate server configuration %q (first entry wins)", srv.ID)
			continue
		}
		seen[srv.ID] = struct{}{}
		kept = append(kept, srv)

		switch srv.Transport {
		case host.TransportStdio:
			if srv.Command == "" {
				return fmt.Errorf("server %q: stdio transport requires command", srv.ID)
			}
		case host.TransportSSE, host.TransportStreamableHTTP, host.TransportWebSocket:
			if srv.URL == "" {
				return fmt.Errorf("server %q: %s transport requires url", srv.ID, srv.Transport)
			}
		default:
			return fmt.Errorf("server %q: unknown transport %q", srv.ID, srv.Transport)
		}
	}
	c.Host.Servers = kept
	return nil
}
