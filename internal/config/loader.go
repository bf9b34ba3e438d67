package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	json5 "github.com/yosuke-furukawa/json5/encoding/json5"

	"github.com/jsquire4/tool-forge-sub001/pkg/models"
)

// envRefPattern matches ${VAR} references whose names satisfy the documented
// contract. References that do not match are left untouched.
var envRefPattern = regexp.MustCompile(`\$\{([A-Z_][A-Z0-9_]*)\}`)

// Load reads a JSON config document, substitutes ${VAR} references from the
// environment, and merges the result over the built-in defaults.
func Load(path string) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	expanded := ExpandEnvRefs(string(data))

	cfg := Default()
	if err := json5.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ExpandEnvRefs substitutes ${VAR} references from the environment. Unset
// variables expand to the empty string; names outside the allowed pattern
// stay literal.
func ExpandEnvRefs(s string) string {
	return envRefPattern.ReplaceAllStringFunc(s, func(ref string) string {
		name := ref[2 : len(ref)-1]
		return os.Getenv(name)
	})
}

func (c *Config) validate() error {
	if c.Auth.Mode != AuthTrust && c.Auth.Mode != AuthVerify {
		return fmt.Errorf("config: unknown auth mode %q", c.Auth.Mode)
	}
	if c.Auth.Mode == AuthVerify && strings.TrimSpace(c.Auth.SigningKey) == "" {
		return fmt.Errorf("config: verify mode requires a signing key")
	}
	if c.Hitl.DefaultLevel != "" && !c.Hitl.DefaultLevel.Valid() {
		return fmt.Errorf("config: unknown hitl level %q", c.Hitl.DefaultLevel)
	}
	for i := range c.Agents {
		if !models.ValidAgentID(c.Agents[i].ID) {
			return fmt.Errorf("config: invalid agent id %q", c.Agents[i].ID)
		}
	}
	return nil
}
