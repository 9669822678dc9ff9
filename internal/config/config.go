// Package config loads, validates, and hot-reloads the risk daemon's rule
// set and operating mode from a JSON document (spec §4.1).
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/eddiefleurent/riskd/internal/atomicfile"
	"github.com/eddiefleurent/riskd/internal/riskmodel"
)

// RuleConfig is one entry of Config.Rules.
type RuleConfig struct {
	Enabled     bool           `json:"enabled"`
	Severity    string         `json:"severity"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Config is the daemon's JSON configuration document (spec §4.1).
type Config struct {
	DryRun   bool                  `json:"dry_run"`
	LogLevel string                `json:"log_level"`
	Symbols  []string              `json:"symbols"`
	Rules    map[string]RuleConfig `json:"rules"`

	// ruleOrder preserves the declaration order of the rules object's
	// keys, which encoding/json's map decoding otherwise discards. Rule
	// evaluation order is config-declaration order (spec §4.6:
	// "first breach wins"), so Load recovers it with a second,
	// token-level pass over the same document rather than changing the
	// documented wire schema to an array.
	ruleOrder []string
}

// RuleOrder returns the rule names in the order they appeared in the
// config document, for Registry.EvaluateAll.
func (c Config) RuleOrder() []string { return c.ruleOrder }

// Default returns the daemon's safe default configuration: dry-run,
// MNQ only, a single max_contracts=4/flatten rule (spec §4.1).
func Default() Config {
	return Config{
		DryRun:   true,
		LogLevel: "INFO",
		Symbols:  []string{"MNQ"},
		Rules: map[string]RuleConfig{
			"max_contracts": {
				Enabled:     true,
				Severity:    "high",
				Description: "Restricts maximum contracts per position",
				Parameters: map[string]any{
					"max_contracts": float64(4),
					"enforcement":   "flatten",
				},
			},
		},
	}
}

// Descriptors converts Config.Rules into the slice of
// riskmodel.RuleDescriptor the rule registry evaluates, in the rules
// object's config-declaration order (spec §4.6: "first breach wins").
// A rule present in Rules but missing from ruleOrder (possible only if a
// Config was constructed by hand rather than via Load) is appended after
// the recovered order so it is still evaluated, just last.
func (c Config) Descriptors() []riskmodel.RuleDescriptor {
	order := c.ruleOrder
	seen := make(map[string]bool, len(order))
	for _, name := range order {
		seen[name] = true
	}
	for name := range c.Rules {
		if !seen[name] {
			order = append(order, name)
		}
	}

	out := make([]riskmodel.RuleDescriptor, 0, len(order))
	for _, name := range order {
		rc, ok := c.Rules[name]
		if !ok {
			continue
		}
		out = append(out, riskmodel.RuleDescriptor{
			Name:        name,
			Enabled:     rc.Enabled,
			Severity:    rc.Severity,
			Description: rc.Description,
			Parameters:  rc.Parameters,
		})
	}
	return out
}

// Load reads the config document at path. If the file does not exist, it
// writes and returns Default(). If the file exists but fails to parse,
// it logs nothing itself (callers audit-WARN) and falls back to
// Default() — a risk daemon must not refuse to start over a bad config
// file (spec §4.1: "operational safety").
func Load(path string) (Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		def := Default()
		if werr := atomicfile.WriteJSON(path, def); werr != nil {
			return def, fmt.Errorf("writing default config: %w", werr)
		}
		return def, nil
	}

	data, err := os.ReadFile(path) // #nosec G304 -- path is an operator-configured file
	if err != nil {
		return Default(), fmt.Errorf("reading config %q: %w", path, err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Default(), fmt.Errorf("parsing config %q: %w", path, err)
	}
	if cfg.Rules == nil {
		cfg.Rules = make(map[string]RuleConfig)
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "INFO"
	}
	cfg.ruleOrder = ruleDeclarationOrder(data)
	return cfg, nil
}

// ruleDeclarationOrder walks the raw document's token stream to recover
// the order the "rules" object's keys were declared in, since decoding
// into map[string]RuleConfig otherwise loses it.
func ruleDeclarationOrder(data []byte) []string {
	dec := json.NewDecoder(bytes.NewReader(data))
	inRules := false
	depth := 0
	var order []string

	for {
		tok, err := dec.Token()
		if err != nil {
			break
		}
		switch v := tok.(type) {
		case json.Delim:
			switch v {
			case '{', '[':
				depth++
			case '}', ']':
				depth--
				if inRules && depth == 1 {
					inRules = false
				}
			}
		case string:
			if depth == 1 && v == "rules" {
				inRules = true
				continue
			}
			if inRules && depth == 2 {
				order = append(order, v)
				// Skip this key's value without tracking its internal
				// structure as further rule names.
				skipValue(dec)
			}
		}
	}
	return order
}

// skipValue consumes one complete JSON value (object, array, or scalar)
// from dec, used to step over a rule's parameter block without
// mis-reading its nested keys as sibling rule names.
func skipValue(dec *json.Decoder) {
	tok, err := dec.Token()
	if err != nil {
		return
	}
	if _, ok := tok.(json.Delim); !ok {
		return // scalar value, already consumed
	}
	depth := 1
	for depth > 0 {
		t, err := dec.Token()
		if err != nil {
			return
		}
		if d, ok := t.(json.Delim); ok {
			switch d {
			case '{', '[':
				depth++
			case '}', ']':
				depth--
			}
		}
	}
}
