// Package config implements stoneridge's hierarchical settings: a static,
// process-wide base file optionally overlaid by a per-run configuration,
// both read through typed (section, option) accessors with caller-supplied
// defaults. No option is ever read at import time; callers always pass a
// *Config loaded by main().
package config

import (
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// truthy is the fixed set of values GetBool treats as true, matched
// case-insensitively.
var truthy = map[string]bool{
	"y": true, "yes": true, "t": true, "true": true, "ok": true, "1": true,
}

// Config is an immutable two-layer composition of section->option->value
// maps: a base layer and an optional per-run overlay. Overlay entries shadow
// base entries; neither layer is ever mutated after Load/Overlay returns.
type Config struct {
	base    map[string]map[string]string
	overlay map[string]map[string]string
}

// Load reads the base configuration file at path. A missing file is not an
// error: Load returns an empty Config so that every accessor falls back to
// its caller-supplied default.
func Load(path string) (*Config, error) {
	sections, err := readSections(path)
	if err != nil {
		return nil, err
	}
	return &Config{base: sections}, nil
}

// Overlay returns a new Config with the file at path layered on top of c.
// c itself is left untouched.
func (c *Config) Overlay(path string) (*Config, error) {
	sections, err := readSections(path)
	if err != nil {
		return nil, err
	}
	return &Config{base: c.base, overlay: sections}, nil
}

// ApplyEnv returns a new Config with environment variables of the form
// STONERIDGE_<SECTION>_<OPTION> layered as the topmost overlay. Missing
// variables are ignored; present ones always win over file-based overlays.
func (c *Config) ApplyEnv(prefix string, pairs [][2]string) *Config {
	env := make(map[string]map[string]string)
	for _, pair := range pairs {
		section, option := pair[0], pair[1]
		key := prefix + strings.ToUpper(section) + "_" + strings.ToUpper(option)
		v, ok := os.LookupEnv(key)
		if !ok {
			continue
		}
		if env[section] == nil {
			env[section] = make(map[string]string)
		}
		env[section][option] = v
	}
	if len(env) == 0 {
		return c
	}
	merged := &Config{base: c.base, overlay: mergeSections(c.overlay, env)}
	return merged
}

func readSections(path string) (map[string]map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var raw map[string]map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	sections := make(map[string]map[string]string, len(raw))
	for section, options := range raw {
		m := make(map[string]string, len(options))
		for option, value := range options {
			m[option] = toString(value)
		}
		sections[section] = m
	}
	return sections, nil
}

func toString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case bool:
		if t {
			return "true"
		}
		return "false"
	default:
		b, err := yaml.Marshal(v)
		if err != nil {
			return ""
		}
		return strings.TrimSpace(string(b))
	}
}

func mergeSections(lower, upper map[string]map[string]string) map[string]map[string]string {
	merged := make(map[string]map[string]string)
	for section, options := range lower {
		merged[section] = cloneSection(options)
	}
	for section, options := range upper {
		if merged[section] == nil {
			merged[section] = make(map[string]string)
		}
		for option, value := range options {
			merged[section][option] = value
		}
	}
	return merged
}

func cloneSection(options map[string]string) map[string]string {
	out := make(map[string]string, len(options))
	for k, v := range options {
		out[k] = v
	}
	return out
}

func (c *Config) lookup(section, option string) (string, bool) {
	if c == nil {
		return "", false
	}
	if c.overlay != nil {
		if m, ok := c.overlay[section]; ok {
			if v, ok := m[option]; ok {
				return v, true
			}
		}
	}
	if c.base != nil {
		if m, ok := c.base[section]; ok {
			if v, ok := m[option]; ok {
				return v, true
			}
		}
	}
	return "", false
}

// GetString returns the (section, option) value, or def if unset.
func (c *Config) GetString(section, option, def string) string {
	if v, ok := c.lookup(section, option); ok {
		return v
	}
	return def
}

// GetInt returns the (section, option) value parsed as an integer, or def
// if unset or unparsable.
func (c *Config) GetInt(section, option string, def int) int {
	v, ok := c.lookup(section, option)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return n
}

// GetBool returns the (section, option) value parsed against the truthy
// set {y, yes, t, true, ok, 1} (case-insensitive), or def if unset.
func (c *Config) GetBool(section, option string, def bool) bool {
	v, ok := c.lookup(section, option)
	if !ok {
		return def
	}
	return truthy[strings.ToLower(strings.TrimSpace(v))]
}

// Section returns every option set under section, with overlay entries
// shadowing base entries. It is used for option sets whose keys are
// themselves data (e.g. the intake credentials table, keyed by ldap)
// rather than fixed fields.
func (c *Config) Section(section string) map[string]string {
	if c == nil {
		return nil
	}
	merged := cloneSection(c.base[section])
	if merged == nil {
		merged = make(map[string]string)
	}
	for option, value := range c.overlay[section] {
		merged[option] = value
	}
	return merged
}
