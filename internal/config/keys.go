package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cast"
	"gopkg.in/yaml.v3"
)

// ErrUnknownKey is returned for keys that are not part of Config
var ErrUnknownKey = errors.New("unknown configuration key")

// tree renders cfg as nested maps keyed by yaml names
func tree(cfg *Config) (map[string]interface{}, error) {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	out := map[string]interface{}{}
	if err := yaml.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// lookup walks a dotted key such as preferred_resolution.width
func lookup(t map[string]interface{}, key string) (parent map[string]interface{}, leaf string, err error) {
	parts := strings.Split(key, ".")
	parent = t
	for _, p := range parts[:len(parts)-1] {
		next, ok := parent[p].(map[string]interface{})
		if !ok {
			return nil, "", fmt.Errorf("%w: %s", ErrUnknownKey, key)
		}
		parent = next
	}
	leaf = parts[len(parts)-1]
	if _, ok := parent[leaf]; !ok {
		return nil, "", fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}
	return parent, leaf, nil
}

// Value returns the value stored under a dotted yaml key
func (m *Manager) Value(key string) (interface{}, error) {
	t, err := tree(m.Get())
	if err != nil {
		return nil, err
	}
	parent, leaf, err := lookup(t, key)
	if err != nil {
		return nil, err
	}
	return parent[leaf], nil
}

// Set parses value to the type of key, validates the result and saves it.
// List values are comma separated.
func (m *Manager) Set(key, value string) error {
	t, err := tree(m.Get())
	if err != nil {
		return err
	}
	parent, leaf, err := lookup(t, key)
	if err != nil {
		return err
	}

	switch parent[leaf].(type) {
	case int:
		v, err := cast.ToIntE(value)
		if err != nil {
			return fmt.Errorf("%s expects a number: %w", key, err)
		}
		parent[leaf] = v
	case bool:
		v, err := cast.ToBoolE(value)
		if err != nil {
			return fmt.Errorf("%s expects true or false: %w", key, err)
		}
		parent[leaf] = v
	case []interface{}:
		items := []interface{}{}
		for _, s := range strings.Split(value, ",") {
			if s = strings.TrimSpace(s); s != "" {
				items = append(items, s)
			}
		}
		parent[leaf] = items
	case map[string]interface{}:
		return fmt.Errorf("%s is a section, set one of its keys", key)
	default:
		parent[leaf] = value
	}

	data, err := yaml.Marshal(t)
	if err != nil {
		return err
	}
	cfg := m.getDefaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return err
	}
	cfg.StateDir = m.expand(cfg.StateDir)
	cfg.DataDir = m.expand(cfg.DataDir)
	return m.Update(cfg)
}
