package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrUnknownKey is returned by Set for keys that name no setting.
var ErrUnknownKey = errors.New("unknown config key")

// Set assigns value to the setting named by a dotted key such as
// "background.max_polls". The value is read as JSON when it parses as JSON,
// otherwise as a plain string.
func Set(cfg *Config, key, value string) error {
	tree, err := toTree(cfg)
	if err != nil {
		return err
	}

	section, field, ok := strings.Cut(key, ".")
	group, isGroup := tree[section].(map[string]any)
	if !ok || !isGroup {
		return fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}
	if _, known := group[field]; !known && !optionalKeys[key] {
		return fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}

	var parsed any
	if err := json.Unmarshal([]byte(value), &parsed); err != nil {
		parsed = value
	}
	group[field] = parsed

	data, err := json.Marshal(tree)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	updated := *cfg
	if err := json.Unmarshal(data, &updated); err != nil {
		return fmt.Errorf("setting %s: %w", key, err)
	}
	*cfg = updated
	return nil
}

// Keys lists every settable key in dotted form.
func Keys() []string {
	tree, _ := toTree(DefaultConfig())
	keys := make([]string, 0, 16)
	for section, v := range tree {
		group, ok := v.(map[string]any)
		if !ok {
			continue
		}
		for field := range group {
			keys = append(keys, section+"."+field)
		}
	}
	for key := range optionalKeys {
		if !containsKey(keys, key) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys
}

// optionalKeys are omitted from encoded configs while empty.
var optionalKeys = map[string]bool{
	"server.directory": true,
	"journal.path":     true,
}

func containsKey(keys []string, key string) bool {
	for _, k := range keys {
		if k == key {
			return true
		}
	}
	return false
}

func toTree(cfg *Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("encoding config: %w", err)
	}
	var tree map[string]any
	if err := json.Unmarshal(data, &tree); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	return tree, nil
}

// Update loads the config file at path on top of the defaults, sets key to
// value, validates the result and saves it back to path.
func Update(path, key, value string) (*Config, error) {
	cfg, err := Load("", path)
	if err != nil {
		return nil, err
	}
	if err := Set(cfg, key, value); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := Save(cfg, path); err != nil {
		return nil, err
	}
	return cfg, nil
}
