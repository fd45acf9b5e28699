package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// tree is the config in its JSON shape, the form the dotted-path helpers
// walk.
type tree = map[string]any

func toTree(cfg *Config) (tree, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var t tree
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, err
	}
	return t, nil
}

// fromTree decodes t into cfg, rejecting keys Config does not have.
func fromTree(t tree, cfg *Config) error {
	data, err := json.Marshal(t)
	if err != nil {
		return err
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var next Config
	if err := dec.Decode(&next); err != nil {
		return err
	}
	*cfg = next
	return nil
}

// GetByPath returns the value at a dotted path such as "signal.account".
func GetByPath(cfg *Config, path string) (any, error) {
	t, err := toTree(cfg)
	if err != nil {
		return nil, err
	}
	var cur any = t
	for key := range strings.SplitSeq(path, ".") {
		m, ok := cur.(tree)
		if !ok {
			return nil, fmt.Errorf("%s: %q is not a section", path, key)
		}
		if cur, ok = m[key]; !ok {
			return nil, fmt.Errorf("key not found: %s", path)
		}
	}
	return cur, nil
}

// SetByPath parses raw according to the type of the value currently at path
// and stores it. Unknown keys are rejected; the result is not validated, so
// callers run Validate before saving.
func SetByPath(cfg *Config, path string, raw string) error {
	if path == "" {
		return fmt.Errorf("empty path")
	}
	t, err := toTree(cfg)
	if err != nil {
		return err
	}

	keys := strings.Split(path, ".")
	section := t
	for _, key := range keys[:len(keys)-1] {
		next, ok := section[key].(tree)
		if !ok {
			return fmt.Errorf("%s: %q is not a section", path, key)
		}
		section = next
	}

	leaf := keys[len(keys)-1]
	val, err := coerce(section[leaf], raw)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	section[leaf] = val

	if err := fromTree(t, cfg); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

// coerce converts raw to the JSON type of current. Keys that are absent or
// null (omitted optional fields) take raw as a string.
func coerce(current any, raw string) (any, error) {
	switch current.(type) {
	case bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, fmt.Errorf("want true or false, got %q", raw)
		}
		return b, nil
	case float64:
		n, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("want a number, got %q", raw)
		}
		return n, nil
	case []any:
		items := []any{}
		for item := range strings.SplitSeq(raw, ",") {
			if item = strings.TrimSpace(item); item != "" {
				items = append(items, item)
			}
		}
		return items, nil
	case tree:
		return nil, fmt.Errorf("is a section, set one of its keys")
	default:
		return raw, nil
	}
}

// Sanitize returns a copy of the config with secrets masked.
func Sanitize(cfg *Config) *Config {
	clean := *cfg
	clean.Telegram.AllowFrom = append(FlexStringList(nil), cfg.Telegram.AllowFrom...)
	if clean.Telegram.Token != "" {
		clean.Telegram.Token = maskString(clean.Telegram.Token)
	}
	return &clean
}

// maskString keeps the first and last four characters.
func maskString(s string) string {
	if len(s) <= 8 {
		return "***"
	}
	return s[:4] + "****" + s[len(s)-4:]
}

// ListPaths returns every leaf path with its current value.
func ListPaths(cfg *Config) map[string]any {
	t, err := toTree(cfg)
	if err != nil {
		return nil
	}
	out := make(map[string]any)
	flatten("", t, out)
	return out
}

func flatten(prefix string, t tree, out map[string]any) {
	for k, v := range t {
		path := k
		if prefix != "" {
			path = prefix + "." + k
		}
		if sub, ok := v.(tree); ok {
			flatten(path, sub, out)
			continue
		}
		out[path] = v
	}
}
