package main

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// keyValueFlag collects repeatable --set key=value flags.
type keyValueFlag map[string]string

func (kv *keyValueFlag) String() string {
	if kv == nil || len(*kv) == 0 {
		return ""
	}
	pairs := make([]string, 0, len(*kv))
	for key, value := range *kv {
		pairs = append(pairs, key+"="+value)
	}
	sort.Strings(pairs)
	return strings.Join(pairs, ", ")
}

func (kv *keyValueFlag) Set(value string) error {
	key, val, ok := strings.Cut(value, "=")
	if !ok {
		return fmt.Errorf("expected key=value, got %q", value)
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("override key is empty in %q", value)
	}
	if *kv == nil {
		*kv = keyValueFlag{}
	}
	(*kv)[key] = val
	return nil
}

// Type implements pflag.Value.
func (kv *keyValueFlag) Type() string {
	return "key=value"
}

// buildOverrides merges the --config-file overrides with --set pairs.
// --set wins when both name the same key.
func buildOverrides(configFile string, sets keyValueFlag) (map[string]any, error) {
	merged := map[string]any{}
	if path := strings.TrimSpace(configFile); path != "" {
		fromFile, err := readOverridesFile(path)
		if err != nil {
			return nil, err
		}
		for key, value := range fromFile {
			merged[key] = value
		}
	}
	for key, value := range sets {
		merged[key] = value
	}
	if len(merged) == 0 {
		return nil, nil
	}
	return merged, nil
}

// readOverridesFile accepts either flat keys (prefix, candidate_dirs, ...)
// or a config.yaml fragment with an artifacts section.
func readOverridesFile(path string) (map[string]any, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("open config file %s: %w", path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory, expected a file", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file %s: %w", path, err)
	}
	if strings.TrimSpace(string(data)) == "" {
		return nil, fmt.Errorf("config file %s is empty", path)
	}
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}
	out := make(map[string]any, len(raw))
	for key, value := range raw {
		if key != "artifacts" {
			out[key] = value
			continue
		}
		section, ok := value.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("config file %s: artifacts must be a mapping", path)
		}
		for k, v := range section {
			out[k] = v
		}
	}
	return out, nil
}
