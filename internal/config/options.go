package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/524D/compareMS2/internal/models"
)

// numericKeys are the option keys holding numbers. Files written by the
// desktop application store some of them as strings.
var numericKeys = func() map[string]bool {
	keys := make(map[string]bool)
	t := reflect.TypeOf(models.Options{})
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if f.Type.Kind() != reflect.Float64 {
			continue
		}
		name, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
		keys[name] = true
	}
	return keys
}()

// LoadOptions reads an options file (JSON or YAML) over the defaults. Keys
// missing from the file keep their default values.
func LoadOptions(path string) (models.Options, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return models.Options{}, fmt.Errorf("read options: %w", err)
	}
	opts, err := ParseOptions(data)
	if err != nil {
		return models.Options{}, fmt.Errorf("%s: %w", path, err)
	}
	return opts, nil
}

// ParseOptions decodes options from JSON or YAML over the defaults.
func ParseOptions(data []byte) (models.Options, error) {
	opts := models.DefaultOptions()

	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return models.Options{}, fmt.Errorf("parse options: %w", err)
	}
	if len(doc.Content) == 0 {
		return opts, nil
	}

	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return models.Options{}, fmt.Errorf("parse options: expected a mapping, got %s", root.Tag)
	}
	for i := 0; i+1 < len(root.Content); i += 2 {
		key, val := root.Content[i], root.Content[i+1]
		if !numericKeys[key.Value] || val.Kind != yaml.ScalarNode || val.Tag != "!!str" {
			continue
		}
		if _, err := strconv.ParseFloat(strings.TrimSpace(val.Value), 64); err != nil {
			return models.Options{}, fmt.Errorf("parse options: %s: %q is not a number", key.Value, val.Value)
		}
		val.Value = strings.TrimSpace(val.Value)
		val.Tag = "!!float"
		val.Style = 0
	}

	if err := root.Decode(&opts); err != nil {
		return models.Options{}, fmt.Errorf("parse options: %w", err)
	}
	return opts, nil
}

// SaveOptions writes options as YAML.
func SaveOptions(path string, opts models.Options) error {
	data, err := yaml.Marshal(opts)
	if err != nil {
		return fmt.Errorf("encode options: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write options: %w", err)
	}
	return nil
}
