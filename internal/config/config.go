// Package config loads indexer settings from a YAML file and INDEXER_*
// environment variables.
package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"strconv"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"gopkg.in/yaml.v3"

	"github.com/evidex/indexer/internal/caseindex"
	"github.com/evidex/indexer/internal/extract"
	"github.com/evidex/indexer/internal/indexing"
)

//go:embed schema.json
var schemaJSON []byte

const schemaURL = "https://evidex.dev/schema/indexer.json"

var printer = message.NewPrinter(language.English)

// EnvPrefix prefixes every environment override
const EnvPrefix = "INDEXER_"

// Config is the full indexer configuration
type Config struct {
	IndexFileContents     bool   `yaml:"indexFileContents"`
	IndexUnallocated      bool   `yaml:"indexUnallocated"`
	IgnoreCorruptedCarved bool   `yaml:"ignoreCorruptedCarved"`
	Workers               int    `yaml:"workers"`
	FragmentChars         int    `yaml:"fragmentChars"`
	BatchSize             int    `yaml:"batchSize"`
	Verbose               bool   `yaml:"verbose"`
	LogLevel              string `yaml:"logLevel"`
	TextCacheDir          string `yaml:"textCacheDir"`
}

// Default returns the built-in configuration
func Default() Config {
	return Config{
		IndexFileContents: true,
		IndexUnallocated:  false,
		Workers:           runtime.NumCPU(),
		FragmentChars:     extract.DefaultFragmentChars,
		BatchSize:         caseindex.DefaultBatchSize,
		LogLevel:          "info",
	}
}

// Load reads path on top of the defaults. An empty path yields the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}
	if err := Parse(data, &cfg); err != nil {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse validates a YAML document and applies it onto cfg.
// Keys missing from the document keep their current values.
func Parse(data []byte, cfg *Config) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}

	var doc map[string]interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("invalid YAML: %w", err)
	}
	if err := validate(doc); err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// validate checks a decoded document against the embedded JSON schema
func validate(doc map[string]interface{}) error {
	// round trip through JSON so numbers and maps have the shapes the
	// validator expects
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("config is not representable as JSON: %w", err)
	}
	instance, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return err
	}

	schemaDoc, err := jsonschema.UnmarshalJSON(bytes.NewReader(schemaJSON))
	if err != nil {
		return fmt.Errorf("embedded schema is invalid: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(schemaURL, schemaDoc); err != nil {
		return fmt.Errorf("failed to add schema: %w", err)
	}
	schema, err := compiler.Compile(schemaURL)
	if err != nil {
		return fmt.Errorf("failed to compile schema: %w", err)
	}

	if err := schema.Validate(instance); err != nil {
		if verr, ok := err.(*jsonschema.ValidationError); ok {
			return &ValidationError{Problems: flatten(verr)}
		}
		return err
	}
	return nil
}

// ValidationError lists every schema violation of a config file
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "config validation failed: " + strings.Join(e.Problems, "; ")
}

func flatten(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		path := "$"
		if len(verr.InstanceLocation) > 0 {
			path = "$." + strings.Join(verr.InstanceLocation, ".")
		}
		return []string{fmt.Sprintf("%s: %s", path, verr.ErrorKind.LocalizedString(printer))}
	}
	var out []string
	for _, cause := range verr.Causes {
		out = append(out, flatten(cause)...)
	}
	return out
}

// ApplyEnv overrides cfg with INDEXER_* variables found by lookup.
// Empty or whitespace-only values are ignored.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	get := func(key string) (string, bool) {
		v, ok := lookup(EnvPrefix + key)
		if !ok {
			return "", false
		}
		v = strings.TrimSpace(v)
		return v, v != ""
	}

	bools := []struct {
		key string
		dst *bool
	}{
		{"INDEX_FILE_CONTENTS", &cfg.IndexFileContents},
		{"INDEX_UNALLOCATED", &cfg.IndexUnallocated},
		{"IGNORE_CORRUPTED_CARVED", &cfg.IgnoreCorruptedCarved},
		{"VERBOSE", &cfg.Verbose},
	}
	for _, b := range bools {
		if v, ok := get(b.key); ok {
			parsed, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("%s%s: %w", EnvPrefix, b.key, err)
			}
			*b.dst = parsed
		}
	}

	ints := []struct {
		key string
		dst *int
	}{
		{"WORKERS", &cfg.Workers},
		{"FRAGMENT_CHARS", &cfg.FragmentChars},
		{"BATCH_SIZE", &cfg.BatchSize},
	}
	for _, n := range ints {
		if v, ok := get(n.key); ok {
			parsed, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%s%s: %w", EnvPrefix, n.key, err)
			}
			if parsed <= 0 {
				return fmt.Errorf("%s%s must be positive, got %d", EnvPrefix, n.key, parsed)
			}
			*n.dst = parsed
		}
	}

	if v, ok := get("LOG_LEVEL"); ok {
		cfg.LogLevel = strings.ToLower(v)
	}
	if v, ok := get("TEXT_CACHE_DIR"); ok {
		cfg.TextCacheDir = v
	}
	return nil
}

// Settings returns the indexing task settings
func (c Config) Settings() indexing.Settings {
	return indexing.Settings{
		IndexFileContents:     c.IndexFileContents,
		IndexUnallocated:      c.IndexUnallocated,
		IgnoreCorruptedCarved: c.IgnoreCorruptedCarved,
		Verbose:               c.Verbose,
	}
}

// Level maps LogLevel to a slog level, defaulting to info
func (c Config) Level() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger returns a text logger on stderr at the configured level
func (c Config) NewLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: c.Level()}))
}
