// Package config loads the import input.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"recordimport/internal/etl"
	"recordimport/internal/platform"
)

const (
	DefaultCollection       = "results"
	DefaultHistoryPath      = "./data/history.db"
	DefaultTransformTimeout = 30 * time.Second
	EnvPrefix               = "RECORDIMPORT"
)

type (
	Config struct {
		// Path is the file the config was read from, if any.
		Path string

		TargetStoreURL   string
		CollectionName   string
		UniqueKeys       []string
		TimestampField   string
		TransformSource  string
		TransformFile    string
		Transforms       []etl.TransformConfig
		Sources          Sources
		Debug            bool
		WriteDelay       time.Duration
		TransformTimeout time.Duration
		Platform         Platform
		HistoryPath      string
		Schedule         string // Cron format, e.g. "0 * * * *"
		OutputFile       string
	}

	Sources struct {
		Inline   []map[string]any
		KeyValue *KeyValue
		Dataset  *Dataset
	}
	KeyValue struct {
		StoreID string
		Keys    []string
	}
	Dataset struct {
		DatasetID string
	}

	Platform struct {
		URL   string
		Token string
	}
)

// rawFile is the part of the input decoded without viper so record field
// names keep their case.
type rawFile struct {
	Sources struct {
		Inline []map[string]any `yaml:"inline"`
	} `yaml:"sources"`
	Imports struct {
		PlainObjects []map[string]any `yaml:"plainObjects"`
	} `yaml:"imports"`
	Transforms []etl.TransformConfig `yaml:"transforms"`
}

// Load reads the input file at path (JSON or YAML), the environment and a
// .env file in the working directory. An empty path reads only defaults and
// the environment.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: load .env: %w", etl.ErrConfig, err)
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.SetDefault("collectionName", DefaultCollection)
	v.SetDefault("writeDelay", etl.DefaultWriteDelay.String())
	v.SetDefault("transformTimeout", DefaultTransformTimeout.String())
	v.SetDefault("platform.url", platform.DefaultBaseURL)
	v.SetDefault("historyPath", DefaultHistoryPath)
	_ = v.BindEnv("platform.token", "APIFY_TOKEN")

	var raw rawFile
	if path != "" {
		v.SetConfigFile(path)
		if ext := strings.TrimPrefix(filepath.Ext(path), "."); ext != "json" && ext != "yaml" && ext != "yml" {
			v.SetConfigType("yaml")
		}
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("%w: read %s: %w", etl.ErrConfig, path, err)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("%w: read %s: %w", etl.ErrConfig, path, err)
		}
		// JSON is a subset of YAML.
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("%w: parse %s: %w", etl.ErrConfig, path, err)
		}
	}

	cfg := &Config{
		Path:            path,
		TargetStoreURL:  targetStoreURL(v),
		CollectionName:  firstString(v, "collectionName", "collection"),
		UniqueKeys:      v.GetStringSlice("uniqueKeys"),
		TimestampField:  firstString(v, "timestampField", "timestampAttr"),
		TransformSource: firstString(v, "transformSource", "transformScript"),
		TransformFile:   v.GetString("transformFile"),
		Transforms:      raw.Transforms,
		Debug:           v.GetBool("debug"),
		Platform: Platform{
			URL:   v.GetString("platform.url"),
			Token: v.GetString("platform.token"),
		},
		HistoryPath: v.GetString("historyPath"),
		Schedule:    v.GetString("schedule"),
		OutputFile:  v.GetString("outputFile"),
	}
	// Legacy collection applies unless collectionName is in the file.
	if legacy := v.GetString("collection"); legacy != "" && !v.InConfig("collectionName") {
		cfg.CollectionName = legacy
	}

	var err error
	if cfg.WriteDelay, err = duration(v, "writeDelay"); err != nil {
		return nil, err
	}
	if cfg.TransformTimeout, err = duration(v, "transformTimeout"); err != nil {
		return nil, err
	}

	// An empty list still configures the source.
	cfg.Sources.Inline = raw.Sources.Inline
	if cfg.Sources.Inline == nil {
		cfg.Sources.Inline = raw.Imports.PlainObjects
	}
	if storeID := firstString(v, "sources.keyValue.storeId", "imports.objectsFromKvs.storeId"); storeID != "" {
		keys := v.GetStringSlice("sources.keyValue.keys")
		if len(keys) == 0 {
			keys = v.GetStringSlice("imports.objectsFromKvs.keys")
		}
		cfg.Sources.KeyValue = &KeyValue{StoreID: storeID, Keys: keys}
	}
	if id := firstString(v, "sources.dataset.datasetId", "imports.objectsFromDs.datasetId"); id != "" {
		cfg.Sources.Dataset = &Dataset{DatasetID: id}
	}

	if cfg.TransformSource == "" && cfg.TransformFile != "" {
		file := cfg.TransformFile
		if !filepath.IsAbs(file) && path != "" {
			file = filepath.Join(filepath.Dir(path), file)
		}
		src, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("%w: read transform file: %w", etl.ErrConfig, err)
		}
		cfg.TransformSource = string(src)
	}
	return cfg, nil
}

// Validate checks the fields a run cannot start without.
func (c *Config) Validate() error {
	if c.TargetStoreURL == "" && !c.Debug {
		return fmt.Errorf("%w: targetStoreUrl is required", etl.ErrConfig)
	}
	if c.CollectionName == "" {
		return fmt.Errorf("%w: collectionName is required", etl.ErrConfig)
	}
	if len(c.Descriptors()) == 0 {
		return fmt.Errorf("%w: no source configured", etl.ErrConfig)
	}
	if c.WriteDelay < 0 || c.TransformTimeout < 0 {
		return fmt.Errorf("%w: durations must not be negative", etl.ErrConfig)
	}
	return nil
}

// Descriptors returns the configured sources in import order.
func (c *Config) Descriptors() []etl.SourceDescriptor {
	var out []etl.SourceDescriptor
	if c.Sources.Inline != nil {
		d := etl.SourceDescriptor{Kind: etl.SourceInline}
		for _, m := range c.Sources.Inline {
			d.Records = append(d.Records, etl.NewRecord(m))
		}
		out = append(out, d)
	}
	if kv := c.Sources.KeyValue; kv != nil {
		out = append(out, etl.SourceDescriptor{Kind: etl.SourceKeyValue, StoreID: kv.StoreID, Keys: kv.Keys})
	}
	if ds := c.Sources.Dataset; ds != nil {
		out = append(out, etl.SourceDescriptor{Kind: etl.SourceDataset, DatasetID: ds.DatasetID})
	}
	return out
}

// targetStoreURL prefers MONGO_URL over the configured value.
func targetStoreURL(v *viper.Viper) string {
	if env := os.Getenv("MONGO_URL"); env != "" {
		return env
	}
	return firstString(v, "targetStoreUrl", "mongoUrl")
}

// firstString returns the first non-empty value among keys, checking the
// current key name before legacy ones.
func firstString(v *viper.Viper, keys ...string) string {
	for _, k := range keys {
		if s := v.GetString(k); s != "" {
			return s
		}
	}
	return ""
}

// duration reads a Go duration string or a number of milliseconds.
func duration(v *viper.Viper, key string) (time.Duration, error) {
	switch val := v.Get(key).(type) {
	case int:
		return time.Duration(val) * time.Millisecond, nil
	case int64:
		return time.Duration(val) * time.Millisecond, nil
	case float64:
		return time.Duration(val * float64(time.Millisecond)), nil
	case string:
		d, err := time.ParseDuration(val)
		if err != nil {
			return 0, fmt.Errorf("%w: %s: %w", etl.ErrConfig, key, err)
		}
		return d, nil
	case nil:
		return 0, nil
	default:
		return 0, fmt.Errorf("%w: %s: unsupported value %v", etl.ErrConfig, key, val)
	}
}
