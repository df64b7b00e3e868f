package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recordimport/internal/config"
	"recordimport/internal/etl"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_YAML(t *testing.T) {
	t.Setenv("MONGO_URL", "")
	t.Setenv("APIFY_TOKEN", "tok")
	path := writeFile(t, "input.yaml", `
targetStoreUrl: mongodb://localhost:27017/shop
collectionName: products
uniqueKeys: [sku, storeId]
timestampField: importedAt
writeDelay: 250ms
transformSource: |
  exports.transform = function (r) { return r; };
transforms:
  - type: rename
    config:
      mapping: {productName: title}
sources:
  inline:
    - {sku: A-1, productName: Lamp}
  keyValue:
    storeId: kv-1
    keys: [OUTPUT, extra]
  dataset:
    datasetId: ds-9
`)

	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "mongodb://localhost:27017/shop", cfg.TargetStoreURL)
	assert.Equal(t, "products", cfg.CollectionName)
	assert.Equal(t, []string{"sku", "storeId"}, cfg.UniqueKeys)
	assert.Equal(t, "importedAt", cfg.TimestampField)
	assert.Equal(t, 250*time.Millisecond, cfg.WriteDelay)
	assert.Equal(t, config.DefaultTransformTimeout, cfg.TransformTimeout)
	assert.Contains(t, cfg.TransformSource, "exports.transform")
	assert.Equal(t, "tok", cfg.Platform.Token)
	assert.Equal(t, "https://api.apify.com", cfg.Platform.URL)
	assert.Equal(t, config.DefaultHistoryPath, cfg.HistoryPath)

	require.Len(t, cfg.Transforms, 1)
	assert.Equal(t, "rename", cfg.Transforms[0].Type)
	assert.Equal(t, map[string]any{"productName": "title"}, cfg.Transforms[0].Config["mapping"])

	descs := cfg.Descriptors()
	require.Len(t, descs, 3)
	assert.Equal(t, etl.SourceInline, descs[0].Kind)
	assert.Equal(t, map[string]any{"sku": "A-1", "productName": "Lamp"}, descs[0].Records[0].Data)
	assert.Equal(t, etl.SourceDescriptor{Kind: etl.SourceKeyValue, StoreID: "kv-1", Keys: []string{"OUTPUT", "extra"}}, descs[1])
	assert.Equal(t, etl.SourceDescriptor{Kind: etl.SourceDataset, DatasetID: "ds-9"}, descs[2])
}

func TestLoad_LegacyJSON(t *testing.T) {
	t.Setenv("MONGO_URL", "mongodb://env-host/db")
	path := writeFile(t, "INPUT.json", `{
		"mongoUrl": "mongodb://file-host/db",
		"collection": "legacy",
		"timestampAttr": "updatedAt",
		"transformScript": "exports.transform = function (r) { return r; };",
		"writeDelay": 5,
		"imports": {
			"plainObjects": [{"camelCase": 1}],
			"objectsFromKvs": {"storeId": "s", "keys": ["a"]},
			"objectsFromDs": {"datasetId": "d"}
		}
	}`)

	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "mongodb://env-host/db", cfg.TargetStoreURL)
	assert.Equal(t, "legacy", cfg.CollectionName)
	assert.Equal(t, "updatedAt", cfg.TimestampField)
	assert.Equal(t, 5*time.Millisecond, cfg.WriteDelay)
	assert.NotEmpty(t, cfg.TransformSource)
	assert.Equal(t, []map[string]any{{"camelCase": 1}}, cfg.Sources.Inline)
	assert.Equal(t, &config.KeyValue{StoreID: "s", Keys: []string{"a"}}, cfg.Sources.KeyValue)
	assert.Equal(t, &config.Dataset{DatasetID: "d"}, cfg.Sources.Dataset)
}

func TestLoad_TransformFileRelativeToInput(t *testing.T) {
	t.Setenv("MONGO_URL", "")
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "transform.js"), []byte("exports.transform = null;"), 0o644))
	path := filepath.Join(dir, "input.yaml")
	require.NoError(t, os.WriteFile(path, []byte("transformFile: transform.js\nsources: {inline: []}\ndebug: true\n"), 0o644))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "exports.transform = null;", cfg.TransformSource)
	assert.Equal(t, config.DefaultCollection, cfg.CollectionName)
	require.NoError(t, cfg.Validate())
	assert.Len(t, cfg.Descriptors(), 1)
}

func TestLoad_Errors(t *testing.T) {
	t.Setenv("MONGO_URL", "")

	_, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, etl.ErrConfig)

	_, err = config.Load(writeFile(t, "bad.yaml", "writeDelay: soon\n"))
	assert.ErrorIs(t, err, etl.ErrConfig)

	_, err = config.Load(writeFile(t, "js.yaml", "transformFile: nope.js\n"))
	assert.ErrorIs(t, err, etl.ErrConfig)
}

func TestLoad_EmptySourcesStayConfigured(t *testing.T) {
	t.Setenv("MONGO_URL", "")

	tests := []struct {
		name    string
		content string
		want    etl.SourceKind
	}{
		{"inline", "targetStoreUrl: mongodb://h\nsources: {inline: []}\n", etl.SourceInline},
		{"legacy inline", "targetStoreUrl: mongodb://h\nimports: {plainObjects: []}\n", etl.SourceInline},
		{"key-value without keys", "targetStoreUrl: mongodb://h\nsources: {keyValue: {storeId: s, keys: []}}\n", etl.SourceKeyValue},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := config.Load(writeFile(t, "input.yaml", tt.content))
			require.NoError(t, err)
			require.NoError(t, cfg.Validate())

			descs := cfg.Descriptors()
			require.Len(t, descs, 1)
			assert.Equal(t, tt.want, descs[0].Kind)
			assert.Empty(t, descs[0].Records)
			assert.Empty(t, descs[0].Keys)
		})
	}
}

func TestValidate(t *testing.T) {
	base := func() *config.Config {
		return &config.Config{
			TargetStoreURL: "mongodb://localhost",
			CollectionName: "results",
			Sources:        config.Sources{Dataset: &config.Dataset{DatasetID: "d"}},
		}
	}
	require.NoError(t, base().Validate())

	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"no store", func(c *config.Config) { c.TargetStoreURL = "" }},
		{"no collection", func(c *config.Config) { c.CollectionName = "" }},
		{"no sources", func(c *config.Config) { c.Sources = config.Sources{} }},
		{"negative delay", func(c *config.Config) { c.WriteDelay = -time.Second }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base()
			tt.mutate(c)
			assert.ErrorIs(t, c.Validate(), etl.ErrConfig)
		})
	}

	dry := base()
	dry.TargetStoreURL = ""
	dry.Debug = true
	assert.NoError(t, dry.Validate())
}
