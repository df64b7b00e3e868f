package service

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"recordimport/internal/etl"
)

// WriteStats writes the final stats snapshot to path. Files ending in
// .yaml or .yml get YAML; everything else gets indented JSON.
func WriteStats(path string, stats etl.ImportStats) error {
	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(stats)
	default:
		data, err = json.MarshalIndent(stats, "", "  ")
		data = append(data, '\n')
	}
	if err != nil {
		return fmt.Errorf("encode stats: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create output directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
