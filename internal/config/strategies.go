package config

import (
	"fmt"
	"os"

	"device-sync-server/internal/domain"

	"gopkg.in/yaml.v3"
)

// strategyFile is the on-disk form of a field strategy table.
//
//	fields:
//	  - name: tags
//	    strategy: merge
type strategyFile struct {
	Fields []struct {
		Name     string `yaml:"name"`
		Strategy string `yaml:"strategy"`
	} `yaml:"fields"`
}

// LoadStrategyTable reads a field strategy table from path. An empty path
// yields the built-in table.
func LoadStrategyTable(path string) (*domain.StrategyTable, error) {
	if path == "" {
		return domain.DefaultStrategyTable(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read strategy file: %w", err)
	}

	return ParseStrategyTable(data)
}

func ParseStrategyTable(data []byte) (*domain.StrategyTable, error) {
	var file strategyFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse strategy file: %w", err)
	}

	if len(file.Fields) == 0 {
		return nil, fmt.Errorf("strategy file defines no fields")
	}

	entries := make([]domain.FieldStrategy, 0, len(file.Fields))
	for _, f := range file.Fields {
		strategy, err := domain.ParseMergeStrategy(f.Strategy)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", f.Name, err)
		}
		entries = append(entries, domain.FieldStrategy{Field: f.Name, Strategy: strategy})
	}

	return domain.NewStrategyTable(entries...)
}
