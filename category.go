// Copyright 2024 Block, Inc.

package dbpoll

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// Result shapes
const (
	SHAPE_ROW = "row" // exactly one aggregate row
	SHAPE_SET = "set" // one row per entity, keyed by the first column
)

// Category is one SQL probe and the metrics it reports. Categories are loaded
// once at boot and never modified.
type Category struct {
	Name           string `json:"category"`
	SQL            string `json:"SQL"`
	Result         string `json:"result"`
	ValueMetrics   string `json:"value_metrics,omitempty"`
	CounterMetrics string `json:"counter_metrics,omitempty"`

	// MinVersion is the minimum server version required to run SQL.
	// The category is skipped if the server version is lower.
	MinVersion string `json:"min_version,omitempty"`
}

// Values returns the list of gauge metric names.
func (c Category) Values() []string {
	return ParseList(c.ValueMetrics)
}

// Counters returns the list of counter metric names.
func (c Category) Counters() []string {
	return ParseList(c.CounterMetrics)
}

// ParseList parses a comma-separated list: spaces are removed, values are
// lowercased, and empty values are skipped.
func ParseList(csv string) []string {
	csv = strings.ToLower(strings.ReplaceAll(csv, " ", ""))
	list := []string{}
	for _, v := range strings.Split(csv, ",") {
		if v == "" {
			continue
		}
		list = append(list, v)
	}
	return list
}

//go:embed metric.category.json
var defaultCategories []byte

// DefaultCategories returns the built-in categories.
func DefaultCategories() []Category {
	c, err := ParseCategories(defaultCategories)
	if err != nil {
		panic("invalid built-in categories: " + err.Error())
	}
	return c
}

// LoadCategories loads categories from a JSON file. If required is false and
// the file does not exist, the built-in categories are returned.
func LoadCategories(file string, required bool) ([]Category, error) {
	bytes, err := os.ReadFile(file)
	if err != nil {
		if !required && os.IsNotExist(err) {
			Debug("categories file %s does not exist, using built-in categories", file)
			return DefaultCategories(), nil
		}
		return nil, fmt.Errorf("cannot read categories file: %s", err)
	}
	c, err := ParseCategories(bytes)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", file, err)
	}
	return c, nil
}

// ParseCategories decodes a JSON array of categories. Category names are
// lowercased. The order is preserved because it is the order in which
// categories are collected.
func ParseCategories(data []byte) ([]Category, error) {
	var categories []Category
	if err := json.Unmarshal(data, &categories); err != nil {
		return nil, fmt.Errorf("%w: cannot decode categories: %s", ErrConfig, err)
	}
	seen := map[string]bool{}
	for i := range categories {
		name := strings.ToLower(strings.TrimSpace(categories[i].Name))
		if name == "" {
			return nil, fmt.Errorf("%w: category %d has no name", ErrConfig, i+1)
		}
		if seen[name] {
			return nil, fmt.Errorf("%w: duplicate category: %s", ErrConfig, name)
		}
		seen[name] = true
		if strings.TrimSpace(categories[i].SQL) == "" {
			return nil, fmt.Errorf("%w: category %s has no SQL", ErrConfig, name)
		}
		categories[i].Name = name
		categories[i].Result = strings.ToLower(strings.TrimSpace(categories[i].Result))
	}
	return categories, nil
}
