package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/dosco/aggjin/core"
	"gopkg.in/yaml.v3"
)

// Request is an aggregation request file. The collection schema is either
// inline or read from the Schema file, relative to the request.
type Request struct {
	Schema       string           `yaml:"schema,omitempty"`
	Collection   *core.Collection `yaml:"collection,omitempty"`
	Aggregations []core.Dict      `yaml:"aggregations"`
}

// readRequest loads a request file and decodes its aggregations
func readRequest(path string) (*core.Collection, []core.Aggregation, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}

	var req Request
	if err := yaml.Unmarshal(b, &req); err != nil {
		return nil, nil, fmt.Errorf("%s: %w", path, err)
	}

	coll := req.Collection
	if req.Schema != "" {
		sp := req.Schema
		if !filepath.IsAbs(sp) {
			sp = filepath.Join(filepath.Dir(path), sp)
		}
		if coll, err = readSchema(sp); err != nil {
			return nil, nil, err
		}
	}
	if coll == nil {
		return nil, nil, fmt.Errorf("%s: a schema or collection is required", path)
	}
	if len(req.Aggregations) == 0 {
		return nil, nil, fmt.Errorf("%s: no aggregations", path)
	}

	aggs := make([]core.Aggregation, len(req.Aggregations))
	for i, d := range req.Aggregations {
		if aggs[i], err = core.FromDict(d); err != nil {
			return nil, nil, fmt.Errorf("%s: aggregation %d: %w", path, i, err)
		}
	}
	return coll, aggs, nil
}

func readSchema(path string) (*core.Collection, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var coll core.Collection
	if err := yaml.Unmarshal(b, &coll); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if coll.Name == "" {
		return nil, fmt.Errorf("%s: collection name is required", path)
	}
	return &coll, nil
}

func writeSchema(path string, coll *core.Collection) error {
	b, err := yaml.Marshal(coll)
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}
