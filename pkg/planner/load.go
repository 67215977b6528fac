// Copyright 2026 © The Switchboard Authors
// SPDX-License-Identifier: Apache-2.0

package planner

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// LoadRoutes loads static routes from a YAML or JSON file.
func LoadRoutes(path string) (*Routes, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("routes path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return ParseJSON(data)
	default:
		return ParseYAML(data)
	}
}
