// go-dw3000
// Copyright (c) 2026 The go-dw3000 Contributors.
// SPDX-License-Identifier: LGPL-3.0-or-later
//
// This file is part of go-dw3000.
//
// go-dw3000 is free software; you can redistribute it and/or
// modify it under the terms of the GNU Lesser General Public
// License as published by the Free Software Foundation; either
// version 3 of the License, or (at your option) any later version.
//
// go-dw3000 is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
// Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with go-dw3000; if not, write to the Free Software Foundation,
// Inc., 51 Franklin Street, Fifth Floor, Boston, MA  02110-1301, USA.

package main

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// anchorEntry describes one anchor in the site file
type anchorEntry struct {
	// ID is the anchor's short address on the air
	ID byte `yaml:"id"`
	// X, Y are surveyed coordinates in meters
	X float64 `yaml:"x"`
	Y float64 `yaml:"y"`
}

// siteConfig is the YAML site description: the tag's own address plus the
// anchor survey. Example:
//
//	tag_id: 0x01
//	anchors:
//	  A1: {id: 0x11, x: 0.0, y: 0.0}
//	  A2: {id: 0x12, x: 6.5, y: 0.0}
//	  A3: {id: 0x13, x: 3.1, y: 4.8}
type siteConfig struct {
	Anchors map[string]anchorEntry `yaml:"anchors"`
	TagID   byte                   `yaml:"tag_id"`
}

// loadSiteConfig reads and validates the YAML site file
func loadSiteConfig(path string) (*siteConfig, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path comes from the -site flag
	if err != nil {
		return nil, fmt.Errorf("failed to read site file: %w", err)
	}

	var cfg siteConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse site file: %w", err)
	}

	if len(cfg.Anchors) == 0 {
		return nil, fmt.Errorf("site file %s lists no anchors", path)
	}
	seen := make(map[byte]string, len(cfg.Anchors))
	for name, a := range cfg.Anchors {
		if other, dup := seen[a.ID]; dup {
			return nil, fmt.Errorf("anchors %s and %s share id 0x%02X", other, name, a.ID)
		}
		if a.ID == cfg.TagID {
			return nil, fmt.Errorf("anchor %s uses the tag's id 0x%02X", name, a.ID)
		}
		seen[a.ID] = name
	}

	return &cfg, nil
}

// sortedAnchorNames returns the anchor names in stable order
func (c *siteConfig) sortedAnchorNames() []string {
	names := make([]string, 0, len(c.Anchors))
	for name := range c.Anchors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// anchorIDs returns the anchor short addresses in stable name order
func (c *siteConfig) anchorIDs() []byte {
	names := c.sortedAnchorNames()
	ids := make([]byte, 0, len(names))
	for _, name := range names {
		ids = append(ids, c.Anchors[name].ID)
	}
	return ids
}

// anchorName maps a short address back to its site file name
func (c *siteConfig) anchorName(id byte) string {
	for name, a := range c.Anchors {
		if a.ID == id {
			return name
		}
	}
	return fmt.Sprintf("0x%02X", id)
}
