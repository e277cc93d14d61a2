// Copyright 2026 The go-dw3000 Contributors.
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package spi detects DW3000 transceivers on native SPI buses
package spi

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	dw3000 "github.com/uwbworks/go-dw3000"
	"github.com/uwbworks/go-dw3000/detection"
	"github.com/uwbworks/go-dw3000/transport/spi"
)

// Config represents SPI device configuration
type Config struct {
	// Additional metadata
	Metadata map[string]string `json:"metadata,omitempty"`
	// Device path (e.g., "/dev/spidev0.0")
	Device string `json:"device"`
	// Human-readable name
	Name string `json:"name,omitempty"`
	// Chip select pin (if using GPIO CS)
	CSPin int `json:"cs_pin,omitempty"`
}

// detector implements the Detector interface for SPI devices
type detector struct{}

// New creates a new SPI detector
func New() detection.Detector {
	return &detector{}
}

// init registers the detector on package import
func init() {
	detection.RegisterDetector(New())
}

// Bus returns the bus type
func (*detector) Bus() string {
	return "spi"
}

// gatherConfigs collects SPI configurations from all sources
func gatherConfigs() []Config {
	var configs []Config

	// 1. Load from config file
	if fileConfigs := loadConfigFile(); fileConfigs != nil {
		configs = append(configs, fileConfigs...)
	}

	// 2. Check environment variable
	if envConfig := loadEnvConfig(); envConfig != nil {
		configs = append(configs, *envConfig)
	}

	// 3. Common SPI device paths (Linux)
	if runtime.GOOS == "linux" {
		configs = append(configs, detectLinuxSPIDevices()...)
	}

	return deduplicateConfigs(configs)
}

// createDeviceInfo creates a DeviceInfo from a Config
func createDeviceInfo(config Config) detection.DeviceInfo {
	device := detection.DeviceInfo{
		Bus:        "spi",
		Path:       config.Device,
		Name:       config.Name,
		Confidence: detection.Low, // Start with low confidence
		Metadata:   make(map[string]string),
	}

	// Copy metadata
	for k, v := range config.Metadata {
		device.Metadata[k] = v
	}

	if config.CSPin > 0 {
		device.Metadata["cs_pin"] = fmt.Sprintf("%d", config.CSPin)
	}

	// If name not provided, generate one
	if device.Name == "" {
		device.Name = fmt.Sprintf("SPI device at %s", config.Device)
	}

	return device
}

// probeAndUpdateDevice probes a device and updates its confidence if successful
func probeAndUpdateDevice(
	ctx context.Context,
	config Config,
	device *detection.DeviceInfo,
	opts *detection.Options,
) bool {
	if opts.Mode == detection.Passive {
		return true
	}

	probeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	confirmed := probeSPIDevice(probeCtx, config, opts.Mode)
	if confirmed {
		device.Confidence = detection.High
		return true
	}

	return false
}

// Detect searches for DW3000 devices on SPI buses
func (*detector) Detect(ctx context.Context, opts *detection.Options) ([]detection.DeviceInfo, error) {
	configs := gatherConfigs()
	if len(configs) == 0 {
		return nil, detection.ErrNoDevicesFound
	}

	var devices []detection.DeviceInfo

	// Test each configured device
	for _, config := range configs {
		// Check context cancellation
		select {
		case <-ctx.Done():
			return devices, detection.ErrDetectionTimeout
		default:
		}

		// Skip explicitly ignored device paths
		if detection.IsPathIgnored(config.Device, opts.IgnorePaths) {
			continue
		}

		device := createDeviceInfo(config)

		if probeAndUpdateDevice(ctx, config, &device, opts) {
			devices = append(devices, device)
		}
	}

	if len(devices) == 0 {
		return nil, detection.ErrNoDevicesFound
	}

	return devices, nil
}

// loadConfigFile loads SPI configurations from a JSON file
func loadConfigFile() []Config {
	// Check multiple possible config locations
	configPaths := []string{
		"dw3000-spi.json",
		".dw3000-spi.json",
		filepath.Join(os.Getenv("HOME"), ".config", "dw3000", "spi.json"),
		"/etc/dw3000/spi.json",
	}

	for _, path := range configPaths {
		// #nosec G304 -- paths are hardcoded above, not user input
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}

		var configs []Config
		if err := json.Unmarshal(data, &configs); err != nil {
			// Try single config format
			var config Config
			if err := json.Unmarshal(data, &config); err == nil {
				return []Config{config}
			}
			continue
		}

		return configs
	}

	return nil
}

// loadEnvConfig loads SPI configuration from environment variable
func loadEnvConfig() *Config {
	device := os.Getenv("DW3000_SPI_DEVICE")
	if device == "" {
		return nil
	}

	config := Config{
		Device: device,
		Name:   "SPI device from environment",
	}

	// Check for CS pin
	if csPin := os.Getenv("DW3000_SPI_CS_PIN"); csPin != "" {
		var pin int
		if _, err := fmt.Sscanf(csPin, "%d", &pin); err == nil {
			config.CSPin = pin
		}
	}

	return &config
}

// detectLinuxSPIDevices returns common Linux SPI device paths
func detectLinuxSPIDevices() []Config {
	var configs []Config

	// Check for /dev/spidev* devices
	matches, err := filepath.Glob("/dev/spidev*")
	if err != nil {
		return configs
	}

	for _, path := range matches {
		// Check if device exists and is accessible
		if _, err := os.Stat(path); err == nil {
			configs = append(configs, Config{
				Device: path,
				Name:   fmt.Sprintf("SPI device %s", filepath.Base(path)),
			})
		}
	}

	return configs
}

// deduplicateConfigs removes duplicate SPI configurations
func deduplicateConfigs(configs []Config) []Config {
	seen := make(map[string]bool)
	var unique []Config

	for _, config := range configs {
		if !seen[config.Device] {
			seen[config.Device] = true
			unique = append(unique, config)
		}
	}

	return unique
}

// probeSPIDevice attempts to verify an SPI device is a DW3000.
//
// NO RETRY POLICY: a single attempt only. Probing arbitrary SPI devices
// with retries can confuse whatever is actually attached to the bus, so
// retries are left to the device layer once a known path is chosen.
func probeSPIDevice(ctx context.Context, config Config, mode detection.Mode) bool {
	bus, err := spi.New(config.Device)
	if err != nil {
		return false
	}
	defer func() { _ = bus.Close() }()

	device, err := dw3000.New(bus)
	if err != nil {
		return false
	}

	switch mode {
	case detection.Passive:
		// Passive mode doesn't probe
		return false

	case detection.Safe:
		// Just check the device ID register
		_, err := device.ReadDeviceID(ctx)
		return err == nil

	case detection.Full:
		// Full initialization including calibration load
		err := device.InitContext(ctx)
		return err == nil

	default:
		return false
	}
}
