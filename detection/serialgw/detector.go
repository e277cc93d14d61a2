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

// Package serialgw detects DW3000 gateway boards on serial ports
package serialgw

import (
	"context"
	"fmt"
	"strings"
	"time"

	dw3000 "github.com/uwbworks/go-dw3000"
	"github.com/uwbworks/go-dw3000/detection"
	"github.com/uwbworks/go-dw3000/transport/serialgw"
)

// detector implements the Detector interface for serial gateway devices.
type detector struct{}

// New creates a new serial gateway detector
func New() detection.Detector {
	return &detector{}
}

// init registers the detector on package import
func init() {
	detection.RegisterDetector(New())
}

// Bus returns the bus type
func (*detector) Bus() string {
	return "serialgw"
}

// Detect searches for DW3000 gateway boards on serial ports
func (d *detector) Detect(ctx context.Context, opts *detection.Options) ([]detection.DeviceInfo, error) {
	ports, err := d.enumeratePorts(ctx)
	if err != nil {
		return nil, err
	}

	filteredPorts := d.filterPorts(ports, opts)
	devices := d.processPortsToDevices(ctx, filteredPorts, opts)

	if len(devices) == 0 {
		return nil, detection.ErrNoDevicesFound
	}

	return devices, nil
}

// enumeratePorts gets the list of available serial ports
func (*detector) enumeratePorts(ctx context.Context) ([]serialPort, error) {
	ports, err := getSerialPorts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate serial ports: %w", err)
	}

	if len(ports) == 0 {
		return nil, detection.ErrNoDevicesFound
	}

	return ports, nil
}

// filterPorts removes blocked devices from the port list
func (*detector) filterPorts(ports []serialPort, opts *detection.Options) []serialPort {
	var filtered []serialPort
	for _, port := range ports {
		if port.VIDPID != "" && detection.IsBlocked(port.VIDPID, opts.Blocklist) {
			continue
		}
		if detection.IsPathIgnored(port.Path, opts.IgnorePaths) {
			continue
		}
		filtered = append(filtered, port)
	}
	return filtered
}

// processPortsToDevices converts ports to device infos with probing
func (d *detector) processPortsToDevices(ctx context.Context, ports []serialPort,
	opts *detection.Options,
) []detection.DeviceInfo {
	var devices []detection.DeviceInfo

	for i := range ports {
		// Check context cancellation
		select {
		case <-ctx.Done():
			return devices
		default:
		}

		device, shouldInclude := d.processPort(ctx, &ports[i], opts)
		if shouldInclude {
			devices = append(devices, device)
		}
	}

	return devices
}

// processPort handles a single port's detection logic
func (d *detector) processPort(ctx context.Context, port *serialPort,
	opts *detection.Options,
) (detection.DeviceInfo, bool) {
	confidence, shouldProbe := determinePortHandling(port, opts.Mode)

	// Skip port entirely if passive mode and no descriptor match
	if opts.Mode == detection.Passive && confidence == 0 {
		return detection.DeviceInfo{}, false
	}

	device := createDeviceInfo(port, confidence)

	if shouldProbe {
		probeSuccess := probePortWithTimeout(ctx, port.Path, opts.Mode)
		if probeSuccess {
			device.Confidence = detection.High
		} else if opts.Mode == detection.Safe && !isLikelyGateway(port) {
			// In safe mode, skip unlikely devices that don't respond
			return detection.DeviceInfo{}, false
		}
	}

	return device, true
}

// determinePortHandling decides confidence level and whether to probe based on mode
func determinePortHandling(port *serialPort, mode detection.Mode) (detection.Confidence, bool) {
	switch mode {
	case detection.Passive:
		if isLikelyGateway(port) {
			return detection.Medium, false
		}
		return 0, false // Signal to skip this port

	case detection.Safe:
		if isLikelyGateway(port) {
			return detection.Medium, true
		}
		return detection.Low, true

	case detection.Full:
		return detection.Low, true

	default:
		return detection.Low, false
	}
}

// createDeviceInfo builds a DeviceInfo struct from port data
func createDeviceInfo(port *serialPort, confidence detection.Confidence) detection.DeviceInfo {
	device := detection.DeviceInfo{
		Bus:        "serialgw",
		Path:       port.Path,
		Name:       port.Name,
		Confidence: confidence,
		Metadata:   make(map[string]string),
	}

	if port.VIDPID != "" {
		device.Metadata["vidpid"] = port.VIDPID
	}
	if port.Manufacturer != "" {
		device.Metadata["manufacturer"] = port.Manufacturer
	}
	if port.Product != "" {
		device.Metadata["product"] = port.Product
	}
	if port.SerialNumber != "" {
		device.Metadata["serial"] = port.SerialNumber
	}
	return device
}

// probePortWithTimeout performs device probing with timeout
func probePortWithTimeout(ctx context.Context, path string, mode detection.Mode) bool {
	probeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	return probeDevice(probeCtx, path, mode)
}

// serialPort represents a serial port with metadata
type serialPort struct {
	Path         string
	Name         string
	VIDPID       string
	Manufacturer string
	Product      string
	SerialNumber string
}

// isLikelyGateway checks if a serial port looks like a UWB gateway board
func isLikelyGateway(port *serialPort) bool {
	// Known VID:PIDs for common DW3000 evaluation boards
	knownBoards := []string{
		"1366:1015", // SEGGER J-Link CDC (nRF-based DWM3000 eval kits)
		"1366:0105", // SEGGER J-Link CDC (older firmware)
		"0483:5740", // STMicro virtual COM (Nucleo DWS3000 shields)
		"0403:6001", // FTDI FT232 (generic UART bridges)
		"10C4:EA60", // Silicon Labs CP210x (generic UART bridges)
	}

	upperVIDPID := strings.ToUpper(port.VIDPID)
	for _, known := range knownBoards {
		if upperVIDPID == known {
			return true
		}
	}

	// Check product/manufacturer strings
	lowerProduct := strings.ToLower(port.Product)
	lowerManuf := strings.ToLower(port.Manufacturer)

	uwbKeywords := []string{"dw3000", "dwm3000", "uwb", "qorvo", "decawave"}
	for _, keyword := range uwbKeywords {
		if strings.Contains(lowerProduct, keyword) || strings.Contains(lowerManuf, keyword) {
			return true
		}
	}

	return false
}

// probeDevice attempts to communicate with a device to verify it bridges
// a DW3000.
//
// NO RETRY POLICY: a single attempt per port. Retrying failed probes
// during auto-detection can wedge devices that are not gateways at all,
// so retries belong to the device layer once a known path is chosen.
func probeDevice(ctx context.Context, path string, mode detection.Mode) bool {
	// Try to open the port (single attempt only)
	bus, err := serialgw.New(path)
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
