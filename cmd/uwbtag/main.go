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

// Command uwbtag runs a DW3000 module either as a ranging tag or as a
// fixed anchor. In tag mode it ranges against the anchors listed in the
// YAML site file, prints one line per measurement and, with three or more
// anchors in range, a least-squares position fix. In anchor mode it
// answers ranging exchanges started by tags.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	dw3000 "github.com/uwbworks/go-dw3000"
	"github.com/uwbworks/go-dw3000/detection"
	"github.com/uwbworks/go-dw3000/pkg/trilat"
	"github.com/uwbworks/go-dw3000/transport/serialgw"
	"github.com/uwbworks/go-dw3000/transport/spi"
	"github.com/uwbworks/go-dw3000/twr"

	// Register bus detectors for auto-detection
	_ "github.com/uwbworks/go-dw3000/detection/serialgw"
	_ "github.com/uwbworks/go-dw3000/detection/spi"
)

var (
	devicePath  string
	sitePath    string
	role        string
	anchorID    uint
	channel     uint
	interval    time.Duration
	singleSided bool
	showResid   bool
	debug       bool
)

func init() {
	flag.StringVar(&devicePath, "device", "",
		"device path (spi:/dev/spidev0.0, serialgw:/dev/ttyACM0, or auto-detect if empty)")
	flag.StringVar(&sitePath, "site", "site.yaml", "YAML site file with tag id and anchor survey")
	flag.StringVar(&role, "role", "tag", "role to run: tag or anchor")
	flag.UintVar(&anchorID, "anchor-id", 0, "short address for anchor mode (overrides site file)")
	flag.UintVar(&channel, "channel", 5, "UWB channel, 5 or 9")
	flag.DurationVar(&interval, "interval", 100*time.Millisecond, "ranging round interval in tag mode")
	flag.BoolVar(&singleSided, "single-sided", false, "use single-sided ranging instead of double-sided")
	flag.BoolVar(&showResid, "residual", false, "print the RMS residual with each position fix")
	flag.BoolVar(&debug, "debug", false, "enable debug output")
}

func parseConfig() {
	flag.Parse()

	if debug {
		dw3000.SetDebugEnabled(true)
	}
}

// newBus creates a bus from an explicit device path. Paths may carry a
// "spi:" or "serialgw:" prefix; a bare path is treated as a serial gateway.
func newBus(path string) (dw3000.Bus, error) {
	switch {
	case strings.HasPrefix(path, "spi:"):
		return spi.New(strings.TrimPrefix(path, "spi:"))
	case strings.HasPrefix(path, "serialgw:"):
		return serialgw.New(strings.TrimPrefix(path, "serialgw:"))
	case strings.HasPrefix(path, "/dev/spidev"):
		return spi.New(path)
	default:
		return serialgw.New(path)
	}
}

// newBusFromDevice creates a bus from an auto-detected device
func newBusFromDevice(device detection.DeviceInfo) (dw3000.Bus, error) {
	switch device.Bus {
	case "spi":
		return spi.New(device.Path)
	case "serialgw":
		return serialgw.New(device.Path)
	default:
		return nil, fmt.Errorf("unsupported bus type: %s", device.Bus)
	}
}

func connectToDevice(ctx context.Context) (*dw3000.Device, error) {
	opts := []dw3000.ConnectOption{
		dw3000.WithBusFactory(newBus),
		dw3000.WithBusFromDeviceFactory(newBusFromDevice),
		dw3000.WithConnectTimeout(5 * time.Second),
	}
	if devicePath == "" {
		opts = append(opts, dw3000.WithAutoDetection())
	}

	device, err := dw3000.ConnectDevice(devicePath, opts...)
	if err != nil {
		return nil, err
	}

	cfg := dw3000.DefaultConfig()
	if channel == 9 {
		cfg.Channel = dw3000.Channel9
	}
	if err := device.ApplyConfigContext(ctx, cfg); err != nil {
		_ = device.Close()
		return nil, fmt.Errorf("failed to configure device: %w", err)
	}

	return device, nil
}

func rangingConfig() *twr.Config {
	cfg := twr.DefaultConfig()
	cfg.RangeInterval = interval
	cfg.DoubleSided = !singleSided
	return cfg
}

// positionTracker keeps the most recent distance per anchor and solves
// for position once enough anchors are in range
type positionTracker struct {
	site   *siteConfig
	latest map[byte]float64
	mu     sync.Mutex
}

func newPositionTracker(site *siteConfig) *positionTracker {
	return &positionTracker{
		site:   site,
		latest: make(map[byte]float64),
	}
}

func (p *positionTracker) update(anchor byte, distance float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.latest[anchor] = distance

	if len(p.latest) < 3 {
		return
	}

	ranges := make([]trilat.Range, 0, len(p.latest))
	for _, name := range p.site.sortedAnchorNames() {
		a := p.site.Anchors[name]
		d, ok := p.latest[a.ID]
		if !ok {
			continue
		}
		ranges = append(ranges, trilat.Range{
			Anchor:   trilat.Point{X: a.X, Y: a.Y},
			Distance: d,
		})
	}

	pos, err := trilat.Solve(ranges)
	if err != nil {
		return
	}
	if showResid {
		fmt.Printf("[POS] x=%.2f y=%.2f resid=%.3f\n", pos.X, pos.Y, trilat.Residual(pos, ranges))
	} else {
		fmt.Printf("[POS] x=%.2f y=%.2f\n", pos.X, pos.Y)
	}
}

func (p *positionTracker) drop(anchor byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.latest, anchor)
}

func runTag(ctx context.Context, device *dw3000.Device, site *siteConfig) error {
	tracker := newPositionTracker(site)

	session := twr.NewSession(device, site.TagID, site.anchorIDs(), rangingConfig())
	session.OnAnchorFound = func(anchor byte) error {
		fmt.Printf("[TAG] anchor %s in range\n", site.anchorName(anchor))
		return nil
	}
	session.OnAnchorLost = func(anchor byte) {
		fmt.Printf("[TAG] anchor %s lost\n", site.anchorName(anchor))
		tracker.drop(anchor)
	}
	session.OnRange = func(m twr.Measurement) error {
		fmt.Printf("[TAG] A%d = %.2f m\n", m.Anchor, m.Distance)
		tracker.update(m.Anchor, m.Distance)
		return nil
	}
	defer func() { _ = session.Close() }()

	fmt.Printf("Ranging as tag 0x%02X against %d anchors (Ctrl+C to stop)\n",
		site.TagID, len(site.Anchors))

	err := session.Start(ctx)
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func runAnchor(ctx context.Context, device *dw3000.Device, site *siteConfig) error {
	id := byte(anchorID)
	if id == 0 {
		// No explicit id; an anchor must know who it is
		if len(site.Anchors) != 1 {
			return fmt.Errorf("anchor mode needs -anchor-id or a site file with exactly one anchor")
		}
		for _, a := range site.Anchors {
			id = a.ID
		}
	}

	responder := twr.NewResponder(device, id, rangingConfig())
	responder.OnExchange = func(tag byte) {
		if debug {
			fmt.Printf("[ANCHOR] exchange with tag 0x%02X\n", tag)
		}
	}
	defer func() { _ = responder.Close() }()

	fmt.Printf("Answering as anchor 0x%02X (Ctrl+C to stop)\n", id)

	err := responder.Start(ctx)
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func mainWithExitCode() int {
	parseConfig()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	site, err := loadSiteConfig(sitePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	device, err := connectToDevice(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to connect to device: %v\n", err)
		return 1
	}
	defer func() { _ = device.Close() }()

	fmt.Printf("Connected to DW3000 (device ID 0x%08X)\n", device.DeviceID())

	switch role {
	case "tag":
		err = runTag(ctx, device, site)
	case "anchor":
		err = runAnchor(ctx, device, site)
	default:
		fmt.Fprintf(os.Stderr, "Error: unknown role %q (want tag or anchor)\n", role)
		return 2
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(mainWithExitCode())
}
