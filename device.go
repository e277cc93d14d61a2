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

package dw3000

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/uwbworks/go-dw3000/detection"
)

// DeviceConfig contains runtime options for the Device
type DeviceConfig struct {
	// RetryConfig configures retry behavior for bus operations
	RetryConfig *RetryConfig
	// Timeout is the default timeout for operations
	Timeout time.Duration
	// PollInterval is the delay between SYS_STATUS polls while waiting
	// for a frame event
	PollInterval time.Duration
}

// DefaultDeviceConfig returns default device configuration
func DefaultDeviceConfig() *DeviceConfig {
	return &DeviceConfig{
		RetryConfig:  DefaultRetryConfig(),
		Timeout:      1 * time.Second,
		PollInterval: 200 * time.Microsecond,
	}
}

// Device represents a DW3000 IR-UWB transceiver
//
// Thread Safety: Device is NOT thread-safe. The driver follows the chip's
// single-context control model: all methods must be called from a single
// goroutine or protected with external synchronization. For concurrent
// access, wrap the Device with a mutex; the twr package does this for its
// session loop.
type Device struct {
	bus          Bus
	config       *DeviceConfig
	rfConfig     *Config
	frameTimeout time.Duration
	otpDelays    map[Channel]uint16
	devID        uint32
	state        State
	txPending    []byte
	calibrated   bool
	skipOTP      bool
}

// Option configures a Device during New
type Option func(*Device) error

// WithDeviceConfig replaces the runtime device configuration
func WithDeviceConfig(config *DeviceConfig) Option {
	return func(d *Device) error {
		if config == nil {
			return errors.New("device config must not be nil")
		}
		d.config = config
		return nil
	}
}

// WithPollInterval sets the SYS_STATUS poll interval
func WithPollInterval(interval time.Duration) Option {
	return func(d *Device) error {
		if interval <= 0 {
			return fmt.Errorf("poll interval must be positive, got %v", interval)
		}
		d.config.PollInterval = interval
		return nil
	}
}

// WithoutOTPCalibration skips loading antenna delay calibration from OTP
// during Init. Useful with modules whose OTP was never factory programmed.
func WithoutOTPCalibration() Option {
	return func(d *Device) error {
		d.skipOTP = true
		return nil
	}
}

// New creates a new DW3000 device with the given bus
func New(bus Bus, opts ...Option) (*Device, error) {
	device := &Device{
		bus:       bus,
		config:    DefaultDeviceConfig(),
		state:     StateIdle,
		otpDelays: make(map[Channel]uint16),
	}

	// Apply options
	for _, opt := range opts {
		if err := opt(device); err != nil {
			return nil, err
		}
	}

	return device, nil
}

// BusFactory is a function type for creating buses
type BusFactory func(path string) (Bus, error)

// BusFromDeviceFactory is a function type for creating buses from detected devices
type BusFromDeviceFactory func(device detection.DeviceInfo) (Bus, error)

// ConnectOption represents a functional option for ConnectDevice
type ConnectOption func(*connectConfig) error

// connectConfig holds configuration options for device connection
type connectConfig struct {
	busFactory        BusFactory
	busDeviceFactory  BusFromDeviceFactory
	deviceDetector    func(*detection.Options) ([]detection.DeviceInfo, error)
	deviceOptions     []Option
	timeout           time.Duration
	autoDetect        bool
	connectionRetries int
}

// WithAutoDetection enables automatic device detection instead of using a specific path
func WithAutoDetection() ConnectOption {
	return func(c *connectConfig) error {
		c.autoDetect = true
		return nil
	}
}

// WithDeviceOptions adds device-level options
func WithDeviceOptions(opts ...Option) ConnectOption {
	return func(c *connectConfig) error {
		c.deviceOptions = append(c.deviceOptions, opts...)
		return nil
	}
}

// WithConnectTimeout sets the device connection timeout
func WithConnectTimeout(timeout time.Duration) ConnectOption {
	return func(c *connectConfig) error {
		c.timeout = timeout
		return nil
	}
}

// WithBusFactory sets the bus factory function
func WithBusFactory(factory BusFactory) ConnectOption {
	return func(c *connectConfig) error {
		c.busFactory = factory
		return nil
	}
}

// WithBusFromDeviceFactory sets the bus from device factory function
func WithBusFromDeviceFactory(factory BusFromDeviceFactory) ConnectOption {
	return func(c *connectConfig) error {
		c.busDeviceFactory = factory
		return nil
	}
}

// WithConnectionRetries sets the number of connection retry attempts
func WithConnectionRetries(maxAttempts int) ConnectOption {
	return func(c *connectConfig) error {
		if maxAttempts < 1 {
			return fmt.Errorf("connection retries must be at least 1, got %d", maxAttempts)
		}
		c.connectionRetries = maxAttempts
		return nil
	}
}

// WithDeviceDetector sets a custom device detector function for auto-detection
func WithDeviceDetector(detector func(*detection.Options) ([]detection.DeviceInfo, error)) ConnectOption {
	return func(c *connectConfig) error {
		c.deviceDetector = detector
		return nil
	}
}

func applyConnectOptions(opts []ConnectOption) (*connectConfig, error) {
	config := &connectConfig{
		autoDetect:        false,
		deviceOptions:     nil,
		timeout:           30 * time.Second,
		busFactory:        nil,
		busDeviceFactory:  nil,
		connectionRetries: DefaultConnectionRetries,
	}

	for _, opt := range opts {
		if err := opt(config); err != nil {
			return nil, fmt.Errorf("failed to apply connect option: %w", err)
		}
	}

	return config, nil
}

func createBus(path string, config *connectConfig) (Bus, error) {
	if config.autoDetect || path == "" {
		return createAutoDetectedBus(config.busDeviceFactory, config.deviceDetector)
	}
	return createManualBus(path, config.busFactory)
}

func setupDevice(bus Bus, config *connectConfig) (*Device, error) {
	device, err := New(bus, config.deviceOptions...)
	if err != nil {
		return nil, fmt.Errorf("failed to create device: %w", err)
	}

	if config.timeout > 0 {
		if err := device.SetTimeout(config.timeout); err != nil {
			return nil, fmt.Errorf("failed to set timeout: %w", err)
		}
	}

	if err := device.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize device: %w", err)
	}

	return device, nil
}

// setupDeviceWithRetry wraps setupDevice with retry logic for connection attempts
func setupDeviceWithRetry(bus Bus, config *connectConfig) (*Device, error) {
	// Auto-detection should bypass retry logic (single attempt only)
	if config.autoDetect {
		return setupDevice(bus, config)
	}

	// Manual connections use retry logic
	retryConfig := &RetryConfig{
		MaxAttempts:       config.connectionRetries,
		InitialBackoff:    ConnectionInitialBackoff,
		MaxBackoff:        ConnectionMaxBackoff,
		BackoffMultiplier: ConnectionBackoffMultiplier,
		Jitter:            ConnectionJitter,
		RetryTimeout:      ConnectionRetryTimeout,
	}

	var device *Device
	err := RetryWithConfig(context.Background(), retryConfig, func() error {
		var err error
		device, err = setupDevice(bus, config)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to setup device after %d attempts: %w", config.connectionRetries, err)
	}

	return device, nil
}

// ConnectDevice creates and initializes a DW3000 device from a path or
// auto-detection. This is a high-level convenience function that handles
// bus creation and device initialization.
//
// Example usage:
//
//	// Connect to a specific SPI port
//	device, err := dw3000.ConnectDevice("SPI0.0", dw3000.WithBusFactory(spi.New))
//
//	// Auto-detect device
//	device, err := dw3000.ConnectDevice("", dw3000.WithAutoDetection())
func ConnectDevice(path string, opts ...ConnectOption) (*Device, error) {
	config, err := applyConnectOptions(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to apply connect options: %w", err)
	}

	bus, err := createBus(path, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create bus: %w", err)
	}

	device, err := setupDeviceWithRetry(bus, config)
	if err != nil {
		_ = bus.Close()
		return nil, err
	}

	return device, nil
}

// createManualBus handles creation of a bus for a specific path
func createManualBus(path string, factory BusFactory) (Bus, error) {
	if factory == nil {
		return nil, errors.New("bus factory not provided")
	}

	bus, err := factory(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create bus for path %s: %w", path, err)
	}

	return bus, nil
}

// createAutoDetectedBus handles auto-detection of devices
func createAutoDetectedBus(
	factory BusFromDeviceFactory,
	detector func(*detection.Options) ([]detection.DeviceInfo, error),
) (Bus, error) {
	opts := detection.DefaultOptions()
	opts.Mode = detection.Safe

	var devices []detection.DeviceInfo
	var err error

	if detector != nil {
		devices, err = detector(&opts)
	} else {
		ctx, cancel := context.WithTimeout(context.Background(), opts.Timeout)
		defer cancel()
		devices, err = detection.DetectAll(ctx, &opts)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to detect devices: %w", err)
	}

	if len(devices) == 0 {
		return nil, errors.New("no DW3000 devices found")
	}

	// Use the first detected device
	device := devices[0]
	if factory == nil {
		return nil, errors.New("bus device factory not provided")
	}
	return factory(device)
}

// Bus returns the underlying bus
func (d *Device) Bus() Bus {
	return d.bus
}

// hasCapability checks if the bus has the specified capability
func (d *Device) hasCapability(capability BusCapability) bool {
	if checker, ok := d.bus.(BusCapabilityChecker); ok {
		return checker.HasCapability(capability)
	}
	return false
}

// SupportsDelayedTRX returns true if the bus can program delayed
// transmit/receive times reliably
func (d *Device) SupportsDelayedTRX() bool {
	return d.hasCapability(CapabilityDelayedTRX)
}

// Init initializes the DW3000 device
func (d *Device) Init() error {
	return d.InitContext(context.Background())
}

// InitContext initializes the device with context support: verify the
// device ID, force the transceiver to idle, clear stale events, and read
// factory calibration from OTP.
func (d *Device) InitContext(ctx context.Context) error {
	if err := d.verifyDeviceID(ctx); err != nil {
		return err
	}

	if err := d.bus.FastCommand(CmdTxRxOff); err != nil {
		return fmt.Errorf("failed to force transceiver off: %w", err)
	}
	if err := d.clearStatus(ctx, statusAllRxTx); err != nil {
		return fmt.Errorf("failed to clear event status: %w", err)
	}
	d.state = StateIdle

	if !d.skipOTP {
		d.loadFactoryCalibration(ctx)
	}

	return nil
}

// verifyDeviceID reads DEV_ID and checks the RIDTAG and model fields
func (d *Device) verifyDeviceID(ctx context.Context) error {
	raw, err := d.bus.ReadRegisterContext(ctx, RegGenCfg0, subDevID, 4)
	if err != nil {
		return fmt.Errorf("failed to read device ID: %w", err)
	}
	if len(raw) != 4 {
		return fmt.Errorf("%w: device ID read returned %d bytes", ErrInvalidResponse, len(raw))
	}
	id := binary.LittleEndian.Uint32(raw)
	if id&0xFFFF0000 != devIDRidtag || id&0x0000FF00 != devIDModelDW3 {
		return fmt.Errorf("%w: DEV_ID 0x%08X", ErrWrongDevice, id)
	}
	d.devID = id
	debugf("device ID 0x%08X verified", id)
	return nil
}

// loadFactoryCalibration tries to seed antenna delays from OTP. Failure is
// not fatal: modules with blank OTP fall back to explicit calibration via
// ApplyConfig.
func (d *Device) loadFactoryCalibration(ctx context.Context) {
	for _, ch := range []Channel{Channel5, Channel9} {
		delay, ok, err := d.loadOTPCalibration(ctx, ch)
		if err != nil {
			debugf("OTP calibration read failed for channel %d: %v", ch, err)
			return
		}
		if ok {
			debugf("OTP antenna delay for channel %d: %d ticks", ch, delay)
			d.otpDelays[ch] = delay
		}
	}
}

// DeviceID returns the DEV_ID value read during Init
func (d *Device) DeviceID() uint32 {
	return d.devID
}

// ReadDeviceID reads and verifies DEV_ID from the chip. Unlike DeviceID
// this always touches the bus, so it doubles as a liveness probe.
func (d *Device) ReadDeviceID(ctx context.Context) (uint32, error) {
	if err := d.verifyDeviceID(ctx); err != nil {
		return 0, err
	}
	return d.devID, nil
}

// OTPAntennaDelay returns the factory antenna delay for a channel, if the
// OTP held one
func (d *Device) OTPAntennaDelay(ch Channel) (uint16, bool) {
	delay, ok := d.otpDelays[ch]
	return delay, ok
}

// SetTimeout sets the default timeout for operations
func (d *Device) SetTimeout(timeout time.Duration) error {
	d.config.Timeout = timeout
	if err := d.bus.SetTimeout(timeout); err != nil {
		return fmt.Errorf("failed to set timeout on bus: %w", err)
	}
	return nil
}

// SetRetryConfig updates the retry configuration
func (d *Device) SetRetryConfig(config *RetryConfig) {
	d.config.RetryConfig = config
	if br, ok := d.bus.(*BusWithRetry); ok {
		br.SetRetryConfig(config)
	}
}

// Close closes the device connection
func (d *Device) Close() error {
	if d.bus != nil {
		if err := d.bus.Close(); err != nil {
			return fmt.Errorf("failed to close bus: %w", err)
		}
	}
	return nil
}
