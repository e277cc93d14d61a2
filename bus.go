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
	"errors"
	"fmt"
	"sync"
	"time"
)

// Bus defines the interface for register-level communication with a DW3000.
// This can be implemented by a native SPI backend or a serial gateway to a
// module carrying the chip. One Read/Write/FastCommand call is one bus
// transaction; on SPI the chip select is asserted for exactly that span.
type Bus interface {
	// ReadRegister reads length bytes from a register file at the given
	// sub-address offset
	ReadRegister(file RegFile, offset uint16, length int) ([]byte, error)

	// ReadRegisterContext reads a register with context support
	ReadRegisterContext(ctx context.Context, file RegFile, offset uint16, length int) ([]byte, error)

	// WriteRegister writes data to a register file at the given offset
	WriteRegister(file RegFile, offset uint16, data []byte) error

	// WriteRegisterContext writes a register with context support
	WriteRegisterContext(ctx context.Context, file RegFile, offset uint16, data []byte) error

	// FastCommand issues a single-octet fast command
	FastCommand(cmd FastCommand) error

	// Close closes the bus connection
	Close() error

	// SetTimeout sets the transaction timeout for the bus
	SetTimeout(timeout time.Duration) error

	// IsConnected returns true if the bus is connected
	IsConnected() bool

	// Type returns the bus type
	Type() BusType
}

// BusType represents the type of bus backend
type BusType string

const (
	// BusSPI represents a native SPI connection.
	BusSPI BusType = "spi"
	// BusSerialGateway represents a serial bridge to a DWM3000 module.
	BusSerialGateway BusType = "serialgw"
	// BusMock represents a mock bus for testing
	BusMock BusType = "mock"
)

// BusCapability represents specific capabilities or behaviors of a bus
type BusCapability string

const (
	// CapabilityDelayedTRX indicates the bus is low-latency enough to program
	// delayed transmit/receive times reliably (native SPI). Serial gateways
	// add milliseconds of turnaround and cannot hit the DX_TIME window.
	CapabilityDelayedTRX BusCapability = "delayed_trx"

	// CapabilityDoubleBuffer indicates the bus backend supports the double
	// receive buffer and the RDB pointer handshake
	CapabilityDoubleBuffer BusCapability = "double_buffer"
)

// BusCapabilityChecker defines an interface for querying bus capabilities
type BusCapabilityChecker interface {
	// HasCapability returns true if the bus has the specified capability
	HasCapability(capability BusCapability) bool
}

// BusWithRetry wraps a Bus with retry capabilities
type BusWithRetry struct {
	bus    Bus
	config *RetryConfig
}

// NewBusWithRetry creates a new bus wrapper with retry logic
func NewBusWithRetry(bus Bus, config *RetryConfig) *BusWithRetry {
	if config == nil {
		config = DefaultRetryConfig()
	}
	return &BusWithRetry{
		bus:    bus,
		config: config,
	}
}

// ReadRegister reads a register with retry logic
func (b *BusWithRetry) ReadRegister(file RegFile, offset uint16, length int) ([]byte, error) {
	return b.ReadRegisterContext(context.Background(), file, offset, length)
}

// ReadRegisterContext reads a register with context support and retry logic
func (b *BusWithRetry) ReadRegisterContext(
	ctx context.Context, file RegFile, offset uint16, length int,
) ([]byte, error) {
	var result []byte
	retryConfig := GetRetryConfigForOp(OpRegisterRead)
	err := RetryWithConfig(ctx, retryConfig, func() error {
		var err error
		result, err = b.bus.ReadRegisterContext(ctx, file, offset, length)
		if err != nil {
			return b.wrapOrRecover(ctx, "ReadRegister", err, func() error {
				result, err = b.bus.ReadRegisterContext(ctx, file, offset, length)
				return err
			})
		}
		return nil
	})
	return result, err
}

// WriteRegister writes a register with retry logic
func (b *BusWithRetry) WriteRegister(file RegFile, offset uint16, data []byte) error {
	return b.WriteRegisterContext(context.Background(), file, offset, data)
}

// WriteRegisterContext writes a register with context support and retry logic
func (b *BusWithRetry) WriteRegisterContext(
	ctx context.Context, file RegFile, offset uint16, data []byte,
) error {
	retryConfig := GetRetryConfigForOp(OpRegisterWrite)
	return RetryWithConfig(ctx, retryConfig, func() error {
		err := b.bus.WriteRegisterContext(ctx, file, offset, data)
		if err != nil {
			return b.wrapOrRecover(ctx, "WriteRegister", err, func() error {
				return b.bus.WriteRegisterContext(ctx, file, offset, data)
			})
		}
		return nil
	})
}

// FastCommand issues a fast command with retry logic
func (b *BusWithRetry) FastCommand(cmd FastCommand) error {
	retryConfig := GetRetryConfigForOp(OpFastCommand)
	return RetryWithConfig(context.Background(), retryConfig, func() error {
		err := b.bus.FastCommand(cmd)
		if err != nil {
			return &BusError{
				Op:        "FastCommand",
				Err:       err,
				Kind:      errorKindOf(err),
				Retryable: IsRetryable(err),
			}
		}
		return nil
	})
}

// wrapOrRecover attempts device recovery for retryable errors, retrying the
// operation once after a successful recovery, and otherwise wraps the error
// for the retry loop.
func (b *BusWithRetry) wrapOrRecover(ctx context.Context, op string, err error, again func() error) error {
	if IsRetryable(err) && b.attemptRecovery(ctx) == nil {
		if retryErr := again(); retryErr == nil {
			return nil
		}
	}
	return &BusError{
		Op:        op,
		Err:       err,
		Kind:      errorKindOf(err),
		Retryable: IsRetryable(err),
	}
}

// attemptRecovery attempts to recover a wedged device: force the transceiver
// off, then verify the bus with a DEV_ID read as a health check.
func (b *BusWithRetry) attemptRecovery(ctx context.Context) error {
	if err := b.bus.FastCommand(CmdTxRxOff); err != nil {
		return fmt.Errorf("recovery TRXOFF failed: %w", err)
	}

	id, err := b.bus.ReadRegisterContext(ctx, RegGenCfg0, subDevID, 4)
	if err != nil {
		return fmt.Errorf("recovery health check failed: %w", err)
	}
	if len(id) != 4 {
		return errors.New("recovery health check returned short read")
	}
	return nil
}

// errorKindOf classifies an error for BusError wrapping
func errorKindOf(err error) ErrorKind {
	switch {
	case errors.Is(err, ErrBusTimeout):
		return KindTimeout
	case IsFatal(err):
		return KindPermanent
	default:
		return KindTransient
	}
}

// Close closes the bus connection
func (b *BusWithRetry) Close() error {
	if err := b.bus.Close(); err != nil {
		return fmt.Errorf("failed to close underlying bus: %w", err)
	}
	return nil
}

// SetTimeout sets the transaction timeout for the bus
func (b *BusWithRetry) SetTimeout(timeout time.Duration) error {
	if err := b.bus.SetTimeout(timeout); err != nil {
		return fmt.Errorf("failed to set timeout on underlying bus: %w", err)
	}
	return nil
}

// IsConnected returns true if the bus is connected
func (b *BusWithRetry) IsConnected() bool {
	return b.bus.IsConnected()
}

// Type returns the bus type
func (b *BusWithRetry) Type() BusType {
	return b.bus.Type()
}

// HasCapability forwards capability checking to the underlying bus
func (b *BusWithRetry) HasCapability(capability BusCapability) bool {
	if capChecker, ok := b.bus.(BusCapabilityChecker); ok {
		return capChecker.HasCapability(capability)
	}
	return false
}

// SetRetryConfig updates the retry configuration
func (b *BusWithRetry) SetRetryConfig(config *RetryConfig) {
	b.config = config
}

// regFileSize is the sub-address space backing each mock register file
const regFileSize = 4096

// MockBus provides a mock implementation of Bus for testing. It backs each
// register file with memory, so writes read back, and allows error
// injection per file plus a hook invoked on fast commands.
type MockBus struct {
	files       map[RegFile][]byte
	readErrs    map[RegFile]error
	writeErrs   map[RegFile]error
	fastErr     error
	onFast      func(cmd FastCommand)
	fastCmds    []FastCommand
	writeCounts map[RegFile]int
	timeout     time.Duration
	delay       time.Duration
	mu          sync.RWMutex
	connected   bool
}

// NewMockBus creates a new mock bus
func NewMockBus() *MockBus {
	return &MockBus{
		connected:   true,
		timeout:     time.Second,
		files:       make(map[RegFile][]byte),
		readErrs:    make(map[RegFile]error),
		writeErrs:   make(map[RegFile]error),
		writeCounts: make(map[RegFile]int),
	}
}

func (m *MockBus) file(f RegFile) []byte {
	if mem, ok := m.files[f]; ok {
		return mem
	}
	mem := make([]byte, regFileSize)
	m.files[f] = mem
	return mem
}

// ReadRegister implements Bus
func (m *MockBus) ReadRegister(file RegFile, offset uint16, length int) ([]byte, error) {
	return m.ReadRegisterContext(context.Background(), file, offset, length)
}

// ReadRegisterContext implements Bus with context support
func (m *MockBus) ReadRegisterContext(
	ctx context.Context, file RegFile, offset uint16, length int,
) ([]byte, error) {
	if err := m.simulate(ctx); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err, exists := m.readErrs[file]; exists {
		return nil, err
	}

	mem := m.file(file)
	if int(offset)+length > len(mem) {
		return nil, ErrInvalidResponse
	}
	out := make([]byte, length)
	copy(out, mem[offset:int(offset)+length])
	return out, nil
}

// WriteRegister implements Bus
func (m *MockBus) WriteRegister(file RegFile, offset uint16, data []byte) error {
	return m.WriteRegisterContext(context.Background(), file, offset, data)
}

// WriteRegisterContext implements Bus with context support
func (m *MockBus) WriteRegisterContext(
	ctx context.Context, file RegFile, offset uint16, data []byte,
) error {
	if err := m.simulate(ctx); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err, exists := m.writeErrs[file]; exists {
		return err
	}

	mem := m.file(file)
	if int(offset)+len(data) > len(mem) {
		return ErrFrameTooLarge
	}
	if file == RegGenCfg0 && offset == subSysStatus {
		// SYS_STATUS is write-1-to-clear on the real device
		for i, b := range data {
			mem[int(offset)+i] &^= b
		}
	} else {
		copy(mem[offset:], data)
	}
	m.writeCounts[file]++
	return nil
}

// FastCommand implements Bus
func (m *MockBus) FastCommand(cmd FastCommand) error {
	m.mu.Lock()
	if !m.connected {
		m.mu.Unlock()
		return ErrBusClosed
	}
	if m.fastErr != nil {
		err := m.fastErr
		m.mu.Unlock()
		return err
	}
	m.fastCmds = append(m.fastCmds, cmd)
	hook := m.onFast
	m.mu.Unlock()

	if hook != nil {
		hook(cmd)
	}
	return nil
}

// simulate checks connection state, context, and applies the configured delay
func (m *MockBus) simulate(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	m.mu.RLock()
	connected := m.connected
	delay := m.delay
	m.mu.RUnlock()

	if !connected {
		return ErrBusClosed
	}

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Close implements Bus
func (m *MockBus) Close() error {
	m.mu.Lock()
	m.connected = false
	m.mu.Unlock()
	return nil
}

// SetTimeout implements Bus
func (m *MockBus) SetTimeout(timeout time.Duration) error {
	m.mu.Lock()
	m.timeout = timeout
	m.mu.Unlock()
	return nil
}

// IsConnected implements Bus
func (m *MockBus) IsConnected() bool {
	m.mu.RLock()
	connected := m.connected
	m.mu.RUnlock()
	return connected
}

// Type implements Bus
func (*MockBus) Type() BusType {
	return BusMock
}

// HasCapability implements BusCapabilityChecker. The mock claims every
// capability so both code paths are reachable in tests.
func (*MockBus) HasCapability(BusCapability) bool {
	return true
}

// Test helper methods

// SetRegister seeds register file memory so subsequent reads observe it
func (m *MockBus) SetRegister(file RegFile, offset uint16, data []byte) {
	m.mu.Lock()
	copy(m.file(file)[offset:], data)
	m.mu.Unlock()
}

// Register returns a copy of register file memory for assertions
func (m *MockBus) Register(file RegFile, offset uint16, length int) []byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]byte, length)
	copy(out, m.file(file)[offset:int(offset)+length])
	return out
}

// SetReadError configures an error for reads of a register file
func (m *MockBus) SetReadError(file RegFile, err error) {
	m.mu.Lock()
	m.readErrs[file] = err
	m.mu.Unlock()
}

// SetWriteError configures an error for writes to a register file
func (m *MockBus) SetWriteError(file RegFile, err error) {
	m.mu.Lock()
	m.writeErrs[file] = err
	m.mu.Unlock()
}

// SetFastCommandError configures an error for fast commands
func (m *MockBus) SetFastCommandError(err error) {
	m.mu.Lock()
	m.fastErr = err
	m.mu.Unlock()
}

// ClearErrors removes all injected errors
func (m *MockBus) ClearErrors() {
	m.mu.Lock()
	m.readErrs = make(map[RegFile]error)
	m.writeErrs = make(map[RegFile]error)
	m.fastErr = nil
	m.mu.Unlock()
}

// OnFastCommand registers a hook invoked after each fast command. Tests use
// it to flip status bits the way the hardware would.
func (m *MockBus) OnFastCommand(hook func(cmd FastCommand)) {
	m.mu.Lock()
	m.onFast = hook
	m.mu.Unlock()
}

// FastCommands returns the fast commands issued so far
func (m *MockBus) FastCommands() []FastCommand {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]FastCommand, len(m.fastCmds))
	copy(out, m.fastCmds)
	return out
}

// WriteCount returns how many writes hit a register file
func (m *MockBus) WriteCount(file RegFile) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.writeCounts[file]
}

// SetDelay configures a delay to simulate bus transaction time
func (m *MockBus) SetDelay(delay time.Duration) {
	m.mu.Lock()
	m.delay = delay
	m.mu.Unlock()
}

// Reset clears counters, issued commands, and reconnects the mock
func (m *MockBus) Reset() {
	m.mu.Lock()
	m.writeCounts = make(map[RegFile]int)
	m.fastCmds = nil
	m.connected = true
	m.mu.Unlock()
}
