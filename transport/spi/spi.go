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

// Package spi provides the native SPI bus implementation for DW3000
package spi

import (
	"context"
	"fmt"
	"time"

	dw3000 "github.com/uwbworks/go-dw3000"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"
)

const (
	// Transaction header bits. The DW3000 uses a 16-bit header for full
	// register access: bit 15 selects write, bit 14 selects the two-octet
	// form carrying a sub-address, bits 13:9 hold the register file ID and
	// bits 8:2 the sub-address.
	headerWrite    uint16 = 1 << 15
	headerSubIndex uint16 = 1 << 14

	// Fast commands use a single octet: bit 7 and bit 0 set, the command
	// code in bits 5:1.
	fastCmdBase = 0x81

	maxTransferLen = 4096 + 2 // largest register file plus header

	// The DW3000 SPI interface is specified up to 36 MHz after PLL lock.
	// 8 MHz is safe in all clock states.
	defaultFreq = 8 * physic.MegaHertz
	mode        = spi.Mode0
)

// Bus implements the dw3000.Bus interface over a native SPI connection
type Bus struct {
	port         spi.PortCloser
	conn         spi.Conn
	currentTrace *dw3000.TraceBuffer // trace buffer for current transaction (error-only)
	portName     string
	timeout      time.Duration
}

// New opens the named SPI port and connects to the DW3000
func New(portName string) (*Bus, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize periph host: %w", err)
	}

	port, err := spireg.Open(portName)
	if err != nil {
		return nil, fmt.Errorf("failed to open SPI port %s: %w", portName, err)
	}

	conn, err := port.Connect(defaultFreq, mode, 8)
	if err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("failed to connect SPI: %w", err)
	}

	return &Bus{
		port:     port,
		conn:     conn,
		portName: portName,
		timeout:  50 * time.Millisecond,
	}, nil
}

// traceTX records a TX operation if a trace buffer is active
func (b *Bus) traceTX(data []byte, note string) {
	if b.currentTrace != nil {
		b.currentTrace.RecordTX(data, note)
	}
}

// traceRX records an RX operation if a trace buffer is active
func (b *Bus) traceRX(data []byte, note string) {
	if b.currentTrace != nil {
		b.currentTrace.RecordRX(data, note)
	}
}

// header builds the two-octet transaction header
func header(file dw3000.RegFile, offset uint16, write bool) [2]byte {
	h := headerSubIndex
	h |= uint16(file&0x1F) << 9
	h |= (offset & 0x7F) << 2
	if write {
		h |= headerWrite
	}
	return [2]byte{byte(h >> 8), byte(h)}
}

// ReadRegister reads length octets starting at the sub-address
func (b *Bus) ReadRegister(file dw3000.RegFile, offset uint16, length int) ([]byte, error) {
	return b.ReadRegisterContext(context.Background(), file, offset, length)
}

// ReadRegisterContext reads length octets with context support
//
//nolint:wrapcheck // WrapError intentionally wraps errors with trace data
func (b *Bus) ReadRegisterContext(
	ctx context.Context, file dw3000.RegFile, offset uint16, length int,
) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	if length < 0 || length > maxTransferLen-2 {
		return nil, fmt.Errorf("%w: read length %d", dw3000.ErrInvalidResponse, length)
	}

	b.currentTrace = dw3000.NewTraceBuffer("SPI", b.portName, 16)
	defer func() { b.currentTrace = nil }()

	hdr := header(file, offset, false)
	tx := make([]byte, 2+length)
	rx := make([]byte, 2+length)
	copy(tx, hdr[:])

	b.traceTX(hdr[:], fmt.Sprintf("Read %02X:%02X len %d", byte(file), offset, length))
	if err := b.conn.Tx(tx, rx); err != nil {
		return nil, b.currentTrace.WrapError(
			dw3000.NewBusReadError("ReadRegister", b.portName, err))
	}
	b.traceRX(rx[2:], "")

	out := make([]byte, length)
	copy(out, rx[2:])
	return out, nil
}

// WriteRegister writes data starting at the sub-address
func (b *Bus) WriteRegister(file dw3000.RegFile, offset uint16, data []byte) error {
	return b.WriteRegisterContext(context.Background(), file, offset, data)
}

// WriteRegisterContext writes data with context support
//
//nolint:wrapcheck // WrapError intentionally wraps errors with trace data
func (b *Bus) WriteRegisterContext(
	ctx context.Context, file dw3000.RegFile, offset uint16, data []byte,
) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	if len(data) > maxTransferLen-2 {
		return fmt.Errorf("%w: write length %d", dw3000.ErrInvalidResponse, len(data))
	}

	b.currentTrace = dw3000.NewTraceBuffer("SPI", b.portName, 16)
	defer func() { b.currentTrace = nil }()

	hdr := header(file, offset, true)
	tx := make([]byte, 2+len(data))
	copy(tx, hdr[:])
	copy(tx[2:], data)

	b.traceTX(tx, fmt.Sprintf("Write %02X:%02X len %d", byte(file), offset, len(data)))
	if err := b.conn.Tx(tx, nil); err != nil {
		return b.currentTrace.WrapError(
			dw3000.NewBusWriteError("WriteRegister", b.portName, err))
	}
	return nil
}

// FastCommand issues a single-octet fast command transaction
func (b *Bus) FastCommand(cmd dw3000.FastCommand) error {
	octet := []byte{fastCmdBase | byte(cmd)<<1}
	if err := b.conn.Tx(octet, nil); err != nil {
		return dw3000.NewBusWriteError("FastCommand", b.portName, err)
	}
	return nil
}

// SetTimeout sets the transaction timeout
func (b *Bus) SetTimeout(timeout time.Duration) error {
	b.timeout = timeout
	return nil
}

// Close closes the SPI port
func (b *Bus) Close() error {
	if b.port != nil {
		if err := b.port.Close(); err != nil {
			return fmt.Errorf("SPI close failed: %w", err)
		}
		b.port = nil
	}
	return nil
}

// IsConnected returns true if the port is open
func (b *Bus) IsConnected() bool {
	return b.port != nil
}

// Type returns the bus type
func (*Bus) Type() dw3000.BusType {
	return dw3000.BusSPI
}

// HasCapability reports optional bus features. Delayed transmission and
// double buffering need the deterministic timing a native SPI link gives.
func (*Bus) HasCapability(c dw3000.BusCapability) bool {
	switch c {
	case dw3000.CapabilityDelayedTRX, dw3000.CapabilityDoubleBuffer:
		return true
	default:
		return false
	}
}
