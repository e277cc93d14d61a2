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

// Package serialgw provides a serial gateway bus implementation. It talks
// to a microcontroller that bridges a UART link to the DW3000 SPI
// interface, using a small framed request/response protocol. This is the
// bus to use with USB-attached evaluation boards.
package serialgw

import (
	"context"
	"encoding/binary"
	"fmt"
	"runtime"
	"sync"
	"time"

	dw3000 "github.com/uwbworks/go-dw3000"
	"go.bug.st/serial"
)

// Wire protocol. Each request is SOF, opcode, register file, 16-bit
// sub-address, 16-bit length, payload for writes, then an XOR checksum
// over everything after SOF. Responses carry a status octet instead of
// the opcode.
const (
	sofByte = 0xDA

	opRegRead  = 0x01
	opRegWrite = 0x02
	opFastCmd  = 0x03

	respOK    = 0x00
	respError = 0x01

	reqHeaderLen  = 7
	respHeaderLen = 4

	maxPayloadLen = 4096
)

// Bus implements the dw3000.Bus interface over a UART gateway
type Bus struct {
	port         serial.Port
	currentTrace *dw3000.TraceBuffer // trace buffer for current request (error-only)
	portName     string
	mu           sync.Mutex
}

// defaultReadTimeout returns the platform read timeout. Windows serial
// drivers need more slack than the POSIX ones.
func defaultReadTimeout() time.Duration {
	if runtime.GOOS == "windows" {
		return 100 * time.Millisecond
	}
	return 50 * time.Millisecond
}

// New opens the named serial port and creates a gateway bus
func New(portName string) (*Bus, error) {
	port, err := serial.Open(portName, &serial.Mode{
		BaudRate: 115200,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", portName, err)
	}

	if err := port.SetReadTimeout(defaultReadTimeout()); err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("failed to set serial read timeout: %w", err)
	}

	return &Bus{
		port:     port,
		portName: portName,
	}, nil
}

// checksum computes the XOR of all octets
func checksum(parts ...[]byte) byte {
	var sum byte
	for _, p := range parts {
		for _, b := range p {
			sum ^= b
		}
	}
	return sum
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

// writeRequest frames and sends one request
func (b *Bus) writeRequest(op byte, file dw3000.RegFile, offset uint16, length int, payload []byte) error {
	hdr := make([]byte, reqHeaderLen)
	hdr[0] = sofByte
	hdr[1] = op
	hdr[2] = byte(file)
	binary.LittleEndian.PutUint16(hdr[3:], offset)
	binary.LittleEndian.PutUint16(hdr[5:], uint16(length))

	req := make([]byte, 0, reqHeaderLen+len(payload)+1)
	req = append(req, hdr...)
	req = append(req, payload...)
	req = append(req, checksum(hdr[1:], payload))

	b.traceTX(req, fmt.Sprintf("Op 0x%02X", op))
	if _, err := b.port.Write(req); err != nil {
		if classifyPortError(err) {
			return dw3000.NewBusError("writeRequest", b.portName,
				fmt.Errorf("gateway gone: %w", err), dw3000.KindPermanent)
		}
		return dw3000.NewBusWriteError("writeRequest", b.portName, err)
	}
	return nil
}

// readExact reads exactly len(buf) octets, retrying short reads until the
// deadline. go.bug.st/serial returns n=0 without error on a read timeout.
func (b *Bus) readExact(ctx context.Context, buf []byte, deadline time.Time) error {
	got := 0
	for got < len(buf) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if time.Now().After(deadline) {
			b.currentTrace.RecordTimeout("gateway response")
			return dw3000.NewTimeoutError("readExact", b.portName)
		}
		n, err := b.port.Read(buf[got:])
		if err != nil {
			if classifyPortError(err) {
				return dw3000.NewBusError("readExact", b.portName,
					fmt.Errorf("gateway gone: %w", err), dw3000.KindPermanent)
			}
			return dw3000.NewBusReadError("readExact", b.portName, err)
		}
		got += n
	}
	return nil
}

// readResponse reads and validates one response, returning its payload
func (b *Bus) readResponse(ctx context.Context, op byte) ([]byte, error) {
	deadline := time.Now().Add(5 * time.Second)

	hdr := make([]byte, respHeaderLen)
	if err := b.readExact(ctx, hdr, deadline); err != nil {
		return nil, err
	}
	if hdr[0] != sofByte {
		b.traceRX(hdr, "Bad SOF")
		return nil, dw3000.NewInvalidResponseError("readResponse", b.portName)
	}
	if hdr[1] != respOK {
		b.traceRX(hdr, "Gateway error status")
		return nil, fmt.Errorf("%w: gateway status 0x%02X for op 0x%02X",
			dw3000.ErrInvalidResponse, hdr[1], op)
	}

	length := int(binary.LittleEndian.Uint16(hdr[2:]))
	if length > maxPayloadLen {
		return nil, dw3000.NewInvalidResponseError("readResponse", b.portName)
	}

	body := make([]byte, length+1) // payload plus checksum
	if err := b.readExact(ctx, body, deadline); err != nil {
		return nil, err
	}
	payload := body[:length]
	if checksum(hdr[1:], payload) != body[length] {
		b.traceRX(body, "Checksum mismatch")
		return nil, dw3000.NewInvalidResponseError("readResponse", b.portName)
	}
	b.traceRX(payload, "Response")
	return payload, nil
}

// roundTrip performs one request/response exchange under the lock
//
//nolint:wrapcheck // WrapError intentionally wraps errors with trace data
func (b *Bus) roundTrip(
	ctx context.Context, op byte, file dw3000.RegFile, offset uint16, length int, payload []byte,
) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.currentTrace = dw3000.NewTraceBuffer("SerialGW", b.portName, 16)
	defer func() { b.currentTrace = nil }()

	if err := b.writeRequest(op, file, offset, length, payload); err != nil {
		return nil, b.currentTrace.WrapError(err)
	}
	resp, err := b.readResponse(ctx, op)
	if err != nil {
		return nil, b.currentTrace.WrapError(err)
	}
	return resp, nil
}

// ReadRegister reads length octets starting at the sub-address
func (b *Bus) ReadRegister(file dw3000.RegFile, offset uint16, length int) ([]byte, error) {
	return b.ReadRegisterContext(context.Background(), file, offset, length)
}

// ReadRegisterContext reads length octets with context support
func (b *Bus) ReadRegisterContext(
	ctx context.Context, file dw3000.RegFile, offset uint16, length int,
) ([]byte, error) {
	if length < 0 || length > maxPayloadLen {
		return nil, fmt.Errorf("%w: read length %d", dw3000.ErrInvalidResponse, length)
	}
	resp, err := b.roundTrip(ctx, opRegRead, file, offset, length, nil)
	if err != nil {
		return nil, err
	}
	if len(resp) != length {
		return nil, fmt.Errorf("%w: expected %d octets, got %d",
			dw3000.ErrInvalidResponse, length, len(resp))
	}
	return resp, nil
}

// WriteRegister writes data starting at the sub-address
func (b *Bus) WriteRegister(file dw3000.RegFile, offset uint16, data []byte) error {
	return b.WriteRegisterContext(context.Background(), file, offset, data)
}

// WriteRegisterContext writes data with context support
func (b *Bus) WriteRegisterContext(
	ctx context.Context, file dw3000.RegFile, offset uint16, data []byte,
) error {
	if len(data) > maxPayloadLen {
		return fmt.Errorf("%w: write length %d", dw3000.ErrInvalidResponse, len(data))
	}
	_, err := b.roundTrip(ctx, opRegWrite, file, offset, len(data), data)
	return err
}

// FastCommand issues a fast command through the gateway. The register
// file field of the request carries the command code.
func (b *Bus) FastCommand(cmd dw3000.FastCommand) error {
	_, err := b.roundTrip(context.Background(), opFastCmd, dw3000.RegFile(cmd), 0, 0, nil)
	return err
}

// SetTimeout sets the serial read timeout
func (b *Bus) SetTimeout(timeout time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.port.SetReadTimeout(timeout); err != nil {
		return fmt.Errorf("serial set timeout failed: %w", err)
	}
	return nil
}

// Close closes the serial port
func (b *Bus) Close() error {
	if b.port != nil {
		if err := b.port.Close(); err != nil {
			return fmt.Errorf("serial close failed: %w", err)
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
	return dw3000.BusSerialGateway
}

// HasCapability reports optional bus features. Delayed transmission is
// timed by the chip's DX_TIME register so the gateway latency does not
// matter; double buffering is not exposed by the gateway firmware.
func (*Bus) HasCapability(c dw3000.BusCapability) bool {
	return c == dw3000.CapabilityDelayedTRX
}
