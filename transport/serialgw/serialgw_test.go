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

package serialgw

import (
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial"

	dw3000 "github.com/uwbworks/go-dw3000"
)

var errMockPortClosed = errors.New("port is closed")

// mockGatewayPort implements serial.Port backed by an in-memory gateway
// that parses requests and answers from a register map. mangle, when set,
// rewrites each response before it is queued for reading.
type mockGatewayPort struct {
	regs     map[byte][]byte
	mangle   func([]byte) []byte
	rxBuf    []byte
	requests [][]byte
	fastCmds []byte
	closed   bool
}

func newMockGatewayPort() *mockGatewayPort {
	return &mockGatewayPort{regs: make(map[byte][]byte)}
}

func (m *mockGatewayPort) reg(file byte) []byte {
	if mem, ok := m.regs[file]; ok {
		return mem
	}
	mem := make([]byte, maxPayloadLen)
	m.regs[file] = mem
	return mem
}

// Write parses one framed request and queues the gateway's response
func (m *mockGatewayPort) Write(p []byte) (int, error) {
	if m.closed {
		return 0, errMockPortClosed
	}
	m.requests = append(m.requests, append([]byte(nil), p...))

	if len(p) < reqHeaderLen+1 || p[0] != sofByte {
		m.queueResponse(respError, nil)
		return len(p), nil
	}
	op := p[1]
	file := p[2]
	offset := binary.LittleEndian.Uint16(p[3:5])
	length := int(binary.LittleEndian.Uint16(p[5:7]))
	payload := p[reqHeaderLen : len(p)-1]
	if checksum(p[1:len(p)-1]) != p[len(p)-1] {
		m.queueResponse(respError, nil)
		return len(p), nil
	}

	switch op {
	case opRegRead:
		mem := m.reg(file)
		m.queueResponse(respOK, mem[offset:int(offset)+length])
	case opRegWrite:
		copy(m.reg(file)[offset:], payload)
		m.queueResponse(respOK, nil)
	case opFastCmd:
		m.fastCmds = append(m.fastCmds, file)
		m.queueResponse(respOK, nil)
	default:
		m.queueResponse(respError, nil)
	}
	return len(p), nil
}

func (m *mockGatewayPort) queueResponse(status byte, payload []byte) {
	hdr := make([]byte, respHeaderLen)
	hdr[0] = sofByte
	hdr[1] = status
	binary.LittleEndian.PutUint16(hdr[2:], uint16(len(payload)))

	resp := make([]byte, 0, respHeaderLen+len(payload)+1)
	resp = append(resp, hdr...)
	resp = append(resp, payload...)
	resp = append(resp, checksum(hdr[1:], payload))
	if m.mangle != nil {
		resp = m.mangle(resp)
	}
	m.rxBuf = append(m.rxBuf, resp...)
}

func (m *mockGatewayPort) Read(p []byte) (int, error) {
	if m.closed {
		return 0, errMockPortClosed
	}
	n := copy(p, m.rxBuf)
	m.rxBuf = m.rxBuf[n:]
	return n, nil
}

func (*mockGatewayPort) SetMode(*serial.Mode) error { return nil }

func (*mockGatewayPort) Drain() error { return nil }

func (*mockGatewayPort) ResetInputBuffer() error { return nil }

func (*mockGatewayPort) ResetOutputBuffer() error { return nil }

func (*mockGatewayPort) SetDTR(bool) error { return nil }

func (*mockGatewayPort) SetRTS(bool) error { return nil }

func (*mockGatewayPort) SetReadTimeout(time.Duration) error { return nil }

func (*mockGatewayPort) Break(time.Duration) error { return nil }

func (m *mockGatewayPort) Close() error {
	m.closed = true
	return nil
}

func (*mockGatewayPort) GetModemStatusBits() (*serial.ModemStatusBits, error) {
	return &serial.ModemStatusBits{}, nil
}

var _ serial.Port = (*mockGatewayPort)(nil)

func newTestBus(port *mockGatewayPort) *Bus {
	return &Bus{port: port, portName: "mock"}
}

func TestChecksum(t *testing.T) {
	t.Parallel()

	assert.Zero(t, checksum())
	assert.Zero(t, checksum(nil, []byte{}))
	assert.Equal(t, byte(0xFF), checksum([]byte{0xF0, 0x0F}))
	assert.Equal(t, byte(0x01), checksum([]byte{0xDE, 0xCA}, []byte{0x15}))
	// XOR of a value with itself cancels out
	assert.Zero(t, checksum([]byte{0x42, 0x42}))
}

func TestReadRegister_WireFormat(t *testing.T) {
	t.Parallel()

	port := newMockGatewayPort()
	copy(port.reg(byte(dw3000.RegGenCfg0)), []byte{0x02, 0x03, 0xCA, 0xDE})
	bus := newTestBus(port)

	got, err := bus.ReadRegister(dw3000.RegGenCfg0, 0x00, 4)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x02, 0x03, 0xCA, 0xDE}, got)

	// One framed request went over the wire
	require.Len(t, port.requests, 1)
	req := port.requests[0]
	require.Len(t, req, reqHeaderLen+1)
	assert.Equal(t, byte(sofByte), req[0])
	assert.Equal(t, byte(opRegRead), req[1])
	assert.Equal(t, byte(dw3000.RegGenCfg0), req[2])
	assert.Equal(t, uint16(0), binary.LittleEndian.Uint16(req[3:5]))
	assert.Equal(t, uint16(4), binary.LittleEndian.Uint16(req[5:7]))
	assert.Equal(t, checksum(req[1:7]), req[7])
}

func TestWriteRegister_WireFormat(t *testing.T) {
	t.Parallel()

	port := newMockGatewayPort()
	bus := newTestBus(port)

	data := []byte{0xAA, 0xBB, 0xCC}
	require.NoError(t, bus.WriteRegister(dw3000.RegTxBuffer, 0x10, data))

	// The gateway applied the write to its register memory
	assert.Equal(t, data, port.reg(byte(dw3000.RegTxBuffer))[0x10:0x13])

	req := port.requests[0]
	assert.Equal(t, byte(opRegWrite), req[1])
	assert.Equal(t, uint16(0x10), binary.LittleEndian.Uint16(req[3:5]))
	assert.Equal(t, data, req[reqHeaderLen:reqHeaderLen+3])
	assert.Equal(t, checksum(req[1:len(req)-1]), req[len(req)-1])
}

func TestFastCommand_WireFormat(t *testing.T) {
	t.Parallel()

	port := newMockGatewayPort()
	bus := newTestBus(port)

	require.NoError(t, bus.FastCommand(dw3000.CmdTxRxOff))
	require.NoError(t, bus.FastCommand(dw3000.CmdTx))

	assert.Equal(t, []byte{byte(dw3000.CmdTxRxOff), byte(dw3000.CmdTx)}, port.fastCmds)
}

func TestReadRegister_LengthValidation(t *testing.T) {
	t.Parallel()

	bus := newTestBus(newMockGatewayPort())

	_, err := bus.ReadRegister(dw3000.RegGenCfg0, 0, -1)
	require.ErrorIs(t, err, dw3000.ErrInvalidResponse)

	_, err = bus.ReadRegister(dw3000.RegGenCfg0, 0, maxPayloadLen+1)
	require.ErrorIs(t, err, dw3000.ErrInvalidResponse)
}

func TestReadResponse_BadSOF(t *testing.T) {
	t.Parallel()

	port := newMockGatewayPort()
	port.mangle = func(resp []byte) []byte {
		resp[0] = 0x55
		return resp
	}
	bus := newTestBus(port)

	_, err := bus.ReadRegister(dw3000.RegGenCfg0, 0, 4)
	require.ErrorIs(t, err, dw3000.ErrInvalidResponse)
	// The trace buffer recorded the exchange for diagnostics
	assert.True(t, dw3000.HasTrace(err))
}

func TestReadResponse_ChecksumMismatch(t *testing.T) {
	t.Parallel()

	port := newMockGatewayPort()
	port.mangle = func(resp []byte) []byte {
		resp[len(resp)-1] ^= 0xFF
		return resp
	}
	bus := newTestBus(port)

	_, err := bus.ReadRegister(dw3000.RegGenCfg0, 0, 4)
	require.ErrorIs(t, err, dw3000.ErrInvalidResponse)
}

func TestReadResponse_GatewayErrorStatus(t *testing.T) {
	t.Parallel()

	port := newMockGatewayPort()
	port.mangle = func(resp []byte) []byte {
		resp[1] = respError
		return resp
	}
	bus := newTestBus(port)

	_, err := bus.ReadRegister(dw3000.RegGenCfg0, 0, 4)
	require.ErrorIs(t, err, dw3000.ErrInvalidResponse)
	assert.Contains(t, err.Error(), "gateway status")
}

func TestBusLifecycle(t *testing.T) {
	t.Parallel()

	port := newMockGatewayPort()
	bus := newTestBus(port)

	assert.True(t, bus.IsConnected())
	assert.Equal(t, dw3000.BusSerialGateway, bus.Type())
	assert.True(t, bus.HasCapability(dw3000.CapabilityDelayedTRX))
	assert.False(t, bus.HasCapability(dw3000.CapabilityDoubleBuffer))

	require.NoError(t, bus.Close())
	assert.False(t, bus.IsConnected())
	assert.True(t, port.closed)
}
