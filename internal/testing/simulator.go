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

// Package testing provides a register-level DW3000 simulator for driver
// and ranging tests. The simulator models the register files, the event
// status bits, a free-running device clock, and frame delivery, so the
// full arm/wait/timestamp path can be exercised without hardware.
package testing

import (
	"context"
	"encoding/binary"
	"sync"
	"time"

	dw3000 "github.com/uwbworks/go-dw3000"
)

// register file addressing constants mirrored from the driver's register map
const (
	fileSize      = 4096
	subDevID      = 0x00
	subTxFctrl    = 0x24
	subDxTime     = 0x2C
	subSysStatus  = 0x44
	subRxFinfo    = 0x4C
	subRxTime     = 0x64
	subTxTime     = 0x74
	subOtpAddr    = 0x04
	subOtpCfg     = 0x08
	subOtpRdat    = 0x10
	statusTXFRS   = 1 << 7
	statusCIADONE = 1 << 10
	statusRXFR    = 1 << 13
	statusRXFCG   = 1 << 14
)

// DefaultDeviceID is the DEV_ID value the simulator reports
const DefaultDeviceID uint32 = 0xDECA0302

// FrameAirTicks is the simulated on-air duration of one frame in device
// ticks (~1.1 microseconds, a short 6.8 Mb/s frame)
const FrameAirTicks = 70000

// InjectedFrame is a frame queued for delivery to the simulated receiver
type InjectedFrame struct {
	// Payload is the frame content excluding FCS
	Payload []byte
	// DelayTicks advances the device clock before the reception
	// timestamp is taken
	DelayTicks int64
}

// SimulatorBus implements dw3000.Bus backed by an in-memory register
// file. Fast commands move a simulated transceiver: transmissions
// timestamp against a free-running clock and invoke an optional hook,
// receptions deliver injected frames.
type SimulatorBus struct {
	files      map[dw3000.RegFile][]byte
	otp        map[uint16]uint32
	pendingRx  []InjectedFrame
	onTransmit func(payload []byte, txTime dw3000.Timestamp)
	clock      uint64
	timeout    time.Duration
	mu         sync.Mutex
	rxArmed    bool
	connected  bool
}

// NewSimulatorBus creates a simulator with a valid DEV_ID
func NewSimulatorBus() *SimulatorBus {
	s := &SimulatorBus{
		files:     make(map[dw3000.RegFile][]byte),
		otp:       make(map[uint16]uint32),
		timeout:   time.Second,
		connected: true,
		clock:     1 << 20, // arbitrary nonzero session start
	}
	var id [4]byte
	binary.LittleEndian.PutUint32(id[:], DefaultDeviceID)
	copy(s.file(dw3000.RegGenCfg0)[subDevID:], id[:])
	return s
}

func (s *SimulatorBus) file(f dw3000.RegFile) []byte {
	if mem, ok := s.files[f]; ok {
		return mem
	}
	mem := make([]byte, fileSize)
	s.files[f] = mem
	return mem
}

// ReadRegister implements dw3000.Bus
func (s *SimulatorBus) ReadRegister(file dw3000.RegFile, offset uint16, length int) ([]byte, error) {
	return s.ReadRegisterContext(context.Background(), file, offset, length)
}

// ReadRegisterContext implements dw3000.Bus
func (s *SimulatorBus) ReadRegisterContext(
	ctx context.Context, file dw3000.RegFile, offset uint16, length int,
) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return nil, dw3000.ErrBusClosed
	}
	mem := s.file(file)
	if int(offset)+length > len(mem) {
		return nil, dw3000.ErrInvalidResponse
	}
	out := make([]byte, length)
	copy(out, mem[offset:int(offset)+length])
	return out, nil
}

// WriteRegister implements dw3000.Bus
func (s *SimulatorBus) WriteRegister(file dw3000.RegFile, offset uint16, data []byte) error {
	return s.WriteRegisterContext(context.Background(), file, offset, data)
}

// WriteRegisterContext implements dw3000.Bus
func (s *SimulatorBus) WriteRegisterContext(
	ctx context.Context, file dw3000.RegFile, offset uint16, data []byte,
) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return dw3000.ErrBusClosed
	}
	mem := s.file(file)
	if int(offset)+len(data) > len(mem) {
		return dw3000.ErrInvalidResponse
	}

	switch {
	case file == dw3000.RegGenCfg0 && offset == subSysStatus:
		// write-1-to-clear
		for i, b := range data {
			mem[int(offset)+i] &^= b
		}
	case file == dw3000.RegOtpIf && offset == subOtpCfg:
		copy(mem[offset:], data)
		if len(data) > 0 && data[0]&0x02 != 0 {
			// manual OTP read: latch the addressed word into OTP_RDATA
			addr := binary.LittleEndian.Uint16(mem[subOtpAddr : subOtpAddr+2])
			binary.LittleEndian.PutUint32(mem[subOtpRdat:], s.otp[addr])
		}
	default:
		copy(mem[offset:], data)
	}
	return nil
}

// FastCommand implements dw3000.Bus
func (s *SimulatorBus) FastCommand(cmd dw3000.FastCommand) error {
	s.mu.Lock()
	if !s.connected {
		s.mu.Unlock()
		return dw3000.ErrBusClosed
	}

	var hook func(payload []byte, txTime dw3000.Timestamp)
	var payload []byte
	var txTime dw3000.Timestamp

	switch cmd {
	case dw3000.CmdTxRxOff, dw3000.CmdClearIRQs:
		s.rxArmed = false

	case dw3000.CmdTx, dw3000.CmdDelayedTx, dw3000.CmdTxWaitResp:
		gen := s.file(dw3000.RegGenCfg0)
		frameLen := int(binary.LittleEndian.Uint16(gen[subTxFctrl:subTxFctrl+2]) & 0x3FF)
		if frameLen >= 2 {
			payload = make([]byte, frameLen-2)
			copy(payload, s.file(dw3000.RegTxBuffer)[:frameLen-2])
		}

		if cmd == dw3000.CmdDelayedTx {
			dx := binary.LittleEndian.Uint32(gen[subDxTime : subDxTime+4])
			s.clock = uint64(dx) << 8
		} else {
			s.clock += FrameAirTicks
		}
		txTime = dw3000.Timestamp(s.clock)
		s.putTimestamp(subTxTime, s.clock)
		s.setStatus(statusTXFRS)
		hook = s.onTransmit
		if cmd == dw3000.CmdTxWaitResp {
			s.rxArmed = true
		}

	case dw3000.CmdRx, dw3000.CmdDelayedRx:
		s.rxArmed = true
		s.deliverPendingLocked()
	}
	s.mu.Unlock()

	if hook != nil {
		hook(payload, txTime)
	}

	s.mu.Lock()
	if s.rxArmed {
		s.deliverPendingLocked()
	}
	s.mu.Unlock()
	return nil
}

// putTimestamp writes a 40-bit timestamp into RegGenCfg0 memory
func (s *SimulatorBus) putTimestamp(offset uint16, value uint64) {
	mem := s.file(dw3000.RegGenCfg0)
	for i := 0; i < 5; i++ {
		mem[int(offset)+i] = byte(value >> (8 * i))
	}
}

// setStatus ORs event bits into SYS_STATUS
func (s *SimulatorBus) setStatus(bits uint32) {
	mem := s.file(dw3000.RegGenCfg0)
	current := binary.LittleEndian.Uint32(mem[subSysStatus : subSysStatus+4])
	binary.LittleEndian.PutUint32(mem[subSysStatus:], current|bits)
}

// deliverPendingLocked moves the oldest injected frame into the receive
// registers. Caller holds the lock.
func (s *SimulatorBus) deliverPendingLocked() {
	if len(s.pendingRx) == 0 || !s.rxArmed {
		return
	}
	frame := s.pendingRx[0]
	s.pendingRx = s.pendingRx[1:]

	copy(s.file(dw3000.RegRxBuffer0), frame.Payload)
	mem := s.file(dw3000.RegGenCfg0)
	binary.LittleEndian.PutUint32(mem[subRxFinfo:], uint32(len(frame.Payload)+2))

	s.clock += uint64(frame.DelayTicks)
	s.putTimestamp(subRxTime, s.clock)
	s.setStatus(statusRXFCG | statusRXFR | statusCIADONE)
	s.rxArmed = false
}

// Close implements dw3000.Bus
func (s *SimulatorBus) Close() error {
	s.mu.Lock()
	s.connected = false
	s.mu.Unlock()
	return nil
}

// SetTimeout implements dw3000.Bus
func (s *SimulatorBus) SetTimeout(timeout time.Duration) error {
	s.mu.Lock()
	s.timeout = timeout
	s.mu.Unlock()
	return nil
}

// IsConnected implements dw3000.Bus
func (s *SimulatorBus) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// Type implements dw3000.Bus
func (*SimulatorBus) Type() dw3000.BusType {
	return dw3000.BusMock
}

// HasCapability implements dw3000.BusCapabilityChecker
func (*SimulatorBus) HasCapability(dw3000.BusCapability) bool {
	return true
}

// Test control surface

// InjectFrame queues a frame for the receiver. If the receiver is armed
// the frame is delivered immediately; otherwise it waits for the next
// CmdRx.
func (s *SimulatorBus) InjectFrame(payload []byte, delayTicks int64) {
	s.mu.Lock()
	s.pendingRx = append(s.pendingRx, InjectedFrame{
		Payload:    append([]byte(nil), payload...),
		DelayTicks: delayTicks,
	})
	if s.rxArmed {
		s.deliverPendingLocked()
	}
	s.mu.Unlock()
}

// InjectStatus sets raw event bits, e.g. an RX error or device timeout
func (s *SimulatorBus) InjectStatus(bits uint32) {
	s.mu.Lock()
	s.setStatus(bits)
	s.rxArmed = false
	s.mu.Unlock()
}

// OnTransmit registers a hook called with each transmitted frame and its
// timestamp. The hook runs without the simulator lock held, so it may
// inject a response frame.
func (s *SimulatorBus) OnTransmit(hook func(payload []byte, txTime dw3000.Timestamp)) {
	s.mu.Lock()
	s.onTransmit = hook
	s.mu.Unlock()
}

// SetOTPWord seeds a word of simulated OTP memory
func (s *SimulatorBus) SetOTPWord(addr uint16, value uint32) {
	s.mu.Lock()
	s.otp[addr] = value
	s.mu.Unlock()
}

// Clock returns the current simulated device time
func (s *SimulatorBus) Clock() dw3000.Timestamp {
	s.mu.Lock()
	defer s.mu.Unlock()
	return dw3000.Timestamp(s.clock)
}

// AdvanceClock moves the simulated device time forward
func (s *SimulatorBus) AdvanceClock(ticks int64) {
	s.mu.Lock()
	s.clock += uint64(ticks)
	s.mu.Unlock()
}

// Register returns a copy of register memory for assertions
func (s *SimulatorBus) Register(file dw3000.RegFile, offset uint16, length int) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]byte, length)
	copy(out, s.file(file)[offset:int(offset)+length])
	return out
}
