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
)

// State is the frame control state of the driver. Transitions are driven
// by arm calls and by device event status while waiting.
type State int

const (
	// StateIdle - no TX or RX operation outstanding
	StateIdle State = iota
	// StateTxArmed - a transmission has been started
	StateTxArmed
	// StateTxComplete - the frame was sent, timestamp available
	StateTxComplete
	// StateRxArmed - the receiver is enabled
	StateRxArmed
	// StateRxComplete - a good frame was received
	StateRxComplete
	// StateRxTimeout - the receiver timed out waiting for a frame
	StateRxTimeout
	// StateRxError - reception failed with a frame error
	StateRxError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateTxArmed:
		return "TxArmed"
	case StateTxComplete:
		return "TxComplete"
	case StateRxArmed:
		return "RxArmed"
	case StateRxComplete:
		return "RxComplete"
	case StateRxTimeout:
		return "RxTimeout"
	case StateRxError:
		return "RxError"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// State returns the current frame control state
func (d *Device) State() State {
	return d.state
}

// RxFrame is a received frame with its reception timestamp
type RxFrame struct {
	// Payload is the frame content excluding the 2-byte FCS
	Payload []byte
	// Timestamp is the RMARKER reception time, antenna delay applied by
	// the device's CIA
	Timestamp Timestamp
}

// readStatus reads the 32-bit SYS_STATUS event register
func (d *Device) readStatus(ctx context.Context) (uint32, error) {
	raw, err := d.bus.ReadRegisterContext(ctx, RegGenCfg0, subSysStatus, 4)
	if err != nil {
		return 0, fmt.Errorf("failed to read status: %w", err)
	}
	if len(raw) != 4 {
		return 0, fmt.Errorf("%w: status read returned %d bytes", ErrInvalidResponse, len(raw))
	}
	return binary.LittleEndian.Uint32(raw), nil
}

// clearStatus writes back event bits to clear them (write-1-to-clear)
func (d *Device) clearStatus(ctx context.Context, bits uint32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], bits)
	return d.bus.WriteRegisterContext(ctx, RegGenCfg0, subSysStatus, buf[:])
}

// readTimestamp40 reads a 40-bit device timestamp register
func (d *Device) readTimestamp40(ctx context.Context, file RegFile, offset uint16) (Timestamp, error) {
	raw, err := d.bus.ReadRegisterContext(ctx, file, offset, 5)
	if err != nil {
		return 0, fmt.Errorf("failed to read timestamp: %w", err)
	}
	if len(raw) != 5 {
		return 0, fmt.Errorf("%w: timestamp read returned %d bytes", ErrInvalidResponse, len(raw))
	}
	var ts uint64
	for i := 4; i >= 0; i-- {
		ts = ts<<8 | uint64(raw[i])
	}
	return Timestamp(ts), nil
}

// ArmTransmit loads a frame into the TX buffer and starts transmission.
// The driver owns payload until WaitTransmitDone or Abort returns; arming
// again while a frame is outstanding fails with ErrBufferBusy.
func (d *Device) ArmTransmit(payload []byte) error {
	return d.ArmTransmitContext(context.Background(), payload)
}

// ArmTransmitContext is ArmTransmit with context support
func (d *Device) ArmTransmitContext(ctx context.Context, payload []byte) error {
	return d.armTransmit(ctx, payload, 0, CmdTx)
}

// ArmTransmitAt starts a delayed transmission at the given device time.
// The bus must support delayed TRX (native SPI); gateways with
// millisecond turnaround cannot hit the DX_TIME window.
func (d *Device) ArmTransmitAt(ctx context.Context, payload []byte, txTime Timestamp) error {
	if !d.SupportsDelayedTRX() {
		return fmt.Errorf("%w: bus does not support delayed transmit", ErrInvalidState)
	}
	return d.armTransmit(ctx, payload, txTime, CmdDelayedTx)
}

func (d *Device) armTransmit(ctx context.Context, payload []byte, txTime Timestamp, cmd FastCommand) error {
	if d.state != StateIdle {
		return fmt.Errorf("%w: transmit while %s", ErrInvalidState, d.state)
	}
	if d.txPending != nil {
		return ErrBufferBusy
	}
	if d.rfConfig == nil {
		return ErrNotConfigured
	}
	if len(payload) > maxPayloadLen {
		return fmt.Errorf("%w: %d bytes, maximum %d", ErrFrameTooLarge, len(payload), maxPayloadLen)
	}

	if err := d.clearStatus(ctx, statusAllRxTx); err != nil {
		return fmt.Errorf("failed to clear status before transmit: %w", err)
	}

	if err := d.bus.WriteRegisterContext(ctx, RegTxBuffer, 0, payload); err != nil {
		return fmt.Errorf("failed to write TX buffer: %w", err)
	}

	// TX_FCTRL: frame length including FCS in bits 9:0, rate and PSR from
	// the applied configuration above.
	fctrl := uint32(d.rfConfig.txFctrlTemplate()) | uint32(len(payload)+fcsLen)
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], fctrl)
	if err := d.bus.WriteRegisterContext(ctx, RegGenCfg0, subTxFctrl, buf[:]); err != nil {
		return fmt.Errorf("failed to write TX frame control: %w", err)
	}

	if cmd == CmdDelayedTx {
		// DX_TIME takes the upper 32 bits of the 40-bit time, the
		// device zeroes the low byte internally.
		binary.LittleEndian.PutUint32(buf[:], uint32(txTime>>8))
		if err := d.bus.WriteRegisterContext(ctx, RegGenCfg0, subDxTime, buf[:]); err != nil {
			return fmt.Errorf("failed to write delayed TX time: %w", err)
		}
	}

	if err := d.bus.FastCommand(cmd); err != nil {
		return fmt.Errorf("failed to start transmission: %w", err)
	}

	d.txPending = payload
	d.state = StateTxArmed
	debugf("TX armed, %d byte frame", len(payload))
	return nil
}

// WaitTransmitDone blocks until the armed frame is sent and returns the
// transmit timestamp. The frame buffer is released on return, success or
// not, and the machine goes back to Idle.
func (d *Device) WaitTransmitDone(ctx context.Context) (Timestamp, error) {
	if d.state != StateTxArmed {
		return 0, fmt.Errorf("%w: wait for transmit while %s", ErrInvalidState, d.state)
	}

	deadline := d.config.Timeout
	err := d.pollStatus(ctx, deadline, statusTXFRS, 0)
	d.txPending = nil
	if err != nil {
		d.state = StateIdle
		_ = d.bus.FastCommand(CmdTxRxOff)
		return 0, err
	}
	d.state = StateTxComplete

	ts, err := d.readTimestamp40(ctx, RegGenCfg0, subTxTime)
	if err != nil {
		d.state = StateIdle
		return 0, err
	}

	if err := d.clearStatus(ctx, statusTXFRS|statusTXFRB|statusTXPRS|statusTXPHS); err != nil {
		d.state = StateIdle
		return 0, fmt.Errorf("failed to clear TX status: %w", err)
	}
	d.state = StateIdle
	return ts, nil
}

// Transmit sends a frame and returns its transmit timestamp
func (d *Device) Transmit(ctx context.Context, payload []byte) (Timestamp, error) {
	if err := d.ArmTransmitContext(ctx, payload); err != nil {
		return 0, err
	}
	return d.WaitTransmitDone(ctx)
}

// ArmReceive enables the receiver
func (d *Device) ArmReceive() error {
	return d.ArmReceiveContext(context.Background())
}

// ArmReceiveContext is ArmReceive with context support
func (d *Device) ArmReceiveContext(ctx context.Context) error {
	if d.state != StateIdle {
		return fmt.Errorf("%w: receive while %s", ErrInvalidState, d.state)
	}
	if d.rfConfig == nil {
		return ErrNotConfigured
	}

	if err := d.clearStatus(ctx, statusAllRxTx); err != nil {
		return fmt.Errorf("failed to clear status before receive: %w", err)
	}
	if err := d.bus.FastCommand(CmdRx); err != nil {
		return fmt.Errorf("failed to enable receiver: %w", err)
	}
	d.state = StateRxArmed
	debugln("RX armed")
	return nil
}

// WaitFrame blocks until a frame arrives, the receive times out, or
// reception fails. On timeout the machine reports ErrTimeout exactly once
// and returns to Idle; the caller may re-arm. On frame errors the status
// detail is carried in a StatusError.
func (d *Device) WaitFrame(ctx context.Context) (*RxFrame, error) {
	if d.state != StateRxArmed {
		return nil, fmt.Errorf("%w: wait for frame while %s", ErrInvalidState, d.state)
	}

	deadline := d.frameTimeout
	if deadline <= 0 {
		deadline = d.config.Timeout
	}

	err := d.pollStatus(ctx, deadline, statusRXFCG, statusRxError|statusRxTimeout)
	if err != nil {
		// Device-side timeout events, host deadline expiry, and frame
		// errors all force the receiver off before reporting.
		_ = d.bus.FastCommand(CmdTxRxOff)
		_ = d.clearStatus(ctx, statusAllRxTx)
		d.state = StateIdle
		var se *StatusError
		switch {
		case errors.As(err, &se) && se.IsTimeout():
			return nil, fmt.Errorf("%w: %w", ErrTimeout, err)
		case errors.As(err, &se) && se.IsFrameError():
			return nil, fmt.Errorf("%w: %w", ErrRxFrame, err)
		default:
			return nil, err
		}
	}

	d.state = StateRxComplete
	frame, err := d.readReceivedFrame(ctx)
	if err != nil {
		d.state = StateIdle
		return nil, err
	}

	if err := d.clearStatus(ctx, statusAllRxTx); err != nil {
		d.state = StateIdle
		return nil, fmt.Errorf("failed to clear RX status: %w", err)
	}
	d.state = StateIdle
	return frame, nil
}

// readReceivedFrame reads RX_FINFO for the frame length, then the frame
// data and reception timestamp
func (d *Device) readReceivedFrame(ctx context.Context) (*RxFrame, error) {
	raw, err := d.bus.ReadRegisterContext(ctx, RegGenCfg0, subRxFinfo, 4)
	if err != nil {
		return nil, fmt.Errorf("failed to read RX frame info: %w", err)
	}
	finfo := binary.LittleEndian.Uint32(raw)
	frameLen := int(finfo & 0x3FF)
	if frameLen < fcsLen || frameLen > maxFrameLen {
		return nil, fmt.Errorf("%w: RX frame length %d", ErrInvalidResponse, frameLen)
	}

	payloadLen := frameLen - fcsLen
	var payload []byte
	if payloadLen > 0 {
		payload, err = d.bus.ReadRegisterContext(ctx, RegRxBuffer0, 0, payloadLen)
		if err != nil {
			return nil, fmt.Errorf("failed to read RX buffer: %w", err)
		}
	}

	ts, err := d.readTimestamp40(ctx, RegGenCfg0, subRxTime)
	if err != nil {
		return nil, err
	}

	debugf("RX complete, %d byte frame", payloadLen)
	return &RxFrame{Payload: payload, Timestamp: ts}, nil
}

// Receive arms the receiver and waits for one frame
func (d *Device) Receive(ctx context.Context) (*RxFrame, error) {
	if err := d.ArmReceiveContext(ctx); err != nil {
		return nil, err
	}
	return d.WaitFrame(ctx)
}

// pollStatus polls SYS_STATUS until a wanted bit is set, a bad bit is set
// (returned as a StatusError), the host deadline expires, or the context
// is cancelled.
func (d *Device) pollStatus(ctx context.Context, deadline time.Duration, want, bad uint32) error {
	var timeout <-chan time.Time
	if deadline > 0 {
		timer := time.NewTimer(deadline)
		defer timer.Stop()
		timeout = timer.C
	}

	ticker := time.NewTicker(d.config.PollInterval)
	defer ticker.Stop()

	for {
		status, err := d.readStatus(ctx)
		if err != nil {
			return err
		}
		if status&want != 0 {
			return nil
		}
		if bad != 0 && status&bad != 0 {
			return NewStatusError("WaitEvent", status)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timeout:
			return ErrTimeout
		case <-ticker.C:
		}
	}
}

// Abort cancels any outstanding TX or RX operation, forces the
// transceiver off, and returns the state machine to Idle. The frame
// buffer is released.
func (d *Device) Abort() error {
	return d.AbortContext(context.Background())
}

// AbortContext is Abort with context support
func (d *Device) AbortContext(ctx context.Context) error {
	if err := d.bus.FastCommand(CmdTxRxOff); err != nil {
		return fmt.Errorf("failed to force transceiver off: %w", err)
	}
	if err := d.clearStatus(ctx, statusAllRxTx); err != nil {
		return fmt.Errorf("failed to clear status on abort: %w", err)
	}
	d.txPending = nil
	d.state = StateIdle
	debugln("aborted, state machine reset to Idle")
	return nil
}

// ReadSystemTime samples the free-running 40-bit device clock. The value
// is only meaningful relative to other timestamps from the same session;
// a device reset invalidates it.
func (d *Device) ReadSystemTime(ctx context.Context) (Timestamp, error) {
	raw, err := d.bus.ReadRegisterContext(ctx, RegGenCfg0, subSysTime, 4)
	if err != nil {
		return 0, fmt.Errorf("failed to read system time: %w", err)
	}
	// SYS_TIME exposes the upper 32 bits of the 40-bit counter
	return Timestamp(uint64(binary.LittleEndian.Uint32(raw)) << 8), nil
}
