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

package dw3000

import (
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsRetryable(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		name string
		want bool
	}{
		{name: "Nil", err: nil, want: false},
		{name: "Bus_Timeout", err: ErrBusTimeout, want: true},
		{name: "Bus_Read", err: ErrBusRead, want: true},
		{name: "Bus_Write_Wrapped", err: fmt.Errorf("op: %w", ErrBusWrite), want: true},
		{name: "Receive_Timeout", err: ErrTimeout, want: true},
		{name: "Frame_Error", err: ErrRxFrame, want: true},
		{name: "Ranging_Invalid", err: ErrRangingInvalid, want: true},
		{name: "Wrong_Device", err: ErrWrongDevice, want: false},
		{name: "Bus_Closed", err: ErrBusClosed, want: false},
		{name: "Invalid_Config", err: ErrInvalidConfig, want: false},
		{
			name: "BusError_Transient",
			err:  NewBusReadError("ReadRegister", "spi0", errors.New("glitch")),
			want: true,
		},
		{
			name: "BusError_Permanent",
			err:  NewInvalidResponseError("ReadRegister", "spi0"),
			want: false,
		},
		{
			name: "StatusError_Timeout",
			err:  NewStatusError("WaitEvent", statusRXFTO),
			want: true,
		},
		{
			name: "StatusError_FrameError",
			err:  NewStatusError("WaitEvent", statusRXFCE),
			want: true,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}

func TestIsFatal(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		name string
		want bool
	}{
		{name: "Nil", err: nil, want: false},
		{name: "Bus_Closed", err: ErrBusClosed, want: true},
		{name: "Device_Not_Found", err: ErrDeviceNotFound, want: true},
		{name: "Wrong_Device", err: ErrWrongDevice, want: true},
		{name: "EOF", err: io.EOF, want: true},
		{name: "Closed_Pipe", err: io.ErrClosedPipe, want: true},
		{name: "Receive_Timeout", err: ErrTimeout, want: false},
		{name: "Bus_Timeout", err: ErrBusTimeout, want: false},
		{
			name: "BusError_Permanent",
			err:  NewBusError("Read", "gw0", errors.New("gone"), KindPermanent),
			want: true,
		},
		{
			name: "BusError_Transient",
			err:  NewBusReadError("Read", "gw0", errors.New("noise")),
			want: false,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, IsFatal(tt.err))
		})
	}
}

func TestIsRxTimeout(t *testing.T) {
	t.Parallel()

	assert.True(t, IsRxTimeout(ErrTimeout))
	assert.True(t, IsRxTimeout(fmt.Errorf("wrapped: %w", ErrTimeout)))
	assert.True(t, IsRxTimeout(NewStatusError("WaitEvent", statusRXPTO)))
	assert.False(t, IsRxTimeout(NewStatusError("WaitEvent", statusRXFCE)))
	assert.False(t, IsRxTimeout(ErrRxFrame))
	assert.False(t, IsRxTimeout(nil))
}

func TestStatusError(t *testing.T) {
	t.Parallel()

	se := NewStatusError("WaitEvent", statusRXFCE|statusRXSTO)
	assert.True(t, se.IsFrameError())
	assert.False(t, se.IsTimeout())
	assert.Contains(t, se.Error(), "WaitEvent")
	assert.Contains(t, se.Error(), "FCS error")
	assert.Contains(t, se.Error(), "SFD timeout")

	// A timeout accompanied by an error event counts as an error
	se = NewStatusError("WaitEvent", statusRXFTO|statusRXPHE)
	assert.False(t, se.IsTimeout())
	assert.True(t, se.IsFrameError())

	se = NewStatusError("", statusTXFRS)
	assert.Contains(t, se.Error(), "no error events")
}

func TestBusError(t *testing.T) {
	t.Parallel()

	underlying := errors.New("short transfer")
	be := NewBusWriteError("WriteRegister", "spidev0.0", underlying)
	assert.Contains(t, be.Error(), "WriteRegister")
	assert.Contains(t, be.Error(), "spidev0.0")
	require.ErrorIs(t, be, ErrBusWrite)
	require.ErrorIs(t, be, underlying)
	assert.True(t, be.Retryable)

	te := NewTimeoutError("ReadResponse", "ttyACM0")
	assert.Equal(t, KindTimeout, te.Kind)
	require.ErrorIs(t, te, ErrBusTimeout)
}

func TestTraceBuffer(t *testing.T) {
	t.Parallel()

	tb := NewTraceBuffer("SPI", "spidev0.0", 2)
	tb.RecordTX([]byte{0x40, 0x00}, "header")
	tb.RecordRX([]byte{0x02, 0x03, 0xCA, 0xDE}, "DEV_ID")
	tb.RecordTimeout("no response")

	// The oldest entry was evicted by the third record
	err := tb.WrapError(errors.New("read failed"))
	require.Error(t, err)

	te := GetTrace(err)
	require.NotNil(t, te)
	assert.True(t, HasTrace(err))
	assert.Len(t, te.Trace, 2)
	assert.Equal(t, "SPI", te.Bus)
	assert.Contains(t, te.FormatTrace(), "TIMEOUT")

	// Wrapping nil stays nil
	assert.NoError(t, tb.WrapError(nil))

	tb.Clear()
	err = tb.WrapError(errors.New("again"))
	te = GetTrace(err)
	require.NotNil(t, te)
	assert.Empty(t, te.Trace)
}

func TestTraceableError_Unwrap(t *testing.T) {
	t.Parallel()

	tb := NewTraceBuffer("SerialGW", "ttyACM0", 4)
	wrapped := tb.WrapError(fmt.Errorf("op: %w", ErrBusTimeout))
	require.ErrorIs(t, wrapped, ErrBusTimeout)
	assert.False(t, HasTrace(ErrBusTimeout))
}

func TestFormatHexBytes(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "(empty)", formatHexBytes(nil))
	assert.Equal(t, "DE CA", formatHexBytes([]byte{0xDE, 0xCA}))
	long := formatHexBytes(make([]byte, 64))
	assert.Contains(t, long, "(64 bytes total)")
}
