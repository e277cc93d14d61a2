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
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uwbworks/go-dw3000/detection"
)

// seedDeviceID writes a DW3000 DEV_ID into the mock register file
func seedDeviceID(bus *MockBus, id uint32) {
	bus.SetRegister(RegGenCfg0, subDevID, []byte{
		byte(id), byte(id >> 8), byte(id >> 16), byte(id >> 24),
	})
}

func TestNew(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		opts    []Option
		wantErr bool
	}{
		{
			name:    "No_Options",
			opts:    nil,
			wantErr: false,
		},
		{
			name:    "With_Poll_Interval",
			opts:    []Option{WithPollInterval(time.Millisecond)},
			wantErr: false,
		},
		{
			name:    "Invalid_Poll_Interval",
			opts:    []Option{WithPollInterval(0)},
			wantErr: true,
		},
		{
			name:    "Nil_Device_Config",
			opts:    []Option{WithDeviceConfig(nil)},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			device, err := New(NewMockBus(), tt.opts...)
			if tt.wantErr {
				require.Error(t, err)
				assert.Nil(t, device)
			} else {
				require.NoError(t, err)
				require.NotNil(t, device)
				assert.Equal(t, StateIdle, device.State())
			}
		})
	}
}

func TestDevice_Init(t *testing.T) {
	t.Parallel()

	bus := NewMockBus()
	seedDeviceID(bus, devIDExpected)
	device, err := New(bus)
	require.NoError(t, err)

	require.NoError(t, device.Init())
	assert.Equal(t, devIDExpected, device.DeviceID())
	assert.Equal(t, StateIdle, device.State())

	// Init forces the transceiver off
	cmds := bus.FastCommands()
	require.NotEmpty(t, cmds)
	assert.Equal(t, CmdTxRxOff, cmds[0])
}

func TestDevice_InitWrongDevice(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		id   uint32
	}{
		{name: "Blank_Bus", id: 0x00000000},
		{name: "Wrong_Ridtag", id: 0x12340302},
		{name: "Wrong_Model", id: 0xDECA0102},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			bus := NewMockBus()
			seedDeviceID(bus, tt.id)
			device, err := New(bus)
			require.NoError(t, err)
			require.ErrorIs(t, device.Init(), ErrWrongDevice)
		})
	}
}

func TestDevice_ReadDeviceID(t *testing.T) {
	t.Parallel()

	bus := NewMockBus()
	seedDeviceID(bus, devIDExpected)
	device, err := New(bus)
	require.NoError(t, err)

	id, err := device.ReadDeviceID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, devIDExpected, id)

	// A dead bus fails the liveness probe
	bus.SetReadError(RegGenCfg0, ErrBusClosed)
	_, err = device.ReadDeviceID(context.Background())
	require.Error(t, err)
}

func TestDevice_InitLoadsOTPCalibration(t *testing.T) {
	t.Parallel()

	bus := NewMockBus()
	seedDeviceID(bus, devIDExpected)
	// Seed a plausible antenna delay word; the mock latches the same word
	// for both channel reads
	bus.SetRegister(RegOtpIf, subOtpRdat, []byte{0x01, 0x40, 0x00, 0x00})

	device, err := New(bus)
	require.NoError(t, err)
	require.NoError(t, device.Init())

	delay, ok := device.OTPAntennaDelay(Channel5)
	assert.True(t, ok)
	assert.Equal(t, uint16(0x4001), delay)
}

func TestDevice_InitSkipsOTPWhenDisabled(t *testing.T) {
	t.Parallel()

	bus := NewMockBus()
	seedDeviceID(bus, devIDExpected)
	bus.SetRegister(RegOtpIf, subOtpRdat, []byte{0x01, 0x40, 0x00, 0x00})

	device, err := New(bus, WithoutOTPCalibration())
	require.NoError(t, err)
	require.NoError(t, device.Init())

	_, ok := device.OTPAntennaDelay(Channel5)
	assert.False(t, ok)
}

func TestDevice_SupportsDelayedTRX(t *testing.T) {
	t.Parallel()

	device, err := New(NewMockBus())
	require.NoError(t, err)
	assert.True(t, device.SupportsDelayedTRX(), "the mock claims every capability")
}

func TestDevice_Close(t *testing.T) {
	t.Parallel()

	bus := NewMockBus()
	device, err := New(bus)
	require.NoError(t, err)

	require.NoError(t, device.Close())
	assert.False(t, bus.IsConnected())
}

func TestConnectDevice_ManualPath(t *testing.T) {
	t.Parallel()

	bus := NewMockBus()
	seedDeviceID(bus, devIDExpected)

	device, err := ConnectDevice("mock0",
		WithBusFactory(func(path string) (Bus, error) {
			assert.Equal(t, "mock0", path)
			return bus, nil
		}),
		WithConnectTimeout(time.Second),
	)
	require.NoError(t, err)
	assert.Equal(t, devIDExpected, device.DeviceID())
}

func TestConnectDevice_NoFactory(t *testing.T) {
	t.Parallel()

	_, err := ConnectDevice("mock0")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bus factory not provided")
}

func TestConnectDevice_AutoDetection(t *testing.T) {
	t.Parallel()

	bus := NewMockBus()
	seedDeviceID(bus, devIDExpected)

	device, err := ConnectDevice("",
		WithAutoDetection(),
		WithDeviceDetector(func(*detection.Options) ([]detection.DeviceInfo, error) {
			return []detection.DeviceInfo{{
				Bus:        "mock",
				Path:       "mock0",
				Name:       "Simulated DW3000",
				Confidence: detection.High,
			}}, nil
		}),
		WithBusFromDeviceFactory(func(info detection.DeviceInfo) (Bus, error) {
			assert.Equal(t, "mock0", info.Path)
			return bus, nil
		}),
	)
	require.NoError(t, err)
	assert.Equal(t, devIDExpected, device.DeviceID())
}

func TestConnectDevice_AutoDetectionNoDevices(t *testing.T) {
	t.Parallel()

	_, err := ConnectDevice("",
		WithAutoDetection(),
		WithDeviceDetector(func(*detection.Options) ([]detection.DeviceInfo, error) {
			return nil, nil
		}),
	)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no DW3000 devices found")
}

func TestConnectDevice_RetriesThenFails(t *testing.T) {
	t.Parallel()

	attempts := 0
	bus := NewMockBus() // blank DEV_ID, Init always fails

	_, err := ConnectDevice("mock0",
		WithBusFactory(func(string) (Bus, error) {
			attempts++
			return bus, nil
		}),
		WithConnectionRetries(2),
	)
	require.Error(t, err)
	require.ErrorIs(t, err, ErrWrongDevice)
}
