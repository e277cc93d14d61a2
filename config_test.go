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
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		mutate  func(*Config)
		name    string
		wantErr bool
	}{
		{
			name:    "Default_Is_Valid",
			mutate:  func(*Config) {},
			wantErr: false,
		},
		{
			name:    "Channel9_PRF64",
			mutate:  func(c *Config) { c.Channel = Channel9 },
			wantErr: false,
		},
		{
			name: "PRF16_Code3",
			mutate: func(c *Config) {
				c.PRF = PRF16
				c.PreambleCode = 3
			},
			wantErr: false,
		},
		{
			name:    "Unsupported_Channel",
			mutate:  func(c *Config) { c.Channel = 7 },
			wantErr: true,
		},
		{
			name:    "Code_Invalid_For_PRF",
			mutate:  func(c *Config) { c.PreambleCode = 3 }, // 16 MHz code at PRF64
			wantErr: true,
		},
		{
			name:    "Unsupported_Preamble_Length",
			mutate:  func(c *Config) { c.PreambleLength = 100 },
			wantErr: true,
		},
		{
			name:    "Unsupported_Data_Rate",
			mutate:  func(c *Config) { c.DataRate = 42 },
			wantErr: true,
		},
		{
			name:    "Unsupported_SFD",
			mutate:  func(c *Config) { c.SFDType = 7 },
			wantErr: true,
		},
		{
			name:    "Unsupported_PAC",
			mutate:  func(c *Config) { c.PAC = 9 },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidConfig)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestConfig_ChanCtrlValue(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig() // channel 5, SFD 4z, code 9
	v := cfg.chanCtrlValue()
	assert.Equal(t, uint16(0), v&1)
	assert.Equal(t, uint16(SFD4z), v>>1&0x03)
	assert.Equal(t, uint16(9), v>>3&0x1F)
	assert.Equal(t, uint16(9), v>>8&0x1F)

	cfg.Channel = Channel9
	assert.Equal(t, uint16(1), cfg.chanCtrlValue()&1)
}

func TestConfig_TxFctrlTemplate(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	v := cfg.txFctrlTemplate()
	assert.NotZero(t, v&(1<<10), "6.8 Mb/s sets the rate bit")
	assert.Equal(t, uint16(0x05), v>>12, "128-symbol PSR code")
	assert.Zero(t, v&0x3FF, "frame length field left for arming")

	cfg.DataRate = Rate850K
	assert.Zero(t, cfg.txFctrlTemplate()&(1<<10))
}

func TestDevice_ApplyConfig(t *testing.T) {
	t.Parallel()

	bus := NewMockBus()
	device, err := New(bus)
	require.NoError(t, err)

	cfg := DefaultConfig()
	require.NoError(t, device.ApplyConfig(cfg))
	require.NotNil(t, device.Config())
	assert.Equal(t, cfg, *device.Config())
	assert.True(t, device.IsCalibrated())

	// Channel control landed in the register file
	raw := bus.Register(RegGenCfg1, subChanCtrl, 2)
	assert.Equal(t, cfg.chanCtrlValue(), binary.LittleEndian.Uint16(raw))

	// Antenna delays programmed
	raw = bus.Register(RegGenCfg1, subTxAntd, 2)
	assert.Equal(t, cfg.TxAntennaDelay, binary.LittleEndian.Uint16(raw))
	raw = bus.Register(RegCia1, subCiaConf, 2)
	assert.Equal(t, cfg.RxAntennaDelay, binary.LittleEndian.Uint16(raw))

	// Channel-dependent PLL value
	raw = bus.Register(RegRfConf, subPllCfg, 4)
	assert.Equal(t, pllCfgValues[Channel5], binary.LittleEndian.Uint32(raw))
}

func TestDevice_ApplyConfig_InvalidLeavesDeviceUntouched(t *testing.T) {
	t.Parallel()

	bus := NewMockBus()
	device, err := New(bus)
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.PreambleCode = 3 // invalid at PRF64
	require.ErrorIs(t, device.ApplyConfig(cfg), ErrInvalidConfig)
	assert.Nil(t, device.Config())
	assert.Zero(t, bus.WriteCount(RegGenCfg1), "validation precedes all writes")
}

func TestDevice_ReadConfig(t *testing.T) {
	t.Parallel()

	bus := NewMockBus()
	device, err := New(bus)
	require.NoError(t, err)

	_, err = device.ReadConfig()
	require.ErrorIs(t, err, ErrNotConfigured)

	cfg := DefaultConfig()
	cfg.Channel = Channel9
	cfg.TxAntennaDelay = 16400
	cfg.RxAntennaDelay = 16390
	require.NoError(t, device.ApplyConfig(cfg))

	got, err := device.ReadConfig()
	require.NoError(t, err)
	assert.Equal(t, cfg.Channel, got.Channel)
	assert.Equal(t, cfg.SFDType, got.SFDType)
	assert.Equal(t, cfg.PreambleCode, got.PreambleCode)
	assert.Equal(t, cfg.PreambleLength, got.PreambleLength)
	assert.Equal(t, cfg.DataRate, got.DataRate)
	assert.Equal(t, cfg.TxAntennaDelay, got.TxAntennaDelay)
	assert.Equal(t, cfg.RxAntennaDelay, got.RxAntennaDelay)
}

func TestDevice_ReadOTPWord(t *testing.T) {
	t.Parallel()

	bus := NewMockBus()
	device, err := New(bus)
	require.NoError(t, err)

	bus.SetRegister(RegOtpIf, subOtpRdat, []byte{0x12, 0x40, 0x00, 0x00})

	word, err := device.readOTPWord(context.Background(), otpAddrAntDlyCh5)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x4012), word)

	// The manual read sequence programmed the address and trigger
	raw := bus.Register(RegOtpIf, subOtpAddr, 2)
	assert.Equal(t, otpAddrAntDlyCh5, binary.LittleEndian.Uint16(raw))
	raw = bus.Register(RegOtpIf, subOtpCfg, 1)
	assert.Equal(t, byte(0x02), raw[0])
}

func TestDevice_LoadOTPCalibration_BlankWord(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		word []byte
	}{
		{name: "All_Zeros", word: []byte{0x00, 0x00, 0x00, 0x00}},
		{name: "All_Ones", word: []byte{0xFF, 0xFF, 0xFF, 0xFF}},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			bus := NewMockBus()
			device, err := New(bus)
			require.NoError(t, err)
			bus.SetRegister(RegOtpIf, subOtpRdat, tt.word)

			delay, ok, err := device.loadOTPCalibration(context.Background(), Channel5)
			require.NoError(t, err)
			assert.False(t, ok)
			assert.Zero(t, delay)
		})
	}
}

func TestDevice_SetFrameWaitTimeout(t *testing.T) {
	t.Parallel()

	bus := NewMockBus()
	device, err := New(bus)
	require.NoError(t, err)

	require.NoError(t, device.SetFrameWaitTimeout(time.Millisecond))
	raw := bus.Register(RegGenCfg0, subRxFwto, 4)
	ticks := binary.LittleEndian.Uint32(raw)
	// 1 ms in units of 512 device ticks is ~124800
	assert.InEpsilon(t, 124800, float64(ticks), 0.01)

	// Zero disables the device-side timeout
	require.NoError(t, device.SetFrameWaitTimeout(0))
	raw = bus.Register(RegGenCfg0, subRxFwto, 4)
	assert.Zero(t, binary.LittleEndian.Uint32(raw))
}
