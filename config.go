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
	"fmt"
	"time"
)

// Channel is an IR-UWB RF channel number. The DW3000 supports channels 5
// (6489.6 MHz) and 9 (7987.2 MHz).
type Channel byte

const (
	// Channel5 is the 6489.6 MHz channel
	Channel5 Channel = 5
	// Channel9 is the 7987.2 MHz channel
	Channel9 Channel = 9
)

// PRF is the pulse repetition frequency
type PRF byte

const (
	// PRF16 is the 16 MHz pulse repetition frequency
	PRF16 PRF = 16
	// PRF64 is the 64 MHz pulse repetition frequency
	PRF64 PRF = 64
)

// DataRate selects the payload data rate
type DataRate byte

const (
	// Rate850K is 850 kb/s
	Rate850K DataRate = iota
	// Rate6M8 is 6.8 Mb/s
	Rate6M8
)

// SFDType selects the start-of-frame delimiter sequence
type SFDType byte

const (
	// SFDStandard is the IEEE 802.15.4 8-symbol SFD
	SFDStandard SFDType = 0
	// SFDDecawave8 is the Decawave proprietary 8-symbol SFD
	SFDDecawave8 SFDType = 1
	// SFDDecawave16 is the Decawave proprietary 16-symbol SFD
	SFDDecawave16 SFDType = 2
	// SFD4z is the IEEE 802.15.4z 8-symbol SFD
	SFD4z SFDType = 3
)

// PACSize is the preamble acquisition chunk size
type PACSize byte

const (
	// PAC8 suits preamble lengths up to 128 symbols
	PAC8 PACSize = iota
	// PAC16 suits a 256-symbol preamble
	PAC16
	// PAC32 suits preambles of 512 symbols and up
	PAC32
	// PAC4 suits the short 32 and 64 symbol preambles
	PAC4
)

// Valid preamble lengths in symbols.
const (
	PreambleLen32   uint16 = 32
	PreambleLen64   uint16 = 64
	PreambleLen128  uint16 = 128
	PreambleLen256  uint16 = 256
	PreambleLen512  uint16 = 512
	PreambleLen1024 uint16 = 1024
	PreambleLen1536 uint16 = 1536
	PreambleLen2048 uint16 = 2048
	PreambleLen4096 uint16 = 4096
)

// Config holds the RF and calibration configuration for the transceiver.
// A Config is immutable once applied; the device only changes configuration
// through another ApplyConfig call.
type Config struct {
	// Channel is the RF channel, 5 or 9
	Channel Channel
	// PRF is the pulse repetition frequency
	PRF PRF
	// PreambleCode selects the preamble code; it must be valid for the
	// channel/PRF combination (see compatibility table)
	PreambleCode byte
	// PreambleLength is the preamble length in symbols
	PreambleLength uint16
	// SFDType selects the start-of-frame delimiter
	SFDType SFDType
	// DataRate is the payload data rate
	DataRate DataRate
	// PAC is the preamble acquisition chunk size; zero value PAC8 is
	// adequate for the default 128-symbol preamble
	PAC PACSize
	// TxAntennaDelay is the transmit antenna delay calibration in device
	// time units
	TxAntennaDelay uint16
	// RxAntennaDelay is the receive antenna delay calibration in device
	// time units
	RxAntennaDelay uint16
}

// DefaultAntennaDelay is a typical starting antenna delay for DW3000
// modules at 64 MHz PRF, in device time units. Production use should load
// the per-device value from OTP or a site calibration.
const DefaultAntennaDelay uint16 = 16385

// DefaultConfig returns the configuration used by most DWM3000 evaluation
// setups: channel 5, 64 MHz PRF, preamble code 9, 128-symbol preamble,
// 6.8 Mb/s.
func DefaultConfig() Config {
	return Config{
		Channel:        Channel5,
		PRF:            PRF64,
		PreambleCode:   9,
		PreambleLength: PreambleLen128,
		SFDType:        SFD4z,
		DataRate:       Rate6M8,
		PAC:            PAC8,
		TxAntennaDelay: DefaultAntennaDelay,
		RxAntennaDelay: DefaultAntennaDelay,
	}
}

// preambleCodes is the supported channel/PRF/code compatibility table.
// Codes 3 and 4 are the 16 MHz PRF codes; 9 through 12 are the 64 MHz
// codes used on both channels.
var preambleCodes = map[Channel]map[PRF][]byte{
	Channel5: {
		PRF16: {3, 4},
		PRF64: {9, 10, 11, 12},
	},
	Channel9: {
		PRF16: {3, 4},
		PRF64: {9, 10, 11, 12},
	},
}

// psrCodes maps preamble length in symbols to the TXPSR field encoding.
var psrCodes = map[uint16]byte{
	PreambleLen32:   0x04,
	PreambleLen64:   0x01,
	PreambleLen128:  0x05,
	PreambleLen256:  0x09,
	PreambleLen512:  0x0D,
	PreambleLen1024: 0x02,
	PreambleLen1536: 0x06,
	PreambleLen2048: 0x0A,
	PreambleLen4096: 0x03,
}

// channel-dependent analog configuration values
var (
	pllCfgValues = map[Channel]uint32{
		Channel5: 0x1F3C,
		Channel9: 0x0F3C,
	}
	rfTxCtrl2Values = map[Channel]uint32{
		Channel5: 0x1C071134,
		Channel9: 0x1C010034,
	}
)

// Validate checks a configuration against the device's supported
// combinations. It performs no bus access; ApplyConfig calls it before
// touching any register so an invalid configuration never causes a
// partial apply.
func (c Config) Validate() error {
	codes, ok := preambleCodes[c.Channel]
	if !ok {
		return fmt.Errorf("%w: channel %d", ErrInvalidConfig, c.Channel)
	}
	prfCodes, ok := codes[c.PRF]
	if !ok {
		return fmt.Errorf("%w: PRF %d MHz", ErrInvalidConfig, c.PRF)
	}
	codeOK := false
	for _, code := range prfCodes {
		if code == c.PreambleCode {
			codeOK = true
			break
		}
	}
	if !codeOK {
		return fmt.Errorf("%w: preamble code %d not valid for channel %d at PRF %d MHz",
			ErrInvalidConfig, c.PreambleCode, c.Channel, c.PRF)
	}
	if _, ok := psrCodes[c.PreambleLength]; !ok {
		return fmt.Errorf("%w: preamble length %d symbols", ErrInvalidConfig, c.PreambleLength)
	}
	if c.DataRate != Rate850K && c.DataRate != Rate6M8 {
		return fmt.Errorf("%w: data rate %d", ErrInvalidConfig, c.DataRate)
	}
	if c.SFDType > SFD4z {
		return fmt.Errorf("%w: SFD type %d", ErrInvalidConfig, c.SFDType)
	}
	if c.PAC > PAC4 {
		return fmt.Errorf("%w: PAC size %d", ErrInvalidConfig, c.PAC)
	}
	return nil
}

// chanCtrlValue encodes the CHAN_CTRL register: RF_CHAN in bit 0, SFD_TYPE
// in bits 2:1, TX preamble code in 7:3, RX preamble code in 12:8. The
// driver always uses the same code for TX and RX.
func (c Config) chanCtrlValue() uint16 {
	var v uint16
	if c.Channel == Channel9 {
		v |= 1
	}
	v |= uint16(c.SFDType) << 1
	v |= uint16(c.PreambleCode) << 3
	v |= uint16(c.PreambleCode) << 8
	return v
}

// txFctrlTemplate encodes the frame-independent part of TX_FCTRL: data
// rate in bit 10 and TXPSR in bits 15:12. The frame length field (9:0) is
// filled in when a transmission is armed.
func (c Config) txFctrlTemplate() uint16 {
	var v uint16
	if c.DataRate == Rate6M8 {
		v |= 1 << 10
	}
	v |= uint16(psrCodes[c.PreambleLength]) << 12
	return v
}

// ApplyConfig validates the configuration and programs it into the device.
// Validation fully precedes the first register write, so a rejected
// configuration leaves the device untouched. The applied configuration is
// retained on the handle and only replaced by another ApplyConfig.
func (d *Device) ApplyConfig(cfg Config) error {
	return d.ApplyConfigContext(context.Background(), cfg)
}

// ApplyConfigContext is ApplyConfig with context support
func (d *Device) ApplyConfigContext(ctx context.Context, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if d.state != StateIdle {
		return fmt.Errorf("%w: reconfigure while %s", ErrInvalidState, d.state)
	}

	var buf [4]byte

	binary.LittleEndian.PutUint16(buf[:2], cfg.chanCtrlValue())
	if err := d.bus.WriteRegisterContext(ctx, RegGenCfg1, subChanCtrl, buf[:2]); err != nil {
		return fmt.Errorf("failed to write channel control: %w", err)
	}

	binary.LittleEndian.PutUint16(buf[:2], cfg.txFctrlTemplate())
	if err := d.bus.WriteRegisterContext(ctx, RegGenCfg0, subTxFctrl, buf[:2]); err != nil {
		return fmt.Errorf("failed to write TX frame control: %w", err)
	}

	// DTUNE0 carries the PAC size in its low bits
	binary.LittleEndian.PutUint16(buf[:2], uint16(cfg.PAC))
	if err := d.bus.WriteRegisterContext(ctx, RegDrxConf, subDtune0, buf[:2]); err != nil {
		return fmt.Errorf("failed to write DRX tuning: %w", err)
	}

	binary.LittleEndian.PutUint32(buf[:], pllCfgValues[cfg.Channel])
	if err := d.bus.WriteRegisterContext(ctx, RegRfConf, subPllCfg, buf[:]); err != nil {
		return fmt.Errorf("failed to write PLL configuration: %w", err)
	}

	binary.LittleEndian.PutUint32(buf[:], rfTxCtrl2Values[cfg.Channel])
	if err := d.bus.WriteRegisterContext(ctx, RegRfConf, subRfTxCtrl2, buf[:]); err != nil {
		return fmt.Errorf("failed to write RF TX control: %w", err)
	}

	binary.LittleEndian.PutUint16(buf[:2], cfg.TxAntennaDelay)
	if err := d.bus.WriteRegisterContext(ctx, RegGenCfg1, subTxAntd, buf[:2]); err != nil {
		return fmt.Errorf("failed to write TX antenna delay: %w", err)
	}

	binary.LittleEndian.PutUint16(buf[:2], cfg.RxAntennaDelay)
	if err := d.bus.WriteRegisterContext(ctx, RegCia1, subCiaConf, buf[:2]); err != nil {
		return fmt.Errorf("failed to write RX antenna delay: %w", err)
	}

	applied := cfg
	d.rfConfig = &applied
	d.calibrated = cfg.TxAntennaDelay != 0 && cfg.RxAntennaDelay != 0
	debugf("configuration applied: channel %d, PRF %d MHz, code %d, preamble %d",
		cfg.Channel, cfg.PRF, cfg.PreambleCode, cfg.PreambleLength)
	return nil
}

// Config returns the applied configuration, or nil before ApplyConfig
func (d *Device) Config() *Config {
	if d.rfConfig == nil {
		return nil
	}
	cfg := *d.rfConfig
	return &cfg
}

// IsCalibrated reports whether non-zero antenna delays have been applied.
// Ranging results computed before calibration carry an invalid flag.
func (d *Device) IsCalibrated() bool {
	return d.calibrated
}

// ReadConfig reads the effective configuration back from device registers.
// The PRF and exact preamble length come from the retained configuration
// where the register encoding is not unambiguous.
func (d *Device) ReadConfig() (Config, error) {
	return d.ReadConfigContext(context.Background())
}

// ReadConfigContext is ReadConfig with context support
func (d *Device) ReadConfigContext(ctx context.Context) (Config, error) {
	var cfg Config
	if d.rfConfig == nil {
		return cfg, ErrNotConfigured
	}
	cfg = *d.rfConfig

	raw, err := d.bus.ReadRegisterContext(ctx, RegGenCfg1, subChanCtrl, 2)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read channel control: %w", err)
	}
	chanCtrl := binary.LittleEndian.Uint16(raw)
	if chanCtrl&1 == 1 {
		cfg.Channel = Channel9
	} else {
		cfg.Channel = Channel5
	}
	cfg.SFDType = SFDType(chanCtrl >> 1 & 0x03)
	cfg.PreambleCode = byte(chanCtrl >> 3 & 0x1F)

	raw, err = d.bus.ReadRegisterContext(ctx, RegGenCfg0, subTxFctrl, 2)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read TX frame control: %w", err)
	}
	txFctrl := binary.LittleEndian.Uint16(raw)
	if txFctrl&(1<<10) != 0 {
		cfg.DataRate = Rate6M8
	} else {
		cfg.DataRate = Rate850K
	}
	psr := byte(txFctrl >> 12)
	for plen, code := range psrCodes {
		if code == psr {
			cfg.PreambleLength = plen
			break
		}
	}

	raw, err = d.bus.ReadRegisterContext(ctx, RegDrxConf, subDtune0, 2)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read DRX tuning: %w", err)
	}
	cfg.PAC = PACSize(binary.LittleEndian.Uint16(raw) & 0x03)

	raw, err = d.bus.ReadRegisterContext(ctx, RegGenCfg1, subTxAntd, 2)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read TX antenna delay: %w", err)
	}
	cfg.TxAntennaDelay = binary.LittleEndian.Uint16(raw)

	raw, err = d.bus.ReadRegisterContext(ctx, RegCia1, subCiaConf, 2)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read RX antenna delay: %w", err)
	}
	cfg.RxAntennaDelay = binary.LittleEndian.Uint16(raw)

	return cfg, nil
}

// readOTPWord reads one 32-bit word from OTP memory through the manual
// read sequence: program the address, trigger the read, fetch the data.
func (d *Device) readOTPWord(ctx context.Context, addr uint16) (uint32, error) {
	var buf [4]byte
	binary.LittleEndian.PutUint16(buf[:2], addr)
	if err := d.bus.WriteRegisterContext(ctx, RegOtpIf, subOtpAddr, buf[:2]); err != nil {
		return 0, fmt.Errorf("failed to set OTP address: %w", err)
	}
	// OTP_CFG bit 1 triggers a manual read
	if err := d.bus.WriteRegisterContext(ctx, RegOtpIf, subOtpCfg, []byte{0x02, 0x00}); err != nil {
		return 0, fmt.Errorf("failed to trigger OTP read: %w", err)
	}
	raw, err := d.bus.ReadRegisterContext(ctx, RegOtpIf, subOtpRdat, 4)
	if err != nil {
		return 0, fmt.Errorf("failed to read OTP data: %w", err)
	}
	return binary.LittleEndian.Uint32(raw), nil
}

// loadOTPCalibration reads factory antenna delay calibration from OTP for
// the given channel. A blank OTP word (all zeros or all ones) yields
// (0, false) and the caller falls back to defaults.
func (d *Device) loadOTPCalibration(ctx context.Context, ch Channel) (uint16, bool, error) {
	addr := otpAddrAntDlyCh5
	if ch == Channel9 {
		addr = otpAddrAntDlyCh9
	}
	word, err := d.readOTPWord(ctx, addr)
	if err != nil {
		return 0, false, err
	}
	if word == 0 || word == 0xFFFFFFFF {
		return 0, false, nil
	}
	// The calibration word holds the 64 MHz PRF delay in the low 16 bits.
	return uint16(word), true, nil
}

// SetFrameWaitTimeout programs the receive frame wait timeout. A zero
// duration disables the device-side timeout; the host-side wait deadline
// still applies. The register counts in units of 512 device ticks
// (roughly 8 ns).
func (d *Device) SetFrameWaitTimeout(timeout time.Duration) error {
	return d.SetFrameWaitTimeoutContext(context.Background(), timeout)
}

// SetFrameWaitTimeoutContext is SetFrameWaitTimeout with context support
func (d *Device) SetFrameWaitTimeoutContext(ctx context.Context, timeout time.Duration) error {
	var buf [4]byte
	ticks := uint32(0)
	if timeout > 0 {
		ticks = uint32(timeout.Seconds() / (TimeUnit * 512))
	}
	binary.LittleEndian.PutUint32(buf[:], ticks)
	if err := d.bus.WriteRegisterContext(ctx, RegGenCfg0, subRxFwto, buf[:]); err != nil {
		return fmt.Errorf("failed to write frame wait timeout: %w", err)
	}
	d.frameTimeout = timeout
	return nil
}
