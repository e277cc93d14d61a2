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

// RegFile identifies one of the DW3000 register files (base addresses).
// Registers are addressed as a 5-bit file ID plus a sub-address offset
// within the file.
type RegFile byte

// Register files, per the DW3000 register map.
const (
	RegGenCfg0   RegFile = 0x00 // general configuration, bank 0
	RegGenCfg1   RegFile = 0x01 // general configuration, bank 1
	RegStsCfg    RegFile = 0x02 // STS configuration
	RegRxTune    RegFile = 0x03 // receiver tuning
	RegExtSync   RegFile = 0x04 // external sync control
	RegGpioCtrl  RegFile = 0x05 // GPIO control
	RegDrxConf   RegFile = 0x06 // digital receiver configuration
	RegRfConf    RegFile = 0x07 // analog RF configuration
	RegRxCal     RegFile = 0x08 // receiver calibration
	RegFsCtrl    RegFile = 0x09 // frequency synthesizer control
	RegAon       RegFile = 0x0A // always-on system control
	RegOtpIf     RegFile = 0x0B // OTP memory interface
	RegCia0      RegFile = 0x0C // channel impulse response analyzer, bank 0
	RegCia1      RegFile = 0x0D // channel impulse response analyzer, bank 1
	RegDigDiag   RegFile = 0x0F // digital diagnostics
	RegPmsc      RegFile = 0x11 // power management and system control
	RegRxBuffer0 RegFile = 0x12 // receive data buffer 0
	RegRxBuffer1 RegFile = 0x13 // receive data buffer 1 (double buffering)
	RegTxBuffer  RegFile = 0x14 // transmit data buffer
	RegAccMem    RegFile = 0x15 // accumulator memory
	RegScratch   RegFile = 0x16 // scratch RAM
)

// Sub-addresses within RegGenCfg0.
const (
	subDevID     uint16 = 0x00 // device identification
	subEUI       uint16 = 0x04 // extended unique identifier
	subPanAdr    uint16 = 0x0C // PAN ID and short address
	subSysCfg    uint16 = 0x10 // system configuration
	subSysTime   uint16 = 0x1C // system time counter (sampled)
	subTxFctrl   uint16 = 0x24 // transmit frame control
	subDxTime    uint16 = 0x2C // delayed TX/RX time
	subRxFwto    uint16 = 0x34 // receive frame wait timeout
	subSysEnable uint16 = 0x3C // interrupt enable mask
	subSysStatus uint16 = 0x44 // system event status
	subRxFinfo   uint16 = 0x4C // receive frame information
	subRxTime    uint16 = 0x64 // receive timestamp (RMARKER)
	subTxTime    uint16 = 0x74 // transmit timestamp (RMARKER)
)

// Sub-addresses within RegGenCfg1.
const (
	subTxAntd    uint16 = 0x04 // TX antenna delay
	subAckRespT  uint16 = 0x08 // ACK and response times
	subTxPower   uint16 = 0x0C // transmit power control
	subChanCtrl  uint16 = 0x14 // channel control
	subLeCfg     uint16 = 0x18 // low-energy device configuration
	subRdbStatus uint16 = 0x25 // double-buffer status
)

// Sub-addresses within RegCia1. The RX antenna delay lives in the CIA
// configuration because the analyzer applies it to the first-path index.
const (
	subCiaConf uint16 = 0x00 // CIA configuration, RX antenna delay in [15:0]
)

// Sub-addresses within RegDrxConf.
const (
	subDtune0 uint16 = 0x00 // PAC size and DTUNE configuration
	subDtune3 uint16 = 0x0C // preamble detection timeout
	subDtune4 uint16 = 0x10 // receiver sensitivity tuning
)

// Sub-addresses within RegRfConf.
const (
	subRfTxCtrl1 uint16 = 0x1A
	subRfTxCtrl2 uint16 = 0x1C // channel-dependent pulse generator setup
	subPllCfg    uint16 = 0x34 // PLL configuration for the active channel
	subLdoCtrl   uint16 = 0x48
)

// Sub-addresses within RegOtpIf.
const (
	subOtpAddr uint16 = 0x04 // OTP read address
	subOtpCfg  uint16 = 0x08 // OTP interface control
	subOtpStat uint16 = 0x0C
	subOtpRdat uint16 = 0x10 // OTP read data
)

// Sub-addresses within RegPmsc.
const (
	subSoftReset uint16 = 0x00 // block reset control
	subClkCtrl   uint16 = 0x04 // clock control
	subSeqCtrl   uint16 = 0x08 // sequencing control
	subLedCtrl   uint16 = 0x16
)

// devIDExpected is the DEV_ID value of a DW3000 (C0 silicon). The upper
// 16 bits are the RIDTAG 0xDECA, the lower 16 encode model and version.
const (
	devIDExpected uint32 = 0xDECA0302
	devIDRidtag   uint32 = 0xDECA0000
	devIDModelDW3 uint32 = 0x00000300
)

// SYS_STATUS bits. Only the events the driver acts on are named.
const (
	statusIRQS    uint32 = 1 << 0  // interrupt request
	statusCPLOCK  uint32 = 1 << 1  // clock PLL lock
	statusSPICRCE uint32 = 1 << 2  // SPI CRC error
	statusAAT     uint32 = 1 << 3  // automatic ACK trigger
	statusTXFRB   uint32 = 1 << 4  // TX frame begins
	statusTXPRS   uint32 = 1 << 5  // TX preamble sent
	statusTXPHS   uint32 = 1 << 6  // TX PHY header sent
	statusTXFRS   uint32 = 1 << 7  // TX frame sent
	statusRXPRD   uint32 = 1 << 8  // RX preamble detected
	statusRXSFDD  uint32 = 1 << 9  // RX SFD detected
	statusCIADONE uint32 = 1 << 10 // CIA processing done
	statusRXPHD   uint32 = 1 << 11 // RX PHY header detected
	statusRXPHE   uint32 = 1 << 12 // RX PHY header error
	statusRXFR    uint32 = 1 << 13 // RX frame ready
	statusRXFCG   uint32 = 1 << 14 // RX FCS good
	statusRXFCE   uint32 = 1 << 15 // RX FCS error
	statusRXFSL   uint32 = 1 << 16 // RX Reed-Solomon sync loss
	statusRXFTO   uint32 = 1 << 17 // RX frame wait timeout
	statusCIAERR  uint32 = 1 << 18 // CIA error
	statusRXOVRR  uint32 = 1 << 20 // RX buffer overrun
	statusRXPTO   uint32 = 1 << 21 // RX preamble detection timeout
	statusRXSTO   uint32 = 1 << 26 // RX SFD timeout
	statusARFE    uint32 = 1 << 29 // automatic frame filter rejection
)

// statusRxError groups the receive error events that abort a reception.
const statusRxError = statusRXPHE | statusRXFCE | statusRXFSL |
	statusCIAERR | statusRXOVRR | statusRXSTO | statusARFE

// statusRxTimeout groups the receive timeout events.
const statusRxTimeout = statusRXFTO | statusRXPTO

// statusAllRxTx clears every TX/RX event in one write.
const statusAllRxTx = statusTXFRB | statusTXPRS | statusTXPHS | statusTXFRS |
	statusRXPRD | statusRXSFDD | statusCIADONE | statusRXPHD | statusRXFR |
	statusRXFCG | statusRxError | statusRxTimeout

// FastCommand is a single-octet command written to the device instead of a
// register transaction. Fast commands drive the TX/RX state transitions.
type FastCommand byte

const (
	// CmdTxRxOff forces the transceiver off, back to idle.
	CmdTxRxOff FastCommand = 0x00
	// CmdTx starts transmission immediately.
	CmdTx FastCommand = 0x01
	// CmdRx enables the receiver immediately.
	CmdRx FastCommand = 0x02
	// CmdDelayedTx starts transmission at the time programmed in DX_TIME.
	CmdDelayedTx FastCommand = 0x03
	// CmdDelayedRx enables the receiver at the time programmed in DX_TIME.
	CmdDelayedRx FastCommand = 0x04
	// CmdTxWaitResp transmits then immediately enables the receiver.
	CmdTxWaitResp FastCommand = 0x0C
	// CmdClearIRQs clears all interrupt events.
	CmdClearIRQs FastCommand = 0x12
)

// OTP word addresses holding factory calibration data.
const (
	otpAddrEUI       uint16 = 0x00
	otpAddrAntDlyCh5 uint16 = 0x10 // antenna delay calibration, channel 5
	otpAddrAntDlyCh9 uint16 = 0x11 // antenna delay calibration, channel 9
	otpAddrXtalTrim  uint16 = 0x1E // crystal trim, lower 6 bits
	otpAddrRevision  uint16 = 0x1F
)

// TX buffer capacity in bytes. The extended frame format allows 1023-byte
// frames but the standard buffer holds 127 octets including the 2-byte FCS.
const (
	maxFrameLen   = 127
	fcsLen        = 2
	maxPayloadLen = maxFrameLen - fcsLen
)
