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

// Package twr implements two-way ranging sessions between a mobile tag
// and a set of fixed anchors. A tag runs a Session, each anchor runs a
// Responder; the exchanged frames carry 40-bit device timestamps that
// the ranging math turns into distances.
package twr

import (
	"errors"
	"fmt"

	dw3000 "github.com/uwbworks/go-dw3000"
)

// Message types, first octet of every ranging frame
const (
	MsgPoll   byte = 0xE0
	MsgResp   byte = 0xE1
	MsgFinal  byte = 0xE2
	MsgReport byte = 0xE3
)

// Ranging modes carried in poll frames
const (
	ModeSingleSided byte = 0x01
	ModeDoubleSided byte = 0x02
)

const (
	headerLen    = 4 // type, seq, src, dst
	timestampLen = 5

	pollLen   = headerLen + 1
	respLen   = headerLen + 2*timestampLen
	finalLen  = headerLen + 3*timestampLen
	reportLen = headerLen + 3*timestampLen
)

// ErrBadMessage indicates a frame that is not a valid ranging message
var ErrBadMessage = errors.New("malformed ranging message")

// Header is the common prefix of all ranging messages
type Header struct {
	Type byte
	Seq  byte
	Src  byte
	Dst  byte
}

// Poll opens a ranging exchange
type Poll struct {
	Header
	Mode byte
}

// Resp answers a poll with the responder's receive and transmit times
type Resp struct {
	Header
	PollRX dw3000.Timestamp
	RespTX dw3000.Timestamp
}

// Final closes a double-sided exchange with the initiator's three times
type Final struct {
	Header
	PollTX  dw3000.Timestamp
	RespRX  dw3000.Timestamp
	FinalTX dw3000.Timestamp
}

// Report returns the responder's three times after a double-sided final
type Report struct {
	Header
	PollRX  dw3000.Timestamp
	RespTX  dw3000.Timestamp
	FinalRX dw3000.Timestamp
}

func putHeader(buf []byte, h Header) {
	buf[0] = h.Type
	buf[1] = h.Seq
	buf[2] = h.Src
	buf[3] = h.Dst
}

func putTimestamp(buf []byte, ts dw3000.Timestamp) {
	v := uint64(ts)
	for i := 0; i < timestampLen; i++ {
		buf[i] = byte(v >> (8 * i))
	}
}

func getTimestamp(buf []byte) dw3000.Timestamp {
	var v uint64
	for i := 0; i < timestampLen; i++ {
		v |= uint64(buf[i]) << (8 * i)
	}
	return dw3000.Timestamp(v)
}

// Encode serializes a poll message
func (m Poll) Encode() []byte {
	buf := make([]byte, pollLen)
	putHeader(buf, m.Header)
	buf[headerLen] = m.Mode
	return buf
}

// Encode serializes a resp message
func (m Resp) Encode() []byte {
	buf := make([]byte, respLen)
	putHeader(buf, m.Header)
	putTimestamp(buf[headerLen:], m.PollRX)
	putTimestamp(buf[headerLen+timestampLen:], m.RespTX)
	return buf
}

// Encode serializes a final message
func (m Final) Encode() []byte {
	buf := make([]byte, finalLen)
	putHeader(buf, m.Header)
	putTimestamp(buf[headerLen:], m.PollTX)
	putTimestamp(buf[headerLen+timestampLen:], m.RespRX)
	putTimestamp(buf[headerLen+2*timestampLen:], m.FinalTX)
	return buf
}

// Encode serializes a report message
func (m Report) Encode() []byte {
	buf := make([]byte, reportLen)
	putHeader(buf, m.Header)
	putTimestamp(buf[headerLen:], m.PollRX)
	putTimestamp(buf[headerLen+timestampLen:], m.RespTX)
	putTimestamp(buf[headerLen+2*timestampLen:], m.FinalRX)
	return buf
}

// DecodeHeader parses the common prefix of a ranging frame
func DecodeHeader(payload []byte) (Header, error) {
	if len(payload) < headerLen {
		return Header{}, fmt.Errorf("%w: %d octets", ErrBadMessage, len(payload))
	}
	return Header{
		Type: payload[0],
		Seq:  payload[1],
		Src:  payload[2],
		Dst:  payload[3],
	}, nil
}

// DecodePoll parses a poll message
func DecodePoll(payload []byte) (Poll, error) {
	h, err := DecodeHeader(payload)
	if err != nil {
		return Poll{}, err
	}
	if h.Type != MsgPoll || len(payload) < pollLen {
		return Poll{}, fmt.Errorf("%w: not a poll", ErrBadMessage)
	}
	return Poll{Header: h, Mode: payload[headerLen]}, nil
}

// DecodeResp parses a resp message
func DecodeResp(payload []byte) (Resp, error) {
	h, err := DecodeHeader(payload)
	if err != nil {
		return Resp{}, err
	}
	if h.Type != MsgResp || len(payload) < respLen {
		return Resp{}, fmt.Errorf("%w: not a resp", ErrBadMessage)
	}
	return Resp{
		Header: h,
		PollRX: getTimestamp(payload[headerLen:]),
		RespTX: getTimestamp(payload[headerLen+timestampLen:]),
	}, nil
}

// DecodeFinal parses a final message
func DecodeFinal(payload []byte) (Final, error) {
	h, err := DecodeHeader(payload)
	if err != nil {
		return Final{}, err
	}
	if h.Type != MsgFinal || len(payload) < finalLen {
		return Final{}, fmt.Errorf("%w: not a final", ErrBadMessage)
	}
	return Final{
		Header:  h,
		PollTX:  getTimestamp(payload[headerLen:]),
		RespRX:  getTimestamp(payload[headerLen+timestampLen:]),
		FinalTX: getTimestamp(payload[headerLen+2*timestampLen:]),
	}, nil
}

// DecodeReport parses a report message
func DecodeReport(payload []byte) (Report, error) {
	h, err := DecodeHeader(payload)
	if err != nil {
		return Report{}, err
	}
	if h.Type != MsgReport || len(payload) < reportLen {
		return Report{}, fmt.Errorf("%w: not a report", ErrBadMessage)
	}
	return Report{
		Header:  h,
		PollRX:  getTimestamp(payload[headerLen:]),
		RespTX:  getTimestamp(payload[headerLen+timestampLen:]),
		FinalRX: getTimestamp(payload[headerLen+2*timestampLen:]),
	}, nil
}
