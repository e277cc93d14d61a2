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

package twr

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	dw3000 "github.com/uwbworks/go-dw3000"
)

// Responder answers ranging polls on the anchor side. It listens for
// poll frames addressed to its short address, replies with its receive
// and transmit timestamps, and for double-sided exchanges also handles
// the final/report leg.
type Responder struct {
	// OnExchange is called after every completed exchange with the
	// initiator's short address
	OnExchange func(tag byte)

	device     *dw3000.Device
	config     *Config
	anchorID   byte
	closed     atomic.Bool
	exchanges  atomic.Uint64
	lastTagSeq atomic.Uint32
}

// NewResponder creates a responder with the given anchor short address
func NewResponder(device *dw3000.Device, anchorID byte, config *Config) *Responder {
	if config == nil {
		config = DefaultConfig()
	}
	return &Responder{
		device:   device,
		config:   config,
		anchorID: anchorID,
	}
}

// Exchanges returns the number of completed exchanges
func (r *Responder) Exchanges() uint64 {
	return r.exchanges.Load()
}

// Close stops the responder loop at the next poll
func (r *Responder) Close() error {
	r.closed.Store(true)
	return nil
}

// Start listens for polls until the context is cancelled
func (r *Responder) Start(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if r.closed.Load() {
			return nil
		}

		err := r.ServeOne(ctx)
		switch {
		case err == nil, errors.Is(err, ErrNoResponse), errors.Is(err, ErrBadMessage):
			// Idle air or someone else's traffic, keep listening
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return err
		case dw3000.IsFatal(err):
			return err
		default:
			// Transient error, settle the transceiver and continue
			_ = r.device.AbortContext(ctx)
		}
	}
}

// ServeOne waits for a single poll and serves the full exchange
func (r *Responder) ServeOne(ctx context.Context) error {
	if err := r.device.ArmReceiveContext(ctx); err != nil {
		return fmt.Errorf("failed to arm receiver: %w", err)
	}

	frame, err := r.device.WaitFrame(ctx)
	if err != nil {
		if dw3000.IsRxTimeout(err) {
			return ErrNoResponse
		}
		return fmt.Errorf("poll receive failed: %w", err)
	}

	poll, err := DecodePoll(frame.Payload)
	if err != nil {
		return err
	}
	if poll.Dst != r.anchorID {
		return fmt.Errorf("%w: poll for another anchor", ErrBadMessage)
	}

	pollRX := frame.Timestamp
	respTX, err := r.sendResp(ctx, poll, pollRX)
	if err != nil {
		return err
	}

	if poll.Mode == ModeDoubleSided {
		if err := r.serveFinal(ctx, poll, pollRX, respTX); err != nil {
			return err
		}
	}

	r.exchanges.Add(1)
	r.lastTagSeq.Store(uint32(poll.Src)<<8 | uint32(poll.Seq))
	if r.OnExchange != nil {
		r.OnExchange(poll.Src)
	}
	return nil
}

// sendResp transmits the resp frame, preferring delayed transmission so
// the frame can carry its own departure time
func (r *Responder) sendResp(ctx context.Context, poll Poll, pollRX dw3000.Timestamp) (dw3000.Timestamp, error) {
	resp := Resp{
		Header: Header{Type: MsgResp, Seq: poll.Seq, Src: r.anchorID, Dst: poll.Src},
		PollRX: pollRX,
	}

	if r.device.SupportsDelayedTRX() {
		txAt := pollRX.Add(r.config.ReplyDelay)
		resp.RespTX = txAt
		if err := r.device.ArmTransmitAt(ctx, resp.Encode(), txAt); err != nil {
			return 0, fmt.Errorf("resp transmit failed: %w", err)
		}
		respTX, err := r.device.WaitTransmitDone(ctx)
		if err != nil {
			return 0, fmt.Errorf("resp transmit failed: %w", err)
		}
		return respTX, nil
	}

	// No delayed transmission: send immediately. The resp carries a zero
	// RespTX; single-sided initiators cannot use such an anchor, but the
	// double-sided report leg still delivers the true timestamps.
	respTX, err := r.device.Transmit(ctx, resp.Encode())
	if err != nil {
		return 0, fmt.Errorf("resp transmit failed: %w", err)
	}
	return respTX, nil
}

// serveFinal receives the final frame and answers with a report carrying
// this side's three timestamps
func (r *Responder) serveFinal(
	ctx context.Context, poll Poll, pollRX, respTX dw3000.Timestamp,
) error {
	if err := r.device.ArmReceiveContext(ctx); err != nil {
		return fmt.Errorf("failed to arm receiver: %w", err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, r.config.ResponseTimeout)
	defer cancel()

	frame, err := r.device.WaitFrame(waitCtx)
	if err != nil {
		_ = r.device.AbortContext(ctx)
		if dw3000.IsRxTimeout(err) || errors.Is(err, context.DeadlineExceeded) {
			return ErrNoResponse
		}
		return fmt.Errorf("final receive failed: %w", err)
	}

	final, err := DecodeFinal(frame.Payload)
	if err != nil {
		return err
	}
	if final.Seq != poll.Seq || final.Src != poll.Src || final.Dst != r.anchorID {
		return fmt.Errorf("%w: final for wrong exchange", ErrBadMessage)
	}

	report := Report{
		Header:  Header{Type: MsgReport, Seq: poll.Seq, Src: r.anchorID, Dst: poll.Src},
		PollRX:  pollRX,
		RespTX:  respTX,
		FinalRX: frame.Timestamp,
	}
	if _, err := r.device.Transmit(ctx, report.Encode()); err != nil {
		return fmt.Errorf("report transmit failed: %w", err)
	}
	return nil
}

// WaitIdle blocks until the responder has served at least n exchanges or
// the timeout expires. Intended for tests and shutdown sequencing.
func (r *Responder) WaitIdle(timeout time.Duration, n uint64) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if r.exchanges.Load() >= n {
			return true
		}
		time.Sleep(time.Millisecond)
	}
	return r.exchanges.Load() >= n
}
