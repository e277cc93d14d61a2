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
	"github.com/uwbworks/go-dw3000/internal/syncutil"
)

// Measurement is one completed ranging exchange
type Measurement struct {
	// Time is the host wall-clock time of the measurement
	Time time.Time
	// Distance in meters
	Distance float64
	// TimeOfFlight in seconds
	TimeOfFlight float64
	// Anchor is the responder's short address
	Anchor byte
	// Seq is the exchange sequence number
	Seq byte
	// DoubleSided is true for asymmetric double-sided exchanges
	DoubleSided bool
}

// Session drives continuous ranging rounds from a tag against a set of
// anchors
type Session struct {
	// OnRange is called for every successful measurement
	OnRange func(Measurement) error
	// OnAnchorFound is called when an anchor first answers
	OnAnchorFound func(anchor byte) error
	// OnAnchorLost is called when an anchor stops answering
	OnAnchorLost func(anchor byte)

	config     *Config
	device     *dw3000.Device
	recoverer  DeviceRecoverer
	states     map[byte]*AnchorState
	pauseChan  chan struct{}
	resumeChan chan struct{}
	ackChan    chan struct{}
	anchors    []byte
	lastRound  time.Time
	stateMutex syncutil.RWMutex
	tagID      byte
	seq        byte
	closed     atomic.Bool
	isPaused   atomic.Bool
}

// NewSession creates a ranging session for a tag with the given short
// address against the listed anchors
func NewSession(device *dw3000.Device, tagID byte, anchors []byte, config *Config) *Session {
	if config == nil {
		config = DefaultConfig()
	}
	states := make(map[byte]*AnchorState, len(anchors))
	for _, a := range anchors {
		states[a] = &AnchorState{}
	}
	return &Session{
		device:     device,
		config:     config,
		tagID:      tagID,
		anchors:    append([]byte(nil), anchors...),
		states:     states,
		pauseChan:  make(chan struct{}, 1),
		resumeChan: make(chan struct{}, 1),
		ackChan:    make(chan struct{}, 1),
	}
}

// SetRecoverer installs a device recoverer used after fatal bus errors
func (s *Session) SetRecoverer(r DeviceRecoverer) {
	s.stateMutex.Lock()
	defer s.stateMutex.Unlock()
	s.recoverer = r
}

// SetOnRange sets the callback for successful measurements
func (s *Session) SetOnRange(callback func(Measurement) error) {
	s.stateMutex.Lock()
	defer s.stateMutex.Unlock()
	s.OnRange = callback
}

// SetOnAnchorFound sets the callback for an anchor's first answer
func (s *Session) SetOnAnchorFound(callback func(byte) error) {
	s.stateMutex.Lock()
	defer s.stateMutex.Unlock()
	s.OnAnchorFound = callback
}

// SetOnAnchorLost sets the callback for a silent anchor
func (s *Session) SetOnAnchorLost(callback func(byte)) {
	s.stateMutex.Lock()
	defer s.stateMutex.Unlock()
	s.OnAnchorLost = callback
}

// GetDevice returns the underlying DW3000 device
func (s *Session) GetDevice() *dw3000.Device {
	return s.device
}

// AnchorState returns a copy of one anchor's tracking state
func (s *Session) AnchorState(anchor byte) (AnchorState, bool) {
	s.stateMutex.RLock()
	defer s.stateMutex.RUnlock()
	st, ok := s.states[anchor]
	if !ok {
		return AnchorState{}, false
	}
	return *st, true
}

// Start begins continuous ranging rounds until the context is cancelled
func (s *Session) Start(ctx context.Context) error {
	ticker := time.NewTicker(s.config.RangeInterval)
	defer ticker.Stop()

	s.stateMutex.Lock()
	s.lastRound = time.Now()
	s.stateMutex.Unlock()

	for {
		if err := s.handleContextAndPause(ctx); err != nil {
			return err
		}

		if err := s.executeRangingRound(ctx); err != nil {
			return err
		}

		if err := s.waitForNextRoundOrPause(ctx, ticker); err != nil {
			return err
		}
	}
}

// executeRangingRound ranges against every anchor once
func (s *Session) executeRangingRound(ctx context.Context) error {
	s.detectSleepAndRecover(ctx)

	for _, anchor := range s.anchors {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		m, err := s.RangeOnce(ctx, anchor)
		switch {
		case err == nil:
			if cbErr := s.processMeasurement(m); cbErr != nil {
				return cbErr
			}
		case errors.Is(err, ErrNoResponse), errors.Is(err, ErrBadMessage),
			errors.Is(err, dw3000.ErrRangingInvalid):
			s.recordMiss(anchor)
		case dw3000.IsFatal(err):
			if recErr := s.attemptRecovery(ctx, err); recErr != nil {
				return recErr
			}
		default:
			// Transient bus noise, count it as a miss and keep going
			s.recordMiss(anchor)
		}
	}

	s.stateMutex.Lock()
	s.lastRound = time.Now()
	s.stateMutex.Unlock()
	return nil
}

// detectSleepAndRecover checks for host sleep discontinuity and forces the
// transceiver back to a known state after one
func (s *Session) detectSleepAndRecover(ctx context.Context) {
	s.stateMutex.RLock()
	last := s.lastRound
	s.stateMutex.RUnlock()
	if last.IsZero() {
		return
	}

	elapsed := time.Since(last)
	if s.config.Recovery.DetectSleep(elapsed, s.config.RangeInterval) {
		_ = s.attemptRecovery(ctx, nil)
	}
}

// attemptRecovery runs the configured recoverer, falling back to a plain
// transceiver abort
func (s *Session) attemptRecovery(ctx context.Context, cause error) error {
	s.stateMutex.RLock()
	recoverer := s.recoverer
	s.stateMutex.RUnlock()

	if recoverer == nil {
		if err := s.device.AbortContext(ctx); err != nil {
			if cause != nil {
				return fmt.Errorf("recovery after %w failed: %w", cause, err)
			}
			return fmt.Errorf("transceiver recovery failed: %w", err)
		}
		return nil
	}

	if err := recoverer.AttemptRecovery(ctx); err != nil {
		if cause != nil {
			return fmt.Errorf("recovery after %w failed: %w", cause, err)
		}
		return fmt.Errorf("device recovery failed: %w", err)
	}

	s.stateMutex.Lock()
	s.device = recoverer.GetDevice()
	s.stateMutex.Unlock()
	return nil
}

// RangeOnce performs a single ranging exchange with one anchor
func (s *Session) RangeOnce(ctx context.Context, anchor byte) (Measurement, error) {
	seq := s.nextSeq()
	mode := ModeSingleSided
	if s.config.DoubleSided {
		mode = ModeDoubleSided
	}

	poll := Poll{
		Header: Header{Type: MsgPoll, Seq: seq, Src: s.tagID, Dst: anchor},
		Mode:   mode,
	}

	pollTX, err := s.device.Transmit(ctx, poll.Encode())
	if err != nil {
		return Measurement{}, fmt.Errorf("poll transmit failed: %w", err)
	}

	resp, respRX, err := s.awaitResp(ctx, seq, anchor)
	if err != nil {
		return Measurement{}, err
	}

	var result dw3000.Result
	if s.config.DoubleSided {
		result, err = s.finishDoubleSided(ctx, seq, anchor, pollTX, resp, respRX)
	} else {
		result, err = s.device.ResolveSingleSided(dw3000.SingleSidedExchange{
			PollTX: pollTX,
			RespRX: respRX,
			PollRX: resp.PollRX,
			RespTX: resp.RespTX,
		})
	}
	if err != nil {
		return Measurement{}, err
	}

	return Measurement{
		Time:         time.Now(),
		Distance:     result.Distance,
		TimeOfFlight: result.TimeOfFlight,
		Anchor:       anchor,
		Seq:          seq,
		DoubleSided:  s.config.DoubleSided,
	}, nil
}

// awaitResp arms the receiver and waits for a matching resp frame
func (s *Session) awaitResp(ctx context.Context, seq, anchor byte) (Resp, dw3000.Timestamp, error) {
	if err := s.device.ArmReceiveContext(ctx); err != nil {
		return Resp{}, 0, fmt.Errorf("failed to arm receiver: %w", err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, s.config.ResponseTimeout)
	defer cancel()

	frame, err := s.device.WaitFrame(waitCtx)
	if err != nil {
		_ = s.device.AbortContext(ctx)
		if dw3000.IsRxTimeout(err) || errors.Is(err, context.DeadlineExceeded) {
			return Resp{}, 0, ErrNoResponse
		}
		return Resp{}, 0, fmt.Errorf("resp receive failed: %w", err)
	}

	resp, err := DecodeResp(frame.Payload)
	if err != nil {
		return Resp{}, 0, err
	}
	if resp.Seq != seq || resp.Src != anchor || resp.Dst != s.tagID {
		return Resp{}, 0, fmt.Errorf("%w: resp for wrong exchange", ErrBadMessage)
	}
	return resp, frame.Timestamp, nil
}

// finishDoubleSided sends the final frame and waits for the anchor's
// report, then resolves the asymmetric exchange
func (s *Session) finishDoubleSided(
	ctx context.Context, seq, anchor byte,
	pollTX dw3000.Timestamp, resp Resp, respRX dw3000.Timestamp,
) (dw3000.Result, error) {
	final := Final{
		Header: Header{Type: MsgFinal, Seq: seq, Src: s.tagID, Dst: anchor},
		PollTX: pollTX,
		RespRX: respRX,
	}

	var finalTX dw3000.Timestamp
	var err error
	if s.device.SupportsDelayedTRX() {
		// With delayed transmission the final frame can carry its own
		// departure time
		txAt := respRX.Add(s.config.ReplyDelay)
		final.FinalTX = txAt
		if err = s.device.ArmTransmitAt(ctx, final.Encode(), txAt); err != nil {
			return dw3000.Result{}, fmt.Errorf("final transmit failed: %w", err)
		}
		finalTX, err = s.device.WaitTransmitDone(ctx)
	} else {
		finalTX, err = s.device.Transmit(ctx, final.Encode())
	}
	if err != nil {
		return dw3000.Result{}, fmt.Errorf("final transmit failed: %w", err)
	}

	report, err := s.awaitReport(ctx, seq, anchor)
	if err != nil {
		return dw3000.Result{}, err
	}

	return s.device.ResolveDoubleSided(dw3000.DoubleSidedExchange{
		PollTX:  pollTX,
		RespRX:  respRX,
		FinalTX: finalTX,
		PollRX:  report.PollRX,
		RespTX:  report.RespTX,
		FinalRX: report.FinalRX,
	})
}

// awaitReport arms the receiver and waits for a matching report frame
func (s *Session) awaitReport(ctx context.Context, seq, anchor byte) (Report, error) {
	if err := s.device.ArmReceiveContext(ctx); err != nil {
		return Report{}, fmt.Errorf("failed to arm receiver: %w", err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, s.config.ResponseTimeout)
	defer cancel()

	frame, err := s.device.WaitFrame(waitCtx)
	if err != nil {
		_ = s.device.AbortContext(ctx)
		if dw3000.IsRxTimeout(err) || errors.Is(err, context.DeadlineExceeded) {
			return Report{}, ErrNoResponse
		}
		return Report{}, fmt.Errorf("report receive failed: %w", err)
	}

	report, err := DecodeReport(frame.Payload)
	if err != nil {
		return Report{}, err
	}
	if report.Seq != seq || report.Src != anchor || report.Dst != s.tagID {
		return Report{}, fmt.Errorf("%w: report for wrong exchange", ErrBadMessage)
	}
	return report, nil
}

// processMeasurement updates anchor state and runs callbacks
func (s *Session) processMeasurement(m Measurement) error {
	s.stateMutex.Lock()
	st, ok := s.states[m.Anchor]
	if !ok {
		st = &AnchorState{}
		s.states[m.Anchor] = st
	}
	wasInRange := st.InRange
	st.TransitionToRanging()
	s.stateMutex.Unlock()

	s.stateMutex.RLock()
	onFound := s.OnAnchorFound
	onRange := s.OnRange
	s.stateMutex.RUnlock()

	// Callbacks run outside the lock with panic recovery
	if !wasInRange && onFound != nil {
		if err := safeCallCallback(func() error { return onFound(m.Anchor) }, "OnAnchorFound"); err != nil {
			return err
		}
	}
	if onRange != nil {
		if err := safeCallCallback(func() error { return onRange(m) }, "OnRange"); err != nil {
			return err
		}
	}

	anchor := m.Anchor
	s.stateMutex.Lock()
	st.TransitionToInRange(m.Distance, s.config.AnchorLostTimeout, func() {
		s.handleAnchorLost(anchor)
	})
	s.stateMutex.Unlock()
	return nil
}

// recordMiss counts a failed exchange against an anchor
func (s *Session) recordMiss(anchor byte) {
	s.stateMutex.Lock()
	if st, ok := s.states[anchor]; ok {
		st.Misses++
	}
	s.stateMutex.Unlock()
}

// handleAnchorLost fires when an anchor's lost timer expires
func (s *Session) handleAnchorLost(anchor byte) {
	// Bail out if the session is closed to prevent timer callbacks from
	// executing after cleanup
	if s.closed.Load() {
		return
	}

	s.stateMutex.Lock()
	st, ok := s.states[anchor]
	if !ok {
		s.stateMutex.Unlock()
		return
	}
	// A ranging exchange is actively processing, ignore the stale timer
	if st.DetectionState == StateRanging {
		s.stateMutex.Unlock()
		return
	}
	wasInRange := st.InRange
	if wasInRange {
		st.TransitionToIdle()
	}
	onLost := s.OnAnchorLost
	s.stateMutex.Unlock()

	// Call callback outside the lock to avoid potential deadlocks
	if wasInRange && onLost != nil {
		onLost(anchor)
	}
}

// nextSeq returns the next exchange sequence number
func (s *Session) nextSeq() byte {
	s.stateMutex.Lock()
	defer s.stateMutex.Unlock()
	s.seq++
	return s.seq
}

// safeCallCallback executes a callback with panic recovery
func safeCallCallback(callback func() error, callbackName string) error {
	var callbackErr error
	func() {
		defer func() {
			if r := recover(); r != nil {
				callbackErr = fmt.Errorf("%s callback panicked: %v", callbackName, r)
			}
		}()
		callbackErr = callback()
	}()
	if callbackErr != nil {
		return fmt.Errorf("%s callback failed: %w", callbackName, callbackErr)
	}
	return nil
}

// Close cleans up the session resources
func (s *Session) Close() error {
	// Mark session as closed to prevent timer callbacks from executing
	s.closed.Store(true)

	// Stop all running lost timers
	s.stateMutex.Lock()
	for _, st := range s.states {
		safeTimerStop(st.LostTimer)
		st.LostTimer = nil
	}
	s.stateMutex.Unlock()

	// Reset pause state and drain channels to prevent corruption
	s.isPaused.Store(false)
	select {
	case <-s.pauseChan:
	default:
	}
	select {
	case <-s.resumeChan:
	default:
	}

	return nil
}

// Pause temporarily stops the ranging loop
func (s *Session) Pause() {
	if s.isPaused.CompareAndSwap(false, true) {
		select {
		case s.pauseChan <- struct{}{}:
		default:
			// Channel full or no receiver - the isPaused flag is set
		}
	}
}

// Resume restarts the ranging loop after a pause
func (s *Session) Resume() {
	if s.isPaused.CompareAndSwap(true, false) {
		select {
		case s.resumeChan <- struct{}{}:
		default:
			// Channel full or no receiver - the isPaused flag is cleared
		}
	}
}

// waitForNextRoundOrPause waits for the next round or handles pause signals
func (s *Session) waitForNextRoundOrPause(ctx context.Context, ticker *time.Ticker) error {
	select {
	case <-ticker.C:
		return nil
	case <-s.pauseChan:
		return s.handlePauseSignal(ctx)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// handlePauseSignal sends acknowledgment and waits for resume
func (s *Session) handlePauseSignal(ctx context.Context) error {
	select {
	case s.ackChan <- struct{}{}:
	default:
		// Channel full or no receiver - continue anyway
	}
	return s.waitForResume(ctx)
}

func (s *Session) handleContextAndPause(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.pauseChan:
		return s.waitForResume(ctx)
	default:
		return nil
	}
}

func (s *Session) waitForResume(ctx context.Context) error {
	select {
	case <-s.resumeChan:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
