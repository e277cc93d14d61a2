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

package twr_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dw3000 "github.com/uwbworks/go-dw3000"
	simtest "github.com/uwbworks/go-dw3000/internal/testing"
	"github.com/uwbworks/go-dw3000/twr"
)

const (
	testTagID    byte = 0x01
	testAnchorID byte = 0x11

	// tofTicks is the simulated one-way flight time, ~10 m
	tofTicks = int64(2131)
)

// newRangingDevice builds an initialized, configured device on a simulator
func newRangingDevice(t *testing.T) (*dw3000.Device, *simtest.SimulatorBus) {
	t.Helper()
	sim := simtest.NewSimulatorBus()
	device, err := dw3000.New(sim, dw3000.WithPollInterval(100*time.Microsecond))
	require.NoError(t, err)
	require.NoError(t, device.Init())
	require.NoError(t, device.ApplyConfig(dw3000.DefaultConfig()))
	return device, sim
}

// anchorScript answers ranging frames from the simulated air interface the
// way a remote anchor would, fabricating responder-side timestamps that
// encode a fixed time of flight.
type anchorScript struct {
	sim        *simtest.SimulatorBus
	responding atomic.Bool
	// respDelay is the clock advance applied to the injected resp, i.e.
	// the initiator-observed round trip
	respDelay int64
}

func newAnchorScript(sim *simtest.SimulatorBus) *anchorScript {
	s := &anchorScript{sim: sim, respDelay: 1_000_000}
	s.responding.Store(true)
	sim.OnTransmit(s.handleFrame)
	return s
}

func (s *anchorScript) handleFrame(payload []byte, txTime dw3000.Timestamp) {
	if !s.responding.Load() {
		return
	}
	h, err := twr.DecodeHeader(payload)
	if err != nil {
		return
	}

	switch h.Type {
	case twr.MsgPoll:
		// Responder-side reply delay chosen so the single-sided math
		// yields exactly tofTicks
		resp := twr.Resp{
			Header: twr.Header{Type: twr.MsgResp, Seq: h.Seq, Src: h.Dst, Dst: h.Src},
			PollRX: 1 << 24,
			RespTX: dw3000.Timestamp(1<<24 + s.respDelay - 2*tofTicks),
		}
		s.sim.InjectFrame(resp.Encode(), s.respDelay)

	case twr.MsgFinal:
		final, err := twr.DecodeFinal(payload)
		if err != nil {
			return
		}
		// The delayed transmission zeroed the low octet of the departure
		// time; reconstruct the initiator intervals the same way
		actualFinalTX := dw3000.Timestamp(uint64(final.FinalTX) &^ 0xFF)
		ra := final.RespRX.Sub(final.PollTX)
		da := actualFinalTX.Sub(final.RespRX)

		// Symmetric responder intervals encode the same time of flight
		db := ra - 2*tofTicks
		rb := da + 2*tofTicks
		report := twr.Report{
			Header:  twr.Header{Type: twr.MsgReport, Seq: h.Seq, Src: h.Dst, Dst: h.Src},
			PollRX:  1 << 25,
			RespTX:  dw3000.Timestamp(int64(1<<25) + db),
			FinalRX: dw3000.Timestamp(int64(1<<25) + db + rb),
		}
		s.sim.InjectFrame(report.Encode(), 500_000)
	}
}

func TestSession_RangeOnceDoubleSided(t *testing.T) {
	t.Parallel()

	device, sim := newRangingDevice(t)
	newAnchorScript(sim)

	session := twr.NewSession(device, testTagID, []byte{testAnchorID}, nil)
	defer func() { _ = session.Close() }()

	m, err := session.RangeOnce(context.Background(), testAnchorID)
	require.NoError(t, err)
	assert.Equal(t, testAnchorID, m.Anchor)
	assert.True(t, m.DoubleSided)
	assert.InEpsilon(t, 10.0, m.Distance, 0.01)
	assert.InEpsilon(t, float64(tofTicks)*dw3000.TimeUnit, m.TimeOfFlight, 0.01)
}

func TestSession_RangeOnceSingleSided(t *testing.T) {
	t.Parallel()

	device, sim := newRangingDevice(t)
	newAnchorScript(sim)

	cfg := twr.DefaultConfig()
	cfg.DoubleSided = false
	session := twr.NewSession(device, testTagID, []byte{testAnchorID}, cfg)
	defer func() { _ = session.Close() }()

	m, err := session.RangeOnce(context.Background(), testAnchorID)
	require.NoError(t, err)
	assert.False(t, m.DoubleSided)
	assert.InEpsilon(t, 10.0, m.Distance, 0.01)
}

func TestSession_RangeOnceNoResponse(t *testing.T) {
	t.Parallel()

	device, sim := newRangingDevice(t)
	script := newAnchorScript(sim)
	script.responding.Store(false)

	cfg := twr.DefaultConfig()
	cfg.ResponseTimeout = 20 * time.Millisecond
	session := twr.NewSession(device, testTagID, []byte{testAnchorID}, cfg)
	defer func() { _ = session.Close() }()

	_, err := session.RangeOnce(context.Background(), testAnchorID)
	require.ErrorIs(t, err, twr.ErrNoResponse)
}

func TestSession_RangeOnceIgnoresWrongAnchor(t *testing.T) {
	t.Parallel()

	device, sim := newRangingDevice(t)
	sim.OnTransmit(func(payload []byte, _ dw3000.Timestamp) {
		h, err := twr.DecodeHeader(payload)
		if err != nil || h.Type != twr.MsgPoll {
			return
		}
		// Answer from an anchor that was never asked
		resp := twr.Resp{
			Header: twr.Header{Type: twr.MsgResp, Seq: h.Seq, Src: 0x66, Dst: h.Src},
			PollRX: 1000,
			RespTX: 2000,
		}
		sim.InjectFrame(resp.Encode(), 1_000_000)
	})

	session := twr.NewSession(device, testTagID, []byte{testAnchorID}, nil)
	defer func() { _ = session.Close() }()

	_, err := session.RangeOnce(context.Background(), testAnchorID)
	require.ErrorIs(t, err, twr.ErrBadMessage)
}

func TestSession_StartReportsMeasurementsAndLoss(t *testing.T) {
	t.Parallel()

	device, sim := newRangingDevice(t)
	script := newAnchorScript(sim)

	cfg := twr.DefaultConfig()
	cfg.RangeInterval = 5 * time.Millisecond
	cfg.ResponseTimeout = 20 * time.Millisecond
	cfg.AnchorLostTimeout = 100 * time.Millisecond

	session := twr.NewSession(device, testTagID, []byte{testAnchorID}, cfg)
	defer func() { _ = session.Close() }()

	found := make(chan byte, 1)
	ranges := make(chan twr.Measurement, 16)
	lost := make(chan byte, 1)
	session.OnAnchorFound = func(anchor byte) error {
		select {
		case found <- anchor:
		default:
		}
		return nil
	}
	session.OnRange = func(m twr.Measurement) error {
		select {
		case ranges <- m:
		default:
		}
		return nil
	}
	session.OnAnchorLost = func(anchor byte) {
		select {
		case lost <- anchor:
		default:
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- session.Start(ctx) }()

	select {
	case anchor := <-found:
		assert.Equal(t, testAnchorID, anchor)
	case <-time.After(2 * time.Second):
		t.Fatal("anchor never found")
	}

	select {
	case m := <-ranges:
		assert.InEpsilon(t, 10.0, m.Distance, 0.01)
	case <-time.After(2 * time.Second):
		t.Fatal("no measurement delivered")
	}

	// The anchor goes silent; the lost timer should fire
	script.responding.Store(false)
	select {
	case anchor := <-lost:
		assert.Equal(t, testAnchorID, anchor)
	case <-time.After(5 * time.Second):
		t.Fatal("anchor never reported lost")
	}

	cancel()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("session did not stop")
	}
}

func TestSession_PauseResume(t *testing.T) {
	t.Parallel()

	device, sim := newRangingDevice(t)
	newAnchorScript(sim)

	cfg := twr.DefaultConfig()
	cfg.RangeInterval = 5 * time.Millisecond
	session := twr.NewSession(device, testTagID, []byte{testAnchorID}, cfg)
	defer func() { _ = session.Close() }()

	var count atomic.Int64
	session.OnRange = func(twr.Measurement) error {
		count.Add(1)
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- session.Start(ctx) }()

	require.Eventually(t, func() bool { return count.Load() > 0 },
		2*time.Second, time.Millisecond)

	session.Pause()
	time.Sleep(50 * time.Millisecond)
	paused := count.Load()
	time.Sleep(100 * time.Millisecond)
	assert.LessOrEqual(t, count.Load(), paused+1, "ranging should stop while paused")

	session.Resume()
	require.Eventually(t, func() bool { return count.Load() > paused+1 },
		2*time.Second, time.Millisecond)

	cancel()
	<-done
}

func TestSession_AnchorStateTracking(t *testing.T) {
	t.Parallel()

	device, sim := newRangingDevice(t)
	newAnchorScript(sim)

	session := twr.NewSession(device, testTagID, []byte{testAnchorID}, nil)
	defer func() { _ = session.Close() }()

	_, ok := session.AnchorState(0x99)
	assert.False(t, ok, "unknown anchor has no state")

	st, ok := session.AnchorState(testAnchorID)
	require.True(t, ok)
	assert.False(t, st.InRange)
}
