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
	"errors"
	"fmt"
	"io"
	"runtime"
	"strings"
	"syscall"
	"time"
)

// Error categories for error handling and retry logic
var (
	// Bus errors - potentially retryable
	ErrBusTimeout  = errors.New("bus timeout")
	ErrBusWrite    = errors.New("bus write failed")
	ErrBusRead     = errors.New("bus read failed")
	ErrBusClosed   = errors.New("bus is closed")
	ErrBusNotReady = errors.New("bus not ready")

	// Device errors - generally not retryable
	ErrDeviceNotFound  = errors.New("device not found")
	ErrWrongDevice     = errors.New("device ID does not identify a DW3000")
	ErrInvalidResponse = errors.New("invalid response format")

	// Configuration errors - rejected before any register write
	ErrInvalidConfig = errors.New("unsupported configuration")
	ErrNotConfigured = errors.New("device has no applied configuration")
	ErrNotCalibrated = errors.New("antenna delay calibration not applied")

	// Frame and state machine errors
	ErrTimeout       = errors.New("receive timeout")
	ErrRxFrame       = errors.New("receive frame error")
	ErrFrameTooLarge = errors.New("frame exceeds buffer capacity")
	ErrBufferBusy    = errors.New("frame buffer is owned by an outstanding operation")
	ErrInvalidState  = errors.New("operation not valid in current state")
	ErrAborted       = errors.New("operation aborted")

	// Ranging errors - result discarded, caller may retry the exchange
	ErrRangingInvalid = errors.New("inconsistent ranging timestamps")
)

// ErrorKind represents the category of error for retry logic
type ErrorKind int

const (
	// KindTransient indicates a potentially retryable error
	KindTransient ErrorKind = iota
	// KindPermanent indicates a non-retryable error
	KindPermanent
	// KindTimeout indicates a timeout error (special handling)
	KindTimeout
)

// BusError wraps bus-level errors with additional context
type BusError struct {
	Err       error     // Underlying error
	Op        string    // Operation that failed
	Port      string    // Port or device identifier
	Kind      ErrorKind // Error category
	Retryable bool      // Whether the error is retryable
}

func (e *BusError) Error() string {
	if e.Port != "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Port, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *BusError) Unwrap() error {
	return e.Err
}

// StatusError wraps a device event status word that reported an error
// condition. It keeps the raw SYS_STATUS value so callers can inspect
// exactly which events fired.
type StatusError struct {
	Op     string
	Status uint32
}

func (e *StatusError) Error() string {
	events := describeStatusBits(e.Status)
	if e.Op != "" {
		return fmt.Sprintf("%s: status 0x%08X (%s)", e.Op, e.Status, events)
	}
	return fmt.Sprintf("status 0x%08X (%s)", e.Status, events)
}

// describeStatusBits returns a human-readable list of the error and timeout
// events set in a SYS_STATUS value. Event names follow the DW3000 user
// manual, SYS_STATUS description.
func describeStatusBits(status uint32) string {
	names := []struct {
		name string
		bit  uint32
	}{
		{"PHY header error", statusRXPHE},
		{"FCS error", statusRXFCE},
		{"Reed-Solomon sync loss", statusRXFSL},
		{"CIA error", statusCIAERR},
		{"RX buffer overrun", statusRXOVRR},
		{"SFD timeout", statusRXSTO},
		{"frame filter rejection", statusARFE},
		{"frame wait timeout", statusRXFTO},
		{"preamble detection timeout", statusRXPTO},
		{"SPI CRC error", statusSPICRCE},
	}
	var set []string
	for _, n := range names {
		if status&n.bit != 0 {
			set = append(set, n.name)
		}
	}
	if len(set) == 0 {
		return "no error events"
	}
	return strings.Join(set, ", ")
}

// IsTimeout returns true if the status reports a receive timeout rather
// than a corrupted frame.
func (e *StatusError) IsTimeout() bool {
	return e.Status&statusRxTimeout != 0 && e.Status&statusRxError == 0
}

// IsFrameError returns true if the status reports a receive error event
func (e *StatusError) IsFrameError() bool {
	return e.Status&statusRxError != 0
}

// IsRetryable returns true if the error is potentially retryable
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var be *BusError
	if errors.As(err, &be) {
		return be.Retryable
	}

	// Timeouts are retryable at the exchange level; frame errors are
	// transient RF conditions and may clear on re-arm.
	var se *StatusError
	if errors.As(err, &se) {
		return se.IsTimeout() || se.IsFrameError()
	}

	switch {
	case errors.Is(err, ErrBusTimeout),
		errors.Is(err, ErrBusRead),
		errors.Is(err, ErrBusWrite),
		errors.Is(err, ErrTimeout),
		errors.Is(err, ErrRxFrame),
		errors.Is(err, ErrRangingInvalid):
		return true
	default:
		return false
	}
}

// IsFatal returns true if the error indicates the device/connection is gone
// and the caller should stop entirely. This is distinct from IsRetryable
// which indicates whether a single operation can be retried.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}

	var be *BusError
	if errors.As(err, &be) {
		return be.Kind == KindPermanent
	}

	if isDeviceGoneError(err) {
		return true
	}

	switch {
	case errors.Is(err, ErrBusClosed),
		errors.Is(err, ErrDeviceNotFound),
		errors.Is(err, ErrWrongDevice),
		errors.Is(err, io.EOF),
		errors.Is(err, io.ErrClosedPipe):
		return true
	default:
		return false
	}
}

// Windows error codes for device disconnection detection.
// These are defined here because they're not available on non-Windows platforms.
const (
	errAccessDenied syscall.Errno = 5   // ERROR_ACCESS_DENIED
	errGenFailure   syscall.Errno = 31  // ERROR_GEN_FAILURE
	errNoSuchDevice syscall.Errno = 433 // ERROR_NO_SUCH_DEVICE
)

// isDeviceGoneError checks for OS-level errors indicating device disconnection.
// These errors occur when a USB adapter is unplugged during I/O operations.
func isDeviceGoneError(err error) bool {
	if err == nil {
		return false
	}

	var errno syscall.Errno
	if errors.As(err, &errno) {
		//nolint:exhaustive // Only checking specific device-gone errors, not all errno values
		switch errno {
		case syscall.EIO, syscall.ENXIO, syscall.ENODEV:
			return true
		}

		if runtime.GOOS == "windows" {
			//nolint:exhaustive // Only checking specific device-gone errors, not all errno values
			switch errno {
			case errAccessDenied, errGenFailure, errNoSuchDevice:
				return true
			}
		}
	}

	return false
}

// IsRxTimeout checks if an error is a receive timeout (frame wait or
// preamble detection), as opposed to a frame error.
func IsRxTimeout(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.IsTimeout()
	}
	return errors.Is(err, ErrTimeout)
}

// Error constructors for consistent error creation

// NewStatusError creates a status error for the given operation
func NewStatusError(op string, status uint32) *StatusError {
	return &StatusError{Op: op, Status: status}
}

// NewBusError creates a standard bus error with consistent formatting
func NewBusError(op, port string, err error, kind ErrorKind) *BusError {
	return &BusError{
		Op:        op,
		Port:      port,
		Err:       err,
		Kind:      kind,
		Retryable: kind == KindTransient || kind == KindTimeout,
	}
}

// NewTimeoutError creates a timeout error for bus operations
func NewTimeoutError(op, port string) *BusError {
	return NewBusError(op, port, ErrBusTimeout, KindTimeout)
}

// NewBusWriteError creates a write error (transient)
func NewBusWriteError(op, port string, err error) *BusError {
	return NewBusError(op, port, fmt.Errorf("%w: %w", ErrBusWrite, err), KindTransient)
}

// NewBusReadError creates a read error (transient)
func NewBusReadError(op, port string, err error) *BusError {
	return NewBusError(op, port, fmt.Errorf("%w: %w", ErrBusRead, err), KindTransient)
}

// NewInvalidResponseError creates an invalid response error (permanent)
func NewInvalidResponseError(op, port string) *BusError {
	return NewBusError(op, port, ErrInvalidResponse, KindPermanent)
}

// =============================================================================
// Bus Trace Logging
// =============================================================================
// TraceableError embeds bus-level trace data in errors, allowing consumer
// applications to access debug information when operations fail.

// TraceDirection indicates the direction of bus data
type TraceDirection string

const (
	// TraceTX indicates data written to the device
	TraceTX TraceDirection = "TX"
	// TraceRX indicates data read from the device
	TraceRX TraceDirection = "RX"
)

// TraceEntry represents a single bus-level operation
type TraceEntry struct {
	Timestamp time.Time
	Direction TraceDirection
	Note      string
	Data      []byte
}

// String formats a trace entry for display
func (e TraceEntry) String() string {
	hexData := formatHexBytes(e.Data)
	if e.Note != "" {
		return fmt.Sprintf("[%s] %s: %s (%s)", e.Timestamp.Format("15:04:05.000"), e.Direction, hexData, e.Note)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Timestamp.Format("15:04:05.000"), e.Direction, hexData)
}

// TraceableError wraps an error with bus-level trace data for debugging.
// Consumer applications can use errors.As() to extract trace information:
//
//	var te *dw3000.TraceableError
//	if errors.As(err, &te) {
//	    log.Printf("Bus trace:\n%s", te.FormatTrace())
//	}
type TraceableError struct {
	Err   error
	Bus   string
	Port  string
	Trace []TraceEntry
}

// Error implements the error interface
func (e *TraceableError) Error() string {
	return e.Err.Error()
}

// Unwrap returns the underlying error for errors.Is/As compatibility
func (e *TraceableError) Unwrap() error {
	return e.Err
}

// FormatTrace returns a human-readable formatted trace log
func (e *TraceableError) FormatTrace() string {
	if len(e.Trace) == 0 {
		return fmt.Sprintf("[%s:%s] (no trace data)", e.Bus, e.Port)
	}

	var sb strings.Builder
	_, _ = sb.WriteString(fmt.Sprintf("[%s:%s] Bus trace (%d entries):\n", e.Bus, e.Port, len(e.Trace)))

	for _, entry := range e.Trace {
		direction := ">"
		if entry.Direction == TraceRX {
			direction = "<"
		}
		hexData := formatHexBytes(entry.Data)
		if entry.Note != "" {
			_, _ = sb.WriteString(fmt.Sprintf("  %s %s (%s)\n", direction, hexData, entry.Note))
		} else {
			_, _ = sb.WriteString(fmt.Sprintf("  %s %s\n", direction, hexData))
		}
	}

	return sb.String()
}

// formatHexBytes formats a byte slice as space-separated hex values
func formatHexBytes(data []byte) string {
	if len(data) == 0 {
		return "(empty)"
	}
	if len(data) > 32 {
		// Truncate long data with ellipsis
		parts := make([]string, 32)
		for i := 0; i < 32; i++ {
			parts[i] = fmt.Sprintf("%02X", data[i])
		}
		return strings.Join(parts, " ") + fmt.Sprintf(" ... (%d bytes total)", len(data))
	}
	parts := make([]string, len(data))
	for i, b := range data {
		parts[i] = fmt.Sprintf("%02X", b)
	}
	return strings.Join(parts, " ")
}

// TraceBuffer collects trace entries during a bus operation.
// It uses a fixed-size circular buffer to limit memory usage.
type TraceBuffer struct {
	bus     string
	port    string
	entries []TraceEntry
	maxSize int
}

// NewTraceBuffer creates a new trace buffer with the specified capacity
func NewTraceBuffer(bus, port string, maxSize int) *TraceBuffer {
	if maxSize <= 0 {
		maxSize = 16 // Default to 16 entries
	}
	return &TraceBuffer{
		entries: make([]TraceEntry, 0, maxSize),
		maxSize: maxSize,
		bus:     bus,
		port:    port,
	}
}

// RecordTX records a write to the device
func (tb *TraceBuffer) RecordTX(data []byte, note string) {
	tb.record(TraceTX, data, note)
}

// RecordRX records data read from the device
func (tb *TraceBuffer) RecordRX(data []byte, note string) {
	tb.record(TraceRX, data, note)
}

// RecordTimeout records a timeout event
func (tb *TraceBuffer) RecordTimeout(note string) {
	tb.record(TraceRX, nil, "TIMEOUT: "+note)
}

// record adds an entry to the buffer, evicting oldest if full
func (tb *TraceBuffer) record(dir TraceDirection, data []byte, note string) {
	// Make a copy of data to avoid aliasing issues
	dataCopy := make([]byte, len(data))
	copy(dataCopy, data)

	entry := TraceEntry{
		Direction: dir,
		Data:      dataCopy,
		Timestamp: time.Now(),
		Note:      note,
	}

	if len(tb.entries) >= tb.maxSize {
		// Shift entries to make room (evict oldest)
		copy(tb.entries, tb.entries[1:])
		tb.entries[len(tb.entries)-1] = entry
	} else {
		tb.entries = append(tb.entries, entry)
	}
}

// WrapError wraps an error with the collected trace data.
// Returns nil if err is nil.
func (tb *TraceBuffer) WrapError(err error) error {
	if err == nil {
		return nil
	}

	// Make a copy of entries
	entriesCopy := make([]TraceEntry, len(tb.entries))
	copy(entriesCopy, tb.entries)

	return &TraceableError{
		Err:   err,
		Trace: entriesCopy,
		Bus:   tb.bus,
		Port:  tb.port,
	}
}

// Clear resets the trace buffer
func (tb *TraceBuffer) Clear() {
	tb.entries = tb.entries[:0]
}

// HasTrace checks if an error contains trace data
func HasTrace(err error) bool {
	var te *TraceableError
	return errors.As(err, &te)
}

// GetTrace extracts trace data from an error, returning nil if not present
func GetTrace(err error) *TraceableError {
	var te *TraceableError
	if errors.As(err, &te) {
		return te
	}
	return nil
}
