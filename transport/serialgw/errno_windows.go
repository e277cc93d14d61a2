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

//go:build windows

package serialgw

import (
	"errors"

	"golang.org/x/sys/windows"
)

// classifyPortError reports whether a serial port error means the gateway
// device has been unplugged or the COM port is gone. These are not
// recoverable by retrying the request.
func classifyPortError(err error) bool {
	if err == nil {
		return false
	}
	var errno windows.Errno
	if !errors.As(err, &errno) {
		return false
	}
	switch errno {
	case windows.ERROR_FILE_NOT_FOUND,
		windows.ERROR_BAD_UNIT,
		windows.ERROR_GEN_FAILURE,
		windows.ERROR_DEVICE_NOT_CONNECTED,
		windows.ERROR_OPERATION_ABORTED:
		return true
	default:
		return false
	}
}
