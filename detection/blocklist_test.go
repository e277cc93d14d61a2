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

//nolint:paralleltest // Test file - not using parallel tests
package detection

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsBlocked(t *testing.T) {
	blocklist := []string{"1234:5678", "abcd:ef01", " DECA:0302 "}

	tests := []struct {
		name   string
		vidpid string
		want   bool
	}{
		{"exact match", "1234:5678", true},
		{"case insensitive", "ABCD:EF01", true},
		{"whitespace in blocklist entry", "deca:0302", true},
		{"whitespace in query", "  1234:5678  ", true},
		{"not listed", "1111:2222", false},
		{"empty query", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsBlocked(tt.vidpid, blocklist))
		})
	}
}

func TestIsBlocked_EmptyBlocklist(t *testing.T) {
	assert.False(t, IsBlocked("1234:5678", nil))
	assert.False(t, IsBlocked("1234:5678", []string{}))
}

func TestParseVIDPID(t *testing.T) {
	tests := []struct {
		name       string
		descriptor string
		want       string
	}{
		{"colon-prefixed pair", "VID:1234 PID:5678", "1234:5678"},
		{"plain pair", "1234:5678", "1234:5678"},
		{"sysfs style", "vendor=0483 product=5740", "0483:5740"},
		{"equals style", "VID=2FE3 PID=0100", "2FE3:0100"},
		{"lowercase plain pair", "abcd:ef01", "ABCD:EF01"},
		{"only vid", "VID:1234", ""},
		{"only pid", "PID:5678", ""},
		{"garbage", "not a descriptor", ""},
		{"empty", "", ""},
		{"too many colons", "12:34:56", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseVIDPID(tt.descriptor))
		})
	}
}

func TestExtractHex(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"leading hex", "1234 trailing", "1234"},
		{"hex after noise", "xyz=0483,", "0483"},
		{"stops at separator", "DEAD:BEEF", "DEAD"},
		{"no hex", "ghij", ""},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, extractHex(tt.input))
		})
	}
}

func TestIsHex(t *testing.T) {
	assert.True(t, isHex("1234"))
	assert.True(t, isHex("abcdEF"))
	assert.False(t, isHex(""))
	assert.False(t, isHex("12g4"))
	assert.False(t, isHex("12 34"))
}

func TestIsPathIgnored(t *testing.T) {
	tests := []struct {
		name        string
		devicePath  string
		ignorePaths []string
		want        bool
	}{
		{"exact match", "/dev/ttyACM0", []string{"/dev/ttyACM0"}, true},
		{"normalized match", "/dev/../dev/ttyACM0", []string{"/dev/ttyACM0"}, true},
		{"case folded", "COM3", []string{"com3"}, true},
		{"different path", "/dev/ttyACM1", []string{"/dev/ttyACM0"}, false},
		{"empty ignore list", "/dev/ttyACM0", nil, false},
		{"empty device path", "", []string{"/dev/ttyACM0"}, false},
		{"empty entry skipped", "/dev/ttyACM0", []string{"", "/dev/ttyACM0"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsPathIgnored(tt.devicePath, tt.ignorePaths))
		})
	}
}
