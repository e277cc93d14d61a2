//go:build !linux

package serialgw

import (
	"context"
	"fmt"
	"path/filepath"

	"go.bug.st/serial"
)

// getSerialPorts returns available serial ports using the portable
// enumerator. USB descriptor metadata is not available this way, so
// descriptor-based confidence stays low and probing does the real work.
func getSerialPorts(_ context.Context) ([]serialPort, error) {
	names, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to list serial ports: %w", err)
	}

	ports := make([]serialPort, 0, len(names))
	for _, name := range names {
		ports = append(ports, serialPort{
			Path: name,
			Name: filepath.Base(name),
		})
	}
	return ports, nil
}
