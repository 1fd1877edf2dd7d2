//go:build !linux

package ble

import "tinygo.org/x/bluetooth"

// Only Linux (BlueZ) exposes more than one adapter.
func systemAdapter(_ string) *bluetooth.Adapter {
	return bluetooth.DefaultAdapter
}
