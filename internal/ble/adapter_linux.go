//go:build linux

package ble

import "tinygo.org/x/bluetooth"

func systemAdapter(id string) *bluetooth.Adapter {
	if id == "" {
		return bluetooth.DefaultAdapter
	}
	return bluetooth.NewAdapter(id)
}
