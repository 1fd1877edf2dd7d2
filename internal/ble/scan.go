package ble

import (
	"context"
	"fmt"
	"time"
)

// ScanForDevices runs one discovery round for devices advertising the
// scoreboard service.
func ScanForDevices(adapter Adapter, filter ScanFilter, timeout time.Duration) ([]Device, error) {
	if err := adapter.Enable(); err != nil {
		return nil, fmt.Errorf("ble: enable adapter: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	devices, err := adapter.Scan(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("ble: scan: %w", err)
	}
	return devices, nil
}

// stopScanRetry is how often a cancelled scan is asked to stop again.
const stopScanRetry = 100 * time.Millisecond

// stopOnCancel calls stop once ctx is done and keeps calling it every
// interval until done closes. A stop issued just before the scan starts is
// lost by the stack, so one call is not enough.
func stopOnCancel(ctx context.Context, done <-chan struct{}, stop func() error, interval time.Duration) {
	select {
	case <-done:
		return
	case <-ctx.Done():
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		_ = stop()
		select {
		case <-done:
			return
		case <-t.C:
		}
	}
}

// SendCommand connects to a peripheral-role device, writes one encoded
// command to its data characteristic, and disconnects.
func SendCommand(ctx context.Context, adapter Adapter, uuids UUIDs, mac string, payload []byte) error {
	if err := adapter.Enable(); err != nil {
		return fmt.Errorf("ble: enable adapter: %w", err)
	}

	conn, err := adapter.Connect(ctx, mac)
	if err != nil {
		return err
	}
	defer func() { _ = conn.Disconnect() }()

	char, err := conn.DiscoverCharacteristic(uuids.Service, uuids.RX)
	if err != nil {
		return fmt.Errorf("ble: discover data characteristic: %w", err)
	}
	if err := char.Write(payload); err != nil {
		return fmt.Errorf("ble: write command: %w", err)
	}
	return nil
}
