package ble

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"tinygo.org/x/bluetooth"
)

// TinyGoAdapter wraps tinygo-org/bluetooth for both roles. On Linux it talks
// to BlueZ through the named HCI adapter; on macOS device addresses are
// CoreBluetooth UUIDs and the "MAC" strings carry that UUID instead.
type TinyGoAdapter struct {
	adapter *bluetooth.Adapter
	id      string

	// mu protects everything below.
	mu          sync.Mutex
	enabled     bool
	connections map[string]*tinyGoConnection // keyed by device address
	onConnect   func(mac string, connected bool)
	peripheral  peripheralState
}

// NewTinyGoAdapter creates an adapter for the given HCI id ("hci0" on
// Linux; ignored on other platforms).
func NewTinyGoAdapter(id string) *TinyGoAdapter {
	return &TinyGoAdapter{
		adapter:     systemAdapter(id),
		id:          id,
		connections: make(map[string]*tinyGoConnection),
	}
}

// Enable powers the adapter. Safe to call from both roles.
func (a *TinyGoAdapter) Enable() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.enabled {
		return nil
	}
	if err := a.adapter.Enable(); err != nil {
		return fmt.Errorf("ble: enable %s: %w", a.id, err)
	}

	// tinygo/bluetooth has a single connect handler per adapter. Outgoing
	// connections we track get their disconnect callback; anything else is
	// a central connecting to us.
	a.adapter.SetConnectHandler(func(device bluetooth.Device, connected bool) {
		mac := device.Address.String()
		a.mu.Lock()
		conn, ours := a.connections[mac]
		if ours && !connected {
			delete(a.connections, mac)
		}
		cb := a.onConnect
		a.mu.Unlock()

		if ours {
			if !connected {
				conn.fireDisconnect()
			}
			return
		}
		if cb != nil {
			cb(mac, connected)
		}
	})

	a.enabled = true
	return nil
}

func (a *TinyGoAdapter) Scan(ctx context.Context, filter ScanFilter) ([]Device, error) {
	var want bluetooth.UUID
	if filter.ServiceUUID != "" {
		uuid, err := bluetooth.ParseUUID(filter.ServiceUUID)
		if err != nil {
			return nil, fmt.Errorf("ble: parse service UUID: %w", err)
		}
		want = uuid
	}

	var mu sync.Mutex
	var devices []Device
	seen := make(map[string]bool)

	if ctx.Err() != nil {
		return nil, nil
	}

	done := make(chan struct{})
	go stopOnCancel(ctx, done, a.adapter.StopScan, stopScanRetry)

	err := a.adapter.Scan(func(adapter *bluetooth.Adapter, result bluetooth.ScanResult) {
		if ctx.Err() != nil {
			_ = adapter.StopScan()
			return
		}
		has := filter.ServiceUUID != "" && result.HasServiceUUID(want)
		if !has && !filter.IncludeOthers {
			return
		}
		mac := result.Address.String()
		mu.Lock()
		defer mu.Unlock()
		if seen[mac] {
			return
		}
		seen[mac] = true
		devices = append(devices, Device{
			Name:       result.LocalName(),
			MAC:        mac,
			RSSI:       int(result.RSSI),
			HasService: has,
		})
		if filter.First && has {
			_ = adapter.StopScan()
		}
	})
	close(done)

	if err != nil && ctx.Err() == nil {
		return nil, fmt.Errorf("ble: scan: %w", err)
	}
	return devices, nil
}

func (a *TinyGoAdapter) Connect(ctx context.Context, mac string) (Connection, error) {
	var addr bluetooth.Address
	addr.Set(strings.ToUpper(mac))

	// tinygo/bluetooth's Connect blocks internally with its own timeout.
	// We wrap it to also respect our ctx cancellation.
	type connectResult struct {
		device bluetooth.Device
		err    error
	}
	ch := make(chan connectResult, 1)
	go func() {
		device, err := a.adapter.Connect(addr, bluetooth.ConnectionParams{})
		ch <- connectResult{device, err}
	}()

	select {
	case <-ctx.Done():
		// The underlying Connect keeps running until its own timeout; a late
		// success is torn down so the peripheral can be found again.
		go func() {
			if r := <-ch; r.err == nil {
				_ = r.device.Disconnect()
			}
		}()
		return nil, fmt.Errorf("ble: connect to %s: %w", mac, ctx.Err())
	case result := <-ch:
		if result.err != nil {
			return nil, fmt.Errorf("ble: connect to %s: %w", mac, result.err)
		}
		conn := &tinyGoConnection{device: &result.device}
		a.mu.Lock()
		a.connections[result.device.Address.String()] = conn
		a.mu.Unlock()
		return conn, nil
	}
}

func (a *TinyGoAdapter) OnConnect(cb func(mac string, connected bool)) {
	a.mu.Lock()
	a.onConnect = cb
	a.mu.Unlock()
}

// Compile-time check that TinyGoAdapter implements Adapter.
var _ Adapter = (*TinyGoAdapter)(nil)

type tinyGoConnection struct {
	device *bluetooth.Device

	mu           sync.Mutex
	disconnectCb func()
	dropped      bool
}

func (c *tinyGoConnection) DiscoverCharacteristic(serviceUUID, charUUID string) (Characteristic, error) {
	svcUUID, err := bluetooth.ParseUUID(serviceUUID)
	if err != nil {
		return nil, err
	}
	charUUIDParsed, err := bluetooth.ParseUUID(charUUID)
	if err != nil {
		return nil, err
	}

	svcs, err := c.device.DiscoverServices([]bluetooth.UUID{svcUUID})
	if err != nil {
		return nil, fmt.Errorf("ble: discover services: %w", err)
	}
	if len(svcs) == 0 {
		return nil, fmt.Errorf("ble: service %s not found", serviceUUID)
	}

	chars, err := svcs[0].DiscoverCharacteristics([]bluetooth.UUID{charUUIDParsed})
	if err != nil {
		return nil, fmt.Errorf("ble: discover characteristics: %w", err)
	}
	if len(chars) == 0 {
		return nil, fmt.Errorf("ble: characteristic %s not found", charUUID)
	}

	return &tinyGoCharacteristic{char: &chars[0]}, nil
}

func (c *tinyGoConnection) Disconnect() error {
	return c.device.Disconnect()
}

// OnDisconnect registers cb. A drop seen before registration fires cb at once.
func (c *tinyGoConnection) OnDisconnect(cb func()) {
	c.mu.Lock()
	c.disconnectCb = cb
	dropped := c.dropped
	c.mu.Unlock()
	if dropped && cb != nil {
		cb()
	}
}

func (c *tinyGoConnection) fireDisconnect() {
	c.mu.Lock()
	c.dropped = true
	cb := c.disconnectCb
	c.mu.Unlock()
	if cb != nil {
		cb()
	}
}

type tinyGoCharacteristic struct {
	char *bluetooth.DeviceCharacteristic
}

func (c *tinyGoCharacteristic) Write(data []byte) error {
	_, err := c.char.WriteWithoutResponse(data)
	return err
}

func (c *tinyGoCharacteristic) Read() ([]byte, error) {
	buf := make([]byte, 512)
	n, err := c.char.Read(buf)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

func (c *tinyGoCharacteristic) Subscribe(cb func([]byte)) error {
	return c.char.EnableNotifications(func(buf []byte) {
		data := make([]byte, len(buf))
		copy(data, buf)
		cb(data)
	})
}
