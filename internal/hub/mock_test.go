package hub

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/chaz8081/s3-scoreboard/internal/ble"
)

type mockChar struct {
	mu       sync.Mutex
	value    []byte
	readErr  error
	writes   []string
	callback func([]byte)
	onRead   func() // runs before Read returns
}

func (c *mockChar) Write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes = append(c.writes, string(data))
	return nil
}

func (c *mockChar) Read() ([]byte, error) {
	c.mu.Lock()
	hook := c.onRead
	c.mu.Unlock()
	if hook != nil {
		hook()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value, c.readErr
}

func (c *mockChar) Subscribe(cb func([]byte)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.callback = cb
	return nil
}

func (c *mockChar) notify(data string) {
	c.mu.Lock()
	cb := c.callback
	c.mu.Unlock()
	if cb != nil {
		cb([]byte(data))
	}
}

func (c *mockChar) Writes() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.writes...)
}

type mockConn struct {
	mu           sync.Mutex
	chars        map[string]*mockChar
	disconnected bool
	onDisconnect func()
}

func (c *mockConn) DiscoverCharacteristic(_, charUUID string) (ble.Characteristic, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch, ok := c.chars[charUUID]
	if !ok {
		return nil, fmt.Errorf("mock: no characteristic %s", charUUID)
	}
	return ch, nil
}

func (c *mockConn) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnected = true
	return nil
}

func (c *mockConn) OnDisconnect(cb func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onDisconnect = cb
}

func (c *mockConn) drop() {
	c.mu.Lock()
	cb := c.onDisconnect
	c.mu.Unlock()
	if cb != nil {
		cb()
	}
}

func (c *mockConn) isDisconnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disconnected
}

// mockAdapter returns the same devices from every scan. Each MAC gets the
// characteristics listed in chars (RX and TX when unset).
type mockAdapter struct {
	mu       sync.Mutex
	devices  []ble.Device
	chars    map[string]func() map[string]*mockChar
	scanErr  error
	scans    int
	filters  []ble.ScanFilter
	conns    map[string]*mockConn
	attempts map[string]int
}

func newMockAdapter(devices ...ble.Device) *mockAdapter {
	return &mockAdapter{
		devices:  devices,
		chars:    make(map[string]func() map[string]*mockChar),
		conns:    make(map[string]*mockConn),
		attempts: make(map[string]int),
	}
}

func (a *mockAdapter) Enable() error { return nil }

func (a *mockAdapter) Scan(_ context.Context, f ble.ScanFilter) ([]ble.Device, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.scans++
	a.filters = append(a.filters, f)
	if a.scanErr != nil {
		return nil, a.scanErr
	}
	return a.devices, nil
}

func (a *mockAdapter) Connect(_ context.Context, mac string) (ble.Connection, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.attempts[mac]++
	chars := map[string]*mockChar{
		ble.RXCharUUID: {},
		ble.TXCharUUID: {value: []byte("Pong")},
	}
	if mk, ok := a.chars[mac]; ok {
		chars = mk()
	}
	if chars == nil {
		return nil, errors.New("mock: connect refused")
	}
	c := &mockConn{chars: chars}
	a.conns[mac] = c
	return c, nil
}

func (a *mockAdapter) conn(mac string) *mockConn {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.conns[mac]
}

func (a *mockAdapter) scanCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.scans
}

func (a *mockAdapter) attemptCount(mac string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.attempts[mac]
}

type mockLocal struct {
	mu       sync.Mutex
	notified []string
}

func (c *mockLocal) Notify(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notified = append(c.notified, string(data))
	return nil
}

type mockPeripheral struct {
	mu        sync.Mutex
	addr      string
	addrErr   error
	services  []ble.ServiceSpec
	locals    []*mockLocal
	adverts   int
	stopped   int
	onConnect func(string, bool)
}

func (p *mockPeripheral) Enable() error { return nil }

func (p *mockPeripheral) Address() (string, error) { return p.addr, p.addrErr }

func (p *mockPeripheral) AddService(spec ble.ServiceSpec) ([]ble.LocalCharacteristic, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.services = append(p.services, spec)
	out := make([]ble.LocalCharacteristic, len(spec.Characteristics))
	for i := range spec.Characteristics {
		l := &mockLocal{}
		p.locals = append(p.locals, l)
		out[i] = l
	}
	return out, nil
}

func (p *mockPeripheral) Advertise(ble.AdvertOptions) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.adverts++
	return nil
}

func (p *mockPeripheral) StopAdvertising() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopped++
	return nil
}

func (p *mockPeripheral) OnConnect(cb func(string, bool)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onConnect = cb
}

func (p *mockPeripheral) link(connected bool) {
	p.mu.Lock()
	cb := p.onConnect
	p.mu.Unlock()
	cb("11:22:33:44:55:66", connected)
}

func (p *mockPeripheral) write(data string) {
	p.mu.Lock()
	onWrite := p.services[0].Characteristics[0].OnWrite
	p.mu.Unlock()
	onWrite([]byte(data))
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

var (
	_ ble.Adapter           = (*mockAdapter)(nil)
	_ ble.PeripheralAdapter = (*mockPeripheral)(nil)
)
