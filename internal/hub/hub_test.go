package hub

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/chaz8081/s3-scoreboard/internal/ble"
	"github.com/chaz8081/s3-scoreboard/internal/ble/protocol"
	"github.com/chaz8081/s3-scoreboard/internal/events"
)

func fastOptions() Options {
	opts := DefaultOptions()
	opts.ScanInterval = 10 * time.Millisecond
	opts.ScanTimeout = 10 * time.Millisecond
	opts.ConnectTimeout = 50 * time.Millisecond
	return opts
}

func startHub(t *testing.T, adapter ble.Adapter, opts Options) (*Hub, *events.Bus) {
	t.Helper()
	bus := events.NewBus()
	h := New(adapter, bus, ble.DefaultUUIDs(), opts)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("Run() error = %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Error("Run() did not return")
		}
	})
	return h, bus
}

func device(mac, name string, hasService bool) ble.Device {
	return ble.Device{MAC: mac, Name: name, HasService: hasService}
}

func TestHubConnectsMatchingDevices(t *testing.T) {
	adapter := newMockAdapter(
		device("AA:00:00:00:00:01", "ESP32-Game-Device", true),
		device("AA:00:00:00:00:02", "Headphones", false),
	)
	h, _ := startHub(t, adapter, fastOptions())

	waitFor(t, "device registered", func() bool { return h.Registry().Has("AA:00:00:00:00:01") })
	d, _ := h.Registry().Get("AA:00:00:00:00:01")
	if d.Name != "ESP32-Game-Device" || d.GameName != "Pong" {
		t.Errorf("device = %+v", d)
	}
	if d.Color != Color("AA:00:00:00:00:01") {
		t.Errorf("Color = %q", d.Color)
	}
	if adapter.attemptCount("AA:00:00:00:00:02") != 0 {
		t.Error("strict filter connected to a device without the service")
	}

	waitFor(t, "more scans", func() bool { return adapter.scanCount() >= 3 })
	if n := adapter.attemptCount("AA:00:00:00:00:01"); n != 1 {
		t.Errorf("connect attempts = %d, want 1 for a linked device", n)
	}
}

func TestHubNameFallbacks(t *testing.T) {
	adapter := newMockAdapter(device("AA:00:00:00:00:01", "", true))
	adapter.chars["AA:00:00:00:00:01"] = func() map[string]*mockChar {
		return map[string]*mockChar{ble.RXCharUUID: {}}
	}
	h, _ := startHub(t, adapter, fastOptions())

	waitFor(t, "device registered", func() bool { return h.Registry().Has("AA:00:00:00:00:01") })
	d, _ := h.Registry().Get("AA:00:00:00:00:01")
	if d.Name != "AA:00:00:00:00:01" {
		t.Errorf("Name = %q, want MAC", d.Name)
	}
	if d.GameName != DefaultGameName {
		t.Errorf("GameName = %q, want %q", d.GameName, DefaultGameName)
	}
}

func TestHubReadsInitialState(t *testing.T) {
	adapter := newMockAdapter(device("AA:00:00:00:00:01", "ESP32-Game-Device", true))
	adapter.chars["AA:00:00:00:00:01"] = func() map[string]*mockChar {
		return map[string]*mockChar{
			ble.RXCharUUID: {value: []byte(`{"game_name":"Chess","score":12,"timestamp":5}`)},
		}
	}
	h, _ := startHub(t, adapter, fastOptions())

	waitFor(t, "device registered", func() bool { return h.Registry().Has("AA:00:00:00:00:01") })
	d, _ := h.Registry().Get("AA:00:00:00:00:01")
	if d.GameName != "Chess" || d.Score != 12 {
		t.Errorf("device = %+v", d)
	}
}

func TestHubRejectsDeviceWithoutDataCharacteristic(t *testing.T) {
	adapter := newMockAdapter(device("AA:00:00:00:00:01", "ESP32", true))
	adapter.chars["AA:00:00:00:00:01"] = func() map[string]*mockChar {
		return map[string]*mockChar{ble.TXCharUUID: {}}
	}
	h, _ := startHub(t, adapter, fastOptions())

	waitFor(t, "connect attempt", func() bool { return adapter.conn("AA:00:00:00:00:01") != nil })
	waitFor(t, "disconnect", adapter.conn("AA:00:00:00:00:01").isDisconnected)
	if h.Registry().Len() != 0 {
		t.Errorf("registry has %d devices, want 0", h.Registry().Len())
	}
}

func TestHubScoreNotifications(t *testing.T) {
	mac := "AA:00:00:00:00:01"
	adapter := newMockAdapter(device(mac, "ESP32", true))
	h, bus := startHub(t, adapter, fastOptions())
	ch, unsub := bus.Subscribe(16)
	defer unsub()

	waitFor(t, "device registered", func() bool { return h.Registry().Has(mac) })
	rx := adapter.conn(mac).chars[ble.RXCharUUID]
	waitFor(t, "subscription", func() bool {
		rx.mu.Lock()
		defer rx.mu.Unlock()
		return rx.callback != nil
	})

	tests := []struct {
		payload   string
		wantScore int
	}{
		{`{"score":7}`, 7},
		{`{"game_name":"Golf","score":9,"timestamp":100}`, 9},
		{"15", 15},
		{"\x2a\x00\x00\x00", 42},
		{"x", 42},
	}
	for _, tt := range tests {
		rx.notify(tt.payload)
		d, _ := h.Registry().Get(mac)
		if d.Score != tt.wantScore {
			t.Errorf("after %q score = %d, want %d", tt.payload, d.Score, tt.wantScore)
		}
	}
	if d, _ := h.Registry().Get(mac); d.GameName != "Golf" {
		t.Errorf("GameName = %q, want Golf", d.GameName)
	}

	updates := 0
	for _, e := range drain(ch) {
		if e.Type == events.DeviceUpdated {
			updates++
		}
	}
	if updates != 4 {
		t.Errorf("device_updated events = %d, want 4", updates)
	}
}

func TestHubDisconnectRemovesDevice(t *testing.T) {
	mac := "AA:00:00:00:00:01"
	adapter := newMockAdapter(device(mac, "ESP32", true))
	h, bus := startHub(t, adapter, fastOptions())

	waitFor(t, "device registered", func() bool { return h.Registry().Has(mac) })
	ch, unsub := bus.Subscribe(16)
	defer unsub()
	first := adapter.conn(mac)
	first.drop()

	if h.Connected(mac) {
		t.Error("Connected() = true after drop")
	}
	var removed bool
	for _, e := range drain(ch) {
		if e.Type == events.DeviceRemoved && e.ID == mac {
			removed = true
		}
	}
	if !removed {
		t.Error("no device_removed event")
	}

	waitFor(t, "reconnect", func() bool { return adapter.attemptCount(mac) >= 2 })
}

func TestHubDropDuringSetupReconnects(t *testing.T) {
	mac := "AA:00:00:00:00:01"
	adapter := newMockAdapter(device(mac, "ESP32", true))
	first := true
	adapter.chars[mac] = func() map[string]*mockChar {
		rx := &mockChar{}
		if first {
			first = false
			// Link drops while the hub reads the initial state.
			rx.onRead = func() { adapter.conn(mac).drop() }
		}
		return map[string]*mockChar{ble.RXCharUUID: rx, ble.TXCharUUID: {value: []byte("Pong")}}
	}
	h, _ := startHub(t, adapter, fastOptions())

	waitFor(t, "second connect", func() bool { return adapter.attemptCount(mac) >= 2 })
	waitFor(t, "device linked", func() bool { return h.Connected(mac) && h.Registry().Has(mac) })
}

func TestHubRemoveClosesLink(t *testing.T) {
	mac := "AA:00:00:00:00:01"
	adapter := newMockAdapter(device(mac, "ESP32", true))
	h, _ := startHub(t, adapter, fastOptions())

	waitFor(t, "device linked", func() bool { return h.Connected(mac) })
	conn := adapter.conn(mac)
	if !h.Remove(mac) {
		t.Fatal("Remove() = false for a linked device")
	}
	if !conn.isDisconnected() {
		t.Error("Remove() left the link open")
	}

	waitFor(t, "reconnect", func() bool { return adapter.attemptCount(mac) >= 2 })
	waitFor(t, "device back", func() bool { return h.Connected(mac) && h.Registry().Has(mac) })
}

func TestHubSendCommand(t *testing.T) {
	mac := "AA:00:00:00:00:01"
	adapter := newMockAdapter(device(mac, "ESP32", true))
	h, _ := startHub(t, adapter, fastOptions())
	waitFor(t, "device connected", func() bool { return h.Connected(mac) })

	if err := h.SendCommand(mac, protocol.Command{Command: protocol.CommandSetGame, GameName: "Darts"}); err != nil {
		t.Fatalf("SendCommand() error = %v", err)
	}
	writes := adapter.conn(mac).chars[ble.RXCharUUID].Writes()
	if len(writes) != 1 || writes[0] != `{"command":"set_game","game_name":"Darts"}` {
		t.Errorf("writes = %q", writes)
	}

	err := h.SendCommand("nobody", protocol.Command{Command: protocol.CommandReset})
	if !errors.Is(err, ErrUnknownDevice) {
		t.Errorf("SendCommand(unknown) error = %v, want ErrUnknownDevice", err)
	}
	if err := h.SendCommand(mac, protocol.Command{}); err == nil {
		t.Error("SendCommand() with empty command should fail")
	}
}

func TestHubMatches(t *testing.T) {
	tests := []struct {
		name     string
		strict   bool
		patterns []string
		dev      ble.Device
		want     bool
	}{
		{"strict with service", true, nil, device("m", "x", true), true},
		{"strict without service", true, nil, device("m", "ESP32", false), false},
		{"loose pattern match", false, []string{"esp32"}, device("m", "My-ESP32-Board", false), true},
		{"loose pattern miss", false, []string{"esp32"}, device("m", "Speaker", false), false},
		{"loose unnamed", false, []string{"esp32"}, device("m", "", false), false},
		{"loose no patterns", false, nil, device("m", "Speaker", false), true},
		{"loose service wins", false, []string{"esp32"}, device("m", "", true), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := DefaultOptions()
			opts.StrictFilter = tt.strict
			opts.NamePatterns = tt.patterns
			h := New(newMockAdapter(), events.NewBus(), ble.DefaultUUIDs(), opts)
			if got := h.matches(tt.dev); got != tt.want {
				t.Errorf("matches() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestHubLooseScanFilter(t *testing.T) {
	adapter := newMockAdapter()
	opts := fastOptions()
	opts.StrictFilter = false
	startHub(t, adapter, opts)

	waitFor(t, "scan", func() bool { return adapter.scanCount() >= 1 })
	adapter.mu.Lock()
	f := adapter.filters[0]
	adapter.mu.Unlock()
	if !f.IncludeOthers || f.ServiceUUID != ble.ServiceUUID {
		t.Errorf("filter = %+v", f)
	}
}

func TestHubDeviceLimit(t *testing.T) {
	adapter := newMockAdapter(
		device("AA:00:00:00:00:01", "a", true),
		device("AA:00:00:00:00:02", "b", true),
		device("AA:00:00:00:00:03", "c", true),
	)
	opts := fastOptions()
	opts.MaxDevices = 2
	h, _ := startHub(t, adapter, opts)

	waitFor(t, "two devices", func() bool { return h.Registry().Len() == 2 })
	waitFor(t, "more scans", func() bool { return adapter.scanCount() >= 4 })
	if h.Registry().Len() != 2 {
		t.Errorf("registry has %d devices, want 2", h.Registry().Len())
	}
}

func TestHubScanErrorsBackOff(t *testing.T) {
	adapter := newMockAdapter()
	adapter.scanErr = errors.New("mock: adapter busy")
	opts := fastOptions()
	opts.ScanInterval = 20 * time.Millisecond
	startHub(t, adapter, opts)

	waitFor(t, "five failed scans", func() bool { return adapter.scanCount() >= maxScanErrors })
	n := adapter.scanCount()
	time.Sleep(30 * time.Millisecond)
	if got := adapter.scanCount(); got != n {
		t.Errorf("scans during back-off: %d -> %d", n, got)
	}
}

func TestHubCloseDisconnects(t *testing.T) {
	mac := "AA:00:00:00:00:01"
	adapter := newMockAdapter(device(mac, "ESP32", true))
	h := New(adapter, events.NewBus(), ble.DefaultUUIDs(), fastOptions())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.Run(ctx) }()

	waitFor(t, "device connected", func() bool { return h.Connected(mac) })
	cancel()
	<-done

	if !adapter.conn(mac).isDisconnected() {
		t.Error("Run() did not disconnect devices on cancel")
	}
	if h.Registry().Len() != 0 {
		t.Error("registry not emptied on close")
	}
}

func TestAddSimulated(t *testing.T) {
	h := New(newMockAdapter(), events.NewBus(), ble.DefaultUUIDs(), DefaultOptions())

	d := h.AddSimulated("", "", "Test Game", 3)
	if len(d.ID) != len("TEST-")+12 || d.ID[:5] != "TEST-" {
		t.Errorf("ID = %q", d.ID)
	}
	if d.Name != "SimDevice" || d.Score != 3 || d.GameName != "Test Game" {
		t.Errorf("device = %+v", d)
	}

	d = h.AddSimulated("fixed", "Tile", "", 0)
	if d.ID != "fixed" || d.GameName != DefaultGameName {
		t.Errorf("device = %+v", d)
	}
	if h.Registry().Len() != 2 {
		t.Errorf("Len() = %d", h.Registry().Len())
	}
}
