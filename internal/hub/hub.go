// Package hub is the Raspberry Pi side of the scoreboard. It keeps links to
// every scoreboard device in range, tracks their scores in a Registry, and
// lets callers send commands back to them.
package hub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chaz8081/s3-scoreboard/internal/ble"
	"github.com/chaz8081/s3-scoreboard/internal/ble/protocol"
	"github.com/chaz8081/s3-scoreboard/internal/events"
)

// ErrUnknownDevice is returned when a command targets a device without a link.
var ErrUnknownDevice = errors.New("hub: unknown device")

// maxScanErrors consecutive scan failures trigger one long pause.
const maxScanErrors = 5

// Options configures the scan and connect loop.
type Options struct {
	ScanInterval   time.Duration
	ScanTimeout    time.Duration
	ConnectTimeout time.Duration
	MaxDevices     int
	// StrictFilter only accepts devices advertising the service UUID.
	StrictFilter bool
	// NamePatterns are matched case-insensitively against advertised names
	// when StrictFilter is off. Empty accepts every device.
	NamePatterns []string
}

// DefaultOptions returns a 54-tile (9x6) board scanning every 8s.
func DefaultOptions() Options {
	return Options{
		ScanInterval:   8 * time.Second,
		ScanTimeout:    10 * time.Second,
		ConnectTimeout: 15 * time.Second,
		MaxDevices:     54,
		StrictFilter:   true,
		NamePatterns:   []string{"ESP32", "Scoreboard"},
	}
}

type link struct {
	conn ble.Connection
	data ble.Characteristic
}

// Hub connects to scoreboard devices and mirrors their state.
type Hub struct {
	adapter  ble.Adapter
	uuids    ble.UUIDs
	registry *Registry
	opts     Options

	mu      sync.Mutex
	links   map[string]*link
	pending map[string]bool
	server  *GATTServer
}

// New creates a hub over adapter publishing changes to bus.
func New(adapter ble.Adapter, bus *events.Bus, uuids ble.UUIDs, opts Options) *Hub {
	def := DefaultOptions()
	if opts.ScanInterval <= 0 {
		opts.ScanInterval = def.ScanInterval
	}
	if opts.ScanTimeout <= 0 {
		opts.ScanTimeout = def.ScanTimeout
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = def.ConnectTimeout
	}
	if opts.MaxDevices <= 0 {
		opts.MaxDevices = def.MaxDevices
	}
	return &Hub{
		adapter:  adapter,
		uuids:    uuids,
		registry: NewRegistry(bus),
		opts:     opts,
		links:    make(map[string]*link),
		pending:  make(map[string]bool),
	}
}

// Registry returns the device registry.
func (h *Hub) Registry() *Registry {
	return h.registry
}

// Devices returns every registered device.
func (h *Hub) Devices() []events.Device {
	return h.registry.List()
}

// UUIDs returns the GATT identifiers the hub uses.
func (h *Hub) UUIDs() ble.UUIDs {
	return h.uuids
}

// SetServer routes commands for SelfID to s.
func (h *Hub) SetServer(s *GATTServer) {
	h.mu.Lock()
	h.server = s
	h.mu.Unlock()
}

// Run scans and connects until ctx is cancelled, then drops every link.
func (h *Hub) Run(ctx context.Context) error {
	if err := h.adapter.Enable(); err != nil {
		return fmt.Errorf("hub: enable adapter: %w", err)
	}
	slog.Info("[HUB] scan loop started",
		"service", h.uuids.Service,
		"strict", h.opts.StrictFilter,
		"interval", h.opts.ScanInterval,
	)

	failures := 0
	for {
		if ctx.Err() != nil {
			h.Close()
			return nil
		}

		if err := h.scanOnce(ctx); err != nil {
			failures++
			slog.Error("[HUB] scan failed", "attempt", failures, "max", maxScanErrors, "error", err)
			if failures >= maxScanErrors {
				slog.Warn("[HUB] too many scan errors, pausing", "pause", 3*h.opts.ScanInterval)
				failures = 0
				sleep(ctx, 3*h.opts.ScanInterval)
				continue
			}
		} else {
			failures = 0
		}
		sleep(ctx, h.opts.ScanInterval)
	}
}

func (h *Hub) scanOnce(ctx context.Context) error {
	scanCtx, cancel := context.WithTimeout(ctx, h.opts.ScanTimeout)
	devices, err := h.adapter.Scan(scanCtx, ble.ScanFilter{
		ServiceUUID:   h.uuids.Service,
		IncludeOthers: !h.opts.StrictFilter,
	})
	cancel()
	if err != nil {
		return err
	}
	slog.Debug("[HUB] scan complete", "found", len(devices))

	var wg sync.WaitGroup
	for _, d := range devices {
		if !h.matches(d) {
			continue
		}
		if h.full() {
			slog.Warn("[HUB] device limit reached", "max", h.opts.MaxDevices)
			break
		}
		if !h.claim(d.MAC) {
			continue
		}
		wg.Add(1)
		go func(d ble.Device) {
			defer wg.Done()
			defer h.release(d.MAC)
			if err := h.connect(ctx, d); err != nil {
				slog.Warn("[HUB] connect failed", "mac", d.MAC, "name", d.Name, "error", err)
			}
		}(d)
	}
	wg.Wait()
	return nil
}

// matches applies the advertisement filter.
func (h *Hub) matches(d ble.Device) bool {
	if d.HasService {
		return true
	}
	if h.opts.StrictFilter {
		return false
	}
	if len(h.opts.NamePatterns) == 0 {
		return true
	}
	name := strings.ToLower(d.Name)
	if name == "" {
		return false
	}
	for _, p := range h.opts.NamePatterns {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" && strings.Contains(name, p) {
			return true
		}
	}
	return false
}

func (h *Hub) full() bool {
	h.mu.Lock()
	pending := len(h.pending)
	h.mu.Unlock()
	return h.registry.Len()+pending >= h.opts.MaxDevices
}

// claim marks mac as being connected. It fails for linked or pending devices.
func (h *Hub) claim(mac string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.links[mac] != nil || h.pending[mac] {
		return false
	}
	h.pending[mac] = true
	return true
}

func (h *Hub) release(mac string) {
	h.mu.Lock()
	delete(h.pending, mac)
	h.mu.Unlock()
}

func (h *Hub) connect(ctx context.Context, d ble.Device) error {
	connCtx, cancel := context.WithTimeout(ctx, h.opts.ConnectTimeout)
	conn, err := h.adapter.Connect(connCtx, d.MAC)
	cancel()
	if err != nil {
		return err
	}

	// Watch for a drop from the start; one during setup aborts the link.
	lost := make(chan struct{})
	var once sync.Once
	conn.OnDisconnect(func() {
		once.Do(func() { close(lost) })
		h.drop(d.MAC, conn)
	})

	data, err := conn.DiscoverCharacteristic(h.uuids.Service, h.uuids.RX)
	if err != nil {
		_ = conn.Disconnect()
		return fmt.Errorf("hub: device has no data characteristic: %w", err)
	}

	dev := events.Device{
		ID:       d.MAC,
		Name:     d.Name,
		GameName: h.readGameName(conn),
	}
	if dev.Name == "" {
		dev.Name = d.MAC
	}
	// Peripheral-role devices expose their full state as the data value.
	if raw, err := data.Read(); err == nil && len(raw) > 0 {
		if rep, err := protocol.DecodeReport(raw); err == nil {
			dev.Score = rep.Score
			if rep.GameName != nil && *rep.GameName != "" {
				dev.GameName = *rep.GameName
			}
		}
	}

	// drop takes h.mu, so a disconnect after this check removes the entry.
	h.mu.Lock()
	select {
	case <-lost:
		h.mu.Unlock()
		_ = conn.Disconnect()
		return fmt.Errorf("hub: %s disconnected during setup", d.MAC)
	default:
	}
	h.links[d.MAC] = &link{conn: conn, data: data}
	h.registry.Put(dev)
	h.mu.Unlock()
	slog.Info("[HUB] device connected", "mac", d.MAC, "name", dev.Name, "game", dev.GameName)

	mac := d.MAC
	if err := data.Subscribe(func(payload []byte) { h.handleReport(mac, payload) }); err != nil {
		slog.Warn("[HUB] score notifications unavailable", "mac", mac, "error", err)
	}
	return nil
}

// readGameName reads the optional game-name characteristic.
func (h *Hub) readGameName(conn ble.Connection) string {
	if h.uuids.TX == "" {
		return DefaultGameName
	}
	char, err := conn.DiscoverCharacteristic(h.uuids.Service, h.uuids.TX)
	if err != nil {
		return DefaultGameName
	}
	raw, err := char.Read()
	if err != nil {
		slog.Debug("[HUB] could not read game name", "error", err)
		return DefaultGameName
	}
	if name := strings.TrimSpace(string(raw)); name != "" {
		return name
	}
	return DefaultGameName
}

func (h *Hub) handleReport(mac string, payload []byte) {
	rep, err := protocol.DecodeReport(payload)
	if err != nil {
		slog.Debug("[HUB] ignoring report", "mac", mac, "error", err)
		return
	}
	h.registry.Apply(mac, rep)
}

// drop forgets mac if conn is still its current link.
func (h *Hub) drop(mac string, conn ble.Connection) {
	h.mu.Lock()
	l := h.links[mac]
	if l == nil || l.conn != conn {
		h.mu.Unlock()
		return
	}
	delete(h.links, mac)
	h.mu.Unlock()

	h.registry.Remove(mac)
	slog.Info("[HUB] device disconnected", "mac", mac)
}

// SendCommand writes cmd to the device with the given id.
func (h *Hub) SendCommand(id string, cmd protocol.Command) error {
	payload, err := protocol.EncodeCommand(cmd)
	if err != nil {
		return err
	}

	h.mu.Lock()
	l := h.links[id]
	server := h.server
	h.mu.Unlock()

	if id == SelfID && server != nil {
		return server.Send(payload)
	}
	if l == nil {
		return fmt.Errorf("%w: %s", ErrUnknownDevice, id)
	}
	if err := l.data.Write(payload); err != nil {
		return fmt.Errorf("hub: send to %s: %w", id, err)
	}
	slog.Info("[HUB] command sent", "id", id, "command", cmd.Command)
	return nil
}

// Connected reports whether id has a live link.
func (h *Hub) Connected(id string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.links[id] != nil
}

// Close disconnects every device.
func (h *Hub) Close() {
	h.mu.Lock()
	links := h.links
	h.links = make(map[string]*link)
	h.mu.Unlock()

	for mac, l := range links {
		if err := l.conn.Disconnect(); err != nil {
			slog.Debug("[HUB] disconnect", "mac", mac, "error", err)
		}
		h.registry.Remove(mac)
	}
}

// AddSimulated registers a device that has no BLE link. An empty id gets a
// random TEST- prefixed one.
func (h *Hub) AddSimulated(id, name, gameName string, score int) events.Device {
	if id == "" {
		hex := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
		id = "TEST-" + hex[:12]
	}
	if name == "" {
		name = "SimDevice"
	}
	return h.registry.Put(events.Device{ID: id, Name: name, GameName: gameName, Score: score})
}

// SetScore sets a device's score without a report from the device.
func (h *Hub) SetScore(id string, score int) (events.Device, bool) {
	return h.registry.SetScore(id, score)
}

// Remove forgets a device and closes its link, if it has one. A device still
// in range is picked up again by the next scan.
func (h *Hub) Remove(id string) bool {
	h.mu.Lock()
	l := h.links[id]
	delete(h.links, id)
	h.mu.Unlock()

	if l != nil {
		if err := l.conn.Disconnect(); err != nil {
			slog.Debug("[HUB] disconnect", "mac", id, "error", err)
		}
	}
	return h.registry.Remove(id)
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
