package hub

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/chaz8081/s3-scoreboard/internal/ble"
	"github.com/chaz8081/s3-scoreboard/internal/ble/protocol"
	"github.com/chaz8081/s3-scoreboard/internal/events"
)

// SelfID is the registry id of the device connected to the hub's own GATT
// server. One central at a time is supported.
const SelfID = "PI-SELF"

// unknownAddress is reported when the adapter cannot tell its own address.
const unknownAddress = "Unknown"

// ServerOptions configures the hub's peripheral side.
type ServerOptions struct {
	Name string
	// Host registers the RX/TX service for central-role devices.
	Host bool
	// Advertise announces the service UUID under Name.
	Advertise bool
}

// GATTServer is the hub in the BLE peripheral role. Central-role devices
// write state to RX and receive commands as TX notifications.
type GATTServer struct {
	adapter  ble.PeripheralAdapter
	registry *Registry
	uuids    ble.UUIDs
	opts     ServerOptions

	mu        sync.Mutex
	tx        ble.LocalCharacteristic
	connected bool
}

// NewGATTServer creates the peripheral side over adapter.
func NewGATTServer(adapter ble.PeripheralAdapter, registry *Registry, uuids ble.UUIDs, opts ServerOptions) *GATTServer {
	return &GATTServer{
		adapter:  adapter,
		registry: registry,
		uuids:    uuids,
		opts:     opts,
	}
}

// Start registers the service and begins advertising, as configured.
func (s *GATTServer) Start() error {
	if err := s.adapter.Enable(); err != nil {
		return fmt.Errorf("hub: enable adapter: %w", err)
	}

	if s.opts.Host {
		chars, err := s.adapter.AddService(ble.ServiceSpec{
			UUID: s.uuids.Service,
			Characteristics: []ble.CharacteristicSpec{
				{UUID: s.uuids.RX, Write: true, OnWrite: s.handleWrite},
				{UUID: s.uuids.TX, Read: true, Notify: true},
			},
		})
		if err != nil {
			return err
		}
		s.mu.Lock()
		s.tx = chars[1]
		s.mu.Unlock()
		s.adapter.OnConnect(s.handleLink)
		slog.Info("[HUB] GATT server started", "name", s.opts.Name, "rx", s.uuids.RX, "tx", s.uuids.TX)
	}

	if s.opts.Advertise {
		if err := s.adapter.Advertise(ble.AdvertOptions{
			LocalName:    s.opts.Name,
			ServiceUUIDs: []string{s.uuids.Service},
		}); err != nil {
			return err
		}
		slog.Info("[HUB] advertising", "name", s.opts.Name, "service", s.uuids.Service)
	}
	return nil
}

// Stop ends advertising and forgets the connected central.
func (s *GATTServer) Stop() {
	if s.opts.Advertise {
		if err := s.adapter.StopAdvertising(); err != nil {
			slog.Warn("[HUB] stop advertising", "error", err)
		}
	}
	s.mu.Lock()
	s.connected = false
	s.mu.Unlock()
	s.registry.Remove(SelfID)
}

func (s *GATTServer) handleLink(mac string, connected bool) {
	s.mu.Lock()
	s.connected = connected
	s.mu.Unlock()

	if connected {
		slog.Info("[HUB] central connected", "mac", mac)
		s.register()
		return
	}
	slog.Info("[HUB] central disconnected", "mac", mac)
	s.registry.Remove(SelfID)
	if s.opts.Advertise {
		if err := s.adapter.Advertise(ble.AdvertOptions{
			LocalName:    s.opts.Name,
			ServiceUUIDs: []string{s.uuids.Service},
		}); err != nil {
			slog.Warn("[HUB] restart advertising failed", "error", err)
		}
	}
}

func (s *GATTServer) register() {
	if s.registry.Has(SelfID) {
		return
	}
	s.registry.Put(events.Device{ID: SelfID, Name: s.opts.Name})
}

func (s *GATTServer) handleWrite(data []byte) {
	rep, err := protocol.DecodeReport(data)
	if err != nil {
		slog.Debug("[HUB] ignoring write", "error", err)
		return
	}
	s.register()
	s.registry.Apply(SelfID, rep)
}

// Send notifies payload on TX.
func (s *GATTServer) Send(payload []byte) error {
	s.mu.Lock()
	tx := s.tx
	ok := s.connected
	s.mu.Unlock()
	if !ok || tx == nil {
		return fmt.Errorf("%w: %s", ErrUnknownDevice, SelfID)
	}
	if err := tx.Notify(payload); err != nil {
		return fmt.Errorf("hub: notify TX: %w", err)
	}
	return nil
}

// Info describes the hub for clients that want to connect to it.
type Info struct {
	MACAddress      string              `json:"mac_address"`
	DeviceName      string              `json:"device_name"`
	ServiceUUID     string              `json:"service_uuid"`
	Characteristics map[string]CharInfo `json:"characteristics"`
}

// CharInfo describes one characteristic in Info.
type CharInfo struct {
	UUID        string `json:"uuid"`
	Description string `json:"description"`
}

// Addresser reports the local adapter address.
type Addresser interface {
	Address() (string, error)
}

// NewInfo builds the server description. adapter may be nil.
func NewInfo(name string, uuids ble.UUIDs, adapter Addresser) Info {
	mac := unknownAddress
	if adapter != nil {
		if addr, err := adapter.Address(); err == nil && addr != "" {
			mac = addr
		}
	}
	return Info{
		MACAddress:  mac,
		DeviceName:  name,
		ServiceUUID: uuids.Service,
		Characteristics: map[string]CharInfo{
			"rx": {UUID: uuids.RX, Description: "hub receives game name and score from devices"},
			"tx": {UUID: uuids.TX, Description: "hub sends commands to devices"},
		},
	}
}
