package ble

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/chaz8081/s3-scoreboard/internal/ble/protocol"
	"github.com/chaz8081/s3-scoreboard/internal/scoreboard"
)

// ServerOptions configures the peripheral-role device.
type ServerOptions struct {
	LocalName        string
	UpdateInterval   time.Duration // score tick period, connected or not
	ReadvertiseDelay time.Duration // settle time before advertising again
	StepMin          int
	StepMax          int
}

// DefaultServerOptions returns the timings the ESP32 firmware uses.
func DefaultServerOptions() ServerOptions {
	return ServerOptions{
		LocalName:        "ESP32-Game-Device",
		UpdateInterval:   5 * time.Second,
		ReadvertiseDelay: 500 * time.Millisecond,
		StepMin:          1,
		StepMax:          9,
	}
}

// Server is a scoreboard device in the BLE peripheral role. It hosts one
// data characteristic (read, write, notify): the hub writes commands to it
// and receives state as notifications.
type Server struct {
	adapter    PeripheralAdapter
	uuids      UUIDs
	state      *scoreboard.State
	dispatcher *scoreboard.Dispatcher
	ticker     *scoreboard.Ticker
	opts       ServerOptions

	mu        sync.Mutex
	dataChar  LocalCharacteristic
	connected bool
	links     chan bool
}

// NewServer creates a peripheral-role device over adapter.
func NewServer(adapter PeripheralAdapter, uuids UUIDs, state *scoreboard.State, opts ServerOptions) *Server {
	def := DefaultServerOptions()
	if opts.LocalName == "" {
		opts.LocalName = def.LocalName
	}
	if opts.UpdateInterval <= 0 {
		opts.UpdateInterval = def.UpdateInterval
	}
	if opts.ReadvertiseDelay <= 0 {
		opts.ReadvertiseDelay = def.ReadvertiseDelay
	}
	opts.StepMin, opts.StepMax = stepRange(opts.StepMin, opts.StepMax, def.StepMin, def.StepMax)
	return &Server{
		adapter:    adapter,
		uuids:      uuids,
		state:      state,
		dispatcher: scoreboard.NewDispatcher(state),
		ticker:     scoreboard.NewTicker(state, opts.StepMin, opts.StepMax, nil),
		opts:       opts,
		links:      make(chan bool, 8),
	}
}

// Dispatcher exposes the command table so callers can register extra
// commands before Run.
func (s *Server) Dispatcher() *scoreboard.Dispatcher {
	return s.dispatcher
}

// Run hosts the service and advertises until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	if err := s.adapter.Enable(); err != nil {
		return fmt.Errorf("ble: enable adapter: %w", err)
	}

	initial, err := s.state.EncodeGameState()
	if err != nil {
		return err
	}
	chars, err := s.adapter.AddService(ServiceSpec{
		UUID: s.uuids.Service,
		Characteristics: []CharacteristicSpec{{
			UUID:    s.uuids.RX,
			Read:    true,
			Write:   true,
			Notify:  true,
			Value:   initial,
			OnWrite: s.handleWrite,
		}},
	})
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.dataChar = chars[0]
	s.mu.Unlock()

	s.adapter.OnConnect(func(mac string, connected bool) {
		slog.Info("[BLE] central link changed", "mac", mac, "connected", connected)
		s.mu.Lock()
		s.connected = connected
		s.mu.Unlock()
		select {
		case s.links <- connected:
		default:
			slog.Warn("[BLE] link event dropped", "mac", mac, "connected", connected)
		}
	})

	if err := s.advertise(); err != nil {
		return err
	}
	slog.Info("[BLE] advertising, waiting for hub",
		"name", s.opts.LocalName,
		"service", s.uuids.Service,
		"data_char", s.uuids.RX,
	)

	t := time.NewTicker(s.opts.UpdateInterval)
	defer t.Stop()
	wasConnected := false
	for {
		select {
		case <-ctx.Done():
			if err := s.adapter.StopAdvertising(); err != nil {
				slog.Warn("[BLE] stop advertising", "error", err)
			}
			return nil

		case <-t.C:
			s.ticker.Tick()
			if err := s.SendScoreUpdate(); err != nil && !errors.Is(err, ErrNotConnected) {
				slog.Warn("[BLE] score notify failed", "error", err)
			}

		case connected := <-s.links:
			switch {
			case connected && !wasConnected:
				if err := s.SendGameState(); err != nil {
					slog.Warn("[BLE] initial state notify failed", "error", err)
				}
			case !connected && wasConnected:
				if !sleepCtx(ctx, s.opts.ReadvertiseDelay) {
					continue
				}
				if err := s.advertise(); err != nil {
					slog.Warn("[BLE] restart advertising failed", "error", err)
				} else {
					slog.Info("[BLE] advertising restarted")
				}
			}
			wasConnected = connected
		}
	}
}

func (s *Server) advertise() error {
	return s.adapter.Advertise(AdvertOptions{
		LocalName:    s.opts.LocalName,
		ServiceUUIDs: []string{s.uuids.Service},
	})
}

func (s *Server) handleWrite(data []byte) {
	slog.Debug("[BLE] write from hub", "payload", string(data))
	if s.dispatcher.DispatchPayload(data) {
		if err := s.SendGameState(); err != nil && !errors.Is(err, ErrNotConnected) {
			slog.Warn("[BLE] state echo failed", "error", err)
		}
	}
}

// SendGameState notifies the full state. Without a connected central the
// send is skipped and ErrNotConnected returned.
func (s *Server) SendGameState() error {
	data, err := s.state.EncodeGameState()
	if err != nil {
		return err
	}
	return s.notify(data)
}

// SendScoreUpdate notifies the score-only message.
func (s *Server) SendScoreUpdate() error {
	data, err := protocol.EncodeScoreUpdate(s.state.Snapshot().Score)
	if err != nil {
		return err
	}
	return s.notify(data)
}

func (s *Server) notify(data []byte) error {
	s.mu.Lock()
	ch := s.dataChar
	ok := s.connected
	s.mu.Unlock()
	if !ok || ch == nil {
		return ErrNotConnected
	}
	if err := ch.Notify(data); err != nil {
		return fmt.Errorf("ble: notify: %w", err)
	}
	slog.Debug("[BLE] notified", "payload", string(data))
	return nil
}

// Connected reports whether a central is connected.
func (s *Server) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}
