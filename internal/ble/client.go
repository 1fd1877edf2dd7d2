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

// ErrNotConnected is returned by sends attempted without a link.
var ErrNotConnected = errors.New("ble: not connected")

// ClientOptions configures the central-role device.
type ClientOptions struct {
	ScanTimeout    time.Duration // how long one discovery round lasts
	RescanDelay    time.Duration // wait between discovery rounds that found nothing
	ConnectTimeout time.Duration
	UpdateInterval time.Duration // score tick period while connected
	StepMin        int
	StepMax        int
}

// DefaultClientOptions returns the timings the ESP32 firmware uses.
func DefaultClientOptions() ClientOptions {
	return ClientOptions{
		ScanTimeout:    5 * time.Second,
		RescanDelay:    2 * time.Second,
		ConnectTimeout: 15 * time.Second,
		UpdateInterval: 5 * time.Second,
		StepMin:        1,
		StepMax:        10,
	}
}

// Client is a scoreboard device in the BLE central role. It scans for the
// hub's service, writes its game state to the RX characteristic and takes
// commands from TX notifications.
type Client struct {
	adapter    Adapter
	uuids      UUIDs
	state      *scoreboard.State
	dispatcher *scoreboard.Dispatcher
	ticker     *scoreboard.Ticker
	opts       ClientOptions

	mu        sync.Mutex
	conn      Connection
	rxChar    Characteristic
	connected bool
	dropped   chan struct{}
}

// NewClient creates a central-role device over adapter.
func NewClient(adapter Adapter, uuids UUIDs, state *scoreboard.State, opts ClientOptions) *Client {
	def := DefaultClientOptions()
	if opts.ScanTimeout <= 0 {
		opts.ScanTimeout = def.ScanTimeout
	}
	if opts.RescanDelay <= 0 {
		opts.RescanDelay = def.RescanDelay
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = def.ConnectTimeout
	}
	if opts.UpdateInterval <= 0 {
		opts.UpdateInterval = def.UpdateInterval
	}
	opts.StepMin, opts.StepMax = stepRange(opts.StepMin, opts.StepMax, def.StepMin, def.StepMax)
	return &Client{
		adapter:    adapter,
		uuids:      uuids,
		state:      state,
		dispatcher: scoreboard.NewDispatcher(state),
		ticker:     scoreboard.NewTicker(state, opts.StepMin, opts.StepMax, nil),
		opts:       opts,
	}
}

// Dispatcher exposes the command table so callers can register extra
// commands before Run.
func (c *Client) Dispatcher() *scoreboard.Dispatcher {
	return c.dispatcher
}

// Run scans, connects, and exchanges state until ctx is cancelled. Every
// failure or link loss goes back to scanning; there is no retry limit.
func (c *Client) Run(ctx context.Context) error {
	if err := c.adapter.Enable(); err != nil {
		return fmt.Errorf("ble: enable adapter: %w", err)
	}
	slog.Info("[BLE] scanning for hub", "service", c.uuids.Service)

	for {
		if ctx.Err() != nil {
			c.Close()
			return nil
		}

		dev, ok := c.findHub(ctx)
		if !ok {
			sleepCtx(ctx, c.opts.RescanDelay)
			continue
		}

		if err := c.connect(ctx, dev.MAC); err != nil {
			slog.Warn("[BLE] connect failed, rescanning", "mac", dev.MAC, "error", err)
			continue
		}
		slog.Info("[BLE] connected to hub", "mac", dev.MAC, "name", dev.Name)

		if err := c.SendGameState(); err != nil {
			slog.Warn("[BLE] initial state send failed", "error", err)
		}
		c.session(ctx)
	}
}

// findHub runs one discovery round and returns the first matching device.
func (c *Client) findHub(ctx context.Context) (Device, bool) {
	scanCtx, cancel := context.WithTimeout(ctx, c.opts.ScanTimeout)
	defer cancel()

	devices, err := c.adapter.Scan(scanCtx, ScanFilter{ServiceUUID: c.uuids.Service, First: true})
	if err != nil {
		slog.Warn("[BLE] scan failed", "error", err)
		return Device{}, false
	}
	slog.Debug("[BLE] scan complete", "found", len(devices))
	for _, d := range devices {
		if d.HasService {
			return d, true
		}
	}
	return Device{}, false
}

// connect opens the link and discovers the characteristics. RX is required,
// TX is optional: without it the device still reports but takes no commands.
func (c *Client) connect(ctx context.Context, mac string) error {
	connCtx, cancel := context.WithTimeout(ctx, c.opts.ConnectTimeout)
	defer cancel()

	conn, err := c.adapter.Connect(connCtx, mac)
	if err != nil {
		return err
	}

	// Watch for a drop from the start; one during discovery aborts the link.
	dropped := make(chan struct{}, 1)
	lost := make(chan struct{})
	var once sync.Once
	conn.OnDisconnect(func() {
		once.Do(func() { close(lost) })
		slog.Warn("[BLE] link lost")
		c.setDisconnected(conn)
		select {
		case dropped <- struct{}{}:
		default:
		}
	})

	rx, err := conn.DiscoverCharacteristic(c.uuids.Service, c.uuids.RX)
	if err != nil {
		_ = conn.Disconnect()
		return fmt.Errorf("ble: discover RX characteristic: %w", err)
	}

	tx, err := conn.DiscoverCharacteristic(c.uuids.Service, c.uuids.TX)
	if err != nil {
		slog.Warn("[BLE] TX characteristic missing, commands disabled", "error", err)
	} else if err := tx.Subscribe(c.handleCommand); err != nil {
		slog.Warn("[BLE] subscribe to TX failed, commands disabled", "error", err)
	}

	c.mu.Lock()
	select {
	case <-lost:
		c.mu.Unlock()
		_ = conn.Disconnect()
		return errors.New("ble: link lost during setup")
	default:
	}
	c.conn = conn
	c.rxChar = rx
	c.connected = true
	c.dropped = dropped
	c.mu.Unlock()
	return nil
}

// session ticks the score until the link drops or ctx ends.
func (c *Client) session(ctx context.Context) {
	c.mu.Lock()
	dropped := c.dropped
	c.mu.Unlock()

	t := time.NewTicker(c.opts.UpdateInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-dropped:
			slog.Info("[BLE] rescanning after disconnect")
			return
		case <-t.C:
			score := c.ticker.Tick()
			if err := c.SendScoreUpdate(); err != nil {
				slog.Warn("[BLE] score update failed", "score", score, "error", err)
			}
		}
	}
}

func (c *Client) handleCommand(data []byte) {
	slog.Debug("[BLE] command from hub", "payload", string(data))
	if c.dispatcher.DispatchPayload(data) {
		if err := c.SendGameState(); err != nil {
			slog.Warn("[BLE] state echo failed", "error", err)
		}
	}
}

// SendGameState writes the full state to the hub. Without a link the send is
// skipped and ErrNotConnected returned.
func (c *Client) SendGameState() error {
	data, err := c.state.EncodeGameState()
	if err != nil {
		return err
	}
	return c.write(data)
}

// SendScoreUpdate writes the score-only message to the hub.
func (c *Client) SendScoreUpdate() error {
	data, err := protocol.EncodeScoreUpdate(c.state.Snapshot().Score)
	if err != nil {
		return err
	}
	return c.write(data)
}

func (c *Client) write(data []byte) error {
	c.mu.Lock()
	rx := c.rxChar
	ok := c.connected
	c.mu.Unlock()
	if !ok || rx == nil {
		return ErrNotConnected
	}
	if err := rx.Write(data); err != nil {
		return fmt.Errorf("ble: write RX: %w", err)
	}
	slog.Debug("[BLE] sent", "payload", string(data))
	return nil
}

// Connected reports whether the client currently has a link to the hub.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// setDisconnected clears the link if conn is still the current one.
func (c *Client) setDisconnected(conn Connection) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != conn {
		return
	}
	c.connected = false
	c.conn = nil
	c.rxChar = nil
}

// Close disconnects from the hub.
func (c *Client) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.rxChar = nil
	c.connected = false
	c.mu.Unlock()

	if conn != nil {
		return conn.Disconnect()
	}
	return nil
}

// stepRange fills each unset bound from the defaults. A min above the
// default max raises max to match.
func stepRange(lo, hi, defLo, defHi int) (int, int) {
	if lo <= 0 {
		lo = defLo
	}
	if hi <= 0 {
		hi = max(defHi, lo)
	}
	return lo, hi
}

// sleepCtx waits for d or until ctx is done. It reports whether the full
// duration elapsed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
