package mqtt

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/chaz8081/s3-scoreboard/internal/ble/protocol"
	"github.com/chaz8081/s3-scoreboard/internal/events"
)

// Publisher is the broker side of the bridge.
type Publisher interface {
	Publish(topic string, retained bool, payload []byte) error
	Subscribe(topic string, h Handler) error
}

// CommandSender delivers a command to a device.
type CommandSender interface {
	SendCommand(id string, cmd protocol.Command) error
}

// Bridge mirrors bus events to topics under a prefix:
//
//	<prefix>/events                every event as JSON
//	<prefix>/devices/<id>          retained device state, emptied on removal
//	<prefix>/devices/<id>/command  inbound commands
type Bridge struct {
	pub    Publisher
	sender CommandSender
	prefix string
}

// NewBridge creates a bridge. A nil sender disables inbound commands.
func NewBridge(pub Publisher, sender CommandSender, prefix string) *Bridge {
	return &Bridge{
		pub:    pub,
		sender: sender,
		prefix: strings.TrimSuffix(prefix, "/"),
	}
}

// Run forwards events from bus until ctx is cancelled.
func (b *Bridge) Run(ctx context.Context, bus *events.Bus) error {
	if b.sender != nil {
		if err := b.pub.Subscribe(b.prefix+"/devices/+/command", b.handleCommand); err != nil {
			return err
		}
	}

	ch, unsubscribe := bus.Subscribe(64)
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-ch:
			if !ok {
				return nil
			}
			b.forward(e)
		}
	}
}

func (b *Bridge) forward(e events.Event) {
	data, err := json.Marshal(e)
	if err != nil {
		slog.Error("[MQTT] encode event", "error", err)
		return
	}
	if err := b.pub.Publish(b.prefix+"/events", false, data); err != nil {
		slog.Warn("[MQTT] publish event failed", "type", e.Type, "error", err)
	}

	topic := b.prefix + "/devices/" + e.DeviceID()
	var state []byte
	if e.Device != nil {
		if state, err = json.Marshal(e.Device); err != nil {
			slog.Error("[MQTT] encode device", "error", err)
			return
		}
	}
	// An empty retained message clears the topic on the broker.
	if err := b.pub.Publish(topic, true, state); err != nil {
		slog.Warn("[MQTT] publish device state failed", "topic", topic, "error", err)
	}
}

func (b *Bridge) handleCommand(topic string, payload []byte) {
	id, ok := b.deviceFromTopic(topic)
	if !ok {
		slog.Debug("[MQTT] ignoring topic", "topic", topic)
		return
	}
	cmd, err := protocol.DecodeCommand(payload)
	if err != nil {
		slog.Warn("[MQTT] invalid command", "topic", topic, "error", err)
		return
	}
	if err := b.sender.SendCommand(id, cmd); err != nil {
		slog.Warn("[MQTT] command not delivered", "id", id, "command", cmd.Command, "error", err)
		return
	}
	slog.Info("[MQTT] command forwarded", "id", id, "command", cmd.Command)
}

// deviceFromTopic extracts <id> from <prefix>/devices/<id>/command.
func (b *Bridge) deviceFromTopic(topic string) (string, bool) {
	rest, ok := strings.CutPrefix(topic, b.prefix+"/devices/")
	if !ok {
		return "", false
	}
	id, ok := strings.CutSuffix(rest, "/command")
	if !ok || id == "" || strings.Contains(id, "/") {
		return "", false
	}
	return id, true
}
