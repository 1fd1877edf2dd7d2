// Package protocol implements the JSON messages exchanged between scoreboard
// devices and the hub over a GATT characteristic.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Command names understood by devices.
const (
	CommandReset   = "reset"
	CommandSetGame = "set_game"
)

// ErrNoCommand is returned when a payload decodes but carries no command name.
var ErrNoCommand = errors.New("protocol: payload has no command")

// GameState is the full-state message a device sends on connect and after
// every handled command.
type GameState struct {
	GameName  string `json:"game_name"`
	Score     int    `json:"score"`
	Timestamp int64  `json:"timestamp"` // ms since the device started
}

// ScoreUpdate is the compact message sent on every score tick.
type ScoreUpdate struct {
	Score int `json:"score"`
}

// Command is an instruction from the hub to a device.
type Command struct {
	Command  string
	GameName string
	// HasGameName is set when game_name was present on the wire, even empty.
	HasGameName bool
}

type wireCommand struct {
	Command  *string `json:"command"`
	GameName *string `json:"game_name,omitempty"`
}

// MarshalJSON writes game_name when it is non-empty or HasGameName is set.
func (c Command) MarshalJSON() ([]byte, error) {
	w := wireCommand{Command: &c.Command}
	if c.GameName != "" || c.HasGameName {
		w.GameName = &c.GameName
	}
	return json.Marshal(w)
}

// UnmarshalJSON records whether game_name was present.
func (c *Command) UnmarshalJSON(data []byte) error {
	var w wireCommand
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*c = w.command()
	return nil
}

func (w wireCommand) command() Command {
	var c Command
	if w.Command != nil {
		c.Command = *w.Command
	}
	if w.GameName != nil {
		c.GameName, c.HasGameName = *w.GameName, true
	}
	return c
}

// EncodeGameState serializes a full-state message. The game name is trimmed
// so the payload fits in one attribute value.
func EncodeGameState(s GameState) ([]byte, error) {
	s.GameName = FitGameName(s.GameName, MaxGameNameBytes)
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("protocol: marshal game state: %w", err)
	}
	return data, nil
}

// EncodeScoreUpdate serializes a score-only message.
func EncodeScoreUpdate(score int) ([]byte, error) {
	data, err := json.Marshal(ScoreUpdate{Score: score})
	if err != nil {
		return nil, fmt.Errorf("protocol: marshal score update: %w", err)
	}
	return data, nil
}

// EncodeCommand serializes a command for delivery to a device.
func EncodeCommand(c Command) ([]byte, error) {
	if c.Command == "" {
		return nil, ErrNoCommand
	}
	data, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("protocol: marshal command: %w", err)
	}
	return data, nil
}

// DecodeCommand parses an inbound command. Unknown command names are not an
// error here; dispatch decides what to do with them.
func DecodeCommand(data []byte) (Command, error) {
	if len(data) == 0 {
		return Command{}, errors.New("protocol: empty payload")
	}
	var raw wireCommand
	if err := json.Unmarshal(data, &raw); err != nil {
		return Command{}, fmt.Errorf("protocol: decode command: %w", err)
	}
	if raw.Command == nil {
		return Command{}, ErrNoCommand
	}
	return raw.command(), nil
}
