package scoreboard

import (
	"log/slog"

	"github.com/chaz8081/s3-scoreboard/internal/ble/protocol"
)

// HandlerFunc applies one command to the state. It reports whether the
// command was accepted; accepted commands are answered with the full state.
type HandlerFunc func(s *State, cmd protocol.Command) bool

// Dispatcher maps command names to handlers.
type Dispatcher struct {
	state    *State
	handlers map[string]HandlerFunc
}

// NewDispatcher returns a dispatcher with the reset and set_game handlers
// registered.
func NewDispatcher(state *State) *Dispatcher {
	d := &Dispatcher{
		state:    state,
		handlers: make(map[string]HandlerFunc),
	}
	d.Handle(protocol.CommandReset, handleReset)
	d.Handle(protocol.CommandSetGame, handleSetGame)
	return d
}

// Handle registers fn for the named command, replacing any previous handler.
func (d *Dispatcher) Handle(name string, fn HandlerFunc) {
	d.handlers[name] = fn
}

// Dispatch applies cmd. Unknown commands leave the state unchanged and
// return false.
func (d *Dispatcher) Dispatch(cmd protocol.Command) bool {
	fn, ok := d.handlers[cmd.Command]
	if !ok {
		slog.Debug("[SCORE] ignoring unknown command", "command", cmd.Command)
		return false
	}
	return fn(d.state, cmd)
}

// DispatchPayload decodes and applies a raw payload. Payloads that do not
// decode are dropped without a response.
func (d *Dispatcher) DispatchPayload(data []byte) bool {
	cmd, err := protocol.DecodeCommand(data)
	if err != nil {
		slog.Debug("[SCORE] ignoring payload", "error", err)
		return false
	}
	return d.Dispatch(cmd)
}

func handleReset(s *State, _ protocol.Command) bool {
	s.Reset()
	slog.Info("[SCORE] score reset by hub")
	return true
}

func handleSetGame(s *State, cmd protocol.Command) bool {
	if !cmd.HasGameName && cmd.GameName == "" {
		slog.Debug("[SCORE] set_game without game_name, ignoring")
		return false
	}
	s.SetGameName(cmd.GameName)
	slog.Info("[SCORE] game name changed", "game_name", cmd.GameName)
	return true
}
