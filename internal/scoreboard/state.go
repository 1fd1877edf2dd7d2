// Package scoreboard holds the game state a device owns and the rules for
// changing it: inbound commands and the simulated score tick.
package scoreboard

import (
	"sync"
	"time"

	"github.com/chaz8081/s3-scoreboard/internal/ble/protocol"
)

// Snapshot is a consistent copy of the state.
type Snapshot struct {
	GameName string
	Score    int
}

// State is the game name and current score. BLE callbacks arrive on library
// goroutines, so every access goes through mu.
type State struct {
	mu       sync.Mutex
	gameName string
	score    int
	started  time.Time
	now      func() time.Time
}

// NewState creates a state with the given initial values.
func NewState(gameName string, score int) *State {
	return &State{
		gameName: gameName,
		score:    score,
		started:  time.Now(),
		now:      time.Now,
	}
}

func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{GameName: s.gameName, Score: s.score}
}

// Reset sets the score to zero.
func (s *State) Reset() {
	s.mu.Lock()
	s.score = 0
	s.mu.Unlock()
}

// SetGameName replaces the game name. The score is untouched.
func (s *State) SetGameName(name string) {
	s.mu.Lock()
	s.gameName = name
	s.mu.Unlock()
}

// Add increments the score by n and returns the new value.
func (s *State) Add(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.score += n
	return s.score
}

// Uptime is the time since the state was created.
func (s *State) Uptime() time.Duration {
	return s.now().Sub(s.started)
}

// GameState builds the full-state message for the current values.
func (s *State) GameState() protocol.GameState {
	snap := s.Snapshot()
	return protocol.GameState{
		GameName:  snap.GameName,
		Score:     snap.Score,
		Timestamp: s.Uptime().Milliseconds(),
	}
}

// EncodeGameState is GameState serialized for the wire.
func (s *State) EncodeGameState() ([]byte, error) {
	return protocol.EncodeGameState(s.GameState())
}
