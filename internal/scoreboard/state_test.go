package scoreboard

import (
	"encoding/json"
	"testing"
	"time"
)

func TestStateAddAndReset(t *testing.T) {
	s := NewState("Pong", 5)
	if got := s.Add(3); got != 8 {
		t.Errorf("Add(3) = %d, want 8", got)
	}
	s.Reset()
	if got := s.Snapshot(); got != (Snapshot{GameName: "Pong", Score: 0}) {
		t.Errorf("Snapshot() after Reset = %+v", got)
	}
}

func TestStateSetGameNameKeepsScore(t *testing.T) {
	s := NewState("Pong", 12)
	s.SetGameName("Tetris")
	got := s.Snapshot()
	if got.GameName != "Tetris" || got.Score != 12 {
		t.Errorf("Snapshot() = %+v, want {Tetris 12}", got)
	}
}

func TestStateGameStateTimestamp(t *testing.T) {
	s := NewState("Pong", 1)
	s.now = func() time.Time { return s.started.Add(1500 * time.Millisecond) }

	gs := s.GameState()
	if gs.Timestamp != 1500 {
		t.Errorf("Timestamp = %d, want 1500", gs.Timestamp)
	}

	data, err := s.EncodeGameState()
	if err != nil {
		t.Fatalf("EncodeGameState() error = %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("EncodeGameState() produced invalid JSON: %v", err)
	}
	if m["game_name"] != "Pong" || m["score"] != float64(1) || m["timestamp"] != float64(1500) {
		t.Errorf("EncodeGameState() = %s", data)
	}
}
