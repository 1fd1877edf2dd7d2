package dashboard

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/chaz8081/s3-scoreboard/internal/ble/protocol"
	"github.com/chaz8081/s3-scoreboard/internal/events"
	"github.com/chaz8081/s3-scoreboard/internal/hub"
)

// maxBody bounds request bodies; commands are tiny.
const maxBody = 4096

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("[HTTP] failed to write JSON", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{
		"ok":    false,
		"error": msg,
	})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleDevices(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"devices": s.opts.Backend.Devices()})
}

func (s *Server) handleInfo(w http.ResponseWriter, _ *http.Request) {
	if s.opts.Info == nil {
		writeError(w, http.StatusNotFound, "server info unavailable")
		return
	}
	writeJSON(w, http.StatusOK, s.opts.Info())
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var cmd protocol.Command
	if !decodeBody(w, r, &cmd) {
		return
	}
	if cmd.Command == "" {
		writeError(w, http.StatusBadRequest, "missing command")
		return
	}

	err := s.opts.Backend.SendCommand(id, cmd)
	switch {
	case errors.Is(err, hub.ErrUnknownDevice):
		writeError(w, http.StatusNotFound, fmt.Sprintf("Failed to send data to %s", id))
	case err != nil:
		slog.Warn("[HTTP] send failed", "id", id, "error", err)
		writeError(w, http.StatusBadGateway, fmt.Sprintf("Failed to send data to %s", id))
	default:
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "message": "Data sent to " + id})
	}
}

func (s *Server) handleTestAdd(w http.ResponseWriter, r *http.Request) {
	body := struct {
		ID       string `json:"id"`
		Name     string `json:"name"`
		GameName string `json:"game_name"`
		Score    int    `json:"score"`
	}{Name: "SimDevice", GameName: "Test Game"}
	if !decodeBody(w, r, &body) {
		return
	}
	d := s.opts.Backend.AddSimulated(body.ID, body.Name, body.GameName, body.Score)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "device": d})
}

func (s *Server) handleTestScore(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ID    string `json:"id"`
		Score *int   `json:"score"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if body.ID == "" || body.Score == nil {
		writeError(w, http.StatusBadRequest, "id and score are required")
		return
	}
	if _, ok := s.opts.Backend.SetScore(body.ID, *body.Score); !ok {
		writeError(w, http.StatusNotFound, "unknown id")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleTestRemove(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ID string `json:"id"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if body.ID == "" {
		writeError(w, http.StatusBadRequest, "id is required")
		return
	}
	s.opts.Backend.Remove(body.ID)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// initMessage is the first websocket frame: the current board.
type initMessage struct {
	Type    string          `json:"type"`
	Devices []events.Device `json:"devices"`
}
