package protocol

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// Report is what the hub learns from one device payload. GameName is nil
// when the payload carried only a score.
type Report struct {
	GameName *string
	Score    int
}

// DecodeReport parses a payload received from a device. Besides the JSON
// messages it accepts the two legacy score encodings older firmware used:
// a bare ASCII integer and a 4-byte little-endian uint32. Any other text is
// rejected.
func DecodeReport(data []byte) (Report, error) {
	if len(data) == 0 {
		return Report{}, errors.New("protocol: empty report")
	}

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var raw struct {
			GameName *string `json:"game_name"`
			Score    *int    `json:"score"`
		}
		if err := json.Unmarshal(trimmed, &raw); err != nil {
			return Report{}, fmt.Errorf("protocol: decode report: %w", err)
		}
		if raw.Score == nil {
			return Report{}, errors.New("protocol: report has no score")
		}
		return Report{GameName: raw.GameName, Score: *raw.Score}, nil
	}

	if n, err := strconv.Atoi(string(trimmed)); err == nil {
		return Report{Score: n}, nil
	}

	if len(data) == 4 && !printable(data) {
		return Report{Score: int(binary.LittleEndian.Uint32(data))}, nil
	}
	return Report{}, fmt.Errorf("protocol: unrecognised report % x", data)
}

// printable reports whether data is entirely printable ASCII or whitespace.
func printable(data []byte) bool {
	for _, b := range data {
		if (b < 0x20 || b > 0x7e) && b != '\t' && b != '\n' && b != '\r' {
			return false
		}
	}
	return true
}
