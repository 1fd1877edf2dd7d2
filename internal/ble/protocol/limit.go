package protocol

import "unicode/utf8"

// MaxAttributeBytes is the largest value a GATT attribute may hold.
const MaxAttributeBytes = 512

// MaxGameNameBytes leaves room in a full-state message for the JSON keys,
// a 64-bit score and timestamp, and escaping of a few characters.
const MaxGameNameBytes = 400

// FitGameName trims name to at most maxBytes without splitting a UTF-8
// character.
func FitGameName(name string, maxBytes int) string {
	if len(name) <= maxBytes {
		return name
	}
	if maxBytes <= 0 {
		return ""
	}
	cut := maxBytes
	for cut > 0 && !utf8.RuneStart(name[cut]) {
		cut--
	}
	return name[:cut]
}
