package hub

import "testing"

func TestColor(t *testing.T) {
	tests := []struct {
		id   string
		want string
	}{
		{"", "#FF6B6B"},
		{"a", "#4ECDC4"},
		{"PI-SELF", "#FF6B6B"},
		{"AA:BB:CC:DD:EE:FF", "#FFCA3A"},
		{"TEST-0123456789AB", "#4ECDC4"},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			if got := Color(tt.id); got != tt.want {
				t.Errorf("Color(%q) = %s, want %s", tt.id, got, tt.want)
			}
		})
	}
}

func TestColorStable(t *testing.T) {
	if Color("B8:27:EB:01:02:03") != Color("B8:27:EB:01:02:03") {
		t.Error("Color is not deterministic")
	}
}
