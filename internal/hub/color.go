package hub

// palette is the tile colour set. Order matters: colours are picked by index.
var palette = []string{
	"#FF6B6B", "#4ECDC4", "#1A535C", "#FF9F1C",
	"#2EC4B6", "#E71D36", "#6A4C93", "#1982C4",
	"#8AC926", "#FF595E", "#FFCA3A", "#6A994E",
	"#386641", "#8338EC", "#3A86FF", "#FB5607",
}

// Color returns the tile colour for a device id. The same id always gets
// the same colour.
func Color(id string) string {
	var h uint32
	for _, r := range id {
		h = h*31 + uint32(r)
	}
	return palette[h%uint32(len(palette))]
}
