package bridge

import "regexp"

// markerRe matches the host's inline annotation markers, e.g.
// "[MEMORY:preference:billing] user prefers email receipts". Ported from
// the tiered session manager's marker grammar: a bracketed tag with an
// optional ":service" suffix, followed by the annotated text.
var markerRe = regexp.MustCompile(`(?m)^\[(MEMORY|EVENT|COOLDOWN):([a-zA-Z0-9_-]+)(?::([a-zA-Z0-9_-]+))?\]\s*(.*)$`)

// Marker is one parsed inline annotation extracted from message content.
type Marker struct {
	Kind     string // "MEMORY", "EVENT", or "COOLDOWN"
	Category string
	Service  string
	Text     string
}

// ExtractMarkers scans content line by line for marker annotations. It
// never mutates content; callers decide whether to strip matched lines
// before queuing.
func ExtractMarkers(content string) []Marker {
	matches := markerRe.FindAllStringSubmatch(content, -1)
	if len(matches) == 0 {
		return nil
	}
	markers := make([]Marker, 0, len(matches))
	for _, m := range matches {
		markers = append(markers, Marker{
			Kind:     m[1],
			Category: m[2],
			Service:  m[3],
			Text:     m[4],
		})
	}
	return markers
}
