package stream

import (
	"strings"
)

// markerPrefix opens every inline artifact marker.
const markerPrefix = "<artifact:"

// DefaultMaxMarkerLength bounds how long an unterminated marker may be held
// back before it is flushed as plain text.
const DefaultMaxMarkerLength = 4096

// Marker kinds.
const (
	MarkerRef    = "ref"
	MarkerCreate = "create"
)

// Marker is a parsed inline artifact marker such as
//
//	<artifact:ref id="a1" tool="call_1"/>
//	<artifact:create id="a1" tool="call_1" type="document" base="result.items[0]" details='{"title":"title"}'/>
type Marker struct {
	Kind  string
	Attrs map[string]string
}

// scanResult classifies the text starting at a '<'.
type scanResult int

const (
	scanNotMarker scanResult = iota
	scanIncomplete
	scanComplete
)

// scanMarker inspects buf[start:], which begins with '<'. For a complete
// marker it returns the marker and the offset just past its closing "/>".
func scanMarker(buf string, start int) (Marker, int, scanResult) {
	rest := buf[start:]
	if len(rest) < len(markerPrefix) {
		if strings.HasPrefix(markerPrefix, rest) {
			return Marker{}, 0, scanIncomplete
		}
		return Marker{}, 0, scanNotMarker
	}
	if !strings.HasPrefix(rest, markerPrefix) {
		return Marker{}, 0, scanNotMarker
	}

	i := start + len(markerPrefix)
	kindStart := i
	for i < len(buf) && isIdent(buf[i]) {
		i++
	}
	kind := buf[kindStart:i]
	if i == len(buf) {
		if strings.HasPrefix(MarkerRef, kind) || strings.HasPrefix(MarkerCreate, kind) {
			return Marker{}, 0, scanIncomplete
		}
		return Marker{}, 0, scanNotMarker
	}
	if kind != MarkerRef && kind != MarkerCreate {
		return Marker{}, 0, scanNotMarker
	}

	m := Marker{Kind: kind, Attrs: make(map[string]string)}
	for {
		for i < len(buf) && isSpace(buf[i]) {
			i++
		}
		if i == len(buf) {
			return Marker{}, 0, scanIncomplete
		}
		if buf[i] == '/' {
			if i+1 == len(buf) {
				return Marker{}, 0, scanIncomplete
			}
			if buf[i+1] == '>' {
				return m, i + 2, scanComplete
			}
			return Marker{}, 0, scanNotMarker
		}

		nameStart := i
		for i < len(buf) && isIdent(buf[i]) {
			i++
		}
		if i == len(buf) {
			return Marker{}, 0, scanIncomplete
		}
		if i == nameStart || buf[i] != '=' {
			return Marker{}, 0, scanNotMarker
		}
		name := buf[nameStart:i]
		i++
		if i == len(buf) {
			return Marker{}, 0, scanIncomplete
		}
		quote := buf[i]
		if quote != '"' && quote != '\'' {
			return Marker{}, 0, scanNotMarker
		}
		end := strings.IndexByte(buf[i+1:], quote)
		if end < 0 {
			return Marker{}, 0, scanIncomplete
		}
		m.Attrs[name] = buf[i+1 : i+1+end]
		i += end + 2
	}
}

func isIdent(c byte) bool {
	return c == '_' || c == '-' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

// RefMarker renders a reference marker.
func RefMarker(artifactID, toolCallID string) string {
	return `<artifact:ref id="` + artifactID + `" tool="` + toolCallID + `"/>`
}
