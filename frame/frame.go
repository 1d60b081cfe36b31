// Package frame turns one line of device output into a Reading.
//
// A line is a telemetry frame only if it carries the "Moisture:" marker.
// Frames have three '|' separated segments, "<label>: <int>" each, in the
// order moisture, water level, pump:
//
//	Moisture: 1023 | Float: 0 | Pump: 0
//
// Labels after the first are not checked; position decides the field.
// Everything here is pure and safe for concurrent use.
package frame

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Marker identifies a candidate telemetry frame.
const Marker = "Moisture:"

const segments = 3

var (
	// ErrIgnored is returned for lines without the marker: boot messages,
	// debug prints and anything else sharing the serial stream.
	ErrIgnored = errors.New("frame: not a telemetry line")

	ErrSegmentCount     = errors.New("expected 3 '|' separated segments")
	ErrMissingSeparator = errors.New("missing ':' separator")
)

// Error is a rejected candidate frame. It is never fatal: the line is dropped.
type Error struct {
	Line  string
	Field string // empty when the frame shape itself is wrong
	Cause error
}

func (e *Error) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("frame %q: %v", e.Line, e.Cause)
	}
	return fmt.Sprintf("frame %q: %s: %v", e.Line, e.Field, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

// DecodeError reports a line that is not valid UTF-8.
type DecodeError struct {
	Raw []byte
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("frame %q: invalid UTF-8", e.Raw)
}

var fieldNames = [segments]string{"moisture", "water_level", "pump_status"}

// Parse extracts a Reading from line. It returns ErrIgnored when the marker is
// absent and *Error when the marker is present but the frame is malformed.
// Segments beyond the third are ignored.
func Parse(line string) (Reading, error) {
	if !strings.Contains(line, Marker) {
		return Reading{}, ErrIgnored
	}

	parts := strings.SplitN(line, "|", segments+1)
	if len(parts) < segments {
		return Reading{}, &Error{Line: line, Cause: ErrSegmentCount}
	}

	var vals [segments]int
	for i := 0; i < segments; i++ {
		idx := strings.LastIndexByte(parts[i], ':')
		if idx < 0 {
			return Reading{}, &Error{Line: line, Field: fieldNames[i], Cause: ErrMissingSeparator}
		}
		v, err := strconv.Atoi(strings.TrimSpace(parts[i][idx+1:]))
		if err != nil {
			return Reading{}, &Error{Line: line, Field: fieldNames[i], Cause: err}
		}
		vals[i] = v
	}

	return Reading{
		Moisture:   vals[0],
		WaterLevel: vals[1],
		PumpStatus: vals[2],
	}, nil
}

// ParseBytes decodes raw as UTF-8 and parses it. Invalid UTF-8 yields *DecodeError.
func ParseBytes(raw []byte) (Reading, error) {
	if !utf8.Valid(raw) {
		return Reading{}, &DecodeError{Raw: append([]byte(nil), raw...)}
	}
	return Parse(string(raw))
}
