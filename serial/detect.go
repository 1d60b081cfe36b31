package serial

import (
	"errors"
	"path/filepath"
	"sort"
)

// AutoDevice asks Open to pick the first port found by Detect.
const AutoDevice = "auto"

// ErrNoDevice is returned by Detect when no candidate port exists.
var ErrNoDevice = errors.New("no serial device found")

// detectPatterns are scanned in order. CDC-ACM comes first because boards like
// the micro:bit enumerate there; USB-serial adapters come next.
var detectPatterns = []string{
	"/dev/ttyACM*",
	"/dev/ttyUSB*",
	"/dev/serial/by-id/*",
}

// Detect returns the first serial device matching the known USB patterns.
func Detect() (string, error) {
	return detect(detectPatterns)
}

func detect(patterns []string) (string, error) {
	for _, p := range patterns {
		matches, err := filepath.Glob(p)
		if err != nil {
			return "", err
		}
		if len(matches) == 0 {
			continue
		}
		sort.Strings(matches)
		return matches[0], nil
	}
	return "", ErrNoDevice
}
