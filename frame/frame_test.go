package frame

import (
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_ValidFrames(t *testing.T) {
	tests := []struct {
		name string
		line string
		want Reading
	}{
		{"canonical", "Moisture: 1023 | Float: 0 | Pump: 0", Reading{1023, 0, 0}},
		{"extra whitespace", "Moisture:   512  |  Float:1|Pump:   1   ", Reading{512, 1, 1}},
		{"extra segments ignored", "Moisture: 200 | Float: 1 | Pump: 1 | Temp: 23.0", Reading{200, 1, 1}},
		{"labels are positional", "Moisture: 7 | Level: 3 | Motor: 1", Reading{7, 3, 1}},
		{"prefix before marker", "[dbg] Moisture: 42 | Float: 0 | Pump: 0", Reading{42, 0, 0}},
		{"negative values pass through", "Moisture: -1 | Float: 0 | Pump: 0", Reading{-1, 0, 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.line)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParse_Ignored(t *testing.T) {
	for _, line := range []string{
		"System booting...",
		"",
		"moisture: 5 | Float: 0 | Pump: 0",
		"Float: 0 | Pump: 0",
		"Moisture 5 | Float: 0 | Pump: 0",
	} {
		_, err := Parse(line)
		require.ErrorIs(t, err, ErrIgnored, "line %q", line)
	}
}

func TestParse_FrameErrors(t *testing.T) {
	tests := []struct {
		name  string
		line  string
		field string
		cause error
	}{
		{"not an integer", "Moisture: abc | Float: 0 | Pump: 0", "moisture", strconv.ErrSyntax},
		{"decimal value", "Moisture: 10 | Float: 0.5 | Pump: 0", "water_level", strconv.ErrSyntax},
		{"empty value", "Moisture: 10 | Float: 0 | Pump:", "pump_status", strconv.ErrSyntax},
		{"missing separator", "Moisture: 10 | Float 0 | Pump: 0", "water_level", ErrMissingSeparator},
		{"one segment", "Moisture: 10", "", ErrSegmentCount},
		{"two segments", "Moisture: 10 | Float: 0", "", ErrSegmentCount},
		{"overflow", "Moisture: 99999999999999999999 | Float: 0 | Pump: 0", "moisture", strconv.ErrRange},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.line)
			var fe *Error
			require.ErrorAs(t, err, &fe)
			assert.Equal(t, tt.line, fe.Line)
			assert.Equal(t, tt.field, fe.Field)
			assert.ErrorIs(t, err, tt.cause)
			assert.NotErrorIs(t, err, ErrIgnored)
		})
	}
}

func TestParse_RandomFrames(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 1000; i++ {
		want := Reading{rng.Intn(2048) - 1024, rng.Intn(4), rng.Intn(2)}
		line := fmt.Sprintf("Moisture: %d | Float: %d | Pump: %d", want.Moisture, want.WaterLevel, want.PumpStatus)

		got, err := Parse(line)
		require.NoError(t, err)
		require.Equal(t, want, got)

		// Pure: a second parse of the same line gives the same answer.
		again, err := Parse(line)
		require.NoError(t, err)
		require.Equal(t, got, again)
	}
}

func TestParse_RandomNoise(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	alphabet := []rune("abcMoistur: |0123456789\t-é")
	for i := 0; i < 2000; i++ {
		var b strings.Builder
		for j := rng.Intn(60); j > 0; j-- {
			b.WriteRune(alphabet[rng.Intn(len(alphabet))])
		}
		line := b.String()

		_, err := Parse(line)
		if !strings.Contains(line, Marker) {
			require.ErrorIs(t, err, ErrIgnored)
			continue
		}
		if err != nil {
			var fe *Error
			require.ErrorAs(t, err, &fe, "line %q", line)
		}
	}
}

func TestParseBytes(t *testing.T) {
	got, err := ParseBytes([]byte("Moisture: 1023 | Float: 0 | Pump: 0"))
	require.NoError(t, err)
	require.Equal(t, Reading{Moisture: 1023}, got)

	_, err = ParseBytes([]byte("Moisture: \xff\xfe | Float: 0 | Pump: 0"))
	var de *DecodeError
	require.ErrorAs(t, err, &de)
}

func TestReading_Summary(t *testing.T) {
	r := Reading{Moisture: 1023, WaterLevel: 0, PumpStatus: 0}
	assert.Equal(t, 0, r.MoisturePercent())
	assert.Equal(t, "EMPTY", r.Water())
	assert.Equal(t, "OFF", r.Pump())

	r = Reading{Moisture: 0, WaterLevel: 1, PumpStatus: 1}
	assert.Equal(t, 100, r.MoisturePercent())
	assert.Equal(t, "FULL", r.Water())
	assert.Equal(t, "ON", r.Pump())
	assert.Equal(t, "Moisture: 0 | Float: 1 | Pump: 1", r.String())
}
