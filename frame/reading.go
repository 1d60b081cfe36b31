package frame

import "fmt"

// moistureScale is the full-scale value of the board's 10-bit ADC.
const moistureScale = 1023

// Reading is one parsed telemetry sample. Values are passed through as the
// device reported them; no range checks happen here.
type Reading struct {
	Moisture   int
	WaterLevel int
	PumpStatus int
}

// MoisturePercent converts the raw reading to a wetness percentage. The sensor
// reads high when dry, so 1023 is 0% and 0 is 100%.
func (r Reading) MoisturePercent() int {
	return int(float64(moistureScale-r.Moisture) * 100.0 / moistureScale)
}

// Water reports the float sensor as FULL or EMPTY.
func (r Reading) Water() string {
	if r.WaterLevel == 1 {
		return "FULL"
	}
	return "EMPTY"
}

// Pump describes the pump state.
func (r Reading) Pump() string {
	if r.PumpStatus == 1 {
		return "ON"
	}
	return "OFF"
}

func (r Reading) String() string {
	return fmt.Sprintf("Moisture: %d | Float: %d | Pump: %d", r.Moisture, r.WaterLevel, r.PumpStatus)
}
