package codec

import (
	"math"

	"barleybox/models"
)

// Unit conversions between wire units and the units an operator types.
// Everything that converts between them goes through this file.

// Integer config fields travel as 32-bit values on the device side.
const (
	maxWireInt = math.MaxInt32
	minWireInt = math.MinInt32
)

// FeedDurationDisplay converts feed_duration_ms to seconds rounded to one decimal
func FeedDurationDisplay(ms int) float64 {
	return math.Round(float64(ms)/1000*10) / 10
}

// FeedDurationWire converts a duration in seconds to feed_duration_ms.
// It reports false when the result does not fit a wire integer.
func FeedDurationWire(seconds float64) (int, bool) {
	return wireInt(math.Round(seconds * 1000))
}

// UploadIntervalDisplay converts upload_interval_seconds to whole minutes
func UploadIntervalDisplay(seconds int) int {
	return int(math.Round(float64(seconds) / 60))
}

// UploadIntervalWire converts minutes to upload_interval_seconds
func UploadIntervalWire(minutes int) (int, bool) {
	return wireInt(float64(minutes) * 60)
}

// FeedIntervalDisplay converts the legacy feed_interval_seconds to whole minutes
func FeedIntervalDisplay(seconds int) int {
	return int(math.Round(float64(seconds) / 60))
}

// FeedIntervalWire converts minutes to the legacy feed_interval_seconds
func FeedIntervalWire(minutes int) (int, bool) {
	return wireInt(float64(minutes) * 60)
}

// wireInt converts an integral float, rejecting values outside the wire range
func wireInt(v float64) (int, bool) {
	if !finite(v) || v > maxWireInt || v < minWireInt {
		return 0, false
	}
	return int(v), true
}

func wireIntValid(v int) bool {
	return v >= minWireInt && v <= maxWireInt
}

// FeedMinIntervalValid reports whether hours may be sent as feed_min_interval_hours.
// Out of range values are dropped by the encoder, never clamped.
func FeedMinIntervalValid(hours int) bool {
	return hours >= models.FeedMinIntervalLow && hours <= models.FeedMinIntervalHigh
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
